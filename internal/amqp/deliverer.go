package amqp

import (
	"context"

	"finledger/internal/digest"
)

// DigestPublisher is the slice of Client the deliverer needs. Kept as an
// interface so tests can run without a broker.
type DigestPublisher interface {
	PublishDigest(ctx context.Context, userID int64, text string) error
}

// DigestDeliverer adapts the broker to the scheduler's delivery port.
// A broker publish failure is transient, so it is reported as throttled
// rather than dropping the recipient.
type DigestDeliverer struct {
	publisher DigestPublisher
}

func NewDigestDeliverer(publisher DigestPublisher) *DigestDeliverer {
	return &DigestDeliverer{publisher: publisher}
}

func (d *DigestDeliverer) Deliver(ctx context.Context, userID int64, text string) error {
	if err := d.publisher.PublishDigest(ctx, userID, text); err != nil {
		return digest.Throttled(err)
	}
	return nil
}
