package digest

import "fmt"

// FailureKind classifies delivery failures so the scheduler can decide
// what to do with each recipient.
type FailureKind int

const (
	// FailureUnreachable means the recipient cannot be delivered to at all
	// (blocked, invalid target). Dropped without noise.
	FailureUnreachable FailureKind = iota
	// FailureThrottled means a transient condition (rate limit, timeout).
	// Currently logged and not retried.
	FailureThrottled
)

func (k FailureKind) String() string {
	switch k {
	case FailureUnreachable:
		return "unreachable"
	case FailureThrottled:
		return "throttled"
	}
	return "unknown"
}

// DeliveryError wraps a transport failure with its classification.
// Deliverers return it so the scheduler never needs to know transport
// error types.
type DeliveryError struct {
	Kind FailureKind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery %s: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Unreachable marks err as a terminal per-recipient failure.
func Unreachable(err error) error {
	return &DeliveryError{Kind: FailureUnreachable, Err: err}
}

// Throttled marks err as a transient failure.
func Throttled(err error) error {
	return &DeliveryError{Kind: FailureThrottled, Err: err}
}
