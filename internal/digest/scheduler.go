// Package digest runs the recurring daily-summary fan-out: once per hour
// boundary it finds every user whose configured digest hour matches the
// current UTC hour and hands them a today+month summary through an
// injected deliverer.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finledger/internal/core"
)

// Store is the read capability the scheduler needs from storage.
type Store interface {
	ListUsers(ctx context.Context) ([]core.User, error)
	Totals(ctx context.Context, userID int64, start, end time.Time) (core.Totals, error)
}

// Deliverer sends one rendered digest to one user. Implementations should
// classify failures with Unreachable or Throttled.
type Deliverer interface {
	Deliver(ctx context.Context, userID int64, text string) error
}

type Scheduler struct {
	store       Store
	deliverer   Deliverer
	defaultHour int
	now         func() time.Time
}

func NewScheduler(store Store, deliverer Deliverer, defaultHour int) *Scheduler {
	return &Scheduler{
		store:       store,
		deliverer:   deliverer,
		defaultHour: defaultHour,
		now:         time.Now,
	}
}

// Run wakes at every minute boundary and fans out digests when the minute
// is zero. It blocks until ctx is cancelled; every other failure is
// absorbed per user so the loop never dies on its own.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "Digest scheduler started", "default_hour", s.defaultHour)
	for {
		now := s.now().UTC()
		timer := time.NewTimer(nextMinute(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.InfoContext(ctx, "Digest scheduler stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-timer.C:
		}

		now = s.now().UTC()
		if now.Minute() != 0 {
			continue
		}
		s.fanOut(ctx, now)
	}
}

// fanOut sends the digest to every user whose hour matches now's UTC hour.
// Failures are handled per recipient: one broken user never aborts the
// remaining fan-out.
func (s *Scheduler) fanOut(ctx context.Context, now time.Time) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Digest user enumeration failed", "error", err)
		return
	}

	sent := 0
	for _, u := range users {
		hour := u.DigestHour
		if hour < 0 || hour > 23 {
			hour = s.defaultHour
		}
		if hour != now.Hour() {
			continue
		}

		if err := s.sendTo(ctx, u.ID, now); err != nil {
			var derr *DeliveryError
			switch {
			case errors.As(err, &derr) && derr.Kind == FailureUnreachable:
				// Blocked or invalid recipient; nothing to do.
				slog.DebugContext(ctx, "Digest recipient unreachable", "user_id", u.ID)
			case errors.As(err, &derr) && derr.Kind == FailureThrottled:
				// Transient failures are not retried yet.
				slog.WarnContext(ctx, "Digest delivery throttled", "user_id", u.ID, "error", err)
			default:
				slog.ErrorContext(ctx, "Digest failed", "user_id", u.ID, "error", err)
			}
			continue
		}
		sent++
	}

	if sent > 0 {
		slog.InfoContext(ctx, "Digest fan-out completed", "hour", now.Hour(), "sent", sent)
	}
}

func (s *Scheduler) sendTo(ctx context.Context, userID int64, now time.Time) error {
	today, err := s.store.Totals(ctx, userID, core.StartOfDayUTC(now), time.Time{})
	if err != nil {
		return fmt.Errorf("today totals: %w", err)
	}
	month, err := s.store.Totals(ctx, userID, core.StartOfMonthUTC(now), time.Time{})
	if err != nil {
		return fmt.Errorf("month totals: %w", err)
	}
	return s.deliverer.Deliver(ctx, userID, Format(today, month))
}

// Format renders the two-part digest text handed to the deliverer.
func Format(today, month core.Totals) string {
	return "Digest:\n" +
		fmt.Sprintf("Today: income %s, expense %s, net %s\n", today.Income, today.Expense, today.Net) +
		fmt.Sprintf("Month: income %s, expense %s, net %s", month.Income, month.Expense, month.Net)
}

// nextMinute returns the first instant of the minute after t.
func nextMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}
