// Package ledger orchestrates the append-only transaction engine and the
// budget tracker on top of the SQLite store.
package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"time"

	"finledger/internal/core"
	"finledger/internal/storage"
)

// DefaultListLimit caps ListRecent when the caller passes no limit.
const DefaultListLimit = 20

// SyncPublisher hands a recorded transaction off for asynchronous
// mirroring. Publish failures never fail the originating request.
type SyncPublisher interface {
	PublishTransactionSync(ctx context.Context, id, userID int64) error
}

type Service struct {
	repo       *storage.SQLiteRepository
	publisher  SyncPublisher
	currency   string
	digestHour int
	now        func() time.Time
}

// NewService wires the engine. publisher may be nil when no mirror is
// configured. currency and digestHour are the defaults applied on lazy
// user creation.
func NewService(repo *storage.SQLiteRepository, publisher SyncPublisher, currency string, digestHour int) *Service {
	return &Service{
		repo:       repo,
		publisher:  publisher,
		currency:   currency,
		digestHour: digestHour,
		now:        time.Now,
	}
}

func (s *Service) ensureUser(ctx context.Context, userID int64) error {
	return s.repo.EnsureUser(ctx, userID, s.currency, s.digestHour)
}

// Record appends a transaction and returns the resolved category name for
// the caller's confirmation message. The category is the first word of the
// note, lowercased; an empty note falls back to "misc". The stored amount
// is signed by kind: negative for expenses, positive for income.
func (s *Service) Record(ctx context.Context, userID int64, kind core.Kind, magnitude core.Money, note string) (string, error) {
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if magnitude.Cents < 0 {
		return "", core.ErrInvalidAmount
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return "", err
	}

	category := core.CategoryFromNote(note)
	categoryID, err := s.repo.UpsertCategory(ctx, userID, category, kind)
	if err != nil {
		return "", fmt.Errorf("resolve category: %w", err)
	}

	id, err := s.repo.InsertTransaction(ctx, userID, categoryID, kind.Signed(magnitude), s.now(), note, kind)
	if err != nil {
		return "", fmt.Errorf("record transaction: %w", err)
	}

	if s.publisher != nil {
		// The row is committed; a lost sync message is recovered by the
		// worker's pending scan.
		if err := s.publisher.PublishTransactionSync(ctx, id, userID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish sync message",
				"id", id, "user_id", userID, "error", err)
		}
	}

	return category, nil
}

// ListRecent returns the user's transactions inside the period, newest
// first, capped at limit (DefaultListLimit when limit <= 0). No matching
// rows yield an empty slice.
func (s *Service) ListRecent(ctx context.Context, userID int64, period core.Period, limit int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	start, end := period.Bounds()
	return s.repo.ListTransactions(ctx, userID, start, end, limit)
}

// MonthTotals aggregates the full calendar month.
func (s *Service) MonthTotals(ctx context.Context, userID int64, period core.Period) (core.Totals, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return core.Totals{}, err
	}
	start, end := period.Bounds()
	return s.repo.Totals(ctx, userID, start, end)
}

// TotalsSince aggregates from start to now (open upper bound), as used by
// the month-to-date summary and the digest.
func (s *Service) TotalsSince(ctx context.Context, userID int64, start time.Time) (core.Totals, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return core.Totals{}, err
	}
	return s.repo.Totals(ctx, userID, start, time.Time{})
}

// WriteCSV streams the period's transactions to w in ascending timestamp
// order, amounts rendered as absolute two-decimal values. It returns the
// number of data rows written; an empty period writes the header only.
func (s *Service) WriteCSV(ctx context.Context, w io.Writer, userID int64, period core.Period) (int, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return 0, err
	}
	start, end := period.Bounds()
	txns, err := s.repo.ExportTransactions(ctx, userID, start, end)
	if err != nil {
		return 0, fmt.Errorf("export period %s: %w", period, err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp_utc", "type", "amount", "category", "note"}); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, txn := range txns {
		record := []string{
			txn.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			string(txn.Kind),
			txn.Amount.Abs().String(),
			txn.Category,
			txn.Note,
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(txns), nil
}

// SetBudget upserts the spending limit for a (user, category, period)
// triple and echoes the committed amount. The category is resolved or
// created as an expense category.
func (s *Service) SetBudget(ctx context.Context, userID int64, category string, limit core.Money, period core.Period) (core.Money, error) {
	if limit.Cents < 0 {
		return core.Money{}, core.ErrInvalidAmount
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return core.Money{}, err
	}

	name := core.NormalizeCategory(category)
	categoryID, err := s.repo.UpsertCategory(ctx, userID, name, core.KindExpense)
	if err != nil {
		return core.Money{}, fmt.Errorf("resolve budget category: %w", err)
	}
	if err := s.repo.UpsertBudget(ctx, userID, categoryID, period.Key(), limit); err != nil {
		return core.Money{}, err
	}

	slog.InfoContext(ctx, "Budget set",
		"user_id", userID,
		"category", name,
		"period", period.Key(),
		"limit_cents", limit.Cents)

	return limit, nil
}

// ViewBudgets lists the user's budgets for the period with spent, remaining
// and percent, sorted by category name. No budgets yield an empty slice.
func (s *Service) ViewBudgets(ctx context.Context, userID int64, period core.Period) ([]core.BudgetStatus, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.BudgetStatuses(ctx, userID, period)
}

// SetDigestHour updates the user's preferred digest delivery hour (UTC).
func (s *Service) SetDigestHour(ctx context.Context, userID int64, hour int) error {
	if err := s.ensureUser(ctx, userID); err != nil {
		return err
	}
	return s.repo.SetDigestHour(ctx, userID, hour)
}

// SetCurrency updates the user's display currency.
func (s *Service) SetCurrency(ctx context.Context, userID int64, currency string) error {
	if err := s.ensureUser(ctx, userID); err != nil {
		return err
	}
	return s.repo.SetCurrency(ctx, userID, currency)
}

// GetUser returns the stored user row.
func (s *Service) GetUser(ctx context.Context, userID int64) (core.User, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return core.User{}, err
	}
	return s.repo.GetUser(ctx, userID)
}

func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}
