// Package storage owns the SQLite schema and every query the ledger runs.
// All writes commit immediately; no transaction is held open across user
// turns. WAL mode lets readers proceed while a writer commits.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"finledger/internal/core"

	_ "modernc.org/sqlite"
)

// tsLayout is the persisted timestamp form: ISO-8601 UTC with second
// precision and a literal Z. Lexicographic order equals chronological
// order, which the (user_id, ts) index relies on for range scans.
const tsLayout = "2006-01-02T15:04:05Z"

var ErrNotFound = errors.New("not found")

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database file, enables
// WAL and a busy timeout through DSN pragmas, and applies migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// EnsureUser creates the user row if absent. Existing rows keep their
// preferences; the insert is a no-op for known users.
func (r *SQLiteRepository) EnsureUser(ctx context.Context, userID int64, currency string, digestHour int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users(id, currency, digest_hour) VALUES (?, ?, ?)`,
		userID, currency, digestHour)
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", userID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, userID int64) (core.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, currency, digest_hour, created_at FROM users WHERE id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	return u, nil
}

// ListUsers returns every known user, for the digest fan-out.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, currency, digest_hour, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (r *SQLiteRepository) SetDigestHour(ctx context.Context, userID int64, hour int) error {
	if hour < 0 || hour > 23 {
		return core.ErrInvalidHour
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET digest_hour = ? WHERE id = ?`, hour, userID); err != nil {
		return fmt.Errorf("set digest hour for user %d: %w", userID, err)
	}
	return nil
}

func (r *SQLiteRepository) SetCurrency(ctx context.Context, userID int64, currency string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET currency = ? WHERE id = ?`, currency, userID); err != nil {
		return fmt.Errorf("set currency for user %d: %w", userID, err)
	}
	return nil
}

// UpsertCategory resolves the identity of a (user, name, kind) category,
// creating it when absent. The insert relies on the UNIQUE constraint, so
// two concurrent calls for the same triple can never produce two rows; the
// re-select after the insert is authoritative either way.
func (r *SQLiteRepository) UpsertCategory(ctx context.Context, userID int64, name string, kind core.Kind) (int64, error) {
	if err := kind.Validate(); err != nil {
		return 0, err
	}
	name = strings.ToLower(strings.TrimSpace(name))

	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO categories(user_id, name, kind) VALUES (?, ?, ?)`,
		userID, name, string(kind))
	if err != nil {
		return 0, fmt.Errorf("insert category %q: %w", name, err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM categories WHERE user_id = ? AND name = ? AND kind = ?`,
		userID, name, string(kind)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("select category %q: %w", name, err)
	}
	return id, nil
}

// InsertTransaction appends one signed, immutable ledger row.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, userID, categoryID int64, amount core.Money, ts time.Time, note string, kind core.Kind) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions(user_id, category_id, amount_cents, ts, note, kind)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, categoryID, amount.Cents, formatTS(ts), note, string(kind))
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction id: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"id", id,
		"user_id", userID,
		"kind", string(kind),
		"amount_cents", amount.Cents)

	return id, nil
}

// Totals sums a user's ledger over [start, end). A zero end means
// "from start to now": no upper bound is applied. No matching rows yield
// zero totals, not an error.
func (r *SQLiteRepository) Totals(ctx context.Context, userID int64, start, end time.Time) (core.Totals, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'income' THEN amount_cents ELSE 0 END), 0),
			COALESCE(ABS(SUM(CASE WHEN kind = 'expense' THEN amount_cents ELSE 0 END)), 0),
			COALESCE(SUM(amount_cents), 0)
		FROM transactions
		WHERE user_id = ? AND ts >= ?`
	args := []any{userID, formatTS(start)}
	if !end.IsZero() {
		query += ` AND ts < ?`
		args = append(args, formatTS(end))
	}

	var t core.Totals
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&t.Income.Cents, &t.Expense.Cents, &t.Net.Cents)
	if err != nil {
		return core.Totals{}, fmt.Errorf("totals for user %d: %w", userID, err)
	}
	return t, nil
}

// ListTransactions returns a user's rows within [start, end), newest first,
// capped at limit.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID int64, start, end time.Time, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.kind, t.amount_cents, c.name, t.ts, t.note
		FROM transactions t
		JOIN categories c ON c.id = t.category_id
		WHERE t.user_id = ? AND t.ts >= ? AND t.ts < ?
		ORDER BY t.ts DESC, t.id DESC
		LIMIT ?`,
		userID, formatTS(start), formatTS(end), limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ExportTransactions returns every row within [start, end) in ascending
// timestamp order, for serialization.
func (r *SQLiteRepository) ExportTransactions(ctx context.Context, userID int64, start, end time.Time) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.kind, t.amount_cents, c.name, t.ts, t.note
		FROM transactions t
		JOIN categories c ON c.id = t.category_id
		WHERE t.user_id = ? AND t.ts >= ? AND t.ts < ?
		ORDER BY t.ts ASC, t.id ASC`,
		userID, formatTS(start), formatTS(end))
	if err != nil {
		return nil, fmt.Errorf("export transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// GetTransaction loads a single row by id, joined with its category name.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT t.id, t.user_id, t.kind, t.amount_cents, c.name, t.ts, t.note
		FROM transactions t
		JOIN categories c ON c.id = t.category_id
		WHERE t.id = ?`, id)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return txn, nil
}

// UpsertBudget sets the limit for a (user, category, period) triple,
// overwriting any prior value.
func (r *SQLiteRepository) UpsertBudget(ctx context.Context, userID, categoryID int64, period string, limit core.Money) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets(user_id, category_id, period, amount_cents)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, category_id, period) DO UPDATE SET amount_cents = excluded.amount_cents`,
		userID, categoryID, period, limit.Cents)
	if err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	return nil
}

// BudgetStatuses lists the user's budgets for a period with actual spending
// inside the period's month bounds, sorted by category name.
func (r *SQLiteRepository) BudgetStatuses(ctx context.Context, userID int64, period core.Period) ([]core.BudgetStatus, error) {
	start, end := period.Bounds()
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.name, b.amount_cents, (
			SELECT COALESCE(ABS(SUM(t.amount_cents)), 0)
			FROM transactions t
			WHERE t.user_id = b.user_id AND t.category_id = b.category_id
			  AND t.kind = 'expense' AND t.ts >= ? AND t.ts < ?
		) AS spent
		FROM budgets b
		JOIN categories c ON c.id = b.category_id
		WHERE b.user_id = ? AND b.period = ?
		ORDER BY c.name ASC`,
		formatTS(start), formatTS(end), userID, period.Key())
	if err != nil {
		return nil, fmt.Errorf("budget statuses: %w", err)
	}
	defer rows.Close()

	var statuses []core.BudgetStatus
	for rows.Next() {
		var s core.BudgetStatus
		if err := rows.Scan(&s.Category, &s.Limit.Cents, &s.Spent.Cents); err != nil {
			return nil, fmt.Errorf("scan budget status: %w", err)
		}
		s.Remaining = core.Money{Cents: s.Limit.Cents - s.Spent.Cents}
		if s.Limit.Cents > 0 {
			s.Percent = int(s.Spent.Cents * 100 / s.Limit.Cents)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate budget statuses: %w", err)
	}
	return statuses, nil
}

// PendingTransaction identifies a ledger row not yet mirrored downstream.
type PendingTransaction struct {
	ID     int64
	UserID int64
}

// GetPendingSync returns up to limit unmirrored rows, oldest first. Rows
// previously marked with a sync error are retried too.
func (r *SQLiteRepository) GetPendingSync(ctx context.Context, limit int) ([]PendingTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id FROM transactions WHERE synced = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync transactions: %w", err)
	}
	defer rows.Close()

	var pending []PendingTransaction
	for rows.Next() {
		var p PendingTransaction
		if err := rows.Scan(&p.ID, &p.UserID); err != nil {
			return nil, fmt.Errorf("scan pending transaction: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending transactions: %w", err)
	}
	return pending, nil
}

// MarkSynced records that a row reached the mirror.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET synced = 1, sync_error = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	return nil
}

// MarkSyncError flags a row whose mirror attempt failed; it stays pending.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET sync_error = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction sync error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with sync error", "id", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (core.User, error) {
	var (
		u       core.User
		created string
	)
	if err := row.Scan(&u.ID, &u.Currency, &u.DigestHour, &created); err != nil {
		return core.User{}, err
	}
	// sqlite's datetime('now') default; best effort, display-only
	if t, err := time.Parse("2006-01-02 15:04:05", created); err == nil {
		u.CreatedAt = t.UTC()
	}
	return u, nil
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		txn  core.Transaction
		kind string
		ts   string
	)
	if err := row.Scan(&txn.ID, &txn.UserID, &kind, &txn.Amount.Cents, &txn.Category, &ts, &txn.Note); err != nil {
		return core.Transaction{}, err
	}
	txn.Kind = core.Kind(kind)
	parsed, err := time.Parse(tsLayout, ts)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	txn.Timestamp = parsed
	return txn, nil
}

func collectTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	var txns []core.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txns, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(tsLayout)
}
