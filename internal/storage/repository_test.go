package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"finledger/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustUser(t *testing.T, repo *SQLiteRepository, id int64) {
	t.Helper()
	if err := repo.EnsureUser(context.Background(), id, "EUR", 18); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
}

func mustInsert(t *testing.T, repo *SQLiteRepository, userID int64, kind core.Kind, magnitude int64, note string, ts time.Time) {
	t.Helper()
	ctx := context.Background()
	catID, err := repo.UpsertCategory(ctx, userID, core.CategoryFromNote(note), kind)
	if err != nil {
		t.Fatalf("upsert category: %v", err)
	}
	amount := kind.Signed(core.Money{Cents: magnitude})
	if _, err := repo.InsertTransaction(ctx, userID, catID, amount, ts, note, kind); err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
}

func TestUpsertCategoryIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustUser(t, repo, 1)

	first, err := repo.UpsertCategory(ctx, 1, "Food", core.KindExpense)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := repo.UpsertCategory(ctx, 1, "food", core.KindExpense)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first != second {
		t.Fatalf("expected same category id, got %d and %d", first, second)
	}

	var count int
	if err := repo.db.QueryRow(
		`SELECT COUNT(*) FROM categories WHERE user_id = 1 AND name = 'food' AND kind = 'expense'`).
		Scan(&count); err != nil {
		t.Fatalf("count categories: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one category row, got %d", count)
	}

	// Same name with the other kind is an independent category.
	incomeID, err := repo.UpsertCategory(ctx, 1, "food", core.KindIncome)
	if err != nil {
		t.Fatalf("income upsert: %v", err)
	}
	if incomeID == first {
		t.Fatal("expense and income categories must not share an id")
	}
}

func TestEnsureUserKeepsPreferences(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustUser(t, repo, 7)

	if err := repo.SetDigestHour(ctx, 7, 6); err != nil {
		t.Fatalf("set digest hour: %v", err)
	}
	// A later lazy ensure must not reset the stored preference.
	mustUser(t, repo, 7)

	u, err := repo.GetUser(ctx, 7)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.DigestHour != 6 {
		t.Fatalf("expected digest hour 6, got %d", u.DigestHour)
	}

	if err := repo.SetDigestHour(ctx, 7, 24); err != core.ErrInvalidHour {
		t.Fatalf("expected ErrInvalidHour, got %v", err)
	}
}

func TestTotalsMonthBoundaryHalfOpen(t *testing.T) {
	repo := newTestRepo(t)
	mustUser(t, repo, 1)

	// Last second of February vs the exact March boundary.
	mustInsert(t, repo, 1, core.KindExpense, 10000, "rent february",
		time.Date(2024, time.February, 29, 23, 59, 59, 0, time.UTC))
	mustInsert(t, repo, 1, core.KindExpense, 20000, "rent march",
		time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))

	febStart, febEnd := core.Period{Year: 2024, Month: time.February}.Bounds()
	feb, err := repo.Totals(context.Background(), 1, febStart, febEnd)
	if err != nil {
		t.Fatalf("february totals: %v", err)
	}
	if feb.Expense.Cents != 10000 {
		t.Fatalf("february expense: expected 10000, got %d", feb.Expense.Cents)
	}

	marStart, marEnd := core.Period{Year: 2024, Month: time.March}.Bounds()
	mar, err := repo.Totals(context.Background(), 1, marStart, marEnd)
	if err != nil {
		t.Fatalf("march totals: %v", err)
	}
	if mar.Expense.Cents != 20000 {
		t.Fatalf("march expense: expected 20000, got %d", mar.Expense.Cents)
	}
}

func TestTotalsAdditivityAndZeros(t *testing.T) {
	repo := newTestRepo(t)
	mustUser(t, repo, 1)
	ts := time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)

	mustInsert(t, repo, 1, core.KindIncome, 200000, "salary june", ts)
	mustInsert(t, repo, 1, core.KindExpense, 25000, "coffee", ts.Add(time.Hour))
	mustInsert(t, repo, 1, core.KindExpense, 6000, "food lunch", ts.Add(2*time.Hour))

	start, end := core.Period{Year: 2024, Month: time.June}.Bounds()
	got, err := repo.Totals(context.Background(), 1, start, end)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if got.Income.Cents != 200000 || got.Expense.Cents != 31000 {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if got.Net.Cents != got.Income.Cents-got.Expense.Cents {
		t.Fatalf("net must equal income-expense, got %+v", got)
	}

	// An empty month yields zeros, not an error.
	start, end = core.Period{Year: 2020, Month: time.January}.Bounds()
	empty, err := repo.Totals(context.Background(), 1, start, end)
	if err != nil {
		t.Fatalf("empty totals: %v", err)
	}
	if empty.Income.Cents != 0 || empty.Expense.Cents != 0 || empty.Net.Cents != 0 {
		t.Fatalf("expected zero totals, got %+v", empty)
	}
}

func TestTotalsOpenEnded(t *testing.T) {
	repo := newTestRepo(t)
	mustUser(t, repo, 1)
	ts := time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)
	mustInsert(t, repo, 1, core.KindExpense, 5000, "taxi", ts)

	// Zero end means no upper bound.
	got, err := repo.Totals(context.Background(), 1, ts.AddDate(0, 0, -1), time.Time{})
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if got.Expense.Cents != 5000 {
		t.Fatalf("expected open-ended expense 5000, got %d", got.Expense.Cents)
	}
}

func TestListAndExportOrdering(t *testing.T) {
	repo := newTestRepo(t)
	mustUser(t, repo, 1)
	base := time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		mustInsert(t, repo, 1, core.KindExpense, int64(100*(i+1)), "coffee", base.Add(time.Duration(i)*time.Hour))
	}

	start, end := core.Period{Year: 2024, Month: time.June}.Bounds()

	listed, err := repo.ListTransactions(context.Background(), 1, start, end, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected limit 3, got %d rows", len(listed))
	}
	for i := 1; i < len(listed); i++ {
		if listed[i].Timestamp.After(listed[i-1].Timestamp) {
			t.Fatal("list must be newest first")
		}
	}

	exported, err := repo.ExportTransactions(context.Background(), 1, start, end)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exported) != 5 {
		t.Fatalf("expected 5 exported rows, got %d", len(exported))
	}
	for i := 1; i < len(exported); i++ {
		if exported[i].Timestamp.Before(exported[i-1].Timestamp) {
			t.Fatal("export must be oldest first")
		}
	}
}

func TestBudgetUpsertReplacesLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustUser(t, repo, 1)

	catID, err := repo.UpsertCategory(ctx, 1, "food", core.KindExpense)
	if err != nil {
		t.Fatalf("upsert category: %v", err)
	}
	if err := repo.UpsertBudget(ctx, 1, catID, "2024-05", core.Money{Cents: 100000}); err != nil {
		t.Fatalf("first budget: %v", err)
	}
	if err := repo.UpsertBudget(ctx, 1, catID, "2024-05", core.Money{Cents: 150000}); err != nil {
		t.Fatalf("second budget: %v", err)
	}

	var count int
	if err := repo.db.QueryRow(`SELECT COUNT(*) FROM budgets`).Scan(&count); err != nil {
		t.Fatalf("count budgets: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one budget row, got %d", count)
	}

	statuses, err := repo.BudgetStatuses(ctx, 1, core.Period{Year: 2024, Month: time.May})
	if err != nil {
		t.Fatalf("budget statuses: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Limit.Cents != 150000 {
		t.Fatalf("expected single limit 1500.00, got %+v", statuses)
	}
}

func TestBudgetStatusesSpentAndPercent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustUser(t, repo, 1)

	catID, err := repo.UpsertCategory(ctx, 1, "food", core.KindExpense)
	if err != nil {
		t.Fatalf("upsert category: %v", err)
	}
	if err := repo.UpsertBudget(ctx, 1, catID, "2024-06", core.Money{Cents: 1500000}); err != nil {
		t.Fatalf("upsert budget: %v", err)
	}

	june := time.Date(2024, time.June, 5, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		mustInsert(t, repo, 1, core.KindExpense, 200000, "food groceries", june.Add(time.Duration(i)*24*time.Hour))
	}
	// Same category name but income kind must not count as spending.
	mustInsert(t, repo, 1, core.KindIncome, 999900, "food refund", june)

	statuses, err := repo.BudgetStatuses(ctx, 1, core.Period{Year: 2024, Month: time.June})
	if err != nil {
		t.Fatalf("budget statuses: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected one status, got %d", len(statuses))
	}
	s := statuses[0]
	if s.Category != "food" || s.Spent.Cents != 600000 || s.Remaining.Cents != 900000 {
		t.Fatalf("unexpected status: %+v", s)
	}
	if s.Percent != 40 {
		t.Fatalf("expected 40 percent, got %v", s.Percent)
	}
}

func TestBudgetZeroLimitPercent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustUser(t, repo, 1)

	catID, err := repo.UpsertCategory(ctx, 1, "misc", core.KindExpense)
	if err != nil {
		t.Fatalf("upsert category: %v", err)
	}
	if err := repo.UpsertBudget(ctx, 1, catID, "2024-06", core.Money{}); err != nil {
		t.Fatalf("upsert budget: %v", err)
	}

	statuses, err := repo.BudgetStatuses(ctx, 1, core.Period{Year: 2024, Month: time.June})
	if err != nil {
		t.Fatalf("budget statuses: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Percent != 0 {
		t.Fatalf("zero limit must report zero percent, got %+v", statuses)
	}
}

func TestPendingSyncLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustUser(t, repo, 1)
	mustInsert(t, repo, 1, core.KindExpense, 1000, "coffee", time.Now().UTC())

	pending, err := repo.GetPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending row, got %d", len(pending))
	}

	if err := repo.MarkSyncError(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark sync error: %v", err)
	}
	// Errored rows stay pending for the backup scan.
	pending, err = repo.GetPendingSync(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("errored row should remain pending, got %d (err=%v)", len(pending), err)
	}

	if err := repo.MarkSynced(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	pending, err = repo.GetPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("pending after sync: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending rows, got %d", len(pending))
	}
}
