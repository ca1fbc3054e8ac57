package core

import (
	"errors"
	"strings"
	"time"
)

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

// FallbackCategory is used when a transaction note is empty: there is no
// first word to derive a category from.
const FallbackCategory = "misc"

type (
	// Kind distinguishes expense and income transactions. Categories carry
	// the same kind, so "food" can exist independently as an expense and an
	// income category.
	Kind string

	Money struct {
		Cents int64
	}

	// Transaction is an immutable ledger entry. Amount is signed: negative
	// for expenses, positive (or zero) for income.
	Transaction struct {
		ID        int64
		UserID    int64
		Kind      Kind
		Amount    Money
		Category  string
		Timestamp time.Time
		Note      string
	}

	// Totals aggregates a timestamp range. Expense holds the absolute value
	// of the expense sum; Net = Income - Expense.
	Totals struct {
		Income  Money
		Expense Money
		Net     Money
	}

	// BudgetStatus reports one budget row against actual spending.
	// Remaining may be negative when the limit is overrun. Percent is
	// truncated to whole points and 0 when no limit is set.
	BudgetStatus struct {
		Category  string
		Limit     Money
		Spent     Money
		Remaining Money
		Percent   int
	}

	User struct {
		ID         int64
		Currency   string
		DigestHour int
		CreatedAt  time.Time
	}
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidKind   = errors.New("invalid transaction kind")
	ErrInvalidHour   = errors.New("invalid digest hour")
)

func (k Kind) Validate() error {
	switch k {
	case KindExpense, KindIncome:
		return nil
	}
	return ErrInvalidKind
}

// ParseKind normalizes a raw kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Signed applies the kind's sign to a non-negative magnitude: expenses are
// stored negative, income as-is.
func (k Kind) Signed(magnitude Money) Money {
	if k == KindExpense {
		return Money{Cents: -abs64(magnitude.Cents)}
	}
	return Money{Cents: abs64(magnitude.Cents)}
}

// CategoryFromNote derives the category name for a transaction: the first
// whitespace-delimited token of the note, lowercased. An empty note falls
// back to FallbackCategory.
func CategoryFromNote(note string) string {
	fields := strings.Fields(note)
	if len(fields) == 0 {
		return FallbackCategory
	}
	return strings.ToLower(fields[0])
}

// NormalizeCategory lowercases an explicit category name, falling back like
// CategoryFromNote when the name is blank.
func NormalizeCategory(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return FallbackCategory
	}
	return strings.ToLower(name)
}

func (m Money) Abs() Money {
	return Money{Cents: abs64(m.Cents)}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
