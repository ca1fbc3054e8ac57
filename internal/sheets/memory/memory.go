// Package memory is an in-memory LedgerAppender used in tests and local
// runs without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"finledger/internal/core"
)

type Sheet struct {
	mu    sync.Mutex
	rows  []core.Transaction
	errBy map[int64]error
}

func New() *Sheet {
	return &Sheet{errBy: map[int64]error{}}
}

// Append stores the transaction and returns a synthetic row reference.
func (s *Sheet) Append(_ context.Context, txn core.Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errBy[txn.ID]; ok {
		return "", err
	}
	s.rows = append(s.rows, txn)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of the appended transactions.
func (s *Sheet) Rows() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Transaction(nil), s.rows...)
}

// FailFor makes Append fail for the given transaction ID. A nil err
// clears the failure.
func (s *Sheet) FailFor(id int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errBy, id)
		return
	}
	s.errBy[id] = err
}
