package sheets

import (
	"context"

	"finledger/internal/core"
)

// LedgerAppender is the outbound port for mirroring committed transactions
// to an external sheet.
type LedgerAppender interface {
	Append(ctx context.Context, txn core.Transaction) (rowRef string, err error)
}
