/*
store.go - Persistence interface for ledger transactions

PURPOSE:
  Defines the interface between the ledger service and the database.
  The Store handles persistence while maintaining append-only semantics.
  Implementations: store/sqlite (production), points/store (in-memory).

APPEND-ONLY CONTRACT:
  - Append():      single transaction write
  - AppendBatch(): atomic multi-transaction write (transfer pairs)
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Writes that carry an idempotency key are rejected with
  ErrDuplicateIdempotencyKey if the key already exists. This prevents
  duplicate transactions from retries after a crash mid-workflow.

SEE ALSO:
  - ledger.go: The only caller of the write methods
  - store/sqlite/sqlite.go: Production implementation
*/
package points

import (
	"context"
	"time"
)

// LedgerSummary is the aggregate a Store derives from an employee's rows.
// TxCount distinguishes "no history" from an explicit zero balance.
type LedgerSummary struct {
	Total   int64
	TxCount int
	LastAt  time.Time
}

// Store handles persistence of transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey
	// if the transaction's key already exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	// Either all succeed or none do. Used for transfer pairs.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for an employee, ordered by CreatedAt
	// ascending. Read-only.
	Load(ctx context.Context, employeeID EmployeeID) ([]Transaction, error)

	// LoadPage returns one page of an employee's history ordered by
	// CreatedAt descending (ties broken by ID for stable pagination),
	// plus the total row count for the filter. An empty typeFilter means
	// no filtering. Pages are 1-based.
	LoadPage(ctx context.Context, employeeID EmployeeID, page, pageSize int, typeFilter TransactionType) ([]Transaction, int, error)

	// BalanceOf returns the signed sum, row count, and latest CreatedAt
	// of the employee's transactions. A zero-value summary (TxCount 0)
	// means the employee has no ledger history.
	BalanceOf(ctx context.Context, employeeID EmployeeID) (LedgerSummary, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
