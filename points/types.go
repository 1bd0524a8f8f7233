/*
Package points provides the incentive-point ledger engine.

PURPOSE:
  This package contains the core types and the ledger service for tracking
  incentive points per employee. Every credit and debit in the system - the
  monthly role allocation, manual HR awards and penalties, redemption debits,
  peer transfers - funnels through the Ledger so that the balance is always
  derivable from the transaction log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable ledger entry recording a signed point change
  - Balance: The derived per-employee total (never stored, always summed)
  - TransactionPage: Stable, createdAt-descending history pagination

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified or deleted
  2. Derivation: Balance == sum of the employee's transaction values, always
  3. Single gate: Only the Ledger may mutate balances
  4. Auditability: Every transaction carries an actor and a description

SEE ALSO:
  - ledger.go: Ledger service and per-employee serialization
  - errors.go: Error taxonomy shared by all components
  - store.go: Persistence interface
*/
package points

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to an employee's point balance
// =============================================================================

type TransactionType string

const (
	TxEarn       TransactionType = "earn"       // Monthly allocation or other scheduled credit
	TxRedeem     TransactionType = "redeem"     // Debit from an approved conversion request
	TxAdjustment TransactionType = "adjustment" // Manual HR award or penalty
	TxTransfer   TransactionType = "transfer"   // One side of a paired employee-to-employee move
)

// ValidType reports whether t is one of the known transaction types.
func ValidType(t TransactionType) bool {
	switch t {
	case TxEarn, TxRedeem, TxAdjustment, TxTransfer:
		return true
	}
	return false
}

// Transaction is an append-only ledger entry. Positive values are credits,
// negative values are debits. Once written it is never modified.
type Transaction struct {
	ID          TransactionID
	EmployeeID  EmployeeID
	Value       int64
	Type        TransactionType
	Description string

	// ActorID records who caused the change: the employee themselves,
	// an HR/admin id, or "system" for scheduled allocation credits.
	ActorID string

	// CorrelationID links the two sides of a transfer. Empty otherwise.
	CorrelationID string

	// IdempotencyKey guards against duplicate writes from retries.
	// Empty means no guard.
	IdempotencyKey string

	CreatedAt time.Time
}

// =============================================================================
// BALANCE - Derived state, one per employee
// =============================================================================

// Balance is computed from the transaction log on every read. CurrentTotal
// always equals the signed sum of the employee's transactions.
type Balance struct {
	EmployeeID    EmployeeID
	CurrentTotal  int64
	LastUpdatedAt time.Time
}

// =============================================================================
// PAGINATION
// =============================================================================

// TransactionPage is one page of history, ordered by CreatedAt descending.
type TransactionPage struct {
	Items      []Transaction
	Page       int
	PageSize   int
	TotalCount int
	TotalPages int
}

// PageCount returns how many pages a result set of total rows spans.
func PageCount(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
