/*
ledger.go - The single mutation gate for point balances

PURPOSE:
  The Ledger validates and appends transactions, and derives balances by
  summation. No other component mutates a balance directly: the monthly
  allocation engine, the conversion workflow, and manual HR adjustments
  all go through Append/Transfer here.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: transactions are immutable once written
  2. NON-NEGATIVE: no debit may drive a balance below zero
  3. DERIVED: CurrentTotal == sum of the employee's transaction values
  4. SERIALIZED: concurrent operations on the same employee are ordered

CONCURRENCY:
  The balance check and the append must be one atomic unit per employee,
  otherwise two concurrent debits can both pass the check and overdraw
  the balance. The Ledger keeps a mutex per employee; every write path
  (and the re-check at conversion approval, which calls back into Append)
  runs under that mutex. Operations on different employees proceed in
  parallel.

CRASH CONSISTENCY:
  The balance is never persisted - it is recomputed from the log on every
  read - so there is no separate balance row that a crash could leave out
  of sync with the transactions.

SEE ALSO:
  - store.go: Persistence interface
  - errors.go: InvalidValueError, InsufficientBalanceError
*/
package points

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PER-EMPLOYEE LOCKS
// =============================================================================

// employeeLocks hands out one mutex per employee, created on first use.
type employeeLocks struct {
	mu    sync.Mutex
	locks map[EmployeeID]*sync.Mutex
}

func newEmployeeLocks() *employeeLocks {
	return &employeeLocks{locks: make(map[EmployeeID]*sync.Mutex)}
}

func (el *employeeLocks) lockFor(id EmployeeID) *sync.Mutex {
	el.mu.Lock()
	defer el.mu.Unlock()

	l, ok := el.locks[id]
	if !ok {
		l = &sync.Mutex{}
		el.locks[id] = l
	}
	return l
}

// =============================================================================
// LEDGER SERVICE
// =============================================================================

// Ledger is the single gate through which every credit and debit passes.
type Ledger struct {
	store Store
	locks *employeeLocks
}

// NewLedger creates a ledger backed by the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, locks: newEmployeeLocks()}
}

// Balance returns the employee's derived balance. An employee with no
// ledger history yields a NotFoundError; callers that want "no history
// means zero" (allocation, conversion) use Available instead.
func (l *Ledger) Balance(ctx context.Context, employeeID EmployeeID) (Balance, error) {
	summary, err := l.store.BalanceOf(ctx, employeeID)
	if err != nil {
		return Balance{}, err
	}
	if summary.TxCount == 0 {
		return Balance{}, &NotFoundError{Kind: "employee", ID: string(employeeID)}
	}
	return Balance{
		EmployeeID:    employeeID,
		CurrentTotal:  summary.Total,
		LastUpdatedAt: summary.LastAt,
	}, nil
}

// Available returns the employee's current total, treating no history as
// zero. This is the read path the allocation engine and the conversion
// workflow use.
func (l *Ledger) Available(ctx context.Context, employeeID EmployeeID) (int64, error) {
	summary, err := l.store.BalanceOf(ctx, employeeID)
	if err != nil {
		return 0, err
	}
	return summary.Total, nil
}

// Append validates and records a single transaction, atomically updating
// the derived balance. Fails with InvalidValueError on a zero value or an
// unknown type, and with InsufficientBalanceError when a debit would drive
// the balance below zero.
func (l *Ledger) Append(ctx context.Context, employeeID EmployeeID, value int64, txType TransactionType, description, actorID string) (Transaction, error) {
	return l.AppendWithKey(ctx, employeeID, value, txType, description, actorID, "")
}

// AppendWithKey is Append with an explicit idempotency key. The allocation
// engine and the conversion workflow use keys derived from the period or
// request so that retries after a crash cannot double-apply.
func (l *Ledger) AppendWithKey(ctx context.Context, employeeID EmployeeID, value int64, txType TransactionType, description, actorID, idempotencyKey string) (Transaction, error) {
	if err := validate(employeeID, value, txType); err != nil {
		return Transaction{}, err
	}

	mu := l.locks.lockFor(employeeID)
	mu.Lock()
	defer mu.Unlock()

	if idempotencyKey != "" {
		exists, err := l.store.Exists(ctx, idempotencyKey)
		if err != nil {
			return Transaction{}, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if exists {
			return Transaction{}, ErrDuplicateIdempotencyKey
		}
	}

	if value < 0 {
		summary, err := l.store.BalanceOf(ctx, employeeID)
		if err != nil {
			return Transaction{}, fmt.Errorf("failed to derive balance: %w", err)
		}
		if summary.Total+value < 0 {
			return Transaction{}, &InsufficientBalanceError{
				EmployeeID: employeeID,
				Available:  summary.Total,
				Requested:  -value,
			}
		}
	}

	tx := Transaction{
		ID:             TransactionID(uuid.NewString()),
		EmployeeID:     employeeID,
		Value:          value,
		Type:           txType,
		Description:    description,
		ActorID:        actorID,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	if err := l.store.Append(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Transfer moves value points from one employee to another as a paired
// debit/credit sharing a correlation reference, appended atomically. The
// debit side is subject to the non-negative invariant.
func (l *Ledger) Transfer(ctx context.Context, from, to EmployeeID, value int64, description, actorID string) ([]Transaction, error) {
	if value <= 0 {
		return nil, &InvalidValueError{Reason: "transfer value must be positive"}
	}
	if from == to {
		return nil, &InvalidValueError{Reason: "transfer requires two distinct employees"}
	}

	// Lock both employees in a stable order to avoid deadlock with a
	// concurrent transfer in the opposite direction.
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	muFirst := l.locks.lockFor(first)
	muSecond := l.locks.lockFor(second)
	muFirst.Lock()
	defer muFirst.Unlock()
	muSecond.Lock()
	defer muSecond.Unlock()

	summary, err := l.store.BalanceOf(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to derive balance: %w", err)
	}
	if summary.Total < value {
		return nil, &InsufficientBalanceError{
			EmployeeID: from,
			Available:  summary.Total,
			Requested:  value,
		}
	}

	correlation := uuid.NewString()
	now := time.Now().UTC()
	pair := []Transaction{
		{
			ID:            TransactionID(uuid.NewString()),
			EmployeeID:    from,
			Value:         -value,
			Type:          TxTransfer,
			Description:   description,
			ActorID:       actorID,
			CorrelationID: correlation,
			CreatedAt:     now,
		},
		{
			ID:            TransactionID(uuid.NewString()),
			EmployeeID:    to,
			Value:         value,
			Type:          TxTransfer,
			Description:   description,
			ActorID:       actorID,
			CorrelationID: correlation,
			CreatedAt:     now,
		},
	}

	if err := l.store.AppendBatch(ctx, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// History returns one page of the employee's transactions, newest first.
// Page numbers are 1-based; typeFilter is optional ("" means all types).
func (l *Ledger) History(ctx context.Context, employeeID EmployeeID, page, pageSize int, typeFilter TransactionType) (TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if typeFilter != "" && !ValidType(typeFilter) {
		return TransactionPage{}, &InvalidValueError{Reason: fmt.Sprintf("unknown transaction type %q", typeFilter)}
	}

	items, total, err := l.store.LoadPage(ctx, employeeID, page, pageSize, typeFilter)
	if err != nil {
		return TransactionPage{}, err
	}
	if items == nil {
		items = []Transaction{}
	}
	return TransactionPage{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: PageCount(total, pageSize),
	}, nil
}

func validate(employeeID EmployeeID, value int64, txType TransactionType) error {
	if employeeID == "" {
		return &InvalidValueError{Reason: "employee id is required"}
	}
	if value == 0 {
		return &InvalidValueError{Reason: "transaction value must be non-zero"}
	}
	if !ValidType(txType) {
		return &InvalidValueError{Reason: fmt.Sprintf("unknown transaction type %q", txType)}
	}
	// Transfer entries are written in pairs sharing a correlation reference;
	// a single-sided transfer through Append would break that pairing.
	if txType == TxTransfer {
		return &InvalidValueError{Reason: "transfer entries must be created via Transfer"}
	}
	return nil
}
