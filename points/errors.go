/*
errors.go - Centralized error taxonomy for the point engine

PURPOSE:
  All sentinel errors in one place for consistency and discoverability.
  Domain packages (allocation, conversion) wrap these sentinels with
  structured types carrying additional context.

ERROR CATEGORIES:
  1. Input errors     - zero/negative values where disallowed, bad tier data
  2. Balance errors   - a debit that would drive the balance negative
  3. Lookup errors    - unknown employee/request/rule
  4. Workflow errors  - re-resolving a decided request, re-running a period

USAGE:
  Check with errors.Is:

    if errors.Is(err, points.ErrInsufficientBalance) {
        // surface "your balance is insufficient" to the caller
    }

SEE ALSO:
  - ledger.go: Returns InvalidValueError / InsufficientBalanceError
  - conversion/: AlreadyResolvedError, InvalidTierError
  - allocation/: AlreadyAllocatedError
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidValue is returned for malformed input: a zero transaction
	// value, an unknown transaction type, a negative entitlement.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInsufficientBalance is returned when a debit would drive an
	// employee's balance below zero, or a request exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound is returned for an unknown employee, request, or rule.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved is returned when resolving a conversion request
	// that is no longer pending.
	ErrAlreadyResolved = errors.New("request already resolved")

	// ErrAlreadyAllocated is returned when a monthly allocation period has
	// already been run.
	ErrAlreadyAllocated = errors.New("period already allocated")

	// ErrInvalidTier is returned for conversion rule data with a
	// non-positive point threshold or payout.
	ErrInvalidTier = errors.New("invalid conversion tier")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the
	// same idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidValueError reports a rejected input value.
type InvalidValueError struct {
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value: %s", e.Reason)
}

func (e *InvalidValueError) Unwrap() error { return ErrInvalidValue }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Available  int64
	Requested  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %d",
		e.EmployeeID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// NotFoundError reports a missing entity by kind and id.
type NotFoundError struct {
	Kind string // "employee", "request", "rule"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrInvalidTier)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a state conflict the caller can
// act on: an exhausted balance, a decided request, a duplicate period run.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyResolved) ||
		errors.Is(err, ErrAlreadyAllocated) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}
