/*
workflow.go - Conversion request lifecycle

PURPOSE:
  Handles the employee-initiated, HR-resolved workflow for redeeming
  points as currency:

    createRequest ──▶ pending ──▶ approved  (one redeem debit)
                              └─▶ rejected  (no ledger effect)

  Terminal states are one-way: resolving a decided request fails with
  AlreadyResolvedError.

BALANCE CHECKS:
  The balance is checked twice. At creation, a request exceeding the
  current balance is rejected outright and nothing is persisted. Points
  are NOT reserved while pending, so the balance may have changed by
  approval time; the approval path re-validates by delegating the debit
  to the ledger, whose per-employee serialization makes the re-check and
  the append one atomic unit. If the balance no longer covers the request
  the request STAYS pending for manual follow-up.

CRASH RECOVERY:
  Approval appends the redeem debit (keyed "redeem-<requestID>") before
  flipping the status. A crash between the two leaves a pending request
  whose debit exists; retrying the approval hits the idempotency key,
  treats the debit as already applied, and completes the status flip.
  A concurrent double-resolve loses the conditional status update and
  surfaces AlreadyResolvedError.

SEE ALSO:
  - rules.go: Tier selection and payout computation
  - points/ledger.go: Append and its serialization guarantees
*/
package conversion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/incentive-engine/points"
)

// =============================================================================
// REQUEST
// =============================================================================

type RequestID string

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// Request is one employee redemption request. MoneyOffered is computed at
// creation time from the best applicable tier and never recomputed.
type Request struct {
	ID             RequestID
	EmployeeID     points.EmployeeID
	PointRequested int64
	MoneyOffered   decimal.Decimal
	RuleID         RuleID
	Status         RequestStatus
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	ResolverID     string
}

// AlreadyResolvedError reports a resolve on a non-pending request.
type AlreadyResolvedError struct {
	RequestID RequestID
	Status    RequestStatus
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("request %s already resolved: %s", e.RequestID, e.Status)
}

func (e *AlreadyResolvedError) Unwrap() error { return points.ErrAlreadyResolved }

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// RequestStore persists conversion requests.
type RequestStore interface {
	SaveRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id RequestID) (*Request, error)

	// ListPendingRequests returns one page of pending requests ordered by
	// CreatedAt ascending (oldest waiting first), plus the pending total.
	ListPendingRequests(ctx context.Context, page, pageSize int) ([]Request, int, error)

	// ListRequestsByEmployee returns an employee's requests, newest first.
	ListRequestsByEmployee(ctx context.Context, employeeID points.EmployeeID) ([]Request, error)

	// ResolveRequest flips the request into a terminal status only if it
	// is still pending. Returns false when the request was not pending.
	ResolveRequest(ctx context.Context, id RequestID, status RequestStatus, resolverID string, at time.Time) (bool, error)
}

// Ledger is the slice of the point ledger the workflow needs.
type Ledger interface {
	Available(ctx context.Context, employeeID points.EmployeeID) (int64, error)
	AppendWithKey(ctx context.Context, employeeID points.EmployeeID, value int64, txType points.TransactionType, description, actorID, idempotencyKey string) (points.Transaction, error)
}

// RequestPage is one page of pending requests for the approval UI.
type RequestPage struct {
	Items      []Request
	Page       int
	PageSize   int
	TotalCount int
	TotalPages int
}

// =============================================================================
// WORKFLOW
// =============================================================================

// Workflow owns the conversion request state machine. All balance mutation
// is delegated to the point ledger.
type Workflow struct {
	Rules    *RuleTable
	Requests RequestStore
	Ledger   Ledger
}

func NewWorkflow(rules *RuleTable, requests RequestStore, ledger Ledger) *Workflow {
	return &Workflow{Rules: rules, Requests: requests, Ledger: ledger}
}

// CreateRequest validates the amount against the employee's current balance,
// computes the payout from the best applicable tier, and persists the
// request in pending state. No ledger mutation happens here. When the
// balance check fails nothing is persisted.
func (w *Workflow) CreateRequest(ctx context.Context, employeeID points.EmployeeID, pointRequested int64) (*Request, error) {
	if employeeID == "" {
		return nil, &points.InvalidValueError{Reason: "employee id is required"}
	}
	if pointRequested <= 0 {
		return nil, &points.InvalidValueError{Reason: "requested points must be positive"}
	}

	available, err := w.Ledger.Available(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if pointRequested > available {
		return nil, &points.InsufficientBalanceError{
			EmployeeID: employeeID,
			Available:  available,
			Requested:  pointRequested,
		}
	}

	active, err := w.Rules.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversion rules: %w", err)
	}
	rule := BestRule(active, pointRequested)
	if rule == nil {
		return nil, &points.NotFoundError{Kind: "rule", ID: fmt.Sprintf("applicable to %d points", pointRequested)}
	}

	request := Request{
		ID:             RequestID(uuid.NewString()),
		EmployeeID:     employeeID,
		PointRequested: pointRequested,
		MoneyOffered:   rule.Offer(pointRequested),
		RuleID:         rule.ID,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := w.Requests.SaveRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to persist request: %w", err)
	}
	return &request, nil
}

// Approve resolves a pending request, debiting the requested points.
// Fails with AlreadyResolvedError unless the request is pending, and with
// InsufficientBalanceError - leaving the request pending - when the
// balance no longer covers the request.
func (w *Workflow) Approve(ctx context.Context, requestID RequestID, resolverID string) (*Request, error) {
	return w.resolve(ctx, requestID, StatusApproved, resolverID)
}

// Reject resolves a pending request with no ledger effect.
func (w *Workflow) Reject(ctx context.Context, requestID RequestID, resolverID string) (*Request, error) {
	return w.resolve(ctx, requestID, StatusRejected, resolverID)
}

func (w *Workflow) resolve(ctx context.Context, requestID RequestID, decision RequestStatus, resolverID string) (*Request, error) {
	if decision != StatusApproved && decision != StatusRejected {
		return nil, &points.InvalidValueError{Reason: fmt.Sprintf("unknown decision %q", decision)}
	}

	request, err := w.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, &points.NotFoundError{Kind: "request", ID: string(requestID)}
	}
	if request.Status != StatusPending {
		return nil, &AlreadyResolvedError{RequestID: requestID, Status: request.Status}
	}

	if decision == StatusApproved {
		// The ledger re-checks the balance under the employee's lock,
		// so the check and the debit are one atomic unit. A duplicate
		// key means a previous approval attempt already debited.
		key := fmt.Sprintf("redeem-%s", requestID)
		description := fmt.Sprintf("conversion request %s approved", requestID)
		_, err := w.Ledger.AppendWithKey(ctx, request.EmployeeID, -request.PointRequested,
			points.TxRedeem, description, resolverID, key)
		if err != nil && !errors.Is(err, points.ErrDuplicateIdempotencyKey) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	ok, err := w.Requests.ResolveRequest(ctx, requestID, decision, resolverID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}
	if !ok {
		// Lost a race with another resolver.
		current, _ := w.Requests.GetRequest(ctx, requestID)
		status := decision
		if current != nil {
			status = current.Status
		}
		if decision == StatusApproved && status == StatusRejected {
			// The winner rejected after our debit landed. Corrections
			// are reversal entries, never edits.
			reverseKey := fmt.Sprintf("redeem-reverse-%s", requestID)
			reverseDesc := fmt.Sprintf("reversal: request %s was rejected", requestID)
			if _, err := w.Ledger.AppendWithKey(ctx, request.EmployeeID, request.PointRequested,
				points.TxAdjustment, reverseDesc, resolverID, reverseKey); err != nil &&
				!errors.Is(err, points.ErrDuplicateIdempotencyKey) {
				return nil, err
			}
		}
		return nil, &AlreadyResolvedError{RequestID: requestID, Status: status}
	}

	request.Status = decision
	request.ResolvedAt = &now
	request.ResolverID = resolverID
	return request, nil
}

// ListPending returns one page of pending requests for the approval UI.
func (w *Workflow) ListPending(ctx context.Context, page, pageSize int) (RequestPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	items, total, err := w.Requests.ListPendingRequests(ctx, page, pageSize)
	if err != nil {
		return RequestPage{}, err
	}
	if items == nil {
		items = []Request{}
	}
	return RequestPage{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: points.PageCount(total, pageSize),
	}, nil
}

// RequestsFor returns an employee's requests, newest first.
func (w *Workflow) RequestsFor(ctx context.Context, employeeID points.EmployeeID) ([]Request, error) {
	return w.Requests.ListRequestsByEmployee(ctx, employeeID)
}
