/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Employee:
    EmployeeDTO, CreateEmployeeRequest

  Ledger:
    BalanceDTO, TransactionDTO, TransactionPageDTO,
    AdjustmentRequestDTO, TransferRequestDTO

  Allocation:
    RoleRuleDTO, UpsertRoleRuleRequest, AllocationRunDTO,
    RunAllocationRequest, AllocationSummaryDTO

  Conversion:
    ConversionRuleDTO, UpsertConversionRuleRequest,
    ConversionRequestDTO, CreateConversionRequest, ResolveRequestDTO

MONEY:
  Money amounts cross the wire as decimal strings ("60000"), never as
  floats. Clients parse them with their own decimal type.

VALIDATION:
  Validation is done in the domain layer, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route wiring
*/
package api

import (
	"time"

	"github.com/warp/incentive-engine/allocation"
	"github.com/warp/incentive-engine/conversion"
	"github.com/warp/incentive-engine/points"
)

// =============================================================================
// EMPLOYEE TYPES
// =============================================================================

// EmployeeDTO represents a directory entry in API responses.
type EmployeeDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RoleID string `json:"role_id"`
	Active bool   `json:"active"`
}

// CreateEmployeeRequest is the request to create or update an employee.
type CreateEmployeeRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RoleID string `json:"role_id"`
	Active *bool  `json:"active,omitempty"` // nil defaults to true
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// BalanceDTO represents a derived balance.
type BalanceDTO struct {
	EmployeeID    string `json:"employee_id"`
	CurrentTotal  int64  `json:"current_total"`
	LastUpdatedAt string `json:"last_updated_at"`
}

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID            string `json:"id"`
	EmployeeID    string `json:"employee_id"`
	Value         int64  `json:"value"`
	Type          string `json:"type"`
	Description   string `json:"description,omitempty"`
	ActorID       string `json:"actor_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// TransactionPageDTO is one page of transaction history.
type TransactionPageDTO struct {
	Items      []TransactionDTO `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalCount int              `json:"total_count"`
	TotalPages int              `json:"total_pages"`
}

// AdjustmentRequestDTO is the request for a manual award or penalty.
type AdjustmentRequestDTO struct {
	EmployeeID string `json:"employee_id"`
	Value      int64  `json:"value"`
	Type       string `json:"type,omitempty"` // defaults to "adjustment"
	Reason     string `json:"reason"`
	ActorID    string `json:"actor_id"`
}

// TransferRequestDTO is the request to move points between employees.
type TransferRequestDTO struct {
	FromEmployeeID string `json:"from_employee_id"`
	ToEmployeeID   string `json:"to_employee_id"`
	Value          int64  `json:"value"`
	Reason         string `json:"reason"`
	ActorID        string `json:"actor_id"`
}

// =============================================================================
// ALLOCATION TYPES
// =============================================================================

// RoleRuleDTO represents a role's monthly entitlement.
type RoleRuleDTO struct {
	RoleID     string `json:"role_id"`
	PointValue int64  `json:"point_value"`
	UpdatedAt  string `json:"updated_at"`
}

// UpsertRoleRuleRequest is the request to set a role's entitlement.
type UpsertRoleRuleRequest struct {
	PointValue int64 `json:"point_value"`
}

// RunAllocationRequest triggers an allocation batch for a period.
type RunAllocationRequest struct {
	Period string `json:"period"` // "YYYY-MM"
}

// AllocationSummaryDTO is the outcome of a triggered batch.
type AllocationSummaryDTO struct {
	Period   string `json:"period"`
	Credited int    `json:"credited"`
	Points   int64  `json:"points"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// AllocationRunDTO represents a recorded allocation run.
type AllocationRunDTO struct {
	Period      string  `json:"period"`
	Credited    int     `json:"credited"`
	Points      int64   `json:"points"`
	Skipped     int     `json:"skipped"`
	Failed      int     `json:"failed"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// =============================================================================
// CONVERSION TYPES
// =============================================================================

// ConversionRuleDTO represents a conversion tier.
type ConversionRuleDTO struct {
	ID         string `json:"id"`
	PointValue int64  `json:"point_value"`
	MoneyValue string `json:"money_value"`
	IsActive   bool   `json:"is_active"`
	UpdatedAt  string `json:"updated_at"`
}

// UpsertConversionRuleRequest is the request to define a tier.
type UpsertConversionRuleRequest struct {
	PointValue int64  `json:"point_value"`
	MoneyValue string `json:"money_value"`
	IsActive   *bool  `json:"is_active,omitempty"` // nil defaults to true
}

// ConversionRequestDTO represents a conversion request.
type ConversionRequestDTO struct {
	ID             string  `json:"id"`
	EmployeeID     string  `json:"employee_id"`
	PointRequested int64   `json:"point_requested"`
	MoneyOffered   string  `json:"money_offered"`
	RuleID         string  `json:"rule_id"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	ResolvedAt     *string `json:"resolved_at,omitempty"`
	ResolverID     string  `json:"resolver_id,omitempty"`
}

// ConversionRequestPageDTO is one page of pending requests.
type ConversionRequestPageDTO struct {
	Items      []ConversionRequestDTO `json:"items"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"page_size"`
	TotalCount int                    `json:"total_count"`
	TotalPages int                    `json:"total_pages"`
}

// CreateConversionRequest is the request to open a conversion.
type CreateConversionRequest struct {
	EmployeeID     string `json:"employee_id"`
	PointRequested int64  `json:"point_requested"`
}

// ResolveRequestDTO carries the approver identity for approve/reject.
type ResolveRequestDTO struct {
	ResolverID string `json:"resolver_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toEmployeeDTO(e allocation.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:     string(e.ID),
		Name:   e.Name,
		RoleID: string(e.RoleID),
		Active: e.Active,
	}
}

func toTransactionDTO(tx points.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            string(tx.ID),
		EmployeeID:    string(tx.EmployeeID),
		Value:         tx.Value,
		Type:          string(tx.Type),
		Description:   tx.Description,
		ActorID:       tx.ActorID,
		CorrelationID: tx.CorrelationID,
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toTransactionDTOs(txs []points.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toRoleRuleDTO(r allocation.Rule) RoleRuleDTO {
	return RoleRuleDTO{
		RoleID:     string(r.RoleID),
		PointValue: r.PointValue,
		UpdatedAt:  r.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func toConversionRuleDTO(r conversion.Rule) ConversionRuleDTO {
	return ConversionRuleDTO{
		ID:         string(r.ID),
		PointValue: r.PointValue,
		MoneyValue: r.MoneyValue.String(),
		IsActive:   r.IsActive,
		UpdatedAt:  r.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func toConversionRequestDTO(r conversion.Request) ConversionRequestDTO {
	dto := ConversionRequestDTO{
		ID:             string(r.ID),
		EmployeeID:     string(r.EmployeeID),
		PointRequested: r.PointRequested,
		MoneyOffered:   r.MoneyOffered.String(),
		RuleID:         string(r.RuleID),
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt.Format(time.RFC3339Nano),
		ResolverID:     r.ResolverID,
	}
	if r.ResolvedAt != nil {
		t := r.ResolvedAt.Format(time.RFC3339Nano)
		dto.ResolvedAt = &t
	}
	return dto
}

func toConversionRequestDTOs(rs []conversion.Request) []ConversionRequestDTO {
	dtos := make([]ConversionRequestDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toConversionRequestDTO(r)
	}
	return dtos
}

func toAllocationRunDTO(run allocation.Run) AllocationRunDTO {
	dto := AllocationRunDTO{
		Period:    string(run.Period),
		Credited:  run.Credited,
		Points:    run.Points,
		Skipped:   run.Skipped,
		Failed:    run.Failed,
		StartedAt: run.StartedAt.Format(time.RFC3339Nano),
	}
	if run.CompletedAt != nil {
		t := run.CompletedAt.Format(time.RFC3339Nano)
		dto.CompletedAt = &t
	}
	return dto
}
