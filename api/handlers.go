/*
handlers.go - HTTP API handlers for the incentive point system

PURPOSE:
  Exposes the incentive engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Employees:
    GET    /api/employees                   List all employees
    POST   /api/employees                   Create/update employee
    GET    /api/employees/{id}              Get employee details
    GET    /api/employees/{id}/balance      Get derived balance
    GET    /api/employees/{id}/transactions Transaction history (paged)
    GET    /api/employees/{id}/requests     Conversion request history

  Admin:
    POST   /api/admin/adjustments           Manual balance correction
    POST   /api/admin/transfers             Peer-to-peer point transfer

  Allocation:
    GET    /api/roles                       List role entitlement rules
    PUT    /api/roles/{id}                  Set a role's entitlement
    POST   /api/allocations/run             Trigger a period batch
    GET    /api/allocations/runs            Run history

  Conversion:
    GET    /api/conversion/rules            List tiers
    PUT    /api/conversion/rules/{id}       Define a tier
    POST   /api/conversion/requests         Open a request
    GET    /api/conversion/requests/pending Pending queue (paged)
    GET    /api/conversion/requests/{id}    Get one request
    POST   /api/conversion/requests/{id}/approve
    POST   /api/conversion/requests/{id}/reject

REQUEST FLOW:
  1. Parse HTTP request
  2. Call domain logic (ledger, engine, workflow)
  3. Serialize response
  4. Map domain errors to status codes

ERROR HANDLING:
  Domain errors carry a machine-readable code in the JSON body:
  - 400: invalid_value, invalid_tier
  - 404: not_found
  - 409: insufficient_balance, already_resolved, already_allocated
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. The resolver identity
  on approvals is client-supplied. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/incentive-engine/allocation"
	"github.com/warp/incentive-engine/conversion"
	"github.com/warp/incentive-engine/points"
	"github.com/warp/incentive-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Ledger   *points.Ledger
	Roles    *allocation.RoleTable
	Tiers    *conversion.RuleTable
	Engine   *allocation.Engine
	Workflow *conversion.Workflow
}

// NewHandler wires the domain services around a single store.
func NewHandler(store *sqlite.Store) *Handler {
	ledger := points.NewLedger(store)
	roles := allocation.NewRoleTable(store)
	tiers := conversion.NewRuleTable(store)

	return &Handler{
		Store:    store,
		Ledger:   ledger,
		Roles:    roles,
		Tiers:    tiers,
		Engine:   allocation.NewEngine(roles, store, ledger, store, nil),
		Workflow: conversion.NewWorkflow(tiers, store, ledger),
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all directory entries.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single directory entry.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := points.EmployeeID(chi.URLParam(r, "id"))

	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates or updates a directory entry.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.RoleID == "" {
		writeError(w, http.StatusBadRequest, "id and role_id are required", nil)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	emp := allocation.Employee{
		ID:     points.EmployeeID(req.ID),
		Name:   req.Name,
		RoleID: allocation.RoleID(req.RoleID),
		Active: active,
	}

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetBalance returns the derived balance for an employee.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := points.EmployeeID(chi.URLParam(r, "id"))

	balance, err := h.Ledger.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		EmployeeID:    string(balance.EmployeeID),
		CurrentTotal:  balance.CurrentTotal,
		LastUpdatedAt: balance.LastUpdatedAt.Format(time.RFC3339Nano),
	})
}

// GetTransactions returns one page of an employee's ledger history.
// Query params: page, page_size, type (earn|redeem|adjustment|transfer).
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := points.EmployeeID(chi.URLParam(r, "id"))
	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "page_size", 20)
	typeFilter := points.TransactionType(r.URL.Query().Get("type"))

	result, err := h.Ledger.History(r.Context(), id, page, pageSize, typeFilter)
	if err != nil {
		writeDomainError(w, "Failed to get transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, TransactionPageDTO{
		Items:      toTransactionDTOs(result.Items),
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalCount: result.TotalCount,
		TotalPages: result.TotalPages,
	})
}

// CreateAdjustment records a manual balance correction.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "Reason is required for adjustments", nil)
		return
	}

	txType := points.TxAdjustment
	if req.Type != "" {
		txType = points.TransactionType(req.Type)
	}

	tx, err := h.Ledger.Append(r.Context(),
		points.EmployeeID(req.EmployeeID), req.Value, txType,
		req.Reason, req.ActorID)
	if err != nil {
		writeDomainError(w, "Failed to create adjustment", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// CreateTransfer moves points between two employees atomically.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	txs, err := h.Ledger.Transfer(r.Context(),
		points.EmployeeID(req.FromEmployeeID), points.EmployeeID(req.ToEmployeeID),
		req.Value, req.Reason, req.ActorID)
	if err != nil {
		writeDomainError(w, "Failed to transfer points", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTOs(txs))
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// ListRoleRules returns all role entitlement rules.
func (h *Handler) ListRoleRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Roles.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list role rules", err)
		return
	}

	dtos := make([]RoleRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRoleRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertRoleRule sets the monthly entitlement for a role.
func (h *Handler) UpsertRoleRule(w http.ResponseWriter, r *http.Request) {
	roleID := allocation.RoleID(chi.URLParam(r, "id"))

	var req UpsertRoleRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rule, err := h.Roles.Upsert(r.Context(), roleID, req.PointValue)
	if err != nil {
		writeDomainError(w, "Failed to save role rule", err)
		return
	}

	writeJSON(w, http.StatusOK, toRoleRuleDTO(rule))
}

// TriggerAllocation runs the allocation batch for a period.
func (h *Handler) TriggerAllocation(w http.ResponseWriter, r *http.Request) {
	var req RunAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	period, err := allocation.ParsePeriod(req.Period)
	if err != nil {
		writeDomainError(w, "Invalid period", err)
		return
	}

	summary, err := h.Engine.RunAllocation(r.Context(), period)
	if err != nil {
		writeDomainError(w, "Failed to run allocation", err)
		return
	}

	writeJSON(w, http.StatusOK, AllocationSummaryDTO{
		Period:   string(summary.Period),
		Credited: summary.Credited,
		Points:   summary.Points,
		Skipped:  summary.Skipped,
		Failed:   summary.Failed,
	})
}

// ListAllocationRuns returns the run history, newest period first.
func (h *Handler) ListAllocationRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListAllocationRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list allocation runs", err)
		return
	}

	dtos := make([]AllocationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toAllocationRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CONVERSION HANDLERS
// =============================================================================

// ListConversionRules returns all tiers ordered by threshold.
func (h *Handler) ListConversionRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Tiers.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list conversion rules", err)
		return
	}

	dtos := make([]ConversionRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toConversionRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertConversionRule defines or updates a tier.
func (h *Handler) UpsertConversionRule(w http.ResponseWriter, r *http.Request) {
	id := conversion.RuleID(chi.URLParam(r, "id"))

	var req UpsertConversionRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	money, err := parseMoney(req.MoneyValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid money_value", err)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rule, err := h.Tiers.Upsert(r.Context(), conversion.Rule{
		ID:         id,
		PointValue: req.PointValue,
		MoneyValue: money,
		IsActive:   active,
	})
	if err != nil {
		writeDomainError(w, "Failed to save conversion rule", err)
		return
	}

	writeJSON(w, http.StatusOK, toConversionRuleDTO(rule))
}

// CreateConversionRequest opens a pending conversion request.
func (h *Handler) CreateConversionRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	request, err := h.Workflow.CreateRequest(r.Context(),
		points.EmployeeID(req.EmployeeID), req.PointRequested)
	if err != nil {
		writeDomainError(w, "Failed to create conversion request", err)
		return
	}

	writeJSON(w, http.StatusCreated, toConversionRequestDTO(*request))
}

// GetConversionRequest returns one request by ID.
func (h *Handler) GetConversionRequest(w http.ResponseWriter, r *http.Request) {
	id := conversion.RequestID(chi.URLParam(r, "id"))

	request, err := h.Store.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get request", err)
		return
	}
	if request == nil {
		writeError(w, http.StatusNotFound, "Request not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toConversionRequestDTO(*request))
}

// ListPendingRequests returns the approval queue, oldest first.
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "page_size", 20)

	result, err := h.Workflow.ListPending(r.Context(), page, pageSize)
	if err != nil {
		writeDomainError(w, "Failed to list pending requests", err)
		return
	}

	writeJSON(w, http.StatusOK, ConversionRequestPageDTO{
		Items:      toConversionRequestDTOs(result.Items),
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalCount: result.TotalCount,
		TotalPages: result.TotalPages,
	})
}

// ListEmployeeRequests returns an employee's request history.
func (h *Handler) ListEmployeeRequests(w http.ResponseWriter, r *http.Request) {
	id := points.EmployeeID(chi.URLParam(r, "id"))

	requests, err := h.Workflow.RequestsFor(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list requests", err)
		return
	}

	writeJSON(w, http.StatusOK, toConversionRequestDTOs(requests))
}

// ApproveRequest approves a pending request, debiting the ledger.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.resolveRequest(w, r, true)
}

// RejectRequest rejects a pending request. The ledger is untouched.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.resolveRequest(w, r, false)
}

func (h *Handler) resolveRequest(w http.ResponseWriter, r *http.Request, approve bool) {
	id := conversion.RequestID(chi.URLParam(r, "id"))

	var body ResolveRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ResolverID == "" {
		writeError(w, http.StatusBadRequest, "resolver_id is required", nil)
		return
	}

	var (
		request *conversion.Request
		err     error
	)
	if approve {
		request, err = h.Workflow.Approve(r.Context(), id, body.ResolverID)
	} else {
		request, err = h.Workflow.Reject(r.Context(), id, body.ResolverID)
	}
	if err != nil {
		writeDomainError(w, "Failed to resolve request", err)
		return
	}

	writeJSON(w, http.StatusOK, toConversionRequestDTO(*request))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes and attaches
// a machine-readable code clients can branch on.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case points.IsNotFound(err):
		status = http.StatusNotFound
	case points.IsConflict(err):
		status = http.StatusConflict
	case points.IsClientError(err):
		status = http.StatusBadRequest
	}

	resp := ErrorResponse{
		Error:   message,
		Code:    errorCode(err),
		Details: err.Error(),
	}
	writeJSON(w, status, resp)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, points.ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, points.ErrInvalidTier):
		return "invalid_tier"
	case errors.Is(err, points.ErrNotFound):
		return "not_found"
	case errors.Is(err, points.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, points.ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, points.ErrAlreadyAllocated):
		return "already_allocated"
	case errors.Is(err, points.ErrDuplicateIdempotencyKey):
		return "duplicate_idempotency_key"
	default:
		return ""
	}
}

func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("money_value is required")
	}
	return decimal.NewFromString(s)
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
