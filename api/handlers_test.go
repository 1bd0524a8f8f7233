/*
handlers_test.go - HTTP-level tests through the full router

Tests for:
- Employee creation and balance reads
- Allocation trigger, repeat-period conflict
- Conversion request lifecycle over HTTP
- Error code mapping (400/404/409)
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/incentive-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server := httptest.NewServer(NewRouter(NewHandler(store)))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func seedWorld(t *testing.T, base string) {
	t.Helper()

	resp := doJSON(t, http.MethodPost, base+"/api/employees", CreateEmployeeRequest{
		ID: "emp-1", Name: "Ada", RoleID: "engineer"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, base+"/api/roles/engineer", UpsertRoleRuleRequest{PointValue: 650})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, base+"/api/conversion/rules/bronze", UpsertConversionRuleRequest{
		PointValue: 100, MoneyValue: "20000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

// =============================================================================
// EMPLOYEE + BALANCE TESTS
// =============================================================================

func TestAPI_BalanceAfterAllocation(t *testing.T) {
	// GIVEN: An engineer with a 650-point rule
	// WHEN: Triggering the March allocation
	// THEN: GET balance reflects the credit

	server := newTestServer(t)
	seedWorld(t, server.URL)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/allocations/run", RunAllocationRequest{Period: "2026-03"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[AllocationSummaryDTO](t, resp)
	assert.Equal(t, 1, summary.Credited)
	assert.Equal(t, int64(650), summary.Points)

	resp, err := http.Get(server.URL + "/api/employees/emp-1/balance")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[BalanceDTO](t, resp)
	assert.Equal(t, int64(650), balance.CurrentTotal)
}

func TestAPI_Balance_UnknownEmployee_404(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/employees/ghost/balance")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "not_found", body.Code)
}

func TestAPI_RepeatAllocation_409(t *testing.T) {
	server := newTestServer(t)
	seedWorld(t, server.URL)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/allocations/run", RunAllocationRequest{Period: "2026-03"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, server.URL+"/api/allocations/run", RunAllocationRequest{Period: "2026-03"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "already_allocated", body.Code)
}

func TestAPI_Allocation_BadPeriod_400(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/allocations/run", RunAllocationRequest{Period: "March 2026"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_value", body.Code)
}

// =============================================================================
// CONVERSION FLOW TESTS
// =============================================================================

func TestAPI_ConversionLifecycle(t *testing.T) {
	// GIVEN: emp-1 was credited 650 points
	// WHEN: Requesting a 300-point conversion and approving it over HTTP
	// THEN: The offer is 60000 and the balance ends at 350

	server := newTestServer(t)
	seedWorld(t, server.URL)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/allocations/run", RunAllocationRequest{Period: "2026-03"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, server.URL+"/api/conversion/requests", CreateConversionRequest{
		EmployeeID: "emp-1", PointRequested: 300})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	request := decode[ConversionRequestDTO](t, resp)
	assert.Equal(t, "pending", request.Status)
	assert.Equal(t, "60000", request.MoneyOffered)

	// It shows up in the pending queue
	resp, err := http.Get(server.URL + "/api/conversion/requests/pending")
	require.NoError(t, err)
	queue := decode[ConversionRequestPageDTO](t, resp)
	require.Len(t, queue.Items, 1)
	assert.Equal(t, request.ID, queue.Items[0].ID)

	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/conversion/requests/%s/approve", server.URL, request.ID),
		ResolveRequestDTO{ResolverID: "mgr-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	approved := decode[ConversionRequestDTO](t, resp)
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "mgr-1", approved.ResolverID)

	resp, err = http.Get(server.URL + "/api/employees/emp-1/balance")
	require.NoError(t, err)
	balance := decode[BalanceDTO](t, resp)
	assert.Equal(t, int64(350), balance.CurrentTotal)

	// Second approval conflicts
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/conversion/requests/%s/approve", server.URL, request.ID),
		ResolveRequestDTO{ResolverID: "mgr-2"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "already_resolved", body.Code)
}

func TestAPI_ConversionRequest_InsufficientBalance_409(t *testing.T) {
	server := newTestServer(t)
	seedWorld(t, server.URL)

	// No allocation ran: emp-1 holds nothing
	resp := doJSON(t, http.MethodPost, server.URL+"/api/conversion/requests", CreateConversionRequest{
		EmployeeID: "emp-1", PointRequested: 300})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "insufficient_balance", body.Code)
}

func TestAPI_ConversionRule_InvalidTier_400(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPut, server.URL+"/api/conversion/rules/bad", UpsertConversionRuleRequest{
		PointValue: 0, MoneyValue: "20000"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_tier", body.Code)
}

// =============================================================================
// ADMIN TESTS
// =============================================================================

func TestAPI_AdjustmentAndTransfer(t *testing.T) {
	server := newTestServer(t)
	seedWorld(t, server.URL)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/employees", CreateEmployeeRequest{
		ID: "emp-2", Name: "Grace", RoleID: "engineer"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, server.URL+"/api/admin/adjustments", AdjustmentRequestDTO{
		EmployeeID: "emp-1", Value: 200, Reason: "import correction", ActorID: "mgr-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, server.URL+"/api/admin/transfers", TransferRequestDTO{
		FromEmployeeID: "emp-1", ToEmployeeID: "emp-2", Value: 50, Reason: "spot bonus", ActorID: "mgr-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	pair := decode[[]TransactionDTO](t, resp)
	require.Len(t, pair, 2)
	assert.Equal(t, pair[0].CorrelationID, pair[1].CorrelationID)

	resp, err := http.Get(server.URL + "/api/employees/emp-2/balance")
	require.NoError(t, err)
	balance := decode[BalanceDTO](t, resp)
	assert.Equal(t, int64(50), balance.CurrentTotal)
}

func TestAPI_Adjustment_MissingReason_400(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/admin/adjustments", AdjustmentRequestDTO{
		EmployeeID: "emp-1", Value: 200, ActorID: "mgr-1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_Adjustment_TransferType_400(t *testing.T) {
	// A single-sided "transfer" adjustment would bypass the paired
	// debit/credit written by the transfer endpoint.
	server := newTestServer(t)
	seedWorld(t, server.URL)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/admin/adjustments", AdjustmentRequestDTO{
		EmployeeID: "emp-1", Value: 100, Type: "transfer", Reason: "side door", ActorID: "mgr-1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_value", body.Code)

	history := decode[TransactionPageDTO](t, doJSON(t, http.MethodGet,
		server.URL+"/api/employees/emp-1/transactions?type=transfer", nil))
	assert.Zero(t, history.TotalCount, "no transfer entry may be persisted")
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestAPI_TransactionHistory_Paged(t *testing.T) {
	server := newTestServer(t)
	seedWorld(t, server.URL)

	for i := 0; i < 3; i++ {
		resp := doJSON(t, http.MethodPost, server.URL+"/api/admin/adjustments", AdjustmentRequestDTO{
			EmployeeID: "emp-1", Value: int64(10 + i), Reason: "seed", ActorID: "mgr-1"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(server.URL + "/api/employees/emp-1/transactions?page=1&page_size=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[TransactionPageDTO](t, resp)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
}
