/*
engine.go - Monthly allocation batch

PURPOSE:
  Once per calendar month, credit every active employee with their role's
  point entitlement. All credits go through the point ledger as `earn`
  transactions attributed to the "system" actor.

IDEMPOTENCY:
  Running the same period twice must not double-credit. Two guards:
  1. The period is CLAIMED atomically (a unique allocation-run row) before
     any employee is credited. A second run of the same period fails fast
     with AlreadyAllocatedError and appends nothing.
  2. Every credit carries the idempotency key "alloc-<period>-<employee>",
     so even a crashed run that is re-claimed cannot credit an employee a
     second time.

PARTIAL FAILURE:
  Per-employee credits are independent, so a failure crediting one
  employee is logged and counted but does not abort the batch. There is
  no global rollback.

SKIPS (not errors):
  - Employee's role has no configured rule
  - Rule entitlement is zero (a zero-value ledger entry is invalid)

SEE ALSO:
  - rules.go: RoleTable
  - api/scheduler.go: Background trigger for the current period
*/
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/warp/incentive-engine/points"
)

// =============================================================================
// PERIOD - One calendar month, "YYYY-MM"
// =============================================================================

type Period string

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ParsePeriod validates a "YYYY-MM" period string.
func ParsePeriod(s string) (Period, error) {
	if !periodPattern.MatchString(s) {
		return "", &points.InvalidValueError{Reason: fmt.Sprintf("period %q is not YYYY-MM", s)}
	}
	return Period(s), nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period(t.UTC().Format("2006-01"))
}

// =============================================================================
// ALREADY-ALLOCATED ERROR
// =============================================================================

// AlreadyAllocatedError reports a duplicate run of an allocated period.
type AlreadyAllocatedError struct {
	Period Period
}

func (e *AlreadyAllocatedError) Error() string {
	return fmt.Sprintf("period %s already allocated", e.Period)
}

func (e *AlreadyAllocatedError) Unwrap() error { return points.ErrAlreadyAllocated }

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Employee is the slice of the directory the engine needs: who is active
// and what role they hold. Employee CRUD itself lives outside this core.
type Employee struct {
	ID     points.EmployeeID
	Name   string
	RoleID RoleID
	Active bool
}

// Directory lists the population to credit.
type Directory interface {
	ListActiveEmployees(ctx context.Context) ([]Employee, error)
}

// Ledger is the narrow slice of the point ledger the engine writes through.
type Ledger interface {
	AppendWithKey(ctx context.Context, employeeID points.EmployeeID, value int64, txType points.TransactionType, description, actorID, idempotencyKey string) (points.Transaction, error)
}

// Run is a persisted record of one allocation run.
type Run struct {
	Period      Period
	Credited    int
	Points      int64
	Skipped     int
	Failed      int
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunStore records which periods have been allocated.
type RunStore interface {
	// ClaimAllocationRun atomically marks the period as started. Returns
	// an error wrapping points.ErrAlreadyAllocated if the period was
	// already claimed.
	ClaimAllocationRun(ctx context.Context, period Period, startedAt time.Time) error

	// CompleteAllocationRun records the outcome of a claimed run.
	CompleteAllocationRun(ctx context.Context, run Run) error

	// HasAllocationRun reports whether the period has been claimed.
	HasAllocationRun(ctx context.Context, period Period) (bool, error)

	// ListAllocationRuns returns runs, newest period first.
	ListAllocationRuns(ctx context.Context) ([]Run, error)
}

// =============================================================================
// ENGINE
// =============================================================================

// SystemActorID attributes allocation credits in the ledger.
const SystemActorID = "system"

// Summary is what a run reports back to the caller.
type Summary struct {
	Period   Period
	Credited int
	Points   int64
	Skipped  int
	Failed   int
}

// Engine runs the monthly allocation batch.
type Engine struct {
	Roles     *RoleTable
	Directory Directory
	Ledger    Ledger
	Runs      RunStore
	Logger    *log.Logger
}

func NewEngine(roles *RoleTable, directory Directory, ledger Ledger, runs RunStore, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{Roles: roles, Directory: directory, Ledger: ledger, Runs: runs, Logger: logger}
}

// RunAllocation credits every active employee with their role's entitlement
// for the period. Fails fast with AlreadyAllocatedError on a repeat run.
func (e *Engine) RunAllocation(ctx context.Context, period Period) (Summary, error) {
	if _, err := ParsePeriod(string(period)); err != nil {
		return Summary{}, err
	}

	startedAt := time.Now().UTC()
	if err := e.Runs.ClaimAllocationRun(ctx, period, startedAt); err != nil {
		return Summary{}, err
	}

	employees, err := e.Directory.ListActiveEmployees(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list employees: %w", err)
	}

	rules, err := e.ruleIndex(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Period: period}
	for _, emp := range employees {
		entitlement, ok := rules[emp.RoleID]
		if !ok || entitlement == 0 {
			summary.Skipped++
			continue
		}

		key := fmt.Sprintf("alloc-%s-%s", period, emp.ID)
		description := fmt.Sprintf("%s monthly allocation", period)
		_, err := e.Ledger.AppendWithKey(ctx, emp.ID, entitlement, points.TxEarn, description, SystemActorID, key)
		if errors.Is(err, points.ErrDuplicateIdempotencyKey) {
			// Credited by an earlier interrupted run of this period.
			summary.Credited++
			summary.Points += entitlement
			continue
		}
		if err != nil {
			e.Logger.Printf("allocation %s: failed to credit %s: %v", period, emp.ID, err)
			summary.Failed++
			continue
		}
		summary.Credited++
		summary.Points += entitlement
	}

	completedAt := time.Now().UTC()
	run := Run{
		Period:      period,
		Credited:    summary.Credited,
		Points:      summary.Points,
		Skipped:     summary.Skipped,
		Failed:      summary.Failed,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
	}
	if err := e.Runs.CompleteAllocationRun(ctx, run); err != nil {
		e.Logger.Printf("allocation %s: failed to record run: %v", period, err)
	}

	return summary, nil
}

func (e *Engine) ruleIndex(ctx context.Context) (map[RoleID]int64, error) {
	rules, err := e.Roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load role rules: %w", err)
	}
	index := make(map[RoleID]int64, len(rules))
	for _, r := range rules {
		index[r.RoleID] = r.PointValue
	}
	return index, nil
}
