/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements all persistence interfaces using SQLite: the append-only
  transaction log (points.Store), role entitlement rules, conversion
  tiers, conversion requests, allocation runs, and the employee
  directory. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  points.Store             Transaction persistence
  allocation.RuleStore     Role entitlement rules
  allocation.Directory     Active employee listing
  allocation.RunStore      Period idempotency records
  conversion.RuleStore     Conversion tiers
  conversion.RequestStore  Request workflow rows

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch the transactions table.
  Corrections are recorded as new reversal entries.

KEY CONSTRAINTS:
  - transactions.idempotency_key UNIQUE: retry/crash-recovery guard
  - allocation_runs.period PRIMARY KEY: the atomic period claim
  - conversion_requests conditional update: one-way resolution

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers
  don't block, a single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/incentive.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := points.NewLedger(store)

SEE ALSO:
  - points/store.go: Interface definition for the ledger side
  - points/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/incentive-engine/allocation"
	"github.com/warp/incentive-engine/conversion"
	"github.com/warp/incentive-engine/points"
)

// timeFormat is fixed-width so that string comparison in SQL matches
// chronological order, down to nanoseconds.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each pooled connection to ":memory:" opens a distinct empty database,
	// so a second connection would see none of the schema or data.
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		value INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		description TEXT,
		actor_id TEXT NOT NULL,
		correlation_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_employee
		ON transactions(employee_id);

	-- Composite index for history pages and balance sums (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_employee_created
		ON transactions(employee_id, created_at DESC, id DESC);

	CREATE INDEX IF NOT EXISTS idx_transactions_type
		ON transactions(employee_id, tx_type);

	CREATE INDEX IF NOT EXISTS idx_transactions_correlation
		ON transactions(correlation_id) WHERE correlation_id IS NOT NULL;

	-- Role entitlement rules
	CREATE TABLE IF NOT EXISTS role_rules (
		role_id TEXT PRIMARY KEY,
		point_value INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Conversion tiers
	CREATE TABLE IF NOT EXISTS conversion_rules (
		id TEXT PRIMARY KEY,
		point_value INTEGER NOT NULL,
		money_value TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversion_rules_active
		ON conversion_rules(is_active, point_value);

	-- Conversion requests (approval workflow)
	CREATE TABLE IF NOT EXISTS conversion_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		point_requested INTEGER NOT NULL,
		money_offered TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		resolved_at TEXT,
		resolver_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON conversion_requests(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON conversion_requests(employee_id, created_at DESC);

	-- Allocation runs: the period PRIMARY KEY is the idempotency guard
	CREATE TABLE IF NOT EXISTS allocation_runs (
		period TEXT PRIMARY KEY,
		credited INTEGER NOT NULL DEFAULT 0,
		points INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	-- Employee directory (external collaborator data, read by allocation)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_active
		ON employees(active);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (points.Store interface)
// =============================================================================

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx points.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTx(ctx, s.db, tx)
}

func (s *Store) appendTx(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, tx points.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, employee_id, value, tx_type, description, actor_id, correlation_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.EmployeeID,
		tx.Value,
		tx.Type,
		tx.Description,
		tx.ActorID,
		nullString(tx.CorrelationID),
		nullString(tx.IdempotencyKey),
		tx.CreatedAt.UTC().Format(timeFormat),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return points.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return nil
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []points.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicate idempotency keys within the batch first
	keys := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			if keys[tx.IdempotencyKey] {
				return points.ErrDuplicateIdempotencyKey
			}
			keys[tx.IdempotencyKey] = true
		}
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := s.appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// Load returns all transactions for an employee, oldest first.
func (s *Store) Load(ctx context.Context, employeeID points.EmployeeID) ([]points.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, employee_id, value, tx_type, description, actor_id, correlation_id, idempotency_key, created_at
		FROM transactions
		WHERE employee_id = ?
		ORDER BY created_at ASC, id ASC
	`

	return s.queryTransactions(ctx, query, employeeID)
}

// LoadPage returns one page of history, newest first, with the total count.
func (s *Store) LoadPage(ctx context.Context, employeeID points.EmployeeID, page, pageSize int, typeFilter points.TransactionType) ([]points.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := "WHERE employee_id = ?"
	args := []any{employeeID}
	if typeFilter != "" {
		where += " AND tx_type = ?"
		args = append(args, typeFilter)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM transactions " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `
		SELECT id, employee_id, value, tx_type, description, actor_id, correlation_id, idempotency_key, created_at
		FROM transactions ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, pageSize, (page-1)*pageSize)

	txs, err := s.queryTransactions(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// BalanceOf derives the employee's aggregate from the log in one query.
func (s *Store) BalanceOf(ctx context.Context, employeeID points.EmployeeID) (points.LedgerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary points.LedgerSummary
	var lastAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(value), 0), COUNT(*), MAX(created_at)
		 FROM transactions WHERE employee_id = ?`,
		employeeID,
	).Scan(&summary.Total, &summary.TxCount, &lastAt)
	if err != nil {
		return points.LedgerSummary{}, fmt.Errorf("failed to derive balance: %w", err)
	}
	if lastAt.Valid {
		summary.LastAt, _ = time.Parse(timeFormat, lastAt.String)
	}
	return summary, nil
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]points.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []points.Transaction
	for rows.Next() {
		var (
			tx             points.Transaction
			description    sql.NullString
			correlationID  sql.NullString
			idempotencyKey sql.NullString
			createdAt      string
		)
		if err := rows.Scan(
			&tx.ID, &tx.EmployeeID, &tx.Value, &tx.Type,
			&description, &tx.ActorID, &correlationID, &idempotencyKey, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		tx.Description = description.String
		tx.CorrelationID = correlationID.String
		tx.IdempotencyKey = idempotencyKey.String
		tx.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// =============================================================================
// ROLE RULE STORE (allocation.RuleStore interface)
// =============================================================================

// SaveRoleRule creates or replaces a role's entitlement rule.
func (s *Store) SaveRoleRule(ctx context.Context, rule allocation.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO role_rules (role_id, point_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(role_id) DO UPDATE SET
			point_value = excluded.point_value,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rule.RoleID, rule.PointValue, rule.UpdatedAt.UTC().Format(timeFormat))
	return err
}

// GetRoleRule retrieves a role's rule, nil when none configured.
func (s *Store) GetRoleRule(ctx context.Context, roleID allocation.RoleID) (*allocation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rule allocation.Rule
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT role_id, point_value, updated_at FROM role_rules WHERE role_id = ?",
		roleID,
	).Scan(&rule.RoleID, &rule.PointValue, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rule.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &rule, nil
}

// ListRoleRules returns all role rules.
func (s *Store) ListRoleRules(ctx context.Context) ([]allocation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT role_id, point_value, updated_at FROM role_rules ORDER BY role_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []allocation.Rule
	for rows.Next() {
		var rule allocation.Rule
		var updatedAt string
		if err := rows.Scan(&rule.RoleID, &rule.PointValue, &updatedAt); err != nil {
			return nil, err
		}
		rule.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// =============================================================================
// CONVERSION RULE STORE (conversion.RuleStore interface)
// =============================================================================

// SaveConversionRule creates or replaces a conversion tier.
func (s *Store) SaveConversionRule(ctx context.Context, rule conversion.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO conversion_rules (id, point_value, money_value, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			point_value = excluded.point_value,
			money_value = excluded.money_value,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rule.ID, rule.PointValue, rule.MoneyValue.String(), rule.IsActive,
		rule.UpdatedAt.UTC().Format(timeFormat))
	return err
}

// GetConversionRule retrieves a tier by id, nil when missing.
func (s *Store) GetConversionRule(ctx context.Context, id conversion.RuleID) (*conversion.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, point_value, money_value, is_active, updated_at FROM conversion_rules WHERE id = ?",
		id)

	rule, err := scanConversionRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListConversionRules returns all tiers ordered ascending by threshold.
func (s *Store) ListConversionRules(ctx context.Context) ([]conversion.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, point_value, money_value, is_active, updated_at FROM conversion_rules ORDER BY point_value ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []conversion.Rule
	for rows.Next() {
		rule, err := scanConversionRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversionRule(row rowScanner) (*conversion.Rule, error) {
	var rule conversion.Rule
	var moneyValue, updatedAt string
	if err := row.Scan(&rule.ID, &rule.PointValue, &moneyValue, &rule.IsActive, &updatedAt); err != nil {
		return nil, err
	}
	rule.MoneyValue = parseDecimal(moneyValue)
	rule.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &rule, nil
}

// =============================================================================
// CONVERSION REQUEST STORE (conversion.RequestStore interface)
// =============================================================================

// SaveRequest inserts a new conversion request.
func (s *Store) SaveRequest(ctx context.Context, r conversion.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO conversion_requests
		(id, employee_id, point_requested, money_offered, rule_id, status, created_at, resolved_at, resolver_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var resolvedAt *string
	if r.ResolvedAt != nil {
		t := r.ResolvedAt.UTC().Format(timeFormat)
		resolvedAt = &t
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.EmployeeID, r.PointRequested, r.MoneyOffered.String(),
		r.RuleID, r.Status, r.CreatedAt.UTC().Format(timeFormat),
		resolvedAt, nullString(r.ResolverID),
	)
	return err
}

// GetRequest retrieves a request by ID, nil when missing.
func (s *Store) GetRequest(ctx context.Context, id conversion.RequestID) (*conversion.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, point_requested, money_offered, rule_id, status, created_at, resolved_at, resolver_id
		FROM conversion_requests WHERE id = ?`, id)

	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListPendingRequests returns one page of pending requests, oldest first.
func (s *Store) ListPendingRequests(ctx context.Context, page, pageSize int) ([]conversion.Request, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversion_requests WHERE status = 'pending'").Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, point_requested, money_offered, rule_id, status, created_at, resolved_at, resolver_id
		FROM conversion_requests
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	requests, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// ListRequestsByEmployee returns an employee's requests, newest first.
func (s *Store) ListRequestsByEmployee(ctx context.Context, employeeID points.EmployeeID) ([]conversion.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, point_requested, money_offered, rule_id, status, created_at, resolved_at, resolver_id
		FROM conversion_requests
		WHERE employee_id = ?
		ORDER BY created_at DESC, id DESC`,
		employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRequests(rows)
}

// ResolveRequest flips a pending request into a terminal status. Returns
// false when the request was not pending (already resolved or missing).
func (s *Store) ResolveRequest(ctx context.Context, id conversion.RequestID, status conversion.RequestStatus, resolverID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE conversion_requests
		SET status = ?, resolved_at = ?, resolver_id = ?
		WHERE id = ? AND status = 'pending'`,
		status, at.UTC().Format(timeFormat), resolverID, id)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func scanRequest(row rowScanner) (*conversion.Request, error) {
	var (
		r          conversion.Request
		moneyValue string
		createdAt  string
		resolvedAt sql.NullString
		resolverID sql.NullString
	)
	if err := row.Scan(&r.ID, &r.EmployeeID, &r.PointRequested, &moneyValue,
		&r.RuleID, &r.Status, &createdAt, &resolvedAt, &resolverID); err != nil {
		return nil, err
	}

	r.MoneyOffered = parseDecimal(moneyValue)
	r.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	if resolvedAt.Valid {
		t, _ := time.Parse(timeFormat, resolvedAt.String)
		r.ResolvedAt = &t
	}
	r.ResolverID = resolverID.String
	return &r, nil
}

func collectRequests(rows *sql.Rows) ([]conversion.Request, error) {
	var requests []conversion.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// =============================================================================
// ALLOCATION RUN STORE (allocation.RunStore interface)
// =============================================================================

// ClaimAllocationRun atomically marks a period as started. The period
// primary key makes a repeat claim fail, which surfaces as
// AlreadyAllocatedError before any credit is appended.
func (s *Store) ClaimAllocationRun(ctx context.Context, period allocation.Period, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO allocation_runs (period, started_at) VALUES (?, ?)",
		period, startedAt.UTC().Format(timeFormat))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &allocation.AlreadyAllocatedError{Period: period}
		}
		return fmt.Errorf("failed to claim allocation run: %w", err)
	}
	return nil
}

// CompleteAllocationRun records the outcome of a claimed run.
func (s *Store) CompleteAllocationRun(ctx context.Context, run allocation.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt *string
	if run.CompletedAt != nil {
		t := run.CompletedAt.UTC().Format(timeFormat)
		completedAt = &t
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE allocation_runs
		SET credited = ?, points = ?, skipped = ?, failed = ?, completed_at = ?
		WHERE period = ?`,
		run.Credited, run.Points, run.Skipped, run.Failed, completedAt, run.Period)
	return err
}

// HasAllocationRun reports whether the period has been claimed.
func (s *Store) HasAllocationRun(ctx context.Context, period allocation.Period) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM allocation_runs WHERE period = ?", period).Scan(&count)
	return count > 0, err
}

// ListAllocationRuns returns all runs, newest period first.
func (s *Store) ListAllocationRuns(ctx context.Context) ([]allocation.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT period, credited, points, skipped, failed, started_at, completed_at
		FROM allocation_runs
		ORDER BY period DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []allocation.Run
	for rows.Next() {
		var run allocation.Run
		var startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&run.Period, &run.Credited, &run.Points,
			&run.Skipped, &run.Failed, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.StartedAt, _ = time.Parse(timeFormat, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(timeFormat, completedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// EMPLOYEE DIRECTORY (allocation.Directory interface)
// =============================================================================

// SaveEmployee creates or updates a directory entry.
func (s *Store) SaveEmployee(ctx context.Context, emp allocation.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, role_id, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role_id = excluded.role_id,
			active = excluded.active
	`

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, emp.RoleID, emp.Active,
		time.Now().UTC().Format(timeFormat))
	return err
}

// GetEmployee retrieves a directory entry, nil when missing.
func (s *Store) GetEmployee(ctx context.Context, id points.EmployeeID) (*allocation.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var emp allocation.Employee
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, role_id, active FROM employees WHERE id = ?",
		id,
	).Scan(&emp.ID, &emp.Name, &emp.RoleID, &emp.Active)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

// ListEmployees returns all directory entries.
func (s *Store) ListEmployees(ctx context.Context) ([]allocation.Employee, error) {
	return s.listEmployees(ctx, "SELECT id, name, role_id, active FROM employees ORDER BY name")
}

// ListActiveEmployees returns the population the allocation engine credits.
func (s *Store) ListActiveEmployees(ctx context.Context) ([]allocation.Employee, error) {
	return s.listEmployees(ctx, "SELECT id, name, role_id, active FROM employees WHERE active = TRUE ORDER BY id")
}

func (s *Store) listEmployees(ctx context.Context, query string) ([]allocation.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []allocation.Employee
	for rows.Next() {
		var emp allocation.Employee
		if err := rows.Scan(&emp.ID, &emp.Name, &emp.RoleID, &emp.Active); err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "conversion_requests", "conversion_rules", "role_rules", "allocation_runs", "employees"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
