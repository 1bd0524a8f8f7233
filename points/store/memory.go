// Package store provides points.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/incentive-engine/points"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[points.EmployeeID][]points.Transaction
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[points.EmployeeID][]points.Transaction),
		idempotency:  make(map[string]bool),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx points.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []points.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first (atomic check), including
	// duplicates within the batch itself, so nothing persists on failure.
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
			return points.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}

	for _, tx := range txs {
		if err := m.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(tx points.Transaction) error {
	if tx.IdempotencyKey != "" {
		if m.idempotency[tx.IdempotencyKey] {
			return points.ErrDuplicateIdempotencyKey
		}
		m.idempotency[tx.IdempotencyKey] = true
	}
	m.transactions[tx.EmployeeID] = append(m.transactions[tx.EmployeeID], tx)
	return nil
}

func (m *Memory) Load(_ context.Context, employeeID points.EmployeeID) ([]points.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]points.Transaction, len(m.transactions[employeeID]))
	copy(result, m.transactions[employeeID])
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) LoadPage(_ context.Context, employeeID points.EmployeeID, page, pageSize int, typeFilter points.TransactionType) ([]points.Transaction, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []points.Transaction
	for _, tx := range m.transactions[employeeID] {
		if typeFilter == "" || tx.Type == typeFilter {
			filtered = append(filtered, tx)
		}
	}

	// Newest first; ID ties keep the ordering stable across pages.
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID > filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	result := make([]points.Transaction, end-start)
	copy(result, filtered[start:end])
	return result, total, nil
}

func (m *Memory) BalanceOf(_ context.Context, employeeID points.EmployeeID) (points.LedgerSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summary points.LedgerSummary
	for _, tx := range m.transactions[employeeID] {
		summary.Total += tx.Value
		summary.TxCount++
		if tx.CreatedAt.After(summary.LastAt) {
			summary.LastAt = tx.CreatedAt
		}
	}
	return summary, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}
