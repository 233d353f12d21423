// Package store provides CalculationStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/comexflow/encargos/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records []engine.StoredCalculation
	byID    map[string]int
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]int)}
}

// Save appends one record. Append-only: an identical input hash still
// produces a new record.
func (m *Memory) Save(_ context.Context, rec engine.StoredCalculation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID[rec.ID] = len(m.records)
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (engine.StoredCalculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byID[id]
	if !ok {
		return engine.StoredCalculation{}, engine.ErrNotFound
	}
	return m.records[i], nil
}

func (m *Memory) LatestForProcess(_ context.Context, processID string) (engine.StoredCalculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := false
	var latest engine.StoredCalculation
	for _, rec := range m.records {
		if rec.ProcessID != processID {
			continue
		}
		if !found || rec.CalculatedAt.After(latest.CalculatedAt) {
			latest = rec
			found = true
		}
	}
	if !found {
		return engine.StoredCalculation{}, engine.ErrNotFound
	}
	return latest, nil
}

func (m *Memory) List(_ context.Context, opts engine.ListOptions) ([]engine.StoredCalculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.StoredCalculation
	for _, rec := range m.records {
		if opts.ProcessID != "" && rec.ProcessID != opts.ProcessID {
			continue
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CalculatedAt.After(out[j].CalculatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many records were saved. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
