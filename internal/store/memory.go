package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nvandessel/pdpsim/internal/simulation"
)

type memoryEntry struct {
	meta       Experiment
	aggregates []Aggregate
	runMetrics []RunMetric
}

// MemoryStore implements Store in memory for tests and MCP sessions without
// a database.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{experiments: make(map[string]memoryEntry)}
}

// SaveExperiment implements Store.
func (s *MemoryStore) SaveExperiment(ctx context.Context, meta Experiment, exp *simulation.Experiment, agg simulation.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta.ID == "" {
		return fmt.Errorf("experiment ID is required")
	}
	if _, exists := s.experiments[meta.ID]; exists {
		return fmt.Errorf("experiment %s already exists", meta.ID)
	}

	meta.PDPs = append([]string(nil), meta.PDPs...)
	s.experiments[meta.ID] = memoryEntry{
		meta:       meta,
		aggregates: AggregateRows(agg),
		runMetrics: runMetricRows(exp),
	}
	return nil
}

// ListExperiments implements Store.
func (s *MemoryStore) ListExperiments(ctx context.Context, limit int) ([]Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Experiment, 0, len(s.experiments))
	for _, e := range s.experiments {
		out = append(out, e.meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetExperiment implements Store.
func (s *MemoryStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	meta := e.meta
	return &meta, nil
}

// Aggregates implements Store.
func (s *MemoryStore) Aggregates(ctx context.Context, id string) ([]Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Aggregate(nil), s.experiments[id].aggregates...), nil
}

// RunMetrics implements Store.
func (s *MemoryStore) RunMetrics(ctx context.Context, id string) ([]RunMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RunMetric(nil), s.experiments[id].runMetrics...), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
