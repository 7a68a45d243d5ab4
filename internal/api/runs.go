package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/google/uuid"
)

// Run kinds
const (
	RunKindSimulation = "simulation"
	RunKindComparison = "comparison"
)

// RunRecord is one stored simulate or compare result.
type RunRecord struct {
	ID        string                    `json:"id"`
	Kind      string                    `json:"kind"`
	Created   time.Time                 `json:"created"`
	Seed      uint64                    `json:"seed"`
	Optimal   *types.OptimizationResult `json:"optimal,omitempty"`
	Outcomes  []types.StrategyOutcome   `json:"outcomes"`
	Duration  time.Duration             `json:"duration"`
	KeptPaths int                       `json:"keptPaths"`
}

// Outcome returns the named outcome, or the first one when name is empty.
func (r *RunRecord) Outcome(name string) (*types.StrategyOutcome, error) {
	if len(r.Outcomes) == 0 {
		return nil, fmt.Errorf("%w: run %s has no outcomes", ErrRunNotFound, r.ID)
	}
	if name == "" {
		return &r.Outcomes[0], nil
	}
	for i := range r.Outcomes {
		if r.Outcomes[i].Name == name {
			return &r.Outcomes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: run %s has no strategy %q", ErrRunNotFound, r.ID, name)
}

// RunSummary is the listing form of a RunRecord.
type RunSummary struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Created    time.Time `json:"created"`
	Seed       uint64    `json:"seed"`
	Strategies []string  `json:"strategies"`
}

// RunStore keeps the most recent runs in memory. Once full, the oldest run
// is evicted.
type RunStore struct {
	mu    sync.RWMutex
	max   int
	runs  map[string]*RunRecord
	order []string
}

// NewRunStore creates a store holding at most max runs. max <= 0 means 100.
func NewRunStore(max int) *RunStore {
	if max <= 0 {
		max = 100
	}
	return &RunStore{
		max:  max,
		runs: make(map[string]*RunRecord),
	}
}

// Put assigns an ID and stores rec.
func (s *RunStore) Put(rec *RunRecord) string {
	rec.ID = uuid.New().String()
	if rec.Created.IsZero() {
		rec.Created = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.order) >= s.max {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	s.runs[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec.ID
}

// Get returns the run with the given ID.
func (s *RunStore) Get(id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rec, nil
}

// List returns summaries of the stored runs, oldest first.
func (s *RunStore) List() []RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunSummary, 0, len(s.order))
	for _, id := range s.order {
		rec := s.runs[id]
		names := make([]string, len(rec.Outcomes))
		for i, o := range rec.Outcomes {
			names[i] = o.Name
		}
		out = append(out, RunSummary{
			ID:         rec.ID,
			Kind:       rec.Kind,
			Created:    rec.Created,
			Seed:       rec.Seed,
			Strategies: names,
		})
	}
	return out
}

// Len returns the number of stored runs.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
