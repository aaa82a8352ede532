package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/suitesparse-dataset/internal/store"
)

// OutcomeStore provides an in-memory outcome log for development/testing.
type OutcomeStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID][]store.Outcome
}

// NewOutcomeStore constructs an OutcomeStore.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{runs: make(map[uuid.UUID][]store.Outcome)}
}

// RecordOutcome appends an outcome to its run.
func (s *OutcomeStore) RecordOutcome(_ context.Context, outcome store.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[outcome.RunID] = append(s.runs[outcome.RunID], outcome)
	return nil
}

// ListOutcomes returns a copy of the run's outcomes.
func (s *OutcomeStore) ListOutcomes(_ context.Context, runID uuid.UUID) ([]store.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcomes, ok := s.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]store.Outcome, len(outcomes))
	copy(out, outcomes)
	return out, nil
}
