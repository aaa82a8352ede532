// Package store declares interfaces for persisting acquisition outcomes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("outcome record not found")

// Outcome records how far one entry got through the acquisition chain.
type Outcome struct {
	// RunID groups every outcome written by one pipeline run.
	RunID uuid.UUID
	// EntryKey is the entry's relative storage key.
	EntryKey string
	// EntryURL is the link the entry was derived from.
	EntryURL string
	// Completed is true when every stage succeeded.
	Completed bool
	// StoppedAt names the first failing stage; empty when Completed.
	StoppedAt string
	// ErrorText is the stopping stage's error message.
	ErrorText string
	// RecordedAt is when the entry finished processing.
	RecordedAt time.Time
}

// OutcomeRepository persists per-entry outcomes.
type OutcomeRepository interface {
	// RecordOutcome appends one outcome row.
	RecordOutcome(ctx context.Context, outcome Outcome) error
	// ListOutcomes returns the outcomes of a run in recording order.
	ListOutcomes(ctx context.Context, runID uuid.UUID) ([]Outcome, error)
}
