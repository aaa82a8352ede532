// Package pipeline drives each catalog entry through an ordered chain of
// acquisition stages, stopping an entry at its first failing stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/clock/system"
	"github.com/JakeFAU/suitesparse-dataset/internal/catalog"
	"github.com/JakeFAU/suitesparse-dataset/internal/metrics"
	"github.com/JakeFAU/suitesparse-dataset/internal/store"
)

// Stage names used by the acquisition chain.
const (
	StageFetch   = "fetch"
	StageFilter  = "filter"
	StageExtract = "extract"
)

// ErrRejected marks an entry the size filter excluded. It is a policy
// decision rather than a failure, but it stops the chain all the same.
var ErrRejected = errors.New("entry rejected by size filter")

// Stage is one named step of the chain.
type Stage struct {
	Name string
	Run  func(ctx context.Context, e catalog.Entry) error
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Summary counts how a run ended for its entries.
type Summary struct {
	RunID     uuid.UUID
	Entries   int
	Completed int
	// StoppedAt counts entries by the stage that stopped them.
	StoppedAt map[string]int
}

// Pipeline runs stages over entries sequentially.
type Pipeline struct {
	stages   []Stage
	recorder store.OutcomeRepository
	ids      IDGenerator
	logger   *zap.Logger
	now      func() time.Time
}

// New builds a Pipeline. recorder may be nil, in which case outcomes are only
// logged and counted.
func New(stages []Stage, recorder store.OutcomeRepository, ids IDGenerator, logger *zap.Logger) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	for i, s := range stages {
		if s.Name == "" || s.Run == nil {
			return nil, fmt.Errorf("stage %d is incomplete", i)
		}
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		stages:   stages,
		recorder: recorder,
		ids:      ids,
		logger:   logger,
		now:      system.New().Now,
	}, nil
}

// Run processes every entry in order. A failing stage only skips the rest of
// that entry's chain; the returned error is reserved for ctx cancellation and
// outcome-recording failures.
func (p *Pipeline) Run(ctx context.Context, entries []catalog.Entry) (Summary, error) {
	runID, err := p.ids.NewRawID()
	if err != nil {
		return Summary{}, fmt.Errorf("new run id: %w", err)
	}
	summary := Summary{RunID: runID, StoppedAt: make(map[string]int)}
	logger := p.logger.With(zap.String("run_id", runID.String()))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		stoppedAt, stageErr := p.runEntry(ctx, e)
		summary.Entries++
		metrics.ObserveEntry(stoppedAt)
		if stoppedAt == "" {
			summary.Completed++
			logger.Debug("entry acquired", zap.String("key", e.Key))
		} else {
			summary.StoppedAt[stoppedAt]++
			logger.Debug("entry skipped",
				zap.String("key", e.Key),
				zap.String("stage", stoppedAt),
				zap.Error(stageErr),
			)
		}
		if err := p.record(ctx, runID, e, stoppedAt, stageErr); err != nil {
			return summary, err
		}
	}
	logger.Info("acquisition finished",
		zap.Int("entries", summary.Entries),
		zap.Int("completed", summary.Completed),
		zap.Any("stopped_at", summary.StoppedAt),
	)
	return summary, nil
}

// runEntry returns the name of the first failing stage and its error, or
// an empty name when every stage succeeded.
func (p *Pipeline) runEntry(ctx context.Context, e catalog.Entry) (string, error) {
	for _, s := range p.stages {
		if err := runStage(ctx, s, e); err != nil {
			metrics.ObserveStage(s.Name, metrics.ResultSkipped)
			return s.Name, err
		}
		metrics.ObserveStage(s.Name, metrics.ResultOK)
	}
	return "", nil
}

func runStage(ctx context.Context, s Stage, e catalog.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", s.Name, r)
		}
	}()
	return s.Run(ctx, e)
}

func (p *Pipeline) record(ctx context.Context, runID uuid.UUID, e catalog.Entry, stoppedAt string, stageErr error) error {
	if p.recorder == nil {
		return nil
	}
	outcome := store.Outcome{
		RunID:      runID,
		EntryKey:   e.Key,
		EntryURL:   e.URL,
		Completed:  stoppedAt == "",
		StoppedAt:  stoppedAt,
		RecordedAt: p.now(),
	}
	if stageErr != nil {
		outcome.ErrorText = stageErr.Error()
	}
	if err := p.recorder.RecordOutcome(ctx, outcome); err != nil {
		return fmt.Errorf("record outcome for %s: %w", e.Key, err)
	}
	return nil
}
