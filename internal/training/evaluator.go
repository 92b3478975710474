// Package training decides when a processor has accumulated enough labeled
// documents to train, and launches the training batch when a threshold is
// crossed.
package training

import (
	"context"
	"fmt"

	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/internal/store"
	"github.com/feichai0017/document-trainer/pkg/logger"
)

// Decision reasons reported by the evaluator.
const (
	ReasonDisabled             = "disabled"
	ReasonBatchActive          = "batch_active"
	ReasonBelowThreshold       = "below_threshold"
	ReasonInitialThreshold     = "initial_threshold_met"
	ReasonIncrementalThreshold = "incremental_threshold_met"
)

// Decision is the evaluator verdict for one processor.
type Decision struct {
	Train        bool                `json:"train"`
	TrainingType models.TrainingType `json:"trainingType,omitempty"`
	Reason       string              `json:"reason"`
	PendingCount int                 `json:"pendingCount"`
	UnusedCount  int                 `json:"unusedCount"`
	Distribution map[string]int      `json:"labelDistribution,omitempty"`
}

// Evaluator 阈值评估器
type Evaluator struct {
	store  store.Store
	logger logger.Logger
}

func NewEvaluator(st store.Store, log logger.Logger) *Evaluator {
	return &Evaluator{store: st, logger: log}
}

// Evaluate decides whether processorID should train now. Initial training
// takes precedence: while enough documents wait for the first model version,
// the incremental count is not consulted.
func (e *Evaluator) Evaluate(ctx context.Context, processorID string) (*Decision, error) {
	cfg, err := e.store.GetTrainingConfig(ctx, processorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load training config: %w", err)
	}
	if !cfg.Enabled {
		return &Decision{Reason: ReasonDisabled}, nil
	}

	active, err := e.store.HasActiveBatch(ctx, processorID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active batches: %w", err)
	}
	if active {
		return &Decision{Reason: ReasonBatchActive}, nil
	}

	pending, err := e.store.CountPendingInitial(ctx, processorID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending documents: %w", err)
	}
	unused, err := e.store.CountUnusedCompleted(ctx, processorID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unused completed documents: %w", err)
	}

	dist, err := e.store.LabelDistribution(ctx, processorID)
	if err != nil {
		// The distribution is informational; the counts above decide.
		e.logger.Warn("Failed to load label distribution",
			logger.String("processorId", processorID),
			logger.Error(err))
		dist = nil
	}

	decision := &Decision{
		PendingCount: pending,
		UnusedCount:  unused,
		Distribution: dist,
	}
	switch {
	case pending >= cfg.MinInitial:
		decision.Train = true
		decision.TrainingType = models.TrainingInitial
		decision.Reason = ReasonInitialThreshold
	case unused >= cfg.MinIncremental:
		decision.Train = true
		decision.TrainingType = models.TrainingIncremental
		decision.Reason = ReasonIncrementalThreshold
	default:
		decision.Reason = ReasonBelowThreshold
	}

	e.logger.Info("Threshold evaluated",
		logger.String("processorId", processorID),
		logger.Bool("train", decision.Train),
		logger.String("reason", decision.Reason),
		logger.Int("pendingCount", pending),
		logger.Int("unusedCount", unused))

	return decision, nil
}
