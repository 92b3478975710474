package training

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/internal/store/storetest"
	"github.com/feichai0017/document-trainer/pkg/logger"
)

const testProcessor = "proc-eval"

func seedDocuments(st *storetest.Store, status models.DocumentStatus, docType string, n int) {
	for i := 0; i < n; i++ {
		st.SeedDocument(&models.DocumentRecord{
			DocumentID:   fmt.Sprintf("%s-%s-%d", docType, status, i),
			ProcessorID:  testProcessor,
			DocumentType: docType,
			Status:       status,
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func TestEvaluateDisabled(t *testing.T) {
	st := storetest.New()
	st.SeedConfig(&models.TrainingConfig{ProcessorID: testProcessor, Enabled: false, MinInitial: 1, MinIncremental: 1})
	seedDocuments(st, models.StatusPendingInitialTraining, "TAX", 5)

	d, err := NewEvaluator(st, logger.NewTestLogger()).Evaluate(context.Background(), testProcessor)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if d.Train {
		t.Error("disabled config must never train")
	}
	if d.Reason != ReasonDisabled {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonDisabled)
	}
}

func TestEvaluateActiveBatchBlocks(t *testing.T) {
	st := storetest.New()
	seedDocuments(st, models.StatusPendingInitialTraining, "TAX", 5)
	st.SeedBatch(&models.TrainingBatch{
		BatchID:     "batch-1",
		ProcessorID: testProcessor,
		Status:      models.BatchTraining,
	})

	d, err := NewEvaluator(st, logger.NewTestLogger()).Evaluate(context.Background(), testProcessor)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if d.Train || d.Reason != ReasonBatchActive {
		t.Errorf("got train=%v reason=%q, want no training with reason %q", d.Train, d.Reason, ReasonBatchActive)
	}
}

func TestEvaluateTerminalBatchDoesNotBlock(t *testing.T) {
	st := storetest.New()
	seedDocuments(st, models.StatusPendingInitialTraining, "TAX", models.DefaultMinInitial)
	st.SeedBatch(&models.TrainingBatch{
		BatchID:     "batch-1",
		ProcessorID: testProcessor,
		Status:      models.BatchFailed,
	})

	d, err := NewEvaluator(st, logger.NewTestLogger()).Evaluate(context.Background(), testProcessor)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !d.Train {
		t.Errorf("failed batch must not hold the training slot, got reason %q", d.Reason)
	}
}

func TestEvaluateInitialThreshold(t *testing.T) {
	st := storetest.New()
	seedDocuments(st, models.StatusPendingInitialTraining, "CAPITAL_CALL", models.DefaultMinInitial)

	d, err := NewEvaluator(st, logger.NewTestLogger()).Evaluate(context.Background(), testProcessor)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !d.Train || d.TrainingType != models.TrainingInitial {
		t.Fatalf("got train=%v type=%q, want initial training", d.Train, d.TrainingType)
	}
	if d.Reason != ReasonInitialThreshold {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonInitialThreshold)
	}
	if d.PendingCount != models.DefaultMinInitial {
		t.Errorf("PendingCount = %d, want %d", d.PendingCount, models.DefaultMinInitial)
	}
}

func TestEvaluateIncrementalThreshold(t *testing.T) {
	st := storetest.New()
	seedDocuments(st, models.StatusCompleted, "DISTRIBUTION", models.DefaultMinIncremental)

	d, err := NewEvaluator(st, logger.NewTestLogger()).Evaluate(context.Background(), testProcessor)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !d.Train || d.TrainingType != models.TrainingIncremental {
		t.Fatalf("got train=%v type=%q, want incremental training", d.Train, d.TrainingType)
	}
	if d.Reason != ReasonIncrementalThreshold {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonIncrementalThreshold)
	}
	if d.UnusedCount != models.DefaultMinIncremental {
		t.Errorf("UnusedCount = %d, want %d", d.UnusedCount, models.DefaultMinIncremental)
	}
}

func TestEvaluateBelowThreshold(t *testing.T) {
	st := storetest.New()
	seedDocuments(st, models.StatusPendingInitialTraining, "TAX", models.DefaultMinInitial-1)
	seedDocuments(st, models.StatusCompleted, "TAX", models.DefaultMinIncremental-1)

	d, err := NewEvaluator(st, logger.NewTestLogger()).Evaluate(context.Background(), testProcessor)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if d.Train || d.Reason != ReasonBelowThreshold {
		t.Errorf("got train=%v reason=%q, want no training with reason %q", d.Train, d.Reason, ReasonBelowThreshold)
	}
	if d.PendingCount != models.DefaultMinInitial-1 || d.UnusedCount != models.DefaultMinIncremental-1 {
		t.Errorf("counts = %d/%d, want %d/%d", d.PendingCount, d.UnusedCount,
			models.DefaultMinInitial-1, models.DefaultMinIncremental-1)
	}
}

func TestEvaluateInitialTakesPrecedence(t *testing.T) {
	st := storetest.New()
	seedDocuments(st, models.StatusPendingInitialTraining, "TAX", models.DefaultMinInitial)
	seedDocuments(st, models.StatusCompleted, "DISTRIBUTION", models.DefaultMinIncremental+3)

	d, err := NewEvaluator(st, logger.NewTestLogger()).Evaluate(context.Background(), testProcessor)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if d.TrainingType != models.TrainingInitial {
		t.Errorf("TrainingType = %q, want initial while pending documents exist", d.TrainingType)
	}
}

func TestEvaluateReportsLabelDistribution(t *testing.T) {
	st := storetest.New()
	seedDocuments(st, models.StatusPendingInitialTraining, "TAX", 2)
	seedDocuments(st, models.StatusPendingInitialTraining, "CAPITAL_CALL", 1)

	d, err := NewEvaluator(st, logger.NewTestLogger()).Evaluate(context.Background(), testProcessor)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if d.Distribution["TAX"] != 2 || d.Distribution["CAPITAL_CALL"] != 1 {
		t.Errorf("Distribution = %v, want TAX:2 CAPITAL_CALL:1", d.Distribution)
	}
}

func TestEvaluateDistributionFailureIsNotFatal(t *testing.T) {
	st := storetest.New()
	st.DistributionErr = errors.New("distribution query broke")
	seedDocuments(st, models.StatusPendingInitialTraining, "TAX", models.DefaultMinInitial)
	log := logger.NewTestLogger()

	d, err := NewEvaluator(st, log).Evaluate(context.Background(), testProcessor)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !d.Train {
		t.Error("distribution failure must not block the decision")
	}
	if d.Distribution != nil {
		t.Errorf("Distribution = %v, want nil", d.Distribution)
	}
	if !log.Contains("WARN", "label distribution") {
		t.Error("expected a warning about the failed distribution query")
	}
}

func TestEvaluateCountFailure(t *testing.T) {
	st := storetest.New()
	st.CountErr = errors.New("count query broke")

	if _, err := NewEvaluator(st, logger.NewTestLogger()).Evaluate(context.Background(), testProcessor); err == nil {
		t.Fatal("expected error when counting fails")
	}
}
