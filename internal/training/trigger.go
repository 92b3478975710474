package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/document-trainer/internal/classifier"
	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/internal/store"
	"github.com/feichai0017/document-trainer/pkg/logger"
	"github.com/feichai0017/document-trainer/pkg/queue"
	"github.com/feichai0017/document-trainer/pkg/storage"
)

// ErrBatchActive means another invocation holds the processor's training
// slot. The caller rides along with that batch instead of failing.
var ErrBatchActive = errors.New("training: a batch is already active for this processor")

// DatasetBuilder prepares the labeled artifacts for one training run.
type DatasetBuilder interface {
	Build(ctx context.Context, processorID string, trainingType models.TrainingType) (*BuildResult, error)
}

// Trigger 训练触发器
// It reserves the processor's training slot, builds the dataset, starts the
// import and hands the batch to the external training workflow.
type Trigger struct {
	store      store.Store
	classifier classifier.Classifier
	queue      queue.Queue
	builder    DatasetBuilder
	blob       storage.Storage
	cfg        Config
	logger     logger.Logger
}

func NewTrigger(st store.Store, cls classifier.Classifier, q queue.Queue, builder DatasetBuilder, blob storage.Storage, cfg Config, log logger.Logger) *Trigger {
	return &Trigger{
		store:      st,
		classifier: cls,
		queue:      q,
		builder:    builder,
		blob:       blob,
		cfg:        cfg,
		logger:     log,
	}
}

// Run launches the training batch a positive decision calls for. It returns
// ErrBatchActive when the reservation is lost to a concurrent invocation.
// After the reservation won, the batch row is always returned, including on
// failures, so callers can report its ID.
func (t *Trigger) Run(ctx context.Context, processorID string, decision *Decision) (*models.TrainingBatch, error) {
	if decision == nil || !decision.Train {
		return nil, errors.New("training: decision does not call for training")
	}

	now := time.Now().UTC()
	batch := &models.TrainingBatch{
		BatchID:      uuid.New().String(),
		ProcessorID:  processorID,
		TrainingType: decision.TrainingType,
		Status:       models.BatchPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// The reservation re-checks the active-batch invariant atomically: when
	// two invocations cross the threshold together, exactly one insert wins.
	won, err := t.store.ReserveBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve training batch: %w", err)
	}
	if !won {
		return nil, ErrBatchActive
	}

	log := t.logger.With(
		logger.String("processorId", processorID),
		logger.String("batchId", batch.BatchID),
		logger.String("trainingType", string(decision.TrainingType)))
	log.Info("Training batch reserved")

	if err := t.store.UpdateBatchStatus(ctx, batch.BatchID, models.BatchPreparing); err != nil {
		t.failBatch(ctx, log, batch, "failed to move batch to preparing")
		return batch, fmt.Errorf("failed to update batch status: %w", err)
	}
	batch.Status = models.BatchPreparing

	built, err := t.builder.Build(ctx, processorID, decision.TrainingType)
	if err != nil {
		t.failBatch(ctx, log, batch, fmt.Sprintf("dataset build failed: %v", err))
		return batch, fmt.Errorf("dataset build failed: %w", err)
	}

	// The import consumes every artifact under the prefix, so sweep all
	// currently labeled documents, not only this build's.
	docIDs := built.DocumentIDs
	labeled, err := t.store.ListDocumentsByStatus(ctx, processorID, models.StatusLabeled, 0)
	if err != nil {
		log.Warn("Failed to list labeled documents; marking only this batch", logger.Error(err))
	} else {
		docIDs = make([]string, 0, len(labeled))
		for _, doc := range labeled {
			docIDs = append(docIDs, doc.DocumentID)
		}
	}

	prefixURI := t.blob.URI(t.cfg.Bucket, t.cfg.ArtifactPrefix)
	op, err := t.classifier.ImportDocuments(ctx, processorID, prefixURI, t.cfg.TrainingSplitRatio)
	if err != nil {
		t.failBatch(ctx, log, batch, fmt.Sprintf("dataset import failed: %v", err))
		return batch, fmt.Errorf("dataset import failed: %w", err)
	}

	if _, err := t.store.MarkDocumentsImported(ctx, docIDs, op, time.Now().UTC()); err != nil {
		// The import already started; this needs manual reconciliation, not
		// a rollback.
		log.Error("Import succeeded but marking documents failed", logger.Error(err))
	}
	if err := t.store.CompleteBatchImport(ctx, batch.BatchID, op, len(docIDs)); err != nil {
		log.Error("Import succeeded but completing the batch failed", logger.Error(err))
	}
	batch.Status = models.BatchTraining
	batch.ImportOperation = op
	batch.DocumentCount = len(docIDs)

	// Hand-off comes last: every document and batch mutation above is
	// durable before the external workflow can observe the batch.
	task, err := queue.NewMonitorTask(queue.MonitorPayload{
		ProcessorID:     processorID,
		TrainingType:    decision.TrainingType,
		ImportOperation: op,
		Location:        t.cfg.Location,
		BucketName:      t.cfg.Bucket,
		BatchID:         batch.BatchID,
		TriggeredAt:     time.Now().UTC(),
	})
	if err != nil {
		return batch, fmt.Errorf("failed to build monitor task: %w", err)
	}
	if err := t.queue.Enqueue(ctx, task); err != nil {
		// The batch stays active but unmonitored; stale-batch reconciliation
		// is the compensating path.
		log.Error("Failed to hand off training batch to the monitor workflow", logger.Error(err))
		return batch, fmt.Errorf("failed to enqueue monitor task: %w", err)
	}

	log.Info("Training batch handed off",
		logger.String("importOperation", op),
		logger.Int("documentCount", len(docIDs)))

	return batch, nil
}

func (t *Trigger) failBatch(ctx context.Context, log logger.Logger, batch *models.TrainingBatch, reason string) {
	if err := t.store.FailBatch(ctx, batch.BatchID, reason); err != nil {
		log.Error("Failed to release training batch", logger.Error(err))
		return
	}
	batch.Status = models.BatchFailed
	batch.FailureReason = reason
}
