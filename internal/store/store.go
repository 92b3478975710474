package store

import (
	"context"
	"errors"
	"time"

	"github.com/feichai0017/document-trainer/internal/models"
)

// ErrNotFound is returned when a document, config or batch does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the durable coordination point shared by every pipeline
// invocation. CreateDocument and ReserveBatch must be conditional writes:
// they are what keep duplicate upload events and concurrent threshold
// crossings from double-processing.
type Store interface {
	// EnsureSchema bootstraps tables and indexes. Safe to call from every
	// binary at startup.
	EnsureSchema(ctx context.Context) error

	GetDocument(ctx context.Context, documentID string) (*models.DocumentRecord, error)
	// CreateDocument inserts the record if absent. inserted=false means a
	// record with the same ID already existed and nothing was written.
	CreateDocument(ctx context.Context, rec *models.DocumentRecord) (inserted bool, err error)
	ListDocumentsByStatus(ctx context.Context, processorID string, status models.DocumentStatus, limit int) ([]*models.DocumentRecord, error)
	// ListTrainableDocuments returns the labeled candidate pool for a
	// training type: pending_initial_training documents for an initial run,
	// unused completed documents for an incremental one. Documents without
	// a document type are never trainable.
	ListTrainableDocuments(ctx context.Context, processorID string, trainingType models.TrainingType, limit int) ([]*models.DocumentRecord, error)
	// MarkDocumentLabeled moves a document to labeled. The update is gated
	// on the current status so a replayed batch cannot rewind records.
	MarkDocumentLabeled(ctx context.Context, documentID, labeledPath string, at time.Time) error
	// MarkDocumentsImported moves labeled documents to imported and flips
	// used_for_training. Returns how many rows actually transitioned.
	MarkDocumentsImported(ctx context.Context, documentIDs []string, importOperation string, at time.Time) (int, error)
	CountPendingInitial(ctx context.Context, processorID string) (int, error)
	CountUnusedCompleted(ctx context.Context, processorID string) (int, error)
	// LabelDistribution counts the trainable candidate pool per label.
	LabelDistribution(ctx context.Context, processorID string) (map[string]int, error)

	// GetTrainingConfig returns the per-processor thresholds, creating the
	// row with defaults on first touch.
	GetTrainingConfig(ctx context.Context, processorID string) (*models.TrainingConfig, error)
	UpdateTrainingConfig(ctx context.Context, cfg *models.TrainingConfig) error

	HasActiveBatch(ctx context.Context, processorID string) (bool, error)
	// ReserveBatch atomically creates the batch row unless the processor
	// already has an active batch. won=false means another invocation holds
	// the slot and nothing was written.
	ReserveBatch(ctx context.Context, batch *models.TrainingBatch) (won bool, err error)
	UpdateBatchStatus(ctx context.Context, batchID string, status models.BatchStatus) error
	// FailBatch releases the training slot, recording why.
	FailBatch(ctx context.Context, batchID, reason string) error
	// CompleteBatchImport records a successful dataset import hand-off.
	CompleteBatchImport(ctx context.Context, batchID, importOperation string, documentCount int) error
	GetBatch(ctx context.Context, batchID string) (*models.TrainingBatch, error)
	ListBatches(ctx context.Context, processorID string, limit int) ([]*models.TrainingBatch, error)
	// ReleaseStaleBatches fails active batches not touched since the cutoff,
	// freeing the training slot after an external workflow died silently.
	ReleaseStaleBatches(ctx context.Context, processorID string, updatedBefore time.Time) (int, error)

	Close() error
}
