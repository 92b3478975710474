package pipeline

import (
	"context"
	"errors"

	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/internal/training"
	"github.com/feichai0017/document-trainer/pkg/queue"
)

// ErrInvalidConfig marks threshold updates that fail validation.
var ErrInvalidConfig = errors.New("invalid training config")

// SubmitReceipt identifies the queued task and the document record the event
// will produce.
type SubmitReceipt struct {
	TaskID     string `json:"taskId"`
	DocumentID string `json:"documentId"`
}

// Service 训练管道服务接口
type Service interface {
	// SubmitUploadEvent queues one upload event for asynchronous processing.
	SubmitUploadEvent(ctx context.Context, event models.UploadEvent) (*SubmitReceipt, error)
	// SubmitUploadBatch queues several upload events concurrently.
	SubmitUploadBatch(ctx context.Context, events []models.UploadEvent) ([]*SubmitReceipt, error)
	// ProcessUploadEvent runs one full processing cycle: identity check,
	// classification, record write and threshold evaluation.
	ProcessUploadEvent(ctx context.Context, event models.UploadEvent) (*models.CycleResult, error)
	// HandleIngestTask is the queue worker entry point for ingest tasks.
	HandleIngestTask(ctx context.Context, task *queue.Task) error

	GetTaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error)
	GetDocument(ctx context.Context, documentID string) (*models.DocumentRecord, error)

	// EvaluateThreshold reports what the evaluator would decide right now.
	// It never triggers training.
	EvaluateThreshold(ctx context.Context, processorID string) (*training.Decision, error)
	GetTrainingConfig(ctx context.Context, processorID string) (*models.TrainingConfig, error)
	UpdateTrainingConfig(ctx context.Context, cfg *models.TrainingConfig) (*models.TrainingConfig, error)

	GetBatch(ctx context.Context, batchID string) (*models.TrainingBatch, error)
	ListBatches(ctx context.Context, processorID string, limit int) ([]*models.TrainingBatch, error)
	// ReconcileStaleBatches releases active batches whose external workflow
	// stopped reporting.
	ReconcileStaleBatches(ctx context.Context, processorID string) (int, error)
}
