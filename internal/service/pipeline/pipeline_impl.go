package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/document-trainer/config"
	"github.com/feichai0017/document-trainer/internal/classifier"
	"github.com/feichai0017/document-trainer/internal/labeling"
	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/internal/preflight"
	"github.com/feichai0017/document-trainer/internal/store"
	"github.com/feichai0017/document-trainer/internal/store/postgres"
	"github.com/feichai0017/document-trainer/internal/training"
	"github.com/feichai0017/document-trainer/pkg/converters"
	"github.com/feichai0017/document-trainer/pkg/logger"
	"github.com/feichai0017/document-trainer/pkg/queue"
	"github.com/feichai0017/document-trainer/pkg/storage"
)

// PDFChecker validates PDF content before any record is written for it.
type PDFChecker interface {
	Inspect(content []byte) (*preflight.Result, error)
}

// Deps 管道服务依赖
type Deps struct {
	Store      store.Store
	Classifier classifier.Classifier
	Blob       storage.Storage
	Queue      queue.Queue
	Labeler    *labeling.Labeler
	Preflight  PDFChecker
	Evaluator  *training.Evaluator
	Trigger    *training.Trigger
}

// Config 管道服务配置
type Config struct {
	// ProcessorID is the classifier processor every record belongs to.
	ProcessorID string
	// RootPrefix scopes ingestion to objects under this folder.
	RootPrefix string
	// MinRelabelConfidence gates replacing an OTHER label with the model
	// prediction.
	MinRelabelConfidence float32
	// StaleBatchAge is how old an active batch must be before reconciliation
	// releases it.
	StaleBatchAge time.Duration
}

type PipelineService struct {
	store      store.Store
	classifier classifier.Classifier
	blob       storage.Storage
	queue      queue.Queue
	labeler    *labeling.Labeler
	preflight  PDFChecker
	evaluator  *training.Evaluator
	trigger    *training.Trigger
	cfg        Config
	logger     logger.Logger
}

func NewService(deps Deps, cfg Config, log logger.Logger) Service {
	return &PipelineService{
		store:      deps.Store,
		classifier: deps.Classifier,
		blob:       deps.Blob,
		queue:      deps.Queue,
		labeler:    deps.Labeler,
		preflight:  deps.Preflight,
		evaluator:  deps.Evaluator,
		trigger:    deps.Trigger,
		cfg:        cfg,
		logger:     log,
	}
}

// GetService wires the service from the environment configuration.
func GetService(log logger.Logger) (Service, error) {
	gcpCfg := config.GetGCPConfig()
	pipeCfg := config.GetPipelineConfig()
	pgCfg := config.GetPostgresConfig()

	db, err := postgres.Open(pgCfg.DSN, pgCfg.MaxOpenConns, pgCfg.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	st := postgres.New(db)
	if err := st.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	blob, err := storage.NewStorage(storage.StorageType(pipeCfg.StorageType), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	cls, err := classifier.NewDocAI(context.Background(), gcpCfg.ProjectID, gcpCfg.Location, log, config.GoogleClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}

	q, err := queue.GetQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	var rules []labeling.KeywordRule
	if pipeCfg.KeywordTablePath != "" {
		rules, err = labeling.LoadKeywordRules(pipeCfg.KeywordTablePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load keyword table: %w", err)
		}
	}

	trainCfg := training.Config{
		OCRProcessorID:     gcpCfg.OCRProcessorID,
		Location:           gcpCfg.Location,
		Bucket:             gcpCfg.BucketName,
		ArtifactPrefix:     pipeCfg.ArtifactPrefix,
		TrainingSplitRatio: pipeCfg.TrainingSplitRatio,
		BatchLimit:         pipeCfg.BatchLimit,
	}
	builder := training.NewBuilder(st, cls, blob, converters.NewJSONConverter(), trainCfg, log)

	deps := Deps{
		Store:      st,
		Classifier: cls,
		Blob:       blob,
		Queue:      q,
		Labeler:    labeling.NewLabeler(pipeCfg.RootPrefix, rules),
		Preflight:  preflight.NewChecker(pipeCfg.MaxPageCount),
		Evaluator:  training.NewEvaluator(st, log),
		Trigger:    training.NewTrigger(st, cls, q, builder, blob, trainCfg, log),
	}
	cfg := Config{
		ProcessorID:          gcpCfg.ClassifierProcessorID,
		RootPrefix:           pipeCfg.RootPrefix,
		MinRelabelConfidence: pipeCfg.MinRelabelConfidence,
		StaleBatchAge:        pipeCfg.StaleBatchAge,
	}

	return NewService(deps, cfg, log), nil
}

// SubmitUploadEvent 将上传事件加入处理队列
func (s *PipelineService) SubmitUploadEvent(ctx context.Context, event models.UploadEvent) (*SubmitReceipt, error) {
	if event.Bucket == "" || event.Name == "" {
		return nil, fmt.Errorf("upload event needs bucket and name")
	}

	task, err := queue.NewIngestTask(event)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Error("Failed to enqueue ingest task",
			logger.String("object", event.Name),
			logger.Error(err))
		return nil, fmt.Errorf("failed to enqueue ingest task: %w", err)
	}

	initial := &queue.TaskStatus{
		TaskID:    task.ID,
		Status:    queue.StatusPending,
		StartedAt: task.CreatedAt,
	}
	if err := s.queue.SaveFinalStatus(ctx, initial); err != nil {
		s.logger.Error("Failed to save initial status",
			logger.String("taskId", task.ID),
			logger.Error(err))
	}

	s.logger.Info("Upload event queued",
		logger.String("taskId", task.ID),
		logger.String("bucket", event.Bucket),
		logger.String("object", event.Name))

	return &SubmitReceipt{
		TaskID:     task.ID,
		DocumentID: labeling.ComputeDocumentID(event.Name),
	}, nil
}

// SubmitUploadBatch 批量提交上传事件
func (s *PipelineService) SubmitUploadBatch(ctx context.Context, events []models.UploadEvent) ([]*SubmitReceipt, error) {
	receipts := make([]*SubmitReceipt, len(events))

	g, ctx := errgroup.WithContext(ctx)
	for i, event := range events {
		i, event := i, event
		g.Go(func() error {
			receipt, err := s.SubmitUploadEvent(ctx, event)
			if err != nil {
				return fmt.Errorf("failed to queue event %s: %w", event.Name, err)
			}
			receipts[i] = receipt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return receipts, nil
}

// ProcessUploadEvent 执行一次完整的处理周期
// The cycle is: scope filter, identity check, preflight, labeling, optional
// classification, record write, threshold evaluation and training trigger.
// A non-nil error is returned only for transient failures before the record
// was written, so the queue can redeliver the event; decided outcomes come
// back as a CycleResult with a nil error.
func (s *PipelineService) ProcessUploadEvent(ctx context.Context, event models.UploadEvent) (*models.CycleResult, error) {
	log := s.logger.With(
		logger.String("bucket", event.Bucket),
		logger.String("object", event.Name))

	if !strings.HasPrefix(event.Name, s.cfg.RootPrefix) || !event.IsPDF() {
		log.Debug("Skipping object outside the pipeline scope")
		return &models.CycleResult{
			Status: models.CycleSkipped,
			Reason: "not a pdf under the document root",
		}, nil
	}

	documentID := labeling.ComputeDocumentID(event.Name)
	log = log.With(logger.String("documentId", documentID))

	// 幂等性检查：同一对象的重复事件直接跳过
	existing, err := s.store.GetDocument(ctx, documentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return s.cycleError(log, documentID, "failed to check for an existing record", err)
	}
	if existing != nil {
		log.Info("Document already processed; skipping",
			logger.String("status", string(existing.Status)))
		return &models.CycleResult{
			Status:         models.CycleAlreadyProcessed,
			DocumentID:     existing.DocumentID,
			DocumentType:   existing.DocumentType,
			DocumentStatus: existing.Status,
		}, nil
	}

	obj, err := s.blob.Get(ctx, event.Bucket, event.Name)
	if err != nil {
		return s.cycleError(log, documentID, "failed to fetch document", err)
	}
	content, err := io.ReadAll(obj)
	obj.Close()
	if err != nil {
		return s.cycleError(log, documentID, "failed to read document", err)
	}

	inspection, err := s.preflight.Inspect(content)
	if err != nil {
		log.Warn("Document rejected by preflight", logger.Error(err))
		return &models.CycleResult{
			Status:     models.CycleRejected,
			DocumentID: documentID,
			Reason:     err.Error(),
		}, nil
	}

	now := time.Now().UTC()
	rec := &models.DocumentRecord{
		DocumentID:   documentID,
		GCSURI:       s.blob.URI(event.Bucket, event.Name),
		FileName:     path.Base(event.Name),
		DocumentType: s.labeler.DeriveLabel(event.Name),
		ProcessorID:  s.cfg.ProcessorID,
		PageCount:    inspection.PageCount,
		CreatedAt:    now,
	}

	var classifyErr error
	hasVersion, err := s.classifier.HasDeployedVersion(ctx, s.cfg.ProcessorID)
	if err != nil {
		// Treating the processor as untrained parks the document in the
		// initial pool rather than losing the event.
		log.Warn("Deployed-version probe failed; treating processor as untrained", logger.Error(err))
		hasVersion = false
	}
	if !hasVersion {
		rec.Status = models.StatusPendingInitialTraining
	} else {
		classification, err := s.classifier.ProcessURI(ctx, s.cfg.ProcessorID, rec.GCSURI)
		if err != nil {
			log.Error("Classification failed; parking document for replay", logger.Error(err))
			rec.Status = models.StatusPendingLabeling
			classifyErr = err
		} else {
			rec.Status = models.StatusCompleted
			rec.PredictedType = classification.PredictedType
			rec.PredictionConfidence = classification.Confidence
			rec.ProcessedAt = &now
			if rec.DocumentType == models.LabelOther && classification.PredictedType != "" &&
				classification.Confidence >= s.cfg.MinRelabelConfidence {
				rec.DocumentType = labeling.NormalizeLabel(classification.PredictedType)
				log.Info("Relabeled document from prediction",
					logger.String("label", rec.DocumentType),
					logger.Float32("confidence", classification.Confidence))
			}
		}
	}

	inserted, err := s.store.CreateDocument(ctx, rec)
	if err != nil {
		return s.cycleError(log, documentID, "failed to persist document", err)
	}
	if !inserted {
		log.Info("Document was recorded by a concurrent invocation")
		return &models.CycleResult{
			Status:         models.CycleAlreadyProcessed,
			DocumentID:     documentID,
			DocumentType:   rec.DocumentType,
			DocumentStatus: rec.Status,
		}, nil
	}
	log.Info("Document recorded",
		logger.String("label", rec.DocumentType),
		logger.String("status", string(rec.Status)),
		logger.Int("pageCount", rec.PageCount))

	result := &models.CycleResult{
		Status:         models.CycleQueued,
		DocumentID:     documentID,
		DocumentType:   rec.DocumentType,
		DocumentStatus: rec.Status,
	}
	if classifyErr != nil {
		result.Reason = "classification_failed"
		result.Error = classifyErr.Error()
	}

	decision, err := s.evaluator.Evaluate(ctx, s.cfg.ProcessorID)
	if err != nil {
		// The document is safely recorded; the next event re-evaluates.
		log.Error("Threshold evaluation failed", logger.Error(err))
		result.Reason = "threshold_evaluation_failed"
		result.Error = err.Error()
		return result, nil
	}
	if !decision.Train {
		if result.Reason == "" {
			result.Reason = decision.Reason
		}
		return result, nil
	}

	batch, err := s.trigger.Run(ctx, s.cfg.ProcessorID, decision)
	if errors.Is(err, training.ErrBatchActive) {
		// Another invocation won the slot; this document rides along with
		// that batch.
		result.Reason = training.ReasonBatchActive
		return result, nil
	}
	if err != nil {
		result.Status = models.CycleError
		result.Reason = "training_trigger_failed"
		result.Error = err.Error()
		if batch != nil {
			result.BatchID = batch.BatchID
			result.TrainingType = batch.TrainingType
			result.ImportOperation = batch.ImportOperation
			result.BatchSize = batch.DocumentCount
		}
		return result, nil
	}

	result.Status = models.CycleBatchTriggered
	result.Reason = decision.Reason
	result.BatchID = batch.BatchID
	result.TrainingType = batch.TrainingType
	result.ImportOperation = batch.ImportOperation
	result.BatchSize = batch.DocumentCount
	return result, nil
}

// cycleError reports a transient failure. The non-nil error drives queue
// redelivery; the result is what gets saved as the task status.
func (s *PipelineService) cycleError(log logger.Logger, documentID, cause string, err error) (*models.CycleResult, error) {
	log.Error("Processing cycle aborted", logger.String("cause", cause), logger.Error(err))
	return &models.CycleResult{
		Status:     models.CycleError,
		DocumentID: documentID,
		Reason:     cause,
		Error:      err.Error(),
	}, fmt.Errorf("%s: %w", cause, err)
}

// HandleIngestTask 处理摄取任务
func (s *PipelineService) HandleIngestTask(ctx context.Context, task *queue.Task) error {
	if task == nil || len(task.Payload) == 0 {
		return fmt.Errorf("invalid task: missing payload")
	}

	var payload queue.IngestPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		s.saveFinalStatus(ctx, &queue.TaskStatus{
			TaskID:     task.ID,
			Status:     queue.StatusFailed,
			Error:      err.Error(),
			StartedAt:  task.CreatedAt,
			FinishedAt: time.Now().UTC(),
		})
		return fmt.Errorf("failed to unmarshal ingest payload: %w", err)
	}

	result, procErr := s.ProcessUploadEvent(ctx, payload.Event)

	status := &queue.TaskStatus{
		TaskID:     task.ID,
		Status:     queue.StatusCompleted,
		Result:     result,
		StartedAt:  task.CreatedAt,
		FinishedAt: time.Now().UTC(),
	}
	if procErr != nil {
		status.Status = queue.StatusFailed
		status.Error = procErr.Error()
	}
	s.saveFinalStatus(ctx, status)

	// A non-nil error hands the task back for redelivery; decided outcomes
	// are final.
	return procErr
}

func (s *PipelineService) saveFinalStatus(ctx context.Context, status *queue.TaskStatus) {
	if err := s.queue.SaveFinalStatus(ctx, status); err != nil {
		s.logger.Error("Failed to save final status",
			logger.String("taskId", status.TaskID),
			logger.Error(err))
	}
}

// GetTaskStatus 获取任务状态
func (s *PipelineService) GetTaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error) {
	return s.queue.GetTaskStatus(ctx, taskID)
}

// GetDocument 获取文档记录
func (s *PipelineService) GetDocument(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	return s.store.GetDocument(ctx, documentID)
}

// EvaluateThreshold 只读评估当前阈值状态
func (s *PipelineService) EvaluateThreshold(ctx context.Context, processorID string) (*training.Decision, error) {
	return s.evaluator.Evaluate(ctx, processorID)
}

// GetTrainingConfig 获取训练配置
func (s *PipelineService) GetTrainingConfig(ctx context.Context, processorID string) (*models.TrainingConfig, error) {
	return s.store.GetTrainingConfig(ctx, processorID)
}

// UpdateTrainingConfig 更新训练配置
func (s *PipelineService) UpdateTrainingConfig(ctx context.Context, cfg *models.TrainingConfig) (*models.TrainingConfig, error) {
	if cfg == nil || cfg.ProcessorID == "" {
		return nil, fmt.Errorf("%w: processor id is required", ErrInvalidConfig)
	}
	if cfg.MinInitial < 1 || cfg.MinIncremental < 1 {
		return nil, fmt.Errorf("%w: thresholds must be at least 1", ErrInvalidConfig)
	}

	cfg.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateTrainingConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to update training config: %w", err)
	}
	return s.store.GetTrainingConfig(ctx, cfg.ProcessorID)
}

// GetBatch 获取训练批次
func (s *PipelineService) GetBatch(ctx context.Context, batchID string) (*models.TrainingBatch, error) {
	return s.store.GetBatch(ctx, batchID)
}

// ListBatches 列出处理器的训练批次
func (s *PipelineService) ListBatches(ctx context.Context, processorID string, limit int) ([]*models.TrainingBatch, error) {
	return s.store.ListBatches(ctx, processorID, limit)
}

// ReconcileStaleBatches 释放卡死的训练批次
func (s *PipelineService) ReconcileStaleBatches(ctx context.Context, processorID string) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleBatchAge)
	released, err := s.store.ReleaseStaleBatches(ctx, processorID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale batches: %w", err)
	}
	if released > 0 {
		s.logger.Warn("Released stale training batches",
			logger.String("processorId", processorID),
			logger.Int("released", released))
	}
	return released, nil
}
