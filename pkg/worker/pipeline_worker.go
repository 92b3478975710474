package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/document-trainer/internal/service/pipeline"
	"github.com/feichai0017/document-trainer/pkg/logger"
	"github.com/feichai0017/document-trainer/pkg/queue"
)

type PipelineWorker struct {
	BaseWorker
	service pipeline.Service
}

func NewPipelineWorker(cfg *Config, svc pipeline.Service, logger logger.Logger) (*PipelineWorker, error) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &PipelineWorker{
		BaseWorker: BaseWorker{
			server: server,
			mux:    asynq.NewServeMux(),
			logger: logger,
		},
		service: svc,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w, nil
}

func (w *PipelineWorker) registerHandlers() {
	// training:monitor 由外部工作流消费，这里只处理摄取任务
	w.mux.HandleFunc(queue.TaskTypeDocumentIngest, w.handleDocumentIngest)
}

func (w *PipelineWorker) handleDocumentIngest(ctx context.Context, t *asynq.Task) error {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %w", err)
	}

	w.logger.Info("Processing ingest task",
		logger.String("taskId", task.ID),
		logger.Any("metadata", task.Metadata),
	)

	if task.ID == "" || len(task.Payload) == 0 {
		return fmt.Errorf("invalid task data: missing required fields")
	}

	info := t.ResultWriter()
	if _, err := info.Write([]byte(`{"status":"running"}`)); err != nil {
		w.logger.Error("Failed to write task status", logger.Error(err))
	}

	if err := w.service.HandleIngestTask(ctx, &task); err != nil {
		if _, writeErr := info.Write([]byte(fmt.Sprintf(`{"status":"failed","error":%q}`, err.Error()))); writeErr != nil {
			w.logger.Error("Failed to write task failure", logger.Error(writeErr))
		}
		return err
	}

	if _, err := info.Write([]byte(`{"status":"completed"}`)); err != nil {
		w.logger.Error("Failed to write task completion", logger.Error(err))
	}

	return nil
}

func (w *PipelineWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
