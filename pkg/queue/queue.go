// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	cfg "github.com/feichai0017/document-trainer/config"
	"github.com/feichai0017/document-trainer/internal/models"
)

// TaskType 定义任务类型
const (
	// TaskTypeDocumentIngest runs one upload-event processing cycle.
	TaskTypeDocumentIngest = "document:ingest"
	// TaskTypeTrainingMonitor is the hand-off to the external workflow that
	// monitors, trains and deploys. Nothing in this service consumes it.
	TaskTypeTrainingMonitor = "training:monitor"
)

// Priorities map to the critical/default/low queues.
const (
	PriorityCritical = 1
	PriorityDefault  = 2
	PriorityLow      = 3
)

// Task lifecycle states stored as final status.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrTaskNotFound is returned when neither a saved status nor a queued task
// exists for the ID.
var ErrTaskNotFound = errors.New("queue: task not found")

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	SaveFinalStatus(ctx context.Context, status *TaskStatus) error
}

// Task 定义任务结构
type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// IngestPayload is the body of a document:ingest task.
type IngestPayload struct {
	Event models.UploadEvent `json:"event"`
}

// MonitorPayload is the body of a training:monitor task. Keys are snake_case
// because the consuming workflow is not a Go program.
type MonitorPayload struct {
	ProcessorID     string              `json:"processor_id"`
	TrainingType    models.TrainingType `json:"training_type"`
	ImportOperation string              `json:"import_operation"`
	Location        string              `json:"location"`
	BucketName      string              `json:"bucket_name"`
	BatchID         string              `json:"batch_id"`
	TriggeredAt     time.Time           `json:"triggered_at"`
}

// TaskStatus 定义任务状态
type TaskStatus struct {
	TaskID     string              `json:"taskId"`
	Status     string              `json:"status"`
	Error      string              `json:"error,omitempty"`
	Result     *models.CycleResult `json:"result,omitempty"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt,omitempty"`
}

// NewIngestTask wraps an upload event into a queue task.
func NewIngestTask(event models.UploadEvent) (*Task, error) {
	payload, err := json.Marshal(IngestPayload{Event: event})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ingest payload: %w", err)
	}

	return &Task{
		ID:       uuid.New().String(),
		Type:     TaskTypeDocumentIngest,
		Priority: PriorityDefault,
		Payload:  payload,
		Metadata: map[string]string{
			"bucket": event.Bucket,
			"object": event.Name,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewMonitorTask wraps a training hand-off into a queue task.
func NewMonitorTask(p MonitorPayload) (*Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal monitor payload: %w", err)
	}

	return &Task{
		ID:       uuid.New().String(),
		Type:     TaskTypeTrainingMonitor,
		Priority: PriorityCritical,
		Payload:  payload,
		Metadata: map[string]string{
			"processorId": p.ProcessorID,
			"batchId":     p.BatchID,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// AsynqQueue 实现
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
}

// QueueConfig 定义队列配置
type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MaxRetries     int
	ProcessTimeout time.Duration
}

// GetQueue 获取队列实例
func GetQueue() (*AsynqQueue, error) {
	redisCfg := cfg.GetRedisConfig()
	return NewAsynqQueue(&QueueConfig{
		RedisAddr:      redisCfg.Addr,
		RedisPassword:  redisCfg.Password,
		RedisDB:        redisCfg.DB,
		MaxRetries:     3,
		ProcessTimeout: 30 * time.Minute,
	})
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(config *QueueConfig) (*AsynqQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	}

	// 创建 Redis 客户端
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis:     redisClient,
	}, nil
}

// Enqueue 将任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	// 序列化整个任务
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	// 设置任务选项
	opts := []asynq.Option{
		asynq.ProcessIn(time.Second),
		asynq.MaxRetry(3),
		asynq.Timeout(30 * time.Minute),
		asynq.TaskID(task.ID),
	}

	// 根据优先级选择队列
	switch task.Priority {
	case PriorityCritical:
		opts = append(opts, asynq.Queue("critical"))
	case PriorityDefault:
		opts = append(opts, asynq.Queue("default"))
	default:
		opts = append(opts, asynq.Queue("low"))
	}

	// 创建并入队任务
	t := asynq.NewTask(task.Type, payload, opts...)
	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// GetTaskStatus 获取任务状态
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	// 首先尝试从 Redis 获取状态
	key := fmt.Sprintf("task_status:%s", taskID)
	data, err := q.redis.Get(ctx, key).Bytes()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}

	if err == nil {
		// 如果找到了保存的状态，直接返回
		var status TaskStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status: %w", err)
		}
		return &status, nil
	}

	// 如果 Redis 中没有，从所有队列中查找
	queues := []string{"critical", "default", "low"}
	var info *asynq.TaskInfo

	for _, queueName := range queues {
		info, err = q.inspector.GetTaskInfo(queueName, taskID)
		if err == nil {
			break
		}
	}

	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	return convertAsynqStatus(info), nil
}

// SaveFinalStatus 保存最终任务状态
func (q *AsynqQueue) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
	key := fmt.Sprintf("task_status:%s", status.TaskID)
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	// 设置过期时间（24 小时）
	if err := q.redis.Set(ctx, key, data, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}

	return nil
}

// convertAsynqStatus 将 asynq 状态转换为 TaskStatus
func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		TaskID:    info.ID,
		StartedAt: info.NextProcessAt,
	}

	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled:
		status.Status = StatusPending
	case asynq.TaskStateActive:
		status.Status = StatusRunning
	case asynq.TaskStateCompleted:
		status.Status = StatusCompleted
		status.FinishedAt = info.CompletedAt
	case asynq.TaskStateRetry, asynq.TaskStateArchived:
		status.Status = StatusFailed
		status.Error = info.LastErr
	default:
		status.Status = StatusPending
	}

	return status
}
