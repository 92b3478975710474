package models

import "time"

// TrainingType 训练类型
type TrainingType string

const (
	// TrainingInitial builds the first model version from documents parked
	// while no version was deployed.
	TrainingInitial TrainingType = "initial"
	// TrainingIncremental retrains with classified documents that have not
	// been used for training yet.
	TrainingIncremental TrainingType = "incremental"
)

// Default thresholds applied when a processor is seen for the first time.
const (
	DefaultMinInitial     = 3
	DefaultMinIncremental = 2
)

// TrainingConfig holds the per-processor threshold settings.
type TrainingConfig struct {
	ProcessorID    string    `json:"processorId"`
	Enabled        bool      `json:"enabled"`
	MinInitial     int       `json:"minDocumentsForInitialTraining"`
	MinIncremental int       `json:"minDocumentsForIncremental"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DefaultTrainingConfig returns the config created on first touch of an
// unknown processor.
func DefaultTrainingConfig(processorID string) *TrainingConfig {
	now := time.Now().UTC()
	return &TrainingConfig{
		ProcessorID:    processorID,
		Enabled:        true,
		MinInitial:     DefaultMinInitial,
		MinIncremental: DefaultMinIncremental,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// BatchStatus 训练批次状态
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchPreparing BatchStatus = "preparing"
	BatchTraining  BatchStatus = "training"
	BatchDeploying BatchStatus = "deploying"
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// ActiveBatchStatuses are the non-terminal states. While any batch of a
// processor is in one of them, no new batch may be created for that
// processor.
var ActiveBatchStatuses = []BatchStatus{
	BatchPending,
	BatchPreparing,
	BatchTraining,
	BatchDeploying,
}

// TrainingBatch tracks one training run from reservation to hand-off. The
// deploying/succeeded/cancelled transitions are written by the external
// workflow that consumes the monitor task.
type TrainingBatch struct {
	BatchID         string       `json:"batchId"`
	ProcessorID     string       `json:"processorId"`
	TrainingType    TrainingType `json:"trainingType"`
	Status          BatchStatus  `json:"status"`
	DocumentCount   int          `json:"documentCount"`
	ImportOperation string       `json:"importOperation,omitempty"`
	FailureReason   string       `json:"failureReason,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Active reports whether the batch still blocks new reservations.
func (b *TrainingBatch) Active() bool {
	for _, s := range ActiveBatchStatuses {
		if b.Status == s {
			return true
		}
	}
	return false
}
