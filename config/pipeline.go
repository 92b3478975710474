package config

import (
	"os"
	"sync"
	"time"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

// PipelineConfig 训练管道可调参数
type PipelineConfig struct {
	// RootPrefix limits ingestion to objects under this bucket folder.
	RootPrefix string
	// ArtifactPrefix is where labeled dataset JSON files are written; the
	// dataset import reads the whole prefix.
	ArtifactPrefix string
	// StorageType selects the blob backend: gcs, minio or s3.
	StorageType string
	// TrainingSplitRatio is the auto-split training fraction for imports.
	TrainingSplitRatio float32
	// MinRelabelConfidence gates replacing an OTHER label with the model
	// prediction.
	MinRelabelConfidence float32
	// MaxPageCount rejects documents the online processor cannot handle.
	MaxPageCount int
	// BatchLimit caps how many documents one training batch consumes.
	BatchLimit int
	// KeywordTablePath optionally overrides the compiled-in keyword table.
	KeywordTablePath string
	// StaleBatchAge is how old an active batch must be before the
	// reconcile endpoint releases it.
	StaleBatchAge time.Duration
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()

		pipelineConfig = &PipelineConfig{
			RootPrefix:           getEnv("DOCUMENT_ROOT_PREFIX", "documents/"),
			ArtifactPrefix:       getEnv("ARTIFACT_PREFIX", "labeled_documents/"),
			StorageType:          getEnv("STORAGE_TYPE", "gcs"),
			TrainingSplitRatio:   getEnvFloat32("TRAINING_SPLIT_RATIO", 0.8),
			MinRelabelConfidence: getEnvFloat32("MIN_RELABEL_CONFIDENCE", 0.8),
			MaxPageCount:         getEnvInt("MAX_PAGE_COUNT", 15),
			BatchLimit:           getEnvInt("BATCH_LIMIT", 100),
			KeywordTablePath:     os.Getenv("KEYWORD_TABLE_PATH"),
			StaleBatchAge:        getEnvDuration("STALE_BATCH_AGE", 24*time.Hour),
		}
	})
	return pipelineConfig
}
