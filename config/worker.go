package config

import (
	"sync"
)

var (
	workerOnce   sync.Once
	workerConfig *WorkerConfig
)

type WorkerConfig struct {
	Concurrency int
}

func GetWorkerConfig() *WorkerConfig {
	workerOnce.Do(func() {
		loadEnv()

		workerConfig = &WorkerConfig{
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 5),
		}
	})
	return workerConfig
}
