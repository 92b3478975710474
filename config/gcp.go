package config

import (
	"os"
	"strings"
	"sync"

	"google.golang.org/api/option"
)

var (
	gcpOnce   sync.Once
	gcpConfig *GCPConfig
)

// GCPConfig Document AI 和 GCS 配置
type GCPConfig struct {
	ProjectID             string
	Location              string
	ClassifierProcessorID string
	OCRProcessorID        string
	BucketName            string
}

func GetGCPConfig() *GCPConfig {
	gcpOnce.Do(func() {
		loadEnv()

		gcpConfig = &GCPConfig{
			ProjectID:             os.Getenv("GCP_PROJECT_ID"),
			Location:              getEnv("DOCAI_LOCATION", "us"),
			ClassifierProcessorID: os.Getenv("DOCAI_CLASSIFIER_PROCESSOR_ID"),
			OCRProcessorID:        os.Getenv("DOCAI_OCR_PROCESSOR_ID"),
			BucketName:            os.Getenv("GCS_BUCKET_NAME"),
		}
	})
	return gcpConfig
}

// GoogleClientOptions 解析 Google 客户端凭证
// Inline JSON wins over a credentials file; with neither set the client
// falls back to application default credentials.
func GoogleClientOptions() []option.ClientOption {
	loadEnv()

	if raw := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}
