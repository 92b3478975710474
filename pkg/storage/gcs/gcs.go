package gcs

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	cfg "github.com/feichai0017/document-trainer/config"
	"github.com/feichai0017/document-trainer/pkg/logger"
)

type GCSStorage struct {
	client *storage.Client
	logger logger.Logger
}

// Store implements Storage.Store
func (g *GCSStorage) Store(ctx context.Context, bucket, key string, reader io.Reader, contentType string) (string, error) {
	w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		g.logger.Error("Failed to store object to GCS",
			logger.String("bucket", bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to store object: %w", err)
	}
	// The write is committed on Close.
	if err := w.Close(); err != nil {
		g.logger.Error("Failed to commit object to GCS",
			logger.String("bucket", bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to commit object: %w", err)
	}

	return g.URI(bucket, key), nil
}

// Get implements Storage.Get
func (g *GCSStorage) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		g.logger.Error("Failed to get object from GCS",
			logger.String("bucket", bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	return r, nil
}

// Delete implements Storage.Delete
func (g *GCSStorage) Delete(ctx context.Context, bucket, key string) error {
	if err := g.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		g.logger.Error("Failed to delete object from GCS",
			logger.String("bucket", bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// List implements Storage.List
func (g *GCSStorage) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			g.logger.Error("Error listing objects",
				logger.String("bucket", bucket),
				logger.String("prefix", prefix),
				logger.Error(err),
			)
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		keys = append(keys, attrs.Name)
	}

	return keys, nil
}

// URI implements Storage.URI
func (g *GCSStorage) URI(bucket, key string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, key)
}

func NewGCSStorage(logger logger.Logger) (*GCSStorage, error) {
	client, err := storage.NewClient(context.Background(), cfg.GoogleClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client: client,
		logger: logger,
	}, nil
}

func GetClient(logger logger.Logger) (*GCSStorage, error) {
	return NewGCSStorage(logger)
}
