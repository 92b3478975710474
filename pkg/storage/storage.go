package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/feichai0017/document-trainer/pkg/logger"
	"github.com/feichai0017/document-trainer/pkg/storage/gcs"
	"github.com/feichai0017/document-trainer/pkg/storage/minio"
	"github.com/feichai0017/document-trainer/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeGCS   StorageType = "gcs"
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage 接口定义
// The bucket is explicit on every call: upload events name their own source
// bucket while labeled artifacts land in the configured training bucket.
type Storage interface {
	// Store 存储对象, returns the object URI
	Store(ctx context.Context, bucket, key string, reader io.Reader, contentType string) (string, error)
	// Get 获取对象
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Delete 删除对象
	Delete(ctx context.Context, bucket, key string) error
	// List 列出指定前缀下的对象
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	// URI renders the canonical object URI for the backend's scheme.
	URI(bucket, key string) string
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(storageType StorageType, logger logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeGCS:
		return gcs.GetClient(logger)
	case StorageTypeS3:
		return s3.GetClient(logger)
	case StorageTypeMinio:
		return minio.GetClient(logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// ParseURI splits an object URI of the form scheme://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	i := strings.Index(uri, "://")
	if i < 0 {
		return "", "", fmt.Errorf("invalid object URI %q: missing scheme", uri)
	}
	rest := uri[i+3:]
	j := strings.Index(rest, "/")
	if j <= 0 || j == len(rest)-1 {
		return "", "", fmt.Errorf("invalid object URI %q: want scheme://bucket/key", uri)
	}
	return rest[:j], rest[j+1:], nil
}
