// Package classifier wraps the Document AI processor APIs used by the
// pipeline: online classification, version probing and dataset imports.
package classifier

import (
	"context"

	"github.com/feichai0017/document-trainer/internal/models"
)

// Classifier 文档分类器接口
type Classifier interface {
	// ProcessURI classifies a document already sitting in object storage.
	ProcessURI(ctx context.Context, processorID, sourceURI string) (*models.ClassificationResult, error)
	// ProcessBytes runs the processor over raw content. Used with the OCR
	// processor when building dataset artifacts.
	ProcessBytes(ctx context.Context, processorID string, content []byte) (*models.ClassificationResult, error)
	// HasDeployedVersion reports whether the processor has any deployed
	// version, i.e. whether online classification can work at all.
	HasDeployedVersion(ctx context.Context, processorID string) (bool, error)
	// ImportDocuments starts a dataset import of every artifact under the
	// prefix and returns the long-running operation name. It does not wait
	// for the operation.
	ImportDocuments(ctx context.Context, processorID, gcsPrefix string, trainingSplitRatio float32) (string, error)
	Close() error
}
