package training

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/document-trainer/internal/classifier"
	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/internal/store"
	"github.com/feichai0017/document-trainer/pkg/converters"
	"github.com/feichai0017/document-trainer/pkg/logger"
	"github.com/feichai0017/document-trainer/pkg/storage"
)

// ErrNoDocuments means no candidate document could be turned into a dataset
// artifact.
var ErrNoDocuments = errors.New("training: no documents could be prepared for the batch")

// BuildResult reports what a dataset build produced.
type BuildResult struct {
	DocumentIDs []string
	Artifacts   []string
	Skipped     int
}

// Builder 数据集构建器
// It runs each trainable document through the OCR processor, wraps the output
// with its ground-truth label and uploads the artifact under the configured
// prefix.
type Builder struct {
	store      store.Store
	classifier classifier.Classifier
	blob       storage.Storage
	converter  converters.DocumentConverter
	cfg        Config
	logger     logger.Logger
}

func NewBuilder(st store.Store, cls classifier.Classifier, blob storage.Storage, conv converters.DocumentConverter, cfg Config, log logger.Logger) *Builder {
	return &Builder{
		store:      st,
		classifier: cls,
		blob:       blob,
		converter:  conv,
		cfg:        cfg,
		logger:     log,
	}
}

// Build labels every trainable document for the training type and uploads the
// artifacts. Returns ErrNoDocuments when nothing was produced.
func (b *Builder) Build(ctx context.Context, processorID string, trainingType models.TrainingType) (*BuildResult, error) {
	docs, err := b.store.ListTrainableDocuments(ctx, processorID, trainingType, b.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trainable documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	result := &BuildResult{}
	for _, doc := range docs {
		artifactURI, err := b.labelDocument(ctx, doc)
		if err != nil {
			// One bad document never sinks the batch; it stays in its
			// current status for the next run.
			b.logger.Error("Failed to label document",
				logger.String("documentId", doc.DocumentID),
				logger.String("gcsUri", doc.GCSURI),
				logger.Error(err))
			result.Skipped++
			continue
		}
		result.DocumentIDs = append(result.DocumentIDs, doc.DocumentID)
		result.Artifacts = append(result.Artifacts, artifactURI)
	}
	if len(result.DocumentIDs) == 0 {
		return nil, ErrNoDocuments
	}

	b.logger.Info("Dataset build finished",
		logger.String("processorId", processorID),
		logger.String("trainingType", string(trainingType)),
		logger.Int("labeled", len(result.DocumentIDs)),
		logger.Int("skipped", result.Skipped))

	return result, nil
}

func (b *Builder) labelDocument(ctx context.Context, doc *models.DocumentRecord) (string, error) {
	bucket, key, err := storage.ParseURI(doc.GCSURI)
	if err != nil {
		return "", err
	}

	obj, err := b.blob.Get(ctx, bucket, key)
	if err != nil {
		return "", fmt.Errorf("failed to fetch source object: %w", err)
	}
	content, err := io.ReadAll(obj)
	obj.Close()
	if err != nil {
		return "", fmt.Errorf("failed to read source object: %w", err)
	}

	ocr, err := b.classifier.ProcessBytes(ctx, b.cfg.OCRProcessorID, content)
	if err != nil {
		return "", fmt.Errorf("ocr processing failed: %w", err)
	}

	labeled, err := b.converter.Convert(ocr, doc.DocumentType, doc.GCSURI)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(labeled)
	if err != nil {
		return "", fmt.Errorf("failed to marshal labeled document: %w", err)
	}

	artifactKey := fmt.Sprintf("%s%s/%s.json", b.cfg.ArtifactPrefix, doc.DocumentType, doc.DocumentID)
	artifactURI, err := b.blob.Store(ctx, b.cfg.Bucket, artifactKey, bytes.NewReader(data), "application/json")
	if err != nil {
		return "", fmt.Errorf("failed to store labeled document: %w", err)
	}

	if err := b.store.MarkDocumentLabeled(ctx, doc.DocumentID, artifactURI, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to mark document labeled: %w", err)
	}
	return artifactURI, nil
}
