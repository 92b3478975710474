package models

import (
	"strings"
	"time"
)

// DocumentStatus 文档生命周期状态
type DocumentStatus string

const (
	// StatusPendingLabeling means classification was attempted and failed;
	// the record is parked until the event is replayed.
	StatusPendingLabeling DocumentStatus = "pending_labeling"
	// StatusPendingInitialTraining means no model version was deployed at
	// ingest time; the document waits for the initial training batch.
	StatusPendingInitialTraining DocumentStatus = "pending_initial_training"
	// StatusCompleted means the document was classified against a deployed
	// version and carries a prediction.
	StatusCompleted DocumentStatus = "completed"
	// StatusLabeled means a labeled dataset artifact was produced for it.
	StatusLabeled DocumentStatus = "labeled"
	// StatusImported means the artifact was handed to a dataset import.
	StatusImported DocumentStatus = "imported"
)

// LabelOther is the fallback label when neither the folder layout nor the
// keyword table yields a document type.
const LabelOther = "OTHER"

// DocumentRecord is the lifecycle record of one ingested document.
// Timestamps are set once at the transition that produces them and never
// rewritten.
type DocumentRecord struct {
	DocumentID           string         `json:"documentId"`
	GCSURI               string         `json:"gcsUri"`
	FileName             string         `json:"fileName"`
	DocumentType         string         `json:"documentType"`
	ProcessorID          string         `json:"processorId"`
	Status               DocumentStatus `json:"status"`
	UsedForTraining      bool           `json:"usedForTraining"`
	PredictedType        string         `json:"predictedType,omitempty"`
	PredictionConfidence float32        `json:"predictionConfidence,omitempty"`
	LabeledPath          string         `json:"labeledPath,omitempty"`
	ImportOperation      string         `json:"importOperation,omitempty"`
	PageCount            int            `json:"pageCount,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	ProcessedAt          *time.Time     `json:"processedAt,omitempty"`
	LabeledAt            *time.Time     `json:"labeledAt,omitempty"`
	ImportedAt           *time.Time     `json:"importedAt,omitempty"`
}

// Terminal reports whether no further pipeline transition applies to the
// record. Imported documents are done; completed documents are done once a
// training batch consumed them.
func (r *DocumentRecord) Terminal() bool {
	if r.Status == StatusImported {
		return true
	}
	return r.Status == StatusCompleted && r.UsedForTraining
}

// UploadEvent is the bucket object-change notification that starts a
// processing cycle. Field names follow the cloud storage object resource.
type UploadEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
}

// IsPDF checks the object name extension; content type is advisory only
// since some notification sources omit it.
func (e UploadEvent) IsPDF() bool {
	return strings.HasSuffix(strings.ToLower(e.Name), ".pdf")
}

// PageInfo 页面尺寸信息
type PageInfo struct {
	PageNumber int     `json:"pageNumber"`
	Width      float32 `json:"width"`
	Height     float32 `json:"height"`
}

// EntityInfo is one entity the processor detected in a document.
type EntityInfo struct {
	Type        string  `json:"type"`
	MentionText string  `json:"mentionText"`
	Confidence  float32 `json:"confidence"`
}

// ClassificationResult is the mapped output of one online processing call.
// PredictedType carries the highest-confidence entity type; ties keep the
// first occurrence.
type ClassificationResult struct {
	Text          string       `json:"text"`
	Pages         []PageInfo   `json:"pages"`
	Entities      []EntityInfo `json:"entities"`
	PredictedType string       `json:"predictedType"`
	Confidence    float32      `json:"confidence"`
}

// CycleStatus 处理周期结果状态
type CycleStatus string

const (
	// CycleSkipped - event did not match the root prefix / PDF filter.
	CycleSkipped CycleStatus = "skipped"
	// CycleRejected - preflight refused the file before any record was written.
	CycleRejected CycleStatus = "rejected"
	// CycleAlreadyProcessed - a record for this document already exists.
	CycleAlreadyProcessed CycleStatus = "already_processed"
	// CycleQueued - record written, thresholds not crossed.
	CycleQueued CycleStatus = "queued"
	// CycleBatchTriggered - record written and a training batch was launched.
	CycleBatchTriggered CycleStatus = "batch_triggered"
	// CycleError - the cycle aborted on an external failure.
	CycleError CycleStatus = "error"
)

// CycleResult is the structured outcome of one upload-event cycle. It is
// saved as the task's final status and queryable through the API.
type CycleResult struct {
	Status          CycleStatus    `json:"status"`
	DocumentID      string         `json:"documentId,omitempty"`
	DocumentType    string         `json:"documentType,omitempty"`
	DocumentStatus  DocumentStatus `json:"documentStatus,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	BatchID         string         `json:"batchId,omitempty"`
	TrainingType    TrainingType   `json:"trainingType,omitempty"`
	ImportOperation string         `json:"importOperation,omitempty"`
	BatchSize       int            `json:"batchSize,omitempty"`
	Error           string         `json:"error,omitempty"`
}
