// Package storetest provides an in-memory store.Store for tests. It mirrors
// the conditional-write semantics of the postgres implementation: duplicate
// document inserts and second batch reservations are refused, status-gated
// updates skip rows outside the expected status.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/internal/store"
)

type Store struct {
	mu sync.Mutex

	Documents map[string]*models.DocumentRecord
	Configs   map[string]*models.TrainingConfig
	Batches   map[string]*models.TrainingBatch

	// Forced errors, one per operation. Zero values mean normal behavior.
	GetDocumentErr       error
	CreateDocumentErr    error
	ListByStatusErr      error
	ListTrainableErr     error
	MarkLabeledErr       error
	MarkImportedErr      error
	CountErr             error
	DistributionErr      error
	GetConfigErr         error
	UpdateConfigErr      error
	HasActiveBatchErr    error
	ReserveBatchErr      error
	UpdateBatchStatusErr error
	FailBatchErr         error
	CompleteImportErr    error
	ReleaseStaleErr      error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		Documents: make(map[string]*models.DocumentRecord),
		Configs:   make(map[string]*models.TrainingConfig),
		Batches:   make(map[string]*models.TrainingBatch),
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error { return nil }

func (s *Store) GetDocument(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	if s.GetDocumentErr != nil {
		return nil, s.GetDocumentErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.Documents[documentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) CreateDocument(ctx context.Context, rec *models.DocumentRecord) (bool, error) {
	if s.CreateDocumentErr != nil {
		return false, s.CreateDocumentErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.Documents[rec.DocumentID]; ok {
		return false, nil
	}
	cp := *rec
	s.Documents[rec.DocumentID] = &cp
	return true, nil
}

func (s *Store) ListDocumentsByStatus(ctx context.Context, processorID string, status models.DocumentStatus, limit int) ([]*models.DocumentRecord, error) {
	if s.ListByStatusErr != nil {
		return nil, s.ListByStatusErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []*models.DocumentRecord
	for _, rec := range s.Documents {
		if rec.ProcessorID == processorID && rec.Status == status {
			docs = append(docs, rec)
		}
	}
	return sortAndLimit(docs, limit), nil
}

func (s *Store) ListTrainableDocuments(ctx context.Context, processorID string, trainingType models.TrainingType, limit int) ([]*models.DocumentRecord, error) {
	if s.ListTrainableErr != nil {
		return nil, s.ListTrainableErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []*models.DocumentRecord
	for _, rec := range s.Documents {
		if rec.ProcessorID != processorID || rec.DocumentType == "" {
			continue
		}
		switch trainingType {
		case models.TrainingInitial:
			if rec.Status == models.StatusPendingInitialTraining {
				docs = append(docs, rec)
			}
		case models.TrainingIncremental:
			if rec.Status == models.StatusCompleted && !rec.UsedForTraining {
				docs = append(docs, rec)
			}
		default:
			return nil, fmt.Errorf("unknown training type: %s", trainingType)
		}
	}
	return sortAndLimit(docs, limit), nil
}

func (s *Store) MarkDocumentLabeled(ctx context.Context, documentID, labeledPath string, at time.Time) error {
	if s.MarkLabeledErr != nil {
		return s.MarkLabeledErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.Documents[documentID]
	if !ok {
		return fmt.Errorf("document %s is not in a labelable status", documentID)
	}
	labelable := rec.Status == models.StatusPendingInitialTraining ||
		(rec.Status == models.StatusCompleted && !rec.UsedForTraining)
	if !labelable {
		return fmt.Errorf("document %s is not in a labelable status", documentID)
	}

	rec.Status = models.StatusLabeled
	rec.LabeledPath = labeledPath
	t := at
	rec.LabeledAt = &t
	return nil
}

func (s *Store) MarkDocumentsImported(ctx context.Context, documentIDs []string, importOperation string, at time.Time) (int, error) {
	if s.MarkImportedErr != nil {
		return 0, s.MarkImportedErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, id := range documentIDs {
		rec, ok := s.Documents[id]
		if !ok || rec.Status != models.StatusLabeled {
			continue
		}
		rec.Status = models.StatusImported
		rec.UsedForTraining = true
		rec.ImportOperation = importOperation
		t := at
		rec.ImportedAt = &t
		marked++
	}
	return marked, nil
}

func (s *Store) CountPendingInitial(ctx context.Context, processorID string) (int, error) {
	if s.CountErr != nil {
		return 0, s.CountErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.Documents {
		if rec.ProcessorID == processorID && rec.Status == models.StatusPendingInitialTraining && rec.DocumentType != "" {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUnusedCompleted(ctx context.Context, processorID string) (int, error) {
	if s.CountErr != nil {
		return 0, s.CountErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.Documents {
		if rec.ProcessorID == processorID && rec.Status == models.StatusCompleted && !rec.UsedForTraining && rec.DocumentType != "" {
			n++
		}
	}
	return n, nil
}

func (s *Store) LabelDistribution(ctx context.Context, processorID string) (map[string]int, error) {
	if s.DistributionErr != nil {
		return nil, s.DistributionErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dist := make(map[string]int)
	for _, rec := range s.Documents {
		if rec.ProcessorID != processorID || rec.DocumentType == "" {
			continue
		}
		pendingInitial := rec.Status == models.StatusPendingInitialTraining
		unusedCompleted := rec.Status == models.StatusCompleted && !rec.UsedForTraining
		if pendingInitial || unusedCompleted {
			dist[rec.DocumentType]++
		}
	}
	return dist, nil
}

func (s *Store) GetTrainingConfig(ctx context.Context, processorID string) (*models.TrainingConfig, error) {
	if s.GetConfigErr != nil {
		return nil, s.GetConfigErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg, ok := s.Configs[processorID]; ok {
		return cfg, nil
	}
	cfg := models.DefaultTrainingConfig(processorID)
	s.Configs[processorID] = cfg
	return cfg, nil
}

func (s *Store) UpdateTrainingConfig(ctx context.Context, cfg *models.TrainingConfig) error {
	if s.UpdateConfigErr != nil {
		return s.UpdateConfigErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cfg
	if existing, ok := s.Configs[cfg.ProcessorID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.Configs[cfg.ProcessorID] = &cp
	return nil
}

func (s *Store) HasActiveBatch(ctx context.Context, processorID string) (bool, error) {
	if s.HasActiveBatchErr != nil {
		return false, s.HasActiveBatchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.activeBatchLocked(processorID), nil
}

func (s *Store) ReserveBatch(ctx context.Context, batch *models.TrainingBatch) (bool, error) {
	if s.ReserveBatchErr != nil {
		return false, s.ReserveBatchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeBatchLocked(batch.ProcessorID) {
		return false, nil
	}
	cp := *batch
	s.Batches[batch.BatchID] = &cp
	return true, nil
}

func (s *Store) UpdateBatchStatus(ctx context.Context, batchID string, status models.BatchStatus) error {
	if s.UpdateBatchStatusErr != nil {
		return s.UpdateBatchStatusErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.Batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	batch.Status = status
	batch.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) FailBatch(ctx context.Context, batchID, reason string) error {
	if s.FailBatchErr != nil {
		return s.FailBatchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.Batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	batch.Status = models.BatchFailed
	batch.FailureReason = reason
	batch.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CompleteBatchImport(ctx context.Context, batchID, importOperation string, documentCount int) error {
	if s.CompleteImportErr != nil {
		return s.CompleteImportErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.Batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	batch.Status = models.BatchTraining
	batch.ImportOperation = importOperation
	batch.DocumentCount = documentCount
	batch.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (*models.TrainingBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.Batches[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return batch, nil
}

func (s *Store) ListBatches(ctx context.Context, processorID string, limit int) ([]*models.TrainingBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batches []*models.TrainingBatch
	for _, b := range s.Batches {
		if b.ProcessorID == processorID {
			batches = append(batches, b)
		}
	}
	sort.Slice(batches, func(i, j int) bool {
		if !batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].CreatedAt.After(batches[j].CreatedAt)
		}
		return batches[i].BatchID < batches[j].BatchID
	})
	if limit > 0 && len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

func (s *Store) ReleaseStaleBatches(ctx context.Context, processorID string, updatedBefore time.Time) (int, error) {
	if s.ReleaseStaleErr != nil {
		return 0, s.ReleaseStaleErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, b := range s.Batches {
		if b.ProcessorID != processorID || !b.Active() || !b.UpdatedAt.Before(updatedBefore) {
			continue
		}
		b.Status = models.BatchFailed
		b.FailureReason = "released by stale-batch reconciliation"
		b.UpdatedAt = time.Now().UTC()
		released++
	}
	return released, nil
}

func (s *Store) Close() error { return nil }

// SeedDocument stores a copy of rec, bypassing the duplicate check.
func (s *Store) SeedDocument(rec *models.DocumentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.Documents[rec.DocumentID] = &cp
}

// SeedBatch stores a copy of batch, bypassing the reservation check.
func (s *Store) SeedBatch(batch *models.TrainingBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *batch
	s.Batches[batch.BatchID] = &cp
}

// SeedConfig stores a copy of cfg.
func (s *Store) SeedConfig(cfg *models.TrainingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cfg
	s.Configs[cfg.ProcessorID] = &cp
}

func (s *Store) activeBatchLocked(processorID string) bool {
	for _, b := range s.Batches {
		if b.ProcessorID == processorID && b.Active() {
			return true
		}
	}
	return false
}

func sortAndLimit(docs []*models.DocumentRecord, limit int) []*models.DocumentRecord {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].DocumentID < docs[j].DocumentID
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}
