package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/internal/store"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
	}
	return New(db), mock, cleanup
}

func documentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"document_id", "gcs_uri", "file_name", "document_type", "processor_id", "status",
		"used_for_training", "predicted_type", "prediction_confidence", "labeled_path",
		"import_operation", "page_count", "created_at", "processed_at", "labeled_at", "imported_at",
	})
}

func TestCreateDocumentReportsInsertAndConflict(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	rec := &models.DocumentRecord{
		DocumentID:   "statement_q1_a1b2c3d4",
		GCSURI:       "gs://fund-docs/documents/statements/q1.pdf",
		FileName:     "documents/statements/q1.pdf",
		DocumentType: "ACCOUNT_STATEMENT",
		ProcessorID:  "proc-1",
		Status:       models.StatusPendingInitialTraining,
		PageCount:    3,
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO processed_documents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO processed_documents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := st.CreateDocument(context.Background(), rec)
	if err != nil {
		t.Fatalf("CreateDocument returned error: %v", err)
	}
	if !inserted {
		t.Error("first insert: inserted = false, want true")
	}

	inserted, err = st.CreateDocument(context.Background(), rec)
	if err != nil {
		t.Fatalf("CreateDocument returned error: %v", err)
	}
	if inserted {
		t.Error("conflicting insert: inserted = true, want false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT document_id, gcs_uri").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := st.GetDocument(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want store.ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetDocumentScansNullTimestamps(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	created := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	processed := created.Add(time.Minute)

	mock.ExpectQuery("SELECT document_id, gcs_uri").
		WithArgs("doc-1").
		WillReturnRows(documentRows().AddRow(
			"doc-1", "gs://b/documents/a.pdf", "documents/a.pdf", "TAX", "proc-1", "completed",
			false, "TAX", 0.93, "", "", 2, created, processed, nil, nil,
		))

	rec, err := st.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetDocument returned error: %v", err)
	}
	if rec.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", rec.Status)
	}
	if rec.PredictionConfidence != float32(0.93) {
		t.Errorf("PredictionConfidence = %v, want 0.93", rec.PredictionConfidence)
	}
	if rec.ProcessedAt == nil || !rec.ProcessedAt.Equal(processed) {
		t.Errorf("ProcessedAt = %v, want %v", rec.ProcessedAt, processed)
	}
	if rec.LabeledAt != nil || rec.ImportedAt != nil {
		t.Errorf("LabeledAt/ImportedAt = %v/%v, want nil", rec.LabeledAt, rec.ImportedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// Unlabeled documents must never enter the trainable pool, so the SQL itself
// has to carry the document_type filter.
func TestListTrainableDocumentsFiltersByTypeAndStatus(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	mock.ExpectQuery(`document_type <> '' AND status = 'pending_initial_training'`).
		WithArgs("proc-1", 100).
		WillReturnRows(documentRows().AddRow(
			"doc-1", "gs://b/documents/a.pdf", "documents/a.pdf", "TAX", "proc-1", "pending_initial_training",
			false, "", 0.0, "", "", 1, time.Now().UTC(), nil, nil, nil,
		))

	docs, err := st.ListTrainableDocuments(context.Background(), "proc-1", models.TrainingInitial, 100)
	if err != nil {
		t.Fatalf("ListTrainableDocuments returned error: %v", err)
	}
	if len(docs) != 1 || docs[0].DocumentID != "doc-1" {
		t.Fatalf("docs = %v, want one doc-1", docs)
	}

	mock.ExpectQuery(`status = 'completed' AND used_for_training = FALSE`).
		WithArgs("proc-1", 100).
		WillReturnRows(documentRows())

	if _, err := st.ListTrainableDocuments(context.Background(), "proc-1", models.TrainingIncremental, 100); err != nil {
		t.Fatalf("ListTrainableDocuments returned error: %v", err)
	}

	if _, err := st.ListTrainableDocuments(context.Background(), "proc-1", models.TrainingType("bogus"), 100); err == nil {
		t.Error("expected error for unknown training type")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCountQueriesExcludeUnlabeledDocuments(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	mock.ExpectQuery(`status = 'pending_initial_training' AND document_type <> ''`).
		WithArgs("proc-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(`used_for_training = FALSE AND document_type <> ''`).
		WithArgs("proc-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	pending, err := st.CountPendingInitial(context.Background(), "proc-1")
	if err != nil {
		t.Fatalf("CountPendingInitial returned error: %v", err)
	}
	if pending != 4 {
		t.Errorf("pending = %d, want 4", pending)
	}

	unused, err := st.CountUnusedCompleted(context.Background(), "proc-1")
	if err != nil {
		t.Fatalf("CountUnusedCompleted returned error: %v", err)
	}
	if unused != 2 {
		t.Errorf("unused = %d, want 2", unused)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkDocumentLabeledIsStatusGated(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	at := time.Now().UTC()

	mock.ExpectExec("UPDATE processed_documents").
		WithArgs("doc-1", "gs://b/labeled_documents/TAX/doc-1.json", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE processed_documents").
		WithArgs("doc-2", "gs://b/labeled_documents/TAX/doc-2.json", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.MarkDocumentLabeled(context.Background(), "doc-1", "gs://b/labeled_documents/TAX/doc-1.json", at); err != nil {
		t.Fatalf("MarkDocumentLabeled returned error: %v", err)
	}

	if err := st.MarkDocumentLabeled(context.Background(), "doc-2", "gs://b/labeled_documents/TAX/doc-2.json", at); err == nil {
		t.Error("expected error for document outside a labelable status")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkDocumentsImportedCountsTransitions(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	at := time.Now().UTC()
	op := "projects/p/locations/us/operations/123"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE processed_documents").
		WithArgs("doc-1", op, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE processed_documents").
		WithArgs("doc-2", op, at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	marked, err := st.MarkDocumentsImported(context.Background(), []string{"doc-1", "doc-2"}, op, at)
	if err != nil {
		t.Fatalf("MarkDocumentsImported returned error: %v", err)
	}
	if marked != 1 {
		t.Errorf("marked = %d, want 1", marked)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetTrainingConfigCreatesDefaultsOnFirstTouch(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	configRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"processor_id", "enabled", "min_documents_for_initial_training",
			"min_documents_for_incremental", "created_at", "updated_at",
		})
	}

	mock.ExpectQuery("SELECT processor_id, enabled").
		WithArgs("proc-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO training_configs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT processor_id, enabled").
		WithArgs("proc-1").
		WillReturnRows(configRows().AddRow("proc-1", true, 3, 2, time.Now().UTC(), time.Now().UTC()))

	cfg, err := st.GetTrainingConfig(context.Background(), "proc-1")
	if err != nil {
		t.Fatalf("GetTrainingConfig returned error: %v", err)
	}
	if !cfg.Enabled {
		t.Error("Enabled = false, want true")
	}
	if cfg.MinInitial != models.DefaultMinInitial || cfg.MinIncremental != models.DefaultMinIncremental {
		t.Errorf("thresholds = %d/%d, want defaults %d/%d",
			cfg.MinInitial, cfg.MinIncremental, models.DefaultMinInitial, models.DefaultMinIncremental)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestReserveBatchWinsAndLoses(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	now := time.Now().UTC()
	batch := &models.TrainingBatch{
		BatchID:      "batch-1",
		ProcessorID:  "proc-1",
		TrainingType: models.TrainingInitial,
		Status:       models.BatchPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	mock.ExpectExec("INSERT INTO training_batches").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO training_batches").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := st.ReserveBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("ReserveBatch returned error: %v", err)
	}
	if !won {
		t.Error("first reserve: won = false, want true")
	}

	won, err = st.ReserveBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("ReserveBatch returned error: %v", err)
	}
	if won {
		t.Error("second reserve: won = true, want false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHasActiveBatch(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("proc-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := st.HasActiveBatch(context.Background(), "proc-1")
	if err != nil {
		t.Fatalf("HasActiveBatch returned error: %v", err)
	}
	if !active {
		t.Error("active = false, want true")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateBatchStatusNotFound(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	mock.ExpectExec("UPDATE training_batches").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.UpdateBatchStatus(context.Background(), "missing", models.BatchPreparing)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want store.ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestReleaseStaleBatchesOnlyTouchesActiveRows(t *testing.T) {
	st, mock, cleanup := newStoreWithMock(t)
	defer cleanup()

	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	mock.ExpectExec(`status IN \('pending', 'preparing', 'training', 'deploying'\) AND updated_at < `).
		WithArgs("proc-1", cutoff, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	released, err := st.ReleaseStaleBatches(context.Background(), "proc-1", cutoff)
	if err != nil {
		t.Fatalf("ReleaseStaleBatches returned error: %v", err)
	}
	if released != 2 {
		t.Errorf("released = %d, want 2", released)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
