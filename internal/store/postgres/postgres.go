// Package postgres implements store.Store on PostgreSQL via database/sql
// and the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/internal/store"
)

// activeStatuses gates every query enforcing the one-active-batch invariant.
// Must stay in sync with models.ActiveBatchStatuses.
const activeStatuses = `('pending', 'preparing', 'training', 'deploying')`

const documentColumns = `document_id, gcs_uri, file_name, document_type, processor_id, status, used_for_training, predicted_type, prediction_confidence, labeled_path, import_operation, page_count, created_at, processed_at, labeled_at, imported_at`

const batchColumns = `batch_id, processor_id, training_type, status, document_count, import_operation, failure_reason, created_at, updated_at`

// Store is the PostgreSQL-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the pgx stdlib driver and verifies the connection.
func Open(dsn string, maxOpenConns, maxIdleConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates tables and indexes if they do not exist. The advisory
// lock serializes concurrent bootstraps from the server and worker binaries.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2025082101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS processed_documents (
	document_id TEXT PRIMARY KEY,
	gcs_uri TEXT NOT NULL,
	file_name TEXT NOT NULL,
	document_type TEXT NOT NULL DEFAULT '',
	processor_id TEXT NOT NULL,
	status TEXT NOT NULL,
	used_for_training BOOLEAN NOT NULL DEFAULT FALSE,
	predicted_type TEXT NOT NULL DEFAULT '',
	prediction_confidence REAL NOT NULL DEFAULT 0,
	labeled_path TEXT NOT NULL DEFAULT '',
	import_operation TEXT NOT NULL DEFAULT '',
	page_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	labeled_at TIMESTAMPTZ,
	imported_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_processed_documents_processor_status
	ON processed_documents (processor_id, status);

CREATE TABLE IF NOT EXISTS training_configs (
	processor_id TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	min_documents_for_initial_training INTEGER NOT NULL,
	min_documents_for_incremental INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS training_batches (
	batch_id TEXT PRIMARY KEY,
	processor_id TEXT NOT NULL,
	training_type TEXT NOT NULL,
	status TEXT NOT NULL,
	document_count INTEGER NOT NULL DEFAULT 0,
	import_operation TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

-- At most one in-flight training run per processor. ReserveBatch relies on
-- this index to turn the insert into an atomic check-and-set.
CREATE UNIQUE INDEX IF NOT EXISTS idx_training_batches_one_active
	ON training_batches (processor_id)
	WHERE status IN ('pending', 'preparing', 'training', 'deploying');

CREATE INDEX IF NOT EXISTS idx_training_batches_processor_created
	ON training_batches (processor_id, created_at DESC);
`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, documentID string) (*models.DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM processed_documents
WHERE document_id = $1`, documentID)

	rec, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return rec, nil
}

func (s *Store) CreateDocument(ctx context.Context, rec *models.DocumentRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO processed_documents (
	document_id, gcs_uri, file_name, document_type, processor_id, status,
	used_for_training, predicted_type, prediction_confidence, labeled_path,
	import_operation, page_count, created_at, processed_at, labeled_at, imported_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (document_id) DO NOTHING`,
		rec.DocumentID, rec.GCSURI, rec.FileName, rec.DocumentType, rec.ProcessorID, string(rec.Status),
		rec.UsedForTraining, rec.PredictedType, rec.PredictionConfidence, rec.LabeledPath,
		rec.ImportOperation, rec.PageCount, rec.CreatedAt, rec.ProcessedAt, rec.LabeledAt, rec.ImportedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert document rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) ListDocumentsByStatus(ctx context.Context, processorID string, status models.DocumentStatus, limit int) ([]*models.DocumentRecord, error) {
	query := `
SELECT ` + documentColumns + `
FROM processed_documents
WHERE processor_id = $1 AND status = $2
ORDER BY created_at`
	args := []interface{}{processorID, string(status)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents by status: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

func (s *Store) ListTrainableDocuments(ctx context.Context, processorID string, trainingType models.TrainingType, limit int) ([]*models.DocumentRecord, error) {
	var cond string
	switch trainingType {
	case models.TrainingInitial:
		cond = `status = 'pending_initial_training'`
	case models.TrainingIncremental:
		cond = `status = 'completed' AND used_for_training = FALSE`
	default:
		return nil, fmt.Errorf("unknown training type: %s", trainingType)
	}

	query := `
SELECT ` + documentColumns + `
FROM processed_documents
WHERE processor_id = $1 AND document_type <> '' AND ` + cond + `
ORDER BY created_at`
	args := []interface{}{processorID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trainable documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

func (s *Store) MarkDocumentLabeled(ctx context.Context, documentID, labeledPath string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE processed_documents
SET status = 'labeled', labeled_path = $2, labeled_at = $3
WHERE document_id = $1
	AND (status = 'pending_initial_training' OR (status = 'completed' AND used_for_training = FALSE))`,
		documentID, labeledPath, at)
	if err != nil {
		return fmt.Errorf("mark document labeled: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark document labeled rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("document %s is not in a labelable status", documentID)
	}
	return nil
}

func (s *Store) MarkDocumentsImported(ctx context.Context, documentIDs []string, importOperation string, at time.Time) (int, error) {
	if len(documentIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	marked := 0
	for _, id := range documentIDs {
		res, err := tx.ExecContext(ctx, `
UPDATE processed_documents
SET status = 'imported', used_for_training = TRUE, import_operation = $2, imported_at = $3
WHERE document_id = $1 AND status = 'labeled'`,
			id, importOperation, at)
		if err != nil {
			return 0, fmt.Errorf("mark document %s imported: %w", id, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("mark document %s imported rows affected: %w", id, err)
		}
		marked += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import tx: %w", err)
	}
	return marked, nil
}

func (s *Store) CountPendingInitial(ctx context.Context, processorID string) (int, error) {
	return s.countDocuments(ctx, `
SELECT COUNT(*)
FROM processed_documents
WHERE processor_id = $1 AND status = 'pending_initial_training' AND document_type <> ''`, processorID)
}

func (s *Store) CountUnusedCompleted(ctx context.Context, processorID string) (int, error) {
	return s.countDocuments(ctx, `
SELECT COUNT(*)
FROM processed_documents
WHERE processor_id = $1 AND status = 'completed' AND used_for_training = FALSE AND document_type <> ''`, processorID)
}

func (s *Store) countDocuments(ctx context.Context, query, processorID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, processorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *Store) LabelDistribution(ctx context.Context, processorID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT document_type, COUNT(*)
FROM processed_documents
WHERE processor_id = $1 AND document_type <> ''
	AND (status = 'pending_initial_training' OR (status = 'completed' AND used_for_training = FALSE))
GROUP BY document_type`, processorID)
	if err != nil {
		return nil, fmt.Errorf("label distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("scan label distribution: %w", err)
		}
		dist[label] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate label distribution: %w", err)
	}
	return dist, nil
}

func (s *Store) GetTrainingConfig(ctx context.Context, processorID string) (*models.TrainingConfig, error) {
	cfg, err := s.readTrainingConfig(ctx, processorID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get training config: %w", err)
	}

	// First touch of this processor: create the default row. ON CONFLICT
	// keeps concurrent first touches from failing; whoever wins, the reread
	// returns the stored row.
	def := models.DefaultTrainingConfig(processorID)
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO training_configs (processor_id, enabled, min_documents_for_initial_training, min_documents_for_incremental, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (processor_id) DO NOTHING`,
		def.ProcessorID, def.Enabled, def.MinInitial, def.MinIncremental, def.CreatedAt, def.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create default training config: %w", err)
	}

	cfg, err = s.readTrainingConfig(ctx, processorID)
	if err != nil {
		return nil, fmt.Errorf("reread training config: %w", err)
	}
	return cfg, nil
}

func (s *Store) readTrainingConfig(ctx context.Context, processorID string) (*models.TrainingConfig, error) {
	var cfg models.TrainingConfig
	err := s.db.QueryRowContext(ctx, `
SELECT processor_id, enabled, min_documents_for_initial_training, min_documents_for_incremental, created_at, updated_at
FROM training_configs
WHERE processor_id = $1`, processorID).Scan(
		&cfg.ProcessorID,
		&cfg.Enabled,
		&cfg.MinInitial,
		&cfg.MinIncremental,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) UpdateTrainingConfig(ctx context.Context, cfg *models.TrainingConfig) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO training_configs (processor_id, enabled, min_documents_for_initial_training, min_documents_for_incremental, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (processor_id) DO UPDATE SET
	enabled = EXCLUDED.enabled,
	min_documents_for_initial_training = EXCLUDED.min_documents_for_initial_training,
	min_documents_for_incremental = EXCLUDED.min_documents_for_incremental,
	updated_at = EXCLUDED.updated_at`,
		cfg.ProcessorID, cfg.Enabled, cfg.MinInitial, cfg.MinIncremental, time.Now().UTC(), cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update training config: %w", err)
	}
	return nil
}

func (s *Store) HasActiveBatch(ctx context.Context, processorID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM training_batches
	WHERE processor_id = $1 AND status IN `+activeStatuses+`
)`, processorID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active batch: %w", err)
	}
	return exists, nil
}

// ReserveBatch inserts the batch row. The partial unique index on active
// batches makes this the atomic re-check of the active-batch guard: when two
// threshold crossings race, exactly one insert lands.
func (s *Store) ReserveBatch(ctx context.Context, batch *models.TrainingBatch) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO training_batches (batch_id, processor_id, training_type, status, document_count, import_operation, failure_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT DO NOTHING`,
		batch.BatchID, batch.ProcessorID, string(batch.TrainingType), string(batch.Status),
		batch.DocumentCount, batch.ImportOperation, batch.FailureReason, batch.CreatedAt, batch.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("reserve batch: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve batch rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) UpdateBatchStatus(ctx context.Context, batchID string, status models.BatchStatus) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE training_batches
SET status = $2, updated_at = $3
WHERE batch_id = $1`,
		batchID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update batch status rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FailBatch(ctx context.Context, batchID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE training_batches
SET status = 'failed', failure_reason = $2, updated_at = $3
WHERE batch_id = $1`,
		batchID, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fail batch: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail batch rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CompleteBatchImport(ctx context.Context, batchID, importOperation string, documentCount int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE training_batches
SET status = 'training', import_operation = $2, document_count = $3, updated_at = $4
WHERE batch_id = $1`,
		batchID, importOperation, documentCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete batch import: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete batch import rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (*models.TrainingBatch, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+batchColumns+`
FROM training_batches
WHERE batch_id = $1`, batchID)

	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

func (s *Store) ListBatches(ctx context.Context, processorID string, limit int) ([]*models.TrainingBatch, error) {
	query := `
SELECT ` + batchColumns + `
FROM training_batches
WHERE processor_id = $1
ORDER BY created_at DESC`
	args := []interface{}{processorID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.TrainingBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

func (s *Store) ReleaseStaleBatches(ctx context.Context, processorID string, updatedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE training_batches
SET status = 'failed', failure_reason = 'released by stale-batch reconciliation', updated_at = $3
WHERE processor_id = $1 AND status IN `+activeStatuses+` AND updated_at < $2`,
		processorID, updatedBefore, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("release stale batches: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale batches rows affected: %w", err)
	}
	return int(rows), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	var status string
	err := row.Scan(
		&rec.DocumentID,
		&rec.GCSURI,
		&rec.FileName,
		&rec.DocumentType,
		&rec.ProcessorID,
		&status,
		&rec.UsedForTraining,
		&rec.PredictedType,
		&rec.PredictionConfidence,
		&rec.LabeledPath,
		&rec.ImportOperation,
		&rec.PageCount,
		&rec.CreatedAt,
		&rec.ProcessedAt,
		&rec.LabeledAt,
		&rec.ImportedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = models.DocumentStatus(status)
	return &rec, nil
}

func collectDocuments(rows *sql.Rows) ([]*models.DocumentRecord, error) {
	var docs []*models.DocumentRecord
	for rows.Next() {
		rec, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func scanBatch(row rowScanner) (*models.TrainingBatch, error) {
	var batch models.TrainingBatch
	var trainingType, status string
	err := row.Scan(
		&batch.BatchID,
		&batch.ProcessorID,
		&trainingType,
		&status,
		&batch.DocumentCount,
		&batch.ImportOperation,
		&batch.FailureReason,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	batch.TrainingType = models.TrainingType(trainingType)
	batch.Status = models.BatchStatus(status)
	return &batch, nil
}
