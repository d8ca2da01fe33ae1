/**
 * PostgreSQL Client for the document scan worker
 *
 * Tracks job status only. Extracted fields and raw text are never persisted;
 * the row records which field keys matched, not their values.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	RunID            string
	Filename         string
	DocType          string
	Status           string
	Progress         int
	ProcessingTimeMs int64
	MatchedFields    []string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// JobRecord is a stored job row
type JobRecord struct {
	JobID            string
	RunID            string
	Filename         string
	DocType          string
	Status           string
	Progress         int
	ProcessingTimeMs int64
	MatchedFields    []string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS docscan;
	CREATE TABLE IF NOT EXISTS docscan.scan_jobs (
		id                 TEXT PRIMARY KEY,
		run_id             TEXT,
		filename           TEXT,
		doc_type           TEXT,
		status             TEXT NOT NULL,
		progress           INTEGER NOT NULL DEFAULT 0,
		processing_time_ms BIGINT,
		matched_fields     TEXT[],
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS scan_jobs_status_idx ON docscan.scan_jobs (status);
`

// clampProgress bounds progress to [0, 100]
func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

// sanitizeText strips NUL bytes, which PostgreSQL rejects in TEXT and JSONB values
func sanitizeText(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the job table if it does not exist
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row. Empty fields on the update keep the
// stored value, except error fields which are cleared when empty.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadata := update.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var matched interface{}
	if update.MatchedFields != nil {
		matched = pq.Array(update.MatchedFields)
	}

	query := `
		INSERT INTO docscan.scan_jobs (
			id, run_id, filename, doc_type, status, progress,
			processing_time_ms, matched_fields, error_code, error_message,
			metadata, created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6,
			NULLIF($7, 0), $8, NULLIF($9, ''), NULLIF($10, ''),
			$11::jsonb, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			run_id = COALESCE(EXCLUDED.run_id, docscan.scan_jobs.run_id),
			filename = COALESCE(EXCLUDED.filename, docscan.scan_jobs.filename),
			doc_type = COALESCE(EXCLUDED.doc_type, docscan.scan_jobs.doc_type),
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, docscan.scan_jobs.processing_time_ms),
			matched_fields = COALESCE(EXCLUDED.matched_fields, docscan.scan_jobs.matched_fields),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = docscan.scan_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,                      // $1
		update.RunID,                      // $2
		sanitizeText(update.Filename),     // $3
		update.DocType,                    // $4
		update.Status,                     // $5
		clampProgress(update.Progress),    // $6
		update.ProcessingTimeMs,           // $7
		matched,                           // $8
		update.ErrorCode,                  // $9
		sanitizeText(update.ErrorMessage), // $10
		string(metadataJSON),              // $11
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w", update.JobID, update.Status, err)
	}

	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, run_id, filename, doc_type, status, progress,
			processing_time_ms, matched_fields, error_code, error_message,
			metadata, created_at, updated_at
		FROM docscan.scan_jobs
		WHERE id = $1
	`

	var (
		rec                                 JobRecord
		runID, filename, docType            sql.NullString
		errorCode, errorMessage             sql.NullString
		processingTimeMs                    sql.NullInt64
		matched                             pq.StringArray
		metadataJSON                        []byte
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&rec.JobID, &runID, &filename, &docType, &rec.Status, &rec.Progress,
		&processingTimeMs, &matched, &errorCode, &errorMessage,
		&metadataJSON, &rec.CreatedAt, &rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rec.RunID = runID.String
	rec.Filename = filename.String
	rec.DocType = docType.String
	rec.ProcessingTimeMs = processingTimeMs.Int64
	rec.MatchedFields = []string(matched)
	rec.ErrorCode = errorCode.String
	rec.ErrorMessage = errorMessage.String

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &rec, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
