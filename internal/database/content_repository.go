package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

// maxErrorLength bounds the stored processing error text
const maxErrorLength = 4000

// querier is the subset of pgxpool.Pool the repositories use
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ContentRepository reads and writes the processing fields of content records
type ContentRepository struct {
	db     querier
	logger *logging.Logger
}

// NewContentRepository creates a content repository
func NewContentRepository(db *DB, logger *logging.Logger) *ContentRepository {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ContentRepository{db: db.Pool, logger: logger}
}

const contentColumns = `
	id, title, access_level, preview_seconds, source_video_url, manifest_key,
	thumbnail_key, quality_manifest, processing_status, processing_error,
	processed_at, created_at, updated_at`

// LoadContent retrieves a content record by ID
func (r *ContentRepository) LoadContent(ctx context.Context, id int64) (*models.Content, error) {
	start := time.Now()

	var c models.Content
	err := r.db.QueryRow(ctx, `SELECT `+contentColumns+` FROM contents WHERE id = $1`, id).Scan(
		&c.ID, &c.Title, &c.AccessLevel, &c.PreviewSeconds, &c.SourceVideoURL, &c.ManifestKey,
		&c.ThumbnailKey, &c.QualityManifest, &c.ProcessingStatus, &c.ProcessingError,
		&c.ProcessedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	err = notFound(err)
	r.observe("load_content", start, err)

	if errors.Is(err, apperrors.ErrRecordNotFound) {
		return nil, fmt.Errorf("content %d: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load content %d: %w", id, err)
	}

	return &c, nil
}

// ContentAccess returns the access level of a content record
func (r *ContentRepository) ContentAccess(ctx context.Context, id int64) (models.AccessLevel, error) {
	start := time.Now()

	var level models.AccessLevel
	err := notFound(r.db.QueryRow(ctx, `SELECT access_level FROM contents WHERE id = $1`, id).Scan(&level))
	r.observe("content_access", start, err)

	if errors.Is(err, apperrors.ErrRecordNotFound) {
		return "", fmt.Errorf("content %d: %w", id, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get access level of content %d: %w", id, err)
	}
	return level, nil
}

// MarkPending resets a record for a fresh upload
func (r *ContentRepository) MarkPending(ctx context.Context, id int64) error {
	return r.update(ctx, "mark_pending", id, `
		UPDATE contents
		SET processing_status = $2, processing_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, models.ProcessingStatusPending)
}

// MarkProcessing flags a record as in progress. Fields from a previous
// completed run stay readable until this run finishes.
func (r *ContentRepository) MarkProcessing(ctx context.Context, id int64) error {
	return r.update(ctx, "mark_processing", id, `
		UPDATE contents
		SET processing_status = $2, processing_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, models.ProcessingStatusProcessing)
}

// MarkCompleted stores the published keys of a successful run
func (r *ContentRepository) MarkCompleted(ctx context.Context, id int64, fields models.CompletedFields) error {
	if err := fields.Validate(); err != nil {
		return fmt.Errorf("invalid completion for content %d: %w", id, err)
	}

	var thumbnail *string
	if fields.ThumbnailKey != "" {
		thumbnail = &fields.ThumbnailKey
	}

	return r.update(ctx, "mark_completed", id, `
		UPDATE contents
		SET processing_status = $2, manifest_key = $3, thumbnail_key = $4,
		    quality_manifest = $5, processed_at = $6, processing_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, models.ProcessingStatusCompleted, fields.ManifestKey, thumbnail, fields.Qualities, fields.ProcessedAt)
}

// MarkFailed records a failed run and withdraws any previously published stream
func (r *ContentRepository) MarkFailed(ctx context.Context, id int64, message string) error {
	return r.update(ctx, "mark_failed", id, `
		UPDATE contents
		SET processing_status = $2, processing_error = $3, manifest_key = NULL,
		    thumbnail_key = NULL, quality_manifest = '{}'::jsonb, processed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, models.ProcessingStatusFailed, TruncateError(message))
}

func (r *ContentRepository) update(ctx context.Context, op string, id int64, query string, args ...any) error {
	start := time.Now()

	tag, err := r.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err == nil && tag.RowsAffected() == 0 {
		err = apperrors.ErrRecordNotFound
	}
	r.observe(op, start, err)

	if err != nil {
		return fmt.Errorf("%s content %d: %w", op, id, err)
	}
	return nil
}

func (r *ContentRepository) observe(op string, start time.Time, err error) {
	observe(r.logger, op, start, err)
}

// TruncateError bounds a failure message to what the record stores
func TruncateError(message string) string {
	if message == "" {
		return "unknown error"
	}
	if len(message) <= maxErrorLength {
		return message
	}
	cut := maxErrorLength
	// keep the cut on a UTF-8 boundary
	for cut > 0 && message[cut]&0xC0 == 0x80 {
		cut--
	}
	return message[:cut]
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrRecordNotFound
	}
	return err
}

func observe(logger *logging.Logger, op string, start time.Time, err error) {
	duration := time.Since(start)
	status := "success"
	if err != nil && !errors.Is(err, apperrors.ErrRecordNotFound) {
		status = "error"
		metrics.RecordError("database", op)
	}
	metrics.RecordDatabaseOperation(op, status, duration.Seconds())
	logger.LogDatabaseOperation(op, duration, err)
}
