package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

var (
	// ErrUnsupportedFormat is returned for files that are not a known video container
	ErrUnsupportedFormat = errors.New("unsupported video format")
	// ErrTooLarge is returned when an upload exceeds the configured limit
	ErrTooLarge = errors.New("upload exceeds size limit")
	// ErrEmpty is returned for zero-byte uploads
	ErrEmpty = errors.New("upload is empty")
)

var allowedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

// ContentStore is the part of the record store intake needs
type ContentStore interface {
	LoadContent(ctx context.Context, id int64) (*models.Content, error)
	MarkPending(ctx context.Context, id int64) error
}

// JobPublisher enqueues processing jobs
type JobPublisher interface {
	PublishJob(ctx context.Context, job *models.ProcessJob) error
}

// Intake accepts uploaded videos and hands them to the processing queue
type Intake struct {
	store       ContentStore
	queue       JobPublisher
	incomingDir string
	maxBytes    int64
	logger      *logging.Logger
	now         func() time.Time
}

// NewIntake creates an upload intake writing into incomingDir
func NewIntake(store ContentStore, queue JobPublisher, incomingDir string, maxBytes int64, logger *logging.Logger) *Intake {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Intake{
		store:       store,
		queue:       queue,
		incomingDir: incomingDir,
		maxBytes:    maxBytes,
		logger:      logger,
		now:         time.Now,
	}
}

// Accept stores the upload under a fresh name, marks the content pending and
// enqueues the processing job. The returned job is what was published.
func (in *Intake) Accept(ctx context.Context, contentID int64, filename string, body io.Reader) (*models.ProcessJob, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if _, err := in.store.LoadContent(ctx, contentID); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	sourcePath := filepath.Join(in.incomingDir, jobID+ext)

	size, err := in.save(sourcePath, body)
	if err != nil {
		return nil, err
	}

	logger := in.logger.WithContentID(contentID).WithJobID(jobID)

	if err := in.store.MarkPending(ctx, contentID); err != nil {
		os.Remove(sourcePath)
		return nil, fmt.Errorf("failed to mark content pending: %w", err)
	}

	job := &models.ProcessJob{
		ID:         jobID,
		ContentID:  contentID,
		SourcePath: sourcePath,
		EnqueuedAt: in.now(),
	}
	if err := in.queue.PublishJob(ctx, job); err != nil {
		os.Remove(sourcePath)
		metrics.RecordError("upload", "enqueue")
		return nil, fmt.Errorf("failed to enqueue processing job: %w", err)
	}

	metrics.RecordUpload(size)
	logger.Infof("Accepted upload %q (%d bytes)", filename, size)

	return job, nil
}

// save writes body to path atomically, enforcing the size limit
func (in *Intake) save(path string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(in.incomingDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create incoming directory: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer pendingFile.Cleanup()

	reader := body
	if in.maxBytes > 0 {
		reader = io.LimitReader(body, in.maxBytes+1)
	}

	size, err := io.Copy(pendingFile, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to write upload: %w", err)
	}
	if in.maxBytes > 0 && size > in.maxBytes {
		return 0, ErrTooLarge
	}
	if size == 0 {
		return 0, ErrEmpty
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("failed to finalize upload: %w", err)
	}
	return size, nil
}
