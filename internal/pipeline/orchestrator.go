// Package pipeline drives one upload through transcoding, publishing and
// signing, and persists the outcome on the content record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/publish"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/tracing"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

// stateWriteTimeout bounds the terminal state write after the run context ended
const stateWriteTimeout = 30 * time.Second

// ContentStore persists the processing fields of content records
type ContentStore interface {
	LoadContent(ctx context.Context, id int64) (*models.Content, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64, fields models.CompletedFields) error
	MarkFailed(ctx context.Context, id int64, message string) error
}

// Engine converts a source file into renditions inside a workspace
type Engine interface {
	ProduceRenditions(ctx context.Context, sourcePath, workspaceDir string) (*transcoder.Result, error)
}

// Publisher uploads a finished workspace
type Publisher interface {
	Publish(ctx context.Context, workspaceDir string, result *transcoder.Result, contentID int64) (*publish.ObjectKeys, error)
}

// URLIssuer signs published keys
type URLIssuer interface {
	Issue(key string, expiresIn time.Duration) (string, error)
	IssueThumbnail(key string) (string, error)
}

// Notifier is told about every terminal state
type Notifier interface {
	Notify(ctx context.Context, event models.ProcessingEvent) error
}

// Orchestrator runs the processing pipeline for one content at a time per call
type Orchestrator struct {
	store     ContentStore
	engine    Engine
	publisher Publisher
	issuer    URLIssuer
	notifier  Notifier
	logger    *logging.Logger
	tempDir   string
	now       func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithNotifier sets the terminal state notifier
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithClock overrides the clock used for processed_at
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTempDir sets the parent directory of run workspaces
func WithTempDir(dir string) Option {
	return func(o *Orchestrator) { o.tempDir = dir }
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(store ContentStore, engine Engine, publisher Publisher, issuer URLIssuer, logger *logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	o := &Orchestrator{
		store:     store,
		engine:    engine,
		publisher: publisher,
		issuer:    issuer,
		logger:    logger,
		tempDir:   os.TempDir(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// outcome is what a successful run hands to the state write and the notifier
type outcome struct {
	fields       models.CompletedFields
	streamURL    string
	thumbnailURL string
	duration     float64
}

// Process runs the pipeline for contentID from sourcePath. The source file and
// the run workspace are removed on every return path, so every returned error
// is marked as not retryable. A missing content record is returned without any
// state write; any other failure after the run started is persisted as failed
// and also returned so the queue can act on it. A redelivered job whose source
// is gone and whose record already reached a terminal state is skipped.
func (o *Orchestrator) Process(ctx context.Context, contentID int64, sourcePath string) (err error) {
	logger := o.logger.WithContentID(contentID)
	start := time.Now()
	runStatus := string(models.ProcessingStatusFailed)

	span, ctx := tracing.StartSpan(ctx, "pipeline.process")
	tracing.SetTag(span, "content_id", contentID)
	metrics.PipelineStarted()

	var workspace string
	defer func() {
		o.cleanup(logger, sourcePath, workspace)
		if err != nil {
			tracing.LogError(span, err)
			metrics.RecordError("pipeline", apperrors.Kind(err))
			err = apperrors.InputConsumed(err)
		}
		tracing.FinishSpan(span)
		metrics.RecordPipelineRun(runStatus, time.Since(start).Seconds())
	}()

	content, err := o.store.LoadContent(ctx, contentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrRecordNotFound) {
			runStatus = "aborted"
			logger.Warn("Content record not found, dropping job")
		}
		return err
	}

	if consumed(content, sourcePath) {
		runStatus = "skipped"
		logger.Infof("Source %s already consumed, record is %s; skipping redelivered job", sourcePath, content.Status())
		return nil
	}

	if err := o.store.MarkProcessing(ctx, contentID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	logger.Infof("Processing started for %s", sourcePath)

	var out *outcome
	err = recoverPanic(logger, func() error {
		var err error
		if out, err = o.run(ctx, logger, contentID, sourcePath, &workspace); err != nil {
			return err
		}
		return o.complete(ctx, contentID, out)
	})
	if err != nil {
		return o.fail(ctx, logger, contentID, err)
	}

	runStatus = string(models.ProcessingStatusCompleted)
	metrics.RecordVideoDuration(out.duration)
	logger.Infof("Processing completed with %d qualities", len(out.fields.Qualities))

	processedAt := out.fields.ProcessedAt
	o.notify(ctx, logger, models.ProcessingEvent{
		ContentID:    contentID,
		Status:       models.ProcessingStatusCompleted,
		ManifestKey:  out.fields.ManifestKey,
		ThumbnailKey: out.fields.ThumbnailKey,
		Qualities:    out.fields.Qualities.Tiers(),
		StreamURL:    out.streamURL,
		ThumbnailURL: out.thumbnailURL,
		ProcessedAt:  &processedAt,
	})
	return nil
}

// consumed reports whether a finished run already removed the job's source
func consumed(content *models.Content, sourcePath string) bool {
	if !content.Status().IsTerminal() {
		return false
	}
	_, err := os.Stat(sourcePath)
	return errors.Is(err, os.ErrNotExist)
}

// recoverPanic turns a panic inside fn into an error so the run still ends in
// a terminal state
func recoverPanic(logger *logging.Logger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Recovered pipeline panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return fn()
}

// run executes workspace creation, transcoding, publishing and signing in order
func (o *Orchestrator) run(ctx context.Context, logger *logging.Logger, contentID int64, sourcePath string, workspace *string) (*outcome, error) {
	if err := os.MkdirAll(o.tempDir, 0755); err != nil {
		return nil, &apperrors.ResourceError{Op: "create temp dir", Err: err}
	}
	dir, err := os.MkdirTemp(o.tempDir, fmt.Sprintf("content-%d-*", contentID))
	if err != nil {
		return nil, &apperrors.ResourceError{Op: "create workspace", Err: err}
	}
	*workspace = dir

	var result *transcoder.Result
	err = o.stage(ctx, logger, "transcode", func(ctx context.Context) error {
		var err error
		result, err = o.engine.ProduceRenditions(ctx, sourcePath, dir)
		return err
	})
	if err != nil {
		return nil, err
	}

	var keys *publish.ObjectKeys
	err = o.stage(ctx, logger, "upload", func(ctx context.Context) error {
		var err error
		keys, err = o.publisher.Publish(ctx, dir, result, contentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &outcome{duration: result.Duration}
	err = o.stage(ctx, logger, "sign", func(ctx context.Context) error {
		var err error
		if out.streamURL, err = o.issuer.Issue(keys.Master, 0); err != nil {
			return err
		}
		out.thumbnailURL, err = o.issuer.IssueThumbnail(keys.Thumbnail)
		return err
	})
	if err != nil {
		return nil, err
	}

	out.fields = models.CompletedFields{
		ManifestKey:  keys.Master,
		ThumbnailKey: keys.Thumbnail,
		Qualities:    keys.Qualities,
		ProcessedAt:  o.now(),
	}
	return out, nil
}

func (o *Orchestrator) complete(ctx context.Context, contentID int64, out *outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.store.MarkCompleted(ctx, contentID, out.fields); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// stage runs fn after a cancellation check and records its duration
func (o *Orchestrator) stage(ctx context.Context, logger *logging.Logger, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	span, ctx := tracing.StartSpan(ctx, "pipeline."+name)
	defer tracing.FinishSpan(span)

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	tracing.LogError(span, err)
	metrics.RecordStage(name, duration.Seconds())
	logger.LogStageEvent(name, duration, err)
	return err
}

// fail persists the failure and returns cause, joined with the state write
// error when that failed too
func (o *Orchestrator) fail(ctx context.Context, logger *logging.Logger, contentID int64, cause error) error {
	message := cause.Error()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateWriteTimeout)
	defer cancel()

	if err := o.store.MarkFailed(wctx, contentID, message); err != nil {
		logger.WithError(err).Error("Failed to persist failed state")
		return errors.Join(cause, fmt.Errorf("mark failed: %w", err))
	}

	logger.WithError(cause).Error("Processing failed")
	o.notify(wctx, logger, models.ProcessingEvent{
		ContentID: contentID,
		Status:    models.ProcessingStatusFailed,
		Error:     message,
	})
	return cause
}

func (o *Orchestrator) notify(ctx context.Context, logger *logging.Logger, event models.ProcessingEvent) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		logger.WithError(err).Warn("Processing notification failed")
	}
}

// cleanup removes the source file and the run workspace
func (o *Orchestrator) cleanup(logger *logging.Logger, sourcePath, workspace string) {
	if sourcePath != "" {
		if err := os.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
			logger.WithError(err).Warnf("Failed to remove source %s", sourcePath)
		}
	}
	if workspace != "" {
		if err := os.RemoveAll(workspace); err != nil {
			logger.WithError(err).Warnf("Failed to remove workspace %s", workspace)
		}
	}
}
