// Package publish copies a finished workspace into object storage under the
// stable videos/{id}/ key layout.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/storage"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

// ObjectStore is the write side of the object storage service
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// ObjectKeys is what a successful publish wrote
type ObjectKeys struct {
	Master    string
	Thumbnail string
	Qualities models.QualityManifest
	Written   []string
}

// Object is one planned upload
type Object struct {
	Key         string
	Path        string
	ContentType string
}

// Publisher uploads engine output
type Publisher struct {
	store  ObjectStore
	logger *logging.Logger
}

// NewPublisher creates a publisher writing to store
func NewPublisher(store ObjectStore, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Publisher{store: store, logger: logger}
}

// Plan lists the uploads for result in write order: master, then each tier's
// playlist followed by its segments, then the thumbnail.
func Plan(workspaceDir string, result *transcoder.Result, contentID int64) []Object {
	objects := make([]Object, 0, 2+len(result.Renditions)*4)

	objects = append(objects, Object{
		Key:  MasterKey(contentID),
		Path: filepath.Join(workspaceDir, transcoder.MasterName),
	})

	for _, r := range result.Renditions {
		tierDir := filepath.Join(workspaceDir, r.Tier.Name)
		objects = append(objects, Object{
			Key:  PlaylistKey(contentID, r.Tier.Name),
			Path: filepath.Join(tierDir, transcoder.PlaylistName),
		})
		for _, segment := range r.Segments {
			name := filepath.Base(segment)
			objects = append(objects, Object{
				Key:  SegmentKey(contentID, r.Tier.Name, name),
				Path: filepath.Join(tierDir, name),
			})
		}
	}

	objects = append(objects, Object{
		Key:  ThumbnailKey(contentID),
		Path: filepath.Join(workspaceDir, transcoder.ThumbnailName),
	})

	for i := range objects {
		objects[i].ContentType = storage.ContentType(objects[i].Path)
	}
	return objects
}

// Publish uploads every artifact of result. Objects are overwritten in place,
// so republishing the same workspace yields the same keys and bytes. The first
// failed write aborts the run; earlier writes are not rolled back.
func (p *Publisher) Publish(ctx context.Context, workspaceDir string, result *transcoder.Result, contentID int64) (*ObjectKeys, error) {
	if result == nil {
		return nil, fmt.Errorf("publish content %d: no engine result", contentID)
	}

	start := time.Now()
	plan := Plan(workspaceDir, result, contentID)
	keys := &ObjectKeys{
		Master:    MasterKey(contentID),
		Thumbnail: ThumbnailKey(contentID),
		Qualities: make(models.QualityManifest, len(result.Renditions)),
		Written:   make([]string, 0, len(plan)),
	}

	var total int64
	for _, obj := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := os.ReadFile(obj.Path)
		if err != nil {
			return nil, &apperrors.StorageError{Key: obj.Key, Err: fmt.Errorf("read %s: %w", obj.Path, err)}
		}

		if err := p.store.PutObject(ctx, obj.Key, body, obj.ContentType); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &apperrors.StorageError{Key: obj.Key, Err: err}
		}

		keys.Written = append(keys.Written, obj.Key)
		total += int64(len(body))
	}

	for _, r := range result.Renditions {
		keys.Qualities[r.Tier.Name] = PlaylistKey(contentID, r.Tier.Name)
	}

	p.logger.WithContentID(contentID).Infof("Published %d objects (%d bytes) in %s", len(keys.Written), total, time.Since(start))
	return keys, nil
}
