package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/middleware"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/signer"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/upload"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

// ContentReader loads content records
type ContentReader interface {
	LoadContent(ctx context.Context, id int64) (*models.Content, error)
}

// UserReader loads viewer accounts
type UserReader interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// URLSigner issues gated and ungated signed URLs
type URLSigner interface {
	Authorize(ctx context.Context, key string, user *models.User) (signer.Grant, error)
	IssueThumbnail(key string) (string, error)
}

// UploadIntake accepts uploaded source videos
type UploadIntake interface {
	Accept(ctx context.Context, contentID int64, filename string, body io.Reader) (*models.ProcessJob, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

type API struct {
	contents ContentReader
	users    UserReader
	signer   URLSigner
	intake   UploadIntake
	checks   map[string]HealthCheck
	logger   *logging.Logger
	now      func() time.Time
}

// Stream kinds returned by the stream endpoint
const (
	streamKindHLS    = "hls"
	streamKindLegacy = "legacy"
)

func contentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content ID"})
		return 0, false
	}
	return id, true
}

// loadContent writes the error response itself when it returns nil
func (api *API) loadContent(c *gin.Context, id int64) *models.Content {
	content, err := api.contents.LoadContent(c.Request.Context(), id)
	if errors.Is(err, apperrors.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Content not found"})
		return nil
	}
	if err != nil {
		api.logger.WithContentID(id).WithError(err).Error("Failed to load content")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load content"})
		return nil
	}
	return content
}

// currentUser resolves the authenticated viewer; nil for anonymous requests
func (api *API) currentUser(c *gin.Context) (*models.User, error) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return nil, nil
	}

	user, err := api.users.GetUser(c.Request.Context(), userID)
	if errors.Is(err, apperrors.ErrRecordNotFound) {
		return nil, nil
	}
	return user, err
}

func (api *API) uploadVideo(c *gin.Context) {
	id, ok := contentID(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return
	}
	defer file.Close()

	job, err := api.intake.Accept(c.Request.Context(), id, header.Filename, file)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Content not found"})
		return
	case errors.Is(err, upload.ErrUnsupportedFormat):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		return
	case errors.Is(err, upload.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	case errors.Is(err, upload.ErrEmpty):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		api.logger.WithContentID(id).WithError(err).Error("Failed to accept upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to accept upload"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"content_id": id,
		"job_id":     job.ID,
		"status":     models.ProcessingStatusPending,
	})
}

// getStream returns a playable URL: the signed HLS master when one exists,
// otherwise the legacy source URL while processing has not failed.
func (api *API) getStream(c *gin.Context) {
	id, ok := contentID(c)
	if !ok {
		return
	}
	content := api.loadContent(c, id)
	if content == nil {
		return
	}

	user, err := api.currentUser(c)
	if err != nil {
		api.logger.WithContentID(id).WithError(err).Error("Failed to load user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	if content.HasStream() {
		grant, err := api.signer.Authorize(c.Request.Context(), *content.ManifestKey, user)
		if err != nil {
			api.logger.WithContentID(id).WithError(err).Error("Failed to sign stream URL")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue stream URL"})
			return
		}
		api.respondGrant(c, content, grant)
		return
	}

	if content.Status() == models.ProcessingStatusFailed || content.SourceVideoURL == nil || *content.SourceVideoURL == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No stream available"})
		return
	}

	if content.AccessLevel == models.AccessLevelPremium && !user.HasPremiumAccess(api.now()) {
		outcome := signer.DeniedNotEntitled
		if user == nil {
			outcome = signer.DeniedNoUser
		}
		api.respondGrant(c, content, signer.Grant{Outcome: outcome})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":  *content.SourceVideoURL,
		"kind": streamKindLegacy,
	})
}

func (api *API) respondGrant(c *gin.Context, content *models.Content, grant signer.Grant) {
	switch grant.Outcome {
	case signer.Allowed:
		c.JSON(http.StatusOK, gin.H{
			"url":       grant.URL,
			"kind":      streamKindHLS,
			"qualities": content.AvailableQualities(),
		})
	case signer.DeniedUnknownContent:
		c.JSON(http.StatusNotFound, gin.H{"error": "Content not found"})
	default:
		body := gin.H{"error": "Subscription required", "reason": grant.Outcome.String()}
		if content.PreviewAvailable() {
			body["preview_seconds"] = *content.PreviewSeconds
		}
		c.JSON(http.StatusForbidden, body)
	}
}

func (api *API) getThumbnail(c *gin.Context) {
	id, ok := contentID(c)
	if !ok {
		return
	}
	content := api.loadContent(c, id)
	if content == nil {
		return
	}

	if content.ThumbnailKey == nil || *content.ThumbnailKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No thumbnail available"})
		return
	}

	signed, err := api.signer.IssueThumbnail(*content.ThumbnailKey)
	if err != nil {
		api.logger.WithContentID(id).WithError(err).Error("Failed to sign thumbnail URL")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue thumbnail URL"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signed})
}

func (api *API) getProcessing(c *gin.Context) {
	id, ok := contentID(c)
	if !ok {
		return
	}
	content := api.loadContent(c, id)
	if content == nil {
		return
	}

	body := gin.H{
		"content_id": content.ID,
		"status":     content.Status(),
		"qualities":  content.AvailableQualities(),
	}
	if content.ProcessingError != nil {
		body["error"] = *content.ProcessingError
	}
	if content.ProcessedAt != nil {
		body["processed_at"] = content.ProcessedAt.UTC()
	}

	c.JSON(http.StatusOK, body)
}

func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for name, check := range api.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"dependencies": results,
		"time":         api.now().UTC(),
	})
}
