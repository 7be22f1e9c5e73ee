package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/middleware"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/signer"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/upload"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

const testJWTSecret = "api-test-secret"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockContents struct{ mock.Mock }

func (m *mockContents) LoadContent(ctx context.Context, id int64) (*models.Content, error) {
	args := m.Called(ctx, id)
	content, _ := args.Get(0).(*models.Content)
	return content, args.Error(1)
}

type mockUsers struct{ mock.Mock }

func (m *mockUsers) GetUser(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

type mockSigner struct{ mock.Mock }

func (m *mockSigner) Authorize(ctx context.Context, key string, user *models.User) (signer.Grant, error) {
	args := m.Called(ctx, key, user)
	return args.Get(0).(signer.Grant), args.Error(1)
}

func (m *mockSigner) IssueThumbnail(key string) (string, error) {
	args := m.Called(key)
	return args.String(0), args.Error(1)
}

type mockIntake struct{ mock.Mock }

func (m *mockIntake) Accept(ctx context.Context, contentID int64, filename string, body io.Reader) (*models.ProcessJob, error) {
	data, _ := io.ReadAll(body)
	args := m.Called(ctx, contentID, filename, string(data))
	job, _ := args.Get(0).(*models.ProcessJob)
	return job, args.Error(1)
}

type harness struct {
	contents *mockContents
	users    *mockUsers
	signer   *mockSigner
	intake   *mockIntake
	auth     *middleware.Authenticator
	router   *gin.Engine
	checks   map[string]HealthCheck
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{
		contents: &mockContents{},
		users:    &mockUsers{},
		signer:   &mockSigner{},
		intake:   &mockIntake{},
		auth:     middleware.NewAuthenticator(testJWTSecret),
		checks:   map[string]HealthCheck{},
	}
	api := &API{
		contents: h.contents,
		users:    h.users,
		signer:   h.signer,
		intake:   h.intake,
		checks:   h.checks,
		logger:   logging.Nop(),
		now:      func() time.Time { return testNow },
	}
	h.router = setupRouter(api, h.auth, middleware.NewRateLimiter(1000, 1000), logging.Nop())
	return h
}

func (h *harness) token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := h.auth.GenerateToken(userID, "viewer@example.com", time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func strPtr(s string) *string { return &s }

func processedContent(id int64, level models.AccessLevel) *models.Content {
	processedAt := testNow.Add(-time.Hour)
	return &models.Content{
		ID:               id,
		AccessLevel:      level,
		ManifestKey:      strPtr(fmt.Sprintf("videos/%d/master.m3u8", id)),
		ThumbnailKey:     strPtr(fmt.Sprintf("videos/%d/thumbnail.jpg", id)),
		ProcessingStatus: models.ProcessingStatusCompleted,
		QualityManifest: models.QualityManifest{
			"480p": fmt.Sprintf("videos/%d/480p/playlist.m3u8", id),
			"240p": fmt.Sprintf("videos/%d/240p/playlist.m3u8", id),
		},
		ProcessedAt: &processedAt,
	}
}

func TestGetStreamSignsManifest(t *testing.T) {
	h := newHarness(t)
	h.contents.On("LoadContent", mock.Anything, int64(5)).Return(processedContent(5, models.AccessLevelFree), nil)
	h.signer.On("Authorize", mock.Anything, "videos/5/master.m3u8", (*models.User)(nil)).
		Return(signer.Grant{Outcome: signer.Allowed, URL: "https://cdn/videos/5/master.m3u8?Expires=1"}, nil)

	w := h.do(httptest.NewRequest("GET", "/api/v1/contents/5/stream", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"url": "https://cdn/videos/5/master.m3u8?Expires=1",
		"kind": "hls",
		"qualities": ["240p", "480p"]
	}`, w.Body.String())
	h.signer.AssertExpectations(t)
}

func TestGetStreamPassesAuthenticatedUser(t *testing.T) {
	h := newHarness(t)
	viewer := &models.User{ID: 9, SubscriptionLevel: models.SubscriptionPremium, IsActive: true}

	h.contents.On("LoadContent", mock.Anything, int64(5)).Return(processedContent(5, models.AccessLevelPremium), nil)
	h.users.On("GetUser", mock.Anything, int64(9)).Return(viewer, nil)
	h.signer.On("Authorize", mock.Anything, "videos/5/master.m3u8", viewer).
		Return(signer.Grant{Outcome: signer.Allowed, URL: "https://cdn/signed"}, nil)

	req := httptest.NewRequest("GET", "/api/v1/contents/5/stream", nil)
	req.Header.Set("Authorization", h.token(t, 9))
	w := h.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	h.users.AssertExpectations(t)
	h.signer.AssertExpectations(t)
}

func TestGetStreamDenied(t *testing.T) {
	tests := []struct {
		name    string
		outcome signer.Outcome
		status  int
		reason  string
	}{
		{"no user", signer.DeniedNoUser, http.StatusForbidden, "denied_no_user"},
		{"not entitled", signer.DeniedNotEntitled, http.StatusForbidden, "denied_not_entitled"},
		{"unknown content", signer.DeniedUnknownContent, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			content := processedContent(5, models.AccessLevelPremium)
			content.PreviewSeconds = new(int)
			*content.PreviewSeconds = 30

			h.contents.On("LoadContent", mock.Anything, int64(5)).Return(content, nil)
			h.signer.On("Authorize", mock.Anything, mock.Anything, mock.Anything).
				Return(signer.Grant{Outcome: tt.outcome}, nil)

			w := h.do(httptest.NewRequest("GET", "/api/v1/contents/5/stream", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "https://")
			if tt.reason != "" {
				assert.Contains(t, w.Body.String(), tt.reason)
				assert.Contains(t, w.Body.String(), `"preview_seconds":30`)
			}
		})
	}
}

func TestGetStreamLegacyFallback(t *testing.T) {
	h := newHarness(t)
	h.contents.On("LoadContent", mock.Anything, int64(6)).Return(&models.Content{
		ID:               6,
		AccessLevel:      models.AccessLevelFree,
		SourceVideoURL:   strPtr("https://legacy.example.com/6.mp4"),
		ProcessingStatus: models.ProcessingStatusProcessing,
	}, nil)

	w := h.do(httptest.NewRequest("GET", "/api/v1/contents/6/stream", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"url":"https://legacy.example.com/6.mp4","kind":"legacy"}`, w.Body.String())
	h.signer.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetStreamLegacyFallbackGatesPremium(t *testing.T) {
	h := newHarness(t)
	h.contents.On("LoadContent", mock.Anything, int64(6)).Return(&models.Content{
		ID:             6,
		AccessLevel:    models.AccessLevelPremium,
		SourceVideoURL: strPtr("https://legacy.example.com/6.mp4"),
	}, nil)

	w := h.do(httptest.NewRequest("GET", "/api/v1/contents/6/stream", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "denied_no_user")
}

func TestGetStreamNoLegacyAfterFailure(t *testing.T) {
	h := newHarness(t)
	h.contents.On("LoadContent", mock.Anything, int64(6)).Return(&models.Content{
		ID:               6,
		SourceVideoURL:   strPtr("https://legacy.example.com/6.mp4"),
		ProcessingStatus: models.ProcessingStatusFailed,
		ProcessingError:  strPtr("transcode 480p failed"),
	}, nil)

	w := h.do(httptest.NewRequest("GET", "/api/v1/contents/6/stream", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStreamErrors(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(httptest.NewRequest("GET", "/api/v1/contents/abc/stream", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown content", func(t *testing.T) {
		h := newHarness(t)
		h.contents.On("LoadContent", mock.Anything, int64(404)).Return(nil, fmt.Errorf("content 404: %w", apperrors.ErrRecordNotFound))
		w := h.do(httptest.NewRequest("GET", "/api/v1/contents/404/stream", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("signing fault", func(t *testing.T) {
		h := newHarness(t)
		h.contents.On("LoadContent", mock.Anything, int64(5)).Return(processedContent(5, models.AccessLevelFree), nil)
		h.signer.On("Authorize", mock.Anything, mock.Anything, mock.Anything).
			Return(signer.Grant{}, &apperrors.SigningError{Key: "videos/5/master.m3u8", Err: errors.New("bad key")})
		w := h.do(httptest.NewRequest("GET", "/api/v1/contents/5/stream", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		h := newHarness(t)
		req := httptest.NewRequest("GET", "/api/v1/contents/5/stream", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		w := h.do(req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		h.contents.AssertNotCalled(t, "LoadContent", mock.Anything, mock.Anything)
	})
}

func TestGetThumbnail(t *testing.T) {
	h := newHarness(t)
	h.contents.On("LoadContent", mock.Anything, int64(5)).Return(processedContent(5, models.AccessLevelFree), nil)
	h.contents.On("LoadContent", mock.Anything, int64(6)).Return(&models.Content{ID: 6}, nil)
	h.signer.On("IssueThumbnail", "videos/5/thumbnail.jpg").Return("https://cdn/videos/5/thumbnail.jpg?Expires=2", nil)

	w := h.do(httptest.NewRequest("GET", "/api/v1/contents/5/thumbnail", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"url":"https://cdn/videos/5/thumbnail.jpg?Expires=2"}`, w.Body.String())

	w = h.do(httptest.NewRequest("GET", "/api/v1/contents/6/thumbnail", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetProcessing(t *testing.T) {
	h := newHarness(t)
	h.contents.On("LoadContent", mock.Anything, int64(5)).Return(processedContent(5, models.AccessLevelFree), nil)
	h.contents.On("LoadContent", mock.Anything, int64(7)).Return(&models.Content{
		ID:               7,
		ProcessingStatus: models.ProcessingStatusFailed,
		ProcessingError:  strPtr("source media error: zero duration"),
	}, nil)

	w := h.do(httptest.NewRequest("GET", "/api/v1/contents/5/processing", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"content_id": 5,
		"status": "completed",
		"qualities": ["240p", "480p"],
		"processed_at": "2026-03-01T11:00:00Z"
	}`, w.Body.String())

	w = h.do(httptest.NewRequest("GET", "/api/v1/contents/7/processing", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"content_id": 7,
		"status": "failed",
		"qualities": [],
		"error": "source media error: zero duration"
	}`, w.Body.String())
}

func multipartUpload(t *testing.T, field, filename, body string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return &buf, writer.FormDataContentType()
}

func TestUploadVideo(t *testing.T) {
	h := newHarness(t)
	h.intake.On("Accept", mock.Anything, int64(5), "clip.mp4", "video-bytes").
		Return(&models.ProcessJob{ID: "job-1", ContentID: 5}, nil)

	body, contentType := multipartUpload(t, "video", "clip.mp4", "video-bytes")
	req := httptest.NewRequest("POST", "/api/v1/contents/5/video", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", h.token(t, 1))

	w := h.do(req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"content_id":5,"job_id":"job-1","status":"pending"}`, w.Body.String())
	h.intake.AssertExpectations(t)
}

func TestUploadVideoRequiresAuth(t *testing.T) {
	h := newHarness(t)

	body, contentType := multipartUpload(t, "video", "clip.mp4", "video-bytes")
	req := httptest.NewRequest("POST", "/api/v1/contents/5/video", body)
	req.Header.Set("Content-Type", contentType)

	w := h.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	h.intake.AssertNotCalled(t, "Accept", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadVideoErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown content", fmt.Errorf("content 5: %w", apperrors.ErrRecordNotFound), http.StatusNotFound},
		{"unsupported format", fmt.Errorf("%w: %q", upload.ErrUnsupportedFormat, ".txt"), http.StatusUnsupportedMediaType},
		{"too large", upload.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{"empty", upload.ErrEmpty, http.StatusBadRequest},
		{"queue down", errors.New("failed to enqueue processing job"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.intake.On("Accept", mock.Anything, int64(5), mock.Anything, mock.Anything).Return(nil, tt.err)

			body, contentType := multipartUpload(t, "video", "clip.mp4", "x")
			req := httptest.NewRequest("POST", "/api/v1/contents/5/video", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", h.token(t, 1))

			w := h.do(req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestUploadVideoMissingFile(t *testing.T) {
	h := newHarness(t)

	body, contentType := multipartUpload(t, "other", "clip.mp4", "x")
	req := httptest.NewRequest("POST", "/api/v1/contents/5/video", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", h.token(t, 1))

	w := h.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheck(t *testing.T) {
	h := newHarness(t)
	h.checks["database"] = func(ctx context.Context) error { return nil }

	w := h.do(httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	h.checks["storage"] = func(ctx context.Context) error { return errors.New("bucket missing") }

	w = h.do(httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "bucket missing")
	assert.Contains(t, w.Body.String(), `"database":"ok"`)
}
