package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) LoadContent(ctx context.Context, id int64) (*models.Content, error) {
	args := m.Called(ctx, id)
	content, _ := args.Get(0).(*models.Content)
	return content, args.Error(1)
}

func (m *mockStore) MarkPending(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) PublishJob(ctx context.Context, job *models.ProcessJob) error {
	return m.Called(ctx, job).Error(0)
}

func incomingFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAcceptStoresMarksAndEnqueues(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "incoming")
	store := &mockStore{}
	queue := &mockQueue{}

	store.On("LoadContent", mock.Anything, int64(9)).Return(&models.Content{ID: 9}, nil)
	store.On("MarkPending", mock.Anything, int64(9)).Return(nil)
	queue.On("PublishJob", mock.Anything, mock.MatchedBy(func(job *models.ProcessJob) bool {
		return job.ContentID == 9 && job.Attempt == 0 && strings.HasSuffix(job.SourcePath, ".mp4")
	})).Return(nil)

	intake := NewIntake(store, queue, dir, 1024, nil)
	job, err := intake.Accept(context.Background(), 9, "Holiday.MP4", strings.NewReader("video-bytes"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, job.ID+".mp4"), job.SourcePath)
	assert.False(t, job.EnqueuedAt.IsZero())

	data, err := os.ReadFile(job.SourcePath)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	store.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestAcceptRejectsUnsupportedFormat(t *testing.T) {
	store := &mockStore{}
	intake := NewIntake(store, &mockQueue{}, t.TempDir(), 0, nil)

	_, err := intake.Accept(context.Background(), 9, "notes.txt", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	store.AssertNotCalled(t, "LoadContent", mock.Anything, mock.Anything)
}

func TestAcceptUnknownContent(t *testing.T) {
	dir := t.TempDir()
	store := &mockStore{}
	store.On("LoadContent", mock.Anything, int64(404)).Return(nil, fmt.Errorf("load: %w", apperrors.ErrRecordNotFound))

	intake := NewIntake(store, &mockQueue{}, dir, 0, nil)
	_, err := intake.Accept(context.Background(), 404, "a.mp4", strings.NewReader("x"))

	require.ErrorIs(t, err, apperrors.ErrRecordNotFound)
	assert.Empty(t, incomingFiles(t, dir))
	store.AssertNotCalled(t, "MarkPending", mock.Anything, mock.Anything)
}

func TestAcceptEnforcesSizeLimit(t *testing.T) {
	dir := t.TempDir()
	store := &mockStore{}
	store.On("LoadContent", mock.Anything, int64(1)).Return(&models.Content{ID: 1}, nil)

	intake := NewIntake(store, &mockQueue{}, dir, 4, nil)
	_, err := intake.Accept(context.Background(), 1, "a.mov", strings.NewReader("12345"))

	require.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, incomingFiles(t, dir))
	store.AssertNotCalled(t, "MarkPending", mock.Anything, mock.Anything)
}

func TestAcceptRejectsEmptyUpload(t *testing.T) {
	dir := t.TempDir()
	store := &mockStore{}
	store.On("LoadContent", mock.Anything, int64(1)).Return(&models.Content{ID: 1}, nil)

	intake := NewIntake(store, &mockQueue{}, dir, 0, nil)
	_, err := intake.Accept(context.Background(), 1, "a.webm", strings.NewReader(""))

	require.ErrorIs(t, err, ErrEmpty)
	assert.Empty(t, incomingFiles(t, dir))
}

func TestAcceptRemovesFileWhenEnqueueFails(t *testing.T) {
	dir := t.TempDir()
	store := &mockStore{}
	queue := &mockQueue{}
	store.On("LoadContent", mock.Anything, int64(3)).Return(&models.Content{ID: 3}, nil)
	store.On("MarkPending", mock.Anything, int64(3)).Return(nil)
	queue.On("PublishJob", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	intake := NewIntake(store, queue, dir, 0, nil)
	_, err := intake.Accept(context.Background(), 3, "a.mkv", strings.NewReader("data"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, incomingFiles(t, dir))
}

func TestAcceptRemovesFileWhenMarkPendingFails(t *testing.T) {
	dir := t.TempDir()
	store := &mockStore{}
	queue := &mockQueue{}
	store.On("LoadContent", mock.Anything, int64(3)).Return(&models.Content{ID: 3}, nil)
	store.On("MarkPending", mock.Anything, int64(3)).Return(errors.New("db down"))

	intake := NewIntake(store, queue, dir, 0, nil)
	_, err := intake.Accept(context.Background(), 3, "a.mp4", strings.NewReader("data"))

	require.Error(t, err)
	assert.Empty(t, incomingFiles(t, dir))
	queue.AssertNotCalled(t, "PublishJob", mock.Anything, mock.Anything)
}
