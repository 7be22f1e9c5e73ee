package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Unwritable file path",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "/nonexistent-dir/streamvault.log",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestWithContentID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.WithContentID(42).WithJobID("job-1").Info("processing")

	entry := decodeLine(t, &buf)
	if entry["content_id"] != float64(42) {
		t.Errorf("Expected content_id 42, got %v", entry["content_id"])
	}
	if entry["job_id"] != "job-1" {
		t.Errorf("Expected job_id job-1, got %v", entry["job_id"])
	}
	if entry["message"] != "processing" {
		t.Errorf("Expected message processing, got %v", entry["message"])
	}
}

func TestLogStageEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.LogStageEvent("transcode", 1500*time.Millisecond, errors.New("ffmpeg exited"))

	entry := decodeLine(t, &buf)
	if entry["level"] != "error" {
		t.Errorf("Expected error level, got %v", entry["level"])
	}
	if entry["stage"] != "transcode" {
		t.Errorf("Expected stage transcode, got %v", entry["stage"])
	}
	if entry["status"] != "failed" {
		t.Errorf("Expected status failed, got %v", entry["status"])
	}
	if entry["error"] != "ffmpeg exited" {
		t.Errorf("Expected error text, got %v", entry["error"])
	}
}

func TestLogStorageOperationDebugLevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.LogStorageOperation("put", "videos", "videos/1/master.m3u8", 120, time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("Expected successful storage op to be filtered at info level, got %s", buf.String())
	}

	logger.LogStorageOperation("put", "videos", "videos/1/master.m3u8", 120, time.Millisecond, errors.New("denied"))
	entry := decodeLine(t, &buf)
	if entry["key"] != "videos/1/master.m3u8" {
		t.Errorf("Expected key in log entry, got %v", entry["key"])
	}
}

func TestLoggerWithFields(t *testing.T) {
	logger := Nop()

	if logger.WithFields(map[string]interface{}{"key1": "value1", "key2": 123}) == nil {
		t.Error("Expected non-nil logger from WithFields")
	}
	if logger.WithRequestID("req-123") == nil {
		t.Error("Expected non-nil logger from WithRequestID")
	}
	if logger.WithWorkerID("worker-1") == nil {
		t.Error("Expected non-nil logger from WithWorkerID")
	}
}

func TestLogHTTPRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.LogHTTPRequest("GET", "/api/v1/contents/1/stream", "192.168.1.1", 200, 100*time.Millisecond)

	entry := decodeLine(t, &buf)
	if entry["status_code"] != float64(200) {
		t.Errorf("Expected status_code 200, got %v", entry["status_code"])
	}
}

func BenchmarkLogInfo(b *testing.B) {
	logger := NewWithWriter(&bytes.Buffer{}, zerolog.InfoLevel)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message")
	}
}
