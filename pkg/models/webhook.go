package models

import (
	"time"
)

// WebhookEvent represents the payload sent to webhooks
type WebhookEvent struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook event types
const (
	WebhookEventProcessingCompleted = "content.processing.completed"
	WebhookEventProcessingFailed    = "content.processing.failed"
)

// ProcessingEvent describes the terminal state reached by one pipeline run
type ProcessingEvent struct {
	ContentID    int64            `json:"content_id"`
	Status       ProcessingStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
	ManifestKey  string           `json:"manifest_key,omitempty"`
	ThumbnailKey string           `json:"thumbnail_key,omitempty"`
	Qualities    []string         `json:"qualities,omitempty"`
	StreamURL    string           `json:"stream_url,omitempty"`
	ThumbnailURL string           `json:"thumbnail_url,omitempty"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty"`
}

// EventName returns the webhook event type for the processing outcome
func (e ProcessingEvent) EventName() string {
	if e.Status == ProcessingStatusCompleted {
		return WebhookEventProcessingCompleted
	}
	return WebhookEventProcessingFailed
}
