package models

import (
	"time"
)

// ProcessJob is the queue message that asks a worker to process one upload
type ProcessJob struct {
	ID         string    `json:"id"`
	ContentID  int64     `json:"content_id"`
	SourcePath string    `json:"source_path"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempt    int       `json:"attempt"`
}
