package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// AccessLevel controls who may resolve a content's stream
type AccessLevel string

// AccessLevel constants
const (
	AccessLevelFree    AccessLevel = "free"
	AccessLevelPremium AccessLevel = "premium"
)

// Valid reports whether the access level is a known value
func (a AccessLevel) Valid() bool {
	return a == AccessLevelFree || a == AccessLevelPremium
}

// ProcessingStatus is the lifecycle state of a content's video processing
type ProcessingStatus string

// ProcessingStatus constants
const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// IsTerminal reports whether no further automatic transition follows
func (s ProcessingStatus) IsTerminal() bool {
	return s == ProcessingStatusCompleted || s == ProcessingStatusFailed
}

// Content represents a content record that owns an uploaded video
type Content struct {
	ID               int64            `json:"id" db:"id"`
	Title            string           `json:"title" db:"title"`
	AccessLevel      AccessLevel      `json:"access_level" db:"access_level"`
	PreviewSeconds   *int             `json:"preview_seconds,omitempty" db:"preview_seconds"`
	SourceVideoURL   *string          `json:"source_video_url,omitempty" db:"source_video_url"`
	ManifestKey      *string          `json:"manifest_key,omitempty" db:"manifest_key"`
	ThumbnailKey     *string          `json:"thumbnail_key,omitempty" db:"thumbnail_key"`
	QualityManifest  QualityManifest  `json:"quality_manifest,omitempty" db:"quality_manifest"`
	ProcessingStatus ProcessingStatus `json:"processing_status" db:"processing_status"`
	ProcessingError  *string          `json:"processing_error,omitempty" db:"processing_error"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// Status returns the processing status, treating an unset value as pending
func (c Content) Status() ProcessingStatus {
	if c.ProcessingStatus == "" {
		return ProcessingStatusPending
	}
	return c.ProcessingStatus
}

// IsCompleted reports whether the last processing attempt succeeded
func (c Content) IsCompleted() bool {
	return c.Status() == ProcessingStatusCompleted
}

// HasStream reports whether a processed manifest exists
func (c Content) HasStream() bool {
	return c.ManifestKey != nil && *c.ManifestKey != ""
}

// PreviewAvailable reports whether a premium preview window is configured
func (c Content) PreviewAvailable() bool {
	return c.AccessLevel == AccessLevelPremium && c.PreviewSeconds != nil && *c.PreviewSeconds > 0
}

// AvailableQualities returns the processed tier labels in ascending quality order
func (c Content) AvailableQualities() []string {
	return c.QualityManifest.Tiers()
}

// CompletedFields holds the processing fields written on success
type CompletedFields struct {
	ManifestKey  string
	ThumbnailKey string
	Qualities    QualityManifest
	ProcessedAt  time.Time
}

// Validate checks the completed fields for the quality map invariant
func (f CompletedFields) Validate() error {
	if f.ManifestKey == "" {
		return fmt.Errorf("manifest key is required")
	}
	if len(f.Qualities) == 0 {
		return fmt.Errorf("quality manifest must not be empty")
	}
	if f.ProcessedAt.IsZero() {
		return fmt.Errorf("processed_at is required")
	}
	return nil
}

// QualityManifest maps a tier label (e.g. "720p") to its playlist storage key
type QualityManifest map[string]string

// Tiers returns the tier labels ordered by their vertical resolution
func (q QualityManifest) Tiers() []string {
	tiers := make([]string, 0, len(q))
	for tier := range q {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool {
		hi, hj := TierHeight(tiers[i]), TierHeight(tiers[j])
		if hi != hj {
			return hi < hj
		}
		return tiers[i] < tiers[j]
	})
	return tiers
}

// Value implements driver.Valuer for database storage
func (q QualityManifest) Value() (driver.Value, error) {
	if q == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(q)
}

// Scan implements sql.Scanner for database retrieval
func (q *QualityManifest) Scan(value interface{}) error {
	if value == nil {
		*q = QualityManifest{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported quality manifest type %T", value)
	}

	m := QualityManifest{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*q = m
	return nil
}

// TierHeight parses the height out of a tier label like "480p"; 0 if unparseable
func TierHeight(tier string) int {
	var height int
	if _, err := fmt.Sscanf(tier, "%dp", &height); err != nil {
		return 0
	}
	return height
}
