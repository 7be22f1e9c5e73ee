// Package apperrors defines the failure taxonomy shared by the processing
// pipeline, the queue disposition logic and the HTTP surface.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrRecordNotFound is returned when a content record does not exist.
// It signals an upstream inconsistency and is never retried.
var ErrRecordNotFound = errors.New("record not found")

// SourceMediaError reports an unreadable or invalid input file
type SourceMediaError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SourceMediaError) Error() string {
	msg := fmt.Sprintf("source media %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceMediaError) Unwrap() error { return e.Err }

// TranscodeError reports a conversion tool failure for one tier
type TranscodeError struct {
	Tier       string
	Diagnostic string
	Err        error
}

func (e *TranscodeError) Error() string {
	msg := "transcode"
	if e.Tier != "" {
		msg += " " + e.Tier
	}
	msg += " failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if d := strings.TrimSpace(e.Diagnostic); d != "" {
		msg += ": " + d
	}
	return msg
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// StorageError reports an object write failure
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store object %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ResourceError reports local disk or workspace exhaustion
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("workspace %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// SigningError reports a failure to produce a signed URL
type SigningError struct {
	Key string
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign %s: %v", e.Key, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// consumedError marks a failure whose job input no longer exists
type consumedError struct {
	err error
}

func (e *consumedError) Error() string { return e.err.Error() }

func (e *consumedError) Unwrap() error { return e.err }

// InputConsumed wraps err to record that the job's input was removed, so
// re-enqueueing the same job cannot succeed whatever the underlying failure
func InputConsumed(err error) error {
	if err == nil {
		return nil
	}
	return &consumedError{err: err}
}

// Retryable reports whether re-enqueueing the same job may succeed
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.As(err, new(*consumedError)):
		return false
	case errors.Is(err, ErrRecordNotFound):
		return false
	case errors.As(err, new(*SourceMediaError)):
		return false
	case errors.As(err, new(*SigningError)):
		return false
	case errors.As(err, new(*TranscodeError)), errors.As(err, new(*StorageError)), errors.As(err, new(*ResourceError)):
		return true
	}

	// Unclassified faults (database outages, cancellations) are retried
	return true
}

// Kind returns a short label for metrics and logs
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrRecordNotFound):
		return "record_not_found"
	case errors.As(err, new(*SourceMediaError)):
		return "source_media"
	case errors.As(err, new(*TranscodeError)):
		return "transcode"
	case errors.As(err, new(*StorageError)):
		return "storage"
	case errors.As(err, new(*ResourceError)):
		return "resource"
	case errors.As(err, new(*SigningError)):
		return "signing"
	default:
		return "internal"
	}
}

// IsNoSpace reports whether err or a diagnostic text indicates disk exhaustion
func IsNoSpace(err error, diagnostic string) bool {
	if err != nil && (errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)) {
		return true
	}
	d := strings.ToLower(diagnostic)
	return strings.Contains(d, "no space left on device") || strings.Contains(d, "disk quota exceeded")
}
