package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/config"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

// maxResponseBytes bounds how much of a receiver's reply is kept for logs
const maxResponseBytes = 1024

// Service delivers processing events to the configured endpoints
type Service struct {
	client      *http.Client
	urls        []string
	secret      string
	retryDelays []time.Duration
	logger      *logging.Logger
	now         func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithRetryDelays replaces the waits between delivery attempts
func WithRetryDelays(delays ...time.Duration) Option {
	return func(s *Service) { s.retryDelays = delays }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.client = client }
}

// NewService creates a new webhook service
func NewService(cfg config.WebhookConfig, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &Service{
		client: &http.Client{
			Timeout: timeout,
		},
		urls:        cfg.URLs,
		secret:      cfg.Secret,
		retryDelays: []time.Duration{time.Second, 5 * time.Second},
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether any endpoint is configured
func (s *Service) Enabled() bool {
	return len(s.urls) > 0
}

// Notify delivers the processing event to every endpoint. All endpoints are
// attempted; the returned error joins the endpoints that never accepted it.
func (s *Service) Notify(ctx context.Context, event models.ProcessingEvent) error {
	payload := models.WebhookEvent{
		ID:        uuid.New().String(),
		Event:     event.EventName(),
		Timestamp: s.now().UTC(),
		Data:      event,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var errs []error
	for _, url := range s.urls {
		if err := s.deliverWithRetry(ctx, url, payload, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) deliverWithRetry(ctx context.Context, url string, payload models.WebhookEvent, body []byte) error {
	logger := s.logger.WithFields(map[string]interface{}{
		"delivery_id": payload.ID,
		"event":       payload.Event,
		"url":         url,
	})

	var err error
	for attempt := 0; ; attempt++ {
		err = s.deliver(ctx, url, payload, body)
		if err == nil {
			metrics.RecordWebhookDelivery(payload.Event, "delivered")
			logger.Debug("Webhook delivered")
			return nil
		}

		if attempt >= len(s.retryDelays) {
			break
		}
		logger.WithError(err).Warnf("Webhook delivery attempt %d failed", attempt+1)

		select {
		case <-ctx.Done():
			metrics.RecordWebhookDelivery(payload.Event, "failed")
			return ctx.Err()
		case <-time.After(s.retryDelays[attempt]):
		}
	}

	metrics.RecordWebhookDelivery(payload.Event, "failed")
	logger.WithError(err).Error("Webhook delivery failed")
	return err
}

// deliver makes one delivery attempt
func (s *Service) deliver(ctx context.Context, url string, payload models.WebhookEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "StreamVault-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", payload.Event)
	req.Header.Set("X-Webhook-Delivery", payload.ID)

	// Add HMAC signature if secret is configured
	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("receiver returned %d: %s", resp.StatusCode, bytes.TrimSpace(reply))
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for a payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature header value in constant time
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
