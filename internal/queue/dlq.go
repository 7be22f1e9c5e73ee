package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

const (
	DeadLetterQueueName    = "video_processing_dlq"
	DeadLetterExchangeName = "streamvault_dlq"
	RetryQueueName         = "video_processing_retry"
)

// Disposition is how a consumed message is settled
type Disposition string

const (
	Ack        Disposition = "ack"
	Retry      Disposition = "retry"
	DeadLetter Disposition = "dead_letter"
)

// Decide maps a handler result to a disposition. Retryable failures are
// retried until attempt reaches maxRetries; everything else is dead-lettered.
func Decide(err error, attempt, maxRetries int) Disposition {
	if err == nil {
		return Ack
	}
	if apperrors.Retryable(err) && attempt < maxRetries {
		return Retry
	}
	return DeadLetter
}

// setupDeadLetterQueue sets up the dead letter queue infrastructure
func (q *Queue) setupDeadLetterQueue() error {
	// Declare dead letter exchange
	err := q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	// Declare dead letter queue
	_, err = q.channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	// Bind DLQ to exchange
	err = q.channel.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	// Expired retry messages dead-letter back onto the processing queue.
	// The delay comes from the per-message expiration.
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": ProcessingQueueName,
	}

	_, err = q.channel.QueueDeclare(
		RetryQueueName,
		true,
		false,
		false,
		false,
		retryArgs,
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	q.logger.Debug("Dead letter queue infrastructure set up")
	return nil
}

// PublishToRetryQueue schedules the next attempt of job after a backoff delay
func (q *Queue) PublishToRetryQueue(ctx context.Context, job *models.ProcessJob) error {
	if job == nil {
		return errors.New("no job to retry")
	}

	next := *job
	next.Attempt = job.Attempt + 1

	body, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// Calculate exponential backoff delay
	delay := BackoffDelay(job.Attempt)

	err = q.channel.PublishWithContext(ctx,
		"",
		RetryQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.ID,
			Body:         body,
			Timestamp:    q.now(),
			Headers:      amqp.Table{"x-retry-count": int32(next.Attempt)},
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	q.logger.WithJobID(job.ID).Infof("Job queued for retry #%d in %v", next.Attempt, delay)
	return nil
}

// PublishToDeadLetterQueue parks a message body with the reason it failed
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, body []byte, reason string) error {
	headers := amqp.Table{
		"x-failure-reason": reason,
		"x-failed-at":      q.now().UTC().Format(time.RFC3339),
	}

	err := q.channel.PublishWithContext(ctx,
		DeadLetterExchangeName,
		DeadLetterQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    q.now(),
			Headers:      headers,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	return nil
}

// BackoffDelay returns the delay before retry attempt n+1: 1m doubling, capped at 1h
func BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 6 {
		return time.Hour
	}

	delay := time.Minute * time.Duration(1<<attempt)
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

// GetDLQDepth returns the number of messages in the dead letter queue
func (q *Queue) GetDLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}

func recordDisposition(logger *logging.Logger, jobID string, disposition Disposition, attempt int, queueTime float64, reason string) {
	metrics.RecordQueueDisposition(string(disposition), queueTime)

	var err error
	if reason != "" {
		err = errors.New(reason)
	}
	if disposition == DeadLetter {
		metrics.RecordError("queue", "dead_letter")
	}
	logger.LogQueueDisposition(jobID, string(disposition), attempt, err)
}
