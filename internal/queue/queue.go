package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/config"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/tracing"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
)

const (
	ProcessingQueueName = "video_processing"
	ExchangeName        = "streamvault"
)

// Channel is the subset of *amqp.Channel the queue uses
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueInspect(name string) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Handler processes one job; its error decides the message disposition
type Handler func(ctx context.Context, job *models.ProcessJob) error

// Queue provides message queue operations
type Queue struct {
	conn       *amqp.Connection
	channel    Channel
	maxRetries int
	logger     *logging.Logger
	now        func() time.Time
}

// New creates a new queue client and declares the topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := NewWithChannel(channel, cfg.MaxRetries, logger)
	q.conn = conn

	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

// NewWithChannel wraps an already open channel
func NewWithChannel(channel Channel, maxRetries int, logger *logging.Logger) *Queue {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Queue{
		channel:    channel,
		maxRetries: maxRetries,
		logger:     logger,
		now:        time.Now,
	}
}

func (q *Queue) declare() error {
	// Declare exchange
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = q.channel.QueueDeclare(
		ProcessingQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = q.channel.QueueBind(
		ProcessingQueueName,
		ProcessingQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return q.setupDeadLetterQueue()
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishJob publishes a processing job to the queue
func (q *Queue) PublishJob(ctx context.Context, job *models.ProcessJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	headers := amqp.Table{}
	tracing.Inject(ctx, headers)

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		ProcessingQueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.ID,
			Body:         body,
			Timestamp:    q.now(),
			Headers:      headers,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}

// ConsumeJobs consumes jobs until ctx is done or the delivery channel closes.
// At most concurrency jobs run at once, each bounded by jobTimeout. It waits
// for in-flight jobs before returning.
func (q *Queue) ConsumeJobs(ctx context.Context, concurrency int, jobTimeout time.Duration, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	// Set QoS to limit concurrent processing
	err := q.channel.Qos(
		concurrency, // prefetch count
		0,           // prefetch size
		false,       // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		ProcessingQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	var wg sync.WaitGroup
	slots := make(chan struct{}, concurrency)
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				msg.Nack(false, true)
				return nil
			}

			wg.Add(1)
			go func(msg amqp.Delivery) {
				defer wg.Done()
				defer func() { <-slots }()
				q.handleDelivery(ctx, msg, jobTimeout, handler)
			}(msg)
		}
	}
}

// handleDelivery runs the handler for one message and settles it
func (q *Queue) handleDelivery(ctx context.Context, msg amqp.Delivery, jobTimeout time.Duration, handler Handler) {
	var job models.ProcessJob
	if err := json.Unmarshal(msg.Body, &job); err != nil || job.ContentID <= 0 {
		reason := "malformed message"
		if err != nil {
			reason += ": " + err.Error()
		}
		q.settle(ctx, msg, nil, DeadLetter, reason)
		return
	}

	// in-flight jobs outlive consumer shutdown and are bounded by jobTimeout only
	span, jctx := tracing.StartConsumerSpan(context.WithoutCancel(ctx), "queue.consume", msg.Headers)
	tracing.SetTag(span, "job_id", job.ID)
	tracing.SetTag(span, "attempt", job.Attempt)
	defer tracing.FinishSpan(span)

	if jobTimeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(jctx, jobTimeout)
		defer cancel()
	}

	q.logger.Debugf("Dispatching job %s for content %d (attempt %d)", job.ID, job.ContentID, job.Attempt)
	err := handler(jctx, &job)
	tracing.LogError(span, err)

	disposition := Decide(err, job.Attempt, q.maxRetries)
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	q.settle(ctx, msg, &job, disposition, reason)
}

// settle applies the disposition. A failed republish leaves the message
// unacknowledged and requeued so it is not lost.
func (q *Queue) settle(ctx context.Context, msg amqp.Delivery, job *models.ProcessJob, disposition Disposition, reason string) {
	pctx := context.WithoutCancel(ctx)

	var err error
	switch disposition {
	case Retry:
		err = q.PublishToRetryQueue(pctx, job)
	case DeadLetter:
		err = q.PublishToDeadLetterQueue(pctx, msg.Body, reason)
	}
	if err != nil {
		q.logger.WithError(err).Error("Failed to republish message, requeueing")
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)

	jobID, attempt, queueTime := msg.MessageId, 0, -1.0
	if job != nil {
		jobID, attempt = job.ID, job.Attempt
		if !job.EnqueuedAt.IsZero() {
			queueTime = q.now().Sub(job.EnqueuedAt).Seconds()
		}
	}
	recordDisposition(q.logger, jobID, disposition, attempt, queueTime, reason)
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(ProcessingQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}

// MonitorDepth publishes the processing and dead letter queue depths every
// interval until ctx is done
func (q *Queue) MonitorDepth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		q.reportDepth()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (q *Queue) reportDepth() {
	if depth, err := q.GetQueueDepth(); err == nil {
		metrics.SetQueueDepth(ProcessingQueueName, depth)
	} else {
		q.logger.WithError(err).Warn("Failed to read queue depth")
	}
	if depth, err := q.GetDLQDepth(); err == nil {
		metrics.SetQueueDepth(DeadLetterQueueName, depth)
	} else {
		q.logger.WithError(err).Warn("Failed to read dead letter queue depth")
	}
}
