package rabbitmq

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	brokercfg "fitness-messaging/config/rabbitmq"
	"fitness-messaging/internal/observability"
	"fitness-messaging/pkg/models"
	"fitness-messaging/pkg/queues"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// routeTimeout bounds the publish of a failed message to its retry or
// dead-letter queue.
const routeTimeout = 10 * time.Second

// Handler processes one delivery. A returned error (or a panic) sends the
// message around the retry cycle.
type Handler func(ctx context.Context, msg *models.Message) error

type ConsumerConfig struct {
	PrefetchCount int
	MaxRetries    int
	// HandlerTimeout bounds each handler call through its context; zero disables it.
	HandlerTimeout time.Duration
	// ConsumerTag prefixes the broker consumer tag of each subscription.
	ConsumerTag string
	Logger      *logrus.Logger
	Metrics     observability.MetricsCollector
	Tracer      trace.Tracer
}

// Consumer subscribes to main queues and applies the retry/dead-letter policy
// to failed deliveries.
type Consumer struct {
	source         ChannelSource
	topology       *Topology
	prefetch       int
	maxRetries     int
	handlerTimeout time.Duration
	tagPrefix      string
	logger         *logrus.Logger
	metrics        observability.MetricsCollector
	tracer         trace.Tracer
}

func NewConsumer(source ChannelSource, topology *Topology, cfg ConsumerConfig) *Consumer {
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = brokercfg.DefaultPrefetchCount
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = brokercfg.DefaultMaxRetries
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "consumer"
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.GetLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.Tracer()
	}

	return &Consumer{
		source:         source,
		topology:       topology,
		prefetch:       cfg.PrefetchCount,
		maxRetries:     cfg.MaxRetries,
		handlerTimeout: cfg.HandlerTimeout,
		tagPrefix:      cfg.ConsumerTag,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
	}
}

// Consume subscribes to queue and handles deliveries one at a time until ctx
// is cancelled, in which case it cancels the subscription and returns nil.
// queue must be registered in the queues package; each body is decoded into
// its payload type before the handler runs, and a body that does not decode
// or validate is handled like a handler error.
// Any other return is fatal for the subscription: setup failures, a closed
// delivery stream, a failed ack, or a *RoutingError.
func (c *Consumer) Consume(ctx context.Context, queue string, handler Handler) error {
	entry, err := queues.Lookup(queue)
	if err != nil {
		return err
	}
	if err := c.topology.Ensure(queue); err != nil {
		return err
	}

	ch, err := c.source.Channel()
	if err != nil {
		return &ChannelError{Op: "consume", Err: err}
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return &ChannelError{Op: "qos", Err: err}
	}

	tag := fmt.Sprintf("%s.%s.%s", c.tagPrefix, queue, uuid.NewString())
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return &ChannelError{Op: "consume", Err: err}
	}

	logger := c.logger.WithField("queue", queue)
	logger.WithField("consumer_tag", tag).Info("Consumer started")

	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(tag, false); err != nil {
				logger.WithError(err).Warn("Failed to cancel consumer")
			}
			logger.Info("Consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			if err := c.processDelivery(ctx, ch, entry, d, handler); err != nil {
				return err
			}
		}
	}
}

// Consume is the typed form of Consumer.Consume. A body that does not decode
// into T, or fails its Validate, is handled like a handler error.
func Consume[T any](ctx context.Context, c *Consumer, q queues.Queue[T], handler func(context.Context, T) error) error {
	return c.Consume(ctx, q.Name(), func(ctx context.Context, msg *models.Message) error {
		payload, ok := msg.Payload.(T)
		if !ok {
			return fmt.Errorf("%w: %T for %s", queues.ErrPayloadMismatch, msg.Payload, q.Name())
		}
		return handler(ctx, payload)
	})
}

// processDelivery runs the handler and acks the delivery exactly once, after
// any forward to the retry or dead-letter queue has been published. If that
// publish fails the delivery is left unacked and a *RoutingError returned.
func (c *Consumer) processDelivery(ctx context.Context, ch Channel, entry queues.Entry, d amqp.Delivery, handler Handler) error {
	queue := entry.Name()
	attempt := RetryCount(d.Headers)
	msg := toMessage(queue, d)

	logger := c.logger.WithFields(logrus.Fields{
		"queue":        queue,
		"attempt":      attempt,
		"delivery_tag": d.DeliveryTag,
		"message_id":   d.MessageId,
	})

	c.metrics.IncReceived(queue)
	handlerErr := c.invoke(ctx, entry, attempt, msg, handler)
	tr := Next(attempt, handlerErr, c.maxRetries)

	switch tr.State {
	case StateSucceeded:
		c.metrics.IncProcessed(queue)
		logger.Debug("Message processed successfully")

	case StateRetryScheduled:
		c.metrics.IncFailed(queue)
		target := RetryQueueName(queue)
		logger.WithFields(logrus.Fields{
			"retry_count": tr.RetryCount,
			"error":       handlerErr.Error(),
		}).Warn("Message processing failed, scheduling retry")

		if err := c.forward(ctx, ch, target, d, retryHeaders(d.Headers, tr.RetryCount)); err != nil {
			return &RoutingError{Queue: queue, Target: target, Err: err}
		}
		c.metrics.IncRetried(queue)

	case StateDeadLettered:
		c.metrics.IncFailed(queue)
		target := DeadLetterQueueName(queue)
		logger.WithFields(logrus.Fields{
			"retry_count": tr.RetryCount,
			"error":       handlerErr.Error(),
		}).Error("Retries exhausted, moving message to DLQ")

		if err := c.forward(ctx, ch, target, d, deadLetterHeaders(d.Headers, queue, tr.RetryCount, handlerErr)); err != nil {
			return &RoutingError{Queue: queue, Target: target, Err: err}
		}
		c.metrics.IncSentToDLQ(queue)
	}

	if err := d.Ack(false); err != nil {
		return &ChannelError{Op: "ack", Err: err}
	}
	return nil
}

// invoke decodes the body and calls handler inside a span, with the
// configured timeout, turning a panic into an error. The handler context is
// detached from ctx so that a shutdown lets the in-flight message finish.
func (c *Consumer) invoke(ctx context.Context, entry queues.Entry, attempt int, msg *models.Message, handler Handler) (err error) {
	queue := entry.Name()
	ctx, span := c.tracer.Start(context.WithoutCancel(ctx), queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", queue),
			attribute.String("messaging.message.id", msg.ID),
			attribute.Int("messaging.rabbitmq.retry_count", attempt),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if c.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"queue": queue,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Panic in message handler")
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	payload, err := entry.DecodeAny(msg.Body)
	if err != nil {
		return err
	}
	msg.Payload = payload

	return handler(ctx, msg)
}

// forward re-publishes the delivery body unchanged to target. It uses its own
// deadline so a cancelled consumer context cannot strand the message.
func (c *Consumer) forward(ctx context.Context, ch Channel, target string, d amqp.Delivery, headers amqp.Table) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), routeTimeout)
	defer cancel()

	return ch.PublishWithContext(ctx, "", target, false, false, amqp.Publishing{
		Headers:         headers,
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    amqp.Persistent,
		CorrelationId:   d.CorrelationId,
		MessageId:       d.MessageId,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		AppId:           d.AppId,
		Body:            d.Body,
	})
}

func toMessage(queue string, d amqp.Delivery) *models.Message {
	headers := make(map[string]interface{}, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}
	return &models.Message{
		ID:          d.MessageId,
		Queue:       queue,
		Body:        d.Body,
		Headers:     headers,
		ContentType: d.ContentType,
		Redelivered: d.Redelivered,
		Timestamp:   d.Timestamp,
	}
}
