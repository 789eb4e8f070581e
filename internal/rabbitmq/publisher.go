package rabbitmq

import (
	"context"
	"errors"
	"time"

	"fitness-messaging/internal/observability"
	"fitness-messaging/pkg/models"
	"fitness-messaging/pkg/queues"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher puts messages on the main queue of a logical queue. It does not
// retry: a failed Publish is reported to the caller, who decides.
type Publisher struct {
	source   ChannelSource
	topology *Topology
	logger   *logrus.Logger
	metrics  observability.MetricsCollector
	appID    string
}

type PublisherConfig struct {
	// AppID is stamped on every message as the AMQP app-id property.
	AppID   string
	Logger  *logrus.Logger
	Metrics observability.MetricsCollector
}

func NewPublisher(source ChannelSource, topology *Topology, cfg PublisherConfig) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = observability.GetLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	return &Publisher{
		source:   source,
		topology: topology,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		appID:    cfg.AppID,
	}
}

// Publish encodes payload with the registry entry of queue and sends it.
// payload must be the queue's registered type (or a pointer to it).
func (p *Publisher) Publish(ctx context.Context, queue string, payload any) error {
	entry, err := queues.Lookup(queue)
	if err != nil {
		return err
	}
	body, err := entry.EncodeAny(payload)
	if err != nil {
		p.metrics.IncPublishFailed(queue)
		return &SerializationError{Queue: queue, Err: err}
	}
	return p.PublishRaw(ctx, queue, body, nil)
}

// PublishRaw sends already encoded bytes to the main queue of queue, declaring
// its topology first if this process has not done so yet.
func (p *Publisher) PublishRaw(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	if err := p.topology.Ensure(queue); err != nil {
		p.metrics.IncPublishFailed(queue)
		return err
	}

	ch, err := p.source.Channel()
	if err != nil {
		p.metrics.IncPublishFailed(queue)
		return &ChannelError{Op: "publish", Err: err}
	}

	msg := amqp.Publishing{
		Headers:      headers,
		ContentType:  models.ContentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		AppId:        p.appID,
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		p.metrics.IncPublishFailed(queue)
		p.logger.WithFields(logrus.Fields{
			"queue": queue,
			"error": err.Error(),
		}).Error("Failed to publish message")
		return &ChannelError{Op: "publish", Err: err}
	}

	p.metrics.IncPublished(queue)
	p.logger.WithFields(logrus.Fields{
		"queue":      queue,
		"message_id": msg.MessageId,
	}).Debug("Message published")
	return nil
}

// Publish is the typed form of Publisher.Publish.
func Publish[T any](ctx context.Context, p *Publisher, q queues.Queue[T], payload T) error {
	body, err := q.Encode(payload)
	if err != nil {
		p.metrics.IncPublishFailed(q.Name())
		return &SerializationError{Queue: q.Name(), Err: err}
	}
	return p.PublishRaw(ctx, q.Name(), body, nil)
}

// IsPublishRetryable reports whether err came from the channel rather than
// from the payload or the topology, i.e. whether the caller may retry.
func IsPublishRetryable(err error) bool {
	var chErr *ChannelError
	return errors.As(err, &chErr)
}
