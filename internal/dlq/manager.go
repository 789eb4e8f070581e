// Package dlq is the operator surface over the per-queue dead-letter queues:
// inspect, archive to MongoDB, replay to the main queue, or purge.
//
// Nothing here runs automatically. Dead letters stay on "<queue>-dlq" until an
// operator decides what to do with them:
//
//	m := dlq.NewManager(source, topology, publisher, archive, logger)
//	letters, _ := m.List(ctx, "create-expert", 20)
//	replayed, _ := m.Replay(ctx, "create-expert", 0)
package dlq

import (
	"context"
	"fmt"
	"time"

	"fitness-messaging/internal/observability"
	"fitness-messaging/internal/rabbitmq"
	"fitness-messaging/internal/store"
	"fitness-messaging/pkg/models"
	"fitness-messaging/pkg/queues"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Manager moves messages off dead-letter queues. Every operation settles a
// DLQ delivery only after its destination (archive or main queue) accepted it.
type Manager struct {
	source    rabbitmq.ChannelSource
	topology  *rabbitmq.Topology
	publisher *rabbitmq.Publisher
	archive   store.DeadLetterStore
	logger    *logrus.Logger
	now       func() time.Time
}

// NewManager wires the manager. archive may be nil when Archive is not used.
func NewManager(source rabbitmq.ChannelSource, topology *rabbitmq.Topology, publisher *rabbitmq.Publisher, archive store.DeadLetterStore, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = observability.GetLogger()
	}
	return &Manager{
		source:    source,
		topology:  topology,
		publisher: publisher,
		archive:   archive,
		logger:    logger,
		now:       time.Now,
	}
}

// List returns up to limit dead letters of queue without removing them.
// limit <= 0 lists the whole queue. Every fetched message is requeued.
func (m *Manager) List(ctx context.Context, queue string, limit int) (letters []*models.DeadLetter, err error) {
	ch, err := m.open(queue)
	if err != nil {
		return nil, err
	}

	var held []amqp.Delivery
	defer func() {
		for _, d := range held {
			if nackErr := d.Nack(false, true); nackErr != nil && err == nil {
				err = &rabbitmq.ChannelError{Op: "requeue", Err: nackErr}
			}
		}
	}()

	dlq := rabbitmq.DeadLetterQueueName(queue)
	for limit <= 0 || len(held) < limit {
		if err := ctx.Err(); err != nil {
			return letters, err
		}
		d, ok, err := ch.Get(dlq, false)
		if err != nil {
			return letters, &rabbitmq.ChannelError{Op: "get", Err: err}
		}
		if !ok {
			break
		}
		held = append(held, d)
		letters = append(letters, m.toDeadLetter(queue, d))
	}
	return letters, nil
}

// Archive moves up to limit dead letters of queue into the archive store.
// A message is acked only after its document was inserted; on an insert
// failure it is requeued and Archive stops.
func (m *Manager) Archive(ctx context.Context, queue string, limit int) (int, error) {
	if m.archive == nil {
		return 0, fmt.Errorf("dlq: no archive store configured")
	}
	return m.drain(ctx, queue, limit, "archive", func(d amqp.Delivery) error {
		return m.archive.InsertDeadLetter(ctx, m.toDeadLetter(queue, d))
	})
}

// Replay re-publishes up to limit dead letters of queue to the main queue
// with the retry counter reset, giving each a fresh retry budget. The DLQ
// copy is acked only after the publish succeeded. limit <= 0 replays the
// messages present when Replay started.
func (m *Manager) Replay(ctx context.Context, queue string, limit int) (int, error) {
	return m.drain(ctx, queue, limit, "replay", func(d amqp.Delivery) error {
		return m.publisher.PublishRaw(ctx, queue, d.Body, replayHeaders(d.Headers, m.now()))
	})
}

// Purge drops every message on the dead-letter queue of queue.
func (m *Manager) Purge(ctx context.Context, queue string) (int, error) {
	ch, err := m.open(queue)
	if err != nil {
		return 0, err
	}
	n, err := ch.QueuePurge(rabbitmq.DeadLetterQueueName(queue), false)
	if err != nil {
		return 0, &rabbitmq.ChannelError{Op: "purge", Err: err}
	}
	m.logger.WithFields(logrus.Fields{"queue": queue, "count": n}).Warn("Dead-letter queue purged")
	return n, nil
}

func (m *Manager) drain(ctx context.Context, queue string, limit int, op string, move func(amqp.Delivery) error) (int, error) {
	ch, err := m.open(queue)
	if err != nil {
		return 0, err
	}

	dlq := rabbitmq.DeadLetterQueueName(queue)
	depth, err := m.depth(ch, queue)
	if err != nil {
		return 0, err
	}
	// Messages dead-lettered again while draining land behind the snapshot
	// and are left for the next run.
	if limit <= 0 || limit > depth {
		limit = depth
	}

	moved := 0
	for moved < limit {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		d, ok, err := ch.Get(dlq, false)
		if err != nil {
			return moved, &rabbitmq.ChannelError{Op: "get", Err: err}
		}
		if !ok {
			break
		}

		if err := move(d); err != nil {
			if nackErr := d.Nack(false, true); nackErr != nil {
				m.logger.WithError(nackErr).Error("Failed to requeue dead letter")
			}
			return moved, fmt.Errorf("dlq: %s message %s from %s: %w", op, d.MessageId, dlq, err)
		}
		if err := d.Ack(false); err != nil {
			return moved, &rabbitmq.ChannelError{Op: "ack", Err: err}
		}
		moved++
	}

	m.logger.WithFields(logrus.Fields{
		"queue": queue,
		"op":    op,
		"count": moved,
	}).Info("Dead letters processed")
	return moved, nil
}

// depth reports how many messages are ready on the dead-letter queue of queue.
func (m *Manager) depth(ch rabbitmq.Channel, queue string) (int, error) {
	spec := rabbitmq.QueueSpecs(queue, 0)[0]
	q, err := ch.QueueDeclare(spec.Name, true, false, false, false, spec.Args)
	if err != nil {
		return 0, &rabbitmq.ChannelError{Op: "inspect", Err: err}
	}
	return q.Messages, nil
}

// open validates queue against the registry, makes sure its topology exists
// and returns the channel.
func (m *Manager) open(queue string) (rabbitmq.Channel, error) {
	if _, err := queues.Lookup(queue); err != nil {
		return nil, err
	}
	if err := m.topology.Ensure(queue); err != nil {
		return nil, err
	}
	ch, err := m.source.Channel()
	if err != nil {
		return nil, &rabbitmq.ChannelError{Op: "dlq", Err: err}
	}
	return ch, nil
}

func (m *Manager) toDeadLetter(queue string, d amqp.Delivery) *models.DeadLetter {
	headers := make(map[string]interface{}, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}
	reason, _ := d.Headers[models.HeaderFailureReason].(string)
	return &models.DeadLetter{
		ID:          uuid.NewString(),
		Queue:       queue,
		MessageID:   d.MessageId,
		Body:        d.Body,
		Headers:     headers,
		RetryCount:  rabbitmq.RetryCount(d.Headers),
		Reason:      reason,
		ArchivedAt:  m.now().UTC(),
		PublishedAt: d.Timestamp,
	}
}

// replayHeaders keeps the original headers, resets the retry counter and
// records when the message was replayed.
func replayHeaders(in amqp.Table, at time.Time) amqp.Table {
	out := make(amqp.Table, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	out[models.HeaderRetryCount] = int32(0)
	out[models.HeaderReplayedAt] = at.UTC().Format(time.RFC3339)
	return out
}
