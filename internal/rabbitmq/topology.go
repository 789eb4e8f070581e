package rabbitmq

import (
	"sync"
	"time"

	brokercfg "fitness-messaging/config/rabbitmq"
	"fitness-messaging/internal/observability"
	"fitness-messaging/pkg/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Queue argument keys understood by RabbitMQ.
const (
	argDeadLetterExchange   = "x-dead-letter-exchange"
	argDeadLetterRoutingKey = "x-dead-letter-routing-key"
	argMessageTTL           = "x-message-ttl"
)

// RetryQueueName is the physical queue holding delayed retries of queue.
func RetryQueueName(queue string) string {
	return queue + models.RetrySuffix
}

// DeadLetterQueueName is the physical queue holding exhausted messages of queue.
func DeadLetterQueueName(queue string) string {
	return queue + models.DeadLetterSuffix
}

// QueueSpec is one physical queue declaration.
type QueueSpec struct {
	Name string
	Args amqp.Table
}

// QueueSpecs lists the declarations for a logical queue in declaration order:
// dead-letter, retry, main. The retry queue hands messages back to the main
// queue through the default exchange once retryDelay has elapsed. The main
// queue's dead-letter wiring to the retry queue is never triggered by the
// consumer, which acks and re-publishes explicitly so it can bump the
// retry counter.
func QueueSpecs(queue string, retryDelay time.Duration) []QueueSpec {
	return []QueueSpec{
		{Name: DeadLetterQueueName(queue)},
		{
			Name: RetryQueueName(queue),
			Args: amqp.Table{
				argDeadLetterExchange:   "",
				argDeadLetterRoutingKey: queue,
				argMessageTTL:           int32(retryDelay.Milliseconds()),
			},
		},
		{
			Name: queue,
			Args: amqp.Table{
				argDeadLetterExchange:   "",
				argDeadLetterRoutingKey: RetryQueueName(queue),
			},
		},
	}
}

// Topology declares the main/retry/dead-letter triple for logical queues,
// once per name per process.
type Topology struct {
	source     ChannelSource
	retryDelay time.Duration
	logger     *logrus.Logger

	mu       sync.Mutex
	declared map[string]struct{}
}

func NewTopology(source ChannelSource, retryDelay time.Duration, logger *logrus.Logger) *Topology {
	if retryDelay <= 0 {
		retryDelay = brokercfg.DefaultRetryDelay
	}
	if logger == nil {
		logger = observability.GetLogger()
	}
	return &Topology{
		source:     source,
		retryDelay: retryDelay,
		logger:     logger,
		declared:   make(map[string]struct{}),
	}
}

// Ensure declares the three durable queues backing queue. Declaration with
// identical arguments is idempotent on the broker; a mismatch with an
// existing queue returns a *TopologyError and is not retried.
func (t *Topology) Ensure(queue string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.declared[queue]; ok {
		return nil
	}

	ch, err := t.source.Channel()
	if err != nil {
		return &ChannelError{Op: "declare topology", Err: err}
	}

	for _, spec := range QueueSpecs(queue, t.retryDelay) {
		if _, err := ch.QueueDeclare(spec.Name, true, false, false, false, spec.Args); err != nil {
			topoErr := &TopologyError{Queue: spec.Name, Mismatch: IsPreconditionFailed(err), Err: err}
			if topoErr.Mismatch {
				t.logger.WithFields(logrus.Fields{
					"queue": spec.Name,
					"args":  spec.Args,
				}).Error("Queue exists with different arguments")
			}
			return topoErr
		}
	}

	t.declared[queue] = struct{}{}
	t.logger.WithFields(logrus.Fields{
		"queue":       queue,
		"retry_delay": t.retryDelay,
	}).Info("Queue topology declared")
	return nil
}
