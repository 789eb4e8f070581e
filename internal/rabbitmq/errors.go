package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotInitialized is returned when the channel is requested before
	// Manager.Initialize has succeeded.
	ErrNotInitialized = errors.New("rabbitmq: channel not initialized")
	// ErrClosed is returned by a Manager after Close.
	ErrClosed = errors.New("rabbitmq: manager closed")
	// ErrDeliveriesClosed is returned by Consume when the broker closes the
	// delivery stream (channel or connection closed underneath the consumer).
	ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")
)

// ConnectionError reports a failure to reach or authenticate with the broker.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq: connect %s: %v", redactURL(e.URL), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TopologyError reports a queue declaration failure. Mismatch is set when
// the broker refused the declaration because a queue of the same name exists
// with different arguments.
type TopologyError struct {
	Queue    string
	Mismatch bool
	Err      error
}

func (e *TopologyError) Error() string {
	if e.Mismatch {
		return fmt.Sprintf("rabbitmq: declare queue %q: arguments differ from existing queue: %v", e.Queue, e.Err)
	}
	return fmt.Sprintf("rabbitmq: declare queue %q: %v", e.Queue, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// SerializationError reports a payload that could not be encoded for a queue.
type SerializationError struct {
	Queue string
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("rabbitmq: serialize payload for %q: %v", e.Queue, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// ChannelError reports a broker operation that failed on the channel.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("rabbitmq: %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// RoutingError reports that a failed delivery could not be forwarded to its
// retry or dead-letter queue. The original delivery is left unacknowledged;
// the process is expected to exit so the broker requeues it.
type RoutingError struct {
	Queue  string
	Target string
	Err    error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("rabbitmq: route message from %q to %q: %v", e.Queue, e.Target, e.Err)
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

// IsPreconditionFailed reports whether err carries the broker's
// PRECONDITION_FAILED reply.
func IsPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
