package rabbitmq

import (
	"errors"
	"time"
)

const (
	DefaultPrefetchCount  = 1
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 10 * time.Second
	DefaultHandlerTimeout = 30 * time.Second
)

// Config holds the broker-layer settings shared by the publisher and the
// consumers of one process.
type Config struct {
	URL string
	// PrefetchCount is the number of unacknowledged deliveries a consumer may hold.
	PrefetchCount int
	// MaxRetries is the number of failed deliveries that sends a message to the DLQ.
	MaxRetries int
	// RetryDelay is the TTL of the retry queue. It is a queue argument, so it
	// must match queues that already exist on the broker.
	RetryDelay time.Duration
	// HandlerTimeout bounds one handler invocation; zero disables the bound.
	HandlerTimeout time.Duration
	ConsumerTag    string
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.PrefetchCount == 0 {
		c.PrefetchCount = DefaultPrefetchCount
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url cannot be empty")
	}
	if c.PrefetchCount < 1 {
		return errors.New("prefetchCount must be at least 1")
	}
	if c.MaxRetries < 1 {
		return errors.New("maxRetries must be at least 1")
	}
	if c.RetryDelay < time.Millisecond {
		return errors.New("retryDelay must be at least 1ms")
	}
	if c.HandlerTimeout < 0 {
		return errors.New("handlerTimeout cannot be negative")
	}
	return nil
}
