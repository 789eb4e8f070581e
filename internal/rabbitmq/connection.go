package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	"fitness-messaging/internal/observability"

	"github.com/sirupsen/logrus"
)

// Manager owns the single broker connection and channel of a process.
type Manager struct {
	url    string
	dial   DialFunc
	logger *logrus.Logger

	mu     sync.Mutex
	conn   Connection
	ch     Channel
	closed bool
}

type ManagerOption func(*Manager)

// WithDialer replaces the amqp091 dialer.
func WithDialer(dial DialFunc) ManagerOption {
	return func(m *Manager) {
		m.dial = dial
	}
}

func WithLogger(logger *logrus.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(url string, opts ...ManagerOption) *Manager {
	m := &Manager{
		url:    url,
		dial:   Dial,
		logger: observability.GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize connects and opens the shared channel. It is a no-op returning
// the existing channel while the connection and channel are open. There is
// no background reconnect: a failure here is meant to stop the process.
func (m *Manager) Initialize() (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.conn != nil && !m.conn.IsClosed() {
		if m.ch != nil && !m.ch.IsClosed() {
			return m.ch, nil
		}
		ch, err := m.reopenLocked()
		if err != nil {
			return nil, &ConnectionError{URL: m.url, Err: err}
		}
		return ch, nil
	}

	conn, err := m.dial(m.url)
	if err != nil {
		return nil, &ConnectionError{URL: m.url, Err: err}
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{URL: m.url, Err: err}
	}

	m.conn = conn
	m.ch = ch
	m.logger.WithField("url", redactURL(m.url)).Info("Connected to RabbitMQ")
	return ch, nil
}

// Channel returns the active channel, or ErrNotInitialized. A channel the
// broker closed is reopened on the live connection; if the connection is
// gone too, a *ChannelError is returned.
func (m *Manager) Channel() (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.ch == nil {
		return nil, ErrNotInitialized
	}
	if !m.ch.IsClosed() {
		return m.ch, nil
	}
	if m.conn == nil || m.conn.IsClosed() {
		return nil, &ChannelError{Op: "channel", Err: errors.New("channel closed and connection lost")}
	}
	ch, err := m.reopenLocked()
	if err != nil {
		return nil, &ChannelError{Op: "reopen channel", Err: err}
	}
	return ch, nil
}

func (m *Manager) reopenLocked() (Channel, error) {
	ch, err := m.conn.Channel()
	if err != nil {
		return nil, err
	}
	m.ch = ch
	m.logger.Info("RabbitMQ channel reopened")
	return ch, nil
}

// HealthCheck reports whether the connection and channel are still open.
func (m *Manager) HealthCheck() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrClosed
	case m.conn == nil:
		return ErrNotInitialized
	case m.conn.IsClosed():
		return &ConnectionError{URL: m.url, Err: errors.New("connection closed")}
	case m.ch == nil || m.ch.IsClosed():
		return &ChannelError{Op: "health check", Err: errors.New("channel closed")}
	}
	return nil
}

// Close closes the channel, then the connection. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if m.ch != nil && !m.ch.IsClosed() {
		if err := m.ch.Close(); err != nil {
			errs = append(errs, &ChannelError{Op: "close channel", Err: err})
		}
	}
	if m.conn != nil && !m.conn.IsClosed() {
		if err := m.conn.Close(); err != nil {
			errs = append(errs, &ConnectionError{URL: m.url, Err: err})
		}
	}
	m.ch = nil
	m.conn = nil
	m.logger.Info("RabbitMQ connection closed")
	return errors.Join(errs...)
}

// CloseGracefully bounds Close by timeout.
func (m *Manager) CloseGracefully(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
