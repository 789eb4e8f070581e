package observability

import (
	"sync/atomic"
)

// MetricsCollector provides hooks for message-flow metrics, keyed by logical queue.
type MetricsCollector interface {
	IncPublished(queue string)
	IncPublishFailed(queue string)
	IncReceived(queue string)
	IncProcessed(queue string)
	IncFailed(queue string)
	IncRetried(queue string)
	IncSentToDLQ(queue string)
}

// InMemoryMetrics keeps process-wide totals. Used by tests and as the default
// when no collector is configured.
type InMemoryMetrics struct {
	Published     atomic.Int64
	PublishFailed atomic.Int64
	Received      atomic.Int64
	Processed     atomic.Int64
	Failed        atomic.Int64
	Retried       atomic.Int64
	SentToDLQ     atomic.Int64
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

func (m *InMemoryMetrics) IncPublished(string) {
	m.Published.Add(1)
}

func (m *InMemoryMetrics) IncPublishFailed(string) {
	m.PublishFailed.Add(1)
}

func (m *InMemoryMetrics) IncReceived(string) {
	m.Received.Add(1)
}

func (m *InMemoryMetrics) IncProcessed(string) {
	m.Processed.Add(1)
}

func (m *InMemoryMetrics) IncFailed(string) {
	m.Failed.Add(1)
}

func (m *InMemoryMetrics) IncRetried(string) {
	m.Retried.Add(1)
}

func (m *InMemoryMetrics) IncSentToDLQ(string) {
	m.SentToDLQ.Add(1)
}

func (m *InMemoryMetrics) GetPublished() int64 {
	return m.Published.Load()
}

func (m *InMemoryMetrics) GetPublishFailed() int64 {
	return m.PublishFailed.Load()
}

func (m *InMemoryMetrics) GetReceived() int64 {
	return m.Received.Load()
}

func (m *InMemoryMetrics) GetProcessed() int64 {
	return m.Processed.Load()
}

func (m *InMemoryMetrics) GetFailed() int64 {
	return m.Failed.Load()
}

func (m *InMemoryMetrics) GetRetried() int64 {
	return m.Retried.Load()
}

func (m *InMemoryMetrics) GetSentToDLQ() int64 {
	return m.SentToDLQ.Load()
}
