package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics exports message-flow counters labelled by queue.
type PrometheusMetrics struct {
	published     *prometheus.CounterVec
	publishFailed *prometheus.CounterVec
	received      *prometheus.CounterVec
	processed     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	retried       *prometheus.CounterVec
	deadLettered  *prometheus.CounterVec
}

// NewPrometheusMetrics creates the counters and registers them with r
// (prometheus.DefaultRegisterer when nil).
func NewPrometheusMetrics(namespace string, r prometheus.Registerer) (*PrometheusMetrics, error) {
	if namespace == "" {
		namespace = "messaging"
	}
	if r == nil {
		r = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"queue"})
	}

	m := &PrometheusMetrics{
		published:     counter("published_total", "Messages published to a main queue"),
		publishFailed: counter("publish_failed_total", "Publish calls that returned an error"),
		received:      counter("received_total", "Deliveries received from a main queue"),
		processed:     counter("processed_total", "Deliveries handled successfully"),
		failed:        counter("failed_total", "Deliveries whose handler failed"),
		retried:       counter("retried_total", "Messages sent to a retry queue"),
		deadLettered:  counter("dead_lettered_total", "Messages sent to a dead-letter queue"),
	}

	var errs []error
	for _, c := range []prometheus.Collector{
		m.published, m.publishFailed, m.received, m.processed, m.failed, m.retried, m.deadLettered,
	} {
		if err := r.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PrometheusMetrics) IncPublished(queue string) {
	m.published.WithLabelValues(queue).Inc()
}

func (m *PrometheusMetrics) IncPublishFailed(queue string) {
	m.publishFailed.WithLabelValues(queue).Inc()
}

func (m *PrometheusMetrics) IncReceived(queue string) {
	m.received.WithLabelValues(queue).Inc()
}

func (m *PrometheusMetrics) IncProcessed(queue string) {
	m.processed.WithLabelValues(queue).Inc()
}

func (m *PrometheusMetrics) IncFailed(queue string) {
	m.failed.WithLabelValues(queue).Inc()
}

func (m *PrometheusMetrics) IncRetried(queue string) {
	m.retried.WithLabelValues(queue).Inc()
}

func (m *PrometheusMetrics) IncSentToDLQ(queue string) {
	m.deadLettered.WithLabelValues(queue).Inc()
}
