package rabbitmq

import (
	"math"
	"strconv"
	"unicode/utf8"

	"fitness-messaging/pkg/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// failureReasonMaxLen caps the x-failure-reason header so driver errors do
// not leak whole connection strings onto the DLQ.
const failureReasonMaxLen = 256

// State is the position of one delivery in the retry state machine.
type State int

const (
	// StateDelivered: the handler is running.
	StateDelivered State = iota
	// StateSucceeded: handler returned nil; the delivery is acked.
	StateSucceeded
	// StateRetryScheduled: a copy with an incremented counter went to the
	// retry queue; the delivery is acked.
	StateRetryScheduled
	// StateDeadLettered: a copy went to the DLQ; the delivery is acked.
	StateDeadLettered
)

func (s State) String() string {
	switch s {
	case StateDelivered:
		return "delivered"
	case StateSucceeded:
		return "succeeded"
	case StateRetryScheduled:
		return "retry_scheduled"
	case StateDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Transition is the result of one handled delivery.
type Transition struct {
	State State
	// Attempt is the counter read from the inbound delivery.
	Attempt int
	// RetryCount is the counter carried by the forwarded copy. For a retry it
	// is Attempt+1; for a dead letter it stays at Attempt.
	RetryCount int
}

// Next computes where a delivery goes after its handler returned handlerErr.
// The counter is incremented before the comparison, so with maxRetries=3 a
// message is handled at attempts 0, 1 and 2 and dead-lettered on the third
// failure without ever carrying a count of 3.
func Next(attempt int, handlerErr error, maxRetries int) Transition {
	if handlerErr == nil {
		return Transition{State: StateSucceeded, Attempt: attempt, RetryCount: attempt}
	}
	retryCount := attempt + 1
	if retryCount >= maxRetries {
		return Transition{State: StateDeadLettered, Attempt: attempt, RetryCount: attempt}
	}
	return Transition{State: StateRetryScheduled, Attempt: attempt, RetryCount: retryCount}
}

// RetryCount reads x-retry-count from headers. Missing, malformed or
// negative values count as 0.
func RetryCount(headers amqp.Table) int {
	raw, ok := headers[models.HeaderRetryCount]
	if !ok {
		return 0
	}

	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case float32:
		n = int64(v)
	case float64:
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}

	if n < 0 {
		return 0
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// retryHeaders copies in and sets the retry counter.
func retryHeaders(in amqp.Table, retryCount int) amqp.Table {
	out := copyHeaders(in)
	out[models.HeaderRetryCount] = int32(retryCount)
	return out
}

// deadLetterHeaders copies in, keeps the counter as received and records
// where the message died and why the last attempt failed.
func deadLetterHeaders(in amqp.Table, queue string, retryCount int, reason error) amqp.Table {
	out := copyHeaders(in)
	out[models.HeaderRetryCount] = int32(retryCount)
	out[models.HeaderOriginalQueue] = queue
	if reason != nil {
		out[models.HeaderFailureReason] = truncate(reason.Error(), failureReasonMaxLen)
	}
	return out
}

func copyHeaders(in amqp.Table) amqp.Table {
	out := make(amqp.Table, len(in)+3)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
