package rabbitmq

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"fitness-messaging/pkg/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	failure := errors.New("boom")

	tests := []struct {
		name       string
		attempt    int
		err        error
		wantState  State
		wantCount  int
		maxRetries int
	}{
		{name: "success first attempt", attempt: 0, err: nil, wantState: StateSucceeded, wantCount: 0, maxRetries: 3},
		{name: "success after retries", attempt: 2, err: nil, wantState: StateSucceeded, wantCount: 2, maxRetries: 3},
		{name: "first failure retries", attempt: 0, err: failure, wantState: StateRetryScheduled, wantCount: 1, maxRetries: 3},
		{name: "second failure retries", attempt: 1, err: failure, wantState: StateRetryScheduled, wantCount: 2, maxRetries: 3},
		{name: "third failure dead-letters", attempt: 2, err: failure, wantState: StateDeadLettered, wantCount: 2, maxRetries: 3},
		{name: "counter past budget dead-letters", attempt: 7, err: failure, wantState: StateDeadLettered, wantCount: 7, maxRetries: 3},
		{name: "budget of one dead-letters immediately", attempt: 0, err: failure, wantState: StateDeadLettered, wantCount: 0, maxRetries: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Next(tt.attempt, tt.err, tt.maxRetries)
			assert.Equal(t, tt.wantState, tr.State)
			assert.Equal(t, tt.attempt, tr.Attempt)
			assert.Equal(t, tt.wantCount, tr.RetryCount)
		})
	}
}

func TestNext_HandlerRunsMaxRetriesTimes(t *testing.T) {
	failure := errors.New("boom")
	attempt := 0
	runs := 0
	for {
		runs++
		tr := Next(attempt, failure, 3)
		if tr.State == StateDeadLettered {
			assert.Equal(t, 2, tr.RetryCount)
			break
		}
		attempt = tr.RetryCount
	}
	assert.Equal(t, 3, runs)
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{name: "nil headers", headers: nil, want: 0},
		{name: "absent", headers: amqp.Table{"other": "x"}, want: 0},
		{name: "int32", headers: amqp.Table{models.HeaderRetryCount: int32(2)}, want: 2},
		{name: "int64", headers: amqp.Table{models.HeaderRetryCount: int64(1)}, want: 1},
		{name: "int", headers: amqp.Table{models.HeaderRetryCount: 1}, want: 1},
		{name: "uint8", headers: amqp.Table{models.HeaderRetryCount: uint8(2)}, want: 2},
		{name: "float64 from json", headers: amqp.Table{models.HeaderRetryCount: float64(1)}, want: 1},
		{name: "numeric string", headers: amqp.Table{models.HeaderRetryCount: "2"}, want: 2},
		{name: "garbage string", headers: amqp.Table{models.HeaderRetryCount: "two"}, want: 0},
		{name: "negative", headers: amqp.Table{models.HeaderRetryCount: int32(-4)}, want: 0},
		{name: "unsupported type", headers: amqp.Table{models.HeaderRetryCount: []byte("1")}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryCount(tt.headers))
		})
	}
}

func TestRetryHeaders_CopiesInput(t *testing.T) {
	in := amqp.Table{"trace-id": "abc", models.HeaderRetryCount: int32(0)}

	out := retryHeaders(in, 1)

	assert.Equal(t, int32(1), out[models.HeaderRetryCount])
	assert.Equal(t, "abc", out["trace-id"])
	assert.Equal(t, int32(0), in[models.HeaderRetryCount])
}

func TestDeadLetterHeaders(t *testing.T) {
	in := amqp.Table{"trace-id": "abc", models.HeaderRetryCount: int32(2)}
	reason := errors.New(strings.Repeat("x", failureReasonMaxLen+50))

	out := deadLetterHeaders(in, "booking", 2, reason)

	assert.Equal(t, int32(2), out[models.HeaderRetryCount])
	assert.Equal(t, "booking", out[models.HeaderOriginalQueue])
	assert.Equal(t, "abc", out["trace-id"])
	assert.Len(t, out[models.HeaderFailureReason], failureReasonMaxLen)
	assert.NotContains(t, in, models.HeaderFailureReason)
}

func TestTruncate_KeepsValidUTF8(t *testing.T) {
	s := strings.Repeat("é", 10)

	got := truncate(s, 5)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "éé", got)
	assert.Equal(t, "short", truncate("short", 10))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "delivered", StateDelivered.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
	assert.Equal(t, "retry_scheduled", StateRetryScheduled.String())
	assert.Equal(t, "dead_lettered", StateDeadLettered.String())
	assert.Equal(t, "unknown", State(42).String())
}
