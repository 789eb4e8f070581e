package rabbitmq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fitness-messaging/internal/observability"
	"fitness-messaging/pkg/models"
	"fitness-messaging/pkg/queues"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var bookingBody = []byte(`{"userId":"u1","expertId":"e1","availableId":"slot-1"}`)

type consumerHarness struct {
	ch      *FakeChannel
	metrics *observability.InMemoryMetrics
	cancel  context.CancelFunc
	done    chan error
}

func newConsumer(ch *FakeChannel, metrics observability.MetricsCollector, timeout time.Duration) *Consumer {
	source := StaticChannel(ch)
	return NewConsumer(source, NewTopology(source, 10*time.Second, testLogger()), ConsumerConfig{
		PrefetchCount:  1,
		MaxRetries:     3,
		HandlerTimeout: timeout,
		ConsumerTag:    "test",
		Logger:         testLogger(),
		Metrics:        metrics,
	})
}

// startConsumer runs run in the background until the returned harness is stopped.
func startConsumer(t *testing.T, run func(ctx context.Context, c *Consumer) error, timeout time.Duration) *consumerHarness {
	t.Helper()

	h := &consumerHarness{
		ch:      NewFakeChannel(),
		metrics: observability.NewInMemoryMetrics(),
		done:    make(chan error, 1),
	}
	c := newConsumer(h.ch, h.metrics, timeout)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- run(ctx, c)
	}()
	t.Cleanup(cancel)
	return h
}

func (h *consumerHarness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitFor):
		t.Fatal("consumer did not stop")
		return nil
	}
}

func (h *consumerHarness) waitMessages(t *testing.T, queue string, n int) []amqp.Publishing {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.ch.Messages(queue)) == n
	}, waitFor, tick, "waiting for %d message(s) on %s", n, queue)
	return h.ch.Messages(queue)
}

func (h *consumerHarness) waitSettled(t *testing.T, acks int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.ch.Acked()) == acks && h.ch.Unacked() == 0
	}, waitFor, tick, "waiting for %d ack(s)", acks)
}

// attemptRecorder records the x-retry-count seen by each handler call.
type attemptRecorder struct {
	mu       sync.Mutex
	attempts []int
}

func (r *attemptRecorder) record(msg *models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, RetryCount(msg.Headers))
}

func (r *attemptRecorder) get() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.attempts...)
}

func TestConsumer_Success(t *testing.T) {
	rec := &attemptRecorder{}
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, "add-meal", func(ctx context.Context, msg *models.Message) error {
			rec.record(msg)
			assert.Equal(t, "add-meal", msg.Queue)
			assert.Equal(t, queues.AddMealPayload{Name: "Oats"}, msg.Payload)
			return nil
		})
	}, time.Second)

	require.NoError(t, h.ch.Deliver("add-meal", []byte(`{"name":"Oats"}`), nil))
	h.waitSettled(t, 1)

	require.NoError(t, h.stop(t))
	assert.Equal(t, []int{0}, rec.get())
	assert.Empty(t, h.ch.PublishedTo("add-meal-retry"))
	assert.Empty(t, h.ch.PublishedTo("add-meal-dlq"))
	assert.Equal(t, 1, h.ch.Prefetch())
	assert.Equal(t, int64(1), h.metrics.GetReceived())
	assert.Equal(t, int64(1), h.metrics.GetProcessed())
}

func TestConsumer_FailThenSucceed(t *testing.T) {
	const queue = "update-meal"
	rec := &attemptRecorder{}
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, queue, func(ctx context.Context, msg *models.Message) error {
			rec.record(msg)
			if len(rec.get()) <= 2 {
				return errors.New("database unavailable")
			}
			return nil
		})
	}, time.Second)

	require.NoError(t, h.ch.Deliver(queue, []byte(`{"meal_id":"m1","name":"Soup"}`), amqp.Table{"trace-id": "t-1"}))

	for want := int32(1); want <= 2; want++ {
		retried := h.waitMessages(t, RetryQueueName(queue), 1)
		assert.Equal(t, want, retried[0].Headers[models.HeaderRetryCount])
		assert.Equal(t, "t-1", retried[0].Headers["trace-id"])
		assert.NotContains(t, retried[0].Headers, models.HeaderFailureReason)
		assert.Equal(t, 1, h.ch.ExpireRetry(queue))
	}
	h.waitSettled(t, 3)

	require.NoError(t, h.stop(t))
	assert.Equal(t, []int{0, 1, 2}, rec.get())
	assert.Empty(t, h.ch.PublishedTo(DeadLetterQueueName(queue)))
	assert.Equal(t, int64(2), h.metrics.GetRetried())
	assert.Equal(t, int64(1), h.metrics.GetProcessed())
}

func TestConsumer_AlwaysFailingGoesToDLQ(t *testing.T) {
	const queue = "add-dish"
	body := []byte(`{"name":"Salad"}`)
	rec := &attemptRecorder{}
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, queue, func(ctx context.Context, msg *models.Message) error {
			rec.record(msg)
			return errors.New("constraint violated")
		})
	}, time.Second)

	require.NoError(t, h.ch.Deliver(queue, body, nil))
	for i := 0; i < 2; i++ {
		h.waitMessages(t, RetryQueueName(queue), 1)
		h.ch.ExpireRetry(queue)
	}

	dead := h.waitMessages(t, DeadLetterQueueName(queue), 1)
	h.waitSettled(t, 3)
	require.NoError(t, h.stop(t))

	assert.Equal(t, []int{0, 1, 2}, rec.get())
	assert.Equal(t, body, dead[0].Body)
	assert.Equal(t, int32(2), dead[0].Headers[models.HeaderRetryCount])
	assert.Equal(t, "constraint violated", dead[0].Headers[models.HeaderFailureReason])
	assert.Equal(t, queue, dead[0].Headers[models.HeaderOriginalQueue])
	assert.Empty(t, h.ch.Messages(RetryQueueName(queue)))
	assert.Empty(t, h.ch.Messages(queue))
	assert.Equal(t, int64(3), h.metrics.GetFailed())
	assert.Equal(t, int64(1), h.metrics.GetSentToDLQ())
}

func TestConsumer_MalformedBodyIsDeadLettered(t *testing.T) {
	const queue = "create-expert"
	called := false
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return Consume(ctx, c, queues.CreateExpert, func(ctx context.Context, p queues.CreateExpertPayload) error {
			called = true
			return nil
		})
	}, time.Second)

	body := []byte(`{"name": "Jane", "email":`)
	require.NoError(t, h.ch.Deliver(queue, body, nil))
	for i := 0; i < 2; i++ {
		h.waitMessages(t, RetryQueueName(queue), 1)
		h.ch.ExpireRetry(queue)
	}

	dead := h.waitMessages(t, DeadLetterQueueName(queue), 1)
	h.waitSettled(t, 3)
	require.NoError(t, h.stop(t))

	assert.False(t, called)
	assert.Equal(t, body, dead[0].Body)
	assert.Contains(t, dead[0].Headers[models.HeaderFailureReason], "decode create-expert payload")
}

func TestConsumer_UntypedMalformedBodyIsDeadLettered(t *testing.T) {
	const queue = "add-meal"
	called := false
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, queue, func(ctx context.Context, msg *models.Message) error {
			called = true
			return nil
		})
	}, time.Second)

	body := []byte("not json at all")
	require.NoError(t, h.ch.Deliver(queue, body, nil))
	for i := 0; i < 2; i++ {
		h.waitMessages(t, RetryQueueName(queue), 1)
		h.ch.ExpireRetry(queue)
	}

	dead := h.waitMessages(t, DeadLetterQueueName(queue), 1)
	h.waitSettled(t, 3)
	require.NoError(t, h.stop(t))

	assert.False(t, called)
	assert.Equal(t, body, dead[0].Body)
	assert.Contains(t, dead[0].Headers[models.HeaderFailureReason], "decode add-meal payload")
	assert.Equal(t, int64(0), h.metrics.GetProcessed())
	assert.Equal(t, int64(1), h.metrics.GetSentToDLQ())
}

func TestConsumer_InvalidPayloadCountsAsFailure(t *testing.T) {
	const queue = "rate-dish"
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, queue, func(ctx context.Context, msg *models.Message) error {
			return nil
		})
	}, time.Second)

	require.NoError(t, h.ch.Deliver(queue, []byte(`{"id":"d1","rating":9}`), nil))
	retried := h.waitMessages(t, RetryQueueName(queue), 1)
	h.waitSettled(t, 1)
	require.NoError(t, h.stop(t))

	assert.Equal(t, int32(1), retried[0].Headers[models.HeaderRetryCount])
	assert.Equal(t, int64(0), h.metrics.GetProcessed())
}

func TestConsumer_TypedRoundTrip(t *testing.T) {
	received := make(chan queues.CreateExpertPayload, 1)
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return Consume(ctx, c, queues.CreateExpert, func(ctx context.Context, p queues.CreateExpertPayload) error {
			received <- p
			return nil
		})
	}, time.Second)

	require.Eventually(t, func() bool { return h.ch.HasConsumer("create-expert") }, waitFor, tick)

	pub := NewPublisher(StaticChannel(h.ch), NewTopology(StaticChannel(h.ch), 10*time.Second, testLogger()),
		PublisherConfig{Logger: testLogger()})
	sent := queues.CreateExpertPayload{Name: "Jane", Email: "jane@x.io", Skills: []string{"nutrition"}}
	require.NoError(t, Publish(context.Background(), pub, queues.CreateExpert, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent, got)
	case <-time.After(waitFor):
		t.Fatal("handler not called")
	}

	h.waitSettled(t, 1)
	require.NoError(t, h.stop(t))
	assert.Empty(t, h.ch.PublishedTo("create-expert-retry"))
}

func TestConsumer_PanicCountsAsFailure(t *testing.T) {
	const queue = "rate-dish"
	rec := &attemptRecorder{}
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, queue, func(ctx context.Context, msg *models.Message) error {
			rec.record(msg)
			if len(rec.get()) == 1 {
				panic("nil map write")
			}
			return nil
		})
	}, time.Second)

	require.NoError(t, h.ch.Deliver(queue, []byte(`{"id":"d1","rating":4}`), nil))
	retried := h.waitMessages(t, RetryQueueName(queue), 1)
	assert.Equal(t, int32(1), retried[0].Headers[models.HeaderRetryCount])

	h.ch.ExpireRetry(queue)
	h.waitSettled(t, 2)

	require.NoError(t, h.stop(t))
	assert.Equal(t, []int{0, 1}, rec.get())
}

func TestConsumer_HandlerTimeout(t *testing.T) {
	const queue = "search-dish"
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, queue, func(ctx context.Context, msg *models.Message) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}, 20*time.Millisecond)

	require.NoError(t, h.ch.Deliver(queue, []byte(`{}`), nil))
	retried := h.waitMessages(t, RetryQueueName(queue), 1)
	h.waitSettled(t, 1)
	require.NoError(t, h.stop(t))

	assert.Equal(t, int32(1), retried[0].Headers[models.HeaderRetryCount])
}

func TestConsumer_ShutdownLetsInFlightMessageFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error

	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, "booking", func(ctx context.Context, msg *models.Message) error {
			close(started)
			<-release
			handlerCtxErr = ctx.Err()
			return nil
		})
	}, time.Second)

	require.NoError(t, h.ch.Deliver("booking", bookingBody, nil))
	<-started

	h.cancel()
	close(release)

	require.NoError(t, h.stop(t))
	assert.NoError(t, handlerCtxErr)
	assert.Len(t, h.ch.Acked(), 1)
	assert.Equal(t, 0, h.ch.Unacked())
	require.Len(t, h.ch.Cancelled(), 1)
	assert.True(t, strings.HasPrefix(h.ch.Cancelled()[0], "test.booking."))
}

func TestConsumer_RoutingFailureLeavesDeliveryUnacked(t *testing.T) {
	const queue = "delete-meal"
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, queue, func(ctx context.Context, msg *models.Message) error {
			return errors.New("boom")
		})
	}, time.Second)

	blocked := errors.New("connection blocked")
	h.ch.mu.Lock()
	h.ch.PublishFunc = func(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
		if key == RetryQueueName(queue) {
			return blocked
		}
		return nil
	}
	h.ch.mu.Unlock()

	require.NoError(t, h.ch.Deliver(queue, []byte(`{"meal_id":"m1"}`), nil))

	var err error
	select {
	case err = <-h.done:
	case <-time.After(waitFor):
		t.Fatal("consumer did not fail")
	}

	var routeErr *RoutingError
	require.ErrorAs(t, err, &routeErr)
	assert.Equal(t, queue, routeErr.Queue)
	assert.Equal(t, RetryQueueName(queue), routeErr.Target)
	assert.ErrorIs(t, err, blocked)
	assert.Empty(t, h.ch.Acked())
	assert.Equal(t, 1, h.ch.Unacked())
}

func TestConsumer_DeliveryStreamClosed(t *testing.T) {
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, "booking", func(ctx context.Context, msg *models.Message) error {
			return nil
		})
	}, time.Second)

	require.Eventually(t, func() bool { return h.ch.HasConsumer("booking") }, waitFor, tick)
	require.NoError(t, h.ch.Close())

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, ErrDeliveriesClosed)
	case <-time.After(waitFor):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumer_SetupFailures(t *testing.T) {
	t.Run("unregistered queue", func(t *testing.T) {
		ch := NewFakeChannel()

		err := newConsumer(ch, nil, 0).Consume(context.Background(), "no-such-queue", nil)

		assert.ErrorIs(t, err, queues.ErrUnknownQueue)
		assert.Empty(t, ch.Declared())
		assert.False(t, ch.HasConsumer("no-such-queue"))
	})

	t.Run("topology conflict", func(t *testing.T) {
		ch := NewFakeChannel()
		_, err := ch.QueueDeclare("booking", true, false, false, false, nil)
		require.NoError(t, err)

		err = newConsumer(ch, nil, 0).Consume(context.Background(), "booking", nil)

		var topoErr *TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "booking", topoErr.Queue)
	})

	t.Run("qos rejected", func(t *testing.T) {
		ch := NewFakeChannel()
		ch.QosFunc = func(int) error { return errors.New("not allowed") }

		err := newConsumer(ch, nil, 0).Consume(context.Background(), "booking", nil)

		var chErr *ChannelError
		require.ErrorAs(t, err, &chErr)
		assert.Equal(t, "qos", chErr.Op)
	})

	t.Run("consume rejected", func(t *testing.T) {
		ch := NewFakeChannel()
		ch.ConsumeFunc = func(string, string) error { return errors.New("access refused") }

		err := newConsumer(ch, nil, 0).Consume(context.Background(), "booking", nil)

		var chErr *ChannelError
		require.ErrorAs(t, err, &chErr)
		assert.Equal(t, "consume", chErr.Op)
	})
}

func TestConsumer_AckFailure(t *testing.T) {
	h := startConsumer(t, func(ctx context.Context, c *Consumer) error {
		return c.Consume(ctx, "booking", func(ctx context.Context, msg *models.Message) error {
			return nil
		})
	}, time.Second)

	h.ch.mu.Lock()
	h.ch.AckFunc = func(uint64) error { return amqp.ErrClosed }
	h.ch.mu.Unlock()

	require.NoError(t, h.ch.Deliver("booking", bookingBody, nil))

	select {
	case err := <-h.done:
		var chErr *ChannelError
		require.ErrorAs(t, err, &chErr)
		assert.Equal(t, "ack", chErr.Op)
	case <-time.After(waitFor):
		t.Fatal("consumer did not fail")
	}
}

func TestToMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := amqp.Delivery{
		Headers:     amqp.Table{models.HeaderRetryCount: int32(1)},
		ContentType: models.ContentTypeJSON,
		MessageId:   "m-1",
		Timestamp:   ts,
		Redelivered: true,
		Body:        []byte(`{}`),
	}

	msg := toMessage("booking", d)

	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, "booking", msg.Queue)
	assert.Equal(t, int32(1), msg.Headers[models.HeaderRetryCount])
	assert.True(t, msg.Redelivered)
	assert.Equal(t, ts, msg.Timestamp)

	msg.Headers["mutated"] = true
	assert.NotContains(t, d.Headers, "mutated")
}
