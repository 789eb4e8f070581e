package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// FakeChannel is an in-memory broker behind the Channel interface for tests.
// Publishes on the default exchange route by queue name, either to an active
// consumer or to the queue's backlog for Get. Deliveries are acked through
// the fake itself, so double acks and acks of unknown tags fail as they would
// on a real channel.
//
// The ...Func hooks run before the built-in behaviour; a non-nil error from a
// hook fails the call.
type FakeChannel struct {
	mu sync.Mutex

	QueueDeclareFunc func(name string, args amqp.Table) error
	PublishFunc      func(ctx context.Context, exchange, key string, msg amqp.Publishing) error
	ConsumeFunc      func(queue, consumer string) error
	QosFunc          func(prefetchCount int) error
	AckFunc          func(tag uint64) error

	declared  []QueueSpec
	args      map[string]amqp.Table
	published []PublishedMessage
	backlog   map[string][]fakeMessage
	consumers map[string]*fakeConsumer
	unacked   map[uint64]pendingDelivery
	acked     []uint64
	nacked    []uint64
	cancelled []string
	prefetch  int
	seq       uint64
	tag       uint64
	closed    bool
}

// PublishedMessage records one PublishWithContext call.
type PublishedMessage struct {
	Exchange string
	Key      string
	Msg      amqp.Publishing
}

type fakeMessage struct {
	seq uint64
	msg amqp.Publishing
}

type fakeConsumer struct {
	queue string
	tag   string
	ch    chan amqp.Delivery
}

type pendingDelivery struct {
	queue string
	msg   fakeMessage
}

var (
	_ Channel           = (*FakeChannel)(nil)
	_ amqp.Acknowledger = (*FakeChannel)(nil)
)

func NewFakeChannel() *FakeChannel {
	return &FakeChannel{
		args:      make(map[string]amqp.Table),
		backlog:   make(map[string][]fakeMessage),
		consumers: make(map[string]*fakeConsumer),
		unacked:   make(map[uint64]pendingDelivery),
	}
}

func (f *FakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if f.QueueDeclareFunc != nil {
		if err := f.QueueDeclareFunc(name, args); err != nil {
			return amqp.Queue{}, err
		}
	}
	if existing, ok := f.args[name]; ok && !reflect.DeepEqual(existing, args) {
		return amqp.Queue{}, &amqp.Error{
			Code:   amqp.PreconditionFailed,
			Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for queue '%s'", name),
		}
	}

	f.args[name] = args
	f.declared = append(f.declared, QueueSpec{Name: name, Args: args})
	return amqp.Queue{Name: name, Messages: len(f.backlog[name])}, nil
}

func (f *FakeChannel) QueuePurge(name string, noWait bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, amqp.ErrClosed
	}
	n := len(f.backlog[name])
	delete(f.backlog, name)
	return n, nil
}

func (f *FakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return amqp.ErrClosed
	}
	if f.QosFunc != nil {
		if err := f.QosFunc(prefetchCount); err != nil {
			return err
		}
	}
	f.prefetch = prefetchCount
	return nil
}

func (f *FakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, amqp.ErrClosed
	}
	if f.ConsumeFunc != nil {
		if err := f.ConsumeFunc(queue, consumer); err != nil {
			return nil, err
		}
	}
	if _, ok := f.consumers[queue]; ok {
		return nil, fmt.Errorf("fake channel: queue %s already has a consumer", queue)
	}

	c := &fakeConsumer{queue: queue, tag: consumer, ch: make(chan amqp.Delivery, 256)}
	f.consumers[queue] = c
	for _, m := range f.backlog[queue] {
		c.ch <- f.deliverLocked(queue, consumer, m, false)
	}
	delete(f.backlog, queue)
	return c.ch, nil
}

func (f *FakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for queue, c := range f.consumers {
		if c.tag == consumer {
			close(c.ch)
			delete(f.consumers, queue)
			f.cancelled = append(f.cancelled, consumer)
			return nil
		}
	}
	return fmt.Errorf("fake channel: unknown consumer %s", consumer)
}

func (f *FakeChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return amqp.Delivery{}, false, amqp.ErrClosed
	}
	backlog := f.backlog[queue]
	if len(backlog) == 0 {
		return amqp.Delivery{}, false, nil
	}
	m := backlog[0]
	f.backlog[queue] = backlog[1:]

	d := f.deliverLocked(queue, "", m, false)
	d.MessageCount = uint32(len(f.backlog[queue]))
	if autoAck {
		delete(f.unacked, d.DeliveryTag)
		d.Acknowledger = nil
	}
	return d, true, nil
}

func (f *FakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return amqp.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.PublishFunc != nil {
		if err := f.PublishFunc(ctx, exchange, key, msg); err != nil {
			return err
		}
	}

	msg.Headers = copyHeaders(msg.Headers)
	f.published = append(f.published, PublishedMessage{Exchange: exchange, Key: key, Msg: msg})
	f.routeLocked(key, msg)
	return nil
}

func (f *FakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return amqp.ErrClosed
	}
	f.closed = true
	for queue, c := range f.consumers {
		close(c.ch)
		delete(f.consumers, queue)
	}
	return nil
}

func (f *FakeChannel) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AckFunc != nil {
		if err := f.AckFunc(tag); err != nil {
			return err
		}
	}
	if _, ok := f.unacked[tag]; !ok {
		return fmt.Errorf("fake channel: unknown delivery tag %d", tag)
	}
	delete(f.unacked, tag)
	f.acked = append(f.acked, tag)
	return nil
}

func (f *FakeChannel) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.unacked[tag]
	if !ok {
		return fmt.Errorf("fake channel: unknown delivery tag %d", tag)
	}
	delete(f.unacked, tag)
	f.nacked = append(f.nacked, tag)
	if requeue {
		f.requeueLocked(p.queue, p.msg)
	}
	return nil
}

func (f *FakeChannel) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

// Deliver publishes body to queue as a producer would.
func (f *FakeChannel) Deliver(queue string, body []byte, headers amqp.Table) error {
	return f.PublishWithContext(context.Background(), "", queue, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// ExpireRetry moves every message waiting on the retry queue of queue back to
// queue, as the broker does when the per-queue TTL elapses. It returns the
// number of messages moved.
func (f *FakeChannel) ExpireRetry(queue string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	retry := RetryQueueName(queue)
	waiting := f.backlog[retry]
	delete(f.backlog, retry)
	for _, m := range waiting {
		f.routeLocked(queue, m.msg)
	}
	return len(waiting)
}

// Messages returns the messages waiting on queue.
func (f *FakeChannel) Messages(queue string) []amqp.Publishing {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]amqp.Publishing, 0, len(f.backlog[queue]))
	for _, m := range f.backlog[queue] {
		out = append(out, m.msg)
	}
	return out
}

// PublishedTo returns every message published with routing key key.
func (f *FakeChannel) PublishedTo(key string) []PublishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []PublishedMessage
	for _, p := range f.published {
		if p.Key == key {
			out = append(out, p)
		}
	}
	return out
}

// Declared returns the declarations in call order.
func (f *FakeChannel) Declared() []QueueSpec {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]QueueSpec, len(f.declared))
	copy(out, f.declared)
	return out
}

func (f *FakeChannel) Acked() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.acked...)
}

func (f *FakeChannel) Nacked() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.nacked...)
}

// Unacked is the number of deliveries handed out and not yet settled.
func (f *FakeChannel) Unacked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unacked)
}

func (f *FakeChannel) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func (f *FakeChannel) Prefetch() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefetch
}

func (f *FakeChannel) HasConsumer(queue string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.consumers[queue]
	return ok
}

func (f *FakeChannel) routeLocked(queue string, msg amqp.Publishing) {
	f.seq++
	m := fakeMessage{seq: f.seq, msg: msg}
	if c, ok := f.consumers[queue]; ok {
		c.ch <- f.deliverLocked(queue, c.tag, m, false)
		return
	}
	f.backlog[queue] = append(f.backlog[queue], m)
}

func (f *FakeChannel) requeueLocked(queue string, m fakeMessage) {
	if c, ok := f.consumers[queue]; ok {
		c.ch <- f.deliverLocked(queue, c.tag, m, true)
		return
	}
	backlog := append(f.backlog[queue], m)
	sort.SliceStable(backlog, func(i, j int) bool { return backlog[i].seq < backlog[j].seq })
	f.backlog[queue] = backlog
}

func (f *FakeChannel) deliverLocked(queue, consumerTag string, m fakeMessage, redelivered bool) amqp.Delivery {
	f.tag++
	f.unacked[f.tag] = pendingDelivery{queue: queue, msg: m}
	return amqp.Delivery{
		Acknowledger:    f,
		Headers:         copyHeaders(m.msg.Headers),
		ContentType:     m.msg.ContentType,
		ContentEncoding: m.msg.ContentEncoding,
		DeliveryMode:    m.msg.DeliveryMode,
		CorrelationId:   m.msg.CorrelationId,
		MessageId:       m.msg.MessageId,
		Timestamp:       m.msg.Timestamp,
		Type:            m.msg.Type,
		AppId:           m.msg.AppId,
		ConsumerTag:     consumerTag,
		DeliveryTag:     f.tag,
		Redelivered:     redelivered,
		RoutingKey:      queue,
		Body:            m.msg.Body,
	}
}

// FakeConnection hands out a fixed FakeChannel.
type FakeConnection struct {
	mu sync.Mutex

	Ch          *FakeChannel
	ChannelFunc func() (Channel, error)
	CloseFunc   func() error

	channels int
	closed   bool
}

func NewFakeConnection(ch *FakeChannel) *FakeConnection {
	return &FakeConnection{Ch: ch}
}

func (c *FakeConnection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	c.channels++
	if c.ChannelFunc != nil {
		return c.ChannelFunc()
	}
	if c.Ch == nil {
		return nil, errors.New("fake connection: no channel")
	}
	return c.Ch, nil
}

func (c *FakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CloseFunc != nil {
		if err := c.CloseFunc(); err != nil {
			return err
		}
	}
	c.closed = true
	return nil
}

// SetClosed simulates the broker dropping the connection.
func (c *FakeConnection) SetClosed(closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = closed
}

// ChannelsOpened counts Channel calls.
func (c *FakeConnection) ChannelsOpened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels
}

// FakeDialer returns a DialFunc that yields conn and counts dials.
func FakeDialer(conn Connection, dials *int) DialFunc {
	return func(string) (Connection, error) {
		if dials != nil {
			*dials++
		}
		return conn, nil
	}
}
