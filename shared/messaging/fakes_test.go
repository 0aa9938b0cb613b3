package messaging

import (
	"errors"
	"sync"

	"github.com/streadway/amqp"
)

var errFakeClosed = errors.New("fake: closed")

// fakeDialer hands out fakeConnections, failing whenever fail returns true
// for the 1-based dial number.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []*fakeConnection
	fail  func(n int) bool
}

func (f *fakeDialer) dial(string) (amqpConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.fail != nil && f.fail(f.dials) {
		return nil, errors.New("fake: connection refused")
	}
	conn := newFakeConnection()
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeDialer) last() *fakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

type fakeConnection struct {
	mu       sync.Mutex
	channel  *fakeChannel
	notify   []chan *amqp.Error
	closed   bool
	dropOnce sync.Once
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{channel: newFakeChannel()}
}

func (c *fakeConnection) Channel() (amqpChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errFakeClosed
	}
	return c.channel, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	receivers := c.notify
	c.notify = nil
	c.mu.Unlock()

	c.channel.Close()
	for _, r := range receivers {
		close(r)
	}
	return nil
}

// watched reports whether the broker registered for close notifications.
func (c *fakeConnection) watched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notify) > 0
}

// drop simulates the server going away.
func (c *fakeConnection) drop() {
	c.dropOnce.Do(func() {
		c.channel.drop()

		c.mu.Lock()
		c.closed = true
		receivers := c.notify
		c.notify = nil
		c.mu.Unlock()

		reason := &amqp.Error{Code: amqp.ConnectionForced, Reason: "fake: connection forced"}
		for _, r := range receivers {
			select {
			case r <- reason:
			default:
			}
			close(r)
		}
	})
}

type declaredQueue struct {
	name    string
	durable bool
}

type publishedMessage struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []declaredQueue
	prefetch   int
	autoAck    []bool
	consumers  map[string]chan amqp.Delivery
	published  []publishedMessage
	cancelled  []string
	notify     []chan *amqp.Error
	closed     bool
	// failConsume makes the next n Consume calls fail.
	failConsume int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{consumers: make(map[string]chan amqp.Delivery)}
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.Queue{}, errFakeClosed
	}
	c.declared = append(c.declared, declaredQueue{name: name, durable: durable})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errFakeClosed
	}
	if c.failConsume > 0 {
		c.failConsume--
		return nil, errors.New("fake: consume refused")
	}
	c.autoAck = append(c.autoAck, autoAck)
	deliveries := make(chan amqp.Delivery, 16)
	c.consumers[queue] = deliveries
	return deliveries, nil
}

func (c *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	c.published = append(c.published, publishedMessage{key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Cancel(consumer string, noWait bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, consumer)
	return nil
}

func (c *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeChannel) Close() error {
	c.drop()
	return nil
}

func (c *fakeChannel) drop() {
	c.mu.Lock()
	c.closed = true
	consumers := c.consumers
	c.consumers = make(map[string]chan amqp.Delivery)
	receivers := c.notify
	c.notify = nil
	c.mu.Unlock()

	for _, d := range consumers {
		close(d)
	}
	for _, r := range receivers {
		close(r)
	}
}

func (c *fakeChannel) refuseConsume(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failConsume = n
}

// consumer returns the delivery stream registered for queue, if any.
func (c *fakeChannel) consumer(queue string) (chan amqp.Delivery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.consumers[queue]
	return d, ok
}

func (c *fakeChannel) publishedTo(key string) []amqp.Publishing {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []amqp.Publishing
	for _, p := range c.published {
		if p.key == key {
			out = append(out, p.msg)
		}
	}
	return out
}

func (c *fakeChannel) declaredQueues() []declaredQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]declaredQueue(nil), c.declared...)
}

func (c *fakeChannel) consumeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.autoAck)
}

// fakeAcknowledger records how deliveries were settled. onSettle, when set,
// is called with "ack" or "nack" and the delivery tag.
type fakeAcknowledger struct {
	mu       sync.Mutex
	acks     []uint64
	nacks    []uint64
	requeued []bool
	rejects  []uint64
	onSettle func(kind string, tag uint64)
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	a.acks = append(a.acks, tag)
	cb := a.onSettle
	a.mu.Unlock()
	if cb != nil {
		cb("ack", tag)
	}
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	a.nacks = append(a.nacks, tag)
	a.requeued = append(a.requeued, requeue)
	cb := a.onSettle
	a.mu.Unlock()
	if cb != nil {
		cb("nack", tag)
	}
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects = append(a.rejects, tag)
	return nil
}

func (a *fakeAcknowledger) counts() (acks, nacks int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acks), len(a.nacks)
}

func (a *fakeAcknowledger) allRequeued() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.requeued {
		if !r {
			return false
		}
	}
	return true
}

func delivery(ack amqp.Acknowledger, tag uint64, id string, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		MessageId:    id,
		Body:         []byte(body),
	}
}
