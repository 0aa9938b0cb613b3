package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
)

// InMemoryBroker is a single-process MessageBroker with the queue semantics
// of the RabbitMQ broker: FIFO queues named by topic, competing consumers,
// one unacknowledged message per consumer and requeue-to-head on failure.
// It is suitable for development and tests.
type InMemoryBroker struct {
	logger  *log.Logger
	tracker *RedeliveryTracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*memQueue
	closed bool
}

type memMessage struct {
	id          string
	body        []byte
	publishedAt time.Time
	redelivered bool
}

type memQueue struct {
	mu       sync.Mutex
	messages []memMessage
	ready    chan struct{}
}

func newMemQueue() *memQueue {
	return &memQueue{ready: make(chan struct{}, 1)}
}

func (q *memQueue) push(m memMessage) {
	q.mu.Lock()
	q.messages = append(q.messages, m)
	q.mu.Unlock()
	q.signal()
}

func (q *memQueue) pushFront(m memMessage) {
	q.mu.Lock()
	q.messages = append([]memMessage{m}, q.messages...)
	q.mu.Unlock()
	q.signal()
}

func (q *memQueue) pop() (memMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return memMessage{}, false
	}
	m := q.messages[0]
	q.messages = q.messages[1:]
	if len(q.messages) > 0 {
		q.signal()
	}
	return m, true
}

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *memQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// NewInMemoryBroker creates a ready-to-use InMemoryBroker.
func NewInMemoryBroker(opts Options) *InMemoryBroker {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryBroker{
		logger:  opts.Logger.With("broker", "memory"),
		tracker: NewRedeliveryTracker(opts.RedeliveryLimit, opts.RedeliveryTTL),
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string]*memQueue),
	}
}

func (b *InMemoryBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}

// queue asserts the named queue. Callers must hold b.mu.
func (b *InMemoryBroker) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = newMemQueue()
		b.queues[name] = q
	}
	return q
}

func (b *InMemoryBroker) Publish(ctx context.Context, topic string, payload interface{}) error {
	if topic == "" {
		return &PublishError{Topic: topic, Err: contracts.ErrMissingTopic}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &PublishError{Topic: topic, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	return b.PublishRaw(ctx, topic, body)
}

// PublishRaw enqueues body as-is, without JSON encoding.
func (b *InMemoryBroker) PublishRaw(ctx context.Context, topic string, body []byte) error {
	return b.enqueue(ctx, topic, body, uuid.NewString())
}

func (b *InMemoryBroker) enqueue(ctx context.Context, topic string, body []byte, id string) error {
	if err := ctx.Err(); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &PublishError{Topic: topic, Err: ErrBrokerClosed}
	}
	q := b.queue(topic)
	b.mu.Unlock()

	q.push(memMessage{id: id, body: body, publishedAt: time.Now().UTC()})
	return nil
}

// Depth returns the number of messages waiting in topic's queue, excluding
// the one a consumer is working on.
func (b *InMemoryBroker) Depth(topic string) int {
	b.mu.Lock()
	q, ok := b.queues[topic]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return q.len()
}

func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if topic == "" {
		return contracts.ErrMissingTopic
	}
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	q := b.queue(topic)
	d := NewDispatcher(topic, handler, b.tracker, b.logger)

	b.wg.Add(1)
	go b.consume(ctx, topic, q, d)
	return nil
}

func (b *InMemoryBroker) consume(ctx context.Context, topic string, q *memQueue, d *Dispatcher) {
	defer b.wg.Done()

	for {
		m, ok := q.pop()
		if !ok {
			select {
			case <-q.ready:
				continue
			case <-ctx.Done():
				return
			case <-b.ctx.Done():
				return
			}
		}

		msg := Message{
			ID:          m.id,
			Topic:       topic,
			Body:        m.body,
			PublishedAt: m.publishedAt,
			Redelivered: m.redelivered,
		}
		res := d.Dispatch(ctx, msg)

		switch res.Outcome {
		case Requeue:
			m.redelivered = true
			q.pushFront(m)
		case DeadLetter:
			body, err := json.Marshal(newDLQEvent(msg, res))
			if err == nil {
				err = b.enqueue(context.Background(), contracts.DeadLetterQueue(topic), body, m.id)
			}
			if err != nil {
				b.logger.Error("failed to dead-letter message, requeueing", "topic", topic, "message_id", m.id, "error", err)
				q.pushFront(m)
			}
		}

		if ctx.Err() != nil || b.ctx.Err() != nil {
			return
		}
	}
}

// Close stops all consumers. Messages still queued are discarded.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	if b.tracker != nil {
		b.tracker.Close()
	}
	return nil
}
