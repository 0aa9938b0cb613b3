package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
)

// RabbitMQBroker owns one connection and one channel per process. Queues are
// durable, named after the topic and reached through the default exchange.
//
// Subscriptions are registered on the broker and attached to whichever
// channel is current. Only the connection reconnects, so the reconnect cap
// bounds every automatic dial regardless of how many topics are consumed.
type RabbitMQBroker struct {
	url     string
	dial    dialFunc
	logger  *log.Logger
	retry   RetryPolicy
	tracker *RedeliveryTracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu also serializes dialing, so concurrent callers share one attempt.
	mu                sync.Mutex
	conn              amqpConnection
	channel           amqpChannel
	subs              []*rabbitSubscription
	reconnectAttempts int
	reconnectPending  bool
	exhausted         bool
	closed            bool
}

type rabbitSubscription struct {
	ctx        context.Context
	topic      string
	tag        string
	dispatcher *Dispatcher

	// mu is held while the consumer is being registered.
	mu       sync.Mutex
	channel  amqpChannel // nil while detached
	attempts int
}

// detach clears the channel if the consumer still belongs to ch. It reports
// false when the subscription has already moved to a newer channel.
func (s *rabbitSubscription) detach(ch amqpChannel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != ch {
		return false
	}
	s.channel = nil
	return true
}

// nextAttempt returns the next attempt number, or 0 once policy is used up.
func (s *rabbitSubscription) nextAttempt(policy RetryPolicy) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !policy.Allows(s.attempts + 1) {
		return 0
	}
	s.attempts++
	return s.attempts
}

// NewRabbitMQBroker creates a broker for url. No connection is opened until
// Start, Publish or Subscribe is called.
func NewRabbitMQBroker(url string, opts Options) (*RabbitMQBroker, error) {
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	return newRabbitMQBroker(url, dialAMQP, opts), nil
}

func newRabbitMQBroker(url string, dial dialFunc, opts Options) *RabbitMQBroker {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &RabbitMQBroker{
		url:     url,
		dial:    dial,
		logger:  opts.Logger.With("broker", "rabbitmq"),
		retry:   opts.Retry,
		tracker: NewRedeliveryTracker(opts.RedeliveryLimit, opts.RedeliveryTTL),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *RabbitMQBroker) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.ensureConnected()
	return err
}

// Exhausted reports whether reconnecting gave up. Once true, only a process
// restart recovers the broker.
func (b *RabbitMQBroker) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exhausted
}

// ensureConnected returns the cached channel, dialing if there is none. A
// fresh channel gets every registered subscription attached to it.
func (b *RabbitMQBroker) ensureConnected() (amqpChannel, error) {
	ch, fresh, err := b.connect()
	if err != nil {
		return nil, err
	}
	if fresh {
		b.attachAll(ch)
	}
	return ch, nil
}

func (b *RabbitMQBroker) connect() (amqpChannel, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, false, ErrBrokerClosed
	}
	if b.channel != nil {
		return b.channel, false, nil
	}
	if b.exhausted {
		return nil, false, ErrReconnectExhausted
	}

	conn, err := b.dial(b.url)
	if err != nil {
		b.logger.Error("failed to connect to rabbitmq", "error", err)
		return nil, false, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		b.logger.Error("failed to open channel", "error", err)
		return nil, false, fmt.Errorf("open channel: %w", err)
	}

	b.conn = conn
	b.channel = ch
	b.reconnectAttempts = 0

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go b.watch(conn, connClosed, chanClosed)

	b.logger.Info("connected to rabbitmq")
	return ch, true, nil
}

func (b *RabbitMQBroker) currentChannel() amqpChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

// watch waits for the connection or its channel to go away, then drops the
// cached state and schedules a reconnect.
func (b *RabbitMQBroker) watch(conn amqpConnection, connClosed, chanClosed chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chanClosed:
	}

	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	b.channel = nil
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return
	}
	conn.Close()

	b.logger.Warn("rabbitmq connection lost", "reason", closeReason(reason))
	b.scheduleReconnect()
}

// scheduleReconnect arms at most one reconnect timer at a time.
func (b *RabbitMQBroker) scheduleReconnect() {
	b.mu.Lock()
	if b.closed || b.channel != nil || b.reconnectPending || b.exhausted {
		b.mu.Unlock()
		return
	}
	if !b.retry.Allows(b.reconnectAttempts + 1) {
		b.exhausted = true
		b.mu.Unlock()
		b.logger.Error("giving up on rabbitmq reconnect, restart required", "attempts", b.reconnectAttempts)
		return
	}
	b.reconnectAttempts++
	b.reconnectPending = true
	attempt := b.reconnectAttempts
	b.mu.Unlock()

	delay := b.retry.Delay(attempt)
	b.logger.Warn("scheduling rabbitmq reconnect", "attempt", attempt, "max_attempts", b.retry.MaxAttempts, "delay", delay)

	time.AfterFunc(delay, func() {
		b.mu.Lock()
		b.reconnectPending = false
		b.mu.Unlock()

		if _, err := b.ensureConnected(); err != nil {
			b.scheduleReconnect()
			return
		}
		b.logger.Info("rabbitmq reconnected", "attempt", attempt)
	})
}

func (b *RabbitMQBroker) Publish(ctx context.Context, topic string, payload interface{}) error {
	if topic == "" {
		return &PublishError{Topic: topic, Err: contracts.ErrMissingTopic}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &PublishError{Topic: topic, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	return b.publishBody(ctx, topic, body, uuid.NewString())
}

func (b *RabbitMQBroker) publishBody(ctx context.Context, queue string, body []byte, messageID string) error {
	if err := ctx.Err(); err != nil {
		return &PublishError{Topic: queue, Err: err}
	}

	ch, err := b.ensureConnected()
	if err != nil {
		return &PublishError{Topic: queue, Err: err}
	}

	if err := declareQueue(ch, queue); err != nil {
		return &PublishError{Topic: queue, Err: err}
	}

	err = ch.Publish(
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Type:         queue,
			Body:         body,
		},
	)
	if err != nil {
		return &PublishError{Topic: queue, Err: fmt.Errorf("send: %w", err)}
	}

	b.logger.Debug("published event", "topic", queue, "message_id", messageID)
	return nil
}

func (b *RabbitMQBroker) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if topic == "" {
		return contracts.ErrMissingTopic
	}
	if handler == nil {
		return ErrNilHandler
	}

	sub := &rabbitSubscription{
		ctx:        ctx,
		topic:      topic,
		tag:        topic + "." + uuid.NewString(),
		dispatcher: NewDispatcher(topic, handler, b.tracker, b.logger),
	}

	b.mu.Lock()
	switch {
	case b.closed:
		b.mu.Unlock()
		return ErrBrokerClosed
	case b.exhausted:
		b.mu.Unlock()
		return ErrReconnectExhausted
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	ch, err := b.ensureConnected()
	if err != nil {
		b.logger.Error("failed to subscribe, waiting for connection", "topic", topic, "error", err)
		b.scheduleReconnect()
		return nil
	}
	b.attach(sub, ch)
	return nil
}

func (b *RabbitMQBroker) attachAll(ch amqpChannel) {
	b.mu.Lock()
	subs := append([]*rabbitSubscription(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		b.attach(sub, ch)
	}
}

// attach registers sub's consumer on ch unless it already consumes there.
func (b *RabbitMQBroker) attach(sub *rabbitSubscription, ch amqpChannel) {
	if sub.ctx.Err() != nil {
		b.forget(sub)
		return
	}

	sub.mu.Lock()
	if sub.channel == ch {
		sub.mu.Unlock()
		return
	}
	deliveries, err := setupConsumer(ch, sub.topic, sub.tag)
	if err != nil {
		sub.mu.Unlock()
		b.logger.Error("failed to subscribe", "topic", sub.topic, "error", err)
		b.scheduleResubscribe(sub)
		return
	}
	sub.channel = ch
	sub.attempts = 0
	sub.mu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	b.logger.Info("subscribed", "topic", sub.topic)
	go b.consume(sub, ch, deliveries)
}

func (b *RabbitMQBroker) forget(sub *rabbitSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

func setupConsumer(ch amqpChannel, topic, tag string) (<-chan amqp.Delivery, error) {
	if err := declareQueue(ch, topic); err != nil {
		return nil, err
	}
	if err := ch.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		topic,
		tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register consumer: %w", err)
	}
	return deliveries, nil
}

// resubscribe re-registers sub on the cached channel and never dials. While
// disconnected it does nothing; the next connect attaches every subscription.
func (b *RabbitMQBroker) resubscribe(sub *rabbitSubscription) {
	ch := b.currentChannel()
	if ch == nil {
		return
	}
	b.attach(sub, ch)
}

// scheduleResubscribe retries consumer registration on a live channel with
// the same bounded policy as connection reconnects.
func (b *RabbitMQBroker) scheduleResubscribe(sub *rabbitSubscription) {
	if sub.ctx.Err() != nil || b.ctx.Err() != nil {
		return
	}
	attempt := sub.nextAttempt(b.retry)
	if attempt == 0 {
		b.logger.Error("giving up on subscription until the next reconnect", "topic", sub.topic, "attempts", b.retry.MaxAttempts)
		return
	}
	delay := b.retry.Delay(attempt)
	b.logger.Warn("scheduling resubscribe", "topic", sub.topic, "attempt", attempt, "delay", delay)

	time.AfterFunc(delay, func() {
		b.resubscribe(sub)
	})
}

func (b *RabbitMQBroker) consume(sub *rabbitSubscription, ch amqpChannel, deliveries <-chan amqp.Delivery) {
	defer b.wg.Done()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				if b.ctx.Err() != nil || sub.ctx.Err() != nil {
					return
				}
				if !sub.detach(ch) {
					return
				}
				b.logger.Warn("delivery stream closed", "topic", sub.topic)
				b.resubscribe(sub)
				return
			}
			b.handleDelivery(sub, d)

		case <-sub.ctx.Done():
			b.forget(sub)
			sub.detach(ch)
			b.cancelConsumer(ch, sub.tag)
			return

		case <-b.ctx.Done():
			return
		}
	}
}

func (b *RabbitMQBroker) handleDelivery(sub *rabbitSubscription, d amqp.Delivery) {
	msg := Message{
		ID:          d.MessageId,
		Topic:       sub.topic,
		Body:        d.Body,
		PublishedAt: d.Timestamp,
		Redelivered: d.Redelivered,
	}

	res := sub.dispatcher.Dispatch(sub.ctx, msg)

	var err error
	switch res.Outcome {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	case DeadLetter:
		if dlErr := b.deadLetter(sub.ctx, msg, res); dlErr != nil {
			b.logger.Error("failed to dead-letter message, requeueing", "topic", sub.topic, "message_id", msg.ID, "error", dlErr)
			err = d.Nack(false, true)
		} else {
			err = d.Ack(false)
		}
	}
	if err != nil {
		b.logger.Error("failed to settle delivery", "topic", sub.topic, "outcome", res.Outcome, "error", err)
	}
}

func (b *RabbitMQBroker) deadLetter(ctx context.Context, msg Message, res Result) error {
	body, err := json.Marshal(newDLQEvent(msg, res))
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	return b.publishBody(ctx, contracts.DeadLetterQueue(msg.Topic), body, msg.ID)
}

func (b *RabbitMQBroker) cancelConsumer(ch amqpChannel, tag string) {
	if b.currentChannel() != ch {
		return
	}
	if err := ch.Cancel(tag, false); err != nil {
		b.logger.Warn("failed to cancel consumer", "tag", tag, "error", err)
	}
}

// Close stops consumers, disables reconnects and closes the connection.
func (b *RabbitMQBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn, ch := b.conn, b.channel
	b.conn, b.channel = nil, nil
	b.mu.Unlock()

	b.cancel()

	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	b.wg.Wait()
	if b.tracker != nil {
		b.tracker.Close()
	}
	return errors.Join(errs...)
}

// declareQueue asserts a durable queue. Every party must use the same flags or
// the broker closes the channel with PRECONDITION_FAILED.
func declareQueue(ch amqpChannel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}
