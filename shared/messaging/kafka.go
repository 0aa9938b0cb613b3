package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
)

const headerMessageID = "message_id"

// KafkaBroker carries the same topics over Kafka. Kafka has no requeue, so a
// failed message is retried in place, which keeps partition order and is
// still at-least-once; its offset is marked only once it is settled.
type KafkaBroker struct {
	brokers     []string
	groupPrefix string
	config      *sarama.Config
	producer    sarama.SyncProducer
	logger      *log.Logger
	retry       RetryPolicy
	tracker     *RedeliveryTracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	groups []sarama.ConsumerGroup
	closed bool
}

func newSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_8_0_0
	return config
}

// NewKafkaBroker connects a producer to brokers. Each subscription joins its
// own consumer group named "<groupPrefix>.<topic>".
func NewKafkaBroker(brokers []string, groupPrefix string, opts Options) (*KafkaBroker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	config := newSaramaConfig()
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return newKafkaBroker(brokers, groupPrefix, config, producer, opts), nil
}

func newKafkaBroker(brokers []string, groupPrefix string, config *sarama.Config, producer sarama.SyncProducer, opts Options) *KafkaBroker {
	opts = opts.withDefaults()
	if groupPrefix == "" {
		groupPrefix = "prodexa"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBroker{
		brokers:     brokers,
		groupPrefix: groupPrefix,
		config:      config,
		producer:    producer,
		logger:      opts.Logger.With("broker", "kafka"),
		retry:       opts.Retry,
		tracker:     NewRedeliveryTracker(opts.RedeliveryLimit, opts.RedeliveryTTL),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (k *KafkaBroker) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrBrokerClosed
	}
	return ctx.Err()
}

func (k *KafkaBroker) Publish(ctx context.Context, topic string, payload interface{}) error {
	if topic == "" {
		return &PublishError{Topic: topic, Err: contracts.ErrMissingTopic}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &PublishError{Topic: topic, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	return k.publishBody(ctx, topic, data, uuid.NewString())
}

func (k *KafkaBroker) publishBody(ctx context.Context, topic string, data []byte, messageID string) error {
	if err := ctx.Err(); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return &PublishError{Topic: topic, Err: ErrBrokerClosed}
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(messageID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerMessageID), Value: []byte(messageID)},
			{Key: []byte("event_type"), Value: []byte(topic)},
		},
		Timestamp: time.Now().UTC(),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return &PublishError{Topic: topic, Err: fmt.Errorf("send: %w", err)}
	}

	k.logger.Debug("published event", "topic", topic, "partition", partition, "offset", offset, "message_id", messageID)
	return nil
}

func (k *KafkaBroker) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if topic == "" {
		return contracts.ErrMissingTopic
	}
	if handler == nil {
		return ErrNilHandler
	}
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}

	h := &kafkaGroupHandler{
		broker:     k,
		dispatcher: NewDispatcher(topic, handler, k.tracker, k.logger),
	}
	k.trySubscribe(ctx, topic, h, 0)
	return nil
}

func (k *KafkaBroker) trySubscribe(ctx context.Context, topic string, h *kafkaGroupHandler, attempt int) {
	group, err := sarama.NewConsumerGroup(k.brokers, k.groupPrefix+"."+topic, k.config)
	if err != nil {
		k.logger.Error("failed to create consumer group", "topic", topic, "error", err)
		next := attempt + 1
		if !k.retry.Allows(next) || ctx.Err() != nil || k.ctx.Err() != nil {
			k.logger.Error("giving up on subscription, restart required", "topic", topic)
			return
		}
		time.AfterFunc(k.retry.Delay(next), func() {
			k.trySubscribe(ctx, topic, h, next)
		})
		return
	}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		group.Close()
		return
	}
	k.groups = append(k.groups, group)
	k.wg.Add(1)
	k.mu.Unlock()

	go func() {
		defer k.wg.Done()
		for {
			if err := group.Consume(ctx, []string{topic}, h); err != nil {
				k.logger.Error("error consuming from Kafka", "topic", topic, "error", err)
				select {
				case <-time.After(k.retry.BaseDelay):
				case <-ctx.Done():
				case <-k.ctx.Done():
				}
			}
			if ctx.Err() != nil || k.ctx.Err() != nil {
				return
			}
		}
	}()
	k.logger.Info("subscribed", "topic", topic)
}

// Close shuts down all consumer groups and the producer.
func (k *KafkaBroker) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	groups := k.groups
	k.groups = nil
	k.mu.Unlock()

	k.cancel()

	var firstErr error
	for _, g := range groups {
		if err := g.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	k.wg.Wait()

	if err := k.producer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if k.tracker != nil {
		k.tracker.Close()
	}
	return firstErr
}

// kafkaGroupHandler implements sarama.ConsumerGroupHandler.
type kafkaGroupHandler struct {
	broker     *KafkaBroker
	dispatcher *Dispatcher
}

func (h *kafkaGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *kafkaGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *kafkaGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if !h.settle(ctx, kafkaMessage(message)) {
				return nil
			}
			session.MarkMessage(message, "")

		case <-ctx.Done():
			return nil
		}
	}
}

// settle dispatches msg until it is acked or dead-lettered. It returns false
// if the session ended first, leaving the offset unmarked for redelivery.
func (h *kafkaGroupHandler) settle(ctx context.Context, msg Message) bool {
	for {
		res := h.dispatcher.Dispatch(ctx, msg)
		switch res.Outcome {
		case Ack:
			return true
		case DeadLetter:
			body, err := json.Marshal(newDLQEvent(msg, res))
			if err == nil {
				err = h.broker.publishBody(ctx, contracts.DeadLetterQueue(msg.Topic), body, msg.ID)
			}
			if err == nil {
				return true
			}
			h.broker.logger.Error("failed to dead-letter message, retrying", "topic", msg.Topic, "message_id", msg.ID, "error", err)
		}

		msg.Redelivered = true
		select {
		case <-time.After(h.broker.retry.BaseDelay):
		case <-ctx.Done():
			return false
		}
	}
}

func kafkaMessage(m *sarama.ConsumerMessage) Message {
	id := string(m.Key)
	for _, header := range m.Headers {
		if header != nil && string(header.Key) == headerMessageID {
			id = string(header.Value)
		}
	}
	return Message{
		ID:          id,
		Topic:       m.Topic,
		Body:        m.Value,
		PublishedAt: m.Timestamp,
	}
}
