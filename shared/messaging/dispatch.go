package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
)

// Outcome is what a transport must do with a message after dispatch.
type Outcome int

const (
	// Ack removes the message from the queue.
	Ack Outcome = iota
	// Requeue returns the message to the queue for redelivery.
	Requeue
	// DeadLetter parks the message in the topic's dead-letter queue, then acks it.
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case DeadLetter:
		return "dead-letter"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Message is a transport-neutral received message.
type Message struct {
	ID          string
	Topic       string
	Body        []byte
	PublishedAt time.Time
	Redelivered bool
}

type Result struct {
	Outcome  Outcome
	Err      error
	Failures int
}

// Dispatcher runs a handler for one topic and decides the outcome of each
// message. Every transport shares it so poison handling and redelivery
// accounting behave the same on RabbitMQ, Kafka and in memory.
type Dispatcher struct {
	topic   string
	handler MessageHandler
	tracker *RedeliveryTracker
	logger  *log.Logger
}

func NewDispatcher(topic string, handler MessageHandler, tracker *RedeliveryTracker, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		topic:   topic,
		handler: handler,
		tracker: tracker,
		logger:  logger.With("topic", topic),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Result {
	event := contracts.NewEvent(d.topic, msg.ID, msg.Body, msg.PublishedAt, msg.Redelivered)
	if err := event.Validate(); err != nil {
		d.logger.Error("dropping unparseable message", "message_id", msg.ID, "body", string(msg.Body), "error", err)
		return Result{Outcome: Ack, Err: err}
	}

	err := d.invoke(ctx, event)
	if err == nil {
		d.forget(msg)
		return Result{Outcome: Ack}
	}

	if errors.Is(err, contracts.ErrMalformedPayload) {
		d.logger.Error("dropping malformed payload", "message_id", msg.ID, "body", string(msg.Body), "error", err)
		d.forget(msg)
		return Result{Outcome: Ack, Err: err}
	}

	if d.tracker == nil {
		d.logger.Warn("handler failed, requeueing", "message_id", msg.ID, "redelivered", msg.Redelivered, "error", err)
		return Result{Outcome: Requeue, Err: err}
	}

	key := redeliveryKey(msg)
	failures := d.tracker.Fail(key)
	if d.tracker.Exceeded(failures) {
		d.logger.Error("handler failed too often, dead-lettering", "message_id", msg.ID, "failures", failures, "error", err)
		d.tracker.Forget(key)
		return Result{Outcome: DeadLetter, Err: err, Failures: failures}
	}

	d.logger.Warn("handler failed, requeueing", "message_id", msg.ID, "failures", failures, "error", err)
	return Result{Outcome: Requeue, Err: err, Failures: failures}
}

func (d *Dispatcher) invoke(ctx context.Context, event *contracts.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handler(ctx, event)
}

func (d *Dispatcher) forget(msg Message) {
	if d.tracker != nil {
		d.tracker.Forget(redeliveryKey(msg))
	}
}
