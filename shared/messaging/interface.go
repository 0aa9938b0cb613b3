package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
	"github.com/FaydArshan94/Prodexa-sub000/shared/logger"
)

var (
	ErrBrokerClosed       = errors.New("broker is closed")
	ErrReconnectExhausted = errors.New("broker reconnect attempts exhausted, restart required")
	ErrNilHandler         = errors.New("handler is required")
)

// MessageBroker is the process-wide handle services publish and subscribe
// through. One instance is created at startup and passed to every publisher
// and consumer.
type MessageBroker interface {
	// Start establishes the broker connection. It is idempotent and safe to
	// call concurrently; Publish and Subscribe connect lazily as well.
	Start(ctx context.Context) error

	// Publish serializes payload to JSON and sends it to the durable queue
	// named topic. It returns once the broker accepted the message, without
	// waiting for any consumer. Failures are returned as *PublishError.
	Publish(ctx context.Context, topic string, payload interface{}) error

	// Subscribe consumes topic one message at a time with manual
	// acknowledgement. Setup failures are retried in the background.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Close stops consumers and releases the connection.
	Close() error
}

// MessageHandler applies one event. A nil return acknowledges the message.
// An error wrapping contracts.ErrMalformedPayload drops it; any other error
// requeues it for redelivery.
type MessageHandler func(ctx context.Context, event *contracts.Event) error

// PublishError reports a message that did not reach the broker.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// DLQEvent is the body written to a dead-letter queue.
type DLQEvent struct {
	Topic       string          `json:"topic"`
	MessageID   string          `json:"message_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Error       string          `json:"error"`
	RetryCount  int             `json:"retry_count"`
	LastAttempt string          `json:"last_attempt"` // ISO-8601 timestamp
}

func newDLQEvent(msg Message, res Result) DLQEvent {
	reason := ""
	if res.Err != nil {
		reason = res.Err.Error()
	}
	return DLQEvent{
		Topic:       msg.Topic,
		MessageID:   msg.ID,
		Payload:     json.RawMessage(msg.Body),
		Error:       reason,
		RetryCount:  res.Failures,
		LastAttempt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Options tune every broker implementation.
type Options struct {
	Logger *log.Logger

	// Retry bounds both connection reconnects and subscription setup retries.
	Retry RetryPolicy

	// RedeliveryLimit is the number of failed handler attempts after which a
	// message is dead-lettered. Zero keeps requeueing forever.
	RedeliveryLimit int

	// RedeliveryTTL is how long a failure count is remembered.
	RedeliveryTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	if o.Retry.MaxAttempts <= 0 || o.Retry.BaseDelay <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.RedeliveryTTL <= 0 {
		o.RedeliveryTTL = time.Hour
	}
	return o
}
