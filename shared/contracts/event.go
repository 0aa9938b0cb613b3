package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a message as seen by a consumer. On the wire only Payload travels in
// the body; the remaining fields come from broker message properties.
type Event struct {
	MessageID   string          `json:"message_id,omitempty"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at,omitempty"`
	Redelivered bool            `json:"redelivered,omitempty"`
}

// NewEvent wraps a raw message body received on topic.
func NewEvent(topic, messageID string, body []byte, publishedAt time.Time, redelivered bool) *Event {
	return &Event{
		MessageID:   messageID,
		Topic:       topic,
		Payload:     json.RawMessage(body),
		PublishedAt: publishedAt,
		Redelivered: redelivered,
	}
}

// Validate ensures the event can be handed to a handler.
func (e *Event) Validate() error {
	if e.Topic == "" {
		return ErrMissingTopic
	}
	if !json.Valid(e.Payload) {
		return ErrInvalidPayload
	}
	return nil
}

// Decode unmarshals the payload into v. Decoding failures wrap
// ErrMalformedPayload so the dispatcher drops the message instead of
// requeueing it forever.
func (e *Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, e.Topic, err)
	}
	return nil
}

// DocumentID returns the "_id" every projection keys on.
func (e *Event) DocumentID() (string, error) {
	var ref struct {
		ID string `json:"_id"`
	}
	if err := e.Decode(&ref); err != nil {
		return "", err
	}
	if ref.ID == "" {
		return "", fmt.Errorf("%w: %w", ErrMalformedPayload, ErrMissingDocumentID)
	}
	return ref.ID, nil
}
