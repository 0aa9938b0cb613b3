// Package projection keeps read-side copies of other services' documents in
// sync by replaying their lifecycle events.
package projection

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
	"github.com/FaydArshan94/Prodexa-sub000/shared/database"
	"github.com/FaydArshan94/Prodexa-sub000/shared/messaging"
)

// Op is what an event does to its projection record.
type Op int

const (
	OpUpsert Op = iota
	OpDelete
)

func (o Op) String() string {
	if o == OpDelete {
		return "delete"
	}
	return "upsert"
}

// Binding ties a topic to a store and the operation its events apply.
type Binding struct {
	Topic string
	Store database.DocumentStore
	Op    Op
}

// SellerDashboardBindings are the order and product projections kept by the
// seller dashboard.
func SellerDashboardBindings(orders, products database.DocumentStore) []Binding {
	return []Binding{
		{Topic: contracts.TopicOrderCreated, Store: orders, Op: OpUpsert},
		{Topic: contracts.TopicOrderUpdated, Store: orders, Op: OpUpsert},
		{Topic: contracts.TopicOrderCancelled, Store: orders, Op: OpDelete},
		{Topic: contracts.TopicProductCreatedDashboard, Store: products, Op: OpUpsert},
		{Topic: contracts.TopicProductUpdated, Store: products, Op: OpUpsert},
		{Topic: contracts.TopicProductDeleted, Store: products, Op: OpDelete},
	}
}

// Consumer subscribes every binding on one broker. Events carry no version,
// so whichever copy of a document is delivered last wins, and a redelivered
// older event can overwrite a newer one.
type Consumer struct {
	broker   messaging.MessageBroker
	bindings []Binding
	logger   *log.Logger
}

func NewConsumer(broker messaging.MessageBroker, bindings []Binding, logger *log.Logger) *Consumer {
	return &Consumer{
		broker:   broker,
		bindings: bindings,
		logger:   logger,
	}
}

// Start subscribes all bindings. Subscriptions live until ctx is done or the
// broker is closed.
func (c *Consumer) Start(ctx context.Context) error {
	for _, b := range c.bindings {
		if err := c.broker.Subscribe(ctx, b.Topic, c.Handler(b)); err != nil {
			return fmt.Errorf("subscribe %s: %w", b.Topic, err)
		}
		c.logger.Info("projection consumer registered", "topic", b.Topic, "op", b.Op)
	}
	return nil
}

// Handler applies one binding's events to its store. Payloads without an _id
// are dropped as malformed; store errors are returned so the broker requeues.
func (c *Consumer) Handler(b Binding) messaging.MessageHandler {
	return func(ctx context.Context, event *contracts.Event) error {
		id, err := event.DocumentID()
		if err != nil {
			return err
		}

		switch b.Op {
		case OpDelete:
			err = b.Store.Delete(ctx, id)
		default:
			err = b.Store.Upsert(ctx, id, event.Payload)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", b.Op, id, err)
		}

		c.logger.Debug("projection applied", "topic", event.Topic, "op", b.Op, "id", id, "redelivered", event.Redelivered)
		return nil
	}
}
