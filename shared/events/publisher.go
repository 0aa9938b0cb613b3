// Package events holds the typed publish call sites. Every method returns the
// broker's error so the caller chooses what a failed publish means.
package events

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
	"github.com/FaydArshan94/Prodexa-sub000/shared/messaging"
)

type Publisher struct {
	broker messaging.MessageBroker
}

func NewPublisher(broker messaging.MessageBroker) *Publisher {
	return &Publisher{broker: broker}
}

func (p *Publisher) UserCreated(ctx context.Context, user contracts.UserCreated) error {
	return p.broker.Publish(ctx, contracts.TopicUserCreated, user)
}

func (p *Publisher) PaymentCompleted(ctx context.Context, payment contracts.PaymentCompleted) error {
	return p.broker.Publish(ctx, contracts.TopicPaymentCompleted, payment)
}

func (p *Publisher) PaymentFailed(ctx context.Context, payment contracts.PaymentFailed) error {
	return p.broker.Publish(ctx, contracts.TopicPaymentFailed, payment)
}

// ProductCreated tells the seller a product is live and feeds the seller
// dashboard projection. Both publishes are attempted even if one fails.
func (p *Publisher) ProductCreated(ctx context.Context, product contracts.Product, seller contracts.ProductLive) error {
	if seller.ProductID == "" {
		seller.ProductID = product.ID
	}
	return errors.Join(
		p.broker.Publish(ctx, contracts.TopicProductCreatedNotification, seller),
		p.broker.Publish(ctx, contracts.TopicProductCreatedDashboard, product),
	)
}

func (p *Publisher) ProductUpdated(ctx context.Context, product contracts.Product) error {
	return p.broker.Publish(ctx, contracts.TopicProductUpdated, product)
}

func (p *Publisher) ProductDeleted(ctx context.Context, productID string) error {
	return p.broker.Publish(ctx, contracts.TopicProductDeleted, contracts.DocumentRef{ID: productID})
}

func (p *Publisher) OrderCreated(ctx context.Context, order contracts.Order) error {
	return p.broker.Publish(ctx, contracts.TopicOrderCreated, order)
}

func (p *Publisher) OrderUpdated(ctx context.Context, order contracts.Order) error {
	return p.broker.Publish(ctx, contracts.TopicOrderUpdated, order)
}

func (p *Publisher) OrderCancelled(ctx context.Context, orderID string) error {
	return p.broker.Publish(ctx, contracts.TopicOrderCancelled, contracts.DocumentRef{ID: orderID})
}

// LogFailure is the log-and-continue policy for publishes that follow an
// already committed write. A lost event leaves consumers stale until someone
// reconciles by hand. It reports whether err was nil.
func LogFailure(logger *log.Logger, err error, keyvals ...interface{}) bool {
	if err == nil {
		return true
	}

	var pubErr *messaging.PublishError
	if errors.As(err, &pubErr) {
		keyvals = append(keyvals, "topic", pubErr.Topic)
	}
	logger.Error("failed to publish event, consumers will not see this change", append(keyvals, "error", err)...)
	return false
}
