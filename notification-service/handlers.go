package main

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
	"github.com/FaydArshan94/Prodexa-sub000/shared/mailer"
	"github.com/FaydArshan94/Prodexa-sub000/shared/messaging"
)

// Notifier turns notification events into emails. A failed send is returned
// so the event is redelivered.
type Notifier struct {
	mailer mailer.Mailer
	logger *log.Logger
}

func NewNotifier(m mailer.Mailer, logger *log.Logger) *Notifier {
	return &Notifier{mailer: m, logger: logger}
}

// Handlers maps each notification topic to its handler.
func (n *Notifier) Handlers() map[string]messaging.MessageHandler {
	return map[string]messaging.MessageHandler{
		contracts.TopicUserCreated:                n.userCreated,
		contracts.TopicPaymentCompleted:           n.paymentCompleted,
		contracts.TopicPaymentFailed:              n.paymentFailed,
		contracts.TopicProductCreatedNotification: n.productCreated,
	}
}

func (n *Notifier) Subscribe(ctx context.Context, broker messaging.MessageBroker) error {
	handlers := n.Handlers()
	for _, topic := range contracts.NotificationTopics {
		if err := broker.Subscribe(ctx, topic, handlers[topic]); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		n.logger.Info("Subscribed to notification topic", "topic", topic)
	}
	return nil
}

func (n *Notifier) userCreated(ctx context.Context, event *contracts.Event) error {
	var user contracts.UserCreated
	if err := event.Decode(&user); err != nil {
		return err
	}
	email, err := mailer.Welcome(user)
	if err != nil {
		return err
	}
	return n.deliver(ctx, event, email)
}

func (n *Notifier) paymentCompleted(ctx context.Context, event *contracts.Event) error {
	var payment contracts.PaymentCompleted
	if err := event.Decode(&payment); err != nil {
		return err
	}
	email, err := mailer.PaymentSucceeded(payment)
	if err != nil {
		return err
	}
	return n.deliver(ctx, event, email)
}

func (n *Notifier) paymentFailed(ctx context.Context, event *contracts.Event) error {
	var payment contracts.PaymentFailed
	if err := event.Decode(&payment); err != nil {
		return err
	}
	email, err := mailer.PaymentFailed(payment)
	if err != nil {
		return err
	}
	return n.deliver(ctx, event, email)
}

func (n *Notifier) productCreated(ctx context.Context, event *contracts.Event) error {
	var product contracts.ProductLive
	if err := event.Decode(&product); err != nil {
		return err
	}
	email, err := mailer.ProductLive(product)
	if err != nil {
		return err
	}
	return n.deliver(ctx, event, email)
}

func (n *Notifier) deliver(ctx context.Context, event *contracts.Event, email mailer.Email) error {
	if email.To == "" {
		n.logger.Warn("Notification has no recipient, skipping", "topic", event.Topic, "message_id", event.MessageID)
		return nil
	}
	if err := checkRecipient(email.To); err != nil {
		return err
	}

	if err := n.mailer.Send(ctx, email); err != nil {
		return fmt.Errorf("send %s email: %w", event.Topic, err)
	}
	n.logger.Info("Notification sent", "topic", event.Topic, "to", email.To, "subject", email.Subject)
	return nil
}

// checkRecipient rejects addresses no retry could deliver to. SMTP refuses
// line breaks in a recipient, so such events are dropped instead of requeued.
func checkRecipient(to string) error {
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("%w: recipient contains a line break", contracts.ErrMalformedPayload)
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return fmt.Errorf("%w: recipient %q: %v", contracts.ErrMalformedPayload, to, err)
	}
	return nil
}
