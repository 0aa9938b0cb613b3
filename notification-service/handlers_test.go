package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
	"github.com/FaydArshan94/Prodexa-sub000/shared/logger"
	"github.com/FaydArshan94/Prodexa-sub000/shared/mailer"
	"github.com/FaydArshan94/Prodexa-sub000/shared/messaging"
)

type fakeMailer struct {
	mu    sync.Mutex
	sent  []mailer.Email
	fails int
}

func (m *fakeMailer) Send(_ context.Context, email mailer.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails > 0 {
		m.fails--
		return errors.New("smtp: 421 service not available")
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *fakeMailer) emails() []mailer.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Email(nil), m.sent...)
}

func event(topic, body string) *contracts.Event {
	return contracts.NewEvent(topic, "m-1", []byte(body), time.Now(), false)
}

func TestNotificationHandlers(t *testing.T) {
	tests := []struct {
		topic   string
		body    string
		to      string
		subject string
	}{
		{contracts.TopicUserCreated, `{"id":"u1","username":"asha","email":"asha@example.com","fullName":{"firstName":"Asha","lastName":"Rao"}}`, "asha@example.com", "Welcome to Prodexa"},
		{contracts.TopicPaymentCompleted, `{"username":"asha","email":"asha@example.com","paymentId":"pay_1","orderId":"A1","userId":"u1","amount":200,"currency":"INR"}`, "asha@example.com", "Payment successful"},
		{contracts.TopicPaymentFailed, `{"paymentId":"pay_2","orderId":"A1","username":"asha","email":"asha@example.com"}`, "asha@example.com", "Payment failed"},
		{contracts.TopicProductCreatedNotification, `{"email":"s1@example.com","productId":"P1","username":"s1"}`, "s1@example.com", "Your product is live"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			m := &fakeMailer{}
			n := NewNotifier(m, logger.Discard())

			require.NoError(t, n.Handlers()[tt.topic](context.Background(), event(tt.topic, tt.body)))

			sent := m.emails()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.to, sent[0].To)
			assert.Equal(t, tt.subject, sent[0].Subject)
		})
	}
}

func TestNotificationWithoutRecipientIsSkipped(t *testing.T) {
	m := &fakeMailer{}
	n := NewNotifier(m, logger.Discard())

	err := n.Handlers()[contracts.TopicPaymentFailed](context.Background(), event(contracts.TopicPaymentFailed, `{"paymentId":"pay_2","orderId":"A1","username":"asha"}`))
	require.NoError(t, err)
	assert.Empty(t, m.emails())
}

func TestNotificationWithUndeliverableRecipientIsMalformed(t *testing.T) {
	recipients := []string{
		`asha@example.com\r\nBcc: everyone@example.com`,
		`asha@example.com\n`,
		`not an address`,
	}
	for _, to := range recipients {
		m := &fakeMailer{}
		n := NewNotifier(m, logger.Discard())

		body := `{"id":"u1","username":"asha","email":"` + to + `"}`
		err := n.Handlers()[contracts.TopicUserCreated](context.Background(), event(contracts.TopicUserCreated, body))
		assert.ErrorIs(t, err, contracts.ErrMalformedPayload, to)
		assert.Empty(t, m.emails(), to)
	}
}

func TestNotificationMalformedPayload(t *testing.T) {
	n := NewNotifier(&fakeMailer{}, logger.Discard())

	err := n.Handlers()[contracts.TopicPaymentCompleted](context.Background(), event(contracts.TopicPaymentCompleted, `{"amount":"lots"}`))
	assert.ErrorIs(t, err, contracts.ErrMalformedPayload)
}

func TestNotificationSendFailureIsRetried(t *testing.T) {
	m := &fakeMailer{fails: 1}
	n := NewNotifier(m, logger.Discard())

	broker := messaging.NewInMemoryBroker(messaging.Options{})
	t.Cleanup(func() { broker.Close() })
	require.NoError(t, n.Subscribe(context.Background(), broker))

	require.NoError(t, broker.Publish(context.Background(), contracts.TopicUserCreated, contracts.UserCreated{ID: "u1", Username: "asha", Email: "asha@example.com"}))

	require.Eventually(t, func() bool { return len(m.emails()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "asha@example.com", m.emails()[0].To)
}

func TestSubscribeCoversEveryNotificationTopic(t *testing.T) {
	n := NewNotifier(&fakeMailer{}, logger.Discard())
	handlers := n.Handlers()
	for _, topic := range contracts.NotificationTopics {
		assert.NotNil(t, handlers[topic], topic)
	}
	assert.Len(t, handlers, len(contracts.NotificationTopics))
}
