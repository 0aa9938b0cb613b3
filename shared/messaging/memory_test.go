package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
)

func newTestMemory(t *testing.T, opts Options) *InMemoryBroker {
	t.Helper()
	b := NewInMemoryBroker(opts)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b
}

func TestInMemoryBroker_DeliversQueuedMessages(t *testing.T) {
	b := newTestMemory(t, testOptions())
	ctx := context.Background()

	// Queues are durable by name: messages wait for a consumer.
	require.NoError(t, b.Publish(ctx, contracts.TopicOrderCreated, map[string]string{"_id": "A1"}))
	require.NoError(t, b.Publish(ctx, contracts.TopicOrderCreated, map[string]string{"_id": "A2"}))
	assert.Equal(t, 2, b.Depth(contracts.TopicOrderCreated))

	received := make(chan *contracts.Event, 2)
	require.NoError(t, b.Subscribe(ctx, contracts.TopicOrderCreated, func(_ context.Context, ev *contracts.Event) error {
		received <- ev
		return nil
	}))

	for _, want := range []string{"A1", "A2"} {
		select {
		case ev := <-received:
			id, err := ev.DocumentID()
			require.NoError(t, err)
			assert.Equal(t, want, id)
			assert.NotEmpty(t, ev.MessageID)
		case <-time.After(waitFor):
			t.Fatalf("message %s not delivered", want)
		}
	}
	assert.Equal(t, 0, b.Depth(contracts.TopicOrderCreated))
}

func TestInMemoryBroker_RequeuesToHead(t *testing.T) {
	b := newTestMemory(t, testOptions())
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	var redelivered []bool
	failed := false

	require.NoError(t, b.Publish(ctx, contracts.TopicOrderUpdated, map[string]string{"_id": "A1"}))
	require.NoError(t, b.Publish(ctx, contracts.TopicOrderUpdated, map[string]string{"_id": "A2"}))

	require.NoError(t, b.Subscribe(ctx, contracts.TopicOrderUpdated, func(_ context.Context, ev *contracts.Event) error {
		id, _ := ev.DocumentID()
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
		redelivered = append(redelivered, ev.Redelivered)
		if id == "A1" && !failed {
			failed = true
			return errors.New("store unavailable")
		}
		return nil
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A1", "A1", "A2"}, seen)
	assert.Equal(t, []bool{false, true, false}, redelivered)
}

func TestInMemoryBroker_CompetingConsumers(t *testing.T) {
	b := newTestMemory(t, testOptions())
	ctx := context.Background()

	var mu sync.Mutex
	counts := make(map[string]int)
	handler := func(_ context.Context, ev *contracts.Event) error {
		id, err := ev.DocumentID()
		if err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		counts[id]++
		mu.Unlock()
		return nil
	}
	require.NoError(t, b.Subscribe(ctx, contracts.TopicProductUpdated, handler))
	require.NoError(t, b.Subscribe(ctx, contracts.TopicProductUpdated, handler))

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publish(ctx, contracts.TopicProductUpdated, map[string]string{"_id": fmt.Sprintf("P%d", i)}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(counts) == 20
	}, waitFor, tick)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for id, n := range counts {
		assert.Equal(t, 1, n, "message %s delivered to exactly one consumer", id)
	}
}

func TestInMemoryBroker_DropsPoisonMessages(t *testing.T) {
	b := newTestMemory(t, testOptions())
	ctx := context.Background()

	calls := make(chan string, 4)
	require.NoError(t, b.Subscribe(ctx, contracts.TopicOrderCancelled, func(_ context.Context, ev *contracts.Event) error {
		id, err := ev.DocumentID()
		if err != nil {
			calls <- "malformed"
			return err
		}
		calls <- id
		return nil
	}))

	require.NoError(t, b.PublishRaw(ctx, contracts.TopicOrderCancelled, []byte(`{oops`)))
	require.NoError(t, b.Publish(ctx, contracts.TopicOrderCancelled, map[string]string{"status": "CANCELLED"}))
	require.NoError(t, b.Publish(ctx, contracts.TopicOrderCancelled, map[string]string{"_id": "A1"}))

	var got []string
	for len(got) < 2 {
		select {
		case c := <-calls:
			got = append(got, c)
		case <-time.After(waitFor):
			t.Fatalf("only got %v", got)
		}
	}
	assert.Equal(t, []string{"malformed", "A1"}, got)
	assert.Equal(t, 0, b.Depth(contracts.TopicOrderCancelled))
}

func TestInMemoryBroker_DeadLetters(t *testing.T) {
	opts := testOptions()
	opts.RedeliveryLimit = 2
	b := newTestMemory(t, opts)
	ctx := context.Background()

	require.NoError(t, b.Subscribe(ctx, contracts.TopicOrderCreated, func(context.Context, *contracts.Event) error {
		return errors.New("store unavailable")
	}))
	require.NoError(t, b.Publish(ctx, contracts.TopicOrderCreated, map[string]string{"_id": "A1"}))

	dlq := contracts.DeadLetterQueue(contracts.TopicOrderCreated)
	require.Eventually(t, func() bool { return b.Depth(dlq) == 1 }, waitFor, tick)

	parked := make(chan DLQEvent, 1)
	require.NoError(t, b.Subscribe(ctx, dlq, func(_ context.Context, ev *contracts.Event) error {
		var e DLQEvent
		if err := json.Unmarshal(ev.Payload, &e); err != nil {
			return err
		}
		parked <- e
		return nil
	}))

	select {
	case e := <-parked:
		assert.Equal(t, contracts.TopicOrderCreated, e.Topic)
		assert.Equal(t, 2, e.RetryCount)
		assert.JSONEq(t, `{"_id":"A1"}`, string(e.Payload))
	case <-time.After(waitFor):
		t.Fatal("dead-lettered message not delivered")
	}
}

func TestInMemoryBroker_Close(t *testing.T) {
	b := NewInMemoryBroker(testOptions())
	ctx := context.Background()

	require.NoError(t, b.Subscribe(ctx, contracts.TopicOrderCreated, func(context.Context, *contracts.Event) error { return nil }))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := b.Publish(ctx, contracts.TopicOrderCreated, map[string]string{"_id": "A1"})
	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.ErrorIs(t, err, ErrBrokerClosed)
	assert.ErrorIs(t, b.Start(ctx), ErrBrokerClosed)
	assert.ErrorIs(t, b.Subscribe(ctx, contracts.TopicOrderCreated, func(context.Context, *contracts.Event) error { return nil }), ErrBrokerClosed)
}

func TestInMemoryBroker_SubscriptionStopsWithContext(t *testing.T) {
	b := newTestMemory(t, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 4)
	require.NoError(t, b.Subscribe(ctx, contracts.TopicOrderCreated, func(context.Context, *contracts.Event) error {
		calls <- struct{}{}
		return nil
	}))
	cancel()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, b.Publish(context.Background(), contracts.TopicOrderCreated, map[string]string{"_id": "A1"}))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, calls, 0)
	assert.Equal(t, 1, b.Depth(contracts.TopicOrderCreated))
}
