package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
	"github.com/FaydArshan94/Prodexa-sub000/shared/database"
	"github.com/FaydArshan94/Prodexa-sub000/shared/events"
	"github.com/FaydArshan94/Prodexa-sub000/shared/httputil"
	"github.com/FaydArshan94/Prodexa-sub000/shared/logger"
	"github.com/FaydArshan94/Prodexa-sub000/shared/messaging"
)

const newOrderBody = `{
	"user": "u1",
	"items": [
		{"product": "P1", "quantity": 2, "price": {"amount": 75, "currency": "INR"}},
		{"product": "P2", "quantity": 1, "price": {"amount": 50, "currency": "INR"}}
	],
	"shippingAddress": {"street": "12 MG Road", "city": "Pune", "state": "MH", "pincode": "411001", "country": "IN"},
	"paymentMethod": "card"
}`

type testService struct {
	router http.Handler
	broker *messaging.InMemoryBroker
	orders database.DocumentStore
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	broker := messaging.NewInMemoryBroker(messaging.Options{})
	t.Cleanup(func() { broker.Close() })

	orders := database.NewMemoryDB().Collection(database.CollectionOrders)
	h := NewHandlers(orders, events.NewPublisher(broker), logger.Discard())
	h.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	router := httputil.NewRouter(serviceName)
	h.RegisterRoutes(router)
	return &testService{router: router, broker: broker, orders: orders}
}

func (s *testService) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rec
}

func (s *testService) create(t *testing.T) contracts.Order {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/orders", newOrderBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var order contracts.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	return order
}

func TestCreateOrder(t *testing.T) {
	s := newTestService(t)
	order := s.create(t)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, contracts.OrderStatusPending, order.Status)
	assert.Equal(t, contracts.Money{Amount: 200, Currency: "INR"}, order.TotalPrice)
	assert.Equal(t, "411001", order.ShippingAddress.Pincode)

	_, err := s.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.broker.Depth(contracts.TopicOrderCreated))
}

func TestCreateOrderValidation(t *testing.T) {
	s := newTestService(t)

	for name, body := range map[string]string{
		"not json":      `{`,
		"missing user":  `{"items":[{"product":"P1","quantity":1}],"shippingAddress":{"street":"a","city":"b","pincode":"1"}}`,
		"no items":      `{"user":"u1","items":[],"shippingAddress":{"street":"a","city":"b","pincode":"1"}}`,
		"zero quantity": `{"user":"u1","items":[{"product":"P1","quantity":0}],"shippingAddress":{"street":"a","city":"b","pincode":"1"}}`,
		"no address":    `{"user":"u1","items":[{"product":"P1","quantity":1}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/orders", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, 0, s.broker.Depth(contracts.TopicOrderCreated))
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.broker.Close())

	order := s.create(t)

	_, err := s.orders.Get(context.Background(), order.ID)
	assert.NoError(t, err, "the order is committed even though the event was lost")

	rec := s.do(t, http.MethodPost, "/api/orders/"+order.ID+"/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateAddress(t *testing.T) {
	s := newTestService(t)
	order := s.create(t)

	rec := s.do(t, http.MethodPatch, "/api/orders/"+order.ID+"/address", `{"street":"1 FC Road","city":"Pune","pincode":"411004"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated contracts.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "411004", updated.ShippingAddress.Pincode)
	assert.False(t, updated.UpdatedAt.IsZero())
	assert.Equal(t, 1, s.broker.Depth(contracts.TopicOrderUpdated))

	rec = s.do(t, http.MethodPatch, "/api/orders/"+order.ID+"/address", `{"street":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/orders/missing/address", `{"street":"1 FC Road","city":"Pune","pincode":"411004"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	s := newTestService(t)
	order := s.create(t)

	rec := s.do(t, http.MethodPost, "/api/orders/"+order.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.broker.Depth(contracts.TopicOrderCancelled))

	rec = s.do(t, http.MethodGet, "/api/orders/"+order.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got contracts.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, contracts.OrderStatusCancelled, got.Status)

	rec = s.do(t, http.MethodPost, "/api/orders/"+order.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/orders/"+order.ID+"/address", `{"street":"1 FC Road","city":"Pune","pincode":"411004"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, 1, s.broker.Depth(contracts.TopicOrderCancelled))
}

func TestGetOrderNotFound(t *testing.T) {
	s := newTestService(t)
	rec := s.do(t, http.MethodGet, "/api/orders/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
