package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
	"order-saga-service/internal/service"
)

func TestCreateOrderValidation(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	cases := []struct {
		name string
		mut  func(*service.CreateOrderRequest)
	}{
		{"zero user", func(r *service.CreateOrderRequest) { r.UserID = 0 }},
		{"no items", func(r *service.CreateOrderRequest) { r.Items = nil }},
		{"zero quantity", func(r *service.CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{"negative quantity", func(r *service.CreateOrderRequest) { r.Items[0].Quantity = -1 }},
		{"negative price", func(r *service.CreateOrderRequest) { r.Items[0].UnitPrice = -5 }},
		{"zero product", func(r *service.CreateOrderRequest) { r.Items[0].ProductID = 0 }},
		{"duplicate product", func(r *service.CreateOrderRequest) { r.Items[1].ProductID = r.Items[0].ProductID }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validOrderRequest()
			tc.mut(req)
			_, err := env.orders.CreateOrder(ctx, req)
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
		})
	}

	// nothing was persisted for rejected requests
	orders, err := env.orders.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrderComputesTotals(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, validOrderRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(2500), order.TotalAmount)
	require.Len(t, order.Items, 2)
	assert.Equal(t, int64(2000), order.Items[0].TotalPrice)
	assert.Equal(t, int64(500), order.Items[1].TotalPrice)
	assert.Equal(t, models.DefaultCurrency, order.Currency)
}

func TestCreateOrderKeepsRequestedCurrency(t *testing.T) {
	env := newSagaEnv(nil)
	req := validOrderRequest()
	req.Currency = "USD"

	order, err := env.orders.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "USD", order.Currency)

	payment, err := env.payments.Get(context.Background(), order.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "USD", payment.Currency)
}

func TestListOrdersByUser(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	env.mem.PutUser(models.User{ID: 2, Email: "bob@example.com", Name: "Bob"})

	_, err := env.orders.CreateOrder(ctx, validOrderRequest())
	require.NoError(t, err)
	other := validOrderRequest()
	other.UserID = 2
	_, err = env.orders.CreateOrder(ctx, other)
	require.NoError(t, err)

	mine, err := env.orders.ListOrdersByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := env.orders.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCancelUnknownOrder(t *testing.T) {
	env := newSagaEnv(nil)
	_, err := env.orders.CancelOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCancelledOrderCannotBeCancelledAgain(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, validOrderRequest())
	require.NoError(t, err)
	_, err = env.orders.CancelOrder(ctx, order.ID)
	require.NoError(t, err)

	_, err = env.orders.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}
