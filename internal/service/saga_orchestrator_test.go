package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
	"order-saga-service/internal/service"
)

func TestSagaHappyPath(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, validOrderRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Equal(t, int64(2500), order.TotalAmount)
	assert.NotEmpty(t, order.PaymentID)

	// stock permanently consumed, nothing left reserved
	total, reserved := env.stock(1)
	assert.Equal(t, 8, total)
	assert.Equal(t, 0, reserved)
	total, reserved = env.stock(2)
	assert.Equal(t, 4, total)
	assert.Equal(t, 0, reserved)

	// items carry their reservation ids
	for _, item := range order.Items {
		assert.NotEmpty(t, item.ReservationID)
	}

	// payment captured for the full total
	payment, err := env.payments.Get(ctx, order.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCaptured, payment.Status)
	assert.Equal(t, order.TotalAmount, payment.Amount)

	// saga record retired
	_, err = env.mem.GetSagaState(ctx, order.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSagaUnknownUserFailsBeforeSideEffects(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	req := validOrderRequest()
	req.UserID = 42
	order, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, order.Status)

	total, reserved := env.stock(1)
	assert.Equal(t, 10, total)
	assert.Equal(t, 0, reserved)
	assert.Equal(t, int32(0), env.gateway.authorizeCalls)

	_, err = env.mem.GetSagaState(ctx, order.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSagaPartialReserveFailureReleasesEverything(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	req := validOrderRequest()
	req.Items[1].Quantity = 6 // product 2 only has 5
	order, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, order.Status)

	// the hold on product 1 obtained before the failure is gone
	total, reserved := env.stock(1)
	assert.Equal(t, 10, total)
	assert.Equal(t, 0, reserved)
	total, reserved = env.stock(2)
	assert.Equal(t, 5, total)
	assert.Equal(t, 0, reserved)

	// payment was never attempted
	assert.Equal(t, int32(0), env.gateway.authorizeCalls)
}

func TestSagaAuthorizeDeclineReleasesStock(t *testing.T) {
	gw := &scriptedGateway{
		authorize: func(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error) {
			return decline("card declined"), nil
		},
	}
	env := newSagaEnv(gw)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, validOrderRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, order.Status)

	total, reserved := env.stock(1)
	assert.Equal(t, 10, total)
	assert.Equal(t, 0, reserved)
	total, reserved = env.stock(2)
	assert.Equal(t, 5, total)
	assert.Equal(t, 0, reserved)

	// the declined payment is on record, failed
	payments, err := env.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusFailed, payments[0].Status)
}

func TestSagaCaptureFailureCompensates(t *testing.T) {
	gw := &scriptedGateway{
		capture: func(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error) {
			return decline("authorization expired"), nil
		},
	}
	env := newSagaEnv(gw)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, validOrderRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, order.Status)

	// reservations released, totals untouched
	total, reserved := env.stock(1)
	assert.Equal(t, 10, total)
	assert.Equal(t, 0, reserved)

	// failed capture left the payment failed; the cancel compensation
	// cannot void a terminal payment and is a no-op
	payments, err := env.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusFailed, payments[0].Status)

	_, err = env.mem.GetSagaState(ctx, order.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSagaResumeSkipsCompletedSteps(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	order := &models.Order{
		ID:          "ord-resume",
		UserID:      1,
		Status:      models.OrderStatusPending,
		TotalAmount: 2000,
		Currency:    models.DefaultCurrency,
		Items:       []models.OrderItem{{ProductID: 1, Quantity: 2, UnitPrice: 1000, TotalPrice: 2000}},
	}
	require.NoError(t, env.mem.CreateOrder(ctx, order))

	// a crash left the saga mid reserve_stock with the hold already taken
	res, err := env.ledger.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	state := &models.SagaState{
		OrderID:        order.ID,
		CurrentStep:    models.StepReserveStock,
		CompletedSteps: []string{models.StepValidateUser},
		Data: models.SagaData{
			UserID: 1,
			Items:  []models.SagaItem{{ProductID: 1, Quantity: 2, UnitPrice: 1000}},
			Reservations: []models.SagaReservation{
				{ProductID: 1, Quantity: 2, ReservationID: res.ID},
			},
		},
	}
	require.NoError(t, env.mem.SaveSagaState(ctx, state))

	require.NoError(t, env.orchestrator.Resume(ctx, order.ID))

	got, err := env.mem.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)

	// the existing hold was reused, not doubled: exactly 2 units consumed
	total, reserved := env.stock(1)
	assert.Equal(t, 8, total)
	assert.Equal(t, 0, reserved)
}

func TestSagaResumeRetiresStaleRecord(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, validOrderRequest())
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusConfirmed, order.Status)

	// a stale record pointing at the concluded order
	require.NoError(t, env.mem.SaveSagaState(ctx, &models.SagaState{
		OrderID:     order.ID,
		CurrentStep: models.StepCapturePayment,
		Data:        models.SagaData{UserID: 1},
	}))

	gatewayCallsBefore := env.gateway.captureCalls
	require.NoError(t, env.orchestrator.Resume(ctx, order.ID))

	_, err = env.mem.GetSagaState(ctx, order.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, gatewayCallsBefore, env.gateway.captureCalls)
}

func TestSagaResumeWithoutRecordIsNoOp(t *testing.T) {
	env := newSagaEnv(nil)
	assert.NoError(t, env.orchestrator.Resume(context.Background(), "no-such-order"))
}

func TestCancelPendingOrderReleasesHolds(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	// a pending order whose saga stopped after reserving stock
	order := &models.Order{
		ID:          "ord-cancel",
		UserID:      1,
		Status:      models.OrderStatusPending,
		TotalAmount: 2000,
		Currency:    models.DefaultCurrency,
		Items:       []models.OrderItem{{ProductID: 1, Quantity: 2, UnitPrice: 1000, TotalPrice: 2000}},
	}
	require.NoError(t, env.mem.CreateOrder(ctx, order))
	res, err := env.ledger.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	require.NoError(t, env.mem.SaveSagaState(ctx, &models.SagaState{
		OrderID:        order.ID,
		CurrentStep:    models.StepAuthorizePayment,
		CompletedSteps: []string{models.StepValidateUser, models.StepReserveStock},
		Data: models.SagaData{
			UserID: 1,
			Items:  []models.SagaItem{{ProductID: 1, Quantity: 2, UnitPrice: 1000}},
			Reservations: []models.SagaReservation{
				{ProductID: 1, Quantity: 2, ReservationID: res.ID},
			},
		},
	}))

	cancelled, err := env.orders.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	total, reserved := env.stock(1)
	assert.Equal(t, 10, total)
	assert.Equal(t, 0, reserved)

	_, err = env.mem.GetSagaState(ctx, order.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCancelConfirmedOrder(t *testing.T) {
	env := newSagaEnv(nil)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, validOrderRequest())
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusConfirmed, order.Status)

	cancelled, err := env.orders.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
}

func TestCancelRejectedForFailedOrder(t *testing.T) {
	gw := &scriptedGateway{
		authorize: func(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error) {
			return decline("declined"), nil
		},
	}
	env := newSagaEnv(gw)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, validOrderRequest())
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusFailed, order.Status)

	_, err = env.orders.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestSagaStepTimeout(t *testing.T) {
	gw := &scriptedGateway{
		authorize: func(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(50 * time.Millisecond):
				return approve("auth"), nil
			}
		},
	}
	env := newSagaEnv(gw)
	// rebuild the orchestrator with a timeout shorter than the gateway delay
	validator := service.NewStoreUserValidator(env.mem)
	orchestrator := service.NewSagaOrchestrator(env.mem, env.mem, env.ledger, env.payments, validator, nil, 10*time.Millisecond)
	orders := service.NewOrderService(env.mem, orchestrator, nil, nil)

	ctx := context.Background()
	order, err := orders.CreateOrder(ctx, validOrderRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, order.Status)

	// stock held before the stalled step came back
	total, reserved := env.stock(1)
	assert.Equal(t, 10, total)
	assert.Equal(t, 0, reserved)
}
