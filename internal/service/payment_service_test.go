package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
	"order-saga-service/internal/service"
	"order-saga-service/internal/store"
)

func newPaymentService(gw *scriptedGateway) (*service.PaymentService, *store.Memory) {
	mem := store.NewMemory()
	return service.NewPaymentService(mem, gw, nil), mem
}

func TestAuthorizeSuccess(t *testing.T) {
	svc, _ := newPaymentService(&scriptedGateway{})
	ctx := context.Background()

	result, err := svc.Authorize(ctx, "ord-1", 1, 5000, "", "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.PaymentStatusAuthorized, result.Payment.Status)
	assert.Equal(t, "auth_test", result.Payment.AuthorizationID)
	assert.Equal(t, models.DefaultCurrency, result.Payment.Currency)

	require.Len(t, result.Payment.Transactions, 1)
	txn := result.Payment.Transactions[0]
	assert.Equal(t, models.TransactionTypeAuthorize, txn.Type)
	assert.Equal(t, models.TransactionStatusSuccess, txn.Status)
	assert.Equal(t, int64(5000), txn.Amount)
}

func TestAuthorizeDeclinedIsNotAnError(t *testing.T) {
	gw := &scriptedGateway{
		authorize: func(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error) {
			return decline("insufficient funds"), nil
		},
	}
	svc, _ := newPaymentService(gw)

	result, err := svc.Authorize(context.Background(), "ord-1", 1, 5000, "", "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "insufficient funds", result.ErrorMessage)
	assert.Equal(t, models.PaymentStatusFailed, result.Payment.Status)
	assert.Equal(t, "insufficient funds", result.Payment.FailureReason)

	require.Len(t, result.Payment.Transactions, 1)
	assert.Equal(t, models.TransactionStatusFailed, result.Payment.Transactions[0].Status)
}

func TestAuthorizeGatewayErrorRecordsFailure(t *testing.T) {
	gw := &scriptedGateway{
		authorize: func(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error) {
			return nil, errors.New("connection reset")
		},
	}
	svc, _ := newPaymentService(gw)

	result, err := svc.Authorize(context.Background(), "ord-1", 1, 5000, "", "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.PaymentStatusFailed, result.Payment.Status)
	assert.Contains(t, result.Payment.FailureReason, "connection reset")
}

func TestAuthorizeRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newPaymentService(&scriptedGateway{})

	_, err := svc.Authorize(context.Background(), "ord-1", 1, 0, "", "")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = svc.Authorize(context.Background(), "ord-1", 1, -100, "", "")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestCaptureDefaultsToFullAmount(t *testing.T) {
	svc, _ := newPaymentService(&scriptedGateway{})
	ctx := context.Background()

	authorized, err := svc.Authorize(ctx, "ord-1", 1, 5000, "", "")
	require.NoError(t, err)

	result, err := svc.Capture(ctx, authorized.Payment.ID, 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.PaymentStatusCaptured, result.Payment.Status)
	assert.Equal(t, "cap_test", result.Payment.CaptureID)

	require.Len(t, result.Payment.Transactions, 2)
	assert.Equal(t, int64(5000), result.Payment.Transactions[1].Amount)
}

func TestCaptureRejectsExcessAmount(t *testing.T) {
	svc, _ := newPaymentService(&scriptedGateway{})
	ctx := context.Background()

	authorized, err := svc.Authorize(ctx, "ord-1", 1, 5000, "", "")
	require.NoError(t, err)

	_, err = svc.Capture(ctx, authorized.Payment.ID, 6000)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	// state unchanged, still capturable for a valid amount
	result, err := svc.Capture(ctx, authorized.Payment.ID, 3000)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestCaptureRequiresAuthorizedState(t *testing.T) {
	gw := &scriptedGateway{
		authorize: func(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error) {
			return decline("declined"), nil
		},
	}
	svc, _ := newPaymentService(gw)
	ctx := context.Background()

	failed, err := svc.Authorize(ctx, "ord-1", 1, 5000, "", "")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusFailed, failed.Payment.Status)

	_, err = svc.Capture(ctx, failed.Payment.ID, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestCaptureUnknownPayment(t *testing.T) {
	svc, _ := newPaymentService(&scriptedGateway{})
	_, err := svc.Capture(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCancelFromPendingAndAuthorized(t *testing.T) {
	gw := &scriptedGateway{}
	svc, mem := newPaymentService(gw)
	ctx := context.Background()

	authorized, err := svc.Authorize(ctx, "ord-1", 1, 5000, "", "")
	require.NoError(t, err)

	result, err := svc.Cancel(ctx, authorized.Payment.ID, "user cancelled")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.PaymentStatusCancelled, result.Payment.Status)
	assert.Equal(t, "user cancelled", result.Payment.FailureReason)

	// a payment stuck in pending is cancellable too
	pending := &models.Payment{ID: "pay-pend", OrderID: "ord-2", UserID: 1, Amount: 100, Status: models.PaymentStatusPending}
	require.NoError(t, mem.CreatePayment(ctx, pending))
	result, err = svc.Cancel(ctx, "pay-pend", "abandoned")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, result.Payment.Status)
}

func TestCancelRejectedFromTerminalStates(t *testing.T) {
	svc, _ := newPaymentService(&scriptedGateway{})
	ctx := context.Background()

	authorized, err := svc.Authorize(ctx, "ord-1", 1, 5000, "", "")
	require.NoError(t, err)
	captured, err := svc.Capture(ctx, authorized.Payment.ID, 0)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, captured.Payment.ID, "too late")
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	// cancelling twice is rejected the second time
	other, err := svc.Authorize(ctx, "ord-2", 1, 1000, "", "")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, other.Payment.ID, "first")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, other.Payment.ID, "second")
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestTransactionHistoryIsOrderedAndComplete(t *testing.T) {
	svc, mem := newPaymentService(&scriptedGateway{})
	ctx := context.Background()

	authorized, err := svc.Authorize(ctx, "ord-1", 1, 5000, "", "")
	require.NoError(t, err)
	_, err = svc.Capture(ctx, authorized.Payment.ID, 0)
	require.NoError(t, err)

	txns, err := mem.ListTransactions(ctx, authorized.Payment.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, models.TransactionTypeAuthorize, txns[0].Type)
	assert.Equal(t, models.TransactionTypeCapture, txns[1].Type)
	for _, txn := range txns {
		assert.Equal(t, models.TransactionStatusSuccess, txn.Status)
		assert.NotEmpty(t, txn.ResponseData)
	}
}
