package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-saga-service/internal/broker"
	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
	"order-saga-service/internal/util"
)

// PaymentResult reports the outcome of a gateway-backed payment operation.
// A declined gateway call is not an error: Success is false, ErrorMessage
// carries the decline reason, and Payment reflects the recorded failure.
type PaymentResult struct {
	Success      bool            `json:"success"`
	Payment      *models.Payment `json:"payment"`
	ReferenceID  string          `json:"reference_id,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// PaymentService drives each payment through its lifecycle and records an
// immutable transaction row for every gateway attempt.
type PaymentService struct {
	store     PaymentStore
	gateway   PaymentGateway
	publisher *broker.EventPublisher
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPaymentService creates a new payment service
func NewPaymentService(store PaymentStore, gateway PaymentGateway, publisher *broker.EventPublisher) *PaymentService {
	return &PaymentService{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		logger:    util.GetLogger(),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockPayment serializes state transitions per payment id. Store writes are
// atomic on their own; the check-then-call-gateway-then-write sequence is not.
func (s *PaymentService) lockPayment(paymentID string) func() {
	s.mu.Lock()
	l, ok := s.locks[paymentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[paymentID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Authorize creates a pending payment and asks the gateway to hold funds
func (s *PaymentService) Authorize(ctx context.Context, orderID string, userID int64, amount int64, currency, method string) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Authorize")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()
	util.PaymentAttemptsTotal.WithLabelValues("authorize").Inc()

	if amount <= 0 {
		return nil, errs.InvalidInput("payment amount must be positive")
	}
	if currency == "" {
		currency = models.DefaultCurrency
	}
	if method == "" {
		method = "credit_card"
	}

	payment := &models.Payment{
		ID:            uuid.New().String(),
		OrderID:       orderID,
		UserID:        userID,
		Amount:        amount,
		Currency:      currency,
		PaymentMethod: method,
		Status:        models.PaymentStatusPending,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	result, err := s.gateway.Authorize(ctx, GatewayRequest{
		Amount:        amount,
		Currency:      currency,
		PaymentMethod: method,
	})
	if err != nil {
		return s.recordFailure(ctx, payment, models.TransactionTypeAuthorize, amount,
			errs.Upstream("payment gateway authorize", err).Error())
	}
	if !result.Success {
		return s.recordFailure(ctx, payment, models.TransactionTypeAuthorize, amount, result.ErrorMessage)
	}

	update := PaymentUpdate{AuthorizationID: result.ReferenceID}
	if err := s.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusAuthorized, update); err != nil {
		return nil, err
	}
	s.appendTransaction(ctx, payment.ID, models.TransactionTypeAuthorize, amount,
		models.TransactionStatusSuccess, result)

	util.PaymentSuccessTotal.WithLabelValues("authorize").Inc()
	s.publishAuthorized(ctx, payment, result.ReferenceID)
	s.logger.Info("Payment authorized",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", orderID),
		zap.Int64("amount", amount),
		zap.String("authorization_id", result.ReferenceID))

	final, err := s.store.GetPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Success: true, Payment: final, ReferenceID: result.ReferenceID}, nil
}

// Capture settles an authorized payment. A zero amount captures the full
// authorized amount; capturing more than was authorized is rejected.
func (s *PaymentService) Capture(ctx context.Context, paymentID string, amount int64) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Capture")
	defer span.End()

	unlock := s.lockPayment(paymentID)
	defer unlock()

	util.PaymentAttemptsTotal.WithLabelValues("capture").Inc()

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusAuthorized {
		return nil, errs.InvalidState("capture payment", payment.Status)
	}
	if amount == 0 {
		amount = payment.Amount
	}
	if amount < 0 || amount > payment.Amount {
		return nil, fmt.Errorf("%w: capture amount %d exceeds authorized amount %d",
			errs.ErrInvalidInput, amount, payment.Amount)
	}

	result, err := s.gateway.Capture(ctx, GatewayRequest{
		Amount:          amount,
		Currency:        payment.Currency,
		AuthorizationID: payment.AuthorizationID,
	})
	if err != nil {
		return s.recordFailure(ctx, payment, models.TransactionTypeCapture, amount,
			errs.Upstream("payment gateway capture", err).Error())
	}
	if !result.Success {
		return s.recordFailure(ctx, payment, models.TransactionTypeCapture, amount, result.ErrorMessage)
	}

	update := PaymentUpdate{CaptureID: result.ReferenceID}
	if err := s.store.UpdatePaymentStatus(ctx, paymentID, models.PaymentStatusCaptured, update); err != nil {
		return nil, err
	}
	s.appendTransaction(ctx, paymentID, models.TransactionTypeCapture, amount,
		models.TransactionStatusSuccess, result)

	util.PaymentSuccessTotal.WithLabelValues("capture").Inc()
	s.publishCaptured(ctx, payment, amount, result.ReferenceID)
	s.logger.Info("Payment captured",
		zap.String("payment_id", paymentID),
		zap.Int64("amount", amount),
		zap.String("capture_id", result.ReferenceID))

	final, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Success: true, Payment: final, ReferenceID: result.ReferenceID}, nil
}

// Cancel voids a pending or authorized payment
func (s *PaymentService) Cancel(ctx context.Context, paymentID, reason string) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Cancel")
	defer span.End()

	unlock := s.lockPayment(paymentID)
	defer unlock()

	util.PaymentAttemptsTotal.WithLabelValues("cancel").Inc()

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPending && payment.Status != models.PaymentStatusAuthorized {
		return nil, errs.InvalidState("cancel payment", payment.Status)
	}

	result, err := s.gateway.Cancel(ctx, GatewayRequest{
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		AuthorizationID: payment.AuthorizationID,
		Reason:          reason,
	})
	if err != nil {
		return s.recordFailure(ctx, payment, models.TransactionTypeCancel, payment.Amount,
			errs.Upstream("payment gateway cancel", err).Error())
	}
	if !result.Success {
		return s.recordFailure(ctx, payment, models.TransactionTypeCancel, payment.Amount, result.ErrorMessage)
	}

	update := PaymentUpdate{FailureReason: reason}
	if err := s.store.UpdatePaymentStatus(ctx, paymentID, models.PaymentStatusCancelled, update); err != nil {
		return nil, err
	}
	s.appendTransaction(ctx, paymentID, models.TransactionTypeCancel, payment.Amount,
		models.TransactionStatusSuccess, result)

	util.PaymentSuccessTotal.WithLabelValues("cancel").Inc()
	s.logger.Info("Payment cancelled",
		zap.String("payment_id", paymentID),
		zap.String("reason", reason))

	final, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Success: true, Payment: final, ReferenceID: result.ReferenceID}, nil
}

// Get returns a payment together with its full transaction history
func (s *PaymentService) Get(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.store.GetPayment(ctx, paymentID)
}

// List returns the most recent payments
func (s *PaymentService) List(ctx context.Context) ([]models.Payment, error) {
	return s.store.ListPayments(ctx)
}

// ListByOrder returns every payment attempt made for an order
func (s *PaymentService) ListByOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	return s.store.ListPaymentsByOrder(ctx, orderID)
}

// recordFailure marks the payment failed, appends the failed transaction and
// returns a non-error declined result carrying the updated payment.
func (s *PaymentService) recordFailure(ctx context.Context, payment *models.Payment, txType string, amount int64, reason string) (*PaymentResult, error) {
	util.PaymentFailedTotal.WithLabelValues(txType).Inc()

	update := PaymentUpdate{FailureReason: reason}
	if err := s.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusFailed, update); err != nil {
		return nil, err
	}
	s.appendTransaction(ctx, payment.ID, txType, amount, models.TransactionStatusFailed,
		&GatewayResult{Success: false, ErrorMessage: reason})

	s.publishFailed(ctx, payment, reason)
	s.logger.Warn("Payment operation failed",
		zap.String("payment_id", payment.ID),
		zap.String("operation", txType),
		zap.String("reason", reason))

	final, err := s.store.GetPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Success: false, Payment: final, ErrorMessage: reason}, nil
}

func (s *PaymentService) appendTransaction(ctx context.Context, paymentID, txType string, amount int64, outcome string, result *GatewayResult) {
	raw, _ := json.Marshal(result)
	txn := &models.PaymentTransaction{
		PaymentID:    paymentID,
		Type:         txType,
		Amount:       amount,
		Status:       outcome,
		ResponseData: string(raw),
	}
	if err := s.store.AddTransaction(ctx, txn); err != nil {
		s.logger.Error("Failed to record payment transaction",
			zap.String("payment_id", paymentID),
			zap.String("type", txType),
			zap.Error(err))
	}
}

func (s *PaymentService) publishAuthorized(ctx context.Context, payment *models.Payment, authID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPaymentAuthorized(ctx, payment, authID); err != nil {
		s.logger.Warn("Failed to publish payment authorized event",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}
}

func (s *PaymentService) publishCaptured(ctx context.Context, payment *models.Payment, amount int64, captureID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPaymentCaptured(ctx, payment, amount, captureID); err != nil {
		s.logger.Warn("Failed to publish payment captured event",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}
}

func (s *PaymentService) publishFailed(ctx context.Context, payment *models.Payment, reason string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishPaymentFailed(ctx, payment, reason); err != nil {
		s.logger.Warn("Failed to publish payment failed event",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}
}
