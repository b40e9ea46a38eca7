package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"order-saga-service/internal/broker"
	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
	"order-saga-service/internal/util"
)

// DefaultStepTimeout bounds the execution of a single saga step.
const DefaultStepTimeout = 30 * time.Second

// sagaSteps is the fixed execution order. CompletedSteps in a persisted
// state is always a prefix of this sequence.
var sagaSteps = []string{
	models.StepValidateUser,
	models.StepReserveStock,
	models.StepAuthorizePayment,
	models.StepCapturePayment,
	models.StepCommitStock,
	models.StepConfirmOrder,
}

// compensationMap names the compensating action for each step with an
// external effect. Steps absent here need no compensation.
var compensationMap = map[string]string{
	models.StepReserveStock:     models.CompensationReleaseStock,
	models.StepAuthorizePayment: models.CompensationCancelPayment,
	models.StepCapturePayment:   models.CompensationCancelPayment,
	models.StepCommitStock:      models.CompensationRestock,
}

type stepHandler func(ctx context.Context, state *models.SagaState) error

// SagaOrchestrator drives each order through the fixed step sequence,
// persisting progress before every step so an interrupted saga can resume,
// and running compensations in reverse order when a step fails.
type SagaOrchestrator struct {
	orders      OrderStore
	sagas       SagaStore
	ledger      *InventoryLedger
	payments    *PaymentService
	validator   UserValidator
	publisher   *broker.EventPublisher
	stepTimeout time.Duration
	logger      *zap.Logger

	handlers map[string]stepHandler
}

// NewSagaOrchestrator creates a new saga orchestrator
func NewSagaOrchestrator(orders OrderStore, sagas SagaStore, ledger *InventoryLedger, payments *PaymentService, validator UserValidator, publisher *broker.EventPublisher, stepTimeout time.Duration) *SagaOrchestrator {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	s := &SagaOrchestrator{
		orders:      orders,
		sagas:       sagas,
		ledger:      ledger,
		payments:    payments,
		validator:   validator,
		publisher:   publisher,
		stepTimeout: stepTimeout,
		logger:      util.GetLogger(),
	}
	s.handlers = map[string]stepHandler{
		models.StepValidateUser:     s.stepValidateUser,
		models.StepReserveStock:     s.stepReserveStock,
		models.StepAuthorizePayment: s.stepAuthorizePayment,
		models.StepCapturePayment:   s.stepCapturePayment,
		models.StepCommitStock:      s.stepCommitStock,
		models.StepConfirmOrder:     s.stepConfirmOrder,
	}
	return s
}

// Start creates the saga record for a freshly created order and runs it to
// conclusion. A saga that fails on a business decline is not an error; the
// order ends up failed and the caller reads the status from the order.
func (s *SagaOrchestrator) Start(ctx context.Context, order *models.Order, paymentMethod string) error {
	items := make([]models.SagaItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.SagaItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	state := &models.SagaState{
		OrderID:     order.ID,
		CurrentStep: models.StepValidateUser,
		Data: models.SagaData{
			UserID:        order.UserID,
			PaymentMethod: paymentMethod,
			Items:         items,
		},
	}
	if err := s.sagas.SaveSagaState(ctx, state); err != nil {
		return err
	}

	return s.run(ctx, state)
}

// Resume picks up a persisted saga after a crash, skipping completed steps.
// Stale records for orders that already concluded are retired.
func (s *SagaOrchestrator) Resume(ctx context.Context, orderID string) error {
	state, err := s.sagas.GetSagaState(ctx, orderID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return s.sagas.DeleteSagaState(ctx, orderID)
		}
		return err
	}
	if order.Status != models.OrderStatusPending {
		s.logger.Info("Retiring stale saga record",
			zap.String("order_id", orderID),
			zap.String("order_status", order.Status))
		return s.sagas.DeleteSagaState(ctx, orderID)
	}

	util.SagasResumedTotal.Inc()
	s.logger.Info("Resuming saga",
		zap.String("order_id", orderID),
		zap.String("current_step", state.CurrentStep),
		zap.Int("completed_steps", len(state.CompletedSteps)))

	return s.run(ctx, state)
}

// Cancel runs the compensations a cancelled order needs based on its saga
// progress, then retires the record. An order with no saga record has
// nothing to compensate.
func (s *SagaOrchestrator) Cancel(ctx context.Context, orderID string) error {
	state, err := s.sagas.GetSagaState(ctx, orderID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}

	comps := compensationsFor(state.CompletedSteps)
	s.logger.Info("Compensating cancelled order",
		zap.String("order_id", orderID),
		zap.Strings("compensations", comps))
	s.executeCompensations(ctx, comps, &state.Data)

	return s.sagas.DeleteSagaState(ctx, orderID)
}

func (s *SagaOrchestrator) run(ctx context.Context, state *models.SagaState) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.run")
	defer span.End()

	for _, step := range sagaSteps {
		if state.HasCompleted(step) {
			continue
		}

		state.CurrentStep = step
		if err := s.sagas.SaveSagaState(ctx, state); err != nil {
			return err
		}

		if err := s.executeStep(ctx, step, state); err != nil {
			return s.fail(ctx, state, step, err)
		}

		state.CompletedSteps = append(state.CompletedSteps, step)
		if err := s.sagas.SaveSagaState(ctx, state); err != nil {
			return err
		}
	}

	return s.conclude(ctx, state)
}

func (s *SagaOrchestrator) executeStep(ctx context.Context, step string, state *models.SagaState) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	stepCtx, span := util.StartSpan(stepCtx, "saga."+step)
	defer span.End()

	start := time.Now()
	err := s.handlers[step](stepCtx, state)
	util.SagaStepLatency.WithLabelValues(step).Observe(time.Since(start).Seconds())

	if err != nil {
		util.SagaStepsTotal.WithLabelValues(step, "failure").Inc()
		return err
	}
	util.SagaStepsTotal.WithLabelValues(step, "success").Inc()
	return nil
}

// conclude marks the order confirmed and retires the saga record.
func (s *SagaOrchestrator) conclude(ctx context.Context, state *models.SagaState) error {
	if err := s.orders.UpdateOrderStatus(ctx, state.OrderID, models.OrderStatusConfirmed, state.Data.PaymentID); err != nil {
		return err
	}
	if err := s.sagas.DeleteSagaState(ctx, state.OrderID); err != nil {
		s.logger.Error("Failed to retire saga record",
			zap.String("order_id", state.OrderID), zap.Error(err))
	}

	util.OrdersConfirmedTotal.Inc()
	if s.publisher != nil {
		if err := s.publisher.PublishOrderConfirmed(ctx, state.OrderID, state.Data.UserID, state.Data.PaymentID); err != nil {
			s.logger.Warn("Failed to publish order confirmed event",
				zap.String("order_id", state.OrderID), zap.Error(err))
		}
	}

	s.logger.Info("Saga completed",
		zap.String("order_id", state.OrderID),
		zap.String("payment_id", state.Data.PaymentID))
	return nil
}

// fail records the failure, runs compensations for every completed step in
// reverse order, marks the order failed and retires the saga record. The
// business failure itself is swallowed; only infrastructure errors return.
func (s *SagaOrchestrator) fail(ctx context.Context, state *models.SagaState, step string, cause error) error {
	s.logger.Warn("Saga step failed",
		zap.String("order_id", state.OrderID),
		zap.String("step", step),
		zap.Error(cause))

	state.FailedStep = step
	state.CompensationSteps = compensationsFor(state.CompletedSteps)
	if err := s.sagas.SaveSagaState(ctx, state); err != nil {
		return err
	}

	if err := s.orders.UpdateOrderStatus(ctx, state.OrderID, models.OrderStatusFailed, state.Data.PaymentID); err != nil {
		return err
	}

	s.executeCompensations(ctx, state.CompensationSteps, &state.Data)

	if err := s.sagas.DeleteSagaState(ctx, state.OrderID); err != nil {
		s.logger.Error("Failed to retire saga record",
			zap.String("order_id", state.OrderID), zap.Error(err))
	}

	util.OrdersFailedTotal.WithLabelValues(step).Inc()
	if s.publisher != nil {
		if err := s.publisher.PublishOrderFailed(ctx, state.OrderID, step, cause.Error()); err != nil {
			s.logger.Warn("Failed to publish order failed event",
				zap.String("order_id", state.OrderID), zap.Error(err))
		}
	}
	return nil
}

// compensationsFor maps completed steps, in reverse order, to their
// compensating actions. Both payment steps compensate by cancelling the
// payment, so duplicates collapse to a single attempt.
func compensationsFor(completed []string) []string {
	var comps []string
	seen := make(map[string]bool)
	for i := len(completed) - 1; i >= 0; i-- {
		comp, ok := compensationMap[completed[i]]
		if !ok || seen[comp] {
			continue
		}
		seen[comp] = true
		comps = append(comps, comp)
	}
	return comps
}

// executeCompensations runs each compensating action best effort. A failed
// compensation is logged and the rest still run; expired reservations are
// eventually reclaimed by the sweeper.
func (s *SagaOrchestrator) executeCompensations(ctx context.Context, comps []string, data *models.SagaData) {
	for _, comp := range comps {
		var err error
		switch comp {
		case models.CompensationReleaseStock:
			err = s.compensateReleaseStock(ctx, data)
		case models.CompensationCancelPayment:
			err = s.compensateCancelPayment(ctx, data)
		case models.CompensationRestock:
			err = s.compensateRestock(ctx, data)
		default:
			s.logger.Error("Unknown compensation action", zap.String("action", comp))
			continue
		}

		if err != nil {
			util.SagaCompensationsTotal.WithLabelValues(comp, "failure").Inc()
			s.logger.Error("Compensation failed",
				zap.String("action", comp), zap.Error(err))
		} else {
			util.SagaCompensationsTotal.WithLabelValues(comp, "success").Inc()
		}
	}
}

func (s *SagaOrchestrator) compensateReleaseStock(ctx context.Context, data *models.SagaData) error {
	var firstErr error
	for _, r := range data.Reservations {
		if _, err := s.ledger.Release(ctx, r.ReservationID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				// already resolved, nothing held
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	data.Reservations = nil
	return firstErr
}

func (s *SagaOrchestrator) compensateCancelPayment(ctx context.Context, data *models.SagaData) error {
	if data.PaymentID == "" {
		return nil
	}
	result, err := s.payments.Cancel(ctx, data.PaymentID, "order saga compensated")
	if err != nil {
		if errors.Is(err, errs.ErrInvalidState) {
			// payment already terminal, nothing left to void
			s.logger.Warn("Payment not cancellable during compensation",
				zap.String("payment_id", data.PaymentID), zap.Error(err))
			return nil
		}
		return err
	}
	if !result.Success {
		return fmt.Errorf("payment cancellation declined: %s", result.ErrorMessage)
	}
	return nil
}

func (s *SagaOrchestrator) compensateRestock(ctx context.Context, data *models.SagaData) error {
	var firstErr error
	for _, r := range data.Committed {
		if err := s.ledger.Restock(ctx, r.ProductID, r.Quantity); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	data.Committed = nil
	return firstErr
}

func (s *SagaOrchestrator) stepValidateUser(ctx context.Context, state *models.SagaState) error {
	result, err := s.validator.Validate(ctx, state.Data.UserID)
	if err != nil {
		return errs.Upstream("user validation", err)
	}
	if !result.IsValid {
		return fmt.Errorf("user %d is not valid", state.Data.UserID)
	}
	state.Data.ValidatedUser = result.User
	return nil
}

// stepReserveStock holds stock for every order line. Each successful hold is
// persisted into the saga record before the next one, so a resumed saga
// skips products it already holds. On any failure every hold recorded for
// this saga is released before the step reports the error.
func (s *SagaOrchestrator) stepReserveStock(ctx context.Context, state *models.SagaState) error {
	held := make(map[int64]bool, len(state.Data.Reservations))
	for _, r := range state.Data.Reservations {
		held[r.ProductID] = true
	}

	for _, item := range state.Data.Items {
		if held[item.ProductID] {
			continue
		}

		res, err := s.ledger.Reserve(ctx, item.ProductID, item.Quantity)
		if err != nil {
			s.releaseHeld(ctx, state)
			return fmt.Errorf("reserve product %d: %w", item.ProductID, err)
		}

		state.Data.Reservations = append(state.Data.Reservations, models.SagaReservation{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			ReservationID: res.ID,
		})
		if err := s.sagas.SaveSagaState(ctx, state); err != nil {
			s.releaseHeld(ctx, state)
			return err
		}

		if err := s.orders.SetItemReservation(ctx, state.OrderID, item.ProductID, res.ID); err != nil {
			s.logger.Warn("Failed to record reservation on order item",
				zap.String("order_id", state.OrderID),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
		}
	}
	return nil
}

// releaseHeld frees every reservation the saga currently holds so a failed
// reserve step has zero net stock impact.
func (s *SagaOrchestrator) releaseHeld(ctx context.Context, state *models.SagaState) {
	for _, r := range state.Data.Reservations {
		if _, err := s.ledger.Release(ctx, r.ReservationID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			s.logger.Error("Failed to release reservation",
				zap.String("reservation_id", r.ReservationID), zap.Error(err))
		}
	}
	state.Data.Reservations = nil
	if err := s.sagas.SaveSagaState(ctx, state); err != nil {
		s.logger.Error("Failed to persist saga state after release",
			zap.String("order_id", state.OrderID), zap.Error(err))
	}
}

func (s *SagaOrchestrator) stepAuthorizePayment(ctx context.Context, state *models.SagaState) error {
	order, err := s.orders.GetOrder(ctx, state.OrderID)
	if err != nil {
		return err
	}

	result, err := s.payments.Authorize(ctx, order.ID, order.UserID, order.TotalAmount, order.Currency, state.Data.PaymentMethod)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("payment authorization failed: %s", result.ErrorMessage)
	}

	state.Data.PaymentID = result.Payment.ID
	state.Data.AuthorizationID = result.ReferenceID
	return nil
}

func (s *SagaOrchestrator) stepCapturePayment(ctx context.Context, state *models.SagaState) error {
	result, err := s.payments.Capture(ctx, state.Data.PaymentID, 0)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("payment capture failed: %s", result.ErrorMessage)
	}

	state.Data.CaptureID = result.ReferenceID
	return nil
}

// stepCommitStock turns every hold into a permanent deduction. Each commit
// is persisted before the next so a resumed saga does not commit twice. If
// a commit fails, commits already made by this saga are restocked before
// the step reports the error.
func (s *SagaOrchestrator) stepCommitStock(ctx context.Context, state *models.SagaState) error {
	for len(state.Data.Reservations) > 0 {
		r := state.Data.Reservations[0]

		if _, err := s.ledger.Commit(ctx, r.ReservationID); err != nil {
			s.restockCommitted(ctx, state)
			return fmt.Errorf("commit reservation %s: %w", r.ReservationID, err)
		}

		state.Data.Reservations = state.Data.Reservations[1:]
		state.Data.Committed = append(state.Data.Committed, r)
		if err := s.sagas.SaveSagaState(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

// restockCommitted undoes this saga's partial commits so a failed commit
// step has zero net stock impact. The holds still pending stay reserved for
// the saga-level release compensation.
func (s *SagaOrchestrator) restockCommitted(ctx context.Context, state *models.SagaState) {
	for _, r := range state.Data.Committed {
		if err := s.ledger.Restock(ctx, r.ProductID, r.Quantity); err != nil {
			s.logger.Error("Failed to restock committed quantity",
				zap.Int64("product_id", r.ProductID), zap.Error(err))
		}
	}
	state.Data.Committed = nil
	if err := s.sagas.SaveSagaState(ctx, state); err != nil {
		s.logger.Error("Failed to persist saga state after restock",
			zap.String("order_id", state.OrderID), zap.Error(err))
	}
}

func (s *SagaOrchestrator) stepConfirmOrder(ctx context.Context, state *models.SagaState) error {
	// confirmation itself happens in conclude; the step exists so the
	// completed sequence is explicit in the persisted record
	return nil
}
