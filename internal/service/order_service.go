package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-saga-service/internal/broker"
	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
	"order-saga-service/internal/redisclient"
	"order-saga-service/internal/util"
)

// idempotencyKeyTTL bounds how long a create-order idempotency key maps to
// its order.
const idempotencyKeyTTL = 24 * time.Hour

// CreateOrderRequest is the payload for placing an order.
type CreateOrderRequest struct {
	UserID          int64              `json:"user_id" binding:"required"`
	Items           []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	Currency        string             `json:"currency"`
	PaymentMethod   string             `json:"payment_method"`
	ShippingAddress string             `json:"shipping_address"`
	Metadata        map[string]string  `json:"metadata"`
	IdempotencyKey  string             `json:"idempotency_key"`
}

// OrderItemRequest is one requested order line.
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
	UnitPrice int64 `json:"unit_price" binding:"required,min=0"`
}

// OrderService creates orders and drives their sagas. The saga runs
// synchronously inside CreateOrder; the returned order carries the final
// status, confirmed or failed.
type OrderService struct {
	store        OrderStore
	orchestrator *SagaOrchestrator
	cache        *redisclient.Client
	publisher    *broker.EventPublisher
	logger       *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, orchestrator *SagaOrchestrator, cache *redisclient.Client, publisher *broker.EventPublisher) *OrderService {
	return &OrderService{
		store:        store,
		orchestrator: orchestrator,
		cache:        cache,
		publisher:    publisher,
		logger:       util.GetLogger(),
	}
}

// CreateOrder validates the request, persists the order and runs its saga
// to conclusion. Business declines along the way do not surface as errors;
// the order comes back with status failed and the reason in the saga logs.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := validateCreateOrder(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.cache != nil {
		existingID, err := s.cache.GetIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			s.logger.Warn("Idempotency key lookup failed",
				zap.String("key", req.IdempotencyKey), zap.Error(err))
		} else if existingID != "" {
			s.logger.Info("Returning existing order for idempotency key",
				zap.String("key", req.IdempotencyKey),
				zap.String("order_id", existingID))
			return s.store.GetOrder(ctx, existingID)
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	order := &models.Order{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Status:          models.OrderStatusPending,
		Currency:        currency,
		ShippingAddress: req.ShippingAddress,
		Metadata:        req.Metadata,
	}
	for _, item := range req.Items {
		line := models.OrderItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.UnitPrice * int64(item.Quantity),
		}
		order.TotalAmount += line.TotalPrice
		order.Items = append(order.Items, line)
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("total_amount", order.TotalAmount))

	if req.IdempotencyKey != "" && s.cache != nil {
		if err := s.cache.SetIdempotencyKey(ctx, req.IdempotencyKey, order.ID, idempotencyKeyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key",
				zap.String("key", req.IdempotencyKey), zap.Error(err))
		}
	}

	if s.publisher != nil {
		items := make([]models.SagaItem, 0, len(order.Items))
		for _, item := range order.Items {
			items = append(items, models.SagaItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}
		if err := s.publisher.PublishOrderCreated(ctx, order, items); err != nil {
			s.logger.Warn("Failed to publish order created event",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	if err := s.orchestrator.Start(ctx, order, req.PaymentMethod); err != nil {
		return nil, err
	}

	return s.store.GetOrder(ctx, order.ID)
}

// GetOrder returns an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// ListOrders returns recent orders
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.store.ListOrders(ctx)
}

// ListOrdersByUser returns a user's orders
func (s *OrderService) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.ListOrdersByUser(ctx, userID)
}

// CancelOrder cancels a pending or confirmed order, compensating whatever
// its saga had already done.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusConfirmed {
		return nil, errs.InvalidState("cancel order", order.Status)
	}

	if err := s.orchestrator.Cancel(ctx, orderID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateOrderStatus(ctx, orderID, models.OrderStatusCancelled, ""); err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	if s.publisher != nil {
		if err := s.publisher.PublishOrderCancelled(ctx, orderID, "cancelled by user"); err != nil {
			s.logger.Warn("Failed to publish order cancelled event",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}
	s.logger.Info("Order cancelled", zap.String("order_id", orderID))

	return s.store.GetOrder(ctx, orderID)
}

func validateCreateOrder(req *CreateOrderRequest) error {
	if req.UserID <= 0 {
		return errs.InvalidInput("user_id must be positive")
	}
	if len(req.Items) == 0 {
		return errs.InvalidInput("order must contain at least one item")
	}
	seen := make(map[int64]bool, len(req.Items))
	for i, item := range req.Items {
		if item.ProductID <= 0 {
			return errs.InvalidInput(fmt.Sprintf("items[%d].product_id must be positive", i))
		}
		if item.Quantity <= 0 {
			return errs.InvalidInput(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if item.UnitPrice < 0 {
			return errs.InvalidInput(fmt.Sprintf("items[%d].unit_price must not be negative", i))
		}
		if seen[item.ProductID] {
			return errs.InvalidInput(fmt.Sprintf("duplicate product %d", item.ProductID))
		}
		seen[item.ProductID] = true
	}
	return nil
}
