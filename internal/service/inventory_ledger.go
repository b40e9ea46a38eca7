package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
	"order-saga-service/internal/redisclient"
	"order-saga-service/internal/util"
)

// DefaultReservationTTL bounds the lifetime of a stock hold.
const DefaultReservationTTL = 15 * time.Minute

// InventoryLedger issues, commits, releases and sweeps time-bounded stock
// reservations. Atomicity of the counter updates lives in the store; this
// layer adds the TTL policy, the availability cache, and observability.
type InventoryLedger struct {
	store  StockStore
	cache  *redisclient.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewInventoryLedger creates a new reservation ledger
func NewInventoryLedger(store StockStore, cache *redisclient.Client, ttl time.Duration) *InventoryLedger {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &InventoryLedger{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// Reserve places a time-limited hold on product stock
func (l *InventoryLedger) Reserve(ctx context.Context, productID int64, quantity int) (*models.StockReservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if quantity <= 0 {
		return nil, errs.InvalidInput("quantity must be positive")
	}

	res := &models.StockReservation{
		ID:        uuid.New().String(),
		ProductID: productID,
		Quantity:  quantity,
		ExpiresAt: time.Now().Add(l.ttl),
	}

	if err := l.store.CreateReservation(ctx, res); err != nil {
		switch {
		case errors.Is(err, errs.ErrNotFound):
			util.ReservationsFailedTotal.WithLabelValues("not_found").Inc()
		case errors.Is(err, errs.ErrInsufficientStock):
			util.ReservationsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		default:
			util.ReservationsFailedTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	util.ReservationsCreatedTotal.Inc()
	l.invalidateCache(ctx, productID)

	l.logger.Info("Stock reserved",
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.String("reservation_id", res.ID),
		zap.Time("expires_at", res.ExpiresAt))
	return res, nil
}

// Commit permanently consumes a reservation's stock
func (l *InventoryLedger) Commit(ctx context.Context, reservationID string) (*models.StockReservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Commit")
	defer span.End()

	res, err := l.store.CommitReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	util.ReservationsCommittedTotal.Inc()
	l.invalidateCache(ctx, res.ProductID)

	l.logger.Info("Stock committed",
		zap.Int64("product_id", res.ProductID),
		zap.Int("quantity", res.Quantity),
		zap.String("reservation_id", reservationID))
	return res, nil
}

// Release returns a reservation's stock to the available pool
func (l *InventoryLedger) Release(ctx context.Context, reservationID string) (*models.StockReservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Release")
	defer span.End()

	res, err := l.store.ReleaseReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	util.ReservationsReleasedTotal.Inc()
	l.invalidateCache(ctx, res.ProductID)

	l.logger.Info("Stock released",
		zap.Int64("product_id", res.ProductID),
		zap.Int("quantity", res.Quantity),
		zap.String("reservation_id", reservationID))
	return res, nil
}

// Restock re-adds previously committed quantity, the compensation for a
// committed reservation whose saga later failed.
func (l *InventoryLedger) Restock(ctx context.Context, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Restock")
	defer span.End()

	if err := l.store.Restock(ctx, productID, quantity); err != nil {
		return err
	}
	l.invalidateCache(ctx, productID)

	l.logger.Info("Stock restocked",
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity))
	return nil
}

// SweepExpired releases every reservation whose expiry has passed and
// reports how many were swept.
func (l *InventoryLedger) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.SweepExpired")
	defer span.End()

	swept, err := l.store.SweepExpiredReservations(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	if len(swept) > 0 {
		util.ReservationsSweptTotal.Add(float64(len(swept)))
		for _, res := range swept {
			l.invalidateCache(ctx, res.ProductID)
		}
		l.logger.Info("Expired reservations swept", zap.Int("count", len(swept)))
	}
	return len(swept), nil
}

// Availability reports a product's stock counters, served from the Redis
// snapshot when present.
func (l *InventoryLedger) Availability(ctx context.Context, productID int64) (*models.StockAvailability, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Availability")
	defer span.End()

	if l.cache != nil {
		cached, err := l.cache.GetAvailability(ctx, productID)
		if err != nil {
			l.logger.Warn("Availability cache read failed",
				zap.Int64("product_id", productID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	stock, err := l.store.GetStock(ctx, productID)
	if err != nil {
		return nil, err
	}

	avail := &models.StockAvailability{
		ProductID: productID,
		Total:     stock.Total,
		Reserved:  stock.Reserved,
		Available: stock.Total - stock.Reserved,
	}

	if l.cache != nil {
		if err := l.cache.CacheAvailability(ctx, avail); err != nil {
			l.logger.Warn("Availability cache write failed",
				zap.Int64("product_id", productID), zap.Error(err))
		}
	}
	return avail, nil
}

func (l *InventoryLedger) invalidateCache(ctx context.Context, productID int64) {
	if l.cache == nil {
		return
	}
	if err := l.cache.InvalidateAvailability(ctx, productID); err != nil {
		l.logger.Warn("Availability cache invalidation failed",
			zap.Int64("product_id", productID), zap.Error(err))
	}
}
