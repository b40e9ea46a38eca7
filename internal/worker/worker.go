package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"order-saga-service/internal/broker"
	"order-saga-service/internal/models"
	"order-saga-service/internal/redisclient"
	"order-saga-service/internal/service"
	"order-saga-service/internal/util"
)

const sweepLockKey = "reservation-sweep"

// SweepWorker periodically reclaims expired stock reservations. When Redis
// is available the sweep runs under a leader lock so only one instance
// sweeps per interval.
type SweepWorker struct {
	ledger   *service.InventoryLedger
	cache    *redisclient.Client
	interval time.Duration
	logger   *zap.Logger
}

// NewSweepWorker creates a new reservation sweep worker
func NewSweepWorker(ledger *service.InventoryLedger, cache *redisclient.Client, interval time.Duration) *SweepWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SweepWorker{
		ledger:   ledger,
		cache:    cache,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweep loop until the context is cancelled
func (w *SweepWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reservation sweep worker",
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping reservation sweep worker")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	if w.cache != nil {
		acquired, err := w.cache.AcquireLock(ctx, sweepLockKey, w.interval)
		if err != nil {
			w.logger.Warn("Sweep lock acquisition failed", zap.Error(err))
		} else if !acquired {
			return
		}
	}

	count, err := w.ledger.SweepExpired(ctx)
	if err != nil {
		w.logger.Error("Reservation sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		w.logger.Info("Reservation sweep completed", zap.Int("swept", count))
	}
}

// RecoveryWorker resumes every persisted saga once at startup, picking up
// orders an earlier process left mid-saga.
type RecoveryWorker struct {
	sagas        service.SagaStore
	orchestrator *service.SagaOrchestrator
	logger       *zap.Logger
}

// NewRecoveryWorker creates a new saga recovery worker
func NewRecoveryWorker(sagas service.SagaStore, orchestrator *service.SagaOrchestrator) *RecoveryWorker {
	return &RecoveryWorker{
		sagas:        sagas,
		orchestrator: orchestrator,
		logger:       util.GetLogger(),
	}
}

// Run resumes all pending sagas
func (w *RecoveryWorker) Run(ctx context.Context) error {
	orderIDs, err := w.sagas.ListSagaOrderIDs(ctx)
	if err != nil {
		return err
	}
	if len(orderIDs) == 0 {
		return nil
	}

	w.logger.Info("Recovering interrupted sagas", zap.Int("count", len(orderIDs)))
	for _, orderID := range orderIDs {
		if err := w.orchestrator.Resume(ctx, orderID); err != nil {
			w.logger.Error("Failed to resume saga",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return nil
}

// AuditWorker consumes order lifecycle events back off the topic and
// records each one once, giving the deployment a consumer-side audit log.
type AuditWorker struct {
	consumer *broker.Consumer
	events   service.EventStore
	logger   *zap.Logger
}

// NewAuditWorker creates a new audit trail worker
func NewAuditWorker(consumer *broker.Consumer, events service.EventStore) *AuditWorker {
	return &AuditWorker{
		consumer: consumer,
		events:   events,
		logger:   util.GetLogger(),
	}
}

// Start consumes events until the context is cancelled
func (w *AuditWorker) Start(ctx context.Context) error {
	return w.consumer.StartConsuming(ctx, w.handle)
}

// Stop closes the underlying consumer
func (w *AuditWorker) Stop() error {
	return w.consumer.Close()
}

func (w *AuditWorker) handle(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		w.logger.Error("Failed to decode event", zap.Error(err))
		// poison message, commit and move on
		return nil
	}

	processed, err := w.events.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return err
	}
	if processed {
		return nil
	}

	w.logger.Info("Audited event",
		zap.String("event_id", base.EventID),
		zap.String("event_type", base.EventType),
		zap.String("key", string(msg.Key)))

	return w.events.MarkEventProcessed(ctx, base.EventID, base.EventType)
}
