package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"order-saga-service/config"
	"order-saga-service/internal/api"
	"order-saga-service/internal/broker"
	"order-saga-service/internal/models"
	"order-saga-service/internal/redisclient"
	"order-saga-service/internal/service"
	"order-saga-service/internal/store"
	"order-saga-service/internal/util"
	"order-saga-service/internal/worker"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order saga service")

	tp, err := util.InitTracer("order-saga-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	var redisClient *redisclient.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	gateway := service.NewSimulatedGateway(cfg.Gateway.FailureRate, cfg.Gateway.MaxAuthorizeAmount)
	validator := service.NewStoreUserValidator(db)
	ledger := service.NewInventoryLedger(db, redisClient, cfg.Inventory.ReservationTTL)
	paymentService := service.NewPaymentService(db, gateway, eventPublisher)
	orchestrator := service.NewSagaOrchestrator(db, db, ledger, paymentService, validator, eventPublisher, cfg.Saga.StepTimeout)
	orderService := service.NewOrderService(db, orchestrator, redisClient, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	recovery := worker.NewRecoveryWorker(db, orchestrator)
	go func() {
		if err := recovery.Run(workerCtx); err != nil {
			logger.Error("Saga recovery failed", zap.Error(err))
		}
	}()

	sweeper := worker.NewSweepWorker(ledger, redisClient, cfg.Inventory.SweepInterval)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Sweep worker error", zap.Error(err))
		}
	}()

	auditConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	auditWorker := worker.NewAuditWorker(auditConsumer, db)
	go func() {
		if err := auditWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Audit worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, ledger)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := auditWorker.Stop(); err != nil {
		logger.Error("Failed to stop audit worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// openStore picks the persistence backend. DATABASE_URL=memory runs the
// service against the in-memory store with a small seed dataset, which is
// what local development without Postgres uses.
func openStore(cfg *config.Config) (service.Store, func(), error) {
	if cfg.Database.URL == "memory" {
		mem := store.NewMemory()
		seedMemory(mem)
		util.GetLogger().Info("Using in-memory store")
		return mem, func() {}, nil
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	util.GetLogger().Info("Database connected")
	return db, func() { db.Close() }, nil
}

func seedMemory(mem *store.Memory) {
	mem.PutUser(models.User{ID: 1, Email: "alice@example.com", Name: "Alice"})
	mem.PutUser(models.User{ID: 2, Email: "bob@example.com", Name: "Bob"})
	mem.PutStock(1, 100)
	mem.PutStock(2, 50)
	mem.PutStock(3, 10)
}
