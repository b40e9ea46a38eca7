package service_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"order-saga-service/internal/models"
	"order-saga-service/internal/service"
	"order-saga-service/internal/store"
)

// scriptedGateway answers gateway calls deterministically. Unset hooks
// approve with a generated reference id.
type scriptedGateway struct {
	authorize func(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error)
	capture   func(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error)
	cancel    func(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error)

	authorizeCalls int32
	captureCalls   int32
	cancelCalls    int32
}

func approve(prefix string) *service.GatewayResult {
	return &service.GatewayResult{
		Success:     true,
		ReferenceID: fmt.Sprintf("%s_test", prefix),
		RawResponse: "approved",
	}
}

func decline(msg string) *service.GatewayResult {
	return &service.GatewayResult{Success: false, ErrorMessage: msg}
}

func (g *scriptedGateway) Authorize(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error) {
	atomic.AddInt32(&g.authorizeCalls, 1)
	if g.authorize != nil {
		return g.authorize(ctx, req)
	}
	return approve("auth"), nil
}

func (g *scriptedGateway) Capture(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error) {
	atomic.AddInt32(&g.captureCalls, 1)
	if g.capture != nil {
		return g.capture(ctx, req)
	}
	return approve("cap"), nil
}

func (g *scriptedGateway) Cancel(ctx context.Context, req service.GatewayRequest) (*service.GatewayResult, error) {
	atomic.AddInt32(&g.cancelCalls, 1)
	if g.cancel != nil {
		return g.cancel(ctx, req)
	}
	return approve("void"), nil
}

// sagaEnv wires the full service stack over the in-memory store, Redis and
// Kafka left out.
type sagaEnv struct {
	mem          *store.Memory
	gateway      *scriptedGateway
	ledger       *service.InventoryLedger
	payments     *service.PaymentService
	orchestrator *service.SagaOrchestrator
	orders       *service.OrderService
}

func newSagaEnv(gw *scriptedGateway) *sagaEnv {
	if gw == nil {
		gw = &scriptedGateway{}
	}
	mem := store.NewMemory()
	mem.PutUser(models.User{ID: 1, Email: "alice@example.com", Name: "Alice"})
	mem.PutStock(1, 10)
	mem.PutStock(2, 5)

	ledger := service.NewInventoryLedger(mem, nil, 15*time.Minute)
	payments := service.NewPaymentService(mem, gw, nil)
	validator := service.NewStoreUserValidator(mem)
	orchestrator := service.NewSagaOrchestrator(mem, mem, ledger, payments, validator, nil, 5*time.Second)
	orders := service.NewOrderService(mem, orchestrator, nil, nil)

	return &sagaEnv{
		mem:          mem,
		gateway:      gw,
		ledger:       ledger,
		payments:     payments,
		orchestrator: orchestrator,
		orders:       orders,
	}
}

func validOrderRequest() *service.CreateOrderRequest {
	return &service.CreateOrderRequest{
		UserID: 1,
		Items: []service.OrderItemRequest{
			{ProductID: 1, Quantity: 2, UnitPrice: 1000},
			{ProductID: 2, Quantity: 1, UnitPrice: 500},
		},
		PaymentMethod: "credit_card",
	}
}

func (e *sagaEnv) stock(productID int64) (total, reserved int) {
	stock, err := e.mem.GetStock(context.Background(), productID)
	if err != nil {
		panic(err)
	}
	return stock.Total, stock.Reserved
}
