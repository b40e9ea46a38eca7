package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// SimulatedGateway stands in for a real payment processor. Failures are
// drawn randomly at the configured rate, and authorizations above the
// configured ceiling are always declined. Cancellations never fail.
type SimulatedGateway struct {
	failureRate  float64
	maxAuthorize int64
	latency      bool
}

// NewSimulatedGateway creates a gateway simulator with artificial latency
func NewSimulatedGateway(failureRate float64, maxAuthorize int64) *SimulatedGateway {
	return &SimulatedGateway{
		failureRate:  failureRate,
		maxAuthorize: maxAuthorize,
		latency:      true,
	}
}

// Authorize places a hold on the payer's funds
func (g *SimulatedGateway) Authorize(ctx context.Context, req GatewayRequest) (*GatewayResult, error) {
	if err := g.simulateLatency(ctx); err != nil {
		return nil, err
	}

	if g.maxAuthorize > 0 && req.Amount > g.maxAuthorize {
		return &GatewayResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("authorization declined: amount %d exceeds limit", req.Amount),
		}, nil
	}
	if rand.Float64() < g.failureRate {
		return &GatewayResult{
			Success:      false,
			ErrorMessage: "authorization failed: insufficient funds or invalid card",
		}, nil
	}

	return &GatewayResult{
		Success:     true,
		ReferenceID: fmt.Sprintf("auth_%s", uuid.New().String()[:8]),
		RawResponse: "authorization approved",
	}, nil
}

// Capture settles a previously authorized amount
func (g *SimulatedGateway) Capture(ctx context.Context, req GatewayRequest) (*GatewayResult, error) {
	if err := g.simulateLatency(ctx); err != nil {
		return nil, err
	}

	if rand.Float64() < g.failureRate {
		return &GatewayResult{
			Success:      false,
			ErrorMessage: "capture failed: authorization expired or invalid",
		}, nil
	}

	return &GatewayResult{
		Success:     true,
		ReferenceID: fmt.Sprintf("cap_%s", uuid.New().String()[:8]),
		RawResponse: "capture approved",
	}, nil
}

// Cancel voids an authorization or a pending payment. The simulator never
// rejects a cancellation.
func (g *SimulatedGateway) Cancel(ctx context.Context, req GatewayRequest) (*GatewayResult, error) {
	if err := g.simulateLatency(ctx); err != nil {
		return nil, err
	}

	return &GatewayResult{
		Success:     true,
		ReferenceID: fmt.Sprintf("void_%s", uuid.New().String()[:8]),
		RawResponse: "cancellation approved",
	}, nil
}

func (g *SimulatedGateway) simulateLatency(ctx context.Context) error {
	if !g.latency {
		return nil
	}
	delay := time.Duration(100+rand.Intn(400)) * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
