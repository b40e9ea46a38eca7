package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-saga-service/internal/models"
)

func testGateway(failureRate float64, maxAuthorize int64) *SimulatedGateway {
	return &SimulatedGateway{failureRate: failureRate, maxAuthorize: maxAuthorize}
}

func TestGatewayAuthorizeApproves(t *testing.T) {
	g := testGateway(0, 0)

	result, err := g.Authorize(context.Background(), GatewayRequest{Amount: 5000})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, strings.HasPrefix(result.ReferenceID, "auth_"))
}

func TestGatewayAuthorizeDeclinesAboveCeiling(t *testing.T) {
	g := testGateway(0, 10000000)

	result, err := g.Authorize(context.Background(), GatewayRequest{Amount: 10000001})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "exceeds limit")
}

func TestGatewayFailureRateOne(t *testing.T) {
	g := testGateway(1, 0)
	ctx := context.Background()

	result, err := g.Authorize(ctx, GatewayRequest{Amount: 100})
	require.NoError(t, err)
	assert.False(t, result.Success)

	result, err = g.Capture(ctx, GatewayRequest{Amount: 100})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestGatewayCancelAlwaysSucceeds(t *testing.T) {
	g := testGateway(1, 1)

	result, err := g.Cancel(context.Background(), GatewayRequest{Amount: 100})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, strings.HasPrefix(result.ReferenceID, "void_"))
}

func TestCompensationsForReversesAndDedupes(t *testing.T) {
	completed := []string{
		models.StepValidateUser,
		models.StepReserveStock,
		models.StepAuthorizePayment,
		models.StepCapturePayment,
	}

	comps := compensationsFor(completed)
	assert.Equal(t, []string{
		models.CompensationCancelPayment,
		models.CompensationReleaseStock,
	}, comps)
}

func TestCompensationsForCommittedStock(t *testing.T) {
	completed := []string{
		models.StepValidateUser,
		models.StepReserveStock,
		models.StepAuthorizePayment,
		models.StepCapturePayment,
		models.StepCommitStock,
	}

	comps := compensationsFor(completed)
	assert.Equal(t, []string{
		models.CompensationRestock,
		models.CompensationCancelPayment,
		models.CompensationReleaseStock,
	}, comps)
}

func TestCompensationsForNoSideEffects(t *testing.T) {
	assert.Empty(t, compensationsFor([]string{models.StepValidateUser}))
	assert.Empty(t, compensationsFor(nil))
}
