package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
	"order-saga-service/internal/service"
	"order-saga-service/internal/store"
)

func newLedger(ttl time.Duration) (*service.InventoryLedger, *store.Memory) {
	mem := store.NewMemory()
	mem.PutStock(1, 10)
	return service.NewInventoryLedger(mem, nil, ttl), mem
}

func TestLedgerReserveAssignsIDAndExpiry(t *testing.T) {
	ledger, _ := newLedger(15 * time.Minute)
	ctx := context.Background()

	before := time.Now()
	res, err := ledger.Reserve(ctx, 1, 3)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.WithinDuration(t, before.Add(15*time.Minute), res.ExpiresAt, time.Second)

	avail, err := ledger.Availability(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, avail.Total)
	assert.Equal(t, 3, avail.Reserved)
	assert.Equal(t, 7, avail.Available)
}

func TestLedgerReserveRejectsInvalidQuantity(t *testing.T) {
	ledger, _ := newLedger(0)

	_, err := ledger.Reserve(context.Background(), 1, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = ledger.Reserve(context.Background(), 1, -2)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestLedgerCommitAndRestockRoundTrip(t *testing.T) {
	ledger, _ := newLedger(time.Minute)
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, 1, 4)
	require.NoError(t, err)
	_, err = ledger.Commit(ctx, res.ID)
	require.NoError(t, err)

	avail, err := ledger.Availability(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, avail.Total)

	require.NoError(t, ledger.Restock(ctx, 1, 4))
	avail, err = ledger.Availability(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, avail.Total)
	assert.Equal(t, 10, avail.Available)
}

func TestLedgerSweepExpired(t *testing.T) {
	ledger, mem := newLedger(time.Minute)
	ctx := context.Background()

	// two expired holds planted directly, one live hold via the ledger
	for _, id := range []string{"exp-1", "exp-2"} {
		require.NoError(t, mem.CreateReservation(ctx, &models.StockReservation{
			ID:        id,
			ProductID: 1,
			Quantity:  2,
			ExpiresAt: time.Now().Add(-time.Minute),
		}))
	}
	live, err := ledger.Reserve(ctx, 1, 3)
	require.NoError(t, err)

	swept, err := ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	avail, err := ledger.Availability(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, avail.Reserved)

	_, err = ledger.Commit(ctx, live.ID)
	assert.NoError(t, err)

	// nothing left to sweep
	swept, err = ledger.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestLedgerAvailabilityUnknownProduct(t *testing.T) {
	ledger, _ := newLedger(time.Minute)
	_, err := ledger.Availability(context.Background(), 99)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
