package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
)

type sagaRow struct {
	OrderID           string         `db:"order_id"`
	CurrentStep       string         `db:"current_step"`
	FailedStep        sql.NullString `db:"failed_step"`
	CompletedSteps    []byte         `db:"completed_steps"`
	CompensationSteps []byte         `db:"compensation_steps"`
	SagaData          []byte         `db:"saga_data"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// SaveSagaState upserts the saga record for an order. Called once per step
// attempt by the orchestrator.
func (s *Store) SaveSagaState(ctx context.Context, state *models.SagaState) error {
	completed, err := json.Marshal(state.CompletedSteps)
	if err != nil {
		return fmt.Errorf("failed to encode completed steps: %w", err)
	}
	compensations, err := json.Marshal(state.CompensationSteps)
	if err != nil {
		return fmt.Errorf("failed to encode compensation steps: %w", err)
	}
	data, err := json.Marshal(state.Data)
	if err != nil {
		return fmt.Errorf("failed to encode saga data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO order_saga_state (order_id, current_step, failed_step, completed_steps, compensation_steps, saga_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO UPDATE SET
			current_step = EXCLUDED.current_step,
			failed_step = EXCLUDED.failed_step,
			completed_steps = EXCLUDED.completed_steps,
			compensation_steps = EXCLUDED.compensation_steps,
			saga_data = EXCLUDED.saga_data,
			updated_at = NOW()`,
		state.OrderID, state.CurrentStep, state.FailedStep, completed, compensations, data)
	return err
}

// GetSagaState loads the saga record for an order
func (s *Store) GetSagaState(ctx context.Context, orderID string) (*models.SagaState, error) {
	var row sagaRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM order_saga_state WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("saga state", orderID)
	}
	if err != nil {
		return nil, err
	}

	state := &models.SagaState{
		OrderID:     row.OrderID,
		CurrentStep: row.CurrentStep,
		FailedStep:  row.FailedStep.String,
		UpdatedAt:   row.UpdatedAt,
	}
	if err := json.Unmarshal(row.CompletedSteps, &state.CompletedSteps); err != nil {
		return nil, fmt.Errorf("failed to decode completed steps: %w", err)
	}
	if len(row.CompensationSteps) > 0 {
		if err := json.Unmarshal(row.CompensationSteps, &state.CompensationSteps); err != nil {
			return nil, fmt.Errorf("failed to decode compensation steps: %w", err)
		}
	}
	if err := json.Unmarshal(row.SagaData, &state.Data); err != nil {
		return nil, fmt.Errorf("failed to decode saga data: %w", err)
	}
	return state, nil
}

// DeleteSagaState retires the saga record once the saga concludes
func (s *Store) DeleteSagaState(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM order_saga_state WHERE order_id = $1", orderID)
	return err
}

// ListSagaOrderIDs returns the order ids of all live saga records, used by
// the recovery worker at startup.
func (s *Store) ListSagaOrderIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT order_id FROM order_saga_state ORDER BY updated_at")
	return ids, err
}
