package store

import (
	"context"
	"database/sql"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
)

// GetUserByID retrieves a user for the validation capability
func (s *Store) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		"SELECT id, email, name FROM users WHERE id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("user", userID)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
