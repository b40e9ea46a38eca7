package service

import (
	"context"
	"errors"

	"order-saga-service/internal/errs"
)

// StoreUserValidator validates users against the local users table. An
// unknown user is a negative validation, not an error; only infrastructure
// failures surface as errors.
type StoreUserValidator struct {
	store UserStore
}

// NewStoreUserValidator creates a new user validator
func NewStoreUserValidator(store UserStore) *StoreUserValidator {
	return &StoreUserValidator{store: store}
}

// Validate checks that the user exists
func (v *StoreUserValidator) Validate(ctx context.Context, userID int64) (*ValidationResult, error) {
	user, err := v.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return &ValidationResult{IsValid: false}, nil
		}
		return nil, err
	}
	return &ValidationResult{IsValid: true, User: user}, nil
}
