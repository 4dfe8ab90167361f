package repository

import (
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

// ErrNotPending is returned by Confirm when the appointment does not exist or
// has already left the pending state.
func ErrNotPending() error {
	return &errors.AppError{
		Code:    errors.ErrNotFound,
		Message: "appointment not found or not pending",
	}
}
