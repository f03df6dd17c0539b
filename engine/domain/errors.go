package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation and sync failures.
var (
	ErrNoVIN              = errors.New("no VIN found")
	ErrInvalidVIN         = errors.New("invalid VIN")
	ErrImplausiblePrice   = errors.New("price outside plausible range")
	ErrImplausibleMileage = errors.New("mileage outside plausible range")
	ErrYearOutOfRange     = errors.New("year out of range")
	ErrSourceExpired      = errors.New("source expired")
	ErrSyncInFlight       = errors.New("sync already in progress")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
