package apperr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError covers malformed input, invalid quantities and invalid state
// transitions. Never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError signals that a referenced resource does not exist.
type NotFoundError struct {
	Resource string
	Detail   string
}

func (e *NotFoundError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Detail)
}

func NotFoundf(resource, format string, args ...interface{}) error {
	return &NotFoundError{Resource: resource, Detail: fmt.Sprintf(format, args...)}
}

// InsufficientStockError is a validation failure carrying enough detail for the
// caller to render a useful message.
type InsufficientStockError struct {
	ItemID     int64
	LocationID int64
	Required   decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d at location %d: required %s, available %s",
		e.ItemID, e.LocationID, e.Required.String(), e.Available.String())
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsInsufficientStock(err error) bool {
	var is *InsufficientStockError
	return errors.As(err, &is)
}
