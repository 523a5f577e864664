package errs

import (
	"errors"
	"fmt"
)

// Coordination error kinds. Handlers map these to HTTP status codes;
// the claim coordinator treats ErrConflict as a retry signal.
var (
	ErrValidation  = errors.New("validation error")
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrMaintenance = errors.New("maintenance mode enabled")
	ErrCapacity    = errors.New("capacity limit reached")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConflict}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// Capacityf wraps ErrCapacity with a formatted message.
func Capacityf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrCapacity}, args...)...)
}

func IsValidation(err error) bool  { return errors.Is(err, ErrValidation) }
func IsConflict(err error) bool    { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool    { return errors.Is(err, ErrNotFound) }
func IsMaintenance(err error) bool { return errors.Is(err, ErrMaintenance) }
func IsCapacity(err error) bool    { return errors.Is(err, ErrCapacity) }
