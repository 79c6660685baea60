package bracket

import "errors"

// Error kinds shared across services. Callers wrap these with context via
// fmt.Errorf("...: %w", ...) and HTTP handlers map them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
)
