package core

import "github.com/pkg/errors"

// FieldError ties a validation message to the input field it concerns.
// The API layer renders these as a field -> message map.
type FieldError struct {
	Field string
	Error string
}

// ValidationError rejects caller input. Err carries the headline
// message; Fields carries per-field detail when there is any.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// shutdown signals a fault the process cannot safely continue from,
// such as a corrupted store connection. The API error handler watches
// for it and triggers a graceful stop.
type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

// IsShutdown checks the cause chain, so wrapped shutdown errors still
// register.
func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
