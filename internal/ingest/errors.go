package ingest

import (
	"fmt"
	"net/http"
)

const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeSensorDisabled = "SENSOR_DISABLED"
	CodeDeadband       = "DEADBAND"
	CodePersistence    = "PERSISTENCE_ERROR"
)

// ValidationError rejects a malformed reading before any side effect.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid reading: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// FilterSkip reports a reading the conditioner chose not to store. It is an
// accepted outcome, not a failure.
type FilterSkip struct {
	Code string
}

func (e *FilterSkip) Error() string { return "reading not stored: " + e.Code }

// PersistenceError means the reading was not durably stored.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// statusFor maps a pipeline error onto the HTTP status and code reported to
// the device.
func statusFor(err error) (int, string) {
	switch e := err.(type) {
	case *ValidationError:
		return http.StatusBadRequest, CodeValidation
	case *FilterSkip:
		return http.StatusOK, e.Code
	case *PersistenceError:
		return http.StatusInternalServerError, CodePersistence
	}
	return http.StatusInternalServerError, CodePersistence
}
