package errors

import sterrors "errors"

var (
	ErrConfigRequired          = sterrors.New("obpflow: configuration is required")
	ErrLoggerRequired          = sterrors.New("obpflow: logger is required")
	ErrDispatcherRequired      = sterrors.New("obpflow: dispatcher is required")
	ErrTelemetryRequired       = sterrors.New("obpflow: telemetry sink is required")
	ErrRequestQueueRequired    = sterrors.New("obpflow: request queue is required")
	ErrResponseQueueRequired   = sterrors.New("obpflow: response queue is required")
	ErrPublisherRequired       = sterrors.New("obpflow: publisher is required")
	ErrSubscriberRequired      = sterrors.New("obpflow: subscriber is required")
	ErrCounterStoreUnavailable = sterrors.New("obpflow: counter store is unavailable")
)

// ConfigValidationError marks an error as originating from configuration
// validation so the startup path can report it separately from runtime failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	if e.Err == nil {
		return "obpflow: invalid configuration"
	}
	return "obpflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}
