// Package errs defines the sentinel errors used across evbus so callers can
// branch with errors.Is/errors.As instead of matching strings.
package errs

import "errors"

var (
	// ErrClosed is returned by any bus operation attempted after Close.
	ErrClosed = errors.New("evbus: bus is closed")

	// ErrMissingModule is returned when publish/transact options omit Module.
	ErrMissingModule = errors.New("evbus: module is required")

	// ErrMissingEventType is returned when an operation omits the event-type.
	ErrMissingEventType = errors.New("evbus: event-type is required")

	// ErrMissingRegistry is returned by New when no schema registry is supplied.
	ErrMissingRegistry = errors.New("evbus: schema registry is required")

	// ErrSchemaMissing is returned when no validator is registered for an
	// (event-type, schema-version) pair.
	ErrSchemaMissing = errors.New("evbus: no schema registered for event type and version")

	// ErrSchemaValidationFailed is returned when a payload fails schema validation.
	ErrSchemaValidationFailed = errors.New("evbus: payload failed schema validation")

	// ErrCycleDetected is returned when deriving an envelope would introduce a
	// cycle in the causation path.
	ErrCycleDetected = errors.New("evbus: cycle detected in causation path")

	// ErrMaxDepthExceeded is returned when deriving an envelope would exceed
	// the configured maximum causation depth.
	ErrMaxDepthExceeded = errors.New("evbus: maximum causation depth exceeded")

	// ErrBufferFull is returned by publish in buffered dispatch mode when the
	// task queue is saturated. It is the backpressure signal.
	ErrBufferFull = errors.New("evbus: dispatch buffer is full")

	// ErrNoTxStore is returned by transact when the bus was constructed
	// without a tx store.
	ErrNoTxStore = errors.New("evbus: no tx store configured")

	// ErrEmptyEvents is returned by transact when called with no events.
	ErrEmptyEvents = errors.New("evbus: events must not be empty")

	// ErrHandlerMissing marks a handler row whose handler-id no longer exists
	// in the listener snapshot.
	ErrHandlerMissing = errors.New("evbus: handler no longer registered")

	// ErrHandlerException marks a handler row whose handler panicked or
	// returned an error.
	ErrHandlerException = errors.New("evbus: handler raised an exception")

	// ErrHandlerTimeout marks a handler row whose handler exceeded its deadline.
	ErrHandlerTimeout = errors.New("evbus: handler exceeded its deadline")

	// ErrHandlerReturnedFalse marks a handler row whose handler returned false.
	ErrHandlerReturnedFalse = errors.New("evbus: handler returned false")

	// ErrHandlerFailed is the terminal error surfaced to a transact caller
	// when the tx ultimately failed; per-handler detail lives in the store.
	ErrHandlerFailed = errors.New("evbus: handler failed")

	// ErrStore wraps a generic tx store failure (connection, schema, I/O).
	ErrStore = errors.New("evbus: tx store error")
)

// ConfigValidationError wraps a configuration validation failure so callers
// can unwrap to the underlying cause with errors.Is/errors.As.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "evbus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil if err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
