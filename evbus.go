// Package evbus is an in-process event bus with two delivery modes: a
// fire-and-forget publish path dispatched through a worker pool, and a
// durable transact path that persists a batch of events and drives
// at-least-once handler execution to completion.
package evbus

import (
	"time"

	busmetricspkg "github.com/drblury/evbus/busmetrics"
	configpkg "github.com/drblury/evbus/config"
	errspkg "github.com/drblury/evbus/errs"
	internalbus "github.com/drblury/evbus/internal/bus"
	internaltxstore "github.com/drblury/evbus/internal/txstore"
	loggingpkg "github.com/drblury/evbus/logging"
)

type (
	// Config groups every construction option a Bus accepts.
	Config = configpkg.Config

	// Bus is the runtime event bus instance.
	Bus = internalbus.Bus

	// Envelope is the immutable message value carried through publish and
	// transact.
	Envelope = internalbus.Envelope

	// CausationEntry is one (module, event-type) pair in an envelope's
	// causation path.
	CausationEntry = internalbus.CausationEntry

	// Handler is a subscriber callback.
	Handler = internalbus.Handler

	// Validator checks a payload against a schema.
	Validator = internalbus.Validator

	// ValidatorFunc adapts a plain function to the Validator interface.
	ValidatorFunc = internalbus.ValidatorFunc

	// Registry is the two-level event-type -> schema-version -> validator
	// mapping supplied at bus construction.
	Registry = internalbus.Registry

	// SubscribeOptions configures a subscription.
	SubscribeOptions = internalbus.SubscribeOptions

	// PublishOptions configures a publish call.
	PublishOptions = internalbus.PublishOptions

	// TransactEvent is one event of a transact batch.
	TransactEvent = internalbus.TransactEvent

	// TransactHandle is the completion handle returned by Transact: an op-id
	// plus the promise and broadcast-channel views of its one-shot result.
	TransactHandle = internalbus.TransactHandle

	// Result is the outcome delivered through a completion handle.
	Result = internalbus.Result

	// Stats is a point-in-time snapshot of bus activity.
	Stats = internalbus.Stats

	// HandlerRow is the persistent per-(message, listener) unit of work,
	// returned by the read-only DLQ-style introspection helpers.
	HandlerRow = internaltxstore.HandlerRow

	// ServiceLogger is the minimal logging contract required by evbus.
	ServiceLogger = loggingpkg.ServiceLogger
	// LogFields represents structured logging key/value pairs.
	LogFields = loggingpkg.LogFields

	// Metrics is the optional Prometheus instrumentation collector.
	Metrics = busmetricspkg.Metrics

	// ConfigValidationError wraps a configuration validation failure.
	ConfigValidationError = errspkg.ConfigValidationError
)

// Mode and StoreBackend re-export the config enums so callers configuring a
// bus never need to import the config package directly.
const (
	ModeUnlimited = configpkg.ModeUnlimited
	ModeBuffered  = configpkg.ModeBuffered

	StoreBackendNone     = configpkg.StoreBackendNone
	StoreBackendSQLite   = configpkg.StoreBackendSQLite
	StoreBackendPostgres = configpkg.StoreBackendPostgres
	StoreBackendMemory   = configpkg.StoreBackendMemory

	PayloadFormatEDNString = configpkg.PayloadFormatEDNString
	PayloadFormatValue     = configpkg.PayloadFormatValue
)

var (
	// NewRegistry constructs an empty schema Registry.
	NewRegistry = internalbus.NewRegistry

	// NewRootEnvelope builds a fresh envelope with no ancestry.
	NewRootEnvelope = internalbus.NewRootEnvelope

	// DeriveEnvelope builds a new envelope caused by a parent envelope.
	DeriveEnvelope = internalbus.DeriveEnvelope

	// ValidateConfig validates a Config, returning every violation joined
	// together rather than stopping at the first one.
	ValidateConfig = configpkg.ValidateConfig

	// NewSlogServiceLogger wraps a slog.Logger as a ServiceLogger.
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	// NewWatermillServiceLogger wraps a watermill.LoggerAdapter as a
	// ServiceLogger.
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	// NewMetrics constructs a Prometheus metrics collector for a bus. A nil
	// registerer falls back to prometheus.DefaultRegisterer.
	NewMetrics = busmetricspkg.New

	// Sentinel errors, re-exported so callers branch with errors.Is without
	// importing the errs package directly.
	ErrClosed                 = errspkg.ErrClosed
	ErrMissingModule          = errspkg.ErrMissingModule
	ErrMissingEventType       = errspkg.ErrMissingEventType
	ErrMissingRegistry        = errspkg.ErrMissingRegistry
	ErrSchemaMissing          = errspkg.ErrSchemaMissing
	ErrSchemaValidationFailed = errspkg.ErrSchemaValidationFailed
	ErrCycleDetected          = errspkg.ErrCycleDetected
	ErrMaxDepthExceeded       = errspkg.ErrMaxDepthExceeded
	ErrBufferFull             = errspkg.ErrBufferFull
	ErrNoTxStore              = errspkg.ErrNoTxStore
	ErrEmptyEvents            = errspkg.ErrEmptyEvents
	ErrHandlerMissing         = errspkg.ErrHandlerMissing
	ErrHandlerException       = errspkg.ErrHandlerException
	ErrHandlerTimeout         = errspkg.ErrHandlerTimeout
	ErrHandlerReturnedFalse   = errspkg.ErrHandlerReturnedFalse
	ErrHandlerFailed          = errspkg.ErrHandlerFailed
	ErrStore                  = errspkg.ErrStore
)

// MakeBus constructs a Bus: it validates the schema registry requirement,
// applies configuration defaults, initializes the dispatch executor for the
// configured mode, and — when a store backend is configured — builds and
// initializes the tx store and starts the tx worker. If metrics is non-nil,
// MakeBus registers it on the registerer it was constructed with; a
// registration error is returned.
func MakeBus(cfg Config, registry *Registry, logger ServiceLogger, metrics *Metrics) (*Bus, error) {
	return internalbus.New(internalbus.Options{
		Config:   cfg,
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
	})
}

// Subscribe registers handler for eventType on bus and returns its
// handler-id.
func Subscribe(bus *Bus, eventType string, handler Handler, opts SubscribeOptions) (string, error) {
	return bus.Subscribe(eventType, handler, opts)
}

// Publish runs the fire-and-forget delivery path.
func Publish(bus *Bus, eventType string, payload any, opts PublishOptions) (Envelope, error) {
	return bus.Publish(eventType, payload, opts)
}

// Transact runs the durable delivery path and returns a completion handle.
func Transact(bus *Bus, events []TransactEvent) (TransactHandle, error) {
	return bus.Transact(events)
}

// Unsubscribe removes listeners matching matcher under eventType.
func Unsubscribe(bus *Bus, eventType string, matcher any) error {
	return bus.Unsubscribe(eventType, matcher)
}

// ClearListeners purges listeners for the given event types, or all of them.
func ClearListeners(bus *Bus, eventTypes ...string) error {
	return bus.ClearListeners(eventTypes...)
}

// ListenerCount reports the number of registered listeners.
func ListenerCount(bus *Bus, eventTypes ...string) int {
	return bus.ListenerCount(eventTypes...)
}

// Close shuts the bus down, waiting up to timeout for graceful termination.
// A non-positive timeout uses the default of 10 seconds.
func Close(bus *Bus, timeout time.Duration) error {
	return bus.Close(timeout)
}

// GetStats returns a point-in-time snapshot of bus activity.
func GetStats(bus *Bus) Stats {
	return bus.Stats()
}

// ListFailedHandlers returns the failed/timeout handler rows for a tx.
func ListFailedHandlers(bus *Bus, txID string) ([]HandlerRow, error) {
	return bus.ListFailedHandlers(txID)
}

// ListPendingHandlers returns every handler row still pending.
func ListPendingHandlers(bus *Bus) ([]HandlerRow, error) {
	return bus.ListPendingHandlers()
}
