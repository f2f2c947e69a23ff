package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/drblury/evbus/busmetrics"
	"github.com/drblury/evbus/config"
	"github.com/drblury/evbus/errs"
	"github.com/drblury/evbus/internal/txstore"
	"github.com/drblury/evbus/logging"
)

// Options configures Bus construction. Registry is required; everything
// else defaults per config.Config.WithDefaults.
type Options struct {
	Config   config.Config
	Registry *Registry
	Logger   logging.ServiceLogger
	Metrics  *busmetrics.Metrics
	Store    txstore.TxStore
}

// Bus is the runtime instance: dispatch executor, listener table, schema
// registry, optional tx store and tx worker, and the completion table that
// bridges the two delivery paths.
type Bus struct {
	cfg      config.Config
	registry *Registry
	logger   logging.ServiceLogger
	metrics  *busmetrics.Metrics

	listeners  *ListenerTable
	executor   Executor
	store      txstore.TxStore
	ownsStore  bool
	completion *CompletionTable

	closed   int32
	stopWork chan struct{}
	workerWG sync.WaitGroup
}

// New constructs a Bus: it validates the registry, builds the dispatch
// executor for the configured mode, and starts the tx worker when a store is
// configured.
func New(opts Options) (*Bus, error) {
	if opts.Registry == nil {
		return nil, errs.ErrMissingRegistry
	}

	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errs.NewConfigValidationError(err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	if opts.Metrics != nil {
		if err := opts.Metrics.Register(); err != nil {
			return nil, err
		}
	}

	var executor Executor
	if cfg.Mode == config.ModeBuffered {
		executor = NewBufferedExecutor(cfg.BufferSize, cfg.Concurrency)
	} else {
		executor = NewUnlimitedExecutor()
	}

	store := opts.Store
	ownsStore := false
	if store == nil && cfg.HasStore() {
		built, err := buildStore(cfg)
		if err != nil {
			return nil, err
		}
		store = built
		ownsStore = true
	}

	if store != nil {
		if err := store.Init(); err != nil {
			return nil, errs.ErrStore
		}
	}

	b := &Bus{
		cfg:        cfg,
		registry:   opts.Registry,
		logger:     logger,
		metrics:    opts.Metrics,
		listeners:  NewListenerTable(),
		executor:   executor,
		store:      store,
		ownsStore:  ownsStore,
		completion: NewCompletionTable(),
		stopWork:   make(chan struct{}),
	}

	if b.store != nil {
		b.workerWG.Add(1)
		go b.runTxWorker()
	}

	return b, nil
}

func (b *Bus) log() logging.ServiceLogger {
	return b.logger
}

func (b *Bus) isClosed() bool {
	return atomic.LoadInt32(&b.closed) != 0
}

// Subscribe registers handler for eventType and returns its handler-id.
func (b *Bus) Subscribe(eventType string, handler Handler, opts SubscribeOptions) (string, error) {
	if b.isClosed() {
		return "", errs.ErrClosed
	}
	return b.listeners.Subscribe(eventType, handler, opts), nil
}

// Unsubscribe removes listeners matching matcher under eventType.
func (b *Bus) Unsubscribe(eventType string, matcher any) error {
	if b.isClosed() {
		return errs.ErrClosed
	}
	b.listeners.Unsubscribe(eventType, matcher)
	return nil
}

// ClearListeners purges listeners for the given event types, or all of them.
func (b *Bus) ClearListeners(eventTypes ...string) error {
	if b.isClosed() {
		return errs.ErrClosed
	}
	b.listeners.ClearListeners(eventTypes...)
	return nil
}

// ListenerCount reports the number of registered listeners.
func (b *Bus) ListenerCount(eventTypes ...string) int {
	return b.listeners.ListenerCount(eventTypes...)
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	ListenerCount int
	OpenTxCount   int
	HasStore      bool
}

// Stats returns a snapshot of current bus activity.
func (b *Bus) Stats() Stats {
	return Stats{
		ListenerCount: b.listeners.ListenerCount(),
		OpenTxCount:   b.completion.Count(),
		HasStore:      b.store != nil,
	}
}

// ListFailedHandlers returns the failed/timeout handler rows for a tx, for
// operational visibility. It is read-only; it does not manage a separate
// dead-letter queue beyond the terminal status columns the store already
// tracks.
func (b *Bus) ListFailedHandlers(txID string) ([]txstore.HandlerRow, error) {
	if b.store == nil {
		return nil, errs.ErrNoTxStore
	}
	return b.store.ListFailedHandlers(txID)
}

// ListPendingHandlers returns every handler row still pending, for
// operational visibility.
func (b *Bus) ListPendingHandlers() ([]txstore.HandlerRow, error) {
	if b.store == nil {
		return nil, errs.ErrNoTxStore
	}
	return b.store.ListPendingHandlers()
}

// Close shuts the bus down: it signals the tx worker to stop, closes the
// dispatch executor with a bounded wait, and releases an owned store. It is
// idempotent; a second call is a no-op.
func (b *Bus) Close(timeout time.Duration) error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}

	b.log().Info("bus-closing", nil)

	close(b.stopWork)
	b.workerWG.Wait()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := b.executor.Close(timeout); err != nil {
		b.log().Error("shutdown-timeout", err, nil)
	}

	if b.ownsStore && b.store != nil {
		if err := b.store.Close(); err != nil {
			b.log().Error("store-close-failed", err, nil)
		}
	}

	b.log().Info("bus-closed", nil)
	return nil
}

func buildStore(cfg config.Config) (txstore.TxStore, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendSQLite:
		return txstore.NewSQLiteStore(txstore.SQLiteConfig{FilePath: cfg.SQLiteFile})
	case config.StoreBackendPostgres:
		return txstore.NewPostgresStore(txstore.PostgresConfig{ConnectionString: cfg.PostgresURL})
	case config.StoreBackendMemory:
		return txstore.NewMemoryStore(), nil
	default:
		return nil, nil
	}
}

type noopLogger struct{}

func (noopLogger) With(logging.LogFields) logging.ServiceLogger { return noopLogger{} }
func (noopLogger) Debug(string, logging.LogFields)              {}
func (noopLogger) Info(string, logging.LogFields)               {}
func (noopLogger) Error(string, error, logging.LogFields)       {}
func (noopLogger) Trace(string, logging.LogFields)              {}
