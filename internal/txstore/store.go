// Package txstore defines the abstract persistent store for transactions,
// messages, and handler rows, plus the SQLite, PostgreSQL, and in-memory
// backends that implement it.
package txstore

import "time"

// HandlerStatus is the lifecycle state of a single handler row.
type HandlerStatus string

const (
	HandlerPending HandlerStatus = "pending"
	HandlerOK      HandlerStatus = "ok"
	HandlerFailed  HandlerStatus = "failed"
	HandlerTimeout HandlerStatus = "timeout"
)

// TxStatus is the aggregated status of a transaction, derived from its
// handler rows.
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxOK      TxStatus = "ok"
	TxFailed  TxStatus = "failed"
)

// Tx is the top-level unit of a durable transact call.
type Tx struct {
	TxID      string
	Status    TxStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Msg is one event within a Tx, with its envelope identity fields.
type Msg struct {
	MsgID         string
	TxID          string
	EventType     string
	Payload       string // encoded per the configured PayloadFormat
	Module        string
	SchemaVersion string
	CorrelationID string
	MessageID     string
}

// HandlerRow is the persistent per-(message, listener) unit of work.
type HandlerRow struct {
	HID        string
	MsgID      string
	HandlerID  string
	Status     HandlerStatus
	RetryCount int
	LastError  string
	UpdatedAt  time.Time
	NextAt     time.Time
}

// EventInput is one event of a transact batch, already normalized into a
// root envelope's identity fields by the caller (internal/bus).
type EventInput struct {
	EventType     string
	Module        string
	SchemaVersion string
	Payload       string
	MessageID     string
	CorrelationID string
}

// ListenerRef identifies a single registered handler at the moment a
// transact call snapshots the listener table.
type ListenerRef struct {
	HandlerID string
}

// ListenerSnapshot maps event-type to the listeners registered for it,
// resolved once at transact time.
type ListenerSnapshot map[string][]ListenerRef

// TxData is the full set of rows to insert for one atomic transact append.
type TxData struct {
	TxID         string
	CreatedAt    time.Time
	Msgs         []Msg
	HandlerRows  []HandlerRow
	HandlerCount int
}

// PendingHandler is the joined tuple returned by QueryPendingHandlers,
// carrying everything process-handler needs to reconstruct an envelope and
// classify the outcome without a second round trip to the store.
type PendingHandler struct {
	HID           string
	MsgID         string
	TxID          string
	EventType     string
	Payload       string
	Module        string
	SchemaVersion string
	CorrelationID string
	MessageID     string
	HandlerID     string
	RetryCount    int
}

// HandlerUpdate is the new state to persist for a single handler row after
// process-handler runs.
type HandlerUpdate struct {
	HID        string
	Status     HandlerStatus
	RetryCount int
	LastError  string
	UpdatedAt  time.Time
	NextAt     time.Time
}

// TxStore is the abstract persistent store a Bus drives its tx worker
// against. Implementations must make Transact atomic: on any failure the
// whole batch rolls back and the error surfaces to the caller.
type TxStore interface {
	// Init creates the schema (if needed) and readies the store for use.
	Init() error

	// BuildTxData produces the rows for one atomic append: one Msg per event,
	// plus one HandlerRow per listener registered for that event's type at
	// snapshot time.
	BuildTxData(txID string, now time.Time, events []EventInput, listeners ListenerSnapshot) (TxData, error)

	// Transact atomically appends a Tx and its Msgs and HandlerRows.
	Transact(data TxData) error

	// QueryPendingHandlers returns every handler row eligible for
	// processing: status=pending and next-at <= now.
	QueryPendingHandlers(now time.Time) ([]PendingHandler, error)

	// UpdateHandler persists the outcome of one handler-row attempt.
	UpdateHandler(update HandlerUpdate) error

	// TxStatus derives the aggregated status of a tx from its handler rows.
	TxStatus(txID string) (TxStatus, error)

	// UpdateTx sets a tx's terminal status.
	UpdateTx(txID string, status TxStatus, now time.Time) error

	// Cleanup deletes terminal Tx rows (and their cascaded Msgs/HandlerRows)
	// older than retention. Optional per backend; a backend with nothing to
	// sweep may implement this as a no-op.
	Cleanup(now time.Time, retention time.Duration) error

	// ListFailedHandlers returns the failed/timeout handler rows for a tx,
	// for operational visibility.
	ListFailedHandlers(txID string) ([]HandlerRow, error)

	// ListPendingHandlers returns every handler row still pending, for
	// operational visibility.
	ListPendingHandlers() ([]HandlerRow, error)

	// Close releases any resources the store owns.
	Close() error
}

// DeriveTxStatus computes a tx's overall status from its handler rows: ok
// once every row is ok, pending while any row is still pending, and failed
// otherwise. SQL backends may implement the same rule with a query; the
// in-memory backend calls this directly.
func DeriveTxStatus(rows []HandlerRow) TxStatus {
	if len(rows) == 0 {
		return TxOK
	}
	sawPending := false
	for _, r := range rows {
		switch r.Status {
		case HandlerFailed, HandlerTimeout:
			return TxFailed
		case HandlerPending:
			sawPending = true
		}
	}
	if sawPending {
		return TxPending
	}
	return TxOK
}
