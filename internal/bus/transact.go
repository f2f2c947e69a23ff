package bus

import (
	"time"

	"github.com/drblury/evbus/errs"
	"github.com/drblury/evbus/ids"
	"github.com/drblury/evbus/internal/txstore"
	"github.com/drblury/evbus/logging"
	"github.com/drblury/evbus/payloadcodec"
)

// TransactEvent is one event of a transact batch.
type TransactEvent struct {
	EventType     string
	Payload       any
	Module        string
	SchemaVersion string
}

// TransactHandle is what transact returns: an op-id plus the two views of
// its one-shot completion.
type TransactHandle struct {
	OpID       string
	Completion *Completion
}

// Wait blocks until the tx completes and returns its result.
func (h TransactHandle) Wait() Result {
	return h.Completion.Wait()
}

// Subscribe returns a fresh channel receiving one copy of the result.
func (h TransactHandle) Subscribe() <-chan Result {
	return h.Completion.Subscribe()
}

// Transact runs the durable delivery path: it validates every event up
// front, persists the batch atomically, and returns a completion handle that
// the tx worker fulfills once the tx reaches a terminal status.
func (b *Bus) Transact(events []TransactEvent) (TransactHandle, error) {
	if b.isClosed() {
		return TransactHandle{}, errs.ErrClosed
	}
	if b.store == nil {
		return TransactHandle{}, errs.ErrNoTxStore
	}
	if len(events) == 0 {
		return TransactHandle{}, errs.ErrEmptyEvents
	}

	txID := ids.CreateULID()
	now := timeNow()

	eventTypes := make([]string, 0, len(events))
	for _, e := range events {
		eventTypes = append(eventTypes, e.EventType)
	}
	snapshot := b.listeners.SnapshotFor(eventTypes)

	inputs := make([]txstore.EventInput, 0, len(events))
	for _, e := range events {
		if e.Module == "" {
			return TransactHandle{}, errs.ErrMissingModule
		}
		if e.EventType == "" {
			return TransactHandle{}, errs.ErrMissingEventType
		}
		schemaVersion := e.SchemaVersion
		if schemaVersion == "" {
			schemaVersion = DefaultSchemaVersion
		}
		validator, ok := b.registry.Lookup(e.EventType, schemaVersion)
		if !ok {
			return TransactHandle{}, errs.ErrSchemaMissing
		}
		if err := validator.Validate(e.Payload); err != nil {
			return TransactHandle{}, errs.ErrSchemaValidationFailed
		}

		env, err := NewRootEnvelope(e.EventType, e.Payload, RootOptions{
			Module:        e.Module,
			SchemaVersion: schemaVersion,
		})
		if err != nil {
			return TransactHandle{}, err
		}
		encoded, err := payloadcodec.EncodePayload(env.Payload)
		if err != nil {
			return TransactHandle{}, err
		}
		inputs = append(inputs, txstore.EventInput{
			EventType:     env.MessageType,
			Module:        env.Module,
			SchemaVersion: env.SchemaVersion,
			Payload:       encoded,
			MessageID:     env.MessageID,
			CorrelationID: env.CorrelationID,
		})
	}

	data, err := b.store.BuildTxData(txID, now, inputs, snapshot)
	if err != nil {
		return TransactHandle{}, errs.ErrStore
	}
	completion := b.completion.Register(txID)
	if err := b.store.Transact(data); err != nil {
		b.completion.Complete(txID, Result{OK: false, TxID: txID, Error: errs.ErrStore})
		return TransactHandle{}, errs.ErrStore
	}

	b.log().Info("tx-created", logging.LogFields{
		"tx_id":         txID,
		"handler_count": data.HandlerCount,
	})

	if data.HandlerCount == 0 {
		b.completion.Complete(txID, Result{OK: true, TxID: txID})
		return TransactHandle{OpID: txID, Completion: completion}, nil
	}

	if b.metrics != nil {
		b.metrics.SetOpenTx(b.completion.Count())
	}

	return TransactHandle{OpID: txID, Completion: completion}, nil
}

func timeNow() time.Time {
	return time.Now()
}
