package bus

import (
	"context"
	"time"

	"github.com/drblury/evbus/errs"
	"github.com/drblury/evbus/internal/txstore"
	"github.com/drblury/evbus/logging"
	"github.com/drblury/evbus/payloadcodec"
)

const pollInterval = 50 * time.Millisecond

// runTxWorker is the background state-machine loop driving handler rows to
// completion. One instance runs per bus with a configured store.
func (b *Bus) runTxWorker() {
	defer b.workerWG.Done()

	var lastCleanup time.Time

	for {
		select {
		case <-b.stopWork:
			return
		default:
		}

		b.processPendingHandlers()
		lastCleanup = b.maybeRunCleanup(lastCleanup)

		select {
		case <-b.stopWork:
			return
		case <-time.After(pollInterval):
		}
	}
}

func (b *Bus) processPendingHandlers() {
	rows, err := b.store.QueryPendingHandlers(timeNow())
	if err != nil {
		b.log().Error("tx-worker-failed", err, nil)
		return
	}

	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		update := b.processHandler(row)
		if err := b.store.UpdateHandler(update); err != nil {
			b.log().Error("tx-worker-failed", err, logging.LogFields{"h_id": row.HID})
			continue
		}

		if _, done := seen[row.TxID]; done {
			continue
		}

		status, err := b.store.TxStatus(row.TxID)
		if err != nil {
			b.log().Error("tx-worker-failed", err, logging.LogFields{"tx_id": row.TxID})
			continue
		}
		if status == txstore.TxOK || status == txstore.TxFailed {
			seen[row.TxID] = struct{}{}
			b.completeTx(row.TxID, status)
		}
	}
}

func (b *Bus) completeTx(txID string, status txstore.TxStatus) {
	if err := b.store.UpdateTx(txID, status, timeNow()); err != nil {
		b.log().Error("tx-worker-failed", err, logging.LogFields{"tx_id": txID})
	}

	result := Result{OK: status == txstore.TxOK, TxID: txID}
	if !result.OK {
		result.Error = errs.ErrHandlerFailed
	}
	b.completion.Complete(txID, result)

	if b.metrics != nil {
		b.metrics.SetOpenTx(b.completion.Count())
	}
}

// handlerOutcome is the intermediate result of one process-handler attempt,
// before state-update policy turns it into a persisted HandlerUpdate.
type handlerOutcome struct {
	status    txstore.HandlerStatus
	retryable bool
	err       error
}

func (b *Bus) processHandler(row txstore.PendingHandler) txstore.HandlerUpdate {
	outcome := b.executeHandler(row)
	return b.applyStateUpdatePolicy(row, outcome)
}

func (b *Bus) executeHandler(row txstore.PendingHandler) handlerOutcome {
	listener, ok := b.listeners.LookupByID(row.EventType, row.HandlerID)
	if !ok {
		return handlerOutcome{status: txstore.HandlerFailed, retryable: false, err: errs.ErrHandlerMissing}
	}

	decoded, err := payloadcodec.DecodePayload(row.Payload)
	if err != nil {
		return handlerOutcome{status: txstore.HandlerFailed, retryable: false, err: err}
	}

	env := Envelope{
		MessageID:     row.MessageID,
		CorrelationID: row.CorrelationID,
		MessageType:   row.EventType,
		Module:        row.Module,
		SchemaVersion: row.SchemaVersion,
		Payload:       decoded,
	}

	if listener.Schema != nil {
		if err := listener.Schema.Validate(env.Payload); err != nil {
			return handlerOutcome{status: txstore.HandlerFailed, retryable: false, err: errs.ErrSchemaValidationFailed}
		}
	}

	return b.invokeWithDeadline(listener.Handler, listener.HandlerID, env)
}

func (b *Bus) invokeWithDeadline(handler Handler, handlerID string, env Envelope) handlerOutcome {
	spanCtx, span := startHandlerSpan(context.Background(), "txworker.handler", env, handlerID)
	defer span.End()

	ctx, cancel := context.WithTimeout(spanCtx, b.cfg.TxHandlerTimeout)
	defer cancel()

	type callResult struct {
		ok  bool
		err error
	}
	resultCh := make(chan callResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- callResult{ok: false, err: errs.ErrHandlerException}
			}
		}()
		ok, err := handler(b, env)
		resultCh <- callResult{ok: ok, err: err}
	}()

	select {
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.RecordHandlerTimeout(env.MessageType)
		}
		span.RecordError(errs.ErrHandlerTimeout)
		return handlerOutcome{status: txstore.HandlerTimeout, retryable: true, err: errs.ErrHandlerTimeout}
	case res := <-resultCh:
		if res.err != nil {
			span.RecordError(res.err)
			return handlerOutcome{status: txstore.HandlerFailed, retryable: true, err: errs.ErrHandlerException}
		}
		if res.ok {
			return handlerOutcome{status: txstore.HandlerOK, retryable: false}
		}
		span.RecordError(errs.ErrHandlerReturnedFalse)
		return handlerOutcome{status: txstore.HandlerFailed, retryable: true, err: errs.ErrHandlerReturnedFalse}
	}
}

// applyStateUpdatePolicy decides the next retry/backoff/terminal state for a
// handler row given the outcome of its latest attempt.
func (b *Bus) applyStateUpdatePolicy(row txstore.PendingHandler, outcome handlerOutcome) txstore.HandlerUpdate {
	now := timeNow()
	nextRetry := row.RetryCount + 1
	exhausted := outcome.retryable && nextRetry >= b.cfg.HandlerMaxRetries

	var finalStatus txstore.HandlerStatus
	switch {
	case outcome.status == txstore.HandlerOK:
		finalStatus = txstore.HandlerOK
	case exhausted:
		finalStatus = outcome.status
	case outcome.retryable:
		finalStatus = txstore.HandlerPending
	default:
		finalStatus = outcome.status
	}

	storedRetryCount := row.RetryCount
	if outcome.status != txstore.HandlerOK {
		storedRetryCount = nextRetry
	}

	nextAt := now
	if outcome.retryable && !exhausted {
		nextAt = now.Add(b.cfg.HandlerBackoff)
		if b.metrics != nil {
			b.metrics.RecordHandlerRetry(row.EventType)
		}
	}

	var lastError string
	if outcome.err != nil {
		lastError = outcome.err.Error()
		if finalStatus == txstore.HandlerFailed && b.metrics != nil {
			b.metrics.RecordHandlerFailed(row.EventType)
		}
	}

	return txstore.HandlerUpdate{
		HID:        row.HID,
		Status:     finalStatus,
		RetryCount: storedRetryCount,
		LastError:  lastError,
		UpdatedAt:  now,
		NextAt:     nextAt,
	}
}

func (b *Bus) maybeRunCleanup(lastCleanup time.Time) time.Time {
	if b.cfg.TxRetention <= 0 || b.cfg.TxCleanupInterval <= 0 {
		return lastCleanup
	}
	now := timeNow()
	if !lastCleanup.IsZero() && now.Sub(lastCleanup) < b.cfg.TxCleanupInterval {
		return lastCleanup
	}
	if err := b.store.Cleanup(now, b.cfg.TxRetention); err != nil {
		b.log().Error("tx-cleanup-failed", err, nil)
		return now
	}
	b.log().Debug("tx-cleanup", nil)
	return now
}
