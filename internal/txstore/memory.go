package txstore

import (
	"sort"
	"sync"
	"time"

	"github.com/drblury/evbus/ids"
)

// MemoryStore is the in-memory datalog-style TxStore backend: every table is
// a plain map guarded by one mutex, mirroring how the SQL backends serialize
// writes behind a single writer lock. It never touches a disk or a network,
// so it needs no third-party driver: the concern here is Go's own map and
// mutex primitives, not a database client.
type MemoryStore struct {
	mu       sync.Mutex
	txs      map[string]Tx
	msgs     map[string]Msg
	handlers map[string]HandlerRow
}

// NewMemoryStore constructs a ready-to-use in-memory TxStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:      make(map[string]Tx),
		msgs:     make(map[string]Msg),
		handlers: make(map[string]HandlerRow),
	}
}

func (s *MemoryStore) Init() error {
	return nil
}

func (s *MemoryStore) BuildTxData(txID string, now time.Time, events []EventInput, listeners ListenerSnapshot) (TxData, error) {
	data := TxData{TxID: txID, CreatedAt: now}

	for _, ev := range events {
		msg := Msg{
			MsgID:         ids.CreateULID(),
			TxID:          txID,
			EventType:     ev.EventType,
			Payload:       ev.Payload,
			Module:        ev.Module,
			SchemaVersion: ev.SchemaVersion,
			CorrelationID: ev.CorrelationID,
			MessageID:     ev.MessageID,
		}
		data.Msgs = append(data.Msgs, msg)

		for _, ref := range listeners[ev.EventType] {
			data.HandlerRows = append(data.HandlerRows, HandlerRow{
				HID:        ids.CreateULID(),
				MsgID:      msg.MsgID,
				HandlerID:  ref.HandlerID,
				Status:     HandlerPending,
				RetryCount: 0,
				NextAt:     now,
			})
		}
	}
	data.HandlerCount = len(data.HandlerRows)
	return data, nil
}

func (s *MemoryStore) Transact(data TxData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txs[data.TxID] = Tx{
		TxID:      data.TxID,
		Status:    TxPending,
		CreatedAt: data.CreatedAt,
		UpdatedAt: data.CreatedAt,
	}
	for _, m := range data.Msgs {
		s.msgs[m.MsgID] = m
	}
	for _, h := range data.HandlerRows {
		s.handlers[h.HID] = h
	}
	return nil
}

func (s *MemoryStore) QueryPendingHandlers(now time.Time) ([]PendingHandler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PendingHandler
	for _, h := range s.handlers {
		if h.Status != HandlerPending || h.NextAt.After(now) {
			continue
		}
		msg, ok := s.msgs[h.MsgID]
		if !ok {
			continue
		}
		out = append(out, PendingHandler{
			HID:           h.HID,
			MsgID:         h.MsgID,
			TxID:          msg.TxID,
			EventType:     msg.EventType,
			Payload:       msg.Payload,
			Module:        msg.Module,
			SchemaVersion: msg.SchemaVersion,
			CorrelationID: msg.CorrelationID,
			MessageID:     msg.MessageID,
			HandlerID:     h.HandlerID,
			RetryCount:    h.RetryCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HID < out[j].HID })
	return out, nil
}

func (s *MemoryStore) UpdateHandler(update HandlerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.handlers[update.HID]
	if !ok {
		return nil
	}
	row.Status = update.Status
	row.RetryCount = update.RetryCount
	row.LastError = update.LastError
	row.UpdatedAt = update.UpdatedAt
	row.NextAt = update.NextAt
	s.handlers[update.HID] = row
	return nil
}

func (s *MemoryStore) TxStatus(txID string) (TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DeriveTxStatus(s.rowsForTxLocked(txID)), nil
}

func (s *MemoryStore) UpdateTx(txID string, status TxStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return nil
	}
	tx.Status = status
	tx.UpdatedAt = now
	s.txs[txID] = tx
	return nil
}

func (s *MemoryStore) Cleanup(now time.Time, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-retention)
	for txID, tx := range s.txs {
		if tx.Status == TxPending || !tx.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.txs, txID)
		for msgID, msg := range s.msgs {
			if msg.TxID != txID {
				continue
			}
			delete(s.msgs, msgID)
			for hID, h := range s.handlers {
				if h.MsgID == msgID {
					delete(s.handlers, hID)
				}
			}
		}
	}
	return nil
}

func (s *MemoryStore) ListFailedHandlers(txID string) ([]HandlerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []HandlerRow
	for _, h := range s.rowsForTxLocked(txID) {
		if h.Status == HandlerFailed || h.Status == HandlerTimeout {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPendingHandlers() ([]HandlerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []HandlerRow
	for _, h := range s.handlers {
		if h.Status == HandlerPending {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) rowsForTxLocked(txID string) []HandlerRow {
	var out []HandlerRow
	for _, h := range s.handlers {
		msg, ok := s.msgs[h.MsgID]
		if !ok || msg.TxID != txID {
			continue
		}
		out = append(out, h)
	}
	return out
}
