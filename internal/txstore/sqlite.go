package txstore

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/evbus/ids"
)

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	// FilePath is the path to the SQLite database file. Use ":memory:" for
	// an in-process database, useful for testing.
	FilePath string
}

// SQLiteStore is the embedded-SQL TxStore backend. SQLite serializes writes
// on a single connection, so Transact and UpdateHandler additionally take an
// in-process lock to keep the writer-lock contract explicit even under
// concurrent goroutines sharing one *sql.DB.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (and initializes the schema for) a SQLite-backed
// TxStore.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("txstore: sqlite file path is required")
	}

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("txstore: failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tx (
		tx_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS msg (
		msg_id TEXT PRIMARY KEY,
		tx_id TEXT NOT NULL REFERENCES tx(tx_id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		module TEXT NOT NULL,
		schema_version TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		message_id TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_msg_tx_id ON msg(tx_id);

	CREATE TABLE IF NOT EXISTS handler_row (
		h_id TEXT PRIMARY KEY,
		msg_id TEXT NOT NULL REFERENCES msg(msg_id) ON DELETE CASCADE,
		handler_id TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		updated_at INTEGER NOT NULL,
		next_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_handler_status_next_at ON handler_row(status, next_at);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("txstore: failed to initialize sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) BuildTxData(txID string, now time.Time, events []EventInput, listeners ListenerSnapshot) (TxData, error) {
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

func (s *SQLiteStore) Transact(data TxData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("txstore: begin transact: %w", err)
	}
	defer tx.Rollback()

	nowMS := epochMillis(data.CreatedAt)
	if _, err := tx.Exec(`INSERT INTO tx (tx_id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		data.TxID, string(TxPending), nowMS, nowMS); err != nil {
		return fmt.Errorf("txstore: insert tx: %w", err)
	}

	msgStmt, err := tx.Prepare(`INSERT INTO msg (msg_id, tx_id, event_type, payload, module, schema_version, correlation_id, message_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("txstore: prepare msg insert: %w", err)
	}
	defer msgStmt.Close()
	for _, m := range data.Msgs {
		if _, err := msgStmt.Exec(m.MsgID, m.TxID, m.EventType, m.Payload, m.Module, m.SchemaVersion, m.CorrelationID, m.MessageID); err != nil {
			return fmt.Errorf("txstore: insert msg: %w", err)
		}
	}

	handlerStmt, err := tx.Prepare(`INSERT INTO handler_row (h_id, msg_id, handler_id, status, retry_count, last_error, updated_at, next_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("txstore: prepare handler_row insert: %w", err)
	}
	defer handlerStmt.Close()
	for _, h := range data.HandlerRows {
		if _, err := handlerStmt.Exec(h.HID, h.MsgID, h.HandlerID, string(h.Status), h.RetryCount, nullableString(h.LastError), epochMillis(h.NextAt), epochMillis(h.NextAt)); err != nil {
			return fmt.Errorf("txstore: insert handler_row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("txstore: commit transact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QueryPendingHandlers(now time.Time) ([]PendingHandler, error) {
	rows, err := s.db.Query(`
		SELECT h.h_id, h.msg_id, m.tx_id, m.event_type, m.payload, m.module, m.schema_version,
		       m.correlation_id, m.message_id, h.handler_id, h.retry_count
		FROM handler_row h
		JOIN msg m ON m.msg_id = h.msg_id
		WHERE h.status = ? AND h.next_at <= ?
	`, string(HandlerPending), epochMillis(now))
	if err != nil {
		return nil, fmt.Errorf("txstore: query pending handlers: %w", err)
	}
	defer rows.Close()

	var out []PendingHandler
	for rows.Next() {
		var p PendingHandler
		if err := rows.Scan(&p.HID, &p.MsgID, &p.TxID, &p.EventType, &p.Payload, &p.Module,
			&p.SchemaVersion, &p.CorrelationID, &p.MessageID, &p.HandlerID, &p.RetryCount); err != nil {
			return nil, fmt.Errorf("txstore: scan pending handler: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateHandler(update HandlerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE handler_row
		SET status = ?, retry_count = ?, last_error = ?, updated_at = ?, next_at = ?
		WHERE h_id = ?
	`, string(update.Status), update.RetryCount, nullableString(update.LastError),
		epochMillis(update.UpdatedAt), epochMillis(update.NextAt), update.HID)
	if err != nil {
		return fmt.Errorf("txstore: update handler_row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TxStatus(txID string) (TxStatus, error) {
	rows, err := s.rowsForTx(txID)
	if err != nil {
		return "", err
	}
	return DeriveTxStatus(rows), nil
}

func (s *SQLiteStore) UpdateTx(txID string, status TxStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE tx SET status = ?, updated_at = ? WHERE tx_id = ?`,
		string(status), epochMillis(now), txID)
	if err != nil {
		return fmt.Errorf("txstore: update tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Cleanup(now time.Time, retention time.Duration) error {
	cutoff := epochMillis(now.Add(-retention))
	_, err := s.db.Exec(`DELETE FROM tx WHERE status != ? AND updated_at < ?`, string(TxPending), cutoff)
	if err != nil {
		return fmt.Errorf("txstore: cleanup: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFailedHandlers(txID string) ([]HandlerRow, error) {
	rows, err := s.db.Query(`
		SELECT h.h_id, h.msg_id, h.handler_id, h.status, h.retry_count, h.last_error, h.updated_at, h.next_at
		FROM handler_row h
		JOIN msg m ON m.msg_id = h.msg_id
		WHERE m.tx_id = ? AND h.status IN (?, ?)
	`, txID, string(HandlerFailed), string(HandlerTimeout))
	if err != nil {
		return nil, fmt.Errorf("txstore: list failed handlers: %w", err)
	}
	defer rows.Close()
	return scanHandlerRows(rows)
}

func (s *SQLiteStore) ListPendingHandlers() ([]HandlerRow, error) {
	rows, err := s.db.Query(`
		SELECT h_id, msg_id, handler_id, status, retry_count, last_error, updated_at, next_at
		FROM handler_row WHERE status = ?
	`, string(HandlerPending))
	if err != nil {
		return nil, fmt.Errorf("txstore: list pending handlers: %w", err)
	}
	defer rows.Close()
	return scanHandlerRows(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) rowsForTx(txID string) ([]HandlerRow, error) {
	rows, err := s.db.Query(`
		SELECT h.h_id, h.msg_id, h.handler_id, h.status, h.retry_count, h.last_error, h.updated_at, h.next_at
		FROM handler_row h
		JOIN msg m ON m.msg_id = h.msg_id
		WHERE m.tx_id = ?
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("txstore: query handler rows for tx: %w", err)
	}
	defer rows.Close()
	return scanHandlerRows(rows)
}

func scanHandlerRows(rows *sql.Rows) ([]HandlerRow, error) {
	var out []HandlerRow
	for rows.Next() {
		var r HandlerRow
		var lastError sql.NullString
		var status string
		var updatedAt, nextAt int64
		if err := rows.Scan(&r.HID, &r.MsgID, &r.HandlerID, &status, &r.RetryCount, &lastError, &updatedAt, &nextAt); err != nil {
			return nil, fmt.Errorf("txstore: scan handler row: %w", err)
		}
		r.Status = HandlerStatus(status)
		r.LastError = lastError.String
		r.UpdatedAt = fromEpochMillis(updatedAt)
		r.NextAt = fromEpochMillis(nextAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func epochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
