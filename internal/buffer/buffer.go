package buffer

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"backend-fieldtrack/internal/event"
)

// Buffer is a durable FIFO of not-yet-delivered session events, backed by a
// local SQLite file so buffered events survive a process restart. The
// session manager is the sole producer and the sync gateway the sole
// consumer.
type Buffer struct {
	db *sql.DB
}

// Entry is a buffered event plus its queue bookkeeping.
type Entry struct {
	Seq      int64
	Attempts int
	Event    event.SessionEvent
}

func Open(path string) (*Buffer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open buffer: %w", err)
	}
	// Single writer; WAL keeps the consumer's reads cheap.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("buffer pragma: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS buffered_events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id   TEXT NOT NULL UNIQUE,
			payload    BLOB NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0,
			queued_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("buffer schema: %w", err)
	}
	return &Buffer{db: db}, nil
}

// Append enqueues an event. Re-appending an event with the same ID is a
// no-op, so a crash between emit and ack cannot duplicate it.
func (b *Buffer) Append(ev event.SessionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = b.db.Exec(
		`INSERT OR IGNORE INTO buffered_events (event_id, payload) VALUES (?, ?)`,
		ev.ID, payload,
	)
	return err
}

// Peek returns up to n oldest entries without removing them.
func (b *Buffer) Peek(n int) ([]Entry, error) {
	rows, err := b.db.Query(
		`SELECT seq, attempts, payload FROM buffered_events ORDER BY seq LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.Seq, &e.Attempts, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &e.Event); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ack removes delivered entries. Called only after the backend acknowledged
// the batch.
func (b *Buffer) Ack(seqs []int64) error {
	for _, seq := range seqs {
		if _, err := b.db.Exec(`DELETE FROM buffered_events WHERE seq = ?`, seq); err != nil {
			return err
		}
	}
	return nil
}

// Fail bumps the attempt counter for entries the backend rejected.
func (b *Buffer) Fail(seqs []int64) error {
	for _, seq := range seqs {
		if _, err := b.db.Exec(`UPDATE buffered_events SET attempts = attempts + 1 WHERE seq = ?`, seq); err != nil {
			return err
		}
	}
	return nil
}

// Drop discards an entry regardless of delivery, used for permanently
// rejected events.
func (b *Buffer) Drop(seq int64) error {
	_, err := b.db.Exec(`DELETE FROM buffered_events WHERE seq = ?`, seq)
	return err
}

func (b *Buffer) Len() (int, error) {
	var n int
	err := b.db.QueryRow(`SELECT COUNT(*) FROM buffered_events`).Scan(&n)
	return n, err
}

func (b *Buffer) Close() error {
	return b.db.Close()
}
