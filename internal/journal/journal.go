// Package journal records session membership and hostship events to SQLite so
// a session can be inspected after the fact. The journal is best-effort
// bookkeeping: a write failure is logged and never fails the session.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lockstep/lockstep/internal/log"
)

// Event kinds recorded in the journal.
const (
	KindJoin             = "join"
	KindLeave            = "leave"
	KindHostshipGranted  = "hostship_granted"
	KindHostshipResigned = "hostship_resigned"
	KindHostshipRejected = "hostship_rejected"
)

// Event is one recorded session event.
type Event struct {
	ID   int64
	At   time.Time
	Kind string
	Peer string
}

// Journal is a SQLite-backed session event log.
type Journal struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open creates or opens a journal at the specified path.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// initSchema initializes the journal database schema.
func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			kind TEXT NOT NULL,
			peer TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS broadcast_totals (
			domain INTEGER PRIMARY KEY,
			messages INTEGER NOT NULL DEFAULT 0,
			bytes INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// Record appends one event. Failures are logged, not returned; the journal
// never blocks session progress.
func (j *Journal) Record(kind, peer string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`INSERT INTO events (kind, peer) VALUES (?, ?)`, kind, peer)
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Str("peer", peer).Msg("failed to record journal event")
	}
}

// CountBroadcast accumulates data-broadcast totals for a syncable domain.
func (j *Journal) CountBroadcast(domain uint32, bytes int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO broadcast_totals (domain, messages, bytes) VALUES (?, 1, ?)
		ON CONFLICT(domain) DO UPDATE SET
			messages = messages + 1,
			bytes = bytes + excluded.bytes
	`, domain, bytes)
	if err != nil {
		log.Warn().Err(err).Uint32("domain", domain).Msg("failed to record broadcast totals")
	}
}

// Events returns all recorded events in insertion order.
func (j *Journal) Events() ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`SELECT id, at, kind, peer FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.At, &ev.Kind, &ev.Peer); err != nil {
			return nil, fmt.Errorf("failed to scan journal event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal events: %w", err)
	}
	return events, nil
}

// BroadcastTotals returns accumulated message and byte counts per domain.
func (j *Journal) BroadcastTotals() (map[uint32][2]int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`SELECT domain, messages, bytes FROM broadcast_totals`)
	if err != nil {
		return nil, fmt.Errorf("failed to query broadcast totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[uint32][2]int64)
	for rows.Next() {
		var domain uint32
		var messages, bytes int64
		if err := rows.Scan(&domain, &messages, &bytes); err != nil {
			return nil, fmt.Errorf("failed to scan broadcast totals: %w", err)
		}
		totals[domain] = [2]int64{messages, bytes}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate broadcast totals: %w", err)
	}
	return totals, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal database: %w", err)
	}
	return nil
}
