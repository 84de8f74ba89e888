// Package history provides persistent storage for session and
// transmission records, queried by the history command on base-station
// deployments.
package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/trackflow/trackflow/pkg/session"
	"github.com/trackflow/trackflow/pkg/uplink"
)

// Session is one finished sampling session.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	Expired   bool      `json:"expired"`
}

// Transmission is one recorded transmission trigger.
type Transmission struct {
	ID        int64     `json:"id"`
	At        time.Time `json:"at"`
	Outcome   string    `json:"outcome"`
	Bytes     int       `json:"bytes"`
	Attempts  int       `json:"attempts"`
	Quality   int       `json:"quality"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Error     string    `json:"error,omitempty"`
}

// Store manages the history database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (or creates) the history database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP NOT NULL,
			expired BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE SEQUENCE IF NOT EXISTS transmissions_seq`,
		`CREATE TABLE IF NOT EXISTS transmissions (
			id BIGINT PRIMARY KEY DEFAULT nextval('transmissions_seq'),
			at TIMESTAMP NOT NULL,
			outcome TEXT NOT NULL,
			bytes INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			quality INTEGER NOT NULL DEFAULT 0,
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			error TEXT
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSession persists a finished session. Satisfies the dispatcher's
// Recorder interface.
func (s *Store) RecordSession(sum session.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.db.Exec(
		`INSERT INTO sessions (id, started_at, stopped_at, expired) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		sum.ID.String(), sum.StartedAt, sum.StoppedAt, sum.Expired,
	)
}

// RecordTransmission persists one transmission trigger.
func (s *Store) RecordTransmission(at time.Time, out uplink.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}
	s.db.Exec(
		`INSERT INTO transmissions (at, outcome, bytes, attempts, quality, elapsed_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		at, out.Kind.String(), out.Bytes, out.Attempts, out.Quality,
		out.Elapsed.Milliseconds(), errText,
	)
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(limit int) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, started_at, stopped_at, expired FROM sessions
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.StartedAt, &sess.StoppedAt, &sess.Expired); err != nil {
			return nil, err
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// ListTransmissions returns the most recent transmissions, newest first.
func (s *Store) ListTransmissions(limit int) ([]*Transmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, at, outcome, bytes, attempts, quality, elapsed_ms, COALESCE(error, '')
		 FROM transmissions ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Transmission
	for rows.Next() {
		var tx Transmission
		if err := rows.Scan(&tx.ID, &tx.At, &tx.Outcome, &tx.Bytes, &tx.Attempts,
			&tx.Quality, &tx.ElapsedMS, &tx.Error); err != nil {
			return nil, err
		}
		list = append(list, &tx)
	}
	return list, rows.Err()
}

// Stats summarizes transmission outcomes for the history command.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM transmissions GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		stats[outcome] = count
	}
	return stats, rows.Err()
}

// Cleanup removes transmissions older than the retention window.
func (s *Store) Cleanup(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM transmissions WHERE at < ?`,
		time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
