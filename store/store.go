// Package store persists field history to SQLite so value timelines survive
// restarts. The in-memory cache stays authoritative for the current session;
// this is the durable sink behind it.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store records per-field value history in SQLite with WAL mode.
type Store struct {
	db *sql.DB
}

// Change is one persisted history row.
type Change struct {
	Path  string    `json:"path"`
	Field string    `json:"field"`
	Value any       `json:"value"`
	At    time.Time `json:"at"`
}

// Open opens (or creates) the database and initializes the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS field_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		path       TEXT NOT NULL,
		field      TEXT NOT NULL,
		value      TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_path_field ON field_history(path, field, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one history row. The value is stored as JSON so any wire
// value round-trips.
func (s *Store) Record(path, field string, value any, at time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO field_history (path, field, value, created_at) VALUES (?, ?, ?, ?)`,
		path, field, string(data), at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Changes returns the persisted history of one field in append order.
func (s *Store) Changes(path, field string, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(
		`SELECT path, field, value, created_at FROM field_history
		 WHERE path = ? AND field = ?
		 ORDER BY id ASC LIMIT ?`,
		path, field, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var valueStr, atStr string
		if err := rows.Scan(&c.Path, &c.Field, &valueStr, &atStr); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(valueStr), &c.Value); err != nil {
			return nil, fmt.Errorf("unmarshal value for %s.%s: %w", c.Path, c.Field, err)
		}
		var parseErr error
		c.At, parseErr = time.Parse(time.RFC3339Nano, atStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse created_at for %s.%s: %w", c.Path, c.Field, parseErr)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Fields returns the distinct recorded field names for one object path.
func (s *Store) Fields(path string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT field FROM field_history WHERE path = ? ORDER BY field`, path,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// Prune deletes history older than cutoff, returning the rows removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM field_history WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
