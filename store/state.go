// Package store provides the SQLite persistence behind the session state
// machine: a key-value table holding the machine state blob, and a
// visibility-timeout queue for session records whose remote save failed.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/fieldtrail/trail"
)

const stateSchema = `
CREATE TABLE IF NOT EXISTS app_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const stateKey = "machine"

// StateStore persists the machine state blob in an app_state table. It
// implements trail.StateStore.
type StateStore struct {
	db *sql.DB
}

// NewStateStore creates a state store backed by the given database.
// Call Init once at startup.
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// Init creates the app_state table if it doesn't exist.
func (s *StateStore) Init() error {
	_, err := s.db.Exec(stateSchema)
	return err
}

// Save replaces the persisted machine state.
func (s *StateStore) Save(ctx context.Context, st *trail.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO app_state (key, value, updated_at) VALUES (?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		stateKey, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: save state: %w", err)
	}
	return nil
}

// Load returns the persisted machine state, or nil when none was saved yet.
func (s *StateStore) Load(ctx context.Context) (*trail.State, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_state WHERE key = ?`, stateKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load state: %w", err)
	}
	var st trail.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("store: unmarshal state: %w", err)
	}
	return &st, nil
}
