// Package auth verifies user credentials against a SQLite users table with
// bcrypt password hashes. A verified user is attached to the session state
// machine and is required before a session can be ended and filed.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/fieldtrail/idgen"
	"github.com/hazyhaar/fieldtrail/model"
)

// ErrInvalidCredentials is returned for an unknown username or a wrong
// password. The two cases are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'researcher',
	created_at    INTEGER NOT NULL
);
`

// Store verifies and manages users.
type Store struct {
	db     *sql.DB
	id     idgen.Generator
	logger *slog.Logger
}

// NewStore creates a user store backed by db. Call Init once at startup.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, id: idgen.Prefixed("usr_", idgen.NanoID(8)), logger: logger}
}

// Init creates the users table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(usersSchema)
	return err
}

// CreateUser inserts a user with a bcrypt-hashed password.
func (s *Store) CreateUser(ctx context.Context, username, password, role string) error {
	if username == "" || password == "" {
		return fmt.Errorf("auth: username and password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, created_at) VALUES (?,?,?,?,?)`,
		s.id(), username, string(hash), role, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("auth: create user %q: %w", username, err)
	}
	return nil
}

// Verify checks username/password and returns the user on success, or
// ErrInvalidCredentials.
func (s *Store) Verify(ctx context.Context, username, password string) (*model.User, error) {
	var hash, role string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash, role FROM users WHERE username = ?`, username).
		Scan(&hash, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &model.User{Username: username, Role: role}, nil
}

// SeedDefault creates a default account when the users table is empty, so a
// fresh install can log in immediately.
func (s *Store) SeedDefault(ctx context.Context, username, password string) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if err := s.CreateUser(ctx, username, password, "researcher"); err != nil {
		return err
	}
	s.logger.Info("auth: default user seeded", "username", username)
	return nil
}
