package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/fieldtrail/idgen"
	"github.com/hazyhaar/fieldtrail/model"
	"github.com/hazyhaar/fieldtrail/trail"
)

// PendingQueue is a visibility-timeout queue of session records whose remote
// save failed. Claimed rows are invisible for the configured duration; a
// consumer that crashes or fails simply lets the row reappear, so no record
// is ever lost before it reaches the remote database. The visibility window
// doubles as the retry backoff: failed uploads are not made visible again
// early.
//
// It implements trail.RetryEnqueuer.
type PendingQueue struct {
	db   *sql.DB
	opts PendingOptions
}

// PendingOptions configures the queue.
type PendingOptions struct {
	// Visibility is how long a claimed record stays invisible, and therefore
	// the minimum delay between retries of the same record. Default: 1m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in the Run loop.
	// Default: 15s.
	PollInterval time.Duration
	// MaxAttempts discards a record after this many deliveries. 0 = unlimited.
	MaxAttempts int
	// ID generates row ids. Default: "pnd_"-prefixed NanoID(8).
	ID idgen.Generator
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *PendingOptions) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.ID == nil {
		o.ID = idgen.Prefixed("pnd_", idgen.NanoID(8))
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// NewPendingQueue creates a queue handle. Call EnsureTable once at startup.
func NewPendingQueue(db *sql.DB, opts PendingOptions) *PendingQueue {
	opts.defaults()
	return &PendingQueue{db: db, opts: opts}
}

// EnsureTable creates the pending_sessions table and index.
func (q *PendingQueue) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pending_sessions (
			id         TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			visible_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_pending_visible ON pending_sessions (visible_at);
	`)
	return err
}

// Enqueue inserts a session record that is immediately visible.
func (q *PendingQueue) Enqueue(ctx context.Context, rec *model.SessionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal pending session: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO pending_sessions (id, payload, visible_at, created_at) VALUES (?,?,?,?)`,
		q.opts.ID(), payload, now, now)
	if err != nil {
		return fmt.Errorf("store: enqueue pending session: %w", err)
	}
	return nil
}

// pendingRow is a claimed row.
type pendingRow struct {
	ID       string
	Payload  []byte
	Attempts int
}

// claim atomically picks the oldest visible record and hides it for the
// visibility window. Returns nil, nil when nothing is visible.
func (q *PendingQueue) claim(ctx context.Context) (*pendingRow, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE pending_sessions
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM pending_sessions
			WHERE visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, payload, attempts`,
		hideUntil, now.UnixMilli())

	var r pendingRow
	err := row.Scan(&r.ID, &r.Payload, &r.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ack deletes a successfully uploaded record.
func (q *PendingQueue) ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM pending_sessions WHERE id = ?`, id)
	return err
}

// Len returns the number of queued records (visible + invisible).
func (q *PendingQueue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_sessions`).Scan(&n)
	return n, err
}

// Run polls for visible records and re-attempts their remote save. It blocks
// until ctx is cancelled. A failed upload is left invisible until the
// visibility window lapses, which spaces retries naturally.
func (q *PendingQueue) Run(ctx context.Context, sink trail.SessionSink) {
	log := q.opts.Logger
	log.Info("store: pending consumer started",
		"visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("store: pending consumer stopped")
			return
		case <-ticker.C:
			q.poll(ctx, sink, log)
		}
	}
}

func (q *PendingQueue) poll(ctx context.Context, sink trail.SessionSink, log *slog.Logger) {
	for {
		row, err := q.claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("store: pending claim failed", "error", err)
			}
			return
		}
		if row == nil {
			return // nothing visible
		}

		if q.opts.MaxAttempts > 0 && row.Attempts > q.opts.MaxAttempts {
			log.Warn("store: pending record exceeded max attempts, discarding",
				"id", row.ID, "attempts", row.Attempts)
			_ = q.ack(ctx, row.ID)
			continue
		}

		var rec model.SessionRecord
		if err := json.Unmarshal(row.Payload, &rec); err != nil {
			log.Error("store: pending record corrupt, discarding", "id", row.ID, "error", err)
			_ = q.ack(ctx, row.ID)
			continue
		}

		if _, err := sink.SaveSessionRecord(ctx, &rec); err != nil {
			log.Warn("store: pending upload failed, will retry",
				"id", row.ID, "session", rec.Name, "attempts", row.Attempts, "error", err)
			continue // stays invisible until the window lapses
		}

		log.Info("store: pending session uploaded", "id", row.ID, "session", rec.Name)
		_ = q.ack(ctx, row.ID)
	}
}
