// Package audit records every dispatched command in an audit_log table:
// who issued it, over which transport, with what parameters, and whether it
// succeeded. Entries can be written synchronously or batched in the
// background.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/fieldtrail/idgen"
	"github.com/hazyhaar/fieldtrail/kit"
)

const (
	batchSize     = 32
	flushInterval = 50 * time.Millisecond
	bufferSize    = 256
)

// Entry is one audit record. Zero fields are filled at log time.
type Entry struct {
	EntryID    string
	Timestamp  int64 // unix millis
	UserID     string
	Action     string
	Parameters string // JSON
	Transport  string
	TraceID    string
	Status     string // "success" or "error"
	Error      string
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id      TEXT PRIMARY KEY,
	ts            INTEGER NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	parameters    TEXT NOT NULL DEFAULT '',
	transport     TEXT NOT NULL DEFAULT '',
	trace_id      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log (ts);
`

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator overrides the entry id generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *SQLiteLogger) { l.newID = gen }
}

// WithLogger overrides the slog logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *SQLiteLogger) { l.logger = logger }
}

// SQLiteLogger writes audit entries to SQLite. LogAsync entries are buffered
// and flushed in batches; Close drains the buffer before returning.
type SQLiteLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger

	ch        chan *Entry
	done      chan struct{}
	closeOnce sync.Once
}

// NewSQLiteLogger creates a logger writing to db. Call Init once, and Close
// on shutdown to flush pending async entries.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:     db,
		newID:  idgen.Prefixed("aud_", idgen.NanoID(10)),
		logger: slog.Default(),
		ch:     make(chan *Entry, bufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.writeLoop()
	return l
}

// Init creates the audit_log table if it doesn't exist.
func (l *SQLiteLogger) Init() error {
	_, err := l.db.Exec(schema)
	return err
}

// Log fills the entry's defaults and writes it synchronously.
func (l *SQLiteLogger) Log(ctx context.Context, e *Entry) error {
	l.fillDefaults(ctx, e)
	if err := l.insert(ctx, []*Entry{e}); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}

// LogAsync fills the entry's defaults and queues it for the background
// writer. Must not be called after Close.
func (l *SQLiteLogger) LogAsync(e *Entry) {
	l.fillDefaults(context.Background(), e)
	l.ch <- e
}

// Close flushes queued entries and stops the background writer.
func (l *SQLiteLogger) Close() {
	l.closeOnce.Do(func() {
		close(l.ch)
		<-l.done
	})
}

func (l *SQLiteLogger) fillDefaults(ctx context.Context, e *Entry) {
	if e.EntryID == "" {
		e.EntryID = l.newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.UserID == "" {
		e.UserID = kit.GetUserID(ctx)
	}
	if e.Transport == "" {
		e.Transport = kit.GetTransport(ctx)
	}
	if e.TraceID == "" {
		e.TraceID = kit.GetTraceID(ctx)
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

func (l *SQLiteLogger) writeLoop() {
	defer close(l.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.insert(context.Background(), batch); err != nil {
			l.logger.Error("audit: batch write failed", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (l *SQLiteLogger) insert(ctx context.Context, entries []*Entry) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_log (entry_id, ts, user_id, action, parameters, transport, trace_id, status, error_message)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			e.EntryID, e.Timestamp, e.UserID, e.Action, e.Parameters, e.Transport, e.TraceID, e.Status, e.Error)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Middleware wraps an endpoint so every invocation is audited with the given
// action name. The request is recorded as JSON parameters; a marshal failure
// leaves them empty rather than blocking the call.
func Middleware(logger *SQLiteLogger, action string) func(kit.Endpoint) kit.Endpoint {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			params := ""
			if req != nil {
				if b, err := json.Marshal(req); err == nil {
					params = string(b)
				}
			}

			resp, err := next(ctx, req)

			e := &Entry{Action: action, Parameters: params}
			if err != nil {
				e.Error = err.Error()
			}
			e.UserID = kit.GetUserID(ctx)
			e.Transport = kit.GetTransport(ctx)
			e.TraceID = kit.GetTraceID(ctx)
			logger.LogAsync(e)

			return resp, err
		}
	}
}
