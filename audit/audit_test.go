package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/fieldtrail/dbopen"
	"github.com/hazyhaar/fieldtrail/kit"
)

func newAuditLog(t *testing.T) (*SQLiteLogger, *sql.DB) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	l := NewSQLiteLogger(db)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	return l, db
}

func countEntries(t *testing.T, db *sql.DB, action string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE action = ?", action).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestInit_Idempotent(t *testing.T) {
	l, db := newAuditLog(t)
	defer l.Close()

	// A second Init against an existing table must not fail.
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}

	var n int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name IN ('audit_log', 'idx_audit_ts')").Scan(&n)
	if n != 2 {
		t.Fatalf("schema objects: got %d, want table and index", n)
	}
}

func TestLog_RecordsCommandContext(t *testing.T) {
	l, db := newAuditLog(t)
	defer l.Close()

	ctx := kit.WithUserID(context.Background(), "usr_ada")
	ctx = kit.WithTransport(ctx, "mcp")
	ctx = kit.WithTraceID(ctx, "trc_7f3k")

	e := &Entry{
		Action:     "start_session",
		Parameters: `{"name":"coral reef survey"}`,
	}
	if err := l.Log(ctx, e); err != nil {
		t.Fatal(err)
	}
	if e.EntryID == "" || e.Timestamp == 0 {
		t.Fatalf("defaults not filled: id=%q ts=%d", e.EntryID, e.Timestamp)
	}

	var userID, transport, traceID, status, params string
	err := db.QueryRow(
		"SELECT user_id, transport, trace_id, status, parameters FROM audit_log WHERE entry_id = ?",
		e.EntryID).Scan(&userID, &transport, &traceID, &status, &params)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "usr_ada" || transport != "mcp" || traceID != "trc_7f3k" {
		t.Fatalf("context row: user=%q transport=%q trace=%q", userID, transport, traceID)
	}
	if status != "success" {
		t.Fatalf("status: got %q", status)
	}

	var decoded struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(params), &decoded); err != nil || decoded.Name != "coral reef survey" {
		t.Fatalf("parameters column: %q (%v)", params, err)
	}
}

func TestFillDefaults_Status(t *testing.T) {
	l, _ := newAuditLog(t)
	defer l.Close()

	cases := []struct {
		name  string
		entry Entry
		want  string
	}{
		{"clean entry", Entry{Action: "capture_text"}, "success"},
		{"entry with error", Entry{Action: "save_to_database", Error: "remote unreachable"}, "error"},
		{"preset status wins", Entry{Action: "end_session", Status: "success", Error: "late warning"}, "success"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := tc.entry
			if err := l.Log(context.Background(), &e); err != nil {
				t.Fatal(err)
			}
			if e.Status != tc.want {
				t.Fatalf("status: got %q, want %q", e.Status, tc.want)
			}
		})
	}
}

func TestLogAsync_CloseDrainsBuffer(t *testing.T) {
	l, db := newAuditLog(t)

	actions := []string{"login", "start_session", "capture_url", "pause_session"}
	for _, a := range actions {
		l.LogAsync(&Entry{Action: a, UserID: "usr_ada"})
	}
	l.Close()

	for _, a := range actions {
		if n := countEntries(t, db, a); n != 1 {
			t.Fatalf("action %q: got %d rows, want 1", a, n)
		}
	}

	// Entry ids are generated per entry, never shared.
	var distinct int
	db.QueryRow("SELECT COUNT(DISTINCT entry_id) FROM audit_log").Scan(&distinct)
	if distinct != len(actions) {
		t.Fatalf("distinct ids: got %d, want %d", distinct, len(actions))
	}
}

func TestWithIDGenerator(t *testing.T) {
	db := dbopen.OpenMemory(t)
	seq := 0
	l := NewSQLiteLogger(db, WithIDGenerator(func() string {
		seq++
		return "evt_" + string(rune('0'+seq))
	}))
	defer l.Close()
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}

	first := &Entry{Action: "get_state"}
	second := &Entry{Action: "get_state"}
	l.Log(context.Background(), first)
	l.Log(context.Background(), second)

	if first.EntryID != "evt_1" || second.EntryID != "evt_2" {
		t.Fatalf("generated ids: %q, %q", first.EntryID, second.EntryID)
	}
}

func TestMiddleware_AuditsDispatchedCommand(t *testing.T) {
	l, db := newAuditLog(t)

	type captureReq struct {
		Text string `json:"text"`
		URL  string `json:"url"`
	}
	called := false
	endpoint := Middleware(l, "capture_text")(func(ctx context.Context, req any) (any, error) {
		called = true
		return map[string]bool{"ok": true}, nil
	})

	ctx := kit.WithUserID(context.Background(), "usr_ada")
	ctx = kit.WithTransport(ctx, "http")
	if _, err := endpoint(ctx, &captureReq{Text: "spawning season notes", URL: "https://reef.example/paper"}); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("middleware swallowed the call")
	}
	l.Close()

	var userID, status, params string
	err := db.QueryRow(
		"SELECT user_id, status, parameters FROM audit_log WHERE action = 'capture_text'").
		Scan(&userID, &status, &params)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "usr_ada" || status != "success" {
		t.Fatalf("row: user=%q status=%q", userID, status)
	}
	var decoded captureReq
	if err := json.Unmarshal([]byte(params), &decoded); err != nil || decoded.URL != "https://reef.example/paper" {
		t.Fatalf("recorded parameters: %q (%v)", params, err)
	}
}

func TestMiddleware_RecordsFailureAndPassesErrorThrough(t *testing.T) {
	l, db := newAuditLog(t)

	errRemote := errors.New("research database rejected record")
	endpoint := Middleware(l, "save_to_database")(func(ctx context.Context, req any) (any, error) {
		return nil, errRemote
	})

	if _, err := endpoint(context.Background(), nil); !errors.Is(err, errRemote) {
		t.Fatalf("error: got %v, want passthrough", err)
	}
	l.Close()

	var status, msg string
	err := db.QueryRow(
		"SELECT status, error_message FROM audit_log WHERE action = 'save_to_database'").
		Scan(&status, &msg)
	if err != nil {
		t.Fatal(err)
	}
	if status != "error" || msg != "research database rejected record" {
		t.Fatalf("failure row: status=%q message=%q", status, msg)
	}
}

func TestWriteLoop_FlushesLargeBursts(t *testing.T) {
	l, db := newAuditLog(t)

	// Well past the batch threshold, across several flush cycles.
	const burst = 80
	for i := 0; i < burst; i++ {
		l.LogAsync(&Entry{Action: "visit", Parameters: `{"url":"https://reef.example"}`})
	}
	time.Sleep(2 * flushInterval)
	l.Close()

	if n := countEntries(t, db, "visit"); n != burst {
		t.Fatalf("burst rows: got %d, want %d", n, burst)
	}
}
