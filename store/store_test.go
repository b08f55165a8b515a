package store

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/fieldtrail/dbopen"
	"github.com/hazyhaar/fieldtrail/model"
	"github.com/hazyhaar/fieldtrail/trail"
)

func newStateStore(t *testing.T) *StateStore {
	t.Helper()
	s := NewStateStore(dbopen.OpenMemory(t))
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStateStore_LoadEmpty(t *testing.T) {
	s := newStateStore(t)
	st, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st != nil {
		t.Fatalf("got %+v, want nil for empty store", st)
	}
}

func TestStateStore_Roundtrip(t *testing.T) {
	s := newStateStore(t)
	ctx := context.Background()

	in := &trail.State{
		User:    &model.User{Username: "ada", Role: "researcher"},
		Session: &model.Session{Name: "fieldwork", Active: true},
		Trail: []model.TrailEntry{
			{ID: "trl_1", Kind: model.KindPage, URL: "https://a.example", Title: "A", Timestamp: time.Now().UTC()},
		},
		Items: []model.CaptureItem{
			{ID: "itm_1", Type: model.CaptureText, Text: "note", Timestamp: time.Now().UTC()},
		},
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatal(err)
	}

	out, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Session.Name != "fieldwork" || !out.Session.Active {
		t.Fatalf("session: %+v", out.Session)
	}
	if len(out.Trail) != 1 || out.Trail[0].URL != "https://a.example" {
		t.Fatalf("trail: %+v", out.Trail)
	}
	if len(out.Items) != 1 || out.Items[0].Text != "note" {
		t.Fatalf("items: %+v", out.Items)
	}

	// Save again overwrites rather than appending.
	in.Session.Name = "renamed"
	if err := s.Save(ctx, in); err != nil {
		t.Fatal(err)
	}
	out, _ = s.Load(ctx)
	if out.Session.Name != "renamed" {
		t.Fatalf("overwrite failed: %q", out.Session.Name)
	}
}

type countingSink struct {
	failures int
	saved    []*model.SessionRecord
}

func (s *countingSink) SaveSessionRecord(_ context.Context, rec *model.SessionRecord) (int64, error) {
	if s.failures > 0 {
		s.failures--
		return 0, errors.New("remote down")
	}
	s.saved = append(s.saved, rec)
	return int64(len(s.saved)), nil
}

func newPending(t *testing.T, opts PendingOptions) *PendingQueue {
	t.Helper()
	q := NewPendingQueue(dbopen.OpenMemory(t), opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return q
}

func TestPendingQueue_EnqueueAndDrain(t *testing.T) {
	q := newPending(t, PendingOptions{Visibility: 10 * time.Second})
	ctx := context.Background()

	rec := &model.SessionRecord{Name: "lost session", EndedAt: time.Now()}
	if err := q.Enqueue(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("len: got %d, want 1", n)
	}

	sink := &countingSink{}
	q.poll(ctx, sink, q.opts.Logger)

	if len(sink.saved) != 1 || sink.saved[0].Name != "lost session" {
		t.Fatalf("saved: %+v", sink.saved)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("len after ack: got %d, want 0", n)
	}
}

func TestPendingQueue_FailureStaysInvisible(t *testing.T) {
	q := newPending(t, PendingOptions{Visibility: time.Hour})
	ctx := context.Background()

	q.Enqueue(ctx, &model.SessionRecord{Name: "s"})

	sink := &countingSink{failures: 1}
	q.poll(ctx, sink, q.opts.Logger)

	// Still queued, but invisible: a second poll within the window sees nothing.
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("len: got %d, want 1", n)
	}
	q.poll(ctx, sink, q.opts.Logger)
	if len(sink.saved) != 0 {
		t.Fatal("invisible record was redelivered early")
	}
}

func TestPendingQueue_RetryAfterVisibility(t *testing.T) {
	q := newPending(t, PendingOptions{Visibility: 30 * time.Millisecond})
	ctx := context.Background()

	q.Enqueue(ctx, &model.SessionRecord{Name: "s"})

	sink := &countingSink{failures: 1}
	q.poll(ctx, sink, q.opts.Logger)
	time.Sleep(50 * time.Millisecond)
	q.poll(ctx, sink, q.opts.Logger)

	if len(sink.saved) != 1 {
		t.Fatalf("saved after retry: got %d, want 1", len(sink.saved))
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("len after success: got %d, want 0", n)
	}
}

func TestPendingQueue_MaxAttemptsDiscards(t *testing.T) {
	q := newPending(t, PendingOptions{Visibility: time.Millisecond, MaxAttempts: 2})
	ctx := context.Background()

	q.Enqueue(ctx, &model.SessionRecord{Name: "s"})

	sink := &countingSink{failures: 10}
	for i := 0; i < 4; i++ {
		q.poll(ctx, sink, q.opts.Logger)
		time.Sleep(5 * time.Millisecond)
	}

	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("record not discarded after max attempts: len %d", n)
	}
	if len(sink.saved) != 0 {
		t.Fatal("discarded record was saved")
	}
}
