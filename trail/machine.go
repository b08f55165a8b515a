// Package trail owns the research session lifecycle: the session state
// machine, the navigation trail it records, the captured-item queue, and the
// per-viewport navigation memory used for de-duplication.
//
// The Machine is the single owner of all mutable session state. Navigation
// events and explicit commands can arrive concurrently from different
// goroutines; every mutating operation serializes through one mutex, so two
// in-flight handlers can never interleave a read-modify-write and lose an
// update.
package trail

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/hazyhaar/fieldtrail/idgen"
	"github.com/hazyhaar/fieldtrail/model"
)

// State is the persistable snapshot of everything the Machine owns, minus
// the per-viewport navigation memory (which is deliberately volatile).
type State struct {
	User    *model.User         `json:"user,omitempty"`
	Session *model.Session      `json:"session,omitempty"`
	Trail   []model.TrailEntry  `json:"trail"`
	Items   []model.CaptureItem `json:"items"`
}

// StateStore persists Machine state between runs. Implementations are
// eventually-consistent key-value stores; Save errors are logged, never
// propagated.
type StateStore interface {
	Save(ctx context.Context, s *State) error
	Load(ctx context.Context) (*State, error)
}

// SessionSink receives the assembled record of an ended session and returns
// the remote record id. A failing sink never blocks local cleanup.
type SessionSink interface {
	SaveSessionRecord(ctx context.Context, rec *model.SessionRecord) (int64, error)
}

// RetryEnqueuer accepts session records whose remote save failed, for
// durable background retry.
type RetryEnqueuer interface {
	Enqueue(ctx context.Context, rec *model.SessionRecord) error
}

// SaveResult reports a successful remote session save.
type SaveResult struct {
	RecordID int64 `json:"record_id"`
}

// Options configures a Machine.
type Options struct {
	// Store persists state across restarts. Nil disables persistence.
	Store StateStore
	// Remote receives ended-session records. Nil disables the remote save.
	Remote SessionSink
	// Retry receives session records whose remote save failed. Nil disables
	// the durable fallback.
	Retry RetryEnqueuer
	// EntryID generates trail entry ids. Default: "trl_"-prefixed NanoID(8).
	EntryID idgen.Generator
	// ItemID generates capture item ids. Default: "itm_"-prefixed NanoID(8).
	ItemID idgen.Generator
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.EntryID == nil {
		o.EntryID = idgen.Prefixed("trl_", idgen.NanoID(8))
	}
	if o.ItemID == nil {
		o.ItemID = idgen.Prefixed("itm_", idgen.NanoID(8))
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Machine is the session state machine. All access to the session, trail,
// captured items, and per-viewport navigation memory goes through its
// methods; nothing else may touch that state.
type Machine struct {
	opts Options

	mu      sync.Mutex
	state   State
	lastURL map[string]string // viewport id -> last seen URL
}

// NewMachine creates a Machine in the NoSession state. Call Hydrate to load
// persisted state.
func NewMachine(opts Options) *Machine {
	opts.defaults()
	m := &Machine{
		opts:    opts,
		lastURL: make(map[string]string),
	}
	m.state.Trail = []model.TrailEntry{}
	m.state.Items = []model.CaptureItem{}
	return m
}

// Hydrate loads persisted state from the store. The per-viewport navigation
// memory always starts empty: after a restart the next page visit is freshly
// recorded.
func (m *Machine) Hydrate(ctx context.Context) error {
	if m.opts.Store == nil {
		return nil
	}
	s, err := m.opts.Store.Load(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = *s
	if m.state.Trail == nil {
		m.state.Trail = []model.TrailEntry{}
	}
	if m.state.Items == nil {
		m.state.Items = []model.CaptureItem{}
	}
	return nil
}

// persist writes the current state to the store. Callers hold the lock.
// Storage failures are logged and swallowed: the in-memory state remains the
// source of truth.
func (m *Machine) persist(ctx context.Context) {
	if m.opts.Store == nil {
		return
	}
	snap := m.snapshotLocked()
	if err := m.opts.Store.Save(ctx, &snap); err != nil {
		m.opts.Logger.Warn("trail: persist failed", "error", err)
	}
}

func (m *Machine) snapshotLocked() State {
	s := State{
		Trail: make([]model.TrailEntry, len(m.state.Trail)),
		Items: make([]model.CaptureItem, len(m.state.Items)),
	}
	copy(s.Trail, m.state.Trail)
	copy(s.Items, m.state.Items)
	if m.state.User != nil {
		u := *m.state.User
		s.User = &u
	}
	if m.state.Session != nil {
		sess := *m.state.Session
		s.Session = &sess
	}
	return s
}

// Snapshot returns a copy of the current state for read-only use.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// CurrentUser returns the logged-in user, or nil.
func (m *Machine) CurrentUser() *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.User == nil {
		return nil
	}
	u := *m.state.User
	return &u
}

// SetUser records a successful login.
func (m *Machine) SetUser(ctx context.Context, u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.User = &u
	m.persist(ctx)
}

// Start begins a new session, replacing any existing one. The trail, the
// captured items, and the navigation memory are cleared. When name is empty
// a name is generated from the current time. Returns the session name.
func (m *Machine) Start(ctx context.Context, name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		name = time.Now().Format("Session 2006-01-02 15:04")
	}
	m.state.Session = &model.Session{Name: name, Active: true}
	m.clearActivityLocked()
	m.persist(ctx)
	m.opts.Logger.Info("trail: session started", "name", name)
	return name
}

// Pause moves an active session to Paused and appends a pause marker.
// Returns a StateError when no session exists. Pausing an already paused
// session is a no-op.
func (m *Machine) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Session == nil {
		return &StateError{Op: "pause", Reason: "no active session"}
	}
	if m.state.Session.Paused {
		return nil
	}
	m.state.Session.Paused = true
	m.appendMarkerLocked(model.KindPause)
	m.persist(ctx)
	m.opts.Logger.Info("trail: session paused", "name", m.state.Session.Name)
	return nil
}

// Resume moves a paused session back to Active, appends a resume marker, and
// resets the navigation memory so the next page visited is freshly recorded
// rather than skipped as a duplicate. No session, or an already active one,
// is a no-op.
func (m *Machine) Resume(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Session == nil || !m.state.Session.Paused {
		return
	}
	m.state.Session.Paused = false
	m.appendMarkerLocked(model.KindResume)
	m.lastURL = make(map[string]string)
	m.persist(ctx)
	m.opts.Logger.Info("trail: session resumed", "name", m.state.Session.Name)
}

// Rename updates the session name in either Active or Paused.
func (m *Machine) Rename(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Session == nil {
		return &StateError{Op: "rename", Reason: "no active session"}
	}
	m.state.Session.Name = name
	m.persist(ctx)
	return nil
}

// End closes the session: it assembles the session record, hands it to the
// remote sink, and clears all local state. A remote failure is logged and
// swallowed, and when a retry queue is configured the record is enqueued for
// durable background retry; local state is cleared regardless. Requires a
// logged-in user.
func (m *Machine) End(ctx context.Context) (*SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.User == nil {
		return nil, &AuthError{Reason: "ending a session requires login"}
	}
	if m.state.Session == nil {
		return nil, &StateError{Op: "end", Reason: "no active session"}
	}

	now := time.Now()
	rec := &model.SessionRecord{
		Name:      m.state.Session.Name,
		StartedAt: now,
		EndedAt:   now,
		Trail:     make([]model.TrailEntry, len(m.state.Trail)),
		Items:     make([]model.CaptureItem, len(m.state.Items)),
	}
	if len(m.state.Trail) > 0 {
		rec.StartedAt = m.state.Trail[0].Timestamp
	}
	copy(rec.Trail, m.state.Trail)
	copy(rec.Items, m.state.Items)

	var result *SaveResult
	if m.opts.Remote != nil {
		id, err := m.opts.Remote.SaveSessionRecord(ctx, rec)
		if err != nil {
			// Local truth wins over remote durability: the session is
			// cleared below even though the save failed.
			m.opts.Logger.Warn("trail: remote session save failed",
				"session", rec.Name, "entries", len(rec.Trail), "error", err)
			if m.opts.Retry != nil {
				if qErr := m.opts.Retry.Enqueue(ctx, rec); qErr != nil {
					m.opts.Logger.Error("trail: retry enqueue failed", "error", qErr)
				}
			}
		} else {
			result = &SaveResult{RecordID: id}
		}
	}

	m.state.Session = nil
	m.clearActivityLocked()
	m.persist(ctx)
	m.opts.Logger.Info("trail: session ended", "name", rec.Name, "saved", result != nil)
	return result, nil
}

// Logout clears the user and, from any state, the session, trail, captured
// items, and navigation memory.
func (m *Machine) Logout(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.User = nil
	m.state.Session = nil
	m.clearActivityLocked()
	m.persist(ctx)
}

// ClearTrail empties the trail and resets the navigation memory. Captured
// items are untouched.
func (m *Machine) ClearTrail(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Trail = []model.TrailEntry{}
	m.lastURL = make(map[string]string)
	m.persist(ctx)
}

// RecordVisit handles a page-load-completed event. It rejects non-web URLs
// and events outside an active, unpaused session; de-duplicates back-to-back
// visits to the same URL; and otherwise appends a Page entry linked to the
// viewport's previous URL. Returns whether an entry was appended.
func (m *Machine) RecordVisit(ctx context.Context, v model.PageVisit) bool {
	if !isWebURL(v.URL) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Session == nil || m.state.Session.Paused {
		return false
	}

	from := m.lastURL[v.ViewportID]
	m.lastURL[v.ViewportID] = v.URL

	// Back-to-back dedup compares against the final entry only when it is
	// itself a page entry. A pause/resume marker breaks adjacency, so the
	// first load after a resume is recorded even with an unchanged URL.
	if n := len(m.state.Trail); n > 0 {
		if last := m.state.Trail[n-1]; last.Kind == model.KindPage && last.URL == v.URL {
			return false
		}
	}

	title := v.Title
	if title == "" {
		title = v.URL
	}
	m.state.Trail = append(m.state.Trail, model.TrailEntry{
		ID:        m.opts.EntryID(),
		Kind:      model.KindPage,
		URL:       v.URL,
		Title:     title,
		IconRef:   v.IconRef,
		Timestamp: time.Now(),
		FromURL:   from,
	})
	m.persist(ctx)
	return true
}

// AddItem assigns an id and timestamp to the item, appends it to the
// captured-item queue, and returns the stored copy.
func (m *Machine) AddItem(ctx context.Context, item model.CaptureItem) model.CaptureItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	item.ID = m.opts.ItemID()
	item.Timestamp = time.Now()
	m.state.Items = append(m.state.Items, item)
	m.persist(ctx)
	return item
}

// Item returns the captured item with the given id.
func (m *Machine) Item(id string) (model.CaptureItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.state.Items {
		if it.ID == id {
			return it, true
		}
	}
	return model.CaptureItem{}, false
}

// DeleteItem removes exactly the item with the given id, leaving all others
// untouched.
func (m *Machine) DeleteItem(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.state.Items[:0]
	for _, it := range m.state.Items {
		if it.ID != id {
			items = append(items, it)
		}
	}
	m.state.Items = items
	m.persist(ctx)
}

// MarkSaved flips the item's saved flag and records the remote record id.
// Returns a NotFoundError when the id is unknown (e.g. already deleted).
func (m *Machine) MarkSaved(ctx context.Context, id string, recordID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.state.Items {
		if m.state.Items[i].ID == id {
			m.state.Items[i].Saved = true
			m.state.Items[i].SavedRecordID = recordID
			m.persist(ctx)
			return nil
		}
	}
	return &NotFoundError{Kind: "capture item", ID: id}
}

func (m *Machine) appendMarkerLocked(kind model.EntryKind) {
	m.state.Trail = append(m.state.Trail, model.TrailEntry{
		ID:        m.opts.EntryID(),
		Kind:      kind,
		Timestamp: time.Now(),
	})
}

func (m *Machine) clearActivityLocked() {
	m.state.Trail = []model.TrailEntry{}
	m.state.Items = []model.CaptureItem{}
	m.lastURL = make(map[string]string)
}

// isWebURL accepts only http(s) URLs; internal browser schemes (chrome://,
// about:, devtools://) never enter the trail.
func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
