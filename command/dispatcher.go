package command

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hazyhaar/fieldtrail/audit"
	"github.com/hazyhaar/fieldtrail/frame"
	"github.com/hazyhaar/fieldtrail/kit"
	"github.com/hazyhaar/fieldtrail/model"
	"github.com/hazyhaar/fieldtrail/remote"
	"github.com/hazyhaar/fieldtrail/trail"
)

// CredentialVerifier checks a username/password pair.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*model.User, error)
}

// RecordCreator files a single captured item in the research database.
type RecordCreator interface {
	CreateEventRecord(ctx context.Context, rec *remote.EventRecord) (*remote.Record, error)
}

// VideoProvider locates the video element in the tracked viewport, if any.
type VideoProvider interface {
	ActiveVideo(ctx context.Context) (frame.VideoSource, bool)
}

// PageContentProvider renders the open viewport at url as markdown, so a
// captured URL carries the page content alongside the address.
type PageContentProvider interface {
	PageMarkdown(ctx context.Context, url string) (string, bool)
}

// Options configures a Dispatcher. Machine is required; the rest degrade
// gracefully when nil (login fails, saves fail, video commands report no
// video).
type Options struct {
	Machine  *trail.Machine
	Auth     CredentialVerifier
	Remote   RecordCreator
	Video    VideoProvider
	Content  PageContentProvider
	Capturer *frame.Capturer
	// Audit, when set, records every dispatched command.
	Audit  *audit.SQLiteLogger
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Capturer == nil {
		o.Capturer = frame.NewCapturer(frame.Options{Logger: o.Logger})
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type handler struct {
	decode func(json.RawMessage) (any, error)
	call   kit.Endpoint
}

// Dispatcher routes inbound commands to the state machine and capture
// pipeline. It holds no session state of its own.
type Dispatcher struct {
	opts     Options
	handlers map[Name]handler
}

// NewDispatcher builds the exhaustive command registry.
func NewDispatcher(opts Options) *Dispatcher {
	opts.defaults()
	d := &Dispatcher{opts: opts, handlers: make(map[Name]handler)}

	register(d, GetState, d.getState)
	register(d, Login, d.login)
	register(d, Logout, d.logout)
	register(d, StartSession, d.startSession)
	register(d, RenameSession, d.renameSession)
	register(d, PauseSession, d.pauseSession)
	register(d, ResumeSession, d.resumeSession)
	register(d, EndSession, d.endSession)
	register(d, CaptureText, d.captureText)
	register(d, CaptureURL, d.captureURL)
	register(d, DeleteCaptured, d.deleteCaptured)
	register(d, SaveToDatabase, d.saveToDatabase)
	register(d, ClearTrail, d.clearTrail)
	register(d, CaptureFramesRange, d.captureFramesInRange)
	register(d, GetVideoTime, d.getVideoTime)

	return d
}

// register adds a typed handler for name, wrapped in audit middleware when
// auditing is configured.
func register[T any](d *Dispatcher, name Name, fn func(context.Context, *T) (any, error)) {
	ep := kit.Endpoint(func(ctx context.Context, req any) (any, error) {
		return fn(ctx, req.(*T))
	})
	if d.opts.Audit != nil {
		ep = audit.Middleware(d.opts.Audit, string(name))(ep)
	}
	d.handlers[name] = handler{
		decode: func(raw json.RawMessage) (any, error) {
			v := new(T)
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, v); err != nil {
					return nil, &BadPayloadError{Name: name, Cause: err}
				}
			}
			return v, nil
		},
		call: ep,
	}
}

// Dispatch runs one command to completion and always returns a response;
// failures are structured, never panics or silent drops.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	h, ok := d.handlers[req.Command]
	if !ok {
		return failure(&UnknownCommandError{Name: req.Command})
	}
	in, err := h.decode(req.Payload)
	if err != nil {
		return failure(err)
	}
	out, err := h.call(ctx, in)
	if err != nil {
		return failure(err)
	}
	return success(out)
}

// Request payloads. Commands without fields still get a struct so the
// registry stays uniform.

type GetStateRequest struct{}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogoutRequest struct{}

type StartSessionRequest struct {
	Name string `json:"name,omitempty"`
}

type RenameSessionRequest struct {
	Name string `json:"name"`
}

type PauseSessionRequest struct{}

type ResumeSessionRequest struct{}

type EndSessionRequest struct{}

type CaptureTextRequest struct {
	Text          string        `json:"text"`
	URL           string        `json:"url,omitempty"`
	PageTitle     string        `json:"page_title,omitempty"`
	IconRef       string        `json:"icon_ref,omitempty"`
	TimecodeStart string        `json:"timecode_start,omitempty"`
	TimecodeEnd   string        `json:"timecode_end,omitempty"`
	Frames        []model.Frame `json:"frames,omitempty"`
}

type CaptureURLRequest struct {
	URL       string `json:"url"`
	PageTitle string `json:"page_title,omitempty"`
	IconRef   string `json:"icon_ref,omitempty"`
}

type ItemIDRequest struct {
	ID string `json:"id"`
}

type ClearTrailRequest struct{}

type FrameRangeRequest struct {
	StartSecs float64 `json:"start_secs"`
	EndSecs   float64 `json:"end_secs"`
}

type GetVideoTimeRequest struct{}

// Results.

type StateResult struct {
	User          *model.User         `json:"user,omitempty"`
	Session       *model.Session      `json:"session,omitempty"`
	Trail         []model.TrailEntry  `json:"trail"`
	CapturedItems []model.CaptureItem `json:"captured_items"`
	SessionActive bool                `json:"session_active"`
	SessionName   string              `json:"session_name,omitempty"`
	SessionPaused bool                `json:"session_paused"`
}

type StartSessionResult struct {
	Name string `json:"name"`
}

type ItemResult struct {
	Item model.CaptureItem `json:"item"`
}

type EndSessionResult struct {
	Saved *trail.SaveResult `json:"saved,omitempty"`
}

type SaveToDatabaseResult struct {
	RecordID int64          `json:"record_id"`
	Record   *remote.Record `json:"record"`
}

type FramesResult struct {
	Frames []model.Frame `json:"frames"`
}

type VideoTimeResult struct {
	Secs     *float64 `json:"secs"`
	Timecode string   `json:"timecode,omitempty"`
}

// Handlers.

func (d *Dispatcher) getState(context.Context, *GetStateRequest) (any, error) {
	s := d.opts.Machine.Snapshot()
	res := &StateResult{
		User:          s.User,
		Session:       s.Session,
		Trail:         s.Trail,
		CapturedItems: s.Items,
	}
	if s.Session != nil {
		res.SessionActive = s.Session.Active
		res.SessionName = s.Session.Name
		res.SessionPaused = s.Session.Paused
	}
	return res, nil
}

func (d *Dispatcher) login(ctx context.Context, req *LoginRequest) (any, error) {
	if d.opts.Auth == nil {
		return nil, &trail.AuthError{Reason: "no credential backend configured"}
	}
	u, err := d.opts.Auth.Verify(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	d.opts.Machine.SetUser(ctx, *u)
	return u, nil
}

func (d *Dispatcher) logout(ctx context.Context, _ *LogoutRequest) (any, error) {
	d.opts.Machine.Logout(ctx)
	return nil, nil
}

func (d *Dispatcher) startSession(ctx context.Context, req *StartSessionRequest) (any, error) {
	name := d.opts.Machine.Start(ctx, req.Name)
	return &StartSessionResult{Name: name}, nil
}

func (d *Dispatcher) renameSession(ctx context.Context, req *RenameSessionRequest) (any, error) {
	return nil, d.opts.Machine.Rename(ctx, req.Name)
}

func (d *Dispatcher) pauseSession(ctx context.Context, _ *PauseSessionRequest) (any, error) {
	return nil, d.opts.Machine.Pause(ctx)
}

func (d *Dispatcher) resumeSession(ctx context.Context, _ *ResumeSessionRequest) (any, error) {
	d.opts.Machine.Resume(ctx)
	return nil, nil
}

func (d *Dispatcher) endSession(ctx context.Context, _ *EndSessionRequest) (any, error) {
	saved, err := d.opts.Machine.End(ctx)
	if err != nil {
		return nil, err
	}
	return &EndSessionResult{Saved: saved}, nil
}

// captureText queues a text selection. When frames or timecodes are present
// the selection came from a video and the item is typed accordingly.
func (d *Dispatcher) captureText(ctx context.Context, req *CaptureTextRequest) (any, error) {
	typ := model.CaptureText
	if len(req.Frames) > 0 || req.TimecodeStart != "" {
		typ = model.CaptureVideo
	}
	item := d.opts.Machine.AddItem(ctx, model.CaptureItem{
		Type:          typ,
		Text:          req.Text,
		URL:           req.URL,
		PageTitle:     req.PageTitle,
		IconRef:       req.IconRef,
		TimecodeStart: req.TimecodeStart,
		TimecodeEnd:   req.TimecodeEnd,
		Frames:        req.Frames,
	})
	return &ItemResult{Item: item}, nil
}

func (d *Dispatcher) captureURL(ctx context.Context, req *CaptureURLRequest) (any, error) {
	item := model.CaptureItem{
		Type:      model.CaptureURL,
		URL:       req.URL,
		PageTitle: req.PageTitle,
		IconRef:   req.IconRef,
	}
	if d.opts.Content != nil {
		if md, ok := d.opts.Content.PageMarkdown(ctx, req.URL); ok {
			item.Text = md
		}
	}
	return &ItemResult{Item: d.opts.Machine.AddItem(ctx, item)}, nil
}

func (d *Dispatcher) deleteCaptured(ctx context.Context, req *ItemIDRequest) (any, error) {
	d.opts.Machine.DeleteItem(ctx, req.ID)
	return nil, nil
}

func (d *Dispatcher) saveToDatabase(ctx context.Context, req *ItemIDRequest) (any, error) {
	if d.opts.Machine.CurrentUser() == nil {
		return nil, &trail.AuthError{Reason: "saving requires login"}
	}
	item, ok := d.opts.Machine.Item(req.ID)
	if !ok {
		return nil, &trail.NotFoundError{Kind: "capture item", ID: req.ID}
	}
	if d.opts.Remote == nil {
		return nil, &remote.Error{Op: "create record", Cause: errNoRemote}
	}
	rec, err := d.opts.Remote.CreateEventRecord(ctx, eventRecordFor(item))
	if err != nil {
		return nil, err
	}
	if err := d.opts.Machine.MarkSaved(ctx, req.ID, rec.ID); err != nil {
		return nil, err
	}
	return &SaveToDatabaseResult{RecordID: rec.ID, Record: rec}, nil
}

func (d *Dispatcher) clearTrail(ctx context.Context, _ *ClearTrailRequest) (any, error) {
	d.opts.Machine.ClearTrail(ctx)
	return nil, nil
}

func (d *Dispatcher) captureFramesInRange(ctx context.Context, req *FrameRangeRequest) (any, error) {
	res := &FramesResult{Frames: []model.Frame{}}
	if d.opts.Video == nil {
		return res, nil
	}
	src, ok := d.opts.Video.ActiveVideo(ctx)
	if !ok {
		return res, nil
	}
	res.Frames = d.opts.Capturer.Capture(ctx, src, req.StartSecs, req.EndSecs)
	return res, nil
}

func (d *Dispatcher) getVideoTime(ctx context.Context, _ *GetVideoTimeRequest) (any, error) {
	res := &VideoTimeResult{}
	if d.opts.Video == nil {
		return res, nil
	}
	src, ok := d.opts.Video.ActiveVideo(ctx)
	if !ok {
		return res, nil
	}
	secs, err := src.CurrentTime(ctx)
	if err != nil {
		d.opts.Logger.Debug("command: video time read failed", "error", err)
		return res, nil
	}
	res.Secs = &secs
	res.Timecode = model.FormatTimecode(secs)
	return res, nil
}

// eventRecordFor shapes a captured item for the research database.
func eventRecordFor(item model.CaptureItem) *remote.EventRecord {
	name := item.PageTitle
	if name == "" {
		name = item.URL
	}
	if name == "" {
		name = "Captured " + string(item.Type)
	}
	text := item.Text
	if text == "" && item.Type == model.CaptureURL {
		text = item.URL
	}
	return &remote.EventRecord{
		FileName:      name,
		FileType:      string(item.Type),
		ExtractedText: text,
		SourceURL:     item.URL,
	}
}
