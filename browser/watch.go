package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/fieldtrail/model"
)

// VisitRecorder receives page-load-completed events. The session state
// machine implements it.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, v model.PageVisit) bool
}

// Watcher tracks every viewport of the browser and reports each completed
// page load to the recorder. One goroutine per tracked page listens for load
// events; the reconcile loop picks up tabs the researcher opens or closes.
type Watcher struct {
	mgr    *Manager
	rec    VisitRecorder
	logger *slog.Logger

	tracked map[proto.TargetTargetID]context.CancelFunc
}

// NewWatcher creates a Watcher. Call Run to start tracking.
func NewWatcher(mgr *Manager, rec VisitRecorder, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		mgr:     mgr,
		rec:     rec,
		logger:  logger,
		tracked: make(map[proto.TargetTargetID]context.CancelFunc),
	}
}

// Run reconciles the tracked page set every second until ctx is cancelled.
// It blocks; run it in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, cancel := range w.tracked {
				cancel()
			}
			return
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *Watcher) reconcile(ctx context.Context) {
	b := w.mgr.Browser()
	if b == nil {
		return
	}
	pages, err := b.Pages()
	if err != nil {
		w.logger.Debug("browser: list pages failed", "error", err)
		return
	}

	live := make(map[proto.TargetTargetID]bool, len(pages))
	for _, p := range pages {
		id := p.TargetID
		live[id] = true
		if _, ok := w.tracked[id]; ok {
			continue
		}
		pageCtx, cancel := context.WithCancel(ctx)
		w.tracked[id] = cancel
		go w.watchPage(pageCtx, p, string(id))
	}

	for id, cancel := range w.tracked {
		if !live[id] {
			cancel()
			delete(w.tracked, id)
		}
	}
}

// watchPage reports every load-event-fired on one page. The first load may
// already have happened before tracking began; report the current state once.
func (w *Watcher) watchPage(ctx context.Context, p *rod.Page, viewportID string) {
	w.report(ctx, p, viewportID)

	wait := p.Context(ctx).EachEvent(func(_ *proto.PageLoadEventFired) {
		w.report(ctx, p, viewportID)
	})
	wait()
}

func (w *Watcher) report(ctx context.Context, p *rod.Page, viewportID string) {
	info, err := p.Context(ctx).Info()
	if err != nil {
		return
	}
	visit := model.PageVisit{
		ViewportID: viewportID,
		URL:        info.URL,
		Title:      info.Title,
		IconRef:    faviconOf(ctx, p),
	}
	if w.rec.RecordVisit(ctx, visit) {
		w.logger.Debug("browser: visit recorded", "viewport", viewportID, "url", info.URL)
	}
}

// faviconOf is best effort; an empty ref is fine.
func faviconOf(ctx context.Context, p *rod.Page) string {
	res, err := p.Context(ctx).Eval(`() => {
		const l = document.querySelector('link[rel~="icon"]');
		return l ? l.href : "";
	}`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}
