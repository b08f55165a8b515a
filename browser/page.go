package browser

import (
	"context"
	"log/slog"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/fieldtrail/pagetext"
)

// PageReader renders open viewports as markdown, so a captured URL carries
// the page content the researcher was actually looking at.
type PageReader struct {
	mgr    *Manager
	ext    *pagetext.Extractor
	logger *slog.Logger
}

// NewPageReader creates a PageReader.
func NewPageReader(mgr *Manager, ext *pagetext.Extractor, logger *slog.Logger) *PageReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageReader{mgr: mgr, ext: ext, logger: logger}
}

// PageMarkdown finds the viewport showing url and returns its content as
// markdown. ok is false when no viewport shows that url or the page can't be
// read.
func (r *PageReader) PageMarkdown(ctx context.Context, url string) (string, bool) {
	p := r.findPage(ctx, url)
	if p == nil {
		return "", false
	}
	res, err := p.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		r.logger.Debug("browser: read page html failed", "url", url, "error", err)
		return "", false
	}
	md := r.ext.Markdown(res.Value.Str(), url)
	if md == "" {
		return "", false
	}
	return md, true
}

func (r *PageReader) findPage(ctx context.Context, url string) *rod.Page {
	b := r.mgr.Browser()
	if b == nil {
		return nil
	}
	pages, err := b.Pages()
	if err != nil {
		return nil
	}
	for _, p := range pages {
		info, err := p.Context(ctx).Info()
		if err != nil {
			continue
		}
		if info.URL == url {
			return p
		}
	}
	return nil
}
