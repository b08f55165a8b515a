package frame

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"log/slog"
	"time"

	"golang.org/x/image/draw"

	"github.com/hazyhaar/fieldtrail/model"
)

// Rendered frame dimensions.
const (
	frameWidth  = 320
	frameHeight = 180
)

// VideoSource is the capability surface the orchestrator needs from a video
// element: readable position, seek with completion, pause/play, and an
// off-screen render target. The browser package provides the rod-backed
// implementation; tests inject fakes.
type VideoSource interface {
	// CurrentTime returns the playback position in seconds.
	CurrentTime(ctx context.Context) (float64, error)
	// Paused reports whether playback is paused.
	Paused(ctx context.Context) (bool, error)
	// Seek moves the playback position and returns once the seek completed.
	Seek(ctx context.Context, secs float64) error
	// Pause halts playback.
	Pause(ctx context.Context) error
	// Play resumes playback.
	Play(ctx context.Context) error
	// RenderFrame renders the frame at the current position.
	RenderFrame(ctx context.Context) (image.Image, error)
}

// Options tunes the Capturer.
type Options struct {
	// SeekTimeout bounds each per-instant seek. Default: 3.5s.
	SeekTimeout time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.SeekTimeout <= 0 {
		o.SeekTimeout = 3500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Capturer drives a VideoSource through the sample instants of a time range,
// keeping only frames dissimilar to the last kept frame.
type Capturer struct {
	opts Options
}

// NewCapturer creates a Capturer.
func NewCapturer(opts Options) *Capturer {
	opts.defaults()
	return &Capturer{opts: opts}
}

// Capture seeks src to each sample instant of [startSecs, endSecs], renders
// and fingerprints the frame there, and keeps it only when it is dissimilar
// to the most recently kept frame. A nil source yields an empty list. A seek
// timeout or render failure skips that instant, never the whole run. The
// source's original position and play state are restored afterward, even
// when earlier steps failed.
func (c *Capturer) Capture(ctx context.Context, src VideoSource, startSecs, endSecs float64) []model.Frame {
	frames := []model.Frame{}
	if src == nil {
		return frames
	}
	log := c.opts.Logger

	origTime, err := src.CurrentTime(ctx)
	if err != nil {
		log.Warn("frame: read current time failed", "error", err)
	}
	wasPaused := true
	if p, err := src.Paused(ctx); err == nil {
		wasPaused = p
	} else {
		log.Warn("frame: read paused state failed", "error", err)
	}
	if err := src.Pause(ctx); err != nil {
		log.Warn("frame: pause failed", "error", err)
	}

	// Restore runs unconditionally, detached from ctx cancellation so a
	// cancelled capture still leaves the video where the user had it.
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.SeekTimeout)
		defer cancel()
		if err := src.Seek(rctx, origTime); err != nil {
			log.Warn("frame: restore position failed", "time", origTime, "error", err)
		}
		if !wasPaused {
			if err := src.Play(rctx); err != nil {
				log.Warn("frame: resume playback failed", "error", err)
			}
		}
	}()

	var lastHash []int
	for _, instant := range SampleInstants(startSecs, endSecs) {
		if ctx.Err() != nil {
			break
		}

		seekCtx, cancel := context.WithTimeout(ctx, c.opts.SeekTimeout)
		err := src.Seek(seekCtx, instant)
		cancel()
		if err != nil {
			log.Debug("frame: seek skipped", "instant", instant, "error", err)
			continue
		}

		img, err := src.RenderFrame(ctx)
		if err != nil || img == nil {
			log.Debug("frame: render skipped", "instant", instant, "error", err)
			continue
		}

		scaled := normalize(img)
		hash := Fingerprint(scaled)
		if lastHash != nil && Similar(hash, lastHash) {
			continue
		}

		data, err := encodePNG(scaled)
		if err != nil {
			log.Debug("frame: encode skipped", "instant", instant, "error", err)
			continue
		}

		frames = append(frames, model.Frame{
			Time:     instant,
			Timecode: model.FormatTimecode(instant),
			Image:    data,
			Hash:     hash,
		})
		lastHash = hash
	}

	return frames
}

// normalize scales an image to the fixed 320x180 capture size.
func normalize(img image.Image) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == frameWidth && b.Dy() == frameHeight {
		if rgba, ok := img.(*image.RGBA); ok {
			return rgba
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
