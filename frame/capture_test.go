package frame

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"
)

// fakeSource is a scripted VideoSource. Seeks to instants listed in stall
// block until the seek context expires; rendering returns a solid image whose
// gray level is taken from levels by kept-order.
type fakeSource struct {
	position  float64
	paused    bool
	stall     map[float64]bool
	renderErr map[float64]bool
	level     func(secs float64) uint8

	seeks      []float64
	pauseCalls int
	playCalls  int
}

func (f *fakeSource) CurrentTime(ctx context.Context) (float64, error) { return f.position, nil }
func (f *fakeSource) Paused(ctx context.Context) (bool, error)         { return f.paused, nil }

func (f *fakeSource) Seek(ctx context.Context, secs float64) error {
	if f.stall[secs] {
		<-ctx.Done()
		return ctx.Err()
	}
	f.position = secs
	f.seeks = append(f.seeks, secs)
	return nil
}

func (f *fakeSource) Pause(ctx context.Context) error { f.pauseCalls++; f.paused = true; return nil }
func (f *fakeSource) Play(ctx context.Context) error  { f.playCalls++; f.paused = false; return nil }

func (f *fakeSource) RenderFrame(ctx context.Context) (image.Image, error) {
	if f.renderErr[f.position] {
		return nil, errors.New("render failed")
	}
	return solidImage(f.level(f.position)), nil
}

func newCapturer() *Capturer {
	return NewCapturer(Options{SeekTimeout: 50 * time.Millisecond})
}

func TestCapture_NilSource(t *testing.T) {
	frames := newCapturer().Capture(context.Background(), nil, 0, 10)
	if frames == nil || len(frames) != 0 {
		t.Fatalf("nil source: got %v, want empty list", frames)
	}
}

func TestCapture_SeekTimeoutsSkipInstants(t *testing.T) {
	// 5s range yields 6 candidate instants: 0..4 and 5. Two of them stall.
	src := &fakeSource{
		position: 42,
		paused:   false,
		stall:    map[float64]bool{1: true, 3: true},
		level: func(secs float64) uint8 {
			// Strongly distinct levels so nothing is deduplicated.
			return uint8(int(secs*50) % 250)
		},
	}

	frames := newCapturer().Capture(context.Background(), src, 0, 5)

	if len(frames) > 4 {
		t.Fatalf("got %d frames, want <= 4", len(frames))
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Time <= frames[i-1].Time {
			t.Fatalf("frames not time-ascending: %v then %v", frames[i-1].Time, frames[i].Time)
		}
	}
	for _, fr := range frames {
		if fr.Time == 1 || fr.Time == 3 {
			t.Fatalf("timed-out instant %v produced a frame", fr.Time)
		}
		if len(fr.Hash) != 16 {
			t.Fatalf("frame at %v: hash length %d", fr.Time, len(fr.Hash))
		}
		if len(fr.Image) == 0 {
			t.Fatalf("frame at %v: empty image", fr.Time)
		}
	}
}

func TestCapture_RestoresPositionAndPlayback(t *testing.T) {
	src := &fakeSource{
		position: 42,
		paused:   false,
		level:    func(secs float64) uint8 { return uint8(int(secs*40) % 250) },
	}

	newCapturer().Capture(context.Background(), src, 0, 3)

	if len(src.seeks) == 0 || src.seeks[len(src.seeks)-1] != 42 {
		t.Fatalf("final seek %v, want restore to 42", src.seeks)
	}
	if src.pauseCalls == 0 {
		t.Fatal("playback was never paused during capture")
	}
	if src.playCalls != 1 {
		t.Fatalf("play calls: got %d, want 1 (video was playing)", src.playCalls)
	}
}

func TestCapture_DoesNotResumeWhenOriginallyPaused(t *testing.T) {
	src := &fakeSource{
		position: 7,
		paused:   true,
		level:    func(secs float64) uint8 { return uint8(int(secs*40) % 250) },
	}

	newCapturer().Capture(context.Background(), src, 0, 2)

	if src.playCalls != 0 {
		t.Fatalf("play calls: got %d, want 0 (video was paused)", src.playCalls)
	}
}

func TestCapture_DeduplicatesStaticVideo(t *testing.T) {
	src := &fakeSource{
		level: func(secs float64) uint8 { return 128 }, // every frame identical
	}

	frames := newCapturer().Capture(context.Background(), src, 0, 10)

	if len(frames) != 1 {
		t.Fatalf("static video: got %d frames, want 1", len(frames))
	}
}

func TestCapture_RenderErrorsAreNotFatal(t *testing.T) {
	src := &fakeSource{
		renderErr: map[float64]bool{0: true, 2: true},
		level:     func(secs float64) uint8 { return uint8(int(secs*60) % 250) },
	}

	frames := newCapturer().Capture(context.Background(), src, 0, 4)

	if len(frames) == 0 {
		t.Fatal("render failures on two instants must not abort the run")
	}
	for _, fr := range frames {
		if fr.Time == 0 || fr.Time == 2 {
			t.Fatalf("failed instant %v produced a frame", fr.Time)
		}
	}
}
