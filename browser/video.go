package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/go-rod/rod"
)

// PageVideo drives the first <video> element of a page through the DOM. It
// implements frame.VideoSource.
type PageVideo struct {
	page *rod.Page
}

// NewPageVideo wraps the page's first <video> element.
func NewPageVideo(page *rod.Page) *PageVideo {
	return &PageVideo{page: page}
}

func (v *PageVideo) CurrentTime(ctx context.Context) (float64, error) {
	res, err := v.page.Context(ctx).Eval(`() => {
		const v = document.querySelector('video');
		return v ? v.currentTime : -1;
	}`)
	if err != nil {
		return 0, fmt.Errorf("browser: read video time: %w", err)
	}
	secs := res.Value.Num()
	if secs < 0 {
		return 0, fmt.Errorf("browser: no video element")
	}
	return secs, nil
}

func (v *PageVideo) Paused(ctx context.Context) (bool, error) {
	res, err := v.page.Context(ctx).Eval(`() => {
		const v = document.querySelector('video');
		return v ? v.paused : true;
	}`)
	if err != nil {
		return false, fmt.Errorf("browser: read paused: %w", err)
	}
	return res.Value.Bool(), nil
}

// Seek sets the playback position and resolves once the element fires
// "seeked". The caller bounds the wait via ctx.
func (v *PageVideo) Seek(ctx context.Context, secs float64) error {
	_, err := v.page.Context(ctx).Evaluate(rod.Eval(`(secs) => new Promise((resolve, reject) => {
		const v = document.querySelector('video');
		if (!v) { reject(new Error('no video element')); return; }
		const done = () => { v.removeEventListener('seeked', done); resolve(true); };
		v.addEventListener('seeked', done);
		v.currentTime = secs;
	})`, secs).ByPromise())
	if err != nil {
		return fmt.Errorf("browser: seek to %.1fs: %w", secs, err)
	}
	return nil
}

func (v *PageVideo) Pause(ctx context.Context) error {
	_, err := v.page.Context(ctx).Eval(`() => {
		const v = document.querySelector('video');
		if (v) v.pause();
	}`)
	if err != nil {
		return fmt.Errorf("browser: pause video: %w", err)
	}
	return nil
}

func (v *PageVideo) Play(ctx context.Context) error {
	_, err := v.page.Context(ctx).Evaluate(rod.Eval(`() => {
		const v = document.querySelector('video');
		return v ? v.play() : Promise.resolve();
	}`).ByPromise())
	if err != nil {
		return fmt.Errorf("browser: play video: %w", err)
	}
	return nil
}

// RenderFrame draws the current video frame onto an off-screen canvas and
// returns it as a decoded image.
func (v *PageVideo) RenderFrame(ctx context.Context) (image.Image, error) {
	res, err := v.page.Context(ctx).Eval(`() => {
		const v = document.querySelector('video');
		if (!v || v.videoWidth === 0) return "";
		const c = document.createElement('canvas');
		c.width = v.videoWidth;
		c.height = v.videoHeight;
		c.getContext('2d').drawImage(v, 0, 0);
		return c.toDataURL('image/png');
	}`)
	if err != nil {
		return nil, fmt.Errorf("browser: render frame: %w", err)
	}
	return decodePNGDataURL(res.Value.Str())
}

// decodePNGDataURL turns a canvas data URL into an image.
func decodePNGDataURL(dataURL string) (image.Image, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		return nil, fmt.Errorf("browser: unexpected data url %.32q", dataURL)
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("browser: decode frame data: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("browser: decode frame png: %w", err)
	}
	return img, nil
}
