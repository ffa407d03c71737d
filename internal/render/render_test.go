package render

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamviewer/internal/clock"
	"streamviewer/internal/metrics"
	"streamviewer/internal/types"
	"streamviewer/internal/view"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	return img
}

func jpegB64(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(w, h), nil))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func pngB64(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

type fixture struct {
	clk    *clock.FakeClock
	view   *view.View
	toasts *view.ToastLog
	m      *metrics.Metrics
	r      *Renderer
}

func newFixture() *fixture {
	clk := clock.Fake(time.Unix(1000, 0))
	toasts := view.NewToastLog(clk, nil)
	v := view.New(toasts)
	m := metrics.New()
	return &fixture{clk: clk, view: v, toasts: toasts, m: m, r: New(v, clk, 0, nil, m)}
}

func TestModeSwitching(t *testing.T) {
	f := newFixture()
	v := f.view

	f.r.HandleFrame(types.Frame{Seq: 7, DataBase64: jpegB64(t, 8, 6), LatencyMS: 12.34})
	assert.True(t, v.Canvas.Visible())
	assert.False(t, v.Fallback.Visible())
	w, h := v.Canvas.Size()
	assert.Equal(t, 8, w)
	assert.Equal(t, 6, h)
	mode, _ := v.Mode.Get()
	assert.Equal(t, "mode: cdp", mode)
	assert.Equal(t, "7", v.Seq.Get())
	assert.Equal(t, "12.3 ms", v.Latency.Get())

	f.r.HandleBrowserUpdate(types.BrowserUpdate{ImageBase64: pngB64(t, 4, 4)})
	assert.False(t, v.Canvas.Visible())
	assert.True(t, v.Fallback.Visible())
	assert.Same(t, v.Fallback, v.ActiveSurface())
	_, mime := v.Fallback.Image()
	assert.Equal(t, "image/png", mime)
	mode, _ = v.Mode.Get()
	assert.Equal(t, "mode: screenshot", mode)

	f.r.HandleFrame(types.Frame{Seq: 8, DataBase64: jpegB64(t, 8, 6)})
	assert.True(t, v.Canvas.Visible())
	assert.False(t, v.Fallback.Visible())

	assert.Equal(t, 2.0, testutil.ToFloat64(f.m.FramesRendered.WithLabelValues(types.ModeCDP)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.FramesRendered.WithLabelValues(types.ModeScreenshot)))
	assert.Empty(t, f.toasts.Active())
}

func TestEmptyPayloadsIgnored(t *testing.T) {
	f := newFixture()
	f.r.HandleFrame(types.Frame{Seq: 1})
	f.r.HandleBrowserUpdate(types.BrowserUpdate{MimeType: "image/png"})

	assert.True(t, f.r.LastFrame().IsZero())
	assert.Equal(t, view.Placeholder, f.view.Seq.Get())
	mode, _ := f.view.Mode.Get()
	assert.Equal(t, "mode: "+view.Placeholder, mode)
}

func TestMalformedFrameToastsAndContinues(t *testing.T) {
	f := newFixture()
	f.r.HandleFrame(types.Frame{Seq: 1, DataBase64: "%%% not base64"})
	f.r.HandleBrowserUpdate(types.BrowserUpdate{ImageBase64: jpegB64(t, 2, 2), MimeType: "image/png"})

	toasts := f.toasts.Active()
	require.Len(t, toasts, 2)
	assert.Contains(t, toasts[0].Message, "Render error: ")
	assert.Equal(t, view.Bad, toasts[0].Variant)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.m.RenderErrors))

	f.r.HandleFrame(types.Frame{Seq: 2, DataBase64: jpegB64(t, 3, 3)})
	w, _ := f.view.Canvas.Size()
	assert.Equal(t, 3, w)
	assert.True(t, f.view.Canvas.Visible())
}

func TestStaleness(t *testing.T) {
	f := newFixture()
	f.r.StreamConnected()
	f.r.HandleFrame(types.Frame{Seq: 1, DataBase64: jpegB64(t, 2, 2)})

	f.clk.Advance(3 * time.Second)
	f.r.Tick()
	text, _ := f.view.Conn.Get()
	assert.Equal(t, "stream connected", text, "exactly at the threshold is not stale")
	assert.False(t, f.r.Stalled())

	f.clk.Advance(time.Millisecond)
	f.r.Tick()
	text, variant := f.view.Conn.Get()
	assert.Equal(t, "connected (stalled)", text)
	assert.Equal(t, view.Warn, variant)
	assert.True(t, f.r.Stalled())

	f.r.HandleFrame(types.Frame{Seq: 2, DataBase64: jpegB64(t, 2, 2)})
	text, variant = f.view.Conn.Get()
	assert.Equal(t, "stream connected", text)
	assert.Equal(t, view.Good, variant)
}

func TestNoStallWhileDisconnected(t *testing.T) {
	f := newFixture()
	f.r.StreamConnected()
	f.r.HandleFrame(types.Frame{Seq: 1, DataBase64: jpegB64(t, 2, 2)})
	f.r.StreamDisconnected("transport close")

	f.clk.Advance(10 * time.Second)
	f.r.Tick()
	text, variant := f.view.Conn.Get()
	assert.Equal(t, "disconnected (transport close)", text)
	assert.Equal(t, view.Bad, variant)
}

func TestNoStallBeforeFirstFrame(t *testing.T) {
	f := newFixture()
	f.r.StreamConnected()
	f.clk.Advance(time.Minute)
	f.r.Tick()
	text, _ := f.view.Conn.Get()
	assert.Equal(t, "stream connected", text)
}

func TestFPS(t *testing.T) {
	f := newFixture()
	frame := types.Frame{DataBase64: jpegB64(t, 2, 2)}
	for i := 0; i < 30; i++ {
		f.r.HandleFrame(frame)
	}
	f.clk.Advance(999 * time.Millisecond)
	f.r.Tick()
	assert.Equal(t, view.Placeholder, f.view.FPS.Get(), "window not complete")

	f.clk.Advance(time.Millisecond)
	f.r.Tick()
	assert.Equal(t, "30.0", f.view.FPS.Get())
	assert.InDelta(t, 30.0, f.r.FPS(), 1e-9)

	f.clk.Advance(2 * time.Second)
	f.r.Tick()
	assert.Equal(t, "0.0", f.view.FPS.Get())
}

func TestConnectError(t *testing.T) {
	f := newFixture()
	f.r.StreamConnectError("unauthorized")
	text, variant := f.view.Conn.Get()
	assert.Equal(t, "stream auth error", text)
	assert.Equal(t, view.Bad, variant)
	toasts := f.toasts.Active()
	require.Len(t, toasts, 1)
	assert.Equal(t, "Stream connect error: unauthorized", toasts[0].Message)
}

func TestDecodeRejectsUnknownMime(t *testing.T) {
	_, err := decode(pngB64(t, 1, 1), "image/bmp")
	assert.Error(t, err)
	img, err := decode(pngB64(t, 3, 1), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
}
