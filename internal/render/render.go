// Package render draws inbound frames onto the view and watches the stream
// for staleness.
//
// Two frame formats arrive on the stream channel: raster frames (base64
// JPEG, the screencast path) drawn on the canvas, and snapshots (base64
// image with a MIME type, the screenshot path) shown on the fallback
// surface. Whichever arrived last decides which surface is visible and
// what the mode indicator says.
package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/image/webp"

	"streamviewer/internal/clock"
	"streamviewer/internal/logger"
	"streamviewer/internal/metrics"
	"streamviewer/internal/types"
	"streamviewer/internal/view"
)

// DefaultStallAfter is the frame age past which a connected stream is
// flagged as stalled.
const DefaultStallAfter = 3 * time.Second

const fpsWindow = time.Second

// Renderer owns the stream-facing part of the view. It must only be used
// from the session loop.
type Renderer struct {
	view       *view.View
	clk        clock.Clock
	stallAfter time.Duration
	log        *zap.Logger
	metrics    *metrics.Metrics

	streamUp    bool
	stalled     bool
	lastFrame   time.Time
	windowStart time.Time
	frames      int
	fps         float64
}

func New(v *view.View, clk clock.Clock, stallAfter time.Duration, log *zap.Logger, m *metrics.Metrics) *Renderer {
	if clk == nil {
		clk = clock.Real()
	}
	if stallAfter <= 0 {
		stallAfter = DefaultStallAfter
	}
	return &Renderer{
		view:        v,
		clk:         clk,
		stallAfter:  stallAfter,
		log:         logger.OrNop(log),
		metrics:     metrics.Or(m),
		windowStart: clk.Now(),
	}
}

// HandleFrame draws a raster frame on the canvas.
func (r *Renderer) HandleFrame(f types.Frame) {
	if f.DataBase64 == "" {
		return
	}
	v := r.view
	v.Seq.Set(strconv.Itoa(f.Seq))
	v.Latency.Set(fmt.Sprintf("%.1f ms", f.LatencyMS))
	v.Mode.Set("mode: "+types.ModeCDP, view.Muted)
	defer r.arrived()

	img, err := decode(f.DataBase64, "image/jpeg")
	if err != nil {
		r.fail(err)
		return
	}
	if v.Canvas.Draw(img, "image/jpeg") {
		b := img.Bounds()
		r.log.Debug("canvas resized", zap.Int("width", b.Dx()), zap.Int("height", b.Dy()))
	}
	v.ShowCanvas()
	r.metrics.FramesRendered.WithLabelValues(types.ModeCDP).Inc()
}

// HandleBrowserUpdate shows a snapshot on the fallback surface.
func (r *Renderer) HandleBrowserUpdate(u types.BrowserUpdate) {
	if u.ImageBase64 == "" {
		return
	}
	mime := u.MimeType
	if mime == "" {
		mime = "image/png"
	}
	v := r.view
	v.Mode.Set("mode: "+types.ModeScreenshot, view.Muted)
	defer r.arrived()

	img, err := decode(u.ImageBase64, mime)
	if err != nil {
		r.fail(err)
		return
	}
	v.Fallback.Draw(img, mime)
	v.ShowFallback()
	r.metrics.FramesRendered.WithLabelValues(types.ModeScreenshot).Inc()
}

// StreamConnecting shows a connect in progress. A live stream keeps its
// pill until the channel actually drops.
func (r *Renderer) StreamConnecting() {
	if r.streamUp {
		return
	}
	r.view.Conn.Set("connecting…", view.Warn)
}

// StreamUp reports whether the stream channel is connected.
func (r *Renderer) StreamUp() bool { return r.streamUp }

func (r *Renderer) StreamConnected() {
	r.streamUp, r.stalled = true, false
	r.view.Conn.Set("stream connected", view.Good)
}

func (r *Renderer) StreamDisconnected(reason string) {
	r.streamUp, r.stalled = false, false
	r.view.Conn.Set(fmt.Sprintf("disconnected (%s)", reason), view.Bad)
}

// StreamConnectError reports one failed stream handshake.
func (r *Renderer) StreamConnectError(msg string) {
	r.view.Conn.Set("stream auth error", view.Bad)
	r.view.Toasts.Toast("Stream connect error: "+msg, view.Bad)
}

// Tick refreshes the fps readout once per window and flags a connected
// stream whose last frame is older than the stall threshold. It runs on
// every animation tick.
func (r *Renderer) Tick() {
	now := r.clk.Now()
	if elapsed := now.Sub(r.windowStart); elapsed >= fpsWindow {
		r.fps = float64(r.frames) / elapsed.Seconds()
		r.view.FPS.Set(strconv.FormatFloat(r.fps, 'f', 1, 64))
		r.windowStart, r.frames = now, 0
	}

	if !r.lastFrame.IsZero() && r.streamUp && now.Sub(r.lastFrame) > r.stallAfter {
		if !r.stalled {
			r.log.Info("stream stalled", zap.Duration("age", now.Sub(r.lastFrame)))
		}
		r.stalled = true
		r.view.Conn.Set("connected (stalled)", view.Warn)
	}
}

// FPS is the rate measured over the last complete window.
func (r *Renderer) FPS() float64 { return r.fps }

func (r *Renderer) Stalled() bool { return r.stalled }

// LastFrame is when the most recent frame arrived, zero before the first.
func (r *Renderer) LastFrame() time.Time { return r.lastFrame }

func (r *Renderer) arrived() {
	r.lastFrame = r.clk.Now()
	r.frames++
	if r.stalled && r.streamUp {
		r.stalled = false
		r.view.Conn.Set("stream connected", view.Good)
	}
}

func (r *Renderer) fail(err error) {
	r.metrics.RenderErrors.Inc()
	r.log.Debug("render failed", zap.Error(err))
	r.view.Toasts.Toast("Render error: "+err.Error(), view.Bad)
}

func decode(b64, mime string) (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errors.Wrap(err, "base64")
	}
	rd := bytes.NewReader(data)
	var img image.Image
	switch mime {
	case "image/jpeg", "image/jpg":
		img, err = jpeg.Decode(rd)
	case "image/png":
		img, err = png.Decode(rd)
	case "image/webp":
		img, err = webp.Decode(rd)
	default:
		return nil, errors.Errorf("unsupported image type %q", mime)
	}
	if err != nil {
		return nil, errors.Wrap(err, mime)
	}
	return img, nil
}
