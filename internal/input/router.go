// Package input turns local pointer and keyboard events into control
// events for the remote.
//
// Nothing is forwarded unless the lock is held by this viewer with the
// agent paused. Clicks, keys and text go out with acknowledgments, and a
// rejection produces at most one toast per throttle window. Moves and
// wheel events are fire-and-forget, and moves are rate limited.
package input

import (
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"streamviewer/internal/clock"
	"streamviewer/internal/logger"
	"streamviewer/internal/metrics"
	"streamviewer/internal/types"
	"streamviewer/internal/view"
)

// Disposition tells the front end whether to keep its default handling of
// an event.
type Disposition int

const (
	Default Disposition = iota
	Prevented
)

// Wheel delta modes.
const (
	DeltaPixel = 0
	DeltaLine  = 1
	DeltaPage  = 2
)

// LineHeight is the pixel size of one wheel line.
const LineHeight = 16

const (
	DefaultMoveInterval        = 50 * time.Millisecond
	DefaultRejectToastInterval = 2 * time.Second
)

type PointerEvent struct {
	ClientX, ClientY float64
	// Button is 0 for the primary, 1 for the middle and 2 for the secondary
	// button.
	Button int
	// Detail is the click count reported by the platform.
	Detail    int
	Modifiers types.Modifiers
}

type WheelEvent struct {
	ClientX, ClientY float64
	DeltaX, DeltaY   float64
	DeltaMode        int
	Modifiers        types.Modifiers
}

type KeyEvent struct {
	Key       string
	Code      string
	Repeat    bool
	Modifiers types.Modifiers
}

// Gate reports whether input may be forwarded. control.Machine implements it.
type Gate interface {
	InputEnabled() bool
}

// Emitter sends an event on a channel. channel.Manager implements it.
type Emitter interface {
	Emit(name types.Channel, msg types.Outbound, ack bool) error
}

type Config struct {
	MoveInterval        time.Duration
	RejectToastInterval time.Duration
	Log                 *zap.Logger
	Metrics             *metrics.Metrics
}

// Router must only be used from the session loop.
type Router struct {
	view    *view.View
	gate    Gate
	emit    Emitter
	clk     clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics

	move   *rate.Limiter
	reject *rate.Limiter
}

func New(v *view.View, gate Gate, emit Emitter, clk clock.Clock, cfg Config) *Router {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.MoveInterval <= 0 {
		cfg.MoveInterval = DefaultMoveInterval
	}
	if cfg.RejectToastInterval <= 0 {
		cfg.RejectToastInterval = DefaultRejectToastInterval
	}
	return &Router{
		view:    v,
		gate:    gate,
		emit:    emit,
		clk:     clk,
		log:     logger.OrNop(cfg.Log),
		metrics: metrics.Or(cfg.Metrics),
		move:    rate.NewLimiter(rate.Every(cfg.MoveInterval), 1),
		reject:  rate.NewLimiter(rate.Every(cfg.RejectToastInterval), 1),
	}
}

func (r *Router) PointerDown(e PointerEvent) Disposition {
	r.view.Viewer.Focus()
	if !r.gate.InputEnabled() {
		return Default
	}
	x, y, ok := SurfaceCoords(r.view, e.ClientX, e.ClientY)
	if !ok {
		return Prevented
	}
	r.send(types.InputClick{
		X:          x,
		Y:          y,
		Button:     buttonName(e.Button),
		ClickCount: max(1, e.Detail),
		Modifiers:  e.Modifiers,
	}, true)
	return Prevented
}

// ContextMenu suppresses the local menu while input is forwarded.
func (r *Router) ContextMenu() Disposition {
	if !r.gate.InputEnabled() {
		return Default
	}
	return Prevented
}

// PointerMove never suppresses local handling.
func (r *Router) PointerMove(e PointerEvent) Disposition {
	if !r.gate.InputEnabled() {
		return Default
	}
	if !r.move.AllowN(r.clk.Now(), 1) {
		return Default
	}
	x, y, ok := SurfaceCoords(r.view, e.ClientX, e.ClientY)
	if !ok {
		return Default
	}
	r.send(types.InputMove{X: x, Y: y, Modifiers: e.Modifiers}, false)
	return Default
}

func (r *Router) Wheel(e WheelEvent) Disposition {
	r.view.Viewer.Focus()
	if !r.gate.InputEnabled() {
		return Default
	}
	x, y, ok := SurfaceCoords(r.view, e.ClientX, e.ClientY)
	if !ok {
		return Prevented
	}
	dx, dy := NormalizeWheel(e.DeltaX, e.DeltaY, e.DeltaMode, r.view.ActiveSurface().Rect().H)
	r.send(types.InputWheel{X: x, Y: y, DeltaX: dx, DeltaY: dy, Modifiers: e.Modifiers}, false)
	return Prevented
}

func (r *Router) KeyDown(e KeyEvent) Disposition {
	if !r.gate.InputEnabled() || !r.view.Viewer.Focused() {
		return Default
	}
	r.send(types.InputKeyDown{Key: e.Key, Code: e.Code, Repeat: e.Repeat, Modifiers: e.Modifiers}, true)
	if printable(e) {
		r.send(types.InputType{Text: e.Key}, true)
	}
	return Prevented
}

func (r *Router) KeyUp(e KeyEvent) Disposition {
	if !r.gate.InputEnabled() || !r.view.Viewer.Focused() {
		return Default
	}
	r.send(types.InputKeyUp{Key: e.Key, Code: e.Code, Modifiers: e.Modifiers}, true)
	return Prevented
}

// HandleAck surfaces a rejected input event, at most once per throttle
// window. Accepted acks are dropped.
func (r *Router) HandleAck(a types.Ack) {
	if a.OK {
		return
	}
	r.metrics.InputRejected.WithLabelValues(a.Event).Inc()
	reason := a.Error
	if reason == "" {
		reason = "unknown_error"
	}
	if !r.reject.AllowN(r.clk.Now(), 1) {
		r.log.Debug("input rejected", zap.String("event", a.Event), zap.String("error", reason))
		return
	}
	r.view.Toasts.Toast(fmt.Sprintf("Input rejected (%s): %s", a.Event, reason), view.Bad)
}

func (r *Router) send(msg types.Outbound, ack bool) {
	if !r.gate.InputEnabled() {
		return
	}
	if err := r.emit.Emit(types.ChannelControl, msg, ack); err != nil {
		r.log.Debug("input not sent", zap.String("event", msg.Event()), zap.Error(err))
		return
	}
	r.metrics.InputEmitted.WithLabelValues(msg.Event()).Inc()
}

// SurfaceCoords maps a client position onto the active surface's intrinsic
// pixel grid, clamped to its bounds. It fails when the surface is not laid
// out or has no image yet.
func SurfaceCoords(v *view.View, clientX, clientY float64) (x, y float64, ok bool) {
	s := v.ActiveSurface()
	rect := s.Rect()
	if rect.Empty() {
		return 0, 0, false
	}
	w, h := s.Size()
	if w <= 0 || h <= 0 {
		return 0, 0, false
	}
	relX := (clientX - rect.X) / rect.W
	relY := (clientY - rect.Y) / rect.H
	return clamp(relX*float64(w), 0, float64(w)), clamp(relY*float64(h), 0, float64(h)), true
}

// NormalizeWheel converts wheel deltas to pixels. Page deltas scale by the
// displayed surface height.
func NormalizeWheel(dx, dy float64, mode int, rectHeight float64) (float64, float64) {
	switch mode {
	case DeltaLine:
		return dx * LineHeight, dy * LineHeight
	case DeltaPage:
		if rectHeight <= 0 {
			rectHeight = 1
		}
		return dx * rectHeight, dy * rectHeight
	}
	return dx, dy
}

func buttonName(b int) string {
	switch b {
	case 2:
		return "right"
	case 1:
		return "middle"
	}
	return "left"
}

func printable(e KeyEvent) bool {
	m := e.Modifiers
	return utf8.RuneCountInString(e.Key) == 1 && !m.Ctrl && !m.Meta && !m.Alt
}

func clamp(v, lo, hi float64) float64 {
	return min(hi, max(lo, v))
}
