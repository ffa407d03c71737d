// Package view holds the operator-facing state the session renders into:
// status pills, text fields, the two image surfaces, buttons, toasts and
// viewer focus.
//
// Components mutate a View only from the session loop. Front ends read it
// from their own goroutine, so every element guards its fields.
package view

import (
	"image"
	"sync"
	"time"
)

// Variant is the color class of a pill or toast.
type Variant int

const (
	Muted Variant = iota
	Good
	Warn
	Bad
)

func (v Variant) String() string {
	switch v {
	case Good:
		return "good"
	case Warn:
		return "warn"
	case Bad:
		return "bad"
	default:
		return "muted"
	}
}

// Placeholder is shown for unset values.
const Placeholder = "—"

// PulseDuration is how long the sample indicator stays lit.
const PulseDuration = 350 * time.Millisecond

// Pill is a short status label with a color.
type Pill struct {
	mu      sync.RWMutex
	text    string
	variant Variant
}

func (p *Pill) Set(text string, v Variant) {
	p.mu.Lock()
	p.text, p.variant = text, v
	p.mu.Unlock()
}

func (p *Pill) Get() (string, Variant) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.text, p.variant
}

// Text is a plain text field.
type Text struct {
	mu sync.RWMutex
	s  string
}

func (t *Text) Set(s string) {
	t.mu.Lock()
	t.s = s
	t.mu.Unlock()
}

func (t *Text) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s
}

// Rect is a displayed rectangle in client coordinates.
type Rect struct {
	X, Y, W, H float64
}

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Pulse is a momentary indicator.
type Pulse struct {
	mu    sync.RWMutex
	until time.Time
}

// Trigger lights the pulse for PulseDuration from now.
func (p *Pulse) Trigger(now time.Time) {
	p.mu.Lock()
	p.until = now.Add(PulseDuration)
	p.mu.Unlock()
}

// On reports whether the pulse is lit at now.
func (p *Pulse) On(now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return now.Before(p.until)
}

// ButtonState is the enablement of the four lock buttons.
type ButtonState struct {
	Take, Release, Pause, Resume bool
}

type Buttons struct {
	mu    sync.RWMutex
	state ButtonState
}

func (b *Buttons) Set(s ButtonState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Buttons) Get() ButtonState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Viewer is the input-capturing region around the surfaces.
type Viewer struct {
	mu          sync.RWMutex
	focused     bool
	ctrlEnabled bool
}

func (v *Viewer) Focus() {
	v.mu.Lock()
	v.focused = true
	v.mu.Unlock()
}

func (v *Viewer) Blur() {
	v.mu.Lock()
	v.focused = false
	v.mu.Unlock()
}

func (v *Viewer) Focused() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.focused
}

// SetCtrlEnabled toggles the visual cue that input is being forwarded.
func (v *Viewer) SetCtrlEnabled(on bool) {
	v.mu.Lock()
	v.ctrlEnabled = on
	v.mu.Unlock()
}

func (v *Viewer) CtrlEnabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ctrlEnabled
}

// View is the full set of elements one session renders into.
type View struct {
	Conn Pill // stream connection
	Mode Pill
	Ctrl Pill

	Seq       Text
	Latency   Text
	FPS       Text
	Holder    Text
	HeldSince Text
	Paused    Text
	Samples   Text

	SamplePulse Pulse

	Canvas   *Surface // raster frames
	Fallback *Surface // snapshots

	Buttons Buttons
	Viewer  Viewer
	Toasts  Toaster
}

// New returns a View in its initial state: canvas shown, fallback hidden,
// every field at its placeholder.
func New(toasts Toaster) *View {
	v := &View{
		Canvas:   NewSurface(true),
		Fallback: NewSurface(false),
		Toasts:   toasts,
	}
	if v.Toasts == nil {
		v.Toasts = Discard{}
	}
	v.Conn.Set("disconnected", Muted)
	v.Mode.Set("mode: "+Placeholder, Muted)
	v.Ctrl.Set("control: free", Muted)
	for _, t := range []*Text{&v.Seq, &v.Latency, &v.FPS, &v.Holder, &v.HeldSince} {
		t.Set(Placeholder)
	}
	v.Paused.Set("false")
	v.Samples.Set("0/0")
	return v
}

// ActiveSurface is the canvas when visible, otherwise the fallback.
func (v *View) ActiveSurface() *Surface {
	if v.Canvas.Visible() {
		return v.Canvas
	}
	return v.Fallback
}

// ShowCanvas makes the raster surface the visible one.
func (v *View) ShowCanvas() {
	v.Fallback.SetVisible(false)
	v.Canvas.SetVisible(true)
}

// ShowFallback makes the snapshot surface the visible one.
func (v *View) ShowFallback() {
	v.Fallback.SetVisible(true)
	v.Canvas.SetVisible(false)
}

// Surface is one drawable region: an intrinsic image size plus where it is
// currently displayed.
type Surface struct {
	mu      sync.RWMutex
	img     image.Image
	mime    string
	width   int
	height  int
	visible bool
	rect    Rect
}

func NewSurface(visible bool) *Surface {
	return &Surface{visible: visible}
}

// Draw replaces the image. The intrinsic size is updated only when the
// dimensions change; it reports whether they did.
func (s *Surface) Draw(img image.Image, mime string) (resized bool) {
	b := img.Bounds()
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Dx() != s.width || b.Dy() != s.height {
		s.width, s.height = b.Dx(), b.Dy()
		resized = true
	}
	s.img, s.mime = img, mime
	return resized
}

// Size is the intrinsic image size, zero before the first draw.
func (s *Surface) Size() (w, h int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

func (s *Surface) Image() (image.Image, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img, s.mime
}

func (s *Surface) Visible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible
}

func (s *Surface) SetVisible(on bool) {
	s.mu.Lock()
	s.visible = on
	s.mu.Unlock()
}

// SetRect records where the front end displays the surface.
func (s *Surface) SetRect(r Rect) {
	s.mu.Lock()
	s.rect = r
	s.mu.Unlock()
}

func (s *Surface) Rect() Rect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rect
}
