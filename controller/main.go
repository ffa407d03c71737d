// Command controller is a desktop viewer for a streamviewer session. It
// draws the remote surface with ebiten and forwards mouse and keyboard
// input while this viewer holds control.
//
//	F1 take over   F2 release   F3 pause agent   F4 resume agent   F5 connect
package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"streamviewer/internal/config"
	"streamviewer/internal/input"
	"streamviewer/internal/logger"
	"streamviewer/internal/metrics"
	"streamviewer/internal/session"
	"streamviewer/internal/types"
	"streamviewer/internal/view"
)

const (
	screenWidth  = 1280
	screenHeight = 720

	barHeight      = 64
	doubleClickGap = 400 * time.Millisecond
	doubleClickPx  = 4
)

var specialKeys = map[ebiten.Key]string{
	ebiten.KeyEnter:        "Enter",
	ebiten.KeyNumpadEnter:  "Enter",
	ebiten.KeyBackspace:    "Backspace",
	ebiten.KeyTab:          "Tab",
	ebiten.KeyEscape:       "Escape",
	ebiten.KeyDelete:       "Delete",
	ebiten.KeyInsert:       "Insert",
	ebiten.KeyHome:         "Home",
	ebiten.KeyEnd:          "End",
	ebiten.KeyPageUp:       "PageUp",
	ebiten.KeyPageDown:     "PageDown",
	ebiten.KeyArrowUp:      "ArrowUp",
	ebiten.KeyArrowDown:    "ArrowDown",
	ebiten.KeyArrowLeft:    "ArrowLeft",
	ebiten.KeyArrowRight:   "ArrowRight",
	ebiten.KeyShiftLeft:    "Shift",
	ebiten.KeyShiftRight:   "Shift",
	ebiten.KeyControlLeft:  "Control",
	ebiten.KeyControlRight: "Control",
	ebiten.KeyAltLeft:      "Alt",
	ebiten.KeyAltRight:     "Alt",
	ebiten.KeyMetaLeft:     "Meta",
	ebiten.KeyMetaRight:    "Meta",
	ebiten.KeyCapsLock:     "CapsLock",
	ebiten.KeyF6:           "F6",
	ebiten.KeyF7:           "F7",
	ebiten.KeyF8:           "F8",
	ebiten.KeyF9:           "F9",
	ebiten.KeyF10:          "F10",
	ebiten.KeyF11:          "F11",
	ebiten.KeyF12:          "F12",
}

var pillColors = map[view.Variant]color.RGBA{
	view.Muted: {0x44, 0x44, 0x4c, 0xff},
	view.Good:  {0x1f, 0x7a, 0x3a, 0xff},
	view.Warn:  {0x9a, 0x6b, 0x10, 0xff},
	view.Bad:   {0x9b, 0x22, 0x22, 0xff},
}

// Game is the ebiten front end. Update and Draw run on ebiten's goroutine;
// everything that touches session components goes through Post.
type Game struct {
	s *session.Session

	tex    *ebiten.Image
	texSrc image.Image

	w, h         int
	lastX, lastY int
	focused      bool

	lastClick    time.Time
	lastClickBtn int
	lastClickX   int
	lastClickY   int
	clickCount   int
	keys         []ebiten.Key
	chars        []rune
}

func (g *Game) Update() error {
	select {
	case <-g.s.Done():
		return ebiten.Termination
	default:
	}

	g.layout()
	g.shortcuts()
	g.focus()
	g.pointer()
	g.keyboard()
	return nil
}

// layout letterboxes the active surface below the status bar and records
// where it lands so input maps back to surface pixels.
func (g *Game) layout() {
	sf := g.s.View.ActiveSurface()
	iw, ih := sf.Size()
	aw, ah := float64(g.w), float64(g.h-barHeight)
	if iw <= 0 || ih <= 0 || aw <= 0 || ah <= 0 {
		sf.SetRect(view.Rect{})
		return
	}
	scale := min(aw/float64(iw), ah/float64(ih))
	w, h := float64(iw)*scale, float64(ih)*scale
	sf.SetRect(view.Rect{X: (aw - w) / 2, Y: barHeight + (ah-h)/2, W: w, H: h})
}

func (g *Game) shortcuts() {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyF1):
		g.s.TakeOver()
	case inpututil.IsKeyJustPressed(ebiten.KeyF2):
		g.s.ReleaseControl()
	case inpututil.IsKeyJustPressed(ebiten.KeyF3):
		g.s.PauseAgent()
	case inpututil.IsKeyJustPressed(ebiten.KeyF4):
		g.s.ResumeAgent()
	case inpututil.IsKeyJustPressed(ebiten.KeyF5):
		go func() { _ = g.s.Connect(context.Background()) }()
	}
}

// focus blurs the viewer when the window loses focus. Clicks and wheel
// events focus it again.
func (g *Game) focus() {
	f := ebiten.IsFocused()
	if g.focused && !f {
		g.s.Post(g.s.View.Viewer.Blur)
	}
	g.focused = f
}

func (g *Game) pointer() {
	x, y := ebiten.CursorPosition()
	mods := modifiers()

	if x != g.lastX || y != g.lastY {
		e := input.PointerEvent{ClientX: float64(x), ClientY: float64(y), Modifiers: mods}
		g.s.Post(func() { g.s.Input.PointerMove(e) })
		g.lastX, g.lastY = x, y
	}

	for btn, b := range map[ebiten.MouseButton]int{
		ebiten.MouseButtonLeft:   0,
		ebiten.MouseButtonMiddle: 1,
		ebiten.MouseButtonRight:  2,
	} {
		if !inpututil.IsMouseButtonJustPressed(btn) {
			continue
		}
		e := input.PointerEvent{
			ClientX:   float64(x),
			ClientY:   float64(y),
			Button:    b,
			Detail:    g.countClick(b, x, y),
			Modifiers: mods,
		}
		g.s.Post(func() { g.s.Input.PointerDown(e) })
	}

	if dx, dy := ebiten.Wheel(); dx != 0 || dy != 0 {
		// ebiten reports scroll-up as positive.
		e := input.WheelEvent{
			ClientX:   float64(x),
			ClientY:   float64(y),
			DeltaX:    -dx,
			DeltaY:    -dy,
			DeltaMode: input.DeltaLine,
			Modifiers: mods,
		}
		g.s.Post(func() { g.s.Input.Wheel(e) })
	}
}

func (g *Game) countClick(button, x, y int) int {
	now := time.Now()
	near := abs(x-g.lastClickX) <= doubleClickPx && abs(y-g.lastClickY) <= doubleClickPx
	if button == g.lastClickBtn && near && now.Sub(g.lastClick) < doubleClickGap {
		g.clickCount++
	} else {
		g.clickCount = 1
	}
	g.lastClick, g.lastClickBtn, g.lastClickX, g.lastClickY = now, button, x, y
	return g.clickCount
}

func (g *Game) keyboard() {
	mods := modifiers()
	var events []input.KeyEvent
	var ups []input.KeyEvent

	g.keys = inpututil.AppendJustPressedKeys(g.keys[:0])
	for _, k := range g.keys {
		if name, ok := specialKeys[k]; ok {
			events = append(events, input.KeyEvent{Key: name, Code: k.String(), Modifiers: mods})
			continue
		}
		// Shortcut chords produce no input chars.
		if (mods.Ctrl || mods.Meta || mods.Alt) && isLetter(k) {
			events = append(events, input.KeyEvent{Key: strings.ToLower(k.String()), Code: "Key" + k.String(), Modifiers: mods})
		}
	}

	g.chars = ebiten.AppendInputChars(g.chars[:0])
	for _, r := range g.chars {
		e := input.KeyEvent{Key: string(r), Modifiers: mods}
		events = append(events, e)
		ups = append(ups, e)
	}

	g.keys = inpututil.AppendJustReleasedKeys(g.keys[:0])
	for _, k := range g.keys {
		if name, ok := specialKeys[k]; ok {
			ups = append(ups, input.KeyEvent{Key: name, Code: k.String(), Modifiers: mods})
		}
	}

	if len(events) == 0 && len(ups) == 0 {
		return
	}
	g.s.Post(func() {
		for _, e := range events {
			g.s.Input.KeyDown(e)
		}
		for _, e := range ups {
			g.s.Input.KeyUp(e)
		}
	})
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{0x16, 0x16, 0x1a, 0xff})
	g.drawSurface(screen)
	g.drawBar(screen)
	g.drawToasts(screen)
}

func (g *Game) drawSurface(screen *ebiten.Image) {
	sf := g.s.View.ActiveSurface()
	img, _ := sf.Image()
	rect := sf.Rect()
	if img == nil || rect.Empty() {
		ebitenutil.DebugPrintAt(screen, "waiting for frames", g.w/2-54, g.h/2)
		return
	}
	if img != g.texSrc {
		if g.tex != nil {
			g.tex.Deallocate()
		}
		g.tex, g.texSrc = ebiten.NewImageFromImage(img), img
	}
	b := img.Bounds()
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(rect.W/float64(b.Dx()), rect.H/float64(b.Dy()))
	op.GeoM.Translate(rect.X, rect.Y)
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(g.tex, op)

	if g.s.View.Viewer.CtrlEnabled() {
		c := color.RGBA{0x2e, 0xa0, 0x4f, 0xff}
		vector.StrokeRect(screen, float32(rect.X), float32(rect.Y), float32(rect.W), float32(rect.H), 2, c, false)
	}
}

func (g *Game) drawBar(screen *ebiten.Image) {
	v := g.s.View
	vector.DrawFilledRect(screen, 0, 0, float32(g.w), barHeight, color.RGBA{0x22, 0x22, 0x28, 0xff}, false)

	x := 8
	for _, p := range []*view.Pill{&v.Conn, &v.Mode, &v.Ctrl} {
		text, variant := p.Get()
		w := len(text)*6 + 12
		vector.DrawFilledRect(screen, float32(x), 6, float32(w), 18, pillColors[variant], false)
		ebitenutil.DebugPrintAt(screen, text, x+6, 7)
		x += w + 8
	}
	if v.SamplePulse.On(time.Now()) {
		vector.DrawFilledCircle(screen, float32(x+6), 15, 5, color.RGBA{0x4f, 0xc3, 0xf7, 0xff}, true)
	}

	ebitenutil.DebugPrintAt(screen, fmt.Sprintf(
		"seq %s  latency %s ms  fps %s  holder %s  since %s  paused %s  samples %s",
		v.Seq.Get(), v.Latency.Get(), v.FPS.Get(), v.Holder.Get(), v.HeldSince.Get(), v.Paused.Get(), v.Samples.Get(),
	), 8, 28)

	b := v.Buttons.Get()
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf(
		"%s  %s  %s  %s  F5 connect",
		button("F1 take over", b.Take), button("F2 release", b.Release),
		button("F3 pause", b.Pause), button("F4 resume", b.Resume),
	), 8, 44)
}

func (g *Game) drawToasts(screen *ebiten.Image) {
	l, ok := g.s.View.Toasts.(*view.ToastLog)
	if !ok {
		return
	}
	y := g.h - 24
	active := l.Active()
	for i := len(active) - 1; i >= 0 && y > barHeight; i-- {
		t := active[i]
		w := len(t.Message)*6 + 16
		vector.DrawFilledRect(screen, float32(g.w-w-12), float32(y), float32(w), 20, pillColors[t.Variant], false)
		ebitenutil.DebugPrintAt(screen, t.Message, g.w-w-4, y+2)
		y -= 26
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	g.w, g.h = outsideWidth, outsideHeight
	return outsideWidth, outsideHeight
}

func button(label string, enabled bool) string {
	if enabled {
		return "[" + label + "]"
	}
	return " " + label + " "
}

func modifiers() types.Modifiers {
	return types.Modifiers{
		Alt:   ebiten.IsKeyPressed(ebiten.KeyAlt),
		Ctrl:  ebiten.IsKeyPressed(ebiten.KeyControl),
		Meta:  ebiten.IsKeyPressed(ebiten.KeyMeta),
		Shift: ebiten.IsKeyPressed(ebiten.KeyShift),
	}
}

func isLetter(k ebiten.Key) bool {
	s := k.String()
	return len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z'
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func main() {
	var (
		configPath string
		baseURL    string
		apiKey     string
	)

	cmd := &cobra.Command{
		Use:           "controller",
		Short:         "View and take over a remote session in a window",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if baseURL != "" {
				cfg.BaseURL = baseURL
			}
			if apiKey != "" {
				cfg.APIKey = apiKey
			}

			log := logger.New(cfg.LogLevel)
			defer log.Sync()

			s, err := session.Open(context.Background(), session.Options{
				Config:  cfg,
				Toasts:  view.NewToastLog(nil, log.Named("toast")),
				Log:     log,
				Metrics: metrics.New(),
			})
			if err != nil {
				return err
			}
			defer s.Close()
			log.Info("viewer started", zap.String("base_url", cfg.BaseURL))

			ebiten.SetWindowSize(screenWidth, screenHeight)
			ebiten.SetWindowTitle("streamviewer " + cfg.BaseURL)
			ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
			return ebiten.RunGame(&Game{s: s, w: screenWidth, h: screenHeight})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringVar(&baseURL, "base-url", "", "remote base URL")
	f.StringVar(&apiKey, "api-key", "", "shared secret for the auth handshake")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
