package desktop

import (
	"context"
	"image"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/go-vgo/robotgo"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"streamviewer/internal/logger"
	"streamviewer/internal/types"
)

// pixelsPerNotch converts pixel wheel deltas into scroll wheel notches.
const pixelsPerNotch = 40

// Driver is the injection backend. Robot drives the real desktop.
type Driver interface {
	Move(x, y int)
	Toggle(button, dir string) error
	Scroll(dx, dy int)
	KeyToggle(key, dir string) error
	KeyTap(key string) error
	Type(text string)
}

// Robot injects through robotgo.
type Robot struct{}

func (Robot) Move(x, y int)                   { robotgo.Move(x, y) }
func (Robot) Toggle(button, dir string) error { return robotgo.Toggle(button, dir) }
func (Robot) Scroll(dx, dy int)               { robotgo.Scroll(dx, dy) }
func (Robot) Type(text string)                { robotgo.TypeStr(text) }

func (Robot) KeyToggle(key, dir string) error { return robotgo.KeyToggle(key, dir) }
func (Robot) KeyTap(key string) error         { return robotgo.KeyTap(key) }

// RobotSink executes viewer input on the local desktop. Surface
// coordinates are offset by the captured display's origin.
type RobotSink struct {
	drv    Driver
	origin image.Point
	log    *zap.Logger
}

func NewRobotSink(drv Driver, display image.Rectangle, log *zap.Logger) *RobotSink {
	if drv == nil {
		drv = Robot{}
	}
	return &RobotSink{drv: drv, origin: display.Min, log: logger.OrNop(log)}
}

func (s *RobotSink) Dispatch(_ context.Context, ev types.Outbound) error {
	switch e := ev.(type) {
	case types.InputMove:
		s.moveTo(e.X, e.Y)
	case types.InputClick:
		s.moveTo(e.X, e.Y)
		btn := buttonName(e.Button)
		clicks := e.ClickCount
		if clicks < 1 {
			clicks = 1
		}
		for i := 0; i < clicks; i++ {
			if err := s.drv.Toggle(btn, "down"); err != nil {
				return errors.Wrap(err, "mouse down")
			}
			if err := s.drv.Toggle(btn, "up"); err != nil {
				return errors.Wrap(err, "mouse up")
			}
		}
	case types.InputWheel:
		s.moveTo(e.X, e.Y)
		// robotgo scrolls up and left for positive values.
		s.drv.Scroll(-notches(e.DeltaX), -notches(e.DeltaY))
	case types.InputKeyDown:
		return s.keyDown(e)
	case types.InputKeyUp:
		if name, ok := keyName(e.Key); ok && name != "enter" {
			return errors.Wrap(s.drv.KeyToggle(name, "up"), "key up")
		}
	case types.InputType:
		return s.typeText(e.Text)
	default:
		return errors.Errorf("unsupported input %s", ev.Event())
	}
	return nil
}

func (s *RobotSink) moveTo(x, y float64) {
	s.drv.Move(s.origin.X+int(math.Round(x)), s.origin.Y+int(math.Round(y)))
}

// keyDown presses named keys. Modifier keys stay down until their own
// keyup. Printable characters without a shortcut modifier arrive separately
// as input_type and are skipped here.
func (s *RobotSink) keyDown(e types.InputKeyDown) error {
	if name, ok := keyName(e.Key); ok {
		if name == "enter" {
			return errors.Wrap(s.drv.KeyTap(name), "key tap")
		}
		return errors.Wrap(s.drv.KeyToggle(name, "down"), "key down")
	}
	if utf8.RuneCountInString(e.Key) != 1 {
		s.log.Debug("unmapped key", zap.String("key", e.Key))
		return nil
	}
	if e.Ctrl || e.Meta || e.Alt {
		return errors.Wrap(s.drv.KeyTap(strings.ToLower(e.Key)), "shortcut")
	}
	return nil
}

// typeText types text, pressing Enter for each line break.
func (s *RobotSink) typeText(text string) error {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			if err := s.drv.KeyTap("enter"); err != nil {
				return errors.Wrap(err, "enter")
			}
		}
		if line != "" {
			s.drv.Type(line)
		}
	}
	return nil
}

func notches(px float64) int {
	if px == 0 {
		return 0
	}
	n := int(math.Round(px / pixelsPerNotch))
	if n == 0 {
		n = int(math.Copysign(1, px))
	}
	return n
}

func buttonName(b string) string {
	switch b {
	case "right":
		return "right"
	case "middle":
		return "center"
	default:
		return "left"
	}
}

var keyNames = map[string]string{
	"Enter":      "enter",
	"Backspace":  "backspace",
	"Tab":        "tab",
	"Escape":     "esc",
	"Delete":     "delete",
	"Insert":     "insert",
	"Home":       "home",
	"End":        "end",
	"PageUp":     "pageup",
	"PageDown":   "pagedown",
	"ArrowUp":    "up",
	"ArrowDown":  "down",
	"ArrowLeft":  "left",
	"ArrowRight": "right",
	"Shift":      "shift",
	"Control":    "ctrl",
	"Alt":        "alt",
	"Meta":       "cmd",
	"CapsLock":   "capslock",
	"F1":         "f1",
	"F2":         "f2",
	"F3":         "f3",
	"F4":         "f4",
	"F5":         "f5",
	"F6":         "f6",
	"F7":         "f7",
	"F8":         "f8",
	"F9":         "f9",
	"F10":        "f10",
	"F11":        "f11",
	"F12":        "f12",
}

// keyName maps a DOM key value to a robotgo key name.
func keyName(key string) (string, bool) {
	name, ok := keyNames[key]
	return name, ok
}
