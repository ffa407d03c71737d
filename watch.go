package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"streamviewer/internal/input"
	"streamviewer/internal/metrics"
	"streamviewer/internal/session"
	"streamviewer/internal/view"
)

func watchCmd(g *globalFlags) *cobra.Command {
	var takeOver bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a remote session from a line console",
		Long: `Connects to the remote and reads commands from stdin.

Commands:
  connect               negotiate auth and (re)connect both channels
  key <secret>          set the API key used by the next connect
  take | release        take or release the control lock
  pause | resume        pause or resume the agent
  takeover              take the lock and pause the agent
  click <x> <y> [btn]   click at surface pixel x,y (btn: left, middle, right)
  move <x> <y>          move the pointer
  scroll <dy> [dx]      scroll by pixels at the last pointer position
  type <text>           type text, one key at a time
  press <key>           press a named key, e.g. Enter, Tab, Escape
  status                print the session state
  quit                  exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			defer log.Sync()

			ctx, stop := signalContext()
			defer stop()

			m := metrics.New()
			serveMetrics(ctx, cfg.MetricsAddr, m, log)

			s, err := session.Open(ctx, session.Options{
				Config:            cfg,
				Toasts:            view.NewToastLog(nil, log.Named("toast")),
				Log:               log,
				Metrics:           m,
				TakeOverOnConnect: takeOver,
			})
			if err != nil {
				return errors.Wrap(err, "open session")
			}
			defer s.Close()

			log.Info("watching", zap.String("base_url", cfg.BaseURL))
			return newConsole(s, cmd.OutOrStdout()).run(ctx, os.Stdin)
		},
	}
	cmd.Flags().BoolVar(&takeOver, "take-over", false, "take control and pause the agent on start")
	return cmd
}

// console drives a session from text commands. Pointer commands use
// surface pixels: the active surface is laid out 1:1 at the origin.
type console struct {
	s   *session.Session
	out io.Writer

	lastX, lastY float64
}

func newConsole(s *session.Session, out io.Writer) *console {
	return &console{s: s, out: out}
}

var errQuit = errors.New("quit")

func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.s.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "error: %s\n", err)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Fprintln(c.out, "connect key take release pause resume takeover click move scroll type press status quit")
	case "connect":
		return c.s.Connect(ctx)
	case "key":
		if len(args) != 1 {
			return errors.New("usage: key <secret>")
		}
		c.s.SetAPIKey(args[0])
	case "take":
		c.s.TakeControl()
	case "release":
		c.s.ReleaseControl()
	case "pause":
		c.s.PauseAgent()
	case "resume":
		c.s.ResumeAgent()
	case "takeover":
		c.s.TakeOver()
	case "click", "move":
		if len(args) < 2 {
			return errors.Errorf("usage: %s <x> <y>", cmd)
		}
		x, y, err := parsePoint(args[0], args[1])
		if err != nil {
			return err
		}
		button := 0
		if cmd == "click" && len(args) > 2 {
			if button, err = parseButton(args[2]); err != nil {
				return err
			}
		}
		c.pointer(cmd, x, y, button)
	case "scroll":
		if len(args) < 1 {
			return errors.New("usage: scroll <dy> [dx]")
		}
		dy, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return errors.Wrap(err, "dy")
		}
		var dx float64
		if len(args) > 1 {
			if dx, err = strconv.ParseFloat(args[1], 64); err != nil {
				return errors.Wrap(err, "dx")
			}
		}
		x, y := c.lastX, c.lastY
		c.s.Post(func() {
			c.layout()
			c.s.Input.Wheel(input.WheelEvent{ClientX: x, ClientY: y, DeltaX: dx, DeltaY: dy})
		})
	case "type":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "type"))
		if text == "" {
			return errors.New("usage: type <text>")
		}
		c.typeText(text)
	case "press":
		if len(args) != 1 {
			return errors.New("usage: press <key>")
		}
		c.press(args[0])
	case "status":
		c.status()
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
	return nil
}

// layout places the active surface at the origin at its intrinsic size.
// Loop only.
func (c *console) layout() {
	sf := c.s.View.ActiveSurface()
	w, h := sf.Size()
	sf.SetRect(view.Rect{W: float64(w), H: float64(h)})
}

func (c *console) pointer(cmd string, x, y float64, button int) {
	c.lastX, c.lastY = x, y
	c.s.Post(func() {
		c.layout()
		e := input.PointerEvent{ClientX: x, ClientY: y, Button: button, Detail: 1}
		if cmd == "click" {
			c.s.Input.PointerDown(e)
			return
		}
		c.s.Input.PointerMove(e)
	})
}

func (c *console) typeText(text string) {
	c.s.Post(func() {
		c.s.View.Viewer.Focus()
		for _, r := range text {
			c.key(string(r))
		}
	})
}

func (c *console) press(key string) {
	c.s.Post(func() {
		c.s.View.Viewer.Focus()
		c.key(key)
	})
}

// key sends one keydown/keyup pair. Loop only.
func (c *console) key(k string) {
	e := input.KeyEvent{Key: k}
	c.s.Input.KeyDown(e)
	c.s.Input.KeyUp(e)
}

func (c *console) status() {
	v := c.s.View
	conn, _ := v.Conn.Get()
	mode, _ := v.Mode.Get()
	ctrl, _ := v.Ctrl.Get()
	w, h := v.ActiveSurface().Size()
	fmt.Fprintf(c.out, "%s | %s | %s\n", conn, mode, ctrl)
	fmt.Fprintf(c.out, "seq %s  latency %s  fps %s  surface %dx%d\n",
		v.Seq.Get(), v.Latency.Get(), v.FPS.Get(), w, h)
	fmt.Fprintf(c.out, "holder %s  since %s  paused %s  samples %s  input %v\n",
		v.Holder.Get(), v.HeldSince.Get(), v.Paused.Get(), v.Samples.Get(), v.Viewer.CtrlEnabled())
	if l, ok := v.Toasts.(*view.ToastLog); ok {
		for _, t := range l.Active() {
			fmt.Fprintf(c.out, "  [%s] %s\n", t.Variant, t.Message)
		}
	}
}

func parsePoint(xs, ys string) (float64, float64, error) {
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "x")
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "y")
	}
	return x, y, nil
}

func parseButton(s string) (int, error) {
	switch s {
	case "left":
		return 0, nil
	case "middle":
		return 1, nil
	case "right":
		return 2, nil
	}
	return 0, errors.Errorf("unknown button %q", s)
}
