package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamviewer/internal/config"
	"streamviewer/internal/server"
	"streamviewer/internal/session"
	"streamviewer/internal/types"
	"streamviewer/internal/view"
)

type recordingSink struct {
	mu     sync.Mutex
	events []types.Outbound
}

func (r *recordingSink) Dispatch(_ context.Context, ev types.Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) received() []types.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Outbound(nil), r.events...)
}

func startConsole(t *testing.T) (*console, *recordingSink, *bytes.Buffer) {
	t.Helper()
	sink := &recordingSink{}
	rc := config.Default().Remote
	rc.FPS = 50
	srv, err := server.New(server.Options{Config: rc, Sink: sink, Source: server.NewPatternSource(200, 100, rc.Mode, rc.Quality)})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.StartStreamer(ctx)

	cfg := config.Default()
	cfg.BaseURL = ts.URL
	cfg.ReconnectAttempts = 1
	s, err := session.Open(context.Background(), session.Options{Config: cfg, Toasts: view.NewToastLog(nil, nil)})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	out := &bytes.Buffer{}
	return newConsole(s, out), sink, out
}

func TestConsoleDrivesInput(t *testing.T) {
	c, sink, _ := startConsole(t)
	ctx := context.Background()

	require.Eventually(t, func() bool { return c.s.View.Buttons.Get().Take }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { w, _ := c.s.View.Canvas.Size(); return w == 200 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.exec(ctx, "takeover"))
	require.Eventually(t, c.s.View.Viewer.CtrlEnabled, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.exec(ctx, "click 40 20 right"))
	require.NoError(t, c.exec(ctx, "type hi"))
	require.NoError(t, c.exec(ctx, "press Enter"))

	require.Eventually(t, func() bool { return len(sink.received()) == 9 }, 5*time.Second, 10*time.Millisecond)
	got := sink.received()
	assert.Equal(t, types.InputClick{X: 40, Y: 20, Button: "right", ClickCount: 1}, got[0])
	assert.Equal(t, types.InputKeyDown{Key: "h"}, got[1])
	assert.Equal(t, types.InputType{Text: "h"}, got[2])
	assert.Equal(t, types.InputKeyUp{Key: "h"}, got[3])
	assert.Equal(t, types.InputType{Text: "i"}, got[5])
	assert.Equal(t, types.InputKeyDown{Key: "Enter"}, got[7])
	assert.Equal(t, types.InputKeyUp{Key: "Enter"}, got[8])
}

func TestConsoleRejectsBadCommands(t *testing.T) {
	c, _, out := startConsole(t)
	ctx := context.Background()

	assert.EqualError(t, c.exec(ctx, "click 1"), "usage: click <x> <y>")
	assert.Error(t, c.exec(ctx, "click 1 2 sideways"))
	assert.Error(t, c.exec(ctx, "scroll up"))
	assert.EqualError(t, c.exec(ctx, "dance"), `unknown command "dance"`)
	assert.ErrorIs(t, c.exec(ctx, "quit"), errQuit)
	assert.NoError(t, c.exec(ctx, "   "))

	require.NoError(t, c.run(ctx, strings.NewReader("status\nquit\nstatus\n")))
	assert.Equal(t, 1, strings.Count(out.String(), "samples"), "commands after quit are ignored")
}
