// Package session ties the viewer components together around a single
// event loop.
//
// Every component (control machine, renderer, input router, health
// poller) keeps unguarded state and is only touched from the loop.
// Channel readers, HTTP polls, clock tickers and front ends hand work to
// the loop with Post.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"streamviewer/internal/auth"
	"streamviewer/internal/channel"
	"streamviewer/internal/clock"
	"streamviewer/internal/config"
	"streamviewer/internal/control"
	"streamviewer/internal/health"
	"streamviewer/internal/input"
	"streamviewer/internal/logger"
	"streamviewer/internal/metrics"
	"streamviewer/internal/render"
	"streamviewer/internal/types"
	"streamviewer/internal/view"
)

const msgKeyRequired = "Auth is enabled; enter API key then Connect"

type Options struct {
	Config     config.Config
	Clock      clock.Clock
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Toasts     view.Toaster
	Log        *zap.Logger
	Metrics    *metrics.Metrics

	// TakeOverOnConnect takes control and pauses the agent once the control
	// channel first connects.
	TakeOverOnConnect bool
}

type Session struct {
	cfg    config.Config
	clk    clock.Clock
	client *http.Client
	log    *zap.Logger

	View     *view.View
	Channels *channel.Manager
	Control  *control.Machine
	Renderer *render.Renderer
	Input    *input.Router
	Health   *health.Poller

	// takeOver is only touched from the loop.
	takeOver bool

	mu     sync.Mutex
	apiKey string
	queue  []func()
	wake   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open builds a session, starts its loop, animation tick and health poll,
// and boots it: when the remote does not require auth, or a key is already
// configured, it connects right away.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.HandshakeTimeout}
	}
	log := logger.OrNop(opts.Log)
	m := metrics.Or(opts.Metrics)
	if opts.Toasts == nil {
		opts.Toasts = view.NewToastLog(opts.Clock, log.Named("toast"))
	}

	url, err := channel.Endpoint(cfg.BaseURL, cfg.SocketPath)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:      cfg,
		clk:      opts.Clock,
		client:   opts.HTTPClient,
		log:      log,
		View:     view.New(opts.Toasts),
		apiKey:   cfg.APIKey,
		wake:     make(chan struct{}, 1),
		takeOver: opts.TakeOverOnConnect,
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.Channels = channel.NewManager(channel.Config{
		URL:              url,
		MaxAttempts:      cfg.ReconnectAttempts,
		HandshakeTimeout: cfg.HandshakeTimeout,
		BackOff:          channel.ExponentialBackOff(cfg.ReconnectDelay, cfg.ReconnectDelayMax),
		Dialer:           opts.Dialer,
		Log:              log,
		Metrics:          m,
	}, cfg.StreamNamespace, cfg.ControlNamespace, s.receive)
	s.Control = control.New(s.Channels, s.View, log.Named("control"), m)
	s.Renderer = render.New(s.View, s.clk, cfg.StallAfter, log.Named("render"), m)
	s.Input = input.New(s.View, s.Control, s.Channels, s.clk, input.Config{
		MoveInterval:        cfg.MoveInterval,
		RejectToastInterval: cfg.RejectToastInterval,
		Log:                 log.Named("input"),
		Metrics:             m,
	})
	s.Health = health.New(cfg.BaseURL, s.View, health.Options{
		Client:   s.client,
		Clock:    s.clk,
		Interval: cfg.HealthInterval,
		Log:      log.Named("health"),
		Metrics:  m,
	})

	s.wg.Add(4)
	go func() { defer s.wg.Done(); s.loop() }()
	go func() { defer s.wg.Done(); s.animate() }()
	go func() { defer s.wg.Done(); s.Health.Run(s.ctx, s.Post) }()
	go func() { defer s.wg.Done(); s.boot() }()
	return s, nil
}

// Post queues f to run on the loop. It never blocks.
func (s *Session) Post(f func()) {
	s.mu.Lock()
	s.queue = append(s.queue, f)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SetAPIKey replaces the shared secret used by the next Connect.
func (s *Session) SetAPIKey(key string) {
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
}

// Connect negotiates a fresh credential and (re)connects both channels
// with it. Auth failures are toasted and no socket is opened.
func (s *Session) Connect(ctx context.Context) error {
	s.Post(s.Renderer.StreamConnecting)

	s.mu.Lock()
	key := s.apiKey
	s.mu.Unlock()

	cred, err := auth.New(s.cfg.BaseURL, key, s.client, s.log.Named("auth")).Negotiate(ctx)
	if err != nil {
		msg := "Auth error: " + err.Error()
		if errors.Is(err, auth.ErrSecretRequired) {
			msg = msgKeyRequired
		}
		s.Post(func() {
			if !s.Renderer.StreamUp() {
				s.View.Conn.Set("disconnected", view.Muted)
			}
			s.View.Toasts.Toast(msg, view.Bad)
		})
		return err
	}
	s.Channels.Connect(cred)
	return nil
}

// Close stops reconnecting, disconnects both channels and waits for the
// loop to exit.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
	s.Channels.Close()
}

// Done is closed once Close has been called or the parent context ended.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Lock requests, for front ends. Errors are toasted.
func (s *Session) TakeControl()    { s.request("take control", s.Control.TakeControl) }
func (s *Session) ReleaseControl() { s.request("release control", s.Control.ReleaseControl) }
func (s *Session) PauseAgent()     { s.request("pause agent", s.Control.PauseAgent) }
func (s *Session) ResumeAgent()    { s.request("resume agent", s.Control.ResumeAgent) }
func (s *Session) TakeOver()       { s.request("take over", s.Control.TakeOver) }

func (s *Session) request(what string, f func() error) {
	s.Post(func() {
		if err := f(); err != nil {
			s.View.Toasts.Toast(fmt.Sprintf("Could not %s: %v", what, err), view.Bad)
		}
	})
}

func (s *Session) boot() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	cfg, err := auth.New(s.cfg.BaseURL, "", s.client, s.log.Named("auth")).Config(ctx)
	cancel()
	if err != nil {
		if s.ctx.Err() == nil {
			s.Post(func() { s.View.Toasts.Toast("Startup error: "+err.Error(), view.Bad) })
		}
		return
	}

	s.mu.Lock()
	haveKey := s.apiKey != ""
	s.mu.Unlock()
	if cfg.AuthRequired && !haveKey {
		s.Post(func() { s.View.Toasts.Toast(msgKeyRequired, view.Bad) })
		return
	}
	_ = s.Connect(s.ctx)
}

func (s *Session) loop() {
	for {
		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return
		}
		for _, f := range s.drain() {
			f()
		}
	}
}

func (s *Session) drain() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

func (s *Session) animate() {
	t := s.clk.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Post(s.Renderer.Tick)
		case <-s.ctx.Done():
			return
		}
	}
}

// receive is the channel sink. It runs on channel goroutines.
func (s *Session) receive(ch types.Channel, msg types.Inbound) {
	s.Post(func() { s.dispatch(ch, msg) })
}

func (s *Session) dispatch(ch types.Channel, msg types.Inbound) {
	if ch == types.ChannelStream {
		s.dispatchStream(msg)
		return
	}
	s.dispatchControl(msg)
}

func (s *Session) dispatchStream(msg types.Inbound) {
	switch m := msg.(type) {
	case types.Connected:
		s.Renderer.StreamConnected()
		s.View.Toasts.Toast("Connected", view.Good)
	case types.Disconnected:
		s.Renderer.StreamDisconnected(m.Reason)
	case types.ConnectError:
		s.Renderer.StreamConnectError(m.Message)
	case types.ReconnectFailed:
		s.View.Toasts.Toast(fmt.Sprintf("Stream reconnect failed after %d attempts", m.Attempts), view.Bad)
	case types.Frame:
		s.Renderer.HandleFrame(m)
	case types.BrowserUpdate:
		s.Renderer.HandleBrowserUpdate(m)
	default:
		s.log.Debug("unexpected stream message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (s *Session) dispatchControl(msg types.Inbound) {
	switch m := msg.(type) {
	case types.Connected:
		s.Control.Connected(m.SID)
		if s.takeOver {
			s.takeOver = false
			if err := s.Control.TakeOver(); err != nil {
				s.View.Toasts.Toast("Could not take over: "+err.Error(), view.Bad)
			}
		}
	case types.Disconnected:
		s.Control.Disconnected()
	case types.ConnectError:
		s.View.Toasts.Toast("Control connect error: "+m.Message, view.Bad)
	case types.ReconnectFailed:
		s.View.Toasts.Toast(fmt.Sprintf("Control reconnect failed after %d attempts", m.Attempts), view.Bad)
	case types.ControlState:
		s.Control.Apply(m)
	case types.Ack:
		s.Input.HandleAck(m)
	default:
		s.log.Debug("unexpected control message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
