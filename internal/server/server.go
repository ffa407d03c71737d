// Package server is a development remote that speaks the viewer's wire
// protocol: Socket.IO over websocket on the stream and control namespaces,
// plus the auth and health endpoints. It arbitrates the control lock and
// relays frames from a FrameSource.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"streamviewer/internal/clients"
	"streamviewer/internal/clock"
	"streamviewer/internal/config"
	"streamviewer/internal/logger"
	"streamviewer/internal/metrics"
	"streamviewer/internal/types"
)

// ErrAPIKeyRequired is returned by New when auth is enabled without a
// shared secret.
var ErrAPIKeyRequired = errors.New("auth is enabled but no API key is configured")

const (
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
)

type Options struct {
	Config           config.Remote
	APIKey           string
	StreamNamespace  string
	ControlNamespace string
	SocketPath       string

	Source FrameSource
	Sink   InputSink

	PingInterval time.Duration
	PingTimeout  time.Duration

	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

type Server struct {
	opts Options
	clk  clock.Clock
	log  *zap.Logger
	m    *metrics.Metrics

	clients *clients.Manager
	lock    *ControlLock
	nonces  *NonceStore
	stats   *Stats

	connects *limiters
	events   *limiters

	sessionID string
	// seq is owned by the streamer loop.
	seq int
}

func New(opts Options) (*Server, error) {
	if opts.Config.AuthRequired && opts.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if opts.StreamNamespace == "" {
		opts.StreamNamespace = "/stream"
	}
	if opts.ControlNamespace == "" {
		opts.ControlNamespace = "/ctrl"
	}
	if opts.SocketPath == "" {
		opts.SocketPath = "/socket.io/"
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	if opts.Config.Mode == "" {
		opts.Config.Mode = types.ModeCDP
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Source == nil {
		opts.Source = NewPatternSource(0, 0, opts.Config.Mode, opts.Config.Quality)
	}
	log := logger.OrNop(opts.Log).Named("remote")
	if opts.Sink == nil {
		opts.Sink = LogSink{Log: log}
	}

	return &Server{
		opts:      opts,
		clk:       opts.Clock,
		log:       log,
		m:         metrics.Or(opts.Metrics),
		clients:   clients.NewManager(),
		lock:      NewControlLock(opts.Clock),
		nonces:    NewNonceStore(opts.Clock, opts.Config.NonceTTL, opts.Config.NonceUses),
		stats:     NewStats(opts.Config.Mode),
		connects:  newLimiters(opts.Config.ConnectsPerMinute),
		events:    newLimiters(opts.Config.EventsPerMinute),
		sessionID: uuid.NewString(),
	}, nil
}

// Handler routes the HTTP endpoints and the Socket.IO upgrade.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/auth/config", s.handleAuthConfig)
		r.Get("/auth/nonce", s.handleNonce)
		r.Get("/healthz", s.handleHealth)
	})
	r.Handle(s.opts.SocketPath, http.HandlerFunc(s.serveSocket))
	r.Handle("/metrics", s.m.Handler())
	return r
}

// ListenAndServe runs the HTTP server and the streamer until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	streamer := s.StartStreamer(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", srv.Addr),
			zap.String("mode", s.opts.Config.Mode), zap.Bool("auth_required", s.opts.Config.AuthRequired))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		cancel()
		<-streamer
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	err := srv.Shutdown(shutdownCtx)
	<-streamer
	return errors.Wrap(err, "shutdown")
}

// Lock exposes the control lock.
func (s *Server) Lock() *ControlLock { return s.lock }

// Stats exposes the streamer counters.
func (s *Server) Stats() *Stats { return s.stats }

func (s *Server) handleAuthConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := types.AuthConfig{AuthRequired: s.opts.Config.AuthRequired}
	if cfg.AuthRequired {
		cfg.NonceTTLSeconds = int(s.nonces.ttl / time.Second)
		cfg.NonceUses = s.nonces.uses
		cfg.PerSIDEventsPerMinute = s.opts.Config.EventsPerMinute
		cfg.PerSIDConnectsPerMinute = s.opts.Config.ConnectsPerMinute
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleNonce(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.nonces.Issue())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// limiters holds one token bucket per key, refilled at perMinute per
// minute. A non-positive rate disables limiting. Keys idle for a full
// refill window are swept, since their buckets are full again.
type limiters struct {
	mu        sync.Mutex
	perMinute int
	byKey     map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	last time.Time
}

const limiterIdle = time.Minute

func newLimiters(perMinute int) *limiters {
	return &limiters{perMinute: perMinute, byKey: make(map[string]*limiterEntry)}
}

func (l *limiters) allow(key string, now time.Time) bool {
	if l.perMinute <= 0 {
		return true
	}
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= limiterIdle {
		l.sweep(now)
	}
	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)}
		l.byKey[key] = e
	}
	e.last = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// sweep drops idle keys. Caller holds mu.
func (l *limiters) sweep(now time.Time) {
	for k, e := range l.byKey {
		if now.Sub(e.last) >= limiterIdle {
			delete(l.byKey, k)
		}
	}
	l.lastSweep = now
}

func (l *limiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

func (l *limiters) forget(key string) {
	l.mu.Lock()
	delete(l.byKey, key)
	l.mu.Unlock()
}
