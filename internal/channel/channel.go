// Package channel maintains the viewer's Socket.IO connections.
//
// A Channel is one namespace on its own websocket. Connect starts a
// supervisor that performs the handshake, pumps inbound packets to the
// sink and reconnects after transport drops. Reconnection is bounded per
// outage; a namespace rejection or a server-initiated disconnect ends the
// supervisor for good. Everything the session needs to know, including
// lifecycle changes and ack results, is delivered to the sink as a
// types.Inbound value on the supervisor goroutine.
package channel

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"streamviewer/internal/logger"
	"streamviewer/internal/metrics"
	"streamviewer/internal/sio"
	"streamviewer/internal/types"
)

// ErrNotConnected is returned by Emit while the channel has no live
// namespace connection.
var ErrNotConnected = errors.New("channel: not connected")

// Disconnect reasons, named as socket.io-client names them.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

const writeWait = 5 * time.Second

// Sink receives every inbound message of a channel.
type Sink func(types.Channel, types.Inbound)

// Config is shared by every channel a Manager creates.
type Config struct {
	// URL is the websocket endpoint, see Endpoint.
	URL string

	// MaxAttempts bounds handshake attempts per outage. Zero means unbounded.
	MaxAttempts int

	HandshakeTimeout time.Duration

	// BackOff builds the delay policy for one reconnect cycle.
	BackOff func() backoff.BackOff

	Dialer  *websocket.Dialer
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// RejectedError is a CONNECT_ERROR from the server. It is never retried.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return "namespace rejected: " + e.Message }

// Endpoint builds the Engine.IO websocket URL for an http(s) base URL.
func Endpoint(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	if path == "" {
		path = "/socket.io/"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(path, "/") + "/"
	u.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	return u.String(), nil
}

// ExponentialBackOff returns a factory for reconnect delays growing from
// initial to max with jitter, without an elapsed-time limit.
func ExponentialBackOff(initial, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.Multiplier = 2
		b.RandomizationFactor = 0.5
		b.MaxElapsedTime = 0
		return b
	}
}

type link struct {
	conn *websocket.Conn
	sid  string
	// pingWindow is pingInterval+pingTimeout from the open packet.
	pingWindow time.Duration
}

// Channel is one Socket.IO namespace connection.
type Channel struct {
	name      types.Channel
	namespace string
	cfg       Config
	sink      Sink
	log       *zap.Logger
	metrics   *metrics.Metrics

	writeMu sync.Mutex

	// lifeMu serializes Connect and Close.
	lifeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	sid     string
	nextID  int
	pending map[int]string
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns an idle channel for namespace. Connect starts it.
func New(name types.Channel, namespace string, cfg Config, sink Sink) *Channel {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.BackOff == nil {
		cfg.BackOff = ExponentialBackOff(time.Second, 5*time.Second)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if sink == nil {
		sink = func(types.Channel, types.Inbound) {}
	}
	return &Channel{
		name:      name,
		namespace: namespace,
		cfg:       cfg,
		sink:      sink,
		log:       logger.OrNop(cfg.Log).With(zap.String("channel", string(name)), zap.String("namespace", namespace)),
		metrics:   metrics.Or(cfg.Metrics),
		pending:   make(map[int]string),
	}
}

func (c *Channel) Name() types.Channel { return c.name }

// Connected reports whether the namespace handshake has completed and the
// transport is up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SID is the server-assigned socket id, or "" while disconnected.
func (c *Channel) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Connect stops any running supervisor and starts a new one that attaches
// cred to every handshake. A nil cred connects without auth.
func (c *Channel) Connect(cred *types.Credential) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	c.stop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel, c.done = cancel, done
	c.mu.Unlock()
	go c.supervise(ctx, cred, done)
}

// Close disconnects from the namespace and stops reconnecting. It returns
// once the supervisor has exited.
func (c *Channel) Close() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	c.stop()
}

func (c *Channel) stop() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	if conn != nil {
		p := sio.Packet{Type: sio.Disconnect, Namespace: c.namespace, ID: sio.NoID}
		if err := c.write(conn, sio.Encode(p)); err != nil {
			c.log.Debug("disconnect packet not sent", zap.Error(err))
		}
	}
	cancel()
	<-done
}

// Emit sends msg as an event. With ack, the server's reply is delivered to
// the sink as a types.Ack carrying the event name.
func (c *Channel) Emit(msg types.Outbound, ack bool) error {
	event := msg.Event()
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	id := sio.NoID
	if ack {
		id = c.nextID
		c.nextID++
		c.pending[id] = event
	}
	c.mu.Unlock()

	p, err := sio.EventPacket(c.namespace, id, event, msg)
	if err == nil {
		err = c.write(conn, sio.Encode(p))
	}
	if err != nil {
		if ack {
			c.mu.Lock()
			delete(c.pending, id)
			c.mu.Unlock()
		}
		return errors.Wrapf(err, "emit %s", event)
	}
	return nil
}

func (c *Channel) supervise(ctx context.Context, cred *types.Credential, done chan struct{}) {
	defer close(done)
	for {
		l, err := c.dial(ctx, cred)
		if err != nil {
			return
		}

		c.mu.Lock()
		c.conn, c.sid = l.conn, l.sid
		c.mu.Unlock()
		c.log.Info("connected", zap.String("sid", l.sid))
		c.sink(c.name, types.Connected{SID: l.sid})

		reason := c.read(ctx, l)

		c.mu.Lock()
		c.conn, c.sid = nil, ""
		c.pending = make(map[int]string)
		c.mu.Unlock()
		_ = l.conn.Close()
		c.log.Info("disconnected", zap.String("reason", reason))
		c.sink(c.name, types.Disconnected{Reason: reason})

		if reason == ReasonServerDisconnect || reason == ReasonClientDisconnect {
			return
		}
	}
}

// dial runs one bounded reconnect cycle.
func (c *Channel) dial(ctx context.Context, cred *types.Credential) (link, error) {
	var (
		l        link
		attempts int
		rejected *RejectedError
	)

	var b backoff.BackOff
	switch {
	case c.cfg.MaxAttempts == 1:
		b = &backoff.StopBackOff{}
	case c.cfg.MaxAttempts > 1:
		b = backoff.WithMaxRetries(c.cfg.BackOff(), uint64(c.cfg.MaxAttempts-1))
	default:
		b = c.cfg.BackOff()
	}

	op := func() error {
		attempts++
		got, err := c.handshake(ctx, cred)
		if err == nil {
			l = got
			c.metrics.ConnectAttempts.WithLabelValues(string(c.name), "ok").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		msg := err.Error()
		isRejected := errors.As(err, &rejected)
		if isRejected {
			msg = rejected.Message
		}
		c.sink(c.name, types.ConnectError{Message: msg, Rejected: isRejected})
		if isRejected {
			c.metrics.ConnectAttempts.WithLabelValues(string(c.name), "rejected").Inc()
			return backoff.Permanent(err)
		}
		c.metrics.ConnectAttempts.WithLabelValues(string(c.name), "error").Inc()
		return err
	}
	notify := func(err error, next time.Duration) {
		c.log.Debug("handshake failed, retrying",
			zap.Error(err), zap.Int("attempt", attempts), zap.Duration("next", next))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err == nil {
		return l, nil
	}
	switch {
	case ctx.Err() != nil:
	case rejected != nil:
		c.log.Warn("namespace rejected", zap.String("message", rejected.Message))
	default:
		c.log.Warn("reconnect attempts exhausted", zap.Int("attempts", attempts), zap.Error(err))
		c.sink(c.name, types.ReconnectFailed{Attempts: attempts})
	}
	return l, err
}

// handshake dials, reads the open packet and joins the namespace, all
// within HandshakeTimeout.
func (c *Channel) handshake(ctx context.Context, cred *types.Credential) (link, error) {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := c.cfg.Dialer.DialContext(hctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if hctx.Err() == context.DeadlineExceeded {
			return link{}, errors.New("timeout")
		}
		return link{}, errors.Wrap(err, "websocket error")
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	deadline, _ := hctx.Deadline()
	_ = conn.SetReadDeadline(deadline)

	l, err := c.join(conn, cred)
	if err != nil {
		_ = conn.Close()
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return link{}, errors.New("timeout")
		}
		return link{}, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return l, nil
}

func (c *Channel) join(conn *websocket.Conn, cred *types.Credential) (link, error) {
	l := link{conn: conn}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return l, errors.Wrap(err, "read open packet")
	}
	et, body, err := sio.SplitEngine(string(data))
	if err != nil {
		return l, err
	}
	if et != sio.EngineOpen {
		return l, errors.Errorf("expected open packet, got %q", data)
	}
	var open sio.Open
	if err := json.Unmarshal([]byte(body), &open); err != nil {
		return l, errors.Wrap(err, "decode open packet")
	}
	l.pingWindow = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond

	var auth any
	if cred != nil {
		auth = cred
	}
	p, err := sio.ConnectPacket(c.namespace, auth)
	if err != nil {
		return l, err
	}
	if err := c.write(conn, sio.Encode(p)); err != nil {
		return l, errors.Wrap(err, "send connect")
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return l, errors.Wrap(err, "await namespace ack")
		}
		et, body, err := sio.SplitEngine(string(data))
		if err != nil {
			continue
		}
		switch et {
		case sio.EnginePing:
			if err := c.write(conn, sio.EncodeEngine(sio.EnginePong, body)); err != nil {
				return l, errors.Wrap(err, "pong")
			}
			continue
		case sio.EngineClose:
			return l, errors.New("transport closed during handshake")
		case sio.EngineMessage:
		default:
			continue
		}

		p, err := sio.Decode(body)
		if err != nil || p.Namespace != c.namespace {
			continue
		}
		switch p.Type {
		case sio.Connect:
			var ack struct {
				SID string `json:"sid"`
			}
			if len(p.Data) > 0 {
				if err := json.Unmarshal(p.Data, &ack); err != nil {
					return l, errors.Wrap(err, "decode connect ack")
				}
			}
			l.sid = ack.SID
			return l, nil
		case sio.ConnectError:
			return l, &RejectedError{Message: p.ErrorMessage()}
		}
	}
}

// read pumps packets until the link ends and returns the disconnect reason.
func (c *Channel) read(ctx context.Context, l link) string {
	stop := context.AfterFunc(ctx, func() { _ = l.conn.Close() })
	defer stop()

	for {
		if l.pingWindow > 0 {
			_ = l.conn.SetReadDeadline(time.Now().Add(l.pingWindow))
		}
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ReasonClientDisconnect
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return ReasonPingTimeout
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ReasonTransportClose
			}
			c.log.Debug("read failed", zap.Error(err))
			return ReasonTransportError
		}

		et, body, err := sio.SplitEngine(string(data))
		if err != nil {
			c.log.Debug("dropping frame", zap.Error(err))
			continue
		}
		switch et {
		case sio.EnginePing:
			if err := c.write(l.conn, sio.EncodeEngine(sio.EnginePong, body)); err != nil {
				return ReasonTransportError
			}
		case sio.EngineClose:
			return ReasonTransportClose
		case sio.EngineMessage:
			if reason, done := c.handle(body); done {
				return reason
			}
		}
	}
}

func (c *Channel) handle(body string) (string, bool) {
	p, err := sio.Decode(body)
	if err != nil {
		c.log.Debug("dropping packet", zap.Error(err))
		return "", false
	}
	if p.Namespace != c.namespace {
		return "", false
	}
	switch p.Type {
	case sio.Disconnect:
		return ReasonServerDisconnect, true
	case sio.Event:
		c.handleEvent(p)
	case sio.Ack:
		c.handleAck(p)
	}
	return "", false
}

func (c *Channel) handleEvent(p sio.Packet) {
	name, args, err := p.EventName()
	if err != nil {
		c.log.Debug("malformed event", zap.Error(err))
		return
	}
	var arg json.RawMessage
	if len(args) > 0 {
		arg = args[0]
	}
	msg, err := types.DecodeInbound(name, arg)
	if errors.Is(err, types.ErrUnknownEvent) {
		c.log.Debug("ignoring event", zap.String("event", name))
		return
	}
	if err != nil {
		c.log.Warn("undecodable event", zap.String("event", name), zap.Error(err))
		return
	}
	c.sink(c.name, msg)
}

func (c *Channel) handleAck(p sio.Packet) {
	c.mu.Lock()
	event, ok := c.pending[p.ID]
	delete(c.pending, p.ID)
	c.mu.Unlock()
	if !ok {
		return
	}

	var ack types.Ack
	if args, err := p.Args(); err == nil && len(args) > 0 {
		if err := json.Unmarshal(args[0], &ack); err != nil {
			c.log.Debug("undecodable ack", zap.String("event", event), zap.Error(err))
			ack = types.Ack{}
		}
	}
	ack.Event = event
	c.sink(c.name, ack)
}

func (c *Channel) write(conn *websocket.Conn, frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}
