package server

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"streamviewer/internal/clients"
	"streamviewer/internal/sio"
	"streamviewer/internal/types"
)

const (
	writeWait    = 5 * time.Second
	maxFrameSize = 1 << 20
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// conn is one Engine.IO connection. It may join several namespaces; each
// membership gets its own sid.
type conn struct {
	s    *Server
	ws   *websocket.Conn
	id   string
	addr string
	log  *zap.Logger

	writeMu sync.Mutex

	// joined is only touched by the read loop.
	joined map[string]*clients.Socket
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("EIO") != "4" || q.Get("transport") != "websocket" {
		http.Error(w, "unsupported transport", http.StatusBadRequest)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxFrameSize)

	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	c := &conn{
		s:      s,
		ws:     ws,
		id:     uuid.NewString(),
		addr:   addr,
		joined: make(map[string]*clients.Socket),
	}
	c.log = s.log.With(zap.String("conn", c.id), zap.String("addr", addr))
	go c.serve()
}

func (c *conn) serve() {
	done := make(chan struct{})
	defer func() {
		close(done)
		for ns := range c.joined {
			c.leave(ns)
		}
		_ = c.ws.Close()
	}()

	open, _ := json.Marshal(sio.Open{
		SID:          c.id,
		Upgrades:     []string{},
		PingInterval: int(c.s.opts.PingInterval / time.Millisecond),
		PingTimeout:  int(c.s.opts.PingTimeout / time.Millisecond),
		MaxPayload:   maxFrameSize,
	})
	if err := c.send(sio.EncodeEngine(sio.EngineOpen, string(open))); err != nil {
		c.log.Debug("open failed", zap.Error(err))
		return
	}
	go c.pingLoop(done)

	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.s.opts.PingInterval + c.s.opts.PingTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.log.Debug("read close", zap.Error(err))
			return
		}
		et, body, err := sio.SplitEngine(string(data))
		if err != nil {
			c.log.Debug("bad engine frame", zap.Error(err))
			continue
		}
		switch et {
		case sio.EnginePing:
			_ = c.send(sio.EncodeEngine(sio.EnginePong, body))
		case sio.EngineClose:
			return
		case sio.EngineMessage:
			c.handle(body)
		}
	}
}

func (c *conn) pingLoop(done <-chan struct{}) {
	t := c.s.clk.NewTicker(c.s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := c.send(sio.EncodeEngine(sio.EnginePing, "")); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *conn) send(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *conn) handle(body string) {
	p, err := sio.Decode(body)
	if err != nil {
		c.log.Debug("bad packet", zap.Error(err))
		return
	}
	switch p.Type {
	case sio.Connect:
		c.join(p)
	case sio.Disconnect:
		c.leave(p.Namespace)
	case sio.Event:
		sock, ok := c.joined[p.Namespace]
		if !ok {
			return
		}
		name, args, err := p.EventName()
		if err != nil {
			c.log.Debug("bad event", zap.Error(err))
			return
		}
		var arg json.RawMessage
		if len(args) > 0 {
			arg = args[0]
		}
		c.s.handleEvent(sock, name, arg, p.ID)
	}
}

// join admits the namespace connect or answers CONNECT_ERROR.
func (c *conn) join(p sio.Packet) {
	ns := p.Namespace
	if ns != c.s.opts.StreamNamespace && ns != c.s.opts.ControlNamespace {
		c.reject(ns, "Invalid namespace")
		return
	}
	if reason := c.s.authorize(c.addr, p.Data); reason != "" {
		c.log.Info("namespace connect rejected", zap.String("ns", ns), zap.String("reason", reason))
		c.reject(ns, "unauthorized")
		return
	}
	if _, ok := c.joined[ns]; ok {
		c.leave(ns)
	}

	sock := clients.NewSocket(uuid.NewString(), ns, c.addr, c.send)
	ack, err := sio.ConnectPacket(ns, map[string]string{"sid": sock.SID})
	if err != nil {
		return
	}
	if err := c.send(sio.Encode(ack)); err != nil {
		return
	}
	c.joined[ns] = sock
	c.s.clients.Add(sock)
	c.log.Info("namespace connected", zap.String("ns", ns), zap.String("sid", sock.SID))

	if ns == c.s.opts.ControlNamespace {
		if err := sock.Emit(types.EventControlState, c.s.lock.Snapshot()); err != nil {
			c.log.Debug("initial control_state failed", zap.Error(err))
		}
	}
}

func (c *conn) reject(ns, message string) {
	p := sio.Packet{Type: sio.ConnectError, Namespace: ns, ID: sio.NoID}
	p.Data, _ = json.Marshal(map[string]string{"message": message})
	_ = c.send(sio.Encode(p))
}

func (c *conn) leave(ns string) {
	sock, ok := c.joined[ns]
	if !ok {
		return
	}
	delete(c.joined, ns)
	c.s.clients.Remove(ns, sock.SID)
	c.s.events.forget(sock.SID)
	c.log.Info("namespace disconnected", zap.String("ns", ns), zap.String("sid", sock.SID))

	if ns == c.s.opts.ControlNamespace && c.s.lock.ClearIfHolder(sock.SID) {
		c.log.Info("holder left, control released", zap.String("sid", sock.SID))
		c.s.broadcastControlState()
	}
}

// authorize returns a rejection reason, or "" when the connect may proceed.
func (s *Server) authorize(addr string, payload json.RawMessage) string {
	if !s.connects.allow(addr, s.clk.Now()) {
		return "connect_rate_limited"
	}
	if !s.opts.Config.AuthRequired {
		return ""
	}
	var cred types.Credential
	if len(payload) == 0 || json.Unmarshal(payload, &cred) != nil {
		return "missing_auth"
	}
	if cred.Nonce == "" || cred.Sig == "" {
		return "missing_auth"
	}
	if !s.nonces.Validate(cred.Nonce, cred.Sig, s.opts.APIKey) {
		return "invalid_nonce"
	}
	return ""
}
