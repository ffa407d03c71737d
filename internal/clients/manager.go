package clients

import (
	"sync"

	"streamviewer/internal/sio"
)

// Socket is one namespace membership of an Engine.IO connection.
type Socket struct {
	SID        string
	Namespace  string
	RemoteAddr string

	send func(frame string) error
}

// NewSocket returns a socket that writes frames with send. send must be
// safe for concurrent use.
func NewSocket(sid, namespace, remoteAddr string, send func(frame string) error) *Socket {
	return &Socket{SID: sid, Namespace: namespace, RemoteAddr: remoteAddr, send: send}
}

// Emit sends an event with a single argument.
func (s *Socket) Emit(event string, arg any) error {
	p, err := sio.EventPacket(s.Namespace, sio.NoID, event, arg)
	if err != nil {
		return err
	}
	return s.send(sio.Encode(p))
}

// Ack answers the client's ack id.
func (s *Socket) Ack(id int, args ...any) error {
	p, err := sio.AckPacket(s.Namespace, id, args...)
	if err != nil {
		return err
	}
	return s.send(sio.Encode(p))
}

// Send writes a pre-encoded frame.
func (s *Socket) Send(frame string) error { return s.send(frame) }

// Manager tracks connected sockets keyed by namespace and sid
type Manager struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]*Socket
}

func NewManager() *Manager {
	return &Manager{namespaces: make(map[string]map[string]*Socket)}
}

func (m *Manager) getOrCreate(ns string) map[string]*Socket {
	socks, ok := m.namespaces[ns]
	if !ok {
		socks = make(map[string]*Socket)
		m.namespaces[ns] = socks
	}
	return socks
}

// Add registers s, replacing any socket with the same sid.
func (m *Manager) Add(s *Socket) (old *Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	socks := m.getOrCreate(s.Namespace)
	if prev, ok := socks[s.SID]; ok && prev != s {
		old = prev
	}
	socks[s.SID] = s
	return
}

// Remove drops the socket and reports whether it was registered.
func (m *Manager) Remove(ns, sid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	socks, ok := m.namespaces[ns]
	if !ok {
		return false
	}
	if _, ok := socks[sid]; !ok {
		return false
	}
	delete(socks, sid)
	return true
}

func (m *Manager) Get(ns, sid string) *Socket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.namespaces[ns][sid]
}

func (m *Manager) Count(ns string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[ns])
}

// ForEach executes fn with a snapshot of the namespace's sockets.
func (m *Manager) ForEach(ns string, fn func(s *Socket)) {
	m.mu.RLock()
	socks := make([]*Socket, 0, len(m.namespaces[ns]))
	for _, s := range m.namespaces[ns] {
		socks = append(socks, s)
	}
	m.mu.RUnlock()
	for _, s := range socks {
		fn(s)
	}
}

// Broadcast encodes the event once and sends it to every socket in ns. It
// returns how many sockets accepted the frame.
func (m *Manager) Broadcast(ns, event string, arg any) (int, error) {
	p, err := sio.EventPacket(ns, sio.NoID, event, arg)
	if err != nil {
		return 0, err
	}
	frame := sio.Encode(p)
	sent := 0
	m.ForEach(ns, func(s *Socket) {
		if s.send(frame) == nil {
			sent++
		}
	})
	return sent, nil
}
