package channel

import (
	"github.com/pkg/errors"

	"streamviewer/internal/types"
)

// Manager owns the stream and control channels of one session. Both are
// created with the same settings and connected with the same credential.
type Manager struct {
	Stream  *Channel
	Control *Channel
}

func NewManager(cfg Config, streamNamespace, controlNamespace string, sink Sink) *Manager {
	return &Manager{
		Stream:  New(types.ChannelStream, streamNamespace, cfg, sink),
		Control: New(types.ChannelControl, controlNamespace, cfg, sink),
	}
}

// Channel returns the channel called name, or nil.
func (m *Manager) Channel(name types.Channel) *Channel {
	switch name {
	case types.ChannelStream:
		return m.Stream
	case types.ChannelControl:
		return m.Control
	}
	return nil
}

// Connect (re)starts both channels with cred.
func (m *Manager) Connect(cred *types.Credential) {
	m.Stream.Connect(cred)
	m.Control.Connect(cred)
}

// Close disconnects both channels and waits for their supervisors.
func (m *Manager) Close() {
	m.Stream.Close()
	m.Control.Close()
}

// Emit sends msg on the named channel.
func (m *Manager) Emit(name types.Channel, msg types.Outbound, ack bool) error {
	ch := m.Channel(name)
	if ch == nil {
		return errors.Errorf("unknown channel %q", name)
	}
	return ch.Emit(msg, ack)
}
