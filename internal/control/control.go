// Package control mirrors the remote's single-writer input lock.
//
// The remote is authoritative: the Machine never changes lock state on its
// own, it only replaces its copy when a control_state arrives and asks for
// changes by emitting requests. Whether local input is forwarded is
// recomputed from the mirrored fields every time it is asked.
package control

import (
	"strconv"

	"go.uber.org/zap"

	"streamviewer/internal/logger"
	"streamviewer/internal/metrics"
	"streamviewer/internal/types"
	"streamviewer/internal/view"
)

// Phase is the lock phase as seen by every viewer.
type Phase int

const (
	Free Phase = iota
	HeldActive
	HeldPaused
)

func (p Phase) String() string {
	switch p {
	case HeldActive:
		return "held-active"
	case HeldPaused:
		return "held-paused"
	default:
		return "free"
	}
}

// Emitter sends an event on a channel. channel.Manager implements it.
type Emitter interface {
	Emit(name types.Channel, msg types.Outbound, ack bool) error
}

// Machine is the client side of the lock. It must only be used from the
// session loop.
type Machine struct {
	emit    Emitter
	view    *view.View
	log     *zap.Logger
	metrics *metrics.Metrics

	state     types.ControlState
	sid       string
	connected bool
}

func New(emit Emitter, v *view.View, log *zap.Logger, m *metrics.Metrics) *Machine {
	c := &Machine{
		emit:    emit,
		view:    v,
		log:     logger.OrNop(log),
		metrics: metrics.Or(m),
	}
	c.render()
	return c
}

// Apply replaces the mirrored state wholesale and re-renders.
func (m *Machine) Apply(s types.ControlState) {
	m.state = s
	m.log.Debug("control state",
		zap.String("holder", s.Holder()), zap.Bool("paused", s.Paused), zap.Stringer("phase", m.Phase()))
	m.render()
}

// Connected records the control channel's sid.
func (m *Machine) Connected(sid string) {
	m.connected, m.sid = true, sid
	m.render()
}

// Disconnected forgets the sid. The last state is kept for display.
func (m *Machine) Disconnected() {
	m.connected, m.sid = false, ""
	m.render()
}

func (m *Machine) State() types.ControlState { return m.state }

func (m *Machine) SID() string { return m.sid }

func (m *Machine) Phase() Phase {
	switch {
	case !m.state.Held():
		return Free
	case m.state.Paused:
		return HeldPaused
	default:
		return HeldActive
	}
}

// HeldByMe reports whether this viewer's control socket holds the lock.
func (m *Machine) HeldByMe() bool {
	return m.sid != "" && m.state.Holder() == m.sid
}

// InputEnabled reports whether local input may be forwarded: the control
// channel is up, the agent is paused and this viewer holds the lock.
func (m *Machine) InputEnabled() bool {
	return m.connected && m.state.Paused && m.state.Held() && m.HeldByMe()
}

func (m *Machine) TakeControl() error    { return m.request(types.TakeControl{}) }
func (m *Machine) ReleaseControl() error { return m.request(types.ReleaseControl{}) }
func (m *Machine) PauseAgent() error     { return m.request(types.PauseAgent{}) }
func (m *Machine) ResumeAgent() error    { return m.request(types.ResumeAgent{}) }

// TakeOver asks for the lock and pauses the agent in one gesture, then
// focuses the viewer so keystrokes are captured.
func (m *Machine) TakeOver() error {
	err := m.TakeControl()
	if perr := m.PauseAgent(); err == nil {
		err = perr
	}
	m.view.Viewer.Focus()
	return err
}

func (m *Machine) request(msg types.Outbound) error {
	if err := m.emit.Emit(types.ChannelControl, msg, false); err != nil {
		m.log.Debug("control request not sent", zap.String("event", msg.Event()), zap.Error(err))
		return err
	}
	m.metrics.InputEmitted.WithLabelValues(msg.Event()).Inc()
	return nil
}

func (m *Machine) render() {
	v := m.view
	held, mine, paused := m.state.Held(), m.HeldByMe(), m.state.Paused

	holder := m.state.Holder()
	if holder == "" {
		holder = view.Placeholder
	}
	v.Holder.Set(holder)
	if since := m.state.HeldSinceTime(); since.IsZero() {
		v.HeldSince.Set(view.Placeholder)
	} else {
		v.HeldSince.Set(since.Local().Format("15:04:05"))
	}
	v.Paused.Set(strconv.FormatBool(paused))

	switch {
	case mine:
		v.Ctrl.Set("control: you", view.Good)
	case held:
		v.Ctrl.Set("control: held", view.Warn)
	default:
		v.Ctrl.Set("control: free", view.Muted)
	}

	up := m.connected
	v.Buttons.Set(view.ButtonState{
		Take:    up && !held,
		Release: up && mine,
		Pause:   up && mine && !paused,
		Resume:  up && mine && paused,
	})
	v.Viewer.SetCtrlEnabled(m.InputEnabled())
}
