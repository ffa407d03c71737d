package control

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamviewer/internal/channel"
	"streamviewer/internal/types"
	"streamviewer/internal/view"
)

type emitted struct {
	name  types.Channel
	event string
	ack   bool
}

type fakeEmitter struct {
	up   bool
	sent []emitted
}

func (f *fakeEmitter) Emit(name types.Channel, msg types.Outbound, ack bool) error {
	if !f.up {
		return channel.ErrNotConnected
	}
	f.sent = append(f.sent, emitted{name, msg.Event(), ack})
	return nil
}

func strp(s string) *string { return &s }

func TestInputEnabledTruthTable(t *testing.T) {
	holders := map[string]*string{"none": nil, "me": strp("me"), "other": strp("other")}
	for _, connected := range []bool{false, true} {
		for _, paused := range []bool{false, true} {
			for hname, holder := range holders {
				t.Run(fmt.Sprintf("connected=%v/paused=%v/holder=%s", connected, paused, hname), func(t *testing.T) {
					m := New(&fakeEmitter{}, view.New(nil), nil, nil)
					if connected {
						m.Connected("me")
					}
					m.Apply(types.ControlState{HolderSID: holder, Paused: paused})

					want := connected && paused && hname == "me"
					assert.Equal(t, want, m.InputEnabled())
					assert.Equal(t, want, m.view.Viewer.CtrlEnabled())
				})
			}
		}
	}
}

func TestDisconnectDisablesInput(t *testing.T) {
	m := New(&fakeEmitter{}, view.New(nil), nil, nil)
	m.Connected("me")
	m.Apply(types.ControlState{HolderSID: strp("me"), Paused: true})
	require.True(t, m.InputEnabled())

	m.Disconnected()
	assert.False(t, m.InputEnabled())
	assert.False(t, m.HeldByMe())
	assert.Equal(t, "me", m.State().Holder(), "last state is kept")

	text, variant := m.view.Ctrl.Get()
	assert.Equal(t, "control: held", text)
	assert.Equal(t, view.Warn, variant)
}

func TestPhase(t *testing.T) {
	m := New(&fakeEmitter{}, view.New(nil), nil, nil)
	assert.Equal(t, Free, m.Phase())
	m.Apply(types.ControlState{HolderSID: strp("x")})
	assert.Equal(t, HeldActive, m.Phase())
	m.Apply(types.ControlState{HolderSID: strp("x"), Paused: true})
	assert.Equal(t, HeldPaused, m.Phase())
	m.Apply(types.ControlState{Paused: true})
	assert.Equal(t, Free, m.Phase())
	assert.Equal(t, "held-paused", HeldPaused.String())
}

func TestRenderPillAndButtons(t *testing.T) {
	v := view.New(nil)
	m := New(&fakeEmitter{}, v, nil, nil)
	assert.Equal(t, view.ButtonState{}, v.Buttons.Get(), "nothing enabled while disconnected")

	m.Connected("me")
	assert.Equal(t, view.ButtonState{Take: true}, v.Buttons.Get())

	since := 1700000000.5
	m.Apply(types.ControlState{HolderSID: strp("me"), HeldSince: &since})
	text, variant := v.Ctrl.Get()
	assert.Equal(t, "control: you", text)
	assert.Equal(t, view.Good, variant)
	assert.Equal(t, view.ButtonState{Release: true, Pause: true}, v.Buttons.Get())
	assert.Equal(t, "me", v.Holder.Get())
	assert.NotEqual(t, view.Placeholder, v.HeldSince.Get())
	assert.Equal(t, "false", v.Paused.Get())

	m.Apply(types.ControlState{HolderSID: strp("me"), HeldSince: &since, Paused: true})
	assert.Equal(t, view.ButtonState{Release: true, Resume: true}, v.Buttons.Get())
	assert.Equal(t, "true", v.Paused.Get())

	m.Apply(types.ControlState{HolderSID: strp("other")})
	assert.Equal(t, view.ButtonState{}, v.Buttons.Get())

	m.Apply(types.ControlState{})
	text, _ = v.Ctrl.Get()
	assert.Equal(t, "control: free", text)
	assert.Equal(t, view.Placeholder, v.Holder.Get())
	assert.Equal(t, view.Placeholder, v.HeldSince.Get())
}

func TestRequestsDoNotMutateState(t *testing.T) {
	em := &fakeEmitter{up: true}
	m := New(em, view.New(nil), nil, nil)
	m.Connected("me")

	require.NoError(t, m.TakeControl())
	require.NoError(t, m.PauseAgent())
	require.NoError(t, m.ResumeAgent())
	require.NoError(t, m.ReleaseControl())

	assert.Equal(t, Free, m.Phase())
	assert.False(t, m.InputEnabled())
	assert.Equal(t, []emitted{
		{types.ChannelControl, types.EventTakeControl, false},
		{types.ChannelControl, types.EventPauseAgent, false},
		{types.ChannelControl, types.EventResumeAgent, false},
		{types.ChannelControl, types.EventReleaseControl, false},
	}, em.sent)
}

func TestTakeOver(t *testing.T) {
	em := &fakeEmitter{up: true}
	v := view.New(nil)
	m := New(em, v, nil, nil)

	require.NoError(t, m.TakeOver())
	require.Len(t, em.sent, 2)
	assert.Equal(t, types.EventTakeControl, em.sent[0].event)
	assert.Equal(t, types.EventPauseAgent, em.sent[1].event)
	assert.True(t, v.Viewer.Focused())

	em.up = false
	assert.ErrorIs(t, m.TakeOver(), channel.ErrNotConnected)
}
