package sio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	ev, err := EventPacket("/ctrl", 7, "input_click", map[string]any{"x": 1})
	require.NoError(t, err)

	cases := []struct {
		name string
		p    Packet
		want string
	}{
		{"connect root", Packet{Type: Connect, ID: NoID}, "40"},
		{"connect ns with auth", Packet{Type: Connect, Namespace: "/stream", ID: NoID, Data: json.RawMessage(`{"nonce":"n","sig":"s"}`)}, `40/stream,{"nonce":"n","sig":"s"}`},
		{"disconnect", Packet{Type: Disconnect, Namespace: "/ctrl", ID: NoID}, "41/ctrl,"},
		{"event with ack", ev, `42/ctrl,7["input_click",{"x":1}]`},
		{"ack", Packet{Type: Ack, Namespace: "/ctrl", ID: 12, Data: json.RawMessage(`[{"ok":true}]`)}, `43/ctrl,12[{"ok":true}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Encode(tc.p))
		})
	}
}

func TestDecode(t *testing.T) {
	p, err := Decode(`2/ctrl,["control_state",{"holder_sid":null,"paused":false}]`)
	require.NoError(t, err)
	assert.Equal(t, Event, p.Type)
	assert.Equal(t, "/ctrl", p.Namespace)
	assert.Equal(t, NoID, p.ID)
	name, args, err := p.EventName()
	require.NoError(t, err)
	assert.Equal(t, "control_state", name)
	require.Len(t, args, 1)

	p, err = Decode(`3/ctrl,5[{"ok":false,"error":"not_holder"}]`)
	require.NoError(t, err)
	assert.Equal(t, Ack, p.Type)
	assert.Equal(t, 5, p.ID)

	p, err = Decode(`0{"sid":"abc"}`)
	require.NoError(t, err)
	assert.Equal(t, Connect, p.Type)
	assert.Equal(t, "/", p.Namespace)
	assert.JSONEq(t, `{"sid":"abc"}`, string(p.Data))

	p, err = Decode(`1/stream`)
	require.NoError(t, err)
	assert.Equal(t, Disconnect, p.Type)
	assert.Equal(t, "/stream", p.Namespace)
}

func TestDecodeRejects(t *testing.T) {
	for _, in := range []string{"", "9", `51-["x",{"_placeholder":true,"num":0}]`, `2["unterminated"`} {
		_, err := Decode(in)
		assert.Error(t, err, in)
	}
	_, err := Decode(`51-["x"]`)
	assert.ErrorIs(t, err, ErrBinary)
}

func TestRoundTripThroughEngineFrame(t *testing.T) {
	ev, err := EventPacket("/stream", NoID, "frame", map[string]any{"seq": 3})
	require.NoError(t, err)
	frame := Encode(ev)

	et, data, err := SplitEngine(frame)
	require.NoError(t, err)
	assert.Equal(t, EngineMessage, et)
	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ev.Namespace, back.Namespace)
	assert.Equal(t, NoID, back.ID)
	assert.JSONEq(t, string(ev.Data), string(back.Data))
}

func TestSplitEngine(t *testing.T) {
	et, data, err := SplitEngine("2")
	require.NoError(t, err)
	assert.Equal(t, EnginePing, et)
	assert.Empty(t, data)

	_, _, err = SplitEngine("x")
	assert.Error(t, err)
	_, _, err = SplitEngine("")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "unauthorized", Packet{Data: json.RawMessage(`{"message":"unauthorized"}`)}.ErrorMessage())
	assert.Equal(t, "nope", Packet{Data: json.RawMessage(`"nope"`)}.ErrorMessage())
	assert.Equal(t, "connect error", Packet{}.ErrorMessage())
}

func TestAckPacketEmptyArgs(t *testing.T) {
	p, err := AckPacket("/ctrl", 1)
	require.NoError(t, err)
	assert.Equal(t, `43/ctrl,1[]`, Encode(p))
}
