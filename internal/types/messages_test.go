package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	msg, err := DecodeInbound(EventControlState, json.RawMessage(
		`{"holder_sid":"abc","held_since_ts":1700000000.5,"paused":true,"active_session_id":null}`))
	require.NoError(t, err)
	s, ok := msg.(ControlState)
	require.True(t, ok)
	assert.Equal(t, "abc", s.Holder())
	assert.True(t, s.Paused)
	assert.Nil(t, s.ActiveSessionID)

	msg, err = DecodeInbound(EventFrame, json.RawMessage(`{"seq":7,"data_base64":"AA==","latency_ms":12.5}`))
	require.NoError(t, err)
	assert.Equal(t, Frame{Seq: 7, DataBase64: "AA==", LatencyMS: 12.5}, msg)

	msg, err = DecodeInbound(EventBrowserUpdate, json.RawMessage(`{"mime_type":"image/png","image_base64":"AA=="}`))
	require.NoError(t, err)
	assert.Equal(t, BrowserUpdate{MimeType: "image/png", ImageBase64: "AA=="}, msg)

	msg, err = DecodeInbound(EventControlState, nil)
	require.NoError(t, err)
	assert.Equal(t, ControlState{}, msg, "a missing argument is an empty snapshot")
}

func TestDecodeInboundErrors(t *testing.T) {
	_, err := DecodeInbound("chat", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	_, err = DecodeInbound(EventFrame, json.RawMessage(`{"seq":"seven"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode frame")
}

func TestControlStateHelpers(t *testing.T) {
	var free ControlState
	assert.False(t, free.Held())
	assert.Equal(t, "", free.Holder())
	assert.True(t, free.HeldSinceTime().IsZero())

	sid, ts := "abc", 1700000000.25
	held := ControlState{HolderSID: &sid, HeldSince: &ts}
	assert.True(t, held.Held())
	assert.Equal(t, time.Unix(1700000000, 250_000_000), held.HeldSinceTime())

	empty := ""
	assert.False(t, ControlState{HolderSID: &empty, HeldSince: &ts}.Held())
}

func TestOutboundEventNames(t *testing.T) {
	for want, msg := range map[string]Outbound{
		"take_control":  TakeControl{},
		"pause_agent":   PauseAgent{},
		"input_click":   InputClick{},
		"input_keydown": InputKeyDown{},
		"input_type":    InputType{},
	} {
		assert.Equal(t, want, msg.Event())
	}
}
