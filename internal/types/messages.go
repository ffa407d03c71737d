package types

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Event names on the wire.
const (
	EventControlState   = "control_state"
	EventFrame          = "frame"
	EventBrowserUpdate  = "browser_update"
	EventTakeControl    = "take_control"
	EventReleaseControl = "release_control"
	EventPauseAgent     = "pause_agent"
	EventResumeAgent    = "resume_agent"
	EventInputClick     = "input_click"
	EventInputMove      = "input_move"
	EventInputWheel     = "input_wheel"
	EventInputKeyDown   = "input_keydown"
	EventInputKeyUp     = "input_keyup"
	EventInputType      = "input_type"
)

// ErrUnknownEvent is returned by DecodeInbound for events the viewer does
// not consume.
var ErrUnknownEvent = errors.New("unknown event")

// Inbound is anything a channel delivers to the session: server events,
// ack results and connection lifecycle signals.
type Inbound interface {
	inbound()
}

// Connected is delivered once a namespace handshake succeeds.
type Connected struct {
	SID string
}

// Disconnected is delivered when an established channel drops.
type Disconnected struct {
	Reason string
}

// ConnectError is delivered for every failed handshake attempt. Rejected is
// set when the server refused the namespace connect, which is not retried.
type ConnectError struct {
	Message  string
	Rejected bool
}

// ReconnectFailed is delivered when the attempt cap is exhausted.
type ReconnectFailed struct {
	Attempts int
}

// Ack carries the remote's verdict on one acknowledged emission.
type Ack struct {
	Event string
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Frame is a raster frame from the screencast path.
type Frame struct {
	Seq        int     `json:"seq"`
	DataBase64 string  `json:"data_base64"`
	LatencyMS  float64 `json:"latency_ms"`
	Timestamp  float64 `json:"timestamp,omitempty"`
}

// BrowserUpdate is a snapshot from the screenshot path.
type BrowserUpdate struct {
	SessionID   string  `json:"session_id,omitempty"`
	Timestamp   float64 `json:"timestamp,omitempty"`
	MimeType    string  `json:"mime_type"`
	ImageBase64 string  `json:"image_base64"`
}

func (Connected) inbound()       {}
func (Disconnected) inbound()    {}
func (ConnectError) inbound()    {}
func (ReconnectFailed) inbound() {}
func (Ack) inbound()             {}
func (Frame) inbound()           {}
func (BrowserUpdate) inbound()   {}

// DecodeInbound maps a server event and its first argument to a typed
// message.
func DecodeInbound(event string, arg json.RawMessage) (Inbound, error) {
	var (
		msg Inbound
		err error
	)
	switch event {
	case EventControlState:
		var s ControlState
		err = unmarshalArg(arg, &s)
		msg = s
	case EventFrame:
		var f Frame
		err = unmarshalArg(arg, &f)
		msg = f
	case EventBrowserUpdate:
		var u BrowserUpdate
		err = unmarshalArg(arg, &u)
		msg = u
	default:
		return nil, errors.Wrap(ErrUnknownEvent, event)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", event)
	}
	return msg, nil
}

func unmarshalArg(arg json.RawMessage, v any) error {
	if len(arg) == 0 || string(arg) == "null" {
		return nil
	}
	return json.Unmarshal(arg, v)
}
