package clients

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu     sync.Mutex
	frames []string
	fail   bool
}

func (o *outbox) send(frame string) error {
	if o.fail {
		return errors.New("closed")
	}
	o.mu.Lock()
	o.frames = append(o.frames, frame)
	o.mu.Unlock()
	return nil
}

func TestAddRemoveCount(t *testing.T) {
	m := NewManager()
	a := NewSocket("a", "/ctrl", "127.0.0.1", (&outbox{}).send)
	b := NewSocket("b", "/ctrl", "127.0.0.1", (&outbox{}).send)

	assert.Nil(t, m.Add(a))
	assert.Nil(t, m.Add(b))
	assert.Equal(t, 2, m.Count("/ctrl"))
	assert.Zero(t, m.Count("/stream"))
	assert.Same(t, a, m.Get("/ctrl", "a"))

	replacement := NewSocket("a", "/ctrl", "127.0.0.2", (&outbox{}).send)
	assert.Same(t, a, m.Add(replacement))
	assert.Same(t, replacement, m.Get("/ctrl", "a"))

	assert.True(t, m.Remove("/ctrl", "a"))
	assert.False(t, m.Remove("/ctrl", "a"))
	assert.False(t, m.Remove("/nope", "a"))
	assert.Nil(t, m.Get("/ctrl", "a"))
	assert.Equal(t, 1, m.Count("/ctrl"))
}

func TestBroadcastSkipsFailedSockets(t *testing.T) {
	m := NewManager()
	good, bad := &outbox{}, &outbox{fail: true}
	m.Add(NewSocket("a", "/stream", "", good.send))
	m.Add(NewSocket("b", "/stream", "", bad.send))
	other := &outbox{}
	m.Add(NewSocket("c", "/ctrl", "", other.send))

	n, err := m.Broadcast("/stream", "frame", map[string]int{"seq": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{`42/stream,["frame",{"seq":1}]`}, good.frames)
	assert.Empty(t, other.frames)
}

func TestSocketEmitAndAck(t *testing.T) {
	o := &outbox{}
	s := NewSocket("a", "/ctrl", "", o.send)
	require.NoError(t, s.Emit("control_state", map[string]bool{"paused": true}))
	require.NoError(t, s.Ack(3, map[string]any{"ok": false, "error": "not_holder"}))
	assert.Equal(t, []string{
		`42/ctrl,["control_state",{"paused":true}]`,
		`43/ctrl,3[{"error":"not_holder","ok":false}]`,
	}, o.frames)
}
