package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamviewer/internal/auth"
	"streamviewer/internal/clock"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestControlLockTakeOnlyWhenFree(t *testing.T) {
	l := NewControlLock(clock.Fake(epoch))

	assert.Equal(t, Applied, l.Take("a"))
	assert.Equal(t, Unchanged, l.Take("a"))
	assert.Equal(t, AlreadyHeld, l.Take("b"))

	s := l.Snapshot()
	assert.Equal(t, "a", s.Holder())
	require.NotNil(t, s.HeldSince)
	assert.Equal(t, float64(epoch.Unix()), *s.HeldSince)
	assert.False(t, s.Paused)
}

func TestControlLockHolderOnlyOperations(t *testing.T) {
	l := NewControlLock(clock.Fake(epoch))
	assert.Equal(t, NotHolder, l.Pause("a"))
	assert.Equal(t, NotHolder, l.Release(""))

	l.Take("a")
	assert.Equal(t, NotHolder, l.Pause("b"))
	assert.Equal(t, Applied, l.Pause("a"))
	assert.True(t, l.Paused())
	assert.Equal(t, NotHolder, l.Resume("b"))
	assert.Equal(t, Applied, l.Resume("a"))
	assert.False(t, l.Paused())

	assert.Equal(t, NotHolder, l.Release("b"))
	assert.Equal(t, Applied, l.Release("a"))
	assert.False(t, l.Snapshot().Held())
}

func TestControlLockClearIfHolder(t *testing.T) {
	l := NewControlLock(clock.Fake(epoch))
	l.Take("a")
	l.Pause("a")

	assert.False(t, l.ClearIfHolder("b"))
	assert.True(t, l.IsHolder("a"))
	assert.True(t, l.ClearIfHolder("a"))

	s := l.Snapshot()
	assert.Nil(t, s.HolderSID)
	assert.Nil(t, s.HeldSince)
	assert.False(t, s.Paused, "a cleared lock resumes the agent")
}

func TestNonceUsesAndExpiry(t *testing.T) {
	clk := clock.Fake(epoch)
	store := NewNonceStore(clk, time.Minute, 2)

	n := store.Issue()
	assert.Equal(t, float64(epoch.Add(time.Minute).Unix()), n.ExpiresAt)
	sig := auth.Sign("secret", n.Nonce)

	assert.False(t, store.Validate(n.Nonce, auth.Sign("wrong", n.Nonce), "secret"))
	assert.False(t, store.Validate(n.Nonce, "not-hex", "secret"))
	assert.True(t, store.Validate(n.Nonce, sig, "secret"), "bad signatures do not consume uses")
	assert.True(t, store.Validate(n.Nonce, sig, "secret"))
	assert.False(t, store.Validate(n.Nonce, sig, "secret"))
	assert.Zero(t, store.Len())

	expired := store.Issue()
	clk.Advance(time.Minute + time.Second)
	assert.False(t, store.Validate(expired.Nonce, auth.Sign("secret", expired.Nonce), "secret"))
	assert.False(t, store.Validate("unknown", sig, "secret"))
}

func TestNonceStoreCollectsExpired(t *testing.T) {
	clk := clock.Fake(epoch)
	store := NewNonceStore(clk, 10*time.Second, 4)
	store.Issue()
	store.Issue()
	require.Equal(t, 2, store.Len())

	clk.Advance(11 * time.Second)
	store.Issue()
	assert.Equal(t, 1, store.Len())
}

func TestStatsSampling(t *testing.T) {
	s := NewStats("cdp")
	for seq := 1; seq <= 25; seq++ {
		s.FrameEmitted(seq, 1.5, 10)
	}
	h := s.Snapshot()
	assert.Equal(t, "cdp", h.StreamingMode)
	assert.Equal(t, 25, h.FramesEmitted)
	assert.Equal(t, 25, h.SamplerTotals.Seen)
	assert.Equal(t, 2, h.SamplerTotals.Stored)
	require.NotNil(t, h.LastFrameSeq)
	assert.Equal(t, 25, *h.LastFrameSeq)
	require.NotNil(t, h.FrameLatencyMS)
	assert.Equal(t, 1.5, *h.FrameLatencyMS)
}
