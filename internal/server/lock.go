package server

import (
	"sync"
	"time"

	"streamviewer/internal/clock"
	"streamviewer/internal/types"
)

// Outcome of a lock request.
type Outcome string

const (
	Applied     Outcome = "applied"
	Unchanged   Outcome = "unchanged"
	AlreadyHeld Outcome = "already_held"
	NotHolder   Outcome = "not_holder"
)

// ControlLock is the authoritative single-writer lock. Only the holder can
// release it or toggle the agent's pause flag.
type ControlLock struct {
	mu     sync.Mutex
	clk    clock.Clock
	holder string
	since  time.Time
	paused bool
}

func NewControlLock(clk clock.Clock) *ControlLock {
	if clk == nil {
		clk = clock.Real()
	}
	return &ControlLock{clk: clk}
}

// Take grants the lock to sid if it is free. A fresh hold starts with the
// agent running.
func (l *ControlLock) Take(sid string) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.holder {
	case "":
		l.holder, l.since, l.paused = sid, l.clk.Now(), false
		return Applied
	case sid:
		return Unchanged
	default:
		return AlreadyHeld
	}
}

func (l *ControlLock) Release(sid string) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != sid || sid == "" {
		return NotHolder
	}
	l.clearLocked()
	return Applied
}

func (l *ControlLock) Pause(sid string) Outcome  { return l.setPaused(sid, true) }
func (l *ControlLock) Resume(sid string) Outcome { return l.setPaused(sid, false) }

func (l *ControlLock) setPaused(sid string, paused bool) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != sid || sid == "" {
		return NotHolder
	}
	l.paused = paused
	return Applied
}

// ClearIfHolder frees the lock when sid holds it, as happens when the
// holder disconnects.
func (l *ControlLock) ClearIfHolder(sid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != sid || sid == "" {
		return false
	}
	l.clearLocked()
	return true
}

func (l *ControlLock) Clear() {
	l.mu.Lock()
	l.clearLocked()
	l.mu.Unlock()
}

func (l *ControlLock) clearLocked() {
	l.holder, l.since, l.paused = "", time.Time{}, false
}

func (l *ControlLock) IsHolder(sid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sid != "" && l.holder == sid
}

func (l *ControlLock) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Snapshot renders the lock as broadcast in control_state.
func (l *ControlLock) Snapshot() types.ControlState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := types.ControlState{Paused: l.paused}
	if l.holder != "" {
		holder := l.holder
		since := float64(l.since.UnixNano()) / 1e9
		s.HolderSID, s.HeldSince = &holder, &since
	}
	return s
}
