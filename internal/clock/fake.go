package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance or Set is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	waiters map[int]*waiter
}

type waiter struct {
	id       int
	deadline time.Time
	period   time.Duration // zero for one-shot timers
	fire     func(now time.Time)
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial, waiters: make(map[int]*waiter)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	id := c.add(d, 0, func(time.Time) { f() })
	c.mu.Unlock()
	return &Timer{stop: func() bool { return c.remove(id) }}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	id := c.add(d, d, func(now time.Time) {
		select {
		case ch <- now:
		default:
		}
	})
	c.mu.Unlock()
	return &Ticker{C: ch, stop: func() { c.remove(id) }}
}

// Pending returns the number of scheduled timers and tickers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Advance moves time forward by d, firing every waiter whose deadline is
// reached in deadline order. Tickers fire once per elapsed period.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	c.runUntil(target)
}

func (c *FakeClock) runUntil(target time.Time) {
	for {
		c.mu.Lock()
		w := c.earliest()
		if w == nil || w.deadline.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = w.deadline
		if w.period > 0 {
			w.deadline = w.deadline.Add(w.period)
		} else {
			delete(c.waiters, w.id)
		}
		now := c.now
		c.mu.Unlock()
		w.fire(now)
	}
}

func (c *FakeClock) add(d, period time.Duration, fire func(time.Time)) int {
	c.nextID++
	id := c.nextID
	c.waiters[id] = &waiter{id: id, deadline: c.now.Add(d), period: period, fire: fire}
	return id
}

func (c *FakeClock) remove(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.waiters[id]; !ok {
		return false
	}
	delete(c.waiters, id)
	return true
}

func (c *FakeClock) earliest() *waiter {
	if len(c.waiters) == 0 {
		return nil
	}
	all := make([]*waiter, 0, len(c.waiters))
	for _, w := range c.waiters {
		all = append(all, w)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].deadline.Equal(all[j].deadline) {
			return all[i].id < all[j].id
		}
		return all[i].deadline.Before(all[j].deadline)
	})
	return all[0]
}
