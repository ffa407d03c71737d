// Package clock abstracts wall-clock time so throttles, pollers and the
// animation tick can be driven deterministically in tests.
//
// Production code takes a Clock and uses Real(). Tests use Fake() and move
// time forward with Advance; timers and tickers whose deadline is reached
// fire synchronously inside Advance.
package clock

import "time"

// Clock is the subset of the time package the viewer schedules with.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once after d. The returned Timer cancels it.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C every d. Slow consumers drop ticks.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a cancelable one-shot task.
type Timer struct {
	stop func() bool
}

// Stop cancels the task. It reports false if it already ran or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker is a cancelable periodic task.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
