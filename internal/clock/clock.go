// Package clock abstracts time so the settle delay, reconnect backoff
// and janitor cadence can be driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by the relay.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	// If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker delivers ticks every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. C has capacity 1; late ticks are dropped.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}
