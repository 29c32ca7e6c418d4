package wiim

import (
	"sync"
	"time"
)

// fakeClock drives time-dependent code deterministically. Sleep returns
// immediately and records the requested duration; After and Ticker hand out
// channels the test fires by hand.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	afterCh chan time.Time
	tickCh  chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		afterCh: make(chan time.Time, 1),
		tickCh:  make(chan time.Time, 1),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	return c.afterCh
}

func (c *fakeClock) Ticker(d time.Duration) Ticker {
	return &fakeTicker{ch: c.tickCh}
}

func (c *fakeClock) recordedSleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) fireAfter() {
	c.afterCh <- c.Now()
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()                  {}
