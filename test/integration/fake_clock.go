package integration

import (
	"sync"
	"time"
)

// FakeClock implements core.Clock on a timeline that only moves when the
// test calls Add. A day of drip waiting costs a test nothing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiting []waiter
}

// waiter is one outstanding After or Sleep call.
type waiter struct {
	deadline time.Time
	fire     chan time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := waiter{deadline: c.current.Add(d), fire: make(chan time.Time, 1)}
	c.waiting = append(c.waiting, w)
	return w.fire
}

func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Add moves the timeline forward and releases every waiter whose deadline
// was crossed.
func (c *FakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)

	kept := c.waiting[:0]
	for _, w := range c.waiting {
		if w.deadline.After(c.current) {
			kept = append(kept, w)
			continue
		}
		w.fire <- c.current
	}
	c.waiting = kept
}
