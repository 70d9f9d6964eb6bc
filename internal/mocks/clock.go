package mocks

import "time"

// FixedClock is an adapter.Clock pinned to a fixed instant
type FixedClock struct {
	Time time.Time
}

func (c *FixedClock) Now() time.Time {
	return c.Time
}

func (c *FixedClock) Since(t time.Time) time.Duration {
	return c.Time.Sub(t)
}

func (c *FixedClock) Sleep(d time.Duration) {}

func (c *FixedClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Time
	return ch
}
