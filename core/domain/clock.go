package domain

import "time"

// Clock supplies "now" so classification and digest runs are reproducible.
// Every consumer receives a Clock through its constructor; nothing reads
// time.Now directly on an evaluation path.
type Clock interface {
	Now() time.Time
}

// RealClock is the production clock. Always UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock pins Now for tests and for the /digest now_override test mode.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T.UTC() }
