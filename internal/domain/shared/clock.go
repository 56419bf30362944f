package shared

import "time"

// Clock is the injected time capability. Validity-window checks and
// expiration decisions read the current date through it, never through
// the ambient time.Now, so tests can pin a date.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock always reports the same instant. For tests.
type FixedClock struct {
	Instant time.Time
}

// NewFixedClock creates a clock pinned to the given instant.
func NewFixedClock(instant time.Time) FixedClock {
	return FixedClock{Instant: instant}
}

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time {
	return c.Instant
}

// SameOrAfterDay reports whether a's calendar date is on or after b's,
// ignoring the time of day.
func SameOrAfterDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	at := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	bt := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return !at.Before(bt)
}
