package common

import "time"

// Clock abstracts time.Now so analytics can be exercised with back-dated
// scenarios deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a Clock pinned to a single instant, for tests.
type FixedClock struct {
	T time.Time
}

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time { return c.T }

// DateKey formats a time as the canonical date-only key (UTC).
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ParseDateKey parses a canonical date-only key into a UTC midnight time.
func ParseDateKey(key string) (time.Time, error) {
	return time.Parse("2006-01-02", key)
}
