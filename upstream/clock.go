package upstream

import "time"

// Clock supplies the current time. Windows, TTLs, token lifetimes and
// health timestamps all read time through a Clock so tests can control it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
