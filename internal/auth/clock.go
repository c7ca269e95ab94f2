package auth

import "time"

// Clock supplies "now" to every time-dependent decision
type Clock interface {
	Now() time.Time
}

// SystemClock reads the process clock
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time {
	return time.Now()
}
