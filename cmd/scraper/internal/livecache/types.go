package livecache

import "time"

// Clock abstracts time for testing sweep behavior.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
