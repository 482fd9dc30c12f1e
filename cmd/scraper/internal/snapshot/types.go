package snapshot

import (
	"time"

	"github.com/pnthang/market-collector/pkg/models"
)

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// QuoteSource yields the current cache contents for a cycle.
type QuoteSource interface {
	Snapshot() map[string]models.QuoteRecord
	Sweep(maxAge time.Duration) int
}

// Gate reports whether quotes observed at t are worth persisting.
type Gate func(t time.Time) (bool, error)
