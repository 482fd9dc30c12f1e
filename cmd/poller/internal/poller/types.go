package poller

import (
	"context"
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

// QuoteAPI fetches quotes for a batch of symbols.
type QuoteAPI interface {
	FetchQuotes(ctx context.Context, symbols []string) ([]models.QuoteRecord, error)
}

// Discoverer finds index symbols when no tracked list is configured.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// TrackedLister reads the operator-maintained symbol list.
type TrackedLister interface {
	ListTracked(ctx context.Context) ([]models.TrackedSymbol, error)
}

// Gate reports whether quotes observed at t are worth persisting.
type Gate func(t time.Time) (bool, error)
