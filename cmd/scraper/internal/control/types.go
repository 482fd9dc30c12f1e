package control

import (
	"context"
	"time"

	"github.com/pnthang/market-collector/cmd/scraper/internal/snapshot"
	"github.com/pnthang/market-collector/pkg/models"
)

// PipelineControl abstracts the browser ingestion loop
type PipelineControl interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// SnapshotControl abstracts the snapshot scheduler
type SnapshotControl interface {
	TriggerNow() bool
	SetInterval(d time.Duration)
	Interval() time.Duration
	LastResult() snapshot.CycleResult
}

// CacheReader abstracts the live cache for status and debug endpoints
type CacheReader interface {
	Snapshot() map[string]models.QuoteRecord
	Len() int
}
