package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pnthang/market-collector/pkg/models"
)

// PriceSink is the subset of the Postgres adapter the dedup writer needs.
// Defined here so schedulers can be tested against fakes.
type PriceSink interface {
	EnsureIndexMeta(ctx context.Context, metas []models.IndexMeta) error
	ExistingPricePairs(ctx context.Context, codes []string, ts time.Time) (map[string]struct{}, error)
	InsertPricePoints(ctx context.Context, points []models.PricePoint) error
	InsertPricePoint(ctx context.Context, point models.PricePoint) error
}

// SaveReport summarizes one dedup write pass.
type SaveReport struct {
	Prepared  int
	Existing  int
	Inserted  int
	Discarded int
	Recovered bool
}

// SaveDeduped writes price points with the read-before-write discipline:
// pre-query which (code, timestamp) rows already exist, bulk-insert the
// remainder, and on a unique violation (a writer raced the pre-query) retry
// the remainder row by row, discarding only the conflicting rows. All points
// must share one timestamp.
func SaveDeduped(ctx context.Context, sink PriceSink, points []models.PricePoint, logger *zap.Logger) (SaveReport, error) {
	report := SaveReport{Prepared: len(points)}
	if len(points) == 0 {
		return report, nil
	}
	ts := points[0].Timestamp

	codes := make([]string, len(points))
	for i, p := range points {
		codes[i] = p.IndexCode
	}
	existing, err := sink.ExistingPricePairs(ctx, codes, ts)
	if err != nil {
		return report, fmt.Errorf("query existing rows: %w", err)
	}

	remainder := points[:0:0]
	for _, p := range points {
		if _, ok := existing[p.IndexCode]; ok {
			report.Existing++
			continue
		}
		remainder = append(remainder, p)
	}
	if len(remainder) == 0 {
		return report, nil
	}

	err = sink.InsertPricePoints(ctx, remainder)
	if err == nil {
		report.Inserted = len(remainder)
		return report, nil
	}
	if !IsUniqueViolation(err) {
		return report, fmt.Errorf("bulk insert: %w", err)
	}

	// Someone inserted between the pre-query and the batch. Salvage the
	// non-conflicting rows one at a time.
	report.Recovered = true
	logger.Warn("Bulk Insert Conflicted, Retrying Row By Row", zap.Int("rows", len(remainder)))
	for _, p := range remainder {
		switch rowErr := sink.InsertPricePoint(ctx, p); {
		case rowErr == nil:
			report.Inserted++
		case IsUniqueViolation(rowErr):
			report.Discarded++
		default:
			logger.Error("Row Insert Failed",
				zap.String("code", p.IndexCode),
				zap.Error(rowErr))
			report.Discarded++
		}
	}
	return report, nil
}
