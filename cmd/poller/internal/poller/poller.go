// Package poller collects index quotes from a public quote API on a fixed
// cadence. Unlike the browser scraper there is no push feed; each pass
// fetches the full symbol batch and persists it with the same dedup
// discipline the snapshot scheduler uses.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pnthang/market-collector/pkg/models"
	"github.com/pnthang/market-collector/pkg/storage"
)

type Store interface {
	storage.PriceSink
	TrackedLister
}

type Options struct {
	Source   string
	Prefix   string
	Interval time.Duration
}

type Poller struct {
	store    Store
	api      QuoteAPI
	discover Discoverer
	gate     Gate
	clock    Clock
	logger   *zap.Logger
	opts     Options
}

func New(store Store, api QuoteAPI, discover Discoverer, gate Gate, clock Clock, logger *zap.Logger, opts Options) *Poller {
	if clock == nil {
		clock = RealClock{}
	}
	return &Poller{
		store:    store,
		api:      api,
		discover: discover,
		gate:     gate,
		clock:    clock,
		logger:   logger,
		opts:     opts,
	}
}

// Run polls until ctx is cancelled. The first pass happens immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Poller Started", zap.Duration("interval", p.opts.Interval))

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if err := p.RunOnce(ctx); err != nil {
			p.logger.Error("Poll Pass Failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("Poller Stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single poll pass.
func (p *Poller) RunOnce(ctx context.Context) error {
	now := p.clock.Now()
	open, err := p.gate(now)
	if err != nil {
		return err
	}
	if !open {
		p.logger.Debug("Poll Skipped, Market Closed", zap.Time("at", now))
		return nil
	}

	symbols, err := p.targetSymbols(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		p.logger.Warn("No Symbols To Poll")
		return nil
	}

	quotes, err := p.api.FetchQuotes(ctx, symbols)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		p.logger.Warn("Quote API Returned No Usable Quotes", zap.Int("requested", len(symbols)))
		return nil
	}

	ts := now.UTC().Truncate(time.Second)
	points := make([]models.PricePoint, 0, len(quotes))
	metas := make([]models.IndexMeta, 0, len(quotes))
	for _, q := range quotes {
		prefixed := p.opts.Prefix + q.Code
		points = append(points, models.PricePoint{
			IndexCode:     prefixed,
			Source:        p.opts.Source,
			Price:         q.Price,
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
			Timestamp:     ts,
		})
		metas = append(metas, models.IndexMeta{
			Code:   prefixed,
			Name:   q.Code,
			Source: p.opts.Source,
		})
	}

	if err := p.store.EnsureIndexMeta(ctx, metas); err != nil {
		p.logger.Warn("Metadata Upsert Failed", zap.Error(err))
	}

	report, err := storage.SaveDeduped(ctx, p.store, points, p.logger)
	if err != nil {
		return err
	}
	p.logger.Info("Poll Pass Complete",
		zap.Int("fetched", len(quotes)),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Existing+report.Discarded))
	return nil
}

// targetSymbols prefers the tracked table; discovery is the cold-start
// fallback when nothing is tracked yet.
func (p *Poller) targetSymbols(ctx context.Context) ([]string, error) {
	tracked, err := p.store.ListTracked(ctx)
	if err != nil {
		return nil, err
	}
	if len(tracked) > 0 {
		symbols := make([]string, len(tracked))
		for i, t := range tracked {
			symbols[i] = t.Symbol
		}
		return symbols, nil
	}

	symbols, err := p.discover.Discover(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Discovered Symbols", zap.Int("count", len(symbols)))
	return symbols, nil
}
