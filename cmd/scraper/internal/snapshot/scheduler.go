// Package snapshot drives the periodic persistence of cached quotes. One
// goroutine owns the cycle loop; overlapping cycles are impossible because
// triggers, interval changes, and timer fires all land in the same select.
package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pnthang/market-collector/pkg/models"
	"github.com/pnthang/market-collector/pkg/storage"
)

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomeEmpty    Outcome = "empty_cache"
	OutcomeClosed   Outcome = "market_closed"
	OutcomeDryRun   Outcome = "dry_run"
	OutcomeNoNewRow Outcome = "no_new_rows"
	OutcomeInserted Outcome = "inserted"
	OutcomeError    Outcome = "error"
)

// CycleResult records what the most recent cycle did, for the status API.
type CycleResult struct {
	Outcome   Outcome   `json:"outcome"`
	At        time.Time `json:"at"`
	Prepared  int       `json:"prepared"`
	Inserted  int       `json:"inserted"`
	Skipped   int       `json:"skipped"`
	Error     string    `json:"error,omitempty"`
	Recovered bool      `json:"recovered,omitempty"`
}

type Options struct {
	Source      string
	Prefix      string
	Interval    time.Duration
	DryRun      bool
	CacheMaxAge time.Duration
}

type Scheduler struct {
	cache  QuoteSource
	sink   storage.PriceSink
	gate   Gate
	clock  Clock
	logger *zap.Logger
	opts   Options

	triggerCh  chan struct{}
	intervalCh chan time.Duration

	mu       sync.RWMutex
	interval time.Duration
	last     CycleResult
}

func New(cache QuoteSource, sink storage.PriceSink, gate Gate, clock Clock, logger *zap.Logger, opts Options) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		cache:      cache,
		sink:       sink,
		gate:       gate,
		clock:      clock,
		logger:     logger,
		opts:       opts,
		triggerCh:  make(chan struct{}, 1),
		intervalCh: make(chan time.Duration, 1),
		interval:   opts.Interval,
	}
}

// Run owns the cycle loop until ctx is cancelled. Cycles run strictly one at
// a time; a trigger arriving mid-cycle waits for the next loop iteration
// rather than spawning a concurrent cycle.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Snapshot Scheduler Started",
		zap.Duration("interval", s.Interval()),
		zap.Bool("dry_run", s.opts.DryRun))

	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Snapshot Scheduler Stopped")
			return
		case <-timer.C:
			s.cycle(ctx)
			timer.Reset(s.Interval())
		case <-s.triggerCh:
			s.cycle(ctx)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.Interval())
		case d := <-s.intervalCh:
			s.mu.Lock()
			s.interval = d
			s.mu.Unlock()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
			s.logger.Info("Snapshot Interval Updated", zap.Duration("interval", d))
		}
	}
}

// TriggerNow requests an immediate cycle. Returns false if a trigger is
// already pending.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.triggerCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// SetInterval changes the cadence and restarts the timer.
func (s *Scheduler) SetInterval(d time.Duration) {
	select {
	case s.intervalCh <- d:
	default:
		// A pending update is superseded.
		select {
		case <-s.intervalCh:
		default:
		}
		s.intervalCh <- d
	}
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// LastResult returns the most recent cycle's outcome.
func (s *Scheduler) LastResult() CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Scheduler) cycle(ctx context.Context) {
	res := s.RunCycle(ctx)
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
}

// RunCycle performs one snapshot pass over the cache and returns what it did.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	if s.opts.CacheMaxAge > 0 {
		if removed := s.cache.Sweep(s.opts.CacheMaxAge); removed > 0 {
			s.logger.Info("Swept Stale Cache Entries", zap.Int("removed", removed))
		}
	}

	now := s.clock.Now()
	res := CycleResult{At: now}

	snap := s.cache.Snapshot()
	if len(snap) == 0 {
		s.logger.Debug("Snapshot Skipped, Cache Empty")
		res.Outcome = OutcomeEmpty
		return res
	}

	open, err := s.gate(now)
	if err != nil {
		s.logger.Error("Market Hours Check Failed", zap.Error(err))
		res.Outcome = OutcomeError
		res.Error = err.Error()
		return res
	}
	if !open {
		s.logger.Debug("Snapshot Skipped, Market Closed", zap.Time("at", now))
		res.Outcome = OutcomeClosed
		return res
	}

	// Every row in the cycle shares one timestamp so the dedup pre-query
	// stays a single code-set lookup.
	ts := now.UTC().Truncate(time.Second)
	points, metas := s.buildRows(snap, ts)
	res.Prepared = len(points)

	if s.opts.DryRun {
		for _, p := range points {
			s.logger.Info("Dry Run Row",
				zap.String("code", p.IndexCode),
				zap.Float64("price", p.Price),
				zap.Time("timestamp", p.Timestamp))
		}
		res.Outcome = OutcomeDryRun
		return res
	}

	if err := s.sink.EnsureIndexMeta(ctx, metas); err != nil {
		// Metadata is best-effort; price rows still go through.
		s.logger.Warn("Metadata Upsert Failed", zap.Error(err))
	}

	report, err := storage.SaveDeduped(ctx, s.sink, points, s.logger)
	if err != nil {
		s.logger.Error("Snapshot Persist Failed", zap.Error(err))
		res.Outcome = OutcomeError
		res.Error = err.Error()
		return res
	}

	res.Inserted = report.Inserted
	res.Skipped = report.Existing + report.Discarded
	res.Recovered = report.Recovered
	if report.Inserted == 0 {
		s.logger.Info("Snapshot Complete, No New Rows", zap.Int("prepared", res.Prepared))
		res.Outcome = OutcomeNoNewRow
		return res
	}

	s.logger.Info("Snapshot Complete",
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", res.Skipped),
		zap.Time("timestamp", ts))
	res.Outcome = OutcomeInserted
	return res
}

func (s *Scheduler) buildRows(snap map[string]models.QuoteRecord, ts time.Time) ([]models.PricePoint, []models.IndexMeta) {
	codes := make([]string, 0, len(snap))
	for code := range snap {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	points := make([]models.PricePoint, 0, len(codes))
	metas := make([]models.IndexMeta, 0, len(codes))
	for _, code := range codes {
		rec := snap[code]
		prefixed := s.opts.Prefix + code
		points = append(points, models.PricePoint{
			IndexCode:     prefixed,
			Source:        s.opts.Source,
			Price:         rec.Price,
			Change:        rec.Change,
			ChangePercent: rec.ChangePercent,
			Timestamp:     ts,
		})
		metas = append(metas, models.IndexMeta{
			Code:   prefixed,
			Name:   code,
			Source: s.opts.Source,
		})
	}
	return points, metas
}
