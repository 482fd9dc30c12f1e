// Package ingest owns the browser-driven capture loop: a rendered board page
// streams frames, each frame is normalized, and every extracted quote lands
// in the live cache and the optional fan-out publishers.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pnthang/market-collector/cmd/scraper/internal/livecache"
	"github.com/pnthang/market-collector/cmd/scraper/internal/normalizer"
	"github.com/pnthang/market-collector/cmd/scraper/internal/publish"
	"github.com/pnthang/market-collector/pkg/browser"
)

const navigateTimeout = 60 * time.Second

// Pipeline drives one browser session. Start and Stop may be called
// repeatedly from the control API; each Start gets a fresh browser from the
// factory because a stopped browser cannot be revived.
type Pipeline struct {
	newManager func() browser.Manager
	cache      *livecache.Cache
	publishers []publish.Publisher
	logger     *zap.Logger
	boardURL   string

	mu      sync.Mutex
	running bool
	manager browser.Manager
	ctx     context.Context
}

func New(newManager func() browser.Manager, cache *livecache.Cache, publishers []publish.Publisher, logger *zap.Logger, boardURL string) *Pipeline {
	return &Pipeline{
		newManager: newManager,
		cache:      cache,
		publishers: publishers,
		logger:     logger,
		boardURL:   boardURL,
	}
}

// Start launches a browser, wires the frame handler, and navigates to the
// board page. Idempotent while running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	// The session has to outlive the caller: the control API starts the
	// pipeline from a request handler whose context dies with the response.
	// Only Stop tears the session down.
	sessionCtx := context.WithoutCancel(ctx)

	mgr := p.newManager()
	if err := mgr.Start(sessionCtx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	page, err := mgr.NewPage(sessionCtx)
	if err != nil {
		mgr.Stop()
		return fmt.Errorf("open page: %w", err)
	}

	page.OnFrame(p.HandleFrame)
	if err := page.Navigate(ctx, p.boardURL, navigateTimeout); err != nil {
		mgr.Stop()
		return fmt.Errorf("navigate %s: %w", p.boardURL, err)
	}

	p.manager = mgr
	p.ctx = sessionCtx
	p.running = true
	p.logger.Info("Ingestion Started", zap.String("board_url", p.boardURL))
	return nil
}

// Stop tears the browser session down. Idempotent while stopped.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.manager.Stop()
	p.manager = nil
	p.running = false
	p.logger.Info("Ingestion Stopped")
}

func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// HandleFrame processes one raw frame payload. Exported so tests can feed
// frames without a browser.
func (p *Pipeline) HandleFrame(payload []byte) {
	records := normalizer.Normalize(payload)
	if len(records) == 0 {
		return
	}

	ctx := p.publishCtx()
	for _, rec := range records {
		p.cache.Put(rec)
		for _, pub := range p.publishers {
			if err := pub.Publish(ctx, rec); err != nil {
				p.logger.Warn("Publish Failed", zap.String("code", rec.Code), zap.Error(err))
			}
		}
	}
	p.logger.Debug("Frame Processed", zap.Int("records", len(records)))
}

func (p *Pipeline) publishCtx() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}
