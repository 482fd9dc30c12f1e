package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeManager drives a headless Chrome instance through the DevTools
// protocol. One manager is one browser process; pages share it.
type ChromeManager struct {
	logger *zap.Logger

	mu        sync.Mutex
	allocCtx  context.Context
	browser   context.Context
	cancelers []context.CancelFunc
	started   bool
}

var _ Manager = (*ChromeManager)(nil)

func NewChromeManager(logger *zap.Logger) *ChromeManager {
	return &ChromeManager{logger: logger}
}

func (m *ChromeManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("browser session already started")
	}

	// Container-friendly launch: headless, no sandbox.
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Launch the browser process up front so Start reports failures here
	// rather than on the first page.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return err
	}

	m.allocCtx = allocCtx
	m.browser = browserCtx
	m.cancelers = []context.CancelFunc{cancelBrowser, cancelAlloc}
	m.started = true
	m.logger.Info("Browser session started")
	return nil
}

func (m *ChromeManager) NewPage(ctx context.Context) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil, errors.New("browser session not started")
	}

	pageCtx, cancel := chromedp.NewContext(m.browser)
	if err := chromedp.Run(pageCtx, network.Enable()); err != nil {
		cancel()
		return nil, err
	}
	m.cancelers = append(m.cancelers, cancel)

	return &chromePage{ctx: pageCtx, cancel: cancel, logger: m.logger}, nil
}

func (m *ChromeManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	// Cancel in reverse order: pages, then browser, then allocator.
	for i := len(m.cancelers) - 1; i >= 0; i-- {
		m.cancelers[i]()
	}
	m.cancelers = nil
	m.started = false
	m.logger.Info("Browser session stopped")
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

var _ Page = (*chromePage)(nil)

func (p *chromePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx := p.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(p.ctx, timeout)
		defer cancel()
	}
	return chromedp.Run(navCtx, chromedp.Navigate(url))
}

func (p *chromePage) OnFrame(fn func(payload []byte)) {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		if e, ok := ev.(*network.EventWebSocketFrameReceived); ok {
			if e.Response != nil {
				fn([]byte(e.Response.PayloadData))
			}
		}
	})
}

func (p *chromePage) OnResponse(match func(url string) bool, fn func(body []byte)) {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok || e.Response == nil || !match(e.Response.URL) {
			return
		}
		requestID := e.RequestID
		// The body has to be pulled through the page's own executor, and the
		// listener goroutine must not issue protocol calls itself.
		go func() {
			c := chromedp.FromContext(p.ctx)
			body, err := network.GetResponseBody(requestID).Do(cdp.WithExecutor(p.ctx, c.Target))
			if err != nil {
				p.logger.Debug("Could not read intercepted response body", zap.Error(err))
				return
			}
			fn(body)
		}()
	})
}

func (p *chromePage) BlockResources(types ...string) error {
	// The protocol blocks by URL pattern, not resource type; map the common
	// types onto extension globs. Close enough for load-shedding purposes.
	patternsByType := map[string][]string{
		"image": {"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico"},
		"font":  {"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot"},
		"media": {"*.mp4", "*.webm", "*.mp3", "*.ogg", "*.wav"},
	}
	var patterns []string
	for _, t := range types {
		patterns = append(patterns, patternsByType[t]...)
	}
	if len(patterns) == 0 {
		return nil
	}
	return chromedp.Run(p.ctx, network.SetBlockedURLS(patterns))
}

func (p *chromePage) Close() {
	p.cancel()
}
