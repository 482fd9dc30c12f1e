// Package groupfetch retrieves the constituent list of one index group. The
// direct JSON endpoint is tried first; when the server blocks non-browser
// clients the same response is captured out of a rendered board page instead.
package groupfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/pnthang/market-collector/pkg/browser"
)

// ErrNoPayload means the browser session ran its full capture window without
// the group response ever appearing. Distinct from transport errors so
// callers can tell "site changed" from "network broke".
var ErrNoPayload = errors.New("no group payload captured")

// StatusError carries a non-2xx response code from the direct endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

const (
	navigateTimeout = 60 * time.Second
	capturePoll     = 500 * time.Millisecond
)

type Fetcher struct {
	http           *retryablehttp.Client
	newBrowser     func() browser.Manager
	endpoint       string // templated; %s receives the group id
	boardURL       string
	captureTimeout time.Duration
	logger         *zap.Logger
}

func New(client *retryablehttp.Client, newBrowser func() browser.Manager, endpoint, boardURL string, captureTimeout time.Duration, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		http:           client,
		newBrowser:     newBrowser,
		endpoint:       endpoint,
		boardURL:       boardURL,
		captureTimeout: captureTimeout,
		logger:         logger,
	}
}

// Fetch returns the raw group payload, trying HTTP first and the browser
// capture second.
func (f *Fetcher) Fetch(ctx context.Context, group string) (json.RawMessage, error) {
	payload, err := f.direct(ctx, group)
	if err == nil {
		return payload, nil
	}

	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusForbidden {
		f.logger.Warn("Direct Request Blocked, Falling Back To Browser", zap.String("group", group))
	} else {
		f.logger.Warn("Direct Request Failed, Falling Back To Browser", zap.String("group", group), zap.Error(err))
	}
	return f.capture(ctx, group)
}

func (f *Fetcher) direct(ctx context.Context, group string) (json.RawMessage, error) {
	url := fmt.Sprintf(f.endpoint, group)
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("build group request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("group request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read group response: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("group response is not json")
	}
	return body, nil
}

// capture opens the board page with an interceptor on the group endpoint and
// waits for the page's own background request to produce the payload.
func (f *Fetcher) capture(ctx context.Context, group string) (json.RawMessage, error) {
	mgr := f.newBrowser()
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Stop()

	page, err := mgr.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	if err := page.BlockResources("image", "font", "media"); err != nil {
		f.logger.Debug("Resource Blocking Unavailable", zap.Error(err))
	}

	var mu sync.Mutex
	var captured []byte
	marker := "/stock/group/" + group
	page.OnResponse(
		func(url string) bool { return strings.Contains(url, marker) },
		func(body []byte) {
			mu.Lock()
			defer mu.Unlock()
			if captured == nil {
				captured = body
			}
		},
	)

	if err := page.Navigate(ctx, f.boardURL, navigateTimeout); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", f.boardURL, err)
	}

	deadline := time.NewTimer(f.captureTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(capturePoll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrNoPayload
		case <-poll.C:
			mu.Lock()
			body := captured
			mu.Unlock()
			if body == nil {
				continue
			}
			if !json.Valid(body) {
				return nil, fmt.Errorf("captured payload is not json")
			}
			f.logger.Info("Captured Group Payload", zap.String("group", group), zap.Int("bytes", len(body)))
			return body, nil
		}
	}
}
