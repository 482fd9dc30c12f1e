// Package browser abstracts the headless-rendering capability the ingestion
// services need: open a session, render a page, watch the page's own network
// traffic. The automation runtime behind it is an external collaborator; only
// the operations below are relied on.
package browser

import (
	"context"
	"time"
)

// Manager owns one headless browser session and the pages opened in it.
type Manager interface {
	// Start launches the session. Calling Start on a started manager is an error.
	Start(ctx context.Context) error
	// NewPage opens a fresh page in the session.
	NewPage(ctx context.Context) (Page, error)
	// Stop tears the session down. Best-effort; safe to call more than once.
	Stop()
}

// Page is one rendered tab. Interceptors must be registered before Navigate
// to observe the traffic triggered by the load.
type Page interface {
	// Navigate loads url and waits for the load to settle, bounded by timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// OnFrame registers a callback for every WebSocket frame received by any
	// connection the page opens. The callback runs on the event-dispatch
	// goroutine and must not block.
	OnFrame(fn func(payload []byte))
	// OnResponse registers a callback for network responses whose URL
	// satisfies match. The body is fetched before the callback fires.
	OnResponse(match func(url string) bool, fn func(body []byte))
	// BlockResources suppresses loading of the given resource types
	// ("image", "font", "media") to keep page loads cheap.
	BlockResources(types ...string) error
	// Close releases the page. Best-effort.
	Close()
}
