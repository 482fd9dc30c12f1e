package groupfetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/pnthang/market-collector/pkg/browser"
)

func testHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	return client
}

type fakePage struct {
	match   func(url string) bool
	onBody  func(body []byte)
	deliver []byte
	navErr  error
	blocked []string
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if p.navErr != nil {
		return p.navErr
	}
	// Simulate the page's background request firing after navigation.
	if p.deliver != nil && p.match != nil && p.match("https://iboard-query.example/stock/group/VN30") {
		go func() {
			time.Sleep(50 * time.Millisecond)
			p.onBody(p.deliver)
		}()
	}
	return nil
}

func (p *fakePage) OnFrame(fn func(payload []byte)) {}

func (p *fakePage) OnResponse(match func(url string) bool, fn func(body []byte)) {
	p.match = match
	p.onBody = fn
}

func (p *fakePage) BlockResources(types ...string) error {
	p.blocked = types
	return nil
}

func (p *fakePage) Close() {}

type fakeManager struct {
	page    *fakePage
	stopped bool
}

func (m *fakeManager) Start(ctx context.Context) error { return nil }

func (m *fakeManager) NewPage(ctx context.Context) (browser.Page, error) { return m.page, nil }

func (m *fakeManager) Stop() { m.stopped = true }

func newFetcher(endpoint string, mgr *fakeManager, captureTimeout time.Duration) *Fetcher {
	return New(
		testHTTPClient(),
		func() browser.Manager { return mgr },
		endpoint,
		"https://board.example/",
		captureTimeout,
		zap.NewNop(),
	)
}

func TestFetchDirectSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stock/group/VN30" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":[{"symbol":"VCB"}]}`))
	}))
	defer server.Close()

	mgr := &fakeManager{page: &fakePage{}}
	f := newFetcher(server.URL+"/stock/group/%s", mgr, time.Second)

	payload, err := f.Fetch(context.Background(), "VN30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != `{"data":[{"symbol":"VCB"}]}` {
		t.Errorf("unexpected payload %s", payload)
	}
	if mgr.stopped {
		t.Error("browser should not have been used for a direct success")
	}
}

func TestFetchDirectAcceptsAny2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":[{"symbol":"VCB"}]}`))
	}))
	defer server.Close()

	mgr := &fakeManager{page: &fakePage{}}
	f := newFetcher(server.URL+"/stock/group/%s", mgr, time.Second)

	payload, err := f.Fetch(context.Background(), "VN30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != `{"data":[{"symbol":"VCB"}]}` {
		t.Errorf("unexpected payload %s", payload)
	}
	if mgr.stopped {
		t.Error("a 2xx response must not trigger the browser fallback")
	}
}

func TestFetchBlockedFallsBackToBrowser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	page := &fakePage{deliver: []byte(`{"data":[{"symbol":"VCB"},{"symbol":"FPT"}]}`)}
	mgr := &fakeManager{page: page}
	f := newFetcher(server.URL+"/stock/group/%s", mgr, 2*time.Second)

	payload, err := f.Fetch(context.Background(), "VN30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != `{"data":[{"symbol":"VCB"},{"symbol":"FPT"}]}` {
		t.Errorf("unexpected payload %s", payload)
	}
	if !mgr.stopped {
		t.Error("expected browser torn down after capture")
	}
	if len(page.blocked) == 0 {
		t.Error("expected heavy resources blocked during capture")
	}
}

func TestFetchCaptureTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	// Page never delivers the response.
	mgr := &fakeManager{page: &fakePage{}}
	f := newFetcher(server.URL+"/stock/group/%s", mgr, 600*time.Millisecond)

	_, err := f.Fetch(context.Background(), "VN30")
	if !errors.Is(err, ErrNoPayload) {
		t.Fatalf("expected ErrNoPayload, got %v", err)
	}
	if !mgr.stopped {
		t.Error("expected browser torn down after timeout")
	}
}

func TestFetchDirectInvalidJSONTriggersFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>captcha</html>`))
	}))
	defer server.Close()

	page := &fakePage{deliver: []byte(`{"data":[{"symbol":"VCB"}]}`)}
	mgr := &fakeManager{page: page}
	f := newFetcher(server.URL+"/stock/group/%s", mgr, 2*time.Second)

	payload, err := f.Fetch(context.Background(), "VN30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) == "" {
		t.Error("expected payload from browser fallback")
	}
}

func TestFetchNavigateFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	mgr := &fakeManager{page: &fakePage{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}}
	f := newFetcher(server.URL+"/stock/group/%s", mgr, time.Second)

	if _, err := f.Fetch(context.Background(), "VN30"); err == nil {
		t.Fatal("expected navigation error surfaced")
	}
}
