package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pnthang/market-collector/cmd/scraper/internal/ingest"
	"github.com/pnthang/market-collector/cmd/scraper/internal/livecache"
	"github.com/pnthang/market-collector/cmd/scraper/internal/snapshot"
	"github.com/pnthang/market-collector/pkg/browser"
	"github.com/pnthang/market-collector/pkg/models"
)

type fakePipeline struct {
	running  bool
	startErr error
}

func (f *fakePipeline) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakePipeline) Stop()         { f.running = false }
func (f *fakePipeline) Running() bool { return f.running }

type fakeScheduler struct {
	triggered bool
	interval  time.Duration
	last      snapshot.CycleResult
}

func (f *fakeScheduler) TriggerNow() bool {
	f.triggered = true
	return true
}

func (f *fakeScheduler) SetInterval(d time.Duration) { f.interval = d }
func (f *fakeScheduler) Interval() time.Duration     { return f.interval }
func (f *fakeScheduler) LastResult() snapshot.CycleResult {
	return f.last
}

type fakeCacheReader struct {
	quotes map[string]models.QuoteRecord
}

func (f *fakeCacheReader) Snapshot() map[string]models.QuoteRecord { return f.quotes }
func (f *fakeCacheReader) Len() int                                { return len(f.quotes) }

func newTestServer(token string) (*Server, *fakePipeline, *fakeScheduler) {
	pipeline := &fakePipeline{}
	scheduler := &fakeScheduler{interval: 15 * time.Second}
	cache := &fakeCacheReader{quotes: map[string]models.QuoteRecord{
		"VNINDEX": {Code: "VNINDEX", Price: 1200.5},
	}}
	srv := NewServer(pipeline, scheduler, cache, nil, zap.NewNop(), token)
	return srv, pipeline, scheduler
}

func doRequest(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthBypassesAuth(t *testing.T) {
	srv, _, _ := newTestServer("secret")

	rec := doRequest(t, srv, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected /health open without token, got %d", rec.Code)
	}
}

func TestAuthRequiredElsewhere(t *testing.T) {
	srv, _, _ := newTestServer("secret")

	if rec := doRequest(t, srv, http.MethodGet, "/status", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := doRequest(t, srv, http.MethodGet, "/status", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", rec.Code)
	}
	if rec := doRequest(t, srv, http.MethodGet, "/status", "secret", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}
}

func TestAuthDisabledWithEmptyToken(t *testing.T) {
	srv, _, _ := newTestServer("")

	if rec := doRequest(t, srv, http.MethodGet, "/status", "", ""); rec.Code != http.StatusOK {
		t.Errorf("expected open access with empty token, got %d", rec.Code)
	}
}

func TestStatusPayload(t *testing.T) {
	srv, pipeline, _ := newTestServer("")
	pipeline.running = true

	rec := doRequest(t, srv, http.MethodGet, "/status", "", "")
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("status not json: %v", err)
	}
	if body["running"] != true {
		t.Errorf("expected running true, got %v", body["running"])
	}
	if body["cache_size"] != float64(1) {
		t.Errorf("expected cache_size 1, got %v", body["cache_size"])
	}
	if body["interval_seconds"] != float64(15) {
		t.Errorf("expected interval 15, got %v", body["interval_seconds"])
	}
}

func TestStartAndStop(t *testing.T) {
	srv, pipeline, _ := newTestServer("")

	if rec := doRequest(t, srv, http.MethodPost, "/scraper/start", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("start failed with %d", rec.Code)
	}
	if !pipeline.running {
		t.Error("expected pipeline started")
	}

	if rec := doRequest(t, srv, http.MethodPost, "/scraper/stop", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("stop failed with %d", rec.Code)
	}
	if pipeline.running {
		t.Error("expected pipeline stopped")
	}
}

func TestStartErrorSurfaces(t *testing.T) {
	srv, pipeline, _ := newTestServer("")
	pipeline.startErr = errors.New("no chrome binary")

	rec := doRequest(t, srv, http.MethodPost, "/scraper/start", "", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on start failure, got %d", rec.Code)
	}
}

func TestSnapshotTrigger(t *testing.T) {
	srv, _, scheduler := newTestServer("")

	rec := doRequest(t, srv, http.MethodPost, "/scraper/snapshot", "", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
	if !scheduler.triggered {
		t.Error("expected scheduler triggered")
	}
}

func TestIntervalUpdate(t *testing.T) {
	srv, _, scheduler := newTestServer("")

	rec := doRequest(t, srv, http.MethodPut, "/scraper/interval", "", `{"seconds":30}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if scheduler.interval != 30*time.Second {
		t.Errorf("expected interval updated to 30s, got %v", scheduler.interval)
	}
}

func TestIntervalValidation(t *testing.T) {
	srv, _, _ := newTestServer("")

	for _, body := range []string{`{"seconds":0}`, `{"seconds":-5}`, `not json`} {
		rec := doRequest(t, srv, http.MethodPut, "/scraper/interval", "", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestDebugCache(t *testing.T) {
	srv, _, _ := newTestServer("")

	rec := doRequest(t, srv, http.MethodGet, "/debug/cache", "", "")
	var body map[string]models.QuoteRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("debug cache not json: %v", err)
	}
	if body["VNINDEX"].Price != 1200.5 {
		t.Errorf("expected cache contents in response, got %+v", body)
	}
}

type stubPage struct{}

func (stubPage) Navigate(ctx context.Context, url string, timeout time.Duration) error { return nil }
func (stubPage) OnFrame(fn func(payload []byte))                                       {}
func (stubPage) OnResponse(match func(url string) bool, fn func(body []byte))          {}
func (stubPage) BlockResources(types ...string) error                                  { return nil }
func (stubPage) Close()                                                                {}

type stubManager struct {
	startCtx context.Context
}

func (m *stubManager) Start(ctx context.Context) error {
	m.startCtx = ctx
	return nil
}

func (m *stubManager) NewPage(ctx context.Context) (browser.Page, error) { return stubPage{}, nil }
func (m *stubManager) Stop()                                             {}

// A start issued through the API must outlive the request that carried it;
// net/http cancels the request context as soon as the handler returns.
func TestStartOutlivesRequestContext(t *testing.T) {
	mgr := &stubManager{}
	pipeline := ingest.New(
		func() browser.Manager { return mgr },
		livecache.New(nil), nil, zap.NewNop(), "https://board.example/",
	)
	srv := NewServer(pipeline, &fakeScheduler{}, &fakeCacheReader{}, nil, zap.NewNop(), "")

	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/scraper/start", strings.NewReader("")).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	cancel()

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !pipeline.Running() {
		t.Fatal("expected pipeline running after start")
	}
	if err := mgr.startCtx.Err(); err != nil {
		t.Errorf("browser session context died with the request: %v", err)
	}
}
