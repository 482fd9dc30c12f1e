// Package control exposes the operator surface of the scraper: health,
// status, pipeline start/stop, snapshot controls, and the live quote
// websocket. All routes except /health require the configured bearer token.
package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/pnthang/market-collector/cmd/scraper/internal/stream"
)

type Server struct {
	pipeline  PipelineControl
	scheduler SnapshotControl
	cache     CacheReader
	hub       *stream.Hub
	logger    *zap.Logger
	token     string
	router    chi.Router
}

func NewServer(pipeline PipelineControl, scheduler SnapshotControl, cache CacheReader, hub *stream.Hub, logger *zap.Logger, token string) *Server {
	s := &Server{
		pipeline:  pipeline,
		scheduler: scheduler,
		cache:     cache,
		hub:       hub,
		logger:    logger,
		token:     token,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/status", s.handleStatus)
		r.Post("/scraper/start", s.handleStart)
		r.Post("/scraper/stop", s.handleStop)
		r.Post("/scraper/snapshot", s.handleSnapshot)
		r.Put("/scraper/interval", s.handleInterval)
		r.Get("/debug/cache", s.handleDebugCache)
		r.Get("/ws", s.handleWS)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// authMiddleware checks the bearer token. An empty configured token disables
// the check entirely.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.pipeline.Running(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":          s.pipeline.Running(),
		"cache_size":       s.cache.Len(),
		"interval_seconds": s.scheduler.Interval().Seconds(),
		"last_cycle":       s.scheduler.LastResult(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Start(r.Context()); err != nil {
		s.logger.Error("Pipeline Start Failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	triggered := s.scheduler.TriggerNow()
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": triggered})
}

func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds int `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Seconds <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seconds must be a positive integer"})
		return
	}
	s.scheduler.SetInterval(time.Duration(body.Seconds) * time.Second)
	writeJSON(w, http.StatusOK, map[string]any{"interval_seconds": body.Seconds})
}

func (s *Server) handleDebugCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		// No Redis feed configured, so there is nothing to stream.
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "live feed disabled"})
		return
	}
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	client := stream.NewClient(conn, s.hub, s.logger)
	client.Start()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
