// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fruitsalade/bitflow/internal/auth"
	"github.com/fruitsalade/bitflow/internal/config"
	"github.com/fruitsalade/bitflow/internal/events"
	"github.com/fruitsalade/bitflow/internal/listing"
	"github.com/fruitsalade/bitflow/internal/logging"
	"github.com/fruitsalade/bitflow/internal/mediaerr"
	"github.com/fruitsalade/bitflow/internal/mediaroot"
	"github.com/fruitsalade/bitflow/internal/metrics"
	"github.com/fruitsalade/bitflow/internal/stream"
	"github.com/fruitsalade/bitflow/internal/workers"
	"github.com/fruitsalade/bitflow/pkg/protocol"
)

// Version is reported by /health. Set at build time with -ldflags.
var Version = "dev"

// Server is the HTTP server.
type Server struct {
	resolver *mediaroot.Resolver
	lister   *listing.Lister
	streams  *stream.Server
	auth     *auth.Auth
	config   *config.Config

	// Listing and streaming run on separate pools so a long scan never
	// holds up playback.
	listPool   *workers.Pool
	streamPool *workers.Pool

	// Progress relay shared by the SSE and WebSocket transports
	hub *events.Hub

	upgrader websocket.Upgrader
}

// NewServer creates a new server. Call Start before serving requests and
// Stop after the HTTP listener has shut down.
func NewServer(resolver *mediaroot.Resolver, authHandler *auth.Auth, cfg *config.Config) *Server {
	s := &Server{
		resolver:   resolver,
		lister:     listing.New(resolver),
		streams:    stream.New(cfg.StreamChunkSize),
		auth:       authHandler,
		config:     cfg,
		listPool:   workers.New("list", cfg.ListWorkers, cfg.WorkerQueue),
		streamPool: workers.New("stream", cfg.StreamWorkers, cfg.WorkerQueue),
		hub:        events.NewHub(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Start launches the worker pools.
func (s *Server) Start() {
	s.listPool.Start()
	s.streamPool.Start()
}

// Stop drains and stops the worker pools.
func (s *Server) Stop() {
	s.listPool.Stop()
	s.streamPool.Stop()
}

// Handler returns the HTTP handler with auth, logging and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)

	// Protected endpoints are wrapped one by one so the top-level mux
	// pattern stays visible to the metrics middleware.
	protect := func(h http.HandlerFunc) http.Handler {
		return s.auth.Middleware(h)
	}

	// Listing
	mux.Handle("GET /api/v1/list", protect(s.handleList))
	mux.Handle("GET /api/v1/list/events", protect(s.handleListEvents))
	mux.Handle("GET /api/v1/socket", protect(s.handleSocket))

	// Streaming (GET patterns also match HEAD)
	mux.Handle("GET /stream/file", protect(s.handleStream))
	mux.Handle("GET /download/file", protect(s.handleDownload))

	return logging.Middleware(metrics.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.HealthResponse{Status: "ok", Version: Version})
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// errorStatus maps a handler error onto a status code and a message that
// is safe to send to the client.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, workers.ErrStopped):
		return http.StatusServiceUnavailable, "server is shutting down"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "server busy"
	}
	return mediaerr.HTTPStatus(err), mediaerr.Message(err)
}

// sendMediaError logs err and writes its error envelope. Internal causes
// stay in the log.
func (s *Server) sendMediaError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := errorStatus(err)
	logger := logging.WithContext(r.Context())
	if code >= 500 {
		logger.Error("request failed", zap.Int("status", code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", code), zap.String("reason", message))
	}
	s.sendError(w, code, message)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.NewError(code, message))
}
