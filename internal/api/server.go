package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"polymarket-mm/internal/config"
)

// Server runs the admin HTTP/WebSocket surface: session start/stop/status,
// leader approve/reject, follower start/stop, a live event stream, and
// Prometheus metrics.
type Server struct {
	cfg      config.AdminConfig
	engine   Engine
	fullCfg  config.Config
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new admin API server.
func NewServer(cfg config.AdminConfig, engine Engine, fullCfg config.Config, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(engine, fullCfg, hub, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /sessions", handlers.HandleStartSession)
	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleStopSession(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleGetSession(w, r, r.PathValue("id"))
	})

	mux.HandleFunc("POST /admin/leaders/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleApproveLeader(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /admin/leaders/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleRejectLeader(w, r, r.PathValue("id"))
	})

	mux.HandleFunc("POST /follow", handlers.HandleStartFollowing)
	mux.HandleFunc("DELETE /follow/{id}", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleStopFollowing(w, r, r.PathValue("id"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		engine:   engine,
		fullCfg:  fullCfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the API server and hub.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("admin server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// consumeEvents reads events from the engine and broadcasts them to every
// connected WebSocket client.
func (s *Server) consumeEvents() {
	eventsCh := s.engine.Events()
	if eventsCh == nil {
		return
	}
	for evt := range eventsCh {
		s.hub.BroadcastEvent(evt)
	}
}
