// Package api implements a read-only HTTP/WebSocket admin surface over the
// exchange core: product catalog, account, and circuit-breaker queries
// plus a live stream of internal/events.Event. Grounded on the teacher's
// dashboard server (internal/api/server.go) and Hub broadcast loop,
// generalized from a single-bot dashboard to a multi-symbol, multi-user
// exchange, and narrowed from a read/write control surface to read-only —
// every mutation still goes through internal/sequencer.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"polymarket-mm/internal/catalog"
	"polymarket-mm/internal/circuit"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/events"
	"polymarket-mm/internal/position"
)

// Server runs the admin HTTP/WebSocket API.
type Server struct {
	cfg      config.AdminAPIConfig
	bus      *events.Bus
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	stop     chan struct{}
	logger   *slog.Logger
}

// NewServer builds a Server. cat/pos/brk back the read-only query
// handlers; bus feeds the WebSocket event stream.
func NewServer(cfg config.AdminAPIConfig, cat *catalog.Catalog, pos *position.Manager, brk *circuit.Manager, bus *events.Bus, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(cat, pos, brk, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/products", handlers.HandleProducts)
	mux.HandleFunc("/api/account", handlers.HandleAccount)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	addr := cfg.Addr
	if addr == "" {
		addr = ":8081"
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		bus:      bus,
		hub:      hub,
		handlers: handlers,
		server:   server,
		stop:     make(chan struct{}),
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the hub, the event-bus pump, and the HTTP listener. It
// blocks until the server stops, matching net/http.Server.ListenAndServe's
// convention.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.hub.pumpFromBus(s.bus, s.stop)

	s.logger.Info("admin api starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin api: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP listener and the event-bus pump.
func (s *Server) Stop() error {
	s.logger.Info("stopping admin api")
	close(s.stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
