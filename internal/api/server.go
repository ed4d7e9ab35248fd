// Package api serves the status API: health, a JSON state snapshot,
// recent trades, and a WebSocket stream of pipeline events.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"event-sniper/internal/prices"
)

// Server runs the HTTP and WebSocket status API.
type Server struct {
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// ServerDeps carries the optional components the API reads from; nil
// fields leave their sections empty.
type ServerDeps struct {
	Metrics   MetricsProvider
	Portfolio PortfolioReader
	Prices    *prices.Cache
	Trades    TradeReader
	DryRun    bool
}

// NewServer builds the API server on the given listen address.
func NewServer(addr string, deps ServerDeps, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	snap := &snapshotter{
		metrics:   deps.Metrics,
		portfolio: deps.Portfolio,
		prices:    deps.Prices,
		dryRun:    deps.DryRun,
		startedAt: time.Now(),
	}
	handlers := &Handlers{
		snap:   snap,
		trades: deps.Trades,
		hub:    hub,
		logger: logger.With("component", "api-handlers"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/api/trades", handlers.HandleTrades)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// SetMetrics installs the metrics provider after construction. The engine
// takes the server's Bridge as an observer, so whichever is built first
// needs a late-binding hook; call this before Start.
func (s *Server) SetMetrics(m MetricsProvider) {
	s.handlers.snap.metrics = m
}

// Bridge returns an engine observer that streams pipeline events to
// WebSocket clients.
func (s *Server) Bridge() *Bridge {
	return NewBridge(s.hub)
}

// Start runs the hub and the HTTP listener. Blocks until Stop.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("status server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop() error {
	s.logger.Info("stopping status server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
