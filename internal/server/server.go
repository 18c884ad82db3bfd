// Package server implements the HTTP surface over the Intake Port and
// Store: title submission, processing-status reporting, a sparkline
// chart of queue depth over time, and an operator requeue endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/topicforge/internal/app"
	"github.com/bobmcallan/topicforge/internal/common"
)

// Server wraps the HTTP server and application reference.
type Server struct {
	app     *app.App
	server  *http.Server
	logger  *common.Logger
	history *statusHistory
}

// NewServer creates a new HTTP REST API server over a.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:     a,
		logger:  a.Logger,
		history: newStatusHistory(360),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := applyMiddleware(mux, a.Logger)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// StartStatusSampler launches a goroutine sampling Store.CountByState
// every interval into the in-memory history the chart endpoint renders
// from. The sampler stops when ctx is canceled.
func (s *Server) StartStatusSampler(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				counts, err := s.app.Store.CountByState(ctx)
				if err != nil {
					s.logger.Warn().Err(err).Msg("status sampler: count by state failed")
					continue
				}
				s.history.record(counts)
			}
		}
	}()
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
