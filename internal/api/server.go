// Package api exposes the HTTP surface: ingestion, summarization,
// question answering and the chat entrypoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/ingest"
	"github.com/haasonsaas/loom/internal/knowledge"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/summarize"
)

// Config wires the HTTP server.
type Config struct {
	Runner *agent.Runner

	// Root is the orchestrator tree serving /chat/message.
	Root *agent.Agent

	// Summarize serves /summarize and is shared with the Telegram
	// forward pool.
	Summarize *summarize.Service

	// QA answers /ask; optional, the route returns 503 without it.
	QA *agent.Agent

	Ingest *ingest.Service

	// Index backs /ask sources; optional.
	Index *knowledge.Index

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the HTTP API.
type Server struct {
	runner    *agent.Runner
	root      *agent.Agent
	summarize *summarize.Service
	qa        *agent.Agent
	ingest    *ingest.Service
	index     *knowledge.Index
	logger    *observability.Logger
	metrics   *observability.Metrics

	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("api: runner is required")
	}
	if cfg.Root == nil {
		return nil, errors.New("api: root agent is required")
	}
	if cfg.Ingest == nil {
		return nil, errors.New("api: ingest service is required")
	}
	if cfg.Summarize == nil {
		return nil, errors.New("api: summarize service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{Level: "info"})
	}
	return &Server{
		runner:    cfg.Runner,
		root:      cfg.Root,
		summarize: cfg.Summarize,
		qa:        cfg.QA,
		ingest:    cfg.Ingest,
		index:     cfg.Index,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)

	r.Get("/", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/ingest", s.handleIngest)
	r.Post("/summarize", s.handleSummarize)
	r.Post("/ask", s.handleAsk)
	r.Post("/chat/message", s.handleChatMessage)

	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info(ctx, "http api listening", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "http shutdown error", "error", err)
	}
	return nil
}
