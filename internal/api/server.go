package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/pipeline"
)

// DefaultAddr is the default listen address for the operator API.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server exposes the pipeline over HTTP.
type Server struct {
	pipeline *pipeline.Pipeline
	webhook  http.HandlerFunc
	server   *http.Server
}

// NewServer creates an API server over the pipeline. The optional webhook
// handler (e.g. the Twilio inbound handler) is mounted at /webhook/twilio.
func NewServer(p *pipeline.Pipeline, webhook http.HandlerFunc, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{pipeline: p, webhook: webhook}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// routes builds the HTTP mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("POST /messages", s.inboundMessageHandler)
	mux.HandleFunc("GET /conversations", s.listConversationsHandler)
	mux.HandleFunc("GET /conversations/{id}", s.getConversationHandler)
	mux.HandleFunc("POST /conversations/{id}/bot", s.setBotActiveHandler)
	mux.HandleFunc("POST /conversations/{id}/reactivate", s.reactivateHandler)
	mux.HandleFunc("GET /schedule/settings", s.getScheduleSettingsHandler)
	mux.HandleFunc("PUT /schedule/settings", s.putScheduleSettingsHandler)
	if s.webhook != nil {
		mux.HandleFunc("POST /webhook/twilio", s.webhook)
	}
	return mux
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("API server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
