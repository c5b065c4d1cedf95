// Package server provides the HTTP API for gasnelio.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/gasnelio/internal/chat"
	"github.com/hyperjump/gasnelio/internal/config"
	"github.com/hyperjump/gasnelio/internal/persona"
	"github.com/hyperjump/gasnelio/internal/suggest"
	"go.uber.org/zap"
)

// Expander expands a query with taxonomy synonyms.
type Expander interface {
	ExpandWithSynonyms(query string) []string
	Len() int
}

// Server is the HTTP server for the gasnelio API.
type Server struct {
	suggestions *suggest.Engine
	terms       Expander
	router      chat.Router
	chat        *chat.Orchestrator
	catalog     persona.Catalog
	config      *config.ServerConfig
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	suggestions *suggest.Engine,
	terms Expander,
	router chat.Router,
	orchestrator *chat.Orchestrator,
	catalog persona.Catalog,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		suggestions: suggestions,
		terms:       terms,
		router:      router,
		chat:        orchestrator,
		catalog:     catalog,
		config:      cfg,
		logger:      logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/suggestions", s.handleSuggestionsQuery)
		r.Post("/suggestions", s.handleSuggestions)
		r.Post("/expand", s.handleExpand)
		r.Post("/route", s.handleRoute)
		r.Get("/personas", s.handlePersonas)

		r.Get("/fallback", s.handleFallbackState)
		r.Post("/fallback/reset", s.handleFallbackReset)

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/messages", s.handleHistory)
			r.Post("/messages", s.handleSubmit)
			r.Post("/messages/{messageID}/retry", s.handleRetry)
			r.Post("/resolutions", s.handleResolve)
			r.Delete("/", s.handleDeleteConversation)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
