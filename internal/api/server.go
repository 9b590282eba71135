package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server around handler.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	// Event ingestion and decisions
	router.Post("/events", handler.IngestEvent)
	router.Get("/events/{id}", handler.GetEvent)
	router.Get("/decisions", handler.ListDecisions)
	router.Get("/traces/{eventId}", handler.GetTrace)

	// Risk profiles
	router.Get("/subscribers/{id}/risk-profile", handler.GetRiskProfile)
	router.Get("/subscribers/{id}/notifications", handler.ListNotifications)
	router.Get("/subscribers/{id}/activity", handler.GetActivity)
	router.Get("/risk-profiles", handler.ListRiskProfiles)

	// Rule administration
	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Post("/validate", handler.ValidateCondition)
		r.Get("/{id}", handler.GetRule)
		r.Put("/{id}", handler.UpdateRule)
		r.Delete("/{id}", handler.DeleteRule)
	})

	// Fraud cases
	router.Route("/fraud-cases", func(r chi.Router) {
		r.Get("/", handler.ListFraudCases)
		r.Get("/{id}", handler.GetFraudCase)
		r.Post("/{id}/actions", handler.AddCaseAction)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
