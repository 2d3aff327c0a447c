// Package admin serves the local command API over HTTP.
package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/appwarden/internal/admin/api"
	"github.com/goodtune/appwarden/internal/foreground"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Server represents the admin HTTP server.
type Server struct {
	config      Config
	engine      api.Engine
	recorder    foreground.Recorder
	policy      api.PolicyReloader
	rateLimiter *RateLimiter
	server      *http.Server
	listener    net.Listener
	router      *mux.Router
	logger      zerolog.Logger
}

// NewServer creates a new admin server. recorder and policy may be nil,
// which disables event ingestion and policy reload.
func NewServer(cfg Config, engine api.Engine, recorder foreground.Recorder, policy api.PolicyReloader, logger zerolog.Logger) *Server {
	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 600 // Default: 600 requests per minute
	}
	rateLimitWindow := cfg.RateLimitWindow
	if rateLimitWindow == 0 {
		rateLimitWindow = time.Minute
	}

	s := &Server{
		config:      cfg,
		engine:      engine,
		recorder:    recorder,
		policy:      policy,
		rateLimiter: NewRateLimiter(rateLimit, rateLimitWindow, nil),
		router:      mux.NewRouter(),
		logger:      logger.With().Str("component", "admin").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(s.rateLimiter))

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	systemHandler := api.NewSystemHandler(s.engine, s.policy, s.logger)
	s.router.HandleFunc("/health", systemHandler.GetHealth).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	appsHandler := api.NewAppsHandler(s.engine, s.logger)
	v1.HandleFunc("/apps", appsHandler.List).Methods("GET")
	v1.HandleFunc("/apps", appsHandler.Register).Methods("POST")
	v1.HandleFunc("/apps/{id}", appsHandler.Get).Methods("GET")
	v1.HandleFunc("/apps/{id}/snapshot", appsHandler.Snapshot).Methods("GET")
	v1.HandleFunc("/apps/{id}/session", appsHandler.StartSession).Methods("POST")
	v1.HandleFunc("/apps/{id}/extend", appsHandler.Extend).Methods("POST")
	v1.HandleFunc("/apps/{id}/end", appsHandler.End).Methods("POST")
	v1.HandleFunc("/apps/{id}/pause", appsHandler.Pause).Methods("POST")
	v1.HandleFunc("/apps/{id}/resume", appsHandler.Resume).Methods("POST")
	v1.HandleFunc("/apps/{id}/sync", appsHandler.Sync).Methods("POST")
	v1.HandleFunc("/apps/{id}/state", appsHandler.SetState).Methods("PUT")
	v1.HandleFunc("/apps/{id}/limit", appsHandler.SetLimit).Methods("PUT")

	v1.HandleFunc("/reset", systemHandler.Reset).Methods("POST")
	v1.HandleFunc("/sync", systemHandler.SyncAll).Methods("POST")
	v1.HandleFunc("/prompt/dismiss", systemHandler.DismissPrompt).Methods("POST")
	v1.HandleFunc("/pipeline", systemHandler.Pipeline).Methods("GET")
	v1.HandleFunc("/policy/reload", systemHandler.ReloadPolicy).Methods("POST")

	if s.recorder != nil {
		eventsHandler := api.NewEventsHandler(s.recorder, s.logger)
		v1.HandleFunc("/events", eventsHandler.Ingest).Methods("POST")
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the admin HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting admin server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated admin listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin server error")
		}
	}()

	return nil
}

// Stop gracefully stops the admin HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping admin server")
	s.rateLimiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}

	return nil
}
