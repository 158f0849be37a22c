// Package server exposes a bridge over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"phobos.org.uk/agentbridge/internal/api"
	"phobos.org.uk/agentbridge/internal/bridge"
	"phobos.org.uk/agentbridge/internal/logging"
	"phobos.org.uk/agentbridge/internal/tlsutil"
)

// Server is the HTTP control surface of one bridge.
type Server struct {
	bridge    *bridge.Bridge
	version   string
	startTime time.Time
	log       *logging.Logger

	mu     sync.Mutex
	server *http.Server
}

// New creates a server for b.
func New(b *bridge.Bridge, version string) *Server {
	return &Server{
		bridge:    b,
		version:   version,
		startTime: time.Now(),
		log:       b.Logger(),
	}
}

// Router returns the HTTP router. /status is reachable without a token so
// health checks keep working when auth is enabled.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.bridge.Config().Auth.TokenHash))

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleOpenSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleCloseSession)
		r.Post("/sessions/{id}/turns", s.handleRunTurn)
		r.Post("/sessions/{id}/cancel", s.handleCancel)

		// History endpoints
		r.Get("/history", s.handleListHistory)
		r.Get("/history/{id}", s.handleGetHistory)
		r.Get("/history/{id}/transcript", s.handleGetTranscript)

		// Logging endpoints
		r.Get("/logs", s.handleLogs)
		r.Get("/logs/stats", s.handleLogStats)
	})

	return r
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	cfg := s.bridge.Config()
	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	fields := map[string]any{
		"addr":    addr,
		"version": s.version,
		"bin":     cfg.Backend.Bin,
		"tls":     cfg.TLS.Enabled,
		"auth":    cfg.Auth.TokenHash != "",
	}

	if !cfg.TLS.Enabled {
		s.log.Info("bridge starting", fields)
		return srv.ListenAndServe()
	}

	certPath, keyPath, generated := cfg.TLSFiles()
	if generated {
		if err := tlsutil.EnsureCert(certPath, keyPath); err != nil {
			return fmt.Errorf("provisioning certificate: %w", err)
		}
	}
	tlsCfg, err := tlsutil.ServerConfig(certPath, keyPath)
	if err != nil {
		return err
	}
	srv.TLSConfig = tlsCfg
	fields["cert"] = certPath
	s.log.Info("bridge starting", fields)
	return srv.ListenAndServeTLS("", "")
}

// Shutdown stops accepting requests, then terminates every session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping http server: %w", err))
		}
	}
	if err := s.bridge.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("terminating sessions: %w", err))
	}
	s.log.Info("bridge stopped", nil)
	return errors.Join(errs...)
}

// handleStatus returns version, uptime, session counts and configuration.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.bridge.Config()
	api.WriteJSON(w, http.StatusOK, api.StatusResponse{
		Type:            api.TypeBridge,
		Interfaces:      []string{api.InterfaceStatusable, api.InterfaceSessions, api.InterfaceObservable},
		Version:         s.version,
		UptimeSeconds:   time.Since(s.startTime).Seconds(),
		Sessions:        len(s.bridge.Registry().List()),
		TurnsInProgress: len(s.bridge.TurnsInProgress()),
		Config: api.StatusConfig{
			Port:             cfg.Port,
			Bin:              cfg.Backend.Bin,
			Streaming:        cfg.Backend.Streaming,
			MaxTurnRequests:  cfg.Limits.MaxTurnRequests,
			MaxTokensPerTurn: cfg.Limits.MaxTokensPerTurn,
			ToolsURL:         cfg.Tools.URL,
		},
	})
}
