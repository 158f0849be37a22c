package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"phobos.org.uk/agentbridge/internal/bridge"
	"phobos.org.uk/agentbridge/internal/config"
	"phobos.org.uk/agentbridge/internal/server"
)

const shutdownTimeout = 30 * time.Second

// LockFileName is held exclusively by a serving bridge inside its session
// directory, so two bridges never share session working directories.
const LockFileName = "agentbridge.lock"

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Port = port
			}
			if bind != "" {
				cfg.Bind = bind
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if cfg.Bind != "127.0.0.1" && cfg.Bind != "localhost" && cfg.Bind != "::1" && cfg.Auth.TokenHash == "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: bind=%q exposes unauthenticated endpoints. Set auth.token_hash or prefer 127.0.0.1.\n", cfg.Bind)
			}

			unlock, err := lockSessionDir(cfg)
			if err != nil {
				return err
			}
			defer unlock()

			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides config)")
	cmd.Flags().StringVar(&bind, "bind", "", "Address to bind to (overrides config)")
	return cmd
}

// lockSessionDir takes the exclusive serve lock in the session directory.
func lockSessionDir(cfg *config.Config) (func(), error) {
	if err := os.MkdirAll(cfg.SessionDir, 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	fileLock := flock.New(filepath.Join(cfg.SessionDir, LockFileName))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another bridge is serving %s (lock held by another process)", cfg.SessionDir)
	}
	return func() { _ = fileLock.Unlock() }, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg, os.Stderr)
	b := bridge.New(cfg, log)
	srv := server.New(b, version)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		// The listener never came up; sessions may still need terminating.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		b.Shutdown(shutdownCtx)
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
