package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run starts the server and blocks until a shutdown signal.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(ln)
	}()

	slog.Info("GoTodo server running",
		"addr", ln.Addr().String(),
		"ws", s.cfg.WSPath,
		"db", s.cfg.DBPath,
	)

	s.metrics.StartPeriodicLog(s.cfg.MetricsLogInterval, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down...", "signal", sig)
	case err := <-errCh:
		s.Shutdown()
		return fmt.Errorf("server: serve: %w", err)
	}

	s.Shutdown()
	return nil
}

// Serve serves HTTP and WebSocket traffic on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server: open WebSocket connections are
// closed with "going away", in-flight HTTP requests get a few seconds to
// finish, then the store is closed. Calling it more than once is a no-op.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		if err := s.store.Close(); err != nil {
			slog.Warn("close store", "err", err)
		}
	})
}
