package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kyleking/bb-biodiversity/internal/config"
	"github.com/kyleking/bb-biodiversity/internal/logging"
)

// Server hosts the HTTP API until its context is canceled.
type Server struct {
	http            *http.Server
	shutdownTimeout time.Duration
	log             *logging.Logger
}

// NewServer wraps handler in an http.Server configured from cfg. It does not
// listen until Run or Serve is called.
func NewServer(handler http.Handler, cfg config.ServerConfig, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetLogger()
	}

	read, write, idle, shutdown := cfg.Timeouts()

	return &Server{
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  read,
			WriteTimeout: write,
			IdleTimeout:  idle,
			ErrorLog:     slog.NewLogLogger(logger.Slog().Handler(), slog.LevelWarn),
		},
		shutdownTimeout: shutdown,
		log:             logger.WithField("component", "http"),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully, waiting up to the configured shutdown timeout for in-flight
// requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Infof("listening on %s", ln.Addr())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")

	shutdownCtx := context.Background()
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, s.shutdownTimeout)
		defer cancel()
	}

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
