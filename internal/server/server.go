// Package server runs the gateway's HTTP listener until its context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const DefaultShutdownTimeout = 5 * time.Second

type Server struct {
	http            *http.Server
	log             *zap.Logger
	shutdownTimeout time.Duration
	maxConns        int
}

type Option func(*Server)

// WithMaxConns caps simultaneously accepted connections. Zero means no cap.
func WithMaxConns(n int) Option { return func(s *Server) { s.maxConns = n } }

func New(addr string, h http.Handler, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ErrorLog:          zap.NewStdLog(log.Named("http")),
		},
		log:             log.Named("server"),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run listens on the configured address and blocks until ctx is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. In-flight requests get the shutdown
// timeout to finish once ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server started", zap.String("addr", ln.Addr().String()), zap.Int("max_conns", s.maxConns))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		s.log.Info("http server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
