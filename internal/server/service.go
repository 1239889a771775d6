package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultShutdownTimeout bounds graceful shutdown of the status server.
const DefaultShutdownTimeout = 5 * time.Second

// HTTPServer is the subset of *http.Server used by Service.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Service runs an HTTP server under a suture supervisor.
type Service struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewService wraps server. A non-positive timeout uses DefaultShutdownTimeout.
func NewService(server HTTPServer, shutdownTimeout time.Duration) *Service {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Service{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve blocks until ctx is cancelled or the server fails. http.ErrServerClosed
// is not treated as a failure.
func (s *Service) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// listen serves HTTPS when the server carries a TLS config with certificates
// supplied through GetCertificate.
func (s *Service) listen() error {
	if hs, ok := s.server.(*http.Server); ok && hs.TLSConfig != nil {
		return hs.ListenAndServeTLS("", "")
	}
	return s.server.ListenAndServe()
}

func (s *Service) String() string { return "status-server" }
