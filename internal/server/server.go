// Package server wires the handlers into an HTTP server with CORS, metrics and
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/Brownie44l1/speech-ai-api/internal/handlers"
	"github.com/Brownie44l1/speech-ai-api/internal/metrics"
)

// RouterOptions controls the optional parts of the router.
type RouterOptions struct {
	MetricsEnabled bool
	MaxUploadBytes int64 // 0 disables the limit
}

// NewRouter registers every endpoint on a fresh mux, limits request bodies and
// wraps everything in CORS.
func NewRouter(h *handlers.Handler, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", metrics.Instrument("/health", h.Health))
	mux.HandleFunc("POST /predict", metrics.Instrument("/predict", h.Predict))
	mux.HandleFunc("POST /upload-mp3/", metrics.Instrument("/upload-mp3/", h.UploadMP3))
	if opts.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(handlers.LimitBody(opts.MaxUploadBytes, mux))
}

// Server is the HTTP front of the service.
type Server struct {
	port   int
	server *http.Server
}

// New creates a server on port serving handler.
func New(port int, handler http.Handler) *Server {
	return &Server{
		port: port,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	slog.Info("http server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}
