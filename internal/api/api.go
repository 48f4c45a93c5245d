// Package api serves the local status endpoints of the speaker.
//
// It exposes health, the live dialog of every stream, the local submission log
// and Prometheus metrics. The API is read-only.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TikhonP/heytelepat-speaker/internal/engine"
	"github.com/TikhonP/heytelepat-speaker/internal/models"
	"github.com/TikhonP/heytelepat-speaker/internal/transport"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:8080"

const shutdownTimeout = 5 * time.Second

// DialogSource reports the live dialog of a stream. engine.Engine satisfies it.
type DialogSource interface {
	Status() engine.Status
}

// ChannelSource reports a stream's connection state. transport.Channel satisfies it.
type ChannelSource interface {
	Stream() string
	State() transport.State
}

// SubmissionSource lists recorded submissions. store.Store satisfies it.
type SubmissionSource interface {
	GetSubmissions() ([]models.Submission, error)
}

// Opts holds Server configuration.
type Opts struct {
	Addr string
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server is the status API.
type Server struct {
	addr        string
	dialogs     []DialogSource
	channels    []ChannelSource
	submissions SubmissionSource
	version     string
	started     time.Time
}

// NewServer creates a Server.
func NewServer(version string, submissions SubmissionSource, dialogs []DialogSource, channels []ChannelSource, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		addr:        o.Addr,
		dialogs:     dialogs,
		channels:    channels,
		submissions: submissions,
		version:     version,
		started:     time.Now(),
	}
}

// Handler returns the routed handler of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/dialogs", s.dialogsHandler)
	mux.HandleFunc("/submissions", s.submissionsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Status API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Status API failed", "error", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Status API shutdown failed", "error", err)
		return err
	}
	slog.Info("Status API stopped")
	return nil
}
