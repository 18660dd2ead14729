package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hutchlabs/hutch/pkg/creds"
	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/files"
	"github.com/hutchlabs/hutch/pkg/log"
	"github.com/hutchlabs/hutch/pkg/metrics"
	"github.com/hutchlabs/hutch/pkg/orchestrator"
)

// Config wires the control API
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Files        *files.Manager
	Creds        *creds.Repository
	Health       *metrics.HealthTracker
	AuthToken    string
}

// Server is the HTTP control surface consumed by the remote control plane.
// All lifecycle and file routes require the bearer token; the status and
// metrics endpoints do not.
type Server struct {
	orch   *orchestrator.Orchestrator
	files  *files.Manager
	creds  *creds.Repository
	health *metrics.HealthTracker
	token  string
	logger zerolog.Logger
}

// NewServer creates the control API server
func NewServer(cfg Config) *Server {
	return &Server{
		orch:   cfg.Orchestrator,
		files:  cfg.Files,
		creds:  cfg.Creds,
		health: cfg.Health,
		token:  cfg.AuthToken,
		logger: log.WithComponent("api"),
	}
}

// Routes mounts every control route onto mux
func (s *Server) Routes(mux *http.ServeMux) {
	// Lifecycle.
	mux.Handle("POST /create", s.protected("create", s.handleCreate))
	mux.Handle("DELETE /remove/{id}", s.protected("remove", s.handleRemove))
	mux.Handle("POST /redeploy/{id}", s.protected("redeploy", s.handleRedeploy))
	mux.Handle("POST /reinstall/{id}", s.protected("reinstall", s.handleReinstall))
	mux.Handle("PUT /edit/{id}", s.protected("edit", s.handleEdit))
	mux.Handle("GET /state/{id}", s.protected("state", s.handleState))
	mux.Handle("POST /power/{id}/{action}", s.protected("power", s.handlePower))

	// Volume files.
	mux.Handle("GET /files/{id}/list", s.protected("files.list", s.handleFileList))
	mux.Handle("GET /files/{id}/contents", s.protected("files.read", s.handleFileRead))
	mux.Handle("POST /files/{id}/write", s.protected("files.write", s.handleFileWrite))
	mux.Handle("DELETE /files/{id}/delete", s.protected("files.delete", s.handleFileDelete))
	mux.Handle("POST /files/{id}/archive", s.protected("files.archive", s.handleArchive))
	mux.Handle("GET /files/{id}/archives", s.protected("files.archives", s.handleArchives))
	mux.Handle("POST /files/{id}/rollback", s.protected("files.rollback", s.handleRollback))

	// Volume credentials.
	mux.Handle("GET /creds/{id}", s.protected("creds.get", s.handleCredsGet))
	mux.Handle("POST /creds/{id}/reset", s.protected("creds.reset", s.handleCredsReset))

	// Status and metrics, lightly authenticated by design.
	mux.HandleFunc("GET /health", s.health.HealthHandler())
	mux.Handle("GET /metrics", metrics.Handler())
}

// protected wraps a handler with bearer-token auth and request accounting
func (s *Server) protected(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			metrics.APIRequestsTotal.WithLabelValues(route, "401").Inc()
			writeError(w, http.StatusUnauthorized, errors.New("invalid or missing token"))
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(route, httpStatusClass(rec.status)).Inc()
		s.logger.Debug().
			Str("route", route).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func httpStatusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errdefs.IsConfig(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, errdefs.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Serve runs the HTTP server until ctx is cancelled
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
