package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hutchlabs/hutch/pkg/events"
	"github.com/hutchlabs/hutch/pkg/log"
	"github.com/hutchlabs/hutch/pkg/runtime"
	"github.com/hutchlabs/hutch/pkg/types"
	"github.com/hutchlabs/hutch/pkg/volume"
)

// Mode is the purpose of a telemetry connection, fixed once resolved
type Mode string

const (
	ModeLogs  Mode = "logs"
	ModeStats Mode = "stats"
	ModeExec  Mode = "exec"
)

// Close status codes, sent in the final message before the connection ends.
// Failures always carry a distinguishing code, never a silent drop.
const (
	CloseNormal          = 1000
	CloseProtocolError   = 4000
	CloseAuthFailure     = 4001
	CloseUnknownWorkload = 4004
)

// authTimeout bounds how long a connection may idle before its first
// (authentication) message arrives.
const authTimeout = 10 * time.Second

// WorkloadDirectory answers workload state lookups for connection routing
type WorkloadDirectory interface {
	State(volumeID string) types.StateRecord
}

// PowerController applies power actions arriving on control connections
type PowerController interface {
	Power(ctx context.Context, volumeID, action string) error
}

// Config wires a telemetry server
type Config struct {
	Secret        string
	Directory     WorkloadDirectory
	Power         PowerController
	Gateway       runtime.Gateway
	Volumes       *volume.Manager
	Broker        *events.Broker
	StatsInterval time.Duration

	// ForwardOutput controls whether exec connections receive container
	// output; some deployments suppress it and use a logs connection
	// instead.
	ForwardOutput bool
}

// Server multiplexes authenticated real-time channels over persistent HTTP
// connections, one workload per connection. Inbound messages are
// newline-delimited JSON on the request body; outbound messages stream the
// same way on the response.
type Server struct {
	secret        string
	directory     WorkloadDirectory
	power         PowerController
	gateway       runtime.Gateway
	volumes       *volume.Manager
	broker        *events.Broker
	statsInterval time.Duration
	forwardOutput bool
	logger        zerolog.Logger
}

// NewServer creates a telemetry server
func NewServer(cfg Config) *Server {
	interval := cfg.StatsInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Server{
		secret:        cfg.Secret,
		directory:     cfg.Directory,
		power:         cfg.Power,
		gateway:       cfg.Gateway,
		volumes:       cfg.Volumes,
		broker:        cfg.Broker,
		statsInterval: interval,
		forwardOutput: cfg.ForwardOutput,
		logger:        log.WithComponent("telemetry"),
	}
}

// Register mounts the telemetry routes. The connection's purpose is derived
// from its target path.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/logs/{id}", s.serve(ModeLogs))
	mux.HandleFunc("/stats/{id}", s.serve(ModeStats))
	mux.HandleFunc("/exec/{id}", s.serve(ModeExec))
}

func (s *Server) serve(mode Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		c := newConn(s, w, flusher, r.Body, mode, r.PathValue("id"))
		c.run(r.Context())
	}
}
