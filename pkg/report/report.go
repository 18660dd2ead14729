package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/hutchlabs/hutch/pkg/log"
	"github.com/hutchlabs/hutch/pkg/metrics"
	"github.com/hutchlabs/hutch/pkg/retry"
	"github.com/hutchlabs/hutch/pkg/runtime"
	"github.com/hutchlabs/hutch/pkg/state"
)

// Config wires the dashboard reporter
type Config struct {
	URL      string
	Token    string
	Interval time.Duration
	NodeID   string

	Store   *state.Store
	Gateway runtime.Gateway
	Health  *metrics.HealthTracker
}

// payload is the body pushed to the dashboard on every tick
type payload struct {
	NodeID    string               `json:"nodeId"`
	Timestamp time.Time            `json:"timestamp"`
	Health    metrics.HealthStatus `json:"health"`
	Workloads []workloadStatus     `json:"workloads"`
}

type workloadStatus struct {
	VolumeID    string `json:"volumeId"`
	State       string `json:"state"`
	ContainerID string `json:"containerId,omitempty"`
}

// Reporter pushes node health and workload states to the dashboard on a
// fixed schedule. It also probes the runtime each tick so the status
// endpoint reflects containerd connectivity without waiting for a workload
// operation to fail.
type Reporter struct {
	cfg       Config
	client    *http.Client
	scheduler gocron.Scheduler
	policy    retry.Policy
	logger    zerolog.Logger
}

// NewReporter creates a reporter; Start must be called to begin pushing
func NewReporter(cfg Config) (*Reporter, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Reporter{
		cfg:       cfg,
		client:    &http.Client{Timeout: 15 * time.Second},
		scheduler: scheduler,
		policy: retry.Policy{
			Mode:       retry.BackoffExponential,
			Initial:    time.Second,
			Max:        10 * time.Second,
			MaxRetries: 3,
		},
		logger: log.WithComponent("report"),
	}, nil
}

// Start schedules the periodic report. A reporter with no dashboard URL
// still runs the runtime probe so health tracking stays live.
func (r *Reporter) Start(ctx context.Context) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.cfg.Interval),
		gocron.NewTask(func() { r.tick(ctx) }),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule report job: %w", err)
	}

	r.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down
func (r *Reporter) Stop() error {
	return r.scheduler.Shutdown()
}

func (r *Reporter) tick(ctx context.Context) {
	r.probeRuntime(ctx)

	if r.cfg.URL == "" {
		return
	}

	body := r.buildPayload()
	err := r.policy.Do(ctx, func() error {
		return r.push(ctx, body)
	}, func(err error) bool { return true })
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to push dashboard report")
	}
}

func (r *Reporter) probeRuntime(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.cfg.Gateway.Ping(probeCtx); err != nil {
		r.cfg.Health.SetComponent("containerd", false, err.Error())
		return
	}
	r.cfg.Health.SetComponent("containerd", true, "")
}

func (r *Reporter) buildPayload() payload {
	records := r.cfg.Store.List()
	workloads := make([]workloadStatus, 0, len(records))
	for _, rec := range records {
		workloads = append(workloads, workloadStatus{
			VolumeID:    rec.VolumeID,
			State:       string(rec.State),
			ContainerID: rec.ContainerID,
		})
	}

	return payload{
		NodeID:    r.cfg.NodeID,
		Timestamp: time.Now().UTC(),
		Health:    r.cfg.Health.Status(),
		Workloads: workloads,
	}
}

func (r *Reporter) push(ctx context.Context, body payload) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("dashboard rejected report: status %d", resp.StatusCode)
	}

	r.logger.Debug().Int("workloads", len(body.Workloads)).Msg("report pushed")
	return nil
}
