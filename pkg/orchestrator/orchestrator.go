package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/events"
	"github.com/hutchlabs/hutch/pkg/log"
	"github.com/hutchlabs/hutch/pkg/metrics"
	"github.com/hutchlabs/hutch/pkg/provision"
	"github.com/hutchlabs/hutch/pkg/runtime"
	"github.com/hutchlabs/hutch/pkg/state"
	"github.com/hutchlabs/hutch/pkg/types"
	"github.com/hutchlabs/hutch/pkg/volume"
)

// pipelineTimeout bounds a detached provisioning run
const pipelineTimeout = 30 * time.Minute

// CredentialIssuer manages per-volume login secrets alongside the workload
// lifecycle. Optional; a nil issuer disables credential management.
type CredentialIssuer interface {
	Ensure(volumeID string) error
	Revoke(volumeID string) error
}

// EditRequest carries the caller-supplied overrides for an edit operation.
// Zero-valued fields keep the container's existing configuration.
type EditRequest struct {
	Image         string  `json:"image,omitempty"`
	MemoryLimitMB int64   `json:"memoryLimitMb,omitempty"`
	CPUCount      float64 `json:"cpuCount,omitempty"`
}

// Orchestrator exposes workload lifecycle operations as state transitions
// over the provisioning pipeline and the runtime gateway. Operations on the
// same workload are strictly serialized; different workloads proceed
// concurrently and share only the state store and the gateway.
type Orchestrator struct {
	store    *state.Store
	gateway  runtime.Gateway
	volumes  *volume.Manager
	pipeline *provision.Pipeline
	broker   *events.Broker
	creds    CredentialIssuer

	stopTimeout time.Duration

	locks sync.Map // workload id -> *sync.Mutex
	wg    sync.WaitGroup
}

// Config wires an orchestrator's collaborators
type Config struct {
	Store       *state.Store
	Gateway     runtime.Gateway
	Volumes     *volume.Manager
	Pipeline    *provision.Pipeline
	Broker      *events.Broker
	Creds       CredentialIssuer
	StopTimeout time.Duration
}

// New creates an orchestrator
func New(cfg Config) *Orchestrator {
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &Orchestrator{
		store:       cfg.Store,
		gateway:     cfg.Gateway,
		volumes:     cfg.Volumes,
		pipeline:    cfg.Pipeline,
		broker:      cfg.Broker,
		creds:       cfg.Creds,
		stopTimeout: stopTimeout,
	}
}

// lock acquires the per-workload mutex, failing fast when another operation
// for the same id is in flight.
func (o *Orchestrator) lock(id string) (*sync.Mutex, error) {
	entry, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	mu := entry.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, errdefs.ErrConflict
	}
	return mu, nil
}

// State answers "what state is this workload in". Never errors; an unknown
// id reports StateUnknown.
func (o *Orchestrator) State(volumeID string) types.StateRecord {
	return o.store.Get(volumeID)
}

// Exists reports whether a workload has a state record
func (o *Orchestrator) Exists(volumeID string) bool {
	return o.store.Get(volumeID).State != types.StateUnknown
}

// Create accepts a new workload. It durably records the installing state,
// then runs the provisioning pipeline detached: the caller observes
// progress by polling State or through a telemetry channel.
func (o *Orchestrator) Create(ctx context.Context, spec *types.WorkloadSpec, vars map[string]string) error {
	if err := spec.Validate(); err != nil {
		return errdefs.Config("%v", err)
	}
	if _, err := o.volumes.Path(spec.ID); err != nil {
		return err
	}

	mu, err := o.lock(spec.ID)
	if err != nil {
		return err
	}

	rec := o.store.Get(spec.ID)
	if rec.State == types.StateReady || rec.State == types.StateInstalling {
		mu.Unlock()
		return errdefs.Config("workload %s already exists in state %s", spec.ID, rec.State)
	}

	// Durable acceptance: the caller gets its response once this lands.
	if err := o.store.Set(spec.ID, types.StateInstalling, ""); err != nil {
		mu.Unlock()
		return fmt.Errorf("failed to record acceptance: %w", err)
	}
	o.updateStateMetrics()

	if o.creds != nil {
		if err := o.creds.Ensure(spec.ID); err != nil {
			logger := log.WithWorkloadID(spec.ID)
			logger.Warn().Err(err).Msg("failed to issue volume credentials")
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer mu.Unlock()

		runCtx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
		defer cancel()

		if err := o.pipeline.Run(runCtx, spec, vars); err != nil {
			logger := log.WithWorkloadID(spec.ID)
			logger.Error().Err(err).Msg("provisioning failed")
		}
		o.updateStateMetrics()
	}()

	return nil
}

// Delete stops and removes the container, then the volume, then the state
// record. Every step tolerates the object already being gone: delete twice
// never errors on the second call.
func (o *Orchestrator) Delete(ctx context.Context, volumeID string) error {
	mu, err := o.lock(volumeID)
	if err != nil {
		return err
	}
	defer mu.Unlock()

	rec := o.store.Get(volumeID)

	if rec.ContainerID != "" {
		if err := o.gateway.RemoveContainer(ctx, rec.ContainerID, true); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}

	if err := o.volumes.Delete(volumeID); err != nil {
		return fmt.Errorf("failed to remove volume: %w", err)
	}

	if o.creds != nil {
		if err := o.creds.Revoke(volumeID); err != nil {
			logger := log.WithWorkloadID(volumeID)
			logger.Warn().Err(err).Msg("failed to revoke volume credentials")
		}
	}

	if err := o.store.Delete(volumeID); err != nil {
		return fmt.Errorf("failed to remove state record: %w", err)
	}
	o.updateStateMetrics()

	o.publish(events.EventDeleted, volumeID, "workload deleted")
	return nil
}

// Redeploy replaces the workload's container with one built from the
// caller-supplied spec. The old container is removed before the new one is
// created: a window with zero running containers is accepted so two
// containers are never bound to the id at once. There is no rollback; a
// failure after removal leaves the workload without a container and in
// failed state, surfaced to the caller.
func (o *Orchestrator) Redeploy(ctx context.Context, spec *types.WorkloadSpec, vars map[string]string) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", errdefs.Config("%v", err)
	}

	mu, err := o.lock(spec.ID)
	if err != nil {
		return "", err
	}
	defer mu.Unlock()

	return o.replace(ctx, spec, vars, false)
}

// Reinstall is redeploy plus a re-run of the install scripts, with the
// variable map rebuilt from the previous container's KEY=VALUE environment.
func (o *Orchestrator) Reinstall(ctx context.Context, spec *types.WorkloadSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", errdefs.Config("%v", err)
	}

	mu, err := o.lock(spec.ID)
	if err != nil {
		return "", err
	}
	defer mu.Unlock()

	rec := o.store.Get(spec.ID)

	vars := map[string]string{}
	if rec.ContainerID != "" {
		if info, err := o.gateway.InspectContainer(ctx, rec.ContainerID); err == nil {
			vars = types.EnvToMap(info.Env)
		} else if !errdefs.IsNotFound(err) {
			return "", err
		}
	}

	return o.replace(ctx, spec, vars, true)
}

// replace is the shared remove-old-then-provision-new sequence behind
// redeploy and reinstall. Caller holds the workload lock.
func (o *Orchestrator) replace(ctx context.Context, spec *types.WorkloadSpec, vars map[string]string, runScripts bool) (string, error) {
	rec := o.store.Get(spec.ID)

	if err := o.store.Set(spec.ID, types.StateInstalling, ""); err != nil {
		return "", fmt.Errorf("failed to record installing state: %w", err)
	}
	o.updateStateMetrics()

	fail := func(err error) (string, error) {
		if serr := o.store.Set(spec.ID, types.StateFailed, ""); serr != nil {
			logger := log.WithWorkloadID(spec.ID)
			logger.Error().Err(serr).Msg("failed to record failed state")
		}
		o.updateStateMetrics()
		return "", err
	}

	// Old binding out first; the new container reuses the workload name.
	if rec.ContainerID != "" {
		if err := o.gateway.StopContainer(ctx, rec.ContainerID, o.stopTimeout); err != nil && !errdefs.IsNotFound(err) {
			return fail(fmt.Errorf("failed to stop old container: %w", err))
		}
		if err := o.gateway.RemoveContainer(ctx, rec.ContainerID, false); err != nil && !errdefs.IsNotFound(err) {
			return fail(fmt.Errorf("failed to remove old container: %w", err))
		}
	}

	if !runScripts {
		spec = stripScripts(spec)
	}
	if err := o.pipeline.Run(ctx, spec, vars); err != nil {
		// The pipeline already recorded failed state.
		o.updateStateMetrics()
		return "", err
	}
	o.updateStateMetrics()

	return o.store.Get(spec.ID).ContainerID, nil
}

// Edit reads the existing container's effective configuration, overlays the
// caller's overrides and recreates the container with the merged spec.
// Fields not overridden are preserved. Like redeploy, the old container is
// gone before creation starts and there is no automatic rollback.
func (o *Orchestrator) Edit(ctx context.Context, volumeID string, req EditRequest) (string, error) {
	mu, err := o.lock(volumeID)
	if err != nil {
		return "", err
	}
	defer mu.Unlock()

	rec := o.store.Get(volumeID)
	if rec.ContainerID == "" {
		return "", errdefs.NotFound("container for workload", volumeID)
	}

	info, err := o.gateway.InspectContainer(ctx, rec.ContainerID)
	if err != nil {
		return "", err
	}

	spec := &types.WorkloadSpec{
		ID:            volumeID,
		Image:         info.Image,
		Command:       info.Command,
		Env:           info.Env,
		ExposedPorts:  info.ExposedPorts,
		PortBindings:  info.PortBindings,
		MemoryLimitMB: 0,
	}
	if req.Image != "" {
		spec.Image = req.Image
	}
	if req.MemoryLimitMB > 0 {
		spec.MemoryLimitMB = req.MemoryLimitMB
	}
	if req.CPUCount > 0 {
		spec.CPUCount = req.CPUCount
	}

	return o.replace(ctx, spec, nil, false)
}

// Power applies a start/stop/restart action to the workload's container
func (o *Orchestrator) Power(ctx context.Context, volumeID, action string) error {
	rec := o.store.Get(volumeID)
	if rec.ContainerID == "" {
		return errdefs.NotFound("container for workload", volumeID)
	}

	var err error
	switch action {
	case "start":
		err = o.gateway.StartContainer(ctx, rec.ContainerID)
	case "stop":
		err = o.gateway.StopContainer(ctx, rec.ContainerID, o.stopTimeout)
	case "restart":
		err = o.gateway.RestartContainer(ctx, rec.ContainerID)
	default:
		return errdefs.Config("unknown power action %q", action)
	}
	if err != nil {
		return err
	}

	o.publish(events.EventPowerAction, volumeID, action)
	return nil
}

// ReconcileBoot runs once at startup: a record claiming ready whose
// container is not actually running is demoted to failed, so the persisted
// table never lies about a running container across restarts.
func (o *Orchestrator) ReconcileBoot(ctx context.Context) {
	logger := log.WithComponent("orchestrator")

	for _, rec := range o.store.List() {
		switch rec.State {
		case types.StateReady:
			info, err := o.gateway.InspectContainer(ctx, rec.ContainerID)
			if err != nil || !info.Running {
				logger.Warn().
					Str("workload_id", rec.VolumeID).
					Str("container_id", rec.ContainerID).
					Msg("ready record has no running container, marking failed")
				if serr := o.store.Set(rec.VolumeID, types.StateFailed, rec.ContainerID); serr != nil {
					logger.Error().Err(serr).Msg("failed to demote stale ready record")
				}
				o.publish(events.EventStateChanged, rec.VolumeID, "demoted to failed at boot")
			}
		case types.StateInstalling:
			// A crash mid-pipeline left this behind; callers must converge.
			logger.Warn().Str("workload_id", rec.VolumeID).
				Msg("installing record survived a restart, marking failed")
			if serr := o.store.Set(rec.VolumeID, types.StateFailed, rec.ContainerID); serr != nil {
				logger.Error().Err(serr).Msg("failed to demote stale installing record")
			}
			o.publish(events.EventStateChanged, rec.VolumeID, "demoted to failed at boot")
		}
	}
	o.updateStateMetrics()
}

// Drain blocks until every detached pipeline has finished
func (o *Orchestrator) Drain() {
	o.wg.Wait()
}

func (o *Orchestrator) updateStateMetrics() {
	counts := map[types.WorkloadState]int{}
	for _, rec := range o.store.List() {
		counts[rec.State]++
	}
	for _, st := range []types.WorkloadState{types.StateInstalling, types.StateReady, types.StateFailed} {
		metrics.WorkloadsTotal.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

func (o *Orchestrator) publish(t events.EventType, workloadID, message string) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(&events.Event{Type: t, WorkloadID: workloadID, Message: message})
}

func stripScripts(spec *types.WorkloadSpec) *types.WorkloadSpec {
	if len(spec.InstallScripts) == 0 {
		return spec
	}
	clone := *spec
	clone.InstallScripts = nil
	return &clone
}
