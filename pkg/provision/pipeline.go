package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/events"
	"github.com/hutchlabs/hutch/pkg/log"
	"github.com/hutchlabs/hutch/pkg/metrics"
	"github.com/hutchlabs/hutch/pkg/retry"
	"github.com/hutchlabs/hutch/pkg/runtime"
	"github.com/hutchlabs/hutch/pkg/state"
	"github.com/hutchlabs/hutch/pkg/types"
	"github.com/hutchlabs/hutch/pkg/volume"
)

// Pipeline drives a workload from request to running container, recording a
// state milestone before each step. Whatever happens, a finished pipeline
// leaves the workload in ready or failed, never installing.
type Pipeline struct {
	store   *state.Store
	gateway runtime.Gateway
	volumes *volume.Manager
	broker  *events.Broker

	fetch      *fetcher
	pullPolicy retry.Policy
}

// NewPipeline wires a pipeline over the shared store, runtime and volumes
func NewPipeline(store *state.Store, gateway runtime.Gateway, volumes *volume.Manager, broker *events.Broker) *Pipeline {
	return &Pipeline{
		store:      store,
		gateway:    gateway,
		volumes:    volumes,
		broker:     broker,
		fetch:      newFetcher(retry.DefaultPolicy()),
		pullPolicy: retry.Policy{Mode: retry.BackoffFixed, Initial: 5 * time.Second, Max: 5 * time.Second, MaxRetries: 2},
	}
}

// Run executes the full provisioning sequence for one workload. The caller
// serializes Run invocations per workload id; Run itself only coordinates
// with other workloads through the state store and the gateway.
func (p *Pipeline) Run(ctx context.Context, spec *types.WorkloadSpec, vars map[string]string) (err error) {
	logger := log.WithWorkloadID(spec.ID)
	start := time.Now()

	containerID := ""
	defer func() {
		metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("provisioning panicked: %v", r)
		}
		if err != nil {
			metrics.ProvisionFailuresTotal.Inc()
			if serr := p.store.Set(spec.ID, types.StateFailed, containerID); serr != nil {
				logger.Error().Err(serr).Msg("failed to record failed state")
			}
			p.publish(events.EventInstallFailed, spec.ID, err.Error())
		}
	}()

	// Milestone: installing.
	if err = p.store.Set(spec.ID, types.StateInstalling, ""); err != nil {
		return fmt.Errorf("failed to record installing state: %w", err)
	}
	p.publish(events.EventInstallStarted, spec.ID, "provisioning started")

	volumePath, err := p.volumes.Create(spec.ID)
	if err != nil {
		return fmt.Errorf("failed to provision volume: %w", err)
	}

	if err = p.pullImage(ctx, spec.Image); err != nil {
		return err
	}
	p.publish(events.EventImagePulled, spec.ID, spec.Image)

	env, err := p.effectiveEnv(spec, vars)
	if err != nil {
		return err
	}

	containerID, err = p.gateway.CreateContainer(ctx, runtime.ContainerSpec{
		WorkloadID:    spec.ID,
		Image:         spec.Image,
		Command:       spec.Command,
		Env:           env,
		VolumePath:    volumePath,
		MemoryLimitMB: spec.MemoryLimitMB,
		CPUCount:      spec.CPUCount,
		ExposedPorts:  spec.ExposedPorts,
		PortBindings:  spec.PortBindings,
	})
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if len(spec.InstallScripts) > 0 {
		scriptVars := p.scriptVars(spec, vars, containerID)
		failed := p.fetch.fetchAll(ctx, volumePath, spec.InstallScripts, scriptVars)
		if failed > 0 {
			logger.Warn().Int("failed", failed).Int("total", len(spec.InstallScripts)).
				Msg("some install scripts failed to download")
			p.publish(events.EventScriptFailed, spec.ID,
				fmt.Sprintf("%d of %d scripts failed to download", failed, len(spec.InstallScripts)))
		} else {
			p.publish(events.EventScriptFetched, spec.ID, fmt.Sprintf("%d scripts installed", len(spec.InstallScripts)))
		}

		if err = substituteVolume(volumePath, scriptVars); err != nil {
			return fmt.Errorf("failed to substitute variables: %w", err)
		}
	}

	if err = p.gateway.StartContainer(ctx, containerID); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	// Milestone: ready.
	if err = p.store.Set(spec.ID, types.StateReady, containerID); err != nil {
		return fmt.Errorf("failed to record ready state: %w", err)
	}
	p.publish(events.EventInstallCompleted, spec.ID, containerID)

	logger.Info().Str("container_id", containerID).
		Dur("elapsed", time.Since(start)).
		Msg("workload provisioned")
	return nil
}

// pullImage retries the pull on the runtime's "temporarily unavailable"
// signal, a small fixed number of attempts with fixed backoff.
func (p *Pipeline) pullImage(ctx context.Context, ref string) error {
	return p.pullPolicy.Do(ctx, func() error {
		return p.gateway.PullImage(ctx, ref)
	}, pullRetryable)
}

func pullRetryable(err error) bool {
	if errdefs.IsTransient(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unavailable") || strings.Contains(msg, "too many requests")
}

// effectiveEnv merges caller env, the variable map as KEY=VALUE entries and
// the synthesized PRIMARY_PORT. A workload with install scripts but no port
// binding is a configuration error: its scripts have no primary port to
// substitute.
func (p *Pipeline) effectiveEnv(spec *types.WorkloadSpec, vars map[string]string) ([]string, error) {
	varEnv := make([]string, 0, len(vars))
	for key, value := range vars {
		varEnv = append(varEnv, key+"="+value)
	}

	primary, ok := spec.PrimaryPort()
	if !ok {
		if len(spec.InstallScripts) > 0 {
			return nil, errdefs.Config("workload %s declares install scripts but no port binding", spec.ID)
		}
		return types.MergeEnv(spec.Env, varEnv), nil
	}

	return types.MergeEnv(spec.Env, varEnv, []string{fmt.Sprintf("PRIMARY_PORT=%d", primary)}), nil
}

// scriptVars is the caller map plus the pipeline-derived variables. The
// derived entries win on collision.
func (p *Pipeline) scriptVars(spec *types.WorkloadSpec, vars map[string]string, containerID string) map[string]string {
	merged := make(map[string]string, len(vars)+4)
	for key, value := range vars {
		merged[key] = value
	}

	if primary, ok := spec.PrimaryPort(); ok {
		merged[VarPrimaryPort] = fmt.Sprintf("%d", primary)
	}
	merged[VarContainerID] = shortID(containerID)
	merged[VarTimestamp] = time.Now().UTC().Format(time.RFC3339)
	merged[VarToken] = uuid.NewString()
	return merged
}

func shortID(containerID string) string {
	if len(containerID) > 12 {
		return containerID[:12]
	}
	return containerID
}

func (p *Pipeline) publish(t events.EventType, workloadID, message string) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(&events.Event{Type: t, WorkloadID: workloadID, Message: message})
}
