package runtime

import (
	"context"
	"io"
	"time"

	"github.com/hutchlabs/hutch/pkg/types"
)

// ContainerSpec is everything the gateway needs to create one container
type ContainerSpec struct {
	WorkloadID    string
	Image         string
	Command       []string
	Env           []string
	VolumePath    string // host directory bind-mounted at MountPath
	MemoryLimitMB int64
	CPUCount      float64
	ExposedPorts  []int
	PortBindings  map[int][]types.PortBinding
}

// LogOptions controls a log stream
type LogOptions struct {
	Follow    bool
	TailLines int
}

// AttachStream is a bidirectional byte stream into a running container.
// Stdin relays into the container; Output carries its console output and
// may be nil when output forwarding is disabled.
type AttachStream struct {
	Stdin  io.WriteCloser
	Output io.ReadCloser
}

// Close releases both directions of the stream
func (a *AttachStream) Close() error {
	var err error
	if a.Stdin != nil {
		err = a.Stdin.Close()
	}
	if a.Output != nil {
		if cerr := a.Output.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Gateway is the capability surface the daemon consumes from the container
// runtime. Exactly one container is bound to a workload id at a time; the
// orchestrator removes the old binding before creating a replacement.
type Gateway interface {
	// PullImage pulls an image. Idempotent; blocks until locally available.
	PullImage(ctx context.Context, ref string) error

	// CreateContainer creates a container for the workload and returns its
	// container id. Fails when a container for the workload already exists.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	RestartContainer(ctx context.Context, containerID string) error

	// RemoveContainer deletes a container. With force it stops a running
	// container first. A missing container yields errdefs.ErrNotFound.
	RemoveContainer(ctx context.Context, containerID string, force bool) error

	// InspectContainer reports the effective configuration and whether the
	// container is currently running.
	InspectContainer(ctx context.Context, containerID string) (*types.ContainerInfo, error)

	// StreamLogs returns a cancellable console stream. With Follow the
	// stream never ends on its own; the caller must close it.
	StreamLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error)

	// PollStats returns one point-in-time usage snapshot
	PollStats(ctx context.Context, containerID string) (*types.StatsSnapshot, error)

	// Attach opens a bidirectional stream to the container's console
	Attach(ctx context.Context, containerID string) (*AttachStream, error)

	// Ping verifies runtime connectivity
	Ping(ctx context.Context) error

	Close() error
}
