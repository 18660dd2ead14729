package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/containerd/typeurl/v2"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	v1 "github.com/containerd/cgroups/v3/cgroup1/stats"
	v2 "github.com/containerd/cgroups/v3/cgroup2/stats"

	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/log"
	"github.com/hutchlabs/hutch/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace for hutch
	DefaultNamespace = "hutch"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// MountPath is where the workload volume appears inside the container
	MountPath = "/data"

	labelWorkload = "hutch.workload"
	labelPorts    = "hutch.ports"
	labelExposed  = "hutch.exposed"
)

// ContainerdGateway implements Gateway using containerd
type ContainerdGateway struct {
	client    *containerd.Client
	namespace string
	dataDir   string // holds per-container log files and stdin fifos
}

// NewContainerdGateway connects to containerd. The connection is lazy; a
// daemon can come up with containerd down and report degraded instead of
// crashing.
func NewContainerdGateway(socketPath, namespace, dataDir string) (*ContainerdGateway, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	for _, sub := range []string{"logs", "fifo"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}

	return &ContainerdGateway{
		client:    client,
		namespace: namespace,
		dataDir:   dataDir,
	}, nil
}

// Close closes the containerd client connection
func (g *ContainerdGateway) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Ping verifies the runtime is reachable
func (g *ContainerdGateway) Ping(ctx context.Context) error {
	ctx = namespaces.WithNamespace(ctx, g.namespace)
	if _, err := g.client.Version(ctx); err != nil {
		return errdefs.Runtime("ping", err)
	}
	return nil
}

// PullImage pulls an image and unpacks it. Idempotent.
func (g *ContainerdGateway) PullImage(ctx context.Context, ref string) error {
	ctx = namespaces.WithNamespace(ctx, g.namespace)

	logger := log.WithComponent("runtime")
	logger.Info().Str("image", ref).Msg("pulling image")
	if _, err := g.client.Pull(ctx, ref, containerd.WithPullUnpack); err != nil {
		return errdefs.Runtime(fmt.Sprintf("pull image %s", ref), err)
	}
	logger.Info().Str("image", ref).Msg("image pulled")
	return nil
}

// CreateContainer creates a container for the workload. The container id is
// the workload id plus a random suffix, so a redeployed workload gets a
// distinct id while the workload binding stays discoverable via labels.
func (g *ContainerdGateway) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	ctx = namespaces.WithNamespace(ctx, g.namespace)

	existing, err := g.client.Containers(ctx, fmt.Sprintf("labels.%q==%q", labelWorkload, spec.WorkloadID))
	if err != nil {
		return "", errdefs.Runtime("list containers", err)
	}
	if len(existing) > 0 {
		return "", errdefs.Runtime("create container",
			fmt.Errorf("a container for workload %s already exists: %s", spec.WorkloadID, existing[0].ID()))
	}

	image, err := g.client.GetImage(ctx, spec.Image)
	if err != nil {
		return "", errdefs.Runtime(fmt.Sprintf("get image %s", spec.Image), err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}
	if len(spec.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Command...))
	}
	if spec.VolumePath != "" {
		opts = append(opts, oci.WithMounts([]specs.Mount{
			{
				Source:      spec.VolumePath,
				Destination: MountPath,
				Type:        "bind",
				Options:     []string{"rbind", "rw"},
			},
		}))
	}
	if spec.MemoryLimitMB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryLimitMB)*1024*1024))
	}
	if spec.CPUCount > 0 {
		// CFS period of 100ms, quota scaled to the requested core count.
		opts = append(opts, oci.WithCPUCFS(int64(spec.CPUCount*100000), 100000))
	}

	labels := map[string]string{labelWorkload: spec.WorkloadID}
	if len(spec.PortBindings) > 0 {
		data, err := json.Marshal(spec.PortBindings)
		if err != nil {
			return "", fmt.Errorf("failed to encode port bindings: %w", err)
		}
		labels[labelPorts] = string(data)
	}
	if len(spec.ExposedPorts) > 0 {
		data, err := json.Marshal(spec.ExposedPorts)
		if err != nil {
			return "", fmt.Errorf("failed to encode exposed ports: %w", err)
		}
		labels[labelExposed] = string(data)
	}

	containerID := spec.WorkloadID + "-" + uuid.NewString()[:8]

	container, err := g.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(labels),
	)
	if err != nil {
		return "", errdefs.Runtime("create container", err)
	}

	return container.ID(), nil
}

// StartContainer starts the container's task with its console wired to a
// log file and a stdin fifo, both under the gateway data directory. The
// fifo is what Attach writes into later.
func (g *ContainerdGateway) StartContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, g.namespace)

	container, err := g.client.LoadContainer(ctx, containerID)
	if err != nil {
		return g.mapLoadErr(containerID, err)
	}

	logF, err := os.OpenFile(g.logPath(containerID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open console log: %w", err)
	}

	fifo := g.fifoPath(containerID)
	if _, err := os.Stat(fifo); os.IsNotExist(err) {
		if err := syscall.Mkfifo(fifo, 0o600); err != nil {
			logF.Close()
			return fmt.Errorf("failed to create stdin fifo: %w", err)
		}
	}
	// O_RDWR so the open never blocks and the fifo always has a reader.
	stdinF, err := os.OpenFile(fifo, os.O_RDWR, 0)
	if err != nil {
		logF.Close()
		return fmt.Errorf("failed to open stdin fifo: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(stdinF, logF, logF)))
	if err != nil {
		logF.Close()
		stdinF.Close()
		return errdefs.Runtime("create task", err)
	}

	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return errdefs.Runtime("start task", err)
	}

	return nil
}

// StopContainer stops a running container, SIGTERM first and SIGKILL after
// the timeout. Stopping a container with no running task is a no-op.
func (g *ContainerdGateway) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, g.namespace)

	container, err := g.client.LoadContainer(ctx, containerID)
	if err != nil {
		return g.mapLoadErr(containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the container is not running.
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return errdefs.Runtime("kill task", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return errdefs.Runtime("wait for task", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return errdefs.Runtime("force kill task", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return errdefs.Runtime("delete task", err)
	}
	return nil
}

// RestartContainer stops the container if running and starts it again
func (g *ContainerdGateway) RestartContainer(ctx context.Context, containerID string) error {
	if err := g.StopContainer(ctx, containerID, 10*time.Second); err != nil {
		return err
	}
	return g.StartContainer(ctx, containerID)
}

// RemoveContainer deletes a container and its snapshot. With force, a
// running container is stopped first.
func (g *ContainerdGateway) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	ctx = namespaces.WithNamespace(ctx, g.namespace)

	container, err := g.client.LoadContainer(ctx, containerID)
	if err != nil {
		return g.mapLoadErr(containerID, err)
	}

	if force {
		if err := g.StopContainer(ctx, containerID, 10*time.Second); err != nil {
			logger := log.WithContainerID(containerID)
			logger.Warn().Err(err).Msg("failed to stop container before removal")
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return errdefs.Runtime("delete container", err)
	}

	os.Remove(g.logPath(containerID))
	os.Remove(g.fifoPath(containerID))
	return nil
}

// InspectContainer reads back the effective configuration
func (g *ContainerdGateway) InspectContainer(ctx context.Context, containerID string) (*types.ContainerInfo, error) {
	ctx = namespaces.WithNamespace(ctx, g.namespace)

	container, err := g.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil, g.mapLoadErr(containerID, err)
	}

	info, err := container.Info(ctx)
	if err != nil {
		return nil, errdefs.Runtime("inspect container", err)
	}

	ociSpec, err := container.Spec(ctx)
	if err != nil {
		return nil, errdefs.Runtime("read container spec", err)
	}

	result := &types.ContainerInfo{
		ID:     containerID,
		Image:  info.Image,
		Labels: info.Labels,
	}
	if ociSpec.Process != nil {
		result.Env = ociSpec.Process.Env
		result.Command = ociSpec.Process.Args
	}

	logger := log.WithContainerID(containerID)
	if raw, ok := info.Labels[labelPorts]; ok {
		if err := json.Unmarshal([]byte(raw), &result.PortBindings); err != nil {
			logger.Warn().Err(err).Msg("malformed port bindings label")
		}
	}
	if raw, ok := info.Labels[labelExposed]; ok {
		if err := json.Unmarshal([]byte(raw), &result.ExposedPorts); err != nil {
			logger.Warn().Err(err).Msg("malformed exposed ports label")
		}
	}

	if task, err := container.Task(ctx, nil); err == nil {
		if status, err := task.Status(ctx); err == nil {
			result.Running = status.Status == containerd.Running || status.Status == containerd.Paused
		}
	}

	return result, nil
}

// StreamLogs tails the container's console log file. The returned stream is
// released by Close or by cancelling ctx.
func (g *ContainerdGateway) StreamLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error) {
	return newTailReader(ctx, g.logPath(containerID), opts)
}

// PollStats reads one metrics snapshot from the container's task
func (g *ContainerdGateway) PollStats(ctx context.Context, containerID string) (*types.StatsSnapshot, error) {
	ctx = namespaces.WithNamespace(ctx, g.namespace)

	container, err := g.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil, g.mapLoadErr(containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, errdefs.NotFound("task for container", containerID)
	}

	metric, err := task.Metrics(ctx)
	if err != nil {
		return nil, errdefs.Runtime("read task metrics", err)
	}

	data, err := typeurl.UnmarshalAny(metric.Data)
	if err != nil {
		return nil, errdefs.Runtime("decode task metrics", err)
	}

	snap := &types.StatsSnapshot{
		ContainerID: containerID,
		Timestamp:   time.Now(),
	}
	switch m := data.(type) {
	case *v1.Metrics:
		if m.CPU != nil && m.CPU.Usage != nil {
			snap.CPUUsageNano = m.CPU.Usage.Total
		}
		if m.Memory != nil && m.Memory.Usage != nil {
			snap.MemoryBytes = m.Memory.Usage.Usage
			snap.MemoryLimit = m.Memory.Usage.Limit
		}
	case *v2.Metrics:
		if m.CPU != nil {
			snap.CPUUsageNano = m.CPU.UsageUsec * 1000
		}
		if m.Memory != nil {
			snap.MemoryBytes = m.Memory.Usage
			snap.MemoryLimit = m.Memory.UsageLimit
		}
	default:
		return nil, errdefs.Runtime("decode task metrics", fmt.Errorf("unsupported metrics type %T", data))
	}

	return snap, nil
}

// Attach opens the container's stdin fifo for writing and tails its console
// output. The fifo survives daemon restarts; containerd keeps draining it
// for the lifetime of the task.
func (g *ContainerdGateway) Attach(ctx context.Context, containerID string) (*AttachStream, error) {
	fifo := g.fifoPath(containerID)
	if _, err := os.Stat(fifo); err != nil {
		return nil, errdefs.NotFound("console for container", containerID)
	}

	stdin, err := os.OpenFile(fifo, os.O_WRONLY, 0)
	if err != nil {
		return nil, errdefs.Runtime("open console stdin", err)
	}

	output, err := newTailReader(ctx, g.logPath(containerID), LogOptions{Follow: true})
	if err != nil {
		stdin.Close()
		return nil, err
	}

	return &AttachStream{Stdin: stdin, Output: output}, nil
}

func (g *ContainerdGateway) mapLoadErr(containerID string, err error) error {
	if cerrdefs.IsNotFound(err) {
		return errdefs.NotFound("container", containerID)
	}
	return errdefs.Runtime(fmt.Sprintf("load container %s", containerID), err)
}

func (g *ContainerdGateway) logPath(containerID string) string {
	return filepath.Join(g.dataDir, "logs", containerID+".log")
}

func (g *ContainerdGateway) fifoPath(containerID string) string {
	return filepath.Join(g.dataDir, "fifo", containerID+".stdin")
}
