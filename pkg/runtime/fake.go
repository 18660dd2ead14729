package runtime

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/types"
)

// FakeGateway is an in-memory Gateway for tests. It records the order of
// calls so tests can assert lifecycle sequencing (remove-before-create on
// redeploy, and so on).
type FakeGateway struct {
	mu sync.Mutex

	// Calls is the ordered list of operations, e.g. "pull demo:latest",
	// "create w1", "remove w1-1".
	Calls []string

	// Error hooks; a nil hook means the operation succeeds.
	PullErr   func(ref string) error
	CreateErr func(spec ContainerSpec) error
	StartErr  func(containerID string) error

	containers map[string]*fakeContainer
	seq        int

	// LogData is what StreamLogs serves
	LogData []byte

	// Stats is what PollStats returns
	Stats types.StatsSnapshot

	// AttachInput collects everything written to attach streams
	AttachInput []byte

	statsPolls int
}

type fakeContainer struct {
	spec    ContainerSpec
	running bool
}

// NewFakeGateway creates an empty fake
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{containers: make(map[string]*fakeContainer)}
}

func (f *FakeGateway) record(format string, args ...interface{}) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// CallLog returns a copy of the recorded calls
func (f *FakeGateway) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	copy(out, f.Calls)
	return out
}

// AttachWritten returns a copy of everything written to attach streams
func (f *FakeGateway) AttachWritten() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.AttachInput...)
}

// StatsPolls returns how many times PollStats has been invoked
func (f *FakeGateway) StatsPolls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsPolls
}

// Running reports whether the given container is in the running state
func (f *FakeGateway) Running(containerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	return ok && c.running
}

// RunningForWorkload returns the ids of running containers bound to a workload
func (f *FakeGateway) RunningForWorkload(workloadID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, c := range f.containers {
		if c.spec.WorkloadID == workloadID && c.running {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetRunning flips the running flag without recording a call; tests use it
// to stage preexisting containers.
func (f *FakeGateway) SetRunning(containerID string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[containerID]; ok {
		c.running = running
	}
}

func (f *FakeGateway) PullImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull %s", ref)
	if f.PullErr != nil {
		return f.PullErr(ref)
	}
	return nil
}

func (f *FakeGateway) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create %s", spec.WorkloadID)
	if f.CreateErr != nil {
		if err := f.CreateErr(spec); err != nil {
			return "", err
		}
	}
	for id, c := range f.containers {
		if c.spec.WorkloadID == spec.WorkloadID {
			return "", errdefs.Runtime("create container",
				fmt.Errorf("a container for workload %s already exists: %s", spec.WorkloadID, id))
		}
	}
	f.seq++
	id := fmt.Sprintf("%s-%d", spec.WorkloadID, f.seq)
	f.containers[id] = &fakeContainer{spec: spec}
	return id, nil
}

func (f *FakeGateway) StartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start %s", containerID)
	if f.StartErr != nil {
		if err := f.StartErr(containerID); err != nil {
			return err
		}
	}
	c, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound("container", containerID)
	}
	c.running = true
	return nil
}

func (f *FakeGateway) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop %s", containerID)
	c, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound("container", containerID)
	}
	c.running = false
	return nil
}

func (f *FakeGateway) RestartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("restart %s", containerID)
	c, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound("container", containerID)
	}
	c.running = true
	return nil
}

func (f *FakeGateway) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove %s", containerID)
	if _, ok := f.containers[containerID]; !ok {
		return errdefs.NotFound("container", containerID)
	}
	delete(f.containers, containerID)
	return nil
}

func (f *FakeGateway) InspectContainer(ctx context.Context, containerID string) (*types.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("inspect %s", containerID)
	c, ok := f.containers[containerID]
	if !ok {
		return nil, errdefs.NotFound("container", containerID)
	}
	return &types.ContainerInfo{
		ID:           containerID,
		Running:      c.running,
		Image:        c.spec.Image,
		Command:      c.spec.Command,
		Env:          c.spec.Env,
		ExposedPorts: c.spec.ExposedPorts,
		PortBindings: c.spec.PortBindings,
	}, nil
}

func (f *FakeGateway) StreamLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.record("logs %s", containerID)
	data := f.LogData
	f.mu.Unlock()
	return &fakeLogStream{ctx: ctx, data: data, follow: opts.Follow}, nil
}

func (f *FakeGateway) PollStats(ctx context.Context, containerID string) (*types.StatsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsPolls++
	if _, ok := f.containers[containerID]; !ok {
		return nil, errdefs.NotFound("container", containerID)
	}
	snap := f.Stats
	snap.ContainerID = containerID
	snap.Timestamp = time.Now()
	return &snap, nil
}

func (f *FakeGateway) Attach(ctx context.Context, containerID string) (*AttachStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("attach %s", containerID)
	if _, ok := f.containers[containerID]; !ok {
		return nil, errdefs.NotFound("container", containerID)
	}
	return &AttachStream{
		Stdin:  &fakeStdin{gw: f},
		Output: io.NopCloser(&neverEndingReader{ctx: ctx}),
	}, nil
}

func (f *FakeGateway) Ping(ctx context.Context) error { return nil }

func (f *FakeGateway) Close() error { return nil }

type fakeStdin struct {
	gw *FakeGateway
}

func (s *fakeStdin) Write(p []byte) (int, error) {
	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()
	s.gw.AttachInput = append(s.gw.AttachInput, p...)
	return len(p), nil
}

func (s *fakeStdin) Close() error { return nil }

// fakeLogStream serves the staged log data, then blocks in follow mode
// until the context is cancelled or the stream is closed.
type fakeLogStream struct {
	ctx    context.Context
	data   []byte
	pos    int
	follow bool

	mu     sync.Mutex
	closed bool
}

func (s *fakeLogStream) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed || s.ctx.Err() != nil {
			return 0, io.EOF
		}

		if s.pos < len(s.data) {
			n := copy(p, s.data[s.pos:])
			s.pos += n
			return n, nil
		}
		if !s.follow {
			return 0, io.EOF
		}

		select {
		case <-s.ctx.Done():
			return 0, io.EOF
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *fakeLogStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type neverEndingReader struct {
	ctx context.Context
}

func (r *neverEndingReader) Read(p []byte) (int, error) {
	<-r.ctx.Done()
	return 0, io.EOF
}
