/*
Package runtime provides the container runtime gateway backed by containerd.

The runtime package is hutch's single point of contact with the container
runtime. Every other package that needs a container pulled, created,
started, stopped, inspected or streamed goes through the Gateway interface;
only this package imports the containerd client. That boundary keeps the
provisioning pipeline and the orchestrator testable against an in-memory
fake, and keeps runtime-specific error translation in one place.

# Architecture

	┌──────────────────── RUNTIME GATEWAY ────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐         │
	│  │           Gateway (interface)               │         │
	│  │  - PullImage / CreateContainer              │         │
	│  │  - Start / Stop / Restart / Remove          │         │
	│  │  - Inspect / StreamLogs / PollStats         │         │
	│  │  - Attach (interactive console)             │         │
	│  └──────────────────┬─────────────────────────┘         │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐         │
	│  │        ContainerdGateway                    │         │
	│  │  - containerd client over unix socket       │         │
	│  │  - namespaced (default "hutch")             │         │
	│  │  - OCI spec construction                    │         │
	│  │  - log file + stdin FIFO per task           │         │
	│  └──────────────────┬─────────────────────────┘         │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐         │
	│  │            containerd daemon               │         │
	│  │  - image store, snapshots, tasks            │         │
	│  │  - cgroup resource enforcement              │         │
	│  └────────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────┘

# Core Components

Gateway:
  - Interface consumed by provision, orchestrator and telemetry
  - Context-aware on every blocking call
  - Satisfied by ContainerdGateway in production, FakeGateway in tests

ContainerdGateway:
  - Wraps the containerd client and a fixed namespace
  - Maps containerd not-found errors onto the package error taxonomy
  - Owns the per-container log file and stdin FIFO under the data dir

FakeGateway:
  - In-memory Gateway for tests
  - Records every call in order so call sequences can be asserted
  - Injectable errors for pull, create and start

# Workload Binding

containerd has no notion of a workload, so the binding is carried in
container metadata:

  - Container ID: "<workloadID>-<8 hex chars>", unique per creation
  - Label "hutch.workload": the owning workload id; creation refuses to
    proceed when a container with the same label already exists
  - Labels "hutch.ports" / "hutch.exposed": JSON-encoded port data so
    Inspect can round-trip the original spec

# Container Lifecycle

Create:
 1. Check no container is already bound to the workload id
 2. Resolve the pulled image
 3. Build the OCI spec: image config, env, args, /data bind mount,
    memory limit, CPU CFS quota
 4. Create the container with a new snapshot and binding labels

Start:
 1. Open the task log file and create the stdin FIFO
 2. Create the task with both wired as console streams
 3. Start the task

Stop:
 1. SIGTERM, then wait up to the configured timeout
 2. SIGKILL when the deadline passes
 3. Delete the task, keeping the container

Remove:
 1. Force-stop any running task
 2. Delete the container with snapshot cleanup
 3. Remove the log file and FIFO

# Logs and Console

Task output is written to one log file per container. StreamLogs serves
that file, optionally in follow mode: the reader tails the file until the
context is cancelled or the stream is closed, so a live connection sees
new output within the poll interval. Attach combines the same output tail
with a write handle on the stdin FIFO; the FIFO is held open read-write
by the task so writers never block on a missing reader.

# Stats

PollStats reads task metrics and decodes the versioned payload: cgroup v1
metrics on legacy hosts, cgroup v2 on unified hierarchies. Both decode
into the same StatsSnapshot so callers never see the cgroup version.

# Usage

	gw, err := runtime.NewContainerdGateway("/run/containerd/containerd.sock", "hutch", dataDir)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := gw.PullImage(ctx, "docker.io/library/redis:7"); err != nil {
		return err
	}

	id, err := gw.CreateContainer(ctx, spec)
	if err != nil {
		return err
	}
	if err := gw.StartContainer(ctx, id); err != nil {
		return err
	}

# Integration Points

  - provision: pulls, creates and starts during installation
  - orchestrator: stop/remove/restart during lifecycle operations
  - telemetry: StreamLogs, PollStats and Attach feed live channels
  - report: Ping keeps the status endpoint's containerd component fresh
*/
package runtime
