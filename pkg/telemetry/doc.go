/*
Package telemetry serves real-time workload channels to remote clients.

A telemetry connection is a persistent HTTP request: the client streams
newline-delimited JSON frames on the request body and the server streams
frames back on a flushed response. Each connection serves exactly one
workload in exactly one mode, derived from the request path.

# Connection Lifecycle

	unauthenticated ──auth ok──▶ authenticated ──▶ streaming ──▶ closed
	       │                                           │
	       └──bad/late auth──▶ closed ◀──protocol err──┘

 1. The first inbound frame must be {"event":"auth","args":[<secret>]}
    within the auth window; anything else closes the connection with an
    auth failure code
 2. The workload must exist and have a bound container, otherwise the
    connection closes with an unknown-workload code
 3. The mode loop runs until the client disconnects, the stream ends, or
    a protocol violation occurs
 4. Teardown always releases the underlying runtime stream before the
    handler returns

# Modes

Logs (/logs/{id}):
  - Tails the container's output in follow mode, starting from the last
    100 lines, and forwards chunks as "console" frames

Stats (/stats/{id}):
  - Polls runtime metrics on the configured interval (default 3s) and
    forwards cpu/memory/disk snapshots as "stats" frames
  - The poll ticker stops with the connection; a closed channel costs
    nothing after its grace period

Exec (/exec/{id}):
  - Attaches to the container console; "cmd" frames are relayed to the
    container's stdin through a bounded queue so a stalled container
    never blocks control handling
  - power:start / power:stop / power:restart frames drive the workload's
    power state and answer with status frames

Logs and exec connections additionally receive the workload's lifecycle
events (installs, redeploys, power actions) as "event" frames, so a
console observes progress without polling the control API.

# Close Codes

	1000  normal close
	4000  protocol error (malformed frame, unexpected event)
	4001  authentication failure
	4004  unknown workload or no bound container

# Usage

	srv := telemetry.NewServer(telemetry.Config{
		Secret:    cfg.TelemetrySecret,
		Directory: orch,
		Power:     orch,
		Gateway:   gateway,
		Volumes:   volumes,
		Broker:    broker,
	})
	srv.Register(mux)

Connections are accounted in the telemetry connection gauge per mode;
authentication failures feed their own counter.
*/
package telemetry
