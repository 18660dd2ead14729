package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/metrics"
	"github.com/hutchlabs/hutch/pkg/runtime"
	"github.com/hutchlabs/hutch/pkg/types"
)

// Message is one frame on a telemetry connection, either direction
type Message struct {
	Event   string   `json:"event"`
	Args    []string `json:"args,omitempty"`
	Command string   `json:"command,omitempty"`
}

// connState tracks the per-connection state machine
type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateStreaming
	stateClosed
)

// conn is one telemetry connection bound to one workload
type conn struct {
	server  *Server
	flusher http.Flusher
	body    io.Reader
	mode    Mode
	id      string // workload id from the request path

	state       connState
	containerID string

	writeMu sync.Mutex
	out     *json.Encoder

	inbound chan Message
	readErr chan error
}

func newConn(s *Server, w io.Writer, flusher http.Flusher, body io.Reader, mode Mode, id string) *conn {
	return &conn{
		server:  s,
		flusher: flusher,
		body:    body,
		mode:    mode,
		id:      id,
		state:   stateUnauthenticated,
		out:     json.NewEncoder(w),
		inbound: make(chan Message, 16),
		readErr: make(chan error, 1),
	}
}

// run drives the connection through its state machine and guarantees that
// every stream, timer and attach handle it opened is released by the time
// it returns.
func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.readLoop(ctx, cancel)

	if err := c.authenticate(ctx); err != nil {
		if errors.Is(err, errdefs.ErrAuth) {
			c.server.logger.Warn().Str("workload_id", c.id).Err(err).Msg("connection rejected")
		}
		return
	}

	rec := c.server.directory.State(c.id)
	if rec.State == types.StateUnknown || rec.ContainerID == "" {
		c.close(CloseUnknownWorkload, "unknown workload "+c.id)
		return
	}
	c.containerID = rec.ContainerID
	c.setState(stateStreaming)

	metrics.TelemetryConnections.WithLabelValues(string(c.mode)).Inc()
	defer metrics.TelemetryConnections.WithLabelValues(string(c.mode)).Dec()

	// Consoles also see the workload's lifecycle events, so a client
	// watching logs or an exec session observes redeploys and power
	// actions as they happen. Stats connections stay numeric.
	if c.server.broker != nil && c.mode != ModeStats {
		go c.forwardEvents(ctx)
	}

	switch c.mode {
	case ModeLogs:
		c.runLogs(ctx)
	case ModeStats:
		c.runStats(ctx)
	case ModeExec:
		c.runExec(ctx)
	}
}

// readLoop feeds inbound frames to the mode loops. A malformed frame
// cancels the connection; the body closing or the connection context
// ending terminates the loop, so a client that keeps sending after the
// state machine has finished cannot strand this goroutine.
func (c *conn) readLoop(ctx context.Context, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(c.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			c.close(CloseProtocolError, "malformed message")
			cancel()
			return
		}
		select {
		case c.inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
	c.readErr <- scanner.Err()
	cancel()
}

// authenticate enforces the first-message contract: an auth event carrying
// the shared secret, within the auth window. Any mismatch closes the
// connection immediately and surfaces errdefs.ErrAuth; there is no retry
// on the same connection.
func (c *conn) authenticate(ctx context.Context) error {
	select {
	case msg := <-c.inbound:
		if msg.Event != "auth" || len(msg.Args) == 0 || msg.Args[0] != c.server.secret {
			metrics.TelemetryAuthFailuresTotal.Inc()
			c.close(CloseAuthFailure, "authentication failed")
			return fmt.Errorf("%w: bad handshake frame", errdefs.ErrAuth)
		}
	case <-time.After(authTimeout):
		c.close(CloseAuthFailure, "authentication timeout")
		return fmt.Errorf("%w: timeout", errdefs.ErrAuth)
	case <-ctx.Done():
		c.setState(stateClosed)
		return ctx.Err()
	}

	c.setState(stateAuthenticated)
	c.send(Message{Event: "status", Args: []string{"auth success"}})
	return nil
}

// runLogs forwards follow-mode log chunks verbatim, one chunk at a time.
// The stream is released the moment the connection goes away, even though a
// follow stream never ends on its own.
func (c *conn) runLogs(ctx context.Context) {
	stream, err := c.server.gateway.StreamLogs(ctx, c.containerID, runtime.LogOptions{Follow: true, TailLines: 100})
	if err != nil {
		c.close(CloseProtocolError, "log stream unavailable")
		return
	}
	defer stream.Close()

	go c.discardInbound(ctx)

	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if !c.send(Message{Event: "console", Args: []string{string(buf[:n])}}) {
				return
			}
		}
		if err != nil {
			c.close(CloseNormal, "log stream ended")
			return
		}
		if ctx.Err() != nil {
			c.setState(stateClosed)
			return
		}
	}
}

// runStats polls a snapshot on the configured interval, augments it with
// the volume's on-disk size and forwards it. The timer stops with the
// connection; no poll fires after close.
func (c *conn) runStats(ctx context.Context) {
	ticker := time.NewTicker(c.server.statsInterval)
	defer ticker.Stop()

	go c.discardInbound(ctx)

	for {
		select {
		case <-ctx.Done():
			c.setState(stateClosed)
			return
		case <-ticker.C:
			snap, err := c.server.gateway.PollStats(ctx, c.containerID)
			if err != nil {
				c.server.logger.Debug().Str("workload_id", c.id).Err(err).Msg("stats poll failed")
				continue
			}
			if size, err := c.server.volumes.Usage(c.id); err == nil {
				snap.DiskBytes = size
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			if !c.send(Message{Event: "stats", Args: []string{string(payload)}}) {
				return
			}
		}
	}
}

// runExec attaches a bidirectional stream and relays command lines into it.
// Relay happens off the control loop through a buffered channel so a slow
// container never blocks power/command handling.
func (c *conn) runExec(ctx context.Context) {
	attach, err := c.server.gateway.Attach(ctx, c.containerID)
	if err != nil {
		c.close(CloseProtocolError, "attach unavailable")
		return
	}
	defer attach.Close()

	cmds := make(chan string, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case line := <-cmds:
				if _, err := io.WriteString(attach.Stdin, line+"\n"); err != nil {
					return
				}
			}
		}
	}()

	if c.server.forwardOutput && attach.Output != nil {
		go func() {
			buf := make([]byte, 4096)
			for {
				n, err := attach.Output.Read(buf)
				if n > 0 {
					if !c.send(Message{Event: "console", Args: []string{string(buf[:n])}}) {
						return
					}
				}
				if err != nil || ctx.Err() != nil {
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			c.setState(stateClosed)
			return
		case msg := <-c.inbound:
			c.handleControl(ctx, msg, cmds)
		}
	}
}

func (c *conn) handleControl(ctx context.Context, msg Message, cmds chan string) {
	switch msg.Event {
	case "cmd":
		select {
		case cmds <- msg.Command:
		default:
			// Relay buffer full; drop rather than stall control handling.
			c.server.logger.Warn().Str("workload_id", c.id).Msg("command relay buffer full, dropping")
		}
	case "power:start", "power:stop", "power:restart":
		action := strings.TrimPrefix(msg.Event, "power:")
		if err := c.server.power.Power(ctx, c.id, action); err != nil {
			c.send(Message{Event: "status", Args: []string{"power " + action + " failed: " + err.Error()}})
			return
		}
		c.send(Message{Event: "status", Args: []string{"power " + action + " ok"}})
	case "auth":
		// Re-authentication on an established connection is a protocol
		// violation.
		c.close(CloseProtocolError, "unexpected auth")
	default:
		c.close(CloseProtocolError, "unknown event "+msg.Event)
	}
}

// forwardEvents relays this workload's lifecycle events as frames until
// the connection ends
func (c *conn) forwardEvents(ctx context.Context) {
	sub := c.server.broker.Subscribe(c.id)
	defer c.server.broker.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if !c.send(Message{Event: "event", Args: []string{string(ev.Type), ev.Message}}) {
				return
			}
		}
	}
}

// discardInbound drains frames modes without control handling don't
// consume, still enforcing the protocol on them.
func (c *conn) discardInbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbound:
			if msg.Event == "auth" {
				c.close(CloseProtocolError, "unexpected auth")
			}
		}
	}
}

// send writes one frame. It reports false once the connection is closed.
func (c *conn) send(msg Message) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.state == stateClosed {
		return false
	}
	if err := c.out.Encode(&msg); err != nil {
		c.state = stateClosed
		return false
	}
	c.flusher.Flush()
	return true
}

// setState serializes state transitions against concurrent writers
func (c *conn) setState(st connState) {
	c.writeMu.Lock()
	c.state = st
	c.writeMu.Unlock()
}

// close emits the distinguishing status frame and marks the connection
// closed
func (c *conn) close(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.state == stateClosed {
		return
	}
	c.out.Encode(&Message{Event: "close", Args: []string{strconv.Itoa(code), reason}})
	c.flusher.Flush()
	c.state = stateClosed
}
