/*
Package orchestrator coordinates workload lifecycle operations.

The orchestrator sits between the control API and the lower layers
(state store, runtime gateway, volume manager, provisioning pipeline).
It owns the rules about which operations are legal in which state, keeps
concurrent operations on the same workload from interleaving, and makes
sure every mutation lands in the persisted state table.

# Architecture

	┌─────────────────── ORCHESTRATOR ────────────────────┐
	│                                                       │
	│   Create ── Delete ── Redeploy ── Reinstall ── Edit  │
	│                        │                              │
	│        per-workload mutex (fail-fast on conflict)     │
	│                        │                              │
	│   ┌──────────┬────────┴───────┬──────────────┐      │
	│   │ state    │ runtime        │ provisioning │      │
	│   │ store    │ gateway        │ pipeline     │      │
	│   └──────────┴────────────────┴──────────────┘      │
	└──────────────────────────────────────────────────┘

# Core Components

Orchestrator:
  - One instance per daemon, safe for concurrent use
  - Per-workload mutexes held for the duration of an operation; a second
    operation on the same workload fails fast with a conflict error
  - Publishes lifecycle events to the broker and updates state gauges

CredentialIssuer:
  - Hook for per-volume credential management (Ensure on create,
    Revoke on delete); failures are logged, never fatal

EditRequest:
  - Partial update: image, memory limit and CPU count; empty fields keep
    the running container's current values

# Operations

Create:
  - Validates the spec, refuses ids that are READY or INSTALLING
  - Persists INSTALLING before returning, then provisions in the
    background; the caller polls state for the outcome

Delete:
  - Idempotent: removes container, volume, credentials and the state row,
    tolerating whichever of them is already gone

Redeploy:
  - Stops and removes the old container before creating the new one, so
    the workload never has two bound containers
  - Runs the pipeline without install scripts; volume data survives

Reinstall:
  - Redeploy plus install scripts, with the old container's environment
    carried over as substitution variables

Edit:
  - Inspects the running container, merges the requested changes, and
    recreates through the same replace path as redeploy

Power:
  - start / stop / restart on the bound container without touching the
    persisted state machine

ReconcileBoot:
  - Runs once at startup: a READY row with no running container and any
    row still INSTALLING demote to FAILED; actual state wins over
    recorded state

# Usage

	orch := orchestrator.New(orchestrator.Config{
		Store:    store,
		Gateway:  gateway,
		Volumes:  volumes,
		Pipeline: pipeline,
		Broker:   broker,
	})
	orch.ReconcileBoot(ctx)

	if err := orch.Create(ctx, spec, vars); err != nil {
		return err
	}

# Shutdown

Background provisioning runs are tracked; Drain blocks until every
in-flight run has recorded a terminal state, so a daemon restart never
strands a workload in INSTALLING longer than the boot reconciliation
takes to notice.
*/
package orchestrator
