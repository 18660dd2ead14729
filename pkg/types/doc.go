/*
Package types defines the data structures shared across hutch.

These are the wire and storage shapes: work specs arriving from the
control plane, lifecycle state records persisted by the state store, and
the snapshots the runtime gateway reports back. The package depends on
nothing but the standard library so every other package can import it.

# Workload States

	UNKNOWN ──create──▶ INSTALLING ──▶ READY
	                        │            │
	                        └──▶ FAILED ◀┘ (crash / reconcile)

UNKNOWN is the implicit state of any id the daemon has no record of;
INSTALLING marks an in-flight provisioning run; READY and FAILED are the
terminal states an operation converges to.

# Core Types

WorkloadSpec:
  - Everything needed to provision a workload: image, command, env,
    port bindings, resource limits, install scripts
  - Validate rejects specs that cannot be provisioned (missing id or
    image, negative limits, malformed bindings)
  - PrimaryPort picks the binding clients should be told about: the
    lowest container port's first host binding

StateRecord:
  - One row of the persisted state table: volume id, state, and the
    bound container id when one exists

ContainerInfo / StatsSnapshot:
  - Inspection and metrics shapes reported by the runtime gateway

# Environment Helpers

MergeEnv combines KEY=VALUE lists with last-write-wins semantics while
keeping first-appearance order; EnvToMap converts a list into a map for
variable substitution.
*/
package types
