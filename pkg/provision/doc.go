/*
Package provision implements the workload installation pipeline.

A provisioning run takes a workload from a bare spec to a running
container: persist INSTALLING, create the volume, pull the image, build
the environment, create the container, fetch and substitute install
scripts, start, persist READY. Any failure records FAILED with whatever
was learned before the failure (the container id, if one was created),
so the state table always reflects how far the run got.

# Pipeline Stages

 1. Record INSTALLING in the state store (durable before any side effect)
 2. Create the workload volume (idempotent)
 3. Pull the image, retrying transient registry failures with a fixed
    backoff; a permanent pull failure fails the run
 4. Build the effective environment: spec env, caller variables, then
    PRIMARY_PORT when the spec carries port bindings
 5. Create the container
 6. Fetch install scripts into the volume and run variable substitution
    over volume files; individual script failures are logged and counted
    but do not fail the run
 7. Start the container
 8. Record READY

# Variable Substitution

Scripts and volume files may reference {{primary_port}}, {{container_id}},
{{timestamp}} and {{token}} plus any caller-supplied variables. Rendering
is plain placeholder replacement; binary files (NUL byte in the first
8KiB) and files outside the volume root are skipped.

A spec that carries install scripts but no port binding is rejected as a
configuration error before the container is created, because the scripts
could not be rendered meaningfully.

# Failure Semantics

  - Transient network failures (registry 503/429, connection resets) are
    retried within the run
  - Script download failures after retries are non-fatal
  - Everything else fails the run and records FAILED
  - A panic inside the run is recovered and recorded as FAILED

# Usage

	p := provision.NewPipeline(store, gateway, volumes, broker)
	err := p.Run(ctx, spec, vars)

The pipeline publishes progress events (install started, image pulled,
script fetched/failed, completed/failed) to the broker and feeds the
provisioning duration and failure metrics.
*/
package provision
