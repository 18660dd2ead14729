/*
Package api serves the daemon's HTTP control surface.

The control plane drives the node through this API: workload lifecycle,
volume file management, credentials, state queries. Everything except
the status and metrics endpoints requires the shared bearer token.

# Routes

Lifecycle:

	POST   /create              provision a new workload
	DELETE /remove/{id}         remove workload, container, volume
	POST   /redeploy/{id}       recreate the container, keep the volume
	POST   /reinstall/{id}      redeploy plus install scripts
	PUT    /edit/{id}           change image or resource limits
	GET    /state/{id}          current lifecycle state
	POST   /power/{id}/{action} start | stop | restart

Files:

	GET    /files/{id}/list      directory listing (?path=)
	GET    /files/{id}/contents  file contents (?path=)
	POST   /files/{id}/write     write file (?path=, raw body)
	DELETE /files/{id}/delete    delete file (?path=)
	POST   /files/{id}/archive   snapshot the volume
	GET    /files/{id}/archives  list snapshots
	POST   /files/{id}/rollback  restore a snapshot

Credentials:

	GET    /creds/{id}        current login
	POST   /creds/{id}/reset  rotate the password

Unauthenticated:

	GET /health   daemon + component health, always 200
	GET /metrics  Prometheus scrape endpoint

# Semantics

Create answers 202 as soon as INSTALLING is durably recorded; the caller
polls /state for the outcome. Errors map from the error taxonomy:
configuration errors answer 400, unknown workloads 404, an operation
already in flight for the workload 409, everything else 500. Bodies are
JSON both ways.
*/
package api
