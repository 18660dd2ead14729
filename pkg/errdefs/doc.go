/*
Package errdefs defines the error taxonomy used across hutch.

Callers sort failures into four buckets: configuration errors (the
request can never succeed as written), runtime errors (the container
runtime rejected or failed the operation), transient network errors
(worth retrying), and authentication errors. Sentinels compose with
errors.Is/As through the standard wrapping verbs, so a deep call stack
can classify an error without knowing where it came from.

	if errdefs.IsTransient(err) {
		// retry with backoff
	}

The constructors wrap an underlying cause; the predicates walk the
chain. The HTTP layer maps the taxonomy onto status codes and the
provisioning pipeline uses it to decide between retrying and failing
the run.
*/
package errdefs
