/*
Package retry implements backoff policies for transient failures.

A Policy describes how many attempts to make and how the delay between
them grows (fixed, linear or exponential, capped at a maximum). Do runs
a function under the policy, consulting a caller-supplied predicate to
decide whether a failure is worth retrying and honoring context
cancellation between attempts.
*/
package retry
