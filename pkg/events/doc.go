/*
Package events distributes workload lifecycle events.

The broker fans provisioning and lifecycle events out to in-process
subscribers: the telemetry layer forwards them to connected clients and
tests use them to observe pipeline progress. Publishing never blocks; a
subscriber whose buffer is full silently misses events, which is the
right trade for progress notifications that the state table supersedes.

# Event Types

	workload.install.started      provisioning began
	workload.install.image_pulled image fetch finished
	workload.install.script_fetched / script_failed
	workload.install.completed / failed
	workload.state.changed        state table transition
	workload.power                power action applied
	workload.deleted              workload removed

# Usage

	sub := broker.Subscribe(workloadID)
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		// forward ev
	}

Subscriptions filter on one workload id; an empty id receives every
event.
*/
package events
