/*
Package files exposes managed access to workload volume contents.

The control plane reads and writes files inside a workload's volume
(config files, world data, plugin directories) without shell access to
the node. Every path is resolved against the volume root and rejected if
it escapes it; reads are size-capped so a runaway file cannot exhaust
the daemon.

# Archives

Archive snapshots the whole volume into a timestamped tar.gz under the
volume's .archives directory; Rollback extracts a named archive back
over the volume. Archives survive redeploys because they live inside
the volume, and the .archives directory itself is excluded from new
snapshots.

	mgr := files.NewManager(volumes)
	entries, err := mgr.List(volumeID, "plugins")
	name, err := mgr.Archive(volumeID)
	err = mgr.Rollback(volumeID, name)
*/
package files
