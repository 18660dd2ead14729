/*
Package state persists the workload state table.

The store maps workload volume ids to their lifecycle record (state,
bound container id) and survives daemon restarts. It is the daemon's
source of truth for "what should exist"; the boot reconciliation in the
orchestrator compares it against what actually exists.

# Persistence

The table is one JSON file. Every mutation rewrites it atomically:
marshal, write to a temp file in the same directory, fsync, rename over
the previous file. A crash mid-write leaves the previous complete table;
a reader never observes a torn file.

Load tolerance at open:
  - Missing file: empty table (first boot)
  - Corrupt file: logged warning, empty table; reconciliation rebuilds
    what it can from the runtime

# Semantics

  - Get never fails: a missing id reports state UNKNOWN
  - Set and Delete serialize through one mutex; concurrent operations on
    different workloads still see a consistent table
  - List returns a snapshot copy of every record

# Usage

	store, err := state.Open(filepath.Join(dataDir, "state.json"))
	if err != nil {
		return err
	}
	if err := store.Set(id, types.StateInstalling, ""); err != nil {
		return err
	}
	rec := store.Get(id)
*/
package state
