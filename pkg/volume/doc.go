/*
Package volume manages per-workload data directories.

Each workload owns one directory under the configured base path; the
runtime bind-mounts it into the container at /data and the install
scripts land inside it. The manager is deliberately small: create,
delete, existence, disk usage.

# Semantics

  - Ids are validated before touching the filesystem: path separators
    and dot segments are rejected, so a workload can never name a
    directory outside the base path
  - Create is idempotent; Delete tolerates an absent directory
  - Usage walks the directory tree with a bounded depth and skips
    entries it cannot stat, so one unreadable file never fails a stats
    poll

# Usage

	volumes, err := volume.NewManager("/var/lib/hutch/volumes")
	if err != nil {
		return err
	}
	path, err := volumes.Create(workloadID)
*/
package volume
