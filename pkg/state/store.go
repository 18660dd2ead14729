package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hutchlabs/hutch/pkg/log"
	"github.com/hutchlabs/hutch/pkg/types"
)

// Store is the durable workload-id -> state-record table. Every mutation
// rewrites the whole table to a temp file and renames it over the previous
// one, so readers never observe a torn write.
type Store struct {
	path string
	mu   sync.Mutex
	tbl  map[string]*types.StateRecord
}

// record is the on-disk shape; the volume id is the table key
type record struct {
	State       types.WorkloadState `json:"state"`
	ContainerID string              `json:"containerId,omitempty"`
}

// Open loads the table at path. A missing or corrupt file yields an empty
// table rather than an error: the daemon must come up after a crash even if
// the last write never landed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &Store{
		path: path,
		tbl:  make(map[string]*types.StateRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var raw map[string]record
	if err := json.Unmarshal(data, &raw); err != nil {
		logger := log.WithComponent("state")
		logger.Warn().
			Str("path", path).
			Err(err).
			Msg("state file is corrupt, starting with an empty table")
		return s, nil
	}

	for id, rec := range raw {
		s.tbl[id] = &types.StateRecord{
			VolumeID:    id,
			State:       rec.State,
			ContainerID: rec.ContainerID,
		}
	}
	return s, nil
}

// Get returns the record for a volume id. A missing id yields a record in
// StateUnknown; Get never errors.
func (s *Store) Get(volumeID string) types.StateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.tbl[volumeID]; ok {
		return *rec
	}
	return types.StateRecord{VolumeID: volumeID, State: types.StateUnknown}
}

// List returns a copy of every record in the table
func (s *Store) List() []types.StateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]types.StateRecord, 0, len(s.tbl))
	for _, rec := range s.tbl {
		records = append(records, *rec)
	}
	return records
}

// Set overwrites the record for a volume id and persists the table before
// returning. An empty containerID clears the stored container binding.
func (s *Store) Set(volumeID string, st types.WorkloadState, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tbl[volumeID] = &types.StateRecord{
		VolumeID:    volumeID,
		State:       st,
		ContainerID: containerID,
	}
	return s.persistLocked()
}

// Delete removes the record for a volume id and persists the table.
// Deleting an absent id is a no-op.
func (s *Store) Delete(volumeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tbl[volumeID]; !ok {
		return nil
	}
	delete(s.tbl, volumeID)
	return s.persistLocked()
}

// persistLocked writes the full table to <path>.tmp and renames it into
// place. Caller must hold s.mu.
func (s *Store) persistLocked() error {
	raw := make(map[string]record, len(s.tbl))
	for id, rec := range s.tbl {
		raw[id] = record{State: rec.State, ContainerID: rec.ContainerID}
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state table: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
