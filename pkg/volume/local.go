package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hutchlabs/hutch/pkg/errdefs"
)

const (
	// DefaultBasePath is the base directory for workload volumes
	DefaultBasePath = "/var/lib/hutch/volumes"

	// MaxUsageDepth caps the recursive disk-usage walk so a pathological
	// directory tree cannot recurse without bound.
	MaxUsageDepth = 500
)

// Manager owns the base directory under which every workload volume lives.
// Each workload gets exactly one directory named after its id.
type Manager struct {
	basePath string
}

// NewManager creates a volume manager rooted at basePath
func NewManager(basePath string) (*Manager, error) {
	if basePath == "" {
		basePath = DefaultBasePath
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}

	return &Manager{basePath: basePath}, nil
}

// BasePath returns the root of all workload volumes
func (m *Manager) BasePath() string {
	return m.basePath
}

// Path returns the host directory for a workload id. The id must be a bare
// name; anything that would escape the base directory is rejected.
func (m *Manager) Path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return "", errdefs.Config("invalid volume id %q", id)
	}
	return filepath.Join(m.basePath, id), nil
}

// Create makes the volume directory for a workload. Idempotent.
func (m *Manager) Create(id string) (string, error) {
	path, err := m.Path(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create volume directory: %w", err)
	}
	return path, nil
}

// Delete removes the volume directory and all contents. Deleting a volume
// that is already gone is not an error.
func (m *Manager) Delete(id string) error {
	path, err := m.Path(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete volume directory: %w", err)
	}
	return nil
}

// Exists reports whether the volume directory is present
func (m *Manager) Exists(id string) bool {
	path, err := m.Path(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Usage returns the total on-disk size of a volume in bytes. The traversal
// is bounded to MaxUsageDepth directory levels; entries below the cap are
// skipped rather than failing the whole walk.
func (m *Manager) Usage(id string) (int64, error) {
	path, err := m.Path(id)
	if err != nil {
		return 0, err
	}
	return dirSize(path, 0, MaxUsageDepth)
}

func dirSize(path string, depth, maxDepth int) (int64, error) {
	if depth > maxDepth {
		return 0, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	var total int64
	for _, entry := range entries {
		child := filepath.Join(path, entry.Name())
		if entry.IsDir() {
			size, err := dirSize(child, depth+1, maxDepth)
			if err != nil {
				continue
			}
			total += size
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		// Symlinks count at link size; the walk never follows them.
		total += info.Size()
	}
	return total, nil
}
