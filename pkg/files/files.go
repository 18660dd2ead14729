package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/volume"
)

// maxReadSize bounds a single file read through the API
const maxReadSize = 8 * 1024 * 1024

// Entry describes one directory entry in a volume listing
type Entry struct {
	Name      string    `json:"name"`
	Directory bool      `json:"directory"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
}

// Manager provides volume-scoped file operations. Every path is resolved
// against the workload's volume directory and contained within it; the
// volume's own pipeline operations are read/write peers with no extra
// coordination (last writer wins).
type Manager struct {
	volumes *volume.Manager
}

// NewManager creates a file manager over the volume base
func NewManager(volumes *volume.Manager) *Manager {
	return &Manager{volumes: volumes}
}

// resolve joins a caller path onto the volume root, rejecting escapes
func (m *Manager) resolve(volumeID, rel string) (string, error) {
	root, err := m.volumes.Path(volumeID)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + rel)
	target := filepath.Join(root, clean)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", errdefs.Config("path %q escapes the volume", rel)
	}
	return target, nil
}

// List returns the entries of a directory inside the volume
func (m *Manager) List(volumeID, rel string) ([]Entry, error) {
	path, err := m.resolve(volumeID, rel)
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("directory", rel)
		}
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:      d.Name(),
			Directory: d.IsDir(),
			Size:      info.Size(),
			Modified:  info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Read returns the contents of a file inside the volume
func (m *Manager) Read(volumeID, rel string) ([]byte, error) {
	path, err := m.resolve(volumeID, rel)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("file", rel)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, errdefs.Config("%q is a directory", rel)
	}
	if info.Size() > maxReadSize {
		return nil, errdefs.Config("file %q exceeds the %d byte read limit", rel, maxReadSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Write stores contents at a path inside the volume, creating parent
// directories as needed
func (m *Manager) Write(volumeID, rel string, contents []byte) error {
	path, err := m.resolve(volumeID, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Delete removes a file or directory tree inside the volume. Deleting the
// volume root itself is rejected.
func (m *Manager) Delete(volumeID, rel string) error {
	path, err := m.resolve(volumeID, rel)
	if err != nil {
		return err
	}
	root, _ := m.volumes.Path(volumeID)
	if path == root {
		return errdefs.Config("refusing to delete the volume root")
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete %q: %w", rel, err)
	}
	return nil
}
