package files

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/hutchlabs/hutch/pkg/errdefs"
)

// archiveDir is the directory inside each volume that holds its snapshots.
// It is excluded from new archives so snapshots never nest.
const archiveDir = ".archives"

// ArchiveInfo describes one stored volume snapshot
type ArchiveInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// Archive snapshots the volume into a timestamped tar.gz under its
// .archives directory and returns the archive name.
func (m *Manager) Archive(volumeID string) (string, error) {
	root, err := m.volumes.Path(volumeID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(root); err != nil {
		return "", errdefs.NotFound("volume", volumeID)
	}

	if err := os.MkdirAll(filepath.Join(root, archiveDir), 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	name := stamp + ".tar.gz"
	target := filepath.Join(root, archiveDir, name)

	// Two snapshots inside the same second get numbered suffixes.
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	for seq := 1; os.IsExist(err); seq++ {
		name = fmt.Sprintf("%s-%d.tar.gz", stamp, seq)
		target = filepath.Join(root, archiveDir, name)
		out, err = os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil || rel == "." {
			return nil
		}
		if rel == archiveDir || strings.HasPrefix(rel, archiveDir+string(os.PathSeparator)) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, herr := tar.FileInfoHeader(info, "")
		if herr != nil {
			return herr
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, ferr := os.Open(path)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		_, cerr := io.Copy(tw, f)
		return cerr
	})
	if err != nil {
		tw.Close()
		gz.Close()
		os.Remove(target)
		return "", fmt.Errorf("failed to archive volume: %w", err)
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		os.Remove(target)
		return "", fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("failed to finish archive: %w", err)
	}

	return name, nil
}

// Archives lists the volume's stored snapshots, newest first
func (m *Manager) Archives(volumeID string) ([]ArchiveInfo, error) {
	root, err := m.volumes.Path(volumeID)
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(filepath.Join(root, archiveDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	archives := make([]ArchiveInfo, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".tar.gz") {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		archives = append(archives, ArchiveInfo{
			Name:    d.Name(),
			Size:    info.Size(),
			Created: info.ModTime(),
		})
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].Name > archives[j].Name })
	return archives, nil
}

// Rollback restores a named snapshot over the volume contents. Files
// created since the snapshot that also exist in it are overwritten; other
// files are left in place (last writer wins, matching the volume's
// shared-resource policy).
func (m *Manager) Rollback(volumeID, name string) error {
	root, err := m.volumes.Path(volumeID)
	if err != nil {
		return err
	}
	if strings.ContainsAny(name, "/\\") {
		return errdefs.Config("invalid archive name %q", name)
	}

	source := filepath.Join(root, archiveDir, name)
	f, err := os.Open(source)
	if err != nil {
		if os.IsNotExist(err) {
			return errdefs.NotFound("archive", name)
		}
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}

		target, err := m.resolve(volumeID, hdr.Name)
		if err != nil {
			// Skip entries that would escape the volume.
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()); err != nil {
				return fmt.Errorf("failed to restore directory %q: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to restore parent of %q: %w", hdr.Name, err)
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return fmt.Errorf("failed to restore file %q: %w", hdr.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to restore file %q: %w", hdr.Name, err)
			}
			out.Close()
		}
	}
}
