package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/log"
	"github.com/hutchlabs/hutch/pkg/metrics"
	"github.com/hutchlabs/hutch/pkg/retry"
	"github.com/hutchlabs/hutch/pkg/types"
)

// maxScriptSize bounds a single install script download
const maxScriptSize = 32 * 1024 * 1024

// fetcher downloads install scripts into the volume with bounded retry.
// One failed script never aborts its siblings.
type fetcher struct {
	client *http.Client
	policy retry.Policy
}

func newFetcher(policy retry.Policy) *fetcher {
	return &fetcher{
		client: &http.Client{Timeout: 60 * time.Second},
		policy: policy,
	}
}

// fetchAll downloads every script, rendering {{var}} placeholders in the
// source URI first. It returns the number of scripts that failed after all
// retries; failures are logged, not fatal.
func (f *fetcher) fetchAll(ctx context.Context, volumePath string, scripts []types.InstallScript, vars map[string]string) int {
	logger := log.WithComponent("provision")
	failed := 0
	for _, script := range scripts {
		uri := Render(script.URI, vars)
		if err := f.fetchOne(ctx, volumePath, uri, script.Destination); err != nil {
			failed++
			metrics.ScriptDownloadFailuresTotal.Inc()
			logger.Error().
				Str("uri", uri).
				Str("destination", script.Destination).
				Err(err).
				Msg("install script download failed, continuing")
		}
	}
	return failed
}

func (f *fetcher) fetchOne(ctx context.Context, volumePath, uri, destination string) error {
	target, err := containedPath(volumePath, destination)
	if err != nil {
		return err
	}

	return f.policy.Do(ctx, func() error {
		return f.download(ctx, uri, target)
	}, errdefs.IsTransient)
}

func (f *fetcher) download(ctx context.Context, uri, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return errdefs.Config("invalid script uri %q: %v", uri, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return errdefs.Transient("download "+uri, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
		return errdefs.Transient("download "+uri, fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("download %s: unexpected status %d", uri, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create script directory: %w", err)
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create script file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, io.LimitReader(resp.Body, maxScriptSize)); err != nil {
		return errdefs.Transient("download "+uri, err)
	}
	return nil
}

// substituteVolume renders {{var}} placeholders in every textual file under
// the volume. Binary files and unreadable entries are skipped.
func substituteVolume(volumePath string, vars map[string]string) error {
	return filepath.WalkDir(volumePath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil || isBinary(data) {
			return nil
		}

		rendered := Render(string(data), vars)
		if rendered == string(data) {
			return nil
		}
		return os.WriteFile(path, []byte(rendered), info.Mode().Perm())
	})
}

// containedPath joins a caller-supplied relative destination onto the
// volume root, rejecting anything that would escape it.
func containedPath(volumePath, destination string) (string, error) {
	if destination == "" {
		return "", errdefs.Config("script destination is required")
	}
	clean := filepath.Clean("/" + destination)
	target := filepath.Join(volumePath, clean)
	if target != volumePath && !strings.HasPrefix(target, volumePath+string(os.PathSeparator)) {
		return "", errdefs.Config("script destination %q escapes the volume", destination)
	}
	return target, nil
}
