package storagearea

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Sweep removes scratch files older than maxAge from all three directories.
// Cleanup is best-effort: failures are logged and swallowed, and nothing in
// the request path depends on a sweep having happened.
func (a *Area) Sweep(maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, dir := range []string{a.UploadDir, a.TempDir, a.ProcessedDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Warn("janitor: read dir failed", "dir", dir, "err", err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("janitor: remove failed", "path", path, "err", err)
				continue
			}
			slog.Debug("janitor: removed stale file", "path", path)
		}
	}
}

// RunJanitor sweeps on a ticker until ctx is cancelled.
func (a *Area) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Sweep(maxAge)
		}
	}
}
