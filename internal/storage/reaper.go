package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
)

type ReapStats struct {
	Uploads   int
	Artifacts int
	Skipped   int
}

// Reap deletes uploads and artifacts created before now-retention. Leased
// uploads are skipped. Clients already streaming a deleted artifact keep
// their open handle.
func (g *Gateway) Reap(ctx context.Context, retention time.Duration, now time.Time) (ReapStats, error) {
	var stats ReapStats
	cutoff := now.Add(-retention)

	uploads, err := g.repo.ListUploadsBefore(ctx, cutoff)
	if err != nil {
		return stats, err
	}
	for _, u := range uploads {
		removed, err := g.removeUnleased(u.ID, u.Path)
		if err != nil {
			g.logger.Warn("failed to remove upload", "staging_id", u.ID, "error", err)
			continue
		}
		if !removed {
			stats.Skipped++
			continue
		}
		if err := g.repo.DeleteUpload(ctx, u.ID); err != nil {
			return stats, err
		}
		stats.Uploads++
	}

	artifacts, err := g.repo.ListArtifactsBefore(ctx, cutoff)
	if err != nil {
		return stats, err
	}
	for _, a := range artifacts {
		if err := removeFile(filepath.Join(g.outputDir, a.Name)); err != nil {
			g.logger.Warn("failed to remove artifact", "name", a.Name, "error", err)
			continue
		}
		if err := g.repo.DeleteArtifact(ctx, a.Name); err != nil {
			return stats, err
		}
		stats.Artifacts++
	}

	return stats, nil
}

// StartReaper runs Reap every interval until ctx is cancelled.
func (g *Gateway) StartReaper(ctx context.Context, retention, interval time.Duration) {
	g.logger.Info("reaper started", "retention", retention.String(), "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("reaper stopping")
			return
		case now := <-ticker.C:
			stats, err := g.Reap(ctx, retention, now)
			if err != nil {
				g.logger.Error("reap failed", "error", err)
				continue
			}
			if stats.Uploads+stats.Artifacts > 0 {
				g.logger.Info("reaped expired files",
					"uploads", stats.Uploads,
					"artifacts", stats.Artifacts,
					"skipped", stats.Skipped,
				)
			}
		}
	}
}

// removeUnleased unlinks an upload file unless it is leased. g.mu is held
// across the check and the unlink so Acquire cannot land in between.
func (g *Gateway) removeUnleased(stagingID, path string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.leases[stagingID] > 0 {
		return false, nil
	}
	return true, removeFile(path)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
