package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CleanupConfig defines Artifact retention settings (SUPPLEMENTED
// FEATURES: artifact retention/cleanup, adapted from the teacher's
// artifact.CleanupService).
type CleanupConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// DefaultCleanupConfig returns sensible retention defaults: sweep
// hourly, keep artifacts for 30 days.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{Interval: time.Hour, Retention: 30 * 24 * time.Hour}
}

// Cleanup periodically deletes Artifacts older than its retention
// window. DeleteArtifact already enforces invariant I6 (refuses an
// artifact referenced by a non-empty collection); Cleanup treats that
// refusal as expected and skips the artifact rather than failing the
// sweep.
type Cleanup struct {
	store     Store
	logger    zerolog.Logger
	interval  time.Duration
	retention time.Duration
}

// NewCleanup builds a Cleanup sweeping st.
func NewCleanup(st Store, cfg CleanupConfig, logger zerolog.Logger) *Cleanup {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Cleanup{
		store:     st,
		logger:    logger.With().Str("component", "store_cleanup").Logger(),
		interval:  interval,
		retention: retention,
	}
}

// Start runs the sweep immediately, then every interval, until ctx is
// cancelled. Meant to run in its own goroutine.
func (c *Cleanup) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Cleanup) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-c.retention)

	artifacts, err := c.store.ListArtifacts(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to list artifacts for cleanup")
		return
	}

	deleted, skipped := 0, 0
	for _, a := range artifacts {
		if a.Meta.CreatedAt.After(cutoff) {
			continue
		}
		if err := c.store.DeleteArtifact(ctx, a.ID); err != nil {
			if err == ErrCollectionNotEmpty {
				skipped++
				continue
			}
			c.logger.Warn().Err(err).Str("artifact_id", a.ID).Msg("failed to delete expired artifact")
			continue
		}
		deleted++
	}

	if deleted > 0 || skipped > 0 {
		c.logger.Info().Int("deleted", deleted).Int("skipped_in_collection", skipped).Time("cutoff", cutoff).Msg("artifact cleanup swept")
	}
}
