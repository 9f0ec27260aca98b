package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/policy"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
	"github.com/firefly-engineering/clonebox/internal/system"
)

// DefaultLogRetention is how long log files survive a cleanup.
const DefaultLogRetention = 7 * 24 * time.Hour

// Cleaner reclaims space inside a sandbox: it empties cache and tmp and
// drops aged log files. It never touches identity or app data, and it
// does not promise usage ends up below the quota.
type Cleaner struct {
	fs        system.FileSystem
	retention time.Duration
	now       func() time.Time
}

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithRetention sets the log retention window.
func WithRetention(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithClock sets the time source used to age log files.
func WithClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) {
		c.now = now
	}
}

// NewCleaner returns a Cleaner operating through fs.
func NewCleaner(fs system.FileSystem, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		fs:        fs,
		retention: DefaultLogRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Retention returns the log retention window.
func (c *Cleaner) Retention() time.Duration {
	return c.retention
}

// Cleanup empties the cache and tmp directories, deletes log files older
// than the retention window and returns the usage measured afterwards.
// Running it twice in a row has the same effect as running it once.
func (c *Cleaner) Cleanup(ctx context.Context, sb sandbox.Sandbox) (int64, error) {
	layout := sb.Layout()
	mode := policy.TraitsFor(sb.IsolationLevel).DirMode
	log := logging.ForSandbox(sb.ID)

	for _, dir := range []string{layout.Cache, layout.Tmp} {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := c.recreate(dir, mode); err != nil {
			return 0, err
		}
	}

	removed, err := c.pruneLogs(layout.Logs)
	if err != nil {
		return 0, err
	}

	used, err := Usage(layout.Root)
	if err != nil {
		return 0, err
	}
	log.Debug("cleanup finished", "logs_removed", removed, "used", used)
	return used, nil
}

func (c *Cleaner) recreate(dir string, mode fs.FileMode) error {
	if err := c.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to empty %s: %w", dir, err)
	}
	// Mkdir, not MkdirAll: a tree removed by a concurrent destroy must
	// stay gone.
	if err := c.fs.Mkdir(dir, mode); err != nil {
		return fmt.Errorf("failed to recreate %s: %w", dir, err)
	}
	if err := c.fs.Chmod(dir, mode); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", dir, err)
	}
	return nil
}

// pruneLogs removes regular files directly under dir whose modification
// time is older than the retention window.
func (c *Cleaner) pruneLogs(dir string) (int, error) {
	entries, err := c.fs.ReadDir(dir)
	if err != nil {
		if !c.fs.Exists(dir) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	cutoff := c.now().Add(-c.retention)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := c.fs.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return removed, fmt.Errorf("failed to remove log %s: %w", entry.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}
