// Package storage measures and reclaims sandbox disk usage.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Usage returns the total size of regular files under root. Files that
// vanish during the walk are ignored. A missing root yields an error
// wrapping fs.ErrNotExist.
func Usage(root string) (int64, error) {
	if _, err := os.Lstat(root); err != nil {
		return 0, fmt.Errorf("measure %s: %w", root, err)
	}

	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", root, err)
	}
	return total, nil
}
