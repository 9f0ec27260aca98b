package manager

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/firefly-engineering/clonebox/internal/config"
	"github.com/firefly-engineering/clonebox/internal/logging"
)

// WatchDescriptors keeps the registry in step with descriptors written or
// removed by other clonebox processes. It blocks until ctx is cancelled.
func (m *Manager) WatchDescriptors(ctx context.Context) error {
	dir := m.store.Dir()
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	logging.Debug("watching sandbox descriptors", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.handleDescriptorEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("descriptor watcher error", "error", err)
		}
	}
}

func (m *Manager) handleDescriptorEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	// Temp files from atomic writes start with a dot.
	if strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
		return
	}
	id := strings.TrimSuffix(name, ".json")
	if config.ValidateSandboxID(id) != nil {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		if _, ok := m.pending.Load(id); ok {
			return
		}
		d, err := m.store.Load(id)
		if err != nil {
			logging.Debug("descriptor not readable yet", "sandbox", id, "error", err)
			return
		}
		m.reg.Observe(id)
		if m.adopt(d) {
			logging.ForSandbox(id).Info("picked up sandbox created elsewhere")
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if m.forget(id) {
			logging.ForSandbox(id).Info("dropped sandbox destroyed elsewhere")
		}
	}
}
