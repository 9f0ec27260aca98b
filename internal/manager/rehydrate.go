package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/firefly-engineering/clonebox/internal/audit"
	"github.com/firefly-engineering/clonebox/internal/config"
	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
)

// Rehydrate loads persisted descriptors into the registry. It must run
// before any path is resolved. Descriptors that do not parse, or whose
// tree is incomplete, whose paths leave the sandboxes root, or whose
// policy is invalid are skipped with a warning. It returns how many
// sandboxes were added.
func (m *Manager) Rehydrate(ctx context.Context) (int, error) {
	descs, skipped, err := m.store.List()
	if err != nil {
		return 0, err
	}
	for _, name := range skipped {
		logging.Warn("skipping unreadable sandbox descriptor", "file", name)
	}

	added := 0
	for _, d := range descs {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		// Observed even when skipped so the id and its root are never
		// handed out again.
		m.reg.Observe(d.SandboxID)
		if m.adopt(d) {
			added++
			_ = m.auditLog.LogEvent(audit.EventRehydrate, d.SandboxID, "")
		}
	}

	logging.Debug("rehydrated sandboxes", "added", added, "descriptors", len(descs))
	return added, nil
}

// adopt registers the sandbox a descriptor describes.
func (m *Manager) adopt(d *config.SandboxDescriptor) bool {
	if _, exists := m.reg.Get(d.SandboxID); exists {
		return false
	}
	log := logging.ForSandbox(d.SandboxID)

	sb, err := sandbox.FromDescriptor(d)
	if err != nil {
		log.Warn("skipping sandbox descriptor", "error", err)
		return false
	}
	if err := m.checkPaths(sb); err != nil {
		log.Warn("skipping sandbox outside the sandboxes root", "error", err)
		return false
	}
	if err := sb.Policy.Validate(); err != nil {
		log.Warn("skipping sandbox with invalid policy", "error", err)
		return false
	}
	if err := m.prov.Validate(sb.Layout()); err != nil {
		log.Warn("skipping sandbox with incomplete tree", "error", err)
		return false
	}
	if err := m.reg.Insert(sb); err != nil {
		return false
	}
	return true
}

// forget drops a sandbox whose descriptor was removed by another process.
// Sandboxes this process is destroying are left to Destroy.
func (m *Manager) forget(id string) bool {
	sb, ok := m.reg.Get(id)
	if !ok || !sb.State.Live() {
		return false
	}
	if _, ok := m.pending.Load(id); ok {
		return false
	}
	if _, err := m.store.Load(id); err == nil {
		// Replaced, not removed.
		return false
	}
	m.reg.Transition(id, sandbox.StateDestroyed)
	m.reg.Remove(id)
	return true
}

// checkPaths requires the root to be <SandboxesRoot>/<id> and every
// sandbox path to stay under it. Destroy and cleanup delete these paths.
func (m *Manager) checkPaths(sb sandbox.Sandbox) error {
	want := filepath.Join(m.paths.SandboxesRoot, sb.ID)
	if filepath.Clean(sb.RootPath) != want {
		return fmt.Errorf("root %q is not %q", sb.RootPath, want)
	}
	for _, p := range []string{sb.DataPath, sb.CachePath, sb.LibPath, sb.VirtualProcPath} {
		rel, err := filepath.Rel(want, filepath.Clean(p))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("path %q is outside root %q", p, want)
		}
	}
	return nil
}
