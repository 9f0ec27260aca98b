// Package provision creates and removes the on-disk directory tree of a
// sandbox.
package provision

import (
	"fmt"
	"regexp"

	"github.com/firefly-engineering/clonebox/internal/config"
	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/policy"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
	"github.com/firefly-engineering/clonebox/internal/system"
)

// packageNameRegex matches Java-package-like application identifiers.
var packageNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)*$`)

// ValidatePackageName checks that name is a usable application identifier.
// Package names become path components, so anything else is rejected
// before touching the disk.
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}
	if len(name) > 255 || !packageNameRegex.MatchString(name) {
		return fmt.Errorf("invalid package name %q", name)
	}
	return nil
}

// Provisioner builds sandbox directory trees under a shared root.
type Provisioner struct {
	fs   system.FileSystem
	root string
}

// New returns a Provisioner that creates sandboxes under sandboxesRoot.
func New(fs system.FileSystem, sandboxesRoot string) *Provisioner {
	return &Provisioner{fs: fs, root: sandboxesRoot}
}

// Root returns the shared sandboxes root.
func (p *Provisioner) Root() string {
	return p.root
}

// Provision creates the full tree for sandbox id with the directory mode
// of level. Directories that already exist are left alone, so running it
// again over a complete tree does nothing. On any failure every directory
// created by this call is removed, newest first, and a provisioning error
// is returned.
func (p *Provisioner) Provision(id, packageName string, level policy.IsolationLevel) (sandbox.Layout, error) {
	if err := config.ValidateSandboxID(id); err != nil {
		return sandbox.Layout{}, errors.ProvisioningFailed(id, err)
	}
	if err := ValidatePackageName(packageName); err != nil {
		return sandbox.Layout{}, errors.ProvisioningFailed(packageName, err)
	}

	layout := sandbox.NewLayout(p.root, id, packageName)
	mode := policy.TraitsFor(level).DirMode

	if err := p.fs.MkdirAll(p.root, 0o755); err != nil {
		return sandbox.Layout{}, errors.ProvisioningFailed(p.root, err)
	}
	var created []string
	for _, dir := range layout.Directories() {
		if p.fs.IsDir(dir) {
			continue
		}
		if err := p.fs.Mkdir(dir, mode); err != nil {
			p.undo(created)
			return sandbox.Layout{}, errors.ProvisioningFailed(dir, err)
		}
		created = append(created, dir)

		// Mkdir is subject to the umask; set the mode explicitly.
		if err := p.fs.Chmod(dir, mode); err != nil {
			p.undo(created)
			return sandbox.Layout{}, errors.ProvisioningFailed(dir, err)
		}
	}

	logging.Debug("provisioned sandbox tree", "sandbox", id, "root", layout.Root, "mode", fmt.Sprintf("%#o", mode))
	return layout, nil
}

func (p *Provisioner) undo(created []string) {
	for i := len(created) - 1; i >= 0; i-- {
		if err := p.fs.Remove(created[i]); err != nil {
			logging.Warn("rollback could not remove directory", "path", created[i], "error", err)
		}
	}
}

// Validate reports the first required directory of layout that is missing.
func (p *Provisioner) Validate(layout sandbox.Layout) error {
	for _, dir := range layout.Directories() {
		if !p.fs.IsDir(dir) {
			return fmt.Errorf("required directory missing: %s", dir)
		}
	}
	return nil
}

// Rollback removes a sandbox tree and everything in it.
func (p *Provisioner) Rollback(layout sandbox.Layout) error {
	if layout.Root == "" {
		return nil
	}
	if err := p.fs.RemoveAll(layout.Root); err != nil {
		return fmt.Errorf("failed to remove %s: %w", layout.Root, err)
	}
	return nil
}
