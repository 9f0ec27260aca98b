// Package resolve maps a (cloneID, packageName) pair and a logical
// location to an absolute path inside that pair's sandbox.
//
// Paths embed the sandbox id, so callers must resolve again rather than
// cache results across restarts.
package resolve

import (
	"fmt"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
)

// Finder returns the sandboxes of a pair, newest first.
type Finder interface {
	FindByClone(cloneID, packageName string) []sandbox.Sandbox
}

// Resolver answers path requests from the registry.
type Resolver struct {
	finder Finder
}

// New returns a Resolver backed by finder.
func New(finder Finder) *Resolver {
	return &Resolver{finder: finder}
}

// Sandbox returns the sandbox serving the pair. When several exist the
// newest live one wins.
func (r *Resolver) Sandbox(cloneID, packageName string) (sandbox.Sandbox, error) {
	for _, sb := range r.finder.FindByClone(cloneID, packageName) {
		if sb.State.Live() {
			return sb, nil
		}
	}
	return sandbox.Sandbox{}, errors.SandboxNotFound(cloneID + "/" + packageName)
}

// Files returns the app's private files directory.
func (r *Resolver) Files(cloneID, packageName string) (string, error) {
	sb, err := r.Sandbox(cloneID, packageName)
	if err != nil {
		return "", err
	}
	return filepath.Join(sb.DataPath, sandbox.FilesDir), nil
}

// Cache returns the app's cache directory.
func (r *Resolver) Cache(cloneID, packageName string) (string, error) {
	sb, err := r.Sandbox(cloneID, packageName)
	if err != nil {
		return "", err
	}
	return sb.CachePath, nil
}

// ExternalFiles returns the external files directory, or the typed
// subdirectory ("Pictures", "Download", ...) when typ is set.
func (r *Resolver) ExternalFiles(cloneID, packageName, typ string) (string, error) {
	sb, err := r.Sandbox(cloneID, packageName)
	if err != nil {
		return "", err
	}
	base := sb.Layout().ExternalFiles()
	if typ == "" {
		return base, nil
	}
	return join(base, typ)
}

// Database returns the path of a named database file.
func (r *Resolver) Database(cloneID, packageName, name string) (string, error) {
	return r.inData(cloneID, packageName, sandbox.DatabasesDir, name)
}

// SharedPreferences returns the path of a named preferences file.
func (r *Resolver) SharedPreferences(cloneID, packageName, name string) (string, error) {
	if name == "" {
		return "", errors.ValidationError("shared preferences name cannot be empty")
	}
	if !strings.HasSuffix(name, ".xml") {
		name += ".xml"
	}
	return r.inData(cloneID, packageName, sandbox.SharedPrefsDir, name)
}

// Custom returns app_<name> under the data directory.
func (r *Resolver) Custom(cloneID, packageName, name string) (string, error) {
	if name == "" {
		return "", errors.ValidationError("directory name cannot be empty")
	}
	return r.inData(cloneID, packageName, "", "app_"+name)
}

func (r *Resolver) inData(cloneID, packageName, sub, name string) (string, error) {
	if name == "" {
		return "", errors.ValidationError("name cannot be empty")
	}
	sb, err := r.Sandbox(cloneID, packageName)
	if err != nil {
		return "", err
	}
	return join(filepath.Join(sb.DataPath, sub), name)
}

// join resolves name under base so the result cannot leave base, even
// through ".." or symlinks already on disk.
func join(base, name string) (string, error) {
	p, err := securejoin.SecureJoin(base, name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q under %s: %w", name, base, err)
	}
	return p, nil
}
