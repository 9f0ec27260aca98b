// Package testutil provides test utilities for integration tests
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/firefly-engineering/clonebox/internal/config"
)

// TestEnv holds the test environment
type TestEnv struct {
	T      *testing.T
	TmpDir string
	Paths  *config.Paths
}

// NewTestEnv creates config and state trees under a temp directory.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	tmpDir := t.TempDir()
	paths := config.NewPaths(filepath.Join(tmpDir, "config"), filepath.Join(tmpDir, "state"))

	for _, dir := range []string{paths.ConfigDir, paths.PoliciesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}
	if err := paths.EnsureStateDirs(); err != nil {
		t.Fatalf("Failed to create state directories: %v", err)
	}

	return &TestEnv{T: t, TmpDir: tmpDir, Paths: paths}
}

// WriteHostConfig writes config.toml.
func (e *TestEnv) WriteHostConfig(toml string) {
	e.T.Helper()

	path := filepath.Join(e.Paths.ConfigDir, config.HostConfigFile)
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		e.T.Fatalf("Failed to write host config: %v", err)
	}
}

// AddProfile writes a custom YAML security profile.
func (e *TestEnv) AddProfile(name, yaml string) {
	e.T.Helper()

	path := filepath.Join(e.Paths.PoliciesDir, name+".yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		e.T.Fatalf("Failed to write profile: %v", err)
	}
}

// SandboxExists reports whether a sandbox's root directory exists.
func (e *TestEnv) SandboxExists(id string) bool {
	info, err := os.Stat(filepath.Join(e.Paths.SandboxesRoot, id))
	return err == nil && info.IsDir()
}

// DescriptorExists reports whether a sandbox's descriptor exists.
func (e *TestEnv) DescriptorExists(id string) bool {
	_, err := os.Stat(filepath.Join(e.Paths.DescriptorsDir, id+".json"))
	return err == nil
}

// FillFile creates path with the given apparent size. The file is sparse,
// so large sizes cost no disk space.
func (e *TestEnv) FillFile(path string, size int64) {
	e.T.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.T.Fatalf("Failed to create %s: %v", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		e.T.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		e.T.Fatalf("Failed to size %s: %v", path, err)
	}
}
