package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/firefly-engineering/clonebox/internal/config"
)

func TestLoadValidHostConfig(t *testing.T) {
	cfg, err := ValidHostConfig()
	if err != nil {
		t.Fatalf("ValidHostConfig() error: %v", err)
	}

	if cfg.Monitor.Interval.Duration != 2*time.Second {
		t.Errorf("Monitor.Interval = %s, want 2s", cfg.Monitor.Interval)
	}
	if cfg.Defaults.Isolation != "strict" {
		t.Errorf("Defaults.Isolation = %q, want strict", cfg.Defaults.Isolation)
	}
	if cfg.Manager.ClearParallelism != 8 {
		t.Errorf("Manager.ClearParallelism = %d, want 8", cfg.Manager.ClearParallelism)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Valid config should pass validation: %v", err)
	}
}

func TestLoadInvalidHostConfig(t *testing.T) {
	cfg, err := InvalidHostConfig()
	if err != nil {
		t.Fatalf("InvalidHostConfig() error: %v", err)
	}

	if err := cfg.Validate(); err == nil {
		t.Error("Invalid config should fail validation")
	}
}

func TestLoadDescriptors(t *testing.T) {
	d, err := ValidDescriptor()
	if err != nil {
		t.Fatalf("ValidDescriptor() error: %v", err)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("valid descriptor failed validation: %v", err)
	}
	if p := d.EffectivePolicy(); p.StorageWarningThreshold != 0.8 {
		t.Errorf("threshold = %v, want 0.8", p.StorageWarningThreshold)
	}

	legacy, err := LegacyDescriptor()
	if err != nil {
		t.Fatalf("LegacyDescriptor() error: %v", err)
	}
	if err := legacy.Validate(); err != nil {
		t.Errorf("legacy descriptor failed validation: %v", err)
	}
	p := legacy.EffectivePolicy()
	if p.MaxStorageSize != 50<<20 || p.AllowNetworkAccess {
		t.Errorf("legacy policy = %+v", p)
	}
}

func TestLoadFixture_NotFound(t *testing.T) {
	if _, err := LoadFixture("nonexistent.json"); err == nil {
		t.Error("LoadFixture() should fail for nonexistent file")
	}
}

func TestNewTestEnv(t *testing.T) {
	env := NewTestEnv(t)

	for _, dir := range []string{env.Paths.SandboxesRoot, env.Paths.DescriptorsDir, env.Paths.AuditDir, env.Paths.PoliciesDir} {
		if !filepath.IsAbs(dir) {
			t.Errorf("%s is not absolute", dir)
		}
	}

	env.WriteHostConfig("[monitor]\ninterval = \"3s\"\n")
	cfg, err := config.LoadHostConfig(env.Paths.ConfigDir)
	if err != nil {
		t.Fatalf("LoadHostConfig() error: %v", err)
	}
	if cfg.Monitor.Interval.Duration != 3*time.Second {
		t.Errorf("interval = %s, want 3s", cfg.Monitor.Interval)
	}

	path := filepath.Join(env.TmpDir, "big", "blob")
	env.FillFile(path, 10<<20)
	if env.SandboxExists("sbx-000001-1") {
		t.Error("no sandbox was created")
	}
}
