package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultPaths(t *testing.T) {
	paths := DefaultPaths()

	if paths.ConfigDir != DefaultConfigDir {
		t.Errorf("ConfigDir = %q, want %q", paths.ConfigDir, DefaultConfigDir)
	}
	if paths.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q, want %q", paths.StateDir, DefaultStateDir)
	}
	if paths.SandboxesRoot != filepath.Join(DefaultStateDir, "sandboxes") {
		t.Errorf("SandboxesRoot = %q", paths.SandboxesRoot)
	}
	if paths.DescriptorsDir != filepath.Join(DefaultStateDir, "descriptors") {
		t.Errorf("DescriptorsDir = %q", paths.DescriptorsDir)
	}
	if paths.AuditDir != filepath.Join(DefaultStateDir, "audit") {
		t.Errorf("AuditDir = %q", paths.AuditDir)
	}
	if paths.PoliciesDir != filepath.Join(DefaultConfigDir, "policies") {
		t.Errorf("PoliciesDir = %q", paths.PoliciesDir)
	}
}

func TestEnsureStateDirs(t *testing.T) {
	paths := NewPaths(t.TempDir(), t.TempDir())
	if err := paths.EnsureStateDirs(); err != nil {
		t.Fatalf("EnsureStateDirs() error: %v", err)
	}
	for _, dir := range []string{paths.SandboxesRoot, paths.DescriptorsDir, paths.AuditDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created", dir)
		}
	}
}

func TestValidateSandboxID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"sbx-000001-1700000000000", false},
		{"sbx-1234567-1", false},
		{"", true},
		{"sbx-1-1700000000000", true},
		{"../etc/passwd", true},
		{"sbx-000001-17/00", true},
		{"SBX-000001-1", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateSandboxID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSandboxID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestSafePath(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "sbx-000001-1", false},
		{"absolute", "/etc/passwd", true},
		{"separator", "a/b", true},
		{"traversal", "../escape", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := safePath(base, tt.input, ".json")
			if (err != nil) != tt.wantErr {
				t.Errorf("safePath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestLoadHostConfig_Missing(t *testing.T) {
	cfg, err := LoadHostConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadHostConfig() error: %v", err)
	}
	if cfg.Monitor.Interval.Duration != 10*time.Second {
		t.Errorf("Interval = %s, want 10s", cfg.Monitor.Interval)
	}
	if cfg.Storage.LogRetention.Duration != 7*24*time.Hour {
		t.Errorf("LogRetention = %s, want 168h", cfg.Storage.LogRetention)
	}
	if cfg.Defaults.Profile != "default" {
		t.Errorf("Profile = %q, want default", cfg.Defaults.Profile)
	}
}

func TestLoadHostConfig(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
[monitor]
interval = "2s"

[storage]
log_retention = "48h"

[defaults]
isolation = "strict"

[workload]
terminate_command = "am force-stop {package}"
`
	if err := os.WriteFile(filepath.Join(tmpDir, HostConfigFile), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadHostConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadHostConfig() error: %v", err)
	}
	if cfg.Monitor.Interval.Duration != 2*time.Second {
		t.Errorf("Interval = %s, want 2s", cfg.Monitor.Interval)
	}
	// Unset keys keep their defaults.
	if cfg.Monitor.WarningBuffer != 64 {
		t.Errorf("WarningBuffer = %d, want 64", cfg.Monitor.WarningBuffer)
	}
	if cfg.Storage.LogRetention.Duration != 48*time.Hour {
		t.Errorf("LogRetention = %s, want 48h", cfg.Storage.LogRetention)
	}
	if cfg.Defaults.Isolation != "strict" {
		t.Errorf("Isolation = %q, want strict", cfg.Defaults.Isolation)
	}
	if cfg.Workload.TerminateCommand != "am force-stop {package}" {
		t.Errorf("TerminateCommand = %q", cfg.Workload.TerminateCommand)
	}
}

func TestLoadHostConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"bad toml", "[monitor\n", "parse"},
		{"bad duration", "[monitor]\ninterval = \"soon\"\n", "parse"},
		{"unknown key", "[monitor]\nfrequency = \"1s\"\n", "unknown"},
		{"zero interval", "[monitor]\ninterval = \"0s\"\n", "invalid"},
		{"zero parallelism", "[manager]\nclear_parallelism = 0\n", "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, HostConfigFile), []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadHostConfig(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should contain %q", err, tt.wantMsg)
			}
		})
	}
}
