package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// sandboxIDRegex validates sandbox IDs as issued by the registry:
// "sbx-" followed by a zero-padded counter and a unix-millisecond stamp.
var sandboxIDRegex = regexp.MustCompile(`^sbx-[0-9]{6,}-[0-9]+$`)

// ValidateSandboxID checks if a sandbox ID is well formed.
func ValidateSandboxID(id string) error {
	if id == "" {
		return fmt.Errorf("sandbox id cannot be empty")
	}
	if !sandboxIDRegex.MatchString(id) {
		return fmt.Errorf("invalid sandbox id %q: expected sbx-<counter>-<millis>", id)
	}
	return nil
}

// safePath validates that a constructed path stays within the base directory.
// This prevents path traversal attacks where names like "../../../etc/passwd"
// could escape the intended directory.
func safePath(baseDir, name, suffix string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("name cannot be an absolute path")
	}

	if filepath.Dir(name) != "." {
		return "", fmt.Errorf("name cannot contain path separators")
	}

	path := filepath.Join(baseDir, name+suffix)

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	// Add separator to prevent prefix matching (e.g., /var/lib/clonebox vs /var/lib/clonebox-evil)
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return "", fmt.Errorf("path escapes base directory")
	}

	return path, nil
}

const (
	DefaultConfigDir = "/etc/clonebox"
	DefaultStateDir  = "/var/lib/clonebox"
	HostConfigFile   = "config.toml"
)

// Paths holds the configured paths
type Paths struct {
	ConfigDir      string
	StateDir       string
	SandboxesRoot  string // one directory per sandbox id
	DescriptorsDir string // persisted sandbox descriptors
	AuditDir       string
	PoliciesDir    string // custom YAML security profiles
}

// DefaultPaths returns the default path configuration
func DefaultPaths() *Paths {
	return NewPaths(DefaultConfigDir, DefaultStateDir)
}

// NewPaths derives every path from a config and a state directory.
func NewPaths(configDir, stateDir string) *Paths {
	return &Paths{
		ConfigDir:      configDir,
		StateDir:       stateDir,
		SandboxesRoot:  filepath.Join(stateDir, "sandboxes"),
		DescriptorsDir: filepath.Join(stateDir, "descriptors"),
		AuditDir:       filepath.Join(stateDir, "audit"),
		PoliciesDir:    filepath.Join(configDir, "policies"),
	}
}

// EnsureStateDirs creates the state directories if missing.
func (p *Paths) EnsureStateDirs() error {
	for _, dir := range []string{p.SandboxesRoot, p.DescriptorsDir, p.AuditDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Duration is a time.Duration that decodes from TOML strings like "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// HostConfig represents the host configuration from config.toml
type HostConfig struct {
	Monitor  MonitorConfig  `toml:"monitor"`
	Storage  StorageConfig  `toml:"storage"`
	Defaults DefaultsConfig `toml:"defaults"`
	Workload WorkloadConfig `toml:"workload"`
	Manager  ManagerConfig  `toml:"manager"`
}

type MonitorConfig struct {
	Interval      Duration `toml:"interval"`
	WarningBuffer int      `toml:"warning_buffer"`
}

type StorageConfig struct {
	LogRetention Duration `toml:"log_retention"`
}

// DefaultsConfig selects what `clonebox create` uses when flags are omitted.
type DefaultsConfig struct {
	Isolation string `toml:"isolation"`
	Profile   string `toml:"profile"`
}

// WorkloadConfig holds the command run to stop a sandbox's workloads on
// destroy. {id}, {clone}, {package} and {root} are substituted per sandbox.
type WorkloadConfig struct {
	TerminateCommand string `toml:"terminate_command"`
}

type ManagerConfig struct {
	ClearParallelism int `toml:"clear_parallelism"`
}

// DefaultHostConfig returns the configuration used when config.toml is absent.
func DefaultHostConfig() *HostConfig {
	return &HostConfig{
		Monitor: MonitorConfig{
			Interval:      Duration{10 * time.Second},
			WarningBuffer: 64,
		},
		Storage: StorageConfig{
			LogRetention: Duration{7 * 24 * time.Hour},
		},
		Defaults: DefaultsConfig{
			Isolation: "standard",
			Profile:   "default",
		},
		Manager: ManagerConfig{
			ClearParallelism: 4,
		},
	}
}

// Validate checks that the HostConfig is valid.
func (c *HostConfig) Validate() error {
	if c.Monitor.Interval.Duration <= 0 {
		return fmt.Errorf("monitor.interval must be positive (got %s)", c.Monitor.Interval)
	}
	if c.Monitor.WarningBuffer < 0 {
		return fmt.Errorf("monitor.warning_buffer must not be negative (got %d)", c.Monitor.WarningBuffer)
	}
	if c.Storage.LogRetention.Duration <= 0 {
		return fmt.Errorf("storage.log_retention must be positive (got %s)", c.Storage.LogRetention)
	}
	if c.Manager.ClearParallelism < 1 {
		return fmt.Errorf("manager.clear_parallelism must be at least 1 (got %d)", c.Manager.ClearParallelism)
	}
	return nil
}

// LoadHostConfig loads <configDir>/config.toml over the defaults.
// A missing file is not an error.
func LoadHostConfig(configDir string) (*HostConfig, error) {
	configPath := filepath.Join(configDir, HostConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultHostConfig(), nil
		}
		return nil, fmt.Errorf("failed to read host config: %w", err)
	}

	config, err := ParseHostConfig(data)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host config: %w", err)
	}

	return config, nil
}

// ParseHostConfig decodes TOML over the defaults without validating the
// result. Unknown keys are rejected.
func ParseHostConfig(data []byte) (*HostConfig, error) {
	config := DefaultHostConfig()
	md, err := toml.Decode(string(data), config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse host config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown host config key: %s", undecoded[0])
	}
	return config, nil
}
