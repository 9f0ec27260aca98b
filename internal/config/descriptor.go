package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/firefly-engineering/clonebox/internal/policy"
	"github.com/firefly-engineering/clonebox/internal/system"
)

// SandboxDescriptor is the durable record of one sandbox, written to
// <DescriptorsDir>/<sandboxId>.json and read back on restart.
type SandboxDescriptor struct {
	SandboxID        string    `json:"sandboxId"`
	CloneID          string    `json:"cloneId"`
	PackageName      string    `json:"packageName"`
	RootPath         string    `json:"rootPath"`
	DataPath         string    `json:"dataPath"`
	CachePath        string    `json:"cachePath,omitempty"`
	LibPath          string    `json:"libPath,omitempty"`
	VirtualProcPath  string    `json:"virtualProcPath,omitempty"`
	IsolationLevel   string    `json:"isolationLevel"`
	NetworkNamespace string    `json:"networkNamespace,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`

	// StorageLimit mirrors Policy.MaxStorageSize for readers of the
	// legacy format. It is never read back as a separate quota.
	StorageLimit int64 `json:"storageLimit"`
	MemoryLimit  int64 `json:"memoryLimit"`

	SecurityPolicySubset policy.Subset          `json:"securityPolicySubset"`
	Policy               *policy.SecurityPolicy `json:"policy,omitempty"`
}

// Validate checks that the descriptor is usable for rehydration.
func (d *SandboxDescriptor) Validate() error {
	if err := ValidateSandboxID(d.SandboxID); err != nil {
		return err
	}
	if d.CloneID == "" {
		return fmt.Errorf("cloneId is required")
	}
	if d.PackageName == "" {
		return fmt.Errorf("packageName is required")
	}
	if !filepath.IsAbs(d.RootPath) {
		return fmt.Errorf("rootPath must be absolute (got %q)", d.RootPath)
	}
	if !isWithin(d.RootPath, d.DataPath) {
		return fmt.Errorf("dataPath %q is not under rootPath", d.DataPath)
	}
	if _, err := policy.ParseIsolationLevel(d.IsolationLevel); err != nil {
		return err
	}
	return nil
}

// EffectivePolicy returns the full policy when present, otherwise the one
// rebuilt from the legacy subset.
func (d *SandboxDescriptor) EffectivePolicy() policy.SecurityPolicy {
	if d.Policy != nil {
		return d.Policy.Clone()
	}
	return policy.FromSubset(d.SecurityPolicySubset)
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// DescriptorPath returns the descriptor file path for a sandbox id.
func DescriptorPath(descriptorsDir, id string) (string, error) {
	return safePath(descriptorsDir, id, ".json")
}

// DescriptorStore reads and writes descriptors in one directory through a
// FileSystem.
type DescriptorStore struct {
	fs  system.FileSystem
	dir string
}

// NewDescriptorStore returns a store rooted at descriptorsDir.
func NewDescriptorStore(fs system.FileSystem, descriptorsDir string) *DescriptorStore {
	return &DescriptorStore{fs: fs, dir: descriptorsDir}
}

// Dir returns the descriptors directory.
func (s *DescriptorStore) Dir() string {
	return s.dir
}

// Save writes a descriptor atomically (temp file + rename) so readers and
// directory watchers never observe a partial file.
func (s *DescriptorStore) Save(d *SandboxDescriptor) error {
	if err := ValidateSandboxID(d.SandboxID); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create descriptors directory: %w", err)
	}

	path, err := DescriptorPath(s.dir, d.SandboxID)
	if err != nil {
		return fmt.Errorf("invalid sandbox id: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	if err := system.WriteFileAtomic(s.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	return nil
}

// Load loads the descriptor for a sandbox id.
func (s *DescriptorStore) Load(id string) (*SandboxDescriptor, error) {
	path, err := DescriptorPath(s.dir, id)
	if err != nil {
		return nil, fmt.Errorf("invalid sandbox id: %w", err)
	}
	return s.read(path)
}

func (s *DescriptorStore) read(path string) (*SandboxDescriptor, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseDescriptor(filepath.Base(path), data)
}

// Delete removes the descriptor for a sandbox id. A missing file is not
// an error.
func (s *DescriptorStore) Delete(id string) error {
	path, err := DescriptorPath(s.dir, id)
	if err != nil {
		return fmt.Errorf("invalid sandbox id: %w", err)
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every parseable descriptor, skipping files that fail to
// parse or validate. The names of skipped files are returned too.
func (s *DescriptorStore) List() (descriptors []*SandboxDescriptor, skipped []string, err error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read descriptors directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		d, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			skipped = append(skipped, entry.Name())
			continue
		}
		if err := d.Validate(); err != nil || d.SandboxID+".json" != entry.Name() {
			skipped = append(skipped, entry.Name())
			continue
		}
		descriptors = append(descriptors, d)
	}

	return descriptors, skipped, nil
}

func parseDescriptor(name string, data []byte) (*SandboxDescriptor, error) {
	var d SandboxDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor %s: %w", name, err)
	}
	return &d, nil
}
