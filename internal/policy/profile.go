package policy

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var profilesFS embed.FS

// Profile is a named, reusable security policy with a default isolation level.
type Profile struct {
	Name        string
	Description string
	Isolation   IsolationLevel
	Policy      SecurityPolicy
}

// profileFile is the on-disk YAML shape. Sizes are human readable
// ("512MiB", "1GB") so they are parsed separately.
type profileFile struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Isolation   string        `yaml:"isolation"`
	Policy      profilePolicy `yaml:"policy"`
}

type profilePolicy struct {
	AllowNetworkAccess      bool     `yaml:"allow_network_access"`
	AllowStorageAccess      bool     `yaml:"allow_storage_access"`
	AllowCamera             bool     `yaml:"allow_camera"`
	AllowLocation           bool     `yaml:"allow_location"`
	AllowContacts           bool     `yaml:"allow_contacts"`
	EncryptData             bool     `yaml:"encrypt_data"`
	AuditAllAccess          bool     `yaml:"audit_all_access"`
	RestrictedPermissions   []string `yaml:"restricted_permissions"`
	AllowedHosts            []string `yaml:"allowed_hosts"`
	MaxStorageSize          string   `yaml:"max_storage_size"`
	MaxMemorySize           string   `yaml:"max_memory_size"`
	EnableStorageCleanup    bool     `yaml:"enable_storage_cleanup"`
	StorageWarningThreshold float64  `yaml:"storage_warning_threshold"`
}

func (pp profilePolicy) toPolicy() (SecurityPolicy, error) {
	storage, err := parseSize(pp.MaxStorageSize)
	if err != nil {
		return SecurityPolicy{}, fmt.Errorf("max_storage_size: %w", err)
	}
	memory, err := parseSize(pp.MaxMemorySize)
	if err != nil {
		return SecurityPolicy{}, fmt.Errorf("max_memory_size: %w", err)
	}
	return SecurityPolicy{
		AllowNetworkAccess:      pp.AllowNetworkAccess,
		AllowStorageAccess:      pp.AllowStorageAccess,
		AllowCamera:             pp.AllowCamera,
		AllowLocation:           pp.AllowLocation,
		AllowContacts:           pp.AllowContacts,
		EncryptData:             pp.EncryptData,
		AuditAllAccess:          pp.AuditAllAccess,
		RestrictedPermissions:   pp.RestrictedPermissions,
		AllowedHosts:            pp.AllowedHosts,
		MaxStorageSize:          storage,
		MaxMemorySize:           memory,
		EnableStorageCleanup:    pp.EnableStorageCleanup,
		StorageWarningThreshold: pp.StorageWarningThreshold,
	}, nil
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if pf.Name == "" {
		return nil, fmt.Errorf("profile name is required")
	}

	level := IsolationStandard
	if pf.Isolation != "" {
		parsed, err := ParseIsolationLevel(pf.Isolation)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", pf.Name, err)
		}
		level = parsed
	}

	p, err := pf.Policy.toPolicy()
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", pf.Name, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", pf.Name, err)
	}

	return &Profile{
		Name:        pf.Name,
		Description: pf.Description,
		Isolation:   level,
		Policy:      p,
	}, nil
}

func parseSize(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// ProfileSet holds built-in profiles plus any loaded from a directory.
// Directory profiles override built-ins with the same name.
type ProfileSet struct {
	profiles map[string]*Profile
}

// LoadProfiles loads the embedded profiles, then every *.yaml/*.yml file in
// dir. A missing dir is not an error.
func LoadProfiles(dir string) (*ProfileSet, error) {
	set := &ProfileSet{profiles: make(map[string]*Profile)}

	entries, err := profilesFS.ReadDir("profiles")
	if err != nil {
		return nil, fmt.Errorf("failed to read built-in profiles: %w", err)
	}
	for _, entry := range entries {
		data, err := profilesFS.ReadFile("profiles/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read built-in profile %s: %w", entry.Name(), err)
		}
		p, err := ParseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("built-in profile %s: %w", entry.Name(), err)
		}
		set.profiles[p.Name] = p
	}

	if dir == "" {
		return set, nil
	}

	custom, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}
	for _, entry := range custom {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read profile %s: %w", entry.Name(), err)
		}
		p, err := ParseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", entry.Name(), err)
		}
		set.profiles[p.Name] = p
	}

	return set, nil
}

// Get returns a profile by name.
func (s *ProfileSet) Get(name string) (*Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("security profile not found: %s", name)
	}
	cp := *p
	cp.Policy = p.Policy.Clone()
	return &cp, nil
}

// Names returns all profile names, sorted.
func (s *ProfileSet) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
