package policy

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// SecurityPolicy is the set of access flags and quotas attached to a
// sandbox. Treat it as a value: once attached, it is never mutated;
// derive a new one with Normalize or Clone instead.
type SecurityPolicy struct {
	AllowNetworkAccess      bool     `json:"allowNetworkAccess" yaml:"allow_network_access"`
	AllowStorageAccess      bool     `json:"allowStorageAccess" yaml:"allow_storage_access"`
	AllowCamera             bool     `json:"allowCamera" yaml:"allow_camera"`
	AllowLocation           bool     `json:"allowLocation" yaml:"allow_location"`
	AllowContacts           bool     `json:"allowContacts" yaml:"allow_contacts"`
	EncryptData             bool     `json:"encryptData" yaml:"encrypt_data"`
	AuditAllAccess          bool     `json:"auditAllAccess" yaml:"audit_all_access"`
	RestrictedPermissions   []string `json:"restrictedPermissions,omitempty" yaml:"restricted_permissions"`
	AllowedHosts            []string `json:"allowedHosts,omitempty" yaml:"allowed_hosts"`
	MaxStorageSize          int64    `json:"maxStorageSize" yaml:"max_storage_size"`
	MaxMemorySize           int64    `json:"maxMemorySize" yaml:"max_memory_size"`
	EnableStorageCleanup    bool     `json:"enableStorageCleanup" yaml:"enable_storage_cleanup"`
	StorageWarningThreshold float64  `json:"storageWarningThreshold" yaml:"storage_warning_threshold"`
}

const (
	MiB = int64(1) << 20
	GiB = int64(1) << 30
)

// DefaultPolicy returns the policy used when no profile is selected.
func DefaultPolicy() SecurityPolicy {
	return SecurityPolicy{
		AllowNetworkAccess:      true,
		AllowStorageAccess:      true,
		MaxStorageSize:          512 * MiB,
		MaxMemorySize:           256 * MiB,
		EnableStorageCleanup:    true,
		StorageWarningThreshold: 0.9,
	}
}

// Validate checks quota and threshold ranges and the host allow-list.
func (p SecurityPolicy) Validate() error {
	if p.MaxStorageSize <= 0 {
		return fmt.Errorf("maxStorageSize must be positive (got %d)", p.MaxStorageSize)
	}
	if p.MaxMemorySize < 0 {
		return fmt.Errorf("maxMemorySize must not be negative (got %d)", p.MaxMemorySize)
	}
	if math.IsNaN(p.StorageWarningThreshold) || p.StorageWarningThreshold < 0 || p.StorageWarningThreshold > 1 {
		return fmt.Errorf("storageWarningThreshold must be within [0,1] (got %v)", p.StorageWarningThreshold)
	}
	for _, h := range p.AllowedHosts {
		if strings.TrimSpace(h) == "" || strings.ContainsAny(h, " \t/") {
			return fmt.Errorf("invalid allowed host %q", h)
		}
	}
	for _, perm := range p.RestrictedPermissions {
		if strings.TrimSpace(perm) == "" {
			return fmt.Errorf("restricted permission names cannot be empty")
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p SecurityPolicy) Clone() SecurityPolicy {
	p.RestrictedPermissions = slices.Clone(p.RestrictedPermissions)
	p.AllowedHosts = slices.Clone(p.AllowedHosts)
	return p
}

// Normalize returns the policy as it is attached to a sandbox of the
// given level: set-valued fields sorted and deduplicated, and flags the
// level makes mandatory switched on.
func (p SecurityPolicy) Normalize(level IsolationLevel) SecurityPolicy {
	out := p.Clone()
	out.RestrictedPermissions = toSet(out.RestrictedPermissions)
	out.AllowedHosts = toSet(lowerAll(out.AllowedHosts))

	traits := TraitsFor(level)
	if traits.Encryption {
		out.EncryptData = true
	}
	if traits.AuditAll {
		out.AuditAllAccess = true
	}
	return out
}

// IsRestricted reports whether a permission is in the restricted set.
func (p SecurityPolicy) IsRestricted(permission string) bool {
	return slices.Contains(p.RestrictedPermissions, permission)
}

// Subset is the portion of the policy recorded in persisted descriptors
// for consumers that only read the legacy format.
type Subset struct {
	AllowNetworkAccess bool  `json:"allowNetworkAccess"`
	AllowStorageAccess bool  `json:"allowStorageAccess"`
	EncryptData        bool  `json:"encryptData"`
	MaxStorageSize     int64 `json:"maxStorageSize"`
	MaxMemorySize      int64 `json:"maxMemorySize"`
}

// Subset extracts the persisted subset.
func (p SecurityPolicy) Subset() Subset {
	return Subset{
		AllowNetworkAccess: p.AllowNetworkAccess,
		AllowStorageAccess: p.AllowStorageAccess,
		EncryptData:        p.EncryptData,
		MaxStorageSize:     p.MaxStorageSize,
		MaxMemorySize:      p.MaxMemorySize,
	}
}

// FromSubset rebuilds a policy from a legacy subset, filling the rest
// from DefaultPolicy.
func FromSubset(s Subset) SecurityPolicy {
	p := DefaultPolicy()
	p.AllowNetworkAccess = s.AllowNetworkAccess
	p.AllowStorageAccess = s.AllowStorageAccess
	p.EncryptData = s.EncryptData
	p.MaxStorageSize = s.MaxStorageSize
	p.MaxMemorySize = s.MaxMemorySize
	return p
}

func toSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
