package sandbox

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/firefly-engineering/clonebox/internal/config"
	"github.com/firefly-engineering/clonebox/internal/policy"
)

// State is a sandbox's position in its lifecycle.
//
// Monitoring side: provisioning → active → warning → cleaning → active.
// Lifecycle side: active → destroying → destroyed. Destroyed is terminal.
// A destroy whose tree was moved aside but could not be fully removed
// ends in destroy-failed: never served again, retried by the next destroy.
type State string

const (
	StateProvisioning  State = "provisioning"
	StateActive        State = "active"
	StateWarning       State = "warning"
	StateCleaning      State = "cleaning"
	StateDestroying    State = "destroying"
	StateDestroyed     State = "destroyed"
	StateDestroyFailed State = "destroy-failed"
)

// Live reports whether the sandbox is serving (not being or already torn down).
func (s State) Live() bool {
	switch s {
	case StateActive, StateWarning, StateCleaning:
		return true
	}
	return false
}

// Sandbox is one isolated storage/execution environment for a cloned app.
// Identity and path fields are set once at creation and never change.
type Sandbox struct {
	ID          string
	CloneID     string
	PackageName string

	RootPath        string
	DataPath        string
	CachePath       string
	LibPath         string
	VirtualProcPath string

	NetworkNamespace string
	MemoryLimit      int64
	IsolationLevel   policy.IsolationLevel
	Policy           policy.SecurityPolicy

	CreatedAt    time.Time
	LastAccessed time.Time
	Active       bool
	State        State
}

// StorageLimit is the storage quota in bytes. It is derived from the
// policy so the two can never disagree.
func (s Sandbox) StorageLimit() int64 {
	return s.Policy.MaxStorageSize
}

// Layout returns the on-disk layout of the sandbox.
func (s Sandbox) Layout() Layout {
	return LayoutFromRoot(s.RootPath, s.PackageName)
}

// Clone returns a deep copy.
func (s Sandbox) Clone() Sandbox {
	s.Policy = s.Policy.Clone()
	return s
}

// NetworkNamespaceFor returns the network namespace label for an id.
func NetworkNamespaceFor(id string) string {
	return "cbx-net-" + strconv.FormatUint(xxhash.Sum64String(id), 16)
}

// New builds the record for a freshly provisioned sandbox.
func New(id, cloneID, packageName string, layout Layout, level policy.IsolationLevel, p policy.SecurityPolicy, now time.Time) Sandbox {
	p = p.Normalize(level)
	return Sandbox{
		ID:               id,
		CloneID:          cloneID,
		PackageName:      packageName,
		RootPath:         layout.Root,
		DataPath:         layout.Data,
		CachePath:        layout.Cache,
		LibPath:          layout.Lib,
		VirtualProcPath:  layout.Proc,
		NetworkNamespace: NetworkNamespaceFor(id),
		MemoryLimit:      p.MaxMemorySize,
		IsolationLevel:   level,
		Policy:           p,
		CreatedAt:        now,
		LastAccessed:     now,
		Active:           true,
		State:            StateProvisioning,
	}
}

// Descriptor returns the persisted form of the sandbox.
func (s Sandbox) Descriptor() *config.SandboxDescriptor {
	p := s.Policy.Clone()
	return &config.SandboxDescriptor{
		SandboxID:            s.ID,
		CloneID:              s.CloneID,
		PackageName:          s.PackageName,
		RootPath:             s.RootPath,
		DataPath:             s.DataPath,
		CachePath:            s.CachePath,
		LibPath:              s.LibPath,
		VirtualProcPath:      s.VirtualProcPath,
		IsolationLevel:       string(s.IsolationLevel),
		NetworkNamespace:     s.NetworkNamespace,
		CreatedAt:            s.CreatedAt,
		StorageLimit:         s.StorageLimit(),
		MemoryLimit:          s.MemoryLimit,
		SecurityPolicySubset: p.Subset(),
		Policy:               &p,
	}
}

// FromDescriptor rebuilds a sandbox from its persisted descriptor. Paths
// missing from older descriptors are derived from the root.
func FromDescriptor(d *config.SandboxDescriptor) (Sandbox, error) {
	if err := d.Validate(); err != nil {
		return Sandbox{}, fmt.Errorf("invalid descriptor %s: %w", d.SandboxID, err)
	}
	level, _ := policy.ParseIsolationLevel(d.IsolationLevel)
	layout := LayoutFromRoot(d.RootPath, d.PackageName)

	p := d.EffectivePolicy()
	sb := Sandbox{
		ID:               d.SandboxID,
		CloneID:          d.CloneID,
		PackageName:      d.PackageName,
		RootPath:         d.RootPath,
		DataPath:         orDefault(d.DataPath, layout.Data),
		CachePath:        orDefault(d.CachePath, layout.Cache),
		LibPath:          orDefault(d.LibPath, layout.Lib),
		VirtualProcPath:  orDefault(d.VirtualProcPath, layout.Proc),
		NetworkNamespace: orDefault(d.NetworkNamespace, NetworkNamespaceFor(d.SandboxID)),
		MemoryLimit:      d.MemoryLimit,
		IsolationLevel:   level,
		Policy:           p,
		CreatedAt:        d.CreatedAt,
		LastAccessed:     d.CreatedAt,
		Active:           true,
		State:            StateActive,
	}
	if sb.MemoryLimit == 0 {
		sb.MemoryLimit = p.MaxMemorySize
	}
	return sb, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
