// Package enforcer turns a sandbox's isolation level and security policy
// into declarative descriptors for an external enforcement agent.
//
// Nothing in this package restricts the kernel. Materialize writes JSON
// records (and, for restricted networking, an nftables ruleset and a
// dnsmasq config) into the sandbox's security directory; applying them is
// somebody else's contract. Descriptors.Enforced is therefore always false.
package enforcer

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/network"
	"github.com/firefly-engineering/clonebox/internal/policy"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
	"github.com/firefly-engineering/clonebox/internal/system"
)

// Descriptor file names inside <root>/security.
const (
	PermissionsFile = "permissions.json"
	NetworkFile     = "network.json"
	LimitsFile      = "limits.json"
	SyscallFile     = "syscall.json"
	NftablesFile    = "network.nft"
	DnsmasqFile     = "dnsmasq.conf"
)

// PermissionRecord is the file-permission and capability descriptor.
type PermissionRecord struct {
	SandboxID             string   `json:"sandboxId"`
	DirMode               string   `json:"dirMode"`
	OwnerOnly             bool     `json:"ownerOnly"`
	RestrictedPermissions []string `json:"restrictedPermissions"`
	AllowStorage          bool     `json:"allowStorage"`
	AllowCamera           bool     `json:"allowCamera"`
	AllowLocation         bool     `json:"allowLocation"`
	AllowContacts         bool     `json:"allowContacts"`
	EncryptionRequired    bool     `json:"encryptionRequired"`
}

// NetworkRecord is the network policy descriptor.
type NetworkRecord struct {
	SandboxID    string       `json:"sandboxId"`
	Mode         network.Mode `json:"mode"`
	BlockAll     bool         `json:"blockAll"`
	AllowedHosts []string     `json:"allowedHosts"`
	Namespace    string       `json:"namespace"`
}

// LimitsRecord is the process resource limit descriptor.
type LimitsRecord struct {
	SandboxID       string `json:"sandboxId"`
	MaxProcesses    int    `json:"maxProcesses"`
	MaxThreads      int    `json:"maxThreads"`
	MaxOpenFiles    int    `json:"maxOpenFiles"`
	Priority        int    `json:"priority"`
	CPUQuotaPercent int    `json:"cpuQuotaPercent"`
	MaxMemoryBytes  int64  `json:"maxMemoryBytes"`
	MaxStorageBytes int64  `json:"maxStorageBytes"`
}

// SyscallRecord is the syscall filter descriptor.
type SyscallRecord struct {
	SandboxID          string `json:"sandboxId"`
	BlockPtrace        bool   `json:"blockPtrace"`
	BlockMount         bool   `json:"blockMount"`
	BlockKernelModules bool   `json:"blockKernelModules"`
	BlockRawSockets    bool   `json:"blockRawSockets"`
	Audit              bool   `json:"audit"`
}

// Descriptors is everything produced for one sandbox.
type Descriptors struct {
	Dir         string
	Files       []string // written paths, in write order
	Permissions PermissionRecord
	Network     NetworkRecord
	Limits      LimitsRecord
	Syscall     SyscallRecord

	// Enforced is always false: descriptors are instructions, not effects.
	Enforced bool
}

// Enforcer builds and writes security descriptors.
type Enforcer struct {
	fs       system.FileSystem
	renderer *network.Renderer
}

// New returns an Enforcer writing through fs. A nil renderer resolves
// allow-listed hosts with the system resolver.
func New(fs system.FileSystem, renderer *network.Renderer) *Enforcer {
	if renderer == nil {
		renderer = network.NewRenderer(nil)
	}
	return &Enforcer{fs: fs, renderer: renderer}
}

// Build derives the descriptors of a sandbox without writing anything.
func Build(sb sandbox.Sandbox) *Descriptors {
	traits := policy.TraitsFor(sb.IsolationLevel)
	p := sb.Policy
	netCfg := network.ConfigFor(p, sb.IsolationLevel, sb.NetworkNamespace)

	hosts := p.AllowedHosts
	if netCfg.Mode != network.ModeRestricted || hosts == nil {
		hosts = []string{}
	}
	restricted := p.RestrictedPermissions
	if restricted == nil {
		restricted = []string{}
	}

	return &Descriptors{
		Dir: sb.Layout().Security,
		Permissions: PermissionRecord{
			SandboxID:             sb.ID,
			DirMode:               fmt.Sprintf("%#o", traits.DirMode),
			OwnerOnly:             traits.OwnerOnly,
			RestrictedPermissions: restricted,
			AllowStorage:          p.AllowStorageAccess,
			AllowCamera:           p.AllowCamera,
			AllowLocation:         p.AllowLocation,
			AllowContacts:         p.AllowContacts,
			EncryptionRequired:    p.EncryptData || traits.Encryption,
		},
		Network: NetworkRecord{
			SandboxID:    sb.ID,
			Mode:         netCfg.Mode,
			BlockAll:     netCfg.Mode != network.ModeFull,
			AllowedHosts: hosts,
			Namespace:    sb.NetworkNamespace,
		},
		Limits: LimitsRecord{
			SandboxID:       sb.ID,
			MaxProcesses:    traits.MaxProcesses,
			MaxThreads:      traits.MaxThreads,
			MaxOpenFiles:    traits.MaxOpenFiles,
			Priority:        traits.Priority,
			CPUQuotaPercent: traits.CPUQuotaPercent,
			MaxMemoryBytes:  sb.MemoryLimit,
			MaxStorageBytes: sb.StorageLimit(),
		},
		Syscall: SyscallRecord{
			SandboxID:          sb.ID,
			BlockPtrace:        traits.BlockPtrace,
			BlockMount:         traits.BlockMount,
			BlockKernelModules: traits.BlockKernelModules,
			BlockRawSockets:    netCfg.Mode != network.ModeFull,
			Audit:              p.AuditAllAccess || traits.AuditAll,
		},
	}
}

// Materialize writes the descriptors of sb into its security directory.
// Each file is written atomically. The first failed write aborts with a
// security-application error; files already written are left for the
// caller's rollback, which removes the whole sandbox tree.
func (e *Enforcer) Materialize(sb sandbox.Sandbox) (*Descriptors, error) {
	d := Build(sb)
	mode := policy.TraitsFor(sb.IsolationLevel).DirMode

	if err := e.fs.MkdirAll(d.Dir, mode); err != nil {
		return nil, errors.SecurityApplicationFailed("security directory", err)
	}

	type artifact struct {
		name string
		data []byte
	}
	var artifacts []artifact
	for _, rec := range []struct {
		name string
		v    any
	}{
		{PermissionsFile, d.Permissions},
		{NetworkFile, d.Network},
		{LimitsFile, d.Limits},
		{SyscallFile, d.Syscall},
	} {
		data, err := json.MarshalIndent(rec.v, "", "  ")
		if err != nil {
			return nil, errors.SecurityApplicationFailed(rec.name, err)
		}
		artifacts = append(artifacts, artifact{rec.name, append(data, '\n')})
	}

	if d.Network.Mode == network.ModeRestricted {
		cfg := network.ConfigFor(sb.Policy, sb.IsolationLevel, sb.NetworkNamespace)
		artifacts = append(artifacts,
			artifact{NftablesFile, []byte(e.renderer.Nftables(cfg))},
			artifact{DnsmasqFile, []byte(network.Dnsmasq(cfg.AllowedHosts))},
		)
	}

	for _, a := range artifacts {
		path := filepath.Join(d.Dir, a.name)
		if err := system.WriteFileAtomic(e.fs, path, a.data, 0o600); err != nil {
			return nil, errors.SecurityApplicationFailed(a.name, err)
		}
		d.Files = append(d.Files, path)
	}

	logging.Debug("wrote security descriptors", "sandbox", sb.ID, "network", d.Network.Mode, "files", len(d.Files))
	return d, nil
}

// Read loads the JSON descriptors previously written for sb.
func (e *Enforcer) Read(sb sandbox.Sandbox) (*Descriptors, error) {
	d := &Descriptors{Dir: sb.Layout().Security}
	for _, rec := range []struct {
		name string
		v    any
	}{
		{PermissionsFile, &d.Permissions},
		{NetworkFile, &d.Network},
		{LimitsFile, &d.Limits},
		{SyscallFile, &d.Syscall},
	} {
		path := filepath.Join(d.Dir, rec.name)
		data, err := e.fs.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", rec.name, err)
		}
		if err := json.Unmarshal(data, rec.v); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", rec.name, err)
		}
		d.Files = append(d.Files, path)
	}
	return d, nil
}
