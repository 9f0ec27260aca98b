package sandbox

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firefly-engineering/clonebox/internal/policy"
)

func TestNew_StorageLimitFollowsPolicy(t *testing.T) {
	p := policy.DefaultPolicy()
	p.MaxStorageSize = 100 * policy.MiB

	layout := NewLayout("/var/lib/clonebox/sandboxes", "sbx-000001-1", "com.example.app")
	sb := New("sbx-000001-1", "clone-a", "com.example.app", layout, policy.IsolationStandard, p, time.Unix(100, 0))

	assert.Equal(t, p.MaxStorageSize, sb.StorageLimit())
	assert.Equal(t, p.MaxMemorySize, sb.MemoryLimit)
	assert.Equal(t, StateProvisioning, sb.State)
	assert.True(t, sb.Active)
	assert.Equal(t, layout.Data, sb.DataPath)
	assert.Equal(t, layout, sb.Layout())
}

func TestNew_PathsUnderRoot(t *testing.T) {
	layout := NewLayout("/srv/sandboxes", "sbx-000002-1", "com.example.app")
	sb := New("sbx-000002-1", "c", "com.example.app", layout, policy.IsolationStrict, policy.DefaultPolicy(), time.Now())

	for _, p := range []string{sb.DataPath, sb.CachePath, sb.LibPath, sb.VirtualProcPath} {
		rel, err := filepath.Rel(sb.RootPath, p)
		require.NoError(t, err)
		assert.False(t, strings.HasPrefix(rel, ".."), "%s escapes %s", p, sb.RootPath)
	}
}

func TestNew_NormalizesPolicyForLevel(t *testing.T) {
	sb := New("sbx-000003-1", "c", "com.example.app", NewLayout("/srv", "sbx-000003-1", "com.example.app"),
		policy.IsolationMaximum, policy.DefaultPolicy(), time.Now())
	assert.True(t, sb.Policy.EncryptData)
	assert.True(t, sb.Policy.AuditAllAccess)
}

func TestNetworkNamespaceFor(t *testing.T) {
	a := NetworkNamespaceFor("sbx-000001-1")
	b := NetworkNamespaceFor("sbx-000002-1")
	assert.True(t, strings.HasPrefix(a, "cbx-net-"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, NetworkNamespaceFor("sbx-000001-1"))
}

func TestDescriptorRoundTrip(t *testing.T) {
	p := policy.DefaultPolicy()
	p.AllowedHosts = []string{"api.example.com"}
	layout := NewLayout("/srv", "sbx-000004-1700000000000", "com.example.app")
	sb := New("sbx-000004-1700000000000", "clone-a", "com.example.app", layout, policy.IsolationStrict, p,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	d := sb.Descriptor()
	assert.Equal(t, sb.StorageLimit(), d.StorageLimit)
	assert.Equal(t, sb.StorageLimit(), d.SecurityPolicySubset.MaxStorageSize)

	back, err := FromDescriptor(d)
	require.NoError(t, err)
	assert.Equal(t, sb.ID, back.ID)
	assert.Equal(t, sb.CachePath, back.CachePath)
	assert.Equal(t, sb.NetworkNamespace, back.NetworkNamespace)
	assert.Equal(t, sb.Policy, back.Policy)
	assert.Equal(t, StateActive, back.State)
}

func TestFromDescriptor_LegacyFields(t *testing.T) {
	layout := NewLayout("/srv", "sbx-000005-1", "com.example.app")
	sb := New("sbx-000005-1", "c", "com.example.app", layout, policy.IsolationStandard, policy.DefaultPolicy(), time.Now())
	d := sb.Descriptor()
	d.CachePath, d.LibPath, d.VirtualProcPath, d.NetworkNamespace = "", "", "", ""
	d.Policy = nil
	d.MemoryLimit = 0

	back, err := FromDescriptor(d)
	require.NoError(t, err)
	assert.Equal(t, layout.Cache, back.CachePath)
	assert.Equal(t, layout.Proc, back.VirtualProcPath)
	assert.Equal(t, NetworkNamespaceFor(sb.ID), back.NetworkNamespace)
	assert.Equal(t, back.Policy.MaxMemorySize, back.MemoryLimit)
}

func TestFromDescriptor_Invalid(t *testing.T) {
	sb := New("sbx-000006-1", "c", "com.example.app", NewLayout("/srv", "sbx-000006-1", "com.example.app"),
		policy.IsolationStandard, policy.DefaultPolicy(), time.Now())
	d := sb.Descriptor()
	d.SandboxID = "../../etc"
	_, err := FromDescriptor(d)
	assert.Error(t, err)
}

func TestLayoutDirectories(t *testing.T) {
	l := LayoutFromRoot("/r", "com.example.app")
	dirs := l.Directories()

	seen := map[string]bool{}
	for _, d := range dirs {
		assert.False(t, seen[d], "duplicate %s", d)
		seen[d] = true
		if d != l.Root {
			assert.True(t, seen[filepath.Dir(d)], "%s listed before its parent", d)
		}
	}
	for _, want := range []string{
		"/r/data/com.example.app/databases",
		"/r/data/com.example.app/shared_prefs",
		"/r/data/com.example.app/files",
		"/r/data/com.example.app/code_cache",
		"/r/data/com.example.app/no_backup",
		"/r/cache/com.example.app",
		"/r/lib/com.example.app",
		"/r/external/Android/data/com.example.app/files",
		"/r/external/Android/data/com.example.app/cache",
		"/r/proc",
		"/r/tmp",
		"/r/logs",
		"/r/security",
	} {
		assert.True(t, seen[want], "missing %s", want)
	}
}

func TestStateLive(t *testing.T) {
	assert.True(t, StateActive.Live())
	assert.True(t, StateWarning.Live())
	assert.True(t, StateCleaning.Live())
	assert.False(t, StateProvisioning.Live())
	assert.False(t, StateDestroying.Live())
	assert.False(t, StateDestroyed.Live())
	assert.False(t, StateDestroyFailed.Live())
}

func TestTombstone(t *testing.T) {
	path := TombstonePath("/var/lib/clonebox/sandboxes", "sbx-000001-1")
	assert.Equal(t, "/var/lib/clonebox/sandboxes/.sbx-000001-1.destroying", path)

	id, ok := TombstoneID(".sbx-000001-1.destroying")
	assert.True(t, ok)
	assert.Equal(t, "sbx-000001-1", id)

	for _, name := range []string{"sbx-000001-1", ".sbx-000001-1.json.tmp", ".destroying", "sbx-000001-1.destroying"} {
		_, ok := TombstoneID(name)
		assert.False(t, ok, name)
	}
}
