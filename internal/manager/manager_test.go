package manager

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firefly-engineering/clonebox/internal/enforcer"
	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/policy"
	"github.com/firefly-engineering/clonebox/internal/provision"
	"github.com/firefly-engineering/clonebox/internal/registry"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
	"github.com/firefly-engineering/clonebox/internal/system"
	"github.com/firefly-engineering/clonebox/internal/testutil"
	"github.com/firefly-engineering/clonebox/internal/workload"
)

const pkg = "com.example.app"

func newManager(t *testing.T, fsys system.FileSystem, opts ...Option) (*Manager, *testutil.TestEnv) {
	t.Helper()
	env := testutil.NewTestEnv(t)
	if fsys == nil {
		fsys = system.DefaultFS()
	}
	return New(env.Paths, fsys, registry.New(), opts...), env
}

func create(t *testing.T, m *Manager, clone string) sandbox.Sandbox {
	t.Helper()
	sb, err := m.Create(context.Background(), CreateRequest{CloneID: clone, PackageName: pkg})
	require.NoError(t, err)
	return sb
}

func assertNoTree(t *testing.T, env *testutil.TestEnv) {
	t.Helper()
	entries, err := os.ReadDir(env.Paths.SandboxesRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "no sandbox tree may remain")
	entries, err = os.ReadDir(env.Paths.DescriptorsDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no descriptor may remain")
}

func TestCreate(t *testing.T) {
	m, env := newManager(t, nil)
	p := policy.DefaultPolicy()
	p.MaxStorageSize = 100 * policy.MiB

	sb, err := m.Create(context.Background(), CreateRequest{
		CloneID:     "clone-1",
		PackageName: pkg,
		Isolation:   policy.IsolationStrict,
		Policy:      &p,
	})
	require.NoError(t, err)

	assert.Equal(t, sandbox.StateActive, sb.State)
	assert.True(t, sb.Active)
	assert.Equal(t, sb.Policy.MaxStorageSize, sb.StorageLimit())
	assert.Equal(t, 100*policy.MiB, sb.StorageLimit())
	assert.Equal(t, policy.IsolationStrict, sb.IsolationLevel)

	// Every required directory exists with the level's mode.
	require.NoError(t, provision.New(system.DefaultFS(), env.Paths.SandboxesRoot).Validate(sb.Layout()))
	info, err := os.Stat(sb.DataPath)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o700), info.Mode().Perm())

	for _, name := range []string{enforcer.PermissionsFile, enforcer.NetworkFile, enforcer.LimitsFile, enforcer.SyscallFile} {
		assert.FileExists(t, filepath.Join(sb.Layout().Security, name))
	}

	assert.True(t, env.DescriptorExists(sb.ID))
	got, ok := m.Get(sb.ID)
	require.True(t, ok)
	assert.Equal(t, sb.ID, got.ID)
	assert.Equal(t, 1, m.Count())
}

func TestCreate_ConcurrentUniqueIDs(t *testing.T) {
	m, _ := newManager(t, nil)

	const n = 25
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sb, err := m.Create(context.Background(), CreateRequest{CloneID: fmt.Sprintf("clone-%d", i), PackageName: pkg})
			if assert.NoError(t, err) {
				ids[i] = sb.ID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, n, m.Count())
	for _, sb := range m.ListActive() {
		assert.Equal(t, sb.Policy.MaxStorageSize, sb.StorageLimit())
	}
}

func TestCreate_Validation(t *testing.T) {
	m, env := newManager(t, nil)
	bad := policy.DefaultPolicy()
	bad.StorageWarningThreshold = 1.5

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"empty clone", CreateRequest{PackageName: pkg}},
		{"bad package", CreateRequest{CloneID: "c", PackageName: "../etc"}},
		{"bad isolation", CreateRequest{CloneID: "c", PackageName: pkg, Isolation: "paranoid"}},
		{"bad policy", CreateRequest{CloneID: "c", PackageName: pkg, Policy: &bad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(context.Background(), tt.req)
			require.Error(t, err)
			step, ok := errors.Step(err)
			assert.True(t, ok)
			assert.Equal(t, StepValidate, step)
			assert.True(t, errors.IsKind(err, errors.KindValidation))
		})
	}
	assert.Equal(t, 0, m.Count())
	assertNoTree(t, env)
}

func TestCreate_RollbackOnProvisioningFailure(t *testing.T) {
	ffs := system.NewFaultFS(system.DefaultFS())
	m, env := newManager(t, ffs)

	// Let the shared root and a few sandbox directories through.
	ffs.FailAfter(system.OpMkdir, 6, fs.ErrPermission)

	_, err := m.Create(context.Background(), CreateRequest{CloneID: "clone-1", PackageName: pkg})
	require.Error(t, err)
	step, _ := errors.Step(err)
	assert.Equal(t, StepProvision, step)
	assert.True(t, errors.IsKind(err, errors.KindProvisioning))
	assert.Equal(t, errors.ExitProvisioningFailed, errors.GetExitCode(err))

	assert.Equal(t, 0, m.Count())
	assertNoTree(t, env)
}

func TestCreate_RollbackOnSecurityFailure(t *testing.T) {
	ffs := system.NewFaultFS(system.DefaultFS())
	m, env := newManager(t, ffs)
	ffs.FailPath(system.OpWriteFile, env.Paths.SandboxesRoot, fs.ErrPermission)

	_, err := m.Create(context.Background(), CreateRequest{CloneID: "clone-1", PackageName: pkg})
	require.Error(t, err)
	step, _ := errors.Step(err)
	assert.Equal(t, StepSecurity, step)
	assert.True(t, errors.IsKind(err, errors.KindSecurityApplication))

	assert.Equal(t, 0, m.Count())
	assertNoTree(t, env)
}

func TestCreate_RollbackOnPersistFailure(t *testing.T) {
	ffs := system.NewFaultFS(system.DefaultFS())
	m, env := newManager(t, ffs)
	ffs.FailPath(system.OpRename, env.Paths.DescriptorsDir, fs.ErrPermission)

	_, err := m.Create(context.Background(), CreateRequest{CloneID: "clone-1", PackageName: pkg})
	require.Error(t, err)
	step, _ := errors.Step(err)
	assert.Equal(t, StepPersist, step)

	assert.Equal(t, 0, m.Count())
	assertNoTree(t, env)
}

func TestCreate_RollbackOnRegisterFailure(t *testing.T) {
	now := time.UnixMilli(1767323045000)
	m, env := newManager(t, nil, WithClock(func() time.Time { return now }))

	// Occupy the id the next reservation will produce.
	taken := sandbox.New("sbx-000001-1767323045000", "other", pkg,
		sandbox.NewLayout("/elsewhere", "sbx-000001-1767323045000", pkg),
		policy.IsolationStandard, policy.DefaultPolicy(), now)
	require.NoError(t, m.Registry().Insert(taken))

	_, err := m.Create(context.Background(), CreateRequest{CloneID: "clone-1", PackageName: pkg})
	require.Error(t, err)
	step, _ := errors.Step(err)
	assert.Equal(t, StepRegister, step)

	assert.Equal(t, 1, m.Count())
	assertNoTree(t, env)
}

func TestDestroy_UnknownID(t *testing.T) {
	m, _ := newManager(t, nil)
	create(t, m, "clone-1")

	ok, err := m.Destroy(context.Background(), "nonexistent")
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 1, m.Count())
}

func TestDestroy(t *testing.T) {
	exec := system.NewMockExecutor()
	term, err := workload.NewCommandTerminator(exec, "agentctl stop {id}")
	require.NoError(t, err)
	m, env := newManager(t, nil, WithTerminator(term))
	sb := create(t, m, "clone-1")

	ok, err := m.Destroy(context.Background(), sb.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, found := m.Get(sb.ID)
	assert.False(t, found)
	assert.False(t, env.SandboxExists(sb.ID))
	assert.False(t, env.DescriptorExists(sb.ID))

	cmd, ran := exec.LastCommand()
	require.True(t, ran)
	assert.Equal(t, []string{"stop", sb.ID}, cmd.Args)

	// A second destroy is a no-op.
	ok, err = m.Destroy(context.Background(), sb.ID)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestDestroy_TerminateFailureDoesNotBlock(t *testing.T) {
	exec := system.NewMockExecutor()
	exec.DefaultResponse = system.MockResponse{Err: fmt.Errorf("agent unreachable")}
	term, err := workload.NewCommandTerminator(exec, "agentctl stop {id}")
	require.NoError(t, err)
	m, env := newManager(t, nil, WithTerminator(term))
	sb := create(t, m, "clone-1")

	ok, err := m.Destroy(context.Background(), sb.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, env.SandboxExists(sb.ID))
}

func TestDestroy_FailureKeepsSandbox(t *testing.T) {
	ffs := system.NewFaultFS(system.DefaultFS())
	m, env := newManager(t, ffs)
	sb := create(t, m, "clone-1")
	ffs.FailPath(system.OpRename, sandbox.TombstonePath(env.Paths.SandboxesRoot, sb.ID), fs.ErrPermission)

	ok, err := m.Destroy(context.Background(), sb.ID)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDestruction))

	got, found := m.Get(sb.ID)
	require.True(t, found)
	assert.Equal(t, sandbox.StateActive, got.State)
	assert.True(t, got.Active)
	assert.True(t, env.SandboxExists(sb.ID))
	assert.True(t, env.DescriptorExists(sb.ID))

	// Once the fault clears the sandbox can be destroyed.
	ffs.Clear()
	ok, err = m.Destroy(context.Background(), sb.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDestroy_RejectsSandboxAlreadyBeingDestroyed(t *testing.T) {
	m, _ := newManager(t, nil)
	sb := create(t, m, "clone-1")
	require.True(t, m.Registry().Transition(sb.ID, sandbox.StateDestroying))

	ok, err := m.Destroy(context.Background(), sb.ID)
	assert.False(t, ok)
	assert.True(t, errors.IsKind(err, errors.KindDestruction))
}

func TestDestroy_RefusesWhileCleaning(t *testing.T) {
	m, env := newManager(t, nil)
	sb := create(t, m, "clone-1")
	require.True(t, m.Registry().Transition(sb.ID, sandbox.StateCleaning))

	ok, err := m.Destroy(context.Background(), sb.ID)
	assert.False(t, ok)
	assert.True(t, errors.IsKind(err, errors.KindDestruction))

	got, _ := m.Get(sb.ID)
	assert.Equal(t, sandbox.StateCleaning, got.State)
	assert.True(t, env.SandboxExists(sb.ID))

	require.True(t, m.Registry().Transition(sb.ID, sandbox.StateActive))
	ok, err = m.Destroy(context.Background(), sb.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

// partialRemoveFS deletes part of an existing tree under prefix, then
// fails the way os.RemoveAll does on a directory it cannot empty.
type partialRemoveFS struct {
	system.FileSystem
	prefix string
	fail   bool
}

func (p *partialRemoveFS) RemoveAll(path string) error {
	if !p.fail || !strings.HasPrefix(path, p.prefix) || !p.Exists(path) {
		return p.FileSystem.RemoveAll(path)
	}
	for _, sub := range []string{"cache", "tmp"} {
		if err := p.FileSystem.RemoveAll(filepath.Join(path, sub)); err != nil {
			return err
		}
	}
	return &fs.PathError{Op: "unlinkat", Path: filepath.Join(path, "data"), Err: fs.ErrPermission}
}

func TestDestroy_PartialRemovalIsNeverServed(t *testing.T) {
	pfs := &partialRemoveFS{FileSystem: system.DefaultFS()}
	m, env := newManager(t, pfs)
	broken := create(t, m, "clone-broken")
	other := create(t, m, "clone-other")
	tomb := sandbox.TombstonePath(env.Paths.SandboxesRoot, broken.ID)
	pfs.prefix, pfs.fail = tomb, true

	ok, err := m.ClearAll(context.Background())
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDestruction))

	_, found := m.Get(other.ID)
	assert.False(t, found)

	got, found := m.Get(broken.ID)
	require.True(t, found)
	assert.Equal(t, sandbox.StateDestroyFailed, got.State)
	assert.False(t, got.Active)
	assert.Empty(t, m.ListActive(), "a half-deleted tree must not be served")
	assert.False(t, env.SandboxExists(broken.ID), "the live root is moved aside before deletion")
	assert.DirExists(t, tomb)
	assert.NoDirExists(t, filepath.Join(tomb, "cache"))
	assert.True(t, env.DescriptorExists(broken.ID))

	// A later destroy finishes the job.
	pfs.fail = false
	ok, err = m.Destroy(context.Background(), broken.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, m.Count())
	assert.NoDirExists(t, tomb)
	assert.False(t, env.DescriptorExists(broken.ID))
}

func TestClearAll(t *testing.T) {
	m, env := newManager(t, nil)
	for i := range 4 {
		create(t, m, fmt.Sprintf("clone-%d", i))
	}
	require.NoError(t, os.WriteFile(filepath.Join(env.Paths.SandboxesRoot, "stray"), []byte("x"), 0o644))

	ok, err := m.ClearAll(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, m.Count())

	entries, err := os.ReadDir(env.Paths.SandboxesRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "shared root is wiped and recreated")
	assert.DirExists(t, env.Paths.DescriptorsDir)
}

func TestClearAll_PartialFailure(t *testing.T) {
	ffs := system.NewFaultFS(system.DefaultFS())
	m, env := newManager(t, ffs, WithClearParallelism(3))

	const k, failing = 6, 2
	var all []sandbox.Sandbox
	for i := range k {
		all = append(all, create(t, m, fmt.Sprintf("clone-%d", i)))
	}
	for _, sb := range all[:failing] {
		ffs.FailPath(system.OpRename, sandbox.TombstonePath(env.Paths.SandboxesRoot, sb.ID), fs.ErrPermission)
	}

	ok, err := m.ClearAll(context.Background())
	assert.False(t, ok)
	require.Error(t, err)

	assert.Equal(t, failing, m.Count())
	for i, sb := range all {
		_, registered := m.Get(sb.ID)
		if i < failing {
			assert.True(t, registered, "%s should remain", sb.ID)
			assert.True(t, env.SandboxExists(sb.ID))
			assert.True(t, env.DescriptorExists(sb.ID))
			assert.NoError(t, provision.New(system.DefaultFS(), env.Paths.SandboxesRoot).Validate(sb.Layout()), "survivor must not be half deleted")
			got, _ := m.Get(sb.ID)
			assert.Equal(t, sandbox.StateActive, got.State)
		} else {
			assert.False(t, registered, "%s should be gone", sb.ID)
			assert.False(t, env.SandboxExists(sb.ID))
			assert.False(t, env.DescriptorExists(sb.ID))
		}
	}
}

func TestListActive_SkipsDestroying(t *testing.T) {
	m, _ := newManager(t, nil)
	a := create(t, m, "clone-a")
	b := create(t, m, "clone-b")
	require.True(t, m.Registry().Transition(a.ID, sandbox.StateDestroying))

	active := m.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)
	assert.Equal(t, 2, m.Count())
}
