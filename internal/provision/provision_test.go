package provision

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/policy"
	"github.com/firefly-engineering/clonebox/internal/system"
)

func TestValidatePackageName(t *testing.T) {
	valid := []string{"com.example.app", "App", "a_b.c9"}
	for _, name := range valid {
		assert.NoError(t, ValidatePackageName(name), name)
	}
	invalid := []string{"", "com..app", ".com", "com.", "9app", "com/evil", "../x", "com.example app"}
	for _, name := range invalid {
		assert.Error(t, ValidatePackageName(name), name)
	}
}

func TestProvision_CreatesEveryDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "sandboxes")
	p := New(system.DefaultFS(), root)

	layout, err := p.Provision("sbx-000001-1", "com.example.app", policy.IsolationStandard)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sbx-000001-1"), layout.Root)

	for _, dir := range layout.Directories() {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
		assert.Equal(t, fs.FileMode(0o750), info.Mode().Perm(), dir)
	}
	assert.NoError(t, p.Validate(layout))
}

func TestProvision_ModePerLevel(t *testing.T) {
	for _, level := range policy.Levels {
		t.Run(string(level), func(t *testing.T) {
			mfs := system.NewMockFS()
			p := New(mfs, "/srv/sandboxes")

			layout, err := p.Provision("sbx-000001-1", "com.example.app", level)
			require.NoError(t, err)

			want := policy.TraitsFor(level).DirMode
			for _, dir := range layout.Directories() {
				mode, ok := mfs.Mode(dir)
				require.True(t, ok, dir)
				assert.Equal(t, want, mode, dir)
			}
		})
	}
}

func TestProvision_RollbackOnPartialFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "sandboxes")
	ffs := system.NewFaultFS(system.DefaultFS())
	p := New(ffs, root)

	// Fail the seventh directory.
	ffs.FailAfter(system.OpMkdir, 7, fs.ErrPermission)

	_, err := p.Provision("sbx-000001-1", "com.example.app", policy.IsolationStrict)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindProvisioning))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no directory from the failed attempt may remain")
}

func TestProvision_RollbackOnChmodFailure(t *testing.T) {
	mfs := system.NewMockFS()
	ffs := system.NewFaultFS(mfs)
	p := New(ffs, "/srv/sandboxes")

	ffs.FailPath(system.OpChmod, "/srv/sandboxes/sbx-000001-1/lib", fs.ErrPermission)

	_, err := p.Provision("sbx-000001-1", "com.example.app", policy.IsolationStandard)
	require.Error(t, err)
	assert.False(t, mfs.Exists("/srv/sandboxes/sbx-000001-1"))
	assert.True(t, mfs.Exists("/srv/sandboxes"), "the shared root is not part of the rollback")
}

func TestProvision_RejectsBadInput(t *testing.T) {
	mfs := system.NewMockFS()
	p := New(mfs, "/srv/sandboxes")

	_, err := p.Provision("sbx-000001-1", "../../etc", policy.IsolationStandard)
	assert.Error(t, err)
	_, err = p.Provision("not-an-id", "com.example.app", policy.IsolationStandard)
	assert.Error(t, err)
	assert.Empty(t, mfs.Paths(), "validation happens before any disk work")
}

func TestProvision_Idempotent(t *testing.T) {
	mfs := system.NewMockFS()
	p := New(mfs, "/srv/sandboxes")
	layout, err := p.Provision("sbx-000001-1", "com.example.app", policy.IsolationStandard)
	require.NoError(t, err)
	mfs.AddFile(filepath.Join(layout.Data, "files", "keep.txt"), []byte("x"), 0o644)
	require.NoError(t, mfs.RemoveAll(layout.Logs))

	again, err := p.Provision("sbx-000001-1", "com.example.app", policy.IsolationStandard)
	require.NoError(t, err)
	assert.Equal(t, layout, again)
	assert.NoError(t, p.Validate(again))
	_, ok := mfs.GetFile(filepath.Join(layout.Data, "files", "keep.txt"))
	assert.True(t, ok, "existing content is left alone")
}

func TestProvision_RollbackKeepsPreexistingDirs(t *testing.T) {
	mfs := system.NewMockFS()
	mfs.AddDir("/srv/sandboxes/sbx-000001-1/data/com.example.app")
	ffs := system.NewFaultFS(mfs)
	p := New(ffs, "/srv/sandboxes")

	ffs.FailPath(system.OpMkdir, "/srv/sandboxes/sbx-000001-1/tmp", fs.ErrPermission)

	_, err := p.Provision("sbx-000001-1", "com.example.app", policy.IsolationStandard)
	require.Error(t, err)
	assert.True(t, mfs.IsDir("/srv/sandboxes/sbx-000001-1/data/com.example.app"))
	assert.False(t, mfs.IsDir("/srv/sandboxes/sbx-000001-1/data/com.example.app/databases"))
	assert.False(t, mfs.IsDir("/srv/sandboxes/sbx-000001-1/proc"))
}

func TestValidate_ReportsMissing(t *testing.T) {
	mfs := system.NewMockFS()
	p := New(mfs, "/srv/sandboxes")
	layout, err := p.Provision("sbx-000001-1", "com.example.app", policy.IsolationStandard)
	require.NoError(t, err)

	require.NoError(t, mfs.RemoveAll(layout.Tmp))
	err = p.Validate(layout)
	require.Error(t, err)
	assert.Contains(t, err.Error(), layout.Tmp)
}

func TestRollback(t *testing.T) {
	root := filepath.Join(t.TempDir(), "sandboxes")
	p := New(system.DefaultFS(), root)
	layout, err := p.Provision("sbx-000001-1", "com.example.app", policy.IsolationMinimal)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(layout.Security, "limits.json"), []byte("{}"), 0o600))

	require.NoError(t, p.Rollback(layout))
	_, err = os.Stat(layout.Root)
	assert.True(t, os.IsNotExist(err))
}
