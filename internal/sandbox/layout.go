package sandbox

import (
	"path/filepath"
	"strings"
)

// App data subdirectories created under the data path.
const (
	DatabasesDir   = "databases"
	SharedPrefsDir = "shared_prefs"
	FilesDir       = "files"
	CodeCacheDir   = "code_cache"
	NoBackupDir    = "no_backup"
)

// SecurityDir holds the enforcement descriptors inside a sandbox root.
const SecurityDir = "security"

// Layout is the directory topology of one sandbox.
type Layout struct {
	Root         string
	Data         string // data/<pkg>
	Cache        string // cache/<pkg>
	Lib          string // lib/<pkg>
	ExternalData string // external/Android/data/<pkg>
	Proc         string
	Tmp          string
	Logs         string
	Security     string
}

// NewLayout returns the layout of sandbox id under sandboxesRoot.
func NewLayout(sandboxesRoot, id, packageName string) Layout {
	return LayoutFromRoot(filepath.Join(sandboxesRoot, id), packageName)
}

// LayoutFromRoot returns the layout of a sandbox rooted at root.
func LayoutFromRoot(root, packageName string) Layout {
	return Layout{
		Root:         root,
		Data:         filepath.Join(root, "data", packageName),
		Cache:        filepath.Join(root, "cache", packageName),
		Lib:          filepath.Join(root, "lib", packageName),
		ExternalData: filepath.Join(root, "external", "Android", "data", packageName),
		Proc:         filepath.Join(root, "proc"),
		Tmp:          filepath.Join(root, "tmp"),
		Logs:         filepath.Join(root, "logs"),
		Security:     filepath.Join(root, SecurityDir),
	}
}

// ExternalFiles returns external/Android/data/<pkg>/files.
func (l Layout) ExternalFiles() string {
	return filepath.Join(l.ExternalData, "files")
}

// ExternalCache returns external/Android/data/<pkg>/cache.
func (l Layout) ExternalCache() string {
	return filepath.Join(l.ExternalData, "cache")
}

// Directories lists every required directory, parents before children.
func (l Layout) Directories() []string {
	return []string{
		l.Root,
		filepath.Dir(l.Data),
		l.Data,
		filepath.Join(l.Data, DatabasesDir),
		filepath.Join(l.Data, SharedPrefsDir),
		filepath.Join(l.Data, FilesDir),
		filepath.Join(l.Data, CodeCacheDir),
		filepath.Join(l.Data, NoBackupDir),
		filepath.Dir(l.Cache),
		l.Cache,
		filepath.Dir(l.Lib),
		l.Lib,
		filepath.Join(l.Root, "external"),
		filepath.Join(l.Root, "external", "Android"),
		filepath.Dir(l.ExternalData),
		l.ExternalData,
		l.ExternalFiles(),
		l.ExternalCache(),
		l.Proc,
		l.Tmp,
		l.Logs,
		l.Security,
	}
}

// TombstoneSuffix marks a sandbox tree that has been moved aside for
// deletion.
const TombstoneSuffix = ".destroying"

// TombstonePath is where Destroy moves the tree of sandbox id before
// deleting it. The leading dot keeps it from looking like a live root.
func TombstonePath(sandboxesRoot, id string) string {
	return filepath.Join(sandboxesRoot, "."+id+TombstoneSuffix)
}

// TombstoneID returns the sandbox id of a tombstone entry name.
func TombstoneID(name string) (string, bool) {
	if !strings.HasPrefix(name, ".") {
		return "", false
	}
	id, ok := strings.CutSuffix(name[1:], TombstoneSuffix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
