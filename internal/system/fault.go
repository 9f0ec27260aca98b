package system

import (
	"io/fs"
	"strings"
	"sync"
)

// Op names a FileSystem operation for fault injection.
type Op string

const (
	OpWriteFile Op = "writefile"
	OpRename    Op = "rename"
	OpRemove    Op = "remove"
	OpRemoveAll Op = "removeall"
	OpMkdir     Op = "mkdir"
	OpChmod     Op = "chmod"
	OpReadDir   Op = "readdir"
)

type fault struct {
	op     Op
	prefix string
	after  int // calls to let through before failing; -1 means match by prefix only
	err    error
}

// FaultFS wraps a FileSystem and fails selected operations. Unlike MockFS
// error fields, faults can target a path prefix or the nth call, which
// lets a test fail one sandbox out of many or a provisioning step partway.
type FaultFS struct {
	FileSystem

	mu     sync.Mutex
	faults []*fault
	calls  map[Op]int
}

// NewFaultFS wraps inner.
func NewFaultFS(inner FileSystem) *FaultFS {
	return &FaultFS{FileSystem: inner, calls: make(map[Op]int)}
}

// FailPath makes op fail with err for every path at or under prefix.
func (f *FaultFS) FailPath(op Op, prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault{op: op, prefix: prefix, after: -1, err: err})
}

// FailAfter lets n calls of op through, then fails every later one with err.
func (f *FaultFS) FailAfter(op Op, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault{op: op, after: f.calls[op] + n, err: err})
}

// Clear removes every fault.
func (f *FaultFS) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = nil
}

// Calls returns how many times op was invoked.
func (f *FaultFS) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultFS) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[op]
	f.calls[op] = n + 1
	for _, ft := range f.faults {
		if ft.op != op {
			continue
		}
		if ft.after >= 0 {
			if n >= ft.after {
				return &fs.PathError{Op: string(op), Path: path, Err: ft.err}
			}
			continue
		}
		if path == ft.prefix || strings.HasPrefix(path, strings.TrimSuffix(ft.prefix, "/")+"/") {
			return &fs.PathError{Op: string(op), Path: path, Err: ft.err}
		}
	}
	return nil
}

func (f *FaultFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	if err := f.check(OpWriteFile, path); err != nil {
		return err
	}
	return f.FileSystem.WriteFile(path, data, perm)
}

func (f *FaultFS) Rename(oldpath, newpath string) error {
	if err := f.check(OpRename, newpath); err != nil {
		return err
	}
	return f.FileSystem.Rename(oldpath, newpath)
}

func (f *FaultFS) Remove(path string) error {
	if err := f.check(OpRemove, path); err != nil {
		return err
	}
	return f.FileSystem.Remove(path)
}

func (f *FaultFS) RemoveAll(path string) error {
	if err := f.check(OpRemoveAll, path); err != nil {
		return err
	}
	return f.FileSystem.RemoveAll(path)
}

func (f *FaultFS) Mkdir(path string, perm fs.FileMode) error {
	if err := f.check(OpMkdir, path); err != nil {
		return err
	}
	return f.FileSystem.Mkdir(path, perm)
}

func (f *FaultFS) MkdirAll(path string, perm fs.FileMode) error {
	if err := f.check(OpMkdir, path); err != nil {
		return err
	}
	return f.FileSystem.MkdirAll(path, perm)
}

func (f *FaultFS) Chmod(path string, mode fs.FileMode) error {
	if err := f.check(OpChmod, path); err != nil {
		return err
	}
	return f.FileSystem.Chmod(path, mode)
}

func (f *FaultFS) ReadDir(path string) ([]fs.DirEntry, error) {
	if err := f.check(OpReadDir, path); err != nil {
		return nil, err
	}
	return f.FileSystem.ReadDir(path)
}
