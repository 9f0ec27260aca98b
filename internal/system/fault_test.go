package system

import (
	"errors"
	"io/fs"
	"testing"
)

func TestFaultFS_FailPath(t *testing.T) {
	inner := NewMockFS()
	inner.AddDir("/sandboxes/a")
	inner.AddDir("/sandboxes/b")
	ffs := NewFaultFS(inner)
	ffs.FailPath(OpRemoveAll, "/sandboxes/b", fs.ErrPermission)

	if err := ffs.RemoveAll("/sandboxes/a"); err != nil {
		t.Fatalf("RemoveAll(a) error: %v", err)
	}
	err := ffs.RemoveAll("/sandboxes/b")
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("RemoveAll(b) error = %v, want ErrPermission", err)
	}
	if !inner.Exists("/sandboxes/b") {
		t.Error("failed RemoveAll must not touch the inner filesystem")
	}

	// Prefix matching is by path component.
	if err := ffs.RemoveAll("/sandboxes/bb"); err != nil {
		t.Errorf("RemoveAll(bb) error = %v, want nil", err)
	}
}

func TestFaultFS_FailAfter(t *testing.T) {
	ffs := NewFaultFS(NewMockFS())
	ffs.FailAfter(OpMkdir, 2, fs.ErrPermission)

	for i, p := range []string{"/a", "/b"} {
		if err := ffs.Mkdir(p, 0700); err != nil {
			t.Fatalf("Mkdir #%d error: %v", i, err)
		}
	}
	if err := ffs.Mkdir("/c", 0700); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("third Mkdir error = %v, want ErrPermission", err)
	}
	if got := ffs.Calls(OpMkdir); got != 3 {
		t.Errorf("Calls(mkdir) = %d, want 3", got)
	}

	ffs.Clear()
	if err := ffs.Mkdir("/d", 0700); err != nil {
		t.Errorf("Mkdir after Clear error: %v", err)
	}
}

func TestFaultFS_PassThrough(t *testing.T) {
	inner := NewMockFS()
	ffs := NewFaultFS(inner)

	if err := ffs.WriteFile("/f", []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	data, err := ffs.ReadFile("/f")
	if err != nil || string(data) != "x" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}
}
