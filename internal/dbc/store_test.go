package dbc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/anodyne74/candaemon/internal/errcode"
)

func writeTempDBC(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dbc")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp dbc: %v", err)
	}
	return path
}

func TestStoreLoadGetNames(t *testing.T) {
	s := NewStore()
	path := writeTempDBC(t, sampleDBC)

	f, warnings, err := s.Load("vehicle", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if f.Name != "vehicle" || f.Path != path {
		t.Errorf("file metadata = %+v", f)
	}

	got, ok := s.Get("vehicle")
	if !ok || got != f {
		t.Fatalf("Get did not return the loaded file")
	}

	names := s.Names()
	if len(names) != 1 || names[0] != "vehicle" {
		t.Errorf("Names = %v", names)
	}
}

func TestStoreLoadMissingFileErrors(t *testing.T) {
	s := NewStore()
	_, _, err := s.Load("missing", "/nonexistent/path.dbc")
	if err == nil {
		t.Fatalf("expected error loading nonexistent path")
	}
}

func TestStoreReplaceRefusedWhileLocked(t *testing.T) {
	s := NewStore()
	path := writeTempDBC(t, sampleDBC)
	if _, _, err := s.Load("vehicle", path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	locked, err := s.Lock("vehicle")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if locked.LockCount() != 1 {
		t.Fatalf("LockCount = %d, want 1", locked.LockCount())
	}

	_, _, err = s.Replace("vehicle", path)
	if !errors.Is(err, errcode.ErrLockBusy) {
		t.Fatalf("Replace while locked: got %v, want ErrLockBusy", err)
	}

	if err := s.Unload("vehicle"); !errors.Is(err, errcode.ErrLockBusy) {
		t.Fatalf("Unload while locked: got %v, want ErrLockBusy", err)
	}

	if err := s.Unlock("vehicle"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	if _, _, err := s.Replace("vehicle", path); err != nil {
		t.Fatalf("Replace after unlock: %v", err)
	}

	if err := s.Unload("vehicle"); err != nil {
		t.Fatalf("Unload after unlock: %v", err)
	}
}

func TestStoreLoadStringPartialOnBadLine(t *testing.T) {
	s := NewStore()
	f, warnings, err := s.LoadString("inline", []byte(sampleDBC+"\nGARBAGE_LINE foo\n"))
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if !f.Partial {
		t.Errorf("expected Partial for malformed line")
	}
	if len(warnings) == 0 {
		t.Errorf("expected warnings for malformed line")
	}
}

func TestFileUnlockUnderflow(t *testing.T) {
	f := &File{Name: "x"}
	if err := f.Unlock(); err == nil {
		t.Fatalf("expected error unlocking a file with zero lock count")
	}
}
