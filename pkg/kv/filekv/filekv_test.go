package filekv

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func Test_filekv_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")

	s1, err := Open(Opts{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	s1.Set("a", "1")
	s1.Set("b", "2")
	s1.Del("a")
	s1.Close()

	// A second Open over the same file simulates a process restart.
	s2, err := Open(Opts{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s2.Get("a"); ok {
		t.Fatal("deleted key survived restart")
	}
	v, ok := s2.Get("b")
	if !ok || v != "2" {
		t.Fatalf("v=%q ok=%v", v, ok)
	}
}

func Test_filekv_firstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s, err := Open(Opts{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Keys()) != 0 {
		t.Fatal("fresh store not empty")
	}
}

func Test_filekv_corruptSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(Opts{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Keys()) != 0 {
		t.Fatal("corrupt snapshot must degrade to empty")
	}

	// The store keeps working and persists over the corrupt file.
	s.Set("k", "v")
	s2, err := Open(Opts{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := s2.Get("k"); !ok || v != "v" {
		t.Fatalf("v=%q ok=%v", v, ok)
	}
}

func Test_filekv_keys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	s, err := Open(Opts{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	s.Set("x", "1")
	s.Set("y", "2")

	keys := s.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "x" || keys[1] != "y" {
		t.Fatalf("keys=%v", keys)
	}
}

func Test_filekv_emptyPath(t *testing.T) {
	if _, err := Open(Opts{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
