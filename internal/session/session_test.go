package session

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewBuildsSessionIDAndRemoteRoot(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	s := New("/tmp/local", now, "box.example.org")

	wantID := "2026-07-31-12:00:00-box.example.org-" + strconv.Itoa(os.Getpid())
	if s.ID != wantID {
		t.Errorf("ID = %q, want %q", s.ID, wantID)
	}
	wantRemote := filepath.Join("/var/cache/cdist", wantID)
	if s.RemoteRoot != wantRemote {
		t.Errorf("RemoteRoot = %q, want %q", s.RemoteRoot, wantRemote)
	}
}

func TestPathHelpers(t *testing.T) {
	s := New("/local", time.Now(), "box")
	if got := s.ConfDir("type"); got != filepath.Join("/local", "conf", "type") {
		t.Errorf("ConfDir = %q", got)
	}
	if got := s.ObjectDir("abc"); got != filepath.Join("/local", "targets", "abc", "object") {
		t.Errorf("ObjectDir = %q", got)
	}
	if got := s.RemoteObjectDir(); got != filepath.Join(s.RemoteRoot, "object") {
		t.Errorf("RemoteObjectDir = %q", got)
	}
}

func TestMergeConfDirsLastWins(t *testing.T) {
	confA := t.TempDir()
	confB := t.TempDir()

	mustWriteFile(t, filepath.Join(confA, "type", "__file"), "from-a")
	mustWriteFile(t, filepath.Join(confB, "type", "__file"), "from-b")
	mustWriteFile(t, filepath.Join(confA, "type", "__hostname"), "only-a")

	localRoot := t.TempDir()
	s := &Session{LocalRoot: localRoot}
	if err := MergeConfDirs(s, []string{confA, confB}); err != nil {
		t.Fatalf("MergeConfDirs: %v", err)
	}

	link := filepath.Join(localRoot, "conf", "type", "__file")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	wantTarget, _ := filepath.Abs(filepath.Join(confB, "type", "__file"))
	if target != wantTarget {
		t.Errorf("__file symlink points at %q, want last conf-dir %q", target, wantTarget)
	}

	if _, err := os.Lstat(filepath.Join(localRoot, "conf", "type", "__hostname")); err != nil {
		t.Errorf("__hostname symlink from confA missing: %v", err)
	}
}

func TestWriteTypeWrappersExecEmulatorWithTypeName(t *testing.T) {
	localRoot := t.TempDir()
	s := &Session{LocalRoot: localRoot}
	if err := WriteTypeWrappers(s, []string{"__file"}, "/usr/local/bin/cdist-type"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(s.BinDir(), "__file"))
	if err != nil {
		t.Fatal(err)
	}
	want := "#!/bin/sh\nexec \"/usr/local/bin/cdist-type\" \"__file\" \"$@\"\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("wrapper script mismatch (-want +got):\n%s", diff)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

