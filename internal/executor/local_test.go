package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLocalCheckOutput(t *testing.T) {
	l := NewLocalWithCaps(2, 2)
	out, err := l.CheckOutput(context.Background(), []string{"/bin/sh", "-c", "echo hello"}, nil, false)
	if err != nil {
		t.Fatalf("CheckOutput: %v", err)
	}
	if string(out) != "hello\n" {
		t.Errorf("CheckOutput = %q, want \"hello\\n\"", out)
	}
}

func TestLocalCheckCallFailsOnNonzeroExit(t *testing.T) {
	l := NewLocalWithCaps(2, 2)
	err := l.CheckCall(context.Background(), []string{"/bin/sh", "-c", "exit 1"}, nil, false)
	if err == nil {
		t.Fatal("CheckCall should fail on a nonzero exit")
	}
}

func TestLocalExecOverlaysEnv(t *testing.T) {
	l := NewLocalWithCaps(2, 2)
	res, err := l.Exec(context.Background(), []string{"/bin/sh", "-c", "echo $FOO"}, map[string]string{"FOO": "bar"}, false, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if string(res.Stdout) != "bar\n" {
		t.Errorf("Stdout = %q, want \"bar\\n\"", res.Stdout)
	}
}

func TestLocalCopyFile(t *testing.T) {
	l := NewLocalWithCaps(2, 2)
	src := filepath.Join(t.TempDir(), "src")
	if err := os.WriteFile(src, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(t.TempDir(), "dst")
	if err := l.Copy(context.Background(), src, dst); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "content" {
		t.Errorf("copied content = %q, want content", got)
	}
}

func TestLocalTransferDirectoryFansOutAllChildren(t *testing.T) {
	l := NewLocalWithCaps(4, 4)
	src := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	dst := filepath.Join(t.TempDir(), "out")

	if err := l.Transfer(context.Background(), src, dst); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, names); diff != "" {
		t.Errorf("Transfer output mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalExecRespectsExecCap(t *testing.T) {
	const execCap = 2
	const runs = 6
	l := NewLocalWithCaps(execCap, execCap)

	// Each child appends "+" when it starts and "-" just before it exits, so
	// the log records how many children were alive at once.
	logPath := filepath.Join(t.TempDir(), "live")
	script := "echo + >> " + logPath + "; sleep 0.05; echo - >> " + logPath
	done := make(chan struct{})
	for i := 0; i < runs; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = l.Exec(context.Background(), []string{"/bin/sh", "-c", script}, nil, false, nil)
		}()
	}
	for i := 0; i < runs; i++ {
		<-done
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	var current, peak int64
	for _, c := range data {
		switch c {
		case '+':
			current++
			if current > peak {
				peak = current
			}
		case '-':
			current--
		}
	}
	if peak == 0 {
		t.Fatalf("no child recorded its start in %q", data)
	}
	if got := peak; got > execCap {
		t.Errorf("peak concurrent execs = %d, want <= %d (exec semaphore did not bound concurrency)", got, execCap)
	}
}

func TestLocalTransferReplacesExistingDst(t *testing.T) {
	l := NewLocalWithCaps(2, 2)
	src := filepath.Join(t.TempDir(), "src")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(t.TempDir(), "dst")
	if err := os.WriteFile(dst, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Transfer(context.Background(), src, dst); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("dst content = %q, want new", got)
	}
}
