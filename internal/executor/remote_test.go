package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// writeScript writes an executable shell script at path, standing in for an
// operator-supplied transport/<scheme>/{exec,copy} script.
func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestRemoteExecLinearizesEnvAsLeadingWords(t *testing.T) {
	dir := t.TempDir()
	execScript := filepath.Join(dir, "exec")
	// A fake transport's exec script: print every leading KEY=VALUE word,
	// then run the remaining argv as a local command, mirroring what a real
	// SSH transport would do on the target.
	writeScript(t, execScript, `
for a in "$@"; do
  case "$a" in
    *=*) echo "env:$a" ;;
    *) break ;;
  esac
  shift
done
exec "$@"
`)
	copyScript := filepath.Join(dir, "copy")
	writeScript(t, copyScript, "exit 0\n")

	r := NewRemoteWithCaps(execScript, copyScript, 2, 2)
	res, err := r.Exec(context.Background(), []string{"echo", "hi"}, map[string]string{"FOO": "bar"}, false)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if string(res.Stdout) != "env:FOO=bar\nhi\n" {
		t.Errorf("Stdout = %q, want env:FOO=bar then hi", res.Stdout)
	}
}

func TestRemoteCheckCallFailsOnNonzeroExit(t *testing.T) {
	dir := t.TempDir()
	execScript := filepath.Join(dir, "exec")
	writeScript(t, execScript, "exit 7\n")
	copyScript := filepath.Join(dir, "copy")
	writeScript(t, copyScript, "exit 0\n")

	r := NewRemoteWithCaps(execScript, copyScript, 2, 2)
	err := r.CheckCall(context.Background(), []string{"whatever"}, nil, false)
	if err == nil {
		t.Fatal("CheckCall should fail when the exec script exits nonzero")
	}
}

func TestRemoteCopyInvokesCopyScriptWithSrcDst(t *testing.T) {
	dir := t.TempDir()
	execScript := filepath.Join(dir, "exec")
	writeScript(t, execScript, "exit 0\n")
	copyScript := filepath.Join(dir, "copy")
	marker := filepath.Join(dir, "invoked")
	writeScript(t, copyScript, `echo "$1 -> $2" > `+marker+`
exit 0
`)

	r := NewRemoteWithCaps(execScript, copyScript, 2, 2)
	if err := r.Copy(context.Background(), "/local/src", "/remote/dst"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	got, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	want := "/local/src -> /remote/dst\n"
	if string(got) != want {
		t.Errorf("copy script saw %q, want %q", got, want)
	}
}

func TestRemoteScriptWrapsPathUnderShell(t *testing.T) {
	r := NewRemoteWithCaps("exec", "copy", 1, 1)
	got := r.Script("/session/manifest/init")
	want := []string{r.shell, "-e", "/session/manifest/init"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("Script() = %v, want %v", got, want)
	}
}
