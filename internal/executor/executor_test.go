package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cdist-ng/cdist/internal/cdisterr"
)

func TestLinearizeEnvIsSortedAndFormatted(t *testing.T) {
	got := linearizeEnv(map[string]string{"ZETA": "1", "alpha": "2", "Mid": "3"})
	want := []string{"Mid=3", "ZETA=1", "alpha=2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("linearizeEnv mismatch (-want +got):\n%s", diff)
	}
}

func TestLinearizeEnvEmpty(t *testing.T) {
	got := linearizeEnv(nil)
	if len(got) != 0 {
		t.Errorf("linearizeEnv(nil) = %v, want empty", got)
	}
}

func TestFirstTimeout(t *testing.T) {
	if got := firstTimeout(nil); got != 0 {
		t.Errorf("firstTimeout(nil) = %v, want 0", got)
	}
	if got := firstTimeout([]time.Duration{5 * time.Second}); got != 5*time.Second {
		t.Errorf("firstTimeout = %v, want 5s", got)
	}
}

func TestRunCommandEnvCapturesOutputAndExitCode(t *testing.T) {
	res, err := runCommandEnv(context.Background(), "/bin/sh", []string{"-c", "echo out; echo err >&2; exit 3"}, nil, nil, 0)
	if err != nil {
		t.Fatalf("runCommandEnv: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if string(res.Stdout) != "out\n" {
		t.Errorf("Stdout = %q, want \"out\\n\"", res.Stdout)
	}
	if string(res.Stderr) != "err\n" {
		t.Errorf("Stderr = %q, want \"err\\n\"", res.Stderr)
	}
}

func TestRunCommandEnvTimeoutExpired(t *testing.T) {
	_, err := runCommandEnv(context.Background(), "/bin/sh", []string{"-c", "echo partial; sleep 2"}, nil, nil, 20*time.Millisecond)
	var timeout *cdisterr.TimeoutExpired
	if !errors.As(err, &timeout) {
		t.Fatalf("runCommandEnv error = %v, want *cdisterr.TimeoutExpired", err)
	}
}

func TestCheckResultNonzeroIsExecFailed(t *testing.T) {
	err := checkResult([]string{"false"}, Result{ExitCode: 1, Stderr: []byte("boom")})
	var failed *cdisterr.ExecFailed
	if !errors.As(err, &failed) {
		t.Fatalf("checkResult error = %v, want *cdisterr.ExecFailed", err)
	}
	if failed.ReturnCode != 1 || failed.Stderr != "boom" {
		t.Errorf("ExecFailed = %+v, want ReturnCode 1, Stderr boom", failed)
	}
}

func TestCheckResultZeroIsNil(t *testing.T) {
	if err := checkResult([]string{"true"}, Result{ExitCode: 0}); err != nil {
		t.Errorf("checkResult = %v, want nil", err)
	}
}
