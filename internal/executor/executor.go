// Package executor implements cdist-ng's local/remote subprocess executor:
// exec/copy/transfer operations bounded by per-executor semaphores, grounded
// on the process-invocation half of the original implementation's
// exec.py/remote.py/local.py, and on the Session.Run shape kept from the
// teacher's decorator.LocalSession — os/exec, buffered stdout/stderr,
// exit-code extraction.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cdist-ng/cdist/internal/cdisterr"
)

// Result is the captured outcome of a subprocess invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// base holds the two semaphores every executor owns: one bounding
// concurrent file copies, one bounding concurrent command executions. Every
// exec/check_output/copy acquires its permit for the full lifetime of the
// child process, which is the backpressure that keeps the scheduler from
// exceeding remote transport limits.
type base struct {
	copySem *semaphore.Weighted
	execSem *semaphore.Weighted
}

func newBase(copyCap, execCap int64) base {
	return base{
		copySem: semaphore.NewWeighted(copyCap),
		execSem: semaphore.NewWeighted(execCap),
	}
}

// linearizeEnv turns a KEY=VALUE map into sorted "KEY=VALUE" words, the form
// both the local shell wrapper and remote transport exec scripts expect
// since a remote shell cannot be handed an environment map directly.
func linearizeEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	words := make([]string, 0, len(keys))
	for _, k := range keys {
		words = append(words, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return words
}

// firstTimeout returns the first element of timeout, or 0 (no deadline) if
// none was given; any further elements are ignored. Exec/CheckCall/CheckOutput accept timeout as
// a trailing variadic so existing call sites that never pass one are
// unaffected.
func firstTimeout(timeout []time.Duration) time.Duration {
	if len(timeout) == 0 {
		return 0
	}
	return timeout[0]
}

// runCommandEnv runs name with args under the given environment, returning a
// Result that never errors on a nonzero exit — callers decide whether that's
// fatal (check_call/check_output semantics live one layer up). A nil env
// makes the child inherit this process's environment (the os/exec default);
// Remote passes nil and hands the remote variables to the transport script
// as leading KEY=VALUE words instead. If timeout is nonzero and the deadline
// passes, the child is killed and a *cdisterr.TimeoutExpired carrying
// whatever stdout had already been captured is returned.
func runCommandEnv(ctx context.Context, name string, args []string, env []string, stdin []byte, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Result{}, &cdisterr.TimeoutExpired{Command: append([]string{name}, args...), Partial: stdout.Bytes()}
	}
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("executor: run %s: %w", name, err)
		}
	}
	return Result{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// checkResult turns a nonzero exit into an *cdisterr.ExecFailed carrying the
// captured stderr, the uniform fatal-failure shape used by both executors.
func checkResult(argv []string, res Result) error {
	if res.ExitCode != 0 {
		return &cdisterr.ExecFailed{Command: argv, ReturnCode: res.ExitCode, Stderr: string(res.Stderr)}
	}
	return nil
}
