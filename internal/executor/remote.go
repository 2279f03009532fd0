package executor

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cdist-ng/cdist/internal/cdisterr"
)

// DefaultRemoteCopyCap and DefaultRemoteExecCap are the remote executor's
// default semaphore capacities, sized to a typical sshd MaxSessions 10.
const (
	DefaultRemoteCopyCap = 5
	DefaultRemoteExecCap = 5
)

// Remote runs commands and file operations on a target through the
// operator-supplied exec/copy transport scripts whose paths it is built
// with. cmd/cdist resolves those paths under the session's merged
// conf/transport/<scheme...>/ tree; the per-target transport/ directory is
// not consulted. The core never owns the transport protocol itself.
type Remote struct {
	base
	execScript string
	copyScript string
	shell      string // $CDIST_REMOTE_SHELL, defaulting to /bin/sh
}

// NewRemote builds a Remote executor bound to the transport scripts at
// execScript/copyScript, with the default concurrency bounds.
func NewRemote(execScript, copyScript string) *Remote {
	return NewRemoteWithCaps(execScript, copyScript, DefaultRemoteCopyCap, DefaultRemoteExecCap)
}

// NewRemoteWithCaps builds a Remote executor with explicit semaphore caps.
func NewRemoteWithCaps(execScript, copyScript string, copyCap, execCap int64) *Remote {
	shell := os.Getenv("CDIST_REMOTE_SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Remote{
		base:       newBase(copyCap, execCap),
		execScript: execScript,
		copyScript: copyScript,
		shell:      shell,
	}
}

// Exec invokes the transport's exec script as "<exec-script> K=V... cmd...".
// Any env is linearized as leading KEY=VALUE words since the remote side
// cannot be handed an environment map directly. If shell is true, cmd is
// wrapped as "$CDIST_REMOTE_SHELL -e -c '<cmd>'" before being appended.
func (r *Remote) Exec(ctx context.Context, argv []string, env map[string]string, shell bool, timeout ...time.Duration) (Result, error) {
	if err := r.execSem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer r.execSem.Release(1)

	cmd := argv
	if shell {
		cmd = []string{r.shell, "-e", "-c", joinCommand(argv)}
	}
	args := append(linearizeEnv(env), cmd...)
	return runCommandEnv(ctx, r.execScript, args, nil, nil, firstTimeout(timeout))
}

// CheckCall runs argv remotely and fails with *cdisterr.ExecFailed on a
// nonzero exit.
func (r *Remote) CheckCall(ctx context.Context, argv []string, env map[string]string, shell bool, timeout ...time.Duration) error {
	res, err := r.Exec(ctx, argv, env, shell, timeout...)
	if err != nil {
		return err
	}
	return checkResult(argv, res)
}

// CheckOutput runs argv remotely and returns stdout, failing on a nonzero
// exit.
func (r *Remote) CheckOutput(ctx context.Context, argv []string, env map[string]string, shell bool, timeout ...time.Duration) ([]byte, error) {
	res, err := r.Exec(ctx, argv, env, shell, timeout...)
	if err != nil {
		return nil, err
	}
	if err := checkResult(argv, res); err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// Script returns the argv that runs path as a -e shell script under the
// configured remote shell.
func (r *Remote) Script(path string) []string {
	return []string{r.shell, "-e", path}
}

// Mkdir creates p on the target via "mkdir -p".
func (r *Remote) Mkdir(ctx context.Context, p string) error {
	return r.CheckCall(ctx, []string{"mkdir", "-p", p}, nil, false)
}

// Rmdir removes p on the target via "rm -rf".
func (r *Remote) Rmdir(ctx context.Context, p string) error {
	return r.CheckCall(ctx, []string{"rm", "-rf", p}, nil, false)
}

// Copy invokes the transport's copy script as "<copy-script> SRC DST" under
// the copy semaphore; a nonzero exit is fatal.
func (r *Remote) Copy(ctx context.Context, src, dst string) error {
	if err := r.copySem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.copySem.Release(1)

	res, err := runCommandEnv(ctx, r.copyScript, []string{src, dst}, nil, nil, 0)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &cdisterr.ExecFailed{Command: []string{r.copyScript, src, dst}, ReturnCode: res.ExitCode, Stderr: string(res.Stderr)}
	}
	return nil
}

// Transfer removes dst on the target, then copies src into it: recursively
// (fanned out across the copy semaphore) if src is a local directory, once
// otherwise.
func (r *Remote) Transfer(ctx context.Context, src, dst string) error {
	if err := r.Rmdir(ctx, dst); err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return r.Copy(ctx, src, dst)
	}
	if err := r.Mkdir(ctx, dst); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			return r.Copy(gctx, src+"/"+entry.Name(), dst+"/"+entry.Name())
		})
	}
	return g.Wait()
}
