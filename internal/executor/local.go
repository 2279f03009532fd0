package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultLocalCopyCap and DefaultLocalExecCap are the local executor's
// default semaphore capacities.
const (
	DefaultLocalCopyCap = 20
	DefaultLocalExecCap = 20
)

// Local runs commands and file operations on this host.
type Local struct {
	base
	shell string // $CDIST_LOCAL_SHELL, defaulting to /bin/sh
}

// NewLocal builds a Local executor with the default concurrency bounds.
func NewLocal() *Local {
	return NewLocalWithCaps(DefaultLocalCopyCap, DefaultLocalExecCap)
}

// NewLocalWithCaps builds a Local executor with explicit semaphore caps.
func NewLocalWithCaps(copyCap, execCap int64) *Local {
	shell := os.Getenv("CDIST_LOCAL_SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Local{base: newBase(copyCap, execCap), shell: shell}
}

// Exec runs argv (or, if shell is true, the words of argv joined into one
// command string run as "$CDIST_LOCAL_SHELL -e -c '<cmd>'") under the exec
// semaphore, overlaying env on top of the inherited process
// environment. An optional timeout kills the child and fails with
// *cdisterr.TimeoutExpired on expiry.
func (l *Local) Exec(ctx context.Context, argv []string, env map[string]string, shell bool, stdin []byte, timeout ...time.Duration) (Result, error) {
	if err := l.execSem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer l.execSem.Release(1)

	name, args := l.commandLine(argv, shell)
	return runCommandEnv(ctx, name, args, append(os.Environ(), linearizeEnv(env)...), stdin, firstTimeout(timeout))
}

func (l *Local) commandLine(argv []string, shell bool) (string, []string) {
	if !shell {
		return argv[0], argv[1:]
	}
	return l.shell, append([]string{"-e", "-c"}, joinCommand(argv))
}

func joinCommand(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

// CheckCall runs argv and fails with *cdisterr.ExecFailed on a nonzero exit.
func (l *Local) CheckCall(ctx context.Context, argv []string, env map[string]string, shell bool, timeout ...time.Duration) error {
	res, err := l.Exec(ctx, argv, env, shell, nil, timeout...)
	if err != nil {
		return err
	}
	return checkResult(argv, res)
}

// CheckOutput runs argv and returns stdout, failing on a nonzero exit.
func (l *Local) CheckOutput(ctx context.Context, argv []string, env map[string]string, shell bool, timeout ...time.Duration) ([]byte, error) {
	res, err := l.Exec(ctx, argv, env, shell, nil, timeout...)
	if err != nil {
		return nil, err
	}
	if err := checkResult(argv, res); err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// Script returns the argv that runs path as a -e shell script under the
// configured local shell.
func (l *Local) Script(path string) []string {
	return []string{l.shell, "-e", path}
}

// Mkdir creates p (and parents) natively.
func (l *Local) Mkdir(p string) error {
	return os.MkdirAll(p, 0o755)
}

// Rmdir removes p recursively.
func (l *Local) Rmdir(p string) error {
	return os.RemoveAll(p)
}

// Copy copies src to dst under the copy semaphore.
func (l *Local) Copy(ctx context.Context, src, dst string) error {
	if err := l.copySem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.copySem.Release(1)
	return copyPath(src, dst)
}

// Transfer removes dst, then copies src into it: recursively (fanned out
// across the copy semaphore) if src is a directory, once otherwise.
func (l *Local) Transfer(ctx context.Context, src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return l.Copy(ctx, src, dst)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
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
			return l.Copy(gctx, filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name()))
		})
	}
	return g.Wait()
}

func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyDir(src, dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyPath(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
