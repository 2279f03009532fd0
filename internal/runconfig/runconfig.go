// Package runconfig centralizes the tunables the spec allows operators to
// override via environment variables: executor concurrency caps and the
// shells used to wrap local/remote script execution.
package runconfig

import (
	"os"
	"strconv"
)

// Config holds one run's resolved tunables.
type Config struct {
	LocalCopyCap  int64
	LocalExecCap  int64
	RemoteCopyCap int64
	RemoteExecCap int64
	LocalShell    string
	RemoteShell   string
}

// FromEnv resolves a Config from the process environment, falling back to
// the spec's defaults (Local 20/20, Remote 5/5, /bin/sh) for anything unset.
func FromEnv() Config {
	return Config{
		LocalCopyCap:  envInt64("CDIST_LOCAL_COPY_CAP", 20),
		LocalExecCap:  envInt64("CDIST_LOCAL_EXEC_CAP", 20),
		RemoteCopyCap: envInt64("CDIST_REMOTE_COPY_CAP", 5),
		RemoteExecCap: envInt64("CDIST_REMOTE_EXEC_CAP", 5),
		LocalShell:    envString("CDIST_LOCAL_SHELL", "/bin/sh"),
		RemoteShell:   envString("CDIST_REMOTE_SHELL", "/bin/sh"),
	}
}

func envInt64(name string, def int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envString(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
