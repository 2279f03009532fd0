// Package clog configures the structured logger shared by every cdist-ng
// entry point, grounded on the teacher's go-hclog usage pattern and adapted
// to this tool's env-var convention (CDIST_LOGLEVEL) instead of a config
// struct.
package clog

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// New returns a logger named name, level sourced from CDIST_LOGLEVEL
// (default INFO), writing to stderr so stdout stays free for explore's
// captured output.
func New(name string) hclog.Logger {
	level := hclog.LevelFromString(os.Getenv("CDIST_LOGLEVEL"))
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          os.Stderr,
		IncludeLocation: level <= hclog.Debug,
	})
}
