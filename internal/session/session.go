// Package session computes the local and remote rooted directory trees a
// cdist-ng run operates under, and materializes the conf-dir merge (every
// configuration directory's explorer/manifest/type/file/transport trees
// symlinked into one session tree). Grounded on the path-layout half of the
// original implementation's config.py (session id, LOCAL/REMOTE_BASE_PATH
// layout) and on the teacher's registry.go pattern of a small struct that
// owns path-construction helpers rather than scattering filepath.Join calls
// through callers.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cdist-ng/cdist/internal/cconfig"
)

// Session describes one run's local session directory and the remote
// session directory it will create on each target.
type Session struct {
	ID         string
	LocalRoot  string
	RemoteRoot string
}

// New builds a Session rooted at localRoot (typically a fresh temp
// directory), with a session id of the form
// YYYY-MM-DD-HH:MM:SS-<fqdn>-<pid>, and the conventional remote default
// of /var/cache/cdist/<session-id>.
func New(localRoot string, now time.Time, fqdn string) *Session {
	id := fmt.Sprintf("%s-%s-%d", now.Format("2006-01-02-15:04:05"), fqdn, os.Getpid())
	return &Session{
		ID:         id,
		LocalRoot:  localRoot,
		RemoteRoot: filepath.Join("/var/cache/cdist", id),
	}
}

// BinDir is session/bin.
func (s *Session) BinDir() string { return filepath.Join(s.LocalRoot, "bin") }

// ConfDir is session/conf/<kind> for kind in
// {explorer,manifest,type,file,transport}.
func (s *Session) ConfDir(kind string) string { return filepath.Join(s.LocalRoot, "conf", kind) }

// ManifestPath is session/manifest, the initial manifest script.
func (s *Session) ManifestPath() string { return filepath.Join(s.LocalRoot, "manifest") }

// TargetDir is session/targets/<id>.
func (s *Session) TargetDir(targetID string) string {
	return filepath.Join(s.LocalRoot, "targets", targetID)
}

// ObjectDir is the object/ subtree for targetID.
func (s *Session) ObjectDir(targetID string) string {
	return filepath.Join(s.TargetDir(targetID), "object")
}

// ExplorerDir is the explorer/ subtree for targetID (captured target.explorer
// overflow, distinct from conf/explorer which holds the scripts themselves).
func (s *Session) ExplorerDir(targetID string) string {
	return filepath.Join(s.TargetDir(targetID), "explorer")
}

// MessagesDir is the messages/ subtree for targetID.
func (s *Session) MessagesDir(targetID string) string {
	return filepath.Join(s.TargetDir(targetID), "messages")
}

// DependencyDir is the dependency/ subtree for targetID (JSON records named
// by md5 of object-name).
func (s *Session) DependencyDir(targetID string) string {
	return filepath.Join(s.TargetDir(targetID), "dependency")
}

// TransportDir is the transport/ subtree path for targetID. Nothing in this
// module populates it or resolves exec/copy scripts from it; cmd/cdist
// looks transport scripts up under ConfDir("transport") instead.
func (s *Session) TransportDir(targetID string) string {
	return filepath.Join(s.TargetDir(targetID), "transport")
}

// RemoteConfDir is <remote-session>/conf/<kind>, for kind in
// {explorer,type} — the subset mirrored to the target.
func (s *Session) RemoteConfDir(kind string) string {
	return filepath.Join(s.RemoteRoot, "conf", kind)
}

// RemoteObjectDir is <remote-session>/object.
func (s *Session) RemoteObjectDir() string {
	return filepath.Join(s.RemoteRoot, "object")
}

// MergeConfDirs symlinks every entry of each conf-dir's explorer, manifest,
// type, file, and transport trees into the session's conf/ tree, the same
// "last one wins, everything else a symlink to its real source" convention
// the spec's cconfig redesign note preserves from the original.
func MergeConfDirs(s *Session, confDirs []string) error {
	for _, kind := range []string{"explorer", "manifest", "type", "file", "transport"} {
		links := map[string]string{}
		for _, confDir := range confDirs {
			sub := filepath.Join(confDir, kind)
			entries, err := os.ReadDir(sub)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return err
			}
			for _, entry := range entries {
				abs, err := filepath.Abs(filepath.Join(sub, entry.Name()))
				if err != nil {
					return err
				}
				links[entry.Name()] = abs
			}
		}
		if len(links) == 0 {
			continue
		}
		if err := cconfig.WriteSymlinkMap(s.LocalRoot, filepath.Join("conf", kind), links); err != nil {
			return err
		}
	}
	return nil
}

// WriteTypeWrappers writes one small shell wrapper per type name into
// session/bin/, each execing emulatorPath with the type name as its first
// argument. This is how a manifest's bare "__hostname --foo bar" resolves
// via PATH=session/bin:... to the single cdist-type emulator binary: the
// wrapper supplies the type name the emulator's first positional argument
// expects, the same indirection the original implementation gets for free
// from argv[0] under Python's symlink-and-basename trick.
func WriteTypeWrappers(s *Session, typeNames []string, emulatorPath string) error {
	bin := s.BinDir()
	if err := os.MkdirAll(bin, 0o755); err != nil {
		return err
	}
	for _, name := range typeNames {
		script := fmt.Sprintf("#!/bin/sh\nexec %q %q \"$@\"\n", emulatorPath, name)
		path := filepath.Join(bin, name)
		if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
			return err
		}
	}
	return nil
}
