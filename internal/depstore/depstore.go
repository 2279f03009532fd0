// Package depstore implements cdist-ng's dependency store: a per-object
// record of require/after/before/auto edges, persisted as one JSON file per
// object keyed by an MD5 hash of its canonical name. Grounded on the
// dependency-recording half of the original implementation's core.py
// CdistObject, reworked per the spec's concurrency-safety redesign note: the
// source's naive read-modify-write-over-the-same-path is replaced with a
// tempfile-then-rename so concurrent emulator fan-out cannot race a save.
package depstore

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/cdist-ng/cdist/internal/cdisterr"
)

// Record is one object's dependency edges. Every field is a list of object-
// name patterns (literal names or shell-glob patterns), never object
// references, per the spec's decision to keep the graph decoupled from
// identity (Open Question (a)).
type Record struct {
	Object  string   `json:"object"`
	Require []string `json:"require"`
	After   []string `json:"after"`
	Before  []string `json:"before"`
	Auto    []string `json:"auto"`
}

// Store is the dependency manager for one target: a directory of per-object
// JSON records. It never caches in memory — every access re-reads its
// record file, because the store is written concurrently by the runtime
// fiber and by emulator sub-processes spawned from manifests (§5 of the
// spec this is grounded on).
type Store struct {
	dir string
}

// New returns a dependency store rooted at dir (a target's dependency/
// directory).
func New(dir string) *Store {
	return &Store{dir: dir}
}

func keyFor(objectName string) string {
	sum := md5.Sum([]byte(objectName))
	return hex.EncodeToString(sum[:])
}

func (s *Store) pathFor(objectName string) string {
	return filepath.Join(s.dir, keyFor(objectName))
}

// Load returns the record for objectName, or a zero-valued record naming it
// if no record exists yet.
func (s *Store) Load(objectName string) (Record, error) {
	data, err := os.ReadFile(s.pathFor(objectName))
	if os.IsNotExist(err) {
		return Record{Object: objectName, Require: []string{}, After: []string{}, Before: []string{}, Auto: []string{}}, nil
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("depstore: corrupt record for %q: %w", objectName, err)
	}
	return rec, nil
}

// save atomically replaces the record file via tempfile-then-rename, so a
// reader never observes a partially written record.
func (s *Store) save(rec Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.pathFor(rec.Object))
}

// mutate loads, applies fn, and saves back a record — the store's only
// write path, so every edge edit is a single atomic load-modify-save.
func (s *Store) mutate(objectName string, fn func(*Record)) error {
	rec, err := s.Load(objectName)
	if err != nil {
		return err
	}
	fn(&rec)
	return s.save(rec)
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

// Require records a hard dependency: other must be fully applied before me
// may even prepare.
func (s *Store) Require(me, other string) error {
	return s.mutate(me, func(rec *Record) {
		rec.Require = appendUnique(rec.Require, other)
	})
}

// After records a soft dependency: me may prepare freely but must apply
// after other.
func (s *Store) After(me, other string) error {
	return s.mutate(me, func(rec *Record) {
		rec.After = appendUnique(rec.After, other)
	})
}

// Before canonicalizes the inverse of After directly into other's After
// list, per the spec's Open Question (b) decision: before is never stored
// on its own object, only rewritten into the successor's after.
func (s *Store) Before(me, other string) error {
	return s.After(other, me)
}

// Auto records a parent/child edge created by a type manifest spawning
// further objects.
func (s *Store) Auto(parent, child string) error {
	return s.mutate(parent, func(rec *Record) {
		rec.Auto = appendUnique(rec.Auto, child)
	})
}

// Resolve expands a record's require/after/auto patterns against the
// current set of known object names, returning the fully resolved
// dependency set plus the after set needed for auto-propagation. Each
// pattern is matched with shell-glob semantics (path.Match); a pattern
// matching nothing is a fatal RequirementNotFound.
func Resolve(rec Record, known []string) (resolved, after []string, err error) {
	resolvedSet := map[string]bool{}
	afterSet := map[string]bool{}

	expand := func(patterns []string, into map[string]bool) error {
		for _, pattern := range patterns {
			matched := false
			for _, name := range known {
				ok, err := path.Match(pattern, name)
				if err != nil {
					return fmt.Errorf("depstore: bad pattern %q: %w", pattern, err)
				}
				if ok {
					matched = true
					into[name] = true
					resolvedSet[name] = true
				}
			}
			if !matched {
				return &cdisterr.RequirementNotFound{Pattern: pattern}
			}
		}
		return nil
	}

	if err := expand(rec.Require, resolvedSet); err != nil {
		return nil, nil, err
	}
	if err := expand(rec.After, afterSet); err != nil {
		return nil, nil, err
	}
	if err := expand(rec.Auto, resolvedSet); err != nil {
		return nil, nil, err
	}

	resolved = setToSlice(resolvedSet)
	after = setToSlice(afterSet)
	return resolved, after, nil
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
