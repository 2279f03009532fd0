// Package cconfig is cdist-ng's replacement for the original implementation's
// "cconfig" convention of mapping ad-hoc Python dicts onto directory trees.
//
// Design note (spec): duck-typed schema over JSON directories is replaced
// here with explicit, named helpers per attribute kind - scalar, list,
// mapping, listdir, and symlink-map - so that Target/Type/Object/Session can
// reflect themselves into a structured value instead of walking an untyped
// tree. Symlink-map semantics (every entry is a symlink to an absolute
// source path) are preserved because merged conf-dirs rely on it.
package cconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WriteScalar stores value as the entire contents of dir/name.
func WriteScalar(dir, name, value string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(value), 0o644)
}

// ReadScalar reads dir/name, returning "" if it does not exist.
func ReadScalar(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteList stores values as newline-separated lines in dir/name.
func WriteList(dir, name string, values []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(values, "\n")), 0o644)
}

// ReadList reads newline-separated entries from dir/name, skipping blank
// lines. A missing file reads back as an empty, non-nil slice.
func ReadList(dir, name string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		values = append(values, line)
	}
	return values, scanner.Err()
}

// WriteMapping stores values as one file per key under dir/name/.
func WriteMapping(dir, name string, values map[string]string) error {
	sub := filepath.Join(dir, name)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return err
	}
	for key, value := range values {
		if err := os.WriteFile(filepath.Join(sub, key), []byte(value), 0o644); err != nil {
			return fmt.Errorf("cconfig: write mapping %s/%s: %w", name, key, err)
		}
	}
	return nil
}

// ReadMapping reads dir/name/ as a key->file-contents mapping. A missing
// directory reads back as an empty, non-nil map.
func ReadMapping(dir, name string) (map[string]string, error) {
	sub := filepath.Join(dir, name)
	entries, err := os.ReadDir(sub)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sub, entry.Name()))
		if err != nil {
			return nil, err
		}
		values[entry.Name()] = string(data)
	}
	return values, nil
}

// ReadListDir lists the immediate entry names under dir/name, sorted. Used
// for types whose explorer list is simply "whatever files exist here".
func ReadListDir(dir, name string) ([]string, error) {
	sub := filepath.Join(dir, name)
	entries, err := os.ReadDir(sub)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// WriteSymlinkMap materializes values (entry name -> absolute source path)
// as symlinks under dir/name/. Existing symlinks at the same entry name are
// replaced; this is how merged conf-dirs are realized on disk.
func WriteSymlinkMap(dir, name string, values map[string]string) error {
	sub := filepath.Join(dir, name)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return err
	}
	for entry, source := range values {
		link := filepath.Join(sub, entry)
		if _, err := os.Lstat(link); err == nil {
			if err := os.Remove(link); err != nil {
				return err
			}
		}
		if err := os.Symlink(source, link); err != nil {
			return fmt.Errorf("cconfig: symlink %s -> %s: %w", link, source, err)
		}
	}
	return nil
}

// ReadSymlinkMap reads dir/name/ back into an entry-name -> absolute-target
// mapping, resolving each symlink with os.Readlink.
func ReadSymlinkMap(dir, name string) (map[string]string, error) {
	sub := filepath.Join(dir, name)
	entries, err := os.ReadDir(sub)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		link := filepath.Join(sub, entry.Name())
		target, err := os.Readlink(link)
		if err != nil {
			continue
		}
		values[entry.Name()] = target
	}
	return values, nil
}
