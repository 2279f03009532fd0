// Package cliutil implements the small amount of flag-parsing logic shared
// between cdist-ng's cobra commands: tag-filter validation for "config" and
// the per-object --if-tag/--not-if-tag check the runtime applies when it
// collects new objects.
package cliutil

import (
	"fmt"
	"strings"

	"github.com/cdist-ng/cdist/internal/cdisterr"
)

// TagFilter is the resolved, comma-expanded --only-tag/--include-tag/
// --exclude-tag state for one "config" invocation.
type TagFilter struct {
	Only    []string
	Include []string
	Exclude []string
}

// SplitCommaTags expands "--flag a,b --flag c" style repeated, comma-joined
// flag values into a flat, deduplicated tag list.
func SplitCommaTags(values []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, v := range values {
		for _, tag := range strings.Split(v, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

// NewTagFilter validates and builds a TagFilter from raw flag values.
// only-tag and include-tag are mutually exclusive; {only,include}-tag must
// be disjoint from exclude-tag.
func NewTagFilter(onlyRaw, includeRaw, excludeRaw []string) (TagFilter, error) {
	only := SplitCommaTags(onlyRaw)
	include := SplitCommaTags(includeRaw)
	exclude := SplitCommaTags(excludeRaw)

	if len(only) > 0 && len(include) > 0 {
		return TagFilter{}, cdisterr.Wrap("cliutil.NewTagFilter", "--only-tag and --include-tag are mutually exclusive")
	}

	excludeSet := map[string]bool{}
	for _, t := range exclude {
		excludeSet[t] = true
	}
	for _, t := range only {
		if excludeSet[t] {
			return TagFilter{}, cdisterr.Wrap("cliutil.NewTagFilter", fmt.Sprintf("tag %q in both --only-tag and --exclude-tag", t))
		}
	}
	for _, t := range include {
		if excludeSet[t] {
			return TagFilter{}, cdisterr.Wrap("cliutil.NewTagFilter", fmt.Sprintf("tag %q in both --include-tag and --exclude-tag", t))
		}
	}

	return TagFilter{Only: only, Include: include, Exclude: exclude}, nil
}

// ActiveTags resolves this filter into the run's active tag set, consulted
// by ObjectTagsAllow against each object's own --if-tag/--not-if-tag
// declarations: --only-tag names the active set exactly, --include-tag adds
// to it, and (Only/Include being validated disjoint from Exclude in
// NewTagFilter) Exclude never needs subtracting back out.
func (f TagFilter) ActiveTags() []string {
	if len(f.Only) > 0 {
		return f.Only
	}
	return f.Include
}

// ObjectTagsAllow evaluates an object's own --if-tag/--not-if-tag
// declarations (distinct from the CLI-level filter above): the object is
// skipped unless every "if" tag and none of the "not-if" tags are present
// in the currently active tag set supplied to the run. An empty active set
// (no --only-tag/--include-tag given) means the run is unrestricted, so
// --if-tag can never be satisfied by it and must not be enforced.
func ObjectTagsAllow(ifTags, notIfTags, active []string) bool {
	if len(active) == 0 {
		return true
	}

	activeSet := map[string]bool{}
	for _, t := range active {
		activeSet[t] = true
	}
	for _, t := range ifTags {
		if !activeSet[t] {
			return false
		}
	}
	for _, t := range notIfTags {
		if activeSet[t] {
			return false
		}
	}
	return true
}
