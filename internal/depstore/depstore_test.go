package depstore

import (
	"errors"
	"testing"

	"github.com/cdist-ng/cdist/internal/cdisterr"
)

func TestRequireAfterBeforeAuto(t *testing.T) {
	s := New(t.TempDir())

	if err := s.Require("__file/b", "__file/a"); err != nil {
		t.Fatal(err)
	}
	if err := s.After("__file/c", "__file/b"); err != nil {
		t.Fatal(err)
	}
	// Before(me, other) canonicalizes into other's After.
	if err := s.Before("__file/d", "__file/c"); err != nil {
		t.Fatal(err)
	}
	if err := s.Auto("__file/b", "__file/b-child"); err != nil {
		t.Fatal(err)
	}

	recB, err := s.Load("__file/b")
	if err != nil {
		t.Fatal(err)
	}
	if len(recB.Require) != 1 || recB.Require[0] != "__file/a" {
		t.Errorf("b.Require = %v, want [__file/a]", recB.Require)
	}
	if len(recB.Auto) != 1 || recB.Auto[0] != "__file/b-child" {
		t.Errorf("b.Auto = %v, want [__file/b-child]", recB.Auto)
	}

	recC, err := s.Load("__file/c")
	if err != nil {
		t.Fatal(err)
	}
	// c got "b" from After, plus "d" via Before(d, c) -> After(c, d).
	if !containsStr(recC.After, "__file/b") {
		t.Errorf("c.After = %v, want to contain __file/b", recC.After)
	}
	if !containsStr(recC.After, "__file/d") {
		t.Errorf("c.After = %v, want to contain __file/d (from Before)", recC.After)
	}
}

func TestRequireIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Require("__file/b", "__file/a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Require("__file/b", "__file/a"); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Load("__file/b")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Require) != 1 {
		t.Errorf("Require appended a duplicate: %v", rec.Require)
	}
}

func TestLoadOfUnknownObjectIsZeroRecord(t *testing.T) {
	s := New(t.TempDir())
	rec, err := s.Load("__file/never-written")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Object != "__file/never-written" {
		t.Errorf("Object = %q, want __file/never-written", rec.Object)
	}
	if len(rec.Require) != 0 {
		t.Errorf("Require = %v, want empty", rec.Require)
	}
}

func TestResolveExpandsGlobPatterns(t *testing.T) {
	rec := Record{
		Object:  "__file/b",
		Require: []string{"__package/*"},
		After:   []string{"__file/a"},
	}
	known := []string{"__package/vim", "__package/git", "__file/a"}

	resolved, after, err := Resolve(rec, known)
	if err != nil {
		t.Fatal(err)
	}
	if !containsStr(resolved, "__package/vim") || !containsStr(resolved, "__package/git") {
		t.Errorf("resolved = %v, want both packages matched by the glob", resolved)
	}
	if !containsStr(after, "__file/a") {
		t.Errorf("after = %v, want __file/a", after)
	}
}

func TestResolveUnmatchedPatternIsRequirementNotFound(t *testing.T) {
	rec := Record{Object: "__file/b", Require: []string{"__package/nonexistent"}}
	_, _, err := Resolve(rec, []string{"__file/a"})
	var notFound *cdisterr.RequirementNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("Resolve error = %v, want *cdisterr.RequirementNotFound", err)
	}
	if notFound.Pattern != "__package/nonexistent" {
		t.Errorf("Pattern = %q, want __package/nonexistent", notFound.Pattern)
	}
}

func containsStr(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
