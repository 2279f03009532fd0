package typedef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cdist-ng/cdist/internal/cconfig"
)

func writeType(t *testing.T, confTypeDir, name string) string {
	t.Helper()
	dir := filepath.Join(confTypeDir, name)
	if err := os.MkdirAll(filepath.Join(dir, "explorer"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "explorer", "os"), []byte("#!/bin/sh\necho linux\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := cconfig.WriteList(filepath.Join(dir, "parameter"), "required", []string{"state"}); err != nil {
		t.Fatal(err)
	}
	if err := cconfig.WriteList(filepath.Join(dir, "parameter"), "optional", []string{"owner"}); err != nil {
		t.Fatal(err)
	}
	if err := cconfig.WriteList(filepath.Join(dir, "parameter"), "boolean", []string{"force"}); err != nil {
		t.Fatal(err)
	}
	if err := cconfig.WriteMapping(filepath.Join(dir, "parameter"), "default", map[string]string{"owner": "root"}); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadPopulatesParameterSchema(t *testing.T) {
	confTypeDir := t.TempDir()
	writeType(t, confTypeDir, "__file")

	typ, err := Load(confTypeDir, "__file")
	if err != nil {
		t.Fatal(err)
	}
	if typ.Name != "__file" {
		t.Errorf("Name = %q, want __file", typ.Name)
	}
	if typ.Singleton {
		t.Error("Singleton = true, want false (no singleton marker written)")
	}
	if diff := cmp.Diff([]string{"os"}, typ.Explorers); diff != "" {
		t.Errorf("Explorers mismatch (-want +got):\n%s", diff)
	}
	if !typ.Parameter.IsRequired("state") {
		t.Error("state should be required")
	}
	if !typ.Parameter.IsBoolean("force") {
		t.Error("force should be boolean")
	}
	if typ.Parameter.Default["owner"] != "root" {
		t.Errorf("default owner = %q, want root", typ.Parameter.Default["owner"])
	}
	if !typ.Parameter.IsKnown("owner") || typ.Parameter.IsKnown("bogus") {
		t.Error("IsKnown did not distinguish declared from undeclared parameters")
	}
}

func TestLoadDetectsSingletonMarker(t *testing.T) {
	confTypeDir := t.TempDir()
	dir := writeType(t, confTypeDir, "__hostname")
	if err := os.WriteFile(filepath.Join(dir, "singleton"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	typ, err := Load(confTypeDir, "__hostname")
	if err != nil {
		t.Fatal(err)
	}
	if !typ.Singleton {
		t.Error("Singleton = false, want true")
	}
}

func TestHasManifestAndHasGencode(t *testing.T) {
	confTypeDir := t.TempDir()
	dir := writeType(t, confTypeDir, "__file")
	if err := os.WriteFile(filepath.Join(dir, "gencode-remote"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	typ, err := Load(confTypeDir, "__file")
	if err != nil {
		t.Fatal(err)
	}
	if typ.HasManifest() {
		t.Error("HasManifest = true, no manifest file was written")
	}
	if !typ.HasGencode("remote") {
		t.Error("HasGencode(remote) = false, want true")
	}
	if typ.HasGencode("local") {
		t.Error("HasGencode(local) = true, no gencode-local was written")
	}
}

func TestParameterSchemaNamesOrder(t *testing.T) {
	s := ParameterSchema{
		Required:         []string{"state"},
		RequiredMultiple: []string{"line"},
		Optional:         []string{"owner"},
		OptionalMultiple: []string{"tag"},
	}
	want := []string{"state", "line", "owner", "tag"}
	if diff := cmp.Diff(want, s.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}
