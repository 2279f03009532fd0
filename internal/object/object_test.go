package object

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cdist-ng/cdist/internal/typedef"
)

func TestNewIsCreatedWithCanonicalName(t *testing.T) {
	o := New("__file", "etc/hosts")
	if o.State != StateCreated {
		t.Errorf("State = %q, want %q", o.State, StateCreated)
	}
	if got := o.Name(); got != "__file/etc/hosts" {
		t.Errorf("Name() = %q, want __file/etc/hosts", got)
	}
}

func TestNewSingletonName(t *testing.T) {
	o := New("__hostname", "")
	if got := o.Name(); got != "__hostname" {
		t.Errorf("Name() = %q, want __hostname", got)
	}
}

func TestParamsEqualIgnoresMapOrder(t *testing.T) {
	a := NewParams()
	a.Scalar["owner"] = "root"
	a.Multiple["line"] = []string{"x", "y"}
	a.Boolean["force"] = true

	b := NewParams()
	b.Scalar["owner"] = "root"
	b.Multiple["line"] = []string{"y", "x"}
	b.Boolean["force"] = true

	if !a.Equal(b) {
		t.Error("Equal should be insensitive to multiple-value order")
	}

	c := NewParams()
	c.Scalar["owner"] = "nobody"
	if a.Equal(c) {
		t.Error("Equal should detect a differing scalar value")
	}
}

func TestToDirFromDirRoundTrip(t *testing.T) {
	typ := &typedef.Type{
		Name: "__file",
		Parameter: typedef.ParameterSchema{
			Optional:         []string{"owner"},
			OptionalMultiple: []string{"line"},
			Boolean:          []string{"force"},
		},
	}

	o := New("__file", "etc/hosts")
	o.Parameter.Scalar["owner"] = "root"
	o.Parameter.Multiple["line"] = []string{"a", "b"}
	o.Parameter.Boolean["force"] = true
	o.Explorer["stat"] = "0644"
	o.Source = []string{"/conf/manifest/init"}
	o.Tags = Tags{If: []string{"prod"}, NotIf: []string{"dev"}}
	o.State = StatePrepared
	o.CodeLocal = "echo hi"

	dir := filepath.Join(t.TempDir(), "obj")
	if err := o.ToDir(dir); err != nil {
		t.Fatalf("ToDir: %v", err)
	}

	got, err := FromDir(dir, typ)
	if err != nil {
		t.Fatalf("FromDir: %v", err)
	}

	if diff := cmp.Diff(o, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDirLayout(t *testing.T) {
	got := Dir("/session/target/object", "__file/etc/hosts", "abc123")
	want := filepath.Join("/session/target/object", "__file/etc/hosts", "abc123")
	if got != want {
		t.Errorf("Dir() = %q, want %q", got, want)
	}
}
