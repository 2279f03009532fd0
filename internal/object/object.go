// Package object implements the cdist object model: an instance of a Type,
// identified by "type-name/object-id", carrying parameters, captured
// explorer output, lifecycle state, and the generated code artifacts.
// Grounded on CdistObject in the original implementation's core.py.
package object

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cdist-ng/cdist/internal/cconfig"
	"github.com/cdist-ng/cdist/internal/invariant"
	"github.com/cdist-ng/cdist/internal/objectname"
	"github.com/cdist-ng/cdist/internal/typedef"
)

// State is an object's position in the prepare/apply lifecycle.
type State string

const (
	StateCreated  State = "created"
	StatePrepared State = "prepared"
	StateDone     State = "done"
)

// Params holds an object's parameter values, split by the same three shapes
// the type schema declares: scalars (required/optional), repeatable lists
// (required_multiple/optional_multiple), and booleans.
type Params struct {
	Scalar   map[string]string
	Multiple map[string][]string
	Boolean  map[string]bool
}

// NewParams returns an empty, ready-to-populate Params value.
func NewParams() Params {
	return Params{
		Scalar:   map[string]string{},
		Multiple: map[string][]string{},
		Boolean:  map[string]bool{},
	}
}

// Equal reports whether p and other hold the same parameter values,
// independent of map iteration order. Used to detect the fatal "object
// redefined with different parameters" conflict (spec invariant: two
// emulator invocations for the same canonical name must agree).
func (p Params) Equal(other Params) bool {
	if len(p.Scalar) != len(other.Scalar) || len(p.Boolean) != len(other.Boolean) || len(p.Multiple) != len(other.Multiple) {
		return false
	}
	for k, v := range p.Scalar {
		if other.Scalar[k] != v {
			return false
		}
	}
	for k, v := range p.Boolean {
		if other.Boolean[k] != v {
			return false
		}
	}
	for k, v := range p.Multiple {
		ov := other.Multiple[k]
		if len(v) != len(ov) {
			return false
		}
		sv, sov := append([]string{}, v...), append([]string{}, ov...)
		sort.Strings(sv)
		sort.Strings(sov)
		for i := range sv {
			if sv[i] != sov[i] {
				return false
			}
		}
	}
	return true
}

// Tags are the --if-tag/--not-if-tag values recorded on creation, consulted
// by the runtime's tag filter in CollectNewObjects at add() time.
type Tags struct {
	If    []string
	NotIf []string
}

// Object is one instance of a Type.
type Object struct {
	TypeName string
	ObjectID string

	Parameter   Params
	Explorer    map[string]string
	State       State
	Source      []string
	Tags        Tags
	CodeLocal   string
	CodeRemote  string
}

// New creates a fresh, unsaved object in StateCreated.
func New(typeName, objectID string) *Object {
	invariant.Precondition(typeName != "", "type name must not be empty")
	return &Object{
		TypeName:  typeName,
		ObjectID:  objectID,
		Parameter: NewParams(),
		Explorer:  map[string]string{},
		State:     StateCreated,
		Source:    []string{},
	}
}

// Name is the canonical "type-name/object-id" (or bare type-name for a
// singleton).
func (o *Object) Name() string {
	return objectname.Join(o.TypeName, o.ObjectID)
}

func (o *Object) String() string {
	return fmt.Sprintf("<CdistObject %s>", o.Name())
}

// Dir returns the object's directory under objectRoot, laid out as
// objectRoot/<type-name>/<object-id>/<object-marker>/ so an object-id can
// never collide with the marker's own metadata files.
func Dir(objectRoot, name, objectMarker string) string {
	return filepath.Join(objectRoot, name, objectMarker)
}

// ToDir serializes the object to dir, following the directory layout
// described in spec.md: parameter/ and explorer/ as mappings, source/tags as
// lists, state/code-local/code-remote/type/object-id as scalars.
func (o *Object) ToDir(dir string) error {
	if err := cconfig.WriteScalar(dir, "type", o.TypeName); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "object-id", o.ObjectID); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "state", string(o.State)); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "code-local", o.CodeLocal); err != nil {
		return err
	}
	if err := cconfig.WriteScalar(dir, "code-remote", o.CodeRemote); err != nil {
		return err
	}
	if err := cconfig.WriteList(dir, "source", o.Source); err != nil {
		return err
	}
	if err := cconfig.WriteList(filepath.Join(dir, "tags"), "if", o.Tags.If); err != nil {
		return err
	}
	if err := cconfig.WriteList(filepath.Join(dir, "tags"), "not-if", o.Tags.NotIf); err != nil {
		return err
	}
	if err := cconfig.WriteMapping(dir, "explorer", o.Explorer); err != nil {
		return err
	}

	params := make(map[string]string, len(o.Parameter.Scalar)+len(o.Parameter.Boolean))
	for k, v := range o.Parameter.Scalar {
		params[k] = v
	}
	for k, v := range o.Parameter.Boolean {
		if v {
			params[k] = "1"
		}
	}
	if err := cconfig.WriteMapping(dir, "parameter", params); err != nil {
		return err
	}
	for k, v := range o.Parameter.Multiple {
		if err := cconfig.WriteList(filepath.Join(dir, "parameter", "_multiple"), k, v); err != nil {
			return err
		}
	}
	return nil
}

// FromDir loads an object back from dir, using typ's parameter schema to
// know which parameter files are scalars, booleans, or repeatable lists.
func FromDir(dir string, typ *typedef.Type) (*Object, error) {
	typeName, err := cconfig.ReadScalar(dir, "type")
	if err != nil {
		return nil, err
	}
	objectID, err := cconfig.ReadScalar(dir, "object-id")
	if err != nil {
		return nil, err
	}
	state, err := cconfig.ReadScalar(dir, "state")
	if err != nil {
		return nil, err
	}
	codeLocal, err := cconfig.ReadScalar(dir, "code-local")
	if err != nil {
		return nil, err
	}
	codeRemote, err := cconfig.ReadScalar(dir, "code-remote")
	if err != nil {
		return nil, err
	}
	source, err := cconfig.ReadList(dir, "source")
	if err != nil {
		return nil, err
	}
	tagsIf, err := cconfig.ReadList(filepath.Join(dir, "tags"), "if")
	if err != nil {
		return nil, err
	}
	tagsNotIf, err := cconfig.ReadList(filepath.Join(dir, "tags"), "not-if")
	if err != nil {
		return nil, err
	}
	explorer, err := cconfig.ReadMapping(dir, "explorer")
	if err != nil {
		return nil, err
	}
	rawParams, err := cconfig.ReadMapping(dir, "parameter")
	if err != nil {
		return nil, err
	}

	params := NewParams()
	for name, value := range rawParams {
		if typ != nil && typ.Parameter.IsBoolean(name) {
			params.Boolean[name] = value == "1"
			continue
		}
		params.Scalar[name] = value
	}
	if typ != nil {
		for _, name := range append(append([]string{}, typ.Parameter.RequiredMultiple...), typ.Parameter.OptionalMultiple...) {
			values, err := cconfig.ReadList(filepath.Join(dir, "parameter", "_multiple"), name)
			if err != nil {
				return nil, err
			}
			if len(values) > 0 {
				params.Multiple[name] = values
			}
		}
	}

	return &Object{
		TypeName:   typeName,
		ObjectID:   objectID,
		Parameter:  params,
		Explorer:   explorer,
		State:      State(state),
		Source:     source,
		Tags:       Tags{If: tagsIf, NotIf: tagsNotIf},
		CodeLocal:  codeLocal,
		CodeRemote: codeRemote,
	}, nil
}
