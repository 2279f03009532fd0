// Package typedef loads cdist type descriptors from a conf-dir's
// conf/type/<type-name>/ tree and caches them per runtime, grounded on
// CdistType in the original implementation's core.py.
package typedef

import (
	"os"
	"path/filepath"

	"github.com/cdist-ng/cdist/internal/cconfig"
	"github.com/cdist-ng/cdist/internal/invariant"
)

// ParameterSchema describes a type's accepted --flag surface, split the way
// the emulator needs it: which flags are required, which may repeat, which
// are plain booleans, and the default value for any of them.
type ParameterSchema struct {
	Required         []string
	RequiredMultiple []string
	Optional         []string
	OptionalMultiple []string
	Boolean          []string
	Default          map[string]string
}

// Names returns every non-boolean, non-default parameter name the schema
// declares, in a stable order: required, required_multiple, optional,
// optional_multiple.
func (s ParameterSchema) Names() []string {
	names := make([]string, 0, len(s.Required)+len(s.RequiredMultiple)+len(s.Optional)+len(s.OptionalMultiple))
	names = append(names, s.Required...)
	names = append(names, s.RequiredMultiple...)
	names = append(names, s.Optional...)
	names = append(names, s.OptionalMultiple...)
	return names
}

// IsMultiple reports whether name accepts repeated values.
func (s ParameterSchema) IsMultiple(name string) bool {
	return contains(s.RequiredMultiple, name) || contains(s.OptionalMultiple, name)
}

// IsBoolean reports whether name is a plain flag, not a valued parameter.
func (s ParameterSchema) IsBoolean(name string) bool {
	return contains(s.Boolean, name)
}

// IsRequired reports whether name must be supplied (ignoring defaults).
func (s ParameterSchema) IsRequired(name string) bool {
	return contains(s.Required, name) || contains(s.RequiredMultiple, name)
}

// IsKnown reports whether name is declared anywhere in the schema.
func (s ParameterSchema) IsKnown(name string) bool {
	return s.IsBoolean(name) || contains(s.Names(), name)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// Type is an immutable, loaded-once type descriptor: name, singleton flag,
// explorer names, and a parameter schema. The Dir field is kept so the
// runtime can locate manifest/gencode-local/gencode-remote without a second
// lookup.
type Type struct {
	Name      string
	Dir       string
	Singleton bool
	Explorers []string
	Parameter ParameterSchema
}

// HasManifest reports whether this type declares a type manifest.
func (t *Type) HasManifest() bool {
	return fileExists(filepath.Join(t.Dir, "manifest"))
}

// HasGencode reports whether this type declares a gencode-<kind> script,
// kind being "local" or "remote".
func (t *Type) HasGencode(kind string) bool {
	return fileExists(filepath.Join(t.Dir, "gencode-"+kind))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads a type descriptor from confTypeDir/<name>/.
func Load(confTypeDir, name string) (*Type, error) {
	invariant.Precondition(name != "", "type name must not be empty")
	dir := filepath.Join(confTypeDir, name)

	explorers, err := cconfig.ReadListDir(dir, "explorer")
	if err != nil {
		return nil, err
	}

	singleton := fileExists(filepath.Join(dir, "singleton"))

	required, err := cconfig.ReadList(filepath.Join(dir, "parameter"), "required")
	if err != nil {
		return nil, err
	}
	requiredMultiple, err := cconfig.ReadList(filepath.Join(dir, "parameter"), "required_multiple")
	if err != nil {
		return nil, err
	}
	optional, err := cconfig.ReadList(filepath.Join(dir, "parameter"), "optional")
	if err != nil {
		return nil, err
	}
	optionalMultiple, err := cconfig.ReadList(filepath.Join(dir, "parameter"), "optional_multiple")
	if err != nil {
		return nil, err
	}
	boolean, err := cconfig.ReadList(filepath.Join(dir, "parameter"), "boolean")
	if err != nil {
		return nil, err
	}
	defaults, err := cconfig.ReadMapping(filepath.Join(dir, "parameter"), "default")
	if err != nil {
		return nil, err
	}

	return &Type{
		Name:      name,
		Dir:       dir,
		Singleton: singleton,
		Explorers: explorers,
		Parameter: ParameterSchema{
			Required:         required,
			RequiredMultiple: requiredMultiple,
			Optional:         optional,
			OptionalMultiple: optionalMultiple,
			Boolean:          boolean,
			Default:          defaults,
		},
	}, nil
}
