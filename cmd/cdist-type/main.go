// Command cdist-type is the type emulator: the sub-invocation manifests
// trigger (via a per-type wrapper script on PATH) to create or update an
// object and record its dependency edges. Grounded on
// cdist/cli/commands/internal/emulator.py in the original implementation.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cdist-ng/cdist/internal/cdisterr"
	"github.com/cdist-ng/cdist/internal/depstore"
	"github.com/cdist-ng/cdist/internal/object"
	"github.com/cdist-ng/cdist/internal/objectname"
	"github.com/cdist-ng/cdist/internal/target"
	"github.com/cdist-ng/cdist/internal/typedef"
)

func main() {
	os.Exit(run())
}

func run() int {
	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, syscall.SIGINT)
	go func() {
		if _, ok := <-interrupted; ok {
			os.Exit(2)
		}
	}()

	if err := emulate(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func getEnv(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", &cdisterr.MissingRequiredEnvironmentVariable{Name: name}
	}
	return v, nil
}

func emulate(args []string) error {
	if len(args) < 1 {
		return cdisterr.Wrap("emulator", "missing type name argument")
	}
	typeName := args[0]
	rest := args[1:]

	localSession, err := getEnv("__cdist_local_session")
	if err != nil {
		return err
	}
	if _, err := getEnv("__cdist_remote_session"); err != nil {
		return err
	}
	targetDir, err := getEnv("__cdist_local_target")
	if err != nil {
		return err
	}
	manifestPath, err := getEnv("__cdist_manifest")
	if err != nil {
		return err
	}
	parentObjectName := os.Getenv("__object_name")

	tgt, err := target.FromDir(targetDir)
	if err != nil {
		return err
	}

	types := typedef.NewCache(localSession + "/conf/type")
	typ, err := types.Get(typeName)
	if err != nil {
		return err
	}

	parsed, err := parseArgs(typ, rest)
	if err != nil {
		return err
	}

	if !setsDisjoint(parsed.ifTag, parsed.notIfTag) {
		return &cdisterr.ConflictingTags{A: parsed.ifTag, B: parsed.notIfTag}
	}

	objectID := ""
	if typ.Singleton {
		if parsed.objectID != "" {
			return cdisterr.Wrap("emulator", fmt.Sprintf("type %s is a singleton and does not accept an object id", typeName))
		}
	} else {
		if parsed.objectID == "" {
			return cdisterr.Wrap("emulator", fmt.Sprintf("type %s requires an object id", typeName))
		}
		objectID = objectname.Sanitise(parsed.objectID)
		if err := objectname.Validate(objectID); err != nil {
			return err
		}
	}
	name := objectname.Join(typeName, objectID)

	objectRoot := localSession + "/targets/" + tgt.Identifier() + "/object"
	objectDir := object.Dir(objectRoot, name, tgt.ObjectMarker)

	var obj *object.Object
	if existing, err := object.FromDir(objectDir, typ); err == nil && dirExists(objectDir) {
		if !existing.Parameter.Equal(parsed.params) {
			return &cdisterr.CdistObjectError{
				Object:  name,
				Reason:  "object redefined with different parameters",
				Sources: append(append([]string{}, existing.Source...), manifestPath),
			}
		}
		obj = existing
	} else {
		obj = object.New(typeName, objectID)
		obj.Parameter = parsed.params
	}
	obj.Tags = object.Tags{If: parsed.ifTag, NotIf: parsed.notIfTag}
	obj.Source = append(obj.Source, manifestPath)

	if !isTerminal(os.Stdin) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if err := os.MkdirAll(objectDir, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(objectDir+"/stdin", data, 0o644); err != nil {
				return err
			}
		}
	}

	deps := depstore.New(localSession + "/targets/" + tgt.Identifier() + "/dependency")
	for _, pattern := range parsed.require {
		if err := deps.Require(name, pattern); err != nil {
			return err
		}
	}
	for _, pattern := range parsed.after {
		if err := deps.After(name, pattern); err != nil {
			return err
		}
	}
	for _, pattern := range parsed.before {
		if err := deps.Before(name, pattern); err != nil {
			return err
		}
	}
	if parentObjectName != "" {
		if err := deps.Auto(parentObjectName, name); err != nil {
			return err
		}
	}

	return obj.ToDir(objectDir)
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func setsDisjoint(a, b []string) bool {
	set := map[string]bool{}
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return false
		}
	}
	return true
}

type parsedArgs struct {
	params   object.Params
	objectID string
	ifTag    []string
	notIfTag []string
	require  []string
	after    []string
	before   []string
}

// parseArgs hand-parses the emulator's dynamic flag surface, since the
// accepted flags depend on the target type's parameter schema and can't be
// declared statically. --flag value and --flag=value are both accepted;
// boolean parameters take no value; a trailing positional is the object-id
// for non-singleton types. --if-tag/--not-if-tag accept comma- or
// space-delimited lists, --require/--after/--before accept space-delimited
// lists, and all five may repeat.
func parseArgs(typ *typedef.Type, args []string) (parsedArgs, error) {
	out := parsedArgs{params: object.NewParams()}

	takeValue := func(i int, flag string) (string, int, error) {
		if eq := strings.Index(flag, "="); eq >= 0 {
			return flag[eq+1:], i, nil
		}
		if i+1 >= len(args) {
			return "", i, cdisterr.Wrap("emulator", fmt.Sprintf("flag %s requires a value", flag))
		}
		return args[i+1], i + 1, nil
	}

	i := 0
	for i < len(args) {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			out.objectID = arg
			i++
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if eq := strings.Index(name, "="); eq >= 0 {
			name = name[:eq]
		}

		switch name {
		case "if-tag":
			v, next, err := takeValue(i, arg)
			if err != nil {
				return out, err
			}
			out.ifTag = append(out.ifTag, splitTags(v)...)
			i = next + 1
			continue
		case "not-if-tag":
			v, next, err := takeValue(i, arg)
			if err != nil {
				return out, err
			}
			out.notIfTag = append(out.notIfTag, splitTags(v)...)
			i = next + 1
			continue
		case "require":
			v, next, err := takeValue(i, arg)
			if err != nil {
				return out, err
			}
			out.require = append(out.require, strings.Fields(v)...)
			i = next + 1
			continue
		case "after":
			v, next, err := takeValue(i, arg)
			if err != nil {
				return out, err
			}
			out.after = append(out.after, strings.Fields(v)...)
			i = next + 1
			continue
		case "before":
			v, next, err := takeValue(i, arg)
			if err != nil {
				return out, err
			}
			out.before = append(out.before, strings.Fields(v)...)
			i = next + 1
			continue
		}

		if typ.Parameter.IsBoolean(name) {
			out.params.Boolean[name] = true
			i++
			continue
		}
		v, next, err := takeValue(i, arg)
		if err != nil {
			return out, err
		}
		if typ.Parameter.IsMultiple(name) {
			out.params.Multiple[name] = append(out.params.Multiple[name], v)
		} else {
			out.params.Scalar[name] = v
		}
		i = next + 1
	}

	for name, def := range typ.Parameter.Default {
		if typ.Parameter.IsBoolean(name) {
			continue
		}
		if typ.Parameter.IsMultiple(name) {
			if _, ok := out.params.Multiple[name]; !ok {
				out.params.Multiple[name] = []string{def}
			}
			continue
		}
		if _, ok := out.params.Scalar[name]; !ok {
			out.params.Scalar[name] = def
		}
	}

	for _, name := range typ.Parameter.Required {
		if _, ok := out.params.Scalar[name]; !ok {
			return out, cdisterr.Wrap("emulator", fmt.Sprintf("missing required parameter --%s", name))
		}
	}
	for _, name := range typ.Parameter.RequiredMultiple {
		if len(out.params.Multiple[name]) == 0 {
			return out, cdisterr.Wrap("emulator", fmt.Sprintf("missing required parameter --%s", name))
		}
	}

	return out, nil
}

func splitTags(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
