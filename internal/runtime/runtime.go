// Package runtime orchestrates one target end-to-end: it owns the target's
// Local and Remote executors, type cache, and dependency store (objects are
// re-read from disk on every access, not cached), and implements manager.Hooks so the Object Manager can drive
// prepare/apply without knowing about executors or sessions. Grounded on
// the Runtime/Remote classes of the original implementation (remote.py,
// config.py) and, for its goroutine-fan-out style, on the teacher's use of
// errgroup-shaped concurrent helpers throughout the retrieval pack.
package runtime

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/cdist-ng/cdist/internal/cliutil"
	"github.com/cdist-ng/cdist/internal/depstore"
	"github.com/cdist-ng/cdist/internal/executor"
	"github.com/cdist-ng/cdist/internal/manager"
	"github.com/cdist-ng/cdist/internal/object"
	"github.com/cdist-ng/cdist/internal/objectname"
	"github.com/cdist-ng/cdist/internal/session"
	"github.com/cdist-ng/cdist/internal/target"
	"github.com/cdist-ng/cdist/internal/typedef"
)

// Runtime drives one target from a fresh session through to a finalized,
// fully-applied object catalog.
type Runtime struct {
	Session *session.Session
	Target  *target.Target

	Local  *executor.Local
	Remote *executor.Remote

	Types *typedef.Cache
	Deps  *depstore.Store

	ActiveTags []string // --if-tag/--not-if-tag gate, empty = unrestricted

	// DryRun, when set, runs every discovery/prepare/gencode step but skips
	// RunCodeLocal/RunCodeRemote, so the catalog reaches StateDone without
	// mutating the target.
	DryRun bool

	// LocalExplore, when set, routes RunGlobalExplorers through the local
	// executor against the local conf/explorer tree instead of the remote
	// session, for the "explore __local__" sentinel target. Remote may be
	// nil in this mode: no remote method is ever called.
	LocalExplore bool

	log hclog.Logger

	persistMu sync.Mutex

	typeTransferOnce sync.Map // type name -> *sync.Once
}

// New builds a Runtime for one target, wiring its executors, type cache,
// and dependency store from sess/t.
func New(sess *session.Session, t *target.Target, local *executor.Local, remote *executor.Remote, log hclog.Logger) *Runtime {
	return &Runtime{
		Session: sess,
		Target:  t,
		Local:   local,
		Remote:  remote,
		Types:   typedef.NewCache(sess.ConfDir("type")),
		Deps:    depstore.New(sess.DependencyDir(t.Identifier())),
		log:     log,
	}
}

func (rt *Runtime) objectRoot() string {
	return rt.Session.ObjectDir(rt.Target.Identifier())
}

func (rt *Runtime) objectDir(name string) string {
	return object.Dir(rt.objectRoot(), name, rt.Target.ObjectMarker)
}

// Initialize sets the process umask, then creates the remote session's
// conf/ and object/ subdirectories.
func (rt *Runtime) Initialize(ctx context.Context) error {
	setRestrictiveUmask()

	if err := rt.Remote.Mkdir(ctx, rt.Session.RemoteRoot); err != nil {
		return err
	}
	if err := rt.Remote.CheckCall(ctx, []string{"chmod", "0700", rt.Session.RemoteRoot}, nil, false); err != nil {
		return err
	}
	if err := rt.Remote.Mkdir(ctx, rt.Session.RemoteConfDir("")); err != nil {
		return err
	}
	return rt.Remote.Mkdir(ctx, rt.Session.RemoteObjectDir())
}

// TransferGlobalExplorers transfers the local conf/explorer tree to the
// target and locks it down to 0700.
func (rt *Runtime) TransferGlobalExplorers(ctx context.Context) error {
	local := rt.Session.ConfDir("explorer")
	remote := rt.Session.RemoteConfDir("explorer")
	if err := rt.Remote.Transfer(ctx, local, remote); err != nil {
		return err
	}
	return rt.Remote.CheckCall(ctx, []string{"chmod", "-R", "0700", remote}, nil, false)
}

// RunGlobalExplorers runs the requested global explorers (default: every
// file in the local explorer dir) on the target and records their rstripped
// output on rt.Target.Explorer, then persists the target. concurrent selects
// between one goroutine per explorer and running them one at a time; both
// cmd/cdist callers pass true.
func (rt *Runtime) RunGlobalExplorers(ctx context.Context, names []string, concurrent bool) error {
	if len(names) == 0 {
		entries, err := os.ReadDir(rt.Session.ConfDir("explorer"))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}

	if !concurrent {
		for _, name := range names {
			out, err := rt.runGlobalExplorer(ctx, name)
			if err != nil {
				return err
			}
			rt.Target.Explorer[name] = rstripASCII(out)
		}
		return rt.PersistTarget()
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for _, name := range names {
		name := name
		g.Go(func() error {
			out, err := rt.runGlobalExplorer(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			rt.Target.Explorer[name] = rstripASCII(out)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return rt.PersistTarget()
}

func (rt *Runtime) runGlobalExplorer(ctx context.Context, name string) ([]byte, error) {
	if rt.LocalExplore {
		script := filepath.Join(rt.Session.ConfDir("explorer"), name)
		return rt.Local.CheckOutput(ctx, []string{script}, rt.globalExplorerEnv(name), false)
	}
	remotePath := filepath.Join(rt.Session.RemoteConfDir("explorer"), name)
	return rt.Remote.CheckOutput(ctx, []string{remotePath}, rt.globalExplorerEnv(name), false)
}

func (rt *Runtime) globalExplorerEnv(name string) map[string]string {
	explorerDir := rt.Session.RemoteConfDir("explorer")
	if rt.LocalExplore {
		explorerDir = rt.Session.ConfDir("explorer")
	}
	return map[string]string{
		"__explorer": explorerDir,
		"__type":     "",
	}
}

// RunInitialManifest runs the session's initial manifest locally as a
// shell script; the manifest invokes the emulator per object it declares.
func (rt *Runtime) RunInitialManifest(ctx context.Context, manifestPath string) error {
	env := rt.emulatorEnv(manifestPath, "")
	return rt.Local.CheckCall(ctx, rt.Local.Script(manifestPath), env, false)
}

// emulatorEnv builds the constant environment every manifest invocation
// (initial or per-type) needs so that type names on PATH resolve to the
// emulator binary and it can locate this run's session state.
func (rt *Runtime) emulatorEnv(manifestPath, objectName string) map[string]string {
	env := map[string]string{
		"PATH":                   rt.Session.BinDir() + ":" + os.Getenv("PATH"),
		"__global":               rt.Session.LocalRoot,
		"__cdist_manifest":       manifestPath,
		"__cdist_local_session":  rt.Session.LocalRoot,
		"__cdist_remote_session": rt.Session.RemoteRoot,
		"__cdist_local_target":   rt.Session.TargetDir(rt.Target.Identifier()),
		"__explorer":             rt.Session.RemoteConfDir("explorer"),
	}
	if objectName != "" {
		env["__object_name"] = objectName
	}
	return env
}

// ProcessObjects delegates to the Object Manager, which discovers objects,
// resolves dependencies, and realizes each one through prepare/apply.
func (rt *Runtime) ProcessObjects(ctx context.Context) error {
	return manager.New(rt.Deps).Run(ctx, rt)
}

// Finalize persists the target's final messages and explorer outputs.
func (rt *Runtime) Finalize(ctx context.Context) error {
	return rt.PersistTarget()
}

// PersistTarget serializes rt.Target under a lock, since it may be mutated
// concurrently by in-flight global explorer goroutines.
func (rt *Runtime) PersistTarget() error {
	rt.persistMu.Lock()
	defer rt.persistMu.Unlock()
	return rt.Target.ToDir(rt.Session.TargetDir(rt.Target.Identifier()))
}

// --- manager.Hooks ---

func (rt *Runtime) loadObject(name string) (*object.Object, *typedef.Type, error) {
	typeName, _ := objectname.Split(name)
	typ, err := rt.Types.Get(typeName)
	if err != nil {
		return nil, nil, err
	}
	obj, err := object.FromDir(rt.objectDir(name), typ)
	if err != nil {
		return nil, nil, err
	}
	return obj, typ, nil
}

func (rt *Runtime) saveObject(obj *object.Object) error {
	return obj.ToDir(rt.objectDir(obj.Name()))
}

// RunTypeExplorers transfers a type's explorers (once per type) and the
// object's parameter directory, then runs each explorer remotely.
func (rt *Runtime) RunTypeExplorers(ctx context.Context, name string) error {
	obj, typ, err := rt.loadObject(name)
	if err != nil {
		return err
	}
	if len(typ.Explorers) == 0 {
		return nil
	}

	onceVal, _ := rt.typeTransferOnce.LoadOrStore(typ.Name, &sync.Once{})
	once := onceVal.(*sync.Once)
	var transferErr error
	once.Do(func() {
		local := filepath.Join(typ.Dir, "explorer")
		remote := filepath.Join(rt.Session.RemoteConfDir("type"), typ.Name, "explorer")
		transferErr = rt.Remote.Transfer(ctx, local, remote)
	})
	if transferErr != nil {
		return transferErr
	}

	remoteObjDir := filepath.Join(rt.Session.RemoteObjectDir(), name, rt.Target.ObjectMarker)
	if err := rt.Remote.Transfer(ctx, filepath.Join(rt.objectDir(name), "parameter"), filepath.Join(remoteObjDir, "parameter")); err != nil {
		return err
	}

	typeName, objectID := objectname.Split(name)
	env := map[string]string{
		"__object":        remoteObjDir,
		"__object_name":   name,
		"__type_explorer": filepath.Join(rt.Session.RemoteConfDir("type"), typ.Name, "explorer"),
		"__explorer":      rt.Session.RemoteConfDir("explorer"),
	}
	if objectID != "" {
		env["__object_id"] = objectID
	}

	for _, explorerName := range typ.Explorers {
		script := filepath.Join(rt.Session.RemoteConfDir("type"), typeName, "explorer", explorerName)
		out, err := rt.Remote.CheckOutput(ctx, []string{script}, env, false)
		if err != nil {
			return err
		}
		obj.Explorer[explorerName] = rstripASCII(out)
	}
	return rt.saveObject(obj)
}

// RunTypeManifest runs a type's manifest, if any, inside a messages scope,
// then advances the object to the prepared state.
func (rt *Runtime) RunTypeManifest(ctx context.Context, name string) error {
	obj, typ, err := rt.loadObject(name)
	if err != nil {
		return err
	}
	if typ.HasManifest() {
		scope, err := openMessagesScope(rt.Target)
		if err != nil {
			return err
		}
		manifestFile := filepath.Join(typ.Dir, "manifest")
		env := rt.emulatorEnv(manifestFile, name)
		typeName, objectID := objectname.Split(name)
		env["__object"] = rt.objectDir(name)
		env["__object_name"] = name
		env["__type"] = typeName
		if objectID != "" {
			env["__object_id"] = objectID
		}
		for k, v := range scope.env() {
			env[k] = v
		}

		runErr := rt.Local.CheckCall(ctx, rt.Local.Script(manifestFile), env, false)
		if closeErr := scope.close(rt.Target, name); closeErr != nil && runErr == nil {
			runErr = closeErr
		}
		if runErr != nil {
			return runErr
		}
	}
	obj.State = object.StatePrepared
	return rt.saveObject(obj)
}

func (rt *Runtime) gencodeEnv(name string) map[string]string {
	typeName, objectID := objectname.Split(name)
	env := map[string]string{
		"__global":      rt.Session.LocalRoot,
		"__object":      rt.objectDir(name),
		"__object_name": name,
		"__type":        typeName,
	}
	if objectID != "" {
		env["__object_id"] = objectID
	}
	return env
}

func (rt *Runtime) runGencode(ctx context.Context, name, kind string) (string, error) {
	_, typ, err := rt.loadObject(name)
	if err != nil {
		return "", err
	}
	if !typ.HasGencode(kind) {
		return "", nil
	}
	script := filepath.Join(typ.Dir, "gencode-"+kind)
	scope, err := openMessagesScope(rt.Target)
	if err != nil {
		return "", err
	}
	env := rt.gencodeEnv(name)
	for k, v := range scope.env() {
		env[k] = v
	}
	out, runErr := rt.Local.CheckOutput(ctx, rt.Local.Script(script), env, false)
	if closeErr := scope.close(rt.Target, name); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		return "", runErr
	}
	return string(out), nil
}

// RunGencodeLocal materializes name's code-local artifact, if its type
// declares a gencode-local script.
func (rt *Runtime) RunGencodeLocal(ctx context.Context, name string) error {
	out, err := rt.runGencode(ctx, name, "local")
	if err != nil {
		return err
	}
	obj, _, err := rt.loadObject(name)
	if err != nil {
		return err
	}
	obj.CodeLocal = out
	return rt.saveObject(obj)
}

// RunGencodeRemote materializes name's code-remote artifact, if its type
// declares a gencode-remote script.
func (rt *Runtime) RunGencodeRemote(ctx context.Context, name string) error {
	out, err := rt.runGencode(ctx, name, "remote")
	if err != nil {
		return err
	}
	obj, _, err := rt.loadObject(name)
	if err != nil {
		return err
	}
	obj.CodeRemote = out
	obj.State = object.StateDone
	return rt.saveObject(obj)
}

// RunCodeLocal executes name's code-local artifact locally, if nonempty.
// Skipped entirely under DryRun.
func (rt *Runtime) RunCodeLocal(ctx context.Context, name string) error {
	if rt.DryRun {
		return nil
	}
	obj, _, err := rt.loadObject(name)
	if err != nil {
		return err
	}
	if obj.CodeLocal == "" {
		return nil
	}
	path := filepath.Join(rt.objectDir(name), "code-local")
	return rt.Local.CheckCall(ctx, rt.Local.Script(path), rt.gencodeEnv(name), false)
}

// RunCodeRemote transfers name's code-remote artifact to the target, locks
// it down, and executes it there, if nonempty. Skipped entirely under
// DryRun.
func (rt *Runtime) RunCodeRemote(ctx context.Context, name string) error {
	if rt.DryRun {
		return nil
	}
	obj, _, err := rt.loadObject(name)
	if err != nil {
		return err
	}
	if obj.CodeRemote == "" {
		return nil
	}
	local := filepath.Join(rt.objectDir(name), "code-remote")
	remoteDir := filepath.Join(rt.Session.RemoteObjectDir(), name, rt.Target.ObjectMarker)
	remote := filepath.Join(remoteDir, "code-remote")

	if err := rt.Remote.Mkdir(ctx, remoteDir); err != nil {
		return err
	}
	if err := rt.Remote.Transfer(ctx, local, remote); err != nil {
		return err
	}
	if err := rt.Remote.CheckCall(ctx, []string{"chmod", "0700", remote}, nil, false); err != nil {
		return err
	}
	return rt.Remote.CheckCall(ctx, rt.Remote.Script(remote), rt.gencodeEnv(name), false)
}

// CollectNewObjects re-scans the on-disk object tree for marker directories
// (this target's ObjectMarker) not already present in known, applying the
// run's --if-tag/--not-if-tag filter: a filtered-out object is treated as
// non-existent, per the spec's Open Question (c) decision.
func (rt *Runtime) CollectNewObjects(ctx context.Context, known map[string]bool) ([]string, error) {
	root := rt.objectRoot()
	var fresh []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() || d.Name() != rt.Target.ObjectMarker {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if known[name] {
			return fs.SkipDir
		}
		obj, err := object.FromDir(p, nil)
		if err != nil {
			return err
		}
		if cliutil.ObjectTagsAllow(obj.Tags.If, obj.Tags.NotIf, rt.ActiveTags) {
			fresh = append(fresh, name)
		}
		return fs.SkipDir
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return fresh, nil
}

func rstripASCII(b []byte) string {
	return strings.TrimRight(string(b), " \t\r\n")
}
