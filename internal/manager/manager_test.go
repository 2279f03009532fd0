package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cdist-ng/cdist/internal/cdisterr"
	"github.com/cdist-ng/cdist/internal/depstore"
)

// fakeHooks is a minimal in-memory Hooks implementation: it seeds a fixed
// object set on the first CollectNewObjects call and records every
// hook invocation, in order, for assertions. When deps and spawnOnManifest
// are set, running a given object's type manifest records an Auto edge into
// deps and queues the child for discovery on the next CollectNewObjects
// call, mirroring how the real emulator only creates auto children and
// writes their edges once the parent's manifest actually runs.
type fakeHooks struct {
	mu              sync.Mutex
	seeded          bool
	seed            []string
	pending         []string
	log             []string
	onEvent         func(string)
	deps            *depstore.Store
	spawnOnManifest map[string][]string
}

func (f *fakeHooks) record(event string) {
	f.mu.Lock()
	f.log = append(f.log, event)
	cb := f.onEvent
	f.mu.Unlock()
	if cb != nil {
		cb(event)
	}
}

func (f *fakeHooks) RunTypeExplorers(_ context.Context, name string) error {
	f.record(name + ":explorers")
	return nil
}

func (f *fakeHooks) RunTypeManifest(_ context.Context, name string) error {
	f.record(name + ":manifest")

	f.mu.Lock()
	children := f.spawnOnManifest[name]
	f.mu.Unlock()
	for _, child := range children {
		if err := f.deps.Auto(name, child); err != nil {
			return err
		}
		f.mu.Lock()
		f.pending = append(f.pending, child)
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeHooks) CollectNewObjects(_ context.Context, known map[string]bool) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.seeded {
		f.seeded = true
		out := make([]string, 0, len(f.seed))
		for _, n := range f.seed {
			if !known[n] {
				out = append(out, n)
			}
		}
		return out, nil
	}

	var out []string
	for _, n := range f.pending {
		if !known[n] {
			out = append(out, n)
		}
	}
	f.pending = nil
	return out, nil
}

func (f *fakeHooks) RunGencodeLocal(_ context.Context, name string) error {
	f.record(name + ":gencode-local")
	return nil
}

func (f *fakeHooks) RunGencodeRemote(_ context.Context, name string) error {
	f.record(name + ":gencode-remote")
	return nil
}

func (f *fakeHooks) RunCodeLocal(_ context.Context, name string) error {
	f.record(name + ":code-local")
	return nil
}

func (f *fakeHooks) RunCodeRemote(_ context.Context, name string) error {
	f.record(name + ":code-remote")
	return nil
}

func indexOf(log []string, event string) int {
	for i, e := range log {
		if e == event {
			return i
		}
	}
	return -1
}

func TestRunRealizesSingletonWithNoDeps(t *testing.T) {
	deps := depstore.New(t.TempDir())
	hooks := &fakeHooks{seed: []string{"__hostname"}}
	m := New(deps)

	if err := m.Run(context.Background(), hooks); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"__hostname:explorers", "__hostname:manifest", "__hostname:gencode-local", "__hostname:gencode-remote", "__hostname:code-local", "__hostname:code-remote"}
	if len(hooks.log) != len(want) {
		t.Fatalf("log = %v, want %v", hooks.log, want)
	}
	for i, e := range want {
		if hooks.log[i] != e {
			t.Errorf("log[%d] = %q, want %q", i, hooks.log[i], e)
		}
	}
}

func TestRunOrdersRequireBeforeDependent(t *testing.T) {
	dir := t.TempDir()
	deps := depstore.New(dir)
	if err := deps.Require("__file/b", "__file/a"); err != nil {
		t.Fatal(err)
	}

	hooks := &fakeHooks{seed: []string{"__file/a", "__file/b"}}
	m := New(deps)

	if err := m.Run(context.Background(), hooks); err != nil {
		t.Fatalf("Run: %v", err)
	}

	aApply := indexOf(hooks.log, "__file/a:code-remote")
	bPrepare := indexOf(hooks.log, "__file/b:manifest")
	if aApply == -1 || bPrepare == -1 {
		t.Fatalf("expected both a:code-remote and b:manifest in log: %v", hooks.log)
	}
	if aApply > bPrepare {
		t.Errorf("b was prepared (index %d) before a finished applying (index %d): %v", bPrepare, aApply, hooks.log)
	}
}

func TestRunDetectsCircularReference(t *testing.T) {
	orig := StallTick
	StallTick = 5 * time.Millisecond
	defer func() { StallTick = orig }()

	dir := t.TempDir()
	deps := depstore.New(dir)
	if err := deps.Require("__file/a", "__file/b"); err != nil {
		t.Fatal(err)
	}
	if err := deps.Require("__file/b", "__file/a"); err != nil {
		t.Fatal(err)
	}

	hooks := &fakeHooks{seed: []string{"__file/a", "__file/b"}}
	m := New(deps)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.Run(ctx, hooks)
	var circular *cdisterr.CircularReference
	if !errors.As(err, &circular) {
		t.Fatalf("Run error = %v, want *cdisterr.CircularReference", err)
	}
}

func TestRunPropagatesAutoChildAfterEdges(t *testing.T) {
	dir := t.TempDir()
	deps := depstore.New(dir)
	// parent is "after" some base object; it has not spawned its auto
	// child yet, and the child is not in the initial seed set at all -
	// the parent's own type manifest is what creates it, just like the
	// real emulator only records the Auto edge when the manifest runs.
	if err := deps.After("__service/ssh", "__file/sshd-config"); err != nil {
		t.Fatal(err)
	}

	hooks := &fakeHooks{
		seed:            []string{"__service/ssh", "__file/sshd-config"},
		deps:            deps,
		spawnOnManifest: map[string][]string{"__service/ssh": {"__service/ssh-reload"}},
	}
	m := New(deps)

	if err := m.Run(context.Background(), hooks); err != nil {
		t.Fatalf("Run: %v", err)
	}

	childRec, err := deps.Load("__service/ssh-reload")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range childRec.After {
		if a == "__file/sshd-config" {
			found = true
		}
	}
	if !found {
		t.Errorf("auto child did not inherit parent's after edge: %v", childRec.After)
	}
}
