// Package manager implements the Object Manager: the dynamic scheduler that
// discovers objects as type manifests create them, resolves their
// require/after/auto dependency edges, and fans out prepare/apply
// realization as an independent task per object gated by one-shot
// prepare/apply events. Grounded on the manager.py scheduling loop of the
// original implementation, reworked from its asyncio queue+gather idiom
// onto golang.org/x/sync/errgroup, which gives the same "spawn more tasks
// from within a running task, then wait for all of them" semantics used
// throughout the example pack's own fan-out code.
package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cdist-ng/cdist/internal/cdisterr"
	"github.com/cdist-ng/cdist/internal/depstore"
)

// Hooks is the set of per-object operations the manager composes; a Runtime
// supplies the concrete implementation (explorers, manifests, gencode,
// code execution) so this package stays free of executor/session concerns.
type Hooks interface {
	// RunTypeExplorers transfers and runs name's type explorers, if any.
	RunTypeExplorers(ctx context.Context, name string) error
	// RunTypeManifest runs name's type manifest, if it has one. The
	// manifest may invoke the emulator and create further objects.
	RunTypeManifest(ctx context.Context, name string) error
	// CollectNewObjects re-scans the on-disk object tree and returns the
	// names of objects not yet in known.
	CollectNewObjects(ctx context.Context, known map[string]bool) ([]string, error)
	// RunGencodeLocal/RunGencodeRemote materialize name's code-local /
	// code-remote artifacts.
	RunGencodeLocal(ctx context.Context, name string) error
	RunGencodeRemote(ctx context.Context, name string) error
	// RunCodeLocal/RunCodeRemote execute the generated artifacts, if
	// nonempty, transferring code-remote first.
	RunCodeLocal(ctx context.Context, name string) error
	RunCodeRemote(ctx context.Context, name string) error
}

// event is a one-shot, edge-triggered latch: Set() may be called any
// number of times (only the first has effect), Wait() blocks until Set or
// ctx cancellation.
type event struct {
	once sync.Once
	ch   chan struct{}
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

func (e *event) Set() {
	e.once.Do(func() { close(e.ch) })
}

func (e *event) isSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

func (e *event) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StallTick is how often the quiescence monitor samples for progress before
// declaring a circular reference. Tests may shrink it.
var StallTick = 50 * time.Millisecond

// Manager is the per-target Object Manager.
type Manager struct {
	deps *depstore.Store
	g    *errgroup.Group

	mu         sync.Mutex
	objects    map[string]bool
	pending    map[string]bool
	realized   map[string]bool
	unresolved map[string]map[string]bool
	requireSet map[string]map[string]bool
	prepareEv  map[string]*event
	applyEv    map[string]*event

	progress int64
}

// New creates an Object Manager backed by the given dependency store.
func New(deps *depstore.Store) *Manager {
	return &Manager{
		deps:       deps,
		objects:    map[string]bool{},
		pending:    map[string]bool{},
		realized:   map[string]bool{},
		unresolved: map[string]map[string]bool{},
		requireSet: map[string]map[string]bool{},
		prepareEv:  map[string]*event{},
		applyEv:    map[string]*event{},
	}
}

// KnownNames returns a snapshot of every object name the manager has ever
// seen, used by CollectNewObjects to tell "already known" from "new".
func (m *Manager) KnownNames() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.objects))
	for k := range m.objects {
		out[k] = true
	}
	return out
}

// Run discovers the initial set of objects via hooks.CollectNewObjects and
// drives every object through prepare/apply to completion, returning the
// first error encountered (a *cdisterr.CircularReference on quiescence
// deadlock, a *cdisterr.RequirementNotFound on an unmatched pattern, or
// whatever a hook returned).
func (m *Manager) Run(ctx context.Context, hooks Hooks) error {
	g, gctx := errgroup.WithContext(ctx)
	m.g = g

	initial, err := hooks.CollectNewObjects(gctx, m.KnownNames())
	if err != nil {
		return err
	}
	for _, name := range initial {
		m.spawn(gctx, hooks, name)
	}

	g.Go(func() error { return m.monitorQuiescence(gctx) })

	return g.Wait()
}

func (m *Manager) spawn(ctx context.Context, hooks Hooks, name string) {
	m.mu.Lock()
	if m.objects[name] {
		m.mu.Unlock()
		return
	}
	m.objects[name] = true
	m.pending[name] = true
	m.prepareEv[name] = newEvent()
	m.applyEv[name] = newEvent()
	m.mu.Unlock()
	atomic.AddInt64(&m.progress, 1)

	m.g.Go(func() error { return m.realize(ctx, hooks, name) })
}

func (m *Manager) realize(ctx context.Context, hooks Hooks, name string) error {
	if err := m.resolve(name); err != nil {
		return err
	}

	prepareEv := m.prepareEv[name]
	if err := prepareEv.Wait(ctx); err != nil {
		return err
	}
	if err := hooks.RunTypeExplorers(ctx, name); err != nil {
		return err
	}
	if err := hooks.RunTypeManifest(ctx, name); err != nil {
		return err
	}

	newNames, err := hooks.CollectNewObjects(ctx, m.KnownNames())
	if err != nil {
		return err
	}
	for _, n := range newNames {
		m.spawn(ctx, hooks, n)
	}

	applyEv := m.applyEv[name]
	if err := applyEv.Wait(ctx); err != nil {
		return err
	}
	if err := hooks.RunGencodeLocal(ctx, name); err != nil {
		return err
	}
	if err := hooks.RunGencodeRemote(ctx, name); err != nil {
		return err
	}
	if err := hooks.RunCodeLocal(ctx, name); err != nil {
		return err
	}
	if err := hooks.RunCodeRemote(ctx, name); err != nil {
		return err
	}

	m.finish(name)
	return nil
}

// resolve loads name's dependency record, inherits after-edges from
// whichever known object's type manifest declared name as an auto child (if
// any), expands require/after/auto against the known object set, and sets
// this object's readiness per the spec's ready rules.
func (m *Manager) resolve(name string) error {
	rec, err := m.deps.Load(name)
	if err != nil {
		return err
	}

	if err := m.inheritAutoAfter(name, &rec); err != nil {
		return err
	}

	known := m.namesSlice()
	resolved, _, err := depstore.Resolve(rec, known)
	if err != nil {
		return err
	}

	m.mu.Lock()
	realizedSnapshot := make(map[string]bool, len(resolved))
	unresolved := map[string]bool{}
	for _, dep := range resolved {
		if !m.realized[dep] {
			unresolved[dep] = true
		} else {
			realizedSnapshot[dep] = true
		}
	}
	m.unresolved[name] = unresolved
	requireSet := map[string]bool{}
	for _, r := range rec.Require {
		requireSet[r] = true
	}
	m.requireSet[name] = requireSet
	m.applyReadyRulesLocked(name, len(rec.Require) == 0)
	m.mu.Unlock()
	atomic.AddInt64(&m.progress, 1)
	return nil
}

// applyReadyRulesLocked implements: unresolved empty -> both events; else
// require empty -> prepare only; else neither. Must be called with m.mu
// held.
func (m *Manager) applyReadyRulesLocked(name string, requireEmpty bool) {
	if len(m.unresolved[name]) == 0 {
		m.prepareEv[name].Set()
		m.applyEv[name].Set()
		return
	}
	if requireEmpty {
		m.prepareEv[name].Set()
	}
}

// inheritAutoAfter looks, among every object known so far, for the one (if
// any) whose type manifest recorded name as an auto child, and copies that
// parent's current after-edges into rec, skipping any edge that would
// create a back-edge (name already has a forward edge pointing at that
// predecessor). This must run at name's own resolve() time rather than
// once from the parent's resolve(): the parent records the auto edge by
// running its type manifest (cmd/cdist-type's emulator), which happens
// strictly after the parent's own resolve() has already completed — the
// child does not exist yet when the parent is first resolved. Looking the
// parent up from the child's side, when the child is discovered, is the
// only point at which the auto edge is guaranteed to already be on disk.
func (m *Manager) inheritAutoAfter(name string, rec *depstore.Record) error {
	for _, parent := range m.namesSlice() {
		if parent == name {
			continue
		}
		parentRec, err := m.deps.Load(parent)
		if err != nil {
			return err
		}
		if !containsName(parentRec.Auto, name) {
			continue
		}
		for _, pred := range parentRec.After {
			if containsName(rec.After, pred) {
				continue
			}
			predRec, err := m.deps.Load(pred)
			if err != nil {
				return err
			}
			if containsName(predRec.After, name) {
				continue // back-edge: pred is already ordered after name
			}
			if err := m.deps.After(name, pred); err != nil {
				return err
			}
			rec.After = append(rec.After, pred)
		}
	}
	return nil
}

func containsName(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func (m *Manager) namesSlice() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

// finish marks name realized and removes it from every other pending
// object's unresolved set, re-applying ready rules for any set that became
// empty.
func (m *Manager) finish(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.realized[name] = true
	delete(m.pending, name)

	for other, unresolved := range m.unresolved {
		if !unresolved[name] {
			continue
		}
		delete(unresolved, name)
		requireEmpty := len(m.requireSet[other]) == 0
		m.applyReadyRulesLocked(other, requireEmpty)
	}
	atomic.AddInt64(&m.progress, 1)
}

// monitorQuiescence detects the scheduler-stall signature of a dependency
// cycle: no progress for a full tick while every pending object still has a
// non-empty unresolved set. On
// detection it returns a *cdisterr.CircularReference naming one of the
// stalled participants, which cancels the errgroup's context and unblocks
// every goroutine waiting on an event.
func (m *Manager) monitorQuiescence(ctx context.Context) error {
	ticker := time.NewTicker(StallTick)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		current := atomic.LoadInt64(&m.progress)
		if current == last {
			if participant, stalled := m.stalledParticipant(); stalled {
				return &cdisterr.CircularReference{Participant: participant}
			}
		}
		last = current
	}
}

// stalledParticipant names a pending object only when every pending object
// still has a non-empty unresolved set, i.e. no apply event can ever fire.
// A pending object with nothing unresolved is still making progress (for
// example a slow explorer), so it rules out a cycle.
func (m *Manager) stalledParticipant() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	participant := ""
	for name := range m.pending {
		if len(m.unresolved[name]) == 0 {
			return "", false
		}
		participant = name
	}
	return participant, participant != ""
}
