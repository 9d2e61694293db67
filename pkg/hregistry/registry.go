// Package hregistry implements the task-library and task-state registry
// behind the admin verbs (RegisterTaskLib, CreateTaskState,
// GetOrCreateTaskStateId, DestroyTaskState): RWMutex-guarded name- and
// id-keyed maps, a bloom.BloomFilter presence cache over state names that
// TaskStateExists and GetOrCreateTaskStateId test before the map lookup,
// and hashicorp/go-plugin support for task libraries loaded
// from an external binary rather than compiled in.
package hregistry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/hstor/hrun/pkg/hids"
	"github.com/hstor/hrun/pkg/htask"
)

// LibFactory builds a fresh htask.State for a task state belonging to a
// compiled-in library, given the state's name.
type LibFactory func(stateName string) htask.State

type lib struct {
	name      string
	factory   LibFactory // set for compiled-in libraries
	pluginCli *plugin.Client
	pluginLib TaskLib // set for externally-loaded libraries
}

type stateEntry struct {
	id   hids.TaskStateId
	name string
	lib  string
	st   htask.State
}

// Registry holds every registered task library and every task state
// instantiated from one, keyed by TaskStateId.
type Registry struct {
	mu    sync.RWMutex
	libs  map[string]*lib
	byId  map[hids.TaskStateId]*stateEntry
	byNm  map[string]hids.TaskStateId // state name -> id, for GetOrCreateTaskStateId
	nextU atomic.Uint64

	presence *bloom.BloomFilter
	logger   hclog.Logger
}

// New creates an empty registry sized for an expected number of
// concurrently-live task states.
func New(expectedStates uint) *Registry {
	return &Registry{
		libs:     make(map[string]*lib),
		byId:     make(map[hids.TaskStateId]*stateEntry),
		byNm:     make(map[string]hids.TaskStateId),
		presence: bloom.NewWithEstimates(maxUint(expectedStates, 64), 0.01),
		logger:   hclog.NewNullLogger(),
	}
}

// RegisterLib registers a compiled-in task library under name.
func (r *Registry) RegisterLib(name string, factory LibFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.libs[name]; exists {
		return fmt.Errorf("hregistry: library %q already registered", name)
	}
	r.libs[name] = &lib{name: name, factory: factory}
	return nil
}

// RegisterPluginLib loads a task library from an external binary over
// hashicorp/go-plugin. The subprocess is kept alive until DestroyLib is called.
func (r *Registry) RegisterPluginLib(name, binaryPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.libs[name]; exists {
		return fmt.Errorf("hregistry: library %q already registered", name)
	}
	cli, tl, err := loadPluginLib(name, binaryPath, r.logger)
	if err != nil {
		return err
	}
	r.libs[name] = &lib{name: name, pluginCli: cli, pluginLib: tl}
	return nil
}

// DestroyLib unregisters a library. Any task states still instantiated
// from it become unreachable; the caller is responsible for destroying
// them first.
func (r *Registry) DestroyLib(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.libs[name]
	if !ok {
		return fmt.Errorf("hregistry: library %q not registered", name)
	}
	if l.pluginCli != nil {
		l.pluginCli.Kill()
	}
	delete(r.libs, name)
	return nil
}

// LibExists reports whether a library is registered, under the read lock.
func (r *Registry) LibExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.libs[name]
	return ok
}

// CreateTaskState instantiates a new, uniquely-identified task state from
// libName. Compiled-in libraries build the
// htask.State directly; plugin-backed libraries get a thin adapter that
// forwards Run through Invoke.
func (r *Registry) CreateTaskState(localNode hids.NodeId, libName, stateName string) (hids.TaskStateId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.libs[libName]
	if !ok {
		return hids.NullUniqueId, fmt.Errorf("hregistry: library %q not registered", libName)
	}
	if existing, ok := r.byNm[stateName]; ok {
		return existing, fmt.Errorf("hregistry: task state %q already exists as %s", stateName, existing)
	}

	id := hids.UniqueId{NodeId: localNode, Hash: hashName(stateName), Unique: r.nextU.Add(1)}

	var st htask.State
	if l.factory != nil {
		st = l.factory(stateName)
	} else {
		if err := l.pluginLib.Construct(stateName); err != nil {
			return hids.NullUniqueId, fmt.Errorf("hregistry: plugin construct: %w", err)
		}
		st = &pluginState{lib: l.pluginLib}
	}

	r.byId[id] = &stateEntry{id: id, name: stateName, lib: libName, st: st}
	r.byNm[stateName] = id
	r.presence.Add([]byte(stateName))
	return id, nil
}

// CreateTaskStateWithId instantiates stateName from libName under a
// caller-supplied id rather than minting a fresh one: a peer that already
// learned id from node 1's GetOrCreateTaskStateId calls this so every
// node's local copy of the task state shares one identity.
// It is idempotent: if id is already known, it is returned unchanged.
func (r *Registry) CreateTaskStateWithId(id hids.TaskStateId, libName, stateName string) (hids.TaskStateId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byId[id]; ok {
		return id, nil
	}

	l, ok := r.libs[libName]
	if !ok {
		return hids.NullUniqueId, fmt.Errorf("hregistry: library %q not registered", libName)
	}
	if existing, ok := r.byNm[stateName]; ok && existing != id {
		return hids.NullUniqueId, fmt.Errorf("hregistry: task state %q already exists as %s", stateName, existing)
	}

	var st htask.State
	if l.factory != nil {
		st = l.factory(stateName)
	} else {
		if err := l.pluginLib.Construct(stateName); err != nil {
			return hids.NullUniqueId, fmt.Errorf("hregistry: plugin construct: %w", err)
		}
		st = &pluginState{lib: l.pluginLib}
	}

	r.byId[id] = &stateEntry{id: id, name: stateName, lib: libName, st: st}
	r.byNm[stateName] = id
	r.presence.Add([]byte(stateName))
	return id, nil
}

// GetOrCreateTaskStateId is the idempotent variant admin clients use: if a
// state with this name already exists, its id is returned instead of
// erroring.
func (r *Registry) GetOrCreateTaskStateId(localNode hids.NodeId, libName, stateName string) (hids.TaskStateId, error) {
	r.mu.RLock()
	if !r.presence.Test([]byte(stateName)) {
		r.mu.RUnlock()
	} else if id, ok := r.byNm[stateName]; ok {
		r.mu.RUnlock()
		return id, nil
	} else {
		r.mu.RUnlock()
	}
	id, err := r.CreateTaskState(localNode, libName, stateName)
	if err != nil {
		// Lost the race with a concurrent creator; fall back to the
		// now-existing id rather than surfacing the collision.
		r.mu.RLock()
		defer r.mu.RUnlock()
		if existing, ok := r.byNm[stateName]; ok {
			return existing, nil
		}
		return hids.NullUniqueId, err
	}
	return id, nil
}

// GetTaskStateId looks up an existing task state's id by name.
func (r *Registry) GetTaskStateId(stateName string) (hids.TaskStateId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNm[stateName]
	return id, ok
}

// GetTaskState returns the htask.State instance for id.
func (r *Registry) GetTaskState(id hids.TaskStateId) (htask.State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byId[id]
	if !ok {
		return nil, false
	}
	return e.st, true
}

// TaskStateExists reports whether id names a live task state, consulting
// the bloom filter on name first (when name is non-empty) before acquiring
// the lock for the definitive answer.
func (r *Registry) TaskStateExists(id hids.TaskStateId, name string) bool {
	if name != "" && !r.presence.Test([]byte(name)) {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byId[id]
	return ok
}

// StateSummary is a read-only view of one live task state, for the admin
// debug surface (pkg/hadmin) to report without exposing the registry's
// internal maps.
type StateSummary struct {
	Id   hids.TaskStateId
	Name string
	Lib  string
}

// Snapshot returns a summary of every currently live task state, in no
// particular order.
func (r *Registry) Snapshot() []StateSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StateSummary, 0, len(r.byId))
	for _, e := range r.byId {
		out = append(out, StateSummary{Id: e.id, Name: e.name, Lib: e.lib})
	}
	return out
}

// LibNames returns the names of every currently registered task library.
func (r *Registry) LibNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.libs))
	for name := range r.libs {
		out = append(out, name)
	}
	return out
}

// DestroyTaskState removes a task state.
func (r *Registry) DestroyTaskState(id hids.TaskStateId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byId[id]
	if !ok {
		return fmt.Errorf("hregistry: task state %s not found", id)
	}
	delete(r.byId, id)
	delete(r.byNm, e.name)
	return nil
}

func hashName(name string) uint32 {
	return uint32(xxhash.Sum64String(name))
}

func maxUint(a, b uint) uint {
	if a > b {
		return a
	}
	return b
}
