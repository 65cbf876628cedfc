package dispatch

import (
	"sort"
	"sync"

	"github.com/mfulz/geistbind/interfaces"
	"github.com/mfulz/geistbind/internal/tasks"
	"go.uber.org/zap"
)

// Instance is a constructed, initialized device handler.
type Instance struct {
	Type    string
	Handler interfaces.Handler
	Logger  *zap.SugaredLogger
	Level   zap.AtomicLevel
	Tasks   *tasks.Group
}

// GuardResult is the outcome of Registry.Guard.
type GuardResult int

const (
	// GuardAcquired means the caller now owns the construction of the name.
	GuardAcquired GuardResult = iota
	// GuardBusy means another construction of the name is in progress.
	GuardBusy
	// GuardLoaded means an instance is already published under the name.
	GuardLoaded
)

// Registry maps device names to live instances and tracks names whose
// construction is in progress. A name is never in both sets. The lock is
// held only for the map operation itself, never across handler calls.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	loading   map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		loading:   make(map[string]struct{}),
	}
}

// Lookup returns the live instance of name.
func (r *Registry) Lookup(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// Guard tries to claim the construction of name.
func (r *Registry) Guard(name string) GuardResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[name]; ok {
		return GuardLoaded
	}
	if _, ok := r.loading[name]; ok {
		return GuardBusy
	}
	r.loading[name] = struct{}{}
	return GuardAcquired
}

// Release drops the construction claim on name without publishing.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loading, name)
}

// Publish stores inst under name and drops the construction claim in one step.
func (r *Registry) Publish(name string, inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loading, name)
	r.instances[name] = inst
}

// Remove deletes the instance of name and returns it.
func (r *Registry) Remove(name string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	delete(r.instances, name)
	return inst, ok
}

// Rename moves the instance stored under oldName to newName. It reports
// whether an instance was moved; a missing oldName is not an error. An
// instance previously stored under newName is unlinked and returned so the
// caller can tear it down.
func (r *Registry) Rename(oldName, newName string) (bool, *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[oldName]
	if !ok || oldName == newName {
		return ok, nil
	}
	displaced := r.instances[newName]
	delete(r.instances, oldName)
	r.instances[newName] = inst
	return true, displaced
}

// Loading returns the names whose construction is in progress, sorted.
func (r *Registry) Loading() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loading))
	for name := range r.loading {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Names returns the names of all live instances, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instances))
	for name := range r.instances {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
