// Package registry holds the live sandbox records of one process.
//
// A Registry is constructed explicitly and handed to its collaborators;
// there is no package-level instance. Every method is safe for concurrent
// use and returns copies, so callers never hold references into the store.
package registry

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firefly-engineering/clonebox/internal/sandbox"
)

type entry struct {
	seq uint64
	sb  sandbox.Sandbox
}

// Registry is a concurrency-safe store of sandbox records keyed by id.
type Registry struct {
	counter atomic.Uint64

	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// ReserveID issues a new sandbox id. Ids are distinct even under
// concurrent callers because the counter is incremented atomically.
func (r *Registry) ReserveID(now time.Time) string {
	n := r.counter.Add(1)
	return fmt.Sprintf("sbx-%06d-%d", n, now.UnixMilli())
}

// Observe bumps the id counter past an id issued by an earlier process so
// rehydrated and new ids never collide.
func (r *Registry) Observe(id string) {
	n, ok := counterOf(id)
	if !ok {
		return
	}
	for {
		cur := r.counter.Load()
		if cur >= n || r.counter.CompareAndSwap(cur, n) {
			return
		}
	}
}

func counterOf(id string) (uint64, bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != "sbx" {
		return 0, false
	}
	n, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Insert adds a sandbox. Inserting an id that is already present fails.
func (r *Registry) Insert(sb sandbox.Sandbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[sb.ID]; exists {
		return fmt.Errorf("sandbox %s is already registered", sb.ID)
	}
	r.seq++
	r.entries[sb.ID] = &entry{seq: r.seq, sb: sb.Clone()}
	return nil
}

// Get returns a copy of the sandbox with the given id.
func (r *Registry) Get(id string) (sandbox.Sandbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return sandbox.Sandbox{}, false
	}
	return e.sb.Clone(), true
}

// Remove deletes the sandbox and returns what was stored.
func (r *Registry) Remove(id string) (sandbox.Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return sandbox.Sandbox{}, false
	}
	delete(r.entries, id)
	return e.sb, true
}

// Snapshot returns a point-in-time copy of every sandbox in insertion order.
func (r *Registry) Snapshot() []sandbox.Sandbox {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	out := make([]sandbox.Sandbox, len(entries))
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	for i, e := range entries {
		out[i] = e.sb.Clone()
	}
	r.mu.RUnlock()
	return out
}

// Count returns the number of registered sandboxes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// FindByClone returns every sandbox for a (cloneID, packageName) pair,
// newest first.
func (r *Registry) FindByClone(cloneID, packageName string) []sandbox.Sandbox {
	var out []sandbox.Sandbox
	for _, sb := range r.Snapshot() {
		if sb.CloneID == cloneID && sb.PackageName == packageName {
			out = append(out, sb)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Touch sets LastAccessed.
func (r *Registry) Touch(id string, t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.sb.LastAccessed = t
	return true
}

// Transition moves a sandbox to state to if its current state is one of
// from (any state when from is empty). It reports whether the change was
// made. Moving to StateDestroyed or StateDestroyFailed also clears Active.
func (r *Registry) Transition(id string, to sandbox.State, from ...sandbox.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if len(from) > 0 && !slices.Contains(from, e.sb.State) {
		return false
	}
	e.sb.State = to
	if to == sandbox.StateDestroyed || to == sandbox.StateDestroyFailed {
		e.sb.Active = false
	}
	return true
}
