// Package store implements the thread-safe in-memory package dependency graph.
// The dual-map architecture (forward edges, reverse edges) enables O(1) query
// and O(deps) index/remove operations by avoiding a scan of the forward map to
// find a package's dependents.
package store

import (
	"sync"
)

// StringSet is a set of strings backed by a map for O(1) membership tests.
type StringSet map[string]struct{}

// NewStringSet creates a new empty string set.
func NewStringSet() StringSet {
	return make(StringSet)
}

// Add adds an item to the set.
func (s StringSet) Add(item string) {
	s[item] = struct{}{}
}

// Remove removes an item from the set.
func (s StringSet) Remove(item string) {
	delete(s, item)
}

// Contains reports whether item is a member of the set.
func (s StringSet) Contains(item string) bool {
	_, ok := s[item]
	return ok
}

// Len returns the number of items in the set.
func (s StringSet) Len() int {
	return len(s)
}

// Slice returns the set's members in unspecified order.
func (s StringSet) Slice() []string {
	out := make([]string, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	return out
}

// RemoveResult is the outcome of a Remove call.
type RemoveResult int

const (
	RemoveOK         RemoveResult = iota // package removed
	RemoveNotIndexed                     // package was not indexed; idempotent success
	RemoveBlocked                        // package has live dependents
)

// Store is the dependency graph described in spec.md §3-4.1: a forward map of
// package name to declared dependencies, and a reverse map of package name to
// the set of packages that currently declare it as a dependency.
//
// A single RWMutex guards both maps. The spec calls for one global lock held
// across an entire operation (§5); RWMutex additionally lets concurrent
// Query calls proceed without contending with each other, which the spec
// permits but does not require.
type Store struct {
	mu sync.RWMutex

	forward StringSet // keys of forward == "currently indexed"
	deps    map[string]StringSet
	revdeps map[string]StringSet
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		forward: NewStringSet(),
		deps:    make(map[string]StringSet),
		revdeps: make(map[string]StringSet),
	}
}

// unlinkDependent removes pkg from dependency's reverse set, if present.
// Caller must hold s.mu for writing.
func (s *Store) unlinkDependent(dependency, pkg string) {
	rev := s.revdeps[dependency]
	if rev == nil {
		return
	}
	rev.Remove(pkg)
}

// Index adds pkg to the graph with exactly the dependency set deps, or
// updates it if already present. It fails if pkg depends on itself or if any
// dependency is not currently indexed (spec.md §4.1 index precondition).
//
// On success the new dependency set wholly replaces any previous one; stale
// reverse edges to dependencies no longer declared are dropped first.
func (s *Store) Index(pkg string, deps StringSet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deps.Contains(pkg) {
		return false // self-loop
	}
	for dep := range deps {
		if !s.forward.Contains(dep) {
			return false // dependency not indexed
		}
	}

	if old, ok := s.deps[pkg]; ok {
		for dep := range old {
			if !deps.Contains(dep) {
				s.unlinkDependent(dep, pkg)
			}
		}
	}

	for dep := range deps {
		if s.revdeps[dep] == nil {
			s.revdeps[dep] = NewStringSet()
		}
		s.revdeps[dep].Add(pkg)
	}

	s.forward.Add(pkg)
	s.deps[pkg] = deps

	return true
}

// Remove deletes pkg from the graph. It is idempotent: removing a package
// that is not indexed succeeds. It fails if any currently-indexed package
// still lists pkg as a dependency.
//
// Per spec.md §4.1 (and §9's open question), the reverse-map entry for pkg
// is left in place rather than deleted. It is always empty at that point,
// since Remove returns RemoveBlocked while any dependent remains; GC
// reclaims such entries.
func (s *Store) Remove(pkg string) RemoveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.forward.Contains(pkg) {
		return RemoveNotIndexed
	}
	if rev := s.revdeps[pkg]; rev != nil && rev.Len() > 0 {
		return RemoveBlocked
	}

	for dep := range s.deps[pkg] {
		s.unlinkDependent(dep, pkg)
	}
	delete(s.deps, pkg)
	s.forward.Remove(pkg)

	return RemoveOK
}

// Query reports whether pkg is currently indexed.
func (s *Store) Query(pkg string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.forward.Contains(pkg)
}

// Len returns the number of currently indexed packages, for metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.forward.Len()
}

// GC drops reverse-map entries that are both empty and not themselves a
// forward key. This is the optimization spec.md §9 permits ("An implementer
// may garbage-collect reverse entries whose value is empty and whose key is
// not in forward") without changing any externally observable response. It
// is not called automatically; callers may schedule it periodically.
func (s *Store) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	collected := 0
	for name, rev := range s.revdeps {
		if rev.Len() == 0 && !s.forward.Contains(name) {
			delete(s.revdeps, name)
			collected++
		}
	}
	return collected
}
