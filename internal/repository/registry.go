package repository

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/vmm/internal/dn"
)

// Snapshot is an immutable view of the configured repositories. Requests take
// one snapshot at the start and use it throughout, so a concurrent
// reconfiguration never changes the repository set under a running request.
//
// Descriptors keep configuration order. Wherever two repositories tie, the
// one configured first wins.
type Snapshot struct {
	descriptors []*Descriptor
	byID        map[string]*Descriptor
}

func newSnapshot(descriptors []*Descriptor) *Snapshot {
	s := &Snapshot{
		descriptors: descriptors,
		byID:        make(map[string]*Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		s.byID[d.ID] = d
	}
	return s
}

// Get returns the descriptor registered under id.
func (s *Snapshot) Get(id string) (*Descriptor, bool) {
	d, ok := s.byID[id]
	return d, ok
}

// Len returns the number of repositories.
func (s *Snapshot) Len() int {
	return len(s.descriptors)
}

// IDs returns the repository ids in configuration order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, len(s.descriptors))
	for i, d := range s.descriptors {
		ids[i] = d.ID
	}
	return ids
}

// Descriptors returns the descriptors in configuration order. The slice is a
// copy; the descriptors themselves are shared and must not be modified.
func (s *Snapshot) Descriptors() []*Descriptor {
	return append([]*Descriptor(nil), s.descriptors...)
}

// Select returns the descriptors whose ids are listed, in configuration
// order. A nil list selects every repository.
func (s *Snapshot) Select(ids []string) []*Descriptor {
	if ids == nil {
		return s.Descriptors()
	}
	var out []*Descriptor
	for _, d := range s.descriptors {
		if slices.Contains(ids, d.ID) {
			out = append(out, d)
		}
	}
	return out
}

// Owner finds the repository owning a unique name, considering only the
// repositories listed in permitted (all of them when permitted is nil).
//
// Resolution rules:
//   - A base entry equal to the name wins outright.
//   - Otherwise the base entry with the longest comma-aligned suffix wins.
//   - Ties go to the repository configured first.
//
// Example:
//
//	// repo1 owns "o=corp", repo2 owns "ou=lab,o=corp"
//	d, _ := snap.Owner("uid=alice,ou=lab,o=corp", nil) // repo2
//	d, _ = snap.Owner("uid=bob,o=corp", nil)           // repo1
func (s *Snapshot) Owner(name string, permitted []string) (*Descriptor, bool) {
	var best *Descriptor
	bestLen := -1

	for _, d := range s.Select(permitted) {
		l, exact := d.Match(name)
		if exact {
			return d, true
		}
		if l > bestLen {
			best, bestLen = d, l
		}
	}

	if best == nil || bestLen < 0 {
		return nil, false
	}
	return best, true
}

// Overlapping returns the repositories with a base entry equal to, above or
// below any of the given names, in configuration order.
func (s *Snapshot) Overlapping(names []string) []*Descriptor {
	var out []*Descriptor
	for _, d := range s.descriptors {
		for _, n := range names {
			if d.Overlaps(n) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Registry holds the current repository snapshot and swaps it atomically on
// every change.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│               Registry                   │
//	├──────────────────────────────────────────┤
//	│  current: *Snapshot (immutable)          │
//	│  mu: RWMutex guarding the pointer        │
//	├──────────────────────────────────────────┤
//	│  Register/Unregister/Replace             │
//	│    copy descriptors → new Snapshot → swap│
//	│  Snapshot()                              │
//	│    RLock → pointer → RUnlock             │
//	└──────────────────────────────────────────┘
//
// Concurrency Model:
//   - Readers hold the lock only long enough to read the pointer
//   - Writers build the next snapshot and swap it under the write lock
//   - Snapshots are never modified after publication
//
// Example:
//
//	reg := NewRegistry()
//	_ = reg.Register(&Descriptor{ID: "ldap1", Adapter: a, BaseEntries: ...})
//	snap := reg.Snapshot()
//	owner, ok := snap.Owner("uid=alice,o=corp", nil)
type Registry struct {
	current *Snapshot
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{current: newSnapshot(nil)}
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Register adds a repository. The id must be non-empty and unused.
func (r *Registry) Register(d *Descriptor) error {
	if err := validate(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.current.byID[d.ID]; exists {
		return fmt.Errorf("repository %q already registered", d.ID)
	}

	next := append(r.current.Descriptors(), d)
	r.current = newSnapshot(next)
	return nil
}

// Unregister removes a repository. Removing an unknown id is not an error.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Descriptors()
	next = slices.DeleteFunc(next, func(d *Descriptor) bool { return d.ID == id })
	r.current = newSnapshot(next)
}

// Replace installs a whole new repository set, as a configuration reload
// does. Nothing changes when the set is invalid.
func (r *Registry) Replace(descriptors []*Descriptor) error {
	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if err := validate(d); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("repository %q configured twice", d.ID)
		}
		seen[d.ID] = true
	}

	next := newSnapshot(append([]*Descriptor(nil), descriptors...))

	r.mu.Lock()
	r.current = next
	r.mu.Unlock()
	return nil
}

// Get returns the descriptor registered under id in the current snapshot.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	return r.Snapshot().Get(id)
}

// Len returns the number of registered repositories.
func (r *Registry) Len() int {
	return r.Snapshot().Len()
}

func validate(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("nil repository descriptor")
	}
	if d.ID == "" {
		return fmt.Errorf("repository id cannot be empty")
	}
	if d.Adapter == nil {
		return fmt.Errorf("repository %q has no adapter", d.ID)
	}
	for _, b := range d.BaseEntries {
		if dn.Normalize(b.Name) == "" {
			return fmt.Errorf("repository %q has an empty base entry", d.ID)
		}
	}
	return nil
}
