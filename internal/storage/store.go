package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/dreamware/vmm/internal/dn"
	"github.com/dreamware/vmm/internal/model"
)

var (
	// ErrNotFound is returned when no entity has the requested name or id
	ErrNotFound = errors.New("entity not found")
	// ErrExists is returned when inserting a name that is already stored
	ErrExists = errors.New("entity already exists")
	// ErrNoName is returned for entities without a unique name
	ErrNoName = errors.New("entity has no unique name")
)

// Store defines the interface for entity storage
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Get retrieves an entity by unique name (case-insensitive)
	// Returns ErrNotFound if no entity has the name
	Get(name string) (*model.Entity, error)

	// GetByID retrieves an entity by unique id
	GetByID(uniqueID string) (*model.Entity, error)

	// Insert stores a new entity
	// Returns ErrExists if the name is taken
	Insert(e *model.Entity) error

	// Put stores an entity, replacing any entity of the same name
	Put(e *model.Entity) error

	// Delete removes an entity by unique name
	// Returns ErrNotFound if no entity has the name
	Delete(name string) error

	// List returns all entities ordered by normalized unique name
	List() []*model.Entity

	// Changes returns the names changed after revision and the current
	// revision
	Changes(since uint64) (names []string, revision uint64)

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Entities int    // Number of entities
	Revision uint64 // Number of mutations so far
}

// change is one entry of the mutation log.
type change struct {
	revision uint64
	name     string
}

// MemoryStore implements Store with in-memory maps
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu       sync.RWMutex             // Protects everything below
	data     map[string]*model.Entity // Normalized unique name -> entity
	ids      map[string]string        // Unique id -> normalized unique name
	log      []change                 // Mutations in revision order
	revision uint64
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*model.Entity),
		ids:  make(map[string]string),
	}
}

func key(name string) string {
	return strings.ToLower(dn.Normalize(name))
}

// Get retrieves an entity by unique name
// Returns a copy to prevent external modification
func (m *MemoryStore) Get(name string) (*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.data[key(name)]
	if !exists {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// GetByID retrieves an entity by unique id
func (m *MemoryStore) GetByID(uniqueID string) (*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, exists := m.ids[uniqueID]
	if !exists {
		return nil, ErrNotFound
	}
	return m.data[k].Clone(), nil
}

// Insert stores a new entity
func (m *MemoryStore) Insert(e *model.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(e.UniqueName())
	if k == "" {
		return ErrNoName
	}
	if _, exists := m.data[k]; exists {
		return ErrExists
	}
	m.store(k, e)
	return nil
}

// Put stores an entity, replacing an existing one
func (m *MemoryStore) Put(e *model.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(e.UniqueName())
	if k == "" {
		return ErrNoName
	}
	if old, exists := m.data[k]; exists && old.ID.UniqueID != "" {
		delete(m.ids, old.ID.UniqueID)
	}
	m.store(k, e)
	return nil
}

// store saves a copy of e under k. Callers hold the write lock.
func (m *MemoryStore) store(k string, e *model.Entity) {
	stored := e.Clone()
	m.data[k] = stored
	if stored.ID.UniqueID != "" {
		m.ids[stored.ID.UniqueID] = k
	}
	m.record(k)
}

func (m *MemoryStore) record(k string) {
	m.revision++
	m.log = append(m.log, change{revision: m.revision, name: k})
}

// Delete removes an entity by unique name
func (m *MemoryStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(name)
	e, exists := m.data[k]
	if !exists {
		return ErrNotFound
	}
	if e.ID.UniqueID != "" {
		delete(m.ids, e.ID.UniqueID)
	}
	delete(m.data, k)
	m.record(k)
	return nil
}

// List returns copies of all entities ordered by normalized name
func (m *MemoryStore) List() []*model.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*model.Entity, len(keys))
	for i, k := range keys {
		out[i] = m.data[k].Clone()
	}
	return out
}

// Changes returns the normalized names mutated after revision since,
// each once, in the order of their last change. Deleted names are
// included; callers tell deletions apart by looking them up.
func (m *MemoryStore) Changes(since uint64) ([]string, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := sort.Search(len(m.log), func(i int) bool { return m.log[i].revision > since })
	last := make(map[string]int)
	for i := idx; i < len(m.log); i++ {
		last[m.log[i].name] = i
	}

	var names []string
	for i := idx; i < len(m.log); i++ {
		if last[m.log[i].name] == i {
			names = append(names, m.log[i].name)
		}
	}
	return names, m.revision
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return StoreStats{
		Entities: len(m.data),
		Revision: m.revision,
	}
}
