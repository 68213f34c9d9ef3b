// Package pagecache keeps full federated search results so that paged
// searches can be served slice by slice without asking the repositories
// again.
//
// An entry is created by the first paged search for a key and removed by
// whichever comes first: its TTL, capacity pressure (least recently used
// first), delivery of its final slice, or an administrative clear. Reading
// an entry does not extend its lifetime.
package pagecache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/vmm/internal/aggregate"
	"github.com/dreamware/vmm/internal/dn"
	"github.com/dreamware/vmm/internal/model"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 1000
)

// Key identifies a cached result: the expression, the fetched properties and
// the sort keys, followed by the scope the result was built in.
type Key string

// NewKey builds the key of a search. props and the sort key properties are
// unioned in order and compared case-insensitively, so the same search
// always yields the same key.
func NewKey(expression string, props []string, keys []model.SortKey) Key {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(expression))
	b.WriteString("|")

	sortProps := make([]string, len(keys))
	for i, k := range keys {
		sortProps[i] = k.Property
	}
	for i, p := range aggregate.Union(props, sortProps) {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strings.ToLower(p))
	}

	b.WriteString("|")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strings.ToLower(k.Property))
		b.WriteString(":")
		b.WriteString(strconv.FormatBool(k.Ascending))
	}
	return Key(b.String())
}

// Scope is what narrows a search beyond its expression: the realm, the
// search bases, the entity types and the limits. Results built under
// different scopes never share an entry.
type Scope struct {
	Realm       string
	Bases       []string
	Types       []model.EntityType
	CountLimit  int
	SearchLimit int
}

// Scoped appends s to the key.
func (k Key) Scoped(s Scope) Key {
	var b strings.Builder
	b.WriteString(string(k))
	b.WriteString("|")
	b.WriteString(strings.ToLower(s.Realm))
	b.WriteString("|")
	for i, base := range s.Bases {
		if i > 0 {
			b.WriteString(";")
		}
		b.WriteString(strings.ToLower(dn.Normalize(base)))
	}
	b.WriteString("|")
	for i, t := range s.Types {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strings.ToLower(string(t)))
	}
	b.WriteString("|")
	b.WriteString(strconv.Itoa(s.CountLimit))
	b.WriteString(":")
	b.WriteString(strconv.Itoa(s.SearchLimit))
	return Key(b.String())
}

// Entry is a cached full result with the response markers it was built
// with, so every page reports the same partial-failure context.
type Entry struct {
	Entities     []*model.Entity
	Repositories []string
	Failures     []string
	More         bool
	Bridge       bool
	Total        int
}

// Options configures a Cache.
type Options struct {
	TTL      time.Duration
	Capacity uint64
	Logger   zerolog.Logger
	// OnEvict, when set, is called with the reason of every removal:
	// "expired", "capacity" or "deleted".
	OnEvict func(reason string)
}

// Cache is safe for concurrent use. Concurrent stores for the same key are
// last-writer-wins.
type Cache struct {
	items *ttlcache.Cache[Key, *Entry]
	log   zerolog.Logger
}

// New creates a cache. Call Start to run background expiry.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}

	c := &Cache{
		items: ttlcache.New(
			ttlcache.WithTTL[Key, *Entry](opts.TTL),
			ttlcache.WithCapacity[Key, *Entry](opts.Capacity),
			ttlcache.WithDisableTouchOnHit[Key, *Entry](),
		),
		log: opts.Logger.With().Str("component", "pagecache").Logger(),
	}

	c.items.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[Key, *Entry]) {
		r := evictionReason(reason)
		c.log.Debug().Str("key", string(item.Key())).Str("reason", r).Msg("page cache entry removed")
		if opts.OnEvict != nil {
			opts.OnEvict(r)
		}
	})

	return c
}

func evictionReason(reason ttlcache.EvictionReason) string {
	switch reason {
	case ttlcache.EvictionReasonExpired:
		return "expired"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	default:
		return "deleted"
	}
}

// Start runs the expiry loop until Stop. It blocks; run it in a goroutine.
func (c *Cache) Start() {
	c.items.Start()
}

// Stop ends the expiry loop.
func (c *Cache) Stop() {
	c.items.Stop()
}

// Store caches a full result under k.
func (c *Cache) Store(k Key, entities []*model.Entity, repositories []string) *Entry {
	return c.StoreEntry(k, Entry{Entities: entities, Repositories: repositories})
}

// StoreEntry caches e under k. Total is taken from e.Entities.
func (c *Cache) StoreEntry(k Key, e Entry) *Entry {
	e.Total = len(e.Entities)
	entry := &e
	c.items.Set(k, entry, ttlcache.DefaultTTL)
	return entry
}

// Lookup returns the entry cached under k.
func (c *Cache) Lookup(k Key) (*Entry, bool) {
	item := c.items.Get(k)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Page serves [start, start+size) of the entry cached under k, clamped to
// its total. The returned slice shares the cached backing array and must
// not be modified. Serving the final slice removes the entry. A size of 0
// removes the entry and returns nothing.
func (c *Cache) Page(k Key, start, size int) (page []*model.Entity, total int, hit bool) {
	page, e, hit := c.PageEntry(k, start, size)
	if !hit {
		return nil, 0, false
	}
	return page, e.Total, true
}

// PageEntry is Page returning the whole entry, for callers that need its
// response markers.
func (c *Cache) PageEntry(k Key, start, size int) ([]*model.Entity, *Entry, bool) {
	e, ok := c.Lookup(k)
	if !ok {
		return nil, nil, false
	}
	if size <= 0 {
		c.Invalidate(k)
		return nil, e, true
	}

	page, final := Slice(e.Entities, start, size)
	if final {
		c.Invalidate(k)
	}
	return page, e, true
}

// Slice returns [start, start+size) of entities clamped to its length, and
// whether the slice reaches the end.
func Slice(entities []*model.Entity, start, size int) ([]*model.Entity, bool) {
	total := len(entities)
	if start < 0 {
		start = 0
	}
	if start >= total {
		return []*model.Entity{}, true
	}
	end := start + size
	if size <= 0 || end >= total {
		return entities[start:total:total], true
	}
	return entities[start:end:end], false
}

// Invalidate removes the entry cached under k. Missing keys are ignored.
func (c *Cache) Invalidate(k Key) {
	c.items.Delete(k)
}

// ClearRepository removes every entry a repository contributed to or was
// missing from, and returns how many were removed.
func (c *Cache) ClearRepository(id string) int {
	n := 0
	for k, item := range c.items.Items() {
		e := item.Value()
		if slices.Contains(e.Repositories, id) || slices.Contains(e.Failures, id) {
			c.items.Delete(k)
			n++
		}
	}
	return n
}


// ClearEntity removes every entry holding the entity with the given unique
// name and returns how many were removed.
func (c *Cache) ClearEntity(uniqueName string) int {
	n := 0
	for k, item := range c.items.Items() {
		for _, e := range item.Value().Entities {
			if dn.Equal(e.UniqueName(), uniqueName) {
				c.items.Delete(k)
				n++
				break
			}
		}
	}
	return n
}

// ClearAll removes every entry.
func (c *Cache) ClearAll() {
	c.items.DeleteAll()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.items.Len()
}
