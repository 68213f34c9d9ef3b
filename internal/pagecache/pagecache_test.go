package pagecache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vmm/internal/model"
)

func entities(prefix string, n int) []*model.Entity {
	out := make([]*model.Entity, n)
	for i := range out {
		out[i] = model.NewEntity(model.TypePerson, fmt.Sprintf("uid=%s%d,o=corp", prefix, i))
	}
	return out
}

// TestNewKey tests that keys are deterministic and discriminating
func TestNewKey(t *testing.T) {
	asc := []model.SortKey{{Property: "sn", Ascending: true}}
	desc := []model.SortKey{{Property: "sn", Ascending: false}}

	base := NewKey("uid='a*'", []string{"uid", "cn"}, asc)

	assert.Equal(t, base, NewKey("uid='a*'", []string{"UID", "cn"}, asc))
	assert.Equal(t, base, NewKey("uid='a*'", []string{"uid", "cn", "sn"}, asc), "sort properties are part of the union")
	assert.NotEqual(t, base, NewKey("uid='b*'", []string{"uid", "cn"}, asc))
	assert.NotEqual(t, base, NewKey("uid='a*'", []string{"cn", "uid"}, asc), "property order is preserved")
	assert.NotEqual(t, base, NewKey("uid='a*'", []string{"uid", "cn"}, desc))
	assert.NotEqual(t, base, NewKey("uid='a*'", []string{"uid", "cn"}, nil))
}

// TestScopedKey tests that results built in different scopes never share a key
func TestScopedKey(t *testing.T) {
	base := NewKey("uid='*'", []string{"uid"}, nil)
	scope := Scope{Realm: "default", Bases: []string{"o=corp"}, Types: []model.EntityType{model.TypePerson}}
	k := base.Scoped(scope)

	assert.True(t, strings.HasPrefix(string(k), string(base)+"|"), "expression, properties and sort lead the key")
	assert.Equal(t, k, base.Scoped(Scope{Realm: "Default", Bases: []string{"O=Corp"}, Types: []model.EntityType{"personaccount"}}))

	tests := []struct {
		name  string
		scope Scope
	}{
		{name: "realm", scope: Scope{Realm: "corp", Bases: scope.Bases, Types: scope.Types}},
		{name: "bases", scope: Scope{Realm: "default", Bases: []string{"o=legacy"}, Types: scope.Types}},
		{name: "no bases", scope: Scope{Realm: "default", Types: scope.Types}},
		{name: "types", scope: Scope{Realm: "default", Bases: scope.Bases, Types: []model.EntityType{model.TypeGroup}}},
		{name: "count limit", scope: Scope{Realm: "default", Bases: scope.Bases, Types: scope.Types, CountLimit: 2}},
		{name: "search limit", scope: Scope{Realm: "default", Bases: scope.Bases, Types: scope.Types, SearchLimit: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, k, base.Scoped(tt.scope))
		})
	}
}

// TestEntryMarkers tests that pages carry the markers of the stored result
func TestEntryMarkers(t *testing.T) {
	c := New(Options{Logger: zerolog.Nop()})
	k := NewKey("cn='*'", nil, nil)

	c.StoreEntry(k, Entry{
		Entities:     entities("u", 3),
		Repositories: []string{"repo1"},
		Failures:     []string{"repo2"},
		More:         true,
		Total:        99,
	})

	page, e, hit := c.PageEntry(k, 0, 2)
	require.True(t, hit)
	assert.Len(t, page, 2)
	assert.Equal(t, 3, e.Total, "total is counted from the entities")
	assert.Equal(t, []string{"repo2"}, e.Failures)
	assert.True(t, e.More)

	assert.Equal(t, 1, c.ClearRepository("repo2"), "a repository missing from a result clears it")
	assert.Equal(t, 0, c.Len())
}

// TestPageRoundTrip tests serving consecutive pages from one stored result
func TestPageRoundTrip(t *testing.T) {
	c := New(Options{Logger: zerolog.Nop()})
	k := NewKey("cn='*'", nil, nil)

	_, _, hit := c.Page(k, 0, 2)
	assert.False(t, hit)

	c.Store(k, entities("u", 5), []string{"repo1"})
	assert.Equal(t, 1, c.Len())

	tests := []struct {
		start, size int
		want        []string
		cachedAfter bool
	}{
		{start: 0, size: 2, want: []string{"uid=u0,o=corp", "uid=u1,o=corp"}, cachedAfter: true},
		{start: 2, size: 2, want: []string{"uid=u2,o=corp", "uid=u3,o=corp"}, cachedAfter: true},
		{start: 4, size: 2, want: []string{"uid=u4,o=corp"}, cachedAfter: false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("start=%d", tt.start), func(t *testing.T) {
			page, total, hit := c.Page(k, tt.start, tt.size)
			require.True(t, hit)
			assert.Equal(t, 5, total)
			var got []string
			for _, e := range page {
				got = append(got, e.UniqueName())
			}
			assert.Equal(t, tt.want, got)
			_, cached := c.Lookup(k)
			assert.Equal(t, tt.cachedAfter, cached)
		})
	}
}

// TestPageZeroSizeInvalidates tests that size 0 drops the entry
func TestPageZeroSizeInvalidates(t *testing.T) {
	c := New(Options{Logger: zerolog.Nop()})
	k := Key("k")
	c.Store(k, entities("u", 3), nil)

	page, total, hit := c.Page(k, 0, 0)
	assert.True(t, hit)
	assert.Nil(t, page)
	assert.Equal(t, 3, total)
	assert.Equal(t, 0, c.Len())
}

// TestSlice tests clamping
func TestSlice(t *testing.T) {
	all := entities("u", 5)

	tests := []struct {
		name        string
		start, size int
		wantLen     int
		wantFinal   bool
	}{
		{name: "first page", start: 0, size: 2, wantLen: 2},
		{name: "exact end", start: 3, size: 2, wantLen: 2, wantFinal: true},
		{name: "past end", start: 4, size: 10, wantLen: 1, wantFinal: true},
		{name: "start beyond total", start: 9, size: 2, wantLen: 0, wantFinal: true},
		{name: "negative start", start: -3, size: 2, wantLen: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, final := Slice(all, tt.start, tt.size)
			assert.Len(t, page, tt.wantLen)
			assert.Equal(t, tt.wantFinal, final)
		})
	}

	// Pages share the stored backing array
	page, _ := Slice(all, 1, 2)
	assert.Same(t, all[1], page[0])
	assert.Equal(t, 2, cap(page), "appending to a page must not overwrite the snapshot")
}

// TestClears tests administrative clears
func TestClears(t *testing.T) {
	c := New(Options{Logger: zerolog.Nop()})
	c.Store("a", entities("a", 2), []string{"repo1"})
	c.Store("b", entities("b", 2), []string{"repo1", "repo2"})
	c.Store("c", entities("c", 2), []string{"repo3"})

	assert.Equal(t, 0, c.ClearRepository("missing"))
	assert.Equal(t, 2, c.ClearRepository("repo1"))
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 0, c.ClearEntity("uid=zz,o=corp"))
	assert.Equal(t, 1, c.ClearEntity("UID=c1, O=Corp"))
	assert.Equal(t, 0, c.Len())

	c.Store("d", entities("d", 1), nil)
	c.ClearAll()
	assert.Equal(t, 0, c.Len())

	// Clearing missing keys never fails
	c.Invalidate("nope")
	c.ClearAll()
}

// TestExpiryAndCapacity tests TTL and capacity bounds
func TestExpiryAndCapacity(t *testing.T) {
	var mu sync.Mutex
	reasons := map[string]int{}

	c := New(Options{
		TTL:      50 * time.Millisecond,
		Capacity: 2,
		Logger:   zerolog.Nop(),
		OnEvict: func(reason string) {
			mu.Lock()
			reasons[reason]++
			mu.Unlock()
		},
	})
	go c.Start()
	defer c.Stop()

	c.Store("a", entities("a", 1), nil)
	c.Store("b", entities("b", 1), nil)
	c.Store("c", entities("c", 1), nil)

	_, ok := c.Lookup("a")
	assert.False(t, ok, "oldest entry evicted at capacity")
	assert.Equal(t, 2, c.Len())

	// Reads do not extend lifetime
	assert.Eventually(t, func() bool {
		_, ok := c.Lookup("b")
		return !ok
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reasons["capacity"] == 1 && reasons["expired"] >= 1
	}, time.Second, 10*time.Millisecond)
}
