package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vmm/internal/model"
)

func person(name, id string) *model.Entity {
	e := model.NewEntity(model.TypePerson, name)
	e.ID.UniqueID = id
	e.Set(model.PropCN, name)
	return e
}

// TestMemoryStore tests the in-memory store implementation
func TestMemoryStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore()

		assert.Empty(t, store.List())
		_, err := store.Get("uid=nobody,o=corp")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, StoreStats{}, store.Stats())
	})

	t.Run("insert and get", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Insert(person("uid=alice,o=corp", "1")))

		got, err := store.Get("UID=Alice, O=Corp")
		require.NoError(t, err)
		assert.Equal(t, "uid=alice,o=corp", got.UniqueName())

		byID, err := store.GetByID("1")
		require.NoError(t, err)
		assert.Equal(t, got, byID)
	})

	t.Run("insert rejects duplicates and unnamed entities", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Insert(person("uid=alice,o=corp", "1")))
		assert.ErrorIs(t, store.Insert(person("uid=ALICE,o=corp", "2")), ErrExists)
		assert.ErrorIs(t, store.Insert(&model.Entity{Type: model.TypePerson}), ErrNoName)
	})

	t.Run("put overwrites and reindexes", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(person("uid=alice,o=corp", "1")))
		require.NoError(t, store.Put(person("uid=alice,o=corp", "2")))

		_, err := store.GetByID("1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.GetByID("2")
		assert.NoError(t, err)
		assert.Equal(t, 1, store.Stats().Entities)
	})

	t.Run("delete", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Insert(person("uid=alice,o=corp", "1")))
		require.NoError(t, store.Delete("uid=alice,o=corp"))

		_, err := store.Get("uid=alice,o=corp")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.GetByID("1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete("uid=alice,o=corp"), ErrNotFound)
	})

	t.Run("copies isolate the store", func(t *testing.T) {
		store := NewMemoryStore()
		in := person("uid=alice,o=corp", "1")
		require.NoError(t, store.Insert(in))
		in.Set(model.PropCN, "changed")

		got, err := store.Get("uid=alice,o=corp")
		require.NoError(t, err)
		assert.Equal(t, "uid=alice,o=corp", got.First(model.PropCN))

		got.Set(model.PropCN, "changed too")
		again, _ := store.Get("uid=alice,o=corp")
		assert.Equal(t, "uid=alice,o=corp", again.First(model.PropCN))
	})

	t.Run("list is sorted by name", func(t *testing.T) {
		store := NewMemoryStore()
		for _, n := range []string{"uid=c,o=corp", "uid=a,o=corp", "uid=b,o=corp"} {
			require.NoError(t, store.Insert(person(n, "")))
		}
		var names []string
		for _, e := range store.List() {
			names = append(names, e.UniqueName())
		}
		assert.Equal(t, []string{"uid=a,o=corp", "uid=b,o=corp", "uid=c,o=corp"}, names)
	})
}

// TestChanges tests the mutation log behind delta searches
func TestChanges(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Insert(person("uid=a,o=corp", "")))
	require.NoError(t, store.Insert(person("uid=b,o=corp", "")))

	names, rev := store.Changes(0)
	assert.Equal(t, []string{"uid=a,o=corp", "uid=b,o=corp"}, names)
	assert.Equal(t, uint64(2), rev)

	require.NoError(t, store.Put(person("uid=a,o=corp", "")))
	require.NoError(t, store.Insert(person("uid=c,o=corp", "")))
	require.NoError(t, store.Put(person("uid=a,o=corp", "")))
	require.NoError(t, store.Delete("uid=b,o=corp"))

	names, rev = store.Changes(2)
	assert.Equal(t, []string{"uid=c,o=corp", "uid=a,o=corp", "uid=b,o=corp"}, names)
	assert.Equal(t, uint64(6), rev)

	names, rev = store.Changes(6)
	assert.Empty(t, names)
	assert.Equal(t, uint64(6), rev)
}

// TestConcurrentAccess tests thread-safety of the store
func TestConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				name := fmt.Sprintf("uid=u%d-%d,o=corp", worker, j)
				_ = store.Insert(person(name, name))
				_, _ = store.Get(name)
				_ = store.List()
				if j%2 == 0 {
					_ = store.Delete(name)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 250, store.Stats().Entities)
	assert.Equal(t, uint64(750), store.Stats().Revision)
}
