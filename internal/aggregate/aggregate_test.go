package aggregate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vmm/internal/model"
)

func person(name string, props ...string) *model.Entity {
	e := model.NewEntity(model.TypePerson, name)
	for i := 0; i+1 < len(props); i += 2 {
		e.Set(props[i], props[i+1])
	}
	return e
}

func names(es []*model.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.UniqueName()
	}
	return out
}

// TestMerge tests concatenation and entry-join de-duplication
func TestMerge(t *testing.T) {
	repo1 := []*model.Entity{person("uid=a,o=x"), person("uid=b,o=x")}
	repo2 := []*model.Entity{person("UID=A,o=x"), nil, person("uid=c,o=x")}

	tests := []struct {
		name      string
		lists     [][]*model.Entity
		entryJoin bool
		want      []string
	}{
		{
			name:  "no join keeps duplicates",
			lists: [][]*model.Entity{repo1, nil, repo2},
			want:  []string{"uid=a,o=x", "uid=b,o=x", "UID=A,o=x", "uid=c,o=x"},
		},
		{
			name:      "entry join keeps first occurrence",
			lists:     [][]*model.Entity{repo1, nil, repo2},
			entryJoin: true,
			want:      []string{"uid=a,o=x", "uid=b,o=x", "uid=c,o=x"},
		},
		{
			name: "empty",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.lists, tt.entryJoin)
			if diff := cmp.Diff(tt.want, names(got)); diff != "" {
				t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestEnsureSortProperties tests that sort keys are fetched
func TestEnsureSortProperties(t *testing.T) {
	keys := []model.SortKey{{Property: "sn", Ascending: true}, {Property: "CN"}}

	assert.Equal(t, []string{"uid", "cn", "sn"}, EnsureSortProperties([]string{"uid", "cn"}, keys))
	assert.Equal(t, []string{"sn", "CN"}, EnsureSortProperties(nil, keys))
	assert.Equal(t, []string{"*"}, EnsureSortProperties([]string{"*"}, keys))

	in := []string{"uid"}
	_ = EnsureSortProperties(in, keys)
	assert.Equal(t, []string{"uid"}, in, "input must not be modified")

	assert.Equal(t, []string{"a", "b", "c"}, Union([]string{"a", "b"}, []string{"B", "c"}))
}

// TestSort tests stable multi-key ordering
func TestSort(t *testing.T) {
	entities := []*model.Entity{
		person("uid=1", "sn", "smith", "age", "40"),
		person("uid=2", "sn", "Adams", "age", "9"),
		person("uid=3", "age", "30"),
		person("uid=4", "sn", "smith", "age", "100"),
		person("uid=5", "sn", "adams", "age", "9"),
	}

	t.Run("ascending with missing last", func(t *testing.T) {
		es := append([]*model.Entity(nil), entities...)
		require.NoError(t, Sort(es, &model.SortControl{Keys: []model.SortKey{{Property: "sn", Ascending: true}}}))
		assert.Equal(t, []string{"uid=2", "uid=5", "uid=1", "uid=4", "uid=3"}, names(es))
	})

	t.Run("descending with missing last", func(t *testing.T) {
		es := append([]*model.Entity(nil), entities...)
		require.NoError(t, Sort(es, &model.SortControl{Keys: []model.SortKey{{Property: "sn"}}}))
		assert.Equal(t, []string{"uid=1", "uid=4", "uid=2", "uid=5", "uid=3"}, names(es))
	})

	t.Run("secondary numeric key", func(t *testing.T) {
		es := append([]*model.Entity(nil), entities...)
		require.NoError(t, Sort(es, &model.SortControl{Keys: []model.SortKey{
			{Property: "sn", Ascending: true},
			{Property: "age", Ascending: false},
		}}))
		assert.Equal(t, []string{"uid=2", "uid=5", "uid=4", "uid=1", "uid=3"}, names(es))
	})

	t.Run("numbers before other values", func(t *testing.T) {
		es := []*model.Entity{
			person("uid=a", "room", "1a"),
			person("uid=b", "room", "10"),
			person("uid=c", "room", "NaN"),
			person("uid=d", "room", "9"),
			person("uid=e", "room", "B2"),
		}
		require.NoError(t, Sort(es, &model.SortControl{Keys: []model.SortKey{{Property: "room", Ascending: true}}}))
		assert.Equal(t, []string{"uid=d", "uid=b", "uid=a", "uid=e", "uid=c"}, names(es))

		values := []string{"9", "10", "1a", "NaN", "b2", "-3"}
		for _, x := range values {
			for _, y := range values {
				assert.Equal(t, -compareValues(y, x), compareValues(x, y), "%s vs %s", x, y)
				for _, z := range values {
					if compareValues(x, y) < 0 && compareValues(y, z) < 0 {
						assert.Negative(t, compareValues(x, z), "%s < %s < %s", x, y, z)
					}
				}
			}
		}
	})

	t.Run("missing sort key", func(t *testing.T) {
		for _, sc := range []*model.SortControl{nil, {}, {Keys: []model.SortKey{{Property: " "}}}} {
			err := Sort(entities, sc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrMissingSortKey))
			assert.True(t, errors.Is(err, model.ErrSearchControl), "MissingSortKey is a search control error")
		}
	})
}

// TestLimitBoundary tests the search limit boundary
func TestLimitBoundary(t *testing.T) {
	const searchLimit = 5
	entities := func(n int) []*model.Entity {
		out := make([]*model.Entity, n)
		for i := range out {
			out[i] = person(fmt.Sprintf("uid=%d,o=x", i))
		}
		return out
	}

	got, more, err := ApplyLimits(entities(searchLimit), 0, searchLimit)
	require.NoError(t, err)
	assert.Len(t, got, searchLimit)
	assert.False(t, more)

	_, _, err = ApplyLimits(entities(searchLimit+1), 0, searchLimit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrMaxResultsExceeded))

	// Count limit truncation happens first
	got, more, err = ApplyLimits(entities(searchLimit+3), 3, searchLimit)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.True(t, more)

	got, more, err = ApplyLimits(entities(3), 3, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.False(t, more)
}

// TestLimitHelpers tests fetch bounds and effective limits
func TestLimitHelpers(t *testing.T) {
	assert.Equal(t, 0, FetchBound(0))
	assert.Equal(t, 11, FetchBound(10))

	tests := []struct {
		configured, requested, want int
	}{
		{0, 0, 0},
		{100, 0, 100},
		{0, 50, 50},
		{100, 50, 50},
		{20, 50, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EffectiveSearchLimit(tt.configured, tt.requested),
			"configured=%d requested=%d", tt.configured, tt.requested)
	}
}
