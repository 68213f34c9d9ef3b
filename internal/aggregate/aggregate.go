// Package aggregate combines per-repository search results into one
// response: merging, entry-join de-duplication, multi-key sorting and the
// count and search limits.
package aggregate

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/vmm/internal/model"
)

// Merge concatenates per-repository result lists in the given order,
// skipping nil lists and nil entities. With entryJoin, entities sharing a
// unique name (compared case-insensitively) are kept once, first occurrence
// wins.
func Merge(lists [][]*model.Entity, entryJoin bool) []*model.Entity {
	total := 0
	for _, l := range lists {
		total += len(l)
	}

	out := make([]*model.Entity, 0, total)
	seen := make(map[string]bool, total)

	for _, l := range lists {
		for _, e := range l {
			if e == nil {
				continue
			}
			if entryJoin {
				key := Key(e)
				if key != "" {
					if seen[key] {
						continue
					}
					seen[key] = true
				}
			}
			out = append(out, e)
		}
	}
	return out
}

// Key is the identity used to compare entities across repositories: the
// lower-cased unique name.
func Key(e *model.Entity) string {
	return strings.ToLower(strings.TrimSpace(e.UniqueName()))
}

// EnsureSortProperties returns props extended with every sort key property
// not already present, preserving order. A list containing "*" already
// fetches everything and is returned unchanged.
func EnsureSortProperties(props []string, keys []model.SortKey) []string {
	if slices.Contains(props, model.AllProperties) {
		return props
	}
	out := slices.Clone(props)
	for _, k := range keys {
		if !containsFold(out, k.Property) {
			out = append(out, k.Property)
		}
	}
	return out
}

// Union returns the order-preserving union of the lists, comparing
// case-insensitively.
func Union(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, p := range l {
			if !containsFold(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool { return strings.EqualFold(v, s) })
}

// Sort orders entities stably by the sort keys in priority order. Entities
// without a value for a key sort after those with one, whatever the
// direction. Numbers sort before other values and compare numerically;
// other values compare case-insensitively. A control without keys fails with
// MissingSortKey.
func Sort(entities []*model.Entity, sc *model.SortControl) error {
	if sc == nil || len(sc.Keys) == 0 {
		return model.Errorf(model.KindMissingSortKey, "sort control has no sort keys")
	}
	for _, k := range sc.Keys {
		if strings.TrimSpace(k.Property) == "" {
			return model.Errorf(model.KindMissingSortKey, "sort key without property")
		}
	}

	slices.SortStableFunc(entities, func(a, b *model.Entity) int {
		for _, k := range sc.Keys {
			if c := compareByKey(a, b, k); c != 0 {
				return c
			}
		}
		return 0
	})
	return nil
}

func compareByKey(a, b *model.Entity, k model.SortKey) int {
	va, vb := a.First(k.Property), b.First(k.Property)

	switch {
	case va == "" && vb == "":
		return 0
	case va == "":
		return 1
	case vb == "":
		return -1
	}

	c := compareValues(va, vb)
	if !k.Ascending {
		return -c
	}
	return c
}

func compareValues(a, b string) int {
	fa, numA := number(a)
	fb, numB := number(b)
	switch {
	case numA && numB:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case numA:
		return -1
	case numB:
		return 1
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func number(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// FetchBound returns the number of entities each repository is asked for:
// countLimit+1 so truncation can be detected, or 0 (unbounded) when no
// count limit is set.
func FetchBound(countLimit int) int {
	if countLimit > 0 {
		return countLimit + 1
	}
	return 0
}

// EffectiveSearchLimit returns the smaller positive value of the configured
// maximum and the requested search limit, or 0 when neither is set.
func EffectiveSearchLimit(configured, requested int) int {
	switch {
	case configured > 0 && requested > 0:
		return min(configured, requested)
	case configured > 0:
		return configured
	case requested > 0:
		return requested
	}
	return 0
}

// ApplyLimits truncates a merged result to countLimit, reporting whether
// anything was cut, then enforces the search limit on what remains.
func ApplyLimits(entities []*model.Entity, countLimit, searchLimit int) ([]*model.Entity, bool, error) {
	more := false
	if countLimit > 0 && len(entities) > countLimit {
		entities = entities[:countLimit]
		more = true
	}
	if searchLimit > 0 && len(entities) > searchLimit {
		return nil, false, model.Errorf(model.KindMaxResultsExceeded,
			"search returned %d entities, limit is %d", len(entities), searchLimit)
	}
	return entities, more, nil
}
