package federation

import (
	"context"
	"time"

	"github.com/dreamware/vmm/internal/aggregate"
	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/pagecache"
	"github.com/dreamware/vmm/internal/repository"
	"github.com/dreamware/vmm/internal/search"
)

// Search runs a federated search.
//
// Pipeline:
//
//	validate controls ─► candidates (realm ∩ bases)
//	        │
//	        ▼
//	page cache hit? ──yes──► slice with cached markers, done
//	        │ no
//	        ▼
//	drop repositories reported down (tolerant mode)
//	        │
//	        ▼
//	split + dispatch ─► merge ─► sort ─► count/search limits ─► cache + page
//
// A negative count limit returns an empty result without asking any
// repository. The time limit is forwarded to repositories and checked again
// once the result is merged.
func (e *Engine) Search(ctx context.Context, req *model.Root) (resp *model.Root, err error) {
	if req == nil {
		req = model.NewRoot()
	}
	start := time.Now()
	defer func() { e.finish(OpSearch, start, req.Context.Realm, err) }()

	c, err := e.begin(OpSearch, req)
	if err != nil {
		return nil, err
	}

	sc := req.Controls.Search
	if sc == nil {
		return nil, model.Errorf(model.KindMissingSearchControl, "search requires a search control")
	}
	if sc.CountLimit < 0 {
		return c.respond(model.NewRoot()), nil
	}

	sort := req.Controls.Sort
	var sortKeys []model.SortKey
	props := sc.Properties
	if sort != nil {
		if err := validateSort(sort); err != nil {
			return nil, err
		}
		sortKeys = sort.Keys
		props = aggregate.EnsureSortProperties(sc.Properties, sortKeys)
	}

	candidates, err := e.candidates(c, sc.SearchBases)
	if err != nil {
		return nil, err
	}
	searchLimit := aggregate.EffectiveSearchLimit(c.settings.maxSearchResults, sc.SearchLimit)

	page := req.Controls.Page
	var key pagecache.Key
	if page != nil {
		key = pagecache.NewKey(sc.Expression, props, sortKeys).Scoped(pagecache.Scope{
			Realm:       c.realmName(),
			Bases:       sc.SearchBases,
			Types:       sc.EntityTypes,
			CountLimit:  sc.CountLimit,
			SearchLimit: searchLimit,
		})
		if entities, entry, hit := e.cache.PageEntry(key, page.StartIndex, page.Size); hit {
			e.metrics.RecordPageLookup(true)
			return c.respond(cachedPage(c, entities, entry)), nil
		}
		e.metrics.RecordPageLookup(false)
		if page.Size <= 0 {
			return c.respond(model.NewRoot()), nil
		}
	}

	candidates = e.available(c, candidates)
	if len(candidates) == 0 {
		return c.respond(model.NewRoot()), nil
	}

	control := sc.Clone()
	control.Properties = props
	res, err := c.settings.splitter.Search(ctx, &search.Request{
		Control:      control,
		Change:       req.Controls.Change,
		Context:      c.forwardContext(),
		Repositories: candidates,
		Tolerant:     c.tolerant,
	})
	if err != nil {
		return nil, model.AsError(err).WithRealm(c.realmName())
	}
	for _, id := range res.Failures {
		e.metrics.RecordSkipped(id)
		c.fail(id)
	}
	if res.Bridge {
		c.mu.Lock()
		c.bridge = true
		c.mu.Unlock()
	}

	if sc.TimeLimit > 0 && time.Since(start) > sc.TimeLimit {
		return nil, model.Errorf(model.KindTimeLimitExceeded, "search took longer than %s", sc.TimeLimit)
	}

	entities := res.Entities
	if sort != nil {
		if err := aggregate.Sort(entities, sort); err != nil {
			return nil, err
		}
	}
	entities, more, err := aggregate.ApplyLimits(entities, sc.CountLimit, searchLimit)
	if err != nil {
		return nil, err
	}

	if len(props) != len(sc.Properties) {
		for i, ent := range entities {
			entities[i] = ent.Project(sc.Properties)
		}
	}
	for _, ent := range entities {
		scrub(ent)
	}

	out := model.NewRoot()
	if page != nil {
		failures, bridge := c.collected()
		e.cache.StoreEntry(key, pagecache.Entry{
			Entities:     entities,
			Repositories: res.Repositories,
			Failures:     failures,
			More:         more,
			Bridge:       bridge,
		})
		slice, total, _ := e.cache.Page(key, page.StartIndex, page.Size)
		out.Entities = clonePage(slice)
		out.Controls.PageResponse = &model.PageResponseControl{TotalSize: total}
	} else {
		out.Entities = entities
	}
	if more {
		out.Controls.SearchResponse = &model.SearchResponseControl{HasMoreResults: true}
	}
	if res.Checkpoints != nil {
		out.Controls.ChangeResponse = &model.ChangeResponseControl{Checkpoints: res.Checkpoints}
	}

	e.log.Debug().
		Str("expression", sc.Expression).
		Int("entities", len(entities)).
		Strs("repositories", res.Repositories).
		Strs("failures", res.Failures).
		Msg("search complete")
	return c.respond(out), nil
}

func validateSort(sc *model.SortControl) error {
	if len(sc.Keys) == 0 {
		return model.Errorf(model.KindMissingSortKey, "sort control has no sort keys")
	}
	for _, k := range sc.Keys {
		if k.Property == "" {
			return model.Errorf(model.KindMissingSortKey, "sort key without a property")
		}
	}
	return nil
}

// candidates returns the participating repositories serving any of the
// search bases, or all of them when no base is given. Every base must lie
// inside the realm.
func (e *Engine) candidates(c *call, bases []string) ([]*repository.Descriptor, error) {
	if len(bases) == 0 {
		return c.participating, nil
	}
	for _, b := range bases {
		if !c.realm.Contains(c.snap, b) {
			err := model.Errorf(model.KindEntityNotInRealmScope, "search base %q is outside the realm", b).
				WithUniqueName(b)
			return nil, err.WithRealm(c.realmName())
		}
	}

	var out []*repository.Descriptor
	for _, d := range c.participating {
		for _, b := range bases {
			if d.Overlaps(b) {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

// cachedPage answers a page from a cached result with the markers the
// result was built with.
func cachedPage(c *call, entities []*model.Entity, entry *pagecache.Entry) *model.Root {
	for _, id := range entry.Failures {
		c.fail(id)
	}
	if entry.Bridge {
		c.mu.Lock()
		c.bridge = true
		c.mu.Unlock()
	}

	out := model.NewRoot(clonePage(entities)...)
	out.Controls.PageResponse = &model.PageResponseControl{TotalSize: entry.Total}
	if entry.More {
		out.Controls.SearchResponse = &model.SearchResponseControl{HasMoreResults: true}
	}
	return out
}

// clonePage copies a page served from the cache so callers cannot modify
// the cached entities.
func clonePage(entities []*model.Entity) []*model.Entity {
	out := make([]*model.Entity, len(entities))
	for i, ent := range entities {
		out[i] = ent.Clone()
	}
	return out
}
