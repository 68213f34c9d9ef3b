package federation

import (
	"context"
	"time"

	"github.com/dreamware/vmm/internal/aggregate"
	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/repository"
)

// Get retrieves the entities named in the request. An entity addressed only
// by unique id is looked up in every participating repository and the first
// one holding it answers. With a cache control the request clears cached
// state instead and returns no entities.
func (e *Engine) Get(ctx context.Context, req *model.Root) (resp *model.Root, err error) {
	if req == nil {
		req = model.NewRoot()
	}
	start := time.Now()
	defer func() { e.finish(OpGet, start, req.Context.Realm, err) }()

	c, err := e.begin(OpGet, req)
	if err != nil {
		return nil, err
	}
	if req.Controls.Cache != nil {
		return e.clearCaches(ctx, c, req)
	}
	if len(req.Entities) == 0 {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "get requires an entity identifier")
	}

	out := model.NewRoot()
	for _, ent := range req.Entities {
		found, err := e.getOne(ctx, c, req, ent)
		if err != nil {
			return nil, err
		}
		if found != nil {
			out.Entities = append(out.Entities, found)
		}
	}
	return c.respond(out), nil
}

func (e *Engine) getOne(ctx context.Context, c *call, req *model.Root, ent *model.Entity) (*model.Entity, error) {
	if ent == nil || !ent.ID.IsSpecified() {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "entity has no unique id or unique name")
	}

	owner, err := e.owner(c, ent.ID)
	if err != nil {
		return nil, err
	}

	var found *model.Entity
	if owner == nil {
		found, owner, err = e.locate(ctx, c, req, ent)
	} else {
		found, err = e.getFrom(ctx, c, owner, req, ent)
		if err != nil {
			err = e.tolerate(c, owner, err)
		}
	}
	if err != nil || found == nil {
		return nil, err
	}

	if req.Controls.GroupMembership != nil {
		if err := e.collectGroups(ctx, c, req, owner, found); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// owner resolves the repository holding an entity from its identifier: the
// repository id when it names a participating repository, else the unique
// name. It returns nil when only a unique id is known.
func (e *Engine) owner(c *call, id *model.Identifier) (*repository.Descriptor, error) {
	if id.RepositoryID != "" {
		for _, d := range c.participating {
			if d.ID == id.RepositoryID {
				return d, nil
			}
		}
	}
	if id.UniqueName == "" {
		return nil, nil
	}
	if !c.realm.Contains(c.snap, id.UniqueName) {
		err := model.Errorf(model.KindEntityNotInRealmScope, "%q is outside the realm", id.UniqueName).
			WithUniqueName(id.UniqueName)
		return nil, err.WithRealm(c.realmName())
	}
	return c.realm.RepositoryFor(c.snap, id.UniqueName)
}

// locate asks every available participating repository in configuration
// order for an entity known only by unique id.
func (e *Engine) locate(ctx context.Context, c *call, req *model.Root, ent *model.Entity) (*model.Entity, *repository.Descriptor, error) {
	for _, d := range e.available(c, c.participating) {
		found, err := e.getFrom(ctx, c, d, req, ent)
		if err == nil {
			return found, d, nil
		}
		if model.KindOf(err) == model.KindEntityNotFound {
			continue
		}
		if err := e.tolerate(c, d, err); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, model.Errorf(model.KindEntityNotFound, "no repository holds entity %q", ent.ID.UniqueID)
}

func (e *Engine) getFrom(ctx context.Context, c *call, d *repository.Descriptor, req *model.Root, ent *model.Entity) (*model.Entity, error) {
	sub := model.NewRoot(outbound(d, ent))
	sub.Controls.Properties = req.Controls.Properties
	sub.Controls.GroupMembership = req.Controls.GroupMembership
	sub.Controls.GroupMember = req.Controls.GroupMember

	resp, err := e.invoke(ctx, c, d, OpGet, sub)
	if err != nil {
		return nil, err
	}
	found := resp.Entity()
	if found == nil {
		return nil, model.Errorf(model.KindEntityNotFound, "entity not found").
			WithRepository(d.ID).WithUniqueName(ent.UniqueName())
	}
	return found, nil
}

// collectGroups adds the groups held by other repositories whose groups may
// contain members of the owner. Repositories not knowing the entity are
// ignored.
func (e *Engine) collectGroups(ctx context.Context, c *call, req *model.Root, owner *repository.Descriptor, found *model.Entity) error {
	lookup := &model.Entity{Type: found.Type, ID: found.ID.Clone()}
	lookup.ID.RepositoryID = ""
	lookup.ID.ExternalName = ""
	lookup.ID.ExternalID = ""

	var lists [][]*model.Entity
	lists = append(lists, found.Groups)
	for _, d := range e.available(c, c.participating) {
		if d.ID == owner.ID || !d.CompatibleWith(owner.ID) {
			continue
		}
		sub := model.NewRoot(outbound(d, lookup))
		sub.Controls.GroupMembership = req.Controls.GroupMembership

		resp, err := e.invoke(ctx, c, d, OpGet, sub)
		if err != nil {
			if model.KindOf(err) == model.KindEntityNotFound {
				continue
			}
			if err := e.tolerate(c, d, err); err != nil {
				return err
			}
			continue
		}
		if g := resp.Entity(); g != nil {
			for _, grp := range g.Groups {
				if grp.ID != nil && grp.ID.RepositoryID == "" {
					grp.ID.RepositoryID = d.ID
				}
			}
			lists = append(lists, g.Groups)
		}
	}
	found.Groups = aggregate.Merge(lists, true)
	return nil
}

// clearCaches serves an administrative cache control: the page cache is
// cleared and the control is forwarded to the affected repositories.
func (e *Engine) clearCaches(ctx context.Context, c *call, req *model.Root) (*model.Root, error) {
	cc := req.Controls.Cache
	targets := c.participating
	if cc.RepositoryID != "" {
		d, ok := c.snap.Get(cc.RepositoryID)
		if !ok {
			return nil, model.Errorf(model.KindInvalidIdentifier, "unknown repository %q", cc.RepositoryID)
		}
		targets = []*repository.Descriptor{d}
	}

	switch cc.Mode {
	case model.CacheClearAll:
		if cc.RepositoryID != "" {
			e.cache.ClearRepository(cc.RepositoryID)
		} else {
			e.cache.ClearAll()
		}
		for _, d := range e.available(c, targets) {
			sub := model.NewRoot()
			sub.Controls.Cache = cc
			if _, err := e.invoke(ctx, c, d, OpGet, sub); err != nil {
				if err := e.tolerate(c, d, err); err != nil {
					return nil, err
				}
			}
		}

	case model.CacheClearEntity:
		if len(req.Entities) == 0 {
			return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "clearing an entity requires its identifier")
		}
		for _, ent := range req.Entities {
			if ent == nil || ent.UniqueName() == "" {
				return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "clearing an entity requires its unique name")
			}
			e.cache.ClearEntity(ent.UniqueName())

			d, err := e.owner(c, ent.ID)
			if err != nil {
				return nil, err
			}
			sub := model.NewRoot(outbound(d, ent))
			sub.Controls.Cache = cc
			if _, err := e.invoke(ctx, c, d, OpGet, sub); err != nil {
				if err := e.tolerate(c, d, err); err != nil {
					return nil, err
				}
			}
		}

	default:
		return nil, model.Errorf(model.KindOperationNotSupported, "unknown cache mode %q", cc.Mode)
	}

	e.log.Info().Str("mode", string(cc.Mode)).Str("repository", cc.RepositoryID).Msg("caches cleared")
	return c.respond(model.NewRoot()), nil
}
