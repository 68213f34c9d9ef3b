package federation

import (
	"context"
	"time"

	"github.com/dreamware/vmm/internal/dn"
	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/repository"
)

// rdnProperties lists, per entity type, the properties a new entity's
// leaf name may be built from, in order of preference.
var rdnProperties = map[model.EntityType][]string{
	model.TypePerson:       {model.PropUID, model.PropCN},
	model.TypeGroup:        {model.PropCN},
	model.TypeOrgContainer: {model.PropOU, "o"},
}

// Create adds one entity. Its unique name is taken from the identifier, or
// built from the type's naming property under the entity's parent (the
// realm's default parent for the type when none is given).
func (e *Engine) Create(ctx context.Context, req *model.Root) (resp *model.Root, err error) {
	if req == nil {
		req = model.NewRoot()
	}
	start := time.Now()
	defer func() { e.finish(OpCreate, start, req.Context.Realm, err) }()

	c, err := e.begin(OpCreate, req)
	if err != nil {
		return nil, err
	}
	ent, err := single(req, false)
	if err != nil {
		return nil, err
	}

	name, parent, err := placement(c, ent)
	if err != nil {
		return nil, err
	}
	if !c.realm.Contains(c.snap, name) {
		err := model.Errorf(model.KindEntityNotInRealmScope, "%q is outside the realm", name).WithUniqueName(name)
		return nil, err.WithRealm(c.realmName())
	}
	d, err := c.realm.RepositoryFor(c.snap, name)
	if err != nil {
		return nil, err
	}

	if ent.ID == nil {
		ent.ID = &model.Identifier{}
	}
	ent.ID.UniqueName = name
	ent.Parent = &model.Identifier{UniqueName: parent}

	local, remote, err := e.splitGroups(c, d, ent.Groups)
	if err != nil {
		return nil, err
	}

	out := outbound(d, ent)
	out.Groups = local
	out.Parent.RepositoryID = d.ID
	out.Parent.ExternalName = d.ExternalName(parent)

	sub := model.NewRoot(out)
	sub.Controls.GroupMembership = req.Controls.GroupMembership
	r, err := e.invoke(ctx, c, d, OpCreate, sub)
	if err != nil {
		return nil, model.AsError(err).WithUniqueName(name).WithRealm(c.realmName())
	}
	created := r.Entity()
	if created == nil {
		created = ent.Clone()
		created.ID.RepositoryID = d.ID
	}

	e.cache.ClearRepository(d.ID)
	if applied, err := e.updateMemberships(ctx, c, created, remote, modifyMode(req, model.ModifyAdd)); err != nil {
		e.rollbackCreate(ctx, c, d, created, applied, err)
		return nil, err
	}

	e.log.Info().Str("repository", d.ID).Str("uniqueName", name).Msg("entity created")
	return c.respond(model.NewRoot(created)), nil
}

// Update modifies one entity. Groups listed on the entity are joined (or
// left, or replaced, as the group membership control says); groups held
// by other repositories are updated there.
func (e *Engine) Update(ctx context.Context, req *model.Root) (resp *model.Root, err error) {
	if req == nil {
		req = model.NewRoot()
	}
	start := time.Now()
	defer func() { e.finish(OpUpdate, start, req.Context.Realm, err) }()

	c, err := e.begin(OpUpdate, req)
	if err != nil {
		return nil, err
	}
	ent, err := single(req, true)
	if err != nil {
		return nil, err
	}
	d, existing, err := e.target(ctx, c, ent)
	if err != nil {
		return nil, err
	}
	if existing != nil && ent.ID.UniqueName == "" {
		ent.ID.UniqueName = existing.UniqueName()
	}

	local, remote, err := e.splitGroups(c, d, ent.Groups)
	if err != nil {
		return nil, err
	}

	out := outbound(d, ent)
	out.Groups = local
	sub := model.NewRoot(out)
	sub.Controls.GroupMembership = req.Controls.GroupMembership
	sub.Controls.GroupMember = req.Controls.GroupMember
	r, err := e.invoke(ctx, c, d, OpUpdate, sub)
	if err != nil {
		return nil, model.AsError(err).WithUniqueName(ent.UniqueName()).WithRealm(c.realmName())
	}
	updated := r.Entity()
	if updated == nil {
		updated = ent.Clone()
		updated.ID.RepositoryID = d.ID
	}

	e.cache.ClearEntity(ent.UniqueName())
	if _, err := e.updateMemberships(ctx, c, updated, remote, modifyMode(req, model.ModifyAdd)); err != nil {
		e.log.Warn().Err(err).Str("repository", d.ID).Str("uniqueName", ent.UniqueName()).
			Msg("entity updated but group membership failed")
		return nil, err
	}

	e.log.Info().Str("repository", d.ID).Str("uniqueName", ent.UniqueName()).Msg("entity updated")
	return c.respond(model.NewRoot(updated)), nil
}

// Delete removes one entity from the repository owning it.
func (e *Engine) Delete(ctx context.Context, req *model.Root) (resp *model.Root, err error) {
	if req == nil {
		req = model.NewRoot()
	}
	start := time.Now()
	defer func() { e.finish(OpDelete, start, req.Context.Realm, err) }()

	c, err := e.begin(OpDelete, req)
	if err != nil {
		return nil, err
	}
	ent, err := single(req, true)
	if err != nil {
		return nil, err
	}
	d, existing, err := e.target(ctx, c, ent)
	if err != nil {
		return nil, err
	}
	if existing != nil && ent.ID.UniqueName == "" {
		ent.ID.UniqueName = existing.UniqueName()
	}

	r, err := e.invoke(ctx, c, d, OpDelete, model.NewRoot(outbound(d, ent)))
	if err != nil {
		return nil, model.AsError(err).WithUniqueName(ent.UniqueName()).WithRealm(c.realmName())
	}
	deleted := r.Entity()
	if deleted == nil {
		deleted = ent.Clone()
		deleted.ID.RepositoryID = d.ID
	}
	e.cache.ClearEntity(ent.UniqueName())

	e.log.Info().Str("repository", d.ID).Str("uniqueName", ent.UniqueName()).Msg("entity deleted")
	return c.respond(model.NewRoot(deleted)), nil
}

// single returns a copy of the only entity of a write request.
func single(req *model.Root, identified bool) (*model.Entity, error) {
	switch len(req.Entities) {
	case 0:
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "no entity given")
	case 1:
	default:
		return nil, model.Errorf(model.KindOperationNotSupported, "writes take exactly one entity, got %d", len(req.Entities))
	}
	ent := req.Entities[0]
	if ent == nil || (identified && !ent.ID.IsSpecified()) {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "entity has no unique id or unique name")
	}
	return ent.Clone(), nil
}

// placement computes the unique name and parent of a new entity.
func placement(c *call, ent *model.Entity) (name, parent string, err error) {
	if n := ent.UniqueName(); n != "" {
		return n, dn.Parent(n), nil
	}

	if ent.Parent != nil && ent.Parent.UniqueName != "" {
		parent = ent.Parent.UniqueName
	} else {
		parent = c.realm.DefaultParent(ent.Type)
	}
	if parent == "" {
		return "", "", model.Errorf(model.KindEntityIdentifierNotSpecified,
			"no parent given and no default parent for %s", ent.Type)
	}

	props, ok := rdnProperties[ent.Type]
	if !ok {
		props = []string{model.PropCN}
	}
	for _, p := range props {
		if v := ent.First(p); v != "" {
			return dn.Join(p+"="+v, parent), parent, nil
		}
	}
	return "", "", model.Errorf(model.KindEntityIdentifierNotSpecified,
		"%s needs one of %v to be named", ent.Type, props)
}

// target resolves the repository owning the entity of an update or delete
// and, unless the caller trusts the entity type, checks that the stored
// entity has the requested type. existing is the stored entity when it was
// read.
func (e *Engine) target(ctx context.Context, c *call, ent *model.Entity) (*repository.Descriptor, *model.Entity, error) {
	d, err := e.owner(c, ent.ID)
	if err != nil {
		return nil, nil, err
	}

	probe := model.NewRoot()
	var existing *model.Entity
	switch {
	case d == nil:
		existing, d, err = e.locate(ctx, c, probe, ent)
		if err != nil {
			return nil, nil, err
		}
	case !c.context.TrustEntityType && ent.Type != "":
		existing, err = e.getFrom(ctx, c, d, probe, ent)
		if err != nil {
			return nil, nil, model.AsError(err).WithRealm(c.realmName())
		}
	}

	if existing != nil && !c.context.TrustEntityType && ent.Type != "" && !existing.IsA(ent.Type) {
		return nil, nil, model.Errorf(model.KindInvalidIdentifier, "entity is a %s, not a %s", existing.Type, ent.Type).
			WithUniqueName(existing.UniqueName()).WithRepository(d.ID)
	}
	return d, existing, nil
}

// membership is a group held by another repository than its new member.
type membership struct {
	repo  *repository.Descriptor
	group *model.Entity
}

// splitGroups separates the groups of an entity held by its own repository
// from those held elsewhere. A group held elsewhere must accept members of
// the entity's repository.
func (e *Engine) splitGroups(c *call, d *repository.Descriptor, groups []*model.Entity) ([]*model.Entity, []membership, error) {
	var (
		local  []*model.Entity
		remote []membership
	)
	for _, g := range groups {
		if g == nil || !g.ID.IsSpecified() {
			return nil, nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "group has no unique id or unique name")
		}
		gd, err := e.owner(c, g.ID)
		if err != nil {
			return nil, nil, err
		}
		if gd == nil || gd.ID == d.ID {
			local = append(local, g)
			continue
		}
		if !gd.CompatibleWith(d.ID) {
			return nil, nil, model.Errorf(model.KindOperationNotSupported,
				"groups of %s cannot hold members of %s", gd.ID, d.ID).WithUniqueName(g.UniqueName())
		}
		remote = append(remote, membership{repo: gd, group: g})
	}
	return local, remote, nil
}

// updateMemberships adds member to (or removes it from) groups held by
// other repositories, one update per group. It returns the memberships
// changed before any failure.
func (e *Engine) updateMemberships(ctx context.Context, c *call, member *model.Entity, remote []membership, mode model.ModifyMode) ([]membership, error) {
	if len(remote) == 0 {
		return nil, nil
	}
	ref := &model.Entity{Type: member.Type, ID: member.ID.Clone()}
	ref.ID.ExternalID = ""
	ref.ID.ExternalName = ""

	var applied []membership
	for _, m := range remote {
		out := outbound(m.repo, m.group)
		out.Members = []*model.Entity{ref}
		sub := model.NewRoot(out)
		sub.Controls.GroupMember = &model.GroupMemberControl{ModifyMode: mode}
		if _, err := e.invoke(ctx, c, m.repo, OpUpdate, sub); err != nil {
			return applied, model.AsError(err).WithUniqueName(m.group.UniqueName()).WithRealm(c.realmName())
		}
		e.cache.ClearEntity(m.group.UniqueName())
		applied = append(applied, m)
	}
	return applied, nil
}

// rollbackCreate undoes a create whose memberships in other repositories
// failed: the memberships already added are removed and the entity is
// deleted. Rollback failures are logged; the caller still gets cause.
func (e *Engine) rollbackCreate(ctx context.Context, c *call, d *repository.Descriptor, created *model.Entity, applied []membership, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := e.log.With().Str("repository", d.ID).Str("uniqueName", created.UniqueName()).Logger()

	if _, err := e.updateMemberships(ctx, c, created, applied, model.ModifyRemove); err != nil {
		log.Error().Err(err).Msg("failed to remove memberships of a rolled back entity")
	}
	if _, err := e.invoke(ctx, c, d, OpDelete, model.NewRoot(outbound(d, created))); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("entity created but rollback failed")
		return
	}
	e.cache.ClearRepository(d.ID)
	log.Warn().Err(cause).Msg("create rolled back after group membership failed")
}

// modifyMode returns the membership modify mode of a request. Replacing
// remote memberships would need the full membership list, so only add and
// remove are forwarded; replace adds.
func modifyMode(req *model.Root, def model.ModifyMode) model.ModifyMode {
	gm := req.Controls.GroupMembership
	if gm == nil || gm.ModifyMode == "" || gm.ModifyMode == model.ModifyReplace {
		return def
	}
	return gm.ModifyMode
}
