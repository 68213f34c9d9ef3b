package directory

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dreamware/vmm/internal/dn"
	"github.com/dreamware/vmm/internal/expr"
	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/storage"
)

// PropCertificateSubject holds the certificate subject a person logs in
// with when certificate mapping is enabled.
const PropCertificateSubject = "certificateSubject"

// Options configures a Directory.
type Options struct {
	Logger zerolog.Logger

	// BaseEntries are the subtrees the directory holds. Empty means any name.
	BaseEntries []string

	// Certificates enables certificate login. Without it certificate
	// logins fail with CertificateMapNotSupported.
	Certificates bool

	// Store holds the entities. A new MemoryStore when nil.
	Store storage.Store
}

// Stats tracks operation counts.
type Stats struct {
	Gets     uint64
	Searches uint64
	Logins   uint64
	Creates  uint64
	Updates  uint64
	Deletes  uint64
	Entities int
	Revision uint64
}

// Directory is an in-memory identity repository. It implements
// repository.Adapter and repository.Pinger.
type Directory struct {
	id           string
	bases        []string
	certificates bool
	store        storage.Store
	log          zerolog.Logger
	unavailable  atomic.Bool

	gets, searches, logins, creates, updates, deletes atomic.Uint64
}

// New creates a directory identified by id.
func New(id string, opts Options) *Directory {
	st := opts.Store
	if st == nil {
		st = storage.NewMemoryStore()
	}
	return &Directory{
		id:           id,
		bases:        append([]string(nil), opts.BaseEntries...),
		certificates: opts.Certificates,
		store:        st,
		log:          opts.Logger.With().Str("directory", id).Logger(),
	}
}

// ID returns the directory id.
func (d *Directory) ID() string { return d.id }

// SetAvailable switches the directory on or off. An unavailable directory
// fails every call with RepositoryUnavailable.
func (d *Directory) SetAvailable(up bool) {
	d.unavailable.Store(!up)
}

// Stats returns operation counts and store statistics.
func (d *Directory) Stats() Stats {
	s := d.store.Stats()
	return Stats{
		Gets:     d.gets.Load(),
		Searches: d.searches.Load(),
		Logins:   d.logins.Load(),
		Creates:  d.creates.Load(),
		Updates:  d.updates.Load(),
		Deletes:  d.deletes.Load(),
		Entities: s.Entities,
		Revision: s.Revision,
	}
}

// Ping reports whether the directory is available.
func (d *Directory) Ping(ctx context.Context) error {
	return d.check(ctx)
}

func (d *Directory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return model.Wrap(model.KindRepositoryUnavailable, err, "request cancelled").WithRepository(d.id)
	}
	if d.unavailable.Load() {
		return model.Errorf(model.KindRepositoryUnavailable, "directory is unavailable").WithRepository(d.id)
	}
	return nil
}

// Seed inserts entities, assigning unique ids where missing.
func (d *Directory) Seed(entities ...*model.Entity) error {
	for _, e := range entities {
		e = e.Clone()
		if e.ID == nil {
			e.ID = &model.Identifier{}
		}
		if e.ID.UniqueID == "" {
			e.ID.UniqueID = uuid.NewString()
		}
		if err := d.store.Insert(e); err != nil {
			return d.storeError(err, e.UniqueName())
		}
	}
	return nil
}

// holds reports whether a name lies in one of the directory's subtrees.
func (d *Directory) holds(name string) bool {
	if len(d.bases) == 0 {
		return true
	}
	for _, b := range d.bases {
		if dn.HasSuffix(name, b) {
			return true
		}
	}
	return false
}

func (d *Directory) storeError(err error, name string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.Errorf(model.KindEntityNotFound, "entity not found").WithRepository(d.id).WithUniqueName(name)
	case errors.Is(err, storage.ErrExists):
		return model.Errorf(model.KindEntityAlreadyExists, "entity already exists").WithRepository(d.id).WithUniqueName(name)
	case errors.Is(err, storage.ErrNoName):
		return model.Errorf(model.KindEntityIdentifierNotSpecified, "entity has no unique name").WithRepository(d.id)
	}
	return model.Wrap(model.KindInternal, err, "store failed").WithRepository(d.id)
}

// lookup finds a stored entity by the identifier of a request entity.
func (d *Directory) lookup(id *model.Identifier) (*model.Entity, error) {
	if !id.IsSpecified() {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "entity has no unique id or unique name").WithRepository(d.id)
	}
	var (
		e   *model.Entity
		err error
	)
	if id.UniqueName != "" {
		e, err = d.store.Get(id.UniqueName)
	} else {
		e, err = d.store.GetByID(id.UniqueID)
	}
	if err != nil {
		name := id.UniqueName
		if name == "" {
			name = id.UniqueID
		}
		return nil, d.storeError(err, name)
	}
	return e, nil
}

// present prepares a stored entity for a response: the requested
// properties, the directory's native identifiers, groups and members only
// when asked for.
func (d *Directory) present(e *model.Entity, props []string, groups, members bool) *model.Entity {
	var out *model.Entity
	if props == nil {
		out = e.Clone()
	} else {
		out = e.Project(props)
	}
	out.Unset(model.PropPassword)
	out.ID.RepositoryID = d.id
	out.ID.ExternalID = e.ID.UniqueID
	out.ID.ExternalName = e.UniqueName()

	if groups {
		out.Groups = d.groupsOf(e.UniqueName())
	} else {
		out.Groups = nil
	}
	if !members {
		out.Members = nil
	}
	return out
}

// groupsOf returns references to the stored groups listing name as member.
func (d *Directory) groupsOf(name string) []*model.Entity {
	var out []*model.Entity
	for _, g := range d.store.List() {
		if g.Type != model.TypeGroup {
			continue
		}
		for _, m := range g.Members {
			if dn.Equal(m.UniqueName(), name) {
				out = append(out, &model.Entity{
					Type: model.TypeGroup,
					ID:   &model.Identifier{UniqueName: g.UniqueName(), UniqueID: g.ID.UniqueID, RepositoryID: d.id},
				})
				break
			}
		}
	}
	return out
}

// Get returns the requested entity. With a group membership control it
// also returns the groups holding the entity; the entity itself need not be
// stored here, so other repositories can ask for the groups of their
// members. A cache control is acknowledged and has nothing to clear.
func (d *Directory) Get(ctx context.Context, req *model.Root) (*model.Root, error) {
	d.gets.Add(1)
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	if req.Controls.Cache != nil {
		d.log.Debug().Str("mode", string(req.Controls.Cache.Mode)).Msg("cache control acknowledged")
		return model.NewRoot(), nil
	}

	ent := req.Entity()
	if ent == nil {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "get requires an entity").WithRepository(d.id)
	}

	var props []string
	if pc := req.Controls.Properties; pc != nil {
		props = pc.Properties
	}
	wantGroups := req.Controls.GroupMembership != nil
	wantMembers := req.Controls.GroupMember != nil

	stored, err := d.lookup(ent.ID)
	if err != nil {
		if wantGroups && model.KindOf(err) == model.KindEntityNotFound && ent.UniqueName() != "" {
			if groups := d.groupsOf(ent.UniqueName()); len(groups) > 0 {
				stub := &model.Entity{Type: ent.Type, ID: &model.Identifier{UniqueName: ent.UniqueName()}, Groups: groups}
				return model.NewRoot(stub), nil
			}
		}
		return nil, err
	}
	return model.NewRoot(d.present(stored, props, wantGroups, wantMembers)), nil
}

// Search evaluates the expression over the stored entities under the
// search bases. A count limit stops the scan early. With a change control
// only entities changed after the caller's checkpoint are considered, and
// the response carries the new checkpoint.
func (d *Directory) Search(ctx context.Context, req *model.Root) (*model.Root, error) {
	d.searches.Add(1)
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	sc := req.Controls.Search
	if sc == nil {
		return nil, model.Errorf(model.KindMissingSearchControl, "search requires a search control").WithRepository(d.id)
	}

	node, err := expr.Parse(sc.Expression)
	if err != nil {
		return nil, err
	}

	candidates := d.store.List()
	resp := model.NewRoot()
	if cc := req.Controls.Change; cc != nil {
		var since uint64
		if cp := cc.Checkpoints[d.id]; cp != "" {
			since, err = strconv.ParseUint(cp, 10, 64)
			if err != nil {
				return nil, model.Wrap(model.KindSearchControlError, err, "invalid checkpoint %q", cp).WithRepository(d.id)
			}
		}
		names, rev := d.store.Changes(since)
		changed := make(map[string]bool, len(names))
		for _, n := range names {
			changed[n] = true
		}
		candidates = slicesFilter(candidates, func(e *model.Entity) bool {
			return changed[strings.ToLower(dn.Normalize(e.UniqueName()))]
		})
		resp.Controls.ChangeResponse = &model.ChangeResponseControl{
			Checkpoints: map[string]string{d.id: strconv.FormatUint(rev, 10)},
		}
	}

	for _, e := range candidates {
		if !underAny(e.UniqueName(), sc.SearchBases) || !isAny(e, sc.EntityTypes) {
			continue
		}
		if !expr.Evaluate(node, e) {
			continue
		}
		resp.Entities = append(resp.Entities, d.present(e, sc.Properties, false, false))
		if sc.CountLimit > 0 && len(resp.Entities) >= sc.CountLimit {
			break
		}
	}
	return resp, nil
}

func slicesFilter(in []*model.Entity, keep func(*model.Entity) bool) []*model.Entity {
	out := in[:0]
	for _, e := range in {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func underAny(name string, bases []string) bool {
	if len(bases) == 0 {
		return true
	}
	for _, b := range bases {
		if dn.HasSuffix(name, b) {
			return true
		}
	}
	return false
}

func isAny(e *model.Entity, types []model.EntityType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if e.IsA(t) {
			return true
		}
	}
	return false
}

// Login authenticates a person by principal name and password, or by
// certificate subject when certificates are enabled. The principal name
// matches the principalName or uid property.
func (d *Directory) Login(ctx context.Context, req *model.Root) (*model.Root, error) {
	d.logins.Add(1)
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	ent := req.Entity()
	if ent == nil {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "login requires a principal").WithRepository(d.id)
	}

	lc := req.Controls.Login
	var bases []string
	var props []string
	if lc != nil {
		bases = lc.SearchBases
		props = lc.Properties
	}

	var match func(*model.Entity) bool
	principal := ent.First(model.PropPrincipalName)
	if lc != nil && len(lc.Certificate) > 0 {
		if !d.certificates {
			return nil, model.Errorf(model.KindCertificateMapNotSupported, "certificate login is not enabled").WithRepository(d.id)
		}
		subject := strings.TrimSpace(string(lc.Certificate))
		match = func(e *model.Entity) bool {
			return dn.Equal(e.First(PropCertificateSubject), subject)
		}
	} else {
		if principal == "" {
			principal = dn.RDN(ent.UniqueName())
			if i := strings.Index(principal, "="); i >= 0 {
				principal = principal[i+1:]
			}
		}
		match = func(e *model.Entity) bool {
			return strings.EqualFold(e.First(model.PropPrincipalName), principal) ||
				strings.EqualFold(e.First(model.PropUID), principal)
		}
	}

	var found []*model.Entity
	for _, e := range d.store.List() {
		if e.IsA(model.TypePerson) && underAny(e.UniqueName(), bases) && match(e) {
			found = append(found, e)
		}
	}

	switch len(found) {
	case 0:
		return nil, model.Errorf(model.KindPrincipalNotFound, "principal %q not found", principal).WithRepository(d.id)
	case 1:
	default:
		return nil, model.Errorf(model.KindDuplicateLogonID, "principal %q matches %d entities", principal, len(found)).WithRepository(d.id)
	}

	user := found[0]
	if lc == nil || len(lc.Certificate) == 0 {
		want := []byte(user.First(model.PropPassword))
		got := []byte(ent.First(model.PropPassword))
		if len(want) == 0 || subtle.ConstantTimeCompare(want, got) != 1 {
			return nil, model.Errorf(model.KindPasswordCheckFailed, "password check failed").
				WithRepository(d.id).WithUniqueName(user.UniqueName())
		}
	}
	return model.NewRoot(d.present(user, props, false, false)), nil
}

// Create stores a new entity and adds it to the listed local groups.
func (d *Directory) Create(ctx context.Context, req *model.Root) (*model.Root, error) {
	d.creates.Add(1)
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	ent := req.Entity()
	if ent == nil || ent.UniqueName() == "" {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "create requires a unique name").WithRepository(d.id)
	}
	name := ent.UniqueName()
	if !d.holds(name) {
		return nil, model.Errorf(model.KindEntityNotInRealmScope, "name is outside the directory").WithRepository(d.id).WithUniqueName(name)
	}

	stored := ent.Clone()
	stored.ID = &model.Identifier{UniqueName: name, UniqueID: ent.ID.UniqueID}
	if stored.ID.UniqueID == "" {
		stored.ID.UniqueID = uuid.NewString()
	}
	stored.Parent = nil
	groups := stored.Groups
	stored.Groups = nil
	if stored.Properties == nil {
		stored.Properties = make(map[string][]string)
	}

	for _, g := range groups {
		if _, err := d.lookup(g.ID); err != nil {
			return nil, err
		}
	}
	if err := d.store.Insert(stored); err != nil {
		return nil, d.storeError(err, name)
	}
	ref := &model.Entity{Type: stored.Type, ID: &model.Identifier{UniqueName: name, UniqueID: stored.ID.UniqueID, RepositoryID: d.id}}
	for _, g := range groups {
		if err := d.modifyMembers(g.ID, []*model.Entity{ref}, model.ModifyAdd); err != nil {
			return nil, err
		}
	}

	d.log.Debug().Str("uniqueName", name).Msg("entity created")
	return model.NewRoot(d.present(stored, nil, len(groups) > 0, false)), nil
}

// Update merges the request's properties into the stored entity. A
// property with no values is removed. Groups listed on the entity are
// joined, left or replaced as the group membership control's modify mode
// says; members listed on a group are handled the same way under the group
// member control.
func (d *Directory) Update(ctx context.Context, req *model.Root) (*model.Root, error) {
	d.updates.Add(1)
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	ent := req.Entity()
	if ent == nil {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "update requires an entity").WithRepository(d.id)
	}
	stored, err := d.lookup(ent.ID)
	if err != nil {
		return nil, err
	}

	for name, values := range ent.Properties {
		if len(values) == 0 {
			stored.Unset(name)
		} else {
			stored.Set(name, values...)
		}
	}

	if gm := req.Controls.GroupMember; gm != nil && len(ent.Members) > 0 {
		stored.Members = combine(stored.Members, ent.Members, gm.ModifyMode)
	}
	if err := d.store.Put(stored); err != nil {
		return nil, d.storeError(err, stored.UniqueName())
	}

	if gm := req.Controls.GroupMembership; gm != nil && (len(ent.Groups) > 0 || gm.ModifyMode == model.ModifyReplace) {
		if err := d.updateGroupsOf(stored, ent.Groups, gm.ModifyMode); err != nil {
			return nil, err
		}
	}

	d.log.Debug().Str("uniqueName", stored.UniqueName()).Msg("entity updated")
	return model.NewRoot(d.present(stored, nil, req.Controls.GroupMembership != nil, req.Controls.GroupMember != nil)), nil
}

// updateGroupsOf changes which local groups list member.
func (d *Directory) updateGroupsOf(member *model.Entity, groups []*model.Entity, mode model.ModifyMode) error {
	ref := &model.Entity{Type: member.Type, ID: &model.Identifier{UniqueName: member.UniqueName(), UniqueID: member.ID.UniqueID, RepositoryID: d.id}}
	if mode == model.ModifyReplace {
		for _, g := range d.groupsOf(member.UniqueName()) {
			if err := d.modifyMembers(g.ID, []*model.Entity{ref}, model.ModifyRemove); err != nil {
				return err
			}
		}
		mode = model.ModifyAdd
	}
	for _, g := range groups {
		if err := d.modifyMembers(g.ID, []*model.Entity{ref}, mode); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) modifyMembers(group *model.Identifier, members []*model.Entity, mode model.ModifyMode) error {
	g, err := d.lookup(group)
	if err != nil {
		return err
	}
	if !g.IsA(model.TypeGroup) {
		return model.Errorf(model.KindInvalidIdentifier, "%s is not a group", g.UniqueName()).WithRepository(d.id)
	}
	g.Members = combine(g.Members, members, mode)
	if err := d.store.Put(g); err != nil {
		return d.storeError(err, g.UniqueName())
	}
	return nil
}

// combine applies a modify mode to a reference list. References compare by
// unique name.
func combine(current, change []*model.Entity, mode model.ModifyMode) []*model.Entity {
	has := func(list []*model.Entity, e *model.Entity) bool {
		for _, x := range list {
			if dn.Equal(x.UniqueName(), e.UniqueName()) {
				return true
			}
		}
		return false
	}

	switch mode {
	case model.ModifyReplace:
		return cloneRefs(change)
	case model.ModifyRemove:
		var out []*model.Entity
		for _, x := range current {
			if !has(change, x) {
				out = append(out, x)
			}
		}
		return out
	default:
		out := current
		for _, x := range change {
			if !has(out, x) {
				out = append(out, &model.Entity{Type: x.Type, ID: x.ID.Clone()})
			}
		}
		return out
	}
}

func cloneRefs(in []*model.Entity) []*model.Entity {
	out := make([]*model.Entity, len(in))
	for i, x := range in {
		out[i] = &model.Entity{Type: x.Type, ID: x.ID.Clone()}
	}
	return out
}

// Delete removes a leaf entity and drops it from every local group.
func (d *Directory) Delete(ctx context.Context, req *model.Root) (*model.Root, error) {
	d.deletes.Add(1)
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	ent := req.Entity()
	if ent == nil {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "delete requires an entity").WithRepository(d.id)
	}
	stored, err := d.lookup(ent.ID)
	if err != nil {
		return nil, err
	}
	name := stored.UniqueName()

	for _, e := range d.store.List() {
		if !dn.Equal(e.UniqueName(), name) && dn.HasSuffix(e.UniqueName(), name) {
			return nil, model.Errorf(model.KindOperationNotSupported, "entity has descendants").WithRepository(d.id).WithUniqueName(name)
		}
	}

	ref := []*model.Entity{{ID: &model.Identifier{UniqueName: name}}}
	for _, g := range d.groupsOf(name) {
		if err := d.modifyMembers(g.ID, ref, model.ModifyRemove); err != nil {
			return nil, err
		}
	}
	if err := d.store.Delete(name); err != nil {
		return nil, d.storeError(err, name)
	}

	d.log.Debug().Str("uniqueName", name).Msg("entity deleted")
	return model.NewRoot(d.present(stored, []string{}, false, false)), nil
}
