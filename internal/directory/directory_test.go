package directory

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vmm/internal/model"
)

const seed = `
entities:
  - type: OrgContainer
    uniqueName: o=corp
  - type: PersonAccount
    uniqueName: uid=alice,ou=people,o=corp
    properties:
      uid: [alice]
      cn: [Alice Smith]
      sn: [Smith]
      password: [wonderland]
      certificateSubject: ["CN=Alice,O=Corp"]
  - type: PersonAccount
    uniqueName: uid=bob,ou=people,o=corp
    properties:
      uid: [bob]
      cn: [Bob Jones]
      principalName: [bjones]
      password: [builder]
  - type: Group
    uniqueName: cn=admins,ou=groups,o=corp
    properties:
      cn: [admins]
    members: [uid=alice,ou=people,o=corp, "uid=carol,o=other"]
`

func newDirectory(t *testing.T, opts Options) *Directory {
	t.Helper()
	opts.Logger = zerolog.Nop()
	if opts.BaseEntries == nil {
		opts.BaseEntries = []string{"o=corp"}
	}
	d := New("corp", opts)
	entities, err := ReadSeed(strings.NewReader(seed))
	require.NoError(t, err)
	require.NoError(t, d.Seed(entities...))
	return d
}

func get(name string) *model.Root {
	return model.NewRoot(&model.Entity{ID: &model.Identifier{UniqueName: name}})
}

func names(entities []*model.Entity) []string {
	var out []string
	for _, e := range entities {
		out = append(out, e.UniqueName())
	}
	return out
}

// TestGet tests entity retrieval
func TestGet(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t, Options{})

	t.Run("by unique name", func(t *testing.T) {
		resp, err := d.Get(ctx, get("UID=Alice,ou=people,o=corp"))
		require.NoError(t, err)
		e := resp.Entity()
		assert.Equal(t, "Alice Smith", e.First("cn"))
		assert.False(t, e.Has(model.PropPassword), "passwords never leave the directory")
		assert.Equal(t, "corp", e.RepositoryID())
		assert.NotEmpty(t, e.ID.ExternalID)
	})

	t.Run("by unique id", func(t *testing.T) {
		first, err := d.Get(ctx, get("uid=bob,ou=people,o=corp"))
		require.NoError(t, err)
		id := first.Entity().ID.UniqueID
		require.NotEmpty(t, id)

		resp, err := d.Get(ctx, model.NewRoot(&model.Entity{ID: &model.Identifier{UniqueID: id}}))
		require.NoError(t, err)
		assert.Equal(t, "uid=bob,ou=people,o=corp", resp.Entity().UniqueName())
	})

	t.Run("property control", func(t *testing.T) {
		req := get("uid=alice,ou=people,o=corp")
		req.Controls.Properties = &model.PropertyControl{Properties: []string{"sn"}}
		resp, err := d.Get(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{"sn": {"Smith"}}, resp.Entity().Properties)
	})

	t.Run("groups of a local entity", func(t *testing.T) {
		req := get("uid=alice,ou=people,o=corp")
		req.Controls.GroupMembership = &model.GroupMembershipControl{}
		resp, err := d.Get(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, []string{"cn=admins,ou=groups,o=corp"}, names(resp.Entity().Groups))
	})

	t.Run("groups of a foreign member", func(t *testing.T) {
		req := get("uid=carol,o=other")
		req.Controls.GroupMembership = &model.GroupMembershipControl{}
		resp, err := d.Get(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, []string{"cn=admins,ou=groups,o=corp"}, names(resp.Entity().Groups))

		_, err = d.Get(ctx, get("uid=carol,o=other"))
		assert.ErrorIs(t, err, model.ErrEntityNotFound)
	})

	t.Run("members only with the member control", func(t *testing.T) {
		resp, err := d.Get(ctx, get("cn=admins,ou=groups,o=corp"))
		require.NoError(t, err)
		assert.Empty(t, resp.Entity().Members)

		req := get("cn=admins,ou=groups,o=corp")
		req.Controls.GroupMember = &model.GroupMemberControl{}
		resp, err = d.Get(ctx, req)
		require.NoError(t, err)
		assert.Len(t, resp.Entity().Members, 2)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := d.Get(ctx, get("uid=nobody,o=corp"))
		assert.ErrorIs(t, err, model.ErrEntityNotFound)

		_, err = d.Get(ctx, model.NewRoot())
		assert.ErrorIs(t, err, model.ErrEntityIdentifierNotSpecified)
	})
}

// TestSearch tests expression evaluation over the store
func TestSearch(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t, Options{})

	search := func(sc *model.SearchControl) []string {
		t.Helper()
		req := model.NewRoot()
		req.Controls.Search = sc
		resp, err := d.Search(ctx, req)
		require.NoError(t, err)
		return names(resp.Entities)
	}

	assert.Equal(t, []string{"uid=alice,ou=people,o=corp", "uid=bob,ou=people,o=corp"},
		search(&model.SearchControl{Expression: "uid='*'"}))
	assert.Equal(t, []string{"uid=bob,ou=people,o=corp"},
		search(&model.SearchControl{Expression: "cn='bob*'"}))
	assert.Equal(t, []string{"cn=admins,ou=groups,o=corp"},
		search(&model.SearchControl{Expression: "cn='*'", EntityTypes: []model.EntityType{model.TypeGroup}}))
	assert.Equal(t, []string{"cn=admins,ou=groups,o=corp"},
		search(&model.SearchControl{Expression: "cn='*'", SearchBases: []string{"ou=groups,o=corp"}}))
	assert.Len(t, search(&model.SearchControl{Expression: "cn='*'", CountLimit: 1}), 1)

	req := model.NewRoot()
	_, err := d.Search(ctx, req)
	assert.ErrorIs(t, err, model.ErrMissingSearchControl)

	req.Controls.Search = &model.SearchControl{Expression: "uid="}
	_, err = d.Search(ctx, req)
	assert.ErrorIs(t, err, model.ErrSearchExpression)
}

// TestDeltaSearch tests change checkpoints
func TestDeltaSearch(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t, Options{})

	req := model.NewRoot()
	req.Controls.Search = &model.SearchControl{Expression: "uid='*'"}
	req.Controls.Change = &model.ChangeControl{}
	resp, err := d.Search(ctx, req)
	require.NoError(t, err)
	assert.Len(t, resp.Entities, 2)
	checkpoint := resp.Controls.ChangeResponse.Checkpoints["corp"]
	require.NotEmpty(t, checkpoint)

	upd := get("uid=bob,ou=people,o=corp")
	upd.Entities[0].Properties = map[string][]string{"sn": {"Jones"}}
	_, err = d.Update(ctx, upd)
	require.NoError(t, err)

	req.Controls.Change = &model.ChangeControl{Checkpoints: map[string]string{"corp": checkpoint}}
	resp, err = d.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"uid=bob,ou=people,o=corp"}, names(resp.Entities))
	assert.NotEqual(t, checkpoint, resp.Controls.ChangeResponse.Checkpoints["corp"])

	req.Controls.Change = &model.ChangeControl{Checkpoints: map[string]string{"corp": "x"}}
	_, err = d.Search(ctx, req)
	assert.ErrorIs(t, err, model.ErrSearchControl)
}

// TestLogin tests password and certificate authentication
func TestLogin(t *testing.T) {
	ctx := context.Background()

	login := func(d *Directory, principal, password string, cert []byte) (*model.Root, error) {
		e := &model.Entity{ID: &model.Identifier{}, Properties: map[string][]string{}}
		if principal != "" {
			e.Set(model.PropPrincipalName, principal)
		}
		e.Set(model.PropPassword, password)
		req := model.NewRoot(e)
		if cert != nil {
			req.Controls.Login = &model.LoginControl{Certificate: cert}
		}
		return d.Login(ctx, req)
	}

	d := newDirectory(t, Options{})

	resp, err := login(d, "alice", "wonderland", nil)
	require.NoError(t, err)
	assert.Equal(t, "uid=alice,ou=people,o=corp", resp.Entity().UniqueName())
	assert.False(t, resp.Entity().Has(model.PropPassword))

	resp, err = login(d, "BJONES", "builder", nil)
	require.NoError(t, err)
	assert.Equal(t, "uid=bob,ou=people,o=corp", resp.Entity().UniqueName())

	_, err = login(d, "alice", "wrong", nil)
	assert.ErrorIs(t, err, model.ErrPasswordCheckFailed)
	assert.Equal(t, model.KindPasswordCheckFailed, model.KindOf(err))

	_, err = login(d, "nobody", "x", nil)
	assert.Equal(t, model.KindPrincipalNotFound, model.KindOf(err))

	_, err = login(d, "", "", []byte("CN=Alice,O=Corp"))
	assert.Equal(t, model.KindCertificateMapNotSupported, model.KindOf(err))

	withCerts := newDirectory(t, Options{Certificates: true})
	resp, err = login(withCerts, "", "", []byte("cn=alice, o=corp"))
	require.NoError(t, err)
	assert.Equal(t, "uid=alice,ou=people,o=corp", resp.Entity().UniqueName())
}

// TestWrites tests create, update and delete
func TestWrites(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t, Options{})

	t.Run("create assigns an id and joins groups", func(t *testing.T) {
		e := model.NewEntity(model.TypePerson, "uid=dave,ou=people,o=corp")
		e.Set("uid", "dave")
		e.Groups = []*model.Entity{{ID: &model.Identifier{UniqueName: "cn=admins,ou=groups,o=corp"}}}
		resp, err := d.Create(ctx, model.NewRoot(e))
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Entity().ID.UniqueID)
		assert.Equal(t, []string{"cn=admins,ou=groups,o=corp"}, names(resp.Entity().Groups))

		_, err = d.Create(ctx, model.NewRoot(e))
		assert.ErrorIs(t, err, model.ErrEntityAlreadyExists)

		_, err = d.Create(ctx, model.NewRoot(model.NewEntity(model.TypePerson, "uid=x,o=elsewhere")))
		assert.ErrorIs(t, err, model.ErrEntityNotInRealmScope)
	})

	t.Run("update merges properties", func(t *testing.T) {
		req := get("uid=bob,ou=people,o=corp")
		req.Entities[0].Properties = map[string][]string{"mail": {"bob@corp"}, "cn": nil}
		_, err := d.Update(ctx, req)
		require.NoError(t, err)

		resp, err := d.Get(ctx, get("uid=bob,ou=people,o=corp"))
		require.NoError(t, err)
		assert.Equal(t, "bob@corp", resp.Entity().First("mail"))
		assert.False(t, resp.Entity().Has("cn"))
		assert.Equal(t, "bob", resp.Entity().First("uid"))
	})

	t.Run("update group membership modes", func(t *testing.T) {
		admins := &model.Entity{ID: &model.Identifier{UniqueName: "cn=admins,ou=groups,o=corp"}}

		req := get("uid=bob,ou=people,o=corp")
		req.Entities[0].Groups = []*model.Entity{admins}
		req.Controls.GroupMembership = &model.GroupMembershipControl{ModifyMode: model.ModifyAdd}
		resp, err := d.Update(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, []string{"cn=admins,ou=groups,o=corp"}, names(resp.Entity().Groups))

		req.Controls.GroupMembership.ModifyMode = model.ModifyRemove
		resp, err = d.Update(ctx, req)
		require.NoError(t, err)
		assert.Empty(t, resp.Entity().Groups)
	})

	t.Run("update group members", func(t *testing.T) {
		req := get("cn=admins,ou=groups,o=corp")
		req.Entities[0].Members = []*model.Entity{{ID: &model.Identifier{UniqueName: "uid=erin,o=partner"}}}
		req.Controls.GroupMember = &model.GroupMemberControl{ModifyMode: model.ModifyReplace}
		resp, err := d.Update(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, []string{"uid=erin,o=partner"}, names(resp.Entity().Members))
	})

	t.Run("delete", func(t *testing.T) {
		_, err := d.Delete(ctx, get("uid=dave,ou=people,o=corp"))
		require.NoError(t, err)
		_, err = d.Get(ctx, get("uid=dave,ou=people,o=corp"))
		assert.ErrorIs(t, err, model.ErrEntityNotFound)

		_, err = d.Delete(ctx, get("o=corp"))
		assert.ErrorIs(t, err, model.ErrOperationNotSupported)
	})
}

// TestAvailability tests the availability switch and statistics
func TestAvailability(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t, Options{})

	require.NoError(t, d.Ping(ctx))
	d.SetAvailable(false)
	assert.ErrorIs(t, d.Ping(ctx), model.ErrRepositoryUnavailable)
	_, err := d.Get(ctx, get("uid=alice,ou=people,o=corp"))
	assert.ErrorIs(t, err, model.ErrRepositoryUnavailable)
	d.SetAvailable(true)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, d.Ping(cancelled), model.ErrRepositoryUnavailable)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Gets)
	assert.Equal(t, 4, stats.Entities)
}

// TestReadSeed tests seed decoding errors
func TestReadSeed(t *testing.T) {
	_, err := ReadSeed(strings.NewReader("entities:\n  - type: Group\n"))
	assert.Error(t, err)

	_, err = ReadSeed(strings.NewReader("unknown: 1\n"))
	assert.Error(t, err)

	entities, err := ReadSeed(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entities)
}
