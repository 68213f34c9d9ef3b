package federation

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/repository"
)

// loginOutcome is one repository's answer to a login.
type loginOutcome struct {
	repo   *repository.Descriptor
	entity *model.Entity
	err    error
}

// Login authenticates a principal against every participating repository
// and reconciles the answers:
//
//	successes  counted errors  result
//	    0            0         PrincipalNotFound
//	    1            0         the authenticated entity
//	    0            1         that error
//	   n+m > 1                 DuplicateLogonId (cause: every counted error)
//
// PrincipalNotFound answers and CertificateMapNotSupported answers are not
// counted. When every repository answers CertificateMapNotSupported the
// login fails with it.
//
// A principal qualified with a realm ("alice/corp") logs into that realm.
func (e *Engine) Login(ctx context.Context, req *model.Root) (resp *model.Root, err error) {
	if req == nil {
		req = model.NewRoot()
	}
	start := time.Now()
	defer func() { e.finish(OpLogin, start, req.Context.Realm, err) }()

	ent := req.Entity()
	if ent == nil {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "login requires a principal")
	}
	ent = ent.Clone()
	if ent.ID == nil {
		ent.ID = &model.Identifier{}
	}

	req = e.qualify(req, ent)

	c, err := e.begin(OpLogin, req)
	if err != nil {
		return nil, err
	}

	lc := req.Controls.Login
	certificate := lc != nil && len(lc.Certificate) > 0
	if !certificate && ent.First(model.PropPrincipalName) == "" && ent.UniqueName() == "" {
		return nil, model.Errorf(model.KindEntityIdentifierNotSpecified, "login requires a principal name")
	}

	targets := c.participating
	if lc != nil && len(lc.SearchBases) > 0 {
		if targets, err = e.candidates(c, lc.SearchBases); err != nil {
			return nil, err
		}
	}
	targets = e.available(c, targets)
	if len(targets) == 0 {
		return nil, model.Errorf(model.KindPrincipalNotFound, "no repository available to authenticate against")
	}

	outcomes := make([]loginOutcome, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range targets {
		i, d := i, d
		g.Go(func() error {
			sub := model.NewRoot(outbound(d, ent))
			sub.Controls.Login = lc
			r, err := e.invoke(gctx, c, d, OpLogin, sub)
			outcomes[i] = loginOutcome{repo: d, err: err}
			if err == nil {
				outcomes[i].entity = r.Entity()
			}
			return nil
		})
	}
	_ = g.Wait()

	found, err := e.reconcile(c, outcomes)
	if err != nil {
		return nil, err
	}

	e.log.Debug().Str("repository", found.RepositoryID()).Str("uniqueName", found.UniqueName()).Msg("login succeeded")
	return c.respond(model.NewRoot(found)), nil
}

// qualify moves a realm suffix of the principal name into the request
// context when it names a configured realm and the request names none.
func (e *Engine) qualify(req *model.Root, ent *model.Entity) *model.Root {
	principal := ent.First(model.PropPrincipalName)
	if principal == "" || req.Context.Realm != "" {
		return req
	}
	realms := e.realms.Current()
	def, err := realms.Lookup("")
	if err != nil || def == nil {
		return req
	}
	name, realm := def.SplitPrincipal(principal)
	if realm == "" {
		return req
	}
	if _, err := realms.Lookup(realm); err != nil {
		return req
	}

	ent.Set(model.PropPrincipalName, name)
	out := *req
	out.Context.Realm = realm
	out.Entities = []*model.Entity{ent}
	return &out
}

func (e *Engine) reconcile(c *call, outcomes []loginOutcome) (*model.Entity, error) {
	var (
		successes    []*model.Entity
		counted      []error
		certificates int
	)

	for _, o := range outcomes {
		if o.err == nil {
			if o.entity != nil {
				successes = append(successes, o.entity)
			}
			continue
		}

		me := model.AsError(o.err).WithRealm(c.realmName())
		switch me.Kind {
		case model.KindCertificateMapNotSupported:
			certificates++
			continue
		case model.KindPrincipalNotFound, model.KindEntityNotFound:
			continue
		}
		if me.Kind.Disposition() == model.Skip {
			if err := e.tolerate(c, o.repo, me); err != nil {
				return nil, err
			}
			continue
		}
		counted = append(counted, me)
	}

	if certificates > 0 && certificates == len(outcomes) {
		return nil, model.Errorf(model.KindCertificateMapNotSupported, "no repository supports certificate mapping").
			WithRealm(c.realmName())
	}

	switch n := len(successes) + len(counted); {
	case n == 0:
		return nil, model.Errorf(model.KindPrincipalNotFound, "principal not found").WithRealm(c.realmName())
	case n > 1:
		var cause error
		for _, err := range counted {
			cause = multierr.Append(cause, err)
		}
		names := make([]string, 0, len(successes))
		for _, s := range successes {
			names = append(names, s.UniqueName())
		}
		e.log.Warn().Strs("matches", names).Int("errors", len(counted)).Msg("principal matched more than once")
		return nil, model.Wrap(model.KindDuplicateLogonID, cause,
			"principal matched %d times", n).WithRealm(c.realmName())
	case len(counted) == 1:
		return nil, counted[0]
	}
	return successes[0], nil
}
