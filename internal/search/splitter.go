// Package search splits a search expression across repositories that
// support different properties, runs the parts concurrently and recombines
// the results.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/vmm/internal/aggregate"
	"github.com/dreamware/vmm/internal/expr"
	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/repository"
)

// Request is one federated search.
type Request struct {
	// Control is the caller's search control. Its expression is split; the
	// rest is forwarded to every repository.
	Control *model.SearchControl

	// Change carries delta checkpoints per repository, if any.
	Change *model.ChangeControl

	// Context is forwarded to every repository.
	Context model.Context

	// Repositories are the candidate repositories in configuration order.
	Repositories []*repository.Descriptor

	// Tolerant records failing repositories instead of failing the search.
	Tolerant bool
}

// Result is the recombined outcome of a federated search.
type Result struct {
	Entities     []*model.Entity
	Repositories []string          // repositories that answered
	Failures     []string          // repositories skipped after an error
	Checkpoints  map[string]string // delta checkpoints per repository
	Bridge       bool              // a bridge repository contributed
}

// Options configures a Splitter.
type Options struct {
	Logger zerolog.Logger

	// EntryJoin de-duplicates results of one sub-query across repositories
	// by unique name.
	EntryJoin bool

	// Observe, when set, is called after every repository call.
	Observe func(repository string, elapsed time.Duration, err error)
}

// Splitter plans and runs federated searches. It is stateless between
// searches and safe for concurrent use.
type Splitter struct {
	log       zerolog.Logger
	entryJoin bool
	observe   func(string, time.Duration, error)
}

// NewSplitter creates a splitter.
func NewSplitter(opts Options) *Splitter {
	return &Splitter{
		log:       opts.Logger.With().Str("component", "search").Logger(),
		entryJoin: opts.EntryJoin,
		observe:   opts.Observe,
	}
}

// plan is an annotated expression tree. A plain plan is sent as one
// sub-query to every repository in repos; a federation plan evaluates its
// sides separately and combines them by unique name.
type plan struct {
	node        expr.Node
	repos       []*repository.Descriptor
	federation  bool
	op          expr.LogicalOp
	left, right *plan
}

// Plan parses the expression and annotates it against the candidate
// repositories. Logical nodes whose sides are supported by different
// repository sets become federation nodes.
func (s *Splitter) Plan(expression string, types []model.EntityType, repos []*repository.Descriptor) (expr.Node, error) {
	n, err := expr.Parse(expression)
	if err != nil {
		return nil, err
	}
	if _, err := s.annotate(n, types, repos); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Splitter) annotate(n expr.Node, types []model.EntityType, repos []*repository.Descriptor) (*plan, error) {
	switch v := n.(type) {
	case *expr.PropertyNode:
		var supporting []*repository.Descriptor
		for _, d := range repos {
			if d.SupportsProperty(v.Name, types) {
				supporting = append(supporting, d)
			}
		}
		if len(supporting) == 0 {
			return nil, model.Errorf(model.KindSearchExpressionError, "no repository supports property %q", v.Name)
		}
		return &plan{node: v, repos: supporting}, nil

	case *expr.ParenNode:
		inner, err := s.annotate(v.Inner, types, repos)
		if err != nil {
			return nil, err
		}
		if inner.federation {
			v.Federation = true
			return inner, nil
		}
		return &plan{node: v, repos: inner.repos}, nil

	case *expr.LogicalNode:
		left, err := s.annotate(v.Left, types, repos)
		if err != nil {
			return nil, err
		}
		right, err := s.annotate(v.Right, types, repos)
		if err != nil {
			return nil, err
		}
		if !left.federation && !right.federation && sameRepositories(left.repos, right.repos) {
			return &plan{node: v, repos: left.repos}, nil
		}
		v.Federation = true
		return &plan{node: v, federation: true, op: v.Op, left: left, right: right}, nil
	}

	return nil, model.Errorf(model.KindSearchExpressionError, "unexpected expression node %T", n)
}

func sameRepositories(a, b []*repository.Descriptor) bool {
	return slices.EqualFunc(a, b, func(x, y *repository.Descriptor) bool { return x.ID == y.ID })
}

// state collects per-search bookkeeping shared by every sub-query.
type state struct {
	req         *Request
	fetchBound  int
	mu          sync.Mutex
	failures    map[string]bool
	answered    map[string]bool
	checkpoints map[string]string
	bridge      bool
}

// Search runs a federated search. Strict requests fail on the first
// repository error; tolerant requests record the repository and continue.
func (s *Splitter) Search(ctx context.Context, req *Request) (*Result, error) {
	if req.Control == nil {
		return nil, model.Errorf(model.KindMissingSearchControl, "search control required")
	}
	if len(req.Repositories) == 0 {
		return nil, model.Errorf(model.KindNoUserRepositoriesFound, "no repository to search")
	}

	n, err := expr.Parse(req.Control.Expression)
	if err != nil {
		return nil, err
	}
	p, err := s.annotate(n, req.Control.EntityTypes, req.Repositories)
	if err != nil {
		return nil, err
	}

	st := &state{
		req:         req,
		failures:    make(map[string]bool),
		answered:    make(map[string]bool),
		checkpoints: make(map[string]string),
	}
	// Sub-queries of a federation tree are combined before any limit
	// applies, so only a plain tree can bound what repositories return.
	if !p.federation {
		st.fetchBound = aggregate.FetchBound(req.Control.CountLimit)
	}

	entities, err := s.exec(ctx, p, st)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Entities: entities,
		Bridge:   st.bridge,
	}
	for _, d := range req.Repositories {
		if st.failures[d.ID] {
			res.Failures = append(res.Failures, d.ID)
		} else if st.answered[d.ID] {
			res.Repositories = append(res.Repositories, d.ID)
		}
	}
	if len(st.checkpoints) > 0 {
		res.Checkpoints = st.checkpoints
	}
	return res, nil
}

func (s *Splitter) exec(ctx context.Context, p *plan, st *state) ([]*model.Entity, error) {
	if !p.federation {
		return s.dispatch(ctx, p, st)
	}

	left, err := s.exec(ctx, p.left, st)
	if err != nil {
		return nil, err
	}
	right, err := s.exec(ctx, p.right, st)
	if err != nil {
		return nil, err
	}

	if p.op == expr.Or {
		return Union(left, right), nil
	}
	return Intersect(left, right), nil
}

// dispatch sends a plain sub-query to every repository of the plan
// concurrently and concatenates the answers in configuration order.
func (s *Splitter) dispatch(ctx context.Context, p *plan, st *state) ([]*model.Entity, error) {
	node := p.node
	if types := st.req.Control.EntityTypes; len(types) > 1 {
		node = expr.NewAnd(expr.TypeClause(types), expr.NewParen(node))
	}
	text := expr.String(node)

	results := make([][]*model.Entity, len(p.repos))
	g, gctx := errgroup.WithContext(ctx)

	for i, d := range p.repos {
		st.mu.Lock()
		failed := st.failures[d.ID]
		st.mu.Unlock()
		if failed {
			continue
		}

		i, d := i, d
		g.Go(func() error {
			entities, err := s.call(gctx, d, text, st)
			if err != nil {
				e := model.AsError(err).WithRepository(d.ID)
				if st.req.Tolerant && e.Kind.Disposition() == model.Skip {
					s.log.Warn().Err(e).Str("repository", d.ID).Msg("repository skipped")
					st.mu.Lock()
					st.failures[d.ID] = true
					st.mu.Unlock()
					return nil
				}
				return e
			}
			results[i] = entities
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return aggregate.Merge(results, s.entryJoin), nil
}

func (s *Splitter) call(ctx context.Context, d *repository.Descriptor, text string, st *state) ([]*model.Entity, error) {
	sc := st.req.Control.Clone()
	sc.Expression = text
	sc.CountLimit = st.fetchBound

	req := &model.Root{Context: st.req.Context}
	req.Controls.Search = sc
	if st.req.Change != nil {
		req.Controls.Change = &model.ChangeControl{
			Checkpoints: map[string]string{d.ID: st.req.Change.Checkpoints[d.ID]},
		}
	}

	s.log.Debug().Str("repository", d.ID).Str("expression", text).Msg("dispatching search")

	start := time.Now()
	resp, err := d.Adapter.Search(ctx, req)
	if s.observe != nil {
		s.observe(d.ID, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.answered[d.ID] = true
	if d.Bridge {
		st.bridge = true
	}
	if resp != nil && resp.Controls.ChangeResponse != nil {
		if cp, ok := resp.Controls.ChangeResponse.Checkpoints[d.ID]; ok {
			st.checkpoints[d.ID] = cp
		}
	}
	st.mu.Unlock()

	if resp == nil {
		return nil, nil
	}
	for _, e := range resp.Entities {
		if e == nil {
			continue
		}
		if e.ID == nil {
			e.ID = &model.Identifier{}
		}
		if e.ID.RepositoryID == "" {
			e.ID.RepositoryID = d.ID
		}
	}
	return resp.Entities, nil
}

// Union returns the left entities followed by the right entities whose
// unique name does not occur on the left.
func Union(left, right []*model.Entity) []*model.Entity {
	seen := make(map[string]bool, len(left))
	out := make([]*model.Entity, 0, len(left)+len(right))
	for _, e := range left {
		seen[aggregate.Key(e)] = true
		out = append(out, e)
	}
	for _, e := range right {
		if !seen[aggregate.Key(e)] {
			seen[aggregate.Key(e)] = true
			out = append(out, e)
		}
	}
	return out
}

// Intersect returns the entities present on both sides by unique name,
// iterating the smaller side and keeping its entities and order.
func Intersect(left, right []*model.Entity) []*model.Entity {
	small, large := left, right
	if len(right) < len(left) {
		small, large = right, left
	}

	keys := make(map[string]bool, len(large))
	for _, e := range large {
		keys[aggregate.Key(e)] = true
	}

	out := make([]*model.Entity, 0, len(small))
	for _, e := range small {
		if keys[aggregate.Key(e)] {
			out = append(out, e)
		}
	}
	return out
}

// Describe renders the annotated tree with federation nodes marked, for
// logging.
func Describe(n expr.Node) string {
	var b strings.Builder
	describe(&b, n)
	return b.String()
}

func describe(b *strings.Builder, n expr.Node) {
	switch v := n.(type) {
	case *expr.PropertyNode:
		b.WriteString(expr.String(v))
	case *expr.LogicalNode:
		describe(b, v.Left)
		b.WriteString(" ")
		if v.Federation {
			b.WriteString(strings.ToUpper(v.Op.String()))
		} else {
			b.WriteString(v.Op.String())
		}
		b.WriteString(" ")
		describe(b, v.Right)
	case *expr.ParenNode:
		if v.Federation {
			b.WriteString("[")
			describe(b, v.Inner)
			b.WriteString("]")
			return
		}
		b.WriteString("(")
		describe(b, v.Inner)
		b.WriteString(")")
	}
}
