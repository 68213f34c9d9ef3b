package federation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/vmm/internal/metrics"
	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/pagecache"
	"github.com/dreamware/vmm/internal/realm"
	"github.com/dreamware/vmm/internal/repository"
	"github.com/dreamware/vmm/internal/search"
)

// Operation names used in logs and metrics.
const (
	OpGet    = "get"
	OpSearch = "search"
	OpLogin  = "login"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Options configures an Engine.
type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// PageCacheTTL and PageCacheSize bound the page cache.
	PageCacheTTL  time.Duration
	PageCacheSize uint64
}

// Config is everything a configuration change delivers. It replaces the
// previous configuration as a whole.
type Config struct {
	Repositories []*repository.Descriptor
	Realms       []realm.Config
	DefaultRealm string

	// EntryJoin de-duplicates merged results by unique name.
	EntryJoin bool

	// AllowOperationIfReposDown is the global tolerant-mode default.
	AllowOperationIfReposDown bool

	// MaxSearchResults is the configured search limit; 0 means none.
	MaxSearchResults int
}

// settings are the global flags of the current configuration.
type settings struct {
	splitter         *search.Splitter
	allowIfDown      bool
	maxSearchResults int
}

// Engine is the federation facade. Every operation takes a request envelope
// and returns a response envelope or an *model.Error.
//
// Architecture:
//
//	                 Get / Search / Login / Create / Update / Delete
//	                                    │
//	┌───────────────────────────────────▼──────────────────────────────────┐
//	│                               Engine                                 │
//	│  validate → resolve realm → pick repositories → dispatch → post-     │
//	│  process (strip internal ids, failures, paging, limits, bridge flag) │
//	├───────────────┬───────────────┬─────────────────┬────────────────────┤
//	│ realm.Resolver│ repository.   │ search.Splitter │ pagecache.Cache    │
//	│               │ Registry      │                 │                    │
//	└───────────────┴───────┬───────┴─────────────────┴────────────────────┘
//	                        │ repository.Adapter
//	                 repo1  repo2  repo3 ...
//
// Each request works on the registry snapshot and realm set current when it
// starts; Reconfigure swaps both without disturbing running requests.
type Engine struct {
	registry *repository.Registry
	realms   *realm.Resolver
	cache    *pagecache.Cache
	health   *repository.HealthMonitor
	metrics  *metrics.Metrics
	log      zerolog.Logger
	settings atomic.Pointer[settings]
}

// New creates an engine without repositories. Call Reconfigure to install
// a configuration.
func New(opts Options) *Engine {
	e := &Engine{
		registry: repository.NewRegistry(),
		realms:   realm.NewResolver(opts.Logger),
		metrics:  opts.Metrics,
		log:      opts.Logger.With().Str("component", "engine").Logger(),
	}
	e.cache = pagecache.New(pagecache.Options{
		TTL:      opts.PageCacheTTL,
		Capacity: opts.PageCacheSize,
		Logger:   opts.Logger,
		OnEvict:  opts.Metrics.RecordEviction,
	})
	e.settings.Store(e.newSettings(Config{}))
	return e
}

func (e *Engine) newSettings(cfg Config) *settings {
	return &settings{
		splitter: search.NewSplitter(search.Options{
			Logger:    e.log,
			EntryJoin: cfg.EntryJoin,
			Observe:   e.metrics.ObserveRepository,
		}),
		allowIfDown:      cfg.AllowOperationIfReposDown,
		maxSearchResults: cfg.MaxSearchResults,
	}
}

// Registry returns the repository registry.
func (e *Engine) Registry() *repository.Registry { return e.registry }

// Realms returns the realm resolver.
func (e *Engine) Realms() *realm.Resolver { return e.realms }

// PageCache returns the page cache.
func (e *Engine) PageCache() *pagecache.Cache { return e.cache }

// SetHealthMonitor lets tolerant requests skip repositories the monitor
// reports down, and clears cached pages a repository contributed to or was
// missing from whenever its status changes.
func (e *Engine) SetHealthMonitor(h *repository.HealthMonitor) {
	e.health = h
	h.SetOnDown(func(id string) {
		e.metrics.SetRepositoryUp(id, false)
		if n := e.cache.ClearRepository(id); n > 0 {
			e.log.Info().Str("repository", id).Int("entries", n).Msg("cleared cached pages of down repository")
		}
	})
	h.SetOnUp(func(id string) {
		e.metrics.SetRepositoryUp(id, true)
		if n := e.cache.ClearRepository(id); n > 0 {
			e.log.Info().Str("repository", id).Int("entries", n).Msg("cleared cached pages missing a recovered repository")
		}
	})
}

// Start runs the page cache expiry loop. It blocks until Stop.
func (e *Engine) Start() {
	e.cache.Start()
}

// Stop ends the page cache expiry loop.
func (e *Engine) Stop() {
	e.cache.Stop()
}

// Reconfigure installs a new repository set, realm set and global flags in
// one delivery, then verifies that every participating base entry is served.
// An invalid configuration leaves the previous one in place. Unserved base
// entries are logged, not fatal.
func (e *Engine) Reconfigure(cfg Config) error {
	err := e.realms.Deliver(func() error {
		previous := e.registry.Snapshot().Descriptors()
		if err := e.registry.Replace(cfg.Repositories); err != nil {
			return model.Wrap(model.KindInvalidBaseEntry, err, "invalid repository configuration")
		}
		if err := e.realms.Replace(cfg.Realms, cfg.DefaultRealm); err != nil {
			_ = e.registry.Replace(previous)
			return err
		}
		e.settings.Store(e.newSettings(cfg))
		e.cache.ClearAll()
		return nil
	})
	if err != nil {
		e.log.Error().Err(err).Msg("configuration rejected")
		return err
	}

	if err := e.realms.Verify(e.registry.Snapshot()); err != nil {
		e.log.Warn().Err(err).Msg("configuration has unserved base entries")
	}
	e.log.Info().
		Strs("repositories", e.registry.Snapshot().IDs()).
		Bool("entryJoin", cfg.EntryJoin).
		Msg("configuration installed")
	return nil
}

// call is the per-request state: the snapshots the request works on and
// what it has collected for the response context.
type call struct {
	op            string
	snap          *repository.Snapshot
	realm         *realm.Config
	participating []*repository.Descriptor
	tolerant      bool
	settings      *settings
	context       model.Context

	mu       sync.Mutex
	failures []string
	bridge   bool
}

// begin validates the common preconditions of every operation and resolves
// the realm and the repositories taking part.
func (e *Engine) begin(op string, req *model.Root) (*call, error) {
	if req == nil {
		req = model.NewRoot()
	}

	snap := e.registry.Snapshot()
	if snap.Len() == 0 {
		return nil, model.Errorf(model.KindNoUserRepositoriesFound, "no repositories configured")
	}

	c := &call{
		op:       op,
		snap:     snap,
		settings: e.settings.Load(),
		context:  req.Context,
	}

	r, err := e.realms.Current().Lookup(req.Context.Realm)
	if err != nil {
		return nil, err
	}
	c.realm = r
	c.participating = r.Participating(snap)
	if len(c.participating) == 0 {
		err := model.Errorf(model.KindNoUserRepositoriesFound, "no repositories participate in the realm")
		if r != nil {
			err.WithRealm(r.Name)
		}
		return nil, err
	}
	c.tolerant = r.AllowIfReposDown(req.Context.AllowOperationIfReposDown, c.settings.allowIfDown)
	return c, nil
}

func (c *call) fail(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.failures {
		if f == id {
			return
		}
	}
	c.failures = append(c.failures, id)
}

func (c *call) markBridge(d *repository.Descriptor) {
	if d.Bridge {
		c.mu.Lock()
		c.bridge = true
		c.mu.Unlock()
	}
}

// collected returns the failures and the bridge marker gathered so far.
func (c *call) collected() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.failures...), c.bridge
}

func (c *call) realmName() string {
	if c.realm == nil {
		return ""
	}
	return c.realm.Name
}

// forwardContext is the context sent to adapters: the caller's request
// fields without response markers.
func (c *call) forwardContext() model.Context {
	return model.Context{
		Realm:                     c.realmName(),
		AllowOperationIfReposDown: model.Bool(c.tolerant),
		TrustEntityType:           c.context.TrustEntityType,
	}
}

// tolerate decides what a repository error means for the request: in
// tolerant mode errors that say the repository could not answer are
// recorded and swallowed (nil); every other error is returned.
func (e *Engine) tolerate(c *call, d *repository.Descriptor, err error) error {
	me := model.AsError(err).WithRepository(d.ID).WithRealm(c.realmName())
	if c.tolerant && me.Kind.Disposition() == model.Skip {
		e.log.Warn().Err(me).Str("op", c.op).Str("repository", d.ID).Msg("repository skipped")
		e.metrics.RecordSkipped(d.ID)
		c.fail(d.ID)
		return nil
	}
	return me
}

// available filters out repositories the health monitor reports down, in
// tolerant mode only, recording them as failures.
func (e *Engine) available(c *call, repos []*repository.Descriptor) []*repository.Descriptor {
	if !c.tolerant || e.health == nil {
		return repos
	}
	out := make([]*repository.Descriptor, 0, len(repos))
	for _, d := range repos {
		if e.health.IsDown(d.ID) {
			e.log.Debug().Str("repository", d.ID).Msg("skipping repository reported down")
			e.metrics.RecordSkipped(d.ID)
			c.fail(d.ID)
			continue
		}
		out = append(out, d)
	}
	return out
}

// invoke calls one adapter operation and normalizes its answer.
func (e *Engine) invoke(ctx context.Context, c *call, d *repository.Descriptor, op string, req *model.Root) (*model.Root, error) {
	var fn func(context.Context, *model.Root) (*model.Root, error)
	switch op {
	case OpGet:
		fn = d.Adapter.Get
	case OpSearch:
		fn = d.Adapter.Search
	case OpLogin:
		fn = d.Adapter.Login
	case OpCreate:
		fn = d.Adapter.Create
	case OpUpdate:
		fn = d.Adapter.Update
	case OpDelete:
		fn = d.Adapter.Delete
	default:
		return nil, model.Errorf(model.KindOperationNotSupported, "unknown operation %q", op)
	}

	req.Context = c.forwardContext()

	e.log.Debug().Str("op", op).Str("repository", d.ID).Msg("dispatching")
	start := time.Now()
	resp, err := fn(ctx, req)
	e.metrics.ObserveRepository(d.ID, time.Since(start), err)
	if err != nil {
		return nil, model.AsError(err).WithRepository(d.ID)
	}

	if resp == nil {
		resp = model.NewRoot()
	}
	for _, ent := range resp.Entities {
		if ent == nil {
			continue
		}
		if ent.ID == nil {
			ent.ID = &model.Identifier{}
		}
		if ent.ID.RepositoryID == "" {
			ent.ID.RepositoryID = d.ID
		}
	}
	if len(resp.Entities) > 0 {
		c.markBridge(d)
	}
	return resp, nil
}

// outbound prepares an entity for a repository: a copy addressed to it, with
// the repository's native name filled in when its namespace differs.
func outbound(d *repository.Descriptor, ent *model.Entity) *model.Entity {
	out := ent.Clone()
	if out.ID == nil {
		out.ID = &model.Identifier{}
	}
	out.ID.RepositoryID = d.ID
	if out.ID.ExternalName == "" && out.ID.UniqueName != "" {
		out.ID.ExternalName = d.ExternalName(out.ID.UniqueName)
	}
	return out
}

// respond finishes a response: internal identifiers and passwords removed,
// failures and the bridge marker attached.
func (c *call) respond(resp *model.Root) *model.Root {
	if resp == nil {
		resp = model.NewRoot()
	}
	for _, ent := range resp.Entities {
		scrub(ent)
	}
	c.mu.Lock()
	resp.Context = model.Context{
		Realm:                  c.realmName(),
		FailureRepositoryIDs:   append([]string(nil), c.failures...),
		CrossRealmBridgeResult: c.bridge,
	}
	c.mu.Unlock()
	return resp
}

func scrub(ent *model.Entity) {
	if ent == nil {
		return
	}
	ent.StripInternal()
	ent.Unset(model.PropPassword)
	for _, g := range ent.Groups {
		scrub(g)
	}
	for _, m := range ent.Members {
		scrub(m)
	}
}

// finish records the outcome of an operation.
func (e *Engine) finish(op string, start time.Time, realm string, err error) {
	e.metrics.RecordRequest(op, time.Since(start), err)
	if err == nil {
		return
	}
	me := model.AsError(err)
	ev := e.log.Warn()
	if me.Kind == model.KindInternal || me.Kind == model.KindRepositoryUnavailable {
		ev = e.log.Error()
	}
	ev.Err(err).
		Str("op", op).
		Str("kind", me.Kind.String()).
		Str("repository", me.RepositoryID).
		Str("uniqueName", me.UniqueName).
		Str("realm", realm).
		Msg("operation failed")
}
