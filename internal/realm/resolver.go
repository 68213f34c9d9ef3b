package realm

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/dreamware/vmm/internal/dn"
	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/repository"
)

// Realms is an immutable set of realm configurations with a default realm.
type Realms struct {
	configs map[string]*Config
	order   []string
	def     string
}

// Lookup returns the named realm, or the default realm for "". A nil config
// with a nil error means no realms are configured and nothing is scoped.
func (r *Realms) Lookup(name string) (*Config, error) {
	if name == "" {
		name = r.def
	}
	if name == "" {
		return nil, nil
	}
	if c, ok := r.configs[strings.ToLower(name)]; ok {
		return c, nil
	}
	return nil, model.Errorf(model.KindInvalidRealmName, "unknown realm %q", name).WithRealm(name)
}

// Default returns the name of the default realm.
func (r *Realms) Default() string {
	return r.def
}

// Names returns the realm names in configuration order.
func (r *Realms) Names() []string {
	out := make([]string, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.configs[k].Name)
	}
	return out
}

// Resolver holds the current realm set and serializes configuration
// delivery.
//
// Configuration arrives as a whole: Deliver runs the function that installs
// new repositories and realms while holding the delivery lock, and Verify
// takes the same lock for reading so it never inspects a half-applied
// configuration. Requests read the current Realms without touching the
// delivery lock.
type Resolver struct {
	current  *Realms
	log      zerolog.Logger
	mu       sync.RWMutex
	delivery sync.RWMutex
}

// NewResolver creates a resolver without realms.
func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{
		current: &Realms{configs: map[string]*Config{}},
		log:     log.With().Str("component", "realm").Logger(),
	}
}

// Current returns the current realm set.
func (r *Resolver) Current() *Realms {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Replace validates and installs a new realm set. An empty defaultRealm
// selects the first configured realm. Nothing changes when validation
// fails.
func (r *Resolver) Replace(configs []Config, defaultRealm string) error {
	next := &Realms{configs: make(map[string]*Config, len(configs))}

	for i := range configs {
		c := configs[i].clone()
		if strings.TrimSpace(c.Name) == "" {
			return model.Errorf(model.KindInvalidRealmName, "realm %d has no name", i)
		}
		key := strings.ToLower(c.Name)
		if _, dup := next.configs[key]; dup {
			return model.Errorf(model.KindInvalidRealmName, "realm %q configured twice", c.Name).WithRealm(c.Name)
		}
		if err := validateConfig(c); err != nil {
			return err
		}
		next.configs[key] = c
		next.order = append(next.order, key)
	}

	switch {
	case defaultRealm != "":
		if _, ok := next.configs[strings.ToLower(defaultRealm)]; !ok {
			return model.Errorf(model.KindInvalidRealmName, "default realm %q is not configured", defaultRealm).WithRealm(defaultRealm)
		}
		next.def = next.configs[strings.ToLower(defaultRealm)].Name
	case len(next.order) > 0:
		next.def = next.configs[next.order[0]].Name
	}

	r.mu.Lock()
	r.current = next
	r.mu.Unlock()

	r.log.Info().Strs("realms", next.Names()).Str("default", next.def).Msg("realms installed")
	return nil
}

func validateConfig(c *Config) error {
	for _, b := range c.BaseEntries {
		if dn.Normalize(b) == "" {
			return model.Errorf(model.KindInvalidBaseEntry, "empty base entry").WithRealm(c.Name)
		}
	}
	for t, parent := range c.DefaultParents {
		if dn.Normalize(parent) == "" {
			return model.Errorf(model.KindInvalidBaseEntry, "empty default parent for %s", t).WithRealm(c.Name)
		}
		if len(c.BaseEntries) == 0 {
			continue
		}
		inside := false
		for _, b := range c.BaseEntries {
			if dn.HasSuffix(parent, b) {
				inside = true
				break
			}
		}
		if !inside {
			return model.Errorf(model.KindInvalidBaseEntry, "default parent %q for %s is outside the realm", parent, t).WithRealm(c.Name)
		}
	}
	return nil
}

// Deliver runs fn as the single writer of a configuration change.
func (r *Resolver) Deliver(fn func() error) error {
	r.delivery.Lock()
	defer r.delivery.Unlock()
	return fn()
}

// Verify checks that every participating base entry of every realm is served
// by at least one repository of snap. It waits for an in-flight delivery.
// Every unserved base entry is logged and reported as MissingBaseEntry.
func (r *Resolver) Verify(snap *repository.Snapshot) error {
	r.delivery.RLock()
	defer r.delivery.RUnlock()

	realms := r.Current()
	var errs error
	for _, key := range realms.order {
		c := realms.configs[key]
		for _, b := range c.BaseEntries {
			if len(snap.Overlapping([]string{b})) > 0 {
				continue
			}
			r.log.Warn().Str("realm", c.Name).Str("baseEntry", b).Msg("no repository serves participating base entry")
			errs = multierr.Append(errs,
				model.Errorf(model.KindMissingBaseEntry, "no repository serves base entry %q", b).WithRealm(c.Name))
		}
	}
	return errs
}

// ParticipatingRepositories returns the ids of the repositories taking part
// in the named realm ("" selects the default realm).
func (r *Resolver) ParticipatingRepositories(snap *repository.Snapshot, realm string) ([]string, error) {
	c, err := r.Current().Lookup(realm)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, d := range c.Participating(snap) {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// IsNameInRealm reports whether name lies inside the named realm.
func (r *Resolver) IsNameInRealm(snap *repository.Snapshot, name, realm string) (bool, error) {
	c, err := r.Current().Lookup(realm)
	if err != nil {
		return false, err
	}
	return c.Contains(snap, name), nil
}

// RepositoryFor resolves the repository owning name inside the named realm.
func (r *Resolver) RepositoryFor(snap *repository.Snapshot, name, realm string) (*repository.Descriptor, error) {
	c, err := r.Current().Lookup(realm)
	if err != nil {
		return nil, err
	}
	return c.RepositoryFor(snap, name)
}
