// Package realm scopes the federated namespace. A realm names the base
// entries that participate in it; requests in a realm only see the
// repositories owning those entries and may only address names below them.
package realm

import (
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/vmm/internal/dn"
	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/repository"
)

// DefaultDelimiter separates realm and name in realm-qualified principal
// names ("alice/corp").
const DefaultDelimiter = "/"

// Config is the immutable configuration of one realm.
type Config struct {
	Name string

	// BaseEntries are the participating base entries. None means every
	// configured repository participates.
	BaseEntries []string

	// DefaultParents gives the parent used by create for each entity type
	// when the entity names none.
	DefaultParents map[model.EntityType]string

	Delimiter string

	// AllowOperationIfReposDown is the realm default of the tolerant-mode
	// flag. A request context flag overrides it.
	AllowOperationIfReposDown *bool
}

// Participating returns the repositories taking part in the realm, in
// configuration order. A nil realm or a realm without base entries includes
// every repository.
func (c *Config) Participating(snap *repository.Snapshot) []*repository.Descriptor {
	if c == nil || len(c.BaseEntries) == 0 {
		return snap.Descriptors()
	}
	return snap.Overlapping(c.BaseEntries)
}

// Permitted returns the ids of the participating repositories, or nil when
// every repository participates.
func (c *Config) Permitted(snap *repository.Snapshot) []string {
	if c == nil || len(c.BaseEntries) == 0 {
		return nil
	}
	ids := []string{}
	for _, d := range snap.Overlapping(c.BaseEntries) {
		ids = append(ids, d.ID)
	}
	return ids
}

// Contains reports whether a unique name lies inside the realm. Names are
// always inside a nil realm and inside a realm no repository takes part in.
func (c *Config) Contains(snap *repository.Snapshot, name string) bool {
	if c == nil {
		return true
	}

	participating := c.Participating(snap)
	if len(participating) == 0 {
		return true
	}

	bases := c.BaseEntries
	if len(bases) == 0 {
		for _, d := range participating {
			bases = append(bases, d.BaseNames()...)
		}
	}
	for _, b := range bases {
		if dn.HasSuffix(name, b) {
			return true
		}
	}
	return false
}

// RepositoryFor resolves the repository owning a unique name among the
// repositories the realm permits. Unresolvable names fail with
// EntityNotInRealmScope.
func (c *Config) RepositoryFor(snap *repository.Snapshot, name string) (*repository.Descriptor, error) {
	if d, ok := snap.Owner(name, c.Permitted(snap)); ok {
		return d, nil
	}
	e := model.Errorf(model.KindEntityNotInRealmScope, "no repository owns %q", name).WithUniqueName(name)
	if c != nil {
		e.WithRealm(c.Name)
	}
	return nil, e
}

// DefaultParent returns the configured default parent for an entity type,
// or "" when none is configured.
func (c *Config) DefaultParent(t model.EntityType) string {
	if c == nil {
		return ""
	}
	if p, ok := c.DefaultParents[t]; ok {
		return p
	}
	for k, p := range c.DefaultParents {
		if strings.EqualFold(string(k), string(t)) {
			return p
		}
	}
	return ""
}

// RealmDelimiter returns the delimiter of the realm.
func (c *Config) RealmDelimiter() string {
	if c == nil || c.Delimiter == "" {
		return DefaultDelimiter
	}
	return c.Delimiter
}

// AllowIfReposDown resolves the tolerant-mode flag: the request flag if set,
// else the realm default if set, else the global default.
func (c *Config) AllowIfReposDown(request *bool, global bool) bool {
	if request != nil {
		return *request
	}
	if c != nil && c.AllowOperationIfReposDown != nil {
		return *c.AllowOperationIfReposDown
	}
	return global
}

// SplitPrincipal splits a realm-qualified principal name ("alice/corp") at
// the last delimiter. realm is "" when the name is not qualified.
func (c *Config) SplitPrincipal(principal string) (name, realm string) {
	d := c.RealmDelimiter()
	idx := strings.LastIndex(principal, d)
	if idx <= 0 || idx+len(d) >= len(principal) {
		return principal, ""
	}
	return principal[:idx], principal[idx+len(d):]
}

func (c *Config) clone() *Config {
	out := *c
	out.BaseEntries = slices.Clone(c.BaseEntries)
	if c.DefaultParents != nil {
		out.DefaultParents = make(map[model.EntityType]string, len(c.DefaultParents))
		for k, v := range c.DefaultParents {
			out.DefaultParents[k] = v
		}
	}
	return &out
}
