package repository

import (
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/vmm/internal/dn"
	"github.com/dreamware/vmm/internal/model"
)

// BaseEntry is a subtree a repository serves. Name is the entry in the
// federated namespace; NameInRepository is the same entry in the
// repository's own namespace and defaults to Name.
type BaseEntry struct {
	Name             string
	NameInRepository string
}

// Descriptor describes one configured repository: how to reach it, which
// subtrees it owns and what it can evaluate.
//
// Descriptors are immutable once registered. Configuration changes build new
// descriptors and swap the registry snapshot; nothing edits a descriptor in
// place.
type Descriptor struct {
	// ID uniquely identifies the repository in the configuration.
	ID string

	// Adapter performs the repository operations.
	Adapter Adapter

	// BaseEntries lists the subtrees owned by the repository. Order matters
	// only for reporting.
	BaseEntries []BaseEntry

	// Groups lists the ids of repositories whose groups may hold members of
	// this repository (cross-repository membership compatibility).
	Groups []string

	// Properties lists the properties the repository can evaluate per entity
	// type. An empty map means every property is supported; "*" in a list
	// means every property of that type.
	Properties map[model.EntityType][]string

	// Bridge marks a repository that reaches into another realm. Results it
	// contributes are flagged as cross-realm bridge results.
	Bridge bool

	// Realm is the realm name the repository reports, for diagnostics.
	Realm string
}

// SupportsProperty reports whether the repository can evaluate prop for any
// of the given entity types. The type discriminator is always supported.
// No types, or TypeEntity, means any type the repository knows.
func (d *Descriptor) SupportsProperty(prop string, types []model.EntityType) bool {
	if strings.EqualFold(prop, model.PropType) || len(d.Properties) == 0 {
		return true
	}

	anyType := len(types) == 0 || slices.Contains(types, model.TypeEntity)
	for t, props := range d.Properties {
		if !anyType && !slices.Contains(types, t) {
			continue
		}
		for _, p := range props {
			if p == model.AllProperties || strings.EqualFold(p, prop) {
				return true
			}
		}
	}
	return false
}

// SupportsAll reports whether every property is supported.
func (d *Descriptor) SupportsAll(props []string, types []model.EntityType) bool {
	for _, p := range props {
		if !d.SupportsProperty(p, types) {
			return false
		}
	}
	return true
}

// CompatibleWith reports whether entities of repository id may be members of
// groups held by d.
func (d *Descriptor) CompatibleWith(id string) bool {
	return id == d.ID || slices.Contains(d.Groups, id)
}

// Match returns the longest base entry of d that is a suffix of name, as
// dn.Match reports it. length is -1 when no base entry matches.
func (d *Descriptor) Match(name string) (length int, exact bool) {
	length = -1
	for _, b := range d.BaseEntries {
		l, e := dn.Match(name, b.Name)
		if e {
			return l, true
		}
		if l > length {
			length = l
		}
	}
	return length, false
}

// Overlaps reports whether any base entry of d is equal to, above or below
// base.
func (d *Descriptor) Overlaps(base string) bool {
	for _, b := range d.BaseEntries {
		if dn.Overlaps(b.Name, base) {
			return true
		}
	}
	return false
}

// ExternalName translates a federated unique name into the repository's own
// namespace using the base entry that owns it. It returns "" when the names
// coincide or no base entry owns the name.
func (d *Descriptor) ExternalName(uniqueName string) string {
	best := -1
	var owner BaseEntry
	for _, b := range d.BaseEntries {
		if l, _ := dn.Match(uniqueName, b.Name); l > best {
			best = l
			owner = b
		}
	}
	if best < 0 || owner.NameInRepository == "" || dn.Equal(owner.Name, owner.NameInRepository) {
		return ""
	}
	name, _ := dn.Rebase(uniqueName, owner.Name, owner.NameInRepository)
	return name
}

// BaseNames returns the federated names of the base entries.
func (d *Descriptor) BaseNames() []string {
	out := make([]string, len(d.BaseEntries))
	for i, b := range d.BaseEntries {
		out[i] = b.Name
	}
	return out
}
