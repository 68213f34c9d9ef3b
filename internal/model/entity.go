package model

import (
	"strings"
)

// EntityType names the kind of record an Entity carries.
type EntityType string

const (
	// TypeEntity is the root of the entity type hierarchy. A search for
	// TypeEntity matches every type.
	TypeEntity EntityType = "Entity"
	// TypePerson is a user account.
	TypePerson EntityType = "PersonAccount"
	// TypeGroup is a group with forward member references.
	TypeGroup EntityType = "Group"
	// TypeOrgContainer is an organizational container (ou, o).
	TypeOrgContainer EntityType = "OrgContainer"
)

// Well-known property names.
const (
	PropUID           = "uid"
	PropCN            = "cn"
	PropSN            = "sn"
	PropMail          = "mail"
	PropOU            = "ou"
	PropPrincipalName = "principalName"
	PropPassword      = "password"
	// PropType is the entity type discriminator used inside search expressions.
	PropType = "@type"
	// AllProperties requests every property a repository holds.
	AllProperties = "*"
)

// Identifier addresses an entity. UniqueName is a DN-like hierarchical name,
// UniqueID a repository independent handle. ExternalID and ExternalName are
// the owning repository's native identifiers and never leave the engine.
type Identifier struct {
	UniqueID     string `json:"uniqueId,omitempty"`
	UniqueName   string `json:"uniqueName,omitempty"`
	RepositoryID string `json:"repositoryId,omitempty"`
	ExternalID   string `json:"externalId,omitempty"`
	ExternalName string `json:"externalName,omitempty"`
}

// IsSpecified reports whether the identifier carries enough to resolve an
// entity: a unique id or a unique name.
func (id *Identifier) IsSpecified() bool {
	return id != nil && (id.UniqueID != "" || id.UniqueName != "")
}

// Clone returns a copy of the identifier.
func (id *Identifier) Clone() *Identifier {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

// Entity is a typed record with a property map and group references.
type Entity struct {
	Type       EntityType          `json:"type"`
	ID         *Identifier         `json:"identifier,omitempty"`
	Parent     *Identifier         `json:"parent,omitempty"`
	Properties map[string][]string `json:"properties,omitempty"`
	Groups     []*Entity           `json:"groups,omitempty"`
	Members    []*Entity           `json:"members,omitempty"`
}

// NewEntity creates an entity of the given type addressed by uniqueName.
func NewEntity(t EntityType, uniqueName string) *Entity {
	return &Entity{
		Type:       t,
		ID:         &Identifier{UniqueName: uniqueName},
		Properties: make(map[string][]string),
	}
}

// UniqueName returns the entity's unique name or "" when it has no identifier.
func (e *Entity) UniqueName() string {
	if e == nil || e.ID == nil {
		return ""
	}
	return e.ID.UniqueName
}

// RepositoryID returns the id of the repository the entity was resolved to.
func (e *Entity) RepositoryID() string {
	if e == nil || e.ID == nil {
		return ""
	}
	return e.ID.RepositoryID
}

// Get returns the values of a property. Property names are case-insensitive.
func (e *Entity) Get(name string) []string {
	if e == nil || e.Properties == nil {
		return nil
	}
	if v, ok := e.Properties[name]; ok {
		return v
	}
	for k, v := range e.Properties {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// First returns the first value of a property or "".
func (e *Entity) First(name string) string {
	if v := e.Get(name); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Has reports whether the property is present.
func (e *Entity) Has(name string) bool {
	return len(e.Get(name)) > 0
}

// Set replaces the values of a property, reusing an existing key spelled
// with different case.
func (e *Entity) Set(name string, values ...string) {
	if e.Properties == nil {
		e.Properties = make(map[string][]string)
	}
	for k := range e.Properties {
		if k != name && strings.EqualFold(k, name) {
			delete(e.Properties, k)
		}
	}
	e.Properties[name] = values
}

// Unset removes a property.
func (e *Entity) Unset(name string) {
	for k := range e.Properties {
		if strings.EqualFold(k, name) {
			delete(e.Properties, k)
		}
	}
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := &Entity{
		Type:   e.Type,
		ID:     e.ID.Clone(),
		Parent: e.Parent.Clone(),
	}
	if e.Properties != nil {
		c.Properties = make(map[string][]string, len(e.Properties))
		for k, v := range e.Properties {
			c.Properties[k] = append([]string(nil), v...)
		}
	}
	c.Groups = cloneAll(e.Groups)
	c.Members = cloneAll(e.Members)
	return c
}

func cloneAll(in []*Entity) []*Entity {
	if in == nil {
		return nil
	}
	out := make([]*Entity, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

// Project returns a copy holding only the requested properties. A nil or
// empty list keeps no properties; "*" keeps all of them.
func (e *Entity) Project(props []string) *Entity {
	c := e.Clone()
	if c == nil {
		return nil
	}
	for _, p := range props {
		if p == AllProperties {
			return c
		}
	}
	kept := make(map[string][]string, len(props))
	for _, p := range props {
		if v := c.Get(p); v != nil {
			kept[p] = v
		}
	}
	c.Properties = kept
	return c
}

// StripInternal clears repository native identifiers from the entity and
// everything it references.
func (e *Entity) StripInternal() {
	if e == nil {
		return
	}
	for _, id := range []*Identifier{e.ID, e.Parent} {
		if id != nil {
			id.ExternalID = ""
			id.ExternalName = ""
		}
	}
	for _, g := range e.Groups {
		g.StripInternal()
	}
	for _, m := range e.Members {
		m.StripInternal()
	}
}

// IsA reports whether the entity satisfies the requested type. TypeEntity
// matches everything.
func (e *Entity) IsA(t EntityType) bool {
	return t == TypeEntity || strings.EqualFold(string(e.Type), string(t))
}
