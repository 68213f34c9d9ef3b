package model

import "time"

// Root is the request and response envelope shared by the engine facade and
// every repository adapter.
type Root struct {
	Entities []*Entity `json:"entities,omitempty"`
	Controls Controls  `json:"controls"`
	Context  Context   `json:"context"`
}

// NewRoot creates an envelope holding the given entities.
func NewRoot(entities ...*Entity) *Root {
	return &Root{Entities: entities}
}

// Entity returns the first entity of the envelope or nil.
func (r *Root) Entity() *Entity {
	if r == nil || len(r.Entities) == 0 {
		return nil
	}
	return r.Entities[0]
}

// Controls are the typed request and response controls of an envelope.
// A nil pointer means the control is absent.
type Controls struct {
	Search          *SearchControl          `json:"search,omitempty"`
	Sort            *SortControl            `json:"sort,omitempty"`
	Page            *PageControl            `json:"page,omitempty"`
	Cache           *CacheControl           `json:"cache,omitempty"`
	GroupMembership *GroupMembershipControl `json:"groupMembership,omitempty"`
	GroupMember     *GroupMemberControl     `json:"groupMember,omitempty"`
	Change          *ChangeControl          `json:"change,omitempty"`
	Login           *LoginControl           `json:"login,omitempty"`
	Properties      *PropertyControl        `json:"properties,omitempty"`

	SearchResponse *SearchResponseControl `json:"searchResponse,omitempty"`
	PageResponse   *PageResponseControl   `json:"pageResponse,omitempty"`
	ChangeResponse *ChangeResponseControl `json:"changeResponse,omitempty"`
}

// SearchControl describes a search: the expression, what to return, where to
// look and how much.
type SearchControl struct {
	Expression  string        `json:"expression"`
	Properties  []string      `json:"properties,omitempty"`
	SearchBases []string      `json:"searchBases,omitempty"`
	EntityTypes []EntityType  `json:"entityTypes,omitempty"`
	CountLimit  int           `json:"countLimit,omitempty"`
	SearchLimit int           `json:"searchLimit,omitempty"`
	TimeLimit   time.Duration `json:"timeLimit,omitempty"`
}

// Clone returns a copy of the control with its slices duplicated.
func (c *SearchControl) Clone() *SearchControl {
	if c == nil {
		return nil
	}
	out := *c
	out.Properties = append([]string(nil), c.Properties...)
	out.SearchBases = append([]string(nil), c.SearchBases...)
	out.EntityTypes = append([]EntityType(nil), c.EntityTypes...)
	return &out
}

// SortKey is one sort criterion.
type SortKey struct {
	Property  string `json:"property"`
	Ascending bool   `json:"ascending"`
}

// SortControl orders search results by its keys in priority order.
type SortControl struct {
	Keys   []SortKey `json:"keys"`
	Locale string    `json:"locale,omitempty"`
}

// PageControl requests the slice [StartIndex, StartIndex+Size) of a result.
type PageControl struct {
	Size       int `json:"size"`
	StartIndex int `json:"startIndex,omitempty"`
}

// CacheMode selects what a cache control clears.
type CacheMode string

const (
	CacheClearAll    CacheMode = "clearAll"
	CacheClearEntity CacheMode = "clearEntity"
)

// CacheControl is an administrative request to drop cached state. With a
// RepositoryID the clear is scoped to that repository.
type CacheControl struct {
	Mode         CacheMode `json:"mode"`
	RepositoryID string    `json:"repositoryId,omitempty"`
}

// ModifyMode tells how a membership update combines with existing state.
type ModifyMode string

const (
	ModifyAdd     ModifyMode = "add"
	ModifyReplace ModifyMode = "replace"
	ModifyRemove  ModifyMode = "remove"
)

// GroupMembershipControl asks for (or modifies) the groups an entity belongs to.
type GroupMembershipControl struct {
	Properties []string   `json:"properties,omitempty"`
	ModifyMode ModifyMode `json:"modifyMode,omitempty"`
}

// GroupMemberControl asks for (or modifies) the members of a group.
type GroupMemberControl struct {
	Properties []string   `json:"properties,omitempty"`
	ModifyMode ModifyMode `json:"modifyMode,omitempty"`
}

// ChangeControl turns a search into a delta search from per-repository
// checkpoints.
type ChangeControl struct {
	Checkpoints map[string]string `json:"checkpoints,omitempty"`
}

// LoginControl carries login options. A non-empty Certificate requests
// certificate mapping instead of a password check.
type LoginControl struct {
	Properties  []string     `json:"properties,omitempty"`
	SearchBases []string     `json:"searchBases,omitempty"`
	EntityTypes []EntityType `json:"entityTypes,omitempty"`
	Certificate []byte       `json:"certificate,omitempty"`
}

// PropertyControl lists the properties a get returns.
type PropertyControl struct {
	Properties []string `json:"properties,omitempty"`
}

// SearchResponseControl reports that a count limit truncated the result.
type SearchResponseControl struct {
	HasMoreResults bool `json:"hasMoreResults"`
}

// PageResponseControl reports the size of the full cached result.
type PageResponseControl struct {
	TotalSize int `json:"totalSize"`
}

// ChangeResponseControl carries the new checkpoint per repository.
type ChangeResponseControl struct {
	Checkpoints map[string]string `json:"checkpoints,omitempty"`
}

// Context is the explicit per-request context. Request fields are set by the
// caller; the marker fields are set on responses.
type Context struct {
	Realm                     string `json:"realm,omitempty"`
	AllowOperationIfReposDown *bool  `json:"allowOperationIfReposDown,omitempty"`
	TrustEntityType           bool   `json:"trustEntityType,omitempty"`

	FailureRepositoryIDs   []string `json:"failureRepositoryIds,omitempty"`
	CrossRealmBridgeResult bool     `json:"isCrossRealmBridgeResult,omitempty"`
}

// Bool returns a pointer to b, for optional context flags.
func Bool(b bool) *bool {
	return &b
}
