// Package expr provides the search expression language: the node tree,
// a parser, a renderer that turns (sub-)trees back into text for repository
// dispatch, and an evaluator used by in-memory repositories.
package expr

import (
	"strings"

	"github.com/dreamware/vmm/internal/model"
)

// Op is a comparison operator of a property node.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// String returns the operator's textual form.
func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return "?"
	}
}

// LogicalOp joins the two sides of a logical node.
type LogicalOp int

const (
	And LogicalOp = iota
	Or
)

// String returns the keyword of the operator.
func (o LogicalOp) String() string {
	if o == Or {
		return "or"
	}
	return "and"
}

// NodeKind classifies nodes. The federation kinds are logical and
// parenthesis nodes whose sides must be evaluated by different
// repositories and recombined by the engine.
type NodeKind int

const (
	KindProperty NodeKind = iota
	KindLogical
	KindParenthesis
	KindFederationLogical
	KindFederationParenthesis
)

// String returns the name of the kind.
func (k NodeKind) String() string {
	switch k {
	case KindProperty:
		return "PROPERTY"
	case KindLogical:
		return "LOGICAL"
	case KindParenthesis:
		return "PARENTHESIS"
	case KindFederationLogical:
		return "FEDERATION_LOGICAL"
	case KindFederationParenthesis:
		return "FEDERATION_PARENTHESIS"
	default:
		return "UNKNOWN"
	}
}

// Node is a node of an expression tree.
type Node interface {
	Kind() NodeKind
}

// PropertyNode compares a property with a value.
type PropertyNode struct {
	Name  string
	Op    Op
	Value string
}

// Kind implements Node.
func (*PropertyNode) Kind() NodeKind { return KindProperty }

// IsType reports whether the node is an entity type discriminator.
func (p *PropertyNode) IsType() bool {
	return strings.EqualFold(p.Name, model.PropType)
}

// LogicalNode joins two sub-trees.
type LogicalNode struct {
	Op         LogicalOp
	Left       Node
	Right      Node
	Federation bool
}

// Kind implements Node.
func (l *LogicalNode) Kind() NodeKind {
	if l.Federation {
		return KindFederationLogical
	}
	return KindLogical
}

// ParenNode groups a sub-tree.
type ParenNode struct {
	Inner      Node
	Federation bool
}

// Kind implements Node.
func (p *ParenNode) Kind() NodeKind {
	if p.Federation {
		return KindFederationParenthesis
	}
	return KindParenthesis
}

// NewProperty creates a property node.
func NewProperty(name string, op Op, value string) *PropertyNode {
	return &PropertyNode{Name: name, Op: op, Value: value}
}

// NewAnd creates an AND node.
func NewAnd(left, right Node) *LogicalNode {
	return &LogicalNode{Op: And, Left: left, Right: right}
}

// NewOr creates an OR node.
func NewOr(left, right Node) *LogicalNode {
	return &LogicalNode{Op: Or, Left: left, Right: right}
}

// NewParen creates a parenthesis node.
func NewParen(inner Node) *ParenNode {
	return &ParenNode{Inner: inner}
}

// Properties returns the property names referenced by the tree in first
// occurrence order, without duplicates (compared case-insensitively).
func Properties(n Node) []string {
	var out []string
	seen := make(map[string]bool)
	Walk(n, func(p *PropertyNode) {
		key := strings.ToLower(p.Name)
		if !seen[key] {
			seen[key] = true
			out = append(out, p.Name)
		}
	})
	return out
}

// Walk calls fn for every property node of the tree, left to right.
func Walk(n Node, fn func(*PropertyNode)) {
	switch v := n.(type) {
	case *PropertyNode:
		fn(v)
	case *LogicalNode:
		Walk(v.Left, fn)
		Walk(v.Right, fn)
	case *ParenNode:
		Walk(v.Inner, fn)
	}
}

// TypeClause builds the discriminator selecting any of the given entity
// types: "@type='A' or @type='B'" wrapped in parentheses. It returns nil for
// no types.
func TypeClause(types []model.EntityType) Node {
	var clause Node
	for _, t := range types {
		p := NewProperty(model.PropType, OpEq, string(t))
		if clause == nil {
			clause = p
			continue
		}
		clause = NewOr(clause, p)
	}
	if clause == nil {
		return nil
	}
	return NewParen(clause)
}
