package expr

import (
	"strconv"
	"strings"

	"github.com/dreamware/vmm/internal/model"
)

// Evaluate reports whether an entity satisfies the tree. Comparisons are
// case-insensitive; equality values may contain '*' wildcards; ordering
// comparisons are numeric when both sides are numbers.
func Evaluate(n Node, e *model.Entity) bool {
	if n == nil || e == nil {
		return false
	}

	switch v := n.(type) {
	case *PropertyNode:
		return evaluateProperty(v, e)
	case *LogicalNode:
		if v.Op == And {
			return Evaluate(v.Left, e) && Evaluate(v.Right, e)
		}
		return Evaluate(v.Left, e) || Evaluate(v.Right, e)
	case *ParenNode:
		return Evaluate(v.Inner, e)
	default:
		return false
	}
}

func evaluateProperty(p *PropertyNode, e *model.Entity) bool {
	if p.IsType() {
		is := e.IsA(model.EntityType(p.Value))
		if p.Op == OpNe {
			return !is
		}
		return p.Op == OpEq && is
	}

	values := e.Get(p.Name)
	if p.Op == OpNe {
		for _, v := range values {
			if matchWildcard(v, p.Value) {
				return false
			}
		}
		return true
	}

	for _, v := range values {
		if compareValue(v, p.Op, p.Value) {
			return true
		}
	}
	return false
}

func compareValue(value string, op Op, operand string) bool {
	switch op {
	case OpEq:
		return matchWildcard(value, operand)
	case OpLt:
		return compareOrdered(value, operand) < 0
	case OpLe:
		return compareOrdered(value, operand) <= 0
	case OpGt:
		return compareOrdered(value, operand) > 0
	case OpGe:
		return compareOrdered(value, operand) >= 0
	default:
		return false
	}
}

// compareOrdered compares numerically when both values parse as numbers and
// case-insensitively otherwise.
func compareOrdered(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// matchWildcard matches value against a pattern whose '*' stands for any
// run of characters, case-insensitively.
func matchWildcard(value, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return strings.EqualFold(value, pattern)
	}

	v := strings.ToLower(value)
	parts := strings.Split(strings.ToLower(pattern), "*")

	initial := parts[0]
	final := parts[len(parts)-1]
	middle := parts[1 : len(parts)-1]

	if !strings.HasPrefix(v, initial) {
		return false
	}
	pos := len(initial)

	for _, sub := range middle {
		if sub == "" {
			continue
		}
		idx := strings.Index(v[pos:], sub)
		if idx < 0 {
			return false
		}
		pos += idx + len(sub)
	}

	return len(v)-pos >= len(final) && strings.HasSuffix(v, final)
}
