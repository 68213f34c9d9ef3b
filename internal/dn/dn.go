// Package dn implements the hierarchical (DN-like) names used as unique names
// and base entries: normalization and comma-aligned, case-insensitive suffix
// matching.
package dn

import (
	"strings"
)

// Split splits a name into its RDN components, leaf first, honoring escaped
// commas. Components are trimmed; empty components are dropped.
//
//	"uid=alice, ou=users,o=corp" -> ["uid=alice", "ou=users", "o=corp"]
func Split(name string) []string {
	var components []string
	var current strings.Builder
	escaped := false

	for i := 0; i < len(name); i++ {
		c := name[i]

		if escaped {
			current.WriteByte(c)
			escaped = false
			continue
		}

		if c == '\\' {
			current.WriteByte(c)
			escaped = true
			continue
		}

		if c == ',' {
			if comp := strings.TrimSpace(current.String()); comp != "" {
				components = append(components, comp)
			}
			current.Reset()
			continue
		}

		current.WriteByte(c)
	}

	if comp := strings.TrimSpace(current.String()); comp != "" {
		components = append(components, comp)
	}

	return components
}

// normalizeRDN lower-cases an RDN and removes blanks around '='.
func normalizeRDN(rdn string) string {
	rdn = strings.ToLower(strings.TrimSpace(rdn))
	if idx := strings.IndexByte(rdn, '='); idx >= 0 {
		return strings.TrimSpace(rdn[:idx]) + "=" + strings.TrimSpace(rdn[idx+1:])
	}
	return rdn
}

// components returns the normalized RDNs of a name, leaf first.
func components(name string) []string {
	parts := Split(name)
	for i, p := range parts {
		parts[i] = normalizeRDN(p)
	}
	return parts
}

// Normalize returns the canonical form of a name used for comparisons.
func Normalize(name string) string {
	return strings.Join(components(name), ",")
}

// Equal reports whether two names denote the same entry.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Match compares a name against a base entry. It returns the length of the
// normalized base entry when the base is a comma-aligned suffix of the name,
// or -1 when it is not. exact is true when the two names are equal. The empty
// base entry is a zero-length suffix of every name.
//
// Names are compared component by component from the root, so an escaped
// comma inside a value never counts as a boundary.
func Match(name, base string) (length int, exact bool) {
	n := components(name)
	b := components(base)

	if len(b) > len(n) {
		return -1, false
	}
	offset := len(n) - len(b)
	for i, rdn := range b {
		if n[offset+i] != rdn {
			return -1, false
		}
	}
	return len(strings.Join(b, ",")), offset == 0
}

// HasSuffix reports whether base is a comma-aligned suffix of name or equal to it.
func HasSuffix(name, base string) bool {
	l, _ := Match(name, base)
	return l >= 0
}

// Overlaps reports whether one name is at or below the other.
func Overlaps(a, b string) bool {
	return HasSuffix(a, b) || HasSuffix(b, a)
}

// RDN returns the leaf component of a name.
func RDN(name string) string {
	parts := Split(name)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// Parent returns the name without its leaf component.
func Parent(name string) string {
	parts := Split(name)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[1:], ",")
}

// Join builds a name from an RDN and a parent name.
func Join(rdn, parent string) string {
	rdn = strings.TrimSpace(rdn)
	parent = strings.TrimSpace(parent)
	if parent == "" {
		return rdn
	}
	if rdn == "" {
		return parent
	}
	return rdn + "," + parent
}

// Rebase replaces the suffix from of name by to. It returns false when from
// is not a suffix of name.
func Rebase(name, from, to string) (string, bool) {
	if !HasSuffix(name, from) {
		return "", false
	}
	parts := Split(name)
	depth := len(Split(from))
	return Join(strings.Join(parts[:len(parts)-depth], ","), to), true
}
