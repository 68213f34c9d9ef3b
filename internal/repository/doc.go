// Package repository defines the repository adapter contract and keeps the
// set of configured repositories the federation engine routes to.
//
// # Overview
//
// Every repository (an LDAP server, a database, a remote directory) is
// reached through an Adapter and described by a Descriptor: its id, the
// subtrees (base entries) it owns, the properties it can evaluate and the
// repositories it shares group membership with. The Registry publishes the
// descriptors as immutable snapshots; the HealthMonitor tracks which
// repositories currently answer.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                    Federation engine                    │
//	└──────────────┬──────────────────────────┬───────────────┘
//	               │ Snapshot()               │ IsDown(id)
//	┌──────────────▼───────────┐   ┌──────────▼───────────────┐
//	│         Registry         │   │      HealthMonitor       │
//	│  descriptors (by config  │◄──┤  periodic Ping per repo  │
//	│  order), Owner(name)     │   │  up / down / unknown     │
//	└──────────────┬───────────┘   └──────────────────────────┘
//	               │ Adapter
//	   ┌───────────┼────────────┐
//	   ▼           ▼            ▼
//	 repo1       repo2        repo3
//
// # Ownership
//
// A unique name is owned by the repository whose base entry is the longest
// comma-aligned suffix of the name. A base entry equal to the name wins
// outright; ties go to the repository configured first. Matching is
// case-insensitive and ignores blanks around separators:
//
//	base entries: repo1 "o=corp", repo2 "ou=lab,o=corp"
//	"uid=a,ou=lab,o=corp" → repo2
//	"uid=b,o=corp"        → repo1
//	"uid=c,o=other"       → no owner
//
// # Thread Safety
//
// Registry and HealthMonitor are safe for concurrent use. Snapshots and
// descriptors are immutable; configuration changes replace them wholesale.
package repository
