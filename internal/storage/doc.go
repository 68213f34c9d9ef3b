// Package storage holds the entities of an in-memory directory.
//
// # Overview
//
// A Store maps unique names to entities. Names are compared the way the
// federation layer compares them: components trimmed, case ignored. Every
// entity may also carry a unique id, which the store indexes for lookups by
// id.
//
//	┌──────────────────────────────────────────┐
//	│                MemoryStore               │
//	│                                          │
//	│  data: "uid=alice,o=corp" -> *Entity     │
//	│  ids:  "6f1c..."          -> data key    │
//	│  log:  [rev 1 "o=corp"] [rev 2 ...]      │
//	└──────────────────────────────────────────┘
//
// # Copies
//
// Entities go in and come out as copies. A caller editing an entity it read
// does not change the store until it writes the entity back.
//
// # Revisions
//
// Every insert, put and delete bumps the store revision and appends the
// changed name to a mutation log. Changes(since) answers which names changed
// after a revision, which is what delta searches need: the revision is the
// checkpoint handed to clients, and the next delta search starts from it.
//
// # Concurrency
//
// MemoryStore is safe for concurrent use. Reads share a sync.RWMutex; writes
// take it exclusively. Lists are sorted by name so repeated searches return
// entities in a stable order.
package storage
