// Package directory implements an in-memory identity repository.
//
// A Directory answers the six adapter operations over a storage.Store and
// is what the directory node serves over the remote protocol. It is also
// the repository the federation tests run against.
//
//	        repository.Adapter
//	              │
//	┌─────────────▼──────────────┐
//	│          Directory         │
//	│  expressions: expr.Evaluate│
//	│  ids:         uuid         │
//	│  counters:    atomic       │
//	└─────────────┬──────────────┘
//	              │
//	      storage.MemoryStore
//
// Group membership lives on groups: a group lists its members by reference,
// and the groups of an entity are found by scanning for groups that list it.
// That lets a group hold members of other repositories, and lets other
// repositories ask which of this directory's groups hold their entities.
//
// Delta searches use the store revision as checkpoint.
package directory
