// Package remote carries the repository adapter contract over HTTP/JSON so
// that repositories can run as separate services.
//
// # Overview
//
// A repository service exposes any repository.Adapter with NewHandler; the
// federation engine reaches it through a Client, which is itself a
// repository.Adapter. The engine cannot tell a remote repository from an
// in-process one.
//
//	┌──────────────┐   POST /repository/{op}   ┌────────────────────┐
//	│   engine     │ ────────────────────────► │ repository svc     │
//	│              │                           │                    │
//	│  Client ─────┼── *model.Root (JSON) ──── │ Handler ─► Adapter │
//	└──────────────┘ ◄── ErrorBody on failure  └────────────────────┘
//
// # Protocol
//
// Requests and responses are model.Root envelopes encoded as JSON. The
// operation is the last path element: get, search, login, create, update
// or delete. Liveness is GET /health.
//
// Failures are written as an ErrorBody with a status chosen by Status:
//
//	{"kind":"EntityNotFound","message":"entity not found",
//	 "repositoryId":"hr","uniqueName":"uid=x,o=corp"}
//
// The Client rebuilds the *model.Error from the body so error kinds, and
// with them the engine's skip-or-abort decision, survive the hop. Anything
// that is not a protocol answer (connection refused, timeouts, a proxy's
// HTML error page) becomes RepositoryUnavailable.
//
// # Thread Safety
//
// Client is safe for concurrent use; it shares one http.Client and keeps
// atomic call counters.
package remote
