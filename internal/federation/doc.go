// Package federation is the facade of the identity repository federation
// layer: one virtual directory over many repositories.
//
// # Request flow
//
// Every operation runs the same stages:
//
//	Validate ─► Resolve ─► Dispatch ─► Post-process ─► Return
//
//   - Validate rejects requests the engine cannot route: no repositories,
//     several entities on a write, entities without identifiers.
//   - Resolve picks the realm (request context, else the default realm)
//     and the tolerant-mode flag (request, else realm, else global).
//   - Dispatch sends get, search and login to every participating
//     repository that may hold the answer, and create, update and delete
//     to the one repository owning the name. Memberships in groups held by
//     another repository fan out to that repository.
//   - Post-process strips repository native identifiers and passwords,
//     applies sort, count and search limits, serves pages, and attaches
//     the failed repository ids and the cross-realm bridge marker.
//
// # Tolerant mode
//
// A request that allows repositories to be down records every repository
// that could not answer in the response context instead of failing. Errors
// that are answers (entity not found, wrong password) still fail the
// request. With a health monitor attached, repositories it reports down
// are skipped without being called.
//
// # Login
//
// Login asks every participating repository and reconciles:
//
//	no success, no counted error   PrincipalNotFound
//	exactly one success            the entity
//	exactly one counted error      that error
//	more than one of either        DuplicateLogonId
//
// # Configuration
//
// Reconfigure swaps the registry snapshot, the realm set and the global
// flags in one delivery and clears the page cache. Requests already running
// finish on the configuration they started with.
package federation
