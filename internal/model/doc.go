// Package model defines the unified identity data model shared by the
// federation engine and every repository adapter: entities and their
// identifiers, the request/response envelope with its typed controls and
// context, and the tagged error kinds.
//
// # Identifiers
//
// An entity is addressed by a UniqueName (DN-like, case-insensitive) or a
// UniqueID. Once the engine resolves an entity to a repository, the
// RepositoryID on its identifier is authoritative for routing later calls.
// ExternalID and ExternalName belong to the repository and are stripped
// before results leave the engine.
//
// # Errors
//
// Every failure is an *Error with a Kind. Kinds form a small hierarchy
// (PrincipalNotFound is a PasswordCheckFailed) and carry a Disposition so
// callers can tell "skip this repository and continue" from "abort":
//
//	if errors.Is(err, model.ErrPasswordCheckFailed) { ... }
//	switch model.KindOf(err) { case model.KindDuplicateLogonID: ... }
package model
