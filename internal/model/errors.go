package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags every error the engine and its adapters raise.
type Kind int

const (
	KindUnknown Kind = iota
	KindNoUserRepositoriesFound
	KindOperationNotSupported
	KindEntityIdentifierNotSpecified
	KindEntityNotInRealmScope
	KindInvalidIdentifier
	KindEntityNotFound
	KindEntityAlreadyExists
	KindInvalidRealmName
	KindMissingBaseEntry
	KindInvalidBaseEntry
	KindRepositoryUnavailable
	KindMissingSearchControl
	KindMissingSortKey
	KindSearchControlError
	KindTimeLimitExceeded
	KindSearchExpressionError
	KindPasswordCheckFailed
	KindPrincipalNotFound
	KindDuplicateLogonID
	KindCertificateMapNotSupported
	KindMaxResultsExceeded
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:                      "Unknown",
	KindNoUserRepositoriesFound:      "NoUserRepositoriesFound",
	KindOperationNotSupported:        "OperationNotSupported",
	KindEntityIdentifierNotSpecified: "EntityIdentifierNotSpecified",
	KindEntityNotInRealmScope:        "EntityNotInRealmScope",
	KindInvalidIdentifier:            "InvalidIdentifier",
	KindEntityNotFound:               "EntityNotFound",
	KindEntityAlreadyExists:          "EntityAlreadyExists",
	KindInvalidRealmName:             "InvalidRealmName",
	KindMissingBaseEntry:             "MissingBaseEntry",
	KindInvalidBaseEntry:             "InvalidBaseEntry",
	KindRepositoryUnavailable:        "RepositoryUnavailable",
	KindMissingSearchControl:         "MissingSearchControl",
	KindMissingSortKey:               "MissingSortKey",
	KindSearchControlError:           "SearchControlError",
	KindTimeLimitExceeded:            "TimeLimitExceeded",
	KindSearchExpressionError:        "SearchExpressionError",
	KindPasswordCheckFailed:          "PasswordCheckFailed",
	KindPrincipalNotFound:            "PrincipalNotFound",
	KindDuplicateLogonID:             "DuplicateLogonId",
	KindCertificateMapNotSupported:   "CertificateMapNotSupported",
	KindMaxResultsExceeded:           "MaxResultsExceeded",
	KindInternal:                     "Internal",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a wire name back to a Kind. Unknown names yield KindUnknown.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k
		}
	}
	return KindUnknown
}

// Parent returns the more general kind k specializes, or KindUnknown.
func (k Kind) Parent() Kind {
	switch k {
	case KindPrincipalNotFound:
		return KindPasswordCheckFailed
	case KindTimeLimitExceeded, KindMissingSortKey:
		return KindSearchControlError
	default:
		return KindUnknown
	}
}

// Category groups kinds by how they propagate.
type Category int

const (
	CategoryInternal Category = iota
	CategoryConfiguration
	CategoryScoping
	CategoryAvailability
	CategorySearchControl
	CategoryAuthentication
	CategoryCapacity
)

// Category returns the taxonomy group of k.
func (k Kind) Category() Category {
	switch k {
	case KindInvalidRealmName, KindMissingBaseEntry, KindInvalidBaseEntry, KindNoUserRepositoriesFound:
		return CategoryConfiguration
	case KindEntityNotInRealmScope, KindInvalidIdentifier, KindEntityIdentifierNotSpecified,
		KindEntityNotFound, KindEntityAlreadyExists, KindOperationNotSupported:
		return CategoryScoping
	case KindRepositoryUnavailable:
		return CategoryAvailability
	case KindMissingSearchControl, KindMissingSortKey, KindSearchControlError,
		KindTimeLimitExceeded, KindSearchExpressionError:
		return CategorySearchControl
	case KindPasswordCheckFailed, KindPrincipalNotFound, KindDuplicateLogonID, KindCertificateMapNotSupported:
		return CategoryAuthentication
	case KindMaxResultsExceeded:
		return CategoryCapacity
	default:
		return CategoryInternal
	}
}

// Disposition tells a caller what to do with a failed repository call.
type Disposition int

const (
	// Abort fails the whole request.
	Abort Disposition = iota
	// Skip excludes the repository when the request tolerates repositories
	// being down.
	Skip
)

// Disposition returns whether a failure of kind k means the repository could
// not answer (Skip) or answered with a meaningful error (Abort). Skip only
// applies to requests that tolerate unavailable repositories.
func (k Kind) Disposition() Disposition {
	switch k.Category() {
	case CategoryAvailability, CategoryInternal:
		return Skip
	default:
		return Abort
	}
}

// Error is the single error type of the federation layer. It carries enough
// context for the enclosing service to audit the failure.
type Error struct {
	Kind         Kind
	Message      string
	RepositoryID string
	UniqueName   string
	Realm        string
	Err          error
}

// Errorf creates an error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	var attrs []string
	if e.RepositoryID != "" {
		attrs = append(attrs, "repository="+e.RepositoryID)
	}
	if e.UniqueName != "" {
		attrs = append(attrs, "uniqueName="+e.UniqueName)
	}
	if e.Realm != "" {
		attrs = append(attrs, "realm="+e.Realm)
	}
	if len(attrs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(attrs, " "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind or of a kind e specializes, so
// errors.Is(err, ErrPasswordCheckFailed) holds for a PrincipalNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	for k := e.Kind; k != KindUnknown; k = k.Parent() {
		if k == t.Kind {
			return true
		}
	}
	return false
}

// WithRepository sets the repository id when not already set.
func (e *Error) WithRepository(id string) *Error {
	if e.RepositoryID == "" {
		e.RepositoryID = id
	}
	return e
}

// WithUniqueName sets the unique name when not already set.
func (e *Error) WithUniqueName(name string) *Error {
	if e.UniqueName == "" {
		e.UniqueName = name
	}
	return e
}

// WithRealm sets the realm when not already set.
func (e *Error) WithRealm(realm string) *Error {
	if e.Realm == "" {
		e.Realm = realm
	}
	return e
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsError returns err as an *Error, wrapping foreign errors as
// RepositoryUnavailable since they come from a failed adapter call.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindRepositoryUnavailable, err, "repository call failed")
}

// Sentinels for errors.Is.
var (
	ErrNoUserRepositoriesFound      = &Error{Kind: KindNoUserRepositoriesFound}
	ErrOperationNotSupported        = &Error{Kind: KindOperationNotSupported}
	ErrEntityIdentifierNotSpecified = &Error{Kind: KindEntityIdentifierNotSpecified}
	ErrEntityNotInRealmScope        = &Error{Kind: KindEntityNotInRealmScope}
	ErrInvalidIdentifier            = &Error{Kind: KindInvalidIdentifier}
	ErrEntityNotFound               = &Error{Kind: KindEntityNotFound}
	ErrEntityAlreadyExists          = &Error{Kind: KindEntityAlreadyExists}
	ErrInvalidRealmName             = &Error{Kind: KindInvalidRealmName}
	ErrMissingBaseEntry             = &Error{Kind: KindMissingBaseEntry}
	ErrInvalidBaseEntry             = &Error{Kind: KindInvalidBaseEntry}
	ErrRepositoryUnavailable        = &Error{Kind: KindRepositoryUnavailable}
	ErrMissingSearchControl         = &Error{Kind: KindMissingSearchControl}
	ErrMissingSortKey               = &Error{Kind: KindMissingSortKey}
	ErrSearchControl                = &Error{Kind: KindSearchControlError}
	ErrTimeLimitExceeded            = &Error{Kind: KindTimeLimitExceeded}
	ErrSearchExpression             = &Error{Kind: KindSearchExpressionError}
	ErrPasswordCheckFailed          = &Error{Kind: KindPasswordCheckFailed}
	ErrPrincipalNotFound            = &Error{Kind: KindPrincipalNotFound}
	ErrDuplicateLogonID             = &Error{Kind: KindDuplicateLogonID}
	ErrCertificateMapNotSupported   = &Error{Kind: KindCertificateMapNotSupported}
	ErrMaxResultsExceeded           = &Error{Kind: KindMaxResultsExceeded}
)
