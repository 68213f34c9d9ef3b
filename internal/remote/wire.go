package remote

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dreamware/vmm/internal/model"
)

// Operation names used in the request path.
const (
	OpGet    = "get"
	OpSearch = "search"
	OpLogin  = "login"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ErrorBody is the JSON form of a *model.Error.
type ErrorBody struct {
	Kind         string `json:"kind"`
	Message      string `json:"message,omitempty"`
	RepositoryID string `json:"repositoryId,omitempty"`
	UniqueName   string `json:"uniqueName,omitempty"`
	Realm        string `json:"realm,omitempty"`
	Cause        string `json:"cause,omitempty"`
}

// EncodeError converts err for the wire. Foreign errors become Internal.
func EncodeError(err error) ErrorBody {
	var me *model.Error
	if !errors.As(err, &me) {
		return ErrorBody{Kind: model.KindInternal.String(), Message: err.Error()}
	}
	b := ErrorBody{
		Kind:         me.Kind.String(),
		Message:      me.Message,
		RepositoryID: me.RepositoryID,
		UniqueName:   me.UniqueName,
		Realm:        me.Realm,
	}
	if me.Err != nil {
		b.Cause = me.Err.Error()
	}
	return b
}

// Model rebuilds the *model.Error.
func (b ErrorBody) Model() *model.Error {
	e := &model.Error{
		Kind:         model.ParseKind(b.Kind),
		Message:      b.Message,
		RepositoryID: b.RepositoryID,
		UniqueName:   b.UniqueName,
		Realm:        b.Realm,
	}
	if e.Kind == model.KindUnknown {
		e.Kind = model.KindInternal
	}
	if b.Cause != "" {
		e.Err = errors.New(b.Cause)
	}
	return e
}

// Status maps an error kind to an HTTP status code.
func Status(kind model.Kind) int {
	switch kind {
	case model.KindEntityNotFound:
		return http.StatusNotFound
	case model.KindEntityAlreadyExists, model.KindDuplicateLogonID:
		return http.StatusConflict
	case model.KindPasswordCheckFailed, model.KindPrincipalNotFound, model.KindCertificateMapNotSupported:
		return http.StatusUnauthorized
	case model.KindRepositoryUnavailable, model.KindNoUserRepositoriesFound:
		return http.StatusServiceUnavailable
	case model.KindOperationNotSupported:
		return http.StatusNotImplemented
	case model.KindTimeLimitExceeded:
		return http.StatusGatewayTimeout
	case model.KindMaxResultsExceeded:
		return http.StatusUnprocessableEntity
	case model.KindMissingBaseEntry, model.KindInvalidBaseEntry, model.KindInternal, model.KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as an ErrorBody with the status of its kind.
func WriteError(w http.ResponseWriter, err error) {
	body := EncodeError(err)
	WriteJSON(w, Status(model.ParseKind(body.Kind)), body)
}

// DecodeRoot reads a request envelope. A malformed body is reported as
// OperationNotSupported.
func DecodeRoot(r *http.Request) (*model.Root, error) {
	req := model.NewRoot()
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return nil, model.Wrap(model.KindOperationNotSupported, err, "malformed request")
	}
	return req, nil
}
