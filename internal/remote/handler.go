package remote

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/repository"
)

type opFunc func(ctx context.Context, req *model.Root) (*model.Root, error)

// Dispatch returns the adapter method for an operation name.
func Dispatch(a repository.Adapter, op string) (func(context.Context, *model.Root) (*model.Root, error), bool) {
	var fn opFunc
	switch op {
	case OpGet:
		fn = a.Get
	case OpSearch:
		fn = a.Search
	case OpLogin:
		fn = a.Login
	case OpCreate:
		fn = a.Create
	case OpUpdate:
		fn = a.Update
	case OpDelete:
		fn = a.Delete
	default:
		return nil, false
	}
	return fn, true
}

// NewHandler serves an adapter over HTTP:
//
//	GET  /health            200, or the Ping error
//	POST /repository/{op}   op in get, search, login, create, update, delete
//
// Errors are written as ErrorBody with the status of their kind.
func NewHandler(a repository.Adapter, log zerolog.Logger) http.Handler {
	log = log.With().Str("component", "handler").Logger()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if p, ok := a.(repository.Pinger); ok {
			if err := p.Ping(req.Context()); err != nil {
				WriteError(w, err)
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/repository/{op}", func(w http.ResponseWriter, req *http.Request) {
		op := chi.URLParam(req, "op")
		fn, ok := Dispatch(a, op)
		if !ok {
			WriteError(w, model.Errorf(model.KindOperationNotSupported, "unknown operation %q", op))
			return
		}
		in, err := DecodeRoot(req)
		if err != nil {
			WriteError(w, err)
			return
		}

		out, err := fn(req.Context(), in)
		if err != nil {
			log.Debug().Err(err).Str("op", op).Msg("operation failed")
			WriteError(w, err)
			return
		}
		if out == nil {
			out = model.NewRoot()
		}
		WriteJSON(w, http.StatusOK, out)
	})

	return r
}
