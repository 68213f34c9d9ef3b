package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dreamware/vmm/internal/federation"
	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/remote"
	"github.com/dreamware/vmm/internal/repository"
)

// server exposes the engine over HTTP.
type server struct {
	engine   *federation.Engine
	health   *repository.HealthMonitor
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

// routes builds the HTTP API:
//
//	POST /v1/{op}            get, search, login, create, update, delete
//	GET  /v1/repositories    configured repositories and their health
//	GET  /v1/realms          configured realms
//	GET  /health             liveness
//	GET  /metrics            Prometheus metrics
func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repositories", s.handleRepositories)
		r.Get("/realms", s.handleRealms)
		r.Post("/{op}", s.handleOperation)
	})
	return r
}

func (s *server) handleOperation(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")
	fn, ok := remote.Dispatch(s.engine, op)
	if !ok {
		remote.WriteError(w, model.Errorf(model.KindOperationNotSupported, "unknown operation %q", op))
		return
	}
	req, err := remote.DecodeRoot(r)
	if err != nil {
		remote.WriteError(w, err)
		return
	}

	resp, err := fn(r.Context(), req)
	if err != nil {
		remote.WriteError(w, err)
		return
	}
	remote.WriteJSON(w, http.StatusOK, resp)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	remote.WriteJSON(w, http.StatusOK, struct {
		Status       string `json:"status"`
		Repositories int    `json:"repositories"`
	}{
		Status:       "ok",
		Repositories: s.engine.Registry().Len(),
	})
}

type repositoryInfo struct {
	ID               string    `json:"id"`
	BaseEntries      []string  `json:"baseEntries"`
	Groups           []string  `json:"groups,omitempty"`
	Realm            string    `json:"realm,omitempty"`
	Bridge           bool      `json:"bridge,omitempty"`
	Status           string    `json:"status"`
	ConsecutiveFails int       `json:"consecutiveFails,omitempty"`
	LastCheck        time.Time `json:"lastCheck,omitempty"`
}

func (s *server) handleRepositories(w http.ResponseWriter, _ *http.Request) {
	descriptors := s.engine.Registry().Snapshot().Descriptors()
	out := make([]repositoryInfo, 0, len(descriptors))
	for _, d := range descriptors {
		info := repositoryInfo{
			ID:          d.ID,
			BaseEntries: d.BaseNames(),
			Groups:      d.Groups,
			Realm:       d.Realm,
			Bridge:      d.Bridge,
			Status:      repository.StatusUnknown,
		}
		if s.health != nil {
			if h := s.health.Health(d.ID); h != nil {
				info.Status = h.Status
				info.ConsecutiveFails = h.ConsecutiveFails
				info.LastCheck = h.LastCheck
			}
		}
		out = append(out, info)
	}
	remote.WriteJSON(w, http.StatusOK, struct {
		Repositories []repositoryInfo `json:"repositories"`
		Count        int              `json:"count"`
	}{Repositories: out, Count: len(out)})
}

func (s *server) handleRealms(w http.ResponseWriter, _ *http.Request) {
	realms := s.engine.Realms().Current()
	remote.WriteJSON(w, http.StatusOK, struct {
		Realms  []string `json:"realms"`
		Default string   `json:"default"`
	}{Realms: realms.Names(), Default: realms.Default()})
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("requestId", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
