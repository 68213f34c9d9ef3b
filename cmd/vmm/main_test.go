package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vmm/internal/config"
	"github.com/dreamware/vmm/internal/directory"
	"github.com/dreamware/vmm/internal/model"
	"github.com/dreamware/vmm/internal/remote"
)

const hrSeed = `
entities:
  - type: PersonAccount
    uniqueName: uid=alice,o=corp
    properties:
      uid: [alice]
      cn: [Alice Smith]
      sn: [Smith]
      password: [wonderland]
`

const partnersSeed = `
entities:
  - type: PersonAccount
    uniqueName: uid=carol,o=partners
    properties:
      uid: [carol]
      cn: [Carol Adams]
      sn: [Adams]
      password: [secret]
`

const testConfig = `
server:
  listen: "127.0.0.1:0"
engine:
  entryJoin: true
repositories:
  - id: hr
    seed: hr.yaml
    baseEntries: [{name: o=corp}]
  - id: partners
    seed: partners.yaml
    baseEntries: [{name: o=partners}]
realms:
  - name: all
  - name: corp
    baseEntries: [o=corp]
defaultRealm: all
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hr.yaml"), []byte(hrSeed), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partners.yaml"), []byte(partnersSeed), 0o600))
	path := filepath.Join(dir, "vmm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func newTestService(t *testing.T) *service {
	t.Helper()
	file, err := config.Load(writeConfig(t))
	require.NoError(t, err)
	s, err := newService(file, zerolog.Nop(), prometheus.NewRegistry())
	require.NoError(t, err)
	return s
}

func post(t *testing.T, h http.Handler, op string, req *model.Root) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/"+op, strings.NewReader(string(body))))
	return rec
}

// TestGetenv tests environment fallbacks
func TestGetenv(t *testing.T) {
	t.Setenv("VMM_TEST_SET", "value")
	assert.Equal(t, "value", getenv("VMM_TEST_SET", "default"))
	assert.Equal(t, "default", getenv("VMM_TEST_UNSET", "default"))
}

// TestParseOptions tests flags and environment defaults
func TestParseOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("VMM_CONFIG", "")
		opts, err := parseOptions(nil)
		require.NoError(t, err)
		assert.Equal(t, "vmm.yaml", opts.ConfigPath)
		assert.True(t, opts.Watch)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("VMM_CONFIG", "/etc/vmm.yaml")
		t.Setenv("VMM_LOG_LEVEL", "debug")
		opts, err := parseOptions(nil)
		require.NoError(t, err)
		assert.Equal(t, "/etc/vmm.yaml", opts.ConfigPath)
		assert.Equal(t, "debug", opts.LogLevel)
	})

	t.Run("flags win", func(t *testing.T) {
		t.Setenv("VMM_CONFIG", "/etc/vmm.yaml")
		opts, err := parseOptions([]string{"-c", "local.yaml", "--listen", ":9999", "--watch=false", "--console"})
		require.NoError(t, err)
		assert.Equal(t, "local.yaml", opts.ConfigPath)
		assert.Equal(t, ":9999", opts.Listen)
		assert.False(t, opts.Watch)
		assert.True(t, opts.Console)
	})

	t.Run("empty config path", func(t *testing.T) {
		_, err := parseOptions([]string{"--config", ""})
		assert.Error(t, err)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseOptions([]string{"--shards", "4"})
		assert.Error(t, err)
	})
}

// TestAdapterFactory tests adapter creation and reuse across reloads
func TestAdapterFactory(t *testing.T) {
	f := newAdapterFactory(zerolog.Nop())
	dirCfg := config.RepositoryConfig{
		ID:          "hr",
		Type:        config.TypeDirectory,
		BaseEntries: []config.BaseEntryConfig{{Name: "o=corp"}},
	}

	a1, err := f.Build(dirCfg)
	require.NoError(t, err)
	assert.IsType(t, &directory.Directory{}, a1)

	a2, err := f.Build(dirCfg)
	require.NoError(t, err)
	assert.Same(t, a1, a2, "unchanged settings reuse the adapter")

	dirCfg.Certificate = true
	a3, err := f.Build(dirCfg)
	require.NoError(t, err)
	assert.NotSame(t, a1, a3, "changed settings build a new adapter")

	a4, err := f.Build(config.RepositoryConfig{ID: "p", Type: config.TypeRemote, URL: "http://p:8081", Timeout: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &remote.Client{}, a4)

	_, err = f.Build(config.RepositoryConfig{ID: "x", Type: "ldap"})
	assert.Error(t, err)

	_, err = f.Build(config.RepositoryConfig{ID: "s", Type: config.TypeDirectory, Seed: "/does/not/exist.yaml"})
	assert.Error(t, err)
}

// TestServer tests the HTTP API over an engine with two directories
func TestServer(t *testing.T) {
	s := newTestService(t)
	h := s.handler

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","repositories":2}`, rec.Body.String())
	})

	t.Run("repositories", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/repositories", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Repositories []repositoryInfo `json:"repositories"`
			Count        int              `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
		assert.Equal(t, "hr", body.Repositories[0].ID)
		assert.Equal(t, []string{"o=corp"}, body.Repositories[0].BaseEntries)
		assert.Equal(t, "unknown", body.Repositories[0].Status)
	})

	t.Run("realms", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/realms", nil))
		assert.JSONEq(t, `{"realms":["all","corp"],"default":"all"}`, rec.Body.String())
	})

	t.Run("search spans repositories", func(t *testing.T) {
		req := model.NewRoot()
		req.Controls.Search = &model.SearchControl{Expression: "uid='*'", Properties: []string{"uid"}}
		req.Controls.Sort = &model.SortControl{Keys: []model.SortKey{{Property: "uid", Ascending: true}}}
		rec := post(t, h, "search", req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := model.NewRoot()
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
		require.Len(t, resp.Entities, 2)
		assert.Equal(t, "alice", resp.Entities[0].First("uid"))
		assert.Equal(t, "carol", resp.Entities[1].First("uid"))
		assert.Empty(t, resp.Entities[0].ID.ExternalID, "native identifiers stay inside")
	})

	t.Run("realm scoped search", func(t *testing.T) {
		req := model.NewRoot()
		req.Context.Realm = "corp"
		req.Controls.Search = &model.SearchControl{Expression: "uid='*'"}
		rec := post(t, h, "search", req)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := model.NewRoot()
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
		require.Len(t, resp.Entities, 1)
		assert.Equal(t, "corp", resp.Context.Realm)
	})

	t.Run("login", func(t *testing.T) {
		e := &model.Entity{ID: &model.Identifier{}, Properties: map[string][]string{}}
		e.Set(model.PropPrincipalName, "carol")
		e.Set(model.PropPassword, "secret")
		rec := post(t, h, "login", model.NewRoot(e))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "uid=carol,o=partners")

		e.Set(model.PropPassword, "wrong")
		rec = post(t, h, "login", model.NewRoot(e))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"kind":"PasswordCheckFailed"`)
	})

	t.Run("errors map to statuses", func(t *testing.T) {
		rec := post(t, h, "get", model.NewRoot(&model.Entity{ID: &model.Identifier{UniqueName: "uid=nobody,o=corp"}}))
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = post(t, h, "search", model.NewRoot())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "MissingSearchControl")

		rec = post(t, h, "rename", model.NewRoot())
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "vmm_engine_requests_total")
	})
}

// TestServiceReload tests that a reload keeps directory contents
func TestServiceReload(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	create := model.NewEntity(model.TypePerson, "uid=dave,o=corp")
	create.Set("uid", "dave")
	_, err := s.engine.Create(ctx, model.NewRoot(create))
	require.NoError(t, err)

	file, err := config.Parse([]byte(strings.Replace(testConfig, "entryJoin: true", "entryJoin: false", 1)))
	require.NoError(t, err)
	for i := range file.Repositories {
		file.Repositories[i].Seed = ""
	}
	// Seeds differ from the first build, so directories are rebuilt empty.
	require.NoError(t, s.apply(file))
	_, err = s.engine.Get(ctx, model.NewRoot(&model.Entity{ID: &model.Identifier{UniqueName: "uid=dave,o=corp"}}))
	assert.ErrorIs(t, err, model.ErrEntityNotFound)

	require.NoError(t, s.apply(file))
	_, err = s.engine.Create(ctx, model.NewRoot(create))
	require.NoError(t, err)
	require.NoError(t, s.apply(file))
	_, err = s.engine.Get(ctx, model.NewRoot(&model.Entity{ID: &model.Identifier{UniqueName: "uid=dave,o=corp"}}))
	assert.NoError(t, err, "unchanged settings keep the directory")
}

// TestRun tests startup and shutdown
func TestRun(t *testing.T) {
	t.Run("serves until cancelled", func(t *testing.T) {
		path := writeConfig(t)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- run(ctx, []string{"--config", path, "--log-level", "error"}) }()

		time.Sleep(200 * time.Millisecond)
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("run did not stop")
		}
	})

	t.Run("missing configuration", func(t *testing.T) {
		err := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "none.yaml")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("bad listen address", func(t *testing.T) {
		err := run(context.Background(), []string{"--config", writeConfig(t), "--listen", "256.0.0.1:bad", "--watch=false"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "listen")
	})
}
