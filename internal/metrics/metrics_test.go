package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vmm/internal/model"
)

func TestRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordRequest("search", 10*time.Millisecond, nil)
	m.RecordRequest("search", 10*time.Millisecond, model.Errorf(model.KindMaxResultsExceeded, "too many"))
	m.ObserveRepository("repo1", time.Millisecond, nil)
	m.ObserveRepository("repo2", time.Millisecond, errors.New("boom"))
	m.RecordSkipped("repo2")
	m.SetRepositoryUp("repo1", true)
	m.SetRepositoryUp("repo2", false)
	m.RecordPageLookup(true)
	m.RecordPageLookup(false)
	m.RecordPageLookup(false)
	m.RecordEviction("expired")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("search", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("search", "MaxResultsExceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repositoryCalls.WithLabelValues("repo2", "Unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repositorySkipped.WithLabelValues("repo2")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.repositoryUp.WithLabelValues("repo2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repositoryUp.WithLabelValues("repo1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pageCacheLookups.WithLabelValues("miss")))

	expected := `
# HELP vmm_pagecache_evictions_total Page cache removals by reason.
# TYPE vmm_pagecache_evictions_total counter
vmm_pagecache_evictions_total{reason="expired"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "vmm_pagecache_evictions_total"))
}

func TestDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("get", time.Second, nil)
		m.ObserveRepository("r", time.Second, nil)
		m.RecordSkipped("r")
		m.SetRepositoryUp("r", true)
		m.RecordPageLookup(true)
		m.RecordEviction("deleted")
	})
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "EntityNotFound", Outcome(model.ErrEntityNotFound))
}
