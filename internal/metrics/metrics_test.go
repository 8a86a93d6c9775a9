package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHTTP("/x", "GET", 200, time.Millisecond)
		m.SampleDraw("hit")
		m.ObserveCorpusQuery("count", time.Millisecond)
		m.ReplayOutcome("ok")
		m.ObserveArchiveFetch(time.Millisecond, nil)
		m.ObserveEvaluation(time.Millisecond)
		m.EvalCache(true)
		m.IngestGame("stored")
		m.IngestRecords(3)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SampleDraw("hit")
	m.SampleDraw("hit")
	m.SampleDraw("empty")
	m.ReplayOutcome("failed")
	m.EvalCache(false)
	m.IngestRecords(5)
	m.ObserveArchiveFetch(time.Second, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sampleDraws.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sampleDraws.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replayOutcomes.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evalCache.WithLabelValues("miss")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ingestedRecords))

	n, err := testutil.GatherAndCount(reg, "rcp_archive_fetch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	_ = New(reg)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
