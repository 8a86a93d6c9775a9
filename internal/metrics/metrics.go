// Package metrics holds the gateway's Prometheus collectors. A nil *Metrics
// is valid and records nothing, so components can be built without it.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rcp"

// Metrics groups every collector the gateway exports.
type Metrics struct {
	httpDuration    *prometheus.HistogramVec
	sampleDraws     *prometheus.CounterVec
	corpusQuery     *prometheus.HistogramVec
	replayOutcomes  *prometheus.CounterVec
	archiveFetch    *prometheus.HistogramVec
	evalDuration    prometheus.Histogram
	evalCache       *prometheus.CounterVec
	ingestedRecords prometheus.Counter
	ingestedGames   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests by route and status code",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
		sampleDraws: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_draws_total",
			Help:      "Random position draws by result (hit, empty, error)",
		}, []string{"result"}),
		corpusQuery: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "corpus_query_duration_seconds",
			Help:      "Duration of corpus queries",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		replayOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_outcomes_total",
			Help:      "Replayed games by outcome status",
		}, []string{"status"}),
		archiveFetch: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_fetch_duration_seconds",
			Help:      "Duration of remote archive game list fetches",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"result"}),
		evalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of engine evaluations (cache misses only)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		evalCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_cache_total",
			Help:      "Evaluation cache lookups by result (hit, miss)",
		}, []string{"result"}),
		ingestedRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_total",
			Help:      "Corpus records appended by ingest",
		}),
		ingestedGames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_games_total",
			Help:      "PGN games seen by ingest, by result (stored, skipped, failed)",
		}, []string{"result"}),
	}
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(d.Seconds())
}

// SampleDraw counts one random draw; result is "hit", "empty" or "error".
func (m *Metrics) SampleDraw(result string) {
	if m == nil {
		return
	}
	m.sampleDraws.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCorpusQuery(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.corpusQuery.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) ReplayOutcome(status string) {
	if m == nil {
		return
	}
	m.replayOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveArchiveFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.archiveFetch.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) ObserveEvaluation(d time.Duration) {
	if m == nil {
		return
	}
	m.evalDuration.Observe(d.Seconds())
}

func (m *Metrics) EvalCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.evalCache.WithLabelValues("hit").Inc()
	} else {
		m.evalCache.WithLabelValues("miss").Inc()
	}
}

// IngestGame counts one PGN game; result is "stored", "partial" or "skipped".
func (m *Metrics) IngestGame(result string) {
	if m == nil {
		return
	}
	m.ingestedGames.WithLabelValues(result).Inc()
}

func (m *Metrics) IngestRecords(n int) {
	if m == nil {
		return
	}
	m.ingestedRecords.Add(float64(n))
}
