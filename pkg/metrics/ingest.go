package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Row kinds reported through AddRows.
const (
	RowKindKeywords = "keywords"
	RowKindRanks    = "ranks"
	RowKindFailed   = "failed"
)

// IngestMetrics exposes per-country ingestion counters.
type IngestMetrics struct {
	countryRuns     *prometheus.CounterVec
	countryDuration *prometheus.HistogramVec
	rows            *prometheus.CounterVec
	warnings        *prometheus.CounterVec
	payloadBytes    *prometheus.GaugeVec
}

// NewIngestMetrics registers the ingestion metrics on reg. A nil registerer yields a
// no-op recorder.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	if reg == nil {
		return &IngestMetrics{}
	}
	m := &IngestMetrics{
		countryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankings_country_runs_total",
			Help: "Country runs by final status.",
		}, []string{"country", "status"}),
		countryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rankings_country_duration_seconds",
			Help:    "Wall time spent on one country.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"country"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankings_rows_total",
			Help: "Rows written or failed, by country and kind.",
		}, []string{"country", "kind"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankings_warnings_total",
			Help: "Non-fatal ingestion warnings by code.",
		}, []string{"country", "code"}),
		payloadBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rankings_export_payload_bytes",
			Help: "Size of the last downloaded export per country.",
		}, []string{"country"}),
	}
	reg.MustRegister(m.countryRuns, m.countryDuration, m.rows, m.warnings, m.payloadBytes)
	return m
}

// ObserveCountry records the final status and duration of one country run.
func (m *IngestMetrics) ObserveCountry(country, status string, duration time.Duration) {
	if m == nil || m.countryRuns == nil {
		return
	}
	country = normalizeLabel(country)
	m.countryRuns.WithLabelValues(country, normalizeLabel(status)).Inc()
	m.countryDuration.WithLabelValues(country).Observe(duration.Seconds())
}

func (m *IngestMetrics) AddRows(country, kind string, n int) {
	if m == nil || m.rows == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(country), normalizeLabel(kind)).Add(float64(n))
}

func (m *IngestMetrics) AddWarnings(country, code string, n int) {
	if m == nil || m.warnings == nil || n <= 0 {
		return
	}
	m.warnings.WithLabelValues(normalizeLabel(country), normalizeLabel(code)).Add(float64(n))
}

func (m *IngestMetrics) SetPayloadBytes(country string, n int) {
	if m == nil || m.payloadBytes == nil {
		return
	}
	m.payloadBytes.WithLabelValues(normalizeLabel(country)).Set(float64(n))
}
