package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"menurec/internal/cachestore"
	"menurec/internal/models"
)

// Metrics holds the recommendation cache metrics. A nil *Metrics records nothing.
type Metrics struct {
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	Generations       *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec
	RowsByStatus      *prometheus.GaugeVec
	ExpiredRows       prometheus.Gauge
}

// NewMetrics registers the metrics with reg. The in-flight gauge reads the tracker on scrape.
func NewMetrics(reg prometheus.Registerer, tracker *InflightTracker) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "menurec_cache_hits_total",
			Help: "Recommendation requests served from an unexpired completed row",
		}, []string{"mode"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "menurec_cache_misses_total",
			Help: "Recommendation requests that needed a generation",
		}, []string{"mode"}),

		// outcome: completed, error, in_progress
		Generations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "menurec_generations_total",
			Help: "Finished generations by outcome",
		}, []string{"mode", "outcome"}),

		GenerationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "menurec_generation_duration_seconds",
			Help:    "Time spent in the scoring call",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		}, []string{"mode"}),

		RowsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "menurec_cache_rows",
			Help: "Unexpired cache rows by status",
		}, []string{"status"}),

		ExpiredRows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "menurec_cache_rows_expired",
			Help: "Cache rows past their TTL still present in the store",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "menurec_generations_in_flight",
		Help: "Keys with a generation in flight in this instance",
	}, func() float64 {
		if tracker == nil {
			return 0
		}
		return float64(tracker.Count())
	})

	return m
}

func (m *Metrics) hit(mode models.Mode) {
	if m != nil {
		m.CacheHits.WithLabelValues(string(mode)).Inc()
	}
}

func (m *Metrics) miss(mode models.Mode) {
	if m != nil {
		m.CacheMisses.WithLabelValues(string(mode)).Inc()
	}
}

func (m *Metrics) generation(mode models.Mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(string(mode), outcome).Inc()
	if elapsed > 0 {
		m.GenerationLatency.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	}
}

// ObserveStats publishes a store snapshot
func (m *Metrics) ObserveStats(stats *cachestore.Stats) {
	if m == nil || stats == nil {
		return
	}
	for status, n := range stats.ByStatus {
		m.RowsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	m.ExpiredRows.Set(float64(stats.Expired))
}
