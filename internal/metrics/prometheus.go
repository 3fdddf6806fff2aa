package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lodeworks_evaluation_duration_seconds",
			Help:    "Submission evaluation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodeworks_submissions_total",
			Help: "Total submissions processed by terminal status",
		},
		[]string{"status"},
	)

	RedundancyPercent = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lodeworks_redundancy_percent",
			Help:    "Redundancy percentage distribution across submissions",
			Buckets: []float64{5, 10, 15, 20, 30, 50, 75, 90, 98, 100},
		},
	)

	EmbeddingFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lodeworks_embedding_fallback_total",
			Help: "Total embeds served by the local fallback instead of the provider",
		},
	)

	AllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodeworks_allocations_total",
			Help: "Total allocation records written",
		},
		[]string{"metal"},
	)

	AllocationAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodeworks_allocation_amount_total",
			Help: "Total tokens debited from pools",
		},
		[]string{"metal"},
	)

	PoolBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lodeworks_pool_balance",
			Help: "Current balance per (metal, epoch) pool",
		},
		[]string{"metal", "epoch"},
	)

	EpochPointer = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lodeworks_epoch_pointer",
			Help: "Currently open epoch",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodeworks_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodeworks_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodeworks_audit_events_total",
			Help: "Total audit events recorded",
		},
		[]string{"event_type"},
	)
)

func Init() {
	prometheus.MustRegister(EvaluationDuration)
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(RedundancyPercent)
	prometheus.MustRegister(EmbeddingFallbackTotal)
	prometheus.MustRegister(AllocationsTotal)
	prometheus.MustRegister(AllocationAmount)
	prometheus.MustRegister(PoolBalance)
	prometheus.MustRegister(EpochPointer)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(AuditEventsTotal)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
