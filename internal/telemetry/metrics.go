package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики ядра. Регистрируются в default-реестре через promauto
// и экспортируются воркером на /metrics.
var (
	// JobsProcessed — обработанные задания по результату: success | failure.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_jobs_processed_total",
		Help: "Jobs processed by this worker, by result",
	}, []string{"result"})

	// JobDuration — длительность обработки задания.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tempest_job_duration_seconds",
		Help:    "Wall-clock duration of one rule check job",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// CurrentJobs — число заданий в обработке прямо сейчас.
	CurrentJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tempest_current_jobs",
		Help: "Jobs currently being processed by this worker",
	})

	// ExternalRequests — исходящие вызовы внешних API по сервисам:
	// weather | platform_m_ads | platform_g_ads.
	ExternalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_external_requests_total",
		Help: "Outbound external API calls, by rate-limit service",
	}, []string{"service"})

	// RateLimitRefusals — отказы слайдинг-окна по сервисам.
	RateLimitRefusals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_ratelimit_refusals_total",
		Help: "Requests refused by the sliding-window rate limiter",
	}, []string{"service"})

	// StuckJobsRecovered — задания, возвращённые recovery-циклом
	// из processing обратно в scheduled.
	StuckJobsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempest_stuck_jobs_recovered_total",
		Help: "Jobs moved back to the scheduled set by the recovery loop",
	})
)
