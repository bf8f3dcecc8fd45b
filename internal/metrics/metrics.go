package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "welfare_cache_lookups_total",
		Help: "Data acquisition lookups by data type and result (hit, miss, stale, unavailable).",
	}, []string{"data_type", "result"})

	ProviderFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "welfare_provider_fetches_total",
		Help: "Provider fetches by data type and outcome after retries.",
	}, []string{"data_type", "outcome"})

	ValidationAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "welfare_validation_anomalies_total",
		Help: "Out-of-range or suspicious provider values that were passed through.",
	}, []string{"data_type"})

	DeliveryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "welfare_delivery_outcomes_total",
		Help: "Per-recipient SMS delivery outcomes by message kind.",
	}, []string{"kind", "result"})

	EmergencyAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "welfare_emergency_alerts_total",
		Help: "Emergency alerts processed by outcome (sent, failed).",
	}, []string{"outcome"})

	SLABreaches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "welfare_emergency_sla_breaches_total",
		Help: "Emergency alerts whose dispatch finished after the delivery budget.",
	})

	EmergencyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "welfare_emergency_dispatch_seconds",
		Help:    "Time from poll start to emergency dispatch completion.",
		Buckets: prometheus.LinearBuckets(15, 15, 24), // 15s..6min
	})

	SkippedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "welfare_scheduler_skipped_ticks_total",
		Help: "Scheduled runs skipped because the previous run was still in flight.",
	}, []string{"task"})

	TaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "welfare_scheduler_task_failures_total",
		Help: "Scheduled runs that returned an error or panicked.",
	}, []string{"task"})
)
