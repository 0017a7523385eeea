package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "admission_db_tx_seconds",
			Help:    "Duration of ledger transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReserveRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_reserve_rejections_total",
			Help: "Reserve attempts rejected for insufficient inventory",
		},
	)

	HoldsConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_holds_confirmed_total",
			Help: "Holds converted to committed sales",
		},
	)

	SessionsPromoted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_sessions_promoted_total",
			Help: "Waiting sessions promoted to active",
		},
	)

	SweeperReclaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_sweeper_reclaimed_total",
			Help: "Records reclaimed by the expiry sweeper",
		},
		[]string{"kind"},
	)

	InvariantBreaches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_invariant_breaches_total",
			Help: "Rejected operations that would have broken a ledger invariant",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "admission_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)
)
