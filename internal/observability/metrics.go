// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Cache metrics
	CacheLookups       *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	// Remote read metrics
	RetryAttempts  *prometheus.CounterVec
	RetryOutcomes  *prometheus.CounterVec
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Account service metrics
	AccountsSkipped *prometheus.CounterVec

	// Signing and submission metrics
	SignerDispatches   *prometheus.CounterVec
	SignerLatency      *prometheus.HistogramVec
	Submissions        *prometheus.CounterVec
	ConfirmationWait   *prometheus.HistogramVec
	PendingPayloadsOps *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil registerer uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "multisig_console"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache name and result",
		}, []string{"name", "result"}),
		CacheInvalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache entries removed by invalidation kind",
		}, []string{"name", "kind"}),

		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "retry_attempts_total",
			Help:      "Remote read attempts that were retried after a rate limit",
		}, []string{"label"}),
		RetryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "outcomes_total",
			Help:      "Remote read outcomes by label",
		}, []string{"label", "outcome"}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "RPC call failures by method",
		}, []string{"method"}),

		AccountsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "decode_skipped_total",
			Help:      "Program accounts dropped from list results because they failed to decode",
		}, []string{"account_type"}),

		SignerDispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signer",
			Name:      "dispatches_total",
			Help:      "Signer dispatches by wallet kind, encoding and outcome",
		}, []string{"wallet_kind", "encoding", "outcome"}),
		SignerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "signer",
			Name:      "latency_seconds",
			Help:      "Time spent waiting on signer back-ends",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"wallet_kind"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "transactions_total",
			Help:      "Submitted transactions by chain and outcome",
		}, []string{"chain", "outcome"}),
		ConfirmationWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "confirmation_wait_seconds",
			Help:      "Time until a submitted transaction reached the requested commitment",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		}, []string{"chain", "commitment"}),
		PendingPayloadsOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "pending_payload_ops_total",
			Help:      "Operations on persisted signed payloads",
		}, []string{"op"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(name string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	DefaultMetrics.CacheLookups.WithLabelValues(name, result).Inc()
}

// RecordCacheInvalidation records removed cache entries.
func RecordCacheInvalidation(name, kind string, removed int) {
	if removed <= 0 {
		return
	}
	DefaultMetrics.CacheInvalidations.WithLabelValues(name, kind).Add(float64(removed))
}

// RecordRetry records a retried remote read.
func RecordRetry(label string) {
	DefaultMetrics.RetryAttempts.WithLabelValues(label).Inc()
}

// RecordReadOutcome records the final outcome of a remote read.
func RecordReadOutcome(label, outcome string) {
	DefaultMetrics.RetryOutcomes.WithLabelValues(label, outcome).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordSkippedAccounts records accounts dropped from a list read.
func RecordSkippedAccounts(accountType string, n int) {
	if n <= 0 {
		return
	}
	DefaultMetrics.AccountsSkipped.WithLabelValues(accountType).Add(float64(n))
}

// RecordSignerDispatch records a signer dispatch.
func RecordSignerDispatch(kind, encoding, outcome string, seconds float64) {
	DefaultMetrics.SignerDispatches.WithLabelValues(kind, encoding, outcome).Inc()
	DefaultMetrics.SignerLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordSubmission records a submission outcome.
func RecordSubmission(chain, outcome string) {
	DefaultMetrics.Submissions.WithLabelValues(chain, outcome).Inc()
}

// RecordConfirmationWait records time spent waiting for a commitment level.
func RecordConfirmationWait(chain, commitment string, seconds float64) {
	DefaultMetrics.ConfirmationWait.WithLabelValues(chain, commitment).Observe(seconds)
}

// RecordPendingPayload records an operation on a persisted signed payload.
func RecordPendingPayload(op string) {
	DefaultMetrics.PendingPayloadsOps.WithLabelValues(op).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
