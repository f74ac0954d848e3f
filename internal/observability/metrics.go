package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// --- Trades ---
	TradesExecuted *prometheus.CounterVec // side
	TradesRejected *prometheus.CounterVec // side, reason
	TradeDuration  *prometheus.HistogramVec

	// --- Transfers ---
	TransfersCommitted *prometheus.CounterVec // kind
	TransfersRejected  *prometheus.CounterVec // kind, reason
	TransferRetries    prometheus.Counter
	TransferDuration   prometheus.Histogram

	// --- Dust ---
	DustSweeps            prometheus.Counter
	DustHoldingsConverted prometheus.Counter
	DustValueConverted    prometheus.Counter

	// --- 2FA ---
	TOTPVerifications *prometheus.CounterVec // result
	TwoFAEnables      prometheus.Counter
	TwoFADisables     *prometheus.CounterVec // method

	// --- Store ---
	StoreConflicts *prometheus.CounterVec // op
	StoreTxnDur    *prometheus.HistogramVec

	// --- Notifier ---
	NotifyPublished *prometheus.CounterVec // subject_kind
	NotifyDropped   prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec // route, status
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	}

	return &Metrics{
		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_trades_executed_total",
			Help: "Trades committed to the ledger",
		}, []string{"side"}),

		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_trades_rejected_total",
			Help: "Trades rejected (validation, funds, holdings, conflict)",
		}, []string{"side", "reason"}),

		TradeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_trade_duration_seconds",
			Help:    "Buy/sell execution duration including store commit",
			Buckets: opBuckets,
		}, []string{"side"}),

		TransfersCommitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_transfers_committed_total",
			Help: "Two-leg transfers committed",
		}, []string{"kind"}),

		TransfersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_transfers_rejected_total",
			Help: "Transfers rejected (validation, funds, recipient, retries)",
		}, []string{"kind", "reason"}),

		TransferRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_transfer_retries_total",
			Help: "Transfer transaction conflict-abort retries",
		}),

		TransferDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_transfer_duration_seconds",
			Help:    "Transfer duration including retries",
			Buckets: opBuckets,
		}),

		DustSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_dust_sweeps_total",
			Help: "Dust consolidations committed",
		}),

		DustHoldingsConverted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_dust_holdings_converted_total",
			Help: "Holdings converted to cash by dust sweeps",
		}),

		DustValueConverted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_dust_value_converted_total",
			Help: "Total cash value recovered from dust",
		}),

		TOTPVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_totp_verifications_total",
			Help: "TOTP code verification attempts",
		}, []string{"result"}),

		TwoFAEnables: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_twofa_enables_total",
			Help: "Successful 2FA enables",
		}),

		TwoFADisables: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_twofa_disables_total",
			Help: "Successful 2FA disables",
		}, []string{"method"}),

		StoreConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_store_conflicts_total",
			Help: "Conditional-transaction conflict aborts",
		}, []string{"op"}),

		StoreTxnDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_store_txn_duration_seconds",
			Help:    "Store transaction duration",
			Buckets: opBuckets,
		}, []string{"op"}),

		NotifyPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_notify_published_total",
			Help: "Change notifications published to NATS",
		}, []string{"kind"}),

		NotifyDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_notify_dropped_total",
			Help: "Notifications dropped on full publish channel",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"route"}),
	}
}
