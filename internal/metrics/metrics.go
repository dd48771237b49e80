package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/elys-network/stakeledger/internal/types"
)

const namespace = "stakeledger"

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by name and result",
		},
		[]string{"op", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent inside a ledger operation, custody included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	claims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Successful claim calls by ledger variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	payoutUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_units_total",
			Help:      "Reward base units paid out by split role",
		},
		[]string{"role"},
	)

	poolShares = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_total_shares",
			Help:      "Total staked weight in a reward pool",
		},
		[]string{"pool"},
	)

	poolAccPerShare = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_acc_per_share",
			Help:      "Accumulated reward per share of a reward pool, scaled by the ledger precision",
		},
		[]string{"pool"},
	)
)

// ObserveOperation counts one ledger operation and records how long it took.
func ObserveOperation(op string, started time.Time, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	operations.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveClaim counts a successful claim and the units each role received.
func ObserveClaim(variant types.Variant, outcome types.ClaimOutcome, payouts []types.Payout) {
	claims.WithLabelValues(string(variant), string(outcome)).Inc()
	for _, p := range payouts {
		payoutUnits.WithLabelValues(string(p.Role)).Add(float64(p.Amount))
	}
}

func SetPool(pool types.RewardPool) {
	poolShares.WithLabelValues(pool.Key()).Set(float64(pool.TotalShares))
	poolAccPerShare.WithLabelValues(pool.Key()).Set(float64(pool.AccPerShare))
}
