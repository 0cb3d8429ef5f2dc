package metrics

import (
	"math/big"
	"net/http"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/michaelpento.lv/arbvault/events"
	"github.com/michaelpento.lv/arbvault/types"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// EngineMetrics instruments engine calls. Collectors live on the registry
// passed to NewEngineMetrics so several engines can coexist in one process.
type EngineMetrics struct {
	gatherer prometheus.Gatherer

	Calls            *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	CallLatency      *prometheus.HistogramVec
	Deposited        prometheus.Counter
	Withdrawn        prometheus.Counter
	RewardsClaimed   prometheus.Counter
	ArbitrageProfit  prometheus.Counter
	FlashLoanVolume  prometheus.Counter
	FlashLoanFees    prometheus.Counter
	StrategyVolume   prometheus.Counter
	TotalValueLocked prometheus.Gauge
	SuccessRatio     prometheus.Gauge

	successCount prometheus.Counter
	totalCount   prometheus.Counter
}

// NewEngineMetrics creates the engine collectors under namespace. A nil
// registry gets a private one.
func NewEngineMetrics(namespace string, registry *prometheus.Registry) *EngineMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &EngineMetrics{
		gatherer: registry,
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of engine calls by operation and outcome",
		}, []string{"op", "outcome"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of aborted engine calls by operation and error kind",
		}, []string{"op", "kind"}),
		CallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_latency_seconds",
			Help:      "Engine call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
		Deposited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposited_total",
			Help:      "Total amount deposited into pools",
		}),
		Withdrawn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawn_total",
			Help:      "Total amount withdrawn from pools",
		}),
		RewardsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_claimed_total",
			Help:      "Total rewards paid out",
		}),
		ArbitrageProfit: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arbitrage_profit_total",
			Help:      "Total arbitrage profit paid to callers",
		}),
		FlashLoanVolume: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flashloan_volume_total",
			Help:      "Total principal lent through flash loans",
		}),
		FlashLoanFees: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flashloan_fees_total",
			Help:      "Total flash-loan fees collected",
		}),
		StrategyVolume: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_volume_total",
			Help:      "Total input amount routed through strategies",
		}),
		TotalValueLocked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_value_locked",
			Help:      "Sum of all pool supplies",
		}),
		SuccessRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "success_ratio",
			Help:      "Share of engine calls that committed",
		}),
		successCount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_calls_total",
			Help:      "Number of committed engine calls",
		}),
		totalCount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempted_calls_total",
			Help:      "Number of attempted engine calls",
		}),
	}
}

// ObserveCall records the outcome and latency of one engine call.
func (m *EngineMetrics) ObserveCall(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.CallLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	m.totalCount.Inc()
	if err != nil {
		m.Calls.WithLabelValues(op, OutcomeFailure).Inc()
		m.Failures.WithLabelValues(op, types.Kind(err)).Inc()
	} else {
		m.Calls.WithLabelValues(op, OutcomeSuccess).Inc()
		m.successCount.Inc()
	}
	m.SuccessRatio.Set(m.SuccessRate())
}

// ObserveEvent adds the amounts carried by a committed event.
func (m *EngineMetrics) ObserveEvent(ev events.Event) {
	if m == nil {
		return
	}
	switch e := ev.(type) {
	case events.LiquidityAdded:
		m.Deposited.Add(ToFloat(e.Amount))
	case events.LiquidityRemoved:
		m.Withdrawn.Add(ToFloat(e.Amount))
	case events.RewardsClaimed:
		m.RewardsClaimed.Add(ToFloat(e.Amount))
	case events.ArbitrageExecuted:
		m.ArbitrageProfit.Add(ToFloat(e.Profit))
	case events.FlashLoanExecuted:
		m.FlashLoanVolume.Add(ToFloat(e.Amount))
		m.FlashLoanFees.Add(ToFloat(e.Fee))
	case events.StrategyExecuted:
		m.StrategyVolume.Add(ToFloat(e.InputAmount))
	}
}

// SetTotalValueLocked publishes the current TVL.
func (m *EngineMetrics) SetTotalValueLocked(tvl *uint256.Int) {
	if m == nil {
		return
	}
	m.TotalValueLocked.Set(ToFloat(tvl))
}

// SuccessRate returns committed calls over attempted calls, read back from
// the counters themselves.
func (m *EngineMetrics) SuccessRate() float64 {
	total := counterValue(m.totalCount)
	if total == 0 {
		return 0
	}
	return counterValue(m.successCount) / total
}

// Handler serves the registry in the Prometheus exposition format.
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func counterValue(c prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil || metric.Counter == nil {
		return 0
	}
	return metric.Counter.GetValue()
}

// ToFloat converts an amount for metric reporting. Precision loss above 2^53
// is accepted.
func ToFloat(x *uint256.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x.ToBig()).Float64()
	return f
}
