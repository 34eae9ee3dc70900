package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type ProtocolMetrics struct {
	deposits        *prometheus.CounterVec
	withdrawals     *prometheus.CounterVec
	loansStarted    prometheus.Counter
	loansPaid       prometheus.Counter
	loansDefaulted  prometheus.Counter
	liquidations    *prometheus.CounterVec
	poolFunds       *prometheus.GaugeVec
	rewardsReceived *prometheus.CounterVec
}

var (
	protocolOnce     sync.Once
	protocolRegistry *ProtocolMetrics
)

func Protocol() *ProtocolMetrics {
	protocolOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftlend_pool_deposits_total",
				Help: "Count of pool deposits by pool.",
			}, []string{"pool"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftlend_pool_withdrawals_total",
				Help: "Count of pool withdrawals by pool.",
			}, []string{"pool"}),
			loansStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "nftlend_loans_started_total",
				Help: "Count of loans that drew principal.",
			}),
			loansPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "nftlend_loans_paid_total",
				Help: "Count of loans settled by repayment.",
			}),
			loansDefaulted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "nftlend_loans_defaulted_total",
				Help: "Count of loans settled by default.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftlend_liquidations_settled_total",
				Help: "Count of settled liquidations by method.",
			}, []string{"method"}),
			poolFunds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "nftlend_pool_funds",
				Help: "Pool funds by pool and bucket (available or invested).",
			}, []string{"pool", "bucket"}),
			rewardsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftlend_rewards_received_total",
				Help: "Reward units received by funds origin.",
			}, []string{"origin"}),
		}
		prometheus.MustRegister(
			protocolRegistry.deposits,
			protocolRegistry.withdrawals,
			protocolRegistry.loansStarted,
			protocolRegistry.loansPaid,
			protocolRegistry.loansDefaulted,
			protocolRegistry.liquidations,
			protocolRegistry.poolFunds,
			protocolRegistry.rewardsReceived,
		)
	})
	return protocolRegistry
}

func (m *ProtocolMetrics) ObserveDeposit(poolID string) {
	if m == nil {
		return
	}
	if poolID == "" {
		poolID = "unknown"
	}
	m.deposits.WithLabelValues(poolID).Inc()
}

func (m *ProtocolMetrics) ObserveWithdrawal(poolID string) {
	if m == nil {
		return
	}
	if poolID == "" {
		poolID = "unknown"
	}
	m.withdrawals.WithLabelValues(poolID).Inc()
}

func (m *ProtocolMetrics) ObserveLoanStarted() {
	if m == nil {
		return
	}
	m.loansStarted.Inc()
}

func (m *ProtocolMetrics) ObserveLoanPaid() {
	if m == nil {
		return
	}
	m.loansPaid.Inc()
}

func (m *ProtocolMetrics) ObserveLoanDefaulted() {
	if m == nil {
		return
	}
	m.loansDefaulted.Inc()
}

func (m *ProtocolMetrics) ObserveLiquidationSettled(method string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.liquidations.WithLabelValues(method).Inc()
}

func (m *ProtocolMetrics) SetPoolFunds(poolID string, available, invested float64) {
	if m == nil {
		return
	}
	if poolID == "" {
		poolID = "unknown"
	}
	m.poolFunds.WithLabelValues(poolID, "available").Set(available)
	m.poolFunds.WithLabelValues(poolID, "invested").Set(invested)
}

func (m *ProtocolMetrics) ObserveRewards(origin string, amount float64) {
	if m == nil {
		return
	}
	if origin == "" {
		origin = "unknown"
	}
	m.rewardsReceived.WithLabelValues(origin).Add(amount)
}
