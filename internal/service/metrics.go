package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OrdersPlaced        *prometheus.CounterVec
	OrdersCancelled     *prometheus.CounterVec
	MatchCycles         *prometheus.CounterVec
	TradesSettled       *prometheus.CounterVec
	MatchCycleDuration  prometheus.Histogram
	DepositsCredited    *prometheus.CounterVec
	WithdrawalsTotal    *prometheus.CounterVec
	ReconReportsCreated prometheus.Counter
	LedgerDivergence    prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_orders_placed_total",
				Help: "Total order placement attempts.",
			},
			[]string{"status"},
		),
		OrdersCancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_orders_cancelled_total",
				Help: "Total order cancellation attempts.",
			},
			[]string{"status"},
		),
		MatchCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_match_cycles_total",
				Help: "Total matching cycles per symbol outcome.",
			},
			[]string{"status"},
		),
		TradesSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_trades_settled_total",
				Help: "Total trades settled.",
			},
			[]string{"status"},
		),
		MatchCycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "exchange_match_cycle_duration_seconds",
				Help:    "Matching cycle duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		DepositsCredited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_deposits_credited_total",
				Help: "Total deposits credited.",
			},
			[]string{"status"},
		),
		WithdrawalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_withdrawals_total",
				Help: "Total withdrawal processing outcomes.",
			},
			[]string{"outcome"},
		),
		ReconReportsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "exchange_reconciliation_reports_total",
				Help: "Total reconciliation discrepancy reports created.",
			},
		),
		LedgerDivergence: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "exchange_ledger_divergence_total",
				Help: "Total ledger replay divergences detected.",
			},
		),
	}

	registry.MustRegister(
		m.OrdersPlaced,
		m.OrdersCancelled,
		m.MatchCycles,
		m.TradesSettled,
		m.MatchCycleDuration,
		m.DepositsCredited,
		m.WithdrawalsTotal,
		m.ReconReportsCreated,
		m.LedgerDivergence,
	)
	return m
}

func (m *Metrics) IncOrderPlaced(status string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(status).Inc()
}

func (m *Metrics) IncWithdrawal(outcome string) {
	if m == nil {
		return
	}
	m.WithdrawalsTotal.WithLabelValues(outcome).Inc()
}
