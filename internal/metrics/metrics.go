// Package metrics exposes the exchange core's Prometheus metrics:
// orders by symbol and side, rejections by error kind, trades by symbol,
// queue depth and processed-command
// counts from the sequencer, per-symbol circuit state, and insurance fund
// balance. Grounded on the teacher's metrics.go — package-level
// CounterVec/GaugeVec declarations registered in init(), with small Inc/Set
// helper functions other packages call without importing
// prometheus/client_golang themselves.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_orders_submitted_total",
			Help: "Orders submitted, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_orders_rejected_total",
			Help: "Orders rejected, by error kind.",
		},
		[]string{"kind"},
	)

	tradesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_trades_executed_total",
			Help: "Trades executed, by symbol.",
		},
		[]string{"symbol"},
	)

	tradeNotional = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_trade_notional_total",
			Help: "Cumulative traded notional (quote-currency micro-units), by symbol.",
		},
		[]string{"symbol"},
	)

	liquidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_liquidations_total",
			Help: "Forced liquidations, by symbol.",
		},
		[]string{"symbol"},
	)

	sequencerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exchange_sequencer_queue_depth",
			Help: "Current number of commands buffered in the sequencer's queue.",
		},
	)

	sequencerProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exchange_sequencer_commands_processed_total",
			Help: "Total commands drained by the sequencer's consumer goroutine.",
		},
	)

	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_circuit_state",
			Help: "Circuit breaker state per symbol (0=Normal, 1=LimitUp, 2=LimitDown, 3=Halted).",
		},
		[]string{"symbol"},
	)

	markPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_mark_price",
			Help: "Composite mark price per symbol, in quote-currency units.",
		},
		[]string{"symbol"},
	)

	insuranceFund = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exchange_insurance_fund_balance",
			Help: "Insurance fund balance, in quote-currency units.",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersSubmitted, ordersRejected)
	prometheus.MustRegister(tradesExecuted, tradeNotional, liquidations)
	prometheus.MustRegister(sequencerQueueDepth, sequencerProcessed)
	prometheus.MustRegister(circuitState, markPrice, insuranceFund)
}

// IncOrderSubmitted records one order submission.
func IncOrderSubmitted(symbol, side string) { ordersSubmitted.WithLabelValues(symbol, side).Inc() }

// IncOrderRejected records one rejected order by error kind.
func IncOrderRejected(kind string) { ordersRejected.WithLabelValues(kind).Inc() }

// ObserveTrade records one executed trade and its notional.
func ObserveTrade(symbol string, notional float64) {
	tradesExecuted.WithLabelValues(symbol).Inc()
	tradeNotional.WithLabelValues(symbol).Add(notional)
}

// IncLiquidation records one forced liquidation.
func IncLiquidation(symbol string) { liquidations.WithLabelValues(symbol).Inc() }

// SetSequencerQueueDepth reports the sequencer's current queue occupancy.
func SetSequencerQueueDepth(n int) { sequencerQueueDepth.Set(float64(n)) }

// IncSequencerProcessed records one command drained by the sequencer.
func IncSequencerProcessed() { sequencerProcessed.Inc() }

// SetCircuitState reports a symbol's current circuit breaker state as a
// small ordinal (0=Normal, 1=LimitUp, 2=LimitDown, 3=Halted).
func SetCircuitState(symbol string, state int) { circuitState.WithLabelValues(symbol).Set(float64(state)) }

// SetMarkPrice reports a symbol's current composite mark price.
func SetMarkPrice(symbol string, price float64) { markPrice.WithLabelValues(symbol).Set(price) }

// SetInsuranceFund reports the insurance fund's current balance.
func SetInsuranceFund(balance float64) { insuranceFund.Set(balance) }
