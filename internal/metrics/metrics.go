// Package metrics collects engine-wide Prometheus metrics (spec §4.3/§4.4/§4.7 ambient
// observability), grounded on the teacher's MetricsCollector (internal/monitoring/metrics.go):
// promauto-registered CounterVec/HistogramVec/GaugeVec fields, initialized up front and
// exposed via narrow Record* methods.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the engine records.
type Collector struct {
	systemStartTime time.Time

	tickDuration   *prometheus.HistogramVec
	tradesTotal    *prometheus.CounterVec
	matchesTotal   *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec

	webhookOutcomes *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
	circuitState    *prometheus.GaugeVec

	broadcastConnections *prometheus.GaugeVec
	broadcastMessagesOut *prometheus.CounterVec

	actionsProcessed *prometheus.CounterVec

	heartbeatStatus *prometheus.GaugeVec
	heartbeatTotal  *prometheus.CounterVec
}

// New registers and returns a Collector. Call once per process.
func New() *Collector {
	return &Collector{
		systemStartTime: time.Now(),

		tickDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_tick_duration_seconds",
				Help:    "Duration of one full tick pipeline execution.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{},
		),
		tradesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_trades_total",
				Help: "Total number of trades printed.",
			},
			[]string{"symbol"},
		),
		matchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_matches_total",
				Help: "Total number of order submissions that produced at least one trade.",
			},
			[]string{"symbol"},
		),
		ordersRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_orders_rejected_total",
				Help: "Total number of orders rejected at submission.",
			},
			[]string{"symbol", "reason"},
		),
		webhookOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_webhook_outcomes_total",
				Help: "Webhook dispatch outcomes per recipient.",
			},
			[]string{"participant_id", "outcome"},
		),
		webhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_webhook_latency_seconds",
				Help:    "Latency of webhook dispatch calls.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"participant_id"},
		),
		circuitState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_circuit_breaker_state",
				Help: "Circuit breaker state per recipient (0=closed, 1=half-open, 2=open).",
			},
			[]string{"participant_id"},
		),
		broadcastConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_broadcast_connections",
				Help: "Number of active live-broadcast WebSocket sessions.",
			},
			[]string{},
		),
		broadcastMessagesOut: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_broadcast_messages_total",
				Help: "Total number of outbound broadcast messages sent, by topic.",
			},
			[]string{"topic"},
		),
		actionsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_actions_processed_total",
				Help: "Total number of ingested participant actions, by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		heartbeatStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_heartbeat_status",
				Help: "Most recent tick heartbeat status (1=ok, 0=error).",
			},
			[]string{},
		),
		heartbeatTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_heartbeat_total",
				Help: "Total number of tick heartbeats emitted, by status.",
			},
			[]string{"status"},
		),
	}
}

// RecordTick records the wall-clock duration of one tick pipeline execution.
func (c *Collector) RecordTick(d time.Duration) {
	c.tickDuration.WithLabelValues().Observe(d.Seconds())
}

// RecordTrade records one printed trade for symbol.
func (c *Collector) RecordTrade(symbol string) {
	c.tradesTotal.WithLabelValues(symbol).Inc()
}

// RecordMatch records one order submission that produced at least one trade.
func (c *Collector) RecordMatch(symbol string) {
	c.matchesTotal.WithLabelValues(symbol).Inc()
}

// RecordOrderRejected records one rejected order submission.
func (c *Collector) RecordOrderRejected(symbol, reason string) {
	c.ordersRejected.WithLabelValues(symbol, reason).Inc()
}

// RecordWebhookOutcome records one webhook dispatch outcome ("success", "failure", "circuit_open").
func (c *Collector) RecordWebhookOutcome(participantID, outcome string, latency time.Duration) {
	c.webhookOutcomes.WithLabelValues(participantID, outcome).Inc()
	c.webhookLatency.WithLabelValues(participantID).Observe(latency.Seconds())
}

// RecordCircuitState sets the current numeric circuit breaker state for participantID.
func (c *Collector) RecordCircuitState(participantID string, state float64) {
	c.circuitState.WithLabelValues(participantID).Set(state)
}

// SetBroadcastConnections sets the current number of live WebSocket sessions.
func (c *Collector) SetBroadcastConnections(n int) {
	c.broadcastConnections.WithLabelValues().Set(float64(n))
}

// RecordBroadcastMessage records one outbound broadcast message on topic.
func (c *Collector) RecordBroadcastMessage(topic string) {
	c.broadcastMessagesOut.WithLabelValues(topic).Inc()
}

// RecordAction records one processed action of type with outcome ("applied", "rejected").
func (c *Collector) RecordAction(actionType, outcome string) {
	c.actionsProcessed.WithLabelValues(actionType, outcome).Inc()
}

// RecordHeartbeat records one tick heartbeat emission (spec §4.3 step 8, §7 item 5). status is
// "ok" or "error"; a fatal pipeline error that aborted a tick reports "error".
func (c *Collector) RecordHeartbeat(status string) {
	c.heartbeatTotal.WithLabelValues(status).Inc()
	v := 0.0
	if status == "ok" {
		v = 1.0
	}
	c.heartbeatStatus.WithLabelValues().Set(v)
}

// Uptime returns how long this collector (and by extension the process) has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.systemStartTime)
}
