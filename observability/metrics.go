package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics wraps the collectors tracking vault engine operations.
type EngineMetrics struct {
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	failures     *prometheus.CounterVec
	liquidations *prometheus.CounterVec
}

// OracleMetrics wraps the collectors tracking oracle feed health.
type OracleMetrics struct {
	samples      *prometheus.CounterVec
	sourceErrors *prometheus.CounterVec
	feedPrice    *prometheus.GaugeVec
	feedHealthy  *prometheus.GaugeVec
}

// RPCMetrics wraps the collectors tracking the JSON-RPC surface.
type RPCMetrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	throttles   *prometheus.CounterVec
	subscribers prometheus.Gauge
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *RPCMetrics
)

// Engine returns the lazily-initialised metrics registry for engine
// operations.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vault",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "engine",
				Name:      "failures_total",
				Help:      "Count of engine operation failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Count of applied liquidations segmented by seized collateral asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			engineRegistry.requests,
			engineRegistry.latency,
			engineRegistry.failures,
			engineRegistry.liquidations,
		)
	})
	return engineRegistry
}

// Observe records one engine operation. The reason must be a stable,
// low-cardinality label; an empty reason marks success.
func (m *EngineMetrics) Observe(operation string, duration time.Duration, reason string) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if reason != "" {
		outcome = "error"
		m.failures.WithLabelValues(op, reason).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordLiquidation counts an applied liquidation against the seized asset.
func (m *EngineMetrics) RecordLiquidation(asset string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(labelAsset(asset)).Inc()
}

// Oracle returns the lazily-initialised metrics registry for oracle feeds.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			samples: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "oracle",
				Name:      "samples_total",
				Help:      "Count of accepted oracle samples segmented by asset and source.",
			}, []string{"asset", "source"}),
			sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "oracle",
				Name:      "source_errors_total",
				Help:      "Count of upstream source failures segmented by source.",
			}, []string{"source"}),
			feedPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "oracle",
				Name:      "feed_price",
				Help:      "Latest published price per asset in 1e18 USD units.",
			}, []string{"asset"}),
			feedHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "oracle",
				Name:      "feed_healthy",
				Help:      "Whether the last poll produced a publishable median (1) or not (0).",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			oracleRegistry.samples,
			oracleRegistry.sourceErrors,
			oracleRegistry.feedPrice,
			oracleRegistry.feedHealthy,
		)
	})
	return oracleRegistry
}

// ObserveSample counts an accepted sample for the asset from the source.
func (m *OracleMetrics) ObserveSample(asset, source string) {
	if m == nil {
		return
	}
	if source = strings.TrimSpace(source); source == "" {
		source = "unknown"
	}
	m.samples.WithLabelValues(labelAsset(asset), source).Inc()
}

// ObserveSourceError counts a failed upstream fetch.
func (m *OracleMetrics) ObserveSourceError(source string) {
	if m == nil {
		return
	}
	if source = strings.TrimSpace(source); source == "" {
		source = "unknown"
	}
	m.sourceErrors.WithLabelValues(source).Inc()
}

// SetFeedPrice publishes the latest 1e18-scaled price for dashboards.
func (m *OracleMetrics) SetFeedPrice(asset string, price *big.Int) {
	if m == nil {
		return
	}
	m.feedPrice.WithLabelValues(labelAsset(asset)).Set(bigToFloat(price))
}

// SetFeedHealthy flags whether the asset's feed produced a usable median.
func (m *OracleMetrics) SetFeedHealthy(asset string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.feedHealthy.WithLabelValues(labelAsset(asset)).Set(value)
}

// RPC returns the lazily-initialised metrics registry for the JSON-RPC
// server.
func RPC() *RPCMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Count of JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vault",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"reason"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "rpc",
				Name:      "event_subscribers",
				Help:      "Number of connected websocket event subscribers.",
			}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.latency,
			rpcRegistry.throttles,
			rpcRegistry.subscribers,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of one JSON-RPC request.
func (m *RPCMetrics) Observe(method string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	if method = strings.TrimSpace(method); method == "" {
		method = "unknown"
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle counts a throttled request. Reasons should be stable strings
// such as "rate_limit".
func (m *RPCMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// SetEventSubscribers publishes the current websocket subscriber count.
func (m *RPCMetrics) SetEventSubscribers(count int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(count))
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
