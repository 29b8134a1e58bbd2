// Package metrics exposes the gateway's Prometheus instrumentation.
// The teacher repo split this across five files (Metrics,
// EnhancedMetrics, SimpleMetrics, ConnectionTracker, a separate
// interface file) that mostly duplicated the same counters under
// different names; this consolidates them into the one set of
// gauges/counters/histograms the pipeline in spec §2 actually needs,
// one per pipeline stage (C2 upstream, the bus, C3 enrichment, C4
// filter, C5 dispatch).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram the gateway records.
type Metrics struct {
	// Upstream session (C2).
	upstreamConnected      prometheus.Gauge
	upstreamReconnects     prometheus.Counter
	upstreamTokensReceived prometheus.Counter
	upstreamQueueDepth     prometheus.Gauge
	upstreamQueueDropped   prometheus.Counter

	// Bus (C2 -> C3 -> C5).
	busConnected  prometheus.Gauge
	busReconnects prometheus.Counter
	busMessages   *prometheus.CounterVec
	busLatency    prometheus.Histogram

	// Enrichment engine (C3).
	enrichmentLatency  prometheus.Histogram
	enrichmentErrors   *prometheus.CounterVec
	fallbackOutcomes   *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	endpointRateDelays prometheus.Counter

	// Filter evaluator (C4).
	tokensFiltered *prometheus.CounterVec
	tokensAdmitted prometheus.Counter

	// Dispatch hub (C5).
	subscribersTotal    prometheus.Counter
	subscribersActive   prometheus.Gauge
	subscriberAuthFails prometheus.Counter
	tokensSent          prometheus.Counter
	commandsHandled     *prometheus.CounterVec

	// Cross-cutting.
	errorsTotal   prometheus.Counter
	errorsByType  *prometheus.CounterVec
	lastErrorTime prometheus.Gauge

	goroutinesCount prometheus.Gauge
	memoryUsage     prometheus.Gauge
	cpuUsage        prometheus.Gauge

	startTime time.Time
	mu        sync.RWMutex
}

// New builds and registers every metric with the default registry.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		upstreamConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_upstream_connected",
			Help: "Whether the upstream session is currently connected (1) or not (0)",
		}),
		upstreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_upstream_reconnects_total",
			Help: "Total upstream session reconnect attempts",
		}),
		upstreamTokensReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_upstream_tokens_received_total",
			Help: "Total raw token events received from upstream",
		}),
		upstreamQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_upstream_queue_depth",
			Help: "Current depth of the upstream session's bounded queue",
		}),
		upstreamQueueDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_upstream_queue_dropped_total",
			Help: "Total raw tokens dropped because the upstream queue was full",
		}),

		busConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_bus_connected",
			Help: "Whether the internal message bus connection is up",
		}),
		busReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_bus_reconnects_total",
			Help: "Total bus reconnects",
		}),
		busMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_bus_messages_total",
			Help: "Total bus messages by subject",
		}, []string{"subject"}),
		busLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_bus_latency_seconds",
			Help:    "Bus publish/handler latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		enrichmentLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_enrichment_latency_seconds",
			Help:    "End-to-end enrichment latency per token",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}),
		enrichmentErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_enrichment_errors_total",
			Help: "Enrichment sub-task failures by stage",
		}, []string{"stage"}),
		fallbackOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_fallback_outcomes_total",
			Help: "Multi-endpoint fallback outcomes by endpoint family and result",
		}, []string{"family", "outcome"}),
		cacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Cache hits by cache name",
		}, []string{"cache"}),
		cacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Cache misses by cache name",
		}, []string{"cache"}),
		endpointRateDelays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_endpoint_rate_delays_total",
			Help: "Total requests delayed waiting on a per-endpoint rate limiter",
		}),

		tokensFiltered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_filtered_total",
			Help: "Tokens rejected by the filter evaluator by reason",
		}, []string{"reason"}),
		tokensAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_tokens_admitted_total",
			Help: "Tokens that passed the filter evaluator for at least one subscriber",
		}),

		subscribersTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_subscribers_connected_total",
			Help: "Total subscriber WebSocket connections accepted",
		}),
		subscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_subscribers_active",
			Help: "Currently active subscriber connections",
		}),
		subscriberAuthFails: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_subscriber_auth_failures_total",
			Help: "Subscriber handshake/auth failures",
		}),
		tokensSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_tokens_sent_total",
			Help: "Total enriched token frames sent to subscribers",
		}),
		commandsHandled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_commands_handled_total",
			Help: "Subscriber commands handled by command name",
		}, []string{"command"}),

		errorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Total errors across the gateway",
		}),
		errorsByType: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_errors_by_type_total",
			Help: "Total errors by type",
		}, []string{"type"}),
		lastErrorTime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_last_error_timestamp",
			Help: "Unix timestamp of the last recorded error",
		}),

		goroutinesCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_goroutines",
			Help: "Number of goroutines",
		}),
		memoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_memory_usage_bytes",
			Help: "Resident memory usage in bytes",
		}),
		cpuUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_cpu_usage_percent",
			Help: "Process CPU usage percentage",
		}),
	}
}

func (m *Metrics) SetUpstreamConnected(connected bool) {
	if connected {
		m.upstreamConnected.Set(1)
	} else {
		m.upstreamConnected.Set(0)
	}
}

func (m *Metrics) IncUpstreamReconnects()     { m.upstreamReconnects.Inc() }
func (m *Metrics) IncUpstreamTokensReceived() { m.upstreamTokensReceived.Inc() }
func (m *Metrics) SetUpstreamQueueDepth(n int) { m.upstreamQueueDepth.Set(float64(n)) }
func (m *Metrics) IncUpstreamQueueDropped()   { m.upstreamQueueDropped.Inc() }

func (m *Metrics) SetBusConnected(connected bool) {
	if connected {
		m.busConnected.Set(1)
	} else {
		m.busConnected.Set(0)
	}
}
func (m *Metrics) IncBusReconnects()               { m.busReconnects.Inc() }
func (m *Metrics) IncBusMessage(subject string)    { m.busMessages.WithLabelValues(subject).Inc() }
func (m *Metrics) ObserveBusLatency(d time.Duration) { m.busLatency.Observe(d.Seconds()) }

func (m *Metrics) ObserveEnrichmentLatency(d time.Duration) { m.enrichmentLatency.Observe(d.Seconds()) }
func (m *Metrics) IncEnrichmentError(stage string)          { m.enrichmentErrors.WithLabelValues(stage).Inc() }
func (m *Metrics) IncFallbackOutcome(family, outcome string) {
	m.fallbackOutcomes.WithLabelValues(family, outcome).Inc()
}
func (m *Metrics) IncCacheHit(cache string)   { m.cacheHits.WithLabelValues(cache).Inc() }
func (m *Metrics) IncCacheMiss(cache string)  { m.cacheMisses.WithLabelValues(cache).Inc() }
func (m *Metrics) IncEndpointRateDelay()      { m.endpointRateDelays.Inc() }

func (m *Metrics) IncTokensFiltered(reason string) { m.tokensFiltered.WithLabelValues(reason).Inc() }
func (m *Metrics) IncTokensAdmitted()              { m.tokensAdmitted.Inc() }

func (m *Metrics) IncSubscribersTotal() {
	m.subscribersTotal.Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribersActive.Inc()
}
func (m *Metrics) DecSubscribersActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribersActive.Dec()
}
func (m *Metrics) IncSubscriberAuthFails()      { m.subscriberAuthFails.Inc() }
func (m *Metrics) IncTokensSent()               { m.tokensSent.Inc() }
func (m *Metrics) IncCommand(command string)    { m.commandsHandled.WithLabelValues(command).Inc() }

func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.Inc()
	m.errorsByType.WithLabelValues(errorType).Inc()
	m.lastErrorTime.SetToCurrentTime()
}

func (m *Metrics) UpdateGoroutinesCount(count int)  { m.goroutinesCount.Set(float64(count)) }
func (m *Metrics) UpdateMemoryUsage(bytes uint64)   { m.memoryUsage.Set(float64(bytes)) }
func (m *Metrics) UpdateCPUUsage(percent float64)   { m.cpuUsage.Set(percent) }

func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }
