// Package metrics holds the process-wide Prometheus collectors for the
// supervisor. Each subsystem gets its own small set of counters/gauges,
// mirroring the way the teacher's cache and queue packages each carried
// their own promauto-registered metrics rather than one monolithic
// registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Discovery / manager
	DiscoveryCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_discovery_cycles_total",
		Help: "Total number of discovery cycles run.",
	})
	DiscoveryCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wa_discovery_cycle_duration_seconds",
		Help:    "Duration of each discovery cycle.",
		Buckets: prometheus.DefBuckets,
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_active_sessions",
		Help: "Number of sessions this process currently governs.",
	})
	DesiredSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_desired_sessions",
		Help: "Number of sessions targeted by the last discovery cycle.",
	})

	// Lock coordinator
	LockAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_lock_acquire_total",
		Help: "Lock acquire attempts by outcome.",
	}, []string{"outcome"})
	LockRenewTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_lock_renew_total",
		Help: "Lock renewal attempts by outcome.",
	}, []string{"outcome"})
	LocksHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_locks_held",
		Help: "Number of session locks currently held by this process.",
	})

	// Connection runner
	ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wa_session_connection_state",
		Help: "1 if the session is currently in the given state, else 0.",
	}, []string{"session_id", "state"})
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_reconnect_attempts_total",
		Help: "Reconnect attempts by session.",
	}, []string{"session_id"})
	BadMacEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_bad_mac_events_total",
		Help: "Cryptographic session-corruption signals observed per session.",
	}, []string{"session_id"})
	BadMacBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_bad_mac_breaker_trips_total",
		Help: "Times the bad-MAC circuit breaker tripped and wiped auth.",
	}, []string{"session_id"})
	AuthWipes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_auth_wipes_total",
		Help: "Auth directory wipes by trigger.",
	}, []string{"session_id", "trigger"})

	// Outbound queue
	OutboundQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wa_outbound_queue_length",
		Help: "Queued outbound messages observed on the last tick.",
	}, []string{"session_id"})
	OutboundProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_outbound_processed_total",
		Help: "Outbound messages processed by outcome.",
	}, []string{"session_id", "outcome"})
	OutboundSendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wa_outbound_send_latency_seconds",
		Help:    "Time spent sending a single outbound message, including retries.",
		Buckets: prometheus.DefBuckets,
	})
	OutboundRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_outbound_session_refresh_total",
		Help: "Session-refresh calls triggered by send-recovery retries.",
	}, []string{"session_id"})

	// Inbound relay
	InboundProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_inbound_processed_total",
		Help: "Inbound messages processed by outcome.",
	}, []string{"outcome"})
	ContactCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_contact_cache_hits_total",
		Help: "Contact identity cache hits.",
	})
	ContactCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_contact_cache_misses_total",
		Help: "Contact identity cache misses.",
	})
	ContactCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_contact_cache_size",
		Help: "Current number of entries in the contact identity cache.",
	})

	// Edge client
	EdgeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wa_edge_request_duration_seconds",
		Help:    "Control-plane HTTP request duration by operation and outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
)
