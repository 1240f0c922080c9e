package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsTotal          = promauto.NewCounter(prometheus.CounterOpts{Name: "dialout_sessions_total", Help: "Sessions formed by pairing a client with an agent"})
	ActiveSessions         = promauto.NewGauge(prometheus.GaugeOpts{Name: "dialout_active_sessions", Help: "Sessions currently forwarding"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "dialout_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
	SessionEndTotal        = promauto.NewCounterVec(prometheus.CounterOpts{Name: "dialout_session_end_total", Help: "Sessions ended by reason"}, []string{"reason"})
	BytesForwardedTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "dialout_bytes_forwarded_total", Help: "Bytes forwarded by direction"}, []string{"direction"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "dialout_errors_total", Help: "Errors by type"}, []string{"type"})
	RejectedClientsTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "dialout_rejected_clients_total", Help: "Client connections closed by the accept rate limiter"})

	AgentDialFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "dialout_agent_dial_failures_total", Help: "Agent dial failures by target"}, []string{"target"})
	AgentCyclesTotal       = promauto.NewCounter(prometheus.CounterOpts{Name: "dialout_agent_cycles_total", Help: "Completed agent tunnel cycles"})
	ChunkSizeBytes         = promauto.NewGauge(prometheus.GaugeOpts{Name: "dialout_chunk_size_bytes", Help: "Forwarding chunk size currently selected by the tuner"})
	ProbeThroughputBytes   = promauto.NewGauge(prometheus.GaugeOpts{Name: "dialout_probe_throughput_bytes_per_second", Help: "Throughput measured by the last successful probe"})
)
