// Package metrics exports Prometheus metrics for the environment adapter:
// episode and step counters, reward distributions, and simulator process
// lifecycle events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// EnvMetrics holds the adapter's Prometheus collectors on a dedicated
// registry so a hosting program's default registry stays untouched.
type EnvMetrics struct {
	registry *prometheus.Registry

	EpisodesStarted  prometheus.Counter
	EpisodesFinished *prometheus.CounterVec // label: outcome (goal, collision, timeout)
	StepsTotal       prometheus.Counter
	StepErrors       prometheus.Counter
	EpisodeReward    prometheus.Histogram
	EpisodeLength    prometheus.Histogram
	ServerSpawns     prometheus.Counter
	ConnectAttempts  prometheus.Counter
	ConnectFailures  prometheus.Counter
}

// New creates and registers the adapter's collectors
func New() *EnvMetrics {
	m := &EnvMetrics{
		registry: prometheus.NewRegistry(),
		EpisodesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carla_env_episodes_started_total",
			Help: "Episodes started via Reset",
		}),
		EpisodesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carla_env_episodes_finished_total",
			Help: "Episodes finished, by terminal outcome",
		}, []string{"outcome"}),
		StepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carla_env_steps_total",
			Help: "Environment steps executed",
		}),
		StepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carla_env_step_errors_total",
			Help: "Steps that failed with a client error",
		}),
		EpisodeReward: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carla_env_episode_reward",
			Help:    "Total reward accumulated per episode",
			Buckets: prometheus.LinearBuckets(-200, 50, 12),
		}),
		EpisodeLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carla_env_episode_length_steps",
			Help:    "Steps per finished episode",
			Buckets: prometheus.ExponentialBuckets(10, 2, 9),
		}),
		ServerSpawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carla_env_server_spawns_total",
			Help: "Simulator server processes spawned",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carla_env_connect_attempts_total",
			Help: "Simulator connection attempts",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carla_env_connect_failures_total",
			Help: "Failed simulator connection attempts",
		}),
	}

	m.registry.MustRegister(
		m.EpisodesStarted,
		m.EpisodesFinished,
		m.StepsTotal,
		m.StepErrors,
		m.EpisodeReward,
		m.EpisodeLength,
		m.ServerSpawns,
		m.ConnectAttempts,
		m.ConnectFailures,
	)
	return m
}

// ServeHTTP serves the collectors in the Prometheus text exposition format
func (m *EnvMetrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	families, err := m.registry.Gather()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	encoder := expfmt.NewEncoder(w, format)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return
		}
	}
}
