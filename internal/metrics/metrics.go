// Package metrics exposes session counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parchis"

// Game end reasons.
const (
	EndWin     = "win"
	EndForfeit = "forfeit"
	EndStopped = "stopped"
)

// Metrics groups the collectors the session server updates. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Connections     prometheus.Gauge
	Authenticated   prometheus.Gauge
	GamesStarted    prometheus.Counter
	GamesFinished   *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	DroppedMessages prometheus.Counter
	Captures        prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open client connections.",
		}),
		Authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_authenticated",
			Help:      "Connections that completed login or resume.",
		}),
		GamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_started_total",
			Help:      "Games started.",
		}),
		GamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Games finished, by reason.",
		}, []string{"reason"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Client commands processed, by command and result code.",
		}, []string{"command", "result"}),
		DroppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Outbound messages dropped because a client mailbox was full.",
		}),
		Captures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Pieces sent back to base by capture.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Authenticated, m.GamesStarted, m.GamesFinished,
			m.Commands, m.DroppedMessages, m.Captures)
	}
	return m
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) SetAuthenticated(n int) {
	if m != nil {
		m.Authenticated.Set(float64(n))
	}
}

func (m *Metrics) GameStarted() {
	if m != nil {
		m.GamesStarted.Inc()
	}
}

func (m *Metrics) GameFinished(reason string) {
	if m != nil {
		m.GamesFinished.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Command(command, result string) {
	if m != nil {
		m.Commands.WithLabelValues(command, result).Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.DroppedMessages.Inc()
	}
}

func (m *Metrics) Captured() {
	if m != nil {
		m.Captures.Inc()
	}
}
