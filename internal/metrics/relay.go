package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayRegistrationsTotal tracks stream registrations against the relay API.
	RelayRegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_relay_registrations_total",
		Help: "Total relay stream registrations by result",
	}, []string{"result"})

	// RelayRestartsTotal tracks relay process restarts by cause.
	RelayRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_relay_restarts_total",
		Help: "Relay process restarts by cause (crash, escalation)",
	}, []string{"cause"})

	// RelayReady reflects whether the relay API currently answers.
	RelayReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farmgw_relay_ready",
		Help: "1 when the relay API is reachable, 0 otherwise",
	})
)

// IncRelayRegistration records a registration outcome.
func IncRelayRegistration(success bool) {
	RelayRegistrationsTotal.WithLabelValues(result(success)).Inc()
}
