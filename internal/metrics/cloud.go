package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CloudConnected reflects the control-plane channel state.
	CloudConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farmgw_cloud_connected",
		Help: "1 when the control-plane channel is connected, 0 otherwise",
	})

	// CloudCommandsTotal tracks inbound control-plane events by type and result.
	CloudCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_cloud_commands_total",
		Help: "Inbound control-plane events by type and result",
	}, []string{"type", "result"})

	// CloudStatusTotal tracks outbound status publications.
	CloudStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_cloud_status_total",
		Help: "Outbound status publications by result",
	}, []string{"result"})
)

// IncCloudCommand records an inbound control-plane event outcome.
func IncCloudCommand(eventType string, success bool) {
	CloudCommandsTotal.WithLabelValues(eventType, result(success)).Inc()
}

// IncCloudStatus records an outbound status publication outcome.
func IncCloudStatus(success bool) {
	CloudStatusTotal.WithLabelValues(result(success)).Inc()
}
