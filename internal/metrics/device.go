package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeviceSessionsConnected tracks how many device sessions currently hold
	// a live, subscribed connection.
	DeviceSessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farmgw_device_sessions_connected",
		Help: "Number of printer sessions currently connected",
	})

	// DeviceConnectTotal tracks connect attempt outcomes per serial.
	DeviceConnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_device_connect_total",
		Help: "Total device connect attempts by result",
	}, []string{"serial", "result"})

	// DeviceReportsTotal tracks processed telemetry reports per serial.
	DeviceReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_device_reports_total",
		Help: "Total telemetry reports by result",
	}, []string{"serial", "result"})

	// DevicePublishTotal tracks outbound publishes per serial.
	DevicePublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_device_publish_total",
		Help: "Total payload publishes by result",
	}, []string{"serial", "result"})

	// DeviceReconnectDelay observes the delay scheduled before reconnects.
	DeviceReconnectDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "farmgw_device_reconnect_delay_seconds",
		Help:    "Backoff delay scheduled before device reconnect attempts",
		Buckets: []float64{5, 10, 20, 40, 80, 120},
	})
)

// IncDeviceConnect records a connect attempt outcome.
func IncDeviceConnect(serial string, success bool) {
	DeviceConnectTotal.WithLabelValues(serial, result(success)).Inc()
}

// IncDeviceReport records a processed report outcome.
func IncDeviceReport(serial string, success bool) {
	DeviceReportsTotal.WithLabelValues(serial, result(success)).Inc()
}

// IncDevicePublish records an outbound publish outcome.
func IncDevicePublish(serial string, success bool) {
	DevicePublishTotal.WithLabelValues(serial, result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
