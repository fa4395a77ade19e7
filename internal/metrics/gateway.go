package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayRequestsTotal tracks media gateway requests by route and code.
	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_gateway_requests_total",
		Help: "Media gateway HTTP requests by route and status code",
	}, []string{"route", "code"})

	// GatewayStreamDuration observes how long MJPEG viewers stay attached.
	GatewayStreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "farmgw_gateway_stream_duration_seconds",
		Help:    "Duration MJPEG viewers stay attached",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})

	// GatewayProxyErrors counts relay proxy failures.
	GatewayProxyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farmgw_gateway_proxy_errors_total",
		Help: "Requests the relay reverse proxy could not serve",
	})
)

// ObserveStreamDuration records one finished viewer attachment.
func ObserveStreamDuration(d time.Duration) {
	GatewayStreamDuration.Observe(d.Seconds())
}
