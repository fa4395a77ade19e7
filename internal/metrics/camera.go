package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CameraStreamsActive tracks camera sockets currently delivering frames.
	CameraStreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farmgw_camera_streams_active",
		Help: "Number of camera streams currently connected",
	})

	// CameraFramesTotal counts JPEG frames extracted per serial.
	CameraFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_camera_frames_total",
		Help: "Total JPEG frames extracted from device camera sockets",
	}, []string{"serial"})

	// CameraFrameBytes observes extracted frame sizes.
	CameraFrameBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "farmgw_camera_frame_bytes",
		Help:    "Size distribution of extracted JPEG frames",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})

	// CameraWatchdogResets counts forced reconnects by trigger.
	CameraWatchdogResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgw_camera_watchdog_resets_total",
		Help: "Camera connections torn down by the staleness watchdog",
	}, []string{"serial", "trigger"})

	// CameraViewers tracks attached MJPEG viewers.
	CameraViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farmgw_camera_viewers",
		Help: "Number of attached MJPEG viewers across all streams",
	})
)

// IncCameraFrame records one extracted frame and its size.
func IncCameraFrame(serial string, size int) {
	CameraFramesTotal.WithLabelValues(serial).Inc()
	CameraFrameBytes.Observe(float64(size))
}

// IncWatchdogReset records a forced camera reconnect.
func IncWatchdogReset(serial, trigger string) {
	CameraWatchdogResets.WithLabelValues(serial, trigger).Inc()
}
