// SPDX-License-Identifier: MIT

//go:build integration
// +build integration

package test

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/farmgw/internal/health"
	"github.com/ManuGH/farmgw/internal/model"
	"github.com/ManuGH/farmgw/test/helpers"
)

// printerView mirrors the /api/printers response shape.
type printerView struct {
	Serial    string `json:"serial"`
	Name      string `json:"name"`
	Model     string `json:"model"`
	Online    bool   `json:"online"`
	State     string `json:"state"`
	Progress  int    `json:"progress"`
	JobName   string `json:"job_name"`
	CameraURL string `json:"camera_url"`
}

func descriptor(serial, name, modelName string) model.PrinterDescriptor {
	return model.PrinterDescriptor{
		Serial:     serial,
		Name:       name,
		Model:      modelName,
		Host:       "10.0.40.21",
		AccessCode: "24681357",
	}
}

// TestFleetStatusOverHTTP walks a printer through the states the control
// plane drives it through and checks each one through the public API.
func TestFleetStatusOverHTTP(t *testing.T) {
	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{})
	defer gw.Close()

	gw.Registry.SetBaseURL("https://gw.example.net")
	gw.Registry.Upsert(descriptor("SER-A", "left", "P1S"))
	gw.Registry.Upsert(descriptor("SER-H2", "right", "H2D"))

	var printers []printerView
	resp := helpers.GetJSON(t, gw.Server.URL, "/api/printers", &printers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, printers, 2, "both printers should be listed")

	// Ordered by serial, nothing connected yet.
	assert.Equal(t, "SER-A", printers[0].Serial)
	assert.False(t, printers[0].Online)
	assert.Equal(t, "unknown", printers[0].State)
	assert.Equal(t, "https://gw.example.net/stream/SER-A", printers[0].CameraURL,
		"single-nozzle printers stream directly off this gateway")

	assert.Equal(t, "SER-H2", printers[1].Serial)
	assert.Equal(t, "https://gw.example.net/api/stream.mjpeg?src=SER-H2", printers[1].CameraURL,
		"dual-nozzle printers stream through the relay proxy")

	// Device session comes up and telemetry arrives.
	gw.Registry.SetOnline("SER-A", true)
	gw.Registry.SetSnapshot("SER-A", model.TelemetrySnapshot{
		State:    model.StateRunning,
		Progress: 42,
		JobName:  "benchy.3mf",
	})

	printers = nil
	helpers.GetJSON(t, gw.Server.URL, "/api/printers", &printers)
	require.Len(t, printers, 2)
	assert.True(t, printers[0].Online)
	assert.Equal(t, "running", printers[0].State)
	assert.Equal(t, 42, printers[0].Progress)
	assert.Equal(t, "benchy.3mf", printers[0].JobName)

	// The roster shrinks when the control plane removes a printer.
	gw.Registry.Remove("SER-A")

	printers = nil
	helpers.GetJSON(t, gw.Server.URL, "/api/printers", &printers)
	require.Len(t, printers, 1)
	assert.Equal(t, "SER-H2", printers[0].Serial)
}

// TestPrintersResponseNeverLeaksAccessCode guards the one hard rule of
// the local API: device credentials stay inside the gateway.
func TestPrintersResponseNeverLeaksAccessCode(t *testing.T) {
	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{})
	defer gw.Close()

	gw.Registry.Upsert(descriptor("SER-A", "left", "P1S"))

	resp := helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/api/printers"})
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "24681357")
	assert.NotContains(t, string(body), "access_code")
}

// TestCameraFrameAndStreamServing publishes frames into a hub and reads
// them back over both camera endpoints.
func TestCameraFrameAndStreamServing(t *testing.T) {
	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{})
	defer gw.Close()

	gw.Registry.Upsert(descriptor("SER-A", "left", "P1S"))
	hub := gw.Hubs.Add("SER-A")

	// No frame captured yet.
	resp := helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/frame/SER-A"})
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	frame1 := []byte("\xff\xd8frame-one\xff\xd9")
	hub.Publish(frame1)

	resp = helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/frame/SER-A"})
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, frame1, body)

	// The MJPEG stream replays the cached frame first. Keep publishing in
	// the background so part boundaries keep arriving while we read.
	streamCtx, stopStream := context.WithCancel(context.Background())
	defer stopStream()

	go func() {
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for i := 2; ; i++ {
			select {
			case <-streamCtx.Done():
				return
			case <-ticker.C:
				hub.Publish([]byte(fmt.Sprintf("\xff\xd8frame-%d\xff\xd9", i)))
			}
		}
	}()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, gw.Server.URL+"/stream/SER-A", nil)
	require.NoError(t, err)
	streamResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer streamResp.Body.Close()

	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	mediaType := streamResp.Header.Get("Content-Type")
	require.True(t, strings.HasPrefix(mediaType, "multipart/x-mixed-replace"), "unexpected content type %q", mediaType)

	mr := multipart.NewReader(streamResp.Body, "frame")
	part, err := mr.NextPart()
	require.NoError(t, err, "first stream part should arrive")
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

	size, err := strconv.Atoi(part.Header.Get("Content-Length"))
	require.NoError(t, err, "stream parts carry an explicit length")
	buf := make([]byte, size)
	_, err = io.ReadFull(part, buf)
	require.NoError(t, err)
	assert.Equal(t, frame1, buf, "cached frame goes out before live ones")

	// At least one live frame follows.
	part, err = mr.NextPart()
	require.NoError(t, err, "live stream part should arrive")
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
}

// TestStreamUnknownSerial covers the camera endpoints' shared 404 path.
func TestStreamUnknownSerial(t *testing.T) {
	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{})
	defer gw.Close()

	for _, path := range []string{"/stream/NOPE", "/frame/NOPE"} {
		resp := helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: path})
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "path %s", path)
	}
}

// TestViewerPageListsCameras renders the no-script viewer in both modes.
func TestViewerPageListsCameras(t *testing.T) {
	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{})
	defer gw.Close()

	gw.Registry.Upsert(descriptor("SER-A", "left", "P1S"))
	gw.Registry.Upsert(descriptor("SER-H2", "right", "H2D"))

	resp := helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/stream.html"})
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	index := string(body)
	assert.Contains(t, index, "/stream/SER-A")
	assert.Contains(t, index, "/api/stream.mjpeg?src=SER-H2")

	resp = helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/stream.html?src=SER-A"})
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/stream/SER-A")

	resp = helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/stream.html?src=NOPE"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestRelayProxyPassThrough serves a relay stub behind the gateway's
// catch-all and checks requests arrive unmodified.
func TestRelayProxyPassThrough(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotQuery string
	)
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"producers":[]}`)
	}))
	defer stub.Close()

	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{RelayURL: stub.URL})
	defer gw.Close()

	resp := helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/api/streams?src=SER-H2"})
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"producers":[]}`, string(body))
	mu.Lock()
	assert.Equal(t, "/api/streams", gotPath)
	assert.Equal(t, "src=SER-H2", gotQuery)
	mu.Unlock()

	// Local routes still win over the catch-all.
	resp = helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/api/printers"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mu.Lock()
	assert.Equal(t, "/api/streams", gotPath, "local API routes must not reach the relay")
	mu.Unlock()
}

// TestRelayProxyDownstreamDown maps a dead relay to 502, not a hung request.
func TestRelayProxyDownstreamDown(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	stub.Close() // nothing listens anymore

	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{RelayURL: stub.URL})
	defer gw.Close()

	resp := helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/api/streams"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

// TestRelayWebSocketBridge runs a message round trip through the
// gateway's WebSocket bridge into a relay stub.
func TestRelayWebSocketBridge(t *testing.T) {
	upgrader := websocket.Upgrader{}
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	defer stub.Close()

	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{RelayURL: stub.URL})
	defer gw.Close()

	wsURL := "ws" + strings.TrimPrefix(gw.Server.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "dial through the gateway bridge")
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mjpeg"}`)))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.JSONEq(t, `{"type":"mjpeg"}`, string(msg))
}

// TestReadinessReflectsFleetAndChannels drives the checker states the
// daemon wires and checks the probe responses.
func TestReadinessReflectsFleetAndChannels(t *testing.T) {
	var cloudUp atomic.Bool
	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{
		Checkers: []health.Checker{
			health.NewChannelChecker("cloud", cloudUp.Load),
		},
	})
	defer gw.Close()

	// Liveness is unconditional.
	resp := helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/healthz"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Disconnected channel and empty fleet: degraded but still ready.
	var ready health.ReadinessResponse
	resp = helpers.GetJSON(t, gw.Server.URL, "/readyz", &ready)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, ready.Ready)
	assert.Equal(t, health.StatusDegraded, ready.Status)
	assert.Equal(t, health.StatusDegraded, ready.Checks["cloud"].Status)
	assert.Equal(t, health.StatusHealthy, ready.Checks["fleet"].Status)

	// Channel recovers, half the fleet connects.
	cloudUp.Store(true)
	gw.Registry.Upsert(descriptor("SER-A", "left", "P1S"))
	gw.Registry.Upsert(descriptor("SER-B", "right", "P1S"))
	gw.Registry.SetOnline("SER-A", true)

	ready = health.ReadinessResponse{}
	resp = helpers.GetJSON(t, gw.Server.URL, "/readyz", &ready)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, ready.Ready)
	assert.Equal(t, health.StatusHealthy, ready.Checks["cloud"].Status)
	assert.Equal(t, health.StatusDegraded, ready.Checks["fleet"].Status)
	assert.Contains(t, ready.Checks["fleet"].Message, "1 of 2")

	// Full fleet online: healthy across the board.
	gw.Registry.SetOnline("SER-B", true)

	ready = health.ReadinessResponse{}
	helpers.GetJSON(t, gw.Server.URL, "/readyz", &ready)
	assert.Equal(t, health.StatusHealthy, ready.Status)
}

// TestMetricsExposeGatewayTraffic checks request accounting shows up on
// the Prometheus endpoint after serving traffic.
func TestMetricsExposeGatewayTraffic(t *testing.T) {
	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{})
	defer gw.Close()

	resp := helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/api/printers"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{Path: "/metrics"})
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	metricsText := string(body)
	assert.Contains(t, metricsText, "farmgw_gateway_requests_total")
	assert.Contains(t, metricsText, "farmgw_cloud_connected")
}
