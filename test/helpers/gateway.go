// SPDX-License-Identifier: MIT

// Package helpers provides common test utilities for the integration
// suite: an in-process gateway mounted on an httptest server, plus
// request helpers.
package helpers

import (
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/farmgw/internal/camera"
	"github.com/ManuGH/farmgw/internal/health"
	"github.com/ManuGH/farmgw/internal/mediagw"
	"github.com/ManuGH/farmgw/internal/registry"
)

// HubSet is a FrameSource backed by a plain map. Tests publish frames
// straight into the hubs instead of running camera sessions.
type HubSet struct {
	mu   sync.Mutex
	hubs map[string]*camera.Hub
}

// NewHubSet creates an empty hub set.
func NewHubSet() *HubSet {
	return &HubSet{hubs: make(map[string]*camera.Hub)}
}

// Add creates and returns the hub for a serial.
func (s *HubSet) Add(serial string) *camera.Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	hub := camera.NewHub(serial)
	s.hubs[serial] = hub
	return hub
}

// Hub implements mediagw.FrameSource.
func (s *HubSet) Hub(serial string) (*camera.Hub, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hub, ok := s.hubs[serial]
	return hub, ok
}

// GatewayOptions configures the test gateway setup.
type GatewayOptions struct {
	// RelayURL enables the catch-all relay proxy against the given base.
	RelayURL string

	// Checkers are registered on the health manager in addition to the
	// fleet checker, which is always present.
	Checkers []health.Checker
}

// TestGateway wraps a media gateway mounted on an httptest server.
type TestGateway struct {
	Server   *httptest.Server
	Registry *registry.Registry
	Hubs     *HubSet
	Health   *health.Manager
}

// Close shuts the test server down.
func (g *TestGateway) Close() {
	if g.Server != nil {
		g.Server.Close()
	}
}

// NewTestGateway builds a gateway over a fresh registry and hub set and
// serves it from an httptest server.
//
// Usage:
//
//	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{})
//	defer gw.Close()
func NewTestGateway(t *testing.T, opts GatewayOptions) *TestGateway {
	t.Helper()

	reg := registry.New()
	hubs := NewHubSet()

	hm := health.NewManager("test")
	hm.RegisterChecker(health.NewFleetChecker(reg.Counts))
	for _, c := range opts.Checkers {
		hm.RegisterChecker(c)
	}

	srv, err := mediagw.New(mediagw.Config{
		ListenAddr: ":0",
		Registry:   reg,
		Cameras:    hubs,
		RelayURL:   opts.RelayURL,
		Health:     hm,
	})
	require.NoError(t, err, "failed to build media gateway")

	return &TestGateway{
		Server:   httptest.NewServer(srv.Handler()),
		Registry: reg,
		Hubs:     hubs,
		Health:   hm,
	}
}
