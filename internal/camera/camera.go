// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package camera pulls JPEG frames straight off the printers' TLS camera
// port and fans them out to viewers. Models whose feed only exists as RTSP
// are not handled here; those go through the relay.
package camera

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/farmgw/internal/backoff"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/model"
)

// Config wires a Manager. Zero fields fall back to production defaults.
type Config struct {
	// Reconnect paces camera reconnects. Zero value means the camera
	// stream policy (5s growing 1.5x, capped at 30s).
	Reconnect backoff.Policy

	// Port is the device camera TLS port. Zero means 6000.
	Port int

	// Clock feeds the watchdog. Zero means time.Now.
	Clock func() time.Time

	// NewDialer builds the transport per device. Tests inject pipe
	// dialers; zero means TLS against host:port.
	NewDialer func(host, port string) DialFunc
}

// Manager owns one client and one hub per direct-stream printer.
type Manager struct {
	policy    backoff.Policy
	port      string
	clock     func() time.Time
	newDialer func(host, port string) DialFunc
	logger    zerolog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	hubs    map[string]*Hub
	descs   map[string]model.PrinterDescriptor
	closed  bool
}

// NewManager returns a manager with no streams.
func NewManager(cfg Config) *Manager {
	if cfg.Reconnect == (backoff.Policy{}) {
		cfg.Reconnect = backoff.CameraStream
	}
	if cfg.Port == 0 {
		cfg.Port = 6000
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewDialer == nil {
		cfg.NewDialer = tlsDialer
	}
	return &Manager{
		policy:    cfg.Reconnect,
		port:      strconv.Itoa(cfg.Port),
		clock:     cfg.Clock,
		newDialer: cfg.NewDialer,
		logger:    log.WithComponent("camera"),
		clients:   make(map[string]*Client),
		hubs:      make(map[string]*Hub),
		descs:     make(map[string]model.PrinterDescriptor),
	}
}

// Add starts (or re-targets) the stream for a descriptor. Models served
// through the relay and descriptors without host or access code are
// ignored here.
func (m *Manager) Add(desc model.PrinterDescriptor) {
	if !desc.Connectable() || model.Classify(desc.Model).DualNozzle() {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	prev, known := m.descs[desc.Serial]
	if known && prev.Host == desc.Host && prev.AccessCode == desc.AccessCode {
		m.mu.Unlock()
		return
	}
	m.descs[desc.Serial] = desc

	old := m.clients[desc.Serial]
	hub, ok := m.hubs[desc.Serial]
	if !ok {
		hub = NewHub(desc.Serial)
		m.hubs[desc.Serial] = hub
	}
	c := newClient(desc.Serial, desc.AccessCode, hub, m.policy, m.newDialer(desc.Host, m.port), m.clock)
	m.clients[desc.Serial] = c
	m.mu.Unlock()

	if old != nil {
		old.stop()
	}
	c.start()
}

// Remove stops the serial's stream and closes its hub; attached viewers
// see their channels close.
func (m *Manager) Remove(serial string) {
	m.mu.Lock()
	c := m.clients[serial]
	hub := m.hubs[serial]
	delete(m.clients, serial)
	delete(m.hubs, serial)
	delete(m.descs, serial)
	m.mu.Unlock()

	if c != nil {
		c.stop()
	}
	if hub != nil {
		hub.Close()
	}
}

// Hub returns the serial's frame hub for viewer attachment.
func (m *Manager) Hub(serial string) (*Hub, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hub, ok := m.hubs[serial]
	return hub, ok
}

// Shutdown stops every stream and closes every hub.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	clients := m.clients
	hubs := m.hubs
	m.clients = make(map[string]*Client)
	m.hubs = make(map[string]*Hub)
	m.descs = make(map[string]model.PrinterDescriptor)
	m.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
	for _, h := range hubs {
		h.Close()
	}
	m.logger.Info().Int("streams", len(clients)).Msg("camera manager stopped")
}
