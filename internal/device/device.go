// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package device maintains the MQTT sessions to the printers. One Session
// exists per serial, created on first sight of a connectable descriptor and
// reused across reconnects; the manager owns the session set and is the
// only way in. Sessions feed decoded telemetry into the registry and accept
// translated command payloads for publishing.
package device

import (
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ManuGH/farmgw/internal/backoff"
	"github.com/ManuGH/farmgw/internal/command"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/model"
	"github.com/ManuGH/farmgw/internal/registry"
)

// ErrNoSession is returned when a publish is requested for a serial with no
// live connection. Commands are never queued for offline printers.
var ErrNoSession = errors.New("no live device session")

// errorLogWindow is how often the same transport error for the same serial
// may reach the log.
const errorLogWindow = 60 * time.Second

// Config wires a Manager. Zero fields fall back to production defaults.
type Config struct {
	// Registry receives online flags and reconciled snapshots.
	Registry *registry.Registry

	// Reconnect paces reconnect attempts. Zero value means the device
	// reconnect policy (5s doubling, capped at 120s).
	Reconnect backoff.Policy

	// Port is the device MQTT TLS port. Zero means 8883.
	Port int

	// OnRawReport, when set, receives every report payload before decoding.
	// The diagnostics recorder hangs off this.
	OnRawReport func(serial string, raw []byte)

	// NewClient builds MQTT clients. Tests inject fakes here; zero means
	// paho's real client.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

// Manager owns the session set.
type Manager struct {
	reg       *registry.Registry
	policy    backoff.Policy
	port      int
	onRaw     func(string, []byte)
	newClient func(*mqtt.ClientOptions) mqtt.Client
	throttle  *errorThrottle
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager returns a manager with no sessions.
func NewManager(cfg Config) *Manager {
	if cfg.Reconnect == (backoff.Policy{}) {
		cfg.Reconnect = backoff.DeviceReconnect
	}
	if cfg.Port == 0 {
		cfg.Port = 8883
	}
	if cfg.NewClient == nil {
		cfg.NewClient = mqtt.NewClient
	}
	return &Manager{
		reg:       cfg.Registry,
		policy:    cfg.Reconnect,
		port:      cfg.Port,
		onRaw:     cfg.OnRawReport,
		newClient: cfg.NewClient,
		throttle:  newErrorThrottle(errorLogWindow),
		logger:    log.WithComponent("device"),
		sessions:  make(map[string]*Session),
	}
}

// Add ensures a session exists for the descriptor and starts connecting.
// Descriptors without host or access code get no session; they stay
// visible through the registry only. An existing session absorbs the new
// descriptor and reconnects if the endpoint changed.
func (m *Manager) Add(desc model.PrinterDescriptor) {
	if !desc.Connectable() {
		m.logger.Info().Str(log.FieldSerial, desc.Serial).Msg("descriptor not connectable, no session opened")
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	s, ok := m.sessions[desc.Serial]
	if !ok {
		s = m.newSession(desc)
		m.sessions[desc.Serial] = s
	}
	m.mu.Unlock()

	if ok {
		s.updateDescriptor(desc)
		return
	}
	go s.connect()
}

// Remove tears the serial's session down: pending reconnect cancelled,
// connection closed. Safe to call for unknown serials.
func (m *Manager) Remove(serial string) {
	m.mu.Lock()
	s, ok := m.sessions[serial]
	delete(m.sessions, serial)
	m.mu.Unlock()

	if ok {
		s.stop()
	}
}

// Publish sends the payload sequence to the serial's printer. The sequence
// is published without interleaving; ErrNoSession when no live connection.
func (m *Manager) Publish(serial string, payloads []command.Payload) error {
	m.mu.Lock()
	s, ok := m.sessions[serial]
	m.mu.Unlock()

	if !ok {
		return ErrNoSession
	}
	return s.Publish(payloads)
}

// Connected reports whether the serial currently holds a live session.
func (m *Manager) Connected(serial string) bool {
	m.mu.Lock()
	s, ok := m.sessions[serial]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return s.State() == model.ConnConnected
}

// Shutdown stops every session. The manager accepts no descriptors after.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}
