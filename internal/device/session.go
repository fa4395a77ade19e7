// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package device

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/farmgw/internal/command"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/metrics"
	"github.com/ManuGH/farmgw/internal/model"
	"github.com/ManuGH/farmgw/internal/reconcile"
	"github.com/ManuGH/farmgw/internal/telemetry"
)

const (
	// deviceUser is the fixed local account on the printer; the access
	// code from the descriptor is its password.
	deviceUser = "bblp"

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	mqttKeepAlive  = 30 * time.Second
	quiesceMillis  = 250
)

func reportTopic(serial string) string  { return "device/" + serial + "/report" }
func requestTopic(serial string) string { return "device/" + serial + "/request" }

// Session is one printer's connection, reused across reconnects. All
// transitions run under mu; publishes serialize on pubMu so multi-payload
// sequences reach the printer without interleaving.
type Session struct {
	mgr    *Manager
	logger zerolog.Logger

	mu      sync.Mutex
	desc    model.PrinterDescriptor
	class   model.Class
	client  mqtt.Client
	state   model.ConnState
	attempt int
	timer   *time.Timer
	removed bool

	pubMu sync.Mutex
}

func (m *Manager) newSession(desc model.PrinterDescriptor) *Session {
	return &Session{
		mgr:    m,
		desc:   desc,
		class:  model.Classify(desc.Model),
		state:  model.ConnDisconnected,
		logger: log.WithPrinter("device", desc.Serial),
	}
}

// State returns the transport state.
func (s *Session) State() model.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) serial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc.Serial
}

// connect runs one attempt: dial, subscribe, prime. Failures schedule the
// next attempt; success resets the backoff counter.
func (s *Session) connect() {
	s.mu.Lock()
	if s.removed || s.state != model.ConnDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = model.ConnConnecting
	s.timer = nil
	desc := s.desc
	s.mu.Unlock()

	_, span := telemetry.Tracer("farmgw.device").Start(context.Background(),
		"farmgw.device.connect", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(telemetry.DeviceAttributes(desc.Serial, desc.Model,
		model.Classify(desc.Model).String())...)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tls://%s:%d", desc.Host, s.mgr.port)).
		SetClientID("farmgw-" + desc.Serial).
		SetUsername(deviceUser).
		SetPassword(desc.AccessCode).
		SetTLSConfig(&tls.Config{
			// Printers present self-signed certs; the access code is the
			// actual authenticator.
			InsecureSkipVerify: true, // #nosec G402
			MinVersion:         tls.VersionTLS12,
		}).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(mqttKeepAlive).
		SetConnectionLostHandler(s.onConnectionLost)

	client := s.mgr.newClient(opts)

	if err := waitToken(client.Connect(), connectTimeout); err != nil {
		metrics.IncDeviceConnect(desc.Serial, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		s.scheduleReconnect(fmt.Errorf("connect %s: %w", desc.Host, err))
		return
	}
	if err := waitToken(client.Subscribe(reportTopic(desc.Serial), 0, s.onMessage), connectTimeout); err != nil {
		client.Disconnect(quiesceMillis)
		metrics.IncDeviceConnect(desc.Serial, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, "subscribe failed")
		s.scheduleReconnect(fmt.Errorf("subscribe: %w", err))
		return
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		client.Disconnect(quiesceMillis)
		return
	}
	s.client = client
	s.state = model.ConnConnected
	s.attempt = 0
	s.mu.Unlock()

	metrics.IncDeviceConnect(desc.Serial, true)
	metrics.DeviceSessionsConnected.Inc()
	s.mgr.reg.SetOnline(desc.Serial, true)
	s.logger.Info().Str(log.FieldHost, desc.Host).Msg("device session connected")

	s.prime()
}

// prime asks for the firmware inventory and a full state push so the next
// report carries a complete baseline instead of deltas.
func (s *Session) prime() {
	version, err := command.VersionRequest()
	if err != nil {
		s.logger.Error().Err(err).Msg("build version request")
		return
	}
	pushall, err := command.PushAllRequest()
	if err != nil {
		s.logger.Error().Err(err).Msg("build pushall request")
		return
	}
	err = s.Publish([]command.Payload{{Body: version}, {Body: pushall}})
	if err != nil {
		s.logger.Warn().Err(err).Msg("baseline priming failed")
	}
}

// onMessage handles one report: raw hook, reconcile, store. A malformed
// report is discarded without touching the previous snapshot.
func (s *Session) onMessage(_ mqtt.Client, msg mqtt.Message) {
	raw := msg.Payload()

	s.mu.Lock()
	serial := s.desc.Serial
	class := s.class
	s.mu.Unlock()

	if s.mgr.onRaw != nil {
		s.mgr.onRaw(serial, raw)
	}

	entry, ok := s.mgr.reg.Get(serial)
	if !ok {
		return
	}
	next, err := reconcile.Apply(entry.Snapshot, raw, class)
	if err != nil {
		metrics.IncDeviceReport(serial, false)
		if s.mgr.throttle.Allow(serial, err) {
			s.logger.Warn().Err(err).Msg("report discarded")
		}
		return
	}
	metrics.IncDeviceReport(serial, true)
	s.mgr.reg.SetSnapshot(serial, next)
}

func (s *Session) onConnectionLost(_ mqtt.Client, err error) {
	s.mu.Lock()
	hadClient := s.client != nil
	s.client = nil
	serial := s.desc.Serial
	s.mu.Unlock()

	if hadClient {
		metrics.DeviceSessionsConnected.Dec()
	}
	s.mgr.reg.SetOnline(serial, false)
	s.scheduleReconnect(err)
}

// scheduleReconnect arms the backoff timer unless the descriptor was
// removed. The cause is logged through the per-serial error throttle.
func (s *Session) scheduleReconnect(cause error) {
	s.mu.Lock()
	s.state = model.ConnDisconnected
	if s.removed {
		s.mu.Unlock()
		return
	}
	delay := s.mgr.policy.Delay(s.attempt)
	attempt := s.attempt
	s.attempt++
	s.timer = time.AfterFunc(delay, s.connect)
	serial := s.desc.Serial
	s.mu.Unlock()

	metrics.DeviceReconnectDelay.Observe(delay.Seconds())
	if cause != nil && s.mgr.throttle.Allow(serial, cause) {
		s.logger.Warn().Err(cause).
			Dur("retry_in", delay).
			Int(log.FieldAttempt, attempt).
			Msg("device session lost")
	}
}

// Publish sends payloads in order on the request topic, honoring each
// payload's settle delay. The send lock is held for the whole sequence.
func (s *Session) Publish(payloads []command.Payload) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	for _, p := range payloads {
		s.mu.Lock()
		client := s.client
		serial := s.desc.Serial
		s.mu.Unlock()

		if client == nil {
			return ErrNoSession
		}
		if err := waitToken(client.Publish(requestTopic(serial), 0, false, p.Body), publishTimeout); err != nil {
			metrics.IncDevicePublish(serial, false)
			return fmt.Errorf("publish to %s: %w", serial, err)
		}
		metrics.IncDevicePublish(serial, true)
		if p.DelayAfter > 0 {
			time.Sleep(p.DelayAfter)
		}
	}
	return nil
}

// updateDescriptor absorbs a re-announced descriptor. A changed endpoint
// or access code drops the live connection so the next attempt uses the
// new values; the attempt counter starts over for the new endpoint.
func (s *Session) updateDescriptor(desc model.PrinterDescriptor) {
	s.mu.Lock()
	endpointChanged := desc.Host != s.desc.Host || desc.AccessCode != s.desc.AccessCode
	s.desc = desc
	s.class = model.Classify(desc.Model)
	if !endpointChanged {
		s.mu.Unlock()
		return
	}
	s.attempt = 0
	client := s.client
	s.client = nil
	if client != nil {
		s.state = model.ConnDisconnected
	}
	s.mu.Unlock()

	if client == nil {
		return
	}
	client.Disconnect(quiesceMillis)
	metrics.DeviceSessionsConnected.Dec()
	s.mgr.reg.SetOnline(desc.Serial, false)
	s.logger.Info().Str(log.FieldHost, desc.Host).Msg("descriptor changed, reconnecting")
	go s.connect()
}

// stop ends the session for good: reconnect timer cancelled, connection
// closed. A stopped session never reconnects.
func (s *Session) stop() {
	s.mu.Lock()
	s.removed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	client := s.client
	s.client = nil
	s.state = model.ConnDisconnected
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(quiesceMillis)
		metrics.DeviceSessionsConnected.Dec()
	}
}

func waitToken(tok mqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	return tok.Error()
}
