// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package relay drives the external RTSP relay process for models whose
// camera only speaks RTSP. The process is a black box behind a loopback
// HTTP API: streams are registered dynamically while it runs; when dynamic
// registration fails, the orchestrator rewrites the full config and
// restarts the process intentionally.
package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/farmgw/internal/backoff"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/metrics"
	"github.com/ManuGH/farmgw/internal/supervisor"
	"github.com/ManuGH/farmgw/internal/telemetry"
)

const (
	// rtspPort and rtspPath are fixed by the device firmware.
	rtspPort = 322
	rtspPath = "/streaming/live/1"
	rtspUser = "bblp"

	defaultAPIAddr = "127.0.0.1:1984"
	configFileName = "relay.yaml"

	readyProbeInterval = 500 * time.Millisecond
	settleDelay        = time.Second
	requestTimeout     = 5 * time.Second
)

// sourceURL builds the relay's pull source for one printer.
func sourceURL(host, accessCode string) string {
	return fmt.Sprintf("rtsps://%s:%s@%s:%d%s", rtspUser, accessCode, host, rtspPort, rtspPath)
}

// process is the supervised-handle surface the orchestrator needs; tests
// substitute a fake.
type process interface {
	Start(ctx context.Context) error
	Stop()
	Shutdown()
}

// Config wires an Orchestrator.
type Config struct {
	// Binary is the relay executable. An unresolvable binary disables the
	// subsystem; the rest of the gateway is unaffected.
	Binary string

	// APIAddr is the loopback listen address for the relay API. Zero
	// means 127.0.0.1:1984.
	APIAddr string

	// DataDir holds the generated relay config file.
	DataDir string

	// Restart paces crash restarts. Zero value means the fixed 3s relay
	// policy.
	Restart backoff.Policy

	// HTTPClient talks to the relay API. Zero means a 5s-timeout client.
	HTTPClient *http.Client

	// NewProcess builds the supervised handle. Tests inject fakes; zero
	// means a real supervisor process.
	NewProcess func(supervisor.Config) process
}

// Orchestrator owns the relay process and its stream table.
type Orchestrator struct {
	binary     string
	apiBase    string
	configPath string
	client     *http.Client
	logger     zerolog.Logger
	proc       process

	ctx context.Context

	mu         sync.Mutex
	disabled   bool
	ready      bool
	restarting bool
	queue      []streamEntry
	streams    map[string]string

	escalations atomic.Int64
}

type streamEntry struct {
	name string
	src  string
}

// New builds an orchestrator; Start launches the process.
func New(cfg Config) *Orchestrator {
	if cfg.APIAddr == "" {
		cfg.APIAddr = defaultAPIAddr
	}
	if cfg.Restart == (backoff.Policy{}) {
		cfg.Restart = backoff.RelayRestart
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	newProcess := cfg.NewProcess
	if newProcess == nil {
		newProcess = func(sc supervisor.Config) process { return supervisor.New(sc) }
	}

	o := &Orchestrator{
		binary:     cfg.Binary,
		apiBase:    "http://" + cfg.APIAddr,
		configPath: filepath.Join(cfg.DataDir, configFileName),
		client:     cfg.HTTPClient,
		logger:     log.WithComponent("relay"),
		streams:    make(map[string]string),
	}
	o.proc = newProcess(supervisor.Config{
		Name:    "relay",
		Binary:  cfg.Binary,
		Args:    []string{"-config", o.configPath},
		Restart: cfg.Restart,
		OnExit:  o.onProcessExit,
	})
	return o
}

// APIBase returns the relay API base URL for the gateway's reverse proxy.
func (o *Orchestrator) APIBase() string {
	return o.apiBase
}

// Ready reports whether the relay API currently answers.
func (o *Orchestrator) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

// Start writes the baseline config and launches the relay process. A
// missing binary logs once and leaves the subsystem off.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx = ctx

	if _, err := exec.LookPath(o.binary); err != nil {
		o.mu.Lock()
		o.disabled = true
		o.mu.Unlock()
		o.logger.Warn().Str("binary", o.binary).
			Msg("relay binary not found, camera relaying unavailable")
		return nil
	}

	if err := o.writeConfig(nil); err != nil {
		return fmt.Errorf("write relay config: %w", err)
	}
	if err := o.proc.Start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	go o.probeLoop(ctx)
	return nil
}

// Ensure registers the printer's stream under its serial. Before the relay
// is ready the registration is queued and flushed on readiness.
func (o *Orchestrator) Ensure(serial, host, accessCode string) {
	src := sourceURL(host, accessCode)

	o.mu.Lock()
	if o.disabled {
		o.mu.Unlock()
		return
	}
	o.streams[serial] = src
	if !o.ready {
		o.queue = append(o.queue, streamEntry{name: serial, src: src})
		o.mu.Unlock()
		o.logger.Debug().Str(log.FieldSerial, serial).Msg("relay not ready, registration queued")
		return
	}
	o.mu.Unlock()

	if err := o.register(serial, src); err != nil {
		o.escalate(err)
	}
}

// Forget drops the printer's stream from the table and, when the relay
// answers, from the running process. Best effort.
func (o *Orchestrator) Forget(serial string) {
	o.mu.Lock()
	delete(o.streams, serial)
	ready := o.ready
	o.mu.Unlock()

	if !ready {
		return
	}
	req, err := http.NewRequestWithContext(o.reqCtx(), http.MethodDelete,
		o.apiBase+"/api/streams?src="+url.QueryEscape(serial), nil)
	if err != nil {
		return
	}
	resp, err := o.client.Do(req)
	if err != nil {
		o.logger.Debug().Err(err).Str(log.FieldSerial, serial).Msg("stream removal failed")
		return
	}
	drain(resp)
}

// register PUTs one stream into the running relay.
func (o *Orchestrator) register(name, src string) error {
	u := fmt.Sprintf("%s/api/streams?name=%s&src=%s",
		o.apiBase, url.QueryEscape(name), url.QueryEscape(src))
	// src carries the printer access code; spans get the query-free URL.
	urlLabel := o.apiBase + "/api/streams"

	ctx, span := telemetry.Tracer("farmgw.relay").Start(o.reqCtx(),
		"farmgw.relay.register", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		metrics.IncRelayRegistration(false)
		span.SetAttributes(telemetry.HTTPAttributes(http.MethodPut, "/api/streams", urlLabel, 0)...)
		span.SetAttributes(telemetry.RelayAttributes(name, "registration_failed", o.escalations.Load())...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("register stream %s: %w", name, err)
	}
	drain(resp)
	span.SetAttributes(telemetry.HTTPAttributes(http.MethodPut, "/api/streams", urlLabel, resp.StatusCode)...)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.IncRelayRegistration(false)
		span.SetAttributes(telemetry.RelayAttributes(name, "registration_failed", o.escalations.Load())...)
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("register stream %s: unexpected status %s", name, resp.Status)
	}
	metrics.IncRelayRegistration(true)
	o.logger.Info().Str(log.FieldStream, name).Msg("relay stream registered")
	return nil
}

// escalate falls back to a config-file restart: full stream table written
// atomically, process stopped intentionally, restarted after a settle
// delay. Concurrent escalations collapse into one.
func (o *Orchestrator) escalate(cause error) {
	o.mu.Lock()
	if o.restarting {
		o.mu.Unlock()
		return
	}
	o.restarting = true
	o.ready = false
	streams := make(map[string]string, len(o.streams))
	for k, v := range o.streams {
		streams[k] = v
	}
	o.mu.Unlock()

	o.escalations.Add(1)
	metrics.RelayReady.Set(0)
	metrics.RelayRestartsTotal.WithLabelValues("escalation").Inc()
	o.logger.Warn().Err(cause).Int("streams", len(streams)).
		Msg("dynamic registration failed, restarting relay with full config")

	if err := o.writeConfig(streams); err != nil {
		o.logger.Error().Err(err).Msg("relay config write failed, escalation abandoned")
		o.mu.Lock()
		o.restarting = false
		o.mu.Unlock()
		return
	}

	go func() {
		ctx := o.reqCtx()
		o.proc.Stop()
		time.Sleep(settleDelay)

		o.mu.Lock()
		o.restarting = false
		o.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err := o.proc.Start(ctx); err != nil {
			o.logger.Error().Err(err).Msg("relay restart failed")
		}
	}()
}

// relayConfig is the relay process's on-disk shape. The RTSP listener is
// disabled; only the loopback API serves.
type relayConfig struct {
	API struct {
		Listen string `yaml:"listen"`
	} `yaml:"api"`
	RTSP struct {
		Listen string `yaml:"listen"`
	} `yaml:"rtsp"`
	Streams map[string]string `yaml:"streams"`
}

func (o *Orchestrator) writeConfig(streams map[string]string) error {
	var cfg relayConfig
	cfg.API.Listen = o.apiBase[len("http://"):]
	cfg.RTSP.Listen = ""
	cfg.Streams = streams
	if cfg.Streams == nil {
		cfg.Streams = map[string]string{}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return renameio.WriteFile(o.configPath, data, 0o600)
}

// probeLoop polls the API until it answers, then flushes queued
// registrations. It keeps probing across crashes for the daemon lifetime.
func (o *Orchestrator) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(readyProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		skip := o.ready || o.restarting
		o.mu.Unlock()
		if skip {
			continue
		}
		if o.probe(ctx) {
			o.becomeReady()
		}
	}
}

func (o *Orchestrator) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	drain(resp)
	return resp.StatusCode == http.StatusOK
}

func (o *Orchestrator) becomeReady() {
	o.mu.Lock()
	if o.ready {
		o.mu.Unlock()
		return
	}
	o.ready = true
	pending := o.queue
	o.queue = nil
	o.mu.Unlock()

	metrics.RelayReady.Set(1)
	o.logger.Info().Int("queued", len(pending)).Msg("relay ready")

	for _, s := range pending {
		if err := o.register(s.name, s.src); err != nil {
			o.escalate(err)
			return
		}
	}
}

func (o *Orchestrator) onProcessExit(_ error, intentional bool) {
	o.mu.Lock()
	o.ready = false
	o.mu.Unlock()
	metrics.RelayReady.Set(0)
	if !intentional {
		metrics.RelayRestartsTotal.WithLabelValues("crash").Inc()
	}
}

// Shutdown stops the relay process.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	disabled := o.disabled
	o.mu.Unlock()
	if disabled {
		return
	}
	o.proc.Shutdown()
}

func (o *Orchestrator) reqCtx() context.Context {
	if o.ctx != nil {
		return o.ctx
	}
	return context.Background()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
