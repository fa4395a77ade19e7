// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package tunnel keeps the outbound tunnel process alive and watches its
// output for the externally reachable base URL. The URL feeds the registry
// (camera links) and the credentials file, so a restart starts from the
// last known address.
package tunnel

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/farmgw/internal/backoff"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/supervisor"
)

// defaultURLPattern matches the first https URL a tunnel client prints
// when its endpoint is assigned.
var defaultURLPattern = regexp.MustCompile(`https://[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}(?::\d+)?`)

// process is the supervised-handle surface the tunnel needs; tests
// substitute a fake.
type process interface {
	Start(ctx context.Context) error
	Shutdown()
}

// Config wires a Tunnel.
type Config struct {
	// Binary is the tunnel executable. An unresolvable binary disables
	// the subsystem.
	Binary string

	// Args are passed to the tunnel client verbatim.
	Args []string

	// Restart paces crash restarts. Zero value means the tunnel policy
	// (5s doubling, capped at 5 minutes).
	Restart backoff.Policy

	// URLPattern extracts the public URL from output lines. Zero means
	// the default https matcher.
	URLPattern *regexp.Regexp

	// OnBaseURL fires once per newly detected URL.
	OnBaseURL func(baseURL string)

	// NewProcess builds the supervised handle. Tests inject fakes.
	NewProcess func(supervisor.Config) process
}

// Tunnel supervises the tunnel client process.
type Tunnel struct {
	binary  string
	pattern *regexp.Regexp
	onURL   func(string)
	proc    process
	logger  zerolog.Logger

	mu       sync.Mutex
	disabled bool
	baseURL  string
}

// New builds a tunnel; Start launches the client process.
func New(cfg Config) *Tunnel {
	if cfg.Restart == (backoff.Policy{}) {
		cfg.Restart = backoff.TunnelRestart
	}
	if cfg.URLPattern == nil {
		cfg.URLPattern = defaultURLPattern
	}
	newProcess := cfg.NewProcess
	if newProcess == nil {
		newProcess = func(sc supervisor.Config) process { return supervisor.New(sc) }
	}

	t := &Tunnel{
		binary:  cfg.Binary,
		pattern: cfg.URLPattern,
		onURL:   cfg.OnBaseURL,
		logger:  log.WithComponent("tunnel"),
	}
	t.proc = newProcess(supervisor.Config{
		Name:    "tunnel",
		Binary:  cfg.Binary,
		Args:    cfg.Args,
		Restart: cfg.Restart,
		OnLine:  t.scanLine,
	})
	return t
}

// Start launches the tunnel client. A missing binary logs once and leaves
// the subsystem off; the gateway then only serves locally.
func (t *Tunnel) Start(ctx context.Context) error {
	if t.binary == "" {
		t.mu.Lock()
		t.disabled = true
		t.mu.Unlock()
		t.logger.Info().Msg("no tunnel binary configured, serving locally only")
		return nil
	}
	if _, err := exec.LookPath(t.binary); err != nil {
		t.mu.Lock()
		t.disabled = true
		t.mu.Unlock()
		t.logger.Warn().Str("binary", t.binary).
			Msg("tunnel binary not found, serving locally only")
		return nil
	}
	if err := t.proc.Start(ctx); err != nil {
		return fmt.Errorf("start tunnel: %w", err)
	}
	return nil
}

// scanLine inspects one output line for the assigned public URL. The hook
// fires only when the URL actually changes; tunnel clients repeat their
// banner on every reconnect.
func (t *Tunnel) scanLine(_, line string) {
	url := t.pattern.FindString(line)
	if url == "" {
		return
	}

	t.mu.Lock()
	if url == t.baseURL {
		t.mu.Unlock()
		return
	}
	t.baseURL = url
	t.mu.Unlock()

	t.logger.Info().Str(log.FieldBaseURL, url).Msg("tunnel endpoint assigned")
	if t.onURL != nil {
		t.onURL(url)
	}
}

// BaseURL returns the last detected public URL ("" until assigned).
func (t *Tunnel) BaseURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseURL
}

// Enabled reports whether a tunnel process is being supervised.
func (t *Tunnel) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.disabled
}

// Shutdown stops the tunnel process.
func (t *Tunnel) Shutdown() {
	t.mu.Lock()
	disabled := t.disabled
	t.mu.Unlock()
	if disabled {
		return
	}
	t.proc.Shutdown()
}
