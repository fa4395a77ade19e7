// SPDX-License-Identifier: MIT

// Package config loads the gateway configuration. Everything operational
// comes from FARMGW_* environment variables; the only file-backed state is
// the credentials document, which supports hot reloading.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the full static configuration of the daemon. It is loaded
// once at startup; fields never change while the process runs.
type AppConfig struct {
	// DataDir holds the credentials file, the status snapshot and the
	// raw-report log.
	DataDir string

	// ListenAddr is the media gateway's HTTP listen address.
	ListenAddr string

	// CredentialsPath points at the credentials document. Defaults to
	// credentials.json inside DataDir.
	CredentialsPath string

	// CloudURL is the control-plane connection URL.
	CloudURL string

	// RelayBin is the camera relay executable. Resolved via PATH when not
	// absolute; if missing the relay subsystem stays off.
	RelayBin string

	// RelayAPIAddr is the loopback address of the relay's HTTP API.
	RelayAPIAddr string

	// TunnelBin is the outbound tunnel executable. Empty disables the
	// tunnel subsystem.
	TunnelBin string

	// TunnelArgs are extra arguments passed to the tunnel process.
	TunnelArgs []string

	// StatusInterval is the cadence of status snapshot file writes.
	StatusInterval time.Duration

	// ReportLogEnabled toggles the append-only raw-report log.
	ReportLogEnabled bool

	// LogLevel sets the global log level.
	LogLevel string

	// Trace configures the OTLP trace exporter.
	Trace TraceConfig
}

// TraceConfig carries the OpenTelemetry exporter settings.
type TraceConfig struct {
	Enabled     bool
	Endpoint    string
	Protocol    string // "grpc" or "http"
	SampleRatio float64
}

// FromEnv builds the configuration from FARMGW_* environment variables,
// applying defaults for everything unset.
func FromEnv() AppConfig {
	dataDir := ParseString("FARMGW_DATA", "/var/lib/farmgw")
	cfg := AppConfig{
		DataDir:          dataDir,
		ListenAddr:       ParseString("FARMGW_LISTEN", ":8088"),
		CredentialsPath:  ParseString("FARMGW_CREDENTIALS", filepath.Join(dataDir, "credentials.json")),
		CloudURL:         ParseString("FARMGW_CLOUD_URL", "nats://127.0.0.1:4222"),
		RelayBin:         ParseString("FARMGW_RELAY_BIN", "go2rtc"),
		RelayAPIAddr:     ParseString("FARMGW_RELAY_API", "127.0.0.1:1984"),
		TunnelBin:        ParseString("FARMGW_TUNNEL_BIN", ""),
		StatusInterval:   ParseDuration("FARMGW_STATUS_INTERVAL", 30*time.Second),
		ReportLogEnabled: ParseBool("FARMGW_REPORT_LOG", true),
		LogLevel:         ParseString("FARMGW_LOG_LEVEL", "info"),
		Trace: TraceConfig{
			Enabled:     ParseBool("FARMGW_OTEL_ENABLED", false),
			Endpoint:    ParseString("FARMGW_OTEL_ENDPOINT", "localhost:4317"),
			Protocol:    ParseString("FARMGW_OTEL_PROTOCOL", "grpc"),
			SampleRatio: parseRatio("FARMGW_OTEL_SAMPLE_RATIO", 1.0),
		},
	}
	if args := ParseString("FARMGW_TUNNEL_ARGS", ""); args != "" {
		cfg.TunnelArgs = strings.Fields(args)
	}
	return cfg
}

// Validate checks the configuration for values that cannot work at all.
// Soft problems (missing optional binaries) are left for their subsystems.
func Validate(cfg AppConfig) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	if err := checkListenAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("invalid FARMGW_LISTEN: %w", err)
	}
	if err := checkListenAddr(cfg.RelayAPIAddr); err != nil {
		return fmt.Errorf("invalid FARMGW_RELAY_API: %w", err)
	}
	if cfg.CloudURL == "" {
		return fmt.Errorf("cloud URL must not be empty")
	}
	if cfg.StatusInterval < time.Second {
		return fmt.Errorf("status interval %s is below 1s", cfg.StatusInterval)
	}
	switch cfg.Trace.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("trace protocol must be grpc or http, got %q", cfg.Trace.Protocol)
	}
	return nil
}

func checkListenAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("address must not be empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

func parseRatio(key string, defaultValue float64) float64 {
	raw := ParseString(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return defaultValue
	}
	return v
}
