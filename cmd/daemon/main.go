// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/farmgw/internal/camera"
	"github.com/ManuGH/farmgw/internal/cloud"
	"github.com/ManuGH/farmgw/internal/config"
	"github.com/ManuGH/farmgw/internal/daemon"
	"github.com/ManuGH/farmgw/internal/device"
	"github.com/ManuGH/farmgw/internal/diagnostics"
	"github.com/ManuGH/farmgw/internal/health"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/mediagw"
	"github.com/ManuGH/farmgw/internal/registry"
	"github.com/ManuGH/farmgw/internal/relay"
	"github.com/ManuGH/farmgw/internal/telemetry"
	"github.com/ManuGH/farmgw/internal/tunnel"
	"github.com/ManuGH/farmgw/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("farmgw %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "farmgw",
	})
	logger := log.WithComponent("daemon")

	if err := config.Validate(cfg); err != nil {
		logger.Fatal().Err(err).Str("event", "config.invalid").Msg("configuration invalid")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	// The API key is the one hard requirement: without it the gateway has
	// no identity towards the control plane.
	creds, err := config.LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldPath, cfg.CredentialsPath).Msg("credentials unavailable")
		fmt.Fprintf(os.Stderr, "\nfarmgw cannot start without cloud credentials.\n")
		fmt.Fprintf(os.Stderr, "Create %s with at least:\n\n", cfg.CredentialsPath)
		fmt.Fprintf(os.Stderr, "  {\"api_key\": \"<your fleet API key>\"}\n\n")
		os.Exit(1)
	}
	gatewayID := creds.EffectiveGatewayID()

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.ListenAddr).
		Msg("starting farmgw")

	logger.Info().Msgf("→ Control plane: %s (key: %s)", cfg.CloudURL, config.MaskKey(creds.APIKey))
	logger.Info().Msgf("→ Gateway id: %s", gatewayID)
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	if cfg.RelayBin != "" {
		logger.Info().Msgf("→ Camera relay: %s (api: %s)", cfg.RelayBin, cfg.RelayAPIAddr)
	} else {
		logger.Info().Msg("→ Camera relay: disabled")
	}
	if cfg.TunnelBin != "" {
		logger.Info().Msgf("→ Tunnel: %s", cfg.TunnelBin)
	} else {
		logger.Info().Msg("→ Tunnel: disabled (local access only)")
	}

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Trace.Enabled,
		ServiceName:    "farmgw",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Trace.Protocol,
		Endpoint:       cfg.Trace.Endpoint,
		SamplingRate:   cfg.Trace.SampleRatio,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("trace exporter unavailable, continuing without tracing")
		tracing = nil
	}

	holder := config.NewCredentialsHolder(creds, cfg.CredentialsPath)

	reg := registry.New()
	if creds.BaseURL != "" {
		// Last known public URL: camera URLs resolve before the tunnel
		// reannounces.
		reg.SetBaseURL(creds.BaseURL)
	}

	recorder := diagnostics.New(diagnostics.Config{
		Dir:            cfg.DataDir,
		Registry:       reg,
		StatusInterval: cfg.StatusInterval,
		RawReports:     cfg.ReportLogEnabled,
	})

	devices := device.NewManager(device.Config{
		Registry:    reg,
		OnRawReport: recorder.RawReport,
	})
	cameras := camera.NewManager(camera.Config{})

	var relayCtl *relay.Orchestrator
	if cfg.RelayBin != "" {
		relayCtl = relay.New(relay.Config{
			Binary:  cfg.RelayBin,
			APIAddr: cfg.RelayAPIAddr,
			DataDir: cfg.DataDir,
		})
	}

	tun := tunnel.New(tunnel.Config{
		Binary: cfg.TunnelBin,
		Args:   cfg.TunnelArgs,
		OnBaseURL: func(baseURL string) {
			reg.SetBaseURL(baseURL)
			if err := holder.SetBaseURL(baseURL); err != nil {
				logger.Warn().Err(err).Str(log.FieldBaseURL, baseURL).Msg("persisting base url failed")
			}
		},
	})

	cloudCfg := cloud.Config{
		URL:       cfg.CloudURL,
		Token:     creds.APIKey,
		GatewayID: gatewayID,
		Registry:  reg,
		Devices:   devices,
		Cameras:   cameras,
	}
	if relayCtl != nil {
		cloudCfg.Relay = relayCtl
	}
	channel, err := cloud.New(cloudCfg)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "cloud.config_invalid").Msg("cloud channel wiring invalid")
	}

	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewFileChecker("credentials", cfg.CredentialsPath))
	hm.RegisterChecker(health.NewFleetChecker(reg.Counts))
	hm.RegisterChecker(health.NewChannelChecker("cloud", channel.Connected))
	if relayCtl != nil {
		hm.RegisterChecker(health.NewChannelChecker("relay", relayCtl.Ready))
	}

	gwCfg := mediagw.Config{
		ListenAddr: cfg.ListenAddr,
		Registry:   reg,
		Cameras:    cameras,
		Health:     hm,
	}
	if relayCtl != nil {
		gwCfg.RelayURL = relayCtl.APIBase()
	}
	if cfg.Trace.Enabled {
		gwCfg.TracingService = "farmgw"
	}
	gw, err := mediagw.New(gwCfg)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "gateway.config_invalid").Msg("media gateway wiring invalid")
	}

	appDeps := daemon.Deps{
		Logger:          logger,
		Gateway:         gw,
		Cloud:           channel,
		Devices:         devices,
		Cameras:         cameras,
		Tunnel:          tun,
		Recorder:        recorder,
		Credentials:     holder,
		ShutdownTimeout: shutdownTimeout,
	}
	if relayCtl != nil {
		appDeps.Relay = relayCtl
	}

	app, err := daemon.NewApp(appDeps)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "app.creation_failed").Msg("failed to assemble daemon")
	}

	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Str("event", "app.failed").Msg("gateway failed")
	}

	if tracing != nil {
		sdCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := tracing.Shutdown(sdCtx); err != nil {
			logger.Debug().Err(err).Msg("trace provider shutdown failed")
		}
		cancel()
	}

	logger.Info().Msg("gateway exiting")
}
