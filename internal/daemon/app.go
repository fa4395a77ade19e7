// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon owns the gateway's runtime lifecycle. The app starts
// every subsystem in dependency order, keeps them running until the
// context is cancelled, then tears down public surface first so in-flight
// viewers and commands drain before the sessions behind them disappear.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// App orchestrates one daemon run.
type App struct {
	deps         Deps
	logger       zerolog.Logger
	reloadSignal os.Signal
}

// NewApp validates the wiring and returns an app ready to Run once.
func NewApp(deps Deps) (*App, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	return &App{
		deps:         deps,
		logger:       deps.Logger,
		reloadSignal: syscall.SIGHUP,
	}, nil
}

// Run starts all subsystems and blocks until the context is cancelled or
// the gateway server fails. Helper processes that fail to start degrade
// the gateway instead of stopping it; only the cloud channel and the HTTP
// surface are load-bearing.
func (a *App) Run(ctx context.Context) error {
	if a.deps.Credentials != nil {
		if err := a.deps.Credentials.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("credentials watcher unavailable, reload via SIGHUP only")
		}
	}
	if a.deps.Recorder != nil {
		a.deps.Recorder.Start()
	}
	defer a.teardown()

	if a.deps.Relay != nil {
		if err := a.deps.Relay.Start(ctx); err != nil {
			a.logger.Error().Err(err).Msg("relay startup failed, camera relaying unavailable")
		}
	}
	if a.deps.Tunnel != nil {
		if err := a.deps.Tunnel.Start(ctx); err != nil {
			a.logger.Error().Err(err).Msg("tunnel startup failed, serving locally only")
		}
	}

	if err := a.deps.Cloud.Start(); err != nil {
		return fmt.Errorf("start control-plane channel: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.deps.Gateway.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		timeout := a.deps.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		sdCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.deps.Gateway.Shutdown(sdCtx); err != nil {
			a.logger.Warn().Err(err).Msg("gateway drain incomplete")
		}
		return nil
	})

	if a.deps.Credentials != nil {
		g.Go(func() error {
			a.reloadLoop(gctx)
			return nil
		})
	}

	a.logger.Info().Msg("gateway running")
	return g.Wait()
}

// teardown stops the remaining subsystems in order: control plane first so
// no new commands arrive, then the sessions, then the helper processes.
// The final status snapshot is written last, after the fleet state has
// settled.
func (a *App) teardown() {
	a.deps.Cloud.Shutdown()
	a.deps.Devices.Shutdown()
	a.deps.Cameras.Shutdown()
	if a.deps.Relay != nil {
		a.deps.Relay.Shutdown()
	}
	if a.deps.Tunnel != nil {
		a.deps.Tunnel.Shutdown()
	}
	if a.deps.Credentials != nil {
		a.deps.Credentials.Stop()
	}
	if a.deps.Recorder != nil {
		a.deps.Recorder.Close()
	}
	a.logger.Info().Msg("gateway stopped")
}

// reloadLoop re-reads the credentials document on the reload signal. A
// failed reload keeps the previous document; the gateway never loses its
// identity to a half-edited file.
func (a *App) reloadLoop(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, a.reloadSignal)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			a.logger.Info().Str("signal", a.reloadSignal.String()).Msg("reloading credentials")
			if err := a.deps.Credentials.Reload(context.Background()); err != nil {
				a.logger.Warn().Err(err).Msg("credentials reload failed, keeping previous document")
			}
		}
	}
}
