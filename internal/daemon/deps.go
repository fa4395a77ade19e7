// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Gateway is the blocking HTTP surface. Start returns nil after a clean
// Shutdown.
type Gateway interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Channel is the control-plane connection.
type Channel interface {
	Start() error
	Shutdown()
}

// Subsystem is a supervised helper started with the run context and
// stopped at teardown. The relay and the tunnel satisfy it.
type Subsystem interface {
	Start(ctx context.Context) error
	Shutdown()
}

// SessionManager covers the device and camera managers: everything they
// run stops on Shutdown.
type SessionManager interface {
	Shutdown()
}

// Recorder persists local diagnostic state; Close writes the final
// snapshot.
type Recorder interface {
	Start()
	Close()
}

// CredentialSource watches the credentials document and reloads it on
// demand.
type CredentialSource interface {
	StartWatcher(ctx context.Context) error
	Reload(ctx context.Context) error
	Stop()
}

// Deps contains everything the daemon app drives. Gateway, Cloud, Devices
// and Cameras are required; the rest is optional and skipped when nil.
type Deps struct {
	// Logger is the structured logger for the daemon.
	Logger zerolog.Logger

	// Gateway is the local HTTP surface.
	Gateway Gateway

	// Cloud is the control-plane channel.
	Cloud Channel

	// Devices owns the printer MQTT sessions.
	Devices SessionManager

	// Cameras owns the direct camera streams.
	Cameras SessionManager

	// Relay is the camera relay orchestrator, nil when the subsystem is
	// not configured.
	Relay Subsystem

	// Tunnel is the outbound tunnel, nil when not configured.
	Tunnel Subsystem

	// Recorder is the diagnostics recorder, nil to disable.
	Recorder Recorder

	// Credentials is the hot-reloading credentials holder, nil to skip
	// watching.
	Credentials CredentialSource

	// ShutdownTimeout bounds the HTTP drain. Zero means 10s.
	ShutdownTimeout time.Duration
}

// Validate checks the required dependencies.
func (d *Deps) Validate() error {
	if d.Gateway == nil {
		return ErrMissingGateway
	}
	if d.Cloud == nil {
		return ErrMissingCloud
	}
	if d.Devices == nil || d.Cameras == nil {
		return ErrMissingManagers
	}
	return nil
}
