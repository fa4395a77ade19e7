// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package cloud maintains the control-plane channel: one NATS connection
// that receives the device roster and operator commands and publishes
// per-printer status. The client reconnects indefinitely on its own; a
// dead control plane degrades the gateway to local-only, never down.
package cloud

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ManuGH/farmgw/internal/command"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/metrics"
	"github.com/ManuGH/farmgw/internal/model"
	"github.com/ManuGH/farmgw/internal/registry"
)

const (
	reconnectWait = 5 * time.Second
	flushTimeout  = 2 * time.Second
)

// DeviceControl is the slice of the device manager the channel drives.
type DeviceControl interface {
	Add(desc model.PrinterDescriptor)
	Remove(serial string)
	Publish(serial string, payloads []command.Payload) error
}

// CameraControl is the slice of the camera manager the channel drives.
type CameraControl interface {
	Add(desc model.PrinterDescriptor)
	Remove(serial string)
}

// RelayControl registers and releases relay-proxied camera feeds.
// Nil when the relay subsystem is off.
type RelayControl interface {
	Ensure(serial, host, accessCode string)
	Forget(serial string)
}

// publisher is the outbound half of the connection. *nats.Conn satisfies
// it; tests substitute a recorder.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Config wires the channel to the rest of the gateway.
type Config struct {
	// URL is the control-plane NATS endpoint.
	URL string

	// Token authenticates the gateway; this is the fleet API key.
	Token string

	// GatewayID scopes the command and status subjects.
	GatewayID string

	Registry *registry.Registry
	Devices  DeviceControl
	Cameras  CameraControl
	Relay    RelayControl
}

// Channel is the control-plane connection.
type Channel struct {
	cfg       Config
	logger    zerolog.Logger
	cmdSubj   string
	statusSub string

	conn  *nats.Conn
	pub   publisher
	sub   *nats.Subscription
	watch *registry.Subscription
	done  chan struct{}
}

// New validates the wiring. The connection is not opened until Start.
func New(cfg Config) (*Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("control-plane URL is required")
	}
	if cfg.GatewayID == "" {
		return nil, fmt.Errorf("gateway ID is required")
	}
	if cfg.Registry == nil || cfg.Devices == nil || cfg.Cameras == nil {
		return nil, fmt.Errorf("registry, device and camera wiring are required")
	}
	return &Channel{
		cfg:       cfg,
		logger:    log.WithComponent("cloud"),
		cmdSubj:   "fleet." + cfg.GatewayID + ".cmd",
		statusSub: "fleet." + cfg.GatewayID + ".status",
		done:      make(chan struct{}),
	}, nil
}

// Start opens the connection, subscribes to the command subject and
// begins forwarding registry changes as status. The client keeps retrying
// the initial connect in the background, so a down control plane does not
// fail startup.
func (c *Channel) Start() error {
	opts := []nats.Option{
		nats.Name("farmgw-" + c.cfg.GatewayID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(nc *nats.Conn) {
			metrics.CloudConnected.Set(1)
			c.logger.Info().Str("url", nc.ConnectedUrl()).Msg("control plane connected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.CloudConnected.Set(1)
			c.logger.Info().Str("url", nc.ConnectedUrl()).Msg("control plane reconnected")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.CloudConnected.Set(0)
			c.logger.Warn().Err(err).Msg("control plane disconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Warn().Err(err).Msg("control plane channel error")
		}),
	}
	if c.cfg.Token != "" {
		opts = append(opts, nats.Token(c.cfg.Token))
	}

	nc, err := nats.Connect(c.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect control plane: %w", err)
	}
	c.conn = nc
	c.pub = nc

	sub, err := nc.Subscribe(c.cmdSubj, func(msg *nats.Msg) {
		c.handleEvent(msg.Data)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe %s: %w", c.cmdSubj, err)
	}
	c.sub = sub

	c.watch = c.cfg.Registry.Watch()
	go c.statusLoop()

	c.logger.Info().
		Str("subject", c.cmdSubj).
		Str(log.FieldGatewayID, c.cfg.GatewayID).
		Msg("control-plane channel up")
	return nil
}

// Connected reports whether the channel currently has a live connection.
func (c *Channel) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Shutdown stops inbound handling, lets the status loop drain and closes
// the connection after flushing pending publishes.
func (c *Channel) Shutdown() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	if c.watch != nil {
		c.watch.Close()
		<-c.done
	}
	if c.conn != nil {
		if err := c.conn.FlushTimeout(flushTimeout); err != nil {
			c.logger.Debug().Err(err).Msg("flush on shutdown failed")
		}
		c.conn.Close()
		metrics.CloudConnected.Set(0)
	}
	c.logger.Info().Msg("control-plane channel down")
}
