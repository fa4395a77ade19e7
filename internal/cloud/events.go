// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/farmgw/internal/command"
	"github.com/ManuGH/farmgw/internal/device"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/metrics"
	"github.com/ManuGH/farmgw/internal/model"
	"github.com/ManuGH/farmgw/internal/telemetry"
)

// Inbound event names.
const (
	eventRoster        = "roster"
	eventDeviceAdded   = "device_added"
	eventDeviceRemoved = "device_removed"
	eventCommand       = "command"
)

// envelope is the inbound control-plane event. Exactly one of the
// payload groups is populated depending on Event.
type envelope struct {
	Event string `json:"event"`

	// roster
	Printers []model.PrinterDescriptor `json:"printers,omitempty"`

	// device_added / device_removed
	Printer *model.PrinterDescriptor `json:"printer,omitempty"`
	Serial  string                   `json:"serial,omitempty"`

	// command
	Action string          `json:"action,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// handleEvent dispatches one inbound message. Malformed input is dropped
// per-message; it never affects the connection or other devices.
func (c *Channel) handleEvent(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn().Err(err).Msg("malformed control-plane event dropped")
		metrics.IncCloudCommand("malformed", false)
		return
	}

	switch env.Event {
	case eventRoster:
		c.applyRoster(env.Printers)
		metrics.IncCloudCommand(env.Event, true)
	case eventDeviceAdded:
		if env.Printer == nil {
			c.logger.Warn().Msg("device_added without printer payload dropped")
			metrics.IncCloudCommand(env.Event, false)
			return
		}
		c.addDevice(*env.Printer)
		metrics.IncCloudCommand(env.Event, true)
	case eventDeviceRemoved:
		serial := env.Serial
		if serial == "" && env.Printer != nil {
			serial = env.Printer.Serial
		}
		if serial == "" {
			c.logger.Warn().Msg("device_removed without serial dropped")
			metrics.IncCloudCommand(env.Event, false)
			return
		}
		c.removeDevice(serial)
		metrics.IncCloudCommand(env.Event, true)
	case eventCommand:
		c.handleCommand(env)
	default:
		c.logger.Warn().Str(log.FieldEvent, env.Event).Msg("unknown control-plane event dropped")
		metrics.IncCloudCommand("unknown", false)
	}
}

// applyRoster replaces the fleet wholesale: serials missing from the new
// roster are torn down, everything listed is (re)registered.
func (c *Channel) applyRoster(descs []model.PrinterDescriptor) {
	want := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if d.Serial != "" {
			want[d.Serial] = struct{}{}
		}
	}

	for _, serial := range c.cfg.Registry.Serials() {
		if _, keep := want[serial]; !keep {
			c.removeDevice(serial)
		}
	}
	for _, d := range descs {
		if d.Serial == "" {
			c.logger.Warn().Msg("roster entry without serial skipped")
			continue
		}
		c.addDevice(d)
	}

	c.logger.Info().Int("printers", len(want)).Msg("roster applied")
}

// addDevice registers one descriptor and opens its sessions. Descriptors
// lacking address or access code stay registry-only: visible in status,
// no connection attempted.
func (c *Channel) addDevice(desc model.PrinterDescriptor) {
	c.cfg.Registry.Upsert(desc)

	if !desc.Connectable() {
		c.logger.Info().
			Str(log.FieldSerial, desc.Serial).
			Msg("descriptor incomplete, registered for visibility only")
		return
	}

	c.cfg.Devices.Add(desc)
	c.cfg.Cameras.Add(desc)
	if c.cfg.Relay != nil && model.Classify(desc.Model).DualNozzle() {
		c.cfg.Relay.Ensure(desc.Serial, desc.Host, desc.AccessCode)
	}
}

// removeDevice tears down everything attached to a serial: MQTT session,
// camera stream, relay registration, registry entry.
func (c *Channel) removeDevice(serial string) {
	c.cfg.Devices.Remove(serial)
	c.cfg.Cameras.Remove(serial)
	if c.cfg.Relay != nil {
		c.cfg.Relay.Forget(serial)
	}
	c.cfg.Registry.Remove(serial)

	c.logger.Info().Str(log.FieldSerial, serial).Msg("device removed")
}

// handleCommand translates and publishes one operator command. Unknown
// actions are dropped; a command for a serial without a live session is a
// logged no-op, never queued.
func (c *Channel) handleCommand(env envelope) {
	_, span := telemetry.Tracer("farmgw.cloud").Start(context.Background(),
		"farmgw.command.dispatch", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(telemetry.CommandAttributes(env.Action, env.Serial, 0)...)

	logger := c.logger.With().
		Str(log.FieldSerial, env.Serial).
		Str(log.FieldCommand, env.Action).
		Logger()

	cmd, err := parseCommand(env.Action, env.Params)
	if err != nil {
		logger.Warn().Err(err).Msg("control-plane command dropped")
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparseable command")
		metrics.IncCloudCommand(eventCommand, false)
		return
	}

	entry, ok := c.cfg.Registry.Get(env.Serial)
	if !ok {
		logger.Warn().Msg("command for unknown serial dropped")
		span.SetStatus(codes.Error, "unknown serial")
		metrics.IncCloudCommand(eventCommand, false)
		return
	}

	payloads, err := command.Translate(model.Classify(entry.Descriptor.Model), cmd)
	if err != nil {
		logger.Warn().Err(err).Msg("command translation failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "translation failed")
		metrics.IncCloudCommand(eventCommand, false)
		return
	}
	span.SetAttributes(telemetry.CommandAttributes(env.Action, env.Serial, len(payloads))...)

	if err := c.cfg.Devices.Publish(env.Serial, payloads); err != nil {
		if errors.Is(err, device.ErrNoSession) {
			logger.Info().Msg("command for offline printer dropped")
		} else {
			logger.Warn().Err(err).Msg("command publish failed")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		metrics.IncCloudCommand(eventCommand, false)
		return
	}
	metrics.IncCloudCommand(eventCommand, true)
}

// parseCommand maps an action name and its JSON parameters onto a typed
// command. Unknown actions error so the caller can drop them.
func parseCommand(action string, params json.RawMessage) (model.Command, error) {
	unmarshal := func(v any) error {
		if len(params) == 0 {
			return fmt.Errorf("action %q requires parameters", action)
		}
		return json.Unmarshal(params, v)
	}

	switch action {
	case "pause":
		return model.Pause{}, nil
	case "resume":
		return model.Resume{}, nil
	case "stop":
		return model.Stop{}, nil
	case "home":
		return model.Home{}, nil
	case "bed_level":
		return model.BedLevel{}, nil
	case "custom_gcode":
		var p struct {
			Lines []string `json:"lines"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if len(p.Lines) == 0 {
			return nil, fmt.Errorf("custom_gcode without lines")
		}
		return model.CustomGcode{Lines: p.Lines}, nil
	case "set_temp":
		var p struct {
			Target  string `json:"target"`
			Degrees int    `json:"degrees"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return model.SetTemp{Target: model.TempTarget(p.Target), Degrees: p.Degrees}, nil
	case "speed_level":
		var p struct {
			Level int `json:"level"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return model.SpeedLevel{Level: p.Level}, nil
	case "fan_speed":
		var p struct {
			Fan     string `json:"fan"`
			Percent int    `json:"percent"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return model.FanSpeed{Fan: model.FanNode(p.Fan), Percent: p.Percent}, nil
	case "light":
		var p struct {
			Node string `json:"node"`
			On   bool   `json:"on"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return model.Light{Node: model.LightNode(p.Node), On: p.On}, nil
	case "jog":
		var p struct {
			Axis string  `json:"axis"`
			Dist float64 `json:"dist"`
			Feed int     `json:"feed"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return model.Jog{Axis: model.Axis(p.Axis), Dist: p.Dist, Feed: p.Feed}, nil
	case "load_filament":
		var p struct {
			Slot int `json:"slot"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return model.LoadFilament{Slot: p.Slot}, nil
	case "unload_filament":
		return model.UnloadFilament{}, nil
	case "configure_slot":
		var p struct {
			Unit     int    `json:"unit"`
			Slot     int    `json:"slot"`
			Material string `json:"material"`
			Color    string `json:"color"`
			MinTemp  int    `json:"min_temp"`
			MaxTemp  int    `json:"max_temp"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return model.ConfigureSlot{
			Unit:     p.Unit,
			Slot:     p.Slot,
			Material: p.Material,
			Color:    p.Color,
			MinTemp:  p.MinTemp,
			MaxTemp:  p.MaxTemp,
		}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}
