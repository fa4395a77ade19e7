// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cloud

import (
	"encoding/json"
	"time"

	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/metrics"
	"github.com/ManuGH/farmgw/internal/model"
	"github.com/ManuGH/farmgw/internal/registry"
)

// statusMessage is the outbound per-printer status: the telemetry
// snapshot flattened in, plus identity, reachability and the camera URL.
type statusMessage struct {
	Serial    string    `json:"serial"`
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Online    bool      `json:"online"`
	CameraURL string    `json:"camera_url,omitempty"`
	Time      time.Time `json:"time"`
	model.TelemetrySnapshot
}

// statusLoop forwards registry changes to the control plane. It exits
// when the subscription closes on shutdown.
func (c *Channel) statusLoop() {
	defer close(c.done)

	for ev := range c.watch.C() {
		if ev.Kind == registry.EventRemoved {
			continue
		}
		entry, ok := c.cfg.Registry.Get(ev.Serial)
		if !ok {
			continue
		}
		c.publishStatus(entry)
	}
}

func (c *Channel) publishStatus(e registry.Entry) {
	msg := statusMessage{
		Serial:            e.Descriptor.Serial,
		Name:              e.Descriptor.Name,
		Model:             e.Descriptor.Model,
		Online:            e.Online,
		CameraURL:         e.Camera.URL,
		Time:              time.Now().UTC(),
		TelemetrySnapshot: e.Snapshot,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Str(log.FieldSerial, msg.Serial).Msg("status marshal failed")
		metrics.IncCloudStatus(false)
		return
	}

	if err := c.pub.Publish(c.statusSub, data); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldSerial, msg.Serial).Msg("status publish failed")
		metrics.IncCloudStatus(false)
		return
	}
	metrics.IncCloudStatus(true)
}
