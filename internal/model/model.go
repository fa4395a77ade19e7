// SPDX-License-Identifier: MIT

// Package model holds the canonical domain types shared by the gateway:
// printer descriptors, connection and lifecycle states, telemetry snapshots
// and the closed command set. Types here carry no behaviour beyond
// classification and formatting; mutation rules live with their owners.
package model

import (
	"encoding/json"
	"fmt"
)

// PrinterDescriptor identifies one printer of the fleet. Descriptors are
// immutable; a re-announce from the control plane replaces the value
// wholesale.
type PrinterDescriptor struct {
	Serial     string `json:"serial"`
	Name       string `json:"name"`
	Model      string `json:"model"`
	Host       string `json:"host"`
	AccessCode string `json:"access_code"`
}

// Connectable reports whether the descriptor carries enough to open a
// device session. Incomplete descriptors stay visible in the registry but
// no connection is attempted for them.
func (d PrinterDescriptor) Connectable() bool {
	return d.Serial != "" && d.Host != "" && d.AccessCode != ""
}

// ConnState represents the transport state of one device session.
type ConnState string

// Connection state constants.
const (
	// ConnDisconnected indicates no transport to the device.
	ConnDisconnected ConnState = "disconnected"

	// ConnConnecting indicates a connect attempt is in flight.
	ConnConnecting ConnState = "connecting"

	// ConnConnected indicates a live subscribed session.
	ConnConnected ConnState = "connected"
)

// String implements fmt.Stringer.
func (s ConnState) String() string {
	return string(s)
}

// IsValid checks whether the connection state is valid.
func (s ConnState) IsValid() bool {
	switch s {
	case ConnDisconnected, ConnConnecting, ConnConnected:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s ConnState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ConnState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state := ConnState(str)
	if !state.IsValid() {
		return fmt.Errorf("invalid connection state: %q", str)
	}
	*s = state
	return nil
}

// StreamTechnique selects how a camera feed reaches viewers.
type StreamTechnique string

// Stream technique constants.
const (
	// TechniqueDirect serves JPEG frames pulled straight off the device
	// socket through the media gateway.
	TechniqueDirect StreamTechnique = "direct"

	// TechniqueRelay serves the device's RTSP feed through the external
	// relay process.
	TechniqueRelay StreamTechnique = "relay"
)

// CameraStream describes the public view of one printer's camera.
type CameraStream struct {
	Serial    string          `json:"serial"`
	Technique StreamTechnique `json:"technique"`
	URL       string          `json:"url"`
	RelayName string          `json:"relay_name,omitempty"`
}
