// SPDX-License-Identifier: MIT
package model

import (
	"encoding/json"
	"strings"
)

// State is the canonical print lifecycle state. The zero value is
// StateUnknown so a snapshot that never saw a report stays well-defined.
type State string

// Lifecycle state constants.
const (
	// StateUnknown indicates no lifecycle information has been received yet.
	StateUnknown State = ""

	// StateIdle indicates the printer is powered and not printing.
	StateIdle State = "idle"

	// StatePreparing indicates the printer is heating, calibrating or
	// slicing ahead of a job.
	StatePreparing State = "preparing"

	// StateRunning indicates an active print job.
	StateRunning State = "running"

	// StatePaused indicates a job suspended by user or hardware.
	StatePaused State = "paused"

	// StateFinished indicates the last job completed successfully.
	StateFinished State = "finished"

	// StateError indicates the last job aborted with a fault.
	StateError State = "error"
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == StateUnknown {
		return "unknown"
	}
	return string(s)
}

// IsValid checks whether the state is one of the defined values.
func (s State) IsValid() bool {
	switch s {
	case StateUnknown, StateIdle, StatePreparing, StateRunning, StatePaused,
		StateFinished, StateError:
		return true
	default:
		return false
	}
}

// Active reports whether a job currently holds the printer.
func (s State) Active() bool {
	switch s {
	case StatePreparing, StateRunning, StatePaused:
		return true
	default:
		return false
	}
}

// Resolved reports whether the printer has settled with no job in flight.
// Stale job fields are cleared when a report resolves, unless an error code
// is active.
func (s State) Resolved() bool {
	return s == StateIdle || s == StateFinished
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// rawStates maps device-reported lifecycle strings to canonical states.
// Devices report several preparation phases; they all collapse into
// StatePreparing.
var rawStates = map[string]State{
	"IDLE":               StateIdle,
	"INIT":               StateIdle,
	"OFFLINE":            StateUnknown,
	"PREPARE":            StatePreparing,
	"SLICING":            StatePreparing,
	"RUNNING":            StateRunning,
	"PAUSE":              StatePaused,
	"FINISH":             StateFinished,
	"FAILED":             StateError,
	"UNKNOWN":            StateUnknown,
	"AUTO_BED_LEVEL":     StatePreparing,
	"HEATBED_PREHEATING": StatePreparing,
}

// StateFromReport maps the raw lifecycle string of a device report to the
// canonical state. Unrecognised values map to StateUnknown rather than
// failing the report.
func StateFromReport(raw string) State {
	if s, ok := rawStates[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StateUnknown
}
