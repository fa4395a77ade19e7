// SPDX-License-Identifier: MIT

// Package reconcile merges raw printer reports into telemetry snapshots.
//
// Reports are partial: the device pushes only the fields that changed
// since the last report, so a snapshot is always the result of folding
// every report seen so far. Apply is pure; the owning session is
// responsible for persistence and fan-out.
package reconcile

import (
	"encoding/json"
	"fmt"
)

// Report is the envelope the device publishes on its report topic. Exactly
// one family is populated per message.
type Report struct {
	Print   *PrintReport   `json:"print,omitempty"`
	System  *SystemReport  `json:"system,omitempty"`
	Info    *InfoReport    `json:"info,omitempty"`
	Pushing *PushingReport `json:"pushing,omitempty"`
}

// PrintReport carries telemetry and print-job state. All fields are
// optional; pointer fields distinguish "absent" from a reported zero.
type PrintReport struct {
	SequenceID string `json:"sequence_id,omitempty"`
	Command    string `json:"command,omitempty"`

	GcodeState   string  `json:"gcode_state,omitempty"`
	Percent      *int    `json:"mc_percent,omitempty"`
	RemainingMin *int    `json:"mc_remaining_time,omitempty"`
	JobName      *string `json:"subtask_name,omitempty"`
	Layer        *int    `json:"layer_num,omitempty"`
	TotalLayers  *int    `json:"total_layer_num,omitempty"`

	NozzleTemp       *float64 `json:"nozzle_temper,omitempty"`
	NozzleTargetTemp *float64 `json:"nozzle_target_temper,omitempty"`
	BedTemp          *float64 `json:"bed_temper,omitempty"`
	BedTargetTemp    *float64 `json:"bed_target_temper,omitempty"`
	ChamberTemp      *float64 `json:"chamber_temper,omitempty"`

	// Fan duties arrive as gear strings "0".."15".
	PartFan    *string `json:"cooling_fan_speed,omitempty"`
	AuxFan     *string `json:"big_fan1_speed,omitempty"`
	ChamberFan *string `json:"big_fan2_speed,omitempty"`

	SpeedLevel *int          `json:"spd_lvl,omitempty"`
	Lights     []LightState  `json:"lights_report,omitempty"`
	PrintError *int64        `json:"print_error,omitempty"`
	Hazards    []HazardEntry `json:"hms,omitempty"`

	AMS          *FeederSystem `json:"ams,omitempty"`
	ExternalTray *Tray         `json:"vt_tray,omitempty"`
	VirtualSlots []Tray        `json:"vir_slot,omitempty"`

	Device *DeviceModules `json:"device,omitempty"`
}

// LightState is one entry of the lights_report array.
type LightState struct {
	Node string `json:"node"`
	Mode string `json:"mode"`
}

// HazardEntry is one active hardware advisory.
type HazardEntry struct {
	Attr uint64 `json:"attr"`
	Code uint64 `json:"code"`
}

// FeederSystem is the automatic-feeder section of a report. Units is the
// full feeder array; its presence (even empty) means "rebuild", its absence
// means "no feeder news".
type FeederSystem struct {
	Units []Feeder `json:"ams"`
}

// Feeder is one multi-slot feeder unit. Numeric values arrive as strings.
type Feeder struct {
	ID          string `json:"id"`
	Humidity    string `json:"humidity,omitempty"`
	HumidityRaw string `json:"humidity_raw,omitempty"`
	Trays       []Tray `json:"tray"`
}

// Tray is one filament slot, either inside a feeder or mounted externally
// (vt_tray / vir_slot).
type Tray struct {
	ID       string  `json:"id"`
	Material string  `json:"tray_type,omitempty"`
	Color    string  `json:"tray_color,omitempty"`
	Remain   int     `json:"remain,omitempty"`
	K        float64 `json:"k,omitempty"`
	DryTemp  int     `json:"drying_temp,omitempty"`
	DryTime  int     `json:"drying_time,omitempty"`
	TagUID   string  `json:"tag_uid,omitempty"`
}

// DeviceModules is the per-module hardware section newer firmware emits.
// Temperatures here are packed: current in the low 16 bits, target in the
// high 16 bits.
type DeviceModules struct {
	Extruder *ExtruderModule `json:"extruder,omitempty"`
	Nozzles  []PackedNozzle  `json:"nozzle,omitempty"`
	Chamber  *ChamberModule  `json:"ctc,omitempty"`
}

// ExtruderModule wraps the per-nozzle packed readings.
type ExtruderModule struct {
	Info []PackedNozzle `json:"info"`
}

// PackedNozzle is one packed nozzle reading.
type PackedNozzle struct {
	ID   int    `json:"id"`
	Temp uint32 `json:"temp"`
}

// ChamberModule is the conditioning module present on dual-head models.
type ChamberModule struct {
	Info *ChamberInfo `json:"info,omitempty"`
}

// ChamberInfo carries the packed chamber temperature.
type ChamberInfo struct {
	Temp uint32 `json:"temp"`
}

// SystemReport acknowledges system-family requests (light control).
type SystemReport struct {
	SequenceID string `json:"sequence_id,omitempty"`
	Command    string `json:"command,omitempty"`
	Result     string `json:"result,omitempty"`
}

// InfoReport answers info-family requests; get_version lists the firmware
// modules.
type InfoReport struct {
	SequenceID string       `json:"sequence_id,omitempty"`
	Command    string       `json:"command,omitempty"`
	Modules    []ModuleInfo `json:"module,omitempty"`
}

// ModuleInfo is one firmware module of a get_version answer.
type ModuleInfo struct {
	Name            string `json:"name"`
	SoftwareVersion string `json:"sw_ver"`
	HardwareVersion string `json:"hw_ver"`
	Serial          string `json:"sn"`
}

// PushingReport acknowledges pushing-family requests (pushall).
type PushingReport struct {
	SequenceID string `json:"sequence_id,omitempty"`
	Command    string `json:"command,omitempty"`
}

// Decode parses one raw report message.
func Decode(raw []byte) (Report, error) {
	var rep Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	return rep, nil
}
