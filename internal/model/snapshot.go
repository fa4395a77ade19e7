// SPDX-License-Identifier: MIT
package model

// Temperature is one current/target reading in degrees Celsius.
type Temperature struct {
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
}

// Fans holds duty percentages (0-100) for the cooling fans.
type Fans struct {
	Part    int `json:"part"`
	Aux     int `json:"aux"`
	Chamber int `json:"chamber"`
}

// Lights holds the on/off state of the printer's lights. Work is only
// meaningful for classes with a separate work light.
type Lights struct {
	Chamber bool `json:"chamber"`
	Work    bool `json:"work"`
}

// FilamentSlot is one tray position of a feeder unit.
type FilamentSlot struct {
	Index        int     `json:"index"`
	Material     string  `json:"material"`
	Color        string  `json:"color"`
	RemainingPct int     `json:"remaining_pct"`
	KFactor      float64 `json:"k_factor,omitempty"`
	DryTempC     int     `json:"dry_temp_c,omitempty"`
	DryTimeMin   int     `json:"dry_time_min,omitempty"`
	TagUUID      string  `json:"tag_uuid,omitempty"`
}

// FeederUnit is one multi-slot filament feeder attached to the printer.
type FeederUnit struct {
	ID       int            `json:"id"`
	Humidity int            `json:"humidity"`
	Slots    []FilamentSlot `json:"slots"`
}

// ExternalSpool is a directly mounted spool outside any feeder unit.
// Dual-head models expose one per extruder with fixed ids.
type ExternalSpool struct {
	ID           int    `json:"id"`
	Material     string `json:"material"`
	Color        string `json:"color"`
	RemainingPct int    `json:"remaining_pct"`
}

// Fixed external spool ids on dual-head models.
const (
	ExternalSpoolLeftID  = 254
	ExternalSpoolRightID = 255
)

// FilamentSystem is the full filament view: feeder units plus external
// spools. It is rebuilt wholesale when a report carries the full feeder
// array and retained unchanged otherwise.
type FilamentSystem struct {
	Units    []FeederUnit    `json:"units,omitempty"`
	External []ExternalSpool `json:"external,omitempty"`
}

// PrimaryExternal returns the first populated external spool, if any.
func (f FilamentSystem) PrimaryExternal() (ExternalSpool, bool) {
	for _, s := range f.External {
		if s.Material != "" || (s.Color != "" && s.Color != EmptyColor) {
			return s, true
		}
	}
	return ExternalSpool{}, false
}

// EmptyColor is the sentinel a device reports for an unoccupied slot.
const EmptyColor = "00000000"

// HazardSeverity classifies an active hazard report.
type HazardSeverity string

// Hazard severity constants.
const (
	SeverityFatal   HazardSeverity = "fatal"
	SeveritySerious HazardSeverity = "serious"
	SeverityCommon  HazardSeverity = "common"
	SeverityInfo    HazardSeverity = "info"
	SeverityUnknown HazardSeverity = "unknown"
)

// Hazard is one active hardware advisory raised by the device.
type Hazard struct {
	Attr uint64 `json:"attr"`
	Code uint64 `json:"code"`
}

// Severity decodes the severity class packed into the hazard code.
func (h Hazard) Severity() HazardSeverity {
	switch (h.Code >> 16) & 0xFFFF {
	case 1:
		return SeverityFatal
	case 2:
		return SeveritySerious
	case 3:
		return SeverityCommon
	case 4:
		return SeverityInfo
	default:
		return SeverityUnknown
	}
}

// TelemetrySnapshot is the canonical, additive view of one printer. Reports
// are partial; the reconciler merges each one into the previous snapshot so
// every field is always defined. Only the reconciler mutates snapshots.
type TelemetrySnapshot struct {
	State        State          `json:"state"`
	Progress     int            `json:"progress"`
	RemainingMin int            `json:"remaining_min"`
	JobName      string         `json:"job_name"`
	Layer        int            `json:"layer"`
	TotalLayers  int            `json:"total_layers"`
	Nozzles      []Temperature  `json:"nozzles"`
	Bed          Temperature    `json:"bed"`
	Chamber      Temperature    `json:"chamber"`
	Fans         Fans           `json:"fans"`
	Lights       Lights         `json:"lights"`
	SpeedLevel   int            `json:"speed_level"`
	Filament     FilamentSystem `json:"filament"`
	ErrorCode    int64          `json:"error_code"`
	Hazards      []Hazard       `json:"hazards,omitempty"`
}

// Nozzle returns the i-th nozzle reading, tolerating snapshots taken before
// the first report populated the slice.
func (t TelemetrySnapshot) Nozzle(i int) Temperature {
	if i < 0 || i >= len(t.Nozzles) {
		return Temperature{}
	}
	return t.Nozzles[i]
}

// NewSnapshot returns a well-defined empty snapshot for a printer class,
// with one zeroed nozzle entry per physical nozzle.
func NewSnapshot(c Class) TelemetrySnapshot {
	return TelemetrySnapshot{
		Nozzles: make([]Temperature, c.NozzleCount()),
	}
}

// Clone returns a copy that shares no slice storage with the receiver.
func (t TelemetrySnapshot) Clone() TelemetrySnapshot {
	out := t
	if t.Nozzles != nil {
		out.Nozzles = append([]Temperature(nil), t.Nozzles...)
	}
	if t.Hazards != nil {
		out.Hazards = append([]Hazard(nil), t.Hazards...)
	}
	if t.Filament.Units != nil {
		out.Filament.Units = make([]FeederUnit, len(t.Filament.Units))
		for i, u := range t.Filament.Units {
			cu := u
			if u.Slots != nil {
				cu.Slots = append([]FilamentSlot(nil), u.Slots...)
			}
			out.Filament.Units[i] = cu
		}
	}
	if t.Filament.External != nil {
		out.Filament.External = append([]ExternalSpool(nil), t.Filament.External...)
	}
	return out
}
