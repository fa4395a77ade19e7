// SPDX-License-Identifier: MIT
package model

// Command is the closed set of operator intents a printer accepts. The
// translator turns each variant into class-specific wire payloads; variants
// it does not recognise translate to an explicit no-op.
type Command interface {
	isCommand()
}

// TempTarget selects which heater a SetTemp addresses.
type TempTarget string

// Temperature target constants.
const (
	TargetNozzle TempTarget = "nozzle"
	TargetBed    TempTarget = "bed"
)

// FanNode selects which fan a FanSpeed addresses.
type FanNode string

// Fan node constants.
const (
	FanPart    FanNode = "part"
	FanAux     FanNode = "aux"
	FanChamber FanNode = "chamber"
)

// LightNode selects which light a Light command addresses. LightAuto leaves
// the choice to the printer class.
type LightNode string

// Light node constants.
const (
	LightAuto    LightNode = ""
	LightChamber LightNode = "chamber"
	LightWork    LightNode = "work"
)

// Axis selects a movement axis for Jog.
type Axis string

// Jog axis constants.
const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
	AxisE Axis = "E"
)

// Pause suspends the running job.
type Pause struct{}

// Resume continues a paused job.
type Resume struct{}

// Stop aborts the running job.
type Stop struct{}

// Home homes all axes.
type Home struct{}

// BedLevel runs the automatic bed levelling routine.
type BedLevel struct{}

// CustomGcode sends raw G-code lines verbatim.
type CustomGcode struct {
	Lines []string
}

// SetTemp sets a heater target in degrees Celsius.
type SetTemp struct {
	Target  TempTarget
	Degrees int
}

// SpeedLevel selects the print speed profile (1 = quiet … 4 = fastest).
type SpeedLevel struct {
	Level int
}

// FanSpeed sets one fan's duty as a 0-100 percentage.
type FanSpeed struct {
	Fan     FanNode
	Percent int
}

// Light toggles a printer light.
type Light struct {
	Node LightNode
	On   bool
}

// Jog moves one axis relative to the current position.
type Jog struct {
	Axis Axis
	Dist float64
	Feed int
}

// LoadFilament loads filament from a feeder slot into the extruder.
type LoadFilament struct {
	Slot int
}

// UnloadFilament unloads the active filament.
type UnloadFilament struct{}

// ConfigureSlot assigns material metadata to a feeder slot.
type ConfigureSlot struct {
	Unit     int
	Slot     int
	Material string
	Color    string
	MinTemp  int
	MaxTemp  int
}

func (Pause) isCommand()          {}
func (Resume) isCommand()         {}
func (Stop) isCommand()           {}
func (Home) isCommand()           {}
func (BedLevel) isCommand()       {}
func (CustomGcode) isCommand()    {}
func (SetTemp) isCommand()        {}
func (SpeedLevel) isCommand()     {}
func (FanSpeed) isCommand()       {}
func (Light) isCommand()          {}
func (Jog) isCommand()            {}
func (LoadFilament) isCommand()   {}
func (UnloadFilament) isCommand() {}
func (ConfigureSlot) isCommand()  {}
