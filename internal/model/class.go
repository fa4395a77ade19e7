// SPDX-License-Identifier: MIT
package model

import "strings"

// Class groups printer models by how their reports are decoded and how
// commands are phrased on the wire. Classification happens once, when a
// descriptor is first seen; everything downstream branches on the class,
// never on the raw model string.
type Class string

// Printer class constants.
const (
	// ClassStandard covers enclosed single-nozzle models. Temperatures
	// arrive as plain scalar fields and the chamber light is the only
	// controllable light.
	ClassStandard Class = "standard"

	// ClassOpenFrame covers open-frame single-nozzle models, which carry a
	// separate work light next to the chamber light.
	ClassOpenFrame Class = "open-frame"

	// ClassDualHead covers dual-extruder models. Nozzle temperatures arrive
	// packed per extruder, the chamber reading comes from a secondary
	// conditioning module, and the chamber light uses its own node.
	ClassDualHead Class = "dual-head"
)

// String implements fmt.Stringer.
func (c Class) String() string {
	return string(c)
}

// DualNozzle reports whether the class decodes per-extruder packed
// temperature words instead of the legacy scalar fields.
func (c Class) DualNozzle() bool {
	return c == ClassDualHead
}

// SeparateWorkLight reports whether light toggles must address the work
// light in addition to the chamber light.
func (c Class) SeparateWorkLight() bool {
	return c == ClassOpenFrame
}

// SecondaryChamberModule reports whether the chamber temperature is read
// from the conditioning module rather than the common chamber field.
func (c Class) SecondaryChamberModule() bool {
	return c == ClassDualHead
}

// NozzleCount returns the number of physical nozzles for the class.
func (c Class) NozzleCount() int {
	if c == ClassDualHead {
		return 2
	}
	return 1
}

// Classify maps a model name to its class. Matching is tolerant of casing
// and trim variants ("A1 mini", "a1-mini"); unknown models fall back to the
// standard class so a new model still produces usable telemetry.
func Classify(modelName string) Class {
	name := strings.ToUpper(strings.TrimSpace(modelName))
	switch {
	case strings.HasPrefix(name, "H2"):
		return ClassDualHead
	case strings.HasPrefix(name, "A1"):
		return ClassOpenFrame
	default:
		return ClassStandard
	}
}
