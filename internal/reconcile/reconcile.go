// SPDX-License-Identifier: MIT
package reconcile

import (
	"math"
	"strconv"

	"github.com/ManuGH/farmgw/internal/model"
)

// fan gears run 0..15; snapshots carry percent.
const fanGearMax = 15

// Apply folds one raw report into the previous snapshot and returns the
// next one. prev is never mutated. A malformed message returns prev
// unchanged together with the decode error; the session logs it and moves
// on.
func Apply(prev model.TelemetrySnapshot, raw []byte, class model.Class) (model.TelemetrySnapshot, error) {
	rep, err := Decode(raw)
	if err != nil {
		return prev, err
	}

	next := prev.Clone()
	for len(next.Nozzles) < class.NozzleCount() {
		next.Nozzles = append(next.Nozzles, model.Temperature{})
	}

	p := rep.Print
	if p == nil {
		// system/info/pushing acks carry no telemetry.
		return next, nil
	}

	if p.GcodeState != "" {
		next.State = model.StateFromReport(p.GcodeState)
	}
	if p.Percent != nil {
		next.Progress = *p.Percent
	}
	if p.RemainingMin != nil {
		next.RemainingMin = *p.RemainingMin
	}
	if p.JobName != nil {
		next.JobName = *p.JobName
	}
	if p.Layer != nil {
		next.Layer = *p.Layer
	}
	if p.TotalLayers != nil {
		next.TotalLayers = *p.TotalLayers
	}
	if p.SpeedLevel != nil {
		next.SpeedLevel = *p.SpeedLevel
	}
	if p.PrintError != nil {
		next.ErrorCode = *p.PrintError
	}

	mergeNozzles(&next, p, class)
	mergeBedChamber(&next, p, class)
	mergeFans(&next, p)
	mergeLights(&next, p)

	if p.Hazards != nil {
		next.Hazards = make([]model.Hazard, 0, len(p.Hazards))
		for _, h := range p.Hazards {
			next.Hazards = append(next.Hazards, model.Hazard{Attr: h.Attr, Code: h.Code})
		}
		if len(next.Hazards) == 0 {
			next.Hazards = nil
		}
	}

	mergeFilament(&next, p)
	cleanupResolved(&next, prev)

	return next, nil
}

// unpackTemp splits a packed reading into current (low 16 bits) and target
// (high 16 bits) degrees.
func unpackTemp(v uint32) model.Temperature {
	return model.Temperature{
		Current: float64(v & 0xFFFF),
		Target:  float64((v >> 16) & 0xFFFF),
	}
}

func mergeNozzles(next *model.TelemetrySnapshot, p *PrintReport, class model.Class) {
	if class.DualNozzle() {
		// Dual-nozzle firmware reports packed per-nozzle readings; the
		// legacy scalar fields are stale there and must be ignored.
		entries := packedNozzles(p)
		for i, e := range entries {
			if i >= len(next.Nozzles) {
				break
			}
			next.Nozzles[i] = unpackTemp(e.Temp)
		}
		return
	}
	if p.NozzleTemp != nil {
		next.Nozzles[0].Current = *p.NozzleTemp
	}
	if p.NozzleTargetTemp != nil {
		next.Nozzles[0].Target = *p.NozzleTargetTemp
	}
}

// packedNozzles selects the per-nozzle source: the extruder module when
// present, else the legacy nozzle array.
func packedNozzles(p *PrintReport) []PackedNozzle {
	if p.Device == nil {
		return nil
	}
	if p.Device.Extruder != nil && len(p.Device.Extruder.Info) > 0 {
		return p.Device.Extruder.Info
	}
	return p.Device.Nozzles
}

func mergeBedChamber(next *model.TelemetrySnapshot, p *PrintReport, class model.Class) {
	if p.BedTemp != nil {
		next.Bed.Current = *p.BedTemp
	}
	if p.BedTargetTemp != nil {
		next.Bed.Target = *p.BedTargetTemp
	}

	if class.SecondaryChamberModule() && p.Device != nil &&
		p.Device.Chamber != nil && p.Device.Chamber.Info != nil {
		next.Chamber.Current = float64(p.Device.Chamber.Info.Temp & 0xFFFF)
		return
	}
	if p.ChamberTemp != nil {
		next.Chamber.Current = *p.ChamberTemp
	}
}

func mergeFans(next *model.TelemetrySnapshot, p *PrintReport) {
	if pct, ok := fanPercent(p.PartFan); ok {
		next.Fans.Part = pct
	}
	if pct, ok := fanPercent(p.AuxFan); ok {
		next.Fans.Aux = pct
	}
	if pct, ok := fanPercent(p.ChamberFan); ok {
		next.Fans.Chamber = pct
	}
}

// fanPercent converts a reported gear string to a duty percentage.
func fanPercent(gear *string) (int, bool) {
	if gear == nil {
		return 0, false
	}
	g, err := strconv.Atoi(*gear)
	if err != nil || g < 0 {
		return 0, false
	}
	if g > fanGearMax {
		g = fanGearMax
	}
	return int(math.Round(float64(g) * 100 / fanGearMax)), true
}

func mergeLights(next *model.TelemetrySnapshot, p *PrintReport) {
	for _, l := range p.Lights {
		on := l.Mode == "on"
		switch l.Node {
		case "chamber_light", "chamber_light2":
			next.Lights.Chamber = on
		case "work_light":
			next.Lights.Work = on
		}
	}
}

func mergeFilament(next *model.TelemetrySnapshot, p *PrintReport) {
	if p.AMS != nil && p.AMS.Units != nil {
		units := make([]model.FeederUnit, 0, len(p.AMS.Units))
		for _, f := range p.AMS.Units {
			unit := model.FeederUnit{
				ID:       atoiOr(f.ID, 0),
				Humidity: humidityPercent(f),
			}
			for _, tr := range f.Trays {
				if !trayPopulated(tr) {
					continue
				}
				unit.Slots = append(unit.Slots, model.FilamentSlot{
					Index:        atoiOr(tr.ID, 0),
					Material:     tr.Material,
					Color:        tr.Color,
					RemainingPct: tr.Remain,
					KFactor:      tr.K,
					DryTempC:     tr.DryTemp,
					DryTimeMin:   tr.DryTime,
					TagUUID:      tr.TagUID,
				})
			}
			units = append(units, unit)
		}
		next.Filament.Units = units
	}

	switch {
	case p.VirtualSlots != nil:
		next.Filament.External = externalSpools(p.VirtualSlots)
	case p.ExternalTray != nil:
		next.Filament.External = externalSpools([]Tray{*p.ExternalTray})
	}
}

func externalSpools(trays []Tray) []model.ExternalSpool {
	var out []model.ExternalSpool
	for _, tr := range trays {
		if !trayPopulated(tr) {
			continue
		}
		out = append(out, model.ExternalSpool{
			ID:           atoiOr(tr.ID, model.ExternalSpoolLeftID),
			Material:     tr.Material,
			Color:        tr.Color,
			RemainingPct: tr.Remain,
		})
	}
	return out
}

// trayPopulated reports whether a slot actually holds filament. Devices
// keep emitting empty slots with the all-zero color sentinel.
func trayPopulated(tr Tray) bool {
	return tr.Material != "" || (tr.Color != "" && tr.Color != model.EmptyColor)
}

// humidityPercent prefers the exact raw percentage and falls back to the
// midpoint of the coarse 1..5 bucket.
func humidityPercent(f Feeder) int {
	if f.HumidityRaw != "" {
		if v, err := strconv.Atoi(f.HumidityRaw); err == nil && v >= 0 {
			return v
		}
	}
	if idx, err := strconv.Atoi(f.Humidity); err == nil && idx >= 1 && idx <= 5 {
		return idx*20 - 10
	}
	return 0
}

func atoiOr(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

// cleanupResolved zeroes job-scoped fields once a print resolves, so stale
// progress and targets do not linger while the printer sits idle. An active
// error freezes everything for inspection.
func cleanupResolved(next *model.TelemetrySnapshot, prev model.TelemetrySnapshot) {
	if !next.State.Resolved() || next.ErrorCode != 0 {
		return
	}
	next.Progress = 0
	next.RemainingMin = 0
	for i := range next.Nozzles {
		next.Nozzles[i].Target = 0
	}
	next.Bed.Target = 0
	next.Chamber.Target = 0
	next.Hazards = nil

	if prev.State.Active() {
		// Transition out of a print: the heaters are off, drop the last
		// reported actuals as well instead of showing them until the
		// next thermal report.
		for i := range next.Nozzles {
			next.Nozzles[i].Current = 0
		}
		next.Bed.Current = 0
		next.Chamber.Current = 0
	}
}
