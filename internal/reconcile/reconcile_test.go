// SPDX-License-Identifier: MIT
package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ManuGH/farmgw/internal/model"
)

func apply(t *testing.T, prev model.TelemetrySnapshot, raw string, class model.Class) model.TelemetrySnapshot {
	t.Helper()
	next, err := Apply(prev, []byte(raw), class)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return next
}

func TestUnpackTemp(t *testing.T) {
	tests := []struct {
		name string
		in   uint32
		want model.Temperature
	}{
		{"zero", 0, model.Temperature{}},
		{"current only", 0x0096, model.Temperature{Current: 150}},
		{"packed", 0x00E10096, model.Temperature{Current: 150, Target: 225}},
		{"max fields", 0xFFFFFFFF, model.Temperature{Current: 65535, Target: 65535}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unpackTemp(tt.in); got != tt.want {
				t.Errorf("unpackTemp(%#x) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyDualHeadPackedNozzles(t *testing.T) {
	// 0x00E10096: current 150, target 225. 0x00C80087: current 135, target 200.
	raw := `{"print":{"device":{"extruder":{"info":[{"id":0,"temp":14745750},{"id":1,"temp":13107335}]}}}}`

	next := apply(t, model.NewSnapshot(model.ClassDualHead), raw, model.ClassDualHead)

	want := []model.Temperature{
		{Current: 150, Target: 225},
		{Current: 135, Target: 200},
	}
	if diff := cmp.Diff(want, next.Nozzles); diff != "" {
		t.Errorf("nozzles mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyDualHeadLegacyNozzleFallback(t *testing.T) {
	raw := `{"print":{"device":{"nozzle":[{"id":0,"temp":14745750},{"id":1,"temp":13107335}]}}}`

	next := apply(t, model.NewSnapshot(model.ClassDualHead), raw, model.ClassDualHead)

	if next.Nozzles[0].Current != 150 || next.Nozzles[1].Current != 135 {
		t.Errorf("legacy nozzle array not decoded: %+v", next.Nozzles)
	}
}

func TestApplyDualHeadIgnoresScalarNozzleFields(t *testing.T) {
	prev := model.NewSnapshot(model.ClassDualHead)
	prev.Nozzles[0] = model.Temperature{Current: 150, Target: 225}

	raw := `{"print":{"nozzle_temper":27.5,"nozzle_target_temper":0}}`
	next := apply(t, prev, raw, model.ClassDualHead)

	if diff := cmp.Diff(prev.Nozzles, next.Nozzles); diff != "" {
		t.Errorf("scalar fields leaked into dual-nozzle decode (-want +got):\n%s", diff)
	}
}

func TestApplySingleNozzleScalars(t *testing.T) {
	raw := `{"print":{"nozzle_temper":213.4,"nozzle_target_temper":220,"bed_temper":54.9,"bed_target_temper":55}}`

	next := apply(t, model.NewSnapshot(model.ClassStandard), raw, model.ClassStandard)

	if len(next.Nozzles) != 1 {
		t.Fatalf("expected one nozzle, got %d", len(next.Nozzles))
	}
	if next.Nozzles[0] != (model.Temperature{Current: 213.4, Target: 220}) {
		t.Errorf("nozzle = %+v", next.Nozzles[0])
	}
	if next.Bed != (model.Temperature{Current: 54.9, Target: 55}) {
		t.Errorf("bed = %+v", next.Bed)
	}
}

func TestApplyPartialReportKeepsPrevious(t *testing.T) {
	prev := model.NewSnapshot(model.ClassStandard)
	prev.State = model.StateRunning
	prev.Progress = 42
	prev.JobName = "bracket.3mf"
	prev.Nozzles[0] = model.Temperature{Current: 220, Target: 220}

	next := apply(t, prev, `{"print":{"mc_percent":43}}`, model.ClassStandard)

	if next.Progress != 43 {
		t.Errorf("progress = %d, want 43", next.Progress)
	}
	if next.JobName != "bracket.3mf" || next.State != model.StateRunning {
		t.Errorf("unrelated fields changed: %+v", next)
	}
	if next.Nozzles[0].Current != 220 {
		t.Errorf("nozzle reset unexpectedly: %+v", next.Nozzles[0])
	}
}

func TestApplyMalformed(t *testing.T) {
	prev := model.NewSnapshot(model.ClassStandard)
	prev.Progress = 10

	next, err := Apply(prev, []byte(`{"print":`), model.ClassStandard)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if diff := cmp.Diff(prev, next); diff != "" {
		t.Errorf("snapshot changed on malformed input (-want +got):\n%s", diff)
	}
}

func TestApplyIdempotent(t *testing.T) {
	raw := `{"print":{
		"gcode_state":"RUNNING","mc_percent":61,"mc_remaining_time":118,
		"subtask_name":"fixture.3mf","layer_num":88,"total_layer_num":240,
		"nozzle_temper":219.6,"nozzle_target_temper":220,
		"bed_temper":55.1,"bed_target_temper":55,"chamber_temper":38,
		"cooling_fan_speed":"15","spd_lvl":2,
		"lights_report":[{"node":"chamber_light","mode":"on"}],
		"ams":{"ams":[{"id":"0","humidity_raw":"28","tray":[
			{"id":"0","tray_type":"PLA","tray_color":"00FF00FF","remain":74}
		]}]}
	}}`

	first := apply(t, model.NewSnapshot(model.ClassStandard), raw, model.ClassStandard)
	second := apply(t, first, raw, model.ClassStandard)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("reapplying the same report changed the snapshot (-want +got):\n%s", diff)
	}
}

func TestApplyIdleTransitionZeroing(t *testing.T) {
	for _, from := range []model.State{model.StateRunning, model.StatePaused, model.StatePreparing} {
		t.Run(string(from), func(t *testing.T) {
			prev := model.NewSnapshot(model.ClassStandard)
			prev.State = from
			prev.Progress = 97
			prev.RemainingMin = 4
			prev.Nozzles[0] = model.Temperature{Current: 219, Target: 220}
			prev.Bed = model.Temperature{Current: 55, Target: 55}
			prev.Chamber = model.Temperature{Current: 39, Target: 40}
			prev.Hazards = []model.Hazard{{Attr: 1, Code: 0x0300_0001}}

			next := apply(t, prev, `{"print":{"gcode_state":"FINISH"}}`, model.ClassStandard)

			if next.State != model.StateFinished {
				t.Fatalf("state = %v", next.State)
			}
			if next.Progress != 0 || next.RemainingMin != 0 {
				t.Errorf("job fields not zeroed: progress=%d remaining=%d", next.Progress, next.RemainingMin)
			}
			want := model.Temperature{}
			if next.Nozzles[0] != want || next.Bed != want || next.Chamber != want {
				t.Errorf("temperatures not zeroed: nozzle=%+v bed=%+v chamber=%+v",
					next.Nozzles[0], next.Bed, next.Chamber)
			}
			if len(next.Hazards) != 0 {
				t.Errorf("hazards not cleared: %+v", next.Hazards)
			}
		})
	}
}

func TestApplySteadyIdleKeepsActuals(t *testing.T) {
	prev := model.NewSnapshot(model.ClassStandard)
	prev.State = model.StateIdle
	prev.Nozzles[0] = model.Temperature{Current: 26}
	prev.Bed = model.Temperature{Current: 24}

	raw := `{"print":{"mc_percent":50,"nozzle_target_temper":200}}`
	next := apply(t, prev, raw, model.ClassStandard)

	// Resolved state zeroes job fields and targets on every report, but
	// actual temperatures only drop on the transition out of a print.
	if next.Progress != 0 || next.Nozzles[0].Target != 0 {
		t.Errorf("resolved cleanup skipped: progress=%d target=%v", next.Progress, next.Nozzles[0].Target)
	}
	if next.Nozzles[0].Current != 26 || next.Bed.Current != 24 {
		t.Errorf("actuals zeroed outside a transition: %+v %+v", next.Nozzles[0], next.Bed)
	}
}

func TestApplyResolvedWithActiveError(t *testing.T) {
	prev := model.NewSnapshot(model.ClassStandard)
	prev.State = model.StateRunning
	prev.Progress = 64
	prev.Nozzles[0] = model.Temperature{Current: 219, Target: 220}
	prev.Hazards = []model.Hazard{{Attr: 50331904, Code: 0x0300_8003}}

	raw := `{"print":{"gcode_state":"IDLE","print_error":83935234}}`
	next := apply(t, prev, raw, model.ClassStandard)

	if next.ErrorCode != 83935234 {
		t.Fatalf("error code = %d", next.ErrorCode)
	}
	if next.Progress != 64 || next.Nozzles[0].Target != 220 {
		t.Errorf("error snapshot was cleaned: progress=%d nozzle=%+v", next.Progress, next.Nozzles[0])
	}
	if len(next.Hazards) != 1 {
		t.Errorf("hazards dropped despite active error: %+v", next.Hazards)
	}
}

func TestApplyFeederRebuild(t *testing.T) {
	raw := `{"print":{"ams":{"ams":[{
		"id":"0","humidity":"2","humidity_raw":"31",
		"tray":[
			{"id":"0","tray_type":"PLA","tray_color":"FF0000FF","remain":82,"k":0.02,"drying_temp":55,"drying_time":480,"tag_uid":"A1B2C3D4"},
			{"id":"1","tray_type":"","tray_color":"00000000"},
			{"id":"2","tray_type":"","tray_color":"1A2B3CFF"}
		]
	}]}}}`

	next := apply(t, model.NewSnapshot(model.ClassStandard), raw, model.ClassStandard)

	want := []model.FeederUnit{{
		ID:       0,
		Humidity: 31, // exact reading wins over the coarse bucket
		Slots: []model.FilamentSlot{
			{Index: 0, Material: "PLA", Color: "FF0000FF", RemainingPct: 82, KFactor: 0.02, DryTempC: 55, DryTimeMin: 480, TagUUID: "A1B2C3D4"},
			{Index: 2, Color: "1A2B3CFF"},
		},
	}}
	if diff := cmp.Diff(want, next.Filament.Units); diff != "" {
		t.Errorf("feeder units mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyFeederRetainAndClear(t *testing.T) {
	seeded := apply(t, model.NewSnapshot(model.ClassStandard),
		`{"print":{"ams":{"ams":[{"id":"0","humidity":"4","tray":[{"id":"0","tray_type":"PETG","tray_color":"00FF00FF","remain":64}]}]}}}`,
		model.ClassStandard)
	if len(seeded.Filament.Units) != 1 || seeded.Filament.Units[0].Humidity != 70 {
		t.Fatalf("seed failed: %+v", seeded.Filament.Units)
	}

	// No feeder array: everything retained.
	retained := apply(t, seeded, `{"print":{"gcode_state":"RUNNING"}}`, model.ClassStandard)
	if diff := cmp.Diff(seeded.Filament.Units, retained.Filament.Units); diff != "" {
		t.Errorf("units changed without feeder data (-want +got):\n%s", diff)
	}

	// Empty array: explicit rebuild to no units.
	cleared := apply(t, retained, `{"print":{"ams":{"ams":[]}}}`, model.ClassStandard)
	if len(cleared.Filament.Units) != 0 {
		t.Errorf("empty feeder array did not clear units: %+v", cleared.Filament.Units)
	}
}

func TestApplyExternalSpools(t *testing.T) {
	t.Run("legacy single tray", func(t *testing.T) {
		raw := `{"print":{"vt_tray":{"id":"254","tray_type":"PETG","tray_color":"00FF00FF","remain":60}}}`
		next := apply(t, model.NewSnapshot(model.ClassStandard), raw, model.ClassStandard)

		want := []model.ExternalSpool{{ID: 254, Material: "PETG", Color: "00FF00FF", RemainingPct: 60}}
		if diff := cmp.Diff(want, next.Filament.External); diff != "" {
			t.Errorf("external mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("dual head pair keeps populated side", func(t *testing.T) {
		raw := `{"print":{"vir_slot":[
			{"id":"254","tray_type":"PLA","tray_color":"336699FF","remain":81},
			{"id":"255","tray_type":"","tray_color":"00000000"}
		]}}`
		next := apply(t, model.NewSnapshot(model.ClassDualHead), raw, model.ClassDualHead)

		if len(next.Filament.External) != 1 || next.Filament.External[0].ID != model.ExternalSpoolLeftID {
			t.Fatalf("external = %+v", next.Filament.External)
		}
		primary, ok := next.Filament.PrimaryExternal()
		if !ok || primary.Material != "PLA" {
			t.Errorf("primary = %+v ok=%v", primary, ok)
		}
	})

	t.Run("unloaded tray clears", func(t *testing.T) {
		prev := model.NewSnapshot(model.ClassStandard)
		prev.Filament.External = []model.ExternalSpool{{ID: 254, Material: "PLA"}}

		raw := `{"print":{"vt_tray":{"id":"254","tray_type":"","tray_color":"00000000"}}}`
		next := apply(t, prev, raw, model.ClassStandard)

		if len(next.Filament.External) != 0 {
			t.Errorf("external not cleared: %+v", next.Filament.External)
		}
	})
}

func TestApplyFanGears(t *testing.T) {
	raw := `{"print":{"cooling_fan_speed":"15","big_fan1_speed":"8","big_fan2_speed":"bogus"}}`

	prev := model.NewSnapshot(model.ClassStandard)
	prev.Fans.Chamber = 40
	next := apply(t, prev, raw, model.ClassStandard)

	want := model.Fans{Part: 100, Aux: 53, Chamber: 40}
	if next.Fans != want {
		t.Errorf("fans = %+v, want %+v", next.Fans, want)
	}
}

func TestApplyLights(t *testing.T) {
	raw := `{"print":{"lights_report":[{"node":"chamber_light","mode":"on"},{"node":"work_light","mode":"off"},{"node":"unknown_light","mode":"on"}]}}`

	prev := model.NewSnapshot(model.ClassOpenFrame)
	prev.Lights.Work = true
	next := apply(t, prev, raw, model.ClassOpenFrame)

	if !next.Lights.Chamber || next.Lights.Work {
		t.Errorf("lights = %+v", next.Lights)
	}

	// Dual-head firmware names its node chamber_light2.
	next = apply(t, model.NewSnapshot(model.ClassDualHead),
		`{"print":{"lights_report":[{"node":"chamber_light2","mode":"on"}]}}`, model.ClassDualHead)
	if !next.Lights.Chamber {
		t.Error("chamber_light2 not folded into chamber state")
	}
}

func TestApplyChamberSources(t *testing.T) {
	t.Run("conditioning module masks low bits", func(t *testing.T) {
		// 40<<16 | 35: only the current reading is trusted.
		raw := `{"print":{"device":{"ctc":{"info":{"temp":2621475}}},"chamber_temper":99}}`
		next := apply(t, model.NewSnapshot(model.ClassDualHead), raw, model.ClassDualHead)
		if next.Chamber.Current != 35 {
			t.Errorf("chamber = %+v, want current 35", next.Chamber)
		}
	})

	t.Run("fallback scalar", func(t *testing.T) {
		next := apply(t, model.NewSnapshot(model.ClassStandard),
			`{"print":{"chamber_temper":38.5}}`, model.ClassStandard)
		if next.Chamber.Current != 38.5 {
			t.Errorf("chamber = %+v", next.Chamber)
		}

		// Dual-head without the module falls back too.
		next = apply(t, model.NewSnapshot(model.ClassDualHead),
			`{"print":{"chamber_temper":31}}`, model.ClassDualHead)
		if next.Chamber.Current != 31 {
			t.Errorf("chamber = %+v", next.Chamber)
		}
	})
}

func TestApplyHazards(t *testing.T) {
	set := apply(t, model.NewSnapshot(model.ClassStandard),
		`{"print":{"hms":[{"attr":50331904,"code":131074}]}}`, model.ClassStandard)
	if len(set.Hazards) != 1 || set.Hazards[0].Attr != 50331904 {
		t.Fatalf("hazards = %+v", set.Hazards)
	}

	// Explicit empty list clears, absence retains.
	// The snapshot is in an unresolved (unknown) state so resolved-state
	// cleanup cannot mask the merge behavior here.
	kept := apply(t, set, `{"print":{"mc_percent":1}}`, model.ClassStandard)
	if len(kept.Hazards) != 1 {
		t.Errorf("hazards dropped without hms field: %+v", kept.Hazards)
	}
	cleared := apply(t, kept, `{"print":{"hms":[]}}`, model.ClassStandard)
	if len(cleared.Hazards) != 0 {
		t.Errorf("hazards kept despite empty hms: %+v", cleared.Hazards)
	}
}

func TestApplyAckFamiliesLeaveTelemetry(t *testing.T) {
	prev := model.NewSnapshot(model.ClassStandard)
	prev.State = model.StateRunning
	prev.Progress = 12

	for name, raw := range map[string]string{
		"system":  `{"system":{"sequence_id":"9","command":"ledctrl","result":"success"}}`,
		"info":    `{"info":{"sequence_id":"1","command":"get_version","module":[{"name":"ota","sw_ver":"01.08.02.00"}]}}`,
		"pushing": `{"pushing":{"sequence_id":"2","command":"pushall"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			next := apply(t, prev, raw, model.ClassStandard)
			if diff := cmp.Diff(prev, next); diff != "" {
				t.Errorf("ack mutated telemetry (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApplyDoesNotMutatePrev(t *testing.T) {
	prev := model.NewSnapshot(model.ClassDualHead)
	prev.Nozzles[0] = model.Temperature{Current: 100, Target: 110}
	prev.Hazards = []model.Hazard{{Attr: 7, Code: 9}}
	before := prev.Clone()

	raw := `{"print":{"gcode_state":"FINISH","device":{"extruder":{"info":[{"id":0,"temp":65},{"id":1,"temp":70}]}}}}`
	if _, err := Apply(prev, []byte(raw), model.ClassDualHead); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if diff := cmp.Diff(before, prev); diff != "" {
		t.Errorf("Apply mutated its input (-want +got):\n%s", diff)
	}
}

func TestDecodeVersionModules(t *testing.T) {
	rep, err := Decode([]byte(`{"info":{"command":"get_version","module":[
		{"name":"ota","sw_ver":"01.08.02.00","hw_ver":"","sn":"01S00C123400001"},
		{"name":"ams/0","sw_ver":"00.00.06.49","hw_ver":"AMS08","sn":"00M00A987600001"}
	]}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rep.Info == nil || len(rep.Info.Modules) != 2 {
		t.Fatalf("info = %+v", rep.Info)
	}
	if rep.Info.Modules[1].HardwareVersion != "AMS08" {
		t.Errorf("module = %+v", rep.Info.Modules[1])
	}
}
