// SPDX-License-Identifier: MIT

package model

import (
	"encoding/json"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  Class
	}{
		{"enclosed flagship", "X1C", ClassStandard},
		{"enclosed compact", "P1S", ClassStandard},
		{"open frame", "A1", ClassOpenFrame},
		{"open frame mini", "A1 mini", ClassOpenFrame},
		{"open frame lowercase", "a1-mini", ClassOpenFrame},
		{"dual head", "H2D", ClassDualHead},
		{"dual head padded", "  h2d ", ClassDualHead},
		{"unknown model", "Z9", ClassStandard},
		{"empty", "", ClassStandard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.model); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestClassCapabilities(t *testing.T) {
	if !ClassDualHead.DualNozzle() || ClassStandard.DualNozzle() {
		t.Error("only dual-head classes decode packed extruder words")
	}
	if !ClassOpenFrame.SeparateWorkLight() || ClassDualHead.SeparateWorkLight() {
		t.Error("only open-frame classes address a work light")
	}
	if !ClassDualHead.SecondaryChamberModule() {
		t.Error("dual-head chamber reading comes from the conditioning module")
	}
	if ClassDualHead.NozzleCount() != 2 || ClassStandard.NozzleCount() != 1 {
		t.Error("nozzle count mismatch")
	}
}

func TestStateFromReport(t *testing.T) {
	tests := []struct {
		raw  string
		want State
	}{
		{"RUNNING", StateRunning},
		{"running", StateRunning},
		{"PAUSE", StatePaused},
		{"IDLE", StateIdle},
		{"FINISH", StateFinished},
		{"FAILED", StateError},
		{"PREPARE", StatePreparing},
		{"SLICING", StatePreparing},
		{" idle ", StateIdle},
		{"SOMETHING_NEW", StateUnknown},
		{"", StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := StateFromReport(tt.raw); got != tt.want {
				t.Errorf("StateFromReport(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestStatePredicates(t *testing.T) {
	if !StateRunning.Active() || !StatePaused.Active() || !StatePreparing.Active() {
		t.Error("running/paused/preparing are active states")
	}
	if StateIdle.Active() || StateFinished.Active() {
		t.Error("idle/finished are not active")
	}
	if !StateIdle.Resolved() || !StateFinished.Resolved() {
		t.Error("idle/finished are resolved states")
	}
	if StateError.Resolved() {
		t.Error("error is not a resolved state")
	}
}

func TestStateMarshalUnknown(t *testing.T) {
	b, err := json.Marshal(StateUnknown)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"unknown"` {
		t.Errorf("zero state marshals as %s, want \"unknown\"", b)
	}
}

func TestConnStateUnmarshalRejectsInvalid(t *testing.T) {
	var s ConnState
	if err := json.Unmarshal([]byte(`"connected"`), &s); err != nil {
		t.Fatalf("valid state rejected: %v", err)
	}
	if s != ConnConnected {
		t.Errorf("got %v, want %v", s, ConnConnected)
	}
	if err := json.Unmarshal([]byte(`"warp-speed"`), &s); err == nil {
		t.Error("invalid state accepted")
	}
}

func TestDescriptorConnectable(t *testing.T) {
	full := PrinterDescriptor{Serial: "01S00C123400001", Host: "10.0.0.7", AccessCode: "12345678"}
	if !full.Connectable() {
		t.Error("complete descriptor should be connectable")
	}
	for _, d := range []PrinterDescriptor{
		{Host: "10.0.0.7", AccessCode: "12345678"},
		{Serial: "01S00C123400001", AccessCode: "12345678"},
		{Serial: "01S00C123400001", Host: "10.0.0.7"},
	} {
		if d.Connectable() {
			t.Errorf("incomplete descriptor %+v should not be connectable", d)
		}
	}
}

func TestHazardSeverity(t *testing.T) {
	tests := []struct {
		name string
		code uint64
		want HazardSeverity
	}{
		{"fatal", 0x0001_0000, SeverityFatal},
		{"serious", 0x0002_0300, SeveritySerious},
		{"common", 0x0003_0000, SeverityCommon},
		{"info", 0x0004_0001, SeverityInfo},
		{"unclassified", 0x0009_0000, SeverityUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Hazard{Code: tt.code}
			if got := h.Severity(); got != tt.want {
				t.Errorf("Severity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrimaryExternal(t *testing.T) {
	empty := FilamentSystem{External: []ExternalSpool{
		{ID: ExternalSpoolLeftID, Color: EmptyColor},
		{ID: ExternalSpoolRightID},
	}}
	if _, ok := empty.PrimaryExternal(); ok {
		t.Error("unpopulated spools should yield no primary")
	}

	loaded := FilamentSystem{External: []ExternalSpool{
		{ID: ExternalSpoolLeftID, Color: EmptyColor},
		{ID: ExternalSpoolRightID, Material: "PETG", Color: "00FF00FF"},
	}}
	got, ok := loaded.PrimaryExternal()
	if !ok || got.ID != ExternalSpoolRightID {
		t.Errorf("PrimaryExternal() = %+v, %v; want right spool", got, ok)
	}
}

func TestNewSnapshotWellDefined(t *testing.T) {
	s := NewSnapshot(ClassDualHead)
	if len(s.Nozzles) != 2 {
		t.Fatalf("dual-head snapshot carries %d nozzle entries, want 2", len(s.Nozzles))
	}
	if s.State != StateUnknown {
		t.Errorf("fresh snapshot state = %v, want unknown", s.State)
	}
	if got := s.Nozzle(5); got != (Temperature{}) {
		t.Errorf("out-of-range nozzle read = %+v, want zero", got)
	}
}
