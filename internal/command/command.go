// SPDX-License-Identifier: MIT

// Package command translates abstract printer commands into the JSON
// request messages the device protocol expects. Translation is table
// driven; the few per-model differences (light nodes, packed extruders)
// branch on the printer class.
package command

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ManuGH/farmgw/internal/model"
)

// Payload is one message for the device request topic. DelayAfter tells
// the publishing session to wait before sending the next payload of the
// same translation.
type Payload struct {
	Body       []byte
	DelayAfter time.Duration
}

// slotFollowUpDelay gives the feeder firmware time to commit a slot
// assignment before the full-state request goes out.
const slotFollowUpDelay = time.Second

var sequence atomic.Uint64

// nextSequence returns a fresh request sequence id. The device echoes it
// in acks, which keeps correlated log lines readable.
func nextSequence() string {
	return strconv.FormatUint(sequence.Add(1), 10)
}

type printRequest struct {
	SequenceID string `json:"sequence_id"`
	Command    string `json:"command"`
	Param      string `json:"param,omitempty"`
}

type calibrationRequest struct {
	SequenceID string `json:"sequence_id"`
	Command    string `json:"command"`
	Option     int    `json:"option"`
}

type changeFilamentRequest struct {
	SequenceID string `json:"sequence_id"`
	Command    string `json:"command"`
	Target     int    `json:"target"`
	CurrTemp   int    `json:"curr_temp"`
	TarTemp    int    `json:"tar_temp"`
}

type filamentSettingRequest struct {
	SequenceID    string `json:"sequence_id"`
	Command       string `json:"command"`
	UnitID        int    `json:"ams_id"`
	TrayID        int    `json:"tray_id"`
	TrayInfoIdx   string `json:"tray_info_idx"`
	TrayColor     string `json:"tray_color"`
	NozzleTempMin int    `json:"nozzle_temp_min"`
	NozzleTempMax int    `json:"nozzle_temp_max"`
	TrayType      string `json:"tray_type"`
}

type ledControlRequest struct {
	SequenceID   string `json:"sequence_id"`
	Command      string `json:"command"`
	LEDNode      string `json:"led_node"`
	LEDMode      string `json:"led_mode"`
	LEDOnTime    int    `json:"led_on_time"`
	LEDOffTime   int    `json:"led_off_time"`
	LoopTimes    int    `json:"loop_times"`
	IntervalTime int    `json:"interval_time"`
}

type bareRequest struct {
	SequenceID string `json:"sequence_id"`
	Command    string `json:"command"`
}

// wrap envelopes a family request the way the device expects:
// {"<family>": {...}}.
func wrap(family string, body any) (Payload, error) {
	b, err := json.Marshal(map[string]any{family: body})
	if err != nil {
		return Payload{}, fmt.Errorf("encode %s request: %w", family, err)
	}
	return Payload{Body: b}, nil
}

func printPayload(command, param string) (Payload, error) {
	return wrap("print", printRequest{
		SequenceID: nextSequence(),
		Command:    command,
		Param:      param,
	})
}

func gcodePayload(lines string) (Payload, error) {
	return printPayload("gcode_line", lines)
}

// VersionRequest builds the info-family get_version priming request.
func VersionRequest() ([]byte, error) {
	p, err := wrap("info", bareRequest{SequenceID: nextSequence(), Command: "get_version"})
	if err != nil {
		return nil, err
	}
	return p.Body, nil
}

// PushAllRequest builds the pushing-family full-state request.
func PushAllRequest() ([]byte, error) {
	p, err := wrap("pushing", bareRequest{SequenceID: nextSequence(), Command: "pushall"})
	if err != nil {
		return nil, err
	}
	return p.Body, nil
}

// Translate maps one abstract command to its ordered device payloads.
// Unknown command kinds translate to (nil, nil): the caller drops them
// without treating that as a failure.
func Translate(class model.Class, cmd model.Command) ([]Payload, error) {
	switch c := cmd.(type) {
	case model.Pause:
		return single(printPayload("pause", ""))
	case model.Resume:
		return single(printPayload("resume", ""))
	case model.Stop:
		return single(printPayload("stop", ""))
	case model.Home:
		return single(gcodePayload("G28"))
	case model.BedLevel:
		return single(wrap("print", calibrationRequest{
			SequenceID: nextSequence(),
			Command:    "calibration",
			Option:     2,
		}))
	case model.CustomGcode:
		return single(gcodePayload(strings.Join(c.Lines, "\n")))
	case model.SetTemp:
		return translateSetTemp(c)
	case model.SpeedLevel:
		return single(printPayload("print_speed", strconv.Itoa(c.Level)))
	case model.FanSpeed:
		return translateFan(c)
	case model.Light:
		return translateLight(class, c)
	case model.Jog:
		return translateJog(c)
	case model.LoadFilament:
		return single(wrap("print", changeFilamentRequest{
			SequenceID: nextSequence(),
			Command:    "ams_change_filament",
			Target:     c.Slot,
			CurrTemp:   215,
			TarTemp:    215,
		}))
	case model.UnloadFilament:
		return single(wrap("print", changeFilamentRequest{
			SequenceID: nextSequence(),
			Command:    "ams_change_filament",
			Target:     unloadTarget,
			CurrTemp:   215,
			TarTemp:    215,
		}))
	case model.ConfigureSlot:
		return translateConfigureSlot(c)
	default:
		return nil, nil
	}
}

// unloadTarget is the pseudo slot the feeder interprets as "retract to
// spool".
const unloadTarget = 255

func single(p Payload, err error) ([]Payload, error) {
	if err != nil {
		return nil, err
	}
	return []Payload{p}, nil
}

func translateSetTemp(c model.SetTemp) ([]Payload, error) {
	code := "M104"
	if c.Target == model.TargetBed {
		code = "M140"
	}
	return single(gcodePayload(fmt.Sprintf("%s S%d", code, c.Degrees)))
}

// translateFan rescales 0-100 percent onto the native 0-255 duty range.
func translateFan(c model.FanSpeed) ([]Payload, error) {
	pct := c.Percent
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	duty := int(math.Round(float64(pct) * 2.55))

	idx, ok := fanIndex[c.Fan]
	if !ok {
		idx = fanIndex[model.FanPart]
	}
	return single(gcodePayload(fmt.Sprintf("M106 P%d S%d", idx, duty)))
}

var fanIndex = map[model.FanNode]int{
	model.FanPart:    1,
	model.FanAux:     2,
	model.FanChamber: 3,
}

func ledPayload(node string, on bool) (Payload, error) {
	mode := "off"
	if on {
		mode = "on"
	}
	return wrap("system", ledControlRequest{
		SequenceID: nextSequence(),
		Command:    "ledctrl",
		LEDNode:    node,
		LEDMode:    mode,
		LEDOnTime:  500,
		LEDOffTime: 500,
	})
}

// translateLight addresses the light nodes a class actually has. Open
// frame models pair a chamber node with a separate work light and both
// are switched together; dual-head models renamed their chamber node.
func translateLight(class model.Class, c model.Light) ([]Payload, error) {
	if class.SeparateWorkLight() {
		chamber, err := ledPayload("chamber_light", c.On)
		if err != nil {
			return nil, err
		}
		work, err := ledPayload("work_light", c.On)
		if err != nil {
			return nil, err
		}
		return []Payload{chamber, work}, nil
	}

	node := "chamber_light"
	if class.SecondaryChamberModule() {
		node = "chamber_light2"
	}
	if c.Node == model.LightWork {
		node = "work_light"
	}
	return single(ledPayload(node, c.On))
}

// translateJog emits the strict three-step sequence: relative mode, move,
// absolute mode. The session publishes all three under one lock so no
// other command can interleave.
func translateJog(c model.Jog) ([]Payload, error) {
	steps := []string{
		"G91",
		fmt.Sprintf("G1 %s%s F%d", c.Axis, formatDist(c.Dist), c.Feed),
		"G90",
	}
	out := make([]Payload, 0, len(steps))
	for _, s := range steps {
		p, err := gcodePayload(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func formatDist(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}

func translateConfigureSlot(c model.ConfigureSlot) ([]Payload, error) {
	setting, err := wrap("print", filamentSettingRequest{
		SequenceID:    nextSequence(),
		Command:       "ams_filament_setting",
		UnitID:        c.Unit,
		TrayID:        c.Slot,
		TrayInfoIdx:   MaterialCode(c.Material),
		TrayColor:     c.Color,
		NozzleTempMin: c.MinTemp,
		NozzleTempMax: c.MaxTemp,
		TrayType:      c.Material,
	})
	if err != nil {
		return nil, err
	}
	setting.DelayAfter = slotFollowUpDelay

	push, err := wrap("pushing", bareRequest{SequenceID: nextSequence(), Command: "pushall"})
	if err != nil {
		return nil, err
	}
	return []Payload{setting, push}, nil
}
