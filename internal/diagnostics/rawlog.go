// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package diagnostics

import (
	"encoding/json"
	"time"

	"github.com/ManuGH/farmgw/internal/log"
)

// rawRecord is one report-log line. Raw embeds the device payload verbatim
// when it is valid JSON; anything else is stored as a JSON string so every
// line stays parseable.
type rawRecord struct {
	Time   time.Time       `json:"ts"`
	Serial string          `json:"serial"`
	Raw    json.RawMessage `json:"raw"`
}

// RawReport appends one device report to the log. The signature matches
// the device manager's report hook. No-op when the log is disabled or
// failed to open.
func (r *Recorder) RawReport(serial string, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.raw == nil {
		return
	}

	rec := rawRecord{Time: time.Now().UTC(), Serial: serial}
	if json.Valid(raw) {
		rec.Raw = json.RawMessage(raw)
	} else {
		quoted, err := json.Marshal(string(raw))
		if err != nil {
			r.logger.Debug().Err(err).Str(log.FieldSerial, serial).Msg("raw report not recordable")
			return
		}
		rec.Raw = quoted
	}

	line, err := json.Marshal(rec)
	if err != nil {
		r.logger.Debug().Err(err).Str(log.FieldSerial, serial).Msg("raw report encode failed")
		return
	}
	if _, err := r.raw.Write(append(line, '\n')); err != nil {
		r.logger.Warn().Err(err).Str(log.FieldSerial, serial).Msg("raw report write failed")
	}
}
