// SPDX-License-Identifier: MIT

package diagnostics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/farmgw/internal/model"
)

// statusFile is the latest-status snapshot: the whole fleet as last seen.
type statusFile struct {
	Time     time.Time       `json:"time"`
	Printers []printerRecord `json:"printers"`
}

type printerRecord struct {
	Serial    string                  `json:"serial"`
	Name      string                  `json:"name"`
	Model     string                  `json:"model"`
	Online    bool                    `json:"online"`
	CameraURL string                  `json:"camera_url,omitempty"`
	Snapshot  model.TelemetrySnapshot `json:"snapshot"`
}

// WriteStatus overwrites the snapshot file atomically with the current
// registry view. renameio gives fsync before rename, so a crash leaves
// either the old file or the new one, never a torn write.
func (r *Recorder) WriteStatus() error {
	entries := r.reg.List()
	out := statusFile{
		Time:     time.Now().UTC(),
		Printers: make([]printerRecord, 0, len(entries)),
	}
	for _, e := range entries {
		out.Printers = append(out.Printers, printerRecord{
			Serial:    e.Descriptor.Serial,
			Name:      e.Descriptor.Name,
			Model:     e.Descriptor.Model,
			Online:    e.Online,
			CameraURL: e.Camera.URL,
			Snapshot:  e.Snapshot,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status snapshot: %w", err)
	}

	pending, err := renameio.NewPendingFile(r.statusPath)
	if err != nil {
		return fmt.Errorf("create pending status file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			r.logger.Debug().Err(err).Msg("cleanup pending status file")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write status snapshot: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}
