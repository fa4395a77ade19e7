// SPDX-License-Identifier: MIT

//go:build integration
// +build integration

package test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/farmgw/internal/diagnostics"
	"github.com/ManuGH/farmgw/internal/model"
	"github.com/ManuGH/farmgw/test/helpers"
)

// TestStatusSnapshotMatchesFleetView checks that the persisted status
// file and the HTTP fleet view describe the same state.
func TestStatusSnapshotMatchesFleetView(t *testing.T) {
	gw := helpers.NewTestGateway(t, helpers.GatewayOptions{})
	defer gw.Close()

	dir := t.TempDir()
	rec := diagnostics.New(diagnostics.Config{
		Dir:      dir,
		Registry: gw.Registry,
	})
	defer rec.Close()

	gw.Registry.SetBaseURL("https://gw.example.net")
	gw.Registry.Upsert(descriptor("SER-A", "left", "P1S"))
	gw.Registry.SetOnline("SER-A", true)
	gw.Registry.SetSnapshot("SER-A", model.TelemetrySnapshot{
		State:    model.StateRunning,
		Progress: 80,
		JobName:  "bracket.3mf",
	})

	require.NoError(t, rec.WriteStatus())

	raw, err := os.ReadFile(filepath.Join(dir, "status.json"))
	require.NoError(t, err)

	var snapshot struct {
		Printers []struct {
			Serial    string `json:"serial"`
			Online    bool   `json:"online"`
			CameraURL string `json:"camera_url"`
			Snapshot  struct {
				State    string `json:"state"`
				Progress int    `json:"progress"`
				JobName  string `json:"job_name"`
			} `json:"snapshot"`
		} `json:"printers"`
	}
	require.NoError(t, json.Unmarshal(raw, &snapshot))
	require.Len(t, snapshot.Printers, 1)

	var printers []printerView
	helpers.GetJSON(t, gw.Server.URL, "/api/printers", &printers)
	require.Len(t, printers, 1)

	// Same registry, same view: file and API must agree.
	assert.Equal(t, printers[0].Serial, snapshot.Printers[0].Serial)
	assert.Equal(t, printers[0].Online, snapshot.Printers[0].Online)
	assert.Equal(t, printers[0].CameraURL, snapshot.Printers[0].CameraURL)
	assert.Equal(t, printers[0].State, snapshot.Printers[0].Snapshot.State)
	assert.Equal(t, printers[0].Progress, snapshot.Printers[0].Snapshot.Progress)
	assert.Equal(t, printers[0].JobName, snapshot.Printers[0].Snapshot.JobName)
}
