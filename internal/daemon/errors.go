// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import "errors"

var (
	// ErrMissingGateway is returned when an app is created without the
	// HTTP surface.
	ErrMissingGateway = errors.New("gateway server is required")

	// ErrMissingCloud is returned when an app is created without the
	// control-plane channel.
	ErrMissingCloud = errors.New("cloud channel is required")

	// ErrMissingManagers is returned when the device or camera manager is
	// not provided.
	ErrMissingManagers = errors.New("device and camera managers are required")
)
