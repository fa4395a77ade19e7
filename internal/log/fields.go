// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSerial        = "serial"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldSequenceID    = "sequence_id"
	FieldGatewayID     = "gateway_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldProcess   = "process"
	FieldAttempt   = "attempt"

	// Device / stream fields
	FieldModel   = "model"
	FieldTopic   = "topic"
	FieldCommand = "command"
	FieldStream  = "stream"
	FieldFrames  = "frames"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"

	// Network fields
	FieldHost = "host"
	FieldPort = "port"
)
