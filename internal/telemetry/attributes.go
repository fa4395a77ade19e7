// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for the farmgw daemon.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Device attributes
	DeviceSerialKey = "device.serial"
	DeviceModelKey  = "device.model"
	DeviceClassKey  = "device.class"

	// Command attributes
	CommandActionKey   = "command.action"
	CommandSerialKey   = "command.serial"
	CommandPayloadsKey = "command.payloads"

	// Camera attributes
	CameraSerialKey    = "camera.serial"
	CameraTechniqueKey = "camera.technique"
	CameraViewersKey   = "camera.viewers"

	// Relay attributes
	RelayStreamKey   = "relay.stream"
	RelayCauseKey    = "relay.cause"
	RelayRestartsKey = "relay.restarts"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// DeviceAttributes creates printer-related span attributes.
func DeviceAttributes(serial, model, class string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if serial != "" {
		attrs = append(attrs, attribute.String(DeviceSerialKey, serial))
	}
	if model != "" {
		attrs = append(attrs, attribute.String(DeviceModelKey, model))
	}
	if class != "" {
		attrs = append(attrs, attribute.String(DeviceClassKey, class))
	}
	return attrs
}

// CommandAttributes creates command-dispatch span attributes.
func CommandAttributes(action, serial string, payloads int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CommandActionKey, action),
		attribute.String(CommandSerialKey, serial),
		attribute.Int(CommandPayloadsKey, payloads),
	}
}

// CameraAttributes creates camera-stream span attributes.
func CameraAttributes(serial, technique string, viewers int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CameraSerialKey, serial),
		attribute.String(CameraTechniqueKey, technique),
		attribute.Int(CameraViewersKey, viewers),
	}
}

// RelayAttributes creates relay-process span attributes.
func RelayAttributes(stream, cause string, restarts int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RelayStreamKey, stream),
		attribute.String(RelayCauseKey, cause),
		attribute.Int64(RelayRestartsKey, restarts),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
