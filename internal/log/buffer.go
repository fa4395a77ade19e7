// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"sync"
)

const (
	// maxRecentLogs bounds the in-memory ring served to the status UI.
	maxRecentLogs = 200
	// maxPartialBytes bounds how much of an unterminated line we buffer.
	maxPartialBytes = 64 * 1024
	// maxLineBytes bounds a single structured log line.
	maxLineBytes = 16 * 1024
)

// RecentLog is one captured structured log entry.
type RecentLog struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields"`
}

// BufferMetrics counts entries the capture path had to drop.
type BufferMetrics struct {
	DroppedPartialOverflow uint64
	DroppedTooLargeLines   uint64
	DroppedIrrelevant      uint64
}

var (
	recentMu      sync.Mutex
	recentLogs    []RecentLog
	bufferMetrics BufferMetrics
)

// structuredBufferWriter tees structured log lines into the recent-log ring.
// Lines arrive from zerolog as JSON; writes may split a line across calls, so
// bytes without a trailing newline are held until the rest arrives.
type structuredBufferWriter struct {
	mu      sync.Mutex
	partial bytes.Buffer
}

func (w *structuredBufferWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial.Write(p)
	for {
		data := w.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, data[:idx])
		w.partial.Next(idx + 1)
		captureLine(line)
	}
	if w.partial.Len() > maxPartialBytes {
		w.partial.Reset()
		recentMu.Lock()
		bufferMetrics.DroppedPartialOverflow++
		recentMu.Unlock()
	}
	return len(p), nil
}

func captureLine(line []byte) {
	if len(line) == 0 {
		return
	}
	if len(line) > maxLineBytes {
		recentMu.Lock()
		bufferMetrics.DroppedTooLargeLines++
		recentMu.Unlock()
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		return
	}
	if !relevant(fields) {
		recentMu.Lock()
		bufferMetrics.DroppedIrrelevant++
		recentMu.Unlock()
		return
	}
	entry := RecentLog{Fields: fields}
	if v, ok := fields["time"].(string); ok {
		entry.Time = v
	}
	if v, ok := fields["level"].(string); ok {
		entry.Level = v
	}
	if v, ok := fields["message"].(string); ok {
		entry.Message = v
	}

	recentMu.Lock()
	recentLogs = append(recentLogs, entry)
	if len(recentLogs) > maxRecentLogs {
		recentLogs = recentLogs[len(recentLogs)-maxRecentLogs:]
	}
	recentMu.Unlock()
}

// relevant keeps lifecycle entries the status UI cares about: anything
// carrying an event tag, or warnings and errors regardless of tag.
func relevant(fields map[string]any) bool {
	if v, ok := fields["event"].(string); ok && v != "" {
		return true
	}
	switch fields["level"] {
	case "warn", "error", "fatal":
		return true
	}
	return false
}

// GetRecentLogs returns a copy of the captured entries, oldest first.
func GetRecentLogs() []RecentLog {
	recentMu.Lock()
	defer recentMu.Unlock()
	out := make([]RecentLog, len(recentLogs))
	copy(out, recentLogs)
	return out
}

// ClearRecentLogs empties the ring and resets the drop counters.
func ClearRecentLogs() {
	recentMu.Lock()
	defer recentMu.Unlock()
	recentLogs = nil
	bufferMetrics = BufferMetrics{}
}

// GetBufferMetrics returns a snapshot of the drop counters.
func GetBufferMetrics() BufferMetrics {
	recentMu.Lock()
	defer recentMu.Unlock()
	return bufferMetrics
}
