// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package diagnostics persists local gateway state for postmortem use: an
// append-only raw-report log and a latest-status snapshot file. Everything
// here is best effort; IO failures degrade to log lines and never reach
// the paths that feed them.
package diagnostics

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/registry"
)

// File names inside the state directory.
const (
	rawLogName  = "reports.jsonl"
	statusName  = "status.json"
	rawLogPerms = 0o600
)

// Config wires a Recorder.
type Config struct {
	// Dir is the state directory. Startup checks verify it is writable
	// before the recorder exists.
	Dir string

	// Registry supplies the fleet view for status snapshots.
	Registry *registry.Registry

	// StatusInterval paces periodic snapshot writes. Zero disables the
	// ticker; Close still writes a final snapshot.
	StatusInterval time.Duration

	// RawReports enables the append-only report log.
	RawReports bool
}

// Recorder owns the diagnostic files.
type Recorder struct {
	logger     zerolog.Logger
	reg        *registry.Registry
	statusPath string
	interval   time.Duration

	mu  sync.Mutex
	raw *os.File

	started bool
	stop    chan struct{}
	done    chan struct{}
}

// New opens the raw-report log when enabled and prepares the snapshot
// writer. An unopenable report log disables that half and is logged, not
// returned: the gateway runs fine without its diagnostics.
func New(cfg Config) *Recorder {
	r := &Recorder{
		logger:     log.WithComponent("diagnostics"),
		reg:        cfg.Registry,
		statusPath: filepath.Join(cfg.Dir, statusName),
		interval:   cfg.StatusInterval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if cfg.RawReports {
		path := filepath.Join(cfg.Dir, rawLogName)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, rawLogPerms)
		if err != nil {
			r.logger.Error().Err(err).Str(log.FieldPath, path).Msg("raw report log unavailable")
		} else {
			r.raw = f
			r.logger.Info().Str(log.FieldPath, path).Msg("raw report log open")
		}
	}
	return r
}

// Start begins the periodic snapshot writer. With a zero interval it does
// nothing; Close still produces the final snapshot.
func (r *Recorder) Start() {
	if r.interval <= 0 {
		return
	}
	r.started = true

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := r.WriteStatus(); err != nil {
					r.logger.Warn().Err(err).Msg("status snapshot write failed")
				}
			case <-r.stop:
				return
			}
		}
	}()
}

// Close stops the ticker, writes a final status snapshot and closes the
// report log.
func (r *Recorder) Close() {
	if r.started {
		close(r.stop)
		<-r.done
	}

	if err := r.WriteStatus(); err != nil {
		r.logger.Warn().Err(err).Msg("final status snapshot write failed")
	}

	r.mu.Lock()
	if r.raw != nil {
		if err := r.raw.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("close raw report log")
		}
		r.raw = nil
	}
	r.mu.Unlock()
}
