// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package registry owns the mutable fleet state: descriptor, online flag,
// telemetry snapshot and camera stream per serial. Every other component
// mutates through the exported operations and reads through copy-out
// accessors, so locking stays contained here.
package registry

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/model"
)

// Entry is the copy-out view of one printer.
type Entry struct {
	Descriptor model.PrinterDescriptor
	Online     bool
	Snapshot   model.TelemetrySnapshot
	Camera     model.CameraStream
}

// EventKind labels what changed about a printer.
type EventKind string

// Event kinds.
const (
	EventAdded    EventKind = "added"
	EventRemoved  EventKind = "removed"
	EventSnapshot EventKind = "snapshot"
	EventOnline   EventKind = "online"
	EventCamera   EventKind = "camera"
)

// Event is one change notification. Consumers re-read the entry; events
// carry no payload so a dropped event only delays, never corrupts.
type Event struct {
	Kind   EventKind
	Serial string
}

const dropLogEvery = 100

// Registry is the single owner of fleet state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	baseURL string
	subs    []chan Event

	dropped atomic.Uint64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Upsert inserts or replaces a descriptor. A new serial gets a class-sized
// empty snapshot and a camera stream whose technique follows the printer
// class: dual-head models stream through the relay, everything else
// directly.
func (r *Registry) Upsert(desc model.PrinterDescriptor) {
	class := model.Classify(desc.Model)

	r.mu.Lock()
	e, ok := r.entries[desc.Serial]
	if !ok {
		e = &Entry{
			Descriptor: desc,
			Snapshot:   model.NewSnapshot(class),
			Camera:     newCameraStream(desc.Serial, class),
		}
		r.entries[desc.Serial] = e
	} else {
		e.Descriptor = desc
		e.Camera = newCameraStream(desc.Serial, class)
	}
	e.Camera.URL = streamURL(r.baseURL, e.Camera)
	r.mu.Unlock()

	r.notify(Event{Kind: EventAdded, Serial: desc.Serial})
}

func newCameraStream(serial string, class model.Class) model.CameraStream {
	cam := model.CameraStream{Serial: serial, Technique: model.TechniqueDirect}
	if class.DualNozzle() {
		cam.Technique = model.TechniqueRelay
		cam.RelayName = serial
	}
	return cam
}

// Remove deletes a serial and reports whether it existed.
func (r *Registry) Remove(serial string) bool {
	r.mu.Lock()
	_, ok := r.entries[serial]
	delete(r.entries, serial)
	r.mu.Unlock()

	if ok {
		r.notify(Event{Kind: EventRemoved, Serial: serial})
	}
	return ok
}

// SetSnapshot stores a freshly reconciled snapshot.
func (r *Registry) SetSnapshot(serial string, snap model.TelemetrySnapshot) {
	r.mu.Lock()
	e, ok := r.entries[serial]
	if ok {
		e.Snapshot = snap.Clone()
	}
	r.mu.Unlock()

	if ok {
		r.notify(Event{Kind: EventSnapshot, Serial: serial})
	}
}

// SetOnline flips the online flag; unchanged values emit nothing.
func (r *Registry) SetOnline(serial string, online bool) {
	r.mu.Lock()
	e, ok := r.entries[serial]
	changed := ok && e.Online != online
	if changed {
		e.Online = online
	}
	r.mu.Unlock()

	if changed {
		r.notify(Event{Kind: EventOnline, Serial: serial})
	}
}

// SetCameraURL overrides the published camera URL for one serial.
func (r *Registry) SetCameraURL(serial, url string) {
	r.mu.Lock()
	e, ok := r.entries[serial]
	changed := ok && e.Camera.URL != url
	if changed {
		e.Camera.URL = url
	}
	r.mu.Unlock()

	if changed {
		r.notify(Event{Kind: EventCamera, Serial: serial})
	}
}

// SetBaseURL stores the externally reachable base address and recomputes
// every camera URL from it.
func (r *Registry) SetBaseURL(base string) {
	base = strings.TrimRight(base, "/")

	r.mu.Lock()
	r.baseURL = base
	var changed []string
	for serial, e := range r.entries {
		url := streamURL(base, e.Camera)
		if e.Camera.URL != url {
			e.Camera.URL = url
			changed = append(changed, serial)
		}
	}
	r.mu.Unlock()

	for _, serial := range changed {
		r.notify(Event{Kind: EventCamera, Serial: serial})
	}
}

// BaseURL returns the current external base address ("" until known).
func (r *Registry) BaseURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseURL
}

// streamURL derives the public URL for a camera stream. Direct feeds are
// served by the media gateway itself; relay feeds go through its proxy to
// the relay's MJPEG endpoint.
func streamURL(base string, cam model.CameraStream) string {
	if base == "" || cam.Serial == "" {
		return ""
	}
	if cam.Technique == model.TechniqueRelay {
		return base + "/api/stream.mjpeg?src=" + cam.RelayName
	}
	return base + "/stream/" + cam.Serial
}

// Get returns a copy of one entry.
func (r *Registry) Get(serial string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[serial]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(e), true
}

// List returns copies of all entries ordered by serial.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, copyEntry(e))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Descriptor.Serial < out[j].Descriptor.Serial
	})
	return out
}

// Serials returns all known serials ordered.
func (r *Registry) Serials() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for serial := range r.entries {
		out = append(out, serial)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Counts returns how many printers are online out of the total, for the
// fleet health checker.
func (r *Registry) Counts() (online, total int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.Online {
			online++
		}
	}
	return online, len(r.entries)
}

func copyEntry(e *Entry) Entry {
	out := *e
	out.Snapshot = e.Snapshot.Clone()
	return out
}

// Subscription is one watcher of registry events.
type Subscription struct {
	r  *Registry
	ch chan Event
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	lst := s.r.subs
	out := lst[:0]
	for _, c := range lst {
		if c != s.ch {
			out = append(out, c)
		}
	}
	s.r.subs = out
	close(s.ch)
}

// Watch registers a new event subscription with a buffered channel.
// Slow consumers lose events rather than blocking mutators.
func (r *Registry) Watch() *Subscription {
	ch := make(chan Event, 64)

	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()

	return &Subscription{r: r, ch: ch}
}

// notify try-sends to every subscription. The read lock is held across
// the sends so Close can never close a channel mid-send.
func (r *Registry) notify(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			count := r.dropped.Add(1)
			if count%dropLogEvery == 0 {
				lg := log.WithComponent("registry")
				lg.Warn().
					Str("kind", string(ev.Kind)).
					Str(log.FieldSerial, ev.Serial).
					Uint64("dropped", count).
					Msg("registry watcher too slow, event dropped")
			}
		}
	}
}
