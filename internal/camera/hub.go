// SPDX-License-Identifier: MIT

package camera

import (
	"sync"

	"github.com/ManuGH/farmgw/internal/metrics"
)

// viewerBuffer is the per-viewer frame queue. A viewer that falls this far
// behind loses its oldest frame, never the stream.
const viewerBuffer = 8

// Hub fans extracted frames out to attached viewers and caches the newest
// frame for late joiners. Slow viewers are never allowed to stall the
// camera read loop.
type Hub struct {
	serial string

	mu     sync.Mutex
	subs   map[uint64]chan []byte
	nextID uint64
	last   []byte
	closed bool
}

// NewHub returns an empty hub for one serial.
func NewHub(serial string) *Hub {
	return &Hub{
		serial: serial,
		subs:   make(map[uint64]chan []byte),
	}
}

// Publish delivers the frame to every viewer, dropping each stuck viewer's
// oldest frame first, and replaces the cached last frame. The frame must
// not be mutated afterwards.
func (h *Hub) Publish(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = frame
	for _, ch := range h.subs {
		select {
		case ch <- frame:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- frame:
		default:
		}
	}
}

// Last returns the most recent frame, if any arrived yet.
func (h *Hub) Last() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil, false
	}
	return h.last, true
}

// Viewer is one attached frame consumer.
type Viewer struct {
	hub *Hub
	id  uint64
	ch  chan []byte
}

// Subscribe attaches a viewer. On a closed hub the viewer's channel is
// already closed, so consumers end naturally.
func (h *Hub) Subscribe() *Viewer {
	ch := make(chan []byte, viewerBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return &Viewer{hub: h, ch: ch}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	metrics.CameraViewers.Inc()
	return &Viewer{hub: h, id: id, ch: ch}
}

// C returns the frame channel. It closes when the viewer or the hub closes.
func (v *Viewer) C() <-chan []byte {
	return v.ch
}

// Close detaches the viewer. Safe to call more than once.
func (v *Viewer) Close() {
	v.hub.mu.Lock()
	ch, ok := v.hub.subs[v.id]
	if ok {
		delete(v.hub.subs, v.id)
	}
	v.hub.mu.Unlock()

	if ok {
		close(ch)
		metrics.CameraViewers.Dec()
	}
}

// ViewerCount returns the number of attached viewers.
func (h *Hub) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches and closes every viewer; the hub accepts nothing after.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]chan []byte)
	h.mu.Unlock()

	for range subs {
		metrics.CameraViewers.Dec()
	}
	for _, ch := range subs {
		close(ch)
	}
}
