// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediagw

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/metrics"
	"github.com/ManuGH/farmgw/internal/model"
	"github.com/ManuGH/farmgw/internal/telemetry"
)

// streamBoundary separates the parts of the multipart MJPEG response.
const streamBoundary = "frame"

// handleStream serves a live MJPEG stream for one printer. Each viewer
// gets its own hub subscription; a stalled viewer only loses frames, it
// never backpressures the camera reader.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	hub, ok := s.cfg.Cameras.Hub(serial)
	if !ok {
		writeError(w, http.StatusNotFound, "no camera stream for this serial")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	viewer := hub.Subscribe()
	defer viewer.Close()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := log.WithPrinter("mediagw", serial)
	logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("viewer attached")

	start := time.Now()
	frames := 0
	defer func() {
		metrics.ObserveStreamDuration(time.Since(start))
		logger.Debug().
			Int(log.FieldFrames, frames).
			Dur("duration", time.Since(start)).
			Msg("viewer detached")
	}()

	// The cached frame goes out first so the picture appears before the
	// camera produces the next one.
	if frame, ok := hub.Last(); ok {
		if err := writeFramePart(w, frame); err != nil {
			return
		}
		frames++
		flusher.Flush()
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, open := <-viewer.C():
			if !open {
				// Hub closed: the printer was removed.
				return
			}
			if err := writeFramePart(w, frame); err != nil {
				if !isExpectedStreamError(err) {
					logger.Warn().Err(err).Msg("stream write failed")
				}
				return
			}
			frames++
			flusher.Flush()
		}
	}
}

func writeFramePart(w io.Writer, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// isExpectedStreamError reports write failures that just mean the viewer
// went away.
func isExpectedStreamError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "i/o timeout")
}

// handleFrame serves the most recent JPEG for one printer. 404 until the
// camera has produced a first frame.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	hub, ok := s.cfg.Cameras.Hub(serial)
	if !ok {
		writeError(w, http.StatusNotFound, "no camera stream for this serial")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		telemetry.CameraAttributes(serial, string(model.TechniqueDirect), hub.ViewerCount())...)
	frame, ok := hub.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no frame captured yet")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(frame)
}

// printerStatus is the local diagnostics view of one printer. Access
// codes stay out of it.
type printerStatus struct {
	Serial    string      `json:"serial"`
	Name      string      `json:"name"`
	Model     string      `json:"model"`
	Online    bool        `json:"online"`
	State     model.State `json:"state"`
	Progress  int         `json:"progress"`
	JobName   string      `json:"job_name,omitempty"`
	CameraURL string      `json:"camera_url,omitempty"`
}

func (s *Server) handlePrinters(w http.ResponseWriter, _ *http.Request) {
	entries := s.cfg.Registry.List()
	resp := make([]printerStatus, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, printerStatus{
			Serial:    e.Descriptor.Serial,
			Name:      e.Descriptor.Name,
			Model:     e.Descriptor.Model,
			Online:    e.Online,
			State:     e.Snapshot.State,
			Progress:  e.Snapshot.Progress,
			JobName:   e.Snapshot.JobName,
			CameraURL: e.Camera.URL,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode printers response")
	}
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, _ *http.Request) {
	logs := log.GetRecentLogs()

	// Newest first.
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(logs); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode logs response")
	}
}

//go:embed stream.html
var viewerHTML string

var viewerTmpl = template.Must(template.New("stream.html").Parse(viewerHTML))

type viewerStream struct {
	Serial string
	Name   string
	Path   string
	Online bool
}

type viewerPage struct {
	Stream  *viewerStream
	Streams []viewerStream
}

// handleViewerPage renders the camera viewer. With ?src=<serial> it shows
// that printer's stream; without, an index of every registered camera.
// Rendering is fully server-side so the strict CSP needs no script carve-out.
func (s *Server) handleViewerPage(w http.ResponseWriter, r *http.Request) {
	var page viewerPage
	if serial := r.URL.Query().Get("src"); serial != "" {
		entry, ok := s.cfg.Registry.Get(serial)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown serial")
			return
		}
		page.Stream = &viewerStream{
			Serial: entry.Descriptor.Serial,
			Name:   entry.Descriptor.Name,
			Path:   localStreamPath(entry.Camera),
			Online: entry.Online,
		}
	} else {
		for _, e := range s.cfg.Registry.List() {
			if e.Camera.Serial == "" {
				continue
			}
			page.Streams = append(page.Streams, viewerStream{
				Serial: e.Descriptor.Serial,
				Name:   e.Descriptor.Name,
				Path:   localStreamPath(e.Camera),
				Online: e.Online,
			})
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := viewerTmpl.Execute(w, page); err != nil {
		s.logger.Error().Err(err).Msg("failed to render viewer page")
	}
}

// localStreamPath maps a camera stream onto this server's own paths:
// direct feeds are served by handleStream, relayed feeds through the
// relay proxy's MJPEG endpoint.
func localStreamPath(cam model.CameraStream) string {
	if cam.Technique == model.TechniqueRelay {
		return "/api/stream.mjpeg?src=" + url.QueryEscape(cam.RelayName)
	}
	return "/stream/" + url.PathEscape(cam.Serial)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
