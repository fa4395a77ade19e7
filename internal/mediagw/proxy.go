// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediagw

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/metrics"
)

// newRelayProxy builds the catch-all reverse proxy to the relay API. The
// relay serves its own UI and stream endpoints; everything this server
// does not handle itself is passed through unchanged.
func newRelayProxy(target *url.URL, logger zerolog.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorLog = nil

	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		metrics.GatewayProxyErrors.Inc()
		logger.Warn().Err(err).Str(log.FieldPath, r.URL.Path).Msg("relay proxy request failed")
		writeError(w, http.StatusBadGateway, "relay unavailable")
	}
	return proxy
}

// handleRelay routes unmatched requests to the relay, splitting WebSocket
// upgrades off into the bidirectional bridge.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleRelayWS(w, r)
		return
	}
	s.relayProxy.ServeHTTP(w, r)
}

// handleRelayWS bridges a WebSocket connection to the relay: dial the
// backend first, then upgrade the client, then copy messages both ways
// until either side drops.
func (s *Server) handleRelayWS(w http.ResponseWriter, r *http.Request) {
	target := *s.relayWS
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	back, resp, err := websocket.DefaultDialer.DialContext(r.Context(), target.String(), nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		metrics.GatewayProxyErrors.Inc()
		s.logger.Warn().Err(err).Str(log.FieldPath, r.URL.Path).Msg("relay websocket dial failed")
		writeError(w, http.StatusBadGateway, "relay unavailable")
		return
	}
	defer back.Close()

	front, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer front.Close()

	errc := make(chan error, 2)
	go wsCopy(front, back, errc)
	go wsCopy(back, front, errc)

	// First error in either direction tears the bridge down; the deferred
	// closes unblock the other copier.
	err = <-errc
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Debug().Err(err).Str(log.FieldPath, r.URL.Path).Msg("websocket bridge closed")
	}
}

func wsCopy(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			_ = dst.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			errc <- err
			return
		}
	}
}
