// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package camera

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/farmgw/internal/backoff"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/metrics"
)

const (
	dialTimeout = 10 * time.Second
	readChunk   = 32 * 1024

	watchdogInterval   = 30 * time.Second
	frameStaleAfter    = 60 * time.Second
	silentConnectAfter = 30 * time.Second
)

// Auth packet layout. The camera port expects these 80 bytes before it
// starts pushing JPEG data.
const (
	authPacketSize = 80
	authMarker     = 0x40
	authProtocol   = 0x3000
	authIdentity   = "bblp"
	identityOffset = 16
	secretOffset   = 48
)

func authPacket(secret string) []byte {
	pkt := make([]byte, authPacketSize)
	binary.LittleEndian.PutUint32(pkt[0:4], authMarker)
	binary.LittleEndian.PutUint32(pkt[4:8], authProtocol)
	copy(pkt[identityOffset:], authIdentity)
	copy(pkt[secretOffset:], secret)
	return pkt
}

// DialFunc opens the transport to one camera port. Production uses TLS
// with the server name pinned to the device host; tests inject pipes.
type DialFunc func(ctx context.Context) (net.Conn, error)

func tlsDialer(host, port string) DialFunc {
	cfg := &tls.Config{
		// Device camera certs are self-signed; the auth packet carries
		// the real authenticator.
		InsecureSkipVerify: true, // #nosec G402
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
	}
	addr := net.JoinHostPort(host, port)
	return func(ctx context.Context) (net.Conn, error) {
		d := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: dialTimeout},
			Config:    cfg,
		}
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Client keeps one camera socket alive: dial, authenticate, extract frames
// into the hub, reconnect on loss or watchdog verdict.
type Client struct {
	serial string
	secret string
	hub    *Hub
	policy backoff.Policy
	dial   DialFunc
	clock  func() time.Time
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	conn        net.Conn
	connectedAt time.Time
	lastFrame   time.Time
	bytesRead   int64
	framesSeen  bool
	attempt     int
}

func newClient(serial, secret string, hub *Hub, policy backoff.Policy, dial DialFunc, clock func() time.Time) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		serial: serial,
		secret: secret,
		hub:    hub,
		policy: policy,
		dial:   dial,
		clock:  clock,
		logger: log.WithPrinter("camera", serial),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (c *Client) start() {
	go c.run()
}

// stop tears the client down and waits for the read loop to end. The
// watchdog dies with the context, immediately.
func (c *Client) stop() {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	<-c.done
}

func (c *Client) run() {
	defer close(c.done)
	for {
		err := c.stream()
		if c.ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		attempt := c.attempt
		c.attempt++
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn().Err(err).
				Int(log.FieldAttempt, attempt).
				Dur("retry_in", c.policy.Delay(attempt)).
				Msg("camera stream lost")
		}
		if werr := c.policy.Wait(c.ctx, attempt); werr != nil {
			return
		}
	}
}

// stream runs one connection: auth preamble, then frames until the socket
// dies or the watchdog pulls it.
func (c *Client) stream() error {
	conn, err := c.dial(c.ctx)
	if err != nil {
		return fmt.Errorf("dial camera: %w", err)
	}

	now := c.clock()
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connectedAt = now
	c.lastFrame = time.Time{}
	c.bytesRead = 0
	c.framesSeen = false
	c.mu.Unlock()

	metrics.CameraStreamsActive.Inc()
	defer metrics.CameraStreamsActive.Dec()
	defer conn.Close()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if _, err := conn.Write(authPacket(c.secret)); err != nil {
		return fmt.Errorf("send auth packet: %w", err)
	}
	c.logger.Info().Msg("camera stream connected")

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go c.watchdog(conn, watchdogDone)

	buf := make([]byte, 0, 2*readChunk)
	chunk := make([]byte, readChunk)
	for {
		n, rerr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			frames, rest := extractFrames(buf)
			buf = append(buf[:0], rest...)

			c.mu.Lock()
			c.bytesRead += int64(n)
			if len(frames) > 0 {
				c.lastFrame = c.clock()
				c.framesSeen = true
				c.attempt = 0
			}
			c.mu.Unlock()

			for _, f := range frames {
				metrics.IncCameraFrame(c.serial, len(f))
				c.hub.Publish(f)
			}
		}
		if rerr != nil {
			if c.ctx.Err() != nil || errors.Is(rerr, net.ErrClosed) {
				return nil
			}
			if errors.Is(rerr, io.EOF) {
				return errors.New("camera socket closed by device")
			}
			return fmt.Errorf("camera read: %w", rerr)
		}
	}
}

// watchdog force-closes a connection that stopped delivering. The read
// loop then returns and run schedules the reconnect.
func (c *Client) watchdog(conn net.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			trigger := c.staleTrigger(c.clock())
			if trigger == "" {
				continue
			}
			metrics.IncWatchdogReset(c.serial, trigger)
			c.logger.Warn().Str("trigger", trigger).Msg("camera stream stale, forcing reconnect")
			conn.Close()
			return
		}
	}
}

// staleTrigger names the watchdog rule violated at now, or returns "".
// Rules: frames flowed before but none for 60s; or not a single byte
// within 30s of connecting.
func (c *Client) staleTrigger(now time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.framesSeen && now.Sub(c.lastFrame) > frameStaleAfter {
		return "frames_stalled"
	}
	if c.bytesRead == 0 && now.Sub(c.connectedAt) > silentConnectAfter {
		return "no_data"
	}
	return ""
}
