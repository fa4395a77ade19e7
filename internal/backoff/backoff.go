// Package backoff provides the deterministic retry delay policies used by the
// device, camera, relay and tunnel owners. Policies are pure: the owner keeps
// the attempt counter, resets it on confirmed success, and discards it when
// the owning resource is removed.
package backoff

import (
	"context"
	"math"
	"time"
)

// Policy computes the delay before retry attempt n as
// min(Base * Factor^n, Cap). Attempts are unlimited; MaxAttempt only clamps
// the exponent so long-lived counters cannot overflow the computation.
type Policy struct {
	Base       time.Duration
	Factor     float64
	Cap        time.Duration
	MaxAttempt int
}

// Preset policies, one per supervised concern.
var (
	// DeviceReconnect paces MQTT session reconnects: 5s, 10s, 20s, 40s, 80s,
	// then capped at 120s.
	DeviceReconnect = Policy{Base: 5 * time.Second, Factor: 2, Cap: 120 * time.Second}

	// CameraStream paces camera socket reconnects: gentler growth, capped at
	// 30s from the sixth attempt on.
	CameraStream = Policy{Base: 5 * time.Second, Factor: 1.5, Cap: 30 * time.Second, MaxAttempt: 6}

	// RelayRestart restarts the relay process at a fixed cadence.
	RelayRestart = Policy{Base: 3 * time.Second, Factor: 1, Cap: 3 * time.Second}

	// TunnelRestart paces tunnel process restarts up to 5 minutes apart.
	TunnelRestart = Policy{Base: 5 * time.Second, Factor: 2, Cap: 300 * time.Second}
)

// Delay returns the pause before retry attempt n (zero-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.MaxAttempt > 0 && attempt > p.MaxAttempt {
		attempt = p.MaxAttempt
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}
	d := float64(p.Base) * math.Pow(factor, float64(attempt))
	if p.Cap > 0 && d >= float64(p.Cap) {
		return p.Cap
	}
	if d <= 0 {
		return p.Base
	}
	return time.Duration(d)
}

// Wait blocks for the attempt's delay or until ctx is cancelled.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
