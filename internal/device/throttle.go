// SPDX-License-Identifier: MIT

package device

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxThrottleKeys bounds the limiter map; past it the map is reset rather
// than grown (error texts with embedded addresses would otherwise leak).
const maxThrottleKeys = 1024

// errorThrottle lets an identical error for the same serial through at
// most once per window.
type errorThrottle struct {
	window time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newErrorThrottle(window time.Duration) *errorThrottle {
	return &errorThrottle{
		window:   window,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether this serial+error pair may be logged now.
func (t *errorThrottle) Allow(serial string, err error) bool {
	if err == nil {
		return false
	}
	key := serial + "|" + err.Error()

	t.mu.Lock()
	if len(t.limiters) > maxThrottleKeys {
		t.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := t.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.window), 1)
		t.limiters[key] = lim
	}
	t.mu.Unlock()

	return lim.Allow()
}
