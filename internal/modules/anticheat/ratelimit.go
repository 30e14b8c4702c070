package anticheat

import (
	"sync"
	"time"

	"github.com/chainpass/core/internal/pkg/fault"
)

// Limiter is an in-process sliding-window rate limiter keyed independently
// by device fingerprint and by IP. Counters are the only shared mutable
// state in the core; brief over/under-counting under extreme concurrency is
// accepted. Evaluated before token consumption so rejected attempts never
// spend a token.
type Limiter struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	windows map[string]*countWindow
	now     func() time.Time
}

type countWindow struct {
	start time.Time
	count int
}

// NewLimiter creates a limiter allowing max attempts per key within window.
func NewLimiter(window time.Duration, max int) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 10
	}
	return &Limiter{
		window:  window,
		max:     max,
		windows: make(map[string]*countWindow),
		now:     time.Now,
	}
}

// Allow records one attempt under both keys and rejects with RATE_LIMITED
// when either key exceeds the window maximum. Empty keys are skipped.
func (l *Limiter) Allow(fingerprint, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, key := range []string{fpKey(fingerprint), ipKey(ip)} {
		if key == "" {
			continue
		}
		w, ok := l.windows[key]
		if !ok || now.Sub(w.start) >= l.window {
			w = &countWindow{start: now}
			l.windows[key] = w
		}
		w.count++
		if w.count > l.max {
			return fault.New(fault.KindAntiCheat, fault.CodeRateLimited, "too many scan attempts, slow down")
		}
	}

	// Drop stale windows opportunistically so the map stays bounded.
	if len(l.windows) > 4096 {
		for key, w := range l.windows {
			if now.Sub(w.start) >= l.window {
				delete(l.windows, key)
			}
		}
	}
	return nil
}

func fpKey(fingerprint string) string {
	if fingerprint == "" {
		return ""
	}
	return "fp:" + fingerprint
}

func ipKey(ip string) string {
	if ip == "" {
		return ""
	}
	return "ip:" + ip
}
