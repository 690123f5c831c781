package session

import (
	"sync"

	"golang.org/x/time/rate"
)

// Default per-session rate limits, enforced with golang.org/x/time/rate
// rather than a hand-rolled token bucket on top of time.Ticker.
const (
	DefaultProbesPerSecond       = 10.0
	DefaultMediaControlPerSecond = 100.0
	DefaultNewSessionsPerSecond  = 10.0
	burstFactor                  = 1 // bursts equal to the per-second rate; no extra slack.
)

// Limiters bundles the per-session token buckets: clock-sync probes
// and media-control commands each get their own bucket, independent of
// each other.
type Limiters struct {
	probes       *rate.Limiter
	mediaControl *rate.Limiter
}

// NewLimiters builds the default per-session limiter set.
func NewLimiters() *Limiters {
	return &Limiters{
		probes:       rate.NewLimiter(rate.Limit(DefaultProbesPerSecond), int(DefaultProbesPerSecond*burstFactor)),
		mediaControl: rate.NewLimiter(rate.Limit(DefaultMediaControlPerSecond), int(DefaultMediaControlPerSecond*burstFactor)),
	}
}

// AllowProbe reports whether one more clock_sync message may be
// admitted this instant.
func (l *Limiters) AllowProbe() bool { return l.probes.Allow() }

// AllowMediaControl reports whether one more media_control message may
// be admitted this instant.
func (l *Limiters) AllowMediaControl() bool { return l.mediaControl.Allow() }

// AddressLimiter bounds new session creation per source address.
type AddressLimiter struct {
	mu      sync.Mutex
	perAddr map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewAddressLimiter returns an AddressLimiter enforcing
// DefaultNewSessionsPerSecond per address.
func NewAddressLimiter() *AddressLimiter {
	return &AddressLimiter{
		perAddr: make(map[string]*rate.Limiter),
		limit:   rate.Limit(DefaultNewSessionsPerSecond),
		burst:   int(DefaultNewSessionsPerSecond),
	}
}

// Allow reports whether a new session from addr may proceed, creating
// and caching a limiter for that address on first use.
func (a *AddressLimiter) Allow(addr string) bool {
	a.mu.Lock()
	lim, ok := a.perAddr[addr]
	if !ok {
		lim = rate.NewLimiter(a.limit, a.burst)
		a.perAddr[addr] = lim
	}
	a.mu.Unlock()
	return lim.Allow()
}
