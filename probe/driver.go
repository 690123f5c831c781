// Package probe drives the periodic clock-sync exchange: it sends
// clock_sync probes at a fixed cadence, matches replies to the single
// outstanding probe, and feeds completed round trips (or cheaper
// heartbeat-derived estimates) into a clock.Clock.
package probe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yukihamada/solusync-x/clock"
)

// DefaultInterval is the probe cadence (1Hz).
const DefaultInterval = 1 * time.Second

// Sender transmits a clock_sync probe carrying t1 and assigns it an id
// for reply correlation.
type Sender interface {
	SendProbe(id string, t1 float64) error
}

// Driver owns the single outstanding probe for one connection and the
// clock it feeds. Fire-and-forget: a probe that never gets a reply is
// silently superseded by the next tick, never retried.
type Driver struct {
	clock    *clock.Clock
	sender   Sender
	logger   *slog.Logger
	interval time.Duration

	mu          sync.Mutex
	outstanding string // id of the single outstanding probe, "" if none
	sentAt      float64
}

// Option configures a Driver at construction.
type Option func(*Driver)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option { return func(dr *Driver) { dr.interval = d } }

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option { return func(dr *Driver) { dr.logger = l } }

// New constructs a Driver that sends probes via sender and feeds
// samples into c.
func New(c *clock.Clock, sender Sender, opts ...Option) *Driver {
	d := &Driver{
		clock:    c,
		sender:   sender,
		logger:   slog.Default(),
		interval: DefaultInterval,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run sends one probe per tick until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sendOne()
		}
	}
}

func (d *Driver) sendOne() {
	id := uuid.NewString()
	t1 := clock.Unix(time.Now())

	d.mu.Lock()
	d.outstanding = id
	d.sentAt = t1
	d.mu.Unlock()

	if err := d.sender.SendProbe(id, t1); err != nil {
		d.logger.Warn("probe: send failed", "error", err)
	}
}

// HandleReply completes a clock_sync_response for id, carrying the
// peer's (t1, t2, t3). A reply for any id other than the single
// current outstanding probe is dropped, since it's either a duplicate
// or a stale reply superseded by a later probe.
func (d *Driver) HandleReply(id string, t1, t2, t3 float64) bool {
	d.mu.Lock()
	if id != d.outstanding || d.outstanding == "" {
		d.mu.Unlock()
		return false
	}
	d.outstanding = ""
	d.mu.Unlock()

	t4 := clock.Unix(time.Now())
	return d.clock.SubmitProbe(t1, t2, t3, t4)
}

// HandleHeartbeatEcho feeds a heartbeat round trip's cheaper one-way
// estimate into the clock: clientTime is this node's original send
// time, serverTime is the peer's echoed reception/send time.
func (d *Driver) HandleHeartbeatEcho(clientTime, serverTime float64) bool {
	tLocalRecv := clock.Unix(time.Now())
	rttEst := tLocalRecv - clientTime
	offsetEst := serverTime - clientTime - rttEst/2
	return d.clock.SubmitQuick(offsetEst, rttEst, tLocalRecv)
}
