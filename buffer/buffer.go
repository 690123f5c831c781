// Package buffer implements the adaptive future-buffer and scheduler
// that sits between network jitter and the rendering deadline: frames
// are admitted with a future presentation time, queued in
// presentation_τ order, and released to a Renderer exactly at that
// instant on the disciplined clock.
package buffer

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yukihamada/solusync-x/clock"
	"github.com/yukihamada/solusync-x/proto"
	"github.com/yukihamada/solusync-x/render"
)

// Default admission/backpressure tunables.
const (
	DefaultMaxFuture = 10 * time.Second
	DefaultMaxQueue  = 512
)

// DropReason classifies a telemetry event: why a frame was dropped
// (DropLate, DropTooFar), or that a track's queue is over its pressure
// threshold (DropBacklog), in which case the frame is still queued.
type DropReason string

const (
	DropLate    DropReason = "late"
	DropTooFar  DropReason = "too_far"
	DropBacklog DropReason = "queue_pressure"
)

// Telemetry is a single admission/drop/pressure event, surfaced to
// whatever observer the owner wires up (control plane, metrics, logs).
type Telemetry struct {
	TrackID string
	Reason  DropReason
	Detail  time.Duration // e.g. how late, for DropLate
}

// Frame is the scheduler's view of a media frame.
type Frame struct {
	TrackID       string
	Sequence      uint64
	PresentationT float64 // seconds, τ
	Duration      time.Duration
	Codec         string
	IsKeyframe    bool
	Payload       []byte
}

// frameHeap orders frames by presentation_τ, ties broken by sequence.
type frameHeap []*Frame

func (h frameHeap) Len() int { return len(h) }
func (h frameHeap) Less(i, j int) bool {
	if h[i].PresentationT != h[j].PresentationT {
		return h[i].PresentationT < h[j].PresentationT
	}
	return h[i].Sequence < h[j].Sequence
}
func (h frameHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x interface{}) { *h = append(*h, x.(*Frame)) }
func (h *frameHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Scheduler admits frames per track, releases them to a Renderer at
// their presentation_τ (converted to local time via the disciplined
// clock), and adapts its target depth to observed network quality.
//
// One Scheduler instance serves one endpoint and fans frames out across
// any number of tracks; each track gets its own Track state machine but
// shares the scheduler's single release loop and clock reference.
type Scheduler struct {
	clock    *clock.Clock
	renderer render.Renderer
	logger   *slog.Logger

	maxFuture time.Duration
	maxQueue  int

	mu       sync.Mutex
	queue    frameHeap
	tracks   map[string]*Track
	onEvent  func(Telemetry)
	adaptive *Adapter

	wake chan struct{}
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithMaxFuture overrides DefaultMaxFuture.
func WithMaxFuture(d time.Duration) Option {
	return func(s *Scheduler) { s.maxFuture = d }
}

// WithMaxQueue overrides DefaultMaxQueue (per-track queue-pressure
// threshold; frames beyond it are still admitted).
func WithMaxQueue(n int) Option {
	return func(s *Scheduler) { s.maxQueue = n }
}

// WithTelemetry registers a callback invoked for every drop or pressure
// event. It must not block.
func WithTelemetry(fn func(Telemetry)) Option {
	return func(s *Scheduler) { s.onEvent = fn }
}

// WithLogger overrides the default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler constructs a Scheduler bound to the given disciplined
// clock and Renderer capability.
func NewScheduler(c *clock.Clock, r render.Renderer, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:     c,
		renderer:  r,
		logger:    slog.Default(),
		maxFuture: DefaultMaxFuture,
		maxQueue:  DefaultMaxQueue,
		tracks:    make(map[string]*Track),
		adaptive:  NewAdapter(),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track returns (creating if necessary) the per-track state machine.
func (s *Scheduler) Track(trackID string) *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackLocked(trackID)
}

func (s *Scheduler) trackLocked(trackID string) *Track {
	tr, ok := s.tracks[trackID]
	if !ok {
		tr = newTrack(trackID)
		s.tracks[trackID] = tr
	}
	return tr
}

// ApplyAction drives trackID's lifecycle state machine from a received
// media_control action. An action that isn't valid from the track's
// current state is rejected and returns an error; the state is left
// unchanged, and the caller must report it to the control plane as
// INVALID_STATE rather than retry it silently.
func (s *Scheduler) ApplyAction(trackID string, action proto.Action) error {
	tr := s.Track(trackID)
	switch action {
	case proto.ActionLoad:
		if err := tr.Transition(StateLoading); err != nil {
			return err
		}
		return tr.Transition(StateReady)
	case proto.ActionPlay:
		return tr.Transition(StatePlaying)
	case proto.ActionPause:
		return tr.Transition(StatePaused)
	case proto.ActionStop:
		return tr.Transition(StateStopped)
	case proto.ActionUnload:
		return tr.Transition(StateIdle)
	case proto.ActionSeek:
		if st := tr.State(); st != StatePlaying && st != StatePaused {
			return fmt.Errorf("seek invalid for track %q in state %s", trackID, st)
		}
		return nil
	default:
		return fmt.Errorf("unrecognized action %q for track %q", action, trackID)
	}
}

// Admit applies the admission rule to a single frame: drop if late
// (δ<0) or impossibly far in the future (δ>maxFuture), otherwise
// enqueue in presentation_τ order and wake the release loop.
func (s *Scheduler) Admit(f *Frame) {
	tLocal := clock.Unix(time.Now())
	now := s.clock.Now(tLocal)
	delta := f.PresentationT - now

	if delta < 0 {
		s.emit(Telemetry{TrackID: f.TrackID, Reason: DropLate, Detail: time.Duration(-delta * float64(time.Second))})
		return
	}
	if delta > s.maxFuture.Seconds() {
		s.emit(Telemetry{TrackID: f.TrackID, Reason: DropTooFar, Detail: time.Duration(delta * float64(time.Second))})
		return
	}

	s.mu.Lock()
	tr := s.trackLocked(f.TrackID)
	if tr.queueLen >= s.maxQueue {
		// Backpressure: in-the-future frames are still valid and are
		// NOT dropped; instead we raise the adaptive target one step
		// and surface telemetry.
		s.adaptive.RaiseOneStep()
		s.mu.Unlock()
		s.emit(Telemetry{TrackID: f.TrackID, Reason: DropBacklog})
		// Still admit: queue pressure is advisory, not a hard cap.
		s.mu.Lock()
	}
	heap.Push(&s.queue, f)
	tr.queueLen++
	s.mu.Unlock()

	s.nudge()
}

func (s *Scheduler) emit(t Telemetry) {
	if s.onEvent != nil {
		s.onEvent(t)
	}
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the single release loop until ctx is cancelled. It wakes
// at the earliest queued frame's release instant (converted to local
// time via the disciplined clock), pops every frame whose instant has
// arrived, and hands them to the Renderer in order. Cancellation flushes
// the remaining queue and stops the Renderer for every known track.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		deadline, hasWork := s.nextDeadlineLocal()
		if hasWork {
			resetTimer(timer, time.Until(deadline))
		} else {
			resetTimer(timer, time.Hour)
		}

		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case <-s.wake:
			continue
		case <-timer.C:
			s.release()
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

// nextDeadlineLocal converts the earliest queued frame's presentation_τ
// back to a local wall-clock deadline via the disciplined clock.
func (s *Scheduler) nextDeadlineLocal() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return time.Time{}, false
	}
	earliest := s.queue[0]
	tLocal := clock.Unix(time.Now())
	now := s.clock.Now(tLocal)
	delta := earliest.PresentationT - now
	return time.Now().Add(time.Duration(delta * float64(time.Second))), true
}

// release pops every frame whose presentation_τ has arrived (given the
// clock's current reading) and hands each to the Renderer in order,
// preserving the per-track non-decreasing presentation_τ ordering
// guarantee.
func (s *Scheduler) release() {
	var ready []*Frame

	s.mu.Lock()
	tLocal := clock.Unix(time.Now())
	now := s.clock.Now(tLocal)
	for s.queue.Len() > 0 && s.queue[0].PresentationT <= now {
		f := heap.Pop(&s.queue).(*Frame)
		if tr, ok := s.tracks[f.TrackID]; ok && tr.queueLen > 0 {
			tr.queueLen--
		}
		ready = append(ready, f)
	}
	s.mu.Unlock()

	for _, f := range ready {
		s.deliver(f, now, tLocal)
	}
}

func (s *Scheduler) deliver(f *Frame, now, tLocal float64) {
	tr := s.Track(f.TrackID)
	if !tr.CanRender() {
		return
	}
	delta := f.PresentationT - now
	deadlineLocal := tLocal + delta
	if err := s.renderer.Submit(render.Frame{
		TrackID:       f.TrackID,
		Sequence:      f.Sequence,
		PresentationT: f.PresentationT,
		Duration:      f.Duration,
		Codec:         f.Codec,
		IsKeyframe:    f.IsKeyframe,
		Payload:       f.Payload,
	}, deadlineLocal); err != nil {
		s.logger.Warn("renderer submit failed", "track_id", f.TrackID, "error", err)
		tr.markUnderrun()
		s.adaptive.OnUnderrun()
	}
}

// flush drains the queue and stops the Renderer for every track,
// invoked on disconnect/cancellation.
func (s *Scheduler) flush() {
	s.mu.Lock()
	s.queue = nil
	trackIDs := make([]string, 0, len(s.tracks))
	for id, tr := range s.tracks {
		tr.queueLen = 0
		trackIDs = append(trackIDs, id)
	}
	s.mu.Unlock()

	for _, id := range trackIDs {
		s.renderer.Stop(id)
	}
}

// ObserveQuality samples RTT and loss (from the probe driver / control
// plane) and runs one tick of the adaptive buffer-depth controller.
// Intended to be called every 200ms.
func (s *Scheduler) ObserveQuality(rtt time.Duration, loss float64) {
	s.adaptive.Observe(rtt, loss)
}

// BufferTargetMS returns the adaptive controller's live target, for
// telemetry/diagnostics.
func (s *Scheduler) BufferTargetMS() float64 {
	return s.adaptive.Live()
}

// QueueDepth returns the number of frames currently queued for trackID.
func (s *Scheduler) QueueDepth(trackID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr, ok := s.tracks[trackID]; ok {
		return tr.queueLen
	}
	return 0
}
