// Package render defines the Renderer capability the scheduler calls
// out to at release time. Rendering is deliberately abstracted so
// native audio, DMX lighting, and UI animation paths can share one
// scheduler.
package render

import (
	"log/slog"
	"sync"
	"time"
)

// Frame is the payload handed to a Renderer at release time.
type Frame struct {
	TrackID       string
	Sequence      uint64
	PresentationT float64
	Duration      time.Duration
	Codec         string
	IsKeyframe    bool
	Payload       []byte
}

// Renderer is the external collaborator that actually emits audio,
// video, or lighting output. Implementations are expected to honor
// deadlineLocalTime as closely as the underlying device allows; fine
// grained alignment is the Renderer's responsibility, not the
// scheduler's.
type Renderer interface {
	// Submit hands a frame to the renderer for emission at
	// deadlineLocalTime (seconds, on the same local clock passed to
	// the scheduler).
	Submit(f Frame, deadlineLocalTime float64) error
	// Stop halts playback of trackID, releasing any device resources.
	Stop(trackID string)
	// NowLocal returns the renderer's notion of local time, seconds.
	NowLocal() float64
}

// LoggingRenderer is a Renderer that only logs what it would have
// rendered. Useful for tests and for endpoints that have no real
// playback device attached (e.g. a headless relay node).
type LoggingRenderer struct {
	logger *slog.Logger

	mu      sync.Mutex
	stopped map[string]bool
}

// NewLoggingRenderer returns a Renderer backed by the given logger (or
// slog.Default() if nil).
func NewLoggingRenderer(logger *slog.Logger) *LoggingRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingRenderer{logger: logger, stopped: make(map[string]bool)}
}

func (r *LoggingRenderer) Submit(f Frame, deadlineLocalTime float64) error {
	r.logger.Debug("render submit",
		"track_id", f.TrackID,
		"sequence", f.Sequence,
		"codec", f.Codec,
		"is_keyframe", f.IsKeyframe,
		"deadline_local", deadlineLocalTime,
	)
	return nil
}

func (r *LoggingRenderer) Stop(trackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped[trackID] = true
	r.logger.Debug("render stop", "track_id", trackID)
}

func (r *LoggingRenderer) NowLocal() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Stopped reports whether Stop has been called for trackID. Test-only
// convenience.
func (r *LoggingRenderer) Stopped(trackID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped[trackID]
}
