package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yukihamada/solusync-x/buffer"
	"github.com/yukihamada/solusync-x/proto"
)

// ProbeDriver is the subset of probe.Driver a Handler needs, kept as
// an interface here so session does not import the probe package; the
// daemons under cmd/ wire a probe.Driver into the Handler.
type ProbeDriver interface {
	HandleReply(id string, t1, t2, t3 float64) bool
	HandleHeartbeatEcho(clientTime, serverTime float64) bool
}

// Handler dispatches decoded messages for one Session: clock-sync
// replies feed the probe driver, media_control commands are admitted
// and applied to the scheduler's per-track state machine, media_data
// frames are admitted into the scheduler, and heartbeats update
// liveness.
type Handler struct {
	session   *Session
	probe     ProbeDriver
	sched     *buffer.Scheduler
	logger    *slog.Logger
	onCommand func(proto.MediaControl)
}

// NewHandler constructs a Handler bound to the given collaborators.
// onCommand, if non-nil, is invoked for every admitted media_control
// whose action should actually be applied by the caller (e.g. pause
// the transport, unload a track); Handler itself only handles
// admission and scheduling plumbing.
func NewHandler(s *Session, p ProbeDriver, sched *buffer.Scheduler, logger *slog.Logger, onCommand func(proto.MediaControl)) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{session: s, probe: p, sched: sched, logger: logger, onCommand: onCommand}
}

// Dispatch routes one decoded Message. It returns an error only for
// conditions that should close the session (version mismatch, auth
// rejection, internal failure); admission rejections and rate limits
// are reported back to the peer, not treated as session-ending.
func (h *Handler) Dispatch(ctx context.Context, m proto.Message) error {
	switch m.Header.Type {
	case proto.TypeHello:
		return h.handleHello(m.Hello)
	case proto.TypeClockSync:
		return h.handleClockSync(m.ClockSync)
	case proto.TypeClockSyncResponse:
		return h.handleClockSyncResponse(m.ClockSyncResponse)
	case proto.TypeMediaControl:
		return h.handleMediaControl(m.MediaControl)
	case proto.TypeMediaData:
		return h.handleMediaData(m.MediaData)
	case proto.TypeHeartbeat:
		return h.handleHeartbeat(m.Heartbeat)
	case proto.TypeNodeStatus, proto.TypeMasterElection:
		// Cluster-layer messages are accepted and ignored here: Handler
		// has no cluster dependency, and nothing passes these messages on
		// to a cluster.Election.
		return nil
	case proto.TypeError:
		return h.handlePeerError(m.Error)
	default:
		return fmt.Errorf("session: %w", proto.ErrUnrecognizedType)
	}
}

func (h *Handler) handleHello(hello *proto.Hello) error {
	if hello == nil {
		return fmt.Errorf("session: hello message missing body")
	}
	err := h.session.ReceiveHello(hello)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidState):
		// A redundant hello on an established session is reported back,
		// not treated as session-ending; the first session's state is
		// left intact.
		h.logger.Warn("duplicate hello on established session", "session_id", h.session.ID)
		return h.reportError(proto.ErrInvalidState, "hello already received", err.Error())
	default:
		// ErrVersionMismatch (and anything else) closes the session.
		return err
	}
}

// reportError sends a wire error to the peer without closing the
// session, for rejections that must be surfaced but don't terminate
// the connection.
func (h *Handler) reportError(code proto.ErrorCode, message, details string) error {
	wireErr := proto.NewError(h.session.header(proto.TypeError), code, message, details)
	raw, err := proto.Encode(wireErr)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}
	if err := h.session.Stream().Send(raw); err != nil {
		h.logger.Warn("failed to send error", "code", code, "error", err)
	}
	return nil
}

func (h *Handler) handleClockSync(cs *proto.ClockSync) error {
	if cs == nil {
		return nil
	}
	if !h.session.AllowProbe() {
		h.logger.Warn("clock_sync rate limited", "session_id", h.session.ID)
		return h.reportError(proto.ErrRateLimited, "clock_sync rate limit exceeded", "")
	}
	now := h.session.now()
	// The response carries the probe's id so the sender's probe driver
	// can match it to its outstanding probe.
	hdr := h.session.header(proto.TypeClockSyncResponse)
	hdr.ID = cs.Header.ID
	resp := proto.ClockSyncResponse{
		Header: hdr,
		T1:     cs.T1,
		T2:     now,
		T3:     now,
	}
	raw, err := proto.Encode(resp)
	if err != nil {
		return fmt.Errorf("encode clock_sync_response: %w", err)
	}
	return h.session.Stream().Send(raw)
}

func (h *Handler) handleClockSyncResponse(r *proto.ClockSyncResponse) error {
	if r == nil || h.probe == nil {
		return nil
	}
	h.probe.HandleReply(r.Header.ID, r.T1, r.T2, r.T3)
	return nil
}

func (h *Handler) handleMediaControl(mc *proto.MediaControl) error {
	if mc == nil {
		return nil
	}
	execute, err := h.session.AdmitIncomingMediaControl(mc.Header.ID, mc.StartAt)
	if err != nil {
		h.logger.Warn("media_control rejected", "track_id", mc.TrackID, "action", mc.Action, "error", err)
		return h.reportError(proto.ErrTooLate, "start_at already past the best-effort window", err.Error())
	}
	if !execute {
		return nil // idempotent replay, already applied
	}
	if h.sched != nil {
		if err := h.sched.ApplyAction(mc.TrackID, mc.Action); err != nil {
			h.logger.Warn("media_control invalid transition", "track_id", mc.TrackID, "action", mc.Action, "error", err)
			return h.reportError(proto.ErrInvalidState, "invalid track state transition", err.Error())
		}
	}
	if h.onCommand != nil {
		h.onCommand(*mc)
	}
	return nil
}

func (h *Handler) handleMediaData(md *proto.MediaData) error {
	if md == nil || h.sched == nil {
		return nil
	}
	h.sched.Admit(&buffer.Frame{
		TrackID:       md.TrackID,
		Sequence:      md.ChunkIndex,
		PresentationT: md.Timestamp,
		Codec:         string(md.Codec),
		IsKeyframe:    md.IsKeyframe,
		Payload:       md.Data,
	})
	return nil
}

func (h *Handler) handleHeartbeat(hb *proto.Heartbeat) error {
	if hb == nil {
		return nil
	}
	h.session.RecordHeartbeatReceived()

	if hb.ServerTime == nil {
		// This is a peer's outbound heartbeat; echo server_time.
		now := h.session.now()
		reply := proto.Heartbeat{
			Header:     h.session.header(proto.TypeHeartbeat),
			ClientTime: hb.ClientTime,
			ServerTime: &now,
		}
		raw, err := proto.Encode(reply)
		if err != nil {
			return fmt.Errorf("encode heartbeat: %w", err)
		}
		return h.session.Stream().Send(raw)
	}

	if h.probe != nil {
		h.probe.HandleHeartbeatEcho(hb.ClientTime, *hb.ServerTime)
	}
	return nil
}

func (h *Handler) handlePeerError(e *proto.Error) error {
	if e == nil {
		return nil
	}
	code := proto.ErrorCode(e.Code)
	h.logger.Warn("peer error", "code", code.String(), "message", e.Message)
	if code.ClosesSession() {
		return fmt.Errorf("session: peer closed with %s: %s", code, e.Message)
	}
	return nil
}
