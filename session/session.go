// Package session implements the control-plane protocol: the
// handshake, media-control command admission, heartbeat tracking, and
// rate limiting layered over a transport.Stream.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yukihamada/solusync-x/clock"
	"github.com/yukihamada/solusync-x/proto"
	"github.com/yukihamada/solusync-x/transport"
)

// ProtocolVersion is this build's semver. A mismatching peer's hello
// closes the session with VERSION_MISMATCH.
const ProtocolVersion = "1.0.0"

// StartAtEpsilon is the minimum lead time a coordinator requires
// between "now" and a scheduled action's start_at_τ.
const StartAtEpsilon = 20 * time.Millisecond

// BestEffortWindow bounds how late an endpoint will still attempt
// immediate execution of a command whose start_at_τ has already
// passed.
const BestEffortWindow = 100 * time.Millisecond

// HeartbeatInterval is the expected heartbeat cadence: CheckHeartbeat
// counts a miss when no heartbeat has arrived within one interval. This
// package does not send heartbeats on a timer.
const HeartbeatInterval = 5 * time.Second

// MissedHeartbeatsUnhealthy is how many consecutive missed heartbeats
// mark the peer unhealthy.
const MissedHeartbeatsUnhealthy = 2

// ErrInvalidState mirrors proto.ErrInvalidState for handshake/command
// validation failures that don't close the session.
var ErrInvalidState = errors.New("session: invalid state")

// ErrVersionMismatch is returned by ReceiveHello when protocol versions
// don't match; the caller must close the session afterward.
var ErrVersionMismatch = errors.New("session: protocol version mismatch")

// Session wraps one transport.Stream with handshake, rate limiting,
// and heartbeat bookkeeping. It does not itself own I/O loops: callers
// drive Send/Recv from an outer read-loop goroutine and feed received
// messages to a Handler's Dispatch.
type Session struct {
	ID       string
	NodeID   string
	stream   transport.Stream
	clock    *clock.Clock
	limiters *Limiters

	mu              sync.Mutex
	helloReceived   bool
	peerNodeID      string
	lastHeartbeatTx time.Time
	lastHeartbeatRx time.Time
	missedHeartbeat int

	seq uint64

	// seenCommandIDs tracks media_control ids already executed, so a
	// replayed command with the same id is idempotent: no duplicate
	// emission.
	seenCommandIDs map[string]bool
}

// New constructs a Session bound to stream, using c (the local
// disciplined clock) to timestamp outgoing messages and validate
// scheduled-action deadlines.
func New(nodeID string, stream transport.Stream, c *clock.Clock) *Session {
	return &Session{
		ID:             uuid.NewString(),
		NodeID:         nodeID,
		stream:         stream,
		clock:          c,
		limiters:       NewLimiters(),
		seenCommandIDs: make(map[string]bool),
	}
}

func (s *Session) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Session) header(t proto.Type) proto.Header {
	return proto.Header{
		ID:       uuid.NewString(),
		Type:     t,
		Ts:       s.now(),
		NodeID:   s.NodeID,
		Sequence: s.nextSeq(),
	}
}

func (s *Session) now() float64 {
	return s.clock.Now(clock.Unix(time.Now()))
}

// SendHello sends the local hello message.
func (s *Session) SendHello(nodeType proto.NodeType, capabilities []string, authToken string, clusterInfo *proto.ClusterInfo) error {
	hello := proto.Hello{
		Header:          s.header(proto.TypeHello),
		ProtocolVersion: ProtocolVersion,
		Capabilities:    capabilities,
		NodeType:        nodeType,
		AuthToken:       authToken,
		ClusterInfo:     clusterInfo,
	}
	raw, err := proto.Encode(hello)
	if err != nil {
		return fmt.Errorf("encode hello: %w", err)
	}
	return s.stream.Send(raw)
}

// ReceiveHello validates an inbound hello against ProtocolVersion. A
// second hello on an already-handshaked session returns
// ErrInvalidState with the existing session state left intact.
func (s *Session) ReceiveHello(h *proto.Hello) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.helloReceived {
		return ErrInvalidState
	}
	if h.ProtocolVersion != ProtocolVersion {
		return ErrVersionMismatch
	}
	s.helloReceived = true
	s.peerNodeID = h.NodeID
	return nil
}

// ValidateOutgoingMediaControl applies the coordinator-side admission
// rule: start_at_τ must be at least StartAtEpsilon beyond "now".
func (s *Session) ValidateOutgoingMediaControl(startAt float64) error {
	if !s.limiters.AllowMediaControl() {
		err := proto.NewError(s.header(proto.TypeError), proto.ErrRateLimited, "media_control rate limit exceeded", "")
		return err
	}
	if startAt < s.now()+StartAtEpsilon.Seconds() {
		err := proto.NewError(s.header(proto.TypeError), proto.ErrTooLate, "start_at too close to now", "")
		return err
	}
	return nil
}

// AdmitIncomingMediaControl applies the endpoint-side execution rule:
// if start_at_τ is already in the past, best-effort immediate
// execution is attempted only if the overrun is within
// BestEffortWindow; otherwise TOO_LATE. Replays of an id already seen
// are idempotent (execute=false, err=nil).
func (s *Session) AdmitIncomingMediaControl(id string, startAt float64) (execute bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seenCommandIDs[id] {
		return false, nil
	}

	now := s.now()
	if startAt < now {
		overrun := now - startAt
		if overrun > BestEffortWindow.Seconds() {
			return false, fmt.Errorf("%w: TOO_LATE", ErrInvalidState)
		}
	}
	s.seenCommandIDs[id] = true
	return true, nil
}

// AllowProbe reports whether the next clock_sync message from the peer
// is within the per-session rate limit.
func (s *Session) AllowProbe() bool {
	return s.limiters.AllowProbe()
}

// RecordHeartbeatSent marks the local clock of the most recent
// outgoing heartbeat.
func (s *Session) RecordHeartbeatSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeatTx = time.Now()
}

// RecordHeartbeatReceived resets the missed-heartbeat counter.
func (s *Session) RecordHeartbeatReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeatRx = time.Now()
	s.missedHeartbeat = 0
}

// CheckHeartbeat is invoked once per HeartbeatInterval tick; it
// increments the missed counter if no heartbeat arrived since the last
// check, and returns whether the peer is now considered unhealthy
// (two consecutive misses).
func (s *Session) CheckHeartbeat() (unhealthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastHeartbeatRx) > HeartbeatInterval {
		s.missedHeartbeat++
	}
	return s.missedHeartbeat >= MissedHeartbeatsUnhealthy
}

// Stream returns the underlying transport.Stream.
func (s *Session) Stream() transport.Stream { return s.stream }
