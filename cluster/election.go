// Package cluster implements the coordinator/replica state machine:
// health-scored leader election, node-status broadcast, and the
// client-side re-bind logic that follows a master across failover.
package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Role is a node's position in the cluster.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "follower"
	}
}

// Timing defaults for the election state machine.
const (
	DefaultTimeout = 3 * time.Second
	DefaultGather  = 500 * time.Millisecond
)

// View is the cluster membership snapshot a coordinator exposes over
// hello.cluster_info: master_id is empty during an election, and term
// advances monotonically.
type View struct {
	MasterID   string
	ReplicaIDs []string
	Term       uint64
}

// Election runs one node's FOLLOWER/CANDIDATE/LEADER state machine.
// Heartbeats from the current master and election messages from peers
// are fed in by the caller; Broadcast is invoked whenever this node
// needs to emit a master_election or node_status message.
type Election struct {
	nodeID    string
	logger    *slog.Logger
	timeout   time.Duration
	gather    time.Duration
	broadcast func(Message)

	mu              sync.Mutex
	role            Role
	term            uint64
	masterID        string
	lastMasterBeat  time.Time
	gatheredAtTerm  uint64
	gathered        []Candidate
	selfScore       func() float64
	gatherDeadline  time.Time
	promotedHandler func()
}

// Message is a master_election wire event, either broadcast by this
// node or observed from a peer.
type Message struct {
	NodeID        string
	Term          uint64
	Score         float64
	CurrentMaster string // empty means no master claimed
}

// Option configures an Election at construction.
type Option func(*Election)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option { return func(e *Election) { e.timeout = d } }

// WithGather overrides DefaultGather.
func WithGather(d time.Duration) Option { return func(e *Election) { e.gather = d } }

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Election) { e.logger = l } }

// New constructs an Election for nodeID. scoreFn is consulted each time
// this node must advertise its own candidate score; broadcast is
// invoked to emit a Message to the rest of the cluster.
func New(nodeID string, scoreFn func() float64, broadcast func(Message), opts ...Option) *Election {
	e := &Election{
		nodeID:    nodeID,
		logger:    slog.Default(),
		timeout:   DefaultTimeout,
		gather:    DefaultGather,
		broadcast: broadcast,
		selfScore: scoreFn,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Role reports the node's current role.
func (e *Election) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// View returns the node's current view of cluster membership.
func (e *Election) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return View{MasterID: e.masterID, Term: e.term}
}

// OnMasterHeartbeat records a heartbeat observed from the current
// master, resetting the FOLLOWER timeout clock.
func (e *Election) OnMasterHeartbeat(masterID string, term uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if term < e.term {
		return
	}
	e.term = term
	e.masterID = masterID
	e.lastMasterBeat = time.Now()
	if e.role != RoleFollower {
		e.logger.Info("election: reverting to follower on master heartbeat", "term", term, "master_id", masterID)
		e.role = RoleFollower
	}
}

// OnPeerMessage folds in an election message observed from a peer. A
// higher term always wins and resets this node to FOLLOWER, per the
// supersession rule; a message at the node's own gathering term is
// accumulated as a candidate.
func (e *Election) OnPeerMessage(m Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m.Term > e.term {
		e.term = m.Term
		e.role = RoleFollower
		e.gathered = nil
		e.logger.Info("election: adopting higher term", "term", m.Term, "from", m.NodeID)
	}
	if m.CurrentMaster != "" && m.Term >= e.term {
		e.masterID = m.CurrentMaster
		e.lastMasterBeat = time.Now()
	}
	if e.role == RoleCandidate && m.Term == e.gatheredAtTerm {
		e.gathered = append(e.gathered, Candidate{NodeID: m.NodeID, Score: m.Score})
	}
}

// Tick drives the state machine's time-based transitions. Call it
// periodically (e.g. every 100ms) from an owning goroutine; it is the
// only place FOLLOWER→CANDIDATE and CANDIDATE→LEADER transitions
// happen.
func (e *Election) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.role {
	case RoleFollower:
		if e.masterID != "" && now.Sub(e.lastMasterBeat) < e.timeout {
			return
		}
		if e.lastMasterBeat.IsZero() {
			e.lastMasterBeat = now
			return
		}
		if now.Sub(e.lastMasterBeat) < e.timeout {
			return
		}
		e.becomeCandidateLocked(now)

	case RoleCandidate:
		if now.Before(e.gatherDeadline) {
			return
		}
		e.concludeGatherLocked()
	}
}

func (e *Election) becomeCandidateLocked(now time.Time) {
	e.role = RoleCandidate
	e.term++
	e.masterID = ""
	e.gatheredAtTerm = e.term
	score := e.selfScore()
	e.gathered = []Candidate{{NodeID: e.nodeID, Score: score}}
	e.gatherDeadline = now.Add(e.gather)
	e.logger.Info("election: timeout, becoming candidate", "term", e.term, "score", score)
	e.emit(Message{NodeID: e.nodeID, Term: e.term, Score: score})
}

func (e *Election) concludeGatherLocked() {
	winner, ok := best(e.gathered)
	if !ok {
		e.role = RoleFollower
		return
	}
	if winner.NodeID == e.nodeID {
		e.role = RoleLeader
		e.masterID = e.nodeID
		e.logger.Info("election: promoted to leader", "term", e.term, "score", winner.Score)
		e.emit(Message{NodeID: e.nodeID, Term: e.term, Score: winner.Score, CurrentMaster: e.nodeID})
		if e.promotedHandler != nil {
			go e.promotedHandler()
		}
		return
	}
	e.role = RoleFollower
	e.masterID = winner.NodeID
	e.logger.Info("election: reverting to follower, lost to peer", "term", e.term, "winner", winner.NodeID)
}

func (e *Election) emit(m Message) {
	if e.broadcast != nil {
		e.broadcast(m)
	}
}

// OnPromotion registers a callback invoked once, in its own goroutine,
// the instant this node becomes LEADER.
func (e *Election) OnPromotion(f func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.promotedHandler = f
}

// Run drives Tick on a 100ms cadence until ctx is cancelled. Suitable
// as the node's election goroutine.
func (e *Election) Run(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			e.Tick(now)
		}
	}
}
