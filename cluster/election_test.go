package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_WeightsSumToOne(t *testing.T) {
	s := Score(Status{CPU: 0, Mem: 0, NetQuality: 1, Battery: nil})
	assert.InDelta(t, 1.0, s, 1e-9)
}

func TestScore_TieBrokenByNodeID(t *testing.T) {
	cands := []Candidate{{NodeID: "zz", Score: 0.5}, {NodeID: "aa", Score: 0.5}}
	winner, ok := best(cands)
	require.True(t, ok)
	assert.Equal(t, "aa", winner.NodeID)
}

func TestElection_FollowerTimesOutAndBecomesCandidate(t *testing.T) {
	var broadcasts []Message
	e := New("node-a", func() float64 { return 0.7 }, func(m Message) { broadcasts = append(broadcasts, m) },
		WithTimeout(50*time.Millisecond), WithGather(10*time.Millisecond))

	now := time.Now()
	e.Tick(now) // first tick just seeds lastMasterBeat
	assert.Equal(t, RoleFollower, e.Role())

	e.Tick(now.Add(100 * time.Millisecond))
	assert.Equal(t, RoleCandidate, e.Role())
	require.Len(t, broadcasts, 1)
	assert.Equal(t, uint64(1), broadcasts[0].Term)
}

func TestElection_CandidateWinsGatherOnHighestScore(t *testing.T) {
	var broadcasts []Message
	e := New("node-a", func() float64 { return 0.9 }, func(m Message) { broadcasts = append(broadcasts, m) },
		WithTimeout(10*time.Millisecond), WithGather(20*time.Millisecond))

	now := time.Now()
	e.Tick(now)
	e.Tick(now.Add(20 * time.Millisecond)) // -> candidate, term 1
	require.Equal(t, RoleCandidate, e.Role())

	e.OnPeerMessage(Message{NodeID: "node-b", Term: 1, Score: 0.5})
	e.Tick(now.Add(50 * time.Millisecond)) // gather deadline passed
	assert.Equal(t, RoleLeader, e.Role())
	assert.Equal(t, "node-a", e.View().MasterID)

	last := broadcasts[len(broadcasts)-1]
	assert.Equal(t, "node-a", last.CurrentMaster)
}

func TestElection_CandidateLosesGatherToHigherPeerScore(t *testing.T) {
	e := New("node-a", func() float64 { return 0.2 }, func(Message) {},
		WithTimeout(10*time.Millisecond), WithGather(20*time.Millisecond))

	now := time.Now()
	e.Tick(now)
	e.Tick(now.Add(20 * time.Millisecond))
	require.Equal(t, RoleCandidate, e.Role())

	e.OnPeerMessage(Message{NodeID: "node-b", Term: 1, Score: 0.95})
	e.Tick(now.Add(50 * time.Millisecond))
	assert.Equal(t, RoleFollower, e.Role())
	assert.Equal(t, "node-b", e.View().MasterID)
}

func TestElection_HigherTermSupersedes(t *testing.T) {
	e := New("node-a", func() float64 { return 0.5 }, func(Message) {})
	e.OnMasterHeartbeat("node-b", 5)
	assert.Equal(t, uint64(5), e.View().Term)

	e.OnPeerMessage(Message{NodeID: "node-c", Term: 9, Score: 0.1, CurrentMaster: ""})
	assert.Equal(t, uint64(9), e.View().Term)
	assert.Equal(t, RoleFollower, e.Role())
}

func TestElection_MasterHeartbeatRevertsCandidateToFollower(t *testing.T) {
	e := New("node-a", func() float64 { return 0.5 }, func(Message) {},
		WithTimeout(10*time.Millisecond), WithGather(time.Hour))
	now := time.Now()
	e.Tick(now)
	e.Tick(now.Add(20 * time.Millisecond))
	require.Equal(t, RoleCandidate, e.Role())

	e.OnMasterHeartbeat("node-b", 99)
	assert.Equal(t, RoleFollower, e.Role())
}

func TestRebinder_ProbesInScoreOrder(t *testing.T) {
	r := NewRebinder([]Replica{{NodeID: "b", Score: 0.3}, {NodeID: "a", Score: 0.9}, {NodeID: "c", Score: 0.5}})
	assert.Equal(t, []string{"a", "c", "b"}, r.ProbeOrder())
}

func TestRebinder_RejectsStaleTerm(t *testing.T) {
	r := NewRebinder(nil)
	assert.True(t, r.AcceptNewMaster(5))
	assert.False(t, r.AcceptNewMaster(3))
	assert.True(t, r.AcceptNewMaster(5))
}
