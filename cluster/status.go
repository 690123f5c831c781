package cluster

import (
	"context"
	"time"
)

// StatusInterval is how often a node broadcasts its node_status
// snapshot.
const StatusInterval = 2 * time.Second

// StatusBroadcaster periodically samples local health via sample and
// hands the resulting Status to publish.
type StatusBroadcaster struct {
	sample   func() Status
	publish  func(Status)
	interval time.Duration
}

// NewStatusBroadcaster constructs a broadcaster with the default
// StatusInterval cadence.
func NewStatusBroadcaster(sample func() Status, publish func(Status)) *StatusBroadcaster {
	return &StatusBroadcaster{sample: sample, publish: publish, interval: StatusInterval}
}

// Run drives the broadcast loop until ctx is cancelled.
func (b *StatusBroadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.publish(b.sample())
		}
	}
}

// Replica is a client's view of one known replica's last-advertised
// health, used to order re-bind probing.
type Replica struct {
	NodeID string
	Score  float64
}

// Rebinder holds a client's re-bind state: the known replicas ordered
// by last-advertised score, highest first (ProbeOrder), and the highest
// master term accepted so far (AcceptNewMaster). It does not send
// probes or buffer commands itself.
type Rebinder struct {
	lastSeenTerm uint64
	replicas     []Replica
}

// NewRebinder constructs a Rebinder with an initial replica set,
// ordered by advertised score, highest first.
func NewRebinder(replicas []Replica) *Rebinder {
	r := &Rebinder{replicas: append([]Replica(nil), replicas...)}
	r.sortByScore()
	return r
}

func (r *Rebinder) sortByScore() {
	for i := 1; i < len(r.replicas); i++ {
		j := i
		for j > 0 && r.replicas[j].Score > r.replicas[j-1].Score {
			r.replicas[j], r.replicas[j-1] = r.replicas[j-1], r.replicas[j]
			j--
		}
	}
}

// UpdateReplica refreshes one replica's advertised score (e.g. from a
// node_status broadcast) and re-sorts the probe order.
func (r *Rebinder) UpdateReplica(nodeID string, score float64) {
	for i := range r.replicas {
		if r.replicas[i].NodeID == nodeID {
			r.replicas[i].Score = score
			r.sortByScore()
			return
		}
	}
	r.replicas = append(r.replicas, Replica{NodeID: nodeID, Score: score})
	r.sortByScore()
}

// ProbeOrder returns the node ids to probe, in order, when the current
// master is unreachable.
func (r *Rebinder) ProbeOrder() []string {
	ids := make([]string, len(r.replicas))
	for i, rep := range r.replicas {
		ids[i] = rep.NodeID
	}
	return ids
}

// AcceptNewMaster reports whether a candidate claiming role:master at
// term should be accepted as the new binding: it must be at a term no
// lower than the last one this client observed, per the rule that
// failover never regresses the client's view of cluster time.
func (r *Rebinder) AcceptNewMaster(term uint64) bool {
	if term < r.lastSeenTerm {
		return false
	}
	r.lastSeenTerm = term
	return true
}
