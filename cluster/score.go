package cluster

// Default candidate-score weights: cpu headroom, mem headroom,
// network quality, battery headroom.
const (
	WeightCPU        = 0.3
	WeightMem        = 0.2
	WeightNetQuality = 0.3
	WeightBattery    = 0.2
)

// Status is one node's latest health snapshot, broadcast every 2s as
// node_status and consumed both for cluster visibility and candidate
// scoring.
type Status struct {
	NodeID           string
	Role             Role
	ConnectedClients int
	CPU              float64 // [0,1], fraction used
	Mem              float64 // [0,1], fraction used
	Battery          *float64
	NetQuality       float64 // [0,1], higher is better
	AvgRTT           float64
	Loss             float64
}

// Score computes the composite candidate score S in [0,1]: weighted
// headroom across cpu, mem, network quality, and battery (absent
// battery counts as full headroom, i.e. a wired node).
func Score(s Status) float64 {
	battery := 1.0
	if s.Battery != nil {
		battery = *s.Battery
	}
	return WeightCPU*(1-s.CPU) + WeightMem*(1-s.Mem) + WeightNetQuality*s.NetQuality + WeightBattery*battery
}

// Candidate pairs a node id with its score, the unit election ranks
// and ties on.
type Candidate struct {
	NodeID string
	Score  float64
}

// higherScore reports whether a should be preferred over b: higher
// score wins, ties broken by lowest node_id.
func higherScore(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.NodeID < b.NodeID
}

// best returns the preferred candidate among cands, or false if empty.
func best(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	winner := cands[0]
	for _, c := range cands[1:] {
		if higherScore(c, winner) {
			winner = c
		}
	}
	return winner, true
}
