// Package proto defines the wire message shapes exchanged between a
// coordinator and an endpoint, represented as a closed tagged union
// rather than an untyped map: an unrecognized message type makes Decode
// return an error wrapping ErrUnrecognizedType rather than an empty
// message. Decode does not itself produce an INVALID_STATE wire error.
package proto

// Type identifies which message shape a frame carries.
type Type string

const (
	TypeHello             Type = "hello"
	TypeClockSync         Type = "clock_sync"
	TypeClockSyncResponse Type = "clock_sync_response"
	TypeMediaControl      Type = "media_control"
	TypeMediaData         Type = "media_data"
	TypeHeartbeat         Type = "heartbeat"
	TypeNodeStatus        Type = "node_status"
	TypeMasterElection    Type = "master_election"
	TypeError             Type = "error"
)

// Header is the common envelope carried by every message.
type Header struct {
	ID       string  `json:"id"`
	Type     Type    `json:"type"`
	Ts       float64 `json:"timestamp"`
	NodeID   string  `json:"node_id"`
	Sequence uint64  `json:"sequence"`
}

// NodeType enumerates the hello handshake's node_type field.
type NodeType string

const (
	NodeMaster  NodeType = "master"
	NodeReplica NodeType = "replica"
	NodeClient  NodeType = "client"
)

// Capability names recognized by hello.capabilities. The set is
// open-ended on the wire: unknown capabilities are ignored by the
// receiver, never cause rejection.
const (
	CapAudio     = "audio"
	CapVideo     = "video"
	CapClockSync = "clock_sync"
	CapCluster   = "cluster"
)

// ClusterInfo is the hello reply's view of the current cluster
// membership.
type ClusterInfo struct {
	MasterID   string   `json:"master_id"`
	ReplicaIDs []string `json:"replica_ids"`
}

// Hello is the session handshake message, sent by both sides.
type Hello struct {
	Header
	ProtocolVersion string       `json:"protocol_version"`
	Capabilities    []string     `json:"capabilities"`
	NodeType        NodeType     `json:"node_type"`
	AuthToken       string       `json:"auth_token,omitempty"`
	ClusterInfo     *ClusterInfo `json:"cluster_info,omitempty"`
}

// ClockSync is a round-trip probe's outbound leg, carrying t1.
type ClockSync struct {
	Header
	T1 float64 `json:"t1"`
}

// ClockSyncResponse echoes t1 and adds t2 (peer receive) / t3 (peer
// send); t4 is observed locally by the original sender on receipt.
type ClockSyncResponse struct {
	Header
	T1 float64 `json:"t1"`
	T2 float64 `json:"t2"`
	T3 float64 `json:"t3"`
}

// Action enumerates the recognized media_control actions.
type Action string

const (
	ActionPlay   Action = "play"
	ActionPause  Action = "pause"
	ActionStop   Action = "stop"
	ActionSeek   Action = "seek"
	ActionLoad   Action = "load"
	ActionUnload Action = "unload"
)

// Params carries the recognized media_control parameter keys.
// All fields are optional; zero value means "unset", not "zero".
type Params struct {
	Volume        *float64 `json:"volume,omitempty"`
	LoopCount     *uint64  `json:"loop_count,omitempty"`
	FadeInMs      *float64 `json:"fade_in_ms,omitempty"`
	FadeOutMs     *float64 `json:"fade_out_ms,omitempty"`
	SeekPositionS *float64 `json:"seek_position,omitempty"`
}

// MediaControl carries a scheduled action.
type MediaControl struct {
	Header
	Action  Action  `json:"action"`
	TrackID string  `json:"track_id"`
	StartAt float64 `json:"start_at"`
	Params  Params  `json:"params"`
}

// Codec enumerates the recognized media_data codecs.
type Codec string

const (
	CodecOpus  Codec = "opus"
	CodecPCM16 Codec = "pcm16"
	CodecH264  Codec = "h264"
	CodecVP9   Codec = "vp9"
)

// MediaData carries one media frame. Data is base64
// over the JSON stream transport; the out-of-band datagram path
// (EncodeDatagram/DecodeDatagram) carries the same fields via RTP framing.
type MediaData struct {
	Header
	TrackID    string  `json:"track_id"`
	ChunkIndex uint64  `json:"chunk_index"`
	Timestamp  float64 `json:"timestamp"`
	Duration   float64 `json:"duration"`
	Codec      Codec   `json:"codec"`
	Data       []byte  `json:"data"` // encoding/json base64-encodes []byte automatically.
	IsKeyframe bool    `json:"is_keyframe"`
}

// Heartbeat carries the sender's client_time; the peer's reply echoes
// it and adds server_time.
type Heartbeat struct {
	Header
	ClientTime float64  `json:"client_time"`
	ServerTime *float64 `json:"server_time,omitempty"`
}

// NodeStatus is the periodic cluster health broadcast.
type NodeStatus struct {
	Header
	Role             NodeType `json:"role"`
	ConnectedClients int      `json:"connected_clients"`
	CPU              float64  `json:"cpu"`
	Mem              float64  `json:"mem"`
	Battery          *float64 `json:"battery,omitempty"`
	NetQuality       float64  `json:"net_quality"`
	AvgRTT           float64  `json:"avg_rtt"`
	Loss             float64  `json:"loss"`
}

// MasterElection is broadcast by a node transitioning to CANDIDATE, and
// by a freshly promoted LEADER.
type MasterElection struct {
	Header
	ElectionID     string  `json:"election_id"`
	CandidateScore float64 `json:"candidate_score"`
	CurrentMaster  *string `json:"current_master"`
	Term           uint64  `json:"term"`
}

// Error is the wire error surface.
type Error struct {
	Header
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
