package proto

import (
	"math"

	"github.com/pion/rtp"
)

// rtpClockHz is the fixed-point clock rate used to encode presentation_τ
// into an RTP timestamp for the out-of-band media datagram path. 90kHz
// matches the conventional video RTP clock and gives about 11.1µs
// resolution, comfortably inside the required sub-millisecond precision.
const rtpClockHz = 90000

// EncodeDatagram packs one MediaData message into an RTP packet for
// the out-of-band datagram channel: SequenceNumber carries the low 16
// bits of ChunkIndex, Timestamp carries PresentationT in rtpClockHz
// fixed-point units, and the marker bit mirrors IsKeyframe. The payload
// is carried unmodified (raw, not base64; base64 is a JSON-transport
// concern only).
func EncodeDatagram(m MediaData, ssrc uint32, payloadType uint8) ([]byte, error) {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: uint16(m.ChunkIndex),
			Timestamp:      uint32(math.Round(m.Timestamp * rtpClockHz)),
			SSRC:           ssrc,
			Marker:         m.IsKeyframe,
		},
		Payload: m.Data,
	}
	return pkt.Marshal()
}

// DecodeDatagram reverses EncodeDatagram, reconstructing the
// MediaData fields carried by an RTP packet. trackID and codec aren't
// present on the wire RTP header and must be supplied by the caller
// from the datagram channel's out-of-band session context (e.g. keyed
// by SSRC), matching how a real RTP session binds SSRC to a track.
func DecodeDatagram(raw []byte, trackID string, codec Codec, duration float64) (MediaData, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(raw); err != nil {
		return MediaData{}, err
	}
	return MediaData{
		TrackID:    trackID,
		ChunkIndex: uint64(pkt.SequenceNumber),
		Timestamp:  float64(pkt.Timestamp) / rtpClockHz,
		Duration:   duration,
		Codec:      codec,
		Data:       pkt.Payload,
		IsKeyframe: pkt.Marker,
	}, nil
}
