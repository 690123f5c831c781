package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message is the closed tagged union every decoded wire frame resolves
// to. Exactly one field is non-nil, selected by Header.Type. Callers
// exhaustively switch on Type; an unrecognized Type at decode time
// yields an error rather than a silently-dropped frame.
type Message struct {
	Header

	Hello             *Hello
	ClockSync         *ClockSync
	ClockSyncResponse *ClockSyncResponse
	MediaControl      *MediaControl
	MediaData         *MediaData
	Heartbeat         *Heartbeat
	NodeStatus        *NodeStatus
	MasterElection    *MasterElection
	Error             *Error
}

// Decode parses one JSON frame (as produced by the transport layer,
// one message per frame) into a Message. An unrecognized or missing
// "type" field is reported as an error wrapping ErrUnrecognizedType,
// never decoded into an empty Message.
func Decode(frame []byte) (Message, error) {
	var hdr Header
	if err := json.Unmarshal(frame, &hdr); err != nil {
		return Message{}, fmt.Errorf("decode header: %w", err)
	}

	msg := Message{Header: hdr}

	switch hdr.Type {
	case TypeHello:
		var v Hello
		if err := json.Unmarshal(frame, &v); err != nil {
			return Message{}, fmt.Errorf("decode hello: %w", err)
		}
		msg.Hello = &v
	case TypeClockSync:
		var v ClockSync
		if err := json.Unmarshal(frame, &v); err != nil {
			return Message{}, fmt.Errorf("decode clock_sync: %w", err)
		}
		msg.ClockSync = &v
	case TypeClockSyncResponse:
		var v ClockSyncResponse
		if err := json.Unmarshal(frame, &v); err != nil {
			return Message{}, fmt.Errorf("decode clock_sync_response: %w", err)
		}
		msg.ClockSyncResponse = &v
	case TypeMediaControl:
		var v MediaControl
		if err := json.Unmarshal(frame, &v); err != nil {
			return Message{}, fmt.Errorf("decode media_control: %w", err)
		}
		msg.MediaControl = &v
	case TypeMediaData:
		var v MediaData
		if err := json.Unmarshal(frame, &v); err != nil {
			return Message{}, fmt.Errorf("decode media_data: %w", err)
		}
		msg.MediaData = &v
	case TypeHeartbeat:
		var v Heartbeat
		if err := json.Unmarshal(frame, &v); err != nil {
			return Message{}, fmt.Errorf("decode heartbeat: %w", err)
		}
		msg.Heartbeat = &v
	case TypeNodeStatus:
		var v NodeStatus
		if err := json.Unmarshal(frame, &v); err != nil {
			return Message{}, fmt.Errorf("decode node_status: %w", err)
		}
		msg.NodeStatus = &v
	case TypeMasterElection:
		var v MasterElection
		if err := json.Unmarshal(frame, &v); err != nil {
			return Message{}, fmt.Errorf("decode master_election: %w", err)
		}
		msg.MasterElection = &v
	case TypeError:
		var v Error
		if err := json.Unmarshal(frame, &v); err != nil {
			return Message{}, fmt.Errorf("decode error: %w", err)
		}
		msg.Error = &v
	default:
		return Message{}, fmt.Errorf("%w: unrecognized message type %q", ErrUnrecognizedType, hdr.Type)
	}

	return msg, nil
}

// Encode serializes any of the typed message structs (which must embed
// Header with Type already set) to a single JSON frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ErrUnrecognizedType is wrapped into the error returned by Decode when
// Header.Type doesn't match any known message shape.
var ErrUnrecognizedType = errors.New("proto: unrecognized message type")
