package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yukihamada/solusync-x/buffer"
	"github.com/yukihamada/solusync-x/clock"
	"github.com/yukihamada/solusync-x/proto"
	"github.com/yukihamada/solusync-x/render"
)

type fakeStream struct {
	sent   [][]byte
	remote string
	closed bool
}

func (f *fakeStream) Send(frame []byte) error { f.sent = append(f.sent, frame); return nil }
func (f *fakeStream) Recv() ([]byte, error)   { return nil, nil }
func (f *fakeStream) Close() error            { f.closed = true; return nil }
func (f *fakeStream) RemoteAddr() string      { return f.remote }

type fakeProbe struct {
	replies int
	echoes  int
}

func (f *fakeProbe) HandleReply(id string, t1, t2, t3 float64) bool {
	f.replies++
	return true
}

func (f *fakeProbe) HandleHeartbeatEcho(clientTime, serverTime float64) bool {
	f.echoes++
	return true
}

func newTestHandler(t *testing.T) (*Handler, *Session, *fakeStream) {
	t.Helper()
	c := clock.New()
	stream := &fakeStream{}
	s := New("node-1", stream, c)
	sched := buffer.NewScheduler(c, render.NewLoggingRenderer(nil))
	h := NewHandler(s, &fakeProbe{}, sched, nil, nil)
	return h, s, stream
}

func TestHandler_HelloThenDuplicateIsRejectedWithoutClosingSession(t *testing.T) {
	h, _, stream := newTestHandler(t)
	ctx := context.Background()

	hello := proto.Message{Header: proto.Header{Type: proto.TypeHello}, Hello: &proto.Hello{ProtocolVersion: ProtocolVersion}}
	require.NoError(t, h.Dispatch(ctx, hello))

	err := h.Dispatch(ctx, hello)
	require.NoError(t, err)

	require.Len(t, stream.sent, 1)
	msg, decErr := proto.Decode(stream.sent[0])
	require.NoError(t, decErr)
	require.NotNil(t, msg.Error)
	assert.Equal(t, int(proto.ErrInvalidState), msg.Error.Code)
}

func TestHandler_HelloVersionMismatchErrors(t *testing.T) {
	h, _, _ := newTestHandler(t)
	hello := proto.Message{Header: proto.Header{Type: proto.TypeHello}, Hello: &proto.Hello{ProtocolVersion: "0.0.1"}}
	err := h.Dispatch(context.Background(), hello)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestHandler_ClockSyncRespondsOnStream(t *testing.T) {
	h, _, stream := newTestHandler(t)
	msg := proto.Message{Header: proto.Header{Type: proto.TypeClockSync}, ClockSync: &proto.ClockSync{T1: 5}}
	require.NoError(t, h.Dispatch(context.Background(), msg))
	assert.Len(t, stream.sent, 1)
}

func TestHandler_MediaControlLoadThenPlayDrivesTrackState(t *testing.T) {
	h, s, _ := newTestHandler(t)
	startAt := s.now() + 1

	load := proto.Message{
		Header:       proto.Header{Type: proto.TypeMediaControl, ID: "cmd-load"},
		MediaControl: &proto.MediaControl{Header: proto.Header{ID: "cmd-load"}, Action: proto.ActionLoad, TrackID: "t1", StartAt: startAt},
	}
	require.NoError(t, h.Dispatch(context.Background(), load))
	assert.Equal(t, buffer.StateReady, h.sched.Track("t1").State())

	play := proto.Message{
		Header:       proto.Header{Type: proto.TypeMediaControl, ID: "cmd-play"},
		MediaControl: &proto.MediaControl{Header: proto.Header{ID: "cmd-play"}, Action: proto.ActionPlay, TrackID: "t1", StartAt: startAt},
	}
	require.NoError(t, h.Dispatch(context.Background(), play))
	assert.Equal(t, buffer.StatePlaying, h.sched.Track("t1").State())
	assert.True(t, h.sched.Track("t1").CanRender())
}

func TestHandler_MediaControlInvalidTransitionReportsWithoutClosing(t *testing.T) {
	h, s, stream := newTestHandler(t)
	startAt := s.now() + 1

	// play without a prior load is an invalid idle -> playing transition.
	play := proto.Message{
		Header:       proto.Header{Type: proto.TypeMediaControl, ID: "cmd-play"},
		MediaControl: &proto.MediaControl{Header: proto.Header{ID: "cmd-play"}, Action: proto.ActionPlay, TrackID: "t1", StartAt: startAt},
	}
	err := h.Dispatch(context.Background(), play)
	require.NoError(t, err)
	assert.Equal(t, buffer.StateIdle, h.sched.Track("t1").State())

	require.Len(t, stream.sent, 1)
	msg, decErr := proto.Decode(stream.sent[0])
	require.NoError(t, decErr)
	require.NotNil(t, msg.Error)
	assert.Equal(t, int(proto.ErrInvalidState), msg.Error.Code)
}

func TestHandler_MediaDataAdmitsIntoScheduler(t *testing.T) {
	h, s, _ := newTestHandler(t)
	future := s.now() + 5
	msg := proto.Message{
		Header:    proto.Header{Type: proto.TypeMediaData},
		MediaData: &proto.MediaData{TrackID: "t1", Timestamp: future, ChunkIndex: 1},
	}
	require.NoError(t, h.Dispatch(context.Background(), msg))
	assert.Equal(t, 1, h.sched.QueueDepth("t1"))
}

func TestHandler_HeartbeatEchoesServerTime(t *testing.T) {
	h, _, stream := newTestHandler(t)
	msg := proto.Message{Header: proto.Header{Type: proto.TypeHeartbeat}, Heartbeat: &proto.Heartbeat{ClientTime: 1}}
	require.NoError(t, h.Dispatch(context.Background(), msg))
	require.Len(t, stream.sent, 1)
}

func TestHandler_UnknownTypeIsError(t *testing.T) {
	h, _, _ := newTestHandler(t)
	msg := proto.Message{Header: proto.Header{Type: "not_a_real_type"}}
	err := h.Dispatch(context.Background(), msg)
	assert.Error(t, err)
}

func TestHandler_PeerFatalErrorClosesSession(t *testing.T) {
	h, _, _ := newTestHandler(t)
	msg := proto.Message{Header: proto.Header{Type: proto.TypeError}, Error: &proto.Error{Code: int(proto.ErrAuthRejected)}}
	err := h.Dispatch(context.Background(), msg)
	assert.Error(t, err)
}

func TestHandler_PeerRateLimitedErrorDoesNotClose(t *testing.T) {
	h, _, _ := newTestHandler(t)
	msg := proto.Message{Header: proto.Header{Type: proto.TypeError}, Error: &proto.Error{Code: int(proto.ErrRateLimited)}}
	err := h.Dispatch(context.Background(), msg)
	assert.NoError(t, err)
}
