package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yukihamada/solusync-x/clock"
	"github.com/yukihamada/solusync-x/proto"
)

type nopStream struct{}

func (nopStream) Send([]byte) error     { return nil }
func (nopStream) Recv() ([]byte, error) { return nil, nil }
func (nopStream) Close() error          { return nil }
func (nopStream) RemoteAddr() string    { return "test" }

func TestSession_ReceiveHello_AcceptsMatchingVersion(t *testing.T) {
	s := New("n1", nopStream{}, clock.New())
	err := s.ReceiveHello(&proto.Hello{ProtocolVersion: ProtocolVersion, NodeID: "peer"})
	require.NoError(t, err)
}

func TestSession_ReceiveHello_RejectsMismatch(t *testing.T) {
	s := New("n1", nopStream{}, clock.New())
	err := s.ReceiveHello(&proto.Hello{ProtocolVersion: "9.9.9"})
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestSession_ValidateOutgoingMediaControl_RejectsTooSoon(t *testing.T) {
	s := New("n1", nopStream{}, clock.New())
	err := s.ValidateOutgoingMediaControl(s.now())
	require.Error(t, err)
	protoErr, ok := err.(proto.Error)
	require.True(t, ok)
	assert.Equal(t, int(proto.ErrTooLate), protoErr.Code)
}

func TestSession_ValidateOutgoingMediaControl_AcceptsBeyondEpsilon(t *testing.T) {
	s := New("n1", nopStream{}, clock.New())
	err := s.ValidateOutgoingMediaControl(s.now() + 1.0)
	assert.NoError(t, err)
}

func TestSession_AdmitIncomingMediaControl_BestEffortOnSmallOverrun(t *testing.T) {
	s := New("n1", nopStream{}, clock.New())
	past := s.now() - 0.05 // 50ms overrun, within BestEffortWindow (100ms)
	execute, err := s.AdmitIncomingMediaControl("cmd-1", past)
	require.NoError(t, err)
	assert.True(t, execute)
}

func TestSession_AdmitIncomingMediaControl_TooLateBeyondWindow(t *testing.T) {
	s := New("n1", nopStream{}, clock.New())
	past := s.now() - 1.0
	_, err := s.AdmitIncomingMediaControl("cmd-2", past)
	assert.Error(t, err)
}

func TestSession_AdmitIncomingMediaControl_ReplayIsIdempotent(t *testing.T) {
	s := New("n1", nopStream{}, clock.New())
	future := s.now() + 1.0
	execute, err := s.AdmitIncomingMediaControl("cmd-3", future)
	require.NoError(t, err)
	require.True(t, execute)

	execute, err = s.AdmitIncomingMediaControl("cmd-3", future)
	require.NoError(t, err)
	assert.False(t, execute)
}

func TestSession_Heartbeat_UnhealthyAfterTwoMisses(t *testing.T) {
	s := New("n1", nopStream{}, clock.New())
	assert.False(t, s.CheckHeartbeat()) // first miss
	assert.True(t, s.CheckHeartbeat())  // second consecutive miss
}

func TestSession_Heartbeat_ReceiptResetsMissedCounter(t *testing.T) {
	s := New("n1", nopStream{}, clock.New())
	s.CheckHeartbeat() // one miss recorded
	s.RecordHeartbeatReceived()
	assert.False(t, s.CheckHeartbeat())
}
