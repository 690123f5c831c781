package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yukihamada/solusync-x/clock"
)

type fakeSender struct {
	sent []struct {
		id string
		t1 float64
	}
}

func (f *fakeSender) SendProbe(id string, t1 float64) error {
	f.sent = append(f.sent, struct {
		id string
		t1 float64
	}{id, t1})
	return nil
}

func TestDriver_SendOneAssignsOutstanding(t *testing.T) {
	c := clock.New()
	sender := &fakeSender{}
	d := New(c, sender)

	d.sendOne()
	require.Len(t, sender.sent, 1)
	assert.NotEmpty(t, d.outstanding)
}

func TestDriver_HandleReply_CompletesAndClearsOutstanding(t *testing.T) {
	c := clock.New()
	sender := &fakeSender{}
	d := New(c, sender)

	d.sendOne()
	id := sender.sent[0].id

	ok := d.HandleReply(id, 0, 10, 10)
	assert.True(t, ok)
	assert.Empty(t, d.outstanding)
}

func TestDriver_HandleReply_RejectsUnknownID(t *testing.T) {
	c := clock.New()
	sender := &fakeSender{}
	d := New(c, sender)

	d.sendOne()
	ok := d.HandleReply("not-the-outstanding-id", 0, 10, 10)
	assert.False(t, ok)
}

func TestDriver_HandleReply_RejectsWhenNoneOutstanding(t *testing.T) {
	c := clock.New()
	d := New(c, &fakeSender{})
	ok := d.HandleReply("anything", 0, 10, 10)
	assert.False(t, ok)
}

func TestDriver_SecondProbeSupersedesFirst(t *testing.T) {
	c := clock.New()
	sender := &fakeSender{}
	d := New(c, sender)

	d.sendOne()
	firstID := sender.sent[0].id
	d.sendOne() // supersedes; first outstanding id is now stale

	ok := d.HandleReply(firstID, 0, 10, 10)
	assert.False(t, ok)
}

func TestDriver_HandleHeartbeatEcho_FeedsQuickSample(t *testing.T) {
	c := clock.New()
	d := New(c, &fakeSender{})

	ok := d.HandleHeartbeatEcho(0, 5)
	assert.True(t, ok)
	assert.Equal(t, 1, c.SampleCount())
}
