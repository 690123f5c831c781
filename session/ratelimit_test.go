package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressLimiter_AllowsUpToBurstThenRejects(t *testing.T) {
	a := NewAddressLimiter()
	addr := "10.0.0.1:5000"

	for i := 0; i < int(DefaultNewSessionsPerSecond); i++ {
		assert.True(t, a.Allow(addr), "call %d should be within burst", i)
	}
	assert.False(t, a.Allow(addr), "exceeding the burst must be rejected")
}

func TestAddressLimiter_TracksAddressesIndependently(t *testing.T) {
	a := NewAddressLimiter()

	for i := 0; i < int(DefaultNewSessionsPerSecond); i++ {
		assert.True(t, a.Allow("10.0.0.1:5000"))
	}
	assert.False(t, a.Allow("10.0.0.1:5000"))
	// A different source address has its own bucket, unaffected by the first.
	assert.True(t, a.Allow("10.0.0.2:5000"))
}
