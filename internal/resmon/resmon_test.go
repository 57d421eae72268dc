package resmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisabledMonitorNeverBlocks(t *testing.T) {
	m := New(0, 0, nil)
	assert.False(t, m.Enabled())
	assert.True(t, m.Allow())
	assert.NoError(t, m.Wait(context.Background()))
}

func TestAllowAgainstCeilings(t *testing.T) {
	m := New(80, 90, nil)
	assert.True(t, m.Enabled())

	m.currentCPU = 50
	m.currentMem = 50
	assert.True(t, m.Allow())

	m.currentCPU = 95
	assert.False(t, m.Allow())

	m.currentCPU = 50
	m.currentMem = 99
	assert.False(t, m.Allow())
}

func TestWaitHonorsContext(t *testing.T) {
	// A memory ceiling below any real reading keeps the monitor saturated.
	m := New(0, 0.000001, nil)
	m.currentMem = 100

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
