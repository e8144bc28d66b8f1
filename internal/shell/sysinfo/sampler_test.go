package sysinfo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Sampler Tests
// =============================================================================

func TestHostSampler_Snapshot(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewHostSampler("/", 50*time.Millisecond)
	s.now = func() time.Time { return fixed }

	snap, err := s.Snapshot(context.Background())

	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.CPUPercent, 0.0)
	assert.LessOrEqual(t, snap.CPUPercent, 100.0)
	assert.Greater(t, snap.MemoryPercent, 0.0)
	assert.Greater(t, snap.DiskPercent, 0.0)
	assert.Equal(t, fixed, snap.CollectedAt)
}

func TestHostSampler_BadDiskPath(t *testing.T) {
	s := NewHostSampler("/definitely/not/a/mount/point", 10*time.Millisecond)

	_, err := s.Snapshot(context.Background())

	assert.Error(t, err)
}

func TestNewHostSampler_Defaults(t *testing.T) {
	s := NewHostSampler("", 0)

	assert.Equal(t, "/", s.DiskPath)
	assert.Equal(t, 500*time.Millisecond, s.CPUWindow)
}

// =============================================================================
// Process Tests
// =============================================================================

func TestZombieParents(t *testing.T) {
	zombies := []ProcessInfo{
		{PID: 10, PPID: 5},
		{PID: 11, PPID: 5},
		{PID: 12, PPID: 1},
		{PID: 13, PPID: 7},
	}

	assert.Equal(t, []int32{5, 7}, ZombieParents(zombies))
	assert.Empty(t, ZombieParents(nil))
}

func TestIsZombie(t *testing.T) {
	assert.True(t, isZombie([]string{"zombie"}))
	assert.False(t, isZombie([]string{"running", "sleep"}))
}

func TestZombies_Runs(t *testing.T) {
	_, err := Zombies(context.Background())
	assert.NoError(t, err)
}
