package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountersSnapshot(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewCounters(start)

	c.AddCalls(10)
	c.AddCalls(5)
	c.IncStarted()
	c.IncStarted()
	c.IncConverged()
	c.RecordKill(3)
	c.RecordKill(7)

	now := start.Add(time.Minute)
	snap := c.Snapshot(now)
	assert.Equal(t, 15, snap.FuncCalls)
	assert.Equal(t, 1, snap.ConvCount)
	assert.Equal(t, 2, snap.KillCount)
	assert.Equal(t, 2, snap.OptsStarted)
	assert.Equal(t, start, snap.StartTime)
	assert.Equal(t, now, snap.Now)

	assert.Equal(t, []int{3, 7}, c.Victims())
}

func TestCountersKillCountDistinctFromVictims(t *testing.T) {
	c := NewCounters(time.Now())

	// Recording the same victim twice still counts two kills but one victim.
	c.RecordKill(4)
	c.RecordKill(4)
	assert.Equal(t, 2, c.KillCount())
	assert.Equal(t, []int{4}, c.Victims())
}

func TestCountersStateRoundTrip(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewCounters(start)
	c.AddCalls(42)
	c.IncStarted()
	c.IncConverged()
	c.RecordKill(2)

	restored := RestoreCounters(c.State())

	assert.Equal(t, c.FuncCalls(), restored.FuncCalls())
	assert.Equal(t, c.KillCount(), restored.KillCount())
	assert.Equal(t, c.Victims(), restored.Victims())
	assert.Equal(t, c.State(), restored.State())
}
