package main

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArcade() *ArcadeSession {
	return NewArcadeSession(DefaultArcadeConfig(), rand.New(rand.NewSource(42)))
}

func activeArcade(t *testing.T) *ArcadeSession {
	t.Helper()
	s := newTestArcade()
	s.StartSession()
	s.Update(s.Config().CountdownDuration + 0.1)
	require.True(t, s.IsActive())
	return s
}

func arcadeZombies(n int) []*Zombie {
	out := make([]*Zombie, n)
	for i := range out {
		out[i] = NewZombie(ZombieSpec{IdentityID: fmt.Sprintf("id-%d", i)}, "acct", Vector2{X: float64(i) * 100})
	}
	return out
}

func TestArcadeLifecycle(t *testing.T) {
	s := newTestArcade()
	assert.Equal(t, ArcadeInactive, s.Phase())
	assert.False(t, s.Running())

	s.StartSession()
	assert.True(t, s.InCountdown())
	assert.Equal(t, 3.0, s.Countdown())
	assert.Equal(t, 60.0, s.TimeRemaining())

	s.Update(1)
	assert.InDelta(t, 2.0, s.Countdown(), 1e-9)
	assert.Equal(t, 60.0, s.TimeRemaining(), "main timer frozen during countdown")

	s.Update(2.5)
	require.True(t, s.IsActive())
	assert.Equal(t, 60.0, s.TimeRemaining(), "countdown overflow is not carried over")

	s.Update(59)
	assert.True(t, s.IsActive())
	s.Update(2)
	assert.Equal(t, ArcadeEnded, s.Phase())
	assert.Equal(t, 0.0, s.TimeRemaining())
	assert.False(t, s.Running())
}

func TestQueueEliminationOnlyWhileActive(t *testing.T) {
	s := newTestArcade()
	z := arcadeZombies(1)[0]

	assert.False(t, s.QueueElimination(z), "inactive")
	s.StartSession()
	assert.False(t, s.QueueElimination(z), "countdown")
	assert.Empty(t, s.Queue())

	s.Update(3.1)
	assert.True(t, s.QueueElimination(z))
	assert.Len(t, s.Queue(), 1)
}

func TestQueueIsAppendOnlyAndDeduplicated(t *testing.T) {
	s := activeArcade(t)
	zs := arcadeZombies(4)

	for _, z := range zs {
		require.True(t, s.QueueElimination(z))
	}
	assert.False(t, s.QueueElimination(zs[2]))

	q := s.Queue()
	require.Len(t, q, 4)
	for i, z := range zs {
		assert.Same(t, z, q[i], "insertion order preserved")
	}
	assert.Equal(t, 4, s.Stats().TotalEliminations)

	// the returned slice is a copy
	q[0] = nil
	assert.NotNil(t, s.Queue()[0])
}

func TestArcadeEndToEndStats(t *testing.T) {
	s := newTestArcade()
	s.StartSession()
	s.Update(3.1)
	require.True(t, s.IsActive())

	for _, z := range arcadeZombies(5) {
		s.QueueElimination(z)
	}
	s.Update(5.0)

	stats := s.Stats()
	assert.Equal(t, 5, stats.TotalEliminations)
	assert.InDelta(t, 1.0, stats.EliminationsPerSecond, 1e-9)
	assert.Equal(t, 5, stats.HighestCombo)
}

func TestStatsZeroDuration(t *testing.T) {
	s := activeArcade(t)
	s.QueueElimination(arcadeZombies(1)[0])
	assert.Equal(t, 0.0, s.Stats().EliminationsPerSecond)
}

func TestComboMultiplierAndTimeout(t *testing.T) {
	s := activeArcade(t)
	zs := arcadeZombies(12)

	for _, z := range zs[:4] {
		s.QueueElimination(z)
	}
	assert.Equal(t, 4, s.Combo())
	assert.Equal(t, 400, s.Stats().Score)

	// fifth hit raises the multiplier to 2
	s.QueueElimination(zs[4])
	assert.Equal(t, 600, s.Stats().Score)

	s.Update(s.Config().ComboTimeout + 0.01)
	assert.Equal(t, 0, s.Combo())
	assert.Equal(t, 5, s.Stats().HighestCombo)

	s.QueueElimination(zs[5])
	assert.Equal(t, 1, s.Combo())
	assert.Equal(t, 5, s.Stats().HighestCombo)
}

func TestComboMultiplierCap(t *testing.T) {
	c := ComboTracker{Timeout: 3, Count: 100}
	assert.Equal(t, maxComboMultiplier, c.Multiplier())
	c.Reset()
	assert.Equal(t, 1, c.Multiplier())
}

func TestRecordPowerUpOnlyWhileActive(t *testing.T) {
	s := newTestArcade()
	s.RecordPowerUp()
	s.StartSession()
	s.RecordPowerUp()
	s.Update(3.1)
	s.RecordPowerUp()
	assert.Equal(t, 1, s.Stats().PowerupsCollected)
}

func TestCancelAndStartReset(t *testing.T) {
	s := activeArcade(t)
	s.QueueElimination(arcadeZombies(1)[0])
	s.RecordPowerUp()

	s.CancelSession()
	assert.Equal(t, ArcadeInactive, s.Phase())
	assert.Empty(t, s.Queue())
	assert.Equal(t, ArcadeStats{}, s.Stats())

	s = activeArcade(t)
	s.QueueElimination(arcadeZombies(1)[0])
	s.StartSession()
	assert.Empty(t, s.Queue())
	assert.Equal(t, 0, s.Stats().TotalEliminations)
}

func TestRespawnTimerLifecycle(t *testing.T) {
	s := activeArcade(t)
	z := arcadeZombies(1)[0]

	require.True(t, s.QueueZombieForRespawn(z))
	assert.False(t, s.QueueZombieForRespawn(z), "duplicate insert is a no-op")
	assert.Equal(t, 1, s.PendingRespawns())

	s.UpdateRespawnTimers(1.9)
	assert.Empty(t, s.ZombiesReadyToRespawn())

	s.UpdateRespawnTimers(0.2)
	ready := s.ZombiesReadyToRespawn()
	require.Len(t, ready, 1)
	assert.Same(t, z, ready[0])
	assert.Equal(t, 0, s.PendingRespawns())
	assert.Empty(t, s.ZombiesReadyToRespawn(), "pulled exactly once")

	// eligible for another round
	assert.True(t, s.QueueZombieForRespawn(z))
}

func TestRespawnQueueOnlyWhileActive(t *testing.T) {
	s := newTestArcade()
	s.StartSession()
	assert.False(t, s.QueueZombieForRespawn(arcadeZombies(1)[0]))
}

func TestRespawnZombieReset(t *testing.T) {
	s := activeArcade(t)
	z := arcadeZombies(1)[0]
	z.TakeDamage(1000)
	z.MarkQuarantining()
	z.Velocity = Vector2{X: 30, Y: 40}

	s.respawnOnSide(z, Vector2{X: 1000}, 5000, 800, false)
	assert.Equal(t, 1500.0, z.Position.X)
	assert.Equal(t, 800.0-ZombieHeight, z.Position.Y)
	assert.Equal(t, z.MaxHealth, z.Health)
	assert.False(t, z.IsHidden())
	assert.Equal(t, 0.0, z.Flash)
	assert.Equal(t, Vector2{}, z.Velocity)
	assert.True(t, z.Grounded)

	s.respawnOnSide(z, Vector2{X: 1000}, 5000, 800, true)
	assert.Equal(t, 500.0, z.Position.X)
}

func TestRespawnZombieClamped(t *testing.T) {
	s := activeArcade(t)
	z := arcadeZombies(1)[0]

	s.respawnOnSide(z, Vector2{X: 100}, 5000, 800, true)
	assert.Equal(t, 50.0, z.Position.X)

	s.respawnOnSide(z, Vector2{X: 4900}, 5000, 800, false)
	assert.Equal(t, 4950.0, z.Position.X)

	for i := 0; i < 20; i++ {
		s.RespawnZombie(z, Vector2{X: 2000}, 5000, 800)
		assert.Contains(t, []float64{1500, 2500}, z.Position.X)
	}
}

func TestShouldRespawnZombies(t *testing.T) {
	s := newTestArcade()
	assert.True(t, s.ShouldRespawnZombies(19))
	assert.False(t, s.ShouldRespawnZombies(20))
	assert.False(t, s.ShouldRespawnZombies(25))
}
