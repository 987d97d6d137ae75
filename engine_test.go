package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frame = 1.0 / 60

// mockIdentity answers identity calls from memory
type mockIdentity struct {
	mu          sync.Mutex
	calls       map[string]int
	quarantined []IdentityRef
	blocked     []string
	batches     [][]IdentityRef

	// quarantineFn overrides the default success; n counts attempts for id
	quarantineFn func(id string, n int) (ServiceResult, error)
	blockFn      func(id string) (ServiceResult, error)
	batchRefuse  map[string]bool
}

func newMockIdentity() *mockIdentity {
	return &mockIdentity{calls: map[string]int{}, batchRefuse: map[string]bool{}}
}

func (m *mockIdentity) Quarantine(ctx context.Context, identityID, identityName, account, scope, rootScope string) (ServiceResult, error) {
	m.mu.Lock()
	m.calls[identityID]++
	n := m.calls[identityID]
	fn := m.quarantineFn
	m.mu.Unlock()

	if fn != nil {
		res, err := fn(identityID, n)
		if err != nil || !res.Success {
			return res, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantined = append(m.quarantined, IdentityRef{
		IdentityID: identityID, IdentityName: identityName, Account: account, Scope: scope, RootScope: rootScope,
	})
	return ServiceResult{Success: true}, nil
}

func (m *mockIdentity) BlockThirdParty(ctx context.Context, thirdPartyID, thirdPartyName string) (ServiceResult, error) {
	m.mu.Lock()
	fn := m.blockFn
	m.mu.Unlock()
	if fn != nil {
		if res, err := fn(thirdPartyID); err != nil || !res.Success {
			return res, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append(m.blocked, thirdPartyName)
	return ServiceResult{Success: true}, nil
}

func (m *mockIdentity) BatchQuarantine(ctx context.Context, refs []IdentityRef) (BatchReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]IdentityRef(nil), refs...))
	var r BatchReport
	for _, ref := range refs {
		if m.batchRefuse[ref.IdentityID] {
			r.Failed++
			r.FailedRefs = append(r.FailedRefs, ref)
			r.Errors = append(r.Errors, ref.IdentityName+": refused")
			continue
		}
		r.Successful++
		m.quarantined = append(m.quarantined, ref)
	}
	return r, nil
}

func (m *mockIdentity) quarantineCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *mockIdentity) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

type eventLog struct {
	events []Event
}

func (l *eventLog) Emit(ev Event) { l.events = append(l.events, ev) }

func (l *eventLog) count(k EventKind) int {
	n := 0
	for _, ev := range l.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

func (l *eventLog) last(k EventKind) (Event, bool) {
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Kind == k {
			return l.events[i], true
		}
	}
	return Event{}, false
}

// testLevel builds a 1200px wide platformer level with n auto-placed
// zombies that die to a single projectile
func testLevel(account string, number, n int) LevelDescriptor {
	d := LevelDescriptor{
		AccountID:   account,
		LevelNumber: number,
		RootScope:   "root-" + account,
		Door:        Rect{X: float64(300 * number), Y: 100, W: 60, H: 80},
		Width:       1200,
		Height:      900,
		GroundY:     800,
	}
	for i := 0; i < n; i++ {
		d.Zombies = append(d.Zombies, ZombieSpec{
			IdentityID:   fmt.Sprintf("%s-z%d", account, i),
			IdentityName: fmt.Sprintf("user%d", i),
			Scope:        "scope-" + account,
			Health:       ProjectileDamage,
		})
	}
	return d
}

func testCatalog(levels ...LevelDescriptor) *LevelCatalog {
	return &LevelCatalog{
		LobbyLayout: LobbyLayout{Width: 1600, Height: 900, Spawn: Vector2{X: 100, Y: 100}},
		Levels:      levels,
	}
}

func newTestEngine(t *testing.T, src LevelSource, opts ...EngineOption) (*Engine, *mockIdentity, *eventLog) {
	t.Helper()
	cfg := DefaultEngineConfig()
	cfg.Seed = 1
	cfg.Retry = RetryPolicy{Attempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	id := newMockIdentity()
	events := &eventLog{}
	e := NewEngine(cfg, src, id, append([]EngineOption{WithEventSink(events)}, opts...)...)
	t.Cleanup(e.Close)
	return e, id, events
}

// playingEngine enters a single unlocked level with n zombies
func playingEngine(t *testing.T, n int) (*Engine, *mockIdentity, *eventLog) {
	t.Helper()
	lvl := testLevel("acct-1", 1, n)
	lvl.Unlocked = true
	e, id, events := newTestEngine(t, testCatalog(lvl, testLevel("acct-2", 2, 2)))
	require.NoError(t, e.EnterLevel("acct-1"))
	return e, id, events
}

func step(e *Engine, frames int) {
	for i := 0; i < frames; i++ {
		e.Update(frame)
	}
}

func fireOnce(e *Engine) {
	e.SetInput(InputState{Shoot: true})
	e.Update(frame)
	e.SetInput(InputState{})
}

// shootUntilHidden fires one shot and steps until z is claimed
func shootUntilHidden(t *testing.T, e *Engine, z *Zombie) {
	t.Helper()
	fireOnce(e)
	for i := 0; i < 120 && !z.IsHidden(); i++ {
		e.Update(frame)
	}
	require.True(t, z.IsHidden(), "projectile never reached %s", z.IdentityID)
}

func TestEngineStartsInLobby(t *testing.T) {
	lvl := testLevel("acct-1", 1, 2)
	lvl.Unlocked = true
	e, _, _ := newTestEngine(t, testCatalog(lvl, testLevel("acct-2", 2, 2)))

	assert.Equal(t, ModeLobby, e.Mode())
	assert.Equal(t, "", e.CurrentLevel())
	doors := e.Doors()
	require.Len(t, doors, 2)
	assert.True(t, doors[0].Unlocked)
	assert.False(t, doors[1].Unlocked)

	// Doors returns a copy
	doors[1].Unlocked = true
	assert.False(t, e.Doors()[1].Unlocked)
}

func TestEnterLevelRejections(t *testing.T) {
	lvl := testLevel("acct-1", 1, 2)
	lvl.Unlocked = true
	e, _, events := newTestEngine(t, testCatalog(lvl, testLevel("acct-2", 2, 2)))

	err := e.EnterLevel("acct-2")
	assert.ErrorIs(t, err, ErrLevelLocked)
	assert.Equal(t, ModeLobby, e.Mode())
	assert.ErrorIs(t, e.LastError(), ErrLevelLocked)

	err = e.EnterLevel("nope")
	assert.ErrorIs(t, err, ErrUnknownLevel)
	assert.Equal(t, ModeLobby, e.Mode())
	assert.Equal(t, 2, events.count(EventLevelFailed))

	require.NoError(t, e.EnterLevel("acct-1"))
	assert.Nil(t, e.LastError())
	assert.Error(t, e.EnterLevel("acct-1"), "only from the lobby")
}

func TestEnterLevelBuildsEntities(t *testing.T) {
	e, _, events := playingEngine(t, 3)

	assert.Equal(t, ModePlaying, e.Mode())
	assert.Equal(t, "acct-1", e.CurrentLevel())
	require.Len(t, e.Zombies(), 3)
	for i, z := range e.Zombies() {
		assert.Equal(t, zombieStartX+float64(i)*zombieSpacing, z.Position.X)
		assert.Equal(t, 800.0-ZombieHeight, z.Position.Y)
		assert.Equal(t, "acct-1", z.Account)
	}
	assert.Equal(t, 3, e.ZombiesRemaining())
	assert.Equal(t, Vector2{X: levelSpawnX, Y: 800 - PlayerHeight}, e.Player().Position)

	ev, ok := events.last(EventLevelStarted)
	require.True(t, ok)
	assert.Equal(t, 1, ev.Value)
}

func TestLobbyDoorWalkIn(t *testing.T) {
	lvl := testLevel("acct-1", 1, 1)
	lvl.Unlocked = true
	e, _, _ := newTestEngine(t, testCatalog(lvl, testLevel("acct-2", 2, 1)))

	e.Player().Position = Vector2{X: 600, Y: 100}
	e.Update(frame)
	assert.Equal(t, ModeLobby, e.Mode())
	assert.Equal(t, "Level 2 is locked", e.Message())

	e.Player().Position = Vector2{X: 300, Y: 100}
	e.Update(frame)
	assert.Equal(t, ModePlaying, e.Mode())
	assert.Equal(t, "acct-1", e.CurrentLevel())
}

func TestQuarantineConfirmed(t *testing.T) {
	e, id, events := playingEngine(t, 3)
	z := e.Zombies()[0]

	shootUntilHidden(t, e, z)
	assert.True(t, z.IsQuarantining(), "hidden before the service answers")
	assert.Equal(t, 0, e.Stats().ZombiesQuarantined)
	assert.Equal(t, 1, events.count(EventZombieEliminated))

	e.Settle()
	assert.True(t, z.IsRemoved())
	assert.Equal(t, 0, e.Pending())
	assert.Equal(t, 2, e.ZombiesRemaining())

	stats := e.Stats()
	assert.Equal(t, 1, stats.ZombiesQuarantined)
	assert.Equal(t, 1, stats.EliminationsCount)
	assert.Equal(t, pointsPerQuarantine, stats.Score)

	require.Len(t, id.quarantined, 1)
	assert.Equal(t, IdentityRef{
		IdentityID: "acct-1-z0", IdentityName: "user0", Account: "acct-1", Scope: "scope-acct-1", RootScope: "root-acct-1",
	}, id.quarantined[0])
	assert.Equal(t, 1, events.count(EventQuarantined))
}

func TestSingleTickHitOnSecondZombie(t *testing.T) {
	e, _, _ := playingEngine(t, 3)
	z2 := e.Zombies()[1]

	e.projectiles = append(e.projectiles, &Projectile{
		Position: z2.Position, Width: ProjectileWidth, Height: ProjectileHeight,
		Damage: ProjectileDamage, Life: 1, Alive: true,
	})
	e.Update(frame)

	assert.Equal(t, 0, z2.Health)
	assert.True(t, z2.IsHidden())
	assert.Empty(t, e.projectiles, "projectile consumed")
	for _, z := range []*Zombie{e.Zombies()[0], e.Zombies()[2]} {
		assert.False(t, z.IsHidden())
		assert.Equal(t, ProjectileDamage, z.Health)
	}

	assert.Equal(t, 3, e.ZombiesRemaining(), "not removed until confirmed")
	e.Settle()
	assert.Equal(t, 2, e.ZombiesRemaining())
}

func TestQuarantineRefusedRollsBack(t *testing.T) {
	e, id, events := playingEngine(t, 2)
	id.quarantineFn = func(string, int) (ServiceResult, error) {
		return ServiceResult{ErrorMessage: "protected identity"}, nil
	}
	z := e.Zombies()[0]

	shootUntilHidden(t, e, z)
	e.Settle()

	assert.False(t, z.IsHidden())
	assert.False(t, z.IsQuarantining())
	assert.Equal(t, 0, e.Stats().ZombiesQuarantined)
	assert.Equal(t, 2, e.ZombiesRemaining())
	assert.Contains(t, e.Message(), "protected identity")
	assert.Equal(t, 1, id.quarantineCalls(), "refusals are not retried")

	ev, ok := events.last(EventQuarantineFailed)
	require.True(t, ok)
	assert.Equal(t, z.IdentityID, ev.IdentityID)

	// at 0 HP the next hit claims it again
	id.quarantineFn = nil
	shootUntilHidden(t, e, z)
	e.Settle()
	assert.True(t, z.IsRemoved())
	assert.Equal(t, 1, e.Stats().ZombiesQuarantined)
}

func TestQuarantineTransientRetried(t *testing.T) {
	e, id, _ := playingEngine(t, 1)
	id.quarantineFn = func(_ string, n int) (ServiceResult, error) {
		if n < 3 {
			return ServiceResult{}, &TransientError{Op: "quarantine", Err: errors.New("status 503")}
		}
		return ServiceResult{Success: true}, nil
	}
	z := e.Zombies()[0]

	shootUntilHidden(t, e, z)
	e.Settle()
	assert.True(t, z.IsRemoved())
	assert.Equal(t, 3, id.quarantineCalls())
}

func TestQuarantineRetriesExhausted(t *testing.T) {
	e, id, _ := playingEngine(t, 1)
	id.quarantineFn = func(string, int) (ServiceResult, error) {
		return ServiceResult{}, &TransientError{Op: "quarantine", Err: errors.New("timeout")}
	}
	z := e.Zombies()[0]

	shootUntilHidden(t, e, z)
	e.Settle()
	assert.False(t, z.IsHidden())
	assert.Equal(t, 3, id.quarantineCalls())
	assert.Contains(t, e.Message(), "retries exhausted")
}

func TestThirdPartyBlocked(t *testing.T) {
	lvl := testLevel("acct-1", 1, 1)
	lvl.Unlocked = true
	lvl.ThirdParties = []ThirdPartySpec{{ID: "tp-1", Name: "Acme", Health: ProjectileDamage, X: 300}}
	e, id, events := newTestEngine(t, testCatalog(lvl))
	require.NoError(t, e.EnterLevel("acct-1"))
	require.Len(t, e.ThirdParties(), 1)
	tp := e.ThirdParties()[0]

	fireOnce(e)
	for i := 0; i < 60 && !tp.IsHidden(); i++ {
		e.Update(frame)
	}
	require.True(t, tp.IsHidden())
	assert.False(t, e.Zombies()[0].IsHidden(), "the third party took the shot")

	e.Settle()
	assert.True(t, tp.IsRemoved())
	assert.Equal(t, []string{"Acme"}, id.blocked)
	assert.Equal(t, 1, e.Stats().ThirdPartiesBlocked)
	assert.Equal(t, pointsPerBlock, e.Stats().Score)
	assert.Equal(t, 1, events.count(EventThirdPartyBlocked))
}

func TestThirdPartyBlockFailureRestores(t *testing.T) {
	lvl := testLevel("acct-1", 1, 1)
	lvl.Unlocked = true
	lvl.ThirdParties = []ThirdPartySpec{{ID: "tp-1", Name: "Acme", Health: ProjectileDamage, X: 300}}
	e, id, events := newTestEngine(t, testCatalog(lvl))
	id.blockFn = func(string) (ServiceResult, error) {
		return ServiceResult{ErrorMessage: "vendor is critical"}, nil
	}
	require.NoError(t, e.EnterLevel("acct-1"))
	tp := e.ThirdParties()[0]

	fireOnce(e)
	for i := 0; i < 60 && !tp.IsHidden(); i++ {
		e.Update(frame)
	}
	e.Settle()
	assert.False(t, tp.IsHidden())
	assert.Equal(t, 0, e.Stats().ThirdPartiesBlocked)
	assert.Equal(t, 1, events.count(EventBlockFailed))
}

func TestBossBattleAndVictory(t *testing.T) {
	lvl := testLevel("acct-1", 1, 1)
	lvl.Unlocked = true
	e, _, events := newTestEngine(t, testCatalog(lvl, testLevel("acct-2", 2, 1)))
	require.NoError(t, e.EnterLevel("acct-1"))

	shootUntilHidden(t, e, e.Zombies()[0])
	e.Settle()
	e.Update(frame)
	require.Equal(t, ModeBossBattle, e.Mode())
	require.NotNil(t, e.Boss())
	assert.Equal(t, 1, events.count(EventBossStarted))

	e.Boss().Health = ProjectileDamage
	fireOnce(e)
	for i := 0; i < 120 && e.Mode() == ModeBossBattle; i++ {
		e.Update(frame)
	}
	require.Equal(t, ModeVictory, e.Mode())
	assert.Nil(t, e.Boss())
	assert.Equal(t, 1, events.count(EventVictory))

	doors := e.Doors()
	assert.True(t, doors[0].Completed)
	assert.True(t, doors[1].Unlocked, "next door unlocked")

	e.Update(VictoryLinger + 0.1)
	assert.Equal(t, ModeLobby, e.Mode())
	assert.Equal(t, Vector2{X: 100, Y: 100}, e.Player().Position)
}

func TestVictorySkippedWithInteract(t *testing.T) {
	e, _, _ := playingEngine(t, 1)
	require.NoError(t, e.StartBossBattle())
	e.winLevel()
	require.Equal(t, ModeVictory, e.Mode())

	e.SetInput(InputState{Interact: true})
	e.Update(frame)
	assert.Equal(t, ModeLobby, e.Mode())
}

func TestBossContactDefeat(t *testing.T) {
	e, _, events := playingEngine(t, 1)
	require.NoError(t, e.StartBossBattle())
	assert.Empty(t, e.projectiles)

	e.Player().HP = 1
	e.Player().Position = e.Boss().Position
	e.Update(frame)
	assert.Equal(t, ModeLobby, e.Mode())
	assert.Equal(t, "Defeated by the boss", e.Message())
	assert.Equal(t, 1, events.count(EventLevelFailed))
}

func TestBossBattleSkipsZombieCollisions(t *testing.T) {
	e, _, _ := playingEngine(t, 2)
	require.NoError(t, e.StartBossBattle())
	z := e.Zombies()[0]

	e.projectiles = append(e.projectiles, &Projectile{
		Position: z.Position, Width: ProjectileWidth, Height: ProjectileHeight,
		Damage: ProjectileDamage, Life: 1, Alive: true,
	})
	e.Update(frame)
	assert.False(t, z.IsHidden())
	assert.Equal(t, ProjectileDamage, z.Health)
}

func TestPauseSuspendsUpdates(t *testing.T) {
	e, _, _ := playingEngine(t, 1)
	step(e, 5)

	require.True(t, e.Pause())
	assert.Equal(t, ModePaused, e.Mode())
	assert.False(t, e.Pause())

	pos := e.Player().Position
	playTime := e.Stats().PlayTime
	e.SetInput(InputState{Right: true, Shoot: true})
	step(e, 30)
	assert.Equal(t, pos, e.Player().Position)
	assert.Equal(t, playTime, e.Stats().PlayTime)
	assert.Empty(t, e.projectiles)

	require.True(t, e.Resume())
	assert.Equal(t, ModePlaying, e.Mode())
	e.Update(frame)
	assert.Greater(t, e.Player().Position.X, pos.X)
	assert.False(t, e.Resume())
}

func TestPauseMenuReturnToLobby(t *testing.T) {
	e, _, _ := playingEngine(t, 1)
	assert.False(t, e.MenuReturnToLobby(), "only from the pause menu")

	require.True(t, e.Pause())
	require.True(t, e.MenuReturnToLobby())
	assert.Equal(t, ModeLobby, e.Mode())
	assert.Empty(t, e.Zombies())
	assert.Equal(t, "", e.CurrentLevel())
}

func TestPauseResumesBossBattle(t *testing.T) {
	e, _, _ := playingEngine(t, 1)
	require.NoError(t, e.StartBossBattle())
	require.True(t, e.Pause())
	require.True(t, e.Resume())
	assert.Equal(t, ModeBossBattle, e.Mode())
}

func TestQuarantinedSkippedOnReentry(t *testing.T) {
	e, _, _ := playingEngine(t, 2)
	shootUntilHidden(t, e, e.Zombies()[0])
	e.Settle()

	require.True(t, e.Pause())
	require.True(t, e.MenuReturnToLobby())
	require.NoError(t, e.EnterLevel("acct-1"))
	require.Len(t, e.Zombies(), 1)
	assert.Equal(t, "acct-1-z1", e.Zombies()[0].IdentityID)
}

func TestClearedLevelReentryStartsBoss(t *testing.T) {
	e, _, events := playingEngine(t, 1)
	shootUntilHidden(t, e, e.Zombies()[0])
	e.Settle()
	e.Update(frame)
	require.Equal(t, ModeBossBattle, e.Mode())

	e.Player().HP = 1
	e.Player().Position = e.Boss().Position
	e.Update(frame)
	require.Equal(t, ModeLobby, e.Mode(), "lost to the boss")

	require.NoError(t, e.EnterLevel("acct-1"))
	assert.Empty(t, e.Zombies())
	e.Update(frame)
	assert.Equal(t, ModeBossBattle, e.Mode(), "an already cleared level goes straight to the boss")
	assert.Equal(t, 2, events.count(EventBossStarted))
}

// startArcade enters arcade mode and runs out the countdown
func startArcade(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.StartArcade())
	for i := 0; i < 240 && !e.Arcade().IsActive(); i++ {
		e.Update(frame)
	}
	require.True(t, e.Arcade().IsActive())
}

func TestArcadeUnavailable(t *testing.T) {
	lvl := testLevel("acct-1", 1, 1)
	lvl.Unlocked = true
	e, _, _ := newTestEngine(t, testCatalog(lvl))

	assert.ErrorIs(t, e.StartArcade(), ErrArcadeUnavailable, "lobby")
	require.NoError(t, e.EnterLevel("acct-1"))
	require.NoError(t, e.StartArcade())
	assert.ErrorIs(t, e.StartArcade(), ErrArcadeUnavailable, "already running")
	assert.ErrorIs(t, e.SettleArcade(SettleSubmit), ErrNothingToSettle)
}

func TestArcadeCountdownDisablesHits(t *testing.T) {
	e, id, events := playingEngine(t, 2)
	require.NoError(t, e.StartArcade())
	assert.Equal(t, ModeArcadeActive, e.Mode())
	assert.Equal(t, 1, events.count(EventArcadeStarted))

	z := e.Zombies()[0]
	fireOnce(e)
	step(e, 90)
	assert.True(t, e.Arcade().InCountdown())
	assert.False(t, z.IsHidden())
	assert.Equal(t, ProjectileDamage, z.Health)
	assert.Equal(t, 0, id.quarantineCalls())
}

func TestArcadeQueuesWithoutServiceCalls(t *testing.T) {
	e, id, events := playingEngine(t, 3)
	startArcade(t, e)

	z := e.Zombies()[0]
	shootUntilHidden(t, e, z)
	e.Settle()
	assert.True(t, z.IsQuarantining(), "held by the session, not confirmed")
	assert.Equal(t, 0, id.quarantineCalls())
	assert.Equal(t, 0, e.Pending())
	require.Len(t, e.Arcade().Queue(), 1)
	assert.Same(t, z, e.Arcade().Queue()[0])
	assert.Equal(t, 1, e.Arcade().PendingRespawns())
	assert.Equal(t, 1, events.count(EventZombieEliminated))
	assert.Equal(t, 0, e.Stats().ZombiesQuarantined)
}

func TestArcadeRespawnsZombies(t *testing.T) {
	e, _, _ := playingEngine(t, 2)
	startArcade(t, e)

	z := e.Zombies()[0]
	shootUntilHidden(t, e, z)
	require.True(t, z.IsHidden())

	step(e, int((e.Arcade().Config().RespawnDelay+0.2)/frame))
	assert.False(t, z.IsHidden(), "respawned")
	assert.Equal(t, z.MaxHealth, z.Health)
	assert.Len(t, e.Arcade().Queue(), 1, "the queue keeps the elimination")
}

func TestArcadeSubmitSettles(t *testing.T) {
	e, id, events := playingEngine(t, 2)
	startArcade(t, e)
	z := e.Zombies()[0]
	shootUntilHidden(t, e, z)

	e.Update(61)
	require.True(t, e.AwaitingSettlement())
	assert.Equal(t, ModeArcadeActive, e.Mode())
	ended, ok := events.last(EventArcadeEnded)
	require.True(t, ok)
	assert.Equal(t, 1, ended.Value)
	require.NotNil(t, ended.Arcade)

	require.NoError(t, e.SettleArcade(SettleSubmit))
	assert.Error(t, e.SettleArcade(SettleSubmit), "batch still running")
	e.Settle()

	assert.False(t, e.AwaitingSettlement())
	assert.Equal(t, ModePlaying, e.Mode())
	assert.True(t, z.IsRemoved())
	assert.Equal(t, 1, e.Stats().ZombiesQuarantined)
	require.Equal(t, 1, id.batchCount())
	assert.Equal(t, "root-acct-1", id.batches[0][0].RootScope)

	settled, ok := events.last(EventArcadeSettled)
	require.True(t, ok)
	assert.Equal(t, 1, settled.Value)
	require.NotNil(t, settled.Report)
	assert.Equal(t, 1, settled.Report.Successful)
}

func TestArcadePartialFailureAndRetry(t *testing.T) {
	e, id, events := playingEngine(t, 3)
	startArcade(t, e)
	z0, z1 := e.Zombies()[0], e.Zombies()[1]
	shootUntilHidden(t, e, z0)
	shootUntilHidden(t, e, z1)

	e.Update(61)
	id.batchRefuse["acct-1-z1"] = true
	require.NoError(t, e.SettleArcade(SettleSubmit))
	e.Settle()

	assert.True(t, z0.IsRemoved())
	assert.False(t, z1.IsHidden(), "refused identity is restored")
	assert.True(t, e.AwaitingSettlement())
	require.Len(t, e.FailedRefs(), 1)
	assert.Equal(t, "acct-1-z1", e.FailedRefs()[0].IdentityID)
	failed, ok := events.last(EventQuarantineFailed)
	require.True(t, ok)
	require.NotNil(t, failed.Report)
	assert.Equal(t, 1, failed.Report.Failed)
	assert.Contains(t, e.Message(), "1 of 2")

	delete(id.batchRefuse, "acct-1-z1")
	require.NoError(t, e.SettleArcade(SettleRetry))
	e.Settle()
	assert.True(t, z1.IsRemoved())
	assert.False(t, e.AwaitingSettlement())
	assert.Equal(t, 2, e.Stats().ZombiesQuarantined)
	assert.Equal(t, 2, id.batchCount())
	assert.Len(t, id.batches[1], 1, "retry resubmits only the failures")
}

func TestArcadeRetryWithNothingFailed(t *testing.T) {
	e, _, _ := playingEngine(t, 2)
	startArcade(t, e)
	e.Update(61)
	require.True(t, e.AwaitingSettlement())
	assert.Error(t, e.SettleArcade(SettleRetry))
}

func TestArcadeDiscardRestores(t *testing.T) {
	e, id, events := playingEngine(t, 2)
	startArcade(t, e)
	z := e.Zombies()[0]
	shootUntilHidden(t, e, z)

	e.Update(61)
	require.NoError(t, e.SettleArcade(SettleDiscard))
	assert.False(t, z.IsHidden())
	assert.Equal(t, z.MaxHealth, z.Health)
	assert.False(t, e.AwaitingSettlement())
	assert.Equal(t, ArcadeInactive, e.Arcade().Phase())
	assert.Equal(t, 0, id.batchCount())

	settled, ok := events.last(EventArcadeSettled)
	require.True(t, ok)
	assert.Equal(t, 0, settled.Value)
}

func TestArcadeCancelledByLobby(t *testing.T) {
	e, _, _ := playingEngine(t, 2)
	startArcade(t, e)
	z := e.Zombies()[0]
	shootUntilHidden(t, e, z)

	require.True(t, e.Pause())
	require.True(t, e.MenuReturnToLobby())
	assert.Equal(t, ArcadeInactive, e.Arcade().Phase())
	assert.Empty(t, e.Arcade().Queue())
	assert.False(t, z.IsHidden(), "held zombie restored before unloading")
}

func TestArcadeBlocksThirdPartyHits(t *testing.T) {
	lvl := testLevel("acct-1", 1, 1)
	lvl.Unlocked = true
	lvl.ThirdParties = []ThirdPartySpec{{ID: "tp-1", Name: "Acme", Health: ProjectileDamage, X: 300}}
	e, _, _ := newTestEngine(t, testCatalog(lvl))
	require.NoError(t, e.EnterLevel("acct-1"))
	startArcade(t, e)

	tp := e.ThirdParties()[0]
	fireOnce(e)
	step(e, 30)
	assert.False(t, tp.IsHidden())
}

func spaceLevel() LevelDescriptor {
	lvl := testLevel("acct-space", 1, 2)
	lvl.Unlocked = true
	lvl.Genre = GenreSpace
	return lvl
}

func TestGenreLevelLost(t *testing.T) {
	e, _, events := newTestEngine(t, testCatalog(spaceLevel()))
	require.NoError(t, e.EnterLevel("acct-space"))
	assert.Equal(t, ModePlaying, e.Mode())
	assert.ErrorIs(t, e.StartArcade(), ErrArcadeUnavailable)
	assert.Error(t, e.StartBossBattle())

	for i := 0; i < 60 && e.Mode() == ModePlaying; i++ {
		e.Update(1)
	}
	assert.Equal(t, ModeLobby, e.Mode())
	ev, ok := events.last(EventLevelFailed)
	require.True(t, ok)
	assert.Equal(t, "Level lost", ev.Message)
}

func TestGenreLevelWonSkipsBoss(t *testing.T) {
	lvl := spaceLevel()
	e, _, events := newTestEngine(t, testCatalog(lvl))
	e.ImportSnapshot(Snapshot{QuarantinedIdentityIDs: []string{"acct-space-z0", "acct-space-z1"}})

	require.NoError(t, e.EnterLevel("acct-space"))
	e.Update(frame)
	assert.Equal(t, ModeVictory, e.Mode())
	assert.Equal(t, 0, events.count(EventBossStarted))
}

func TestUnknownGenreFallsBack(t *testing.T) {
	e, _, _ := newTestEngine(t, testCatalog(spaceLevel()), WithGenres(NewGenreRegistry()))
	err := e.EnterLevel("acct-space")
	assert.ErrorIs(t, err, ErrUnknownGenre)
	assert.Equal(t, ModeLobby, e.Mode())
	assert.Empty(t, e.Zombies())
}

type brokenLevels struct {
	*LevelCatalog
	panics bool
}

func (b brokenLevels) LoadLevel(ctx context.Context, accountID string) (*LevelDescriptor, error) {
	if b.panics {
		panic("boom")
	}
	return nil, errors.New("catalog offline")
}

func TestLevelTransitionFailuresFallBackToLobby(t *testing.T) {
	lvl := testLevel("acct-1", 1, 1)
	lvl.Unlocked = true

	e, _, events := newTestEngine(t, brokenLevels{LevelCatalog: testCatalog(lvl), panics: true})
	err := e.EnterLevel("acct-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, ModeLobby, e.Mode())
	assert.Equal(t, e.LastError(), err)
	assert.Equal(t, 1, events.count(EventLevelFailed))

	e, _, _ = newTestEngine(t, brokenLevels{LevelCatalog: testCatalog(lvl)})
	assert.EqualError(t, e.EnterLevel("acct-1"), "catalog offline")
	assert.Equal(t, ModeLobby, e.Mode())
	assert.Equal(t, "catalog offline", e.Message())
}

func TestMalformedLevelRejected(t *testing.T) {
	lvl := testLevel("acct-1", 1, 2)
	lvl.Unlocked = true
	lvl.Zombies[1].IdentityID = lvl.Zombies[0].IdentityID
	e, _, _ := newTestEngine(t, testCatalog(lvl))

	assert.ErrorIs(t, e.EnterLevel("acct-1"), ErrMalformedLevel)
	assert.Equal(t, ModeLobby, e.Mode())
}

func TestPowerUpCollection(t *testing.T) {
	e, _, events := playingEngine(t, 1)
	pu := NewPowerUp(PowerUpStarPower, e.Player().Position)
	e.powerUps = []*PowerUp{pu}

	e.Update(frame)
	assert.True(t, pu.Collected)
	assert.True(t, e.Player().HasEffect(PowerUpStarPower))
	assert.Equal(t, 1, events.count(EventPowerUpCollected))
}

func TestMessageExpires(t *testing.T) {
	e, _, _ := playingEngine(t, 1)
	e.showMessage("hello")
	e.Update(messageTTL - 0.5)
	assert.Equal(t, "hello", e.Message())
	e.Update(1)
	assert.Equal(t, "", e.Message())
}

func TestCloseStopsInflightCalls(t *testing.T) {
	e, id, _ := playingEngine(t, 1)
	release := make(chan struct{})
	id.quarantineFn = func(string, int) (ServiceResult, error) {
		<-release
		return ServiceResult{Success: true}, nil
	}
	shootUntilHidden(t, e, e.Zombies()[0])
	assert.Equal(t, 1, e.Pending())

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
