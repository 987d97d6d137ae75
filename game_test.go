package main

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// mockBroadcaster captures sent messages for testing
type mockBroadcaster struct {
	mu       sync.Mutex
	messages []Envelope
	frames   [][]byte
}

func (m *mockBroadcaster) SendJSON(msg interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if env, ok := msg.(Envelope); ok {
		m.messages = append(m.messages, env)
	}
}

func (m *mockBroadcaster) SendBinary(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, data)
}

func (m *mockBroadcaster) ofType(t string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Envelope
	for _, env := range m.messages {
		if env.T == t {
			out = append(out, env)
		}
	}
	return out
}

func (m *mockBroadcaster) frameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func newTestGame(t *testing.T, db *DB) *Game {
	t.Helper()
	lvl := testLevel("acct-1", 1, 2)
	lvl.Unlocked = true
	cfg := DefaultEngineConfig()
	cfg.Retry = RetryPolicy{Attempts: 1}
	return NewGame("test-session", cfg, TickRate, testCatalog(lvl, testLevel("acct-2", 2, 1)), newMockIdentity(), db, nil)
}

func enterLevel(t *testing.T, g *Game) {
	t.Helper()
	if err := g.do(func(e *Engine) error { return e.EnterLevel("acct-1") }); err != nil {
		t.Fatalf("enter level: %v", err)
	}
}

func TestGameAddRemoveClient(t *testing.T) {
	g := newTestGame(t, nil)
	clients := make([]*mockBroadcaster, maxClientsPerGame)
	for i := range clients {
		clients[i] = &mockBroadcaster{}
		if !g.AddClient(clients[i]) {
			t.Fatalf("client %d rejected", i)
		}
	}
	if g.AddClient(&mockBroadcaster{}) {
		t.Error("expected the game to be full")
	}
	if n := g.RemoveClient(clients[0]); n != maxClientsPerGame-1 {
		t.Errorf("expected %d remaining, got %d", maxClientsPerGame-1, n)
	}
	if g.ClientCount() != maxClientsPerGame-1 {
		t.Errorf("unexpected client count %d", g.ClientCount())
	}
}

func TestGameUpdateBroadcastsFrames(t *testing.T) {
	g := newTestGame(t, nil)
	defer g.Stop()

	// no clients, no encoding
	g.update()
	g.update()

	mock := &mockBroadcaster{}
	g.AddClient(mock)
	for i := 0; i < 4; i++ {
		g.update()
	}

	if g.tick != 6 {
		t.Errorf("expected tick 6, got %d", g.tick)
	}
	if mock.frameCount() != 2 {
		t.Fatalf("expected 2 frames at %d ticks per broadcast, got %d", BroadcastEvery, mock.frameCount())
	}

	var f StateFrame
	if err := msgpack.Unmarshal(mock.frames[1], &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.Tick != 6 || f.Mode != "lobby" {
		t.Errorf("unexpected frame tick=%d mode=%s", f.Tick, f.Mode)
	}
	if f.PlayerHP != PlayerMaxHP {
		t.Errorf("expected full hp, got %d", f.PlayerHP)
	}
	if len(f.Sprites) == 0 {
		t.Error("expected lobby sprites")
	}
}

func TestGameFrameShowsArcade(t *testing.T) {
	g := newTestGame(t, nil)
	defer g.Stop()
	enterLevel(t, g)
	if err := g.StartArcade(); err != nil {
		t.Fatal(err)
	}
	if g.Mode() != ModeArcadeActive {
		t.Fatalf("expected arcade mode, got %s", g.Mode())
	}

	g.mu.Lock()
	f := g.buildFrame()
	g.mu.Unlock()
	if f.Arcade == nil || f.Arcade.Phase != "countdown" {
		t.Fatalf("expected countdown hud, got %+v", f.Arcade)
	}
	if f.Remaining != 2 {
		t.Errorf("expected 2 zombies remaining, got %d", f.Remaining)
	}
}

func TestGamePublishesEvents(t *testing.T) {
	g := newTestGame(t, nil)
	defer g.Stop()
	mock := &mockBroadcaster{}
	g.AddClient(mock)

	enterLevel(t, g)
	events := mock.ofType(MsgEvent)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if ev := events[0].Data.(Event); ev.Kind != EventLevelStarted || ev.AccountID != "acct-1" {
		t.Errorf("unexpected event %+v", ev)
	}

	if !g.Pause() || g.Mode() != ModePaused {
		t.Fatal("pause failed")
	}
	if !g.ReturnToLobby() || g.Mode() != ModeLobby {
		t.Fatal("return to lobby failed")
	}
	if g.Resume() {
		t.Error("resume from the lobby should fail")
	}
}

// gatedBroadcaster holds its first JSON send until gate is closed
type gatedBroadcaster struct {
	mockBroadcaster
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (b *gatedBroadcaster) SendJSON(msg interface{}) {
	first := false
	b.once.Do(func() { first = true })
	b.mockBroadcaster.SendJSON(msg)
	if first {
		close(b.entered)
		<-b.gate
	}
}

func TestGamePublishesInOrder(t *testing.T) {
	g := newTestGame(t, nil)
	defer g.Stop()
	b := &gatedBroadcaster{gate: make(chan struct{}), entered: make(chan struct{})}
	g.AddClient(b)

	emit := func(name string) func(e *Engine) error {
		return func(e *Engine) error {
			e.emit(Event{Kind: EventPowerUpCollected, Name: name})
			return nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.do(emit("first"))
	}()
	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first batch never reached the client")
	}

	secondDone := make(chan struct{})
	go func() {
		g.do(emit("second"))
		close(secondDone)
	}()
	select {
	case <-secondDone:
		t.Fatal("second batch published while the first was still being sent")
	case <-time.After(50 * time.Millisecond):
	}
	// the engine lock is free while the first batch is on the wire
	if g.Mode() != ModeLobby {
		t.Errorf("expected lobby, got %v", g.Mode())
	}

	close(b.gate)
	wg.Wait()
	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("second batch never published")
	}

	var names []string
	for _, env := range b.ofType(MsgEvent) {
		names = append(names, env.Data.(Event).Name)
	}
	if len(names) != 2 || names[0] != "first" || names[1] != "second" {
		t.Errorf("expected [first second], got %v", names)
	}
}

func TestGameSettleArcadeRejectsUnknownChoice(t *testing.T) {
	g := newTestGame(t, nil)
	defer g.Stop()
	if err := g.SettleArcade("maybe"); err == nil {
		t.Error("expected error for unknown choice")
	}
	if err := g.SettleArcade("submit"); !errors.Is(err, ErrNothingToSettle) {
		t.Errorf("expected ErrNothingToSettle, got %v", err)
	}
}

func TestGamePersistsProgress(t *testing.T) {
	db := openTestDB(t)
	pid, err := db.CreatePlayer("dana", "")
	if err != nil {
		t.Fatal(err)
	}
	g := newTestGame(t, db)
	g.SetPlayer(pid)
	mock := &mockBroadcaster{}
	g.AddClient(mock)
	enterLevel(t, g)

	g.do(func(e *Engine) error {
		shootUntilHidden(t, e, e.Zombies()[0])
		e.Settle()
		return nil
	})

	prog, err := db.GetProgress(pid)
	if err != nil || prog == nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.ZombiesQuarantined != 1 {
		t.Errorf("expected 1 quarantined, got %d", prog.ZombiesQuarantined)
	}
	achievements := mock.ofType(MsgAchievement)
	if len(achievements) != 1 || achievements[0].Data.(AchievementDef).ID != "first_quarantine" {
		t.Errorf("expected first_quarantine, got %+v", achievements)
	}

	// boss then victory counts a level and a boss
	g.do(func(e *Engine) error {
		if err := e.StartBossBattle(); err != nil {
			return err
		}
		e.winLevel()
		return nil
	})
	prog, _ = db.GetProgress(pid)
	if prog.LevelsCompleted != 1 || prog.BossesDefeated != 1 {
		t.Errorf("expected 1 level and 1 boss, got %d/%d", prog.LevelsCompleted, prog.BossesDefeated)
	}

	g.Stop()
	prog, _ = db.GetProgress(pid)
	if prog.Playtime <= 0 {
		t.Error("expected play time to be persisted on stop")
	}
}

func TestGameGuestPersistsNothing(t *testing.T) {
	db := openTestDB(t)
	g := newTestGame(t, db)
	defer g.Stop()

	if err := g.Save(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
	if err := g.Load(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestGameSaveLoad(t *testing.T) {
	db := openTestDB(t)
	pid, _ := db.CreatePlayer("erin", "")

	g := newTestGame(t, db)
	g.SetPlayer(pid)
	if err := g.Load(); !errors.Is(err, ErrNoSave) {
		t.Fatalf("expected ErrNoSave, got %v", err)
	}
	enterLevel(t, g)
	g.do(func(e *Engine) error {
		shootUntilHidden(t, e, e.Zombies()[0])
		e.Settle()
		return nil
	})
	if err := g.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	g.Stop()

	g2 := newTestGame(t, db)
	defer g2.Stop()
	g2.SetPlayer(pid)
	if err := g2.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	g2.mu.Lock()
	stats := g2.engine.Stats()
	g2.mu.Unlock()
	if stats.ZombiesQuarantined != 1 || stats.Score != pointsPerQuarantine {
		t.Errorf("unexpected restored stats %+v", stats)
	}
	if g2.savedPlayTime != stats.PlayTime {
		t.Error("restored play time should not be persisted twice")
	}
}

func TestGameLoopStartStop(t *testing.T) {
	g := newTestGame(t, nil)
	mock := &mockBroadcaster{}
	g.AddClient(mock)
	g.Start()
	g.Start() // idempotent

	deadline := time.Now().Add(2 * time.Second)
	for mock.frameCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	g.Stop()
	if mock.frameCount() < 3 {
		t.Fatalf("expected frames from the running loop, got %d", mock.frameCount())
	}

	n := mock.frameCount()
	time.Sleep(50 * time.Millisecond)
	if mock.frameCount() != n {
		t.Error("frames kept coming after Stop")
	}
	g.Stop() // safe to call twice
}
