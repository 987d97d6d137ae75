package main

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	TickRate       = 60 // physics ticks per second
	BroadcastRate  = 30 // state broadcasts per second
	TickDuration   = time.Second / TickRate
	BroadcastEvery = TickRate / BroadcastRate
)

// display plus phone controllers
const maxClientsPerGame = 4

var ErrNoSave = errors.New("no saved game")

// Broadcaster interface for sending messages to clients
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// queuedEvent is an engine event waiting to be fanned out after the lock is released
type queuedEvent struct {
	Event
	bossDefeated bool
}

// Game runs one Engine on a fixed-rate ticker and fans its state and
// events out to the attached clients
type Game struct {
	mu sync.Mutex
	// pubMu is taken before mu is released so batches reach clients in the
	// order they left the engine. Never acquire mu while holding it.
	pubMu     sync.Mutex
	id        string
	engine    *Engine
	db        *DB
	analytics *Analytics
	playerID  int64 // 0 = guest, nothing is persisted
	clients   map[Broadcaster]bool
	outbox    []queuedEvent
	bossFight bool

	tickRate       int
	broadcastEvery uint64
	tick           uint64
	savedPlayTime  float64

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewGame creates a Game in the lobby. db and analytics may be nil.
func NewGame(id string, cfg EngineConfig, tickRate int, levels LevelSource, identity IdentityService, db *DB, analytics *Analytics) *Game {
	if tickRate <= 0 {
		tickRate = TickRate
	}
	every := tickRate / BroadcastRate
	if every < 1 {
		every = 1
	}
	g := &Game{
		id:             id,
		db:             db,
		analytics:      analytics,
		clients:        make(map[Broadcaster]bool),
		tickRate:       tickRate,
		broadcastEvery: uint64(every),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	g.engine = NewEngine(cfg, levels, identity, WithEventSink(EventSinkFunc(g.collect)))
	return g
}

// ID returns the session id
func (g *Game) ID() string { return g.id }

// Start launches the game loop
func (g *Game) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}
	g.running = true
	go g.run()
}

func (g *Game) run() {
	defer close(g.done)
	ticker := time.NewTicker(time.Second / time.Duration(g.tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.update()
		case <-g.stop:
			return
		}
	}
}

// Stop terminates the game loop, cancels in-flight identity calls and
// persists the remaining play time
func (g *Game) Stop() {
	g.mu.Lock()
	wasRunning := g.running
	if g.running {
		g.running = false
		close(g.stop)
	}
	g.mu.Unlock()
	if wasRunning {
		<-g.done
	}

	g.engine.Close()

	g.mu.Lock()
	pid := g.playerID
	played := g.engine.Stats().PlayTime - g.savedPlayTime
	g.savedPlayTime += played
	g.mu.Unlock()
	if g.db != nil && pid != 0 && played > 0 {
		if err := g.db.AddProgress(pid, 0, 0, 0, 0, 0, played); err != nil {
			log.Warn().Err(err).Str("session", g.id).Msg("failed to persist play time")
		}
	}
}

// update runs one game tick
func (g *Game) update() {
	g.mu.Lock()
	g.tick++
	g.engine.Update(1.0 / float64(g.tickRate))

	var frame []byte
	if g.tick%g.broadcastEvery == 0 && len(g.clients) > 0 {
		data, err := msgpack.Marshal(g.buildFrame())
		if err != nil {
			log.Error().Err(err).Str("session", g.id).Msg("encode state frame")
		} else {
			frame = data
		}
	}
	batch := g.takeOutbox()
	g.pubMu.Lock()
	g.mu.Unlock()
	defer g.pubMu.Unlock()

	g.publish(batch)
	if frame != nil {
		for _, c := range batch.clients {
			c.SendBinary(frame)
		}
	}
}

// do runs fn against the engine under the lock, then publishes what it emitted
func (g *Game) do(fn func(e *Engine) error) error {
	g.mu.Lock()
	err := fn(g.engine)
	batch := g.takeOutbox()
	g.pubMu.Lock()
	g.mu.Unlock()
	defer g.pubMu.Unlock()
	g.publish(batch)
	return err
}

// collect is the engine's event sink; it runs with g.mu held
func (g *Game) collect(ev Event) {
	q := queuedEvent{Event: ev}
	switch ev.Kind {
	case EventBossStarted:
		g.bossFight = true
	case EventVictory:
		q.bossDefeated = g.bossFight
		g.bossFight = false
	case EventLevelFailed:
		g.bossFight = false
	}
	g.outbox = append(g.outbox, q)
}

// outboxBatch is what one tick or command hands to publish
type outboxBatch struct {
	events   []queuedEvent
	clients  []Broadcaster
	playerID int64
}

// takeOutbox runs with g.mu held
func (g *Game) takeOutbox() outboxBatch {
	b := outboxBatch{events: g.outbox, playerID: g.playerID}
	g.outbox = nil
	b.clients = make([]Broadcaster, 0, len(g.clients))
	for c := range g.clients {
		b.clients = append(b.clients, c)
	}
	return b
}

func (g *Game) buildFrame() StateFrame {
	var fb frameBuilder
	e := g.engine
	e.Render(&fb)

	f := StateFrame{
		Tick:      g.tick,
		Mode:      e.Mode().String(),
		Sprites:   fb.sprites,
		Stats:     e.Stats(),
		Remaining: e.ZombiesRemaining(),
		Message:   e.Message(),
		PlayerHP:  e.Player().HP,
	}
	if a := e.Arcade(); a.Phase() != ArcadeInactive || e.AwaitingSettlement() {
		f.Arcade = &ArcadeHUD{
			Phase:     a.Phase().String(),
			Countdown: a.Countdown(),
			TimeLeft:  a.TimeRemaining(),
			Combo:     a.Combo(),
			Stats:     a.Stats(),
			Awaiting:  e.AwaitingSettlement(),
		}
	}
	for t, eff := range e.Player().Effects {
		f.Effects = append(f.Effects, EffectHUD{Type: t.String(), Remaining: eff.Remaining})
	}
	sort.Slice(f.Effects, func(i, j int) bool { return f.Effects[i].Type < f.Effects[j].Type })
	return f
}

// publish records, persists and forwards events. It runs under pubMu,
// outside mu.
func (g *Game) publish(b outboxBatch) {
	if len(b.events) == 0 {
		return
	}
	pid, clients := b.playerID, b.clients

	for _, q := range b.events {
		ev := q.Event
		if g.analytics != nil {
			g.analytics.TrackGameEvent(ev, pid, g.id)
		}
		out := []Envelope{{T: MsgEvent, Data: ev}}
		switch ev.Kind {
		case EventArcadeEnded:
			out = append(out, Envelope{T: MsgArcadeStats, Data: ev.Arcade})
		case EventArcadeSettled, EventQuarantineFailed:
			if ev.Report != nil {
				out = append(out, Envelope{T: MsgSettled, Data: SettledMsg{
					Successful: ev.Report.Successful,
					Failed:     ev.Report.Failed,
					Errors:     ev.Report.Errors,
					Pending:    ev.Kind == EventQuarantineFailed,
				}})
			}
		}
		for _, def := range g.persist(pid, q) {
			out = append(out, Envelope{T: MsgAchievement, Data: def})
		}
		for _, c := range clients {
			for _, m := range out {
				c.SendJSON(m)
			}
		}
	}
}

// persist applies an event to the player's lifetime progress and returns
// newly unlocked achievements
func (g *Game) persist(pid int64, q queuedEvent) []AchievementDef {
	if g.db == nil || pid == 0 {
		return nil
	}
	ev := q.Event
	var err error
	arcadeElims, combo := 0, 0
	switch ev.Kind {
	case EventQuarantined:
		err = g.db.AddProgress(pid, 1, 0, 0, 0, 0, 0)
	case EventThirdPartyBlocked:
		err = g.db.AddProgress(pid, 0, 1, 0, 0, 0, 0)
	case EventVictory:
		bosses := 0
		if q.bossDefeated {
			bosses = 1
		}
		err = g.db.AddProgress(pid, 0, 0, 1, bosses, 0, 0)
	case EventArcadeSettled:
		if ev.Arcade == nil {
			return nil
		}
		arcadeElims, combo = ev.Arcade.TotalEliminations, ev.Arcade.HighestCombo
		err = g.db.RecordArcadeResult(ArcadeResultRow{
			PlayerID:     pid,
			AccountID:    ev.AccountID,
			Eliminations: ev.Arcade.TotalEliminations,
			Rate:         ev.Arcade.EliminationsPerSecond,
			HighestCombo: ev.Arcade.HighestCombo,
			Powerups:     ev.Arcade.PowerupsCollected,
			Score:        ev.Arcade.Score,
			Quarantined:  ev.Value,
		})
		if err == nil {
			err = g.db.AddProgress(pid, ev.Value, 0, 0, 0, combo, 0)
		}
	default:
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Str("session", g.id).Str("event", string(ev.Kind)).Msg("failed to persist progress")
		return nil
	}

	unlocked := CheckAchievements(g.db, pid, arcadeElims, combo)
	for _, def := range unlocked {
		log.Info().Int64("player", pid).Str("achievement", def.ID).Msg("achievement unlocked")
		if g.analytics != nil {
			g.analytics.Track(EvtAchievement, pid, g.id, def.ID)
		}
	}
	return unlocked
}

// AddClient attaches a display or controller. Returns false when full.
func (g *Game) AddClient(c Broadcaster) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.clients) >= maxClientsPerGame {
		return false
	}
	g.clients[c] = true
	return true
}

// RemoveClient detaches c and returns how many clients remain
func (g *Game) RemoveClient(c Broadcaster) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, c)
	return len(g.clients)
}

// ClientCount returns the number of attached clients
func (g *Game) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// SetPlayer links the session to an authenticated account
func (g *Game) SetPlayer(playerID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.playerID = playerID
}

// PlayerID returns the linked account, 0 for guests
func (g *Game) PlayerID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playerID
}

// Mode returns the engine's current mode
func (g *Game) Mode() GameMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engine.Mode()
}

// HandleInput replaces the input state for the next tick
func (g *Game) HandleInput(in InputState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.engine.SetInput(in)
}

// Pause, Resume and ReturnToLobby drive the pause menu
func (g *Game) Pause() bool {
	var ok bool
	g.do(func(e *Engine) error { ok = e.Pause(); return nil })
	return ok
}

func (g *Game) Resume() bool {
	var ok bool
	g.do(func(e *Engine) error { ok = e.Resume(); return nil })
	return ok
}

func (g *Game) ReturnToLobby() bool {
	var ok bool
	g.do(func(e *Engine) error { ok = e.MenuReturnToLobby(); return nil })
	return ok
}

// StartArcade begins an arcade session on the current level
func (g *Game) StartArcade() error {
	return g.do(func(e *Engine) error { return e.StartArcade() })
}

// SettleArcade applies the player's end-of-session choice
func (g *Game) SettleArcade(choice string) error {
	c, err := ParseSettleChoice(choice)
	if err != nil {
		return err
	}
	return g.do(func(e *Engine) error { return e.SettleArcade(c) })
}

// Save stores the current progress for the linked account
func (g *Game) Save() error {
	g.mu.Lock()
	pid := g.playerID
	snap := g.engine.ExportSnapshot()
	g.mu.Unlock()

	if g.db == nil || pid == 0 {
		return ErrNotAuthenticated
	}
	blob, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return g.db.SaveSnapshot(pid, blob)
}

// Load restores the linked account's saved progress and returns to the lobby
func (g *Game) Load() error {
	pid := g.PlayerID()
	if g.db == nil || pid == 0 {
		return ErrNotAuthenticated
	}
	blob, err := g.db.LoadSnapshot(pid)
	if err != nil {
		return err
	}
	if blob == nil {
		return ErrNoSave
	}
	snap, err := DecodeSnapshot(blob)
	if err != nil {
		return err
	}
	return g.do(func(e *Engine) error {
		e.ImportSnapshot(snap)
		g.savedPlayTime = snap.PlayTime
		return nil
	})
}
