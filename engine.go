package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// GameMode is the orchestrator state visible to the client
type GameMode int

const (
	ModeLobby GameMode = iota
	ModePlaying
	ModeBossBattle
	ModePaused
	ModeArcadeActive
	ModeVictory
	ModeError
)

var modeNames = [...]string{"lobby", "playing", "boss", "paused", "arcade", "victory", "error"}

func (m GameMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

const (
	ViewportWidth       = 1280.0
	ViewportHeight      = 720.0
	messageTTL          = 3.0 // seconds a toast stays up
	pointsPerQuarantine = 100
	pointsPerBlock      = 150
	resultBuffer        = 64
	maxProjectiles      = 200
)

// EngineConfig tunes one Engine
type EngineConfig struct {
	CellSize float64
	Arcade   ArcadeConfig
	Retry    RetryPolicy
	Seed     int64
}

// DefaultEngineConfig returns the stock tuning
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CellSize: DefaultCellSize,
		Arcade:   DefaultArcadeConfig(),
		Retry:    DefaultRetryPolicy(),
		Seed:     time.Now().UnixNano(),
	}
}

// EventKind names a gameplay event
type EventKind string

const (
	EventLevelStarted      EventKind = "level_started"
	EventLevelFailed       EventKind = "level_failed"
	EventZombieEliminated  EventKind = "zombie_eliminated"
	EventQuarantined       EventKind = "quarantined"
	EventQuarantineFailed  EventKind = "quarantine_failed"
	EventThirdPartyBlocked EventKind = "third_party_blocked"
	EventBlockFailed       EventKind = "block_failed"
	EventBossStarted       EventKind = "boss_started"
	EventVictory           EventKind = "victory"
	EventArcadeStarted     EventKind = "arcade_started"
	EventArcadeEnded       EventKind = "arcade_ended"
	EventArcadeSettled     EventKind = "arcade_settled"
	EventPowerUpCollected  EventKind = "powerup_collected"
)

// Event is emitted to the EventSink as things happen
type Event struct {
	Kind       EventKind    `json:"kind" msgpack:"kind"`
	AccountID  string       `json:"account,omitempty" msgpack:"account,omitempty"`
	IdentityID string       `json:"identity,omitempty" msgpack:"identity,omitempty"`
	Name       string       `json:"name,omitempty" msgpack:"name,omitempty"`
	Value      int          `json:"value,omitempty" msgpack:"value,omitempty"`
	Message    string       `json:"message,omitempty" msgpack:"message,omitempty"`
	Arcade     *ArcadeStats `json:"arcade,omitempty" msgpack:"arcade,omitempty"`
	Report     *BatchReport `json:"report,omitempty" msgpack:"-"`
}

// EventSink receives engine events. Emit is called from the frame loop
// and must not call back into the engine.
type EventSink interface {
	Emit(ev Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) Emit(ev Event) { f(ev) }

// Stats are the persistent progress counters
type Stats struct {
	Score               int     `json:"score" msgpack:"score"`
	EliminationsCount   int     `json:"eliminations" msgpack:"eliminations"`
	ZombiesQuarantined  int     `json:"quarantined" msgpack:"quarantined"`
	ThirdPartiesBlocked int     `json:"blocked" msgpack:"blocked"`
	PlayTime            float64 `json:"playTime" msgpack:"playTime"`
}

// serviceJob is one identity service action in flight
type serviceJob struct {
	op      string
	kind    EntityKind
	id      string // identity id or third-party id
	name    string
	account string
	call    func(ctx context.Context) (ServiceResult, error)
	batch   []IdentityRef
}

type serviceOutcome struct {
	job    serviceJob
	err    error
	report BatchReport
}

// Engine is the authoritative game state for one player session. It is
// not safe for concurrent use: Update, input and menu calls must come from
// one goroutine (or be serialized by the caller).
type Engine struct {
	cfg      EngineConfig
	levels   LevelSource
	identity IdentityService
	genres   *GenreRegistry
	events   EventSink
	rng      *rand.Rand

	mode     GameMode
	resumeTo GameMode

	lobby     LobbyLayout
	doors     []Door
	completed map[string]bool
	onDoor    string

	player *Player
	input  InputState
	prevIn InputState

	level        *LevelDescriptor
	levelMap     *LevelMap
	zombies      []*Zombie
	zombieByID   map[string]*Zombie
	thirdParties []*ThirdParty
	thirdByID    map[string]*ThirdParty
	projectiles  []*Projectile
	powerUps     []*PowerUp
	boss         *Boss
	genre        GenreController
	victoryTimer float64

	grid           *SpatialGrid
	zombieDetector *CollisionDetector
	thirdDetector  *CollisionDetector
	targets        []Target

	arcade   *ArcadeSession
	settling bool
	failed   []IdentityRef
	awaiting bool

	ctx      context.Context
	cancel   context.CancelFunc
	results  chan serviceOutcome
	inflight sync.WaitGroup
	pending  int

	stats       Stats
	quarantined map[string]bool
	blocked     map[string]bool

	message    string
	messageTTL float64
	lastErr    error
}

// EngineOption customises NewEngine
type EngineOption func(*Engine)

// WithEventSink routes events to sink
func WithEventSink(sink EventSink) EngineOption {
	return func(e *Engine) { e.events = sink }
}

// WithGenres replaces the default genre registry
func WithGenres(r *GenreRegistry) EngineOption {
	return func(e *Engine) { e.genres = r }
}

// NewEngine creates an engine standing in the lobby
func NewEngine(cfg EngineConfig, levels LevelSource, identity IdentityService, opts ...EngineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	rng := rand.New(rand.NewSource(cfg.Seed))
	e := &Engine{
		cfg:            cfg,
		levels:         levels,
		identity:       identity,
		genres:         DefaultGenres,
		rng:            rng,
		completed:      make(map[string]bool),
		zombieByID:     make(map[string]*Zombie),
		thirdByID:      make(map[string]*ThirdParty),
		zombieDetector: NewCollisionDetector(KindZombie),
		thirdDetector:  NewCollisionDetector(KindThirdParty),
		arcade:         NewArcadeSession(cfg.Arcade, rng),
		ctx:            ctx,
		cancel:         cancel,
		results:        make(chan serviceOutcome, resultBuffer),
		quarantined:    make(map[string]bool),
		blocked:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lobby = levels.Lobby()
	e.doors = levels.Doors()
	e.player = NewPlayer(e.lobby.Spawn)
	e.mode = ModeLobby
	return e
}

// Close cancels in-flight service calls and waits for them to return
func (e *Engine) Close() {
	e.cancel()
	e.inflight.Wait()
}

// Mode returns the current state. Arcade overlays Playing.
func (e *Engine) Mode() GameMode {
	if e.mode == ModePlaying && e.arcade.Phase() != ArcadeInactive {
		return ModeArcadeActive
	}
	return e.mode
}

// Player returns the controlled player
func (e *Engine) Player() *Player { return e.player }

// Zombies returns the current level's zombies
func (e *Engine) Zombies() []*Zombie { return e.zombies }

// ThirdParties returns the current level's third parties
func (e *Engine) ThirdParties() []*ThirdParty { return e.thirdParties }

// Arcade returns the arcade session
func (e *Engine) Arcade() *ArcadeSession { return e.arcade }

// Boss returns the active boss, or nil
func (e *Engine) Boss() *Boss { return e.boss }

// Stats returns the progress counters
func (e *Engine) Stats() Stats { return e.stats }

// Message returns the current toast, empty when none
func (e *Engine) Message() string { return e.message }

// LastError returns the last level-transition failure
func (e *Engine) LastError() error { return e.lastErr }

// Pending returns the number of service results not yet applied
func (e *Engine) Pending() int { return e.pending }

// CurrentLevel returns the loaded level's account id, empty in the lobby
func (e *Engine) CurrentLevel() string {
	if e.level == nil {
		return ""
	}
	return e.level.AccountID
}

// ZombiesRemaining counts zombies whose removal has not been confirmed
func (e *Engine) ZombiesRemaining() int {
	n := 0
	for _, z := range e.zombies {
		if !z.IsRemoved() {
			n++
		}
	}
	return n
}

// SetInput records the input used by the next Update
func (e *Engine) SetInput(in InputState) {
	e.input = in
}

func (e *Engine) emit(ev Event) {
	if e.events != nil {
		e.events.Emit(ev)
	}
}

func (e *Engine) showMessage(msg string) {
	e.message = msg
	e.messageTTL = messageTTL
}

// Update advances the game by dt seconds
func (e *Engine) Update(dt float64) {
	e.drainResults()

	if e.messageTTL > 0 {
		e.messageTTL -= dt
		if e.messageTTL <= 0 {
			e.message = ""
		}
	}

	in := e.input
	switch e.mode {
	case ModeLobby:
		e.updateLobby(dt, in)
	case ModePlaying:
		e.stats.PlayTime += dt
		e.updatePlaying(dt, in)
	case ModeBossBattle:
		e.stats.PlayTime += dt
		e.updateBoss(dt, in)
	case ModeVictory:
		e.victoryTimer -= dt
		if e.victoryTimer <= 0 || (in.Interact && !e.prevIn.Interact) {
			e.ReturnToLobby()
		}
	case ModePaused, ModeError:
	}
	e.prevIn = in
}

// updatePlaying runs one frame of a level: player, zombies, projectiles,
// then collisions and their consequences
func (e *Engine) updatePlaying(dt float64, in InputState) {
	if e.genre != nil {
		e.genre.HandleInput(in, e.player)
		e.genre.Update(dt, e.player)
	} else {
		e.player.UpdatePlatformer(dt, in, e.levelMap)
	}
	e.fire(in)

	for _, z := range e.zombies {
		z.Update(dt)
	}
	for _, t := range e.thirdParties {
		t.Update(dt)
	}
	for _, pu := range e.powerUps {
		pu.Update(dt)
	}
	e.updateProjectiles(dt)

	if e.zombieCollisionsEnabled() {
		e.resolveZombieHits()
	}
	if !e.arcade.Running() && !e.awaiting {
		e.resolveThirdPartyHits()
	}
	e.compactProjectiles()
	e.collectPowerUps()

	if e.arcade.Phase() != ArcadeInactive {
		e.updateArcade(dt)
	}
	e.checkLevelProgress()
}

func (e *Engine) fire(in InputState) {
	if !e.player.CanFire(in) || len(e.projectiles) >= maxProjectiles {
		return
	}
	e.projectiles = append(e.projectiles, e.player.Fire()...)
}

func (e *Engine) updateProjectiles(dt float64) {
	bounds := e.levelMap.Bounds()
	for _, p := range e.projectiles {
		if !p.Alive {
			continue
		}
		p.Update(dt)
		if p.IsOffScreen(bounds) || p.HitsWall(e.levelMap) {
			p.Alive = false
		}
	}
}

func (e *Engine) compactProjectiles() {
	live := e.projectiles[:0]
	for _, p := range e.projectiles {
		if p.Alive {
			live = append(live, p)
		}
	}
	clear(e.projectiles[len(live):])
	e.projectiles = live
}

func (e *Engine) collectPowerUps() {
	pb := e.player.Bounds()
	for _, pu := range e.powerUps {
		if pu.Collected || !pb.Intersects(pu.Bounds()) {
			continue
		}
		pu.Collected = true
		e.player.ApplyPowerUp(pu)
		e.arcade.RecordPowerUp()
		e.emit(Event{Kind: EventPowerUpCollected, AccountID: e.CurrentLevel(), Name: pu.Type.String()})
	}
}

// checkLevelProgress moves a finished level on to the boss or to victory
func (e *Engine) checkLevelProgress() {
	if e.mode != ModePlaying {
		return
	}
	if e.genre != nil {
		if !e.genre.CheckCompletion() {
			return
		}
		if w, ok := e.genre.(interface{ Won() bool }); ok && !w.Won() {
			e.failLevel(e.level.AccountID, "Level lost")
			return
		}
		if e.pending > 0 {
			return
		}
		e.winLevel()
		return
	}
	if e.arcade.Phase() != ArcadeInactive || e.awaiting || e.pending > 0 {
		return
	}
	// a re-entered level whose zombies were all quarantined earlier loads
	// empty and goes straight to the boss
	if e.ZombiesRemaining() == 0 {
		e.StartBossBattle()
	}
}

func (e *Engine) zombieCollisionsEnabled() bool {
	switch e.arcade.Phase() {
	case ArcadeCountdown, ArcadeEnded:
		return false
	}
	return !e.awaiting
}

// drainResults applies every finished service call without blocking
func (e *Engine) drainResults() {
	for {
		select {
		case out := <-e.results:
			e.applyOutcome(out)
		default:
			return
		}
	}
}

// Settle blocks until every in-flight service call has finished and its
// result has been applied
func (e *Engine) Settle() {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	for {
		select {
		case out := <-e.results:
			e.applyOutcome(out)
		case <-done:
			e.drainResults()
			return
		}
	}
}

// dispatch runs job off the frame loop under the retry policy
func (e *Engine) dispatch(job serviceJob) {
	e.inflight.Add(1)
	e.pending++
	go func() {
		defer e.inflight.Done()
		var out serviceOutcome
		out.job = job
		if job.batch != nil {
			out.report, out.err = e.identity.BatchQuarantine(e.ctx, job.batch)
		} else {
			out.err = Retry(e.ctx, e.cfg.Retry, job.op, func(ctx context.Context) error {
				res, err := job.call(ctx)
				return resultError(job.op, res, err)
			})
		}
		select {
		case e.results <- out:
		case <-e.ctx.Done():
		}
	}()
}

func (e *Engine) applyOutcome(out serviceOutcome) {
	e.pending--
	if out.job.batch != nil {
		e.applySettlement(out)
		return
	}
	switch out.job.kind {
	case KindZombie:
		e.applyQuarantine(out)
	case KindThirdParty:
		e.applyBlock(out)
	}
}

func (e *Engine) applyQuarantine(out serviceOutcome) {
	job := out.job
	z := e.zombieByID[job.id]
	if out.err != nil {
		if z != nil {
			z.Release()
		}
		msg := userMessage(out.err)
		e.showMessage("Quarantine failed for " + job.name + ": " + msg)
		log.Warn().Err(out.err).Str("identity", job.id).Str("account", job.account).Msg("quarantine failed, zombie restored")
		e.emit(Event{Kind: EventQuarantineFailed, AccountID: job.account, IdentityID: job.id, Name: job.name, Message: msg})
		return
	}
	if z != nil {
		z.ConfirmRemoval()
	}
	e.recordQuarantine(job.id)
	log.Info().Str("identity", job.id).Str("account", job.account).Msg("identity quarantined")
	e.emit(Event{Kind: EventQuarantined, AccountID: job.account, IdentityID: job.id, Name: job.name, Value: e.stats.ZombiesQuarantined})
}

func (e *Engine) recordQuarantine(identityID string) {
	if e.quarantined[identityID] {
		return
	}
	e.quarantined[identityID] = true
	e.stats.ZombiesQuarantined++
	e.stats.EliminationsCount++
	e.stats.Score += pointsPerQuarantine
}

func (e *Engine) applyBlock(out serviceOutcome) {
	job := out.job
	t := e.thirdByID[job.id]
	if out.err != nil {
		if t != nil {
			t.Release()
		}
		msg := userMessage(out.err)
		e.showMessage("Block failed for " + job.name + ": " + msg)
		log.Warn().Err(out.err).Str("third_party", job.id).Msg("block failed, third party restored")
		e.emit(Event{Kind: EventBlockFailed, AccountID: job.account, IdentityID: job.id, Name: job.name, Message: msg})
		return
	}
	if t != nil {
		t.ConfirmRemoval()
	}
	if !e.blocked[job.name] {
		e.blocked[job.name] = true
		e.stats.ThirdPartiesBlocked++
		e.stats.EliminationsCount++
		e.stats.Score += pointsPerBlock
	}
	log.Info().Str("third_party", job.id).Msg("third party blocked")
	e.emit(Event{Kind: EventThirdPartyBlocked, AccountID: job.account, IdentityID: job.id, Name: job.name})
}
