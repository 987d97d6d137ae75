package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const levelLoadTimeout = 5 * time.Second

// Doors returns the lobby doors with their current lock state
func (e *Engine) Doors() []Door {
	out := make([]Door, len(e.doors))
	copy(out, e.doors)
	return out
}

func (e *Engine) doorIndex(accountID string) int {
	for i, d := range e.doors {
		if d.AccountID == accountID {
			return i
		}
	}
	return -1
}

// updateLobby moves the player top-down and enters the first unlocked door
// the player walks into
func (e *Engine) updateLobby(dt float64, in InputState) {
	e.player.UpdateTopDown(dt, in, Rect{W: e.lobby.Width, H: e.lobby.Height})

	pb := e.player.Bounds()
	touching := ""
	for _, d := range e.doors {
		if !pb.Intersects(d.Bounds) {
			continue
		}
		touching = d.AccountID
		if touching == e.onDoor {
			break
		}
		if !d.Unlocked {
			e.showMessage(fmt.Sprintf("Level %d is locked", d.LevelNumber))
			break
		}
		// a failed load falls back here; onDoor keeps it from retrying every frame
		_ = e.EnterLevel(d.AccountID)
		break
	}
	if e.mode == ModeLobby {
		e.onDoor = touching
	}
}

// EnterLevel loads the account's level and starts playing it. Any failure
// leaves the engine in the lobby with an error message.
func (e *Engine) EnterLevel(accountID string) (err error) {
	if e.mode != ModeLobby {
		return fmt.Errorf("enter level from %s", e.mode)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("level %s: %v", accountID, r)
			e.mode = ModeError
			log.Error().Str("account", accountID).Interface("panic", r).Msg("level transition crashed")
		}
		if err != nil {
			e.lastErr = err
			e.failLevel(accountID, err.Error())
		}
	}()

	idx := e.doorIndex(accountID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownLevel, accountID)
	}
	if !e.doors[idx].Unlocked {
		return fmt.Errorf("%w: %s", ErrLevelLocked, accountID)
	}

	ctx, cancel := context.WithTimeout(e.ctx, levelLoadTimeout)
	defer cancel()
	desc, err := e.levels.LoadLevel(ctx, accountID)
	if err != nil {
		return err
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	var genre GenreController
	if desc.Genre != GenrePlatformer {
		genre, err = e.genres.Create(desc.Genre)
		if err != nil {
			return err
		}
	}

	e.loadEntities(desc)
	if genre != nil {
		if err := genre.InitializeLevel(desc.AccountID, e.zombies, desc.Width, desc.Height); err != nil {
			e.unloadLevel()
			return fmt.Errorf("initialize %s level: %w", desc.Genre, err)
		}
	}
	e.genre = genre
	e.mode = ModePlaying
	e.lastErr = nil
	e.onDoor = ""

	log.Info().Str("account", desc.AccountID).Int("level", desc.LevelNumber).
		Str("genre", desc.Genre.String()).Int("zombies", len(e.zombies)).Msg("level started")
	e.emit(Event{Kind: EventLevelStarted, AccountID: desc.AccountID, Value: desc.LevelNumber})
	return nil
}

// loadEntities builds the per-level state. Identities already quarantined
// and third parties already blocked are left out.
func (e *Engine) loadEntities(desc *LevelDescriptor) {
	e.unloadLevel()
	e.level = desc
	e.levelMap = desc.Map()
	e.grid = NewSpatialGrid(desc.Width, desc.Height, e.cfg.CellSize)

	x := zombieStartX
	for _, spec := range desc.Zombies {
		if e.quarantined[spec.IdentityID] {
			continue
		}
		pos := Vector2{X: spec.X, Y: desc.GroundY - ZombieHeight}
		if spec.X <= 0 {
			pos.X = x
			x += zombieSpacing
		}
		z := NewZombie(spec, desc.AccountID, pos)
		z.Grounded = true
		e.zombies = append(e.zombies, z)
		e.zombieByID[z.IdentityID] = z
	}
	for _, spec := range desc.ThirdParties {
		if e.blocked[spec.Name] {
			continue
		}
		pos := Vector2{X: spec.X, Y: desc.GroundY - ZombieHeight}
		if spec.X <= 0 {
			pos.X = x
			x += zombieSpacing
		}
		t := NewThirdParty(spec, pos)
		t.Grounded = true
		e.thirdParties = append(e.thirdParties, t)
		e.thirdByID[t.ThirdPartyID] = t
	}

	e.powerUps = SpawnPowerUps(desc.Platforms, e.rng)
	e.player.Reset(Vector2{X: levelSpawnX, Y: desc.GroundY - PlayerHeight})
}

func (e *Engine) unloadLevel() {
	e.level = nil
	e.levelMap = nil
	e.genre = nil
	e.boss = nil
	e.zombies = nil
	e.thirdParties = nil
	e.projectiles = nil
	e.powerUps = nil
	clear(e.zombieByID)
	clear(e.thirdByID)
	e.victoryTimer = 0
}

// ReturnToLobby abandons the current level. A running arcade session is
// cancelled and every zombie it held is restored.
func (e *Engine) ReturnToLobby() {
	if e.arcade.Phase() != ArcadeInactive || e.awaiting {
		e.CancelArcade()
	}
	e.unloadLevel()
	e.mode = ModeLobby
	e.player.Reset(e.lobby.Spawn)
	e.onDoor = ""
}

// failLevel logs a failed transition or a lost level and falls back to the lobby
func (e *Engine) failLevel(account, reason string) {
	log.Warn().Str("account", account).Str("reason", reason).Msg("level failed")
	e.emit(Event{Kind: EventLevelFailed, AccountID: account, Message: reason})
	e.ReturnToLobby()
	e.showMessage(reason)
}

// Pause suspends a level. Nothing updates while paused.
func (e *Engine) Pause() bool {
	if e.mode != ModePlaying && e.mode != ModeBossBattle {
		return false
	}
	e.resumeTo = e.mode
	e.mode = ModePaused
	return true
}

// Resume continues a paused level
func (e *Engine) Resume() bool {
	if e.mode != ModePaused {
		return false
	}
	e.mode = e.resumeTo
	return true
}

// MenuReturnToLobby is the pause menu's "Return to Lobby" entry
func (e *Engine) MenuReturnToLobby() bool {
	if e.mode != ModePaused {
		return false
	}
	e.ReturnToLobby()
	return true
}

// StartBossBattle spawns the level boss. It is normally reached when every
// zombie of the level is confirmed removed, and can be forced for testing.
func (e *Engine) StartBossBattle() error {
	if e.mode != ModePlaying || e.level == nil {
		return fmt.Errorf("boss battle from %s", e.mode)
	}
	if e.genre != nil {
		return errors.New("boss battles are platformer only")
	}
	e.boss = NewBoss(e.level.Width, e.level.GroundY)
	e.mode = ModeBossBattle
	e.projectiles = nil
	log.Info().Str("account", e.level.AccountID).Msg("boss battle started")
	e.emit(Event{Kind: EventBossStarted, AccountID: e.level.AccountID})
	return nil
}

// updateBoss runs a boss frame. Zombies and third parties sit out.
func (e *Engine) updateBoss(dt float64, in InputState) {
	e.player.UpdatePlatformer(dt, in, e.levelMap)
	e.fire(in)
	e.boss.Update(dt, e.level.Width)
	e.updateProjectiles(dt)

	bb := e.boss.Bounds()
	for _, p := range e.projectiles {
		if !p.Alive || !p.Bounds().Intersects(bb) {
			continue
		}
		p.Alive = false
		if e.boss.TakeDamage(p.Damage) {
			e.compactProjectiles()
			e.winLevel()
			return
		}
	}
	e.compactProjectiles()
	e.collectPowerUps()

	if e.player.Bounds().Intersects(bb) && e.player.TakeContactDamage(BossContactDmg) {
		e.failLevel(e.level.AccountID, "Defeated by the boss")
	}
}

// winLevel records the completion, unlocks the next door and shows victory
func (e *Engine) winLevel() {
	account := e.level.AccountID
	e.completed[account] = true
	idx := e.doorIndex(account)
	if idx >= 0 {
		e.doors[idx].Completed = true
		if idx+1 < len(e.doors) {
			e.doors[idx+1].Unlocked = true
		}
	}
	e.mode = ModeVictory
	e.victoryTimer = VictoryLinger
	e.boss = nil
	log.Info().Str("account", account).Int("score", e.stats.Score).Msg("level completed")
	e.emit(Event{Kind: EventVictory, AccountID: account, Value: e.stats.Score})
}

// applyCompletions marks saved completions and unlocks the doors after them
func (e *Engine) applyCompletions() {
	for i := range e.doors {
		if !e.completed[e.doors[i].AccountID] {
			continue
		}
		e.doors[i].Completed = true
		e.doors[i].Unlocked = true
		if i+1 < len(e.doors) {
			e.doors[i+1].Unlocked = true
		}
	}
}
