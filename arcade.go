package main

import "math/rand"

// ArcadePhase is the lifecycle of a timed arcade challenge
type ArcadePhase int

const (
	ArcadeInactive  ArcadePhase = 0
	ArcadeCountdown ArcadePhase = 1
	ArcadeActive    ArcadePhase = 2
	ArcadeEnded     ArcadePhase = 3
)

func (p ArcadePhase) String() string {
	switch p {
	case ArcadeInactive:
		return "inactive"
	case ArcadeCountdown:
		return "countdown"
	case ArcadeActive:
		return "active"
	case ArcadeEnded:
		return "ended"
	}
	return "unknown"
}

// ArcadeConfig holds arcade tuning
type ArcadeConfig struct {
	CountdownDuration float64 `yaml:"countdown"`
	SessionDuration   float64 `yaml:"duration"`
	RespawnDelay      float64 `yaml:"respawn_delay"`
	ComboTimeout      float64 `yaml:"combo_timeout"`
	MinimumZombies    int     `yaml:"minimum_zombies"`
	RespawnOffset     float64 `yaml:"respawn_offset"`
	EdgeMargin        float64 `yaml:"edge_margin"`
}

// DefaultArcadeConfig returns the standard 3s countdown / 60s session
func DefaultArcadeConfig() ArcadeConfig {
	return ArcadeConfig{
		CountdownDuration: 3.0,
		SessionDuration:   60.0,
		RespawnDelay:      2.0,
		ComboTimeout:      3.0,
		MinimumZombies:    20,
		RespawnOffset:     500.0,
		EdgeMargin:        50.0,
	}
}

const (
	comboStep          = 5 // eliminations per +1 multiplier
	maxComboMultiplier = 5
	arcadeBasePoints   = 100
)

// ComboTracker counts consecutive eliminations; the run resets after an idle timeout
type ComboTracker struct {
	Count   int
	Timeout float64
	timer   float64
}

// Hit extends the combo and restarts the idle timer
func (c *ComboTracker) Hit() {
	c.Count++
	c.timer = c.Timeout
}

// Update expires the combo once idle for Timeout seconds
func (c *ComboTracker) Update(dt float64) {
	if c.Count == 0 {
		return
	}
	c.timer -= dt
	if c.timer <= 0 {
		c.Count = 0
		c.timer = 0
	}
}

// Multiplier is 1 plus one per comboStep eliminations, capped
func (c *ComboTracker) Multiplier() int {
	m := 1 + c.Count/comboStep
	if m > maxComboMultiplier {
		m = maxComboMultiplier
	}
	return m
}

// Reset clears the running combo
func (c *ComboTracker) Reset() {
	c.Count = 0
	c.timer = 0
}

// ArcadeStats summarises a session
type ArcadeStats struct {
	TotalEliminations     int     `json:"total" msgpack:"total"`
	EliminationsPerSecond float64 `json:"eps" msgpack:"eps"`
	HighestCombo          int     `json:"combo" msgpack:"combo"`
	PowerupsCollected     int     `json:"powerups" msgpack:"powerups"`
	Score                 int     `json:"score" msgpack:"score"`
	Duration              float64 `json:"duration" msgpack:"duration"`
}

// ArcadeSession runs a timed elimination challenge. Eliminations are only
// queued here; nothing in this type talks to the identity service.
type ArcadeSession struct {
	cfg   ArcadeConfig
	rng   *rand.Rand
	phase ArcadePhase

	countdown     float64
	timeRemaining float64
	duration      float64

	queue        []*Zombie
	queued       map[string]bool
	eliminations int
	combo        ComboTracker
	highestCombo int
	powerups     int
	score        int

	respawnQueue  []*Zombie
	respawnTimers map[string]float64
	inRespawn     map[string]bool
}

// NewArcadeSession creates an inactive session
func NewArcadeSession(cfg ArcadeConfig, rng *rand.Rand) *ArcadeSession {
	s := &ArcadeSession{cfg: cfg, rng: rng}
	s.reset()
	return s
}

func (s *ArcadeSession) reset() {
	s.countdown = 0
	s.timeRemaining = s.cfg.SessionDuration
	s.duration = 0
	s.queue = nil
	s.queued = make(map[string]bool)
	s.eliminations = 0
	s.combo = ComboTracker{Timeout: s.cfg.ComboTimeout}
	s.highestCombo = 0
	s.powerups = 0
	s.score = 0
	s.respawnQueue = nil
	s.respawnTimers = make(map[string]float64)
	s.inRespawn = make(map[string]bool)
}

// Config returns the session tuning
func (s *ArcadeSession) Config() ArcadeConfig { return s.cfg }

// Phase returns the current lifecycle phase
func (s *ArcadeSession) Phase() ArcadePhase { return s.phase }

// IsActive is true during the timed part of the session
func (s *ArcadeSession) IsActive() bool { return s.phase == ArcadeActive }

// InCountdown is true during the pre-start countdown
func (s *ArcadeSession) InCountdown() bool { return s.phase == ArcadeCountdown }

// Running is true from StartSession until the timer runs out
func (s *ArcadeSession) Running() bool {
	return s.phase == ArcadeCountdown || s.phase == ArcadeActive
}

// Countdown returns the countdown time left
func (s *ArcadeSession) Countdown() float64 { return s.countdown }

// TimeRemaining returns the main timer
func (s *ArcadeSession) TimeRemaining() float64 { return s.timeRemaining }

// Combo returns the running combo count
func (s *ArcadeSession) Combo() int { return s.combo.Count }

// Queue returns the eliminations in the order they happened
func (s *ArcadeSession) Queue() []*Zombie {
	return append([]*Zombie(nil), s.queue...)
}

// StartSession resets all statistics and queues and starts the countdown
func (s *ArcadeSession) StartSession() {
	s.reset()
	s.phase = ArcadeCountdown
	s.countdown = s.cfg.CountdownDuration
}

// CancelSession drops the queue and deactivates
func (s *ArcadeSession) CancelSession() {
	s.reset()
	s.phase = ArcadeInactive
}

// Clear deactivates after the end-of-session settlement
func (s *ArcadeSession) Clear() {
	s.CancelSession()
}

// Update advances the countdown or the main timer
func (s *ArcadeSession) Update(dt float64) {
	switch s.phase {
	case ArcadeCountdown:
		s.countdown -= dt
		if s.countdown <= 0 {
			s.countdown = 0
			s.phase = ArcadeActive
		}
	case ArcadeActive:
		s.timeRemaining -= dt
		if s.timeRemaining < 0 {
			s.timeRemaining = 0
		}
		s.duration += dt
		s.combo.Update(dt)
		s.UpdateRespawnTimers(dt)
		if s.timeRemaining == 0 {
			s.phase = ArcadeEnded
		}
	}
}

// QueueElimination records an elimination. Duplicates and eliminations
// outside the active phase are ignored.
func (s *ArcadeSession) QueueElimination(z *Zombie) bool {
	if s.phase != ArcadeActive || s.queued[z.IdentityID] {
		return false
	}
	s.queue = append(s.queue, z)
	s.queued[z.IdentityID] = true
	s.eliminations++
	s.combo.Hit()
	if s.combo.Count > s.highestCombo {
		s.highestCombo = s.combo.Count
	}
	s.score += arcadeBasePoints * s.combo.Multiplier()
	return true
}

// RecordPowerUp counts a collected power-up during the active phase
func (s *ArcadeSession) RecordPowerUp() {
	if s.phase == ArcadeActive {
		s.powerups++
	}
}

// Stats returns the session statistics
func (s *ArcadeSession) Stats() ArcadeStats {
	eps := 0.0
	if s.duration > 0 {
		eps = float64(s.eliminations) / s.duration
	}
	return ArcadeStats{
		TotalEliminations:     s.eliminations,
		EliminationsPerSecond: eps,
		HighestCombo:          s.highestCombo,
		PowerupsCollected:     s.powerups,
		Score:                 s.score,
		Duration:              s.duration,
	}
}

// QueueZombieForRespawn schedules z to come back after RespawnDelay
func (s *ArcadeSession) QueueZombieForRespawn(z *Zombie) bool {
	if s.phase != ArcadeActive || s.inRespawn[z.IdentityID] {
		return false
	}
	s.respawnQueue = append(s.respawnQueue, z)
	s.respawnTimers[z.IdentityID] = s.cfg.RespawnDelay
	s.inRespawn[z.IdentityID] = true
	return true
}

// UpdateRespawnTimers counts pending timers down. Expired timers are
// dropped from the map, which makes their zombie eligible.
func (s *ArcadeSession) UpdateRespawnTimers(dt float64) {
	for id, t := range s.respawnTimers {
		t -= dt
		if t <= 0 {
			delete(s.respawnTimers, id)
			continue
		}
		s.respawnTimers[id] = t
	}
}

// ZombiesReadyToRespawn removes and returns the queued zombies whose timer expired
func (s *ArcadeSession) ZombiesReadyToRespawn() []*Zombie {
	var ready []*Zombie
	kept := s.respawnQueue[:0]
	for _, z := range s.respawnQueue {
		if _, waiting := s.respawnTimers[z.IdentityID]; waiting {
			kept = append(kept, z)
			continue
		}
		ready = append(ready, z)
		delete(s.inRespawn, z.IdentityID)
	}
	s.respawnQueue = kept
	return ready
}

// PendingRespawns is the number of zombies waiting in the respawn queue
func (s *ArcadeSession) PendingRespawns() int {
	return len(s.respawnQueue)
}

// RespawnZombie puts z back on the ground RespawnOffset px to a random side of the player
func (s *ArcadeSession) RespawnZombie(z *Zombie, playerPos Vector2, levelWidth, groundY float64) {
	s.respawnOnSide(z, playerPos, levelWidth, groundY, s.rng.Intn(2) == 0)
}

func (s *ArcadeSession) respawnOnSide(z *Zombie, playerPos Vector2, levelWidth, groundY float64, left bool) {
	x := playerPos.X + s.cfg.RespawnOffset
	if left {
		x = playerPos.X - s.cfg.RespawnOffset
	}
	z.Position = Vector2{
		X: Clamp(x, s.cfg.EdgeMargin, levelWidth-s.cfg.EdgeMargin),
		Y: groundY - float64(z.Height),
	}
	z.Health = z.MaxHealth
	z.Presence = PresenceVisible
	z.Flash = 0
	z.Velocity = Vector2{}
	z.Grounded = true
}

// ShouldRespawnZombies is true while fewer than MinimumZombies are on screen
func (s *ArcadeSession) ShouldRespawnZombies(currentCount int) bool {
	return currentCount < s.cfg.MinimumZombies
}
