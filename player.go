package main

const (
	PlayerWidth      = 32
	PlayerHeight     = 48
	PlayerMaxHP      = 100
	PlayerRunSpeed   = 260.0  // pixels/s
	PlayerLobbySpeed = 220.0  // pixels/s, top-down
	PlayerJumpVel    = -560.0 // pixels/s
	Gravity          = 1500.0 // pixels/s²
	MaxFallSpeed     = 900.0
	FireCooldown     = 0.25 // seconds between shots
	HurtCooldown     = 1.0  // invulnerability after contact damage
)

// Facing is the horizontal direction the player looks at
type Facing int

const (
	FacingLeft  Facing = -1
	FacingRight Facing = 1
)

// InputState is the abstract per-frame input, independent of any device
type InputState struct {
	Up       bool `json:"up" msgpack:"up"`
	Down     bool `json:"down" msgpack:"down"`
	Left     bool `json:"left" msgpack:"left"`
	Right    bool `json:"right" msgpack:"right"`
	Jump     bool `json:"jump" msgpack:"jump"`
	Shoot    bool `json:"shoot" msgpack:"shoot"`
	Block    bool `json:"block" msgpack:"block"`
	Interact bool `json:"interact" msgpack:"interact"`
}

// ActiveEffect is a collected power-up still running on the player
type ActiveEffect struct {
	Remaining float64
	Value     float64
}

// Player is the controllable character shared by every mode
type Player struct {
	Position Vector2
	Velocity Vector2
	Width    int
	Height   int
	Facing   Facing
	Grounded bool
	HP       int
	MaxHP    int
	FireCD   float64 // fire cooldown remaining
	HurtCD   float64 // contact-damage immunity remaining
	Effects  map[PowerUpType]*ActiveEffect
}

// NewPlayer creates a player at pos
func NewPlayer(pos Vector2) *Player {
	return &Player{
		Position: pos,
		Width:    PlayerWidth,
		Height:   PlayerHeight,
		Facing:   FacingRight,
		HP:       PlayerMaxHP,
		MaxHP:    PlayerMaxHP,
		Effects:  make(map[PowerUpType]*ActiveEffect),
	}
}

// Bounds returns the player's bounding box
func (p *Player) Bounds() Rect {
	return RectAt(p.Position, p.Width, p.Height)
}

// Reset restores health and clears effects and motion, keeping the position
func (p *Player) Reset(pos Vector2) {
	p.Position = pos
	p.Velocity = Vector2{}
	p.Grounded = false
	p.HP = p.MaxHP
	p.FireCD = 0
	p.HurtCD = 0
	clear(p.Effects)
}

// ApplyPowerUp starts (or refreshes) the power-up's effect
func (p *Player) ApplyPowerUp(pu *PowerUp) {
	p.Effects[pu.Type] = &ActiveEffect{Remaining: pu.Duration, Value: pu.EffectValue}
}

// HasEffect reports whether the effect is running
func (p *Player) HasEffect(t PowerUpType) bool {
	_, ok := p.Effects[t]
	return ok
}

func (p *Player) effectValue(t PowerUpType, fallback float64) float64 {
	if e, ok := p.Effects[t]; ok {
		return e.Value
	}
	return fallback
}

// tickTimers advances cooldowns and expires effects
func (p *Player) tickTimers(dt float64) {
	if p.FireCD > 0 {
		p.FireCD -= dt
	}
	if p.HurtCD > 0 {
		p.HurtCD -= dt
	}
	for t, e := range p.Effects {
		e.Remaining -= dt
		if e.Remaining <= 0 {
			delete(p.Effects, t)
		}
	}
}

// UpdateTopDown moves the player freely in the lobby, clamped to bounds
func (p *Player) UpdateTopDown(dt float64, in InputState, bounds Rect) {
	p.tickTimers(dt)
	var v Vector2
	if in.Left {
		v.X -= 1
		p.Facing = FacingLeft
	}
	if in.Right {
		v.X += 1
		p.Facing = FacingRight
	}
	if in.Up {
		v.Y -= 1
	}
	if in.Down {
		v.Y += 1
	}
	if v.X != 0 && v.Y != 0 {
		v = v.Scale(0.7071)
	}
	p.Velocity = v.Scale(PlayerLobbySpeed)
	p.Position = p.Position.Add(p.Velocity.Scale(dt))
	p.Position.X = Clamp(p.Position.X, bounds.Left(), bounds.Right()-float64(p.Width))
	p.Position.Y = Clamp(p.Position.Y, bounds.Top(), bounds.Bottom()-float64(p.Height))
}

// UpdatePlatformer runs, jumps and falls against the level's ground and platform tops
func (p *Player) UpdatePlatformer(dt float64, in InputState, lvl *LevelMap) {
	p.tickTimers(dt)

	speed := PlayerRunSpeed * p.effectValue(PowerUpLambdaSpeed, 1)
	p.Velocity.X = 0
	if in.Left {
		p.Velocity.X = -speed
		p.Facing = FacingLeft
	}
	if in.Right {
		p.Velocity.X = speed
		p.Facing = FacingRight
	}
	if (in.Jump || in.Up) && p.Grounded {
		p.Velocity.Y = PlayerJumpVel
		p.Grounded = false
	}

	p.Velocity.Y += Gravity * dt
	if p.Velocity.Y > MaxFallSpeed {
		p.Velocity.Y = MaxFallSpeed
	}

	prevBottom := p.Bounds().Bottom()
	p.Position = p.Position.Add(p.Velocity.Scale(dt))
	p.Position.X = Clamp(p.Position.X, 0, lvl.Width-float64(p.Width))

	p.Grounded = false
	if p.Velocity.Y >= 0 {
		if top, ok := lvl.LandingY(p.Bounds(), prevBottom); ok {
			p.Position.Y = top - float64(p.Height)
			p.Velocity.Y = 0
			p.Grounded = true
		}
	}
}

// CanFire returns true if the player may shoot this tick
func (p *Player) CanFire(in InputState) bool {
	return in.Shoot && p.FireCD <= 0
}

// Fire spawns this tick's projectiles and starts the cooldown
func (p *Player) Fire() []*Projectile {
	p.FireCD = FireCooldown
	damage := int(float64(ProjectileDamage) * p.effectValue(PowerUpLaserBeam, 1))
	pellets := int(p.effectValue(PowerUpBurstShot, 1))
	if pellets < 1 {
		pellets = 1
	}
	out := make([]*Projectile, 0, pellets)
	for i := 0; i < pellets; i++ {
		vy := (float64(i) - float64(pellets-1)/2) * BurstSpread
		out = append(out, NewProjectile(p, damage, vy))
	}
	return out
}

// TakeContactDamage applies boss contact damage unless immune.
// Returns true if the player dropped to 0 HP.
func (p *Player) TakeContactDamage(dmg int) bool {
	if p.HurtCD > 0 || p.HasEffect(PowerUpStarPower) {
		return false
	}
	p.HurtCD = HurtCooldown
	p.HP -= dmg
	if p.HP <= 0 {
		p.HP = 0
		return true
	}
	return false
}
