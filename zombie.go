package main

const (
	ZombieWidth     = 40
	ZombieHeight    = 60
	ZombieMaxHP     = 30
	ThirdPartyWidth = 48
	ThirdPartyHP    = 50
	FlashDuration   = 0.15 // seconds of damage flash
)

// Presence tracks the optimistic-removal lifecycle of a target.
//
//	Visible -> Pending   projectile claimed it / elimination awaiting confirmation
//	Pending -> Visible   survived the hit, or the external call failed (rollback)
//	Pending -> Removed   external call confirmed
type Presence uint8

const (
	PresenceVisible Presence = iota
	PresencePending
	PresenceRemoved
)

func (p Presence) String() string {
	switch p {
	case PresenceVisible:
		return "visible"
	case PresencePending:
		return "pending"
	case PresenceRemoved:
		return "removed"
	}
	return "unknown"
}

// Target is anything a projectile can be matched against
type Target interface {
	Bounds() Rect
	IsHidden() bool
	IsQuarantining() bool
	MarkQuarantining()
}

// Combatant is the shared health/visibility state of zombies and third parties
type Combatant struct {
	Position  Vector2
	Velocity  Vector2
	Width     int
	Height    int
	Health    int
	MaxHealth int
	Presence  Presence
	Flash     float64 // damage flash time remaining
	Grounded  bool
}

// Bounds returns the axis-aligned bounding box
func (c *Combatant) Bounds() Rect {
	return RectAt(c.Position, c.Width, c.Height)
}

// IsHidden is true while not rendered and not collidable
func (c *Combatant) IsHidden() bool {
	return c.Presence != PresenceVisible
}

// IsQuarantining is true while a removal is in flight
func (c *Combatant) IsQuarantining() bool {
	return c.Presence == PresencePending
}

// IsRemoved is true once removal was confirmed
func (c *Combatant) IsRemoved() bool {
	return c.Presence == PresenceRemoved
}

// MarkQuarantining claims the target so no other projectile can match it
func (c *Combatant) MarkQuarantining() {
	if c.Presence == PresenceVisible {
		c.Presence = PresencePending
	}
}

// Release returns a claimed target to the visible set (hit survived or rollback)
func (c *Combatant) Release() {
	if c.Presence == PresencePending {
		c.Presence = PresenceVisible
	}
}

// ConfirmRemoval makes the removal permanent
func (c *Combatant) ConfirmRemoval() {
	c.Presence = PresenceRemoved
}

// TakeDamage reduces health (clamped at 0) and returns true if health is 0.
// Every call flashes, even once already eliminated.
func (c *Combatant) TakeDamage(amount int) bool {
	c.Flash = FlashDuration
	if !invariant(amount >= 0, "negative damage") {
		amount = 0
	}
	if c.Health == 0 {
		return true
	}
	c.Health -= amount
	if c.Health <= 0 {
		c.Health = 0
		return true
	}
	return false
}

// Update advances the damage flash timer
func (c *Combatant) Update(dt float64) {
	if c.Flash > 0 {
		c.Flash -= dt
		if c.Flash < 0 {
			c.Flash = 0
		}
	}
}

// Zombie is the in-game stand-in for an unused identity
type Zombie struct {
	Combatant
	IdentityID   string
	IdentityName string
	Account      string
	Scope        string // opaque routing key for the identity service
}

// NewZombie creates a full-health zombie standing at pos
func NewZombie(spec ZombieSpec, account string, pos Vector2) *Zombie {
	hp := spec.Health
	if hp <= 0 {
		hp = ZombieMaxHP
	}
	return &Zombie{
		Combatant: Combatant{
			Position:  pos,
			Width:     ZombieWidth,
			Height:    ZombieHeight,
			Health:    hp,
			MaxHealth: hp,
		},
		IdentityID:   spec.IdentityID,
		IdentityName: spec.IdentityName,
		Account:      account,
		Scope:        spec.Scope,
	}
}

// Ref returns the identity reference used by batch quarantine
func (z *Zombie) Ref() IdentityRef {
	return IdentityRef{
		IdentityID:   z.IdentityID,
		IdentityName: z.IdentityName,
		Account:      z.Account,
		Scope:        z.Scope,
	}
}

// ThirdParty is an external-vendor access entry. Blocking replaces quarantine.
type ThirdParty struct {
	Combatant
	ThirdPartyID   string
	ThirdPartyName string
}

// NewThirdParty creates a full-health third party at pos
func NewThirdParty(spec ThirdPartySpec, pos Vector2) *ThirdParty {
	hp := spec.Health
	if hp <= 0 {
		hp = ThirdPartyHP
	}
	return &ThirdParty{
		Combatant: Combatant{
			Position:  pos,
			Width:     ThirdPartyWidth,
			Height:    ZombieHeight,
			Health:    hp,
			MaxHealth: hp,
		},
		ThirdPartyID:   spec.ID,
		ThirdPartyName: spec.Name,
	}
}
