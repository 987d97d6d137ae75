package main

import (
	"math"
	"math/rand"
)

const (
	PowerUpSize         = 24
	PowerUpBounceSpeed  = 4.0 // radians/s of the bob animation
	PowerUpBounceHeight = 6.0
	MaxPowerUpsPerLevel = 4
)

// PowerUpType enumerates the collectible effects
type PowerUpType int

const (
	PowerUpStarPower PowerUpType = iota
	PowerUpLambdaSpeed
	PowerUpLaserBeam
	PowerUpBurstShot
)

func (t PowerUpType) String() string {
	switch t {
	case PowerUpStarPower:
		return "star_power"
	case PowerUpLambdaSpeed:
		return "lambda_speed"
	case PowerUpLaserBeam:
		return "laser_beam"
	case PowerUpBurstShot:
		return "burst_shot"
	}
	return "unknown"
}

type powerUpDef struct {
	Type        PowerUpType
	Weight      int
	Duration    float64
	EffectValue float64
}

// powerUpTable drives weighted random selection and effect tuning
var powerUpTable = []powerUpDef{
	{Type: PowerUpStarPower, Weight: 1, Duration: 8, EffectValue: 1},
	{Type: PowerUpLambdaSpeed, Weight: 3, Duration: 10, EffectValue: 1.5},
	{Type: PowerUpLaserBeam, Weight: 2, Duration: 10, EffectValue: 2},
	{Type: PowerUpBurstShot, Weight: 3, Duration: 12, EffectValue: 3},
}

// PowerUp is a collectible resting on a platform
type PowerUp struct {
	ID          string
	Type        PowerUpType
	Position    Vector2
	Duration    float64
	EffectValue float64
	Collected   bool
	Phase       float64 // bounce animation phase, cosmetic only
}

// NewPowerUp creates a power-up of the given type at pos
func NewPowerUp(t PowerUpType, pos Vector2) *PowerUp {
	pu := &PowerUp{ID: GenerateID(3), Type: t, Position: pos}
	for _, def := range powerUpTable {
		if def.Type == t {
			pu.Duration = def.Duration
			pu.EffectValue = def.EffectValue
			break
		}
	}
	return pu
}

// Bounds returns the collection box. The bob offset is not part of it.
func (p *PowerUp) Bounds() Rect {
	return RectAt(p.Position, PowerUpSize, PowerUpSize)
}

// Update advances the bounce animation
func (p *PowerUp) Update(dt float64) {
	p.Phase = math.Mod(p.Phase+PowerUpBounceSpeed*dt, 2*math.Pi)
}

// BounceOffset is the vertical draw offset for the current phase
func (p *PowerUp) BounceOffset() float64 {
	return math.Sin(p.Phase) * PowerUpBounceHeight
}

// pickPowerUpType selects a type by table weight
func pickPowerUpType(rng *rand.Rand) PowerUpType {
	total := 0
	for _, def := range powerUpTable {
		total += def.Weight
	}
	n := rng.Intn(total)
	for _, def := range powerUpTable {
		if n < def.Weight {
			return def.Type
		}
		n -= def.Weight
	}
	return powerUpTable[len(powerUpTable)-1].Type
}

// SpawnPowerUps places up to MaxPowerUpsPerLevel power-ups on the tops of
// randomly chosen platforms, at most one per platform
func SpawnPowerUps(platforms []Rect, rng *rand.Rand) []*PowerUp {
	if len(platforms) == 0 {
		return nil
	}
	order := rng.Perm(len(platforms))
	n := len(order)
	if n > MaxPowerUpsPerLevel {
		n = MaxPowerUpsPerLevel
	}
	out := make([]*PowerUp, 0, n)
	for _, i := range order[:n] {
		pl := platforms[i]
		pos := Vector2{
			X: pl.X + pl.W/2 - PowerUpSize/2,
			Y: pl.Y - PowerUpSize,
		}
		out = append(out, NewPowerUp(pickPowerUpType(rng), pos))
	}
	return out
}
