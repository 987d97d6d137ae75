package main

const (
	BossWidth      = 120
	BossHeight     = 140
	BossMaxHP      = 400
	BossSpeed      = 120.0 // pixels/s
	BossContactDmg = 20
	BossEdgeMargin = 50.0
	VictoryLinger  = 3.0 // seconds before auto-return to lobby
)

// Boss is the end-of-level enemy. It patrols between the level edges.
type Boss struct {
	Position  Vector2
	Width     int
	Height    int
	Health    int
	MaxHealth int
	Direction float64 // -1 or +1
	Flash     float64
}

// NewBoss places a boss standing on groundY near the right side of the level
func NewBoss(levelWidth, groundY float64) *Boss {
	return &Boss{
		Position:  Vector2{X: levelWidth - BossEdgeMargin - BossWidth, Y: groundY - BossHeight},
		Width:     BossWidth,
		Height:    BossHeight,
		Health:    BossMaxHP,
		MaxHealth: BossMaxHP,
		Direction: -1,
	}
}

// Bounds returns the boss bounding box
func (b *Boss) Bounds() Rect {
	return RectAt(b.Position, b.Width, b.Height)
}

// Update patrols and turns around at the margins
func (b *Boss) Update(dt, levelWidth float64) {
	if b.Flash > 0 {
		b.Flash -= dt
	}
	b.Position.X += b.Direction * BossSpeed * dt
	minX := BossEdgeMargin
	maxX := levelWidth - BossEdgeMargin - float64(b.Width)
	if b.Position.X <= minX {
		b.Position.X = minX
		b.Direction = 1
	} else if b.Position.X >= maxX {
		b.Position.X = maxX
		b.Direction = -1
	}
}

// TakeDamage reduces health (clamped at 0) and returns true when defeated
func (b *Boss) TakeDamage(dmg int) bool {
	b.Flash = FlashDuration
	b.Health -= dmg
	if b.Health <= 0 {
		b.Health = 0
		return true
	}
	return false
}
