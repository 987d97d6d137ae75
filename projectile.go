package main

const (
	ProjectileSpeed    = 700.0 // pixels/s
	ProjectileLifetime = 2.0   // seconds
	ProjectileWidth    = 12
	ProjectileHeight   = 6
	ProjectileDamage   = 10
	ProjectileOffset   = 6.0 // spawn distance ahead of the player's edge
	BurstSpread        = 90.0 // vertical px/s between burst pellets
)

// WallMap answers whether a world point is inside solid geometry
type WallMap interface {
	IsSolid(p Vector2) bool
}

// Projectile is a player shot
type Projectile struct {
	ID       string
	Position Vector2
	Velocity Vector2
	Width    int
	Height   int
	Damage   int
	Life     float64
	Alive    bool
}

// NewProjectile creates a projectile leaving the player's muzzle.
// vy adds vertical drift (burst shot pellets).
func NewProjectile(owner *Player, damage int, vy float64) *Projectile {
	dir := float64(owner.Facing)
	b := owner.Bounds()
	x := b.Right() + ProjectileOffset
	if dir < 0 {
		x = b.Left() - ProjectileOffset - ProjectileWidth
	}
	return &Projectile{
		ID:       GenerateID(3),
		Position: Vector2{X: x, Y: b.Center().Y - ProjectileHeight/2},
		Velocity: Vector2{X: dir * ProjectileSpeed, Y: vy},
		Width:    ProjectileWidth,
		Height:   ProjectileHeight,
		Damage:   damage,
		Life:     ProjectileLifetime,
		Alive:    true,
	}
}

// Bounds returns the projectile's bounding box
func (p *Projectile) Bounds() Rect {
	return RectAt(p.Position, p.Width, p.Height)
}

// Update moves the projectile one tick
func (p *Projectile) Update(dt float64) {
	if !p.Alive {
		return
	}
	p.Position = p.Position.Add(p.Velocity.Scale(dt))
	p.Life -= dt
	if p.Life <= 0 {
		p.Alive = false
	}
}

// IsOffScreen reports whether the projectile left the given bounds entirely
func (p *Projectile) IsOffScreen(bounds Rect) bool {
	return !p.Bounds().Intersects(bounds)
}

// HitsWall reports whether the projectile's leading point is inside solid geometry
func (p *Projectile) HitsWall(m WallMap) bool {
	if m == nil {
		return false
	}
	c := p.Bounds().Center()
	if p.Velocity.X > 0 {
		c.X = p.Bounds().Right()
	} else if p.Velocity.X < 0 {
		c.X = p.Bounds().Left()
	}
	return m.IsSolid(c)
}
