package main

import "fmt"

const (
	spaceDriftSpeed   = 45.0  // zombie drift toward the player, pixels/s
	spaceShipSpeed    = 300.0 // pixels/s
	spaceFormationCol = 5
	spaceRowGap       = 1.6 // multiples of zombie height
	spaceColGap       = 120.0
)

func init() {
	DefaultGenres.Register(GenreSpace, func() GenreController { return &spaceController{} })
}

// spaceController is a side-scrolling shooter: the player flies in the left
// third of the screen while zombies drift in formation from the right.
// Any zombie reaching the left edge loses the level.
type spaceController struct {
	accountID string
	zombies   []*Zombie
	width     float64
	height    float64
	input     InputState
	placed    bool
	lost      bool
}

// Won reports the level result once CheckCompletion is true
func (c *spaceController) Won() bool {
	return !c.lost
}

func (c *spaceController) InitializeLevel(accountID string, zombies []*Zombie, levelWidth, levelHeight float64) error {
	if levelWidth <= 0 || levelHeight <= 0 {
		return fmt.Errorf("%w: space level %s has no area", ErrMalformedLevel, accountID)
	}
	c.accountID = accountID
	c.zombies = zombies
	c.width = levelWidth
	c.height = levelHeight
	for i, z := range zombies {
		col := i / spaceFormationCol
		row := i % spaceFormationCol
		z.Position = Vector2{
			X: levelWidth - 200 - float64(col)*spaceColGap,
			Y: 80 + float64(row)*ZombieHeight*spaceRowGap,
		}
		z.Velocity = Vector2{X: -spaceDriftSpeed}
		z.Grounded = false
	}
	return nil
}

func (c *spaceController) HandleInput(in InputState, player *Player) {
	c.input = in
	if in.Left {
		player.Facing = FacingLeft
	} else if in.Right {
		player.Facing = FacingRight
	}
}

func (c *spaceController) Update(dt float64, player *Player) {
	if !c.placed {
		player.Position = Vector2{X: 80, Y: c.height/2 - float64(player.Height)/2}
		player.Facing = FacingRight
		c.placed = true
	}
	player.tickTimers(dt)

	var v Vector2
	if c.input.Left {
		v.X -= 1
	}
	if c.input.Right {
		v.X += 1
	}
	if c.input.Up {
		v.Y -= 1
	}
	if c.input.Down {
		v.Y += 1
	}
	player.Velocity = v.Scale(spaceShipSpeed)
	player.Position = player.Position.Add(player.Velocity.Scale(dt))
	player.Position.X = Clamp(player.Position.X, 0, c.width/3)
	player.Position.Y = Clamp(player.Position.Y, 0, c.height-float64(player.Height))
	player.Grounded = false

	for _, z := range c.zombies {
		if z.IsHidden() {
			continue
		}
		z.Position = z.Position.Add(z.Velocity.Scale(dt))
		if z.Position.X <= 0 {
			c.lost = true
		}
	}
}

func (c *spaceController) CheckCompletion() bool {
	if c.lost {
		return true
	}
	for _, z := range c.zombies {
		if !z.IsRemoved() {
			return false
		}
	}
	return true
}

func (c *spaceController) Render(surface Surface, cameraOffset Vector2) {
	// danger line at the left edge
	surface.Draw(Sprite{Kind: "space_edge", X: -cameraOffset.X, Y: -cameraOffset.Y, W: 4, H: c.height})
}
