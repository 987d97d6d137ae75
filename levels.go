package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownLevel   = errors.New("unknown level")
	ErrLevelLocked    = errors.New("level locked")
	ErrMalformedLevel = errors.New("malformed level descriptor")
)

const (
	zombieSpacing  = 180.0
	zombieStartX   = 600.0
	defaultGroundY = 800.0
	defaultLevelW  = 5000.0
	defaultLevelH  = 900.0
	levelSpawnX    = 80.0
)

// ZombieSpec is one identity as supplied by the level source
type ZombieSpec struct {
	IdentityID   string  `yaml:"id"`
	IdentityName string  `yaml:"name"`
	Scope        string  `yaml:"scope"`
	Health       int     `yaml:"health"`
	X            float64 `yaml:"x"` // 0 = auto-spread
}

// ThirdPartySpec is one third-party access entry
type ThirdPartySpec struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name"`
	Health int     `yaml:"health"`
	X      float64 `yaml:"x"`
}

// LevelDescriptor is everything needed to build a level
type LevelDescriptor struct {
	AccountID       string           `yaml:"account_id"`
	LevelNumber     int              `yaml:"number"`
	EnvironmentType string           `yaml:"environment"`
	RootScope       string           `yaml:"root_scope"`
	Genre           GenreType        `yaml:"genre"`
	Unlocked        bool             `yaml:"unlocked"`
	Door            Rect             `yaml:"door"`
	Width           float64          `yaml:"width"`
	Height          float64          `yaml:"height"`
	GroundY         float64          `yaml:"ground_y"`
	Platforms       []Rect           `yaml:"platforms"`
	Walls           []Rect           `yaml:"walls"`
	Zombies         []ZombieSpec     `yaml:"zombies"`
	ThirdParties    []ThirdPartySpec `yaml:"third_parties"`
}

// Validate fills defaults and rejects descriptors the engine cannot build
func (d *LevelDescriptor) Validate() error {
	if d.AccountID == "" {
		return fmt.Errorf("%w: missing account id", ErrMalformedLevel)
	}
	if d.Width == 0 {
		d.Width = defaultLevelW
	}
	if d.Height == 0 {
		d.Height = defaultLevelH
	}
	if d.GroundY == 0 {
		d.GroundY = defaultGroundY
	}
	if d.Width < 0 || d.Height < 0 || d.GroundY > d.Height {
		return fmt.Errorf("%w: bad dimensions for %s", ErrMalformedLevel, d.AccountID)
	}
	seen := make(map[string]bool, len(d.Zombies))
	for _, z := range d.Zombies {
		if z.IdentityID == "" {
			return fmt.Errorf("%w: zombie without identity id in %s", ErrMalformedLevel, d.AccountID)
		}
		if seen[z.IdentityID] {
			return fmt.Errorf("%w: duplicate identity %s in %s", ErrMalformedLevel, z.IdentityID, d.AccountID)
		}
		seen[z.IdentityID] = true
	}
	return nil
}

// Map returns the static geometry of the level
func (d *LevelDescriptor) Map() *LevelMap {
	return &LevelMap{
		Width:     d.Width,
		Height:    d.Height,
		GroundY:   d.GroundY,
		Platforms: d.Platforms,
		Walls:     d.Walls,
	}
}

// LevelMap is a level's solid geometry
type LevelMap struct {
	Width     float64
	Height    float64
	GroundY   float64
	Platforms []Rect
	Walls     []Rect
}

// Bounds returns the playable area
func (m *LevelMap) Bounds() Rect {
	return Rect{W: m.Width, H: m.Height}
}

// IsSolid reports whether p is inside a wall or below the ground line
func (m *LevelMap) IsSolid(p Vector2) bool {
	if p.Y >= m.GroundY {
		return true
	}
	for _, w := range m.Walls {
		if w.Contains(p) {
			return true
		}
	}
	return false
}

// LandingY returns the highest surface b has fallen onto since its bottom
// was at prevBottom
func (m *LevelMap) LandingY(b Rect, prevBottom float64) (float64, bool) {
	best, found := 0.0, false
	if b.Bottom() >= m.GroundY {
		best, found = m.GroundY, true
	}
	for _, pl := range m.Platforms {
		if b.Right() <= pl.Left() || b.Left() >= pl.Right() {
			continue
		}
		if prevBottom <= pl.Top() && b.Bottom() >= pl.Top() {
			if !found || pl.Top() < best {
				best, found = pl.Top(), true
			}
		}
	}
	return best, found
}

// LobbyLayout is the top-down hub with one door per level
type LobbyLayout struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	Spawn  Vector2 `yaml:"spawn"`
}

// Door connects the lobby to a level
type Door struct {
	AccountID   string
	LevelNumber int
	Bounds      Rect
	Unlocked    bool
	Completed   bool
}

// LevelSource supplies level descriptors by account
type LevelSource interface {
	Lobby() LobbyLayout
	Doors() []Door
	LoadLevel(ctx context.Context, accountID string) (*LevelDescriptor, error)
}

// LevelCatalog is a LevelSource backed by a YAML file
type LevelCatalog struct {
	LobbyLayout LobbyLayout       `yaml:"lobby"`
	Levels      []LevelDescriptor `yaml:"levels"`
}

// LoadLevelCatalog reads and validates a YAML level catalog
func LoadLevelCatalog(path string) (*LevelCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read level catalog: %w", err)
	}
	return ParseLevelCatalog(raw)
}

// ParseLevelCatalog decodes and validates a YAML level catalog
func ParseLevelCatalog(raw []byte) (*LevelCatalog, error) {
	var c LevelCatalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLevel, err)
	}
	if c.LobbyLayout.Width == 0 {
		c.LobbyLayout.Width = 1600
	}
	if c.LobbyLayout.Height == 0 {
		c.LobbyLayout.Height = 900
	}
	for i := range c.Levels {
		if err := c.Levels[i].Validate(); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(c.Levels, func(i, j int) bool {
		return c.Levels[i].LevelNumber < c.Levels[j].LevelNumber
	})
	return &c, nil
}

// Lobby returns the lobby layout
func (c *LevelCatalog) Lobby() LobbyLayout {
	return c.LobbyLayout
}

// Doors returns one door per level in level-number order
func (c *LevelCatalog) Doors() []Door {
	doors := make([]Door, 0, len(c.Levels))
	for _, l := range c.Levels {
		doors = append(doors, Door{
			AccountID:   l.AccountID,
			LevelNumber: l.LevelNumber,
			Bounds:      l.Door,
			Unlocked:    l.Unlocked,
		})
	}
	return doors
}

// LoadLevel returns a copy of the account's descriptor
func (c *LevelCatalog) LoadLevel(ctx context.Context, accountID string) (*LevelDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, l := range c.Levels {
		if l.AccountID == accountID {
			cp := l
			cp.Zombies = append([]ZombieSpec(nil), l.Zombies...)
			cp.ThirdParties = append([]ThirdPartySpec(nil), l.ThirdParties...)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownLevel, accountID)
}
