package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrUnknownGenre = errors.New("unknown genre")

// GenreType selects how a level is played
type GenreType int

const (
	GenrePlatformer GenreType = iota // built into the engine, no controller
	GenreMaze
	GenreSpace
	GenreRacing
	GenreFighting
)

var genreNames = map[GenreType]string{
	GenrePlatformer: "platformer",
	GenreMaze:       "maze",
	GenreSpace:      "space",
	GenreRacing:     "racing",
	GenreFighting:   "fighting",
}

func (g GenreType) String() string {
	if n, ok := genreNames[g]; ok {
		return n
	}
	return fmt.Sprintf("genre(%d)", int(g))
}

// ParseGenre maps a name to its GenreType. Empty means platformer.
func ParseGenre(s string) (GenreType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return GenrePlatformer, nil
	}
	for g, n := range genreNames {
		if n == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownGenre, s)
}

// UnmarshalYAML accepts genre names in level catalogs
func (g *GenreType) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseGenre(node.Value)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// Sprite is one draw command handed to a Surface
type Sprite struct {
	Kind  string  `msgpack:"k"`
	ID    string  `msgpack:"id,omitempty"`
	X     float64 `msgpack:"x"`
	Y     float64 `msgpack:"y"`
	W     float64 `msgpack:"w"`
	H     float64 `msgpack:"h"`
	Flash bool    `msgpack:"f,omitempty"`
	HP    int     `msgpack:"hp,omitempty"`
	Label string  `msgpack:"l,omitempty"`
}

// Surface receives draw commands in screen space
type Surface interface {
	Draw(s Sprite)
}

// GenreController is a pluggable minigame. It takes over player movement
// for its level and decides when the level is done.
type GenreController interface {
	// InitializeLevel runs once before any Update or HandleInput
	InitializeLevel(accountID string, zombies []*Zombie, levelWidth, levelHeight float64) error
	Update(dt float64, player *Player)
	HandleInput(in InputState, player *Player)
	CheckCompletion() bool
	Render(surface Surface, cameraOffset Vector2)
}

// GenreFactory builds a fresh controller
type GenreFactory func() GenreController

// GenreRegistry maps genre types to controller factories
type GenreRegistry struct {
	mu        sync.RWMutex
	factories map[GenreType]GenreFactory
}

// NewGenreRegistry creates an empty registry
func NewGenreRegistry() *GenreRegistry {
	return &GenreRegistry{factories: make(map[GenreType]GenreFactory)}
}

// DefaultGenres is populated by the genre implementations' init functions
var DefaultGenres = NewGenreRegistry()

// Register adds or replaces the factory for t
func (r *GenreRegistry) Register(t GenreType, f GenreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

// Has reports whether t has a registered factory
func (r *GenreRegistry) Has(t GenreType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[t]
	return ok
}

// Create instantiates the controller registered for t
func (r *GenreRegistry) Create(t GenreType) (GenreController, error) {
	r.mu.RLock()
	f, ok := r.factories[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGenre, t)
	}
	return f(), nil
}
