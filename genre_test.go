package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// stubController records what the engine hands it
type stubController struct {
	initialized int
	zombies     []*Zombie
	done        bool
}

func (s *stubController) InitializeLevel(accountID string, zombies []*Zombie, w, h float64) error {
	s.initialized++
	s.zombies = zombies
	return nil
}
func (s *stubController) Update(dt float64, player *Player) {}
func (s *stubController) HandleInput(in InputState, player *Player) {}
func (s *stubController) CheckCompletion() bool { return s.done }
func (s *stubController) Render(surface Surface, cam Vector2) {}

func TestGenreRegistry(t *testing.T) {
	r := NewGenreRegistry()
	assert.False(t, r.Has(GenreMaze))
	_, err := r.Create(GenreMaze)
	assert.ErrorIs(t, err, ErrUnknownGenre)

	r.Register(GenreMaze, func() GenreController { return &stubController{} })
	require.True(t, r.Has(GenreMaze))
	a, err := r.Create(GenreMaze)
	require.NoError(t, err)
	b, err := r.Create(GenreMaze)
	require.NoError(t, err)
	assert.NotSame(t, a, b, "every level gets a fresh controller")
}

func TestDefaultGenresHasSpace(t *testing.T) {
	assert.True(t, DefaultGenres.Has(GenreSpace))
}

func TestParseGenre(t *testing.T) {
	g, err := ParseGenre("")
	require.NoError(t, err)
	assert.Equal(t, GenrePlatformer, g)

	g, err = ParseGenre(" Space ")
	require.NoError(t, err)
	assert.Equal(t, GenreSpace, g)

	_, err = ParseGenre("golf")
	assert.ErrorIs(t, err, ErrUnknownGenre)

	assert.Equal(t, "fighting", GenreFighting.String())
	assert.Equal(t, "genre(42)", GenreType(42).String())
}

func TestGenreYAML(t *testing.T) {
	var d struct {
		Genre GenreType `yaml:"genre"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("genre: racing"), &d))
	assert.Equal(t, GenreRacing, d.Genre)
	assert.Error(t, yaml.Unmarshal([]byte("genre: golf"), &d))
}

func TestEngineUsesRegisteredController(t *testing.T) {
	stub := &stubController{}
	r := NewGenreRegistry()
	r.Register(GenreMaze, func() GenreController { return stub })

	lvl := testLevel("acct-maze", 1, 2)
	lvl.Unlocked = true
	lvl.Genre = GenreMaze
	e, _, _ := newTestEngine(t, testCatalog(lvl), WithGenres(r))

	require.NoError(t, e.EnterLevel("acct-maze"))
	assert.Equal(t, 1, stub.initialized)
	assert.Len(t, stub.zombies, 2)

	pos := e.Player().Position
	e.SetInput(InputState{Right: true})
	e.Update(frame)
	assert.Equal(t, pos, e.Player().Position, "controller owns movement")

	stub.done = true
	e.Update(frame)
	assert.Equal(t, ModeVictory, e.Mode(), "completion without a Won method counts as a win")
}

func TestSpaceControllerFormation(t *testing.T) {
	c := &spaceController{}
	zs := arcadeZombies(7)
	require.NoError(t, c.InitializeLevel("acct", zs, 1200, 900))

	assert.Equal(t, 1000.0, zs[0].Position.X)
	assert.Equal(t, 1000.0-spaceColGap, zs[5].Position.X, "sixth zombie starts a new column")
	for _, z := range zs {
		assert.Equal(t, -spaceDriftSpeed, z.Velocity.X)
	}

	assert.Error(t, (&spaceController{}).InitializeLevel("acct", zs, 0, 900))
}

func TestSpaceControllerMovesPlayer(t *testing.T) {
	c := &spaceController{}
	require.NoError(t, c.InitializeLevel("acct", nil, 1200, 900))
	p := NewPlayer(Vector2{})

	c.HandleInput(InputState{Right: true}, p)
	c.Update(1, p)
	assert.Equal(t, 80.0+spaceShipSpeed, p.Position.X)

	c.Update(10, p)
	assert.Equal(t, 400.0, p.Position.X, "confined to the left third")
	assert.True(t, c.CheckCompletion(), "no zombies left")
	assert.True(t, c.Won())
}

func TestSpaceControllerLoses(t *testing.T) {
	c := &spaceController{}
	zs := arcadeZombies(2)
	require.NoError(t, c.InitializeLevel("acct", zs, 1200, 900))
	p := NewPlayer(Vector2{})

	c.Update(10, p)
	assert.False(t, c.CheckCompletion())

	zs[0].ConfirmRemoval()
	c.Update(20, p)
	assert.True(t, c.CheckCompletion())
	assert.False(t, c.Won())
}
