package main

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const maxSessions = 100

// SessionDeps are what every Game shares
type SessionDeps struct {
	Engine    EngineConfig
	TickRate  int
	Levels    LevelSource
	Identity  IdentityService
	DB        *DB
	Analytics *Analytics
}

// SessionManager handles creation and lookup of sessions
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Game
	deps     SessionDeps
}

// NewSessionManager creates a new SessionManager
func NewSessionManager(deps SessionDeps) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Game),
		deps:     deps,
	}
}

// CreateSession starts a new game in the lobby. Returns nil if limit reached.
func (sm *SessionManager) CreateSession(playerID int64) *Game {
	sm.mu.Lock()
	if len(sm.sessions) >= maxSessions {
		sm.mu.Unlock()
		return nil
	}
	id := GenerateUUID()
	cfg := sm.deps.Engine
	cfg.Seed = time.Now().UnixNano()
	game := NewGame(id, cfg, sm.deps.TickRate, sm.deps.Levels, sm.deps.Identity, sm.deps.DB, sm.deps.Analytics)
	game.SetPlayer(playerID)
	sm.sessions[id] = game
	sm.mu.Unlock()

	game.Start()
	if sm.deps.Analytics != nil {
		sm.deps.Analytics.Track(EvtSessionStart, playerID, id, "")
	}
	log.Info().Str("session", id).Int64("player", playerID).Msg("session created")
	return game
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id string) *Game {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Detach removes a client from a session and ends the session once nobody
// is attached
func (sm *SessionManager) Detach(sessionID string, c Broadcaster) {
	game := sm.GetSession(sessionID)
	if game == nil {
		return
	}
	if game.RemoveClient(c) > 0 {
		return
	}
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()
	sm.end(game)
}

func (sm *SessionManager) end(game *Game) {
	game.Stop()
	if sm.deps.Analytics != nil {
		sm.deps.Analytics.Track(EvtSessionEnd, game.PlayerID(), game.ID(), "")
	}
	log.Info().Str("session", game.ID()).Msg("session ended")
}

// Count returns the number of active sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Shutdown stops every session
func (sm *SessionManager) Shutdown() {
	sm.mu.Lock()
	games := make([]*Game, 0, len(sm.sessions))
	for id, g := range sm.sessions {
		games = append(games, g)
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	var wg sync.WaitGroup
	for _, g := range games {
		wg.Add(1)
		go func(g *Game) {
			defer wg.Done()
			sm.end(g)
		}(g)
	}
	wg.Wait()
}
