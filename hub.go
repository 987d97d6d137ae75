package main

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

var (
	ErrServerFull = errors.New("server full")
	ErrTooManyIP  = errors.New("too many connections from this address")
)

// HubStats is the connection summary reported by /healthz
type HubStats struct {
	Clients     int `json:"clients"`
	Connections int `json:"connections"`
	Online      int `json:"online"`
}

// Hub owns every websocket client and hands them to game sessions
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	sessions   *SessionManager

	// admission counts, touched from HTTP handlers
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int

	db        *DB
	auth      *Auth
	analytics *Analytics

	// authenticated player id -> the connection that logged in last
	onlineMu sync.RWMutex
	online   map[int64]*Client

	quit chan struct{}
}

// NewHub creates a new Hub. db may be nil, in which case accounts and
// persistence are disabled.
func NewHub(db *DB, sessions *SessionManager, analytics *Analytics) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		sessions:   sessions,
		ipConns:    make(map[string]int),
		db:         db,
		analytics:  analytics,
		online:     make(map[int64]*Client),
		quit:       make(chan struct{}),
	}
	if db != nil {
		h.auth = NewAuth(db)
	}
	return h
}

// Admit reserves a connection slot for ip. Every successful Admit must be
// paired with a Release.
func (h *Hub) Admit(ip string) error {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return ErrServerFull
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return ErrTooManyIP
	}
	h.ipConns[ip]++
	h.totalConns++
	return nil
}

// Release frees the slot taken by Admit
func (h *Hub) Release(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.ipConns[ip]--; h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events until Stop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if client.authPlayerID != 0 {
				h.SetOffline(client.authPlayerID, client)
			}
			if client.sessionID != "" {
				h.sessions.Detach(client.sessionID, client)
			}

		case <-h.quit:
			return
		}
	}
}

// Stop ends Run
func (h *Hub) Stop() {
	close(h.quit)
}

// SetOnline records c as the live connection for playerID. A second login
// from another tab takes over; the older connection keeps its session but is
// no longer reported as online.
func (h *Hub) SetOnline(playerID int64, c *Client) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	if prev, ok := h.online[playerID]; ok && prev != c {
		log.Debug().Int64("player", playerID).Str("remote", c.remoteAddr).Msg("login moved to a new connection")
	}
	h.online[playerID] = c
}

// SetOffline clears playerID if c is still its live connection
func (h *Hub) SetOffline(playerID int64, c *Client) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	if h.online[playerID] == c {
		delete(h.online, playerID)
	}
}

// IsOnline checks if a player has a live connection
func (h *Hub) IsOnline(playerID int64) bool {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()
	_, ok := h.online[playerID]
	return ok
}

// Stats summarises connections for health checks
func (h *Hub) Stats() HubStats {
	var s HubStats
	h.mu.RLock()
	s.Clients = len(h.clients)
	h.mu.RUnlock()
	h.connMu.Lock()
	s.Connections = h.totalConns
	h.connMu.Unlock()
	h.onlineMu.RLock()
	s.Online = len(h.online)
	h.onlineMu.RUnlock()
	return s
}
