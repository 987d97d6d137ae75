package main

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	leaderboardLimit  = 50
)

// binary input: [0x01, buttons]
const binInputMarker = 0x01

const (
	btnUp byte = 1 << iota
	btnDown
	btnLeft
	btnRight
	btnJump
	btnShoot
	btnBlock
	btnInteract
)

// Client represents a WebSocket connection
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	sessionID    string
	remoteAddr   string
	isController bool
	msgCount     int
	msgResetAt   time.Time
	// Auth state
	authPlayerID int64  // 0 = unauthenticated/guest
	authUsername string // "" = unauthenticated
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Release(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("remote", c.remoteAddr).Msg("ws read error")
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Warn().Str("remote", c.remoteAddr).Msg("rate limit exceeded, disconnecting")
			break
		}

		if msgType == websocket.BinaryMessage && len(message) == 2 && message[0] == binInputMarker {
			c.handleBinaryInput(message[1])
		} else {
			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("marshal error")
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message
// Prefixes with 0xFF marker byte so WritePump can distinguish from text
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Debug().Err(err).Str("remote", c.remoteAddr).Msg("unmarshal error")
		return
	}

	switch env.T {
	case MsgRegister:
		c.handleRegister(env.D)
	case MsgLogin:
		c.handleLogin(env.D)
	case MsgAuth:
		c.handleAuth(env.D)
	case MsgStart:
		c.handleStart()
	case MsgInput:
		c.handleInput(env.D)
	case MsgPause:
		c.withGame(func(g *Game) { g.Pause() })
	case MsgResume:
		c.withGame(func(g *Game) { g.Resume() })
	case MsgLobby:
		c.withGame(func(g *Game) { g.ReturnToLobby() })
	case MsgArcade:
		c.withGame(func(g *Game) {
			if err := g.StartArcade(); err != nil {
				c.sendError(err.Error())
			}
		})
	case MsgSettle:
		c.handleSettle(env.D)
	case MsgSave:
		c.handleSave()
	case MsgLoad:
		c.handleLoad()
	case MsgLeaderboard:
		c.handleLeaderboard(env.D)
	case MsgControl:
		c.handleControl(env.D)
	}
}

func (c *Client) game() *Game {
	if c.sessionID == "" {
		return nil
	}
	return c.hub.sessions.GetSession(c.sessionID)
}

func (c *Client) withGame(fn func(g *Game)) {
	g := c.game()
	if g == nil {
		c.sendError("no active session")
		return
	}
	fn(g)
}

func (c *Client) handleStart() {
	if c.sessionID != "" {
		return
	}
	game := c.hub.sessions.CreateSession(c.authPlayerID)
	if game == nil {
		c.sendError("too many active sessions")
		return
	}
	game.AddClient(c)
	c.sessionID = game.ID()
	c.SendJSON(Envelope{T: MsgWelcome, Data: WelcomeMsg{
		SessionID: game.ID(),
		TickRate:  game.tickRate,
		Viewport:  [2]int{int(ViewportWidth), int(ViewportHeight)},
	}})
}

// handleBinaryInput decodes the compact button mask
func (c *Client) handleBinaryInput(mask byte) {
	g := c.game()
	if g == nil {
		return
	}
	g.HandleInput(InputState{
		Up:       mask&btnUp != 0,
		Down:     mask&btnDown != 0,
		Left:     mask&btnLeft != 0,
		Right:    mask&btnRight != 0,
		Jump:     mask&btnJump != 0,
		Shoot:    mask&btnShoot != 0,
		Block:    mask&btnBlock != 0,
		Interact: mask&btnInteract != 0,
	})
}

func (c *Client) handleInput(data json.RawMessage) {
	g := c.game()
	if g == nil {
		return
	}
	var input InputState
	if err := json.Unmarshal(data, &input); err != nil {
		return
	}
	g.HandleInput(input)
}

func (c *Client) handleSettle(data json.RawMessage) {
	var msg SettleMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	c.withGame(func(g *Game) {
		if err := g.SettleArcade(msg.Choice); err != nil {
			c.sendError(err.Error())
		}
	})
}

func (c *Client) handleSave() {
	c.withGame(func(g *Game) {
		if err := g.Save(); err != nil {
			if !errors.Is(err, ErrNotAuthenticated) {
				log.Error().Err(err).Str("session", g.ID()).Msg("save failed")
			}
			c.sendError("save failed: " + err.Error())
			return
		}
		c.SendJSON(Envelope{T: MsgSaved})
	})
}

func (c *Client) handleLoad() {
	c.withGame(func(g *Game) {
		if err := g.Load(); err != nil {
			if !errors.Is(err, ErrNotAuthenticated) && !errors.Is(err, ErrNoSave) {
				log.Error().Err(err).Str("session", g.ID()).Msg("load failed")
			}
			c.sendError("load failed: " + err.Error())
			return
		}
		c.SendJSON(Envelope{T: MsgLoaded})
	})
}

func (c *Client) handleLeaderboard(data json.RawMessage) {
	if c.hub.db == nil {
		return
	}
	var msg LeaderboardMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
	}
	if msg.Limit <= 0 || msg.Limit > leaderboardLimit {
		msg.Limit = leaderboardLimit
	}
	entries, err := c.hub.db.GetLeaderboard(msg.OrderBy, msg.Limit)
	if err != nil {
		log.Error().Err(err).Msg("leaderboard query")
		c.sendError("leaderboard unavailable")
		return
	}
	c.SendJSON(Envelope{T: MsgLeaderboard, Data: entries})
}

// handleControl attaches this connection to an existing session as a phone controller
func (c *Client) handleControl(data json.RawMessage) {
	var msg ControlMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	game := c.hub.sessions.GetSession(msg.SID)
	if game == nil {
		c.sendError("session not found")
		return
	}
	if !game.AddClient(c) {
		c.sendError("session full")
		return
	}
	c.sessionID = msg.SID
	c.isController = true
	c.SendJSON(Envelope{T: MsgControlOK, Data: map[string]string{"sid": msg.SID}})
}

func (c *Client) authenticated(id int64, username, token string) {
	c.authPlayerID = id
	c.authUsername = username
	c.hub.SetOnline(id, c)
	if g := c.game(); g != nil && !c.isController {
		g.SetPlayer(id)
	}
	if c.hub.analytics != nil {
		c.hub.analytics.Track(EvtLogin, id, c.sessionID, "")
	}
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: username,
		PlayerID: id,
	}})
}

func (c *Client) handleRegister(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.authenticated(id, strings.TrimSpace(msg.Username), token)
}

func (c *Client) handleLogin(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.authenticated(id, msg.Username, token)
}

func (c *Client) handleAuth(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, username, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendError("invalid token")
		return
	}
	c.authenticated(id, username, msg.Token)
}
