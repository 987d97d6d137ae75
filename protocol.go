package main

import "encoding/json"

// Client -> Server message types
const (
	MsgRegister    = "register"
	MsgLogin       = "login"
	MsgAuth        = "auth"
	MsgStart       = "start" // create a game session for this connection
	MsgInput       = "input"
	MsgPause       = "pause"
	MsgResume      = "resume"
	MsgLobby       = "lobby" // pause menu: return to lobby
	MsgArcade      = "arcade"
	MsgSettle      = "settle"
	MsgSave        = "save"
	MsgLoad        = "load"
	MsgLeaderboard = "leaderboard"
	MsgControl     = "control" // phone controller attach
)

// Server -> Client message types
const (
	MsgWelcome     = "welcome"
	MsgAuthOK      = "auth_ok"
	MsgEvent       = "event"
	MsgArcadeStats = "arcade_stats"
	MsgSettled     = "settled"
	MsgSaved       = "saved"
	MsgLoaded      = "loaded"
	MsgControlOK   = "control_ok"
	MsgAchievement = "achievement"
	MsgError       = "error"
)

// Envelope wraps all outgoing JSON messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// RegisterMsg / LoginMsg carry credentials
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthMsg resumes a previous login
type AuthMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg confirms authentication
type AuthOKMsg struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	PlayerID int64  `json:"pid"`
}

// WelcomeMsg is sent once a session is created for the connection
type WelcomeMsg struct {
	SessionID string `json:"sid"`
	TickRate  int    `json:"tick"`
	Viewport  [2]int `json:"viewport"`
}

// SettleMsg is the end-of-arcade choice
type SettleMsg struct {
	Choice string `json:"choice"`
}

// SettledMsg reports an applied settlement
type SettledMsg struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
	Pending    bool     `json:"pending"` // failures are waiting for retry or discard
}

// LeaderboardMsg asks for the arcade leaderboard
type LeaderboardMsg struct {
	OrderBy string `json:"order"`
	Limit   int    `json:"limit"`
}

// ControlMsg is sent by a phone controller to drive a session
type ControlMsg struct {
	SID string `json:"sid"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// StateFrame is the binary (msgpack) state broadcast. Sprites are the
// engine's draw list in screen space.
type StateFrame struct {
	Tick      uint64      `msgpack:"tick"`
	Mode      string      `msgpack:"mode"`
	Sprites   []Sprite    `msgpack:"sprites"`
	Stats     Stats       `msgpack:"stats"`
	Remaining int         `msgpack:"remaining"`
	Message   string      `msgpack:"msg,omitempty"`
	Arcade    *ArcadeHUD  `msgpack:"arcade,omitempty"`
	Effects   []EffectHUD `msgpack:"effects,omitempty"`
	PlayerHP  int         `msgpack:"hp"`
}

// ArcadeHUD is the arcade overlay
type ArcadeHUD struct {
	Phase     string      `msgpack:"phase"`
	Countdown float64     `msgpack:"countdown"`
	TimeLeft  float64     `msgpack:"time_left"`
	Combo     int         `msgpack:"combo"`
	Stats     ArcadeStats `msgpack:"stats"`
	Awaiting  bool        `msgpack:"awaiting"`
}

// EffectHUD is one running power-up
type EffectHUD struct {
	Type      string  `msgpack:"type"`
	Remaining float64 `msgpack:"remaining"`
}

// frameBuilder collects the engine's draw calls for a StateFrame
type frameBuilder struct {
	sprites []Sprite
}

func (f *frameBuilder) Draw(s Sprite) {
	f.sprites = append(f.sprites, s)
}
