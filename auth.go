package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	jwtExpiry        = 7 * 24 * time.Hour
	bcryptCost       = 12
	minPasswordLen   = 6
	minUsernameLen   = 2
	maxUsernameLen   = 16
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
	jwtSecretSetting = "jwt_secret"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrBadCredentials   = errors.New("invalid username or password")
	ErrRateLimited      = errors.New("too many login attempts, try again later")
)

// playerClaims is the token payload; the subject holds the player ID
type playerClaims struct {
	Username string `json:"usr"`
	jwt.RegisteredClaims
}

// Auth handles player accounts and session tokens
type Auth struct {
	db        *DB
	jwtSecret []byte
	cost      int

	// login attempts per IP
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates an Auth backed by db
func NewAuth(db *DB) *Auth {
	return &Auth{
		db:        db,
		jwtSecret: loadOrCreateSecret(db),
		cost:      bcryptCost,
		rateMap:   make(map[string]*rateEntry),
	}
}

// loadOrCreateSecret loads the JWT secret from settings, or generates and
// persists a new one
func loadOrCreateSecret(db *DB) []byte {
	if h := db.GetSetting(jwtSecretSetting); h != "" {
		if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
			return b
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if err := db.SetSetting(jwtSecretSetting, hex.EncodeToString(secret)); err != nil {
		log.Warn().Err(err).Msg("could not persist JWT secret, tokens will not survive a restart")
	}
	return secret
}

// Register creates an account and returns its ID and a token
func (a *Auth) Register(username, password string) (int64, string, error) {
	username = strings.TrimSpace(username)
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return 0, "", fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return 0, "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	exists, err := a.db.UsernameExists(username)
	if err != nil {
		log.Error().Err(err).Msg("register: lookup")
		return 0, "", errors.New("database error")
	}
	if exists {
		return 0, "", errors.New("username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return 0, "", errors.New("internal error")
	}
	id, err := a.db.CreatePlayer(username, string(hash))
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("register: create")
		return 0, "", errors.New("failed to create account")
	}
	token, err := a.generateToken(id, username)
	if err != nil {
		return 0, "", errors.New("internal error")
	}
	log.Info().Int64("player", id).Str("username", username).Msg("account registered")
	return id, token, nil
}

// Login checks credentials and returns the player ID and a fresh token
func (a *Auth) Login(username, password, ip string) (int64, string, error) {
	if !a.checkRate(ip) {
		return 0, "", ErrRateLimited
	}
	player, err := a.db.GetPlayerByUsername(strings.TrimSpace(username))
	if err != nil {
		log.Error().Err(err).Msg("login: lookup")
		return 0, "", errors.New("database error")
	}
	if player == nil || player.PassHash == "" {
		return 0, "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(player.PassHash), []byte(password)); err != nil {
		return 0, "", ErrBadCredentials
	}
	token, err := a.generateToken(player.ID, player.Username)
	if err != nil {
		return 0, "", errors.New("internal error")
	}
	return player.ID, token, nil
}

// ValidateToken returns the player ID and username a token was issued for
func (a *Auth) ValidateToken(tokenStr string) (int64, string, error) {
	var claims playerClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || claims.Username == "" {
		return 0, "", fmt.Errorf("%w: invalid token claims", ErrNotAuthenticated)
	}
	return id, claims.Username, nil
}

func (a *Auth) generateToken(playerID int64, username string) (string, error) {
	now := time.Now()
	claims := playerClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(playerID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtExpiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}
