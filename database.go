package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// PlayerRow represents a player record in the database
type PlayerRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// ProgressRow is a player's lifetime totals
type ProgressRow struct {
	PlayerID            int64
	ZombiesQuarantined  int
	ThirdPartiesBlocked int
	LevelsCompleted     int
	BossesDefeated      int
	BestCombo           int
	Playtime            float64 // seconds
}

// ArcadeResultRow is one settled arcade session
type ArcadeResultRow struct {
	PlayerID     int64
	AccountID    string
	Eliminations int
	Rate         float64
	HighestCombo int
	Powerups     int
	Score        int
	Quarantined  int
	CreatedAt    time.Time
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL lets the analytics writer and game sessions share the file
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection for /healthz
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS progress (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		zombies_quarantined INTEGER NOT NULL DEFAULT 0,
		third_parties_blocked INTEGER NOT NULL DEFAULT 0,
		levels_completed INTEGER NOT NULL DEFAULT 0,
		bosses_defeated INTEGER NOT NULL DEFAULT 0,
		best_combo INTEGER NOT NULL DEFAULT 0,
		playtime REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS saves (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		snapshot BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS arcade_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id INTEGER NOT NULL REFERENCES players(id),
		account_id TEXT NOT NULL,
		eliminations INTEGER NOT NULL DEFAULT 0,
		rate REAL NOT NULL DEFAULT 0,
		highest_combo INTEGER NOT NULL DEFAULT 0,
		powerups INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 0,
		quarantined INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS achievements (
		player_id INTEGER NOT NULL REFERENCES players(id),
		achievement_id TEXT NOT NULL,
		unlocked_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (player_id, achievement_id)
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		player_id INTEGER,
		session_id TEXT,
		data TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_arcade_score ON arcade_results(score DESC);
	CREATE INDEX IF NOT EXISTS idx_analytics_type ON analytics_events(event_type, created_at);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Error().Err(err).Msg("db migration failed")
	}
	return err
}

// CreatePlayer creates a new player account (returns player ID)
func (db *DB) CreatePlayer(username, passHash string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO players (username, pass_hash) VALUES (?, ?)",
		username, passHash,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	_, err = db.conn.Exec("INSERT INTO progress (player_id) VALUES (?)", id)
	return id, err
}

// GetPlayerByUsername returns a player by username, nil if absent
func (db *DB) GetPlayerByUsername(username string) (*PlayerRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM players WHERE username = ?",
		username,
	)
	p := &PlayerRow{}
	err := row.Scan(&p.ID, &p.Username, &p.PassHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM players WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// GetProgress returns a player's totals, nil if absent
func (db *DB) GetProgress(playerID int64) (*ProgressRow, error) {
	row := db.conn.QueryRow(`
		SELECT player_id, zombies_quarantined, third_parties_blocked, levels_completed,
			bosses_defeated, best_combo, playtime
		FROM progress WHERE player_id = ?`, playerID)
	p := &ProgressRow{}
	err := row.Scan(&p.PlayerID, &p.ZombiesQuarantined, &p.ThirdPartiesBlocked, &p.LevelsCompleted,
		&p.BossesDefeated, &p.BestCombo, &p.Playtime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// AddProgress increments a player's totals. bestCombo only ever raises the record.
func (db *DB) AddProgress(playerID int64, quarantined, blocked, levels, bosses, bestCombo int, playtime float64) error {
	_, err := db.conn.Exec(`
		UPDATE progress SET
			zombies_quarantined = zombies_quarantined + ?,
			third_parties_blocked = third_parties_blocked + ?,
			levels_completed = levels_completed + ?,
			bosses_defeated = bosses_defeated + ?,
			best_combo = MAX(best_combo, ?),
			playtime = playtime + ?
		WHERE player_id = ?`,
		quarantined, blocked, levels, bosses, bestCombo, playtime, playerID,
	)
	return err
}

// SaveSnapshot stores the player's encoded save, replacing the previous one
func (db *DB) SaveSnapshot(playerID int64, blob []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO saves (player_id, snapshot, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(player_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		playerID, blob,
	)
	return err
}

// LoadSnapshot returns the player's encoded save, nil if none
func (db *DB) LoadSnapshot(playerID int64) ([]byte, error) {
	var blob []byte
	err := db.conn.QueryRow("SELECT snapshot FROM saves WHERE player_id = ?", playerID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return blob, err
}

// RecordArcadeResult stores a settled arcade session
func (db *DB) RecordArcadeResult(r ArcadeResultRow) error {
	_, err := db.conn.Exec(`
		INSERT INTO arcade_results (player_id, account_id, eliminations, rate, highest_combo, powerups, score, quarantined)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PlayerID, r.AccountID, r.Eliminations, r.Rate, r.HighestCombo, r.Powerups, r.Score, r.Quarantined,
	)
	return err
}

// BestArcadeEliminations returns the player's best single-session elimination count
func (db *DB) BestArcadeEliminations(playerID int64) (int, error) {
	var best sql.NullInt64
	err := db.conn.QueryRow("SELECT MAX(eliminations) FROM arcade_results WHERE player_id = ?", playerID).Scan(&best)
	return int(best.Int64), err
}

// LeaderboardEntry represents one row in the arcade leaderboard
type LeaderboardEntry struct {
	Rank         int     `json:"rank"`
	Username     string  `json:"username"`
	Score        int     `json:"score"`
	Eliminations int     `json:"eliminations"`
	Rate         float64 `json:"rate"`
	HighestCombo int     `json:"combo"`
}

// GetLeaderboard returns each player's best arcade session, best first
func (db *DB) GetLeaderboard(orderBy string, limit int) ([]LeaderboardEntry, error) {
	// Whitelist valid order columns
	validCols := map[string]string{
		"score": "best_score", "eliminations": "best_elims", "rate": "best_rate", "combo": "best_combo",
	}
	col, ok := validCols[orderBy]
	if !ok {
		col = "best_score"
	}

	query := `SELECT p.username, MAX(a.score) AS best_score, MAX(a.eliminations) AS best_elims,
			MAX(a.rate) AS best_rate, MAX(a.highest_combo) AS best_combo
		FROM arcade_results a JOIN players p ON p.id = a.player_id
		GROUP BY a.player_id
		ORDER BY ` + col + ` DESC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Score, &e.Eliminations, &e.Rate, &e.HighestCombo); err != nil {
			return nil, err
		}
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, rows.Err()
}

// GetAchievements returns the achievement IDs a player has unlocked
func (db *DB) GetAchievements(playerID int64) ([]string, error) {
	rows, err := db.conn.Query("SELECT achievement_id FROM achievements WHERE player_id = ? ORDER BY unlocked_at", playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UnlockAchievement records an achievement; false if it was already unlocked
func (db *DB) UnlockAchievement(playerID int64, achievementID string) (bool, error) {
	res, err := db.conn.Exec(
		"INSERT OR IGNORE INTO achievements (player_id, achievement_id) VALUES (?, ?)",
		playerID, achievementID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetSetting returns a stored setting, empty if unset
func (db *DB) GetSetting(key string) string {
	var v string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Warn().Err(err).Str("key", key).Msg("read setting")
	}
	return v
}

// SetSetting stores a setting
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
