package main

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

const snapshotVersion = 1

// Snapshot is the saveable part of an engine's progress
type Snapshot struct {
	Version                int      `msgpack:"v"`
	Score                  int      `msgpack:"score"`
	EliminationsCount      int      `msgpack:"eliminations"`
	ZombiesQuarantined     int      `msgpack:"quarantined_count"`
	ThirdPartiesBlocked    int      `msgpack:"blocked_count"`
	QuarantinedIdentityIDs []string `msgpack:"quarantined"`
	BlockedThirdPartyNames []string `msgpack:"blocked"`
	CompletedLevels        []string `msgpack:"completed"`
	CurrentLevelAccountID  string   `msgpack:"current"`
	PlayTime               float64  `msgpack:"play_time"`
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, ok := range m {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// ExportSnapshot captures the engine's progress
func (e *Engine) ExportSnapshot() Snapshot {
	return Snapshot{
		Version:                snapshotVersion,
		Score:                  e.stats.Score,
		EliminationsCount:      e.stats.EliminationsCount,
		ZombiesQuarantined:     e.stats.ZombiesQuarantined,
		ThirdPartiesBlocked:    e.stats.ThirdPartiesBlocked,
		QuarantinedIdentityIDs: sortedKeys(e.quarantined),
		BlockedThirdPartyNames: sortedKeys(e.blocked),
		CompletedLevels:        sortedKeys(e.completed),
		CurrentLevelAccountID:  e.CurrentLevel(),
		PlayTime:               e.stats.PlayTime,
	}
}

// ImportSnapshot restores saved progress and returns the player to the
// lobby. Quarantined identities never reappear in later levels.
func (e *Engine) ImportSnapshot(s Snapshot) {
	if e.mode != ModeLobby {
		e.ReturnToLobby()
	}
	e.quarantined = make(map[string]bool, len(s.QuarantinedIdentityIDs))
	for _, id := range s.QuarantinedIdentityIDs {
		e.quarantined[id] = true
	}
	e.blocked = make(map[string]bool, len(s.BlockedThirdPartyNames))
	for _, n := range s.BlockedThirdPartyNames {
		e.blocked[n] = true
	}
	e.completed = make(map[string]bool, len(s.CompletedLevels))
	for _, id := range s.CompletedLevels {
		e.completed[id] = true
	}
	e.doors = e.levels.Doors()
	e.applyCompletions()

	e.stats = Stats{
		Score:               s.Score,
		EliminationsCount:   s.EliminationsCount,
		ZombiesQuarantined:  s.ZombiesQuarantined,
		ThirdPartiesBlocked: s.ThirdPartiesBlocked,
		PlayTime:            s.PlayTime,
	}
	if e.stats.ZombiesQuarantined == 0 {
		e.stats.ZombiesQuarantined = len(e.quarantined)
	}
	if s.CurrentLevelAccountID != "" {
		if idx := e.doorIndex(s.CurrentLevelAccountID); idx >= 0 {
			e.showMessage(fmt.Sprintf("Welcome back! You were on level %d", e.doors[idx].LevelNumber))
		}
	}
}

// EncodeSnapshot serialises a snapshot for storage
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return msgpack.Marshal(&s)
}

// DecodeSnapshot reverses EncodeSnapshot
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version > snapshotVersion {
		return Snapshot{}, fmt.Errorf("snapshot version %d is newer than %d", s.Version, snapshotVersion)
	}
	return s, nil
}
