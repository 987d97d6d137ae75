package main

import "github.com/rs/zerolog/log"

// AchievementDef describes an unlockable badge
type AchievementDef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var Achievements = []AchievementDef{
	{"first_quarantine", "Patient Zero", "Quarantine your first identity"},
	{"combo_10", "Chain Reaction", "Reach a 10x combo in arcade mode"},
	{"arcade_50", "Arcade Ace", "Eliminate 50 zombies in one arcade session"},
	{"boss_slayer", "Boss Slayer", "Defeat a level boss"},
	{"exterminator", "Exterminator", "Quarantine 100 identities"},
}

// CheckAchievements unlocks whatever the player's totals now qualify for.
// arcadeElims and combo describe the session just settled (0 otherwise).
func CheckAchievements(db *DB, playerID int64, arcadeElims, combo int) []AchievementDef {
	if db == nil || playerID == 0 {
		return nil
	}
	progress, err := db.GetProgress(playerID)
	if err != nil || progress == nil {
		return nil
	}
	existing, err := db.GetAchievements(playerID)
	if err != nil {
		return nil
	}
	has := make(map[string]bool, len(existing))
	for _, a := range existing {
		has[a] = true
	}

	qualifies := func(id string) bool {
		switch id {
		case "first_quarantine":
			return progress.ZombiesQuarantined >= 1
		case "combo_10":
			return combo >= 10 || progress.BestCombo >= 10
		case "arcade_50":
			return arcadeElims >= 50
		case "boss_slayer":
			return progress.BossesDefeated >= 1
		case "exterminator":
			return progress.ZombiesQuarantined >= 100
		}
		return false
	}

	var unlocked []AchievementDef
	for _, def := range Achievements {
		if has[def.ID] || !qualifies(def.ID) {
			continue
		}
		newlyUnlocked, err := db.UnlockAchievement(playerID, def.ID)
		if err != nil {
			log.Warn().Err(err).Str("achievement", def.ID).Msg("unlock failed")
			continue
		}
		if newlyUnlocked {
			unlocked = append(unlocked, def)
		}
	}
	return unlocked
}
