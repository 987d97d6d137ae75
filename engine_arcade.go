package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

var (
	ErrArcadeUnavailable = errors.New("arcade mode unavailable")
	ErrNothingToSettle   = errors.New("no arcade session to settle")
)

// SettleChoice is the player's end-of-session decision
type SettleChoice string

const (
	SettleSubmit  SettleChoice = "submit"
	SettleRetry   SettleChoice = "retry"
	SettleDiscard SettleChoice = "discard"
)

// ParseSettleChoice validates a client-supplied choice
func ParseSettleChoice(s string) (SettleChoice, error) {
	switch c := SettleChoice(s); c {
	case SettleSubmit, SettleRetry, SettleDiscard:
		return c, nil
	}
	return "", fmt.Errorf("unknown settle choice %q", s)
}

// StartArcade overlays a timed arcade session on the current platformer level
func (e *Engine) StartArcade() error {
	if e.mode != ModePlaying || e.level == nil {
		return fmt.Errorf("%w: not in a level", ErrArcadeUnavailable)
	}
	if e.genre != nil {
		return fmt.Errorf("%w: %s levels have no arcade", ErrArcadeUnavailable, e.level.Genre)
	}
	if e.arcade.Phase() != ArcadeInactive || e.awaiting {
		return fmt.Errorf("%w: session already running", ErrArcadeUnavailable)
	}
	if e.ZombiesRemaining() == 0 {
		return fmt.Errorf("%w: no zombies left", ErrArcadeUnavailable)
	}
	e.arcade.StartSession()
	e.failed = nil
	log.Info().Str("account", e.level.AccountID).Msg("arcade session started")
	e.emit(Event{Kind: EventArcadeStarted, AccountID: e.level.AccountID})
	return nil
}

// updateArcade advances the arcade timers, respawns zombies while the
// level is short of them, and detects the end of the session. Respawned
// zombies join the grid on the next frame.
func (e *Engine) updateArcade(dt float64) {
	if e.arcade.Phase() == ArcadeEnded {
		return
	}
	e.arcade.Update(dt)

	if e.arcade.IsActive() && e.arcade.ShouldRespawnZombies(e.visibleZombies()) {
		for _, z := range e.arcade.ZombiesReadyToRespawn() {
			e.arcade.RespawnZombie(z, e.player.Position, e.level.Width, e.level.GroundY)
		}
	}

	if e.arcade.Phase() == ArcadeEnded {
		e.awaiting = true
		stats := e.arcade.Stats()
		log.Info().Str("account", e.level.AccountID).Int("eliminations", stats.TotalEliminations).
			Int("score", stats.Score).Msg("arcade session ended")
		e.emit(Event{Kind: EventArcadeEnded, AccountID: e.level.AccountID, Value: stats.TotalEliminations, Arcade: &stats})
	}
}

func (e *Engine) visibleZombies() int {
	n := 0
	for _, z := range e.zombies {
		if !z.IsHidden() {
			n++
		}
	}
	return n
}

// AwaitingSettlement is true between the end of an arcade session and the
// player's final choice
func (e *Engine) AwaitingSettlement() bool {
	return e.awaiting
}

// FailedRefs returns the identities the last submission could not quarantine
func (e *Engine) FailedRefs() []IdentityRef {
	return append([]IdentityRef(nil), e.failed...)
}

// SettleArcade carries out the player's choice for an ended session.
// Submit and Retry run a batch quarantine in the background; its outcome
// is applied by a later Update (or Settle).
func (e *Engine) SettleArcade(choice SettleChoice) error {
	if !e.awaiting {
		return ErrNothingToSettle
	}
	if e.settling {
		return errors.New("settlement already in progress")
	}

	switch choice {
	case SettleDiscard:
		e.restoreQueued()
		e.finishArcade(BatchReport{})
		return nil
	case SettleSubmit:
		refs := make([]IdentityRef, 0, len(e.arcade.Queue()))
		for _, z := range e.arcade.Queue() {
			if e.quarantined[z.IdentityID] {
				continue
			}
			ref := z.Ref()
			ref.RootScope = e.level.RootScope
			refs = append(refs, ref)
		}
		e.submit(refs)
		return nil
	case SettleRetry:
		if len(e.failed) == 0 {
			return errors.New("nothing to retry")
		}
		e.submit(e.failed)
		return nil
	}
	return fmt.Errorf("unknown settle choice %q", choice)
}

func (e *Engine) submit(refs []IdentityRef) {
	if len(refs) == 0 {
		e.finishArcade(BatchReport{})
		return
	}
	e.settling = true
	e.dispatch(serviceJob{op: "batch_quarantine", kind: KindZombie, account: e.level.AccountID, batch: refs})
}

// applySettlement confirms the identities that went through and restores
// the ones that did not. Failures stay available for Retry.
func (e *Engine) applySettlement(out serviceOutcome) {
	e.settling = false
	report := out.report

	failedIDs := make(map[string]bool, len(report.FailedRefs))
	for _, r := range report.FailedRefs {
		failedIDs[r.IdentityID] = true
	}
	var failed []IdentityRef
	successful := 0
	for _, ref := range out.job.batch {
		// an interrupted batch confirms nothing; Retry resubmits it all
		ok := out.err == nil && !failedIDs[ref.IdentityID]
		z := e.zombieByID[ref.IdentityID]
		if !ok {
			failed = append(failed, ref)
			if z != nil {
				z.Release()
			}
			continue
		}
		successful++
		if z != nil {
			z.ConfirmRemoval()
		}
		e.recordQuarantine(ref.IdentityID)
	}
	report.Successful = successful
	report.Failed = len(failed)
	report.FailedRefs = failed
	if out.err != nil {
		report.Errors = append(report.Errors, userMessage(out.err))
		log.Warn().Err(out.err).Str("account", out.job.account).Msg("batch quarantine interrupted")
	}

	if !e.awaiting {
		// session was abandoned while the batch ran
		return
	}
	e.failed = failed
	if len(failed) > 0 {
		e.showMessage(fmt.Sprintf("%d of %d quarantines failed", len(failed), len(out.job.batch)))
		log.Warn().Int("failed", len(failed)).Int("submitted", len(out.job.batch)).Msg("arcade settlement incomplete")
		stats := e.arcade.Stats()
		e.emit(Event{Kind: EventQuarantineFailed, AccountID: out.job.account, Value: len(failed), Arcade: &stats, Report: &report})
		return
	}
	e.finishArcade(report)
}

// restoreQueued makes every zombie the session held visible again
func (e *Engine) restoreQueued() {
	for _, z := range e.arcade.Queue() {
		if z.IsQuarantining() {
			z.Health = z.MaxHealth
			z.Release()
		}
	}
}

func (e *Engine) finishArcade(report BatchReport) {
	stats := e.arcade.Stats()
	account := e.CurrentLevel()
	e.awaiting = false
	e.failed = nil
	e.arcade.Clear()
	log.Info().Str("account", account).Int("quarantined", report.Successful).Msg("arcade session settled")
	e.emit(Event{Kind: EventArcadeSettled, AccountID: account, Value: report.Successful, Arcade: &stats, Report: &report})
}

// CancelArcade abandons the session without any service call and restores
// the zombies it held
func (e *Engine) CancelArcade() {
	if e.arcade.Phase() == ArcadeInactive && !e.awaiting {
		return
	}
	e.restoreQueued()
	e.arcade.CancelSession()
	e.awaiting = false
	e.failed = nil
}
