package main

import "context"

// resolveZombieHits applies this frame's projectile hits on zombies. A
// zombie reduced to 0 HP stays hidden while its removal is pending:
// quarantined through the identity service normally, queued when arcade
// is active. Zombies that survive a hit are released at once.
func (e *Engine) resolveZombieHits() {
	e.targets = e.targets[:0]
	for _, z := range e.zombies {
		e.targets = append(e.targets, z)
	}
	hits := e.zombieDetector.Detect(e.projectiles, e.targets, e.grid)
	for _, h := range hits {
		h.Projectile.Alive = false
		z := e.zombies[h.TargetIdx]
		if !z.TakeDamage(h.Projectile.Damage) {
			z.Release()
			continue
		}
		e.emit(Event{Kind: EventZombieEliminated, AccountID: z.Account, IdentityID: z.IdentityID, Name: z.IdentityName})
		if e.arcade.IsActive() {
			e.arcade.QueueElimination(z)
			e.arcade.QueueZombieForRespawn(z)
			continue
		}
		e.quarantine(z)
	}
}

func (e *Engine) quarantine(z *Zombie) {
	ref := z.Ref()
	ref.RootScope = e.level.RootScope
	e.dispatch(serviceJob{
		op:      "quarantine",
		kind:    KindZombie,
		id:      ref.IdentityID,
		name:    ref.IdentityName,
		account: ref.Account,
		call: func(ctx context.Context) (ServiceResult, error) {
			return e.identity.Quarantine(ctx, ref.IdentityID, ref.IdentityName, ref.Account, ref.Scope, ref.RootScope)
		},
	})
}

// resolveThirdPartyHits is the third-party variant: elimination blocks
// the vendor instead of quarantining
func (e *Engine) resolveThirdPartyHits() {
	if len(e.thirdParties) == 0 {
		return
	}
	e.targets = e.targets[:0]
	for _, t := range e.thirdParties {
		e.targets = append(e.targets, t)
	}
	hits := e.thirdDetector.Detect(e.projectiles, e.targets, e.grid)
	for _, h := range hits {
		h.Projectile.Alive = false
		t := e.thirdParties[h.TargetIdx]
		if !t.TakeDamage(h.Projectile.Damage) {
			t.Release()
			continue
		}
		id, name, account := t.ThirdPartyID, t.ThirdPartyName, e.level.AccountID
		e.dispatch(serviceJob{
			op:      "block",
			kind:    KindThirdParty,
			id:      id,
			name:    name,
			account: account,
			call: func(ctx context.Context) (ServiceResult, error) {
				return e.identity.BlockThirdParty(ctx, id, name)
			},
		})
	}
}

// camera returns the top-left of the viewport in world space
func (e *Engine) camera() Vector2 {
	if e.level == nil {
		return Vector2{}
	}
	x := e.player.Position.X + float64(e.player.Width)/2 - ViewportWidth/2
	maxX := e.level.Width - ViewportWidth
	if maxX < 0 {
		maxX = 0
	}
	return Vector2{X: Clamp(x, 0, maxX)}
}

// Render draws the visible world onto surface in screen space
func (e *Engine) Render(surface Surface) {
	if e.mode == ModeLobby {
		for _, d := range e.doors {
			label := "locked"
			switch {
			case d.Completed:
				label = "completed"
			case d.Unlocked:
				label = "open"
			}
			surface.Draw(Sprite{Kind: "door", ID: d.AccountID, X: d.Bounds.X, Y: d.Bounds.Y, W: d.Bounds.W, H: d.Bounds.H, Label: label, HP: d.LevelNumber})
		}
		e.drawBox(surface, "player", "", e.player.Bounds(), Vector2{}, false, e.player.HP, "")
		return
	}
	if e.level == nil {
		return
	}

	cam := e.camera()
	for _, pl := range e.level.Platforms {
		e.drawBox(surface, "platform", "", pl, cam, false, 0, "")
	}
	for _, w := range e.level.Walls {
		e.drawBox(surface, "wall", "", w, cam, false, 0, "")
	}
	if e.mode != ModeBossBattle {
		for _, z := range e.zombies {
			if !z.IsHidden() {
				e.drawBox(surface, "zombie", z.IdentityID, z.Bounds(), cam, z.Flash > 0, z.Health, z.IdentityName)
			}
		}
		for _, t := range e.thirdParties {
			if !t.IsHidden() {
				e.drawBox(surface, "third_party", t.ThirdPartyID, t.Bounds(), cam, t.Flash > 0, t.Health, t.ThirdPartyName)
			}
		}
	}
	for _, pu := range e.powerUps {
		if pu.Collected {
			continue
		}
		b := pu.Bounds()
		b.Y += pu.BounceOffset()
		e.drawBox(surface, "powerup", pu.ID, b, cam, false, 0, pu.Type.String())
	}
	for _, p := range e.projectiles {
		e.drawBox(surface, "projectile", p.ID, p.Bounds(), cam, false, 0, "")
	}
	if e.boss != nil {
		e.drawBox(surface, "boss", "", e.boss.Bounds(), cam, e.boss.Flash > 0, e.boss.Health, "")
	}
	e.drawBox(surface, "player", "", e.player.Bounds(), cam, e.player.HurtCD > 0, e.player.HP, "")
	if e.genre != nil {
		e.genre.Render(surface, cam)
	}
}

func (e *Engine) drawBox(surface Surface, kind, id string, b Rect, cam Vector2, flash bool, hp int, label string) {
	surface.Draw(Sprite{
		Kind:  kind,
		ID:    id,
		X:     b.X - cam.X,
		Y:     b.Y - cam.Y,
		W:     b.W,
		H:     b.H,
		Flash: flash,
		HP:    hp,
		Label: label,
	})
}
