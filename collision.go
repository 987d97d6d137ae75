package main

// Collision pairs a projectile with the target it hit this frame
type Collision struct {
	ProjectileIdx int
	TargetIdx     int
	Projectile    *Projectile
	Target        Target
}

// CollisionDetector resolves projectile-vs-target hits using a SpatialGrid
// broad phase and an AABB narrow phase. It never touches health and never
// calls out; the caller applies the results.
type CollisionDetector struct {
	kind EntityKind
	buf  []EntityRef
}

// NewCollisionDetector creates a detector whose grid refs carry kind
func NewCollisionDetector(kind EntityKind) *CollisionDetector {
	return &CollisionDetector{kind: kind, buf: make([]EntityRef, 0, 32)}
}

// Detect rebuilds grid from the non-quarantining targets and matches each
// live projectile, in order, with the first overlapping candidate. A matched
// target is marked quarantining so nothing else can claim it this frame.
func (d *CollisionDetector) Detect(projectiles []*Projectile, targets []Target, grid *SpatialGrid) []Collision {
	if len(projectiles) == 0 || len(targets) == 0 {
		return nil
	}

	grid.Clear()
	for i, t := range targets {
		if t.IsHidden() {
			continue // quarantining or removed: out of the broad phase entirely
		}
		grid.Insert(EntityRef{Kind: d.kind, Idx: i}, t.Bounds())
	}

	var hits []Collision
	for pi, p := range projectiles {
		if !p.Alive {
			continue
		}
		pb := p.Bounds()
		d.buf = grid.QueryNearbyBuf(pb, d.buf[:0])
		for _, ref := range d.buf {
			if !invariant(ref.Kind == d.kind && ref.Idx >= 0 && ref.Idx < len(targets), "grid ref outside target list") {
				continue
			}
			t := targets[ref.Idx]
			if t.IsQuarantining() {
				continue
			}
			if !pb.Intersects(t.Bounds()) {
				continue
			}
			t.MarkQuarantining()
			hits = append(hits, Collision{
				ProjectileIdx: pi,
				TargetIdx:     ref.Idx,
				Projectile:    p,
				Target:        t,
			})
			break // one target per projectile per frame
		}
	}
	return hits
}
