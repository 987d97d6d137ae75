package main

// Vector2 is a 2D point or direction in world pixels
type Vector2 struct {
	X float64 `msgpack:"x" yaml:"x"`
	Y float64 `msgpack:"y" yaml:"y"`
}

// Add returns v+o
func (v Vector2) Add(o Vector2) Vector2 {
	return Vector2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns v-o
func (v Vector2) Sub(o Vector2) Vector2 {
	return Vector2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Scale returns v*s
func (v Vector2) Scale(s float64) Vector2 {
	return Vector2{X: v.X * s, Y: v.Y * s}
}

// Rect is an axis-aligned bounding box. X/Y is the top-left corner.
type Rect struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	W float64 `yaml:"w"`
	H float64 `yaml:"h"`
}

// RectAt builds a box from a top-left position and integer size
func RectAt(pos Vector2, w, h int) Rect {
	return Rect{X: pos.X, Y: pos.Y, W: float64(w), H: float64(h)}
}

func (r Rect) Left() float64   { return r.X }
func (r Rect) Right() float64  { return r.X + r.W }
func (r Rect) Top() float64    { return r.Y }
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Center returns the midpoint of the box
func (r Rect) Center() Vector2 {
	return Vector2{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Intersects reports a non-degenerate overlap. Boxes that only share an
// edge do not intersect.
func (r Rect) Intersects(o Rect) bool {
	return r.Left() < o.Right() &&
		o.Left() < r.Right() &&
		r.Top() < o.Bottom() &&
		o.Top() < r.Bottom()
}

// Contains reports whether the point lies inside the box (right/bottom edge exclusive)
func (r Rect) Contains(p Vector2) bool {
	return p.X >= r.Left() && p.X < r.Right() && p.Y >= r.Top() && p.Y < r.Bottom()
}
