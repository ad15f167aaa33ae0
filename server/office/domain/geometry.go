package domain

import "math"

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Position) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

func (p Position) Distance(q Position) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Rect is anchored at its top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DefaultStage is the shared stage every position is clamped to.
var DefaultStage = Rect{X: 0, Y: 0, Width: 100, Height: 100}

func (r Rect) Center() Position {
	return Position{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

func (r Rect) Contains(p Position) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

func (r Rect) ContainsRect(o Rect) bool {
	return o.Width >= 0 && o.Height >= 0 && r.Contains(Position{X: o.X, Y: o.Y}) && r.Contains(Position{X: o.X + o.Width, Y: o.Y + o.Height})
}

func (r Rect) Clamp(p Position) Position {
	return Position{
		X: math.Min(math.Max(p.X, r.X), r.X+r.Width),
		Y: math.Min(math.Max(p.Y, r.Y), r.Y+r.Height),
	}
}
