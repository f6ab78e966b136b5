package ggtext

// Point is a 2D point or extent in pixel space.
type Point struct {
	X, Y float32
}

// Add returns p translated by q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p translated by -q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Rect is an axis-aligned rectangle given by its top-left corner and
// its extent.
type Rect struct {
	Pos  Point
	Size Point
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float32 { return r.Pos.X + r.Size.X }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float32 { return r.Pos.Y + r.Size.Y }
