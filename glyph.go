package ggtext

import "github.com/gogpu/wgpu/hal"

// GlyphMetrics describes one glyph as placed by a glyph atlas: the
// quad corners relative to the pen position, the UV rectangle inside
// the atlas texture, and the pen advance. All values are in pixels
// except UVs, which are normalized [0,1] atlas coordinates.
//
// Zero metrics (an uncovered or whitespace glyph) produce a degenerate
// quad and are safe to lay out.
type GlyphMetrics struct {
	X0, Y0, X1, Y1 float32
	U0, V0, U1, V1 float32
	Advance        float32
}

// Empty reports whether the glyph has no visible extent.
func (g GlyphMetrics) Empty() bool {
	return g.X0 == g.X1 || g.Y0 == g.Y1
}

// DependentHandle identifies a registered Dependent inside a
// GlyphSource. Handles are assigned by the source and stay valid until
// Unregister; they are never derived from object addresses.
type DependentHandle uint64

// Dependent is implemented by objects whose geometry caches reference
// atlas UVs. When the atlas rebakes (glyphs move, texture grows) it
// calls RebuildGeometry on every registered dependent so stale UVs
// never survive a bake.
type Dependent interface {
	RebuildGeometry()
}

// GlyphSource is the atlas collaborator a Text object lays out
// against. The fontatlas package provides the canonical
// implementation; tests substitute fakes.
//
// The contract mirrors the rebuild protocol: EnsureCoverage reports
// whether the requested runes require a bake, and Rebake both updates
// the texture and re-runs RebuildGeometry on all dependents.
type GlyphSource interface {
	// EnsureCoverage records the given runes as required. It returns
	// true when coverage changed and a Rebake must run before Metrics
	// returns valid data for them.
	EnsureCoverage(text []rune) bool

	// Rebake repacks and re-uploads the atlas, then rebuilds every
	// registered dependent. Idempotent when coverage is already baked.
	Rebake()

	// Metrics returns the placed metrics for r. Runes outside the
	// baked coverage yield zero metrics.
	Metrics(r rune) GlyphMetrics

	// Register adds a dependent to the rebake cascade and returns its
	// stable handle.
	Register(d Dependent) DependentHandle

	// Unregister removes a previously registered dependent. Unknown
	// handles are ignored.
	Unregister(h DependentHandle)

	// Relocate points an existing handle at a new dependent, for
	// callers that hand a text object's identity over to a wrapper.
	Relocate(h DependentHandle, d Dependent)

	// ImageDescriptor returns the texture view sampling the atlas.
	// The view changes identity across rebakes that grow the texture.
	ImageDescriptor() hal.TextureView
}

// Font ties glyph metrics at a fixed pixel size to the atlas that
// stores their images. Text objects resolve the atlas through the font
// on every rebuild, so swapping the font's atlas out from under a text
// is detected and handled.
type Font interface {
	Atlas() GlyphSource
}
