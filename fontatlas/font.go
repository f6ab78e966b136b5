package fontatlas

import (
	"bytes"
	"fmt"

	"github.com/go-text/typesetting/font"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/ggtext"
)

// Face is a parsed font scaled to a pixel size. It provides the raw
// glyph measurements an Atlas turns into placed metrics.
//
// Face is not safe for concurrent use; the underlying font.Font is,
// but the go-text face it wraps is not.
type Face struct {
	font  *font.Font
	face  *font.Face
	size  float32
	scale float32
}

// ParseTTF parses TTF/OTF font data at the given pixel size.
func ParseTTF(data []byte, sizePx float32) (*Face, error) {
	if sizePx <= 0 {
		return nil, fmt.Errorf("fontatlas: invalid font size %g", sizePx)
	}
	face, err := font.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("fontatlas: parse font: %w", err)
	}
	return &Face{
		font:  face.Font,
		face:  face,
		size:  sizePx,
		scale: sizePx / float32(face.Font.Upem()),
	}, nil
}

// Size returns the pixel size the face is scaled to.
func (f *Face) Size() float32 { return f.size }

// measure computes unplaced metrics for r: quad corners relative to
// the pen position (y down, baseline at y=0) and the quantized
// advance. UVs are filled in by the atlas during a bake. Runes the
// font has no glyph for come back zero.
func (f *Face) measure(r rune) ggtext.GlyphMetrics {
	gid, ok := f.face.NominalGlyph(r)
	if !ok {
		return ggtext.GlyphMetrics{}
	}

	var m ggtext.GlyphMetrics
	m.Advance = quantizeAdvance(f.face.HorizontalAdvance(gid) * f.scale)

	// Extents use font conventions: y up, height extending downward
	// from the top bearing as a negative value. Whitespace has no
	// extents and keeps the zero quad.
	ext, ok := f.face.GlyphExtents(gid)
	if !ok {
		return m
	}
	m.X0 = ext.XBearing * f.scale
	m.Y0 = -ext.YBearing * f.scale
	m.X1 = m.X0 + ext.Width*f.scale
	m.Y1 = m.Y0 - ext.Height*f.scale
	return m
}

// quantizeAdvance snaps an advance to 1/64 pixel so repeated layout of
// the same text is bit-stable.
func quantizeAdvance(adv float32) float32 {
	q := fixed.Int26_6(adv*64 + 0.5)
	return float32(q) / 64
}

// Font is a mutable pairing of text objects with an atlas. It exists
// so callers can repoint text at a different atlas: the swap takes
// effect on the next geometry rebuild, which re-registers the text
// and forces command re-recording.
type Font struct {
	atlas *Atlas
}

// NewFont returns a Font backed by the given atlas.
func NewFont(atlas *Atlas) *Font { return &Font{atlas: atlas} }

// Atlas returns the current atlas as a glyph source.
func (f *Font) Atlas() ggtext.GlyphSource { return f.atlas }

// SetAtlas repoints the font at a different atlas. Text objects pick
// the change up on their next rebuild.
func (f *Font) SetAtlas(atlas *Atlas) { f.atlas = atlas }

var _ ggtext.Font = (*Font)(nil)
