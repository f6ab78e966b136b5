package ggtext

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"
	"golang.org/x/text/unicode/norm"
)

// Six vertices per character form one quad inside the shared
// degenerate triangle strip. Emission order within a group:
//
//	0: top-left     (doubled)
//	1: top-left
//	2: bottom-left
//	3: top-right
//	4: bottom-right
//	5: bottom-right (doubled)
//
// The doubled first and last vertices produce zero-area triangles
// between characters, so all quads draw as one strip. Queries read the
// group corners by index: 0 is the top-left corner, 4 the
// bottom-right.
const (
	vertsPerChar         = 6
	vertIndexTopLeft     = 0
	vertIndexBottomRight = 4
)

// Text is a run of characters rendered as GPU geometry. It owns two
// device buffers mirroring its CPU caches and stays registered with
// the glyph atlas of its font so atlas rebakes rebuild it.
//
// Mutations (SetText, SetFont, SetPosition, ...) only record intent;
// the work happens in the owning Context's UpdateFrame. Queries answer
// from the last built geometry.
type Text struct {
	ctx *Context

	chars    []rune
	font     Font
	position Point
	visible  bool

	// deviceLocal selects staged uploads into device memory over
	// host-visible buffers. Toggling drops both buffers because the
	// usage flags differ.
	deviceLocal bool

	posCache []Point
	uvCache  []Point
	posBuf   deviceBuffer
	uvBuf    deviceBuffer

	binding atlasBinding

	// rebaking guards the coverage check against a glyph source that
	// keeps reporting missing coverage after its own rebake.
	rebaking bool
}

// NewText creates a visible text object at the given position. The
// string is normalized to NFC before layout, so combining sequences
// resolve to the precomposed glyphs fonts carry. Geometry and device
// buffers are built before returning.
func NewText(ctx *Context, text string, font Font, pos Point) (*Text, error) {
	return NewTextRunes(ctx, []rune(norm.NFC.String(text)), font, pos)
}

// NewTextRunes is NewText for pre-normalized or pre-shaped runes.
func NewTextRunes(ctx *Context, chars []rune, font Font, pos Point) (*Text, error) {
	if ctx == nil {
		return nil, ErrNilDevice
	}
	if font == nil {
		return nil, ErrNoFont
	}
	t := &Text{
		ctx:      ctx,
		chars:    chars,
		font:     font,
		position: pos,
		visible:  true,
	}
	t.posBuf.label = "text_positions"
	t.uvBuf.label = "text_uvs"
	t.binding.bind(font.Atlas(), t)

	t.RebuildGeometry()
	if _, err := t.SyncDevice(); err != nil {
		t.Destroy()
		return nil, err
	}
	// The rebuild queued a sync that just ran; drop the stale entry.
	// Cascade registrations for other texts stay queued.
	ctx.unregister(t)
	return t, nil
}

// Destroy unregisters from the atlas, cancels pending work and
// releases the device buffers. Safe to call repeatedly.
func (t *Text) Destroy() {
	t.binding.unbind()
	if t.ctx != nil {
		t.ctx.unregister(t)
		t.posBuf.destroy(t.ctx.device)
		t.uvBuf.destroy(t.ctx.device)
	}
	t.posCache = nil
	t.uvCache = nil
}

// ---- Mutations ----

// SetText replaces the characters. The string is NFC-normalized; a
// geometry rebuild is scheduled.
func (t *Text) SetText(text string) {
	t.SetRunes([]rune(norm.NFC.String(text)))
}

// SetRunes replaces the characters without normalization.
func (t *Text) SetRunes(chars []rune) {
	t.chars = chars
	t.ctx.registerUpdate(t)
}

// SetFont replaces the font. If the new font lives on a different
// atlas the rebuild re-registers there and forces re-recording.
func (t *Text) SetFont(font Font) {
	if font == nil {
		return
	}
	t.font = font
	t.ctx.registerUpdate(t)
}

// SetPosition moves the text. Layout is absolute, so this schedules a
// geometry rebuild.
func (t *Text) SetPosition(pos Point) {
	t.position = pos
	t.ctx.registerUpdate(t)
}

// SetVisible toggles drawing without touching geometry. Only the
// indirect descriptor's vertex count changes, so a device sync
// suffices and recorded command buffers stay valid. Returns the
// previous value.
func (t *Text) SetVisible(visible bool) bool {
	prev := t.visible
	if prev != visible {
		t.visible = visible
		t.ctx.registerSync(t)
	}
	return prev
}

// SetResidency switches between host-visible and device-local
// buffers. The buffers are reallocated with different usage flags, so
// command buffers must be re-recorded.
func (t *Text) SetResidency(deviceLocal bool) {
	if t.deviceLocal == deviceLocal {
		return
	}
	t.deviceLocal = deviceLocal
	t.posBuf.destroy(t.ctx.device)
	t.uvBuf.destroy(t.ctx.device)
	t.ctx.registerSync(t)
	t.ctx.Rerecord()
}

// ---- State accessors ----

// Runes returns the current characters. The slice is owned by the
// text object.
func (t *Text) Runes() []rune { return t.chars }

// Font returns the current font.
func (t *Text) Font() Font { return t.font }

// Position returns the layout origin.
func (t *Text) Position() Point { return t.position }

// Visible reports whether the text draws.
func (t *Text) Visible() bool { return t.visible }

// DeviceLocal reports the buffer residency.
func (t *Text) DeviceLocal() bool { return t.deviceLocal }

// ---- Rebuild protocol ----

// RebuildGeometry lays the characters out against the font's atlas
// and refills the CPU caches. It implements Dependent, so atlas
// rebakes call it on every registered text.
//
// When the atlas lacks coverage for the current characters the
// rebuild triggers a rebake instead; the rebake's dependent cascade
// re-enters this method with coverage in place and completes the
// rebuild, after which the outer call returns without doing more
// work.
func (t *Text) RebuildGeometry() {
	if t.font == nil {
		slogger().Warn("ggtext: rebuild without font")
		return
	}

	// The font may have been pointed at a different atlas since the
	// last rebuild. Re-register and force re-recording: previously
	// recorded draws reference the old atlas bind group.
	atlas := t.font.Atlas()
	if t.binding.atlas != atlas {
		t.binding.bind(atlas, t)
		t.ctx.Rerecord()
	}

	if atlas.EnsureCoverage(t.chars) {
		if t.rebaking {
			// The source failed to extend coverage during its own
			// rebake. Lay out with zero metrics rather than recurse.
			slogger().Warn("ggtext: atlas coverage missing after rebake")
		} else {
			t.rebaking = true
			atlas.Rebake()
			t.rebaking = false
			return
		}
	}

	need := vertsPerChar * len(t.chars)
	if cap(t.posCache) < need {
		t.posCache = make([]Point, 0, need)
		t.uvCache = make([]Point, 0, need)
	} else {
		t.posCache = t.posCache[:0]
		t.uvCache = t.uvCache[:0]
	}

	pen := t.position
	for _, r := range t.chars {
		g := atlas.Metrics(r)
		t.posCache = appendQuad(t.posCache,
			pen.X+g.X0, pen.Y+g.Y0, pen.X+g.X1, pen.Y+g.Y1)
		t.uvCache = appendQuad(t.uvCache, g.U0, g.V0, g.U1, g.V1)
		pen.X += g.Advance
	}

	t.ctx.registerSync(t)
}

// appendQuad emits one six-vertex strip group for the rectangle
// (x0,y0)-(x1,y1), in the documented emission order.
func appendQuad(cache []Point, x0, y0, x1, y1 float32) []Point {
	return append(cache,
		Point{x0, y0}, // top-left, doubled
		Point{x0, y0},
		Point{x0, y1}, // bottom-left
		Point{x1, y0}, // top-right
		Point{x1, y1}, // bottom-right
		Point{x1, y1}, // bottom-right, doubled
	)
}

// SyncDevice mirrors the CPU caches into the device buffers, growing
// them as needed. It returns true when a buffer was reallocated and
// command buffers referencing it must be re-recorded.
//
// The position buffer starts with the 16-byte indirect draw
// descriptor. Hidden texts upload a zero vertex count, which draws
// nothing without invalidating recorded commands.
func (t *Text) SyncDevice() (bool, error) {
	device, queue := t.ctx.device, t.ctx.queue

	posNeeded := uint64(indirectArgsSize + len(t.posCache)*8)
	posRealloc, err := t.posBuf.ensure(device, posNeeded, t.deviceLocal)
	if err != nil {
		return false, err
	}
	uvRealloc, err := t.uvBuf.ensure(device, uint64(len(t.uvCache)*8), t.deviceLocal)
	if err != nil {
		return false, err
	}

	args := t.indirectArgs()
	if err := t.posBuf.upload(device, queue, t.deviceLocal, buildPositionData(args, t.posCache)); err != nil {
		return false, err
	}
	if err := t.uvBuf.upload(device, queue, t.deviceLocal, buildUVData(args, t.uvCache)); err != nil {
		return false, err
	}

	return posRealloc || uvRealloc, nil
}

// indirectArgs returns the draw descriptor for the current state.
func (t *Text) indirectArgs() DrawIndirectArgs {
	args := DrawIndirectArgs{InstanceCount: 1}
	if t.visible {
		args.VertexCount = uint32(len(t.posCache))
	}
	return args
}

// RecordDraw records this text into a render pass. The pass target
// must match the pipeline's configured format and the pipeline's
// viewport must be current. Draw parameters come from the indirect
// descriptor, so a recorded pass stays valid across visibility
// toggles and same-capacity geometry changes.
func (t *Text) RecordDraw(rp hal.RenderPassEncoder) error {
	if t.font == nil || !t.binding.bound() {
		return ErrNoFont
	}
	if t.posBuf.buf == nil {
		return fmt.Errorf("ggtext: record before device sync")
	}

	pipe := t.ctx.pipeline
	bg, err := pipe.bindGroupFor(t.binding.atlas.ImageDescriptor())
	if err != nil {
		return err
	}

	rp.SetPipeline(pipe.pipeline)
	rp.SetBindGroup(0, bg, nil)
	rp.SetVertexBuffer(0, t.posBuf.buf, indirectArgsSize)
	rp.SetVertexBuffer(1, t.uvBuf.buf, 0)
	// The color slot reads the position buffer; the text paint kind
	// never samples the attribute.
	rp.SetVertexBuffer(2, t.posBuf.buf, indirectArgsSize)
	rp.DrawIndirect(t.posBuf.buf, 0)
	return nil
}

// ---- Queries ----

// CharAt returns the index of the character covering the given x
// offset, relative to the text position. Offsets right of the last
// character map to len(Runes()). Assumes left-to-right layout with
// non-negative advances.
func (t *Text) CharAt(x float32) int {
	x += t.position.X
	for i := 0; i+vertsPerChar <= len(t.posCache); i += vertsPerChar {
		if x < t.posCache[i+vertIndexBottomRight].X {
			return i / vertsPerChar
		}
	}
	return len(t.posCache) / vertsPerChar
}

// BoundsOf returns the bounds of the i-th character relative to the
// text position. The width is the pen advance, not the inked extent,
// so adjacent bounds tile without gaps; the height is the inked
// height. Requires built geometry.
func (t *Text) BoundsOf(i int) (Rect, error) {
	if t.font == nil {
		return Rect{}, ErrNoFont
	}
	if i < 0 || i >= len(t.chars) || (i+1)*vertsPerChar > len(t.posCache) {
		return Rect{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(t.chars))
	}
	start := t.posCache[i*vertsPerChar+vertIndexTopLeft]
	end := t.posCache[i*vertsPerChar+vertIndexBottomRight]
	advance := t.binding.atlas.Metrics(t.chars[i]).Advance
	return Rect{
		Pos:  start.Sub(t.position),
		Size: Point{advance, end.Y - start.Y},
	}, nil
}

// Width returns the horizontal extent from the first character's
// origin to the end of the last character's advance. Zero for empty
// text.
func (t *Text) Width() float32 {
	if len(t.chars) == 0 {
		return 0
	}
	first, err := t.BoundsOf(0)
	if err != nil {
		return 0
	}
	last, err := t.BoundsOf(len(t.chars) - 1)
	if err != nil {
		return 0
	}
	return last.Pos.X + last.Size.X - first.Pos.X
}
