// Package fontatlas provides a glyph atlas backed by
// go-text/typesetting font metrics and a single-channel GPU texture.
// It implements ggtext.GlyphSource: texts register as dependents and
// are rebuilt whenever a bake moves glyphs or grows the texture.
package fontatlas

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/ggtext"
)

// Default atlas settings.
const (
	// DefaultSize is the initial atlas dimension.
	DefaultSize = 512

	// DefaultMaxSize caps atlas growth.
	DefaultMaxSize = 4096

	// DefaultPadding is the pixel gap between glyph cells, keeping
	// linear sampling from bleeding across neighbors.
	DefaultPadding = 1
)

// Rasterizer renders a glyph mask into a cell. The returned slice
// holds w*h coverage bytes, row-major. A nil Rasterizer leaves cells
// blank; metrics and UVs stay correct, which is enough for layout,
// hit testing and tests.
type Rasterizer interface {
	Rasterize(face *Face, r rune, w, h int) []byte
}

// Config holds atlas configuration. Zero fields take defaults.
type Config struct {
	// Size is the initial texture dimension in pixels.
	Size int

	// MaxSize caps texture growth. Baking glyphs beyond this capacity
	// leaves the overflow unplaced (zero UVs) rather than failing.
	MaxSize int

	// Padding is the gap between glyph cells in pixels.
	Padding int

	// Rasterizer fills glyph cells. Optional.
	Rasterizer Rasterizer

	// Rerecord is called when a bake replaces the atlas texture, so
	// the host can invalidate command buffers referencing the old
	// view. Optional; wire it to Context.Rerecord.
	Rerecord func()
}

// DefaultConfig returns the default atlas configuration.
func DefaultConfig() Config {
	return Config{
		Size:    DefaultSize,
		MaxSize: DefaultMaxSize,
		Padding: DefaultPadding,
	}
}

// Atlas is a glyph atlas over one face at one pixel size. Coverage
// grows lazily: EnsureCoverage collects runes, Rebake measures, packs
// and uploads them, then rebuilds every registered dependent.
//
// Atlas follows the cooperative single-goroutine model of the text
// objects using it: Rebake re-enters dependents, which re-enter the
// atlas, so internal locking would deadlock rather than help.
type Atlas struct {
	device hal.Device
	queue  hal.Queue
	face   *Face
	config Config

	size    int
	glyphs  map[rune]ggtext.GlyphMetrics
	pending map[rune]struct{}
	regions map[rune]region

	texture hal.Texture
	view    hal.TextureView
	texDim  int

	deps       map[ggtext.DependentHandle]ggtext.Dependent
	depOrder   []ggtext.DependentHandle
	nextHandle ggtext.DependentHandle

	baked bool
}

// New creates an empty atlas for the given face. No texture exists
// until the first Rebake.
func New(device hal.Device, queue hal.Queue, face *Face, config Config) (*Atlas, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("fontatlas: nil device or queue")
	}
	if face == nil {
		return nil, fmt.Errorf("fontatlas: nil face")
	}
	if config.Size <= 0 {
		config.Size = DefaultSize
	}
	if config.MaxSize < config.Size {
		config.MaxSize = DefaultMaxSize
	}
	if config.Padding < 0 {
		config.Padding = DefaultPadding
	}
	return &Atlas{
		device:  device,
		queue:   queue,
		face:    face,
		config:  config,
		size:    config.Size,
		glyphs:  make(map[rune]ggtext.GlyphMetrics),
		pending: make(map[rune]struct{}),
		regions: make(map[rune]region),
		deps:    make(map[ggtext.DependentHandle]ggtext.Dependent),
	}, nil
}

// Destroy releases the texture. Registered dependents stay registered;
// the atlas must not be used afterwards.
func (a *Atlas) Destroy() {
	if a.view != nil {
		a.device.DestroyTextureView(a.view)
		a.view = nil
	}
	if a.texture != nil {
		a.device.DestroyTexture(a.texture)
		a.texture = nil
	}
	a.baked = false
}

// Size returns the current texture dimension in pixels.
func (a *Atlas) Size() int { return a.size }

// Utilization returns the packed fraction of the texture after the
// last bake.
func (a *Atlas) Utilization() float64 {
	used := 0
	for _, reg := range a.regions {
		used += reg.w * reg.h
	}
	total := a.size * a.size
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total)
}

// ---- ggtext.GlyphSource ----

// EnsureCoverage records unseen runes as required. It returns true
// while any recorded rune is still unbaked, meaning Rebake must run
// before Metrics answers for them.
func (a *Atlas) EnsureCoverage(text []rune) bool {
	for _, r := range text {
		if _, ok := a.glyphs[r]; ok {
			continue
		}
		a.pending[r] = struct{}{}
	}
	return len(a.pending) > 0
}

// Rebake measures pending runes, repacks every covered glyph,
// re-uploads the texture and rebuilds all registered dependents.
// Idempotent when nothing is pending and a texture exists.
func (a *Atlas) Rebake() {
	if a.baked && len(a.pending) == 0 && a.texture != nil {
		return
	}

	for r := range a.pending {
		var m ggtext.GlyphMetrics
		if a.face != nil {
			m = a.face.measure(r)
		}
		a.glyphs[r] = m
		delete(a.pending, r)
	}

	for !a.pack() {
		if a.size*2 > a.config.MaxSize {
			// Bake what fits; overflow glyphs keep zero UVs.
			break
		}
		a.size *= 2
	}

	if err := a.uploadTexture(); err != nil {
		// Keep the old texture; metrics are still valid for layout.
		a.baked = false
	} else {
		a.baked = true
	}

	// Placement changed; every dependent's UVs are stale. A dependent
	// may unregister itself or others during its rebuild (rebinding to
	// another atlas does exactly that), so iterate a snapshot and skip
	// handles removed mid-cascade.
	for _, h := range slices.Clone(a.depOrder) {
		if d, ok := a.deps[h]; ok {
			d.RebuildGeometry()
		}
	}
}

// Metrics returns the placed metrics for r, zero if uncovered.
func (a *Atlas) Metrics(r rune) ggtext.GlyphMetrics {
	return a.glyphs[r]
}

// Register adds d to the rebake cascade.
func (a *Atlas) Register(d ggtext.Dependent) ggtext.DependentHandle {
	a.nextHandle++
	h := a.nextHandle
	a.deps[h] = d
	a.depOrder = append(a.depOrder, h)
	return h
}

// Unregister removes a dependent. Unknown handles are ignored.
func (a *Atlas) Unregister(h ggtext.DependentHandle) {
	if _, ok := a.deps[h]; !ok {
		return
	}
	delete(a.deps, h)
	for i, v := range a.depOrder {
		if v == h {
			a.depOrder = append(a.depOrder[:i], a.depOrder[i+1:]...)
			break
		}
	}
}

// Relocate points an existing handle at a new dependent.
func (a *Atlas) Relocate(h ggtext.DependentHandle, d ggtext.Dependent) {
	if _, ok := a.deps[h]; ok {
		a.deps[h] = d
	}
}

// ImageDescriptor returns the texture view, or nil before the first
// bake.
func (a *Atlas) ImageDescriptor() hal.TextureView {
	return a.view
}

var _ ggtext.GlyphSource = (*Atlas)(nil)

// ---- Baking internals ----

// pack places every covered glyph into the current texture size and
// assigns UVs. Returns false when at least one glyph did not fit, in
// which case the caller grows the texture and retries.
func (a *Atlas) pack() bool {
	packer := newShelfPacker(a.size, a.size, a.config.Padding)
	clear(a.regions)

	fits := true
	inv := 1 / float32(a.size)
	for _, r := range a.sortedRunes() {
		g := a.glyphs[r]
		w := int(math.Ceil(float64(g.X1 - g.X0)))
		h := int(math.Ceil(float64(g.Y1 - g.Y0)))
		if w <= 0 || h <= 0 {
			// Whitespace: advance only.
			g.U0, g.V0, g.U1, g.V1 = 0, 0, 0, 0
			a.glyphs[r] = g
			continue
		}
		reg := packer.allocate(w, h)
		if !reg.valid() {
			fits = false
			g.U0, g.V0, g.U1, g.V1 = 0, 0, 0, 0
			a.glyphs[r] = g
			continue
		}
		a.regions[r] = reg
		g.U0 = float32(reg.x) * inv
		g.V0 = float32(reg.y) * inv
		g.U1 = float32(reg.x+reg.w) * inv
		g.V1 = float32(reg.y+reg.h) * inv
		a.glyphs[r] = g
	}
	return fits
}

// sortedRunes returns the covered runes in stable order so packing is
// deterministic across bakes of the same coverage.
func (a *Atlas) sortedRunes() []rune {
	runes := make([]rune, 0, len(a.glyphs))
	for r := range a.glyphs {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	return runes
}

// uploadTexture composes the coverage canvas and uploads it, creating
// a new texture when the size changed. A new texture means a new view
// identity, so the configured Rerecord hook fires.
func (a *Atlas) uploadTexture() error {
	dim := uint32(a.size)

	if a.texture == nil || a.textureDim() != a.size {
		tex, err := a.device.CreateTexture(&hal.TextureDescriptor{
			Label:         fmt.Sprintf("fontatlas_%d", a.size),
			Size:          hal.Extent3D{Width: dim, Height: dim, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        gputypes.TextureFormatR8Unorm,
			Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("fontatlas: create texture: %w", err)
		}
		view, err := a.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
			Label:         fmt.Sprintf("fontatlas_%d_view", a.size),
			Format:        gputypes.TextureFormatR8Unorm,
			Dimension:     gputypes.TextureViewDimension2D,
			Aspect:        gputypes.TextureAspectAll,
			MipLevelCount: 1,
		})
		if err != nil {
			a.device.DestroyTexture(tex)
			return fmt.Errorf("fontatlas: create texture view: %w", err)
		}
		if a.view != nil {
			a.device.DestroyTextureView(a.view)
		}
		if a.texture != nil {
			a.device.DestroyTexture(a.texture)
		}
		a.texture = tex
		a.view = view
		a.texDim = a.size
		if a.config.Rerecord != nil {
			a.config.Rerecord()
		}
	}

	a.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: a.texture, MipLevel: 0},
		a.composeCanvas(),
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: dim, RowsPerImage: dim},
		&hal.Extent3D{Width: dim, Height: dim, DepthOrArrayLayers: 1},
	)
	return nil
}

// textureDim is the dimension the live texture was created with.
func (a *Atlas) textureDim() int { return a.texDim }

// composeCanvas renders every placed glyph cell into one row-major
// coverage buffer.
func (a *Atlas) composeCanvas() []byte {
	canvas := make([]byte, a.size*a.size)
	if a.config.Rasterizer == nil {
		return canvas
	}
	for r, reg := range a.regions {
		mask := a.config.Rasterizer.Rasterize(a.face, r, reg.w, reg.h)
		if len(mask) < reg.w*reg.h {
			continue
		}
		for row := 0; row < reg.h; row++ {
			dst := (reg.y+row)*a.size + reg.x
			src := row * reg.w
			copy(canvas[dst:dst+reg.w], mask[src:src+reg.w])
		}
	}
	return canvas
}
