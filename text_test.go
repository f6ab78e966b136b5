package ggtext

import (
	"slices"
	"testing"

	"github.com/gogpu/wgpu/hal"
)

// fakeAtlas is an in-memory GlyphSource with scripted metrics. Rebake
// marks everything covered and runs the dependent cascade, mirroring
// the fontatlas contract.
type fakeAtlas struct {
	metrics map[rune]GlyphMetrics
	covered map[rune]bool

	deps  map[DependentHandle]Dependent
	order []DependentHandle
	next  DependentHandle

	view hal.TextureView

	rebakes int
	ensures int

	// stuck simulates a broken source that never extends coverage.
	stuck bool
}

func newFakeAtlas(metrics map[rune]GlyphMetrics, baked bool) *fakeAtlas {
	f := &fakeAtlas{
		metrics: metrics,
		covered: make(map[rune]bool),
		deps:    make(map[DependentHandle]Dependent),
	}
	if baked {
		for r := range metrics {
			f.covered[r] = true
		}
	}
	return f
}

func (f *fakeAtlas) EnsureCoverage(text []rune) bool {
	f.ensures++
	if f.stuck {
		return true
	}
	for _, r := range text {
		if !f.covered[r] {
			return true
		}
	}
	return false
}

func (f *fakeAtlas) Rebake() {
	f.rebakes++
	if !f.stuck {
		for r := range f.metrics {
			f.covered[r] = true
		}
	}
	for _, h := range slices.Clone(f.order) {
		if d, ok := f.deps[h]; ok {
			d.RebuildGeometry()
		}
	}
}

func (f *fakeAtlas) Metrics(r rune) GlyphMetrics { return f.metrics[r] }

func (f *fakeAtlas) Register(d Dependent) DependentHandle {
	f.next++
	f.deps[f.next] = d
	f.order = append(f.order, f.next)
	return f.next
}

func (f *fakeAtlas) Unregister(h DependentHandle) {
	delete(f.deps, h)
	for i, v := range f.order {
		if v == h {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *fakeAtlas) Relocate(h DependentHandle, d Dependent) {
	if _, ok := f.deps[h]; ok {
		f.deps[h] = d
	}
}

func (f *fakeAtlas) ImageDescriptor() hal.TextureView { return f.view }

// fakeFont points at a swappable atlas.
type fakeFont struct {
	atlas GlyphSource
}

func (f *fakeFont) Atlas() GlyphSource { return f.atlas }

// testMetrics is a simple monospace-ish glyph set.
func testMetrics() map[rune]GlyphMetrics {
	return map[rune]GlyphMetrics{
		'A': {X0: 0, Y0: 0, X1: 10, Y1: 20, U0: 0, V0: 0, U1: 0.1, V1: 0.2, Advance: 12},
		'B': {X0: 1, Y0: 2, X1: 9, Y1: 18, U0: 0.1, V0: 0, U1: 0.2, V1: 0.2, Advance: 11},
		' ': {Advance: 6},
	}
}

func newTestText(t *testing.T, ctx *Context, chars string) (*Text, *fakeAtlas) {
	t.Helper()
	atlas := newFakeAtlas(testMetrics(), true)
	font := &fakeFont{atlas: atlas}
	txt, err := NewTextRunes(ctx, []rune(chars), font, Point{})
	if err != nil {
		t.Fatalf("NewTextRunes failed: %v", err)
	}
	return txt, atlas
}

func TestTextCacheSizes(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	txt, _ := newTestText(t, ctx, "AB A")
	defer txt.Destroy()

	want := vertsPerChar * 4
	if len(txt.posCache) != want {
		t.Errorf("posCache len = %d, want %d", len(txt.posCache), want)
	}
	if len(txt.uvCache) != len(txt.posCache) {
		t.Errorf("uvCache len = %d, posCache len = %d", len(txt.uvCache), len(txt.posCache))
	}
}

func TestTextVertexEmission(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	atlas := newFakeAtlas(testMetrics(), true)
	font := &fakeFont{atlas: atlas}
	txt, err := NewTextRunes(ctx, []rune("A"), font, Point{X: 5, Y: 5})
	if err != nil {
		t.Fatalf("NewTextRunes failed: %v", err)
	}
	defer txt.Destroy()

	// One group: TL, TL, BL, TR, BR, BR.
	want := []Point{
		{5, 5}, {5, 5}, {5, 25}, {15, 5}, {15, 25}, {15, 25},
	}
	if len(txt.posCache) != len(want) {
		t.Fatalf("posCache len = %d, want %d", len(txt.posCache), len(want))
	}
	for i, p := range want {
		if txt.posCache[i] != p {
			t.Errorf("posCache[%d] = %v, want %v", i, txt.posCache[i], p)
		}
	}

	g := testMetrics()['A']
	wantUV := []Point{
		{g.U0, g.V0}, {g.U0, g.V0}, {g.U0, g.V1}, {g.U1, g.V0}, {g.U1, g.V1}, {g.U1, g.V1},
	}
	for i, p := range wantUV {
		if txt.uvCache[i] != p {
			t.Errorf("uvCache[%d] = %v, want %v", i, txt.uvCache[i], p)
		}
	}
}

func TestTextCursorAdvance(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	txt, _ := newTestText(t, ctx, "AB")
	defer txt.Destroy()

	// Second group starts at the advance of 'A' (12), offset by the
	// bearing of 'B' (1).
	second := txt.posCache[vertsPerChar+vertIndexTopLeft]
	if second.X != 13 {
		t.Errorf("second group left = %g, want 13", second.X)
	}
}

func TestTextVisibility(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	txt, _ := newTestText(t, ctx, "AB")
	defer txt.Destroy()

	args := txt.indirectArgs()
	if args.VertexCount != uint32(vertsPerChar*2) {
		t.Errorf("visible vertexCount = %d, want %d", args.VertexCount, vertsPerChar*2)
	}
	if args.InstanceCount != 1 {
		t.Errorf("instanceCount = %d, want 1", args.InstanceCount)
	}

	if prev := txt.SetVisible(false); !prev {
		t.Error("SetVisible should report previous value true")
	}
	args = txt.indirectArgs()
	if args.VertexCount != 0 {
		t.Errorf("hidden vertexCount = %d, want 0", args.VertexCount)
	}
	if len(txt.posCache) != vertsPerChar*2 {
		t.Error("hiding must not touch geometry")
	}

	// Hiding only needs a device sync, never re-recording.
	rerecord, err := ctx.UpdateFrame()
	if err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}
	if rerecord {
		t.Error("visibility toggle must not force re-recording")
	}
}

func TestTextWidth(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	t.Run("empty", func(t *testing.T) {
		txt, _ := newTestText(t, ctx, "")
		defer txt.Destroy()
		if w := txt.Width(); w != 0 {
			t.Errorf("Width() = %g, want 0", w)
		}
	})

	t.Run("two chars", func(t *testing.T) {
		txt, _ := newTestText(t, ctx, "AB")
		defer txt.Destroy()
		// First origin at X0(A)=0, last ends at 12 + X0(B)=1 start,
		// advance 11: width = 13 + 11 - 0.
		if w := txt.Width(); w != 24 {
			t.Errorf("Width() = %g, want 24", w)
		}
	})
}

func TestTextBoundsOf(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	atlas := newFakeAtlas(testMetrics(), true)
	font := &fakeFont{atlas: atlas}
	txt, err := NewTextRunes(ctx, []rune("A"), font, Point{X: 5, Y: 5})
	if err != nil {
		t.Fatalf("NewTextRunes failed: %v", err)
	}
	defer txt.Destroy()

	b, err := txt.BoundsOf(0)
	if err != nil {
		t.Fatalf("BoundsOf failed: %v", err)
	}
	// Bounds are relative to the text position; width is the advance.
	want := Rect{Pos: Point{0, 0}, Size: Point{12, 20}}
	if b != want {
		t.Errorf("BoundsOf(0) = %+v, want %+v", b, want)
	}

	if _, err := txt.BoundsOf(1); err == nil {
		t.Error("expected out of range error")
	}
	if _, err := txt.BoundsOf(-1); err == nil {
		t.Error("expected out of range error for negative index")
	}
}

func TestTextBoundsTile(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	txt, _ := newTestText(t, ctx, "AB")
	defer txt.Destroy()

	a, err := txt.BoundsOf(0)
	if err != nil {
		t.Fatalf("BoundsOf(0) failed: %v", err)
	}
	b, err := txt.BoundsOf(1)
	if err != nil {
		t.Fatalf("BoundsOf(1) failed: %v", err)
	}
	// Advance-based widths keep horizontal bounds from overlapping.
	if a.Pos.X+a.Size.X > b.Pos.X {
		t.Errorf("bounds overlap: A ends at %g, B starts at %g", a.Pos.X+a.Size.X, b.Pos.X)
	}
}

func TestTextCharAt(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	txt, _ := newTestText(t, ctx, "AB")
	defer txt.Destroy()

	tests := []struct {
		x    float32
		want int
	}{
		{-100, 0},
		{0, 0},
		{5, 0},
		{11, 1}, // past the right edge of 'A' (10)
		{15, 1},
		{100, 2}, // past everything: index == len
	}
	prev := -1
	for _, tt := range tests {
		got := txt.CharAt(tt.x)
		if got != tt.want {
			t.Errorf("CharAt(%g) = %d, want %d", tt.x, got, tt.want)
		}
		if got < prev {
			t.Errorf("CharAt not monotonic at x=%g", tt.x)
		}
		prev = got
	}
}

func TestTextRebakeCascade(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	// Two texts share one atlas. Coverage starts empty, so the first
	// rebuild triggers one bake whose cascade rebuilds both.
	atlas := newFakeAtlas(testMetrics(), false)
	font := &fakeFont{atlas: atlas}

	t1, err := NewTextRunes(ctx, []rune("A"), font, Point{})
	if err != nil {
		t.Fatalf("NewTextRunes failed: %v", err)
	}
	defer t1.Destroy()
	if atlas.rebakes != 1 {
		t.Fatalf("rebakes = %d, want 1", atlas.rebakes)
	}
	if len(t1.posCache) != vertsPerChar {
		t.Fatalf("t1 geometry incomplete after cascade: %d verts", len(t1.posCache))
	}

	t2, err := NewTextRunes(ctx, []rune("AB"), font, Point{})
	if err != nil {
		t.Fatalf("NewTextRunes failed: %v", err)
	}
	defer t2.Destroy()
	if atlas.rebakes != 1 {
		t.Fatalf("covered text must not rebake, rebakes = %d", atlas.rebakes)
	}

	// A rune both texts lack coverage for: one bake, both rebuilt.
	atlas.metrics['C'] = GlyphMetrics{X1: 8, Y1: 16, Advance: 9}
	t1.SetRunes([]rune("AC"))
	if _, err := ctx.UpdateFrame(); err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}
	if atlas.rebakes != 2 {
		t.Errorf("rebakes = %d, want 2", atlas.rebakes)
	}
	if len(t1.posCache) != vertsPerChar*2 {
		t.Errorf("t1 verts = %d, want %d", len(t1.posCache), vertsPerChar*2)
	}
	if len(t2.posCache) != vertsPerChar*2 {
		t.Errorf("t2 verts = %d, want %d", len(t2.posCache), vertsPerChar*2)
	}
}

func TestTextStuckAtlasDoesNotRecurse(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	atlas := newFakeAtlas(testMetrics(), false)
	atlas.stuck = true
	font := &fakeFont{atlas: atlas}

	// A source that reports missing coverage even after its own bake
	// must not recurse; the text lays out with whatever metrics exist.
	txt, err := NewTextRunes(ctx, []rune("A"), font, Point{})
	if err != nil {
		t.Fatalf("NewTextRunes failed: %v", err)
	}
	defer txt.Destroy()

	if atlas.rebakes != 1 {
		t.Errorf("rebakes = %d, want 1", atlas.rebakes)
	}
	if len(txt.posCache) != vertsPerChar {
		t.Errorf("geometry missing: %d verts", len(txt.posCache))
	}
}

func TestTextAtlasSwap(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	oldAtlas := newFakeAtlas(testMetrics(), true)
	newAtlas := newFakeAtlas(testMetrics(), true)
	font := &fakeFont{atlas: oldAtlas}

	txt, err := NewTextRunes(ctx, []rune("A"), font, Point{})
	if err != nil {
		t.Fatalf("NewTextRunes failed: %v", err)
	}
	defer txt.Destroy()

	if len(oldAtlas.deps) != 1 {
		t.Fatalf("expected registration with old atlas")
	}

	// Swap the font's atlas; flush any pending work first so the swap
	// frame is observed in isolation.
	if _, err := ctx.UpdateFrame(); err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}
	font.atlas = newAtlas
	txt.SetFont(font)

	rerecord, err := ctx.UpdateFrame()
	if err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}
	if !rerecord {
		t.Error("atlas swap must force re-recording")
	}
	if len(oldAtlas.deps) != 0 {
		t.Error("expected unregistration from old atlas")
	}
	if len(newAtlas.deps) != 1 {
		t.Error("expected registration with new atlas")
	}
}

func TestTextRebindDuringRebakeCascade(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	// Two texts share an atlas; the first one's font is repointed at a
	// different atlas before a rebake. Its rebuild inside the cascade
	// unregisters from the shared atlas mid-iteration, which must not
	// keep the second text from rebuilding.
	oldAtlas := newFakeAtlas(testMetrics(), true)
	newAtlas := newFakeAtlas(testMetrics(), true)
	f1 := &fakeFont{atlas: oldAtlas}
	f2 := &fakeFont{atlas: oldAtlas}

	t1, err := NewTextRunes(ctx, []rune("A"), f1, Point{})
	if err != nil {
		t.Fatalf("NewTextRunes failed: %v", err)
	}
	defer t1.Destroy()
	t2, err := NewTextRunes(ctx, []rune("A"), f2, Point{})
	if err != nil {
		t.Fatalf("NewTextRunes failed: %v", err)
	}
	defer t2.Destroy()

	f1.atlas = newAtlas
	oldAtlas.metrics['C'] = GlyphMetrics{X1: 8, Y1: 16, Advance: 9}
	t2.SetRunes([]rune("AC")) // uncovered rune forces a rebake

	rerecord, err := ctx.UpdateFrame()
	if err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}
	if !rerecord {
		t.Error("rebind must force re-recording")
	}
	if len(oldAtlas.deps) != 1 {
		t.Errorf("old atlas deps = %d, want 1 (t2 only)", len(oldAtlas.deps))
	}
	if len(newAtlas.deps) != 1 {
		t.Errorf("new atlas deps = %d, want 1 (t1)", len(newAtlas.deps))
	}
	if len(t2.posCache) != vertsPerChar*2 {
		t.Errorf("t2 verts = %d, want %d: skipped by the cascade", len(t2.posCache), vertsPerChar*2)
	}
}

func TestTextResidencyToggle(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	txt, _ := newTestText(t, ctx, "AB")
	defer txt.Destroy()

	if _, err := ctx.UpdateFrame(); err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}

	txt.SetResidency(true)
	if !txt.DeviceLocal() {
		t.Error("residency not applied")
	}
	rerecord, err := ctx.UpdateFrame()
	if err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}
	if !rerecord {
		t.Error("residency change must force re-recording")
	}

	// Same value again: no work scheduled.
	txt.SetResidency(true)
	rerecord, err = ctx.UpdateFrame()
	if err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}
	if rerecord {
		t.Error("no-op residency change forced re-recording")
	}
}

func TestTextCapacityNeverShrinks(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	txt, _ := newTestText(t, ctx, "ABABABAB")
	defer txt.Destroy()
	if _, err := ctx.UpdateFrame(); err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}
	capBefore := txt.posBuf.capacity

	txt.SetRunes([]rune("A"))
	rerecord, err := ctx.UpdateFrame()
	if err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}
	if rerecord {
		t.Error("shrinking text must not reallocate buffers")
	}
	if txt.posBuf.capacity != capBefore {
		t.Errorf("capacity changed %d -> %d", capBefore, txt.posBuf.capacity)
	}
}

func TestTextSetTextNormalizes(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	txt, _ := newTestText(t, ctx, "A")
	defer txt.Destroy()

	// e + combining acute composes to a single rune under NFC.
	txt.SetText("e\u0301")
	if len(txt.Runes()) != 1 || txt.Runes()[0] != '\u00e9' {
		t.Errorf("runes = %q, want single U+00E9", string(txt.Runes()))
	}
}

func TestTextDestroyUnregisters(t *testing.T) {
	ctx, cleanup := createTestContext(t)
	defer cleanup()

	txt, atlas := newTestText(t, ctx, "A")
	txt.SetRunes([]rune("AB"))
	txt.Destroy()

	if len(atlas.deps) != 0 {
		t.Error("destroy must unregister from the atlas")
	}
	// Pending work for the destroyed text is dropped.
	if _, err := ctx.UpdateFrame(); err != nil {
		t.Fatalf("UpdateFrame failed: %v", err)
	}
}
