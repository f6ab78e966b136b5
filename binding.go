package ggtext

// atlasBinding tracks which GlyphSource a text object is registered
// with. It moves between two states: unbound (atlas == nil) and bound,
// holding the registry handle the atlas assigned.
type atlasBinding struct {
	atlas  GlyphSource
	handle DependentHandle
}

// bind registers d with a. Rebinding to the same atlas is a no-op;
// rebinding to a different one unregisters from the old atlas first.
func (b *atlasBinding) bind(a GlyphSource, d Dependent) {
	if b.atlas == a {
		return
	}
	b.unbind()
	if a != nil {
		b.atlas = a
		b.handle = a.Register(d)
	}
}

// unbind releases the registration, if any.
func (b *atlasBinding) unbind() {
	if b.atlas == nil {
		return
	}
	b.atlas.Unregister(b.handle)
	b.atlas = nil
	b.handle = 0
}

func (b *atlasBinding) bound() bool { return b.atlas != nil }
