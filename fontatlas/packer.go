package fontatlas

// shelfPacker implements shelf packing for glyph cells inside a
// square texture. Rectangles are placed left to right on horizontal
// shelves; a new shelf opens below when the current ones are full.
// The packer is rebuilt from scratch on every bake, so there is no
// deallocation.
type shelfPacker struct {
	width   int
	height  int
	padding int

	shelves []shelf

	allocCount int
	usedArea   int
}

// shelf is one horizontal strip. Its height is fixed by the tallest
// cell placed while it was the open shelf.
type shelf struct {
	y      int
	height int
	nextX  int
}

// region is a placed cell in pixel coordinates.
type region struct {
	x, y, w, h int
}

func (r region) valid() bool { return r.w > 0 && r.h > 0 }

func newShelfPacker(width, height, padding int) *shelfPacker {
	if padding < 0 {
		padding = 0
	}
	return &shelfPacker{
		width:   width,
		height:  height,
		padding: padding,
		shelves: make([]shelf, 0, 16),
	}
}

// allocate finds space for a w x h cell. The zero region is returned
// when the cell does not fit anywhere.
func (p *shelfPacker) allocate(w, h int) region {
	if w <= 0 || h <= 0 {
		return region{}
	}

	paddedW := w + p.padding
	paddedH := h + p.padding
	if paddedW > p.width || paddedH > p.height {
		return region{}
	}

	for i := range p.shelves {
		s := &p.shelves[i]
		if s.nextX+paddedW > p.width {
			continue
		}
		// A cell taller than the shelf only fits while the shelf is
		// still empty.
		if paddedH > s.height && s.nextX > 0 {
			continue
		}
		r := region{x: s.nextX, y: s.y, w: w, h: h}
		s.nextX += paddedW
		if paddedH > s.height {
			s.height = paddedH
		}
		p.allocCount++
		p.usedArea += w * h
		return r
	}

	return p.allocateNewShelf(w, h, paddedW, paddedH)
}

func (p *shelfPacker) allocateNewShelf(w, h, paddedW, paddedH int) region {
	y := 0
	if n := len(p.shelves); n > 0 {
		last := p.shelves[n-1]
		y = last.y + last.height
	}
	if y+paddedH > p.height {
		return region{}
	}
	p.shelves = append(p.shelves, shelf{y: y, height: paddedH, nextX: paddedW})
	p.allocCount++
	p.usedArea += w * h
	return region{x: 0, y: y, w: w, h: h}
}

// utilization returns the fraction of area covered by cells.
func (p *shelfPacker) utilization() float64 {
	total := p.width * p.height
	if total == 0 {
		return 0
	}
	return float64(p.usedArea) / float64(total)
}
