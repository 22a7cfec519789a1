package shape

import "voxeledit/internal/geom"

// Cuboid is a solid box anchored at its minimum corner.
type Cuboid struct {
	Width, Height, Length int
}

func (c Cuboid) Dimensions() (int, int, int) { return c.Width, c.Height, c.Length }
func (c Cuboid) Origin() geom.Vec            { return geom.Vec{} }

func (c Cuboid) Test(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < c.Width && y < c.Height && z < c.Length
}

// Sphere is centred on its origin.
type Sphere struct {
	Radius int
}

func (s Sphere) Dimensions() (int, int, int) {
	d := 2*s.Radius + 1
	return d, d, d
}

func (s Sphere) Origin() geom.Vec { return geom.Vec{X: s.Radius, Y: s.Radius, Z: s.Radius} }

func (s Sphere) Test(x, y, z int) bool {
	dx, dy, dz := x-s.Radius, y-s.Radius, z-s.Radius
	return dx*dx+dy*dy+dz*dz <= s.Radius*s.Radius
}

// Cylinder is vertical, centred on its origin column and resting on its base.
type Cylinder struct {
	Radius, Height int
}

func (c Cylinder) Dimensions() (int, int, int) {
	d := 2*c.Radius + 1
	return d, c.Height, d
}

func (c Cylinder) Origin() geom.Vec { return geom.Vec{X: c.Radius, Z: c.Radius} }

func (c Cylinder) Test(x, y, z int) bool {
	if y < 0 || y >= c.Height {
		return false
	}
	dx, dz := x-c.Radius, z-c.Radius
	return dx*dx+dz*dz <= c.Radius*c.Radius
}

// Hollow keeps only the cells of s that touch an unmasked neighbour.
type Hollow struct {
	Shape
}

func (h Hollow) Test(x, y, z int) bool {
	if !h.Shape.Test(x, y, z) {
		return false
	}
	return !h.Shape.Test(x+1, y, z) || !h.Shape.Test(x-1, y, z) ||
		!h.Shape.Test(x, y+1, z) || !h.Shape.Test(x, y-1, z) ||
		!h.Shape.Test(x, y, z+1) || !h.Shape.Test(x, y, z-1)
}

// Mask is an explicit dense mask.
type Mask struct {
	width, height, length int
	origin                geom.Vec
	cells                 []bool
}

func NewMask(width, height, length int, origin geom.Vec) *Mask {
	return &Mask{
		width:  width,
		height: height,
		length: length,
		origin: origin,
		cells:  make([]bool, width*height*length),
	}
}

func (m *Mask) Dimensions() (int, int, int) { return m.width, m.height, m.length }
func (m *Mask) Origin() geom.Vec            { return m.origin }

func (m *Mask) index(x, y, z int) (int, bool) {
	if x < 0 || y < 0 || z < 0 || x >= m.width || y >= m.height || z >= m.length {
		return 0, false
	}
	return (z*m.height+y)*m.width + x, true
}

func (m *Mask) Set(x, y, z int, on bool) {
	if idx, ok := m.index(x, y, z); ok {
		m.cells[idx] = on
	}
}

func (m *Mask) Test(x, y, z int) bool {
	idx, ok := m.index(x, y, z)
	return ok && m.cells[idx]
}
