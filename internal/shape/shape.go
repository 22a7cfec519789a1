package shape

import (
	"math"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
)

// Shape is a finite boolean mask. Test receives local coordinates in
// [0,w) x [0,h) x [0,l). Placing a shape at a world position maps local
// (x, y, z) to at - Origin() + (x, y, z).
type Shape interface {
	Dimensions() (w, h, l int)
	Origin() geom.Vec
	Test(x, y, z int) bool
}

// MaterialShape pairs a shape with the material of each masked cell.
type MaterialShape interface {
	Shape
	Material(x, y, z int) material.Material
}

// Volume is the bounding box cell count of s. It saturates at math.MaxInt
// instead of overflowing and is 0 when any dimension is not positive.
func Volume(s Shape) int {
	w, h, l := s.Dimensions()
	if w <= 0 || h <= 0 || l <= 0 {
		return 0
	}
	v := w
	for _, d := range [...]int{h, l} {
		if v > math.MaxInt/d {
			return math.MaxInt
		}
		v *= d
	}
	return v
}

// WorldPos maps a local cell of s placed at at into world space.
func WorldPos(s Shape, at geom.Vec, x, y, z int) geom.Vec {
	origin := s.Origin()
	return geom.Vec{X: at.X - origin.X + x, Y: at.Y - origin.Y + y, Z: at.Z - origin.Z + z}
}

// Count returns the number of masked cells.
func Count(s Shape) int {
	w, h, l := s.Dimensions()
	n := 0
	for z := 0; z < l; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if s.Test(x, y, z) {
					n++
				}
			}
		}
	}
	return n
}

type uniform struct {
	Shape
	material material.Material
}

// Uniform fills every masked cell of s with m.
func Uniform(s Shape, m material.Material) MaterialShape {
	return uniform{Shape: s, material: m}
}

func (u uniform) Material(int, int, int) material.Material {
	return u.material
}

type paletteShape struct {
	Shape
	pick func(x, y, z int) material.Material
}

// WithPalette chooses a material per cell using pick.
func WithPalette(s Shape, pick func(x, y, z int) material.Material) MaterialShape {
	return paletteShape{Shape: s, pick: pick}
}

func (p paletteShape) Material(x, y, z int) material.Material {
	return p.pick(x, y, z)
}
