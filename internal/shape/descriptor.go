package shape

import (
	"errors"
	"fmt"
	"strings"
)

// MaxExtent bounds every dimension a Descriptor may ask for.
const MaxExtent = 4096

// Descriptor is the serialisable description of a primitive shape.
type Descriptor struct {
	Kind   string `json:"kind" yaml:"kind"`
	Width  int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height int    `json:"height,omitempty" yaml:"height,omitempty"`
	Length int    `json:"length,omitempty" yaml:"length,omitempty"`
	Radius int    `json:"radius,omitempty" yaml:"radius,omitempty"`
	Hollow bool   `json:"hollow,omitempty" yaml:"hollow,omitempty"`
}

// Build validates the descriptor and returns the matching shape.
func (d Descriptor) Build() (Shape, error) {
	for _, dim := range [...]struct {
		name  string
		value int
		limit int
	}{
		{"width", d.Width, MaxExtent},
		{"height", d.Height, MaxExtent},
		{"length", d.Length, MaxExtent},
		{"radius", d.Radius, MaxExtent / 2},
	} {
		if dim.value > dim.limit {
			return nil, fmt.Errorf("shape %s %d exceeds %d", dim.name, dim.value, dim.limit)
		}
	}

	var out Shape
	switch strings.ToLower(d.Kind) {
	case "cuboid", "box":
		if d.Width <= 0 || d.Height <= 0 || d.Length <= 0 {
			return nil, errors.New("cuboid dimensions must be positive")
		}
		out = Cuboid{Width: d.Width, Height: d.Height, Length: d.Length}
	case "sphere":
		if d.Radius < 0 {
			return nil, errors.New("sphere radius cannot be negative")
		}
		out = Sphere{Radius: d.Radius}
	case "cylinder":
		if d.Radius < 0 || d.Height <= 0 {
			return nil, errors.New("cylinder needs a non-negative radius and positive height")
		}
		out = Cylinder{Radius: d.Radius, Height: d.Height}
	default:
		return nil, fmt.Errorf("unknown shape kind %q", d.Kind)
	}
	if d.Hollow {
		out = Hollow{Shape: out}
	}
	return out, nil
}
