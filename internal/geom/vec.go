package geom

import "fmt"

// Vec is an integer position in block space. Y is the vertical axis.
type Vec struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

func (v Vec) Add(o Vec) Vec {
	return Vec{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec) Sub(o Vec) Vec {
	return Vec{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Up returns the position directly above v.
func (v Vec) Up() Vec {
	return Vec{X: v.X, Y: v.Y + 1, Z: v.Z}
}

// Down returns the position directly below v.
func (v Vec) Down() Vec {
	return Vec{X: v.X, Y: v.Y - 1, Z: v.Z}
}

func (v Vec) String() string {
	return fmt.Sprintf("(%d, %d, %d)", v.X, v.Y, v.Z)
}
