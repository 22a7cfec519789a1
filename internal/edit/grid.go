package edit

import (
	"voxeledit/internal/geom"
	"voxeledit/internal/material"
)

// Grid is the world surface the engine reads and writes. Material and Biome
// report ok == false for positions outside the loaded volume.
type Grid interface {
	Material(pos geom.Vec) (material.Material, bool)
	SetMaterial(pos geom.Vec, m material.Material, applyPhysics bool) error
	Biome(x, z int) (string, bool)
	SetBiome(x, z int, biome string) error
}

// Owner is the entity on whose behalf edits run.
type Owner interface {
	ID() string
	SendMessage(format string, args ...any)
}
