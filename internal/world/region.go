package world

import (
	"fmt"

	"voxeledit/internal/config"
	"voxeledit/internal/geom"
)

// ChunkCoord identifies a chunk column in global chunk space (X, Z plane).
type ChunkCoord struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// LocalChunkIndex represents a chunk index relative to the owning region.
type LocalChunkIndex struct {
	X int
	Z int
}

// Dimensions defines the size of a chunk in blocks.
type Dimensions struct {
	Width  int
	Length int
	Height int
}

// Bounds is an axis-aligned bounding box represented by inclusive min/max corners in block space.
type Bounds struct {
	Min geom.Vec
	Max geom.Vec
}

// Region delineates the contiguous grid of chunks loaded by this server.
type Region struct {
	Origin         ChunkCoord
	ChunksPerAxis  int
	ChunkDimension Dimensions
}

func NewRegion(cfg config.WorldConfig) Region {
	return Region{
		Origin: ChunkCoord{
			X: cfg.Origin.X,
			Z: cfg.Origin.Z,
		},
		ChunksPerAxis: cfg.ChunksPerAxis,
		ChunkDimension: Dimensions{
			Width:  cfg.ChunkWidth,
			Length: cfg.ChunkLength,
			Height: cfg.ChunkHeight,
		},
	}
}

func (r Region) ContainsChunk(coord ChunkCoord) bool {
	return coord.X >= r.Origin.X &&
		coord.Z >= r.Origin.Z &&
		coord.X < r.Origin.X+r.ChunksPerAxis &&
		coord.Z < r.Origin.Z+r.ChunksPerAxis
}

func (r Region) LocalToGlobalChunk(local LocalChunkIndex) (ChunkCoord, error) {
	if local.X < 0 || local.Z < 0 || local.X >= r.ChunksPerAxis || local.Z >= r.ChunksPerAxis {
		return ChunkCoord{}, fmt.Errorf("local chunk index %v out of range", local)
	}
	return ChunkCoord{
		X: r.Origin.X + local.X,
		Z: r.Origin.Z + local.Z,
	}, nil
}

func (r Region) GlobalToLocalChunk(global ChunkCoord) (LocalChunkIndex, error) {
	if !r.ContainsChunk(global) {
		return LocalChunkIndex{}, fmt.Errorf("global chunk %v not owned by region", global)
	}
	return LocalChunkIndex{
		X: global.X - r.Origin.X,
		Z: global.Z - r.Origin.Z,
	}, nil
}

func (r Region) ChunkBounds(global ChunkCoord) (Bounds, error) {
	if !r.ContainsChunk(global) {
		return Bounds{}, fmt.Errorf("chunk %v outside region", global)
	}

	min := geom.Vec{
		X: global.X * r.ChunkDimension.Width,
		Y: 0,
		Z: global.Z * r.ChunkDimension.Length,
	}
	max := geom.Vec{
		X: min.X + r.ChunkDimension.Width - 1,
		Y: r.ChunkDimension.Height - 1,
		Z: min.Z + r.ChunkDimension.Length - 1,
	}
	return Bounds{Min: min, Max: max}, nil
}

// LocateBlock returns the chunk holding pos and whether that chunk belongs to the region.
func (r Region) LocateBlock(pos geom.Vec) (ChunkCoord, bool) {
	if pos.Y < 0 || pos.Y >= r.ChunkDimension.Height {
		return ChunkCoord{}, false
	}
	return r.LocateColumn(pos.X, pos.Z)
}

// LocateColumn returns the chunk holding the column at (x, z).
func (r Region) LocateColumn(x, z int) (ChunkCoord, bool) {
	chunk := ChunkCoord{
		X: floorDiv(x, r.ChunkDimension.Width),
		Z: floorDiv(z, r.ChunkDimension.Length),
	}
	return chunk, r.ContainsChunk(chunk)
}

// Bounds returns the block bounds of the whole region.
func (r Region) Bounds() Bounds {
	min := geom.Vec{
		X: r.Origin.X * r.ChunkDimension.Width,
		Z: r.Origin.Z * r.ChunkDimension.Length,
	}
	return Bounds{
		Min: min,
		Max: geom.Vec{
			X: min.X + r.ChunksPerAxis*r.ChunkDimension.Width - 1,
			Y: r.ChunkDimension.Height - 1,
			Z: min.Z + r.ChunksPerAxis*r.ChunkDimension.Length - 1,
		},
	}
}

// Intersects reports whether b and o share at least one cell. Bounds with
// Max below Min on any axis are empty.
func (b Bounds) Intersects(o Bounds) bool {
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z &&
		o.Min.X <= o.Max.X && o.Min.Y <= o.Max.Y && o.Min.Z <= o.Max.Z &&
		b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y &&
		b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

// Chunks lists every chunk in the region in row-major order.
func (r Region) Chunks() []ChunkCoord {
	out := make([]ChunkCoord, 0, r.ChunksPerAxis*r.ChunksPerAxis)
	for z := 0; z < r.ChunksPerAxis; z++ {
		for x := 0; x < r.ChunksPerAxis; x++ {
			out = append(out, ChunkCoord{X: r.Origin.X + x, Z: r.Origin.Z + z})
		}
	}
	return out
}

func floorDiv(value, size int) int {
	if size <= 0 {
		return 0
	}
	if value >= 0 {
		return value / size
	}
	return -((-value - 1) / size) - 1
}
