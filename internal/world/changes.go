package world

import (
	"sort"

	"voxeledit/internal/geom"
)

type ChangeReason string

const (
	ReasonEdit     ChangeReason = "edit"
	ReasonCollapse ChangeReason = "collapse"
)

var reasonPriority = map[ChangeReason]int{
	ReasonEdit:     1,
	ReasonCollapse: 2,
}

// BlockChange captures the before/after state of a block mutation.
type BlockChange struct {
	Coord  geom.Vec     `json:"coord"`
	Before Block        `json:"before"`
	After  Block        `json:"after"`
	Reason ChangeReason `json:"reason"`
}

// BiomeChange records a biome reassignment of one column.
type BiomeChange struct {
	X      int    `json:"x"`
	Z      int    `json:"z"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type columnKey struct{ x, z int }

// ChangeSummary accumulates block mutations between two drains. Repeated
// writes to one coordinate collapse into a single change that keeps the
// oldest Before and the latest After.
type ChangeSummary struct {
	changes map[geom.Vec]BlockChange
	biomes  map[columnKey]BiomeChange
	chunks  map[ChunkCoord]struct{}
}

func NewChangeSummary() *ChangeSummary {
	return &ChangeSummary{
		changes: make(map[geom.Vec]BlockChange),
		biomes:  make(map[columnKey]BiomeChange),
		chunks:  make(map[ChunkCoord]struct{}),
	}
}

func (s *ChangeSummary) AddChange(change BlockChange) {
	if s.changes == nil {
		s.changes = make(map[geom.Vec]BlockChange)
	}
	if existing, ok := s.changes[change.Coord]; ok {
		change.Before = existing.Before
		if reasonPriority[existing.Reason] > reasonPriority[change.Reason] {
			change.Reason = existing.Reason
		}
	}
	s.changes[change.Coord] = change
}

func (s *ChangeSummary) AddBiome(change BiomeChange) {
	if s.biomes == nil {
		s.biomes = make(map[columnKey]BiomeChange)
	}
	key := columnKey{x: change.X, z: change.Z}
	if existing, ok := s.biomes[key]; ok {
		change.Before = existing.Before
	}
	s.biomes[key] = change
}

func (s *ChangeSummary) AddChunk(coord ChunkCoord) {
	if s.chunks == nil {
		s.chunks = make(map[ChunkCoord]struct{})
	}
	s.chunks[coord] = struct{}{}
}

func (s *ChangeSummary) Len() int {
	return len(s.changes) + len(s.biomes)
}

// Changes returns the accumulated changes ordered by coordinate.
func (s *ChangeSummary) Changes() []BlockChange {
	if len(s.changes) == 0 {
		return nil
	}
	out := make([]BlockChange, 0, len(s.changes))
	for _, change := range s.changes {
		out = append(out, change)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Coord, out[j].Coord
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
	return out
}

func (s *ChangeSummary) BiomeChanges() []BiomeChange {
	if len(s.biomes) == 0 {
		return nil
	}
	out := make([]BiomeChange, 0, len(s.biomes))
	for _, change := range s.biomes {
		out = append(out, change)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Z != out[j].Z {
			return out[i].Z < out[j].Z
		}
		return out[i].X < out[j].X
	})
	return out
}

func (s *ChangeSummary) DirtyChunks() []ChunkCoord {
	if len(s.chunks) == 0 {
		return nil
	}
	out := make([]ChunkCoord, 0, len(s.chunks))
	for coord := range s.chunks {
		out = append(out, coord)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Z != out[j].Z {
			return out[i].Z < out[j].Z
		}
		return out[i].X < out[j].X
	})
	return out
}

func (s *ChangeSummary) CollapsedBlocks() []geom.Vec {
	var out []geom.Vec
	for coord, change := range s.changes {
		if change.Reason == ReasonCollapse {
			out = append(out, coord)
		}
	}
	return out
}

func (s *ChangeSummary) Merge(other *ChangeSummary) {
	if other == nil {
		return
	}
	for _, change := range other.changes {
		s.AddChange(change)
	}
	for _, change := range other.biomes {
		s.AddBiome(change)
	}
	for coord := range other.chunks {
		s.AddChunk(coord)
	}
}
