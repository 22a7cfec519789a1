package server

import (
	"sort"
	"time"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
	"voxeledit/internal/session"
	"voxeledit/internal/world"
)

// deltaAccumulator groups drained world changes per chunk until the next
// broadcast.
type deltaAccumulator struct {
	blocks map[world.ChunkCoord]map[geom.Vec]world.BlockChange
	biomes map[world.ChunkCoord]map[[2]int]world.BiomeChange
	now    func() time.Time
}

var deltaPriority = map[world.ChangeReason]int{
	world.ReasonEdit:     1,
	world.ReasonCollapse: 2,
}

func newDeltaAccumulator() *deltaAccumulator {
	return &deltaAccumulator{
		blocks: make(map[world.ChunkCoord]map[geom.Vec]world.BlockChange),
		biomes: make(map[world.ChunkCoord]map[[2]int]world.BiomeChange),
		now:    time.Now,
	}
}

// addSummary files every change of summary under its chunk. Changes outside
// region are dropped.
func (d *deltaAccumulator) addSummary(region world.Region, summary *world.ChangeSummary) {
	if summary == nil || summary.Len() == 0 {
		return
	}
	for _, change := range summary.Changes() {
		chunk, ok := region.LocateBlock(change.Coord)
		if !ok {
			continue
		}
		d.add(chunk, change)
	}
	for _, change := range summary.BiomeChanges() {
		chunk, ok := region.LocateColumn(change.X, change.Z)
		if !ok {
			continue
		}
		d.addBiome(chunk, change)
	}
}

func (d *deltaAccumulator) add(chunk world.ChunkCoord, change world.BlockChange) {
	byBlock := d.blocks[chunk]
	if byBlock == nil {
		byBlock = make(map[geom.Vec]world.BlockChange)
		d.blocks[chunk] = byBlock
	}
	if existing, ok := byBlock[change.Coord]; ok {
		change.Before = existing.Before
		if priority(existing.Reason) > priority(change.Reason) {
			change.Reason = existing.Reason
		}
	}
	byBlock[change.Coord] = change
}

func (d *deltaAccumulator) addBiome(chunk world.ChunkCoord, change world.BiomeChange) {
	byColumn := d.biomes[chunk]
	if byColumn == nil {
		byColumn = make(map[[2]int]world.BiomeChange)
		d.biomes[chunk] = byColumn
	}
	key := [2]int{change.X, change.Z}
	if existing, ok := byColumn[key]; ok {
		change.Before = existing.Before
	}
	byColumn[key] = change
}

func (d *deltaAccumulator) empty() bool {
	return len(d.blocks) == 0 && len(d.biomes) == 0
}

// flush returns one delta per touched chunk, numbered from *seq, and resets
// the accumulator. Cells are sorted so identical edits produce identical
// payloads.
func (d *deltaAccumulator) flush(seq *uint64) []session.ChunkDelta {
	if d.empty() {
		return nil
	}
	chunks := make(map[world.ChunkCoord]struct{}, len(d.blocks)+len(d.biomes))
	for c := range d.blocks {
		chunks[c] = struct{}{}
	}
	for c := range d.biomes {
		chunks[c] = struct{}{}
	}
	ordered := make([]world.ChunkCoord, 0, len(chunks))
	for c := range chunks {
		ordered = append(ordered, c)
	}
	sortChunks(ordered)

	now := d.now().UTC()
	deltas := make([]session.ChunkDelta, 0, len(ordered))
	for _, chunk := range ordered {
		delta := session.ChunkDelta{
			ChunkX:    chunk.X,
			ChunkZ:    chunk.Z,
			Seq:       *seq,
			Timestamp: now,
		}
		*seq++
		if blocks := d.blocks[chunk]; len(blocks) > 0 {
			delta.Blocks = make([]session.BlockDelta, 0, len(blocks))
			for coord, change := range blocks {
				delta.Blocks = append(delta.Blocks, session.BlockDelta{
					X:        coord.X,
					Y:        coord.Y,
					Z:        coord.Z,
					Material: encodeMaterial(change.After),
					Reason:   string(change.Reason),
				})
			}
			sortBlockDeltas(delta.Blocks)
		}
		if biomes := d.biomes[chunk]; len(biomes) > 0 {
			delta.Biomes = make([]session.BiomeDelta, 0, len(biomes))
			for _, change := range biomes {
				delta.Biomes = append(delta.Biomes, session.BiomeDelta{X: change.X, Z: change.Z, Biome: change.After})
			}
			sortBiomeDeltas(delta.Biomes)
		}
		deltas = append(deltas, delta)
	}

	d.blocks = make(map[world.ChunkCoord]map[geom.Vec]world.BlockChange)
	d.biomes = make(map[world.ChunkCoord]map[[2]int]world.BiomeChange)
	return deltas
}

func priority(reason world.ChangeReason) int {
	if v, ok := deltaPriority[reason]; ok {
		return v
	}
	return 0
}

func encodeMaterial(b world.Block) string {
	if b.Material == "" {
		return material.AirID
	}
	return b.Material
}

func sortChunks(chunks []world.ChunkCoord) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Z != chunks[j].Z {
			return chunks[i].Z < chunks[j].Z
		}
		return chunks[i].X < chunks[j].X
	})
}

func sortBlockDeltas(blocks []session.BlockDelta) {
	sort.Slice(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
}

func sortBiomeDeltas(biomes []session.BiomeDelta) {
	sort.Slice(biomes, func(i, j int) bool {
		if biomes[i].Z != biomes[j].Z {
			return biomes[i].Z < biomes[j].Z
		}
		return biomes[i].X < biomes[j].X
	})
}
