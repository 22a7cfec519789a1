package world

import (
	"fmt"
	"sync"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
)

// Block is the stored form of a cell. The zero value is air.
type Block struct {
	Material string
}

// Column is the vertical run of blocks above one (x, z) position plus the
// biome of that position. Blocks[0] sits at the bottom of the chunk.
type Column struct {
	Biome  string
	Blocks []Block
}

func (c Column) empty() bool {
	return c.Biome == "" && len(c.Blocks) == 0
}

func (c Column) clone() Column {
	out := Column{Biome: c.Biome}
	if len(c.Blocks) > 0 {
		out.Blocks = make([]Block, len(c.Blocks))
		copy(out.Blocks, c.Blocks)
	}
	return out
}

// Chunk stores a column-oriented block grid. Columns are cached after the
// first read and written through to the backing storage.
type Chunk struct {
	Key       ChunkCoord
	Bounds    Bounds
	mu        sync.RWMutex
	store     BlockStorage
	dimension Dimensions
	columns   map[int]Column
}

func NewChunk(key ChunkCoord, bounds Bounds, dim Dimensions, store BlockStorage) *Chunk {
	return &Chunk{
		Key:       key,
		Bounds:    bounds,
		store:     store,
		dimension: dim,
		columns:   make(map[int]Column),
	}
}

func (c *Chunk) columnIndex(localX, localZ int) int {
	return localZ*c.dimension.Width + localX
}

func blockIsAir(block Block) bool {
	return block.Material == "" || block.Material == material.AirID
}

func trimColumn(blocks []Block) []Block {
	end := len(blocks)
	for end > 0 && blockIsAir(blocks[end-1]) {
		end--
	}
	return blocks[:end]
}

func (c *Chunk) GlobalToLocal(pos geom.Vec) (int, int, int, bool) {
	if pos.X < c.Bounds.Min.X || pos.X > c.Bounds.Max.X ||
		pos.Y < c.Bounds.Min.Y || pos.Y > c.Bounds.Max.Y ||
		pos.Z < c.Bounds.Min.Z || pos.Z > c.Bounds.Max.Z {
		return 0, 0, 0, false
	}
	return pos.X - c.Bounds.Min.X,
		pos.Y - c.Bounds.Min.Y,
		pos.Z - c.Bounds.Min.Z, true
}

func (c *Chunk) inColumnRange(localX, localZ int) bool {
	return localX >= 0 && localZ >= 0 && localX < c.dimension.Width && localZ < c.dimension.Length
}

// columnLocked returns the cached column, loading it from storage on a miss.
// Callers must hold c.mu for writing.
func (c *Chunk) columnLocked(idx int) (Column, error) {
	if col, ok := c.columns[idx]; ok {
		return col, nil
	}
	if c.store == nil {
		return Column{}, nil
	}
	col, ok, err := c.store.LoadColumn(idx)
	if err != nil {
		return Column{}, fmt.Errorf("chunk %v load column %d: %w", c.Key, idx, err)
	}
	if !ok {
		col = Column{}
	}
	c.columns[idx] = col
	return col, nil
}

func (c *Chunk) persistLocked(idx int, col Column) error {
	col.Blocks = trimColumn(col.Blocks)
	c.columns[idx] = col
	if c.store == nil {
		return nil
	}
	var err error
	if col.empty() {
		err = c.store.Delete(idx)
	} else {
		err = c.store.SaveColumn(idx, col)
	}
	if err != nil {
		return fmt.Errorf("chunk %v persist column %d: %w", c.Key, idx, err)
	}
	return nil
}

func (c *Chunk) LocalBlock(localX, localY, localZ int) (Block, bool, error) {
	if !c.inColumnRange(localX, localZ) || localY < 0 || localY >= c.dimension.Height {
		return Block{}, false, nil
	}
	idx := c.columnIndex(localX, localZ)

	c.mu.RLock()
	col, cached := c.columns[idx]
	c.mu.RUnlock()
	if !cached {
		c.mu.Lock()
		var err error
		col, err = c.columnLocked(idx)
		c.mu.Unlock()
		if err != nil {
			return Block{}, false, err
		}
	}
	if localY >= len(col.Blocks) {
		return Block{}, true, nil
	}
	return col.Blocks[localY], true, nil
}

func (c *Chunk) SetLocalBlock(localX, localY, localZ int, block Block) error {
	if !c.inColumnRange(localX, localZ) || localY < 0 || localY >= c.dimension.Height {
		return fmt.Errorf("local block (%d, %d, %d) outside chunk %v", localX, localY, localZ, c.Key)
	}
	idx := c.columnIndex(localX, localZ)

	c.mu.Lock()
	defer c.mu.Unlock()
	col, err := c.columnLocked(idx)
	if err != nil {
		return err
	}
	col = col.clone()
	if localY >= len(col.Blocks) {
		if blockIsAir(block) {
			return nil
		}
		expanded := make([]Block, localY+1)
		copy(expanded, col.Blocks)
		col.Blocks = expanded
	}
	if blockIsAir(block) {
		col.Blocks[localY] = Block{}
	} else {
		col.Blocks[localY] = block
	}
	return c.persistLocked(idx, col)
}

func (c *Chunk) LocalBiome(localX, localZ int) (string, bool, error) {
	if !c.inColumnRange(localX, localZ) {
		return "", false, nil
	}
	idx := c.columnIndex(localX, localZ)
	c.mu.Lock()
	defer c.mu.Unlock()
	col, err := c.columnLocked(idx)
	if err != nil {
		return "", false, err
	}
	return col.Biome, true, nil
}

func (c *Chunk) SetLocalBiome(localX, localZ int, biome string) error {
	if !c.inColumnRange(localX, localZ) {
		return fmt.Errorf("local column (%d, %d) outside chunk %v", localX, localZ, c.Key)
	}
	idx := c.columnIndex(localX, localZ)
	c.mu.Lock()
	defer c.mu.Unlock()
	col, err := c.columnLocked(idx)
	if err != nil {
		return err
	}
	col = col.clone()
	col.Biome = biome
	return c.persistLocked(idx, col)
}

// SetColumnBlocks replaces the entire vertical column at the given local coordinates.
func (c *Chunk) SetColumnBlocks(localX, localZ int, blocks []Block) error {
	if !c.inColumnRange(localX, localZ) {
		return fmt.Errorf("local column (%d, %d) outside chunk %v", localX, localZ, c.Key)
	}
	if len(blocks) > c.dimension.Height {
		blocks = blocks[:c.dimension.Height]
	}
	idx := c.columnIndex(localX, localZ)
	c.mu.Lock()
	defer c.mu.Unlock()
	col, err := c.columnLocked(idx)
	if err != nil {
		return err
	}
	next := Column{Biome: col.Biome, Blocks: make([]Block, len(blocks))}
	copy(next.Blocks, blocks)
	return c.persistLocked(idx, next)
}

// ForEachBlock iterates over non-air blocks, invoking fn with global coordinates.
func (c *Chunk) ForEachBlock(fn func(pos geom.Vec, block Block) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		err := c.store.ForEach(func(idx int, col Column) bool {
			if _, ok := c.columns[idx]; !ok {
				c.columns[idx] = col
			}
			return true
		})
		if err != nil {
			return fmt.Errorf("chunk %v iterate blocks: %w", c.Key, err)
		}
	}

	for idx, col := range c.columns {
		localX := idx % c.dimension.Width
		localZ := idx / c.dimension.Width
		for localY, block := range col.Blocks {
			if blockIsAir(block) {
				continue
			}
			pos := geom.Vec{
				X: c.Bounds.Min.X + localX,
				Y: c.Bounds.Min.Y + localY,
				Z: c.Bounds.Min.Z + localZ,
			}
			if !fn(pos, block) {
				return nil
			}
		}
	}
	return nil
}

func (c *Chunk) Dimensions() Dimensions {
	return c.dimension
}

// HasStoredBlocks reports whether the chunk already has any persisted block data.
func (c *Chunk) HasStoredBlocks() (bool, error) {
	c.mu.RLock()
	store := c.store
	c.mu.RUnlock()
	if store == nil {
		return false, nil
	}

	hasBlocks := false
	if err := store.ForEach(func(_ int, col Column) bool {
		if len(trimColumn(col.Blocks)) > 0 {
			hasBlocks = true
			return false
		}
		return true
	}); err != nil {
		return false, fmt.Errorf("chunk %v check stored blocks: %w", c.Key, err)
	}
	return hasBlocks, nil
}

// Close releases any resources held by the chunk's underlying storage.
func (c *Chunk) Close() error {
	c.mu.Lock()
	store := c.store
	c.store = nil
	c.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Close()
}
