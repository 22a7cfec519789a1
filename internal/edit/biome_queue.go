package edit

import (
	"errors"
	"fmt"

	"voxeledit/internal/geom"
	"voxeledit/internal/shape"
	"voxeledit/internal/world"
)

// BiomeChange reassigns the biome of column (X, Z).
type BiomeChange struct {
	X    int
	Z    int
	From string
	To   string
}

// BiomeChangeQueue applies biome changes column by column.
type BiomeChangeQueue struct {
	editor  *Editor
	grid    Grid
	changes []BiomeChange

	state   State
	cursor  int
	applied int
	flushed bool
}

// NewBiomeChangeQueue assigns biome to every column of the footprint of s
// placed at at. Columns outside the loaded volume are left out.
func NewBiomeChangeQueue(e *Editor, at geom.Vec, s shape.Shape, biome string) *BiomeChangeQueue {
	q := &BiomeChangeQueue{editor: e}
	if e != nil {
		q.grid = e.grid
	}
	if s == nil || q.grid == nil {
		return q
	}
	w, h, l := s.Dimensions()
	for z := 0; z < l; z++ {
		for x := 0; x < w; x++ {
			covered := false
			for y := 0; y < h && !covered; y++ {
				covered = s.Test(x, y, z)
			}
			if !covered {
				continue
			}
			pos := shape.WorldPos(s, at, x, 0, z)
			from, ok := q.grid.Biome(pos.X, pos.Z)
			if !ok {
				continue
			}
			q.changes = append(q.changes, BiomeChange{X: pos.X, Z: pos.Z, From: from, To: biome})
		}
	}
	return q
}

func (q *BiomeChangeQueue) Flush() error {
	return flushQueue(q, &q.flushed)
}

func (q *BiomeChangeQueue) Perform(budget int) (int, error) {
	if err := checkBudget(budget); err != nil {
		return 0, err
	}
	if q.state == StateDone {
		return 0, nil
	}
	if q.grid == nil {
		return 0, ErrNoEditor
	}
	q.state = StateIncremental

	done := 0
	for q.cursor < len(q.changes) && done < budget {
		c := q.changes[q.cursor]
		q.cursor++
		if err := q.grid.SetBiome(c.X, c.Z, c.To); err != nil {
			if errors.Is(err, world.ErrOutOfBounds) {
				continue
			}
			return done, fmt.Errorf("set biome of column (%d, %d): %w", c.X, c.Z, err)
		}
		done++
		q.applied++
	}
	if q.cursor >= len(q.changes) {
		q.state = StateDone
	}
	return done, nil
}

func (q *BiomeChangeQueue) Finished() bool {
	return q.state == StateDone
}

func (q *BiomeChangeQueue) Reset() {
	q.state = StateUnstarted
	q.cursor = 0
	q.applied = 0
}

func (q *BiomeChangeQueue) State() State { return q.state }
func (q *BiomeChangeQueue) Volume() int  { return len(q.changes) }
func (q *BiomeChangeQueue) Applied() int { return q.applied }
func (q *BiomeChangeQueue) Kind() string { return "biome" }

// Changes returns a copy of the per-column changes.
func (q *BiomeChangeQueue) Changes() []BiomeChange {
	return append([]BiomeChange(nil), q.changes...)
}

func (q *BiomeChangeQueue) owner() *Editor { return q.editor }

func (q *BiomeChangeQueue) inverse() (ChangeQueue, error) {
	inv := &BiomeChangeQueue{editor: q.editor, grid: q.grid}
	inv.changes = make([]BiomeChange, 0, len(q.changes))
	for i := len(q.changes) - 1; i >= 0; i-- {
		c := q.changes[i]
		inv.changes = append(inv.changes, BiomeChange{X: c.X, Z: c.Z, From: c.To, To: c.From})
	}
	return inv, nil
}

func (q *BiomeChangeQueue) bind(e *Editor) ChangeQueue {
	c := &BiomeChangeQueue{editor: e, grid: q.grid, changes: q.changes}
	if e != nil {
		c.grid = e.grid
	}
	return c
}
