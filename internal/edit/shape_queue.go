package edit

import (
	"errors"
	"fmt"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
	"voxeledit/internal/shape"
	"voxeledit/internal/world"
)

// scanCellsPerWrite is how many inspected cells cost as much budget as one
// grid write.
const scanCellsPerWrite = 16

// ShapeChangeQueue rasterises a material shape into the grid in two passes.
// The breakable pass walks layers from the top down and replaces cells that
// currently hold liquid or reliant material. The incremental pass then
// walks the whole box z-major and writes every other cell.
type ShapeChangeQueue struct {
	editor        *Editor
	grid          Grid
	at            geom.Vec
	shape         shape.MaterialShape
	match         func(existing material.Material) bool
	applyPhysics  bool
	progressEvery int

	state   State
	layer   int
	index   int
	applied int
	ticks   int
	flushed bool
}

// NewShapeChangeQueue places s at world position at. match, when non-nil,
// restricts the queue to cells whose existing material satisfies it.
func NewShapeChangeQueue(e *Editor, at geom.Vec, s shape.MaterialShape, match func(material.Material) bool) *ShapeChangeQueue {
	q := &ShapeChangeQueue{editor: e, at: at, shape: s, match: match}
	if e != nil {
		q.grid = e.grid
		q.applyPhysics = e.opts.ApplyPhysics
		q.progressEvery = e.opts.ProgressEveryTicks
	}
	return q
}

func (q *ShapeChangeQueue) Flush() error {
	return flushQueue(q, &q.flushed)
}

func (q *ShapeChangeQueue) total() int {
	return shape.Volume(q.shape)
}

// Perform credits each breakable layer with the larger of its writes and
// its area in scan units, so a layer is never split across calls. The
// incremental pass credits one per write and bounds scanning to
// budget*scanCellsPerWrite cells.
func (q *ShapeChangeQueue) Perform(budget int) (int, error) {
	if err := checkBudget(budget); err != nil {
		return 0, err
	}
	if q.state == StateDone {
		return 0, nil
	}
	if q.grid == nil {
		return 0, ErrNoEditor
	}

	w, h, l := q.shape.Dimensions()
	if q.state == StateUnstarted {
		if w <= 0 || h <= 0 || l <= 0 {
			q.state = StateDone
			return 0, nil
		}
		q.state = StateBreakable
		q.layer = h - 1
		q.ticks = 0
	}

	credited := 0
	if q.state == StateBreakable {
		layerCost := ceilDiv(w*l, scanCellsPerWrite)
		for credited < budget && q.layer >= 0 {
			writes, err := q.breakLayer(q.layer, w, l)
			if err != nil {
				return credited + writes, err
			}
			credited += max(writes, layerCost)
			q.layer--
		}
		if q.layer >= 0 {
			q.progress(h-1-q.layer, h)
			return credited, nil
		}
		q.state = StateIncremental
		q.index = 0
		q.ticks = 0
	}

	if credited >= budget {
		return credited, nil
	}

	total := q.total()
	allowance := budget - credited
	scanLimit := allowance * scanCellsPerWrite
	writes, scanned := 0, 0
	for q.index < total && writes < allowance && scanned < scanLimit {
		i := q.index
		q.index++
		scanned++
		x := i % w
		y := (i / w) % h
		z := i / (w * h)
		wrote, err := q.apply(x, y, z, false)
		if err != nil {
			return credited + writes, err
		}
		if wrote {
			writes++
		}
	}
	credited += max(writes, ceilDiv(scanned, scanCellsPerWrite))
	if q.index >= total {
		q.state = StateDone
		return credited, nil
	}
	q.progress(q.index, total)
	return credited, nil
}

func (q *ShapeChangeQueue) breakLayer(y, w, l int) (int, error) {
	writes := 0
	for z := 0; z < l; z++ {
		for x := 0; x < w; x++ {
			wrote, err := q.apply(x, y, z, true)
			if err != nil {
				return writes, err
			}
			if wrote {
				writes++
			}
		}
	}
	return writes, nil
}

// apply writes one cell when it belongs to the current pass. breakable
// selects cells whose existing material is sensitive.
func (q *ShapeChangeQueue) apply(x, y, z int, breakable bool) (bool, error) {
	if !q.shape.Test(x, y, z) {
		return false, nil
	}
	pos := shape.WorldPos(q.shape, q.at, x, y, z)
	existing, ok := q.grid.Material(pos)
	if !ok {
		return false, nil
	}
	if existing.Sensitive() != breakable {
		return false, nil
	}
	target := q.shape.Material(x, y, z)
	if existing == target {
		return false, nil
	}
	if q.match != nil && !q.match(existing) {
		return false, nil
	}
	if err := q.grid.SetMaterial(pos, target, q.applyPhysics); err != nil {
		if errors.Is(err, world.ErrOutOfBounds) {
			return false, nil
		}
		return false, fmt.Errorf("set %v to %s: %w", pos, target, err)
	}
	q.applied++
	return true, nil
}

func (q *ShapeChangeQueue) progress(done, total int) {
	q.ticks++
	if q.progressEvery <= 0 || q.ticks%q.progressEvery != 0 || q.editor == nil {
		return
	}
	q.editor.notify("%s: %s phase %d/%d", q.Kind(), q.state, done, total)
}

func (q *ShapeChangeQueue) Finished() bool {
	return q.state == StateDone
}

func (q *ShapeChangeQueue) Reset() {
	q.state = StateUnstarted
	q.layer = 0
	q.index = 0
	q.applied = 0
	q.ticks = 0
}

func (q *ShapeChangeQueue) State() State { return q.state }
func (q *ShapeChangeQueue) Volume() int  { return q.total() }
func (q *ShapeChangeQueue) Applied() int { return q.applied }
func (q *ShapeChangeQueue) Kind() string { return "shape" }

func (q *ShapeChangeQueue) owner() *Editor { return q.editor }

// inverse snapshots every masked cell the queue would change and restores
// it through a BlockChangeQueue.
func (q *ShapeChangeQueue) inverse() (ChangeQueue, error) {
	inv := NewBlockChangeQueue(q.editor)
	w, h, l := q.shape.Dimensions()
	for z := 0; z < l; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if !q.shape.Test(x, y, z) {
					continue
				}
				pos := shape.WorldPos(q.shape, q.at, x, y, z)
				existing, ok := q.grid.Material(pos)
				if !ok {
					continue
				}
				target := q.shape.Material(x, y, z)
				if existing == target {
					continue
				}
				if q.match != nil && !q.match(existing) {
					continue
				}
				if err := inv.Add(BlockChange{Pos: pos, From: target, To: existing}); err != nil {
					return nil, err
				}
			}
		}
	}
	inv.lock()
	return inv, nil
}

func (q *ShapeChangeQueue) bind(e *Editor) ChangeQueue {
	c := &ShapeChangeQueue{
		editor:        e,
		grid:          q.grid,
		at:            q.at,
		shape:         q.shape,
		match:         q.match,
		applyPhysics:  q.applyPhysics,
		progressEvery: q.progressEvery,
	}
	if e != nil {
		c.grid = e.grid
		c.applyPhysics = e.opts.ApplyPhysics
		c.progressEvery = e.opts.ProgressEveryTicks
	}
	return c
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
