package edit

import (
	"errors"
	"fmt"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
	"voxeledit/internal/world"
)

// BlockChange moves the cell at Pos from From to To. From is the material
// observed when the change was built.
type BlockChange struct {
	Pos  geom.Vec
	From material.Material
	To   material.Material
}

// BlockChangeQueue applies an explicit list of changes. Changes away from a
// sensitive material run first and changes towards one run last, so a
// reliant block is never written before its support or left behind after
// its support is gone. Everything before the marker is applied within a
// single Perform call.
type BlockChangeQueue struct {
	editor       *Editor
	grid         Grid
	intermediate material.Material
	applyPhysics bool

	inputs []BlockChange
	front  []BlockChange
	middle []BlockChange
	back   []BlockChange

	ordered []BlockChange
	marker  int
	locked  bool

	state   State
	cursor  int
	applied int
	flushed bool
}

// NewBlockChangeQueue creates an empty queue bound to e.
func NewBlockChangeQueue(e *Editor) *BlockChangeQueue {
	q := &BlockChangeQueue{editor: e}
	if e != nil {
		q.grid = e.grid
		q.intermediate = e.opts.Intermediate
		q.applyPhysics = e.opts.ApplyPhysics
	}
	return q
}

// Add classifies change and inserts it. Adding to a queue that has been
// flushed or performed returns ErrQueueLocked.
func (q *BlockChangeQueue) Add(change BlockChange) error {
	if q.locked {
		return ErrQueueLocked
	}
	q.inputs = append(q.inputs, change)

	fromSensitive := change.From.Sensitive()
	toSensitive := change.To.Sensitive()
	switch {
	case fromSensitive && toSensitive:
		q.front = append(q.front, BlockChange{Pos: change.Pos, From: change.From, To: q.intermediate})
		q.back = append(q.back, BlockChange{Pos: change.Pos, From: q.intermediate, To: change.To})
	case fromSensitive:
		q.front = append(q.front, change)
	case toSensitive:
		q.back = append(q.back, change)
	default:
		q.middle = append(q.middle, change)
	}
	return nil
}

// Len reports the number of internal changes, counting each split change twice.
func (q *BlockChangeQueue) Len() int {
	if q.locked {
		return len(q.ordered)
	}
	return len(q.front) + len(q.middle) + len(q.back)
}

// Marker is the index of the first change that may be deferred to a later
// Perform call.
func (q *BlockChangeQueue) Marker() int {
	if q.locked {
		return q.marker
	}
	return len(q.front)
}

// Changes returns the internal changes in execution order.
func (q *BlockChangeQueue) Changes() []BlockChange {
	if q.locked {
		return append([]BlockChange(nil), q.ordered...)
	}
	return q.order()
}

// order lays out front and middle in reverse insertion order followed by back.
func (q *BlockChangeQueue) order() []BlockChange {
	out := make([]BlockChange, 0, len(q.front)+len(q.middle)+len(q.back))
	for i := len(q.front) - 1; i >= 0; i-- {
		out = append(out, q.front[i])
	}
	for i := len(q.middle) - 1; i >= 0; i-- {
		out = append(out, q.middle[i])
	}
	return append(out, q.back...)
}

func (q *BlockChangeQueue) lock() {
	if q.locked {
		return
	}
	q.ordered = q.order()
	q.marker = len(q.front)
	q.front, q.middle, q.back = nil, nil, nil
	q.locked = true
}

func (q *BlockChangeQueue) Flush() error {
	return flushQueue(q, &q.flushed)
}

func (q *BlockChangeQueue) Perform(budget int) (int, error) {
	if err := checkBudget(budget); err != nil {
		return 0, err
	}
	if q.state == StateDone {
		return 0, nil
	}
	if q.grid == nil {
		return 0, ErrNoEditor
	}
	if q.state == StateUnstarted {
		q.lock()
		q.state = StateIncremental
	}

	done := 0
	for q.cursor < len(q.ordered) {
		if done >= budget && q.cursor >= q.marker {
			break
		}
		change := q.ordered[q.cursor]
		q.cursor++
		if err := q.grid.SetMaterial(change.Pos, change.To, q.applyPhysics); err != nil {
			if errors.Is(err, world.ErrOutOfBounds) {
				continue
			}
			return done, fmt.Errorf("set %v to %s: %w", change.Pos, change.To, err)
		}
		done++
		q.applied++
	}
	if q.cursor >= len(q.ordered) {
		q.state = StateDone
	}
	return done, nil
}

func (q *BlockChangeQueue) Finished() bool {
	return q.state == StateDone
}

func (q *BlockChangeQueue) Reset() {
	q.state = StateUnstarted
	q.cursor = 0
	q.applied = 0
}

func (q *BlockChangeQueue) State() State { return q.state }
func (q *BlockChangeQueue) Volume() int  { return len(q.inputs) }
func (q *BlockChangeQueue) Applied() int { return q.applied }
func (q *BlockChangeQueue) Kind() string { return "blocks" }

func (q *BlockChangeQueue) owner() *Editor { return q.editor }

// inverse replays the inputs backwards with From and To swapped.
func (q *BlockChangeQueue) inverse() (ChangeQueue, error) {
	inv := NewBlockChangeQueue(q.editor)
	inv.intermediate = q.intermediate
	for i := len(q.inputs) - 1; i >= 0; i-- {
		c := q.inputs[i]
		if err := inv.Add(BlockChange{Pos: c.Pos, From: c.To, To: c.From}); err != nil {
			return nil, err
		}
	}
	inv.lock()
	return inv, nil
}

// bind returns an unstarted copy that runs on e. The copy shares the
// locked change list, which is never written again.
func (q *BlockChangeQueue) bind(e *Editor) ChangeQueue {
	q.lock()
	c := &BlockChangeQueue{
		editor:       e,
		grid:         q.grid,
		intermediate: q.intermediate,
		applyPhysics: q.applyPhysics,
		inputs:       q.inputs,
		ordered:      q.ordered,
		marker:       q.marker,
		locked:       true,
	}
	if e != nil {
		c.grid = e.grid
		c.applyPhysics = e.opts.ApplyPhysics
	}
	return c
}
