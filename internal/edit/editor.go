package edit

import (
	"fmt"
	"sync"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
	"voxeledit/internal/shape"
)

const DefaultMaxUndoVolume = 2_000_000

// Options configures how an Editor builds and runs change queues.
type Options struct {
	// Intermediate fills a cell between two sensitive materials.
	Intermediate       material.Material
	ApplyPhysics       bool
	MaxUndoVolume      int
	// MaxShapeVolume rejects shapes whose bounding box holds more cells.
	// Zero means no limit.
	MaxShapeVolume     int
	ProgressEveryTicks int
	// Materials, when set, rejects materials it does not define.
	Materials *material.Registry
	Metrics   *Metrics
	Journal   Journal
}

// BlockPlacement asks for Material at Pos.
type BlockPlacement struct {
	Pos      geom.Vec
	Material material.Material
}

// Editor is the per-owner edit context: the owner, its pending FIFO of
// change queues and its undo history.
type Editor struct {
	grid    Grid
	opts    Options
	history *UndoQueue
	metrics *Metrics
	journal Journal
	id      string

	mu       sync.Mutex
	owner    Owner
	detached bool
	pending  []ChangeQueue
}

// NewEditor binds owner to grid. history may be a queue reclaimed from the
// offline handler; nil starts a fresh one.
func NewEditor(owner Owner, grid Grid, history *UndoQueue, opts Options) *Editor {
	if history == nil {
		history = NewUndoQueue(DefaultUndoHistorySize)
	}
	if opts.MaxUndoVolume == 0 {
		opts.MaxUndoVolume = DefaultMaxUndoVolume
	}
	e := &Editor{
		grid:    grid,
		opts:    opts,
		history: history,
		metrics: opts.Metrics,
		journal: opts.Journal,
		id:      owner.ID(),
		owner:   owner,
	}
	history.SetSink(e.replay)
	return e
}

func (e *Editor) ID() string { return e.id }

func (e *Editor) History() *UndoQueue { return e.history }

func (e *Editor) Owner() Owner {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

// Attach hands the editor to a reconnected owner.
func (e *Editor) Attach(owner Owner) {
	e.mu.Lock()
	e.owner = owner
	e.detached = false
	e.mu.Unlock()
	e.history.SetSink(e.replay)
}

// Detach marks the editor ownerless if owner is still the attached one.
// Pending work keeps draining; messages are dropped until Attach.
func (e *Editor) Detach(owner Owner) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.owner != owner {
		return false
	}
	e.detached = true
	return true
}

func (e *Editor) Detached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detached
}

func (e *Editor) notify(format string, args ...any) {
	e.mu.Lock()
	owner, detached := e.owner, e.detached
	e.mu.Unlock()
	if detached || owner == nil {
		return
	}
	owner.SendMessage(format, args...)
}

func (e *Editor) checkShape(s shape.Shape) error {
	if s == nil {
		return ErrNilShape
	}
	if limit := e.opts.MaxShapeVolume; limit > 0 {
		if vol := shape.Volume(s); vol > limit {
			return fmt.Errorf("%w: %d cells, limit %d", ErrShapeTooLarge, vol, limit)
		}
	}
	return nil
}

func (e *Editor) checkMaterial(m material.Material) error {
	if m.ID == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownMaterial)
	}
	if e.opts.Materials != nil {
		if _, ok := e.opts.Materials.Lookup(m.ID); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMaterial, m.ID)
		}
	}
	return nil
}

// Fill writes s at position at.
func (e *Editor) Fill(at geom.Vec, s shape.MaterialShape) (*ShapeChangeQueue, error) {
	if err := e.checkShape(s); err != nil {
		return nil, err
	}
	q := NewShapeChangeQueue(e, at, s, nil)
	if err := q.Flush(); err != nil {
		return nil, err
	}
	return q, nil
}

// Replace turns every cell of s holding from into to.
func (e *Editor) Replace(at geom.Vec, s shape.Shape, from, to material.Material) (*ShapeChangeQueue, error) {
	if err := e.checkShape(s); err != nil {
		return nil, err
	}
	if err := e.checkMaterial(from); err != nil {
		return nil, err
	}
	if err := e.checkMaterial(to); err != nil {
		return nil, err
	}
	match := func(existing material.Material) bool {
		if from.IsAir() {
			return existing.IsAir()
		}
		return existing == from
	}
	q := NewShapeChangeQueue(e, at, shape.Uniform(s, to), match)
	if err := q.Flush(); err != nil {
		return nil, err
	}
	return q, nil
}

// SetBlocks writes each placement, reading the current material of every
// cell first. Cells outside the loaded volume are dropped.
func (e *Editor) SetBlocks(placements []BlockPlacement) (*BlockChangeQueue, error) {
	q := NewBlockChangeQueue(e)
	for _, p := range placements {
		if err := e.checkMaterial(p.Material); err != nil {
			return nil, err
		}
		from, ok := e.grid.Material(p.Pos)
		if !ok {
			continue
		}
		if err := q.Add(BlockChange{Pos: p.Pos, From: from, To: p.Material}); err != nil {
			return nil, err
		}
	}
	if err := q.Flush(); err != nil {
		return nil, err
	}
	return q, nil
}

// SetBiome assigns biome to the footprint of s.
func (e *Editor) SetBiome(at geom.Vec, s shape.Shape, biome string) (*BiomeChangeQueue, error) {
	if err := e.checkShape(s); err != nil {
		return nil, err
	}
	if biome == "" {
		return nil, fmt.Errorf("biome must not be empty")
	}
	q := NewBiomeChangeQueue(e, at, s, biome)
	if err := q.Flush(); err != nil {
		return nil, err
	}
	return q, nil
}

func (e *Editor) Undo(n int) (int, error) {
	return e.history.Undo(n)
}

func (e *Editor) Redo(n int) (int, error) {
	return e.history.Redo(n)
}

// replay queues an unstarted copy of a history entry on this editor.
func (e *Editor) replay(q ChangeQueue, action Action) {
	e.enqueue(q.bind(e), action)
}

// enqueue hands q to the scheduler. The journal entry is taken first: once q
// is in the FIFO the scheduler goroutine may already be performing it.
func (e *Editor) enqueue(q ChangeQueue, action Action) {
	var entry Entry
	e.mu.Lock()
	if e.journal != nil {
		entry = newEntry(e.id, action, q, nil)
	}
	e.pending = append(e.pending, q)
	e.mu.Unlock()
	if e.journal != nil {
		e.journal.Record(entry)
	}
}

// Pending reports the number of queued change queues, including the one
// being drained.
func (e *Editor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Editor) head() ChangeQueue {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return nil
	}
	return e.pending[0]
}

// pop removes q if it is still at the head of the FIFO.
func (e *Editor) pop(q ChangeQueue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) > 0 && e.pending[0] == q {
		e.pending[0] = nil
		e.pending = e.pending[1:]
	}
}

// Status is a point-in-time summary of an editor.
type Status struct {
	Owner    string `json:"owner"`
	Detached bool   `json:"detached"`
	Pending  int    `json:"pending"`
	Current  string `json:"current,omitempty"`
	History  int    `json:"history"`
	Position int    `json:"position"`
}

func (e *Editor) Status() Status {
	e.mu.Lock()
	st := Status{Owner: e.id, Detached: e.detached, Pending: len(e.pending)}
	var current ChangeQueue
	if len(e.pending) > 0 {
		current = e.pending[0]
	}
	e.mu.Unlock()
	if current != nil {
		st.Current = current.Kind()
	}
	st.History = e.history.Size()
	st.Position = e.history.Position()
	return st
}
