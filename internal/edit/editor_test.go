package edit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
	"voxeledit/internal/shape"
)

func newTestScheduler(rate int) *Scheduler {
	return NewScheduler(SchedulerOptions{BlockChangesPerSecond: rate, Logger: discardLogger()})
}

func TestEditorUndoRedoRoundTrip(t *testing.T) {
	grid := seededGrid()
	original := grid.snapshot()
	s := newTestScheduler(2000)
	e := s.Register(NewEditor(newOwner("alice"), grid, nil, testOptions()))

	_, err := e.Fill(vec(5, 5, 5), layeredSphere())
	require.NoError(t, err)
	runUntilIdle(t, s)
	filled := grid.snapshot()
	require.NotEqual(t, original, filled)

	n, err := e.Undo(1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	runUntilIdle(t, s)
	assert.Equal(t, original, grid.snapshot())

	n, err = e.Redo(1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	runUntilIdle(t, s)
	assert.Equal(t, filled, grid.snapshot())

	// Stored history is replayed from an unstarted copy every time.
	_, err = e.Undo(1)
	require.NoError(t, err)
	runUntilIdle(t, s)
	assert.Equal(t, original, grid.snapshot())
}

func TestEditorSkipsUndoForOversizedEdits(t *testing.T) {
	owner := newOwner("alice")
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	grid := newFakeGrid(4, 4, 4)
	opts := testOptions()
	opts.MaxUndoVolume = 8
	opts.Metrics = metrics
	s := newTestScheduler(1000)
	e := s.Register(NewEditor(owner, grid, nil, opts))

	q, err := e.Fill(vec(0, 0, 0), shape.Uniform(shape.Cuboid{Width: 3, Height: 3, Length: 3}, stone))
	require.NoError(t, err)
	assert.Equal(t, 27, q.Volume())
	assert.Zero(t, e.History().Size())
	require.Len(t, owner.Messages(), 1)
	assert.Contains(t, owner.Messages()[0], "undo is not available")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.undoSkips))

	runUntilIdle(t, s)
	assert.Len(t, grid.snapshot(), 27, "the edit itself still runs")
}

func TestEditorReplaceOnlyTouchesMatchingCells(t *testing.T) {
	grid := newFakeGrid(4, 1, 1)
	grid.set(vec(0, 0, 0), stone)
	grid.set(vec(1, 0, 0), stone)
	grid.set(vec(2, 0, 0), dirt)
	s := newTestScheduler(1000)
	e := s.Register(NewEditor(newOwner("alice"), grid, nil, testOptions()))
	line := shape.Cuboid{Width: 4, Height: 1, Length: 1}

	_, err := e.Replace(vec(0, 0, 0), line, stone, water)
	require.NoError(t, err)
	runUntilIdle(t, s)
	assert.Equal(t, []material.Material{water, water, dirt, air},
		[]material.Material{grid.at(0, 0, 0), grid.at(1, 0, 0), grid.at(2, 0, 0), grid.at(3, 0, 0)})

	_, err = e.Replace(vec(0, 0, 0), line, air, stone)
	require.NoError(t, err)
	runUntilIdle(t, s)
	assert.Equal(t, stone, grid.at(3, 0, 0))
	assert.Equal(t, dirt, grid.at(2, 0, 0))
}

func TestEditorSetBlocksDropsUnloadedCells(t *testing.T) {
	grid := newFakeGrid(2, 2, 2)
	grid.set(vec(1, 1, 1), water)
	s := newTestScheduler(1000)
	e := s.Register(NewEditor(newOwner("alice"), grid, nil, testOptions()))

	q, err := e.SetBlocks([]BlockPlacement{
		{Pos: vec(0, 0, 0), Material: stone},
		{Pos: vec(1, 1, 1), Material: lava},
		{Pos: vec(5, 5, 5), Material: stone},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, q.Volume())
	assert.Equal(t, 3, q.Len())
	runUntilIdle(t, s)
	assert.Equal(t, stone, grid.at(0, 0, 0))
	assert.Equal(t, lava, grid.at(1, 1, 1))

	_, err = e.Undo(1)
	require.NoError(t, err)
	runUntilIdle(t, s)
	assert.Equal(t, air, grid.at(0, 0, 0))
	assert.Equal(t, water, grid.at(1, 1, 1))
}

func TestEditorSetBiomeAndUndo(t *testing.T) {
	grid := newFakeGrid(4, 4, 4)
	s := newTestScheduler(1000)
	e := s.Register(NewEditor(newOwner("alice"), grid, nil, testOptions()))

	q, err := e.SetBiome(vec(1, 0, 1), shape.Cuboid{Width: 2, Height: 1, Length: 5}, "desert")
	require.NoError(t, err)
	assert.Len(t, q.Changes(), 6, "columns outside the grid are left out")
	runUntilIdle(t, s)
	b, _ := grid.Biome(2, 3)
	assert.Equal(t, "desert", b)

	_, err = e.Undo(1)
	require.NoError(t, err)
	runUntilIdle(t, s)
	b, _ = grid.Biome(2, 3)
	assert.Equal(t, "plains", b)
}

func TestEditorRejectsInvalidRequests(t *testing.T) {
	reg, err := material.NewRegistry([]material.Material{stone, dirt})
	require.NoError(t, err)
	opts := testOptions()
	opts.Materials = reg
	e := NewEditor(newOwner("alice"), newFakeGrid(2, 2, 2), nil, opts)
	box := shape.Cuboid{Width: 1, Height: 1, Length: 1}

	_, err = e.Fill(vec(0, 0, 0), nil)
	assert.ErrorIs(t, err, ErrNilShape)
	_, err = e.Replace(vec(0, 0, 0), box, stone, lava)
	assert.ErrorIs(t, err, ErrUnknownMaterial)
	_, err = e.SetBlocks([]BlockPlacement{{Pos: vec(0, 0, 0)}})
	assert.ErrorIs(t, err, ErrUnknownMaterial)
	_, err = e.SetBiome(vec(0, 0, 0), box, "")
	assert.Error(t, err)
	_, err = e.Undo(-1)
	assert.ErrorIs(t, err, ErrNegativeCount)
	_, err = e.Redo(-2)
	assert.ErrorIs(t, err, ErrNegativeCount)
	assert.Zero(t, e.Pending())

	q, err := e.Fill(vec(0, 0, 0), shape.Uniform(box, stone))
	require.NoError(t, err)
	assert.ErrorIs(t, q.Flush(), ErrAlreadyFlushed)
	assert.Equal(t, 1, e.Pending())

	assert.ErrorIs(t, NewBlockChangeQueue(nil).Flush(), ErrNoEditor)
}

func TestEditorDetachSilencesOwnerUntilAttach(t *testing.T) {
	first, second := newOwner("alice"), newOwner("alice")
	opts := testOptions()
	opts.MaxUndoVolume = 1
	e := NewEditor(first, newFakeGrid(4, 4, 4), nil, opts)
	fill := shape.Uniform(shape.Cuboid{Width: 2, Height: 2, Length: 2}, stone)

	assert.False(t, e.Detach(second))
	assert.True(t, e.Detach(first))
	assert.True(t, e.Detached())
	_, err := e.Fill(vec(0, 0, 0), fill)
	require.NoError(t, err)
	assert.Empty(t, first.Messages())

	e.Attach(second)
	assert.False(t, e.Detached())
	assert.Same(t, second, e.Owner())
	_, err = e.Fill(vec(0, 0, 0), fill)
	require.NoError(t, err)
	assert.Len(t, second.Messages(), 1)
	assert.Empty(t, first.Messages())
}

func TestEditorJournalsQueueLifecycle(t *testing.T) {
	journal := &memoryJournal{}
	opts := testOptions()
	opts.Journal = journal
	s := newTestScheduler(1000)
	e := s.Register(NewEditor(newOwner("alice"), newFakeGrid(4, 4, 4), nil, opts))

	_, err := e.Fill(vec(0, 0, 0), shape.Uniform(shape.Cuboid{Width: 2, Height: 2, Length: 2}, stone))
	require.NoError(t, err)
	runUntilIdle(t, s)
	_, err = e.Undo(1)
	require.NoError(t, err)
	runUntilIdle(t, s)

	assert.Equal(t, []Action{ActionFlush, ActionComplete, ActionUndo, ActionComplete}, journal.actions())
	journal.mu.Lock()
	defer journal.mu.Unlock()
	assert.Equal(t, "alice", journal.entries[0].Owner)
	assert.Equal(t, "shape", journal.entries[0].Kind)
	assert.Equal(t, 8, journal.entries[1].Applied)
	assert.Equal(t, "blocks", journal.entries[2].Kind)
}

func TestEditorStatus(t *testing.T) {
	e := NewEditor(newOwner("alice"), newFakeGrid(4, 4, 4), nil, testOptions())
	_, err := e.Fill(vec(0, 0, 0), shape.Uniform(shape.Cuboid{Width: 2, Height: 2, Length: 2}, stone))
	require.NoError(t, err)

	assert.Equal(t, Status{Owner: "alice", Pending: 1, Current: "shape", History: 1, Position: 1}, e.Status())
}

func TestEditorFillWithOverflowingShapeSkipsUndo(t *testing.T) {
	owner := newOwner("alice")
	e := NewEditor(owner, newFakeGrid(4, 4, 4), nil, testOptions())
	huge := shape.Uniform(shape.Cuboid{Width: 1 << 21, Height: 1 << 21, Length: 1 << 21}, stone)

	done := make(chan error, 1)
	go func() {
		_, err := e.Fill(vec(0, 0, 0), huge)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Fill did not return")
	}

	assert.Zero(t, e.History().Size())
	assert.Equal(t, 1, e.Pending())
	require.Len(t, owner.Messages(), 1)
	assert.Contains(t, owner.Messages()[0], "undo is not available")
}

func TestEditorRejectsShapesAboveVolumeLimit(t *testing.T) {
	opts := testOptions()
	opts.MaxShapeVolume = 8
	e := NewEditor(newOwner("alice"), newFakeGrid(4, 4, 4), nil, opts)
	big := shape.Cuboid{Width: 3, Height: 3, Length: 3}

	_, err := e.Fill(vec(0, 0, 0), shape.Uniform(big, stone))
	assert.ErrorIs(t, err, ErrShapeTooLarge)
	_, err = e.Replace(vec(0, 0, 0), big, air, stone)
	assert.ErrorIs(t, err, ErrShapeTooLarge)
	_, err = e.SetBiome(vec(0, 0, 0), big, "desert")
	assert.ErrorIs(t, err, ErrShapeTooLarge)
	assert.Zero(t, e.Pending())

	_, err = e.Fill(vec(0, 0, 0), shape.Uniform(shape.Cuboid{Width: 2, Height: 2, Length: 2}, stone))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Pending())
}

func TestEditorConcurrentEnqueueWhileTicking(t *testing.T) {
	journal := &memoryJournal{}
	opts := testOptions()
	opts.Journal = journal
	grid := newFakeGrid(16, 4, 16)
	s := newTestScheduler(1000)
	e := s.Register(NewEditor(newOwner("alice"), grid, nil, opts))

	var stop atomic.Bool
	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		for !stop.Load() {
			s.Tick()
		}
	}()

	const writers, edits = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < edits; i++ {
				_, err := e.SetBlocks([]BlockPlacement{
					{Pos: vec(i%16, w, 0), Material: stone},
					{Pos: vec(i%16, w, 1), Material: dirt},
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	stop.Store(true)
	<-ticking
	runUntilIdle(t, s)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	flushes, completes := 0, 0
	for _, entry := range journal.entries {
		switch entry.Action {
		case ActionFlush:
			flushes++
			assert.Zero(t, entry.Applied, "nothing has run when a queue is handed over")
		case ActionComplete:
			completes++
		}
	}
	assert.Equal(t, writers*edits, flushes)
	assert.Equal(t, writers*edits, completes)
	assert.Equal(t, stone, grid.at(0, 0, 0))
	assert.Equal(t, dirt, grid.at(0, 3, 1))
}

func TestEditorUndoRedoUndoMatchesSingleUndo(t *testing.T) {
	run := func(steps func(e *Editor)) (map[geom.Vec]material.Material, Status) {
		grid := seededGrid()
		s := newTestScheduler(2000)
		e := s.Register(NewEditor(newOwner("alice"), grid, nil, testOptions()))
		_, err := e.Fill(vec(5, 5, 5), layeredSphere())
		require.NoError(t, err)
		runUntilIdle(t, s)
		steps(e)
		runUntilIdle(t, s)
		return grid.snapshot(), e.Status()
	}
	step := func(e *Editor, fn func(int) (int, error)) {
		n, err := fn(1)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	wantCells, wantStatus := run(func(e *Editor) { step(e, e.Undo) })
	gotCells, gotStatus := run(func(e *Editor) {
		step(e, e.Undo)
		step(e, e.Redo)
		step(e, e.Undo)
	})
	assert.Equal(t, wantCells, gotCells)
	assert.Equal(t, wantStatus, gotStatus)
}
