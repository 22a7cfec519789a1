package edit

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxeledit/internal/geom"
)

func TestBlockChangeQueueOrdersAroundSensitiveMaterials(t *testing.T) {
	grid := newFakeGrid(8, 8, 8)
	e := NewEditor(newOwner("alice"), grid, nil, testOptions())
	q := NewBlockChangeQueue(e)

	require.NoError(t, q.Add(BlockChange{Pos: vec(1, 0, 0), From: stone, To: dirt}))
	require.NoError(t, q.Add(BlockChange{Pos: vec(2, 0, 0), From: air, To: torch}))
	require.NoError(t, q.Add(BlockChange{Pos: vec(3, 0, 0), From: torch, To: air}))
	require.NoError(t, q.Add(BlockChange{Pos: vec(4, 0, 0), From: water, To: lava}))
	require.NoError(t, q.Add(BlockChange{Pos: vec(5, 0, 0), From: dirt, To: stone}))

	assert.Equal(t, 5, q.Volume())
	assert.Equal(t, 6, q.Len())
	assert.Equal(t, 2, q.Marker())
	assert.Equal(t, []BlockChange{
		{Pos: vec(4, 0, 0), From: water, To: air},
		{Pos: vec(3, 0, 0), From: torch, To: air},
		{Pos: vec(5, 0, 0), From: dirt, To: stone},
		{Pos: vec(1, 0, 0), From: stone, To: dirt},
		{Pos: vec(2, 0, 0), From: air, To: torch},
		{Pos: vec(4, 0, 0), From: air, To: lava},
	}, q.Changes())
}

func TestBlockChangeQueueSplitsLiquidToLiquid(t *testing.T) {
	grid := newFakeGrid(4, 4, 4)
	grid.set(vec(0, 0, 0), water)
	e := NewEditor(newOwner("alice"), grid, nil, testOptions())
	q := NewBlockChangeQueue(e)
	require.NoError(t, q.Add(BlockChange{Pos: vec(0, 0, 0), From: water, To: lava}))

	changes := q.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, 1, q.Marker())
	assert.Equal(t, BlockChange{Pos: vec(0, 0, 0), From: water, To: air}, changes[0])
	assert.Equal(t, BlockChange{Pos: vec(0, 0, 0), From: air, To: lava}, changes[1])

	n, err := q.Perform(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, q.Finished())
	assert.Equal(t, air, grid.at(0, 0, 0))

	n, err = q.Perform(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, q.Finished())
	assert.Equal(t, lava, grid.at(0, 0, 0))
	assert.Len(t, grid.writeLog(), 2)
}

func TestBlockChangeQueueAppliesEverythingBeforeMarkerAtOnce(t *testing.T) {
	grid := newFakeGrid(8, 1, 1)
	for x := 0; x < 4; x++ {
		grid.set(vec(x, 0, 0), torch)
	}
	e := NewEditor(newOwner("alice"), grid, nil, testOptions())
	q := NewBlockChangeQueue(e)
	for x := 0; x < 4; x++ {
		require.NoError(t, q.Add(BlockChange{Pos: vec(x, 0, 0), From: torch, To: air}))
	}
	for x := 4; x < 8; x++ {
		require.NoError(t, q.Add(BlockChange{Pos: vec(x, 0, 0), From: air, To: stone}))
	}

	n, err := q.Perform(1)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "the front section is never split")
	assert.Equal(t, StateIncremental, q.State())

	n, err = q.Perform(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.Perform(100)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, q.Finished())
	assert.Equal(t, 8, q.Applied())
}

func TestBlockChangeQueueLockedAfterPerform(t *testing.T) {
	grid := newFakeGrid(4, 4, 4)
	q := NewBlockChangeQueue(NewEditor(newOwner("alice"), grid, nil, testOptions()))
	require.NoError(t, q.Add(BlockChange{Pos: vec(0, 0, 0), From: air, To: stone}))

	_, err := q.Perform(1)
	require.NoError(t, err)
	assert.ErrorIs(t, q.Add(BlockChange{Pos: vec(1, 0, 0), From: air, To: stone}), ErrQueueLocked)

	_, err = q.Perform(0)
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

func TestBlockChangeQueueSkipsOutOfBoundsAndAbortsOnFailure(t *testing.T) {
	grid := newFakeGrid(2, 2, 2)
	boom := errors.New("disk full")
	grid.failAt[vec(1, 1, 1)] = boom
	q := NewBlockChangeQueue(NewEditor(newOwner("alice"), grid, nil, testOptions()))
	// Middle changes run in reverse insertion order.
	require.NoError(t, q.Add(BlockChange{Pos: vec(1, 1, 1), From: air, To: stone}))
	require.NoError(t, q.Add(BlockChange{Pos: vec(0, 0, 0), From: air, To: stone}))
	require.NoError(t, q.Add(BlockChange{Pos: vec(9, 9, 9), From: air, To: stone}))

	n, err := q.Perform(10)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
	assert.Equal(t, stone, grid.at(0, 0, 0))
}

func TestBlockChangeQueueResetReplays(t *testing.T) {
	grid := newFakeGrid(4, 4, 4)
	q := NewBlockChangeQueue(NewEditor(newOwner("alice"), grid, nil, testOptions()))
	require.NoError(t, q.Add(BlockChange{Pos: vec(0, 0, 0), From: air, To: stone}))

	_, err := q.Perform(5)
	require.NoError(t, err)
	require.True(t, q.Finished())

	q.Reset()
	assert.Equal(t, StateUnstarted, q.State())
	assert.Zero(t, q.Applied())
	n, err := q.Perform(5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, grid.writeLog(), 2)
}

func TestBlockChangeQueueMarkerHoldsForAnyBudgetSequence(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*31))
		grid := newFakeGrid(12, 3, 1)
		q := NewBlockChangeQueue(NewEditor(newOwner("alice"), grid, nil, testOptions()))
		for x := 0; x < 12; x++ {
			var change BlockChange
			switch rng.IntN(4) {
			case 0:
				change = BlockChange{Pos: vec(x, 0, 0), From: torch, To: air}
			case 1:
				change = BlockChange{Pos: vec(x, 1, 0), From: water, To: lava}
			case 2:
				change = BlockChange{Pos: vec(x, 2, 0), From: air, To: torch}
			default:
				change = BlockChange{Pos: vec(x, 0, 0), From: dirt, To: stone}
			}
			grid.set(change.Pos, change.From)
			require.NoError(t, q.Add(change))
		}

		marker := q.Marker()
		want := make([]geom.Vec, 0, q.Len())
		for _, c := range q.Changes() {
			want = append(want, c.Pos)
		}

		first := true
		for !q.Finished() {
			_, err := q.Perform(1 + rng.IntN(4))
			require.NoError(t, err, "seed %d", seed)
			if first {
				assert.GreaterOrEqual(t, q.Applied(), marker, "seed %d: marker split across calls", seed)
				first = false
			}
		}
		assert.Equal(t, want, grid.writeLog(), "seed %d", seed)
	}
}
