package edit

import (
	"fmt"
	"sync"
)

const (
	DefaultUndoHistorySize = 30

	nilEntry = -1
)

// Sink receives queues released by Undo and Redo.
type Sink func(q ChangeQueue, action Action)

type undoEntry struct {
	undo ChangeQueue
	redo ChangeQueue
	prev int
	next int
}

// UndoQueue is a bounded history of (undo, redo) pairs kept in an arena of
// entries linked by index. pointer names the most recently applied entry;
// nilEntry means everything has been undone.
//
// New history is spliced in after the pointer without dropping the entries
// that follow it, so an undone branch stays reachable through Redo until it
// ages out.
type UndoQueue struct {
	mu       sync.Mutex
	entries  []undoEntry
	free     []int
	head     int
	tail     int
	pointer  int
	size     int
	capacity int
	sink     Sink
}

func NewUndoQueue(capacity int) *UndoQueue {
	if capacity <= 0 {
		capacity = DefaultUndoHistorySize
	}
	return &UndoQueue{
		head:     nilEntry,
		tail:     nilEntry,
		pointer:  nilEntry,
		capacity: capacity,
	}
}

// SetSink routes released queues to fn.
func (u *UndoQueue) SetSink(fn Sink) {
	u.mu.Lock()
	u.sink = fn
	u.mu.Unlock()
}

func (u *UndoQueue) alloc(undo, redo ChangeQueue) int {
	e := undoEntry{undo: undo, redo: redo, prev: nilEntry, next: nilEntry}
	if n := len(u.free); n > 0 {
		idx := u.free[n-1]
		u.free = u.free[:n-1]
		u.entries[idx] = e
		return idx
	}
	u.entries = append(u.entries, e)
	return len(u.entries) - 1
}

func (u *UndoQueue) release(idx int) {
	u.entries[idx] = undoEntry{prev: nilEntry, next: nilEntry}
	u.free = append(u.free, idx)
}

// AddHistory records a new (undo, redo) pair after the pointer and moves
// the pointer onto it. With nothing applied the pair replaces the whole
// history. Both queues are required.
func (u *UndoQueue) AddHistory(undo, redo ChangeQueue) error {
	if undo == nil || redo == nil {
		return ErrNilQueue
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pointer == nilEntry {
		u.entries = u.entries[:0]
		u.free = u.free[:0]
		idx := u.alloc(undo, redo)
		u.head, u.tail, u.pointer = idx, idx, idx
		u.size = 1
		return nil
	}

	idx := u.alloc(undo, redo)
	prev := u.pointer
	next := u.entries[prev].next
	u.entries[idx].prev = prev
	u.entries[idx].next = next
	u.entries[prev].next = idx
	if next == nilEntry {
		u.tail = idx
	} else {
		u.entries[next].prev = idx
	}
	u.pointer = idx
	u.size++
	u.trimLocked(u.capacity)
	return nil
}

// trimLocked evicts from the head until at most n entries remain, stopping
// at the pointer.
func (u *UndoQueue) trimLocked(n int) {
	for u.size > n && u.head != nilEntry && u.head != u.pointer && u.pointer != nilEntry {
		old := u.head
		u.head = u.entries[old].next
		u.entries[u.head].prev = nilEntry
		u.release(old)
		u.size--
	}
}

// Undo releases the undo queues of up to n entries, walking the pointer
// backwards, and returns how many were released.
func (u *UndoQueue) Undo(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: undo %d", ErrNegativeCount, n)
	}
	u.mu.Lock()
	var out []ChangeQueue
	for len(out) < n && u.pointer != nilEntry {
		out = append(out, u.entries[u.pointer].undo)
		u.pointer = u.entries[u.pointer].prev
	}
	sink := u.sink
	u.mu.Unlock()

	if sink != nil {
		for _, q := range out {
			sink(q, ActionUndo)
		}
	}
	return len(out), nil
}

// Redo releases the redo queues of up to n entries after the pointer.
func (u *UndoQueue) Redo(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: redo %d", ErrNegativeCount, n)
	}
	u.mu.Lock()
	var out []ChangeQueue
	for len(out) < n {
		next := u.head
		if u.pointer != nilEntry {
			next = u.entries[u.pointer].next
		}
		if next == nilEntry {
			break
		}
		out = append(out, u.entries[next].redo)
		u.pointer = next
	}
	sink := u.sink
	u.mu.Unlock()

	if sink != nil {
		for _, q := range out {
			sink(q, ActionRedo)
		}
	}
	return len(out), nil
}

// MovePointer walks the pointer by delta entries without releasing any
// queue. It clamps at either end and returns the signed distance moved.
func (u *UndoQueue) MovePointer(delta int) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	moved := 0
	for delta > 0 {
		next := u.head
		if u.pointer != nilEntry {
			next = u.entries[u.pointer].next
		}
		if next == nilEntry {
			break
		}
		u.pointer = next
		delta--
		moved++
	}
	for delta < 0 && u.pointer != nilEntry {
		u.pointer = u.entries[u.pointer].prev
		delta++
		moved--
	}
	return moved
}

// SetMaxBufferSize changes the capacity and trims the oldest entries down to
// n. Trimming never evicts the pointer entry, so while more than n entries
// sit between the pointer and the tail Size stays above n. Size <= n only
// holds once the pointer is within n entries of the tail.
func (u *UndoQueue) SetMaxBufferSize(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: buffer size %d", ErrNegativeCount, n)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.capacity = n
	u.trimLocked(n)
	return nil
}

func (u *UndoQueue) Size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.size
}

func (u *UndoQueue) Capacity() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.capacity
}

// Position reports how many entries are applied, counting from the head.
func (u *UndoQueue) Position() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.pointer == nilEntry {
		return 0
	}
	pos := 0
	for idx := u.head; idx != nilEntry; idx = u.entries[idx].next {
		pos++
		if idx == u.pointer {
			break
		}
	}
	return pos
}
