package edit

import (
	"errors"
	"fmt"
)

var (
	ErrQueueLocked     = errors.New("change queue is locked")
	ErrInvalidBudget   = errors.New("perform budget must be positive")
	ErrAlreadyFlushed  = errors.New("change queue already flushed")
	ErrNilShape        = errors.New("shape must not be nil")
	ErrUnknownMaterial = errors.New("unknown material")
	ErrNegativeCount   = errors.New("count must not be negative")
	ErrQueuePanicked   = errors.New("change queue panicked")
	ErrNoEditor        = errors.New("change queue has no editor")
	ErrNilQueue        = errors.New("change queue must not be nil")
	ErrShapeTooLarge   = errors.New("shape is too large")
)

// State is the execution state of a ChangeQueue.
type State int

const (
	StateUnstarted State = iota
	StateBreakable
	StateIncremental
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateBreakable:
		return "breakable"
	case StateIncremental:
		return "incremental"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ChangeQueue is a resumable unit of grid mutation. Perform is only ever
// called from the scheduler goroutine.
type ChangeQueue interface {
	// Flush records the inverse in the owner's history and queues this
	// change for the scheduler. It may be called once.
	Flush() error
	// Perform applies at least budget units of work unless the queue
	// finishes first, and returns the units credited.
	Perform(budget int) (int, error)
	Finished() bool
	// Reset rewinds the queue to StateUnstarted.
	Reset()
	State() State
	// Volume is the number of cells the queue may touch.
	Volume() int
	// Applied counts real grid writes since the last Reset.
	Applied() int
	// Kind names the queue variant for logs and the journal.
	Kind() string

	inverse() (ChangeQueue, error)
	bind(e *Editor) ChangeQueue
	owner() *Editor
}

// flushQueue implements Flush for every variant.
func flushQueue(q ChangeQueue, flushed *bool) error {
	if *flushed {
		return ErrAlreadyFlushed
	}
	e := q.owner()
	if e == nil {
		return ErrNoEditor
	}
	q.Reset()

	// A negative volume counts as oversized.
	if vol, limit := q.Volume(), e.opts.MaxUndoVolume; limit > 0 && (vol > limit || vol < 0) {
		e.notify("%s of %d cells exceeds the undo limit of %d; undo is not available for this edit", q.Kind(), vol, limit)
		e.metrics.undoSkipped()
	} else {
		undo, err := q.inverse()
		if err != nil {
			return fmt.Errorf("capture inverse: %w", err)
		}
		if err := e.history.AddHistory(undo, q.bind(nil)); err != nil {
			return err
		}
	}

	*flushed = true
	e.enqueue(q, ActionFlush)
	return nil
}

func checkBudget(budget int) error {
	if budget <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBudget, budget)
	}
	return nil
}
