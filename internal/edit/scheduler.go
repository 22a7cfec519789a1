package edit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const DefaultChangeInterval = 100 * time.Millisecond

// OwnerAllocation reports what one owner received during a tick.
type OwnerAllocation struct {
	Owner      string `json:"owner"`
	Allocation int    `json:"allocation"`
	Performed  int    `json:"performed"`
}

// TickReport summarises one scheduler tick.
type TickReport struct {
	Budget    int               `json:"budget"`
	Remaining int               `json:"remaining"`
	Owners    []OwnerAllocation `json:"owners,omitempty"`
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	BlockChangesPerSecond int
	Interval              time.Duration
	Logger                *slog.Logger
	Metrics               *Metrics
	Journal               Journal
}

// Scheduler drains every editor's pending change queues under a global
// per-tick budget. All grid writes happen on the goroutine calling Tick.
type Scheduler struct {
	logger  *slog.Logger
	metrics *Metrics
	journal Journal

	mu       sync.Mutex
	editors  []*Editor
	byID     map[string]*Editor
	rate     int
	interval time.Duration
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultChangeInterval
	}
	return &Scheduler{
		logger:   logger.With("component", "scheduler"),
		metrics:  opts.Metrics,
		journal:  opts.Journal,
		byID:     make(map[string]*Editor),
		rate:     opts.BlockChangesPerSecond,
		interval: interval,
	}
}

// Register adds e in registration order. An editor already registered
// under the same owner ID is kept and returned instead.
func (s *Scheduler) Register(e *Editor) *Editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[e.ID()]; ok {
		return existing
	}
	s.byID[e.ID()] = e
	s.editors = append(s.editors, e)
	return e
}

func (s *Scheduler) Editor(id string) (*Editor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	return e, ok
}

func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id string) {
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, e := range s.editors {
		if e.ID() == id {
			s.editors = append(s.editors[:i], s.editors[i+1:]...)
			break
		}
	}
}

// Editors returns the registered editors in registration order.
func (s *Scheduler) Editors() []*Editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Editor(nil), s.editors...)
}

// Budget is the number of writes shared out per tick.
func (s *Scheduler) Budget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budgetLocked()
}

func (s *Scheduler) budgetLocked() int {
	budget := int(int64(s.rate) * int64(s.interval) / int64(time.Second))
	return max(budget, 1)
}

func (s *Scheduler) SetBudget(blockChangesPerSecond int) {
	s.mu.Lock()
	s.rate = blockChangesPerSecond
	s.mu.Unlock()
}

func (s *Scheduler) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Tick runs one scheduling round. Each owner with pending work gets
// remaining/n of what is left of the budget, n counting the owners not yet
// served, and at least one write.
func (s *Scheduler) Tick() TickReport {
	start := time.Now()
	editors := s.Editors()
	budget := s.Budget()
	report := TickReport{Budget: budget, Remaining: budget}

	active := make([]*Editor, 0, len(editors))
	for _, e := range editors {
		if e.Pending() > 0 {
			active = append(active, e)
		}
	}

	remaining := budget
	n := len(active)
	for _, e := range active {
		allocation := max(remaining/n, 1)
		n--
		performed := s.drain(e, allocation)
		report.Owners = append(report.Owners, OwnerAllocation{
			Owner:      e.ID(),
			Allocation: allocation,
			Performed:  performed,
		})
		remaining -= performed
		if remaining <= 0 {
			break
		}
	}
	report.Remaining = remaining

	pending := s.prune()
	s.metrics.observeTick(report, pending, time.Since(start).Seconds())
	if len(report.Owners) > 0 {
		s.logger.Debug("scheduler tick", "budget", report.Budget, "remaining", report.Remaining, "owners", len(report.Owners))
	}
	return report
}

// drain runs e's pending queues until allocation is used up, the FIFO is
// empty or the head queue stops making progress.
func (s *Scheduler) drain(e *Editor, allocation int) int {
	performed := 0
	for performed < allocation {
		q := e.head()
		if q == nil {
			break
		}
		n, err := s.perform(q, allocation-performed)
		performed += n
		if err != nil {
			e.pop(q)
			s.fail(e, q, err)
			continue
		}
		if q.Finished() {
			e.pop(q)
			s.metrics.queueCompleted(q.Kind())
			record(s.journal, e.ID(), ActionComplete, q, nil)
			continue
		}
		if n == 0 {
			break
		}
	}
	return performed
}

func (s *Scheduler) perform(q ChangeQueue, budget int) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrQueuePanicked, r)
		}
	}()
	return q.Perform(budget)
}

func (s *Scheduler) fail(e *Editor, q ChangeQueue, err error) {
	s.logger.Error("change queue failed", "owner", e.ID(), "kind", q.Kind(), "applied", q.Applied(), "error", err)
	s.metrics.queueFailed(q.Kind())
	record(s.journal, e.ID(), ActionFail, q, err)
	e.notify("%s edit failed after %d changes: %v", q.Kind(), q.Applied(), err)
}

// prune drops detached editors with nothing left to run and returns the
// number of queues still pending.
func (s *Scheduler) prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := 0
	kept := s.editors[:0]
	for _, e := range s.editors {
		p := e.Pending()
		if p == 0 && e.Detached() {
			delete(s.byID, e.ID())
			continue
		}
		pending += p
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.editors); i++ {
		s.editors[i] = nil
	}
	s.editors = kept
	return pending
}

// Run ticks every interval until ctx is done. Interval changes apply from
// the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.Tick()
			timer.Reset(s.Interval())
		}
	}
}
