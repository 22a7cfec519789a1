package edit

import (
	"context"
	"errors"
	"sync"
	"time"
)

const DefaultOfflineUndoTTL = 60 * time.Minute

type offlineEntry struct {
	undo    *UndoQueue
	expires time.Time
}

// OfflineUndoHandler keeps the history of disconnected owners for a sliding
// TTL. Expired history is dropped without notice.
type OfflineUndoHandler struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]offlineEntry
}

type OfflineOption func(*OfflineUndoHandler)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) OfflineOption {
	return func(h *OfflineUndoHandler) {
		h.now = now
	}
}

func NewOfflineUndoHandler(ttl time.Duration, opts ...OfflineOption) *OfflineUndoHandler {
	if ttl <= 0 {
		ttl = DefaultOfflineUndoTTL
	}
	h := &OfflineUndoHandler{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]offlineEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register stores undo under key, replacing any previous entry.
func (h *OfflineUndoHandler) Register(key string, undo *UndoQueue) error {
	if key == "" {
		return errors.New("offline undo key must not be empty")
	}
	if undo == nil {
		return errors.New("offline undo queue must not be nil")
	}
	h.mu.Lock()
	h.entries[key] = offlineEntry{undo: undo, expires: h.now().Add(h.ttl)}
	h.mu.Unlock()
	return nil
}

// Get returns the history stored under key and refreshes its TTL.
func (h *OfflineUndoHandler) Get(key string) (*UndoQueue, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.entries[key]
	if !ok {
		return nil, false
	}
	now := h.now()
	if !now.Before(entry.expires) {
		delete(h.entries, key)
		return nil, false
	}
	entry.expires = now.Add(h.ttl)
	h.entries[key] = entry
	return entry.undo, true
}

func (h *OfflineUndoHandler) Invalidate(key string) {
	h.mu.Lock()
	delete(h.entries, key)
	h.mu.Unlock()
}

// SetTTL changes the idle expiry for entries touched from now on.
func (h *OfflineUndoHandler) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	h.mu.Lock()
	h.ttl = ttl
	h.mu.Unlock()
}

// Sweep drops every expired entry and returns how many were dropped.
func (h *OfflineUndoHandler) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	dropped := 0
	for key, entry := range h.entries {
		if !now.Before(entry.expires) {
			delete(h.entries, key)
			dropped++
		}
	}
	return dropped
}

func (h *OfflineUndoHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Run sweeps every interval until ctx is done.
func (h *OfflineUndoHandler) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Sweep()
		}
	}
}
