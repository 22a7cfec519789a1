// Package session serves owner websocket connections: edit requests in,
// owner messages and voxel deltas out.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxeledit/internal/edit"
	"voxeledit/internal/geom"
	"voxeledit/internal/material"
	"voxeledit/internal/shape"
	"voxeledit/internal/world"
)

const (
	writeWait = 5 * time.Second
	readWait  = 60 * time.Second
)

var (
	errMalformed    = errors.New("malformed message")
	errOutsideWorld = errors.New("shape lies outside the world")
)

// regionGrid is a grid that can report the block bounds it covers.
type regionGrid interface {
	Region() world.Region
}

// Options configures a Handler.
type Options struct {
	Scheduler       *edit.Scheduler
	Offline         *edit.OfflineUndoHandler
	Grid            edit.Grid
	Materials       *material.Registry
	EditorOptions   edit.Options
	UndoHistorySize int
	RateLimit       float64
	Burst           int
	Logger          *slog.Logger
}

// Handler upgrades /ws requests and runs one session per connection.
type Handler struct {
	scheduler *edit.Scheduler
	offline   *edit.OfflineUndoHandler
	grid      edit.Grid
	materials *material.Registry
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	// claimMu serialises editor hand-over between connections of one owner.
	claimMu sync.Mutex

	mu          sync.RWMutex
	editorOpts  edit.Options
	historySize int
	limit       rate.Limit
	burst       int
	sessions    map[string]*Session
}

func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Handler{
		scheduler: opts.Scheduler,
		offline:   opts.Offline,
		grid:      opts.Grid,
		materials: opts.Materials,
		logger:    logger.With("component", "session"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
	h.Configure(opts.EditorOptions, opts.UndoHistorySize, opts.RateLimit, opts.Burst)
	return h
}

// Configure replaces the settings used for editors and sessions created
// from now on.
func (h *Handler) Configure(editorOpts edit.Options, historySize int, limit float64, burst int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.editorOpts = editorOpts
	h.historySize = historySize
	h.limit = rate.Inf
	if limit > 0 {
		h.limit = rate.Limit(limit)
	}
	h.burst = max(burst, 1)
}

func (h *Handler) settings() (edit.Options, int, rate.Limit, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.editorOpts, h.historySize, h.limit, h.burst
}

// Sessions reports the number of open connections.
func (h *Handler) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast sends msg to every open session.
func (h *Handler) Broadcast(msg ServerMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "type", msg.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		s.sendRaw(b)
	}
}

// Shutdown closes every open session. Their editors are released as usual.
func (h *Handler) Shutdown() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		s.Close()
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "owner is required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "owner", owner, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := newSession(uuid.NewString(), owner, h.logger)
	sess.cancel = cancel
	editor := h.claim(sess)
	_, _, limit, burst := h.settings()
	limiter := rate.NewLimiter(limit, burst)

	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()
	sess.logger.Info("session opened")
	defer func() {
		h.release(sess, editor)
		h.mu.Lock()
		delete(h.sessions, sess.id)
		h.mu.Unlock()
		sess.logger.Info("session closed", "dropped", sess.Dropped())
	}()

	sess.send(ServerMessage{Type: TypeWelcome, Session: sess.id, Owner: owner})

	go func() {
		for {
			select {
			case <-ctx.Done():
				// Unblocks the read loop below.
				_ = conn.Close()
				return
			case b := <-sess.out:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			cancel()
			return
		}
		msg, err := decodeClientMessage(payload)
		if err != nil {
			sess.send(ServerMessage{Type: TypeError, Error: err.Error()})
			continue
		}
		if !limiter.Allow() {
			sess.send(ServerMessage{Type: TypeError, Seq: msg.Seq, Error: "rate limited"})
			continue
		}
		sess.send(h.handle(editor, msg))
	}
}

// claim hands the owner's editor to sess: the one still registered with the
// scheduler, else a new one carrying history kept while the owner was away.
func (h *Handler) claim(sess *Session) *edit.Editor {
	h.claimMu.Lock()
	defer h.claimMu.Unlock()

	opts, historySize, _, _ := h.settings()
	if e, ok := h.scheduler.Editor(sess.owner); ok {
		e.Attach(sess)
		h.offline.Invalidate(sess.owner)
		// Re-register in case the scheduler pruned it meanwhile.
		return h.scheduler.Register(e)
	}

	history, ok := h.offline.Get(sess.owner)
	if ok {
		h.offline.Invalidate(sess.owner)
		sess.logger.Info("reclaimed offline undo history", "entries", history.Size())
	} else {
		history = edit.NewUndoQueue(historySize)
	}
	return h.scheduler.Register(edit.NewEditor(sess, h.grid, history, opts))
}

func (h *Handler) release(sess *Session, e *edit.Editor) {
	h.claimMu.Lock()
	defer h.claimMu.Unlock()
	if !e.Detach(sess) {
		return
	}
	if err := h.offline.Register(sess.owner, e.History()); err != nil {
		sess.logger.Warn("keep offline undo history", "error", err)
	}
}

func (h *Handler) handle(e *edit.Editor, msg ClientMessage) ServerMessage {
	reply, err := h.apply(e, msg)
	if err != nil {
		return ServerMessage{Type: TypeError, Seq: msg.Seq, Error: err.Error()}
	}
	reply.Type = TypeAck
	reply.Seq = msg.Seq
	return reply
}

func (h *Handler) apply(e *edit.Editor, msg ClientMessage) (ServerMessage, error) {
	switch msg.Type {
	case TypeFill:
		s, err := h.placedShape(msg.Shape, msg.At, false)
		if err != nil {
			return ServerMessage{}, err
		}
		m, err := h.material(msg.Material)
		if err != nil {
			return ServerMessage{}, err
		}
		q, err := e.Fill(msg.At, shape.Uniform(s, m))
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Kind: q.Kind(), Volume: q.Volume()}, nil

	case TypeReplace:
		s, err := h.placedShape(msg.Shape, msg.At, false)
		if err != nil {
			return ServerMessage{}, err
		}
		from, err := h.material(msg.From)
		if err != nil {
			return ServerMessage{}, err
		}
		to, err := h.material(msg.To)
		if err != nil {
			return ServerMessage{}, err
		}
		q, err := e.Replace(msg.At, s, from, to)
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Kind: q.Kind(), Volume: q.Volume()}, nil

	case TypeSet:
		placements := make([]edit.BlockPlacement, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			m, err := h.material(b.Material)
			if err != nil {
				return ServerMessage{}, err
			}
			placements = append(placements, edit.BlockPlacement{Pos: geom.Vec{X: b.X, Y: b.Y, Z: b.Z}, Material: m})
		}
		q, err := e.SetBlocks(placements)
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Kind: q.Kind(), Volume: q.Volume()}, nil

	case TypeBiome:
		s, err := h.placedShape(msg.Shape, msg.At, true)
		if err != nil {
			return ServerMessage{}, err
		}
		q, err := e.SetBiome(msg.At, s, msg.Biome)
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Kind: q.Kind(), Volume: q.Volume()}, nil

	case TypeUndo, TypeRedo:
		count := msg.Count
		if count == 0 {
			count = 1
		}
		var (
			n   int
			err error
		)
		if msg.Type == TypeUndo {
			n, err = e.Undo(count)
		} else {
			n, err = e.Redo(count)
		}
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Count: n}, nil

	case TypeStatus:
		st := e.Status()
		return ServerMessage{Status: &st}, nil

	default:
		return ServerMessage{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func buildShape(desc *shape.Descriptor) (shape.Shape, error) {
	if desc == nil {
		return nil, edit.ErrNilShape
	}
	return desc.Build()
}

// placedShape builds desc and rejects it when, placed at at, it misses the
// region entirely. Biome edits only need their column footprint inside.
func (h *Handler) placedShape(desc *shape.Descriptor, at geom.Vec, footprint bool) (shape.Shape, error) {
	s, err := buildShape(desc)
	if err != nil {
		return nil, err
	}
	rg, ok := h.grid.(regionGrid)
	if !ok {
		return s, nil
	}
	region := rg.Region().Bounds()
	w, height, l := s.Dimensions()
	min := shape.WorldPos(s, at, 0, 0, 0)
	placed := world.Bounds{
		Min: min,
		Max: geom.Vec{X: min.X + w - 1, Y: min.Y + height - 1, Z: min.Z + l - 1},
	}
	if footprint {
		placed.Min.Y, placed.Max.Y = region.Min.Y, region.Max.Y
	}
	if !region.Intersects(placed) {
		return nil, fmt.Errorf("%w: %v to %v", errOutsideWorld, placed.Min, placed.Max)
	}
	return s, nil
}

func (h *Handler) material(id string) (material.Material, error) {
	if h.materials == nil {
		if id == "" {
			return material.Material{}, errors.New("material must be set")
		}
		return material.Material{ID: id}, nil
	}
	m, ok := h.materials.Lookup(id)
	if !ok {
		return material.Material{}, fmt.Errorf("%w: %q", edit.ErrUnknownMaterial, id)
	}
	return m, nil
}
