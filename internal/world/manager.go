package world

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
)

// ErrOutOfBounds is returned for writes that fall outside the loaded region.
var ErrOutOfBounds = errors.New("position outside world region")

// Generator describes terrain population for freshly created chunks.
type Generator interface {
	Generate(ctx context.Context, chunk *Chunk) error
}

// Options tunes a Manager.
type Options struct {
	DefaultBiome string
	Logger       *slog.Logger
}

// Manager keeps the authoritative chunk state for this server.
type Manager struct {
	region       Region
	generator    Generator
	storage      StorageProvider
	materials    *material.Registry
	defaultBiome string
	logger       *slog.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	chunks map[ChunkCoord]*Chunk

	changesMu sync.Mutex
	changes   *ChangeSummary
}

func NewManager(region Region, storage StorageProvider, generator Generator, materials *material.Registry, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if storage == nil {
		storage = NewMemoryStorageProvider()
	}
	return &Manager{
		region:       region,
		generator:    generator,
		storage:      storage,
		materials:    materials,
		defaultBiome: opts.DefaultBiome,
		logger:       logger.With("component", "world"),
		chunks:       make(map[ChunkCoord]*Chunk),
		changes:      NewChangeSummary(),
	}
}

func (m *Manager) Region() Region {
	return m.region
}

func (m *Manager) Materials() *material.Registry {
	return m.materials
}

// Chunk returns the chunk at coord, loading or generating it on first access.
// Concurrent first accesses share one load.
func (m *Manager) Chunk(ctx context.Context, coord ChunkCoord) (*Chunk, error) {
	if !m.region.ContainsChunk(coord) {
		return nil, fmt.Errorf("chunk %v outside region: %w", coord, ErrOutOfBounds)
	}

	m.mu.RLock()
	ch, ok := m.chunks[coord]
	m.mu.RUnlock()
	if ok {
		return ch, nil
	}

	key := fmt.Sprintf("%d/%d", coord.X, coord.Z)
	v, err, _ := m.group.Do(key, func() (any, error) {
		m.mu.RLock()
		existing, ok := m.chunks[coord]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}
		loaded, err := m.loadChunk(ctx, coord)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.chunks[coord] = loaded
		m.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Chunk), nil
}

func (m *Manager) loadChunk(ctx context.Context, coord ChunkCoord) (*Chunk, error) {
	bounds, err := m.region.ChunkBounds(coord)
	if err != nil {
		return nil, err
	}
	store, err := m.storage.NewStorage(coord, bounds, m.region.ChunkDimension)
	if err != nil {
		return nil, fmt.Errorf("open storage for chunk %v: %w", coord, err)
	}
	ch := NewChunk(coord, bounds, m.region.ChunkDimension, store)

	if m.generator == nil {
		return ch, nil
	}
	stored, err := ch.HasStoredBlocks()
	if err != nil {
		ch.Close()
		return nil, err
	}
	if stored {
		m.logger.Debug("chunk loaded from storage", "chunk", coord)
		return ch, nil
	}
	if err := m.generator.Generate(ctx, ch); err != nil {
		ch.Close()
		return nil, fmt.Errorf("generate chunk %v: %w", coord, err)
	}
	return ch, nil
}

// LoadedChunks lists the chunks currently held in memory.
func (m *Manager) LoadedChunks() []ChunkCoord {
	m.mu.RLock()
	out := make([]ChunkCoord, 0, len(m.chunks))
	for coord := range m.chunks {
		out = append(out, coord)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Z != out[j].Z {
			return out[i].Z < out[j].Z
		}
		return out[i].X < out[j].X
	})
	return out
}

func (m *Manager) chunkForBlock(ctx context.Context, pos geom.Vec) (*Chunk, int, int, int, error) {
	coord, ok := m.region.LocateBlock(pos)
	if !ok {
		return nil, 0, 0, 0, ErrOutOfBounds
	}
	ch, err := m.Chunk(ctx, coord)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	lx, ly, lz, ok := ch.GlobalToLocal(pos)
	if !ok {
		return nil, 0, 0, 0, ErrOutOfBounds
	}
	return ch, lx, ly, lz, nil
}

func (m *Manager) resolve(id string) material.Material {
	if m.materials == nil {
		if id == "" || id == material.AirID {
			return material.Air
		}
		return material.Material{ID: id}
	}
	return m.materials.Resolve(id)
}

// Material reads the material at pos. ok is false outside the region or
// when the chunk cannot be loaded.
func (m *Manager) Material(pos geom.Vec) (material.Material, bool) {
	ch, lx, ly, lz, err := m.chunkForBlock(context.Background(), pos)
	if err != nil {
		if !errors.Is(err, ErrOutOfBounds) {
			m.logger.Warn("read block failed", "pos", pos, "error", err)
		}
		return material.Material{}, false
	}
	block, ok, err := ch.LocalBlock(lx, ly, lz)
	if err != nil {
		m.logger.Warn("read block failed", "pos", pos, "error", err)
		return material.Material{}, false
	}
	if !ok {
		return material.Material{}, false
	}
	return m.resolve(block.Material), true
}

// SetMaterial writes mat at pos. With applyPhysics, reliant blocks stacked
// above a cell that no longer supports them collapse to air.
func (m *Manager) SetMaterial(pos geom.Vec, mat material.Material, applyPhysics bool) error {
	ch, lx, ly, lz, err := m.chunkForBlock(context.Background(), pos)
	if err != nil {
		return err
	}
	before, _, err := ch.LocalBlock(lx, ly, lz)
	if err != nil {
		return err
	}
	after := Block{Material: mat.ID}
	if mat.IsAir() {
		after = Block{}
	}
	if err := ch.SetLocalBlock(lx, ly, lz, after); err != nil {
		return err
	}

	summary := NewChangeSummary()
	if before != after {
		summary.AddChange(BlockChange{Coord: pos, Before: before, After: after, Reason: ReasonEdit})
		summary.AddChunk(ch.Key)
	}
	if applyPhysics && !mat.Supports() {
		if err := m.collapseAbove(ch, lx, ly, lz, summary); err != nil {
			return err
		}
	}
	m.record(summary)
	return nil
}

func (m *Manager) collapseAbove(ch *Chunk, lx, ly, lz int, summary *ChangeSummary) error {
	reports, err := evaluateColumnSupport(ch, lx, lz, ly+1, m.resolve)
	if err != nil {
		return err
	}
	for _, report := range reports {
		if !report.Collapsed {
			continue
		}
		if err := ch.SetLocalBlock(lx, report.LocalY, lz, Block{}); err != nil {
			return err
		}
		summary.AddChange(BlockChange{
			Coord:  report.Global,
			Before: report.Block,
			After:  Block{},
			Reason: ReasonCollapse,
		})
		summary.AddChunk(ch.Key)
	}
	return nil
}

// Biome returns the biome of the column at (x, z), falling back to the
// configured default for columns that never had one assigned.
func (m *Manager) Biome(x, z int) (string, bool) {
	ch, lx, lz, err := m.chunkForColumn(context.Background(), x, z)
	if err != nil {
		if !errors.Is(err, ErrOutOfBounds) {
			m.logger.Warn("read biome failed", "x", x, "z", z, "error", err)
		}
		return "", false
	}
	biome, ok, err := ch.LocalBiome(lx, lz)
	if err != nil {
		m.logger.Warn("read biome failed", "x", x, "z", z, "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	if biome == "" {
		biome = m.defaultBiome
	}
	return biome, true
}

func (m *Manager) SetBiome(x, z int, biome string) error {
	ch, lx, lz, err := m.chunkForColumn(context.Background(), x, z)
	if err != nil {
		return err
	}
	before, _, err := ch.LocalBiome(lx, lz)
	if err != nil {
		return err
	}
	if before == "" {
		before = m.defaultBiome
	}
	if err := ch.SetLocalBiome(lx, lz, biome); err != nil {
		return err
	}
	if before != biome {
		summary := NewChangeSummary()
		summary.AddBiome(BiomeChange{X: x, Z: z, Before: before, After: biome})
		summary.AddChunk(ch.Key)
		m.record(summary)
	}
	return nil
}

func (m *Manager) chunkForColumn(ctx context.Context, x, z int) (*Chunk, int, int, error) {
	coord, ok := m.region.LocateColumn(x, z)
	if !ok {
		return nil, 0, 0, ErrOutOfBounds
	}
	ch, err := m.Chunk(ctx, coord)
	if err != nil {
		return nil, 0, 0, err
	}
	return ch, x - ch.Bounds.Min.X, z - ch.Bounds.Min.Z, nil
}

func (m *Manager) record(summary *ChangeSummary) {
	if summary.Len() == 0 {
		return
	}
	m.changesMu.Lock()
	m.changes.Merge(summary)
	m.changesMu.Unlock()
}

// DrainChanges returns every change recorded since the previous drain.
func (m *Manager) DrainChanges() *ChangeSummary {
	m.changesMu.Lock()
	defer m.changesMu.Unlock()
	out := m.changes
	m.changes = NewChangeSummary()
	return out
}

// Close releases every loaded chunk and the storage provider.
func (m *Manager) Close() error {
	m.mu.Lock()
	chunks := m.chunks
	m.chunks = make(map[ChunkCoord]*Chunk)
	m.mu.Unlock()

	var errs []error
	for coord, ch := range chunks {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chunk %v: %w", coord, err))
		}
	}
	if err := m.storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}
