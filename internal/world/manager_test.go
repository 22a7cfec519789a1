package world

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
)

var (
	stone = material.Material{ID: "stone", Color: "#7f7f7f"}
	water = material.Material{ID: "water", Color: "#3355ff", Liquid: true}
	torch = material.Material{ID: "torch", Color: "#ffcc00", Reliant: true}
	rail  = material.Material{ID: "rail", Color: "#888888", Reliant: true}
)

type stubGenerator struct {
	calls atomic.Int32
}

func (g *stubGenerator) Generate(ctx context.Context, chunk *Chunk) error {
	g.calls.Add(1)
	return chunk.SetColumnBlocks(0, 0, []Block{{Material: "stone"}, {Material: "stone"}})
}

func newTestManager(t *testing.T, generator Generator) *Manager {
	t.Helper()
	registry, err := material.NewRegistry([]material.Material{stone, water, torch, rail})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	m := NewManager(testRegion(), NewMemoryStorageProvider(), generator, registry, Options{
		DefaultBiome: "plains",
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManagerGeneratesChunkOnce(t *testing.T) {
	gen := &stubGenerator{}
	m := newTestManager(t, gen)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Chunk(context.Background(), ChunkCoord{}); err != nil {
				t.Errorf("Chunk: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := gen.calls.Load(); got != 1 {
		t.Fatalf("expected one generation, got %d", got)
	}
	got, ok := m.Material(geom.Vec{X: 0, Y: 1, Z: 0})
	if !ok || got != stone {
		t.Fatalf("expected generated stone, got %v ok=%v", got, ok)
	}
}

func TestManagerRejectsChunkOutsideRegion(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.Chunk(context.Background(), ChunkCoord{X: 9, Z: 0}); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestManagerMaterialReadsAndWrites(t *testing.T) {
	m := newTestManager(t, nil)

	pos := geom.Vec{X: 5, Y: 2, Z: 6}
	got, ok := m.Material(pos)
	if !ok {
		t.Fatalf("expected in-region read to succeed")
	}
	if !got.IsAir() {
		t.Fatalf("expected air in empty world, got %v", got)
	}

	if err := m.SetMaterial(pos, water, false); err != nil {
		t.Fatalf("SetMaterial: %v", err)
	}
	got, ok = m.Material(pos)
	if !ok || got != water {
		t.Fatalf("expected water, got %v ok=%v", got, ok)
	}

	if _, ok := m.Material(geom.Vec{X: -1, Y: 0, Z: 0}); ok {
		t.Fatalf("expected read outside region to miss")
	}
	if _, ok := m.Material(geom.Vec{X: 0, Y: 8, Z: 0}); ok {
		t.Fatalf("expected read above world height to miss")
	}
	if err := m.SetMaterial(geom.Vec{X: 100, Y: 0, Z: 0}, stone, false); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestManagerRecordsChanges(t *testing.T) {
	m := newTestManager(t, nil)

	pos := geom.Vec{X: 1, Y: 1, Z: 1}
	if err := m.SetMaterial(pos, stone, false); err != nil {
		t.Fatalf("SetMaterial: %v", err)
	}
	if err := m.SetMaterial(pos, water, false); err != nil {
		t.Fatalf("SetMaterial: %v", err)
	}
	if err := m.SetBiome(1, 1, "desert"); err != nil {
		t.Fatalf("SetBiome: %v", err)
	}

	summary := m.DrainChanges()
	changes := summary.Changes()
	if len(changes) != 1 {
		t.Fatalf("expected one merged change, got %d", len(changes))
	}
	if changes[0].Before != (Block{}) || changes[0].After != (Block{Material: "water"}) {
		t.Fatalf("unexpected merged change %+v", changes[0])
	}
	biomes := summary.BiomeChanges()
	if len(biomes) != 1 || biomes[0].Before != "plains" || biomes[0].After != "desert" {
		t.Fatalf("unexpected biome changes %+v", biomes)
	}
	if dirty := summary.DirtyChunks(); len(dirty) != 1 || dirty[0] != (ChunkCoord{}) {
		t.Fatalf("unexpected dirty chunks %v", dirty)
	}

	if m.DrainChanges().Len() != 0 {
		t.Fatalf("expected drain to reset the summary")
	}
}

func TestManagerBiomeDefaults(t *testing.T) {
	m := newTestManager(t, nil)

	biome, ok := m.Biome(3, 3)
	if !ok || biome != "plains" {
		t.Fatalf("expected default biome, got %q ok=%v", biome, ok)
	}
	if err := m.SetBiome(3, 3, "taiga"); err != nil {
		t.Fatalf("SetBiome: %v", err)
	}
	if biome, _ := m.Biome(3, 3); biome != "taiga" {
		t.Fatalf("expected taiga, got %q", biome)
	}
	if _, ok := m.Biome(-5, 0); ok {
		t.Fatalf("expected biome read outside region to miss")
	}
}

func TestManagerCollapsesReliantBlocks(t *testing.T) {
	m := newTestManager(t, nil)

	base := geom.Vec{X: 2, Y: 0, Z: 2}
	if err := m.SetMaterial(base, stone, true); err != nil {
		t.Fatalf("SetMaterial base: %v", err)
	}
	if err := m.SetMaterial(base.Up(), torch, true); err != nil {
		t.Fatalf("SetMaterial torch: %v", err)
	}
	if err := m.SetMaterial(base.Up().Up(), rail, true); err != nil {
		t.Fatalf("SetMaterial rail: %v", err)
	}
	if err := m.SetMaterial(base.Up().Up().Up(), stone, true); err != nil {
		t.Fatalf("SetMaterial cap: %v", err)
	}
	m.DrainChanges()

	if err := m.SetMaterial(base, material.Air, true); err != nil {
		t.Fatalf("SetMaterial clear: %v", err)
	}

	if got, _ := m.Material(base.Up()); !got.IsAir() {
		t.Fatalf("expected torch to collapse, got %v", got)
	}
	if got, _ := m.Material(base.Up().Up()); !got.IsAir() {
		t.Fatalf("expected rail above torch to collapse, got %v", got)
	}
	if got, _ := m.Material(base.Up().Up().Up()); got != stone {
		t.Fatalf("expected solid cap to stay, got %v", got)
	}

	collapsed := m.DrainChanges().CollapsedBlocks()
	if len(collapsed) != 2 {
		t.Fatalf("expected two collapsed blocks, got %v", collapsed)
	}
}

func TestManagerSkipsPhysicsWhenDisabled(t *testing.T) {
	m := newTestManager(t, nil)

	base := geom.Vec{X: 2, Y: 3, Z: 2}
	if err := m.SetMaterial(base, stone, false); err != nil {
		t.Fatalf("SetMaterial: %v", err)
	}
	if err := m.SetMaterial(base.Up(), torch, false); err != nil {
		t.Fatalf("SetMaterial: %v", err)
	}
	if err := m.SetMaterial(base, water, false); err != nil {
		t.Fatalf("SetMaterial: %v", err)
	}
	if got, _ := m.Material(base.Up()); got != torch {
		t.Fatalf("expected torch to stay without physics, got %v", got)
	}
}

func TestManagerRendersPreview(t *testing.T) {
	m := newTestManager(t, &stubGenerator{})

	var buf bytes.Buffer
	if err := m.RenderPreview(context.Background(), ChunkCoord{}, &buf); err != nil {
		t.Fatalf("RenderPreview: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		t.Fatalf("expected non-empty preview, got %v", bounds)
	}

	background := true
	for y := bounds.Min.Y; y < bounds.Max.Y && background; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r>>8 != 10 || g>>8 != 10 || b>>8 != 18 {
				background = false
				break
			}
		}
	}
	if background {
		t.Fatalf("expected generated blocks to be drawn")
	}
}

func TestManagerPersistsThroughStorage(t *testing.T) {
	registry, err := material.NewRegistry([]material.Material{stone})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	provider, err := NewDiskStorageProvider(t.TempDir(), testRegion(), false)
	if err != nil {
		t.Fatalf("NewDiskStorageProvider: %v", err)
	}
	gen := &stubGenerator{}
	m := NewManager(testRegion(), provider, gen, registry, Options{})
	pos := geom.Vec{X: 6, Y: 4, Z: 1}
	if err := m.SetMaterial(pos, stone, false); err != nil {
		t.Fatalf("SetMaterial: %v", err)
	}

	ch, err := m.Chunk(context.Background(), ChunkCoord{X: 1, Z: 0})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	stored, err := ch.HasStoredBlocks()
	if err != nil {
		t.Fatalf("HasStoredBlocks: %v", err)
	}
	if !stored {
		t.Fatalf("expected write-through to storage")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
