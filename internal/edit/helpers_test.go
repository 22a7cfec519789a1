package edit

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
	"voxeledit/internal/world"
)

var (
	stone = material.Material{ID: "stone", Color: "#7f7f7f"}
	dirt  = material.Material{ID: "dirt", Color: "#8b5a2b"}
	water = material.Material{ID: "water", Color: "#3f76e4", Liquid: true}
	lava  = material.Material{ID: "lava", Color: "#cf5b16", Liquid: true}
	torch = material.Material{ID: "torch", Color: "#ffd35c", Reliant: true}
	air   = material.Air
)

type columnKey struct{ x, z int }

// fakeGrid is a bounded in-memory grid. Unset cells read as air.
type fakeGrid struct {
	mu     sync.Mutex
	size   geom.Vec
	cells  map[geom.Vec]material.Material
	biomes map[columnKey]string
	writes []geom.Vec
	failAt map[geom.Vec]error
	panics map[geom.Vec]bool
}

func newFakeGrid(w, h, l int) *fakeGrid {
	return &fakeGrid{
		size:   geom.Vec{X: w, Y: h, Z: l},
		cells:  make(map[geom.Vec]material.Material),
		biomes: make(map[columnKey]string),
		failAt: make(map[geom.Vec]error),
		panics: make(map[geom.Vec]bool),
	}
}

func (g *fakeGrid) inside(pos geom.Vec) bool {
	return pos.X >= 0 && pos.Y >= 0 && pos.Z >= 0 && pos.X < g.size.X && pos.Y < g.size.Y && pos.Z < g.size.Z
}

func (g *fakeGrid) Material(pos geom.Vec) (material.Material, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.inside(pos) {
		return material.Material{}, false
	}
	if m, ok := g.cells[pos]; ok {
		return m, true
	}
	return air, true
}

func (g *fakeGrid) SetMaterial(pos geom.Vec, m material.Material, _ bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panics[pos] {
		panic(fmt.Sprintf("boom at %v", pos))
	}
	if err := g.failAt[pos]; err != nil {
		return err
	}
	if !g.inside(pos) {
		return world.ErrOutOfBounds
	}
	g.cells[pos] = m
	g.writes = append(g.writes, pos)
	return nil
}

func (g *fakeGrid) Biome(x, z int) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if x < 0 || z < 0 || x >= g.size.X || z >= g.size.Z {
		return "", false
	}
	if b, ok := g.biomes[columnKey{x, z}]; ok {
		return b, true
	}
	return "plains", true
}

func (g *fakeGrid) SetBiome(x, z int, biome string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if x < 0 || z < 0 || x >= g.size.X || z >= g.size.Z {
		return world.ErrOutOfBounds
	}
	g.biomes[columnKey{x, z}] = biome
	return nil
}

func (g *fakeGrid) set(pos geom.Vec, m material.Material) {
	g.mu.Lock()
	g.cells[pos] = m
	g.mu.Unlock()
}

func (g *fakeGrid) at(x, y, z int) material.Material {
	m, _ := g.Material(geom.Vec{X: x, Y: y, Z: z})
	return m
}

// snapshot returns every non-air cell.
func (g *fakeGrid) snapshot() map[geom.Vec]material.Material {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[geom.Vec]material.Material, len(g.cells))
	for pos, m := range g.cells {
		if m != air {
			out[pos] = m
		}
	}
	return out
}

func (g *fakeGrid) writeLog() []geom.Vec {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]geom.Vec(nil), g.writes...)
}

type recordingOwner struct {
	id string

	mu       sync.Mutex
	messages []string
}

func newOwner(id string) *recordingOwner {
	return &recordingOwner{id: id}
}

func (o *recordingOwner) ID() string { return o.id }

func (o *recordingOwner) SendMessage(format string, args ...any) {
	o.mu.Lock()
	o.messages = append(o.messages, fmt.Sprintf(format, args...))
	o.mu.Unlock()
}

func (o *recordingOwner) Messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.messages...)
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func (j *memoryJournal) Record(entry Entry) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *memoryJournal) actions() []Action {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Action, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.Action)
	}
	return out
}

func testOptions() Options {
	return Options{Intermediate: air}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runUntilIdle ticks s until every editor is idle.
func runUntilIdle(t *testing.T, s *Scheduler) int {
	t.Helper()
	for ticks := 1; ticks <= 10_000; ticks++ {
		s.Tick()
		idle := true
		for _, e := range s.Editors() {
			if e.Pending() > 0 {
				idle = false
				break
			}
		}
		if idle {
			return ticks
		}
	}
	require.FailNow(t, "scheduler did not go idle")
	return 0
}

func vec(x, y, z int) geom.Vec {
	return geom.Vec{X: x, Y: y, Z: z}
}
