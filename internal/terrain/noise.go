package terrain

import (
	"context"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"voxeledit/internal/config"
	"voxeledit/internal/world"
)

// Material identifiers placed by the generator.
const (
	Bedrock = "bedrock"
	Stone   = "stone"
	Dirt    = "dirt"
	Grass   = "grass"
	Sand    = "sand"
	Water   = "water"
	Flower  = "flower"

	OceanBiome = "ocean"
)

const topsoilDepth = 3

// NoiseGenerator creates repeatable terrain using hashed value noise.
type NoiseGenerator struct {
	cfg    config.TerrainConfig
	seed   int64
	logger *slog.Logger
}

func NewNoiseGenerator(cfg config.TerrainConfig, logger *slog.Logger) *NoiseGenerator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &NoiseGenerator{
		cfg:    cfg,
		seed:   cfg.Seed,
		logger: logger.With("component", "terrain"),
	}
}

type generatedColumn struct {
	blocks []world.Block
	biome  string
}

// Generate fills every column of chunk. Rows of columns are computed
// concurrently; writes to the chunk happen afterwards from the caller's
// goroutine so a failed or cancelled generation leaves the chunk untouched.
func (g *NoiseGenerator) Generate(ctx context.Context, chunk *world.Chunk) error {
	dim := chunk.Dimensions()
	bounds := chunk.Bounds
	total := dim.Width * dim.Length
	if total <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	columns := make([]generatedColumn, total)
	var done atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workerCount(dim.Length))
	for z := 0; z < dim.Length; z++ {
		eg.Go(func() error {
			for x := 0; x < dim.Width; x++ {
				if err := egCtx.Err(); err != nil {
					return err
				}
				globalX, globalZ := bounds.Min.X+x, bounds.Min.Z+z
				surface := g.computeSurfaceHeight(g.fractalNoise(float64(globalX), float64(globalZ)), dim)
				blocks, biome := g.populateColumn(globalX, globalZ, surface, dim)
				columns[z*dim.Width+x] = generatedColumn{blocks: blocks, biome: biome}
			}
			if n := done.Add(1); n%4 == 0 {
				g.logger.Debug("chunk generation progress", "chunk", chunk.Key, "percent", int(n)*100/dim.Length)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, col := range columns {
		x, z := i%dim.Width, i/dim.Width
		if err := chunk.SetColumnBlocks(x, z, col.blocks); err != nil {
			return err
		}
		if col.biome == "" {
			continue
		}
		if err := chunk.SetLocalBiome(x, z, col.biome); err != nil {
			return err
		}
	}
	g.logger.Debug("chunk generated", "chunk", chunk.Key, "columns", total)
	return nil
}

func (g *NoiseGenerator) computeSurfaceHeight(noise float64, dim world.Dimensions) int {
	base := g.cfg.SurfaceLevel
	if base <= 0 {
		base = dim.Height / 2
	}
	surface := int(math.Round(float64(base) + noise*g.cfg.Amplitude))
	return clampInt(surface, topsoilDepth+1, dim.Height-2)
}

// populateColumn builds the column bottom-up: bedrock, stone, a dirt band,
// then grass above sea level or sand below it with water up to sea level.
// Dry grass occasionally carries a flower.
func (g *NoiseGenerator) populateColumn(globalX, globalZ, surface int, dim world.Dimensions) ([]world.Block, string) {
	top := surface
	sea := g.cfg.SeaLevel
	underwater := sea > surface
	if underwater {
		top = min(sea, dim.Height-1)
	}

	column := make([]world.Block, top+2)
	column[0] = world.Block{Material: Bedrock}
	fillBlockRange(column, 1, surface-topsoilDepth, world.Block{Material: Stone})
	fillBlockRange(column, surface-topsoilDepth, surface, world.Block{Material: Dirt})

	biome := ""
	if underwater {
		column[surface] = world.Block{Material: Sand}
		fillBlockRange(column, surface+1, top+1, world.Block{Material: Water})
		biome = OceanBiome
	} else {
		column[surface] = world.Block{Material: Grass}
		rng := newDeterministicRNG(globalX, globalZ, g.seed)
		roll := float64(rng.next()&0xFFFF) / 0xFFFF
		if roll < g.cfg.DecorationChance {
			column[surface+1] = world.Block{Material: Flower}
		}
	}
	return column, biome
}

func fillBlockRange(column []world.Block, start, end int, value world.Block) {
	start = max(start, 0)
	end = min(end, len(column))
	for i := start; i < end; i++ {
		column[i] = value
	}
}

type deterministicRNG struct {
	state uint64
}

func newDeterministicRNG(x, z int, seed int64) *deterministicRNG {
	state := uint64(uint32(x))<<32 ^ uint64(uint32(z))<<1 ^ uint64(seed)
	if state == 0 {
		state = 0x9e3779b97f4a7c15
	}
	return &deterministicRNG{state: state}
}

func (r *deterministicRNG) next() uint64 {
	r.state ^= r.state << 7
	r.state ^= r.state >> 9
	r.state ^= r.state << 8
	return r.state
}

func (g *NoiseGenerator) fractalNoise(x, z float64) float64 {
	frequency := g.cfg.Frequency
	amplitude := 1.0
	noiseSum := 0.0
	maxAmplitude := 0.0

	for i := 0; i < g.cfg.Octaves; i++ {
		noise := g.valueNoise(x*frequency, z*frequency)
		noiseSum += noise * amplitude
		maxAmplitude += amplitude
		amplitude *= g.cfg.Persistence
		frequency *= g.cfg.Lacunarity
	}

	if maxAmplitude == 0 {
		return 0
	}
	return noiseSum / maxAmplitude
}

func (g *NoiseGenerator) valueNoise(x, z float64) float64 {
	x0 := int(math.Floor(x))
	z0 := int(math.Floor(z))
	x1 := x0 + 1
	z1 := z0 + 1

	sx := smooth(x - float64(x0))
	sz := smooth(z - float64(z0))

	ix0 := lerp(random2D(x0, z0, g.seed), random2D(x1, z0, g.seed), sx)
	ix1 := lerp(random2D(x0, z1, g.seed), random2D(x1, z1, g.seed), sx)
	return lerp(ix0, ix1, sz)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func random2D(x, z int, seed int64) float64 {
	return float64(hash3(x, z, int(seed))&0xFFFF)/0x8000 - 1.0
}

func hash3(x, y, z int) uint32 {
	h := uint32(x*374761393 + y*668265263 + z*2147483647)
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (g *NoiseGenerator) workerCount(rows int) int {
	if g.cfg.Workers > 0 {
		return min(g.cfg.Workers, rows)
	}
	return max(1, min(runtime.GOMAXPROCS(0), rows))
}
