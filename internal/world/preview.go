package world

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"slices"
	"strconv"
	"strings"

	"voxeledit/internal/geom"
)

// Isometric tile geometry in pixels.
const (
	isoTileW  = 32
	isoTileH  = 16
	isoCubeH  = 16
	isoShadeA = 0.2
)

var (
	previewBackground = color.NRGBA{R: 10, G: 10, B: 18, A: 255}
	previewFallback   = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
)

// RenderPreview writes an isometric PNG of the chunk at coord to w.
func (m *Manager) RenderPreview(ctx context.Context, coord ChunkCoord, w io.Writer) error {
	ch, err := m.Chunk(ctx, coord)
	if err != nil {
		return err
	}
	return RenderChunkPreview(w, ch, func(block Block) string {
		return m.resolve(block.Material).Color
	})
}

type isoCube struct {
	local  geom.Vec
	anchor image.Point
	fill   color.NRGBA
}

// RenderChunkPreview draws every non-air block of chunk as an isometric cube
// and encodes the result as PNG. colorOf maps a block to "#rrggbb"; blocks
// without a parseable colour are drawn grey.
func RenderChunkPreview(w io.Writer, chunk *Chunk, colorOf func(Block) string) error {
	if chunk == nil {
		return errors.New("chunk is nil")
	}
	dim := chunk.Dimensions()
	if dim.Width <= 0 || dim.Length <= 0 || dim.Height <= 0 {
		return fmt.Errorf("invalid chunk dimensions: %+v", dim)
	}

	span := dim.Width + dim.Length
	canvas := image.NewNRGBA(image.Rect(0, 0, span*isoTileW/2+isoTileW, span*isoTileH/2+dim.Height*isoCubeH+isoTileH))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: previewBackground}, image.Point{}, draw.Src)

	origin := image.Point{X: dim.Length * isoTileW / 2, Y: dim.Height * isoCubeH}
	var cubes []isoCube
	err := chunk.ForEachBlock(func(pos geom.Vec, block Block) bool {
		lx, ly, lz, ok := chunk.GlobalToLocal(pos)
		if !ok {
			return true
		}
		fill, ok := parseHexColor(colorOf(block))
		if !ok {
			fill = previewFallback
		}
		cubes = append(cubes, isoCube{
			local:  geom.Vec{X: lx, Y: ly, Z: lz},
			anchor: origin.Add(isoProject(lx, ly, lz)),
			fill:   fill,
		})
		return true
	})
	if err != nil {
		return err
	}

	// Painter's order: back to front, bottom to top.
	slices.SortFunc(cubes, func(a, b isoCube) int {
		return cmp.Or(
			cmp.Compare(a.anchor.Y, b.anchor.Y),
			cmp.Compare(a.anchor.X, b.anchor.X),
			cmp.Compare(a.local.Y, b.local.Y),
			cmp.Compare(b.local.Z, a.local.Z),
			cmp.Compare(a.local.X, b.local.X),
		)
	})
	for _, c := range cubes {
		drawCube(canvas, c.anchor, c.fill)
	}

	if err := png.Encode(w, canvas); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}

func isoProject(x, y, z int) image.Point {
	return image.Point{
		X: (x - z) * isoTileW / 2,
		Y: (x+z)*isoTileH/2 - y*isoCubeH,
	}
}

// drawCube paints the two visible sides and the top of a cube whose lower
// front vertex sits at p.
func drawCube(img *image.NRGBA, p image.Point, base color.NRGBA) {
	hw, hh := isoTileW/2, isoTileH/2
	topY := p.Y - isoCubeH
	westTop := image.Pt(p.X-hw, topY+hh)
	eastTop := image.Pt(p.X+hw, topY+hh)
	frontTop := image.Pt(p.X, topY+isoTileH)
	frontBottom := image.Pt(p.X, p.Y+isoTileH)

	fillPolygon(img, []image.Point{westTop, frontTop, frontBottom, image.Pt(p.X-hw, p.Y+hh)}, shade(base, isoShadeA+0.25))
	fillPolygon(img, []image.Point{eastTop, frontTop, frontBottom, image.Pt(p.X+hw, p.Y+hh)}, shade(base, isoShadeA+0.15))
	fillPolygon(img, []image.Point{image.Pt(p.X, topY), eastTop, frontTop, westTop}, shade(base, isoShadeA+0.4))
}

func parseHexColor(value string) (color.NRGBA, bool) {
	hex, ok := strings.CutPrefix(strings.TrimSpace(value), "#")
	if !ok || len(hex) != 6 {
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, true
}

func shade(c color.NRGBA, factor float64) color.NRGBA {
	factor = min(max(factor, 0), 1)
	scale := func(v uint8) uint8 { return uint8(float64(v)*factor + 0.5) }
	return color.NRGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: 255}
}

// fillPolygon scanline-fills a convex or concave polygon, clipped to img.
func fillPolygon(img *image.NRGBA, pts []image.Point, c color.NRGBA) {
	if len(pts) < 3 {
		return
	}
	bounds := img.Bounds()
	top, bottom := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		top = min(top, p.Y)
		bottom = max(bottom, p.Y)
	}
	top = max(top, bounds.Min.Y)
	bottom = min(bottom, bounds.Max.Y-1)

	crossings := make([]int, 0, len(pts))
	for y := top; y <= bottom; y++ {
		crossings = crossings[:0]
		for i, a := range pts {
			b := pts[(i+1)%len(pts)]
			if a.Y == b.Y || y < min(a.Y, b.Y) || y >= max(a.Y, b.Y) {
				continue
			}
			crossings = append(crossings, a.X+(y-a.Y)*(b.X-a.X)/(b.Y-a.Y))
		}
		slices.Sort(crossings)
		for i := 0; i+1 < len(crossings); i += 2 {
			for x := max(crossings[i], bounds.Min.X); x <= min(crossings[i+1], bounds.Max.X-1); x++ {
				img.SetNRGBA(x, y, c)
			}
		}
	}
}
