package world

import (
	"fmt"

	"voxeledit/internal/geom"
	"voxeledit/internal/material"
)

// SupportReport captures the state of a block after evaluating column support.
type SupportReport struct {
	Global    geom.Vec
	LocalY    int
	Block     Block
	Supported bool
	Collapsed bool
}

type supportNode struct {
	block     Block
	mat       material.Material
	present   bool
	collapsed bool
}

// evaluateColumnSupport walks the column at (localX, localZ) upward from
// fromY. A reliant block stays only while the cell directly below it can
// support; the world floor supports anything resting on it. Blocks that lose
// support are reported as collapsed, which in turn removes support from the
// cell above them.
func evaluateColumnSupport(chunk *Chunk, localX, localZ, fromY int, classify func(string) material.Material) ([]SupportReport, error) {
	dim := chunk.dimension
	if localX < 0 || localZ < 0 || localX >= dim.Width || localZ >= dim.Length {
		return nil, fmt.Errorf("column (%d, %d) out of bounds", localX, localZ)
	}
	if fromY < 0 {
		fromY = 0
	}
	if fromY >= dim.Height {
		return nil, nil
	}

	start := fromY - 1
	if start < 0 {
		start = 0
	}
	nodes := make([]supportNode, dim.Height)
	for y := start; y < dim.Height; y++ {
		block, ok, err := chunk.LocalBlock(localX, y, localZ)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("block (%d, %d, %d) out of bounds", localX, y, localZ)
		}
		id := block.Material
		if id == "" {
			id = material.AirID
		}
		m := classify(id)
		nodes[y] = supportNode{block: block, mat: m, present: !m.IsAir()}
	}

	reports := make([]SupportReport, 0)
	for y := fromY; y < dim.Height; y++ {
		node := &nodes[y]
		if !node.present {
			continue
		}
		supported := true
		if node.mat.IsReliantOnEnvironment() && y > 0 {
			below := nodes[y-1]
			supported = below.present && below.mat.Supports()
		}
		if !supported {
			node.present = false
			node.collapsed = true
		}
		reports = append(reports, SupportReport{
			Global: geom.Vec{
				X: chunk.Bounds.Min.X + localX,
				Y: chunk.Bounds.Min.Y + y,
				Z: chunk.Bounds.Min.Z + localZ,
			},
			LocalY:    y,
			Block:     node.block,
			Supported: supported,
			Collapsed: node.collapsed,
		})
	}
	return reports, nil
}
