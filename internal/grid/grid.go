// Package grid implements the uniform spatial acceleration structure of
// spec §4.2: a 3-D cell grid over the periodic domain box, each cell
// caching pointers to its 27 neighbours (itself plus 26), enabling
// branch-free neighbourhood iteration during force computation and bond
// maintenance.
package grid

import (
	"fmt"
	"math"

	"github.com/vrui-vr/nck/internal/geom"
)

// Cell holds the dense list of unit indices currently located inside it,
// plus the linear indices of its 27 neighbours (wrapped for periodicity).
type Cell struct {
	UnitIndices []int
	Neighbors   [27]int // linear indices into Grid.cells
}

// Grid is the uniform acceleration structure spanning a Box domain.
type Grid struct {
	domain       geom.Box
	numCells     [3]int
	cellSize     [3]float32
	cells        []Cell
	unitCellIdx  []int // unitCellIdx[unitIndex] = linear cell index
}

// New builds an empty grid for domain, sized so that every pair of units
// whose central-repulsion or bond-attraction fields could possibly overlap
// fall within the same or a neighbouring cell.
//
// minCellSize must be at least max(2*radius+centralOvershoot,
// 2*|siteOffset|+vertexForceRadius) across all unit types in play (spec
// §4.2); callers typically derive it via MinCellSize.
func New(domain geom.Box, minCellSize float32) (*Grid, error) {
	if minCellSize <= 0 {
		return nil, fmt.Errorf("grid: minCellSize must be positive, got %v", minCellSize)
	}

	g := &Grid{domain: domain}

	var numCells [3]int
	var cellSize [3]float32
	for i := 0; i < 3; i++ {
		size := domain.Size(i)
		n := int(math.Floor(float64(size / minCellSize)))
		if n < 1 {
			n = 1
		}
		numCells[i] = n
		cs := size / float32(n)

		// Nudge the cell size upward by ULP increments until no in-domain
		// point can round into an out-of-range cell index (spec §4.2).
		for int((domain.Max[i]-domain.Min[i])/cs) >= numCells[i] {
			cs = geom.IncrementFloat32(cs)
		}
		cellSize[i] = cs
	}
	g.numCells = numCells
	g.cellSize = cellSize

	total := numCells[0] * numCells[1] * numCells[2]
	g.cells = make([]Cell, total)
	for z := 0; z < numCells[2]; z++ {
		for y := 0; y < numCells[1]; y++ {
			for x := 0; x < numCells[0]; x++ {
				idx := g.linearIndex(x, y, z)
				n := 0
				for dz := -1; dz <= 1; dz++ {
					for dy := -1; dy <= 1; dy++ {
						for dx := -1; dx <= 1; dx++ {
							g.cells[idx].Neighbors[n] = g.linearIndex(
								wrap(x+dx, numCells[0]),
								wrap(y+dy, numCells[1]),
								wrap(z+dz, numCells[2]),
							)
							n++
						}
					}
				}
			}
		}
	}

	return g, nil
}

// MinCellSize computes the smallest safe grid cell edge length for the
// given per-type radii/bond-site offsets and force-field parameters (spec
// §4.2).
func MinCellSize(radii []float32, siteOffsetLens []float32, centralOvershoot, vertexForceRadius float32) float32 {
	var minSize float32
	for _, r := range radii {
		if c := r*2 + centralOvershoot; c > minSize {
			minSize = c
		}
	}
	for _, l := range siteOffsetLens {
		if v := l*2 + vertexForceRadius; v > minSize {
			minSize = v
		}
	}
	return minSize
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func (g *Grid) linearIndex(x, y, z int) int {
	return (z*g.numCells[1]+y)*g.numCells[0] + x
}

// CellIndex returns the linear index of the cell containing position.
// Precondition: domain.Contains(position).
func (g *Grid) CellIndex(position geom.Vector) int {
	x := int((position[0] - g.domain.Min[0]) / g.cellSize[0])
	y := int((position[1] - g.domain.Min[1]) / g.cellSize[1])
	z := int((position[2] - g.domain.Min[2]) / g.cellSize[2])
	return g.linearIndex(x, y, z)
}

// CellSize returns the grid's per-axis cell edge length.
func (g *Grid) CellSize() [3]float32 {
	return g.cellSize
}

// NumCells returns the grid's per-axis cell count.
func (g *Grid) NumCells() [3]int {
	return g.numCells
}

// Cell returns the cell at linear index idx (wrapped as needed by callers).
func (g *Grid) Cell(idx int) *Cell {
	return &g.cells[idx]
}

// CellCoords returns the wrapped linear index of the cell at the given
// (possibly out-of-range) integer triple coordinates, used by pick queries
// that scan a box of cells around a query position (spec §4.6).
func (g *Grid) CellCoords(x, y, z int) int {
	return g.linearIndex(wrap(x, g.numCells[0]), wrap(y, g.numCells[1]), wrap(z, g.numCells[2]))
}

// reserve ensures the unit->cell index array can hold numUnits entries.
func (g *Grid) reserve(numUnits int) {
	if len(g.unitCellIdx) >= numUnits {
		return
	}
	grown := make([]int, numUnits)
	copy(grown, g.unitCellIdx)
	g.unitCellIdx = grown
}

// Insert adds unitIndex, located at position, to the grid. O(1).
func (g *Grid) Insert(unitIndex int, position geom.Vector) {
	g.reserve(unitIndex + 1)
	cellIdx := g.CellIndex(position)
	g.cells[cellIdx].UnitIndices = append(g.cells[cellIdx].UnitIndices, unitIndex)
	g.unitCellIdx[unitIndex] = cellIdx
}

// Move relocates unitIndex to the cell containing its new position, if it
// changed cells. O(1).
func (g *Grid) Move(unitIndex int, position geom.Vector) {
	cellIdx := g.CellIndex(position)
	if g.unitCellIdx[unitIndex] == cellIdx {
		return
	}
	g.removeFromCell(unitIndex, g.unitCellIdx[unitIndex])
	g.cells[cellIdx].UnitIndices = append(g.cells[cellIdx].UnitIndices, unitIndex)
	g.unitCellIdx[unitIndex] = cellIdx
}

// MoveAll updates every unit's cell membership in index order; callers
// integrate all positions for a step before calling this once.
func (g *Grid) MoveAll(positions []geom.Vector) {
	for i, p := range positions {
		g.Move(i, p)
	}
}

// Remove takes unitIndex out of the grid without filling the hole it
// leaves in the dense index space; the caller (destroy compaction, spec
// §4.6) is responsible for that. O(cell fan-out).
func (g *Grid) Remove(unitIndex int) {
	g.removeFromCell(unitIndex, g.unitCellIdx[unitIndex])
}

func (g *Grid) removeFromCell(unitIndex, cellIdx int) {
	list := g.cells[cellIdx].UnitIndices
	for i, idx := range list {
		if idx == unitIndex {
			list[i] = list[len(list)-1]
			g.cells[cellIdx].UnitIndices = list[:len(list)-1]
			return
		}
	}
}

// Reindex updates the grid's bookkeeping to reflect that the unit
// previously known as oldIndex is now newIndex, without moving it between
// cells. Used by destroy-compaction when the last unit is moved into a
// hole (spec §4.6).
func (g *Grid) Reindex(oldIndex, newIndex int) {
	g.reserve(newIndex + 1)
	cellIdx := g.unitCellIdx[oldIndex]
	g.unitCellIdx[newIndex] = cellIdx
	list := g.cells[cellIdx].UnitIndices
	for i, idx := range list {
		if idx == oldIndex {
			list[i] = newIndex
			return
		}
	}
}

// ForEachNeighbor invokes f once per unit index found in any of the 27
// cells neighbouring the cell containing unitIndex (itself included).
func (g *Grid) ForEachNeighbor(unitIndex int, f func(otherUnitIndex int)) {
	cell := &g.cells[g.unitCellIdx[unitIndex]]
	for k, n := range cell.Neighbors {
		// On a grid with fewer than 3 cells along an axis the same cell
		// appears more than once among the 27; visit it only the first time.
		dup := false
		for _, m := range cell.Neighbors[:k] {
			if m == n {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		for _, idx := range g.cells[n].UnitIndices {
			f(idx)
		}
	}
}

// WrapDistance returns the minimum-image representative of d on the
// grid's periodic domain.
func (g *Grid) WrapDistance(d geom.Vector) geom.Vector {
	return geom.WrapDistance(g.domain, d)
}

// Check verifies grid consistency (invariant I5, spec §8 P4): every unit's
// cell contains it exactly once, and no other cell lists it. Intended for
// tests and debug builds, never the simulation hot path.
func (g *Grid) Check(positions []geom.Vector) error {
	for cellIdx := range g.cells {
		for _, u := range g.cells[cellIdx].UnitIndices {
			if g.unitCellIdx[u] != cellIdx {
				return fmt.Errorf("grid: unit %d listed in cell %d but unitCellIdx says %d", u, cellIdx, g.unitCellIdx[u])
			}
		}
	}
	for u, p := range positions {
		want := g.CellIndex(p)
		if g.unitCellIdx[u] != want {
			return fmt.Errorf("grid: unit %d at %v should be in cell %d, unitCellIdx says %d", u, p, want, g.unitCellIdx[u])
		}
		count := 0
		for _, idx := range g.cells[want].UnitIndices {
			if idx == u {
				count++
			}
		}
		if count != 1 {
			return fmt.Errorf("grid: unit %d appears %d times in its cell, expected 1", u, count)
		}
	}
	return nil
}
