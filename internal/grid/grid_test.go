package grid

import (
	"testing"

	"github.com/vrui-vr/nck/internal/geom"
)

func testDomain() geom.Box {
	return geom.Box{Min: geom.Vector{-10, -10, -10}, Max: geom.Vector{10, 10, 10}}
}

func TestNewSizesCellsToCoverDomain(t *testing.T) {
	g, err := New(testDomain(), 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n := g.NumCells()
	if n[0] < 1 || n[1] < 1 || n[2] < 1 {
		t.Fatalf("expected at least one cell per axis, got %v", n)
	}
}

func TestInsertMoveRemoveRoundTrip(t *testing.T) {
	g, err := New(testDomain(), 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	positions := []geom.Vector{{0, 0, 0}, {5, 5, 5}, {-9, -9, -9}}
	for i, p := range positions {
		g.Insert(i, p)
	}
	if err := g.Check(positions); err != nil {
		t.Fatalf("Check after insert: %v", err)
	}

	positions[0] = geom.Vector{9, 9, 9}
	g.Move(0, positions[0])
	if err := g.Check(positions); err != nil {
		t.Fatalf("Check after move: %v", err)
	}

	g.Remove(1)
	remaining := []geom.Vector{positions[0], positions[2]}
	// Reindex unit 2 down to slot 1 to mirror destroy-compaction (spec §4.6).
	g.Reindex(2, 1)
	if err := g.Check(remaining); err != nil {
		t.Fatalf("Check after remove+reindex: %v", err)
	}
}

func TestForEachNeighborFindsInsertedUnit(t *testing.T) {
	g, err := New(testDomain(), 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	positions := []geom.Vector{{0, 0, 0}, {0.5, 0.5, 0.5}}
	for i, p := range positions {
		g.Insert(i, p)
	}

	found := map[int]bool{}
	g.ForEachNeighbor(0, func(other int) { found[other] = true })
	if !found[1] {
		t.Fatal("expected unit 1 to be found as a neighbour of unit 0")
	}
}

func TestCellCoordsWrapsPeriodically(t *testing.T) {
	g, err := New(testDomain(), 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n := g.NumCells()
	if g.CellCoords(-1, 0, 0) != g.CellCoords(n[0]-1, 0, 0) {
		t.Fatal("expected negative x coordinate to wrap to the last cell column")
	}
}

func TestMinCellSize(t *testing.T) {
	got := MinCellSize([]float32{1, 2}, []float32{0.5}, 0.1, 0.2)
	// max(2*1+0.1=2.1, 2*2+0.1=4.1, 2*0.5+0.2=1.2) = 4.1
	if got != 4.1 {
		t.Fatalf("expected 4.1, got %v", got)
	}
}
