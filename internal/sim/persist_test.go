package sim

import (
	"bytes"
	"testing"

	"github.com/vrui-vr/nck/internal/bond"
	"github.com/vrui-vr/nck/internal/geom"
)

func TestSaveThenLoadStateRoundTrips(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	st.insertUnit(UnitState{UnitType: 1, Position: geom.Vector{1, 2, 3}, Orientation: geom.IdentityRotation()})
	st.insertUnit(UnitState{UnitType: 1, Position: geom.Vector{-1, -2, -3}, Orientation: geom.IdentityRotation()})
	if err := st.Bonds.Bond(bond.Site{UnitIndex: 0, SiteIndex: 0}, bond.Site{UnitIndex: 1, SiteIndex: 0}); err != nil {
		t.Fatalf("Bond: %v", err)
	}

	var buf bytes.Buffer
	if err := st.handleSaveState(Request{SaveSink: &buf}); err != nil {
		t.Fatalf("handleSaveState: %v", err)
	}

	loaded := newTestState(t, reg)
	if err := loaded.handleLoadState(Request{LoadSource: &buf, SessionID: 2}); err != nil {
		t.Fatalf("handleLoadState: %v", err)
	}

	if loaded.Session.ID != 2 {
		t.Fatalf("expected the precomputed new session id to be activated, got %d", loaded.Session.ID)
	}
	if len(loaded.Units) != len(st.Units) {
		t.Fatalf("expected %d units after load, got %d", len(st.Units), len(loaded.Units))
	}
	for i := range st.Units {
		if loaded.Units[i].Position != st.Units[i].Position {
			t.Fatalf("unit %d position mismatch after round trip: %v vs %v", i, st.Units[i].Position, loaded.Units[i].Position)
		}
	}
	if loaded.Bonds.Len() != 1 {
		t.Fatalf("expected the bond to survive the round trip, got %d", loaded.Bonds.Len())
	}
	if err := loaded.Grid.Check(positionsOf(loaded.Units)); err != nil {
		t.Fatalf("grid invariant violated after load: %v", err)
	}
}

func TestHandleSaveStateRequiresSink(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	if err := st.handleSaveState(Request{}); err == nil {
		t.Fatal("expected an error when SaveSink is nil")
	}
}

func TestHandleLoadStateRequiresSource(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	if err := st.handleLoadState(Request{}); err == nil {
		t.Fatal("expected an error when LoadSource is nil")
	}
}
