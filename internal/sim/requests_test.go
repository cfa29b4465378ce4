package sim

import (
	"testing"

	"github.com/vrui-vr/nck/internal/bond"
	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/pick"
)

func TestHandlePickPointBindsNearestUnit(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	st.insertUnit(UnitState{UnitType: 0, Position: geom.Vector{0, 0, 0}, Orientation: geom.IdentityRotation()})
	st.insertUnit(UnitState{UnitType: 0, Position: geom.Vector{3, 0, 0}, Orientation: geom.IdentityRotation()})

	err := st.handlePickPoint(Request{PickID: 5, Point: geom.Vector{0.1, 0, 0}, Radius: 0.6, Orientation: geom.IdentityRotation()})
	if err != nil {
		t.Fatalf("handlePickPoint: %v", err)
	}
	if st.Units[0].PickID != 5 {
		t.Fatalf("expected unit 0 bound to pick 5, got %d", st.Units[0].PickID)
	}
	if st.Units[1].PickID != 0 {
		t.Fatalf("expected unit 1 untouched, got pick %d", st.Units[1].PickID)
	}
}

func TestHandlePickPointNoOpWhenOutOfRange(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	st.insertUnit(UnitState{UnitType: 0, Position: geom.Vector{0, 0, 0}, Orientation: geom.IdentityRotation()})

	if err := st.handlePickPoint(Request{PickID: 5, Point: geom.Vector{3, 3, 3}, Radius: 0.1, Orientation: geom.IdentityRotation()}); err != nil {
		t.Fatalf("handlePickPoint: %v", err)
	}
	if st.Picks.Len() != 0 {
		t.Fatalf("expected no pick created when no unit is in range, got %d", st.Picks.Len())
	}
}

func TestHandlePickPointConnectedPicksBondedGroup(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	st.insertUnit(UnitState{UnitType: 1, Position: geom.Vector{0, 0, 0}, Orientation: geom.IdentityRotation()})
	st.insertUnit(UnitState{UnitType: 1, Position: geom.Vector{1, 0, 0}, Orientation: geom.IdentityRotation()})
	if err := st.Bonds.Bond(bond.Site{UnitIndex: 0, SiteIndex: 0}, bond.Site{UnitIndex: 1, SiteIndex: 0}); err != nil {
		t.Fatalf("Bond: %v", err)
	}

	err := st.handlePickPoint(Request{PickID: 9, Point: geom.Vector{0, 0, 0}, Radius: 0.6, Orientation: geom.IdentityRotation(), Connected: true})
	if err != nil {
		t.Fatalf("handlePickPoint: %v", err)
	}
	if st.Units[0].PickID != 9 || st.Units[1].PickID != 9 {
		t.Fatalf("expected both bonded units picked, got %d and %d", st.Units[0].PickID, st.Units[1].PickID)
	}
}

func TestHandlePickThenDestroyCompactsHole(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	st.insertUnit(UnitState{UnitType: 0, Position: geom.Vector{0, 0, 0}, Orientation: geom.IdentityRotation()})
	st.insertUnit(UnitState{UnitType: 0, Position: geom.Vector{1, 0, 0}, Orientation: geom.IdentityRotation()})
	st.insertUnit(UnitState{UnitType: 0, Position: geom.Vector{2, 0, 0}, Orientation: geom.IdentityRotation()})

	if err := st.handlePickPoint(Request{PickID: 11, Point: geom.Vector{1, 0, 0}, Radius: 0.6, Orientation: geom.IdentityRotation()}); err != nil {
		t.Fatalf("handlePickPoint: %v", err)
	}
	if err := st.handleDestroy(Request{PickID: 11}); err != nil {
		t.Fatalf("handleDestroy: %v", err)
	}

	if len(st.Units) != 2 {
		t.Fatalf("expected 2 remaining units, got %d", len(st.Units))
	}
	if err := st.Grid.Check(positionsOf(st.Units)); err != nil {
		t.Fatalf("grid invariant violated after destroy: %v", err)
	}
	if st.Picks.Len() != 0 {
		t.Fatalf("expected destroyed pick to be released, got %d live picks", st.Picks.Len())
	}
}

func TestHandleCopyThenPasteDuplicatesBondedPair(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	st.insertUnit(UnitState{UnitType: 1, Position: geom.Vector{0, 0, 0}, Orientation: geom.IdentityRotation()})
	st.insertUnit(UnitState{UnitType: 1, Position: geom.Vector{1, 0, 0}, Orientation: geom.IdentityRotation()})
	if err := st.Bonds.Bond(bond.Site{UnitIndex: 0, SiteIndex: 0}, bond.Site{UnitIndex: 1, SiteIndex: 0}); err != nil {
		t.Fatalf("Bond: %v", err)
	}
	if err := st.handlePickPoint(Request{PickID: 3, Point: geom.Vector{0, 0, 0}, Radius: 0.6, Orientation: geom.IdentityRotation(), Connected: true}); err != nil {
		t.Fatalf("handlePickPoint: %v", err)
	}
	if err := st.handleCopy(Request{PickID: 3}); err != nil {
		t.Fatalf("handleCopy: %v", err)
	}
	if len(st.Copy.Units) != 2 || len(st.Copy.Bonds) != 1 {
		t.Fatalf("expected 2 units and 1 bond in copy buffer, got %d units %d bonds", len(st.Copy.Units), len(st.Copy.Bonds))
	}

	if err := st.handlePaste(Request{PickID: 4, Pose: geom.Vector{-3, -3, -3}, PoseOrient: geom.IdentityRotation()}); err != nil {
		t.Fatalf("handlePaste: %v", err)
	}
	if len(st.Units) != 4 {
		t.Fatalf("expected 4 units after paste, got %d", len(st.Units))
	}
	if st.Bonds.Len() != 2 {
		t.Fatalf("expected original bond plus pasted bond, got %d", st.Bonds.Len())
	}
}

func TestHandleReleaseClearsPickID(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	st.insertUnit(UnitState{UnitType: 0, Position: geom.Vector{0, 0, 0}, Orientation: geom.IdentityRotation()})
	if err := st.handlePickPoint(Request{PickID: 2, Point: geom.Vector{0, 0, 0}, Radius: 0.6, Orientation: geom.IdentityRotation()}); err != nil {
		t.Fatalf("handlePickPoint: %v", err)
	}

	if err := st.handleRelease(Request{PickID: 2}); err != nil {
		t.Fatalf("handleRelease: %v", err)
	}
	if st.Units[0].PickID != 0 {
		t.Fatalf("expected pick id cleared, got %d", st.Units[0].PickID)
	}
	if _, ok := st.Picks.Records(2); ok {
		t.Fatal("expected pick 2 to no longer be live")
	}
}

func TestHandleSetParametersReplacesSessionParameters(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	want := Parameters{LinearDamp: 0.5, AngularDamp: 0.5, Attenuation: 0.9, TimeFactor: 2}

	if err := st.handleSetParameters(Request{NewParameters: want}); err != nil {
		t.Fatalf("handleSetParameters: %v", err)
	}
	if st.Session.Parameters != want {
		t.Fatalf("expected parameters replaced with %+v, got %+v", want, st.Session.Parameters)
	}
}

func TestApplyOneRecoversPanickingHandler(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)

	// SetState on a pick id with an out-of-range stored UnitIndex: a
	// deliberately corrupted ledger entry to force the handler to panic on
	// an out-of-bounds slice access, exercising applyOne's recover.
	st.Picks.CreateGroupWithID(99, []pick.Record{{UnitIndex: 7}})

	err := st.applyOne(Request{Kind: RequestSetState, PickID: 99, Pose: geom.Vector{0, 0, 0}, PoseOrient: geom.IdentityRotation()})
	if err == nil {
		t.Fatal("expected applyOne to convert the handler panic into an error")
	}
}
