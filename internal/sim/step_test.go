package sim

import (
	"testing"

	"github.com/vrui-vr/nck/internal/geom"
)

func TestStepAdvancesTimeStampAndIntegratesPosition(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	st.insertUnit(UnitState{UnitType: 0, Position: geom.Vector{0, 0, 0}, Orientation: geom.IdentityRotation(), LinearVelocity: geom.Vector{1, 0, 0}})

	before := st.TimeStamp
	st.Step(1.0/60.0, nil)

	if st.TimeStamp != before+1 {
		t.Fatalf("expected timestamp to advance by 1, got %d -> %d", before, st.TimeStamp)
	}
	if st.Units[0].Position[0] <= 0 {
		t.Fatalf("expected unit to have moved in +X, got %v", st.Units[0].Position)
	}
	if err := st.Grid.Check(positionsOf(st.Units)); err != nil {
		t.Fatalf("grid invariant violated after step: %v", err)
	}
}

func TestStepClampsDeltaTToStabilityBound(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	st.Session.Parameters.TimeFactor = 1000 // would blow past DeltaTMax unclamped
	st.insertUnit(UnitState{UnitType: 0, Position: geom.Vector{0, 0, 0}, Orientation: geom.IdentityRotation(), LinearVelocity: geom.Vector{1, 0, 0}})

	st.Step(1.0, nil)

	maxDist := st.Session.Constants.DeltaTMax * 1 * 1.01 // generous slack for the two half-steps
	if st.Units[0].Position[0] > maxDist {
		t.Fatalf("expected clamped integration step, moved %v (bound %v)", st.Units[0].Position[0], maxDist)
	}
}

func TestStepAppliesPendingRequestsAfterIntegration(t *testing.T) {
	reg := spheresWithOneBondSite(t)
	st := newTestState(t, reg)
	idx := st.insertUnit(UnitState{UnitType: 0, Position: geom.Vector{0, 0, 0}, Orientation: geom.IdentityRotation()})
	_ = idx

	req := Request{
		Kind:        RequestCreate,
		PickID:      0,
		UnitType:    0,
		Pose:        geom.Vector{2, 2, 2},
		PoseOrient:  geom.IdentityRotation(),
	}
	results := st.Step(1.0/60.0, []Request{req})

	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected successful Create result, got %+v", results)
	}
	if len(st.Units) != 2 {
		t.Fatalf("expected Create to add a unit, have %d", len(st.Units))
	}
}

func positionsOf(units []UnitState) []geom.Vector {
	out := make([]geom.Vector, len(units))
	for i, u := range units {
		out[i] = u.Position
	}
	return out
}
