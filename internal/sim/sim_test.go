package sim

import (
	"testing"

	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/unittype"
)

// testDomain is a small periodic box shared by every sim test.
func testDomain() geom.Box {
	return geom.Box{Min: geom.Vector{-5, -5, -5}, Max: geom.Vector{5, 5, 5}}
}

// spheresWithOneBondSite builds a two-type registry: a plain sphere with no
// bond sites, and a sphere with a single bond site offset along +X, enough
// to exercise both the central and bond force terms.
func spheresWithOneBondSite(t *testing.T) *unittype.Registry {
	t.Helper()
	inertia := unittype.DiagonalTensor(1, 1, 1)
	reg, err := unittype.NewRegistry([]unittype.Type{
		{Name: "plain", Radius: 0.5, Mass: 1, MomentOfInertia: inertia},
		{
			Name: "bonder", Radius: 0.5, Mass: 1, MomentOfInertia: inertia,
			BondSites: []unittype.BondSite{{Offset: geom.Vector{0.5, 0, 0}}},
		},
	})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	return reg
}

func newTestState(t *testing.T, reg *unittype.Registry) *State {
	t.Helper()
	session := Session{
		ID:         1,
		Domain:     testDomain(),
		UnitTypes:  reg,
		Parameters: Parameters{LinearDamp: 0.1, AngularDamp: 0.1, Attenuation: 0.98, TimeFactor: 1},
		Constants:  DefaultConstants(),
	}
	st, err := NewState(session)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return st
}
