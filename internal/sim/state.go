package sim

import (
	"github.com/vrui-vr/nck/internal/bond"
	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/grid"
	"github.com/vrui-vr/nck/internal/pick"
)

// State is the authoritative, single-writer simulation state: the dense
// unit array plus the three side-structures kept consistent with it
// (spec §3/§4). Only the simulation thread (S) may mutate a State.
type State struct {
	Session Session

	Units []UnitState
	Grid  *grid.Grid
	Bonds *bond.Map
	Picks *pick.Ledger

	TimeStamp uint64

	Copy CopyBuffer
}

// NewState builds an empty simulation state for the given session
// metadata, sizing the acceleration grid from the registered unit types.
func NewState(session Session) (*State, error) {
	radii := make([]float32, 0, session.UnitTypes.Len())
	offsets := make([]float32, 0)
	for _, t := range session.UnitTypes.All() {
		radii = append(radii, t.Radius)
		for _, s := range t.BondSites {
			offsets = append(offsets, s.Offset.Len())
		}
	}
	cellSize := grid.MinCellSize(radii, offsets, session.Constants.CentralOvershoot, session.Constants.VertexForceRadius)
	if cellSize <= 0 {
		cellSize = 1
	}
	g, err := grid.New(session.Domain, cellSize)
	if err != nil {
		return nil, err
	}
	return &State{
		Session: session,
		Grid:    g,
		Bonds:   bond.NewMap(),
		Picks:   pick.NewLedger(),
	}, nil
}

// Snapshot returns a point-in-time copy of the dense unit array.
func (s *State) Snapshot() Snapshot {
	units := make([]UnitState, len(s.Units))
	copy(units, s.Units)
	return Snapshot{SessionID: s.Session.ID, TimeStamp: s.TimeStamp, Units: units}
}

// insertUnit appends u to the dense array and inserts it into the grid,
// returning its new index.
func (s *State) insertUnit(u UnitState) int {
	idx := len(s.Units)
	s.Units = append(s.Units, u)
	s.Grid.Insert(idx, u.Position)
	return idx
}

// wrapPosition wraps p into the session's periodic domain.
func (s *State) wrapPosition(p geom.Vector) geom.Vector {
	return geom.WrapPosition(s.Session.Domain, p)
}
