package sim

import (
	"fmt"

	"github.com/vrui-vr/nck/internal/bond"
	"github.com/vrui-vr/nck/internal/pick"
	"github.com/vrui-vr/nck/internal/protocol"
	"github.com/vrui-vr/nck/internal/unittype"
)

// handleSaveState implements spec §4.6 SaveState: serialise the current
// snapshot to the request's sink, invoking its completion callback.
func (s *State) handleSaveState(req Request) error {
	if req.SaveSink == nil {
		return fmt.Errorf("sim: SaveState request has no sink")
	}
	ps := protocol.PersistedState{
		UnitTypes:           toWireUnitTypes(s.Session.UnitTypes),
		Domain:              s.Session.Domain,
		VertexForceRadius:   s.Session.Constants.VertexForceRadius,
		VertexForceStrength: s.Session.Constants.VertexForceStrength,
		CentralOvershoot:    s.Session.Constants.CentralOvershoot,
		CentralStrength:     s.Session.Constants.CentralStrength,
		Units:               toWireUnitStates(s.Units),
		Bonds:               toWireBonds(s.Bonds.All()),
	}
	return protocol.SaveState(req.SaveSink, ps)
}

// handleLoadState implements spec §4.6 LoadState: replace the unit-type
// list, domain, parameters, state, bond map, grid, and pick ledger from
// the file, activating the precomputed new session id.
func (s *State) handleLoadState(req Request) error {
	if req.LoadSource == nil {
		return fmt.Errorf("sim: LoadState request has no source")
	}
	ps, err := protocol.LoadState(req.LoadSource)
	if err != nil {
		return fmt.Errorf("sim: loading persisted state: %w", err)
	}

	types, err := fromWireUnitTypes(ps.UnitTypes)
	if err != nil {
		return fmt.Errorf("sim: rebuilding unit-type registry: %w", err)
	}

	newSession := Session{
		ID:        req.SessionID,
		Domain:    ps.Domain,
		UnitTypes: types,
		Parameters: s.Session.Parameters,
		Constants: Constants{
			VertexForceRadius:   ps.VertexForceRadius,
			VertexForceStrength: ps.VertexForceStrength,
			CentralOvershoot:    ps.CentralOvershoot,
			CentralStrength:     ps.CentralStrength,
			DeltaTMax:           s.Session.Constants.DeltaTMax,
		},
	}

	rebuilt, err := NewState(newSession)
	if err != nil {
		return fmt.Errorf("sim: rebuilding state for new session: %w", err)
	}

	rebuilt.Units = fromWireUnitStates(ps.Units)
	for i, u := range rebuilt.Units {
		rebuilt.Grid.Insert(i, u.Position)
	}
	for _, b := range ps.Bonds {
		_ = rebuilt.Bonds.Bond(
			bond.Site{UnitIndex: int(b.UnitA), SiteIndex: int(b.SiteA)},
			bond.Site{UnitIndex: int(b.UnitB), SiteIndex: int(b.SiteB)},
		)
	}

	*s = *rebuilt
	return nil
}

func toWireUnitTypes(r *unittype.Registry) []protocol.UnitTypeWire {
	all := r.All()
	out := make([]protocol.UnitTypeWire, len(all))
	for i, t := range all {
		out[i] = protocol.UnitTypeWire{
			Name:            t.Name,
			Radius:          t.Radius,
			Mass:            t.Mass,
			MomentOfInertia: t.MomentOfInertia,
		}
		for _, bs := range t.BondSites {
			out[i].BondSiteOffsets = append(out[i].BondSiteOffsets, bs.Offset)
		}
		out[i].MeshVertices = append(out[i].MeshVertices, t.MeshVertices...)
		for _, tri := range t.MeshTriangles {
			out[i].MeshTriangles = append(out[i].MeshTriangles, [3]uint32{tri.A, tri.B, tri.C})
		}
	}
	return out
}

func fromWireUnitTypes(wire []protocol.UnitTypeWire) (*unittype.Registry, error) {
	types := make([]unittype.Type, len(wire))
	for i, w := range wire {
		t := unittype.Type{
			Name:            w.Name,
			Radius:          w.Radius,
			Mass:            w.Mass,
			MomentOfInertia: w.MomentOfInertia,
			MeshVertices:    w.MeshVertices,
		}
		for _, off := range w.BondSiteOffsets {
			t.BondSites = append(t.BondSites, unittype.BondSite{Offset: off})
		}
		for _, tri := range w.MeshTriangles {
			t.MeshTriangles = append(t.MeshTriangles, unittype.MeshTriangle{A: tri[0], B: tri[1], C: tri[2]})
		}
		types[i] = t
	}
	return unittype.NewRegistry(types)
}

func toWireUnitStates(units []UnitState) []protocol.UnitStateWire {
	out := make([]protocol.UnitStateWire, len(units))
	for i, u := range units {
		out[i] = protocol.UnitStateWire{
			UnitType:        uint16(u.UnitType),
			PickID:          uint16(u.PickID),
			Position:        u.Position,
			Orientation:     u.Orientation,
			LinearVelocity:  u.LinearVelocity,
			AngularVelocity: u.AngularVelocity,
		}
	}
	return out
}

func fromWireUnitStates(wire []protocol.UnitStateWire) []UnitState {
	out := make([]UnitState, len(wire))
	for i, w := range wire {
		out[i] = UnitState{
			UnitType:        unittype.ID(w.UnitType),
			PickID:          pick.ID(w.PickID),
			Position:        w.Position,
			Orientation:     w.Orientation,
			LinearVelocity:  w.LinearVelocity,
			AngularVelocity: w.AngularVelocity,
		}
	}
	return out
}

func toWireBonds(canon []bond.Canonical) []protocol.BondWire {
	out := make([]protocol.BondWire, len(canon))
	for i, c := range canon {
		out[i] = protocol.BondWire{
			UnitA: uint32(c.UnitA), SiteA: uint32(c.SiteA),
			UnitB: uint32(c.UnitB), SiteB: uint32(c.SiteB),
		}
	}
	return out
}
