package sim

import (
	"math"

	"github.com/vrui-vr/nck/internal/bond"
	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/unittype"
)

// calcForces implements spec §4.5 forces(S): central repulsion over
// 27-neighbour grid pairs, plus bond attraction and damping over the
// canonical bond set. Returns per-unit linear force and torque, indexed
// like units. s.Grid must already be consistent with units' positions.
func calcForces(units []UnitState, types *unittype.Registry, bonds *bond.Map, s *State) ([]geom.Vector, []geom.Vector) {
	n := len(units)
	forces := make([]geom.Vector, n)
	torques := make([]geom.Vector, n)

	c := s.Session.Constants
	p := s.Session.Parameters
	domain := s.Session.Domain

	for i := range units {
		ti := types.MustGet(units[i].UnitType)
		s.Grid.ForEachNeighbor(i, func(j int) {
			if j <= i {
				return
			}
			tj := types.MustGet(units[j].UnitType)
			d := geom.WrapDistance(domain, units[j].Position.Sub(units[i].Position))
			rc := ti.Radius + tj.Radius + c.CentralOvershoot
			dist := d.Len()
			if dist >= rc || dist == 0 {
				return
			}
			f := d.Mul(c.CentralStrength * (dist - rc) / (rc * rc))
			forces[i] = forces[i].Add(f)
			forces[j] = forces[j].Sub(f)
		})
	}

	rv := c.VertexForceRadius
	for _, cb := range bonds.All() {
		i, a := cb.UnitA, cb.SiteA
		j, b := cb.UnitB, cb.SiteB
		ti := types.MustGet(units[i].UnitType)
		tj := types.MustGet(units[j].UnitType)
		bsi := units[i].Orientation.Rotate(ti.BondSites[a].Offset)
		bsj := units[j].Orientation.Rotate(tj.BondSites[b].Offset)

		d := geom.WrapDistance(domain, units[j].Position.Sub(units[i].Position)).Sub(bsi).Add(bsj)
		dist := d.Len()
		if dist*dist > rv*rv {
			// Still formally bonded at force-computation time; the bond
			// update phase breaks it after this step (spec §4.5).
			continue
		}

		var f geom.Vector
		if dist > 0 {
			f = d.Mul(c.VertexForceStrength * (rv - dist) / (rv * rv))
		}

		vi := units[i].LinearVelocity.Add(units[i].AngularVelocity.Cross(bsi))
		vj := units[j].LinearVelocity.Add(units[j].AngularVelocity.Cross(bsj))
		dv := vj.Sub(vi)
		f = f.Add(dv.Mul(p.LinearDamp))

		forces[i] = forces[i].Add(f)
		forces[j] = forces[j].Sub(f)
		torques[i] = torques[i].Add(bsi.Cross(f))
		torques[j] = torques[j].Sub(bsj.Cross(f))

		dOmega := units[j].AngularVelocity.Sub(units[i].AngularVelocity).Mul(p.AngularDamp)
		torques[i] = torques[i].Add(dOmega)
		torques[j] = torques[j].Sub(dOmega)
	}

	return forces, torques
}

// applyStep implements spec §4.5 apply(S, F, τ, δt): integrates base by δt
// using the given forces/torques, driving picked units kinematically (no
// force/attenuation contribution) and unpicked units dynamically.
func applyStep(base []UnitState, forces, torques []geom.Vector, dt float32, types *unittype.Registry, domain geom.Box, attenuation float32) []UnitState {
	out := make([]UnitState, len(base))
	for i, u := range base {
		t := types.MustGet(u.UnitType)
		v := u.LinearVelocity
		w := u.AngularVelocity

		if u.PickID == 0 {
			v = v.Add(forces[i].Mul(t.InvMass * dt))
			w = w.Add(t.InvMomentOfInertia.Mul3x1(torques[i]).Mul(dt))
		}

		pos := geom.WrapPosition(domain, u.Position.Add(v.Mul(dt)))
		orient := geom.Renormalize(geom.RotationFromScaledAxis(w.Mul(dt)).Mul(u.Orientation))

		if u.PickID == 0 {
			decay := float32(math.Pow(float64(attenuation), float64(dt)))
			v = v.Mul(decay)
			w = w.Mul(decay)
		}

		out[i] = UnitState{
			UnitType:        u.UnitType,
			PickID:          u.PickID,
			Position:        pos,
			Orientation:     orient,
			LinearVelocity:  v,
			AngularVelocity: w,
		}
	}
	return out
}

// updateBonds implements spec §4.5's bond update phase, run once per full
// step after integration and before publish:
//  1. Break every canonical bond whose site-to-site distance now exceeds
//     the cutoff.
//  2. For every unbonded site of every unit, greedily search the
//     27-neighbour cells for the first free, in-range candidate site and
//     bond to it (first-fit; bonds are expected to stabilise over many
//     steps, not within one).
func updateBonds(units []UnitState, types *unittype.Registry, bonds *bond.Map, s *State) {
	domain := s.Session.Domain
	rv := s.Session.Constants.VertexForceRadius

	for _, cb := range bonds.All() {
		i, a := cb.UnitA, cb.SiteA
		j, b := cb.UnitB, cb.SiteB
		ti := types.MustGet(units[i].UnitType)
		tj := types.MustGet(units[j].UnitType)
		bsi := units[i].Orientation.Rotate(ti.BondSites[a].Offset)
		bsj := units[j].Orientation.Rotate(tj.BondSites[b].Offset)
		d := geom.WrapDistance(domain, units[j].Position.Sub(units[i].Position)).Sub(bsi).Add(bsj)
		if d.Len() > rv {
			bonds.Unbond(bond.Site{UnitIndex: i, SiteIndex: a})
		}
	}

	for i := range units {
		ti := types.MustGet(units[i].UnitType)
		for a := range ti.BondSites {
			siteI := bond.Site{UnitIndex: i, SiteIndex: a}
			if bonds.IsBonded(siteI) {
				continue
			}
			bsi := units[i].Orientation.Rotate(ti.BondSites[a].Offset)

			var found bool
			s.Grid.ForEachNeighbor(i, func(j int) {
				if found || j == i {
					return
				}
				tj := types.MustGet(units[j].UnitType)
				for b := range tj.BondSites {
					siteJ := bond.Site{UnitIndex: j, SiteIndex: b}
					if bonds.IsBonded(siteJ) {
						continue
					}
					bsj := units[j].Orientation.Rotate(tj.BondSites[b].Offset)
					d := geom.WrapDistance(domain, units[j].Position.Sub(units[i].Position)).Sub(bsi).Add(bsj)
					if d.Len() <= rv {
						_ = bonds.Bond(siteI, siteJ)
						found = true
						return
					}
				}
			})
		}
	}
}
