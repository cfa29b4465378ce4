package sim

// Step advances the simulation by dtReal seconds of real time, scaled by
// Parameters.TimeFactor to a simulation delta clamped to Constants.
// DeltaTMax, then runs the two-stage midpoint scheme of spec §4.5:
//
//  1. F, τ := forces(S)
//  2. T := apply(S, F, τ, δt/2); grid updated to T
//  3. F, τ := forces(T)
//  4. T' := apply(S, F, τ, δt); grid updated to T'
//  5. pending UI requests applied to T'
//  6. T' becomes the new authoritative state; timestamp advances
func (s *State) Step(dtReal float32, pending []Request) []RequestResult {
	dt := dtReal * s.Session.Parameters.TimeFactor
	if dt > s.Session.Constants.DeltaTMax {
		dt = s.Session.Constants.DeltaTMax
	}
	if dt <= 0 {
		return s.applyRequests(pending)
	}

	types := s.Session.UnitTypes
	domain := s.Session.Domain
	attenuation := s.Session.Parameters.Attenuation

	base := s.Units

	f, tau := calcForces(base, types, s.Bonds, s)
	half := applyStep(base, f, tau, dt/2, types, domain, attenuation)
	s.moveGridTo(half)

	f, tau = calcForces(half, types, s.Bonds, s)
	full := applyStep(base, f, tau, dt, types, domain, attenuation)
	s.moveGridTo(full)

	s.Units = full
	updateBonds(s.Units, types, s.Bonds, s)

	results := s.applyRequests(pending)

	s.TimeStamp++
	return results
}

// moveGridTo relocates every unit's grid cell membership to match
// positions, which must be index-aligned with s.Units.
func (s *State) moveGridTo(positions []UnitState) {
	for i, u := range positions {
		s.Grid.Move(i, u.Position)
	}
}
