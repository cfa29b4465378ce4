package sim

import (
	"fmt"
	"sort"

	"github.com/vrui-vr/nck/internal/bond"
	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/pick"
)

// RequestResult pairs a drained Request with the error (if any) its
// handler produced. applyRequests has already invoked each request's Done
// callback on the simulation thread (spec §9: completion callbacks run on
// S); the engine uses the results only to tally and log handler errors.
type RequestResult struct {
	Request Request
	Err     error
}

// applyRequests drains and applies pending in FIFO order (spec §4.6:
// "processing requests in FIFO order so that causally later UI actions
// always observe earlier ones"). Semantic errors (unknown pick id) are
// absorbed as no-ops per spec §7 error kind 3, not reported here.
func (s *State) applyRequests(pending []Request) []RequestResult {
	results := make([]RequestResult, 0, len(pending))
	for _, req := range pending {
		err := s.applyOne(req)
		if req.Done != nil {
			req.Done(err)
		}
		results = append(results, RequestResult{Request: req, Err: err})
	}
	return results
}

// applyOne dispatches a single request, recovering a panicking handler the
// way GameTicker.executeSystem recovers a panicking TickSystem: one bad
// request must never take down the simulation thread.
func (s *State) applyOne(req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sim: request kind %d panicked: %v", req.Kind, r)
		}
	}()

	switch req.Kind {
	case RequestPickPoint:
		return s.handlePickPoint(req)
	case RequestPickRay:
		return s.handlePickRay(req)
	case RequestPaste:
		return s.handlePaste(req)
	case RequestCreate:
		return s.handleCreate(req)
	case RequestSetState:
		return s.handleSetState(req)
	case RequestCopy:
		return s.handleCopy(req)
	case RequestDestroy:
		return s.handleDestroy(req)
	case RequestRelease:
		return s.handleRelease(req)
	case RequestSaveState:
		return s.handleSaveState(req)
	case RequestLoadState:
		return s.handleLoadState(req)
	case RequestSetParameters:
		return s.handleSetParameters(req)
	}
	return nil
}

// handleSetParameters implements spec §6's SetParametersRequest: replace
// the session's tunable parameter set effective next step. Routed through
// the request queue, like every other state mutation, so it never races
// a concurrent Step.
func (s *State) handleSetParameters(req Request) error {
	s.Session.Parameters = req.NewParameters
	return nil
}

// handlePickPoint implements spec §4.6 PickPoint: nearest-unit query
// inflated by radius, optional bond-flood-fill into a connected set, and
// pick-record creation with offsets stored in the new pick's frame.
func (s *State) handlePickPoint(req Request) error {
	nearest, ok := s.nearestUnit(req.Point, req.Radius)
	if !ok {
		return nil // no unit in range: semantic no-op, spec §7 kind 3
	}

	members := []int{nearest}
	if req.Connected {
		members = s.floodFillBonded(nearest)
	}

	recs := make([]pick.Record, 0, len(members))
	for _, u := range members {
		if prior, had := s.Picks.PickOf(u); had {
			s.Picks.Release(prior)
		}
		recs = append(recs, s.makeOffsetRecord(u, req.Point, req.Orientation))
	}
	s.Picks.CreateGroupWithID(req.PickID, recs)
	for _, u := range members {
		s.Units[u].PickID = req.PickID
	}
	return nil
}

// makeOffsetRecord computes u's position/orientation expressed in the
// pick frame (pickPoint, pickOrientation), the representation stored by a
// pick record (spec §3/§4.6).
func (s *State) makeOffsetRecord(unitIndex int, pickPoint geom.Vector, pickOrientation geom.Rotation) pick.Record {
	u := s.Units[unitIndex]
	invOrient := pickOrientation.Inverse()
	posOffset := invOrient.Rotate(geom.WrapDistance(s.Session.Domain, u.Position.Sub(pickPoint)))
	rotOffset := invOrient.Mul(u.Orientation)
	return pick.Record{
		UnitIndex: unitIndex,
		PosOffset: vecToArray(posOffset),
		RotOffset: rotToArray(rotOffset),
	}
}

// nearestUnit returns the index of the unit nearest p whose circumsphere
// intersects the sphere of radius r around p, using the acceleration grid
// to limit the search to p's cell and its 26 neighbours.
func (s *State) nearestUnit(p geom.Vector, r float32) (int, bool) {
	domain := s.Session.Domain
	p = geom.WrapPosition(domain, p)
	cellIdx := s.Grid.CellIndex(p)
	cell := s.Grid.Cell(cellIdx)

	best := -1
	bestDist := float32(0)
	for _, n := range cell.Neighbors {
		for _, idx := range s.Grid.Cell(n).UnitIndices {
			t := s.Session.UnitTypes.MustGet(s.Units[idx].UnitType)
			d := geom.WrapDistance(domain, s.Units[idx].Position.Sub(p))
			dist := d.Len()
			if dist >= r+t.Radius {
				continue
			}
			if best == -1 || dist < bestDist {
				best = idx
				bestDist = dist
			}
		}
	}
	return best, best != -1
}

// floodFillBonded returns every unit index reachable from start by
// walking the bond map (spec §4.6 PickPoint's `connected` flag).
func (s *State) floodFillBonded(start int) []int {
	visited := map[int]bool{start: true}
	queue := []int{start}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		t := s.Session.UnitTypes.MustGet(s.Units[u].UnitType)
		for site := range t.BondSites {
			other, ok := s.Bonds.Other(bond.Site{UnitIndex: u, SiteIndex: site})
			if !ok || visited[other.UnitIndex] {
				continue
			}
			visited[other.UnitIndex] = true
			queue = append(queue, other.UnitIndex)
		}
	}
	out := make([]int, 0, len(visited))
	for u := range visited {
		out = append(out, u)
	}
	sort.Ints(out)
	return out
}

// handlePickRay implements a grid-accelerated ray/sphere sweep: spec §9's
// open question resolved in favour of implementing ray-pick rather than
// rejecting it. Marches along the ray in cell-sized steps, testing each
// step's neighbourhood for a unit whose sphere the ray segment enters.
func (s *State) handlePickRay(req Request) error {
	domain := s.Session.Domain
	dir := req.RayDir
	if dir.Len() == 0 {
		return nil
	}
	dir = dir.Normalize()

	cellSize := s.Grid.CellSize()
	step := cellSize[0]
	if cellSize[1] < step {
		step = cellSize[1]
	}
	if cellSize[2] < step {
		step = cellSize[2]
	}
	if step <= 0 {
		return nil
	}

	maxDist := domain.Sizes().Len()
	origin := req.RayOrigin
	var hit int
	found := false
	for dist := float32(0); dist < maxDist; dist += step {
		p := geom.WrapPosition(domain, origin.Add(dir.Mul(dist)))
		cellIdx := s.Grid.CellIndex(p)
		cell := s.Grid.Cell(cellIdx)
		for _, n := range cell.Neighbors {
			for _, idx := range s.Grid.Cell(n).UnitIndices {
				t := s.Session.UnitTypes.MustGet(s.Units[idx].UnitType)
				toCenter := geom.WrapDistance(domain, s.Units[idx].Position.Sub(origin))
				along := toCenter.Dot(dir)
				if along < 0 {
					continue
				}
				closest := origin.Add(dir.Mul(along))
				perp := geom.WrapDistance(domain, s.Units[idx].Position.Sub(closest))
				if perp.Len() <= t.Radius {
					hit = idx
					found = true
				}
			}
		}
		if found {
			break
		}
	}
	if !found {
		return nil
	}

	members := []int{hit}
	if req.Connected {
		members = s.floodFillBonded(hit)
	}
	recs := make([]pick.Record, 0, len(members))
	for _, u := range members {
		if prior, had := s.Picks.PickOf(u); had {
			s.Picks.Release(prior)
		}
		recs = append(recs, s.makeOffsetRecord(u, s.Units[hit].Position, req.Orientation))
	}
	s.Picks.CreateGroupWithID(req.PickID, recs)
	for _, u := range members {
		s.Units[u].PickID = req.PickID
	}
	return nil
}

// handlePaste implements spec §4.6 Paste: instantiate one unit per copy
// buffer entry at target_pose, re-create buffered bonds remapped to the
// freshly allocated indices, and attach every new unit to pick_id.
func (s *State) handlePaste(req Request) error {
	remap := make(map[int]int, len(s.Copy.Units))
	timeFactor := s.Session.Parameters.TimeFactor
	if timeFactor == 0 {
		timeFactor = 1
	}

	for localIdx, cu := range s.Copy.Units {
		worldOffset := req.PoseOrient.Rotate(cu.PosOffset)
		pos := geom.WrapPosition(s.Session.Domain, req.Pose.Add(worldOffset))
		orient := geom.Renormalize(req.PoseOrient.Mul(cu.RotOffset))
		v := req.LinearVelocity.Mul(1 / timeFactor).Add(req.AngularVel.Mul(1 / timeFactor).Cross(worldOffset))

		idx := s.insertUnit(UnitState{
			UnitType:        cu.UnitType,
			Position:        pos,
			Orientation:     orient,
			LinearVelocity:  v,
			AngularVelocity: req.AngularVel.Mul(1 / timeFactor),
		})
		remap[localIdx] = idx
	}

	for _, b := range s.Copy.Bonds {
		_ = s.Bonds.Bond(
			bond.Site{UnitIndex: remap[b.UnitA], SiteIndex: b.SiteA},
			bond.Site{UnitIndex: remap[b.UnitB], SiteIndex: b.SiteB},
		)
	}

	recs := make([]pick.Record, 0, len(remap))
	for localIdx, idx := range remap {
		cu := s.Copy.Units[localIdx]
		s.Units[idx].PickID = req.PickID
		recs = append(recs, pick.Record{UnitIndex: idx, PosOffset: vecToArray(cu.PosOffset), RotOffset: rotToArray(cu.RotOffset)})
	}
	if existing, ok := s.Picks.Records(req.PickID); ok {
		recs = append(existing, recs...)
	}
	s.Picks.CreateGroupWithID(req.PickID, recs)
	return nil
}

// handleCreate implements spec §4.6 Create: appends a single new unit,
// scaling velocities by 1/time_factor, and binds it to pick_id with a
// zero-offset record if that pick id isn't already in use.
func (s *State) handleCreate(req Request) error {
	timeFactor := s.Session.Parameters.TimeFactor
	if timeFactor == 0 {
		timeFactor = 1
	}
	idx := s.insertUnit(UnitState{
		UnitType:        req.UnitType,
		Position:        geom.WrapPosition(s.Session.Domain, req.Pose),
		Orientation:     geom.Renormalize(req.PoseOrient),
		LinearVelocity:  req.LinearVelocity.Mul(1 / timeFactor),
		AngularVelocity: req.AngularVel.Mul(1 / timeFactor),
	})
	if _, exists := s.Picks.Records(req.PickID); !exists {
		s.Units[idx].PickID = req.PickID
		s.Picks.CreateGroupWithID(req.PickID, []pick.Record{{UnitIndex: idx, RotOffset: [4]float32{0, 0, 0, 1}}})
	}
	return nil
}

// handleSetState implements spec §4.6 SetState: recompute every picked
// unit's world pose from the pick's new pose plus its stored offset, and
// derive its velocity from the pick's linear/angular velocity.
func (s *State) handleSetState(req Request) error {
	recs, ok := s.Picks.Records(req.PickID)
	if !ok {
		return nil
	}
	timeFactor := s.Session.Parameters.TimeFactor
	if timeFactor == 0 {
		timeFactor = 1
	}
	for _, r := range recs {
		posOffset := arrayToVec(r.PosOffset)
		rotOffset := arrayToRot(r.RotOffset)

		worldOffset := req.PoseOrient.Rotate(posOffset)
		pos := geom.WrapPosition(s.Session.Domain, req.Pose.Add(worldOffset))
		orient := geom.Renormalize(req.PoseOrient.Mul(rotOffset))
		v := req.LinearVelocity.Mul(1 / timeFactor).Add(req.AngularVel.Mul(1 / timeFactor).Cross(worldOffset))

		u := &s.Units[r.UnitIndex]
		u.Position = pos
		u.Orientation = orient
		u.LinearVelocity = v
		u.AngularVelocity = req.AngularVel.Mul(1 / timeFactor)
		s.Grid.Move(r.UnitIndex, pos)
	}
	return nil
}

// handleCopy implements spec §4.6 Copy: snapshots the picked set into the
// copy buffer, replacing any previous contents atomically.
func (s *State) handleCopy(req Request) error {
	recs, ok := s.Picks.Records(req.PickID)
	if !ok {
		return nil
	}
	local := make(map[int]int, len(recs))
	buf := CopyBuffer{Units: make([]CopyBufferUnit, 0, len(recs))}
	for i, r := range recs {
		u := s.Units[r.UnitIndex]
		buf.Units = append(buf.Units, CopyBufferUnit{
			UnitType:  u.UnitType,
			PosOffset: arrayToVec(r.PosOffset),
			RotOffset: arrayToRot(r.RotOffset),
		})
		local[r.UnitIndex] = i
	}
	for _, r := range recs {
		t := s.Session.UnitTypes.MustGet(s.Units[r.UnitIndex].UnitType)
		for site := range t.BondSites {
			other, ok := s.Bonds.Other(bond.Site{UnitIndex: r.UnitIndex, SiteIndex: site})
			if !ok {
				continue
			}
			otherLocal, inSet := local[other.UnitIndex]
			if !inSet || other.UnitIndex < r.UnitIndex {
				continue // avoid recording each bond twice
			}
			buf.Bonds = append(buf.Bonds, CopyBufferBond{
				UnitA: local[r.UnitIndex], SiteA: site,
				UnitB: otherLocal, SiteB: other.SiteIndex,
			})
		}
	}
	s.Copy = buf
	if req.CopyBuffer != nil {
		*req.CopyBuffer = buf
	}
	return nil
}

// handleDestroy implements spec §4.6 Destroy and its compaction algorithm
// (§4.6 final paragraph): unbond and ungrid every picked unit, mark holes,
// then repeatedly move the last live unit into the lowest hole, repairing
// bonds, pick back-references, and grid membership, preserving I1 and I5.
func (s *State) handleDestroy(req Request) error {
	recs, ok := s.Picks.Records(req.PickID)
	if !ok {
		return nil
	}

	holes := make([]int, 0, len(recs))
	for _, r := range recs {
		t := s.Session.UnitTypes.MustGet(s.Units[r.UnitIndex].UnitType)
		s.Bonds.UnbondUnit(r.UnitIndex, len(t.BondSites))
		s.Grid.Remove(r.UnitIndex)
		holes = append(holes, r.UnitIndex)
	}
	sort.Ints(holes)
	// Release before compaction: ReindexUnit may hand a hole's index to a
	// unit held by another pick, whose reverse entry a later Release of
	// req.PickID would otherwise delete.
	s.Picks.Release(req.PickID)

	for len(holes) > 0 {
		lastIdx := len(s.Units) - 1

		if holes[len(holes)-1] == lastIdx {
			s.Units = s.Units[:lastIdx]
			holes = holes[:len(holes)-1]
			continue
		}

		hole := holes[0]
		t := s.Session.UnitTypes.MustGet(s.Units[lastIdx].UnitType)
		s.Bonds.ReindexUnit(lastIdx, hole, len(t.BondSites))
		s.Picks.ReindexUnit(lastIdx, hole)
		s.Grid.Reindex(lastIdx, hole)
		s.Units[hole] = s.Units[lastIdx]
		s.Units = s.Units[:lastIdx]
		holes = holes[1:]
	}
	return nil
}

// handleRelease implements spec §4.6 Release: clears pick_id on every
// picked unit and removes the ledger entry.
func (s *State) handleRelease(req Request) error {
	recs, ok := s.Picks.Records(req.PickID)
	if !ok {
		return nil
	}
	for _, r := range recs {
		s.Units[r.UnitIndex].PickID = 0
	}
	s.Picks.Release(req.PickID)
	return nil
}

func vecToArray(v geom.Vector) [3]float32  { return [3]float32{v[0], v[1], v[2]} }
func arrayToVec(a [3]float32) geom.Vector  { return geom.Vector{a[0], a[1], a[2]} }
func rotToArray(q geom.Rotation) [4]float32 {
	return [4]float32{q.V[0], q.V[1], q.V[2], q.W}
}
func arrayToRot(a [4]float32) geom.Rotation {
	return geom.Rotation{V: geom.Vector{a[0], a[1], a[2]}, W: a[3]}
}
