// Package sim implements the force/integration kernel, the request queue,
// the state triple-buffer, and the simulation loop itself — spec
// components E, F and G.
package sim

import (
	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/pick"
	"github.com/vrui-vr/nck/internal/unittype"
)

// UnitState is the authoritative, densely-indexed per-unit state (spec §3).
type UnitState struct {
	UnitType unittype.ID
	PickID   pick.ID

	Position    geom.Vector
	Orientation geom.Rotation

	LinearVelocity  geom.Vector
	AngularVelocity geom.Vector
}

// ReducedUnitState is the broadcast form: no velocities. internal/protocol
// encodes its position and orientation with the same 32-bit floats as the
// full state; no precision reduction is applied.
type ReducedUnitState struct {
	UnitType    unittype.ID
	Position    geom.Vector
	Orientation geom.Rotation
}

// Reduce strips the dynamic fields of s, producing its broadcast form.
func Reduce(s UnitState) ReducedUnitState {
	return ReducedUnitState{UnitType: s.UnitType, Position: s.Position, Orientation: s.Orientation}
}

// Parameters is the four-scalar tunable parameter struct of spec §6.
type Parameters struct {
	LinearDamp  float32
	AngularDamp float32
	Attenuation float32
	TimeFactor  float32
}

// Constants holds the force-field and stability constants that are
// configured (internal/config) rather than hard-coded, per SPEC_FULL §6:
// same default magnitudes as the original source (0.06s clamp).
type Constants struct {
	VertexForceRadius   float32 // R_v
	VertexForceStrength float32 // k_vertex
	CentralOvershoot    float32 // central_force_overshoot
	CentralStrength     float32 // k_central, central_force_strength
	DeltaTMax           float32 // δt_max, stability clamp (~0.06s)
}

// DefaultConstants mirrors the original source's defaults.
func DefaultConstants() Constants {
	return Constants{
		VertexForceRadius:   0.25,
		VertexForceStrength: 10.0,
		CentralOvershoot:    0.05,
		CentralStrength:     10.0,
		DeltaTMax:           0.06,
	}
}

// Snapshot is a point-in-time copy of the state array with a session id
// and monotonic time stamp (spec §3, invariant I4/P6).
type Snapshot struct {
	SessionID uint16
	TimeStamp uint64
	Units     []UnitState
}

// Session groups the data that only changes on a session-invalidating
// event (startup, load): the unit-type list, the domain box, and the bond
// graph are only guaranteed consistent within one session (spec §3).
type Session struct {
	ID         uint16
	Domain     geom.Box
	UnitTypes  *unittype.Registry
	Parameters Parameters
	Constants  Constants
}
