// Package unittype defines the read-only registry of structural unit kinds
// (spec §3, §4.1). A unit type is immutable after session start; the
// registry precomputes inverse mass and inverse moment of inertia so the
// force kernel's hot path never divides.
package unittype

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/vrui-vr/nck/internal/geom"
)

// ID indexes into a Registry. 16-bit per spec §3.
type ID uint16

// BondSite is a fixed body-frame offset at which a bond may form. In world
// space the site sits at unit.Position + unit.Orientation.Rotate(Offset).
type BondSite struct {
	Offset geom.Vector
}

// MeshTriangle indexes three vertices of Type.MeshVertices. Opaque to the
// engine; carried only so sessions can ship render geometry to clients.
type MeshTriangle struct {
	A, B, C uint32
}

// Type is one immutable structural unit kind.
type Type struct {
	Name   string
	Radius float32
	Mass   float32

	// InvMass and InvMomentOfInertia are derived fields, computed once by
	// Registry.Add so the integrator never performs a division per unit.
	InvMass float32

	MomentOfInertia    geom.Tensor
	InvMomentOfInertia geom.Tensor

	BondSites []BondSite

	MeshVertices  []geom.Vector
	MeshTriangles []MeshTriangle
}

// Registry is the immutable, index-addressable list of unit types active
// for the lifetime of a session.
type Registry struct {
	types []Type
}

// NewRegistry builds a registry from fully-specified types, computing the
// derived inverse-mass/inverse-inertia fields.
func NewRegistry(types []Type) (*Registry, error) {
	r := &Registry{types: make([]Type, 0, len(types))}
	for _, t := range types {
		if err := r.Add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add appends a new unit type, deriving InvMass and InvMomentOfInertia. Its
// ID is its position in the registry. Add returns an error, and registers
// nothing, for a non-positive mass or a non-invertible inertia tensor.
func (r *Registry) Add(t Type) error {
	if t.Mass <= 0 {
		return fmt.Errorf("unittype %q: mass must be positive, got %v", t.Name, t.Mass)
	}
	t.InvMass = 1 / t.Mass
	inv, ok := invertTensor(t.MomentOfInertia)
	if !ok {
		return fmt.Errorf("unittype %q: moment of inertia tensor is not invertible", t.Name)
	}
	t.InvMomentOfInertia = inv
	r.types = append(r.types, t)
	return nil
}

// Get returns the type registered under id.
func (r *Registry) Get(id ID) (Type, bool) {
	if int(id) < 0 || int(id) >= len(r.types) {
		return Type{}, false
	}
	return r.types[id], true
}

// MustGet panics if id is out of range; reserved for hot-path code that
// already trusts a unit state's UnitType field.
func (r *Registry) MustGet(id ID) Type {
	t, ok := r.Get(id)
	if !ok {
		panic(fmt.Sprintf("unittype: ID %d out of range (registry has %d types)", id, len(r.types)))
	}
	return t
}

// Len returns the number of registered unit types.
func (r *Registry) Len() int {
	return len(r.types)
}

// All returns a copy of the registered types in ID order, for serialisation.
func (r *Registry) All() []Type {
	out := make([]Type, len(r.types))
	copy(out, r.types)
	return out
}

// BondSiteWorldPosition returns the world-space position of bond site site
// on a unit with the given pose.
func BondSiteWorldPosition(position geom.Vector, orientation geom.Rotation, site BondSite) geom.Vector {
	return position.Add(orientation.Rotate(site.Offset))
}

func invertTensor(m geom.Tensor) (geom.Tensor, bool) {
	det := m.Det()
	if det == 0 {
		return geom.Tensor{}, false
	}
	return m.Inv(), true
}

// DiagonalTensor builds a diagonal inertia tensor, the common case for the
// regular solids the original kit ships with (spheres, polyhedra).
func DiagonalTensor(ixx, iyy, izz float32) geom.Tensor {
	return mgl32.Mat3{
		ixx, 0, 0,
		0, iyy, 0,
		0, 0, izz,
	}
}
