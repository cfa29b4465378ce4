// Package geom holds the vector, rotation and bounding-box primitives shared
// by every other simulation package. It is a thin, domain-flavoured layer on
// top of github.com/go-gl/mathgl/mgl32: positions, bond-site offsets and
// velocities are mgl32.Vec3, orientations are mgl32.Quat, and inertia
// tensors are mgl32.Mat3.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Vector is a 3-component world- or body-space vector.
type Vector = mgl32.Vec3

// Rotation is a unit quaternion orientation.
type Rotation = mgl32.Quat

// Tensor is a row-major 3x3 matrix, used for moments of inertia.
type Tensor = mgl32.Mat3

// IdentityRotation returns the identity orientation.
func IdentityRotation() Rotation {
	return mgl32.QuatIdent()
}

// Box is an axis-aligned box describing the periodic simulation domain.
type Box struct {
	Min, Max Vector
}

// Size returns the extent of the box along axis i (0=X, 1=Y, 2=Z).
func (b Box) Size(i int) float32 {
	return b.Max[i] - b.Min[i]
}

// Sizes returns the extent of the box along all three axes.
func (b Box) Sizes() Vector {
	return Vector{b.Size(0), b.Size(1), b.Size(2)}
}

// Contains reports whether p lies inside the box's half-open range
// [min, max) on every axis, per invariant I6.
func (b Box) Contains(p Vector) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] || p[i] >= b.Max[i] {
			return false
		}
	}
	return true
}

// RotationFromScaledAxis builds the quaternion corresponding to a small
// rotation expressed as an angular-velocity-times-time-step vector, i.e.
// the axis direction carries the rotation angle in its magnitude. This is
// the quat_from_scaled_axis operation of the integration step (spec §4.5).
func RotationFromScaledAxis(v Vector) Rotation {
	angle := v.Len()
	if angle == 0 {
		return mgl32.QuatIdent()
	}
	axis := v.Mul(1 / angle)
	return mgl32.QuatRotate(angle, axis)
}

// Renormalize returns q scaled back to unit length. Orientation updates
// must renormalize every step (spec §4.1) to counteract floating-point
// drift accumulated by repeated quaternion multiplication.
func Renormalize(q Rotation) Rotation {
	return q.Normalize()
}

// WrapDistance returns the minimum-image representative of a displacement
// vector on the periodic torus bounded by domain (spec §4.2/§4.5).
func WrapDistance(domain Box, d Vector) Vector {
	var result Vector
	for i := 0; i < 3; i++ {
		size := domain.Size(i)
		v := d[i]
		half := size / 2
		if v > half {
			v -= size
		} else if v < -half {
			v += size
		}
		result[i] = v
	}
	return result
}

// WrapPosition returns the unique representative of position inside
// domain's half-open range [min, max) per axis (spec §4.2, invariant I6).
func WrapPosition(domain Box, p Vector) Vector {
	var result Vector
	for i := 0; i < 3; i++ {
		size := domain.Size(i)
		v := p[i]
		for v < domain.Min[i] {
			v += size
		}
		for v >= domain.Max[i] {
			v -= size
		}
		result[i] = v
	}
	return result
}

// IncrementFloat32 returns the smallest representable float32 strictly
// greater than value, obtained by incrementing its bit pattern. Used by the
// acceleration grid to nudge cell sizes upward until no in-domain point can
// round into an out-of-range cell index (spec §4.2).
func IncrementFloat32(value float32) float32 {
	bits := math.Float32bits(value)
	bits++
	return math.Float32frombits(bits)
}
