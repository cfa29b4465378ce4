package geom

import (
	"math"
	"testing"
)

func TestWrapDistance(t *testing.T) {
	domain := Box{Min: Vector{-1, -1, -1}, Max: Vector{1, 1, 1}}

	// Boundary scenario 1: a unit near +0.9 and one near -0.9 are actually
	// 0.2 apart across the wrap, not 1.8 apart in a straight line.
	d := Vector{-0.9, 0, 0}.Sub(Vector{0.9, 0, 0})
	wrapped := WrapDistance(domain, d)
	if got := wrapped.Len(); math.Abs(float64(got)-0.2) > 1e-5 {
		t.Fatalf("expected wrapped distance ~0.2, got %v", got)
	}
}

func TestWrapPosition(t *testing.T) {
	domain := Box{Min: Vector{-1, -1, -1}, Max: Vector{1, 1, 1}}

	p := WrapPosition(domain, Vector{1.1, 0, -3.5})
	if !domain.Contains(p) {
		t.Fatalf("wrapped position %v not inside domain", p)
	}
}

func TestRotationFromScaledAxisZero(t *testing.T) {
	q := RotationFromScaledAxis(Vector{0, 0, 0})
	id := IdentityRotation()
	if q.V != id.V || q.W != id.W {
		t.Fatalf("expected identity rotation for zero scaled axis, got %v", q)
	}
}

func TestIncrementFloat32Monotonic(t *testing.T) {
	v := float32(1.5)
	inc := IncrementFloat32(v)
	if inc <= v {
		t.Fatalf("expected incremented value > %v, got %v", v, inc)
	}
}

func TestBoxContains(t *testing.T) {
	domain := Box{Min: Vector{-1, -1, -1}, Max: Vector{1, 1, 1}}
	if !domain.Contains(Vector{-1, -1, -1}) {
		t.Fatal("min corner should be inside the half-open box")
	}
	if domain.Contains(Vector{1, 0, 0}) {
		t.Fatal("max corner should be outside the half-open box")
	}
}
