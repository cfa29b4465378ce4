package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/vrui-vr/nck/internal/geom"
)

// FileTag is the 32-byte ASCII tag prefixing every persisted-state file
// (spec §6), padded with NULs.
const FileTag = "NanotechConstructionKit 2.0\r\n"

const fileTagSize = 32

// UnitStateWire is the on-wire authoritative unit state (spec §3/§6).
type UnitStateWire struct {
	UnitType        uint16
	PickID          uint16
	Position        geom.Vector
	Orientation     geom.Rotation
	LinearVelocity  geom.Vector
	AngularVelocity geom.Vector
}

// BondWire is one canonical bond, (u0, s0, u1, s1), per spec §6.
type BondWire struct {
	UnitA, SiteA uint32
	UnitB, SiteB uint32
}

// PersistedState is the full contents of a save file (spec §6).
type PersistedState struct {
	UnitTypes []UnitTypeWire
	Domain    geom.Box

	VertexForceRadius   float32
	VertexForceStrength float32
	CentralOvershoot    float32
	CentralStrength     float32

	Units []UnitStateWire
	Bonds []BondWire
}

// WriteFileTag writes the fixed 32-byte ASCII tag.
func WriteFileTag(w io.Writer) error {
	var buf [fileTagSize]byte
	copy(buf[:], FileTag)
	_, err := w.Write(buf[:])
	return err
}

// ReadFileTag reads and validates the 32-byte tag, returning spec §7
// error kind 1 (malformed persisted input) on mismatch.
func ReadFileTag(r io.Reader) error {
	var buf [fileTagSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("protocol: reading file tag: %w", err)
	}
	want := make([]byte, fileTagSize)
	copy(want, FileTag)
	if !bytes.Equal(buf[:], want) {
		return fmt.Errorf("protocol: bad file tag %q, expected %q", buf[:], want)
	}
	return nil
}

// SaveState writes ps in the persisted-state file format of spec §6.
func SaveState(w io.Writer, ps PersistedState) error {
	if err := WriteFileTag(w); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(ps.UnitTypes))); err != nil {
		return err
	}
	for _, t := range ps.UnitTypes {
		if err := writeUnitType(w, t); err != nil {
			return err
		}
	}
	if err := writeVector(w, ps.Domain.Min); err != nil {
		return err
	}
	if err := writeVector(w, ps.Domain.Max); err != nil {
		return err
	}
	for _, v := range []float32{ps.VertexForceRadius, ps.VertexForceStrength, ps.CentralOvershoot, ps.CentralStrength} {
		if err := writeF32(w, v); err != nil {
			return err
		}
	}
	if err := writeU32(w, uint32(len(ps.Units))); err != nil {
		return err
	}
	for _, u := range ps.Units {
		if err := writeUnitState(w, u); err != nil {
			return err
		}
	}
	if err := writeU32(w, uint32(len(ps.Bonds))); err != nil {
		return err
	}
	for _, b := range ps.Bonds {
		for _, v := range []uint32{b.UnitA, b.SiteA, b.UnitB, b.SiteB} {
			if err := writeU32(w, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadState reads a persisted-state file written by SaveState. Any
// truncation or tag mismatch is spec §7 error kind 1: the caller must
// abort the load and preserve the previous session.
func LoadState(r io.Reader) (PersistedState, error) {
	var ps PersistedState
	if err := ReadFileTag(r); err != nil {
		return ps, err
	}

	nTypes, err := readU32(r)
	if err != nil {
		return ps, fmt.Errorf("protocol: reading unit type count: %w", err)
	}
	ps.UnitTypes = make([]UnitTypeWire, nTypes)
	for i := range ps.UnitTypes {
		if ps.UnitTypes[i], err = readUnitType(r); err != nil {
			return ps, fmt.Errorf("protocol: reading unit type %d: %w", i, err)
		}
	}

	if ps.Domain.Min, err = readVector(r); err != nil {
		return ps, err
	}
	if ps.Domain.Max, err = readVector(r); err != nil {
		return ps, err
	}

	scalars := make([]float32, 4)
	for i := range scalars {
		if scalars[i], err = readF32(r); err != nil {
			return ps, err
		}
	}
	ps.VertexForceRadius, ps.VertexForceStrength, ps.CentralOvershoot, ps.CentralStrength = scalars[0], scalars[1], scalars[2], scalars[3]

	nUnits, err := readU32(r)
	if err != nil {
		return ps, fmt.Errorf("protocol: reading unit state count: %w", err)
	}
	ps.Units = make([]UnitStateWire, nUnits)
	for i := range ps.Units {
		if ps.Units[i], err = readUnitState(r); err != nil {
			return ps, fmt.Errorf("protocol: reading unit state %d: %w", i, err)
		}
	}

	nBonds, err := readU32(r)
	if err != nil {
		return ps, fmt.Errorf("protocol: reading bond count: %w", err)
	}
	ps.Bonds = make([]BondWire, nBonds)
	for i := range ps.Bonds {
		b := &ps.Bonds[i]
		vals := make([]uint32, 4)
		for j := range vals {
			if vals[j], err = readU32(r); err != nil {
				return ps, fmt.Errorf("protocol: reading bond %d: %w", i, err)
			}
		}
		b.UnitA, b.SiteA, b.UnitB, b.SiteB = vals[0], vals[1], vals[2], vals[3]
	}

	return ps, nil
}

func writeUnitState(w io.Writer, u UnitStateWire) error {
	if err := writeU16(w, u.UnitType); err != nil {
		return err
	}
	if err := writeU16(w, u.PickID); err != nil {
		return err
	}
	if err := writeVector(w, u.Position); err != nil {
		return err
	}
	if err := writeRotation(w, u.Orientation); err != nil {
		return err
	}
	if err := writeVector(w, u.LinearVelocity); err != nil {
		return err
	}
	return writeVector(w, u.AngularVelocity)
}

func readUnitState(r io.Reader) (UnitStateWire, error) {
	var u UnitStateWire
	var err error
	if u.UnitType, err = readU16(r); err != nil {
		return u, err
	}
	if u.PickID, err = readU16(r); err != nil {
		return u, err
	}
	if u.Position, err = readVector(r); err != nil {
		return u, err
	}
	if u.Orientation, err = readRotation(r); err != nil {
		return u, err
	}
	if u.LinearVelocity, err = readVector(r); err != nil {
		return u, err
	}
	u.AngularVelocity, err = readVector(r)
	return u, err
}
