// Package protocol implements the typed marshalling of spec §6: the
// client/server wire message taxonomy and the persisted-state file
// format, both little-endian and length-prefixed. Of this module's
// packages it depends only on the domain-agnostic geom package, so
// internal/sim can import it for save/load without a cycle.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vrui-vr/nck/internal/geom"
)

func writeF32(w io.Writer, v float32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readF32(r io.Reader) (float32, error) {
	var v float32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeU32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func binaryWriteU64(w io.Writer, v uint64) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func binaryReadU64(r io.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeU16(w io.Writer, v uint16) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readU16(r io.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeVector(w io.Writer, v geom.Vector) error {
	for i := 0; i < 3; i++ {
		if err := writeF32(w, v[i]); err != nil {
			return err
		}
	}
	return nil
}

func readVector(r io.Reader) (geom.Vector, error) {
	var v geom.Vector
	for i := 0; i < 3; i++ {
		f, err := readF32(r)
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}

func writeRotation(w io.Writer, q geom.Rotation) error {
	if err := writeF32(w, q.V[0]); err != nil {
		return err
	}
	if err := writeF32(w, q.V[1]); err != nil {
		return err
	}
	if err := writeF32(w, q.V[2]); err != nil {
		return err
	}
	return writeF32(w, q.W)
}

func readRotation(r io.Reader) (geom.Rotation, error) {
	var q geom.Rotation
	var err error
	if q.V[0], err = readF32(r); err != nil {
		return q, err
	}
	if q.V[1], err = readF32(r); err != nil {
		return q, err
	}
	if q.V[2], err = readF32(r); err != nil {
		return q, err
	}
	q.W, err = readF32(r)
	return q, err
}

func writeTensor(w io.Writer, m geom.Tensor) error {
	for i := 0; i < 9; i++ {
		if err := writeF32(w, m[i]); err != nil {
			return err
		}
	}
	return nil
}

func readTensor(r io.Reader) (geom.Tensor, error) {
	var m geom.Tensor
	for i := 0; i < 9; i++ {
		f, err := readF32(r)
		if err != nil {
			return m, err
		}
		m[i] = f
	}
	return m, nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("protocol: reading string of length %d: %w", n, err)
	}
	return string(buf), nil
}

// Parameters mirrors spec §6's four-scalar parameter struct.
type Parameters struct {
	LinearDamp  float32
	AngularDamp float32
	Attenuation float32
	TimeFactor  float32
}

func writeParameters(w io.Writer, p Parameters) error {
	for _, v := range []float32{p.LinearDamp, p.AngularDamp, p.Attenuation, p.TimeFactor} {
		if err := writeF32(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readParameters(r io.Reader) (Parameters, error) {
	var p Parameters
	vals := make([]float32, 4)
	for i := range vals {
		f, err := readF32(r)
		if err != nil {
			return p, err
		}
		vals[i] = f
	}
	p.LinearDamp, p.AngularDamp, p.Attenuation, p.TimeFactor = vals[0], vals[1], vals[2], vals[3]
	return p, nil
}
