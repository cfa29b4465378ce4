package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/vrui-vr/nck/internal/geom"
)

// MessageID identifies a wire message; positional within its plugin, per
// spec §6 ("a handshake assigns concrete message bases").
type MessageID byte

const (
	// Client -> Server
	MsgSetParametersRequest MessageID = iota + 1
	MsgPointPickRequest
	MsgRayPickRequest
	MsgPasteUnitRequest
	MsgCreateUnitRequest
	MsgSetUnitStateRequest
	MsgCopyUnitRequest
	MsgDestroyUnitRequest
	MsgReleaseRequest
	MsgLoadStateRequest
	MsgSaveStateRequest

	// Server -> Client
	MsgSessionInvalidNotification
	MsgSessionUpdateNotification
	MsgSetParametersNotification
	MsgSimulationUpdateNotification
	MsgSaveStateReply

	// Master -> cluster slave (internal/clustersync tunnels these same
	// wire types over a gRPC stream instead of a websocket; see spec §9).
	MsgClusterShutdownNotification
)

// Message is any wire message: it knows its own id and how to marshal
// its payload (the id itself is written/read by Encode/Decode below).
type Message interface {
	ID() MessageID
	encodePayload(w io.Writer) error
	decodePayload(r io.Reader) error
}

// Encode writes m's id byte followed by its payload.
func Encode(w io.Writer, m Message) error {
	if _, err := w.Write([]byte{byte(m.ID())}); err != nil {
		return fmt.Errorf("protocol: writing message id: %w", err)
	}
	if err := m.encodePayload(w); err != nil {
		return fmt.Errorf("protocol: encoding %T: %w", m, err)
	}
	return nil
}

// EncodeToBytes is a convenience wrapper returning the encoded bytes.
func EncodeToBytes(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a message id and dispatches to the matching concrete type.
// Unknown ids are spec §7 error kind 2 (protocol decoding error): the
// caller should terminate the offending peer's session, not the engine.
func Decode(r io.Reader) (Message, error) {
	var idByte [1]byte
	if _, err := io.ReadFull(r, idByte[:]); err != nil {
		return nil, fmt.Errorf("protocol: reading message id: %w", err)
	}
	id := MessageID(idByte[0])

	m, err := newMessage(id)
	if err != nil {
		return nil, err
	}
	if err := m.decodePayload(r); err != nil {
		return nil, fmt.Errorf("protocol: decoding %T: %w", m, err)
	}
	return m, nil
}

func newMessage(id MessageID) (Message, error) {
	switch id {
	case MsgSetParametersRequest:
		return &SetParametersRequest{}, nil
	case MsgPointPickRequest:
		return &PointPickRequest{}, nil
	case MsgRayPickRequest:
		return &RayPickRequest{}, nil
	case MsgPasteUnitRequest:
		return &PasteUnitRequest{}, nil
	case MsgCreateUnitRequest:
		return &CreateUnitRequest{}, nil
	case MsgSetUnitStateRequest:
		return &SetUnitStateRequest{}, nil
	case MsgCopyUnitRequest:
		return &CopyUnitRequest{}, nil
	case MsgDestroyUnitRequest:
		return &DestroyUnitRequest{}, nil
	case MsgReleaseRequest:
		return &ReleaseRequest{}, nil
	case MsgLoadStateRequest:
		return &LoadStateRequest{}, nil
	case MsgSaveStateRequest:
		return &SaveStateRequest{}, nil
	case MsgSessionInvalidNotification:
		return &SessionInvalidNotification{}, nil
	case MsgSessionUpdateNotification:
		return &SessionUpdateNotification{}, nil
	case MsgSetParametersNotification:
		return &SetParametersNotification{}, nil
	case MsgSimulationUpdateNotification:
		return &SimulationUpdateNotification{}, nil
	case MsgSaveStateReply:
		return &SaveStateReply{}, nil
	case MsgClusterShutdownNotification:
		return &ClusterShutdownNotification{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown message id %d", id)
	}
}

// --- Client -> Server --------------------------------------------------

// SetParametersRequest carries a new parameter struct.
type SetParametersRequest struct {
	Parameters Parameters
}

func (*SetParametersRequest) ID() MessageID { return MsgSetParametersRequest }
func (m *SetParametersRequest) encodePayload(w io.Writer) error {
	return writeParameters(w, m.Parameters)
}
func (m *SetParametersRequest) decodePayload(r io.Reader) (err error) {
	m.Parameters, err = readParameters(r)
	return
}

// PointPickRequest is spec §6's PointPickRequest.
type PointPickRequest struct {
	PickID      uint16
	Position    geom.Vector
	Radius      float32
	Orientation geom.Rotation
	Connected   bool
}

func (*PointPickRequest) ID() MessageID { return MsgPointPickRequest }
func (m *PointPickRequest) encodePayload(w io.Writer) error {
	return encodeAll(w,
		func() error { return writeU16(w, m.PickID) },
		func() error { return writeVector(w, m.Position) },
		func() error { return writeF32(w, m.Radius) },
		func() error { return writeRotation(w, m.Orientation) },
		func() error { return writeBool(w, m.Connected) },
	)
}
func (m *PointPickRequest) decodePayload(r io.Reader) error {
	var err error
	if m.PickID, err = readU16(r); err != nil {
		return err
	}
	if m.Position, err = readVector(r); err != nil {
		return err
	}
	if m.Radius, err = readF32(r); err != nil {
		return err
	}
	if m.Orientation, err = readRotation(r); err != nil {
		return err
	}
	m.Connected, err = readBool(r)
	return err
}

// RayPickRequest is spec §6's RayPickRequest.
type RayPickRequest struct {
	PickID      uint16
	Origin      geom.Vector
	Direction   geom.Vector
	Orientation geom.Rotation
	Connected   bool
}

func (*RayPickRequest) ID() MessageID { return MsgRayPickRequest }
func (m *RayPickRequest) encodePayload(w io.Writer) error {
	return encodeAll(w,
		func() error { return writeU16(w, m.PickID) },
		func() error { return writeVector(w, m.Origin) },
		func() error { return writeVector(w, m.Direction) },
		func() error { return writeRotation(w, m.Orientation) },
		func() error { return writeBool(w, m.Connected) },
	)
}
func (m *RayPickRequest) decodePayload(r io.Reader) error {
	var err error
	if m.PickID, err = readU16(r); err != nil {
		return err
	}
	if m.Origin, err = readVector(r); err != nil {
		return err
	}
	if m.Direction, err = readVector(r); err != nil {
		return err
	}
	if m.Orientation, err = readRotation(r); err != nil {
		return err
	}
	m.Connected, err = readBool(r)
	return err
}

// PasteUnitRequest is spec §6's PasteUnitRequest.
type PasteUnitRequest struct {
	PickID         uint16
	Position       geom.Vector
	Orientation    geom.Rotation
	LinearVelocity geom.Vector
	AngularVel     geom.Vector
}

func (*PasteUnitRequest) ID() MessageID { return MsgPasteUnitRequest }
func (m *PasteUnitRequest) encodePayload(w io.Writer) error {
	return encodeAll(w,
		func() error { return writeU16(w, m.PickID) },
		func() error { return writeVector(w, m.Position) },
		func() error { return writeRotation(w, m.Orientation) },
		func() error { return writeVector(w, m.LinearVelocity) },
		func() error { return writeVector(w, m.AngularVel) },
	)
}
func (m *PasteUnitRequest) decodePayload(r io.Reader) error {
	var err error
	if m.PickID, err = readU16(r); err != nil {
		return err
	}
	if m.Position, err = readVector(r); err != nil {
		return err
	}
	if m.Orientation, err = readRotation(r); err != nil {
		return err
	}
	if m.LinearVelocity, err = readVector(r); err != nil {
		return err
	}
	m.AngularVel, err = readVector(r)
	return err
}

// CreateUnitRequest is spec §6's CreateUnitRequest.
type CreateUnitRequest struct {
	PickID         uint16
	UnitTypeID     uint16
	Position       geom.Vector
	Orientation    geom.Rotation
	LinearVelocity geom.Vector
	AngularVel     geom.Vector
}

func (*CreateUnitRequest) ID() MessageID { return MsgCreateUnitRequest }
func (m *CreateUnitRequest) encodePayload(w io.Writer) error {
	return encodeAll(w,
		func() error { return writeU16(w, m.PickID) },
		func() error { return writeU16(w, m.UnitTypeID) },
		func() error { return writeVector(w, m.Position) },
		func() error { return writeRotation(w, m.Orientation) },
		func() error { return writeVector(w, m.LinearVelocity) },
		func() error { return writeVector(w, m.AngularVel) },
	)
}
func (m *CreateUnitRequest) decodePayload(r io.Reader) error {
	var err error
	if m.PickID, err = readU16(r); err != nil {
		return err
	}
	if m.UnitTypeID, err = readU16(r); err != nil {
		return err
	}
	if m.Position, err = readVector(r); err != nil {
		return err
	}
	if m.Orientation, err = readRotation(r); err != nil {
		return err
	}
	if m.LinearVelocity, err = readVector(r); err != nil {
		return err
	}
	m.AngularVel, err = readVector(r)
	return err
}

// SetUnitStateRequest is spec §6's SetUnitStateRequest.
type SetUnitStateRequest struct {
	PickID         uint16
	Position       geom.Vector
	Orientation    geom.Rotation
	LinearVelocity geom.Vector
	AngularVel     geom.Vector
}

func (*SetUnitStateRequest) ID() MessageID { return MsgSetUnitStateRequest }
func (m *SetUnitStateRequest) encodePayload(w io.Writer) error {
	return encodeAll(w,
		func() error { return writeU16(w, m.PickID) },
		func() error { return writeVector(w, m.Position) },
		func() error { return writeRotation(w, m.Orientation) },
		func() error { return writeVector(w, m.LinearVelocity) },
		func() error { return writeVector(w, m.AngularVel) },
	)
}
func (m *SetUnitStateRequest) decodePayload(r io.Reader) error {
	var err error
	if m.PickID, err = readU16(r); err != nil {
		return err
	}
	if m.Position, err = readVector(r); err != nil {
		return err
	}
	if m.Orientation, err = readRotation(r); err != nil {
		return err
	}
	if m.LinearVelocity, err = readVector(r); err != nil {
		return err
	}
	m.AngularVel, err = readVector(r)
	return err
}

// CopyUnitRequest is spec §6's CopyUnitRequest.
type CopyUnitRequest struct{ PickID uint16 }

func (*CopyUnitRequest) ID() MessageID                    { return MsgCopyUnitRequest }
func (m *CopyUnitRequest) encodePayload(w io.Writer) error { return writeU16(w, m.PickID) }
func (m *CopyUnitRequest) decodePayload(r io.Reader) (err error) {
	m.PickID, err = readU16(r)
	return
}

// DestroyUnitRequest is spec §6's DestroyUnitRequest.
type DestroyUnitRequest struct{ PickID uint16 }

func (*DestroyUnitRequest) ID() MessageID                    { return MsgDestroyUnitRequest }
func (m *DestroyUnitRequest) encodePayload(w io.Writer) error { return writeU16(w, m.PickID) }
func (m *DestroyUnitRequest) decodePayload(r io.Reader) (err error) {
	m.PickID, err = readU16(r)
	return
}

// ReleaseRequest is spec §6's ReleaseRequest.
type ReleaseRequest struct{ PickID uint16 }

func (*ReleaseRequest) ID() MessageID                    { return MsgReleaseRequest }
func (m *ReleaseRequest) encodePayload(w io.Writer) error { return writeU16(w, m.PickID) }
func (m *ReleaseRequest) decodePayload(r io.Reader) (err error) {
	m.PickID, err = readU16(r)
	return
}

// LoadStateRequest names an inbound bulk-stream id to load from.
type LoadStateRequest struct{ StreamID uint32 }

func (*LoadStateRequest) ID() MessageID                    { return MsgLoadStateRequest }
func (m *LoadStateRequest) encodePayload(w io.Writer) error { return writeU32(w, m.StreamID) }
func (m *LoadStateRequest) decodePayload(r io.Reader) (err error) {
	m.StreamID, err = readU32(r)
	return
}

// SaveStateRequest carries no payload.
type SaveStateRequest struct{}

func (*SaveStateRequest) ID() MessageID                    { return MsgSaveStateRequest }
func (*SaveStateRequest) encodePayload(io.Writer) error     { return nil }
func (*SaveStateRequest) decodePayload(io.Reader) error     { return nil }

// --- Server -> Client ----------------------------------------------------

// SessionInvalidNotification carries no payload.
type SessionInvalidNotification struct{}

func (*SessionInvalidNotification) ID() MessageID                { return MsgSessionInvalidNotification }
func (*SessionInvalidNotification) encodePayload(io.Writer) error { return nil }
func (*SessionInvalidNotification) decodePayload(io.Reader) error { return nil }

// UnitTypeWire is the on-wire unit-type record shared by
// SessionUpdateNotification and the persisted-state file.
type UnitTypeWire struct {
	Name               string
	Radius             float32
	Mass               float32
	MomentOfInertia    geom.Tensor
	BondSiteOffsets    []geom.Vector
	MeshVertices       []geom.Vector
	MeshTriangles      [][3]uint32
}

func writeUnitType(w io.Writer, t UnitTypeWire) error {
	if err := writeString(w, t.Name); err != nil {
		return err
	}
	if err := writeF32(w, t.Radius); err != nil {
		return err
	}
	if err := writeF32(w, t.Mass); err != nil {
		return err
	}
	if err := writeTensor(w, t.MomentOfInertia); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(t.BondSiteOffsets))); err != nil {
		return err
	}
	for _, v := range t.BondSiteOffsets {
		if err := writeVector(w, v); err != nil {
			return err
		}
	}
	if err := writeU32(w, uint32(len(t.MeshVertices))); err != nil {
		return err
	}
	for _, v := range t.MeshVertices {
		if err := writeVector(w, v); err != nil {
			return err
		}
	}
	if err := writeU32(w, uint32(len(t.MeshTriangles))); err != nil {
		return err
	}
	for _, tri := range t.MeshTriangles {
		for _, idx := range tri {
			if err := writeU32(w, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func readUnitType(r io.Reader) (UnitTypeWire, error) {
	var t UnitTypeWire
	var err error
	if t.Name, err = readString(r); err != nil {
		return t, err
	}
	if t.Radius, err = readF32(r); err != nil {
		return t, err
	}
	if t.Mass, err = readF32(r); err != nil {
		return t, err
	}
	if t.MomentOfInertia, err = readTensor(r); err != nil {
		return t, err
	}
	nSites, err := readU32(r)
	if err != nil {
		return t, err
	}
	t.BondSiteOffsets = make([]geom.Vector, nSites)
	for i := range t.BondSiteOffsets {
		if t.BondSiteOffsets[i], err = readVector(r); err != nil {
			return t, err
		}
	}
	nVerts, err := readU32(r)
	if err != nil {
		return t, err
	}
	t.MeshVertices = make([]geom.Vector, nVerts)
	for i := range t.MeshVertices {
		if t.MeshVertices[i], err = readVector(r); err != nil {
			return t, err
		}
	}
	nTris, err := readU32(r)
	if err != nil {
		return t, err
	}
	t.MeshTriangles = make([][3]uint32, nTris)
	for i := range t.MeshTriangles {
		for j := 0; j < 3; j++ {
			if t.MeshTriangles[i][j], err = readU32(r); err != nil {
				return t, err
			}
		}
	}
	return t, nil
}

// SessionUpdateNotification carries the new session id, domain, and
// unit-type list.
type SessionUpdateNotification struct {
	SessionID uint16
	Domain    geom.Box
	UnitTypes []UnitTypeWire
}

func (*SessionUpdateNotification) ID() MessageID { return MsgSessionUpdateNotification }
func (m *SessionUpdateNotification) encodePayload(w io.Writer) error {
	if err := writeU16(w, m.SessionID); err != nil {
		return err
	}
	if err := writeVector(w, m.Domain.Min); err != nil {
		return err
	}
	if err := writeVector(w, m.Domain.Max); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(m.UnitTypes))); err != nil {
		return err
	}
	for _, t := range m.UnitTypes {
		if err := writeUnitType(w, t); err != nil {
			return err
		}
	}
	return nil
}
func (m *SessionUpdateNotification) decodePayload(r io.Reader) error {
	var err error
	if m.SessionID, err = readU16(r); err != nil {
		return err
	}
	if m.Domain.Min, err = readVector(r); err != nil {
		return err
	}
	if m.Domain.Max, err = readVector(r); err != nil {
		return err
	}
	n, err := readU32(r)
	if err != nil {
		return err
	}
	m.UnitTypes = make([]UnitTypeWire, n)
	for i := range m.UnitTypes {
		if m.UnitTypes[i], err = readUnitType(r); err != nil {
			return err
		}
	}
	return nil
}

// SetParametersNotification mirrors SetParametersRequest server->client.
type SetParametersNotification struct{ Parameters Parameters }

func (*SetParametersNotification) ID() MessageID { return MsgSetParametersNotification }
func (m *SetParametersNotification) encodePayload(w io.Writer) error {
	return writeParameters(w, m.Parameters)
}
func (m *SetParametersNotification) decodePayload(r io.Reader) (err error) {
	m.Parameters, err = readParameters(r)
	return
}

// ReducedUnitWire is the on-wire reduced unit state: no velocities.
type ReducedUnitWire struct {
	UnitType    uint16
	Position    geom.Vector
	Orientation geom.Rotation
}

// SimulationUpdateNotification carries the reduced state array.
type SimulationUpdateNotification struct {
	TimeStamp uint64
	Units     []ReducedUnitWire
}

func (*SimulationUpdateNotification) ID() MessageID { return MsgSimulationUpdateNotification }
func (m *SimulationUpdateNotification) encodePayload(w io.Writer) error {
	if err := binaryWriteU64(w, m.TimeStamp); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(m.Units))); err != nil {
		return err
	}
	for _, u := range m.Units {
		if err := writeU16(w, u.UnitType); err != nil {
			return err
		}
		if err := writeVector(w, u.Position); err != nil {
			return err
		}
		if err := writeRotation(w, u.Orientation); err != nil {
			return err
		}
	}
	return nil
}
func (m *SimulationUpdateNotification) decodePayload(r io.Reader) error {
	var err error
	if m.TimeStamp, err = binaryReadU64(r); err != nil {
		return err
	}
	n, err := readU32(r)
	if err != nil {
		return err
	}
	m.Units = make([]ReducedUnitWire, n)
	for i := range m.Units {
		if m.Units[i].UnitType, err = readU16(r); err != nil {
			return err
		}
		if m.Units[i].Position, err = readVector(r); err != nil {
			return err
		}
		if m.Units[i].Orientation, err = readRotation(r); err != nil {
			return err
		}
	}
	return nil
}

// SaveStateReply carries the outbound bulk-stream id.
type SaveStateReply struct{ StreamID uint32 }

func (*SaveStateReply) ID() MessageID                    { return MsgSaveStateReply }
func (m *SaveStateReply) encodePayload(w io.Writer) error { return writeU32(w, m.StreamID) }
func (m *SaveStateReply) decodePayload(r io.Reader) (err error) {
	m.StreamID, err = readU32(r)
	return
}

// ClusterShutdownNotification tells a cluster slave to stop stepping and
// exit (spec §9's cluster-slave side channel).
type ClusterShutdownNotification struct{}

func (*ClusterShutdownNotification) ID() MessageID                { return MsgClusterShutdownNotification }
func (*ClusterShutdownNotification) encodePayload(io.Writer) error { return nil }
func (*ClusterShutdownNotification) decodePayload(io.Reader) error { return nil }

func encodeAll(w io.Writer, fns ...func() error) error {
	for _, fn := range fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func writeBool(w io.Writer, b bool) error {
	var v byte
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

func readBool(r io.Reader) (bool, error) {
	var v [1]byte
	if _, err := io.ReadFull(r, v[:]); err != nil {
		return false, err
	}
	return v[0] != 0, nil
}
