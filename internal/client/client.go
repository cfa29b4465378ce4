// Package client implements spec §4.10: the client-side plugin that
// mirrors the server's broadcast into a local triple-buffer of reduced
// state, tracks the current session and parameter set, and allocates its
// own pick ids client-side (independent of the server's own allocator —
// spec §4.9/§4.10 deliberately keep the two id spaces disjoint until a
// PointPickRequest/RayPickRequest/CreateUnitRequest/PasteUnitRequest
// binds one to the other).
package client

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/protocol"
)

// ReducedUnit is the client-visible per-unit state: no velocities, since
// only a renderer consumes it (spec §4.10).
type ReducedUnit struct {
	UnitType    uint16
	Position    geom.Vector
	Orientation geom.Rotation
}

// Snapshot is a point-in-time copy of the client's mirrored state.
type Snapshot struct {
	SessionID uint16
	TimeStamp uint64
	Units     []ReducedUnit
}

// tripleBuffer is client's own copy of the server's lock-free
// triple-buffer scheme (spec §4.7), reduced-state flavored: the renderer
// thread reads Latest() every frame, never blocking the read-loop
// goroutine that stages and publishes incoming snapshots.
type tripleBuffer struct {
	slots  [3]Snapshot
	latest atomic.Int32
	writing int32
}

func newTripleBuffer() *tripleBuffer {
	return &tripleBuffer{}
}

func (tb *tripleBuffer) publish(s Snapshot) {
	prev := tb.latest.Load()
	tb.slots[tb.writing] = s
	published := tb.writing
	tb.latest.Store(published)
	for i := int32(0); i < 3; i++ {
		if i != published && i != prev {
			tb.writing = i
			break
		}
	}
}

func (tb *tripleBuffer) Latest() Snapshot {
	return tb.slots[tb.latest.Load()]
}

// SessionInfo is delivered to OnSessionChanged whenever a
// SessionUpdateNotification arrives.
type SessionInfo struct {
	SessionID uint16
	Domain    geom.Box
	UnitTypes []protocol.UnitTypeWire
}

// Client is one connection to a nck server.
type Client struct {
	log zerolog.Logger

	ws      *websocket.Conn
	writeMu sync.Mutex

	buffer *tripleBuffer

	sessionMu  sync.RWMutex
	sessionID  uint16
	sessionSet bool
	domain     geom.Box
	unitTypes  []protocol.UnitTypeWire
	parameters protocol.Parameters

	nextPickMu sync.Mutex
	nextPick   uint16

	// OnSessionChanged, if set, is invoked (on the read-loop goroutine)
	// whenever a SessionUpdateNotification is processed.
	OnSessionChanged func(SessionInfo)

	saveReplies chan uint32 // FIFO of SaveStateReply.StreamID, one per outstanding SaveState call
}

// Dial connects to a server at url (e.g. "ws://host:port/ws").
func Dial(url string, log zerolog.Logger) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	return &Client{
		log:      log,
		ws:       ws,
		buffer:      newTripleBuffer(),
		nextPick:    1,
		saveReplies: make(chan uint32, 16),
	}, nil
}

// Close shuts down the underlying connection.
func (c *Client) Close() error {
	return c.ws.Close()
}

// Latest returns the most recently published reduced-state snapshot.
func (c *Client) Latest() Snapshot {
	return c.buffer.Latest()
}

// SessionID reports the current session id, and whether one has been
// established yet (false right after connecting or after a
// SessionInvalidNotification, per spec §4.10).
func (c *Client) SessionID() (uint16, bool) {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.sessionID, c.sessionSet
}

// Parameters returns the last parameter set the server announced.
func (c *Client) Parameters() protocol.Parameters {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.parameters
}

// AllocatePickID reserves the next client-local pick id, skipping zero
// and wrapping on 16-bit overflow, the same skip-zero rule pick.Ledger
// applies (spec §4.10). Unlike the ledger it does not skip ids still in
// use after a wraparound.
func (c *Client) AllocatePickID() uint16 {
	c.nextPickMu.Lock()
	defer c.nextPickMu.Unlock()
	for {
		id := c.nextPick
		c.nextPick++
		if id != 0 {
			return id
		}
	}
}

func (c *Client) send(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf, err := protocol.EncodeToBytes(m)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, buf)
}

// Run processes inbound messages until ctx is cancelled or the connection
// closes. Intended to run in its own goroutine.
func (c *Client) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.Decode(bytes.NewReader(data))
			if err != nil {
				c.log.Warn().Err(err).Msg("dropping malformed message from server")
				continue
			}
			c.handle(msg)
		}
	}()

	select {
	case <-ctx.Done():
		_ = c.ws.Close()
		<-done
	case <-done:
	}
}

func (c *Client) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.SessionInvalidNotification:
		c.sessionMu.Lock()
		c.sessionSet = false
		c.sessionMu.Unlock()

	case *protocol.SessionUpdateNotification:
		c.sessionMu.Lock()
		c.sessionID = m.SessionID
		c.sessionSet = true
		c.domain = m.Domain
		c.unitTypes = m.UnitTypes
		c.sessionMu.Unlock()
		if c.OnSessionChanged != nil {
			c.OnSessionChanged(SessionInfo{SessionID: m.SessionID, Domain: m.Domain, UnitTypes: m.UnitTypes})
		}

	case *protocol.SetParametersNotification:
		c.sessionMu.Lock()
		c.parameters = m.Parameters
		c.sessionMu.Unlock()

	case *protocol.SimulationUpdateNotification:
		units := make([]ReducedUnit, len(m.Units))
		for i, u := range m.Units {
			units[i] = ReducedUnit{UnitType: u.UnitType, Position: u.Position, Orientation: u.Orientation}
		}
		id, _ := c.SessionID()
		c.buffer.publish(Snapshot{SessionID: id, TimeStamp: m.TimeStamp, Units: units})

	case *protocol.SaveStateReply:
		select {
		case c.saveReplies <- m.StreamID:
		default:
			c.log.Warn().Msg("save-state reply channel full, dropping reply")
		}
	}
}

// --- outbound requests (spec §6) ----------------------------------------

// SetParameters sends a SetParametersRequest.
func (c *Client) SetParameters(p protocol.Parameters) error {
	return c.send(&protocol.SetParametersRequest{Parameters: p})
}

// PickPoint sends a PointPickRequest using a freshly allocated local pick
// id, returning that id for later SetState/Release calls.
func (c *Client) PickPoint(point geom.Vector, radius float32, orientation geom.Rotation, connected bool) (uint16, error) {
	id := c.AllocatePickID()
	err := c.send(&protocol.PointPickRequest{
		PickID: id, Position: point, Radius: radius, Orientation: orientation, Connected: connected,
	})
	return id, err
}

// PickRay sends a RayPickRequest using a freshly allocated local pick id.
func (c *Client) PickRay(origin, dir geom.Vector, orientation geom.Rotation, connected bool) (uint16, error) {
	id := c.AllocatePickID()
	err := c.send(&protocol.RayPickRequest{
		PickID: id, Origin: origin, Direction: dir, Orientation: orientation, Connected: connected,
	})
	return id, err
}

// Create sends a CreateUnitRequest using a freshly allocated local pick id.
func (c *Client) Create(unitType uint16, pose geom.Vector, orient geom.Rotation, linVel, angVel geom.Vector) (uint16, error) {
	id := c.AllocatePickID()
	err := c.send(&protocol.CreateUnitRequest{
		PickID: id, UnitTypeID: unitType, Position: pose, Orientation: orient,
		LinearVelocity: linVel, AngularVel: angVel,
	})
	return id, err
}

// Paste sends a PasteUnitRequest using a freshly allocated local pick id.
func (c *Client) Paste(pose geom.Vector, orient geom.Rotation, linVel, angVel geom.Vector) (uint16, error) {
	id := c.AllocatePickID()
	err := c.send(&protocol.PasteUnitRequest{
		PickID: id, Position: pose, Orientation: orient,
		LinearVelocity: linVel, AngularVel: angVel,
	})
	return id, err
}

// SetState sends a SetUnitStateRequest for an already-held pick id.
func (c *Client) SetState(pickID uint16, pose geom.Vector, orient geom.Rotation, linVel, angVel geom.Vector) error {
	return c.send(&protocol.SetUnitStateRequest{
		PickID: pickID, Position: pose, Orientation: orient,
		LinearVelocity: linVel, AngularVel: angVel,
	})
}

// Copy sends a CopyUnitRequest for an already-held pick id.
func (c *Client) Copy(pickID uint16) error {
	return c.send(&protocol.CopyUnitRequest{PickID: pickID})
}

// Destroy sends a DestroyUnitRequest for an already-held pick id.
func (c *Client) Destroy(pickID uint16) error {
	return c.send(&protocol.DestroyUnitRequest{PickID: pickID})
}

// Release sends a ReleaseRequest for an already-held pick id.
func (c *Client) Release(pickID uint16) error {
	return c.send(&protocol.ReleaseRequest{PickID: pickID})
}

// SaveState requests a server-side save and blocks until the matching
// SaveStateReply arrives (or ctx is cancelled), returning the bulk-stream
// id the save was written to. Replies are matched in FIFO order, which
// holds as long as callers don't issue overlapping SaveState calls from
// multiple goroutines on the same Client.
func (c *Client) SaveState(ctx context.Context) (uint32, error) {
	if err := c.send(&protocol.SaveStateRequest{}); err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case streamID := <-c.saveReplies:
		return streamID, nil
	}
}

// LoadState requests the server load from the named inbound bulk-stream.
func (c *Client) LoadState(streamID uint32) error {
	return c.send(&protocol.LoadStateRequest{StreamID: streamID})
}
