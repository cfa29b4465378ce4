package server

import (
	"bytes"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vrui-vr/nck/internal/pick"
	"github.com/vrui-vr/nck/internal/protocol"
	"github.com/vrui-vr/nck/internal/sim"
	"github.com/vrui-vr/nck/internal/unittype"
)

// Conn is one websocket connection's state: a mutex-guarded writer
// standing in for x-cells' SafeWriter, plus the client-local-id ->
// server-pick-id translation table spec §4.9 assigns to the server
// plugin. localToServer is normally only touched by this connection's own
// readLoop goroutine, but a LoadState reload or disconnect cleanup can
// reset it from elsewhere, so a mutex guards it.
type Conn struct {
	server *Server
	ws     *websocket.Conn

	writeMu sync.Mutex

	picksMu       sync.Mutex
	localToServer map[uint16]pick.ID
}

func newConn(s *Server, ws *websocket.Conn) *Conn {
	return &Conn{
		server:        s,
		ws:            ws,
		localToServer: make(map[uint16]pick.ID),
	}
}

func (c *Conn) send(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf, err := protocol.EncodeToBytes(m)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, buf)
}

func (c *Conn) close() {
	_ = c.ws.Close()
}

func (c *Conn) sendSessionUpdate() error {
	snap := c.server.engine.Buffer().Latest()
	return c.send(&protocol.SessionUpdateNotification{
		SessionID: snap.SessionID,
		UnitTypes: c.server.getUnitTypes(),
	})
}

// bindPick records the translation from a client-chosen local id to the
// server-generated id.
func (c *Conn) bindPick(local uint16, serverID pick.ID) {
	c.picksMu.Lock()
	c.localToServer[local] = serverID
	c.picksMu.Unlock()
}

// translatePick looks up the server id for a client-chosen local id.
func (c *Conn) translatePick(local uint16) (pick.ID, bool) {
	c.picksMu.Lock()
	defer c.picksMu.Unlock()
	id, ok := c.localToServer[local]
	return id, ok
}

// unbindPick removes a local->server translation, e.g. once the pick is
// released or its unit destroyed.
func (c *Conn) unbindPick(local uint16) {
	c.picksMu.Lock()
	delete(c.localToServer, local)
	c.picksMu.Unlock()
}

// resetPicks clears every translation this connection holds, returning
// the server ids that were live. Called on a session-invalidating reload
// (boundary scenario 5) and on disconnect.
func (c *Conn) resetPicks() []pick.ID {
	c.picksMu.Lock()
	defer c.picksMu.Unlock()
	ids := make([]pick.ID, 0, len(c.localToServer))
	for _, id := range c.localToServer {
		ids = append(ids, id)
	}
	c.localToServer = make(map[uint16]pick.ID)
	return ids
}

// releaseAllPicks enqueues a RequestRelease for every pick id this
// connection still holds a local mapping for (boundary scenario 6:
// disconnect during a drag must free the unit(s), not leave them
// permanently kinematic).
func (c *Conn) releaseAllPicks() {
	for _, serverID := range c.resetPicks() {
		_ = c.server.engine.Queue().Push(sim.Request{Kind: sim.RequestRelease, PickID: serverID})
	}
}

// readLoop decodes wire messages one at a time and dispatches each to the
// engine's request queue (or handles it locally, for the id-translation
// bookkeeping that must not race the simulation thread). Returns once the
// connection errors out or closes.
func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(bytes.NewReader(data))
		if err != nil {
			c.server.log.Debug().Err(err).Msg("dropping connection on protocol decode error")
			return
		}
		c.dispatch(msg)
	}
}

// dispatch turns one decoded client message into a sim.Request, applying
// the local<->server pick-id translation spec §4.9 requires. Unknown
// local ids on a translate-only message are silently dropped (spec §7
// error kind 3: "references to an already-released id are a no-op").
func (c *Conn) dispatch(msg protocol.Message) {
	q := c.server.engine.Queue()

	switch m := msg.(type) {
	case *protocol.SetParametersRequest:
		_ = q.Push(sim.Request{
			Kind: sim.RequestSetParameters,
			NewParameters: sim.Parameters{
				LinearDamp:  m.Parameters.LinearDamp,
				AngularDamp: m.Parameters.AngularDamp,
				Attenuation: m.Parameters.Attenuation,
				TimeFactor:  m.Parameters.TimeFactor,
			},
		})

	case *protocol.PointPickRequest:
		serverID := c.server.allocatePickID()
		c.bindPick(m.PickID, serverID)
		_ = q.Push(sim.Request{
			Kind:        sim.RequestPickPoint,
			PickID:      serverID,
			Point:       m.Position,
			Radius:      m.Radius,
			Orientation: m.Orientation,
			Connected:   m.Connected,
		})

	case *protocol.RayPickRequest:
		serverID := c.server.allocatePickID()
		c.bindPick(m.PickID, serverID)
		_ = q.Push(sim.Request{
			Kind:        sim.RequestPickRay,
			PickID:      serverID,
			RayOrigin:   m.Origin,
			RayDir:      m.Direction,
			Orientation: m.Orientation,
			Connected:   m.Connected,
		})

	case *protocol.CreateUnitRequest:
		serverID := c.server.allocatePickID()
		c.bindPick(m.PickID, serverID)
		_ = q.Push(sim.Request{
			Kind:           sim.RequestCreate,
			PickID:         serverID,
			UnitType:       unittype.ID(m.UnitTypeID),
			Pose:           m.Position,
			PoseOrient:     m.Orientation,
			LinearVelocity: m.LinearVelocity,
			AngularVel:     m.AngularVel,
		})

	case *protocol.PasteUnitRequest:
		serverID := c.server.allocatePickID()
		c.bindPick(m.PickID, serverID)
		_ = q.Push(sim.Request{
			Kind:           sim.RequestPaste,
			PickID:         serverID,
			Pose:           m.Position,
			PoseOrient:     m.Orientation,
			LinearVelocity: m.LinearVelocity,
			AngularVel:     m.AngularVel,
		})

	case *protocol.SetUnitStateRequest:
		serverID, ok := c.translatePick(m.PickID)
		if !ok {
			return
		}
		_ = q.Push(sim.Request{
			Kind:           sim.RequestSetState,
			PickID:         serverID,
			Pose:           m.Position,
			PoseOrient:     m.Orientation,
			LinearVelocity: m.LinearVelocity,
			AngularVel:     m.AngularVel,
		})

	case *protocol.CopyUnitRequest:
		serverID, ok := c.translatePick(m.PickID)
		if !ok {
			return
		}
		_ = q.Push(sim.Request{Kind: sim.RequestCopy, PickID: serverID})

	case *protocol.DestroyUnitRequest:
		serverID, ok := c.translatePick(m.PickID)
		if !ok {
			return
		}
		c.unbindPick(m.PickID)
		_ = q.Push(sim.Request{Kind: sim.RequestDestroy, PickID: serverID})

	case *protocol.ReleaseRequest:
		serverID, ok := c.translatePick(m.PickID)
		if !ok {
			return
		}
		c.unbindPick(m.PickID)
		_ = q.Push(sim.Request{Kind: sim.RequestRelease, PickID: serverID})

	case *protocol.SaveStateRequest:
		c.handleSaveState()

	case *protocol.LoadStateRequest:
		c.handleLoadState(m.StreamID)
	}
}
