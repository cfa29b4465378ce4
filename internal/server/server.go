// Package server implements spec §4.9: the websocket-facing plugin that
// turns client connections into UIRequests on the engine's queue and
// turns published snapshots into SimulationUpdateNotification broadcasts.
// Modelled on x-cells' transport/ws.Server and adapter/in/ws.WSAdapter:
// an upgrader with CheckOrigin always-true (this is a LAN/dev tool, not a
// public-internet service), a connection registry guarded by a mutex, and
// a mutex-guarded per-connection writer standing in for x-cells' SafeWriter.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/pick"
	"github.com/vrui-vr/nck/internal/protocol"
	"github.com/vrui-vr/nck/internal/sim"
	"github.com/vrui-vr/nck/internal/unittype"
)

// BulkStore hands out the io.Writer/io.Reader a save/load request streams
// through, keyed by the stream id the client names in its request. The
// concrete implementation (internal/bulkstream) is a gRPC streaming
// service; server only needs this narrow seam.
type BulkStore interface {
	OpenSink(streamID uint32) (sim.Sink, error)
	CloseSink(streamID uint32) error
	OpenSource(streamID uint32) (sim.Source, error)
	NewStreamID() uint32
}

// Server owns zero or more live connections against one sim.Engine. It is
// the single place a client's self-chosen pick id is translated into the
// engine's pick id space, since the ledger itself is single-writer
// (spec §4.9: "the server plugin maintains its own pick-id allocator,
// independent of the ledger's").
type Server struct {
	log    zerolog.Logger
	engine *sim.Engine
	bulk   BulkStore

	broadcastRate time.Duration

	upgrader websocket.Upgrader

	connsMu sync.Mutex
	conns   map[*Conn]bool

	pickMu  sync.Mutex
	nextPick pick.ID

	unitTypesMu sync.RWMutex
	unitTypes   []protocol.UnitTypeWire
}

func (s *Server) setUnitTypes(types []protocol.UnitTypeWire) {
	s.unitTypesMu.Lock()
	s.unitTypes = types
	s.unitTypesMu.Unlock()
}

func (s *Server) getUnitTypes() []protocol.UnitTypeWire {
	s.unitTypesMu.RLock()
	defer s.unitTypesMu.RUnlock()
	return s.unitTypes
}

// New builds a Server around an already-running engine. unitTypes is the
// wire-ready unit-type list sent to each newly connected client in its
// SessionUpdateNotification.
func New(engine *sim.Engine, bulk BulkStore, unitTypes []protocol.UnitTypeWire, log zerolog.Logger) *Server {
	return &Server{
		log:           log,
		engine:        engine,
		bulk:          bulk,
		broadcastRate: time.Second / 60,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:     make(map[*Conn]bool),
		nextPick:  1,
		unitTypes: unitTypes,
	}
}

// allocatePickID returns a fresh, nonzero, server-owned pick id. This
// counter is entirely separate from pick.Ledger's own allocator: the
// ledger lives inside sim.State and is only ever touched by the engine
// goroutine, so a connection goroutine cannot call Ledger.AllocateID
// itself without racing the simulation thread.
func (s *Server) allocatePickID() pick.ID {
	s.pickMu.Lock()
	defer s.pickMu.Unlock()
	for {
		id := s.nextPick
		s.nextPick++
		if id != 0 {
			return id
		}
	}
}

// ServeHTTP upgrades the request to a websocket and runs the connection
// until it closes or the server shuts down.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newConn(s, ws)
	s.addConn(c)
	defer s.removeConn(c)

	if err := c.sendSessionUpdate(); err != nil {
		s.log.Warn().Err(err).Msg("failed to send initial session update")
		return
	}

	c.readLoop()
}

func (s *Server) addConn(c *Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	wasEmpty := len(s.conns) == 0
	s.conns[c] = true
	if wasEmpty {
		s.engine.Resume()
	}
	s.log.Info().Int("connections", len(s.conns)).Msg("client connected")
}

// removeConn releases every pick id the connection still held (boundary
// scenario 6: disconnect during a drag must not leave units stuck
// kinematic forever) and, once the last client leaves, pauses the engine
// rather than burning ticks on an unobserved simulation.
func (s *Server) removeConn(c *Conn) {
	c.releaseAllPicks()

	s.connsMu.Lock()
	delete(s.conns, c)
	empty := len(s.conns) == 0
	s.connsMu.Unlock()

	if empty {
		s.engine.Pause()
	}
	s.log.Info().Msg("client disconnected")
}

// RunBroadcast runs the periodic broadcast loop (thread B of spec §5)
// until ctx is cancelled: reads the latest published snapshot and fans
// out a SimulationUpdateNotification to every connected client.
func (s *Server) RunBroadcast(ctx context.Context) {
	rate := s.broadcastRate
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastSnapshot()
			if r := s.broadcastRate; r != rate { // set_update_rate changed it
				rate = r
				ticker.Reset(rate)
			}
		}
	}
}

func (s *Server) broadcastSnapshot() {
	snap := s.engine.Buffer().Latest()
	units := make([]protocol.ReducedUnitWire, len(snap.Units))
	for i, u := range snap.Units {
		units[i] = protocol.ReducedUnitWire{
			UnitType:    uint16(u.UnitType),
			Position:    u.Position,
			Orientation: u.Orientation,
		}
	}
	msg := &protocol.SimulationUpdateNotification{TimeStamp: snap.TimeStamp, Units: units}

	s.connsMu.Lock()
	targets := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.connsMu.Unlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			s.log.Debug().Err(err).Msg("broadcast write failed, dropping client")
			c.close()
		}
	}
}

// NotifySessionChanged re-sends a SessionUpdateNotification to every
// connected client — called after a LoadState request swaps in a new
// session id, domain, or unit-type registry (boundary scenario 5: every
// pick id any client was holding is implicitly invalid once this fires,
// since the engine's ledger was recreated along with the State).
func (s *Server) NotifySessionChanged(sessionID uint16, domain geom.Box) {
	s.connsMu.Lock()
	targets := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.connsMu.Unlock()

	msg := &protocol.SessionUpdateNotification{SessionID: sessionID, Domain: domain, UnitTypes: s.getUnitTypes()}
	for _, c := range targets {
		c.resetPicks()
		if err := c.send(msg); err != nil {
			s.log.Debug().Err(err).Msg("session update write failed, dropping client")
			c.close()
		}
	}
}

// nextSessionID allocates the session id a LoadState request activates,
// distinct from pick ids and from the session id it replaces.
func (s *Server) nextSessionID() uint16 {
	return s.engine.Buffer().Latest().SessionID + 1
}

// onSessionReloaded refreshes the cached wire unit-type list and tells
// every connected client about the new session, after a LoadState
// request has swapped the engine's State (boundary scenario 5: every
// pick id any client held is implicitly invalid the moment this fires).
func (s *Server) onSessionReloaded() {
	s.setUnitTypes(UnitTypesWireFromRegistry(s.engine.SessionUnitTypes()))
	snap := s.engine.Buffer().Latest()
	s.NotifySessionChanged(snap.SessionID, s.engine.SessionDomain())
}

// UnitTypesWireFromRegistry converts a unittype.Registry into the wire
// form SessionUpdateNotification and the persisted-state header share.
func UnitTypesWireFromRegistry(reg *unittype.Registry) []protocol.UnitTypeWire {
	out := make([]protocol.UnitTypeWire, 0, reg.Len())
	for _, t := range reg.All() {
		offsets := make([]geom.Vector, 0, len(t.BondSites))
		for _, bs := range t.BondSites {
			offsets = append(offsets, bs.Offset)
		}
		verts := make([]geom.Vector, len(t.MeshVertices))
		copy(verts, t.MeshVertices)
		tris := make([][3]uint32, len(t.MeshTriangles))
		for i, tri := range t.MeshTriangles {
			tris[i] = [3]uint32{tri.A, tri.B, tri.C}
		}
		out = append(out, protocol.UnitTypeWire{
			Name:            t.Name,
			Radius:          t.Radius,
			Mass:            t.Mass,
			MomentOfInertia: t.MomentOfInertia,
			BondSiteOffsets: offsets,
			MeshVertices:    verts,
			MeshTriangles:   tris,
		})
	}
	return out
}
