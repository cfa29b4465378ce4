package clustersync

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/protocol"
)

// Hub is the master side of a cluster: it fans every broadcast out to
// every subscribed slave, dropping broadcasts for slow slaves (which stay
// subscribed) rather than blocking the
// simulation thread that calls Broadcast (spec §9: a slave that falls
// behind is the slave's problem, not the master's).
type Hub struct {
	log zerolog.Logger

	nextID atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]chan []byte
}

// NewHub builds an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{log: log, subs: make(map[uint64]chan []byte)}
}

// Subscribe implements the gRPC Subscribe RPC: registers a new slave and
// streams every broadcast to it until the stream's context is done.
func (h *Hub) Subscribe(_ *emptypb.Empty, stream ClusterSync_SubscribeServer) error {
	id := h.nextID.Add(1)
	ch := make(chan []byte, 64)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case payload := <-ch:
			if err := stream.Send(&wrapperspb.BytesValue{Value: payload}); err != nil {
				return err
			}
		}
	}
}

// Broadcast encodes msg once and fans it out to every subscribed slave,
// dropping it for any slave whose buffer is full instead of blocking.
func (h *Hub) Broadcast(msg protocol.Message) error {
	payload, err := protocol.EncodeToBytes(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- payload:
		default:
			h.log.Warn().Uint64("slave_id", id).Msg("cluster slave buffer full, dropping broadcast")
		}
	}
	return nil
}

// SetParameters pushes a new parameter set to every slave.
func (h *Hub) SetParameters(p protocol.Parameters) error {
	return h.Broadcast(&protocol.SetParametersNotification{Parameters: p})
}

// UpdateSession pushes a session change to every slave, mirroring the
// SessionUpdateNotification clients receive (boundary scenario 5 extends
// to slaves too: a reload invalidates whatever session they were mirroring).
func (h *Hub) UpdateSession(sessionID uint16, domain geom.Box, unitTypes []protocol.UnitTypeWire) error {
	return h.Broadcast(&protocol.SessionUpdateNotification{SessionID: sessionID, Domain: domain, UnitTypes: unitTypes})
}

// UpdateSimulation pushes one tick's reduced state to every slave.
func (h *Hub) UpdateSimulation(timestamp uint64, units []protocol.ReducedUnitWire) error {
	return h.Broadcast(&protocol.SimulationUpdateNotification{TimeStamp: timestamp, Units: units})
}

// Shutdown tells every slave to stop.
func (h *Hub) Shutdown() error {
	return h.Broadcast(&protocol.ClusterShutdownNotification{})
}
