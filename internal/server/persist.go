package server

import (
	"github.com/vrui-vr/nck/internal/protocol"
	"github.com/vrui-vr/nck/internal/sim"
)

// handleSaveState opens a fresh outbound bulk-stream, enqueues a
// RequestSaveState that writes into it, and replies with the stream id
// right away — mirroring spec §6's SaveStateRequest -> SaveStateReply
// pair. The sink is an unbuffered pipe, so the engine's write proceeds as
// the client Pulls the stream; the sink is closed once the request
// completes. The heavy bytes never touch the websocket.
func (c *Conn) handleSaveState() {
	if c.server.bulk == nil {
		c.server.log.Warn().Msg("save-state request with no bulk-stream store configured")
		return
	}
	streamID := c.server.bulk.NewStreamID()
	sink, err := c.server.bulk.OpenSink(streamID)
	if err != nil {
		c.server.log.Error().Err(err).Msg("failed to open save-state bulk sink")
		return
	}

	c.server.engine.Queue().Push(sim.Request{
		Kind:     sim.RequestSaveState,
		SaveSink: sink,
		Done: func(err error) {
			if err != nil {
				c.server.log.Error().Err(err).Msg("save-state handler failed")
			}
			if closeErr := c.server.bulk.CloseSink(streamID); closeErr != nil {
				c.server.log.Error().Err(closeErr).Msg("failed to close save-state bulk sink")
			}
		},
	})
	if sendErr := c.send(&protocol.SaveStateReply{StreamID: streamID}); sendErr != nil {
		c.server.log.Debug().Err(sendErr).Msg("failed to send save-state reply")
	}
}

// handleLoadState enqueues a RequestLoadState reading from the named
// inbound bulk-stream. A successful load swaps the engine's State and
// invalidates every outstanding pick id (boundary scenario 5), so the
// server broadcasts a fresh SessionUpdateNotification to every client —
// including this one — once it completes.
func (c *Conn) handleLoadState(streamID uint32) {
	if c.server.bulk == nil {
		c.server.log.Warn().Msg("load-state request with no bulk-stream store configured")
		return
	}
	source, err := c.server.bulk.OpenSource(streamID)
	if err != nil {
		c.server.log.Error().Err(err).Msg("failed to open load-state bulk source")
		return
	}

	c.server.engine.Queue().Push(sim.Request{
		Kind:       sim.RequestLoadState,
		LoadSource: source,
		SessionID:  c.server.nextSessionID(),
		Done: func(err error) {
			if err != nil {
				c.server.log.Error().Err(err).Msg("load-state handler failed")
				return
			}
			c.server.onSessionReloaded()
		},
	})
}
