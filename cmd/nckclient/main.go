// Command nckclient connects to a running nckserver and prints every
// session change and simulation tick it observes — a thin diagnostic
// client, grounded on x-cells' cmd/test-client (connect, read, log).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/vrui-vr/nck/internal/client"
	"github.com/vrui-vr/nck/internal/telemetry"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/ws", "URL of the nckserver websocket endpoint")
		debug = flag.Bool("debug", false, "enable human-readable debug logging")
	)
	flag.Parse()

	log := telemetry.NewLogger("nckclient", *debug)

	c, err := client.Dial(*url, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer c.Close()

	c.OnSessionChanged = func(info client.SessionInfo) {
		log.Info().
			Uint16("session_id", info.SessionID).
			Int("unit_types", len(info.UnitTypes)).
			Msg("session changed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			snap := c.Latest()
			log.Info().
				Uint64("timestamp", snap.TimeStamp).
				Int("units", len(snap.Units)).
				Msg("latest snapshot")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	log.Info().Msg("disconnecting")
}
