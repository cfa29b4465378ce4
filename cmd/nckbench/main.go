// Command nckbench is a headless load generator: it spawns N synthetic
// clients against a running nckserver, each churning through
// pick/set-state/release requests at a fixed rate, and reports the
// achieved throughput once the run duration elapses. Grounded on
// x-cells' cmd/bot — the teacher's own load-generator shape (flag-driven
// bot count, duration, and rate; a mutex-guarded stats struct;
// signal-driven early stop; a summary printed at the end).
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vrui-vr/nck/internal/client"
	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/telemetry"
)

// botStats is one synthetic client's churn counters.
type botStats struct {
	requestsSent atomic.Int64
	errors       atomic.Int64
}

func main() {
	var (
		url         = flag.String("url", "ws://localhost:8080/ws", "URL of the nckserver websocket endpoint")
		numBots     = flag.Int("bots", 20, "number of synthetic clients")
		duration    = flag.Duration("duration", 30*time.Second, "run duration")
		commandRate = flag.Duration("rate", 50*time.Millisecond, "delay between each bot's requests")
		debug       = flag.Bool("debug", false, "enable human-readable debug logging")
	)
	flag.Parse()

	log := telemetry.NewLogger("nckbench", *debug)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		log.Info().Msg("interrupt received, stopping early")
		cancel()
	}()

	stats := make([]*botStats, *numBots)
	var wg sync.WaitGroup
	for i := 0; i < *numBots; i++ {
		stats[i] = &botStats{}
		wg.Add(1)
		go func(id int, st *botStats) {
			defer wg.Done()
			runSyntheticClient(ctx, id, *url, *commandRate, log, st)
		}(i, stats[i])
	}

	start := time.Now()
	wg.Wait()
	elapsed := time.Since(start)

	var totalSent, totalErrors int64
	for _, st := range stats {
		totalSent += st.requestsSent.Load()
		totalErrors += st.errors.Load()
	}

	fmt.Printf("nckbench: %d bots, %v elapsed, %d requests sent (%.1f req/s), %d errors\n",
		*numBots, elapsed, totalSent, float64(totalSent)/elapsed.Seconds(), totalErrors)
}

// runSyntheticClient dials one client and repeatedly picks a random point,
// nudges it, then releases it, until ctx is cancelled.
func runSyntheticClient(ctx context.Context, id int, url string, rate time.Duration, log zerolog.Logger, stats *botStats) {
	c, err := client.Dial(url, log.With().Int("bot_id", id).Logger())
	if err != nil {
		log.Warn().Err(err).Int("bot_id", id).Msg("failed to connect")
		stats.errors.Add(1)
		return
	}
	defer c.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.Run(runCtx)

	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(int64(id) + time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos := geom.Vector{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
			pickID, err := c.PickPoint(pos, 0.5, geom.IdentityRotation(), false)
			if err != nil {
				stats.errors.Add(1)
				continue
			}
			stats.requestsSent.Add(1)

			if err := c.SetState(pickID, pos, geom.IdentityRotation(), geom.Vector{}, geom.Vector{}); err != nil {
				stats.errors.Add(1)
			} else {
				stats.requestsSent.Add(1)
			}

			if err := c.Release(pickID); err != nil {
				stats.errors.Add(1)
			} else {
				stats.requestsSent.Add(1)
			}
		}
	}
}
