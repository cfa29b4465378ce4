// Command nckserver runs the engine, the websocket-facing server plugin,
// and the bulk-stream/cluster-sync gRPC services against one configuration
// document. Flag handling and signal-driven shutdown are grounded on
// x-cells' cmd/bot, the one teacher entry point that already does both.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/vrui-vr/nck/internal/bulkstream"
	"github.com/vrui-vr/nck/internal/clustersync"
	"github.com/vrui-vr/nck/internal/config"
	"github.com/vrui-vr/nck/internal/server"
	"github.com/vrui-vr/nck/internal/sim"
	"github.com/vrui-vr/nck/internal/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "nck.toml", "path to the settings document")
		listenAddr = flag.String("listen", ":8080", "address the websocket/HTTP server listens on")
		grpcAddr   = flag.String("grpc", ":8081", "address the bulk-stream/cluster-sync gRPC server listens on")
		tickRate   = flag.Int("tick-rate", 100, "simulation ticks per second")
		queueCap   = flag.Int("queue-capacity", 4096, "request queue capacity")
		debug      = flag.Bool("debug", false, "enable human-readable debug logging")
	)
	flag.Parse()

	log := telemetry.NewLogger("nckserver", *debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	session, err := cfg.Session()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build startup session")
	}
	state, err := sim.NewState(session)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build simulation state")
	}

	engine := sim.NewEngine(state, *queueCap, *tickRate, log.With().Str("component", "engine").Logger())
	engine.Pause() // resumed once the first client connects

	store := bulkstream.NewStore(log.With().Str("component", "bulkstream").Logger())
	hub := clustersync.NewHub(log.With().Str("component", "clustersync").Logger())

	unitTypes := server.UnitTypesWireFromRegistry(session.UnitTypes)
	srv := server.New(engine, store, unitTypes, log.With().Str("component", "server").Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)
	go srv.RunBroadcast(ctx)
	go srv.RunAdminLoop(os.Stdin)
	go runGRPC(ctx, *grpcAddr, store, hub, log.With().Str("component", "grpc").Logger())

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	httpSrv := &http.Server{Addr: *listenAddr, Handler: mux}

	go func() {
		log.Info().Str("addr", *listenAddr).Msg("listening for websocket connections")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	log.Info().Msg("shutting down")
	cancel()
	engine.Stop()
	_ = httpSrv.Shutdown(context.Background())
}

// runGRPC serves the bulk-stream and cluster-sync services on one gRPC
// server until ctx is cancelled.
func runGRPC(ctx context.Context, addr string, store *bulkstream.Store, hub *clustersync.Hub, log zerolog.Logger) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("failed to listen for gRPC")
	}
	gs := grpc.NewServer()
	bulkstream.RegisterServer(gs, bulkstream.NewService(store, log))
	clustersync.RegisterServer(gs, hub)

	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()

	log.Info().Str("addr", addr).Msg("listening for gRPC connections")
	if err := gs.Serve(lis); err != nil {
		log.Error().Err(err).Msg("grpc server stopped")
	}
}
