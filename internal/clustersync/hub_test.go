package clustersync

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/protocol"
)

func dialTestHub(t *testing.T, hub *Hub) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	RegisterServer(gs, hub)
	go gs.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	return conn, func() {
		conn.Close()
		gs.Stop()
	}
}

func TestHubBroadcastReachesSubscribedSlave(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	conn, cleanup := dialTestHub(t, hub)
	defer cleanup()

	slave := &Slave{log: zerolog.Nop(), conn: conn}

	gotParams := make(chan protocol.Parameters, 1)
	slave.OnSetParameters = func(p protocol.Parameters) { gotParams <- p }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- slave.Run(ctx) }()

	// give the Subscribe call a moment to register before broadcasting.
	time.Sleep(50 * time.Millisecond)

	want := protocol.Parameters{LinearDamp: 0.1, AngularDamp: 0.2, Attenuation: 0.9, TimeFactor: 1}
	if err := hub.SetParameters(want); err != nil {
		t.Fatalf("SetParameters: %v", err)
	}

	select {
	case got := <-gotParams:
		if got != want {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHubUpdateSessionDispatchesToOnUpdateSession(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	conn, cleanup := dialTestHub(t, hub)
	defer cleanup()

	slave := &Slave{log: zerolog.Nop(), conn: conn}
	got := make(chan *protocol.SessionUpdateNotification, 1)
	slave.OnUpdateSession = func(n *protocol.SessionUpdateNotification) { got <- n }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go slave.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	domain := geom.Box{Min: geom.Vector{-1, -1, -1}, Max: geom.Vector{1, 1, 1}}
	if err := hub.UpdateSession(7, domain, nil); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	select {
	case n := <-got:
		if n.SessionID != 7 {
			t.Fatalf("expected session id 7, got %d", n.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session update")
	}
}

func TestHubBroadcastDropsForFullSlaveBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.subs[1] = make(chan []byte) // unbuffered, nobody draining it

	if err := hub.SetParameters(protocol.Parameters{}); err != nil {
		t.Fatalf("expected Broadcast to not block or error on a full slave, got %v", err)
	}
}
