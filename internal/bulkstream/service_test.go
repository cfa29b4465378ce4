package bulkstream

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func dialTestServer(t *testing.T, store *Store) (Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	RegisterServer(gs, NewService(store, zerolog.Nop()))
	go gs.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}

	return NewClient(conn), func() {
		conn.Close()
		gs.Stop()
	}
}

func TestPushDeliversBytesToRegisteredSource(t *testing.T) {
	store := NewStore(zerolog.Nop())
	c, cleanup := dialTestServer(t, store)
	defer cleanup()

	streamID := store.NewStreamID()
	source, err := store.OpenSource(streamID)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}

	payload := bytes.Repeat([]byte("simulation-state-bytes"), 5000)

	var got bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(&got, source)
		copyDone <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := PushFile(ctx, c, streamID, bytes.NewReader(payload)); err != nil {
		t.Fatalf("PushFile: %v", err)
	}
	if err := <-copyDone; err != nil {
		t.Fatalf("draining source: %v", err)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("source received %d bytes, want %d matching bytes", got.Len(), len(payload))
	}
}

func TestPullDeliversBytesWrittenToSink(t *testing.T) {
	store := NewStore(zerolog.Nop())
	c, cleanup := dialTestServer(t, store)
	defer cleanup()

	streamID := store.NewStreamID()
	sink, err := store.OpenSink(streamID)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}

	payload := bytes.Repeat([]byte("saved-session-bytes"), 5000)

	go func() {
		sink.Write(payload)
		store.CloseSink(streamID)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	if err := PullFile(ctx, c, streamID, &out); err != nil {
		t.Fatalf("PullFile: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Fatalf("pulled %d bytes, want %d matching bytes", out.Len(), len(payload))
	}
}

func TestCloseSinkWithoutOpenReturnsError(t *testing.T) {
	store := NewStore(zerolog.Nop())
	if err := store.CloseSink(999); err == nil {
		t.Fatal("expected error closing a sink that was never opened")
	}
}

func TestNewStreamIDIsMonotonicAndNonZero(t *testing.T) {
	store := NewStore(zerolog.Nop())
	a := store.NewStreamID()
	b := store.NewStreamID()
	if a == 0 || b == 0 {
		t.Fatal("expected nonzero stream ids")
	}
	if b <= a {
		t.Fatalf("expected increasing stream ids, got %d then %d", a, b)
	}
}
