package client

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/vrui-vr/nck/internal/geom"
	"github.com/vrui-vr/nck/internal/protocol"
)

func newTestClient() *Client {
	return &Client{
		log:         zerolog.Nop(),
		buffer:      newTripleBuffer(),
		nextPick:    1,
		saveReplies: make(chan uint32, 4),
	}
}

func TestAllocatePickIDSkipsZeroOnWraparound(t *testing.T) {
	c := newTestClient()
	c.nextPick = 0xFFFF
	first := c.AllocatePickID()
	second := c.AllocatePickID()
	if first == 0 || second == 0 {
		t.Fatalf("expected pick ids to skip zero, got %d then %d", first, second)
	}
}

func TestHandleSessionInvalidClearsSessionSet(t *testing.T) {
	c := newTestClient()
	c.sessionSet = true

	c.handle(&protocol.SessionInvalidNotification{})

	if _, ok := c.SessionID(); ok {
		t.Fatal("expected session to be marked unset after SessionInvalidNotification")
	}
}

func TestHandleSessionUpdateFiresCallbackAndUpdatesFields(t *testing.T) {
	c := newTestClient()
	var got SessionInfo
	fired := false
	c.OnSessionChanged = func(info SessionInfo) {
		fired = true
		got = info
	}

	domain := geom.Box{Min: geom.Vector{-1, -1, -1}, Max: geom.Vector{1, 1, 1}}
	c.handle(&protocol.SessionUpdateNotification{SessionID: 5, Domain: domain, UnitTypes: nil})

	if !fired {
		t.Fatal("expected OnSessionChanged to fire")
	}
	if got.SessionID != 5 {
		t.Fatalf("expected callback session id 5, got %d", got.SessionID)
	}
	id, ok := c.SessionID()
	if !ok || id != 5 {
		t.Fatalf("expected SessionID() to report (5, true), got (%d, %v)", id, ok)
	}
}

func TestHandleSimulationUpdatePublishesToBuffer(t *testing.T) {
	c := newTestClient()
	c.handle(&protocol.SessionUpdateNotification{SessionID: 3})

	c.handle(&protocol.SimulationUpdateNotification{
		TimeStamp: 42,
		Units: []protocol.ReducedUnitWire{
			{UnitType: 1, Position: geom.Vector{1, 2, 3}, Orientation: geom.IdentityRotation()},
		},
	})

	snap := c.Latest()
	if snap.TimeStamp != 42 {
		t.Fatalf("expected timestamp 42, got %d", snap.TimeStamp)
	}
	if snap.SessionID != 3 {
		t.Fatalf("expected session id 3 propagated into snapshot, got %d", snap.SessionID)
	}
	if len(snap.Units) != 1 || snap.Units[0].Position != (geom.Vector{1, 2, 3}) {
		t.Fatalf("unexpected units in published snapshot: %+v", snap.Units)
	}
}

func TestHandleSetParametersUpdatesStoredParameters(t *testing.T) {
	c := newTestClient()
	want := protocol.Parameters{LinearDamp: 0.2, AngularDamp: 0.3, Attenuation: 0.9, TimeFactor: 2}

	c.handle(&protocol.SetParametersNotification{Parameters: want})

	if got := c.Parameters(); got != want {
		t.Fatalf("expected parameters %+v, got %+v", want, got)
	}
}

func TestTripleBufferPublishThenLatestRoundTrips(t *testing.T) {
	tb := newTripleBuffer()
	tb.publish(Snapshot{SessionID: 1, TimeStamp: 10})
	tb.publish(Snapshot{SessionID: 1, TimeStamp: 11})

	if got := tb.Latest().TimeStamp; got != 11 {
		t.Fatalf("expected latest timestamp 11, got %d", got)
	}
}
