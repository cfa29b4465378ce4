package bulkstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vrui-vr/nck/internal/sim"
)

// Store is the in-process half of the bulk-stream facility: it hands the
// simulation engine an io.Writer/io.Reader pair per stream id, and hands
// the gRPC Push/Pull handlers the other end of the same pipe. It satisfies
// server.BulkStore without internal/server importing this package.
type Store struct {
	log zerolog.Logger

	nextID atomic.Uint32

	mu       sync.Mutex
	outbound map[uint32]*io.PipeReader // read end of an OpenSink pipe, drained by Pull
	sinks    map[uint32]*io.PipeWriter // write end of the same pipe, closed by CloseSink
	inbound  map[uint32]*io.PipeWriter // fed by Push, drained by OpenSource's reader
}

// NewStore builds an empty Store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		log:      log,
		outbound: make(map[uint32]*io.PipeReader),
		sinks:    make(map[uint32]*io.PipeWriter),
		inbound:  make(map[uint32]*io.PipeWriter),
	}
}

// NewStreamID returns a fresh, process-unique stream id.
func (s *Store) NewStreamID() uint32 {
	return s.nextID.Add(1)
}

// OpenSink registers streamID as an outbound stream and returns the
// sim.Sink the engine writes the save payload into. The paired reader is
// handed to whichever Pull call later names this streamID.
func (s *Store) OpenSink(streamID uint32) (sim.Sink, error) {
	pr, pw := io.Pipe()
	s.mu.Lock()
	s.outbound[streamID] = pr
	s.sinks[streamID] = pw
	s.mu.Unlock()
	return pw, nil
}

// CloseSink signals that no more bytes will be written to streamID's sink,
// so a Pull reading it observes io.EOF once the buffered bytes are drained.
// Must be called once the SaveState request that opened streamID finishes.
func (s *Store) CloseSink(streamID uint32) error {
	s.mu.Lock()
	pw, ok := s.sinks[streamID]
	delete(s.sinks, streamID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("bulkstream: no outbound stream %d", streamID)
	}
	return pw.Close()
}

// OpenSource registers streamID as an inbound stream and returns the
// sim.Source the engine reads the load payload from. The paired writer is
// filled in by whichever Push call later names this streamID.
func (s *Store) OpenSource(streamID uint32) (sim.Source, error) {
	pr, pw := io.Pipe()
	s.mu.Lock()
	s.inbound[streamID] = pw
	s.mu.Unlock()
	return pr, nil
}

func (s *Store) takeOutbound(streamID uint32) (*io.PipeReader, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.outbound[streamID]
	if ok {
		delete(s.outbound, streamID)
	}
	return pr, ok
}

func (s *Store) takeInbound(streamID uint32) (*io.PipeWriter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pw, ok := s.inbound[streamID]
	if ok {
		delete(s.inbound, streamID)
	}
	return pw, ok
}

// Service adapts a *Store to the bulkstream.Server gRPC interface: Push
// writes an uploaded byte stream into the matching inbound pipe, Pull
// drains an outbound pipe back out to the caller.
type Service struct {
	store *Store
	log   zerolog.Logger
}

// NewService builds a Service backed by store.
func NewService(store *Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

func (svc *Service) Push(stream Push_PushServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if len(first.GetValue()) != 4 {
		return fmt.Errorf("bulkstream: first Push chunk must be a 4-byte stream id, got %d bytes", len(first.GetValue()))
	}
	streamID := binary.BigEndian.Uint32(first.Value)

	pw, ok := svc.store.takeInbound(streamID)
	if !ok {
		return fmt.Errorf("bulkstream: no registered inbound stream %d", streamID)
	}

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			pw.CloseWithError(err)
			return err
		}
		if _, err := pw.Write(chunk.GetValue()); err != nil {
			return err
		}
	}
	if err := pw.Close(); err != nil {
		return err
	}
	svc.log.Debug().Uint32("stream_id", streamID).Msg("bulk push complete")
	return stream.SendAndClose(wrapperspb.UInt32(streamID))
}

func (svc *Service) Pull(req *wrapperspb.UInt32Value, stream Push_PullServer) error {
	streamID := req.GetValue()
	pr, ok := svc.store.takeOutbound(streamID)
	if !ok {
		return fmt.Errorf("bulkstream: no registered outbound stream %d", streamID)
	}
	defer pr.Close()

	err := copyInChunks(pr, func(b []byte) error {
		cp := make([]byte, len(b))
		copy(cp, b)
		return stream.Send(&wrapperspb.BytesValue{Value: cp})
	})
	if err != nil {
		return err
	}
	svc.log.Debug().Uint32("stream_id", streamID).Msg("bulk pull complete")
	return nil
}
