package clustersync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vrui-vr/nck/internal/protocol"
)

// Slave mirrors a master's broadcasts: it subscribes once and dispatches
// every decoded notification to whichever callback matches its type.
// Unlike internal/client.Client it never sends requests back — a cluster
// slave is a pure follower (spec §9).
type Slave struct {
	log  zerolog.Logger
	conn *grpc.ClientConn

	OnSetParameters    func(protocol.Parameters)
	OnUpdateSession    func(*protocol.SessionUpdateNotification)
	OnUpdateSimulation func(*protocol.SimulationUpdateNotification)
	OnShutdown         func()
}

// DialSlave connects to a master's cluster-sync address (e.g.
// "host:port", no scheme, since this is a plain gRPC target).
func DialSlave(address string, log zerolog.Logger) (*Slave, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("clustersync: dial %s: %w", address, err)
	}
	return &Slave{log: log, conn: conn}, nil
}

// Close tears down the underlying gRPC connection.
func (s *Slave) Close() error { return s.conn.Close() }

// Run subscribes to the master and dispatches notifications until ctx is
// cancelled or the master closes the stream.
func (s *Slave) Run(ctx context.Context) error {
	stream, err := NewClient(s.conn).Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("clustersync: subscribe: %w", err)
	}
	for {
		chunk, err := stream.Recv()
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(bytes.NewReader(chunk.GetValue()))
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed cluster-sync message")
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Slave) dispatch(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.SetParametersNotification:
		if s.OnSetParameters != nil {
			s.OnSetParameters(m.Parameters)
		}
	case *protocol.SessionUpdateNotification:
		if s.OnUpdateSession != nil {
			s.OnUpdateSession(m)
		}
	case *protocol.SimulationUpdateNotification:
		if s.OnUpdateSimulation != nil {
			s.OnUpdateSimulation(m)
		}
	case *protocol.ClusterShutdownNotification:
		if s.OnShutdown != nil {
			s.OnShutdown()
		}
	}
}
