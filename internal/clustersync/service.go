// Package clustersync implements spec §9's cluster-slave side channel: a
// gRPC service with a single server-streaming RPC a master uses to push SetParameters,
// UpdateSession, UpdateSimulation, and Shutdown notifications down to
// slave processes that mirror its simulation rather than run their own.
// Tunnels internal/protocol's existing wire messages as opaque bytes over
// a gRPC stream, the same way internal/bulkstream tunnels save/load bytes,
// so the two sides of a cluster share one encoding with the websocket
// plugin instead of inventing a second one.
package clustersync

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "nck.clustersync.ClusterSync"

// Server is the interface a gRPC server registers against ServiceDesc.
type Server interface {
	// Subscribe streams every notification the master broadcasts, in
	// order, until the caller disconnects or the master shuts down.
	Subscribe(*emptypb.Empty, ClusterSync_SubscribeServer) error
}

// ClusterSync_SubscribeServer is the server-side handle for Subscribe.
type ClusterSync_SubscribeServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type subscribeServer struct{ grpc.ServerStream }

func (x *subscribeServer) Send(m *wrapperspb.BytesValue) error { return x.ServerStream.SendMsg(m) }

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(Server).Subscribe(m, &subscribeServer{stream})
}

// ServiceDesc is registered against a *grpc.Server via RegisterServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "clustersync.proto",
}

// RegisterServer registers srv against s under ServiceDesc.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is the caller-side stub slaves use to reach a master's Hub.
type Client interface {
	Subscribe(ctx context.Context, opts ...grpc.CallOption) (ClusterSync_SubscribeClient, error)
}

// ClusterSync_SubscribeClient is the caller-side handle for Subscribe.
type ClusterSync_SubscribeClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type client struct{ cc grpc.ClientConnInterface }

// NewClient builds a Client bound to an established grpc.ClientConn.
func NewClient(cc grpc.ClientConnInterface) Client { return &client{cc} }

func (c *client) Subscribe(ctx context.Context, opts ...grpc.CallOption) (ClusterSync_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+serviceName+"/Subscribe", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &subscribeClient{stream}, nil
}

type subscribeClient struct{ grpc.ClientStream }

func (x *subscribeClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
