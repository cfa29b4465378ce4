// Package bulkstream implements SPEC_FULL §4's "bulk stream facility for
// large blobs": a small gRPC streaming service that moves SaveState and
// LoadState byte payloads off the websocket, which only ever carries the
// 4-byte stream id (protocol.SaveStateReply/LoadStateRequest). Hand-rolled
// against grpc.ServiceDesc/grpc.StreamDesc the way protoc-gen-go-grpc
// would generate it, using google.golang.org/protobuf's wrapperspb
// well-known types as the wire messages so no .proto compilation step is
// needed for this narrow, two-method service.
package bulkstream

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "nck.bulkstream.BulkStream"

// Server is the interface a gRPC server registers against ServiceDesc.
type Server interface {
	// Push receives a client-streamed upload: the first chunk's bytes are
	// exactly a 4-byte big-endian stream id, every subsequent chunk is
	// raw payload for that id. Closes by acking with the stream id.
	Push(Push_PushServer) error
	// Pull streams every chunk previously written to the named stream id
	// back to the caller, in order, then closes.
	Pull(*wrapperspb.UInt32Value, Push_PullServer) error
}

// Push_PushServer is the server-side handle for the Push streaming RPC.
type Push_PushServer interface {
	SendAndClose(*wrapperspb.UInt32Value) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

// Push_PullServer is the server-side handle for the Pull streaming RPC.
type Push_PullServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type pushServer struct{ grpc.ServerStream }

func (x *pushServer) SendAndClose(m *wrapperspb.UInt32Value) error { return x.ServerStream.SendMsg(m) }
func (x *pushServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type pullServer struct{ grpc.ServerStream }

func (x *pullServer) Send(m *wrapperspb.BytesValue) error { return x.ServerStream.SendMsg(m) }

func pushHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(Server).Push(&pushServer{stream})
}

func pullHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wrapperspb.UInt32Value)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(Server).Pull(m, &pullServer{stream})
}

// ServiceDesc is registered against a *grpc.Server via RegisterServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{StreamName: "Push", Handler: pushHandler, ClientStreams: true},
		{StreamName: "Pull", Handler: pullHandler, ServerStreams: true},
	},
	Metadata: "bulkstream.proto",
}

// RegisterServer registers srv against s under ServiceDesc.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is the caller-side stub for the bulk-stream service.
type Client interface {
	Push(ctx context.Context, opts ...grpc.CallOption) (Push_PushClient, error)
	Pull(ctx context.Context, streamID uint32, opts ...grpc.CallOption) (Push_PullClient, error)
}

// Push_PushClient is the caller-side handle for an in-flight Push call.
type Push_PushClient interface {
	Send(*wrapperspb.BytesValue) error
	CloseAndRecv() (*wrapperspb.UInt32Value, error)
	grpc.ClientStream
}

// Push_PullClient is the caller-side handle for an in-flight Pull call.
type Push_PullClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type client struct{ cc grpc.ClientConnInterface }

// NewClient builds a Client bound to an established grpc.ClientConn.
func NewClient(cc grpc.ClientConnInterface) Client { return &client{cc} }

func (c *client) Push(ctx context.Context, opts ...grpc.CallOption) (Push_PushClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+serviceName+"/Push", opts...)
	if err != nil {
		return nil, err
	}
	return &pushClient{stream}, nil
}

func (c *client) Pull(ctx context.Context, streamID uint32, opts ...grpc.CallOption) (Push_PullClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], "/"+serviceName+"/Pull", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.UInt32(streamID)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &pullClient{stream}, nil
}

type pushClient struct{ grpc.ClientStream }

func (x *pushClient) Send(m *wrapperspb.BytesValue) error { return x.ClientStream.SendMsg(m) }
func (x *pushClient) CloseAndRecv() (*wrapperspb.UInt32Value, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(wrapperspb.UInt32Value)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type pullClient struct{ grpc.ClientStream }

func (x *pullClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// chunkSize bounds a single wire chunk; large save files are sent as many
// chunks rather than one giant message.
const chunkSize = 32 * 1024

// copyInChunks writes all of r's bytes to send, splitting into chunkSize
// pieces. Used by both the Push client helper and the Pull server handler.
func copyInChunks(r io.Reader, send func([]byte) error) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if sendErr := send(buf[:n]); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
