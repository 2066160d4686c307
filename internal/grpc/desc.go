package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "heatsurface.v1.SurfaceStream"

const (
	streamFramesMethod = "/" + ServiceName + "/StreamFrames"
	sendCommandsMethod = "/" + ServiceName + "/SendCommands"
)

// SurfaceStreamServer is the server API of the SurfaceStream service. Messages
// are protobuf well-known types: frames travel as BytesValue, commands and
// acknowledgements as Struct.
type SurfaceStreamServer interface {
	StreamFrames(*emptypb.Empty, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	SendCommands(grpc.ClientStreamingServer[structpb.Struct, structpb.Struct]) error
}

// ServiceDesc describes SurfaceStream for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SurfaceStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "SendCommands",
			Handler:       sendCommandsHandler,
			ClientStreams: true,
		},
	},
	Metadata: "heatsurface/v1/surface.proto",
}

// Register attaches srv to server.
func Register(server grpc.ServiceRegistrar, srv SurfaceStreamServer) {
	server.RegisterService(&ServiceDesc, srv)
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SurfaceStreamServer).StreamFrames(req, &grpc.GenericServerStream[emptypb.Empty, wrapperspb.BytesValue]{ServerStream: stream})
}

func sendCommandsHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SurfaceStreamServer).SendCommands(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// SurfaceStreamClient is the client API of the SurfaceStream service.
type SurfaceStreamClient struct {
	cc grpc.ClientConnInterface
}

// NewSurfaceStreamClient wraps a client connection.
func NewSurfaceStreamClient(cc grpc.ClientConnInterface) *SurfaceStreamClient {
	return &SurfaceStreamClient{cc: cc}
}

// StreamFrames opens the frame stream.
func (c *SurfaceStreamClient) StreamFrames(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], streamFramesMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// SendCommands opens the command stream.
func (c *SurfaceStreamClient) SendCommands(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[structpb.Struct, structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], sendCommandsMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}
