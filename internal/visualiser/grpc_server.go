package visualiser

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/arplace/internal/session"
)

const (
	serviceName      = "arplace.v1.PlacementEvents"
	streamMethodName = "/" + serviceName + "/Stream"
)

// EventStreamServer is the server API for the PlacementEvents service.
//
// The request may carry a "kinds" list of event kinds to receive; an empty
// or missing list subscribes to every kind.
type EventStreamServer interface {
	Stream(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// Ensure Server implements the gRPC interface.
var _ EventStreamServer = (*Server)(nil)

// EventStreamServiceDesc describes the PlacementEvents service. It is
// written out by hand because the messages are well-known types.
var EventStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EventStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "arplace/v1/events.proto",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(EventStreamServer).Stream(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// RegisterEventStreamServer registers srv on s.
func RegisterEventStreamServer(s grpc.ServiceRegistrar, srv EventStreamServer) {
	s.RegisterService(&EventStreamServiceDesc, srv)
}

// Server implements the PlacementEvents service on top of a Publisher.
type Server struct {
	publisher *Publisher
}

// NewServer creates a new gRPC server.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// Stream sends events until the client goes away or the publisher stops.
func (s *Server) Stream(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	kinds, err := requestedKinds(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	c, err := s.publisher.addClient(kinds)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.events:
			if !ok {
				return nil
			}
			if err := stream.Send(msg); err != nil {
				log.Printf("[gRPC] Send error: %v", err)
				return err
			}
		}
	}
}

func requestedKinds(req *structpb.Struct) (map[session.EventKind]bool, error) {
	v, ok := req.GetFields()["kinds"]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, errors.New("kinds must be a list of strings")
	}
	if len(list.GetValues()) == 0 {
		return nil, nil
	}
	kinds := make(map[session.EventKind]bool, len(list.GetValues()))
	for _, item := range list.GetValues() {
		sv, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, errors.New("kinds must be a list of strings")
		}
		kinds[session.EventKind(sv.StringValue)] = true
	}
	return kinds, nil
}

// EventStreamClient is the client API for the PlacementEvents service.
type EventStreamClient struct {
	cc grpc.ClientConnInterface
}

// NewEventStreamClient wraps an established connection.
func NewEventStreamClient(cc grpc.ClientConnInterface) *EventStreamClient {
	return &EventStreamClient{cc: cc}
}

// Stream opens an event stream restricted to kinds (all kinds when empty).
func (c *EventStreamClient) Stream(ctx context.Context, kinds []session.EventKind, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if len(kinds) > 0 {
		vals := make([]*structpb.Value, 0, len(kinds))
		for _, k := range kinds {
			vals = append(vals, structpb.NewStringValue(string(k)))
		}
		req.Fields["kinds"] = structpb.NewListValue(&structpb.ListValue{Values: vals})
	}

	stream, err := c.cc.NewStream(ctx, &EventStreamServiceDesc.Streams[0], streamMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
