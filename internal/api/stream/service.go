package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/KevinKickass/OpenMachineMonitor/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName      = "monitor.EventStream"
	subscribeMethod  = "/" + ServiceName + "/Subscribe"
	streamBufferSize = 256
)

var errStreamFull = errors.New("grpc stream buffer full")

// EventStreamServer is the server API of monitor.EventStream.
type EventStreamServer interface {
	Subscribe(*emptypb.Empty, EventStream_SubscribeServer) error
}

type EventStream_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type subscribeServer struct {
	grpc.ServerStream
}

func (s *subscribeServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EventStreamServer).Subscribe(in, &subscribeServer{stream})
}

// ServiceDesc describes monitor.EventStream for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EventStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "monitor/event_stream.proto",
}

func RegisterEventStreamServer(s grpc.ServiceRegistrar, srv EventStreamServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Service forwards bus events to gRPC subscribers.
type Service struct {
	bus    *events.Bus
	logger *zap.Logger
}

func NewService(bus *events.Bus, logger *zap.Logger) *Service {
	return &Service{bus: bus, logger: logger}
}

func (s *Service) Subscribe(_ *emptypb.Empty, stream EventStream_SubscribeServer) error {
	sub := newSubscriber(streamBufferSize)
	if err := s.bus.Subscribe(sub); err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer s.bus.Unsubscribe(sub.ID())

	ctx := stream.Context()
	for {
		select {
		case e, ok := <-sub.ch:
			if !ok {
				// removed by the bus: slow consumer or shutdown
				return status.Error(codes.Unavailable, "event stream closed")
			}
			msg, err := EventToStruct(e)
			if err != nil {
				s.logger.Error("Failed to convert event", zap.String("event", string(e.Kind)), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// EventToStruct renders e as the same JSON envelope the websocket sends.
func EventToStruct(e events.Event) (*structpb.Struct, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

type subscriber struct {
	id string
	ch chan events.Event

	mu     sync.Mutex
	closed bool
}

func newSubscriber(buffer int) *subscriber {
	return &subscriber{id: "grpc-" + uuid.NewString(), ch: make(chan events.Event, buffer)}
}

func (s *subscriber) ID() string { return s.id }

func (s *subscriber) Deliver(e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return events.ErrBusClosed
	}
	select {
	case s.ch <- e:
		return nil
	default:
		return errStreamFull
	}
}

func (s *subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Client side

// SubscribeClient receives events from a monitor.EventStream server.
type SubscribeClient struct {
	stream grpc.ClientStream
}

// Subscribe opens the event stream on conn.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, opts ...grpc.CallOption) (*SubscribeClient, error) {
	cs, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], subscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &SubscribeClient{stream: cs}, nil
}

func (c *SubscribeClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := c.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
