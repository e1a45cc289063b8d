package scope

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultOutBufferSize = 10
	defaultInBufferSize  = 100

	getFramesMethod = "/scope.Scope/GetFrames"
)

// frameServer is the handler type of the scope service.
type frameServer interface {
	GetFrames(*emptypb.Empty, grpc.ServerStream) error
}

var scopeServiceDesc = grpc.ServiceDesc{
	ServiceName: "scope.Scope",
	HandlerType: (*frameServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "GetFrames",
			Handler:       getFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "scope.proto",
}

func getFramesHandler(srv any, stream grpc.ServerStream) error {
	request := new(emptypb.Empty)
	if err := stream.RecvMsg(request); err != nil {
		return err
	}
	return srv.(frameServer).GetFrames(request, stream)
}

type grpcServer struct {
	listener net.Listener

	serverLock sync.Mutex
	server     *grpc.Server

	outBufferSize int
	in            chan *structpb.Struct
	register      chan chan *structpb.Struct
	out           []chan *structpb.Struct
	streams       atomic.Int32
	shutdown      chan struct{}
}

func newGRPCServer(address string, outBufferSize int) (*grpcServer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on address %s: %w", address, err)
	}

	return &grpcServer{
		listener:      listener,
		outBufferSize: outBufferSize,
		in:            make(chan *structpb.Struct, defaultInBufferSize),
		register:      make(chan chan *structpb.Struct),
		shutdown:      make(chan struct{}),
	}, nil
}

func (s *grpcServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *grpcServer) run() {
	for {
		select {
		case <-s.shutdown:
			for _, out := range s.out {
				close(out)
			}
			s.out = nil
			s.streams.Store(0)
			return
		case out := <-s.register:
			s.addStream(out)
		case frame := <-s.in:
			s.sendFrameToStreams(frame)
		}
	}
}

func (s *grpcServer) addStream(out chan *structpb.Struct) {
	s.out = append(s.out, out)
	s.streams.Store(int32(len(s.out)))
}

func (s *grpcServer) removeStream(i int) {
	s.out[i] = s.out[len(s.out)-1]
	s.out = s.out[:len(s.out)-1]
	s.streams.Store(int32(len(s.out)))
}

func (s *grpcServer) sendFrameToStreams(frame *structpb.Struct) {
	for i := len(s.out) - 1; i >= 0; i-- {
		select {
		case s.out[i] <- frame:
		default:
			close(s.out[i])
			s.removeStream(i)
		}
	}
}

func (s *grpcServer) getFrameStream() chan *structpb.Struct {
	result := make(chan *structpb.Struct, s.outBufferSize)
	select {
	case s.register <- result:
	case <-s.shutdown:
		close(result)
	}
	return result
}

// HasStreams indicates if at least one client receives frames.
func (s *grpcServer) HasStreams() bool {
	return s.streams.Load() > 0
}

func (s *grpcServer) Start() error {
	s.serverLock.Lock()
	if s.server != nil {
		s.serverLock.Unlock()
		return fmt.Errorf("server already running")
	}
	s.server = grpc.NewServer()
	s.server.RegisterService(&scopeServiceDesc, s)
	server := s.server
	s.serverLock.Unlock()

	go s.run()

	err := server.Serve(s.listener)
	close(s.shutdown)
	return err
}

func (s *grpcServer) Stop() {
	s.serverLock.Lock()
	defer s.serverLock.Unlock()

	if s.server == nil {
		s.listener.Close()
		return
	}
	s.server.Stop()
	s.server = nil
}

func (s *grpcServer) GetFrames(_ *emptypb.Empty, stream grpc.ServerStream) error {
	frames := s.getFrameStream()
	for {
		select {
		case frame, open := <-frames:
			if !open {
				return nil
			}
			if err := stream.SendMsg(frame); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// SendFrame never blocks, frames are dropped if the server cannot keep up.
func (s *grpcServer) SendFrame(frame *structpb.Struct) {
	select {
	case s.in <- frame:
	default:
	}
}
