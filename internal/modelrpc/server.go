package modelrpc

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/ai-radar/internal/scoring"
)

// Server exposes a local scoring.Model over gRPC.
type Server struct {
	model  scoring.Model
	logger *zap.Logger
	grpc   *grpc.Server
}

// NewServer registers model on a new grpc server.
func NewServer(model scoring.Model, logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	}, opts...)
	s := &Server{model: model, logger: logger.Named("model_server"), grpc: grpc.NewServer(opts...)}
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Forward implements the Forward RPC.
func (s *Server) Forward(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	input, err := decodeTensor(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := s.model.Forward(ctx, input)
	if err != nil {
		s.logger.Warn("forward pass failed", zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	return encodeOutput(out), nil
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("model server listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop drains in-flight calls and stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
