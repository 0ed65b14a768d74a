package modelrpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/ai-radar/internal/logging"
)

// Client is a scoring.Model served by a remote model process.
type Client struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// Dial returns a ready-to-use model client for addr.
func Dial(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMessageSize), grpc.MaxCallSendMsgSize(maxMessageSize)),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("modelrpc.dial", "", err)
		logger.Error("failed to dial model server", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &Client{conn: conn, logger: logger.Named("model_client")}, nil
}

// Forward implements scoring.Model.
func (c *Client) Forward(ctx context.Context, input []float32) ([]float32, error) {
	resp := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, forwardMethod, encodeTensor(input), resp); err != nil {
		wrapped := logging.NewOperationError("modelrpc.forward", "", err)
		c.logger.Warn("remote forward pass failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return decodeOutput(resp)
}

// Close implements scoring.Model.
func (c *Client) Close() error {
	return c.conn.Close()
}
