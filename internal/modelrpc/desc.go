// Package modelrpc runs a scoring model behind gRPC. Messages are protobuf
// well-known types so no generated stubs are needed: the request tensor is a
// BytesValue of little-endian float32s, the response a ListValue of numbers.
package modelrpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName    = "airadar.model.v1.Model"
	forwardMethod  = "/" + serviceName + "/Forward"
	maxMessageSize = 8 << 20
)

// forwardServer is the server-side contract registered with grpc.
type forwardServer interface {
	Forward(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.ListValue, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*forwardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Forward", Handler: forwardHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "airadar/model/v1/model.proto",
}

func forwardHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(forwardServer).Forward(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: forwardMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(forwardServer).Forward(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func encodeTensor(values []float32) *wrapperspb.BytesValue {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return wrapperspb.Bytes(buf)
}

func decodeTensor(msg *wrapperspb.BytesValue) ([]float32, error) {
	raw := msg.GetValue()
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("tensor payload of %d bytes is not float32 aligned", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func encodeOutput(values []float32) *structpb.ListValue {
	list := &structpb.ListValue{Values: make([]*structpb.Value, len(values))}
	for i, v := range values {
		list.Values[i] = structpb.NewNumberValue(float64(v))
	}
	return list
}

func decodeOutput(list *structpb.ListValue) ([]float32, error) {
	out := make([]float32, len(list.GetValues()))
	for i, v := range list.GetValues() {
		num, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, errors.New("model output contains a non-numeric value")
		}
		out[i] = float32(num.NumberValue)
	}
	return out, nil
}
