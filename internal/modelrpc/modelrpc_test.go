package modelrpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/ai-radar/internal/frame"
	"github.com/example/ai-radar/internal/scoring"
)

type fixedModel struct {
	peak float32
	err  error
}

func (m fixedModel) Forward(ctx context.Context, input []float32) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(input) != scoring.InputSize*scoring.InputSize*scoring.InputChannels {
		return nil, errors.New("unexpected input shape")
	}
	out := make([]float32, scoring.OutputLength)
	out[3] = m.peak
	return out, nil
}

func (fixedModel) Close() error { return nil }

func startServer(t *testing.T, model scoring.Model) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(model, zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	client, err := Dial(context.Background(), "bufnet", 2*time.Second, zap.NewNop(), dialer)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRemoteModelScoresThroughEngine(t *testing.T) {
	client := startServer(t, fixedModel{peak: 0.5})
	engine := scoring.NewEngine(client, nil, zap.NewNop())

	buf := &frame.Buffer{Width: 4, Height: 4, Stride: 16, Pix: make([]byte, 64)}
	if got := engine.Score(context.Background(), buf); got != 50 {
		t.Fatalf("expected score 50, got %d", got)
	}
}

func TestRemoteModelErrorSurfaces(t *testing.T) {
	client := startServer(t, fixedModel{err: errors.New("tensor rejected")})

	input := make([]float32, scoring.InputSize*scoring.InputSize*scoring.InputChannels)
	if _, err := client.Forward(context.Background(), input); err == nil {
		t.Fatal("expected remote error")
	}
}

func TestTensorCodecRoundTrip(t *testing.T) {
	values := []float32{0, 1.5, -2, 255}
	got, err := decodeTensor(encodeTensor(values))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Fatalf("value %d: got %v want %v", i, got[i], values[i])
		}
	}
}
