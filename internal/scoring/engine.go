// Package scoring maps a captured frame to an integer confidence score.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/example/ai-radar/internal/frame"
)

const (
	// InputSize is the model's fixed square input resolution.
	InputSize = 224
	// InputChannels is the number of color channels fed to the model (RGB).
	InputChannels = 3
	// OutputLength is the fixed length of the model's output vector.
	OutputLength = 1000
)

// Score is a percentage in [0,100]. Unavailable doubles as the fault value.
type Score int

// Unavailable is reported when no model is loaded or scoring faulted.
const Unavailable Score = 0

// ErrModelUnavailable is reported when the engine has no model to run.
var ErrModelUnavailable = errors.New("scoring: model unavailable")

// Model is one forward pass over a flattened InputSize x InputSize x 3 tensor.
// Implementations must be safe for concurrent use.
type Model interface {
	Forward(ctx context.Context, input []float32) ([]float32, error)
	Close() error
}

// Engine wraps the model loaded once at process start.
type Engine struct {
	model   Model
	loadErr error
	logger  *zap.Logger
}

// NewEngine wraps model. A non-nil loadErr (or nil model) is logged once and
// turns every later Score into Unavailable; the load is never retried.
func NewEngine(model Model, loadErr error, logger *zap.Logger) *Engine {
	logger = logger.Named("scoring_engine")
	if loadErr == nil && model == nil {
		loadErr = ErrModelUnavailable
	}
	if loadErr != nil {
		logger.Error("scoring model failed to load", zap.Error(loadErr))
		model = nil
	}
	return &Engine{model: model, loadErr: loadErr, logger: logger}
}

// Available reports whether a model is loaded.
func (e *Engine) Available() bool {
	return e.model != nil
}

// LoadErr returns the startup load failure, if any.
func (e *Engine) LoadErr() error {
	return e.loadErr
}

// Score rescales buf to the model input, runs one forward pass and reduces the
// output to a percentage. Faults never escape; they yield Unavailable.
func (e *Engine) Score(ctx context.Context, buf *frame.Buffer) (score Score) {
	if e.model == nil {
		return Unavailable
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("scoring panicked", zap.Any("panic", r))
			score = Unavailable
		}
	}()

	score, err := e.score(ctx, buf)
	if err != nil {
		e.logger.Warn("scoring failed", zap.Error(err))
		return Unavailable
	}
	return score
}

func (e *Engine) score(ctx context.Context, buf *frame.Buffer) (Score, error) {
	if buf == nil || buf.Width <= 0 || buf.Height <= 0 {
		return Unavailable, errors.New("empty frame buffer")
	}
	input := Tensor(buf.Image(), InputSize)
	out, err := e.model.Forward(ctx, input)
	if err != nil {
		return Unavailable, fmt.Errorf("forward pass: %w", err)
	}
	if len(out) != OutputLength {
		return Unavailable, fmt.Errorf("output length %d, want %d", len(out), OutputLength)
	}
	return Reduce(out), nil
}

// Close releases the model.
func (e *Engine) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}

// Reduce takes the maximum element, scales it to a percentage and truncates.
// NaNs are ignored; the result is clamped to [0,100].
func Reduce(out []float32) Score {
	best := float32(math.Inf(-1))
	for _, v := range out {
		if v != v {
			continue
		}
		if v > best {
			best = v
		}
	}
	if math.IsInf(float64(best), -1) {
		return Unavailable
	}
	pct := float32(best * 100)
	switch {
	case pct <= 0:
		return 0
	case pct >= 100:
		return 100
	}
	return Score(int(pct))
}
