package scoring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// LinearFormat identifies the packaged linear model artifact.
const LinearFormat = "airadar-linear/v1"

// LinearModel average-pools the input into a Grid x Grid x 3 feature vector,
// applies one dense layer and a softmax. It is the packaged demo model; real
// deployments point the engine at a remote model instead.
type LinearModel struct {
	Format  string    `msgpack:"format"`
	Input   int       `msgpack:"input"`
	Grid    int       `msgpack:"grid"`
	Classes int       `msgpack:"classes"`
	Weights []float32 `msgpack:"weights"`
	Bias    []float32 `msgpack:"bias"`
}

// Validate checks the artifact against the engine's fixed shapes.
func (m *LinearModel) Validate() error {
	if m.Format != LinearFormat {
		return fmt.Errorf("unknown model format %q", m.Format)
	}
	if m.Input != InputSize {
		return fmt.Errorf("model input %d, want %d", m.Input, InputSize)
	}
	if m.Classes != OutputLength {
		return fmt.Errorf("model classes %d, want %d", m.Classes, OutputLength)
	}
	if m.Grid <= 0 || InputSize%m.Grid != 0 {
		return fmt.Errorf("grid %d must divide %d", m.Grid, InputSize)
	}
	features := m.Grid * m.Grid * InputChannels
	if len(m.Weights) != features*m.Classes {
		return fmt.Errorf("weights length %d, want %d", len(m.Weights), features*m.Classes)
	}
	if len(m.Bias) != m.Classes {
		return fmt.Errorf("bias length %d, want %d", len(m.Bias), m.Classes)
	}
	return nil
}

// Forward implements Model. It allocates per call and never mutates m.
func (m *LinearModel) Forward(ctx context.Context, input []float32) ([]float32, error) {
	if len(input) != InputSize*InputSize*InputChannels {
		return nil, fmt.Errorf("input length %d, want %d", len(input), InputSize*InputSize*InputChannels)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := m.pool(input)
	logits := make([]float64, m.Classes)
	maxLogit := math.Inf(-1)
	for c := 0; c < m.Classes; c++ {
		row := m.Weights[c*len(features) : (c+1)*len(features)]
		sum := float64(m.Bias[c])
		for i, f := range features {
			sum += float64(row[i]) * f
		}
		logits[c] = sum
		if sum > maxLogit {
			maxLogit = sum
		}
	}

	var total float64
	for c := range logits {
		logits[c] = math.Exp(logits[c] - maxLogit)
		total += logits[c]
	}
	out := make([]float32, m.Classes)
	for c := range logits {
		out[c] = float32(logits[c] / total)
	}
	return out, nil
}

func (m *LinearModel) pool(input []float32) []float64 {
	cell := InputSize / m.Grid
	features := make([]float64, m.Grid*m.Grid*InputChannels)
	for y := 0; y < InputSize; y++ {
		gy := y / cell
		for x := 0; x < InputSize; x++ {
			gx := x / cell
			base := (y*InputSize + x) * InputChannels
			fbase := (gy*m.Grid + gx) * InputChannels
			for ch := 0; ch < InputChannels; ch++ {
				features[fbase+ch] += float64(input[base+ch])
			}
		}
	}
	norm := float64(cell*cell) * 255
	for i := range features {
		features[i] /= norm
	}
	return features
}

// Close implements Model.
func (m *LinearModel) Close() error { return nil }

// SynthesizeLinear builds a deterministic demo model from seed.
func SynthesizeLinear(seed int64, grid int) *LinearModel {
	r := rand.New(rand.NewSource(seed))
	features := grid * grid * InputChannels
	m := &LinearModel{
		Format:  LinearFormat,
		Input:   InputSize,
		Grid:    grid,
		Classes: OutputLength,
		Weights: make([]float32, features*OutputLength),
		Bias:    make([]float32, OutputLength),
	}
	for i := range m.Weights {
		m.Weights[i] = float32(r.NormFloat64())
	}
	for i := range m.Bias {
		m.Bias[i] = float32(r.NormFloat64() * 0.1)
	}
	return m
}

// WriteArtifact encodes m in the packaged artifact format.
func WriteArtifact(w io.Writer, m *LinearModel) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return msgpack.NewEncoder(w).Encode(m)
}

// ReadArtifact decodes and validates a packaged artifact.
func ReadArtifact(r io.Reader) (*LinearModel, error) {
	var m LinearModel
	if err := msgpack.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact: %w", err)
	}
	return &m, nil
}

// LoadArtifact reads the packaged artifact at path.
func LoadArtifact(path string) (*LinearModel, error) {
	if path == "" {
		return nil, errors.New("model artifact path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model artifact: %w", err)
	}
	defer f.Close()
	return ReadArtifact(f)
}
