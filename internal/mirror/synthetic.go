package mirror

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/example/ai-radar/internal/frame"
)

// SyntheticOptions configure the synthetic backend.
type SyntheticOptions struct {
	Metrics Metrics
	// Source, when set, is scaled into every frame; otherwise a pattern is drawn.
	Source image.Image
	// FirstFrameDelay models compositor latency before the first frame exists.
	FirstFrameDelay time.Duration
	// FrameInterval is the cadence of subsequent frames.
	FrameInterval time.Duration
	// RowAlignment pads row strides to a multiple of this many bytes.
	RowAlignment int
}

// Synthetic is a Backend that renders frames in-process. It stands in for a
// platform compositor and reproduces its latency and row alignment.
type Synthetic struct {
	opts SyntheticOptions
}

// NewSynthetic validates opts and returns a backend.
func NewSynthetic(opts SyntheticOptions) (*Synthetic, error) {
	if opts.Metrics.Width <= 0 || opts.Metrics.Height <= 0 {
		return nil, errors.New("display metrics must be positive")
	}
	if opts.Metrics.Density <= 0 {
		opts.Metrics.Density = 160
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 16 * time.Millisecond
	}
	if opts.RowAlignment < 0 {
		return nil, errors.New("row alignment must not be negative")
	}
	return &Synthetic{opts: opts}, nil
}

// Metrics implements Backend.
func (s *Synthetic) Metrics() Metrics {
	return s.opts.Metrics
}

// CreateOutput implements Backend.
func (s *Synthetic) CreateOutput(name string, width, height, density int, sink *Sink) (Output, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("virtual display %q: invalid size %dx%d", name, width, height)
	}
	if density <= 0 {
		return nil, fmt.Errorf("virtual display %q: invalid density %d", name, density)
	}
	if sink == nil {
		return nil, fmt.Errorf("virtual display %q: nil surface", name)
	}
	out := &syntheticOutput{stop: make(chan struct{}), done: make(chan struct{})}
	go out.run(s.opts, width, height, sink)
	return out, nil
}

type syntheticOutput struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (o *syntheticOutput) Release() error {
	o.once.Do(func() { close(o.stop) })
	<-o.done
	return nil
}

func (o *syntheticOutput) run(opts SyntheticOptions, width, height int, sink *Sink) {
	defer close(o.done)

	first := time.NewTimer(opts.FirstFrameDelay)
	defer first.Stop()
	select {
	case <-o.stop:
		return
	case <-first.C:
	}

	ticker := time.NewTicker(opts.FrameInterval)
	defer ticker.Stop()
	n := 0
	for {
		if !sink.Push(Render(opts.Source, width, height, opts.RowAlignment, n), time.Now()) {
			return
		}
		n++
		select {
		case <-o.stop:
			return
		case <-ticker.C:
		}
	}
}

// Render lays out one RGBA frame of width x height as a sink plane with rows
// padded to alignment bytes. n varies the generated pattern between frames.
func Render(src image.Image, width, height, alignment, n int) frame.Plane {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if src != nil {
		draw.BiLinear.Scale(img, img.Bounds(), src, src.Bounds(), draw.Src, nil)
	} else {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetRGBA(x, y, color.RGBA{R: uint8(x + n), G: uint8(y), B: uint8((x + y) / 2), A: 255})
			}
		}
	}

	rowStride := width * frame.BytesPerPixel
	if alignment > 0 && rowStride%alignment != 0 {
		rowStride += alignment - rowStride%alignment
	}
	data := make([]byte, rowStride*height)
	for y := 0; y < height; y++ {
		copy(data[y*rowStride:], img.Pix[y*img.Stride:y*img.Stride+width*frame.BytesPerPixel])
	}
	return frame.Plane{Data: data, PixelStride: frame.BytesPerPixel, RowStride: rowStride}
}
