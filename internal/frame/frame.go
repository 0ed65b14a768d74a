// Package frame turns raw sink planes into owned pixel buffers.
package frame

import (
	"errors"
	"fmt"
	"image"
)

// BytesPerPixel is the pixel stride of the RGBA_8888 sinks used for mirroring.
const BytesPerPixel = 4

var (
	// ErrInvalidTarget is returned for non-positive target dimensions.
	ErrInvalidTarget = errors.New("frame: target dimensions must be positive")
	// ErrUnsupportedPixelStride is returned when a plane is not RGBA_8888.
	ErrUnsupportedPixelStride = errors.New("frame: unsupported pixel stride")
	// ErrShortRowStride is returned when a row cannot hold the target width.
	ErrShortRowStride = errors.New("frame: row stride shorter than target row")
	// ErrShortPlane is returned when the plane does not cover every target row.
	ErrShortPlane = errors.New("frame: plane buffer too small")
)

// Plane is the first (and only) plane of an RGBA image delivered by a sink.
type Plane struct {
	Data        []byte
	PixelStride int
	RowStride   int
}

// Buffer is a raw RGBA pixel buffer captured from exactly one mirrored frame.
// Stride is always Width*BytesPerPixel.
type Buffer struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// RowPadding reports the sink-imposed padding in bytes for a row holding
// targetWidth pixels.
func RowPadding(p Plane, targetWidth int) int {
	return p.RowStride - p.PixelStride*targetWidth
}

// Extract copies plane into a new Buffer sized for targetWidth x targetHeight.
// Row alignment padding widens the buffer by RowPadding/PixelStride columns, so
// a padded row is kept whole instead of bleeding into the next one.
func Extract(p Plane, targetWidth, targetHeight int) (*Buffer, error) {
	if targetWidth <= 0 || targetHeight <= 0 {
		return nil, ErrInvalidTarget
	}
	if p.PixelStride != BytesPerPixel {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPixelStride, p.PixelStride)
	}
	padding := RowPadding(p, targetWidth)
	if padding < 0 {
		return nil, fmt.Errorf("%w: row stride %d, need %d", ErrShortRowStride, p.RowStride, p.PixelStride*targetWidth)
	}

	width := targetWidth + padding/p.PixelStride
	stride := width * BytesPerPixel
	// The last row of a padded plane may stop right after its pixels.
	need := p.RowStride*(targetHeight-1) + p.PixelStride*targetWidth
	if len(p.Data) < need {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortPlane, len(p.Data), need)
	}

	buf := &Buffer{
		Width:  width,
		Height: targetHeight,
		Stride: stride,
		Pix:    make([]byte, stride*targetHeight),
	}
	for y := 0; y < targetHeight; y++ {
		src := p.Data[y*p.RowStride:]
		if len(src) > stride {
			src = src[:stride]
		}
		copy(buf.Pix[y*stride:(y+1)*stride], src)
	}
	return buf, nil
}

// Image returns an *image.RGBA sharing the buffer's pixels.
func (b *Buffer) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    b.Pix,
		Stride: b.Stride,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// FromImage copies img into a Buffer. Used for offline scoring of files.
func FromImage(img image.Image) *Buffer {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			rgba.Set(x, y, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return &Buffer{Width: rgba.Rect.Dx(), Height: rgba.Rect.Dy(), Stride: rgba.Stride, Pix: rgba.Pix}
}
