package frame

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func solidPlane(width, height, rowStride int) Plane {
	data := make([]byte, rowStride*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := y*rowStride + x*BytesPerPixel
			data[off] = byte(x)
			data[off+1] = byte(y)
			data[off+2] = 7
			data[off+3] = 255
		}
	}
	return Plane{Data: data, PixelStride: BytesPerPixel, RowStride: rowStride}
}

func TestExtractWithoutPaddingKeepsTargetSize(t *testing.T) {
	plane := solidPlane(6, 4, 6*BytesPerPixel)

	buf, err := Extract(plane, 6, 4)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if buf.Width != 6 || buf.Height != 4 {
		t.Fatalf("expected 6x4, got %dx%d", buf.Width, buf.Height)
	}
	if len(buf.Pix) != 6*4*BytesPerPixel {
		t.Fatalf("unexpected pixel length %d", len(buf.Pix))
	}
	if got := buf.Image().RGBAAt(5, 3); got != (color.RGBA{R: 5, G: 3, B: 7, A: 255}) {
		t.Fatalf("unexpected pixel at (5,3): %v", got)
	}
}

func TestExtractWidensForRowPadding(t *testing.T) {
	// 5 pixels per row, aligned to 32 bytes: 12 bytes (3 px) of padding.
	plane := solidPlane(5, 3, 32)

	buf, err := Extract(plane, 5, 3)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if buf.Width != 8 {
		t.Fatalf("expected width 8 (5 + 12/4), got %d", buf.Width)
	}
	if buf.Height != 3 {
		t.Fatalf("expected height 3, got %d", buf.Height)
	}
	img := buf.Image()
	for y := 0; y < 3; y++ {
		if got := img.RGBAAt(4, y); got.R != 4 || got.G != byte(y) {
			t.Fatalf("row %d misaligned: %v", y, got)
		}
		if got := img.RGBAAt(6, y); got != (color.RGBA{}) {
			t.Fatalf("expected padding column to be zero on row %d, got %v", y, got)
		}
	}
}

func TestExtractAcceptsTruncatedLastRow(t *testing.T) {
	plane := solidPlane(5, 3, 32)
	plane.Data = plane.Data[:32*2+5*BytesPerPixel]

	buf, err := Extract(plane, 5, 3)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := buf.Image().RGBAAt(4, 2); got.R != 4 || got.G != 2 {
		t.Fatalf("unexpected last row pixel: %v", got)
	}
}

func TestExtractRejectsBadPlanes(t *testing.T) {
	cases := []struct {
		name   string
		plane  Plane
		w, h   int
		target error
	}{
		{"zero target", solidPlane(2, 2, 8), 0, 2, ErrInvalidTarget},
		{"rgb565", Plane{Data: make([]byte, 64), PixelStride: 2, RowStride: 8}, 2, 2, ErrUnsupportedPixelStride},
		{"narrow stride", solidPlane(2, 2, 8), 4, 2, ErrShortRowStride},
		{"short data", Plane{Data: make([]byte, 10), PixelStride: 4, RowStride: 8}, 2, 2, ErrShortPlane},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Extract(tc.plane, tc.w, tc.h); !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}
}

func TestFromImageCopiesPixels(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 10, 13, 12))
	src.Set(12, 11, color.NRGBA{R: 200, A: 255})

	buf := FromImage(src)
	if buf.Width != 3 || buf.Height != 2 {
		t.Fatalf("expected 3x2, got %dx%d", buf.Width, buf.Height)
	}
	if got := buf.Image().RGBAAt(2, 1); got.R != 200 {
		t.Fatalf("expected red pixel, got %v", got)
	}
}
