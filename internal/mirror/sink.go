package mirror

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/ai-radar/internal/frame"
)

var (
	// ErrSinkClosed is returned when pulling from a closed sink.
	ErrSinkClosed = errors.New("mirror: sink closed")
	// ErrMaxImages is returned when the single image slot is still acquired.
	ErrMaxImages = errors.New("mirror: image already acquired, close it first")
)

// Image is one rendered frame held by a sink.
type Image struct {
	Width     int
	Height    int
	Plane     frame.Plane
	Timestamp time.Time

	once    sync.Once
	release func()
}

// Close returns the image to its sink. Safe to call more than once.
func (img *Image) Close() {
	if img == nil {
		return
	}
	img.once.Do(func() {
		if img.release != nil {
			img.release()
		}
	})
}

// Sink buffers at most one rendered frame for pull-based retrieval. A newer
// frame replaces an older one that was never acquired.
type Sink struct {
	width  int
	height int

	mu     sync.Mutex
	latest *Image
	held   *Image
	closed bool

	drops uint64
}

// NewSink creates a one-frame RGBA sink of the given size.
func NewSink(width, height int) *Sink {
	return &Sink{width: width, height: height}
}

// Size returns the dimensions frames are rendered at.
func (s *Sink) Size() (int, int) {
	return s.width, s.height
}

// Push offers a frame to the sink. It reports false if the sink is closed.
func (s *Sink) Push(plane frame.Plane, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.latest != nil {
		atomic.AddUint64(&s.drops, 1)
	}
	s.latest = &Image{Width: s.width, Height: s.height, Plane: plane, Timestamp: ts}
	return true
}

// AcquireLatest returns the most recent frame without waiting for a new one.
// It returns (nil, nil) when no frame has been produced yet.
func (s *Sink) AcquireLatest() (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSinkClosed
	}
	if s.held != nil {
		return nil, ErrMaxImages
	}
	img := s.latest
	if img == nil {
		return nil, nil
	}
	s.latest = nil
	s.held = img
	img.release = func() {
		s.mu.Lock()
		if s.held == img {
			s.held = nil
		}
		s.mu.Unlock()
	}
	return img, nil
}

// Drops reports how many frames were overwritten before anyone pulled them.
func (s *Sink) Drops() uint64 {
	return atomic.LoadUint64(&s.drops)
}

// Close drops any buffered frame, closes an image still held by a consumer
// and rejects further pushes. Idempotent.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.latest = nil
	held := s.held
	s.mu.Unlock()

	held.Close()
}

// Held reports whether an acquired image has not been closed yet.
func (s *Sink) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held != nil
}
